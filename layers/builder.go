package layers

import (
	"fmt"
)

// GraphBuilder helps construct computation graphs stage by stage.
//
// Every method computes the new stage's output shape immediately, so wiring
// mistakes (mismatched skip connections, bad strides) surface at the call
// that introduced them. The first error is kept and all later calls become
// no-ops returning InvalidStage; Err and Compile report it.
type GraphBuilder struct {
	name   string
	layers []LayerSpec
	inputs []StageID
	names  map[string]StageID
	err    error
}

// NewGraphBuilder creates a new graph builder
func NewGraphBuilder(name string) *GraphBuilder {
	return &GraphBuilder{
		name:  name,
		names: make(map[string]StageID),
	}
}

// Err returns the first error encountered while building
func (gb *GraphBuilder) Err() error {
	return gb.err
}

// Len returns the number of stages added so far
func (gb *GraphBuilder) Len() int {
	return len(gb.layers)
}

// Shape returns the output shape of a stage, or nil if the id is invalid
func (gb *GraphBuilder) Shape(id StageID) []int {
	if id < 0 || int(id) >= len(gb.layers) {
		return nil
	}
	return cloneShape(gb.layers[id].OutputShape)
}

func (gb *GraphBuilder) fail(err error) StageID {
	if gb.err == nil {
		gb.err = fmt.Errorf("graph %s: %w", gb.name, err)
	}
	return InvalidStage
}

func (gb *GraphBuilder) input(id StageID) ([]int, error) {
	if id < 0 || int(id) >= len(gb.layers) {
		return nil, fmt.Errorf("stage %d does not exist", id)
	}
	return gb.layers[id].OutputShape, nil
}

// add appends a stage after computing its shape and parameter information
func (gb *GraphBuilder) add(layer LayerSpec) StageID {
	if gb.err != nil {
		return InvalidStage
	}
	if layer.Name == "" {
		return gb.fail(fmt.Errorf("%s stage %d has no name", layer.Type, len(gb.layers)))
	}
	if _, dup := gb.names[layer.Name]; dup {
		return gb.fail(fmt.Errorf("duplicate stage name %q", layer.Name))
	}

	var inputShapes [][]int
	for _, in := range layer.Inputs {
		shape, err := gb.input(in)
		if err != nil {
			return gb.fail(fmt.Errorf("stage %q: %w", layer.Name, err))
		}
		inputShapes = append(inputShapes, cloneShape(shape))
	}
	layer.InputShapes = inputShapes

	if layer.Type != Input {
		outputShape, paramShapes, paramCount, err := computeLayerInfo(&layer, inputShapes)
		if err != nil {
			return gb.fail(fmt.Errorf("failed to compute stage %d (%s) info: %w", len(gb.layers), layer.Name, err))
		}
		layer.OutputShape = outputShape
		layer.ParameterShapes = paramShapes
		layer.ParameterCount = paramCount
	}

	id := StageID(len(gb.layers))
	gb.layers = append(gb.layers, layer)
	gb.names[layer.Name] = id
	return id
}

// Input declares a graph input (a placeholder). shape is NHWC or [batch, features];
// the batch dimension may be DynamicDim.
func (gb *GraphBuilder) Input(name string, shape []int) StageID {
	if gb.err != nil {
		return InvalidStage
	}
	if len(shape) == 0 {
		return gb.fail(fmt.Errorf("input %q has empty shape", name))
	}
	for i, d := range shape {
		if d <= 0 && !(i == 0 && d == DynamicDim) {
			return gb.fail(fmt.Errorf("input %q: dimension %d has size %d, must be positive", name, i, d))
		}
	}
	id := gb.add(LayerSpec{
		Type:        Input,
		Name:        name,
		OutputShape: cloneShape(shape),
	})
	if id != InvalidStage {
		gb.inputs = append(gb.inputs, id)
	}
	return id
}

// Conv2D adds a strided 2D convolution
func (gb *GraphBuilder) Conv2D(in StageID, outputChannels, kernelSize, stride, padding int, useBias bool, name string) StageID {
	return gb.add(LayerSpec{
		Type:   Conv2D,
		Name:   name,
		Inputs: []StageID{in},
		Params: LayerParams{
			OutputChannels: outputChannels,
			KernelSize:     kernelSize,
			Stride:         stride,
			Padding:        padding,
			UseBias:        useBias,
		},
	})
}

// ConvTranspose2D adds a transposed convolution (deconvolution)
func (gb *GraphBuilder) ConvTranspose2D(in StageID, outputChannels, kernelSize, stride, padding int, useBias bool, name string) StageID {
	return gb.add(LayerSpec{
		Type:   ConvTranspose2D,
		Name:   name,
		Inputs: []StageID{in},
		Params: LayerParams{
			OutputChannels: outputChannels,
			KernelSize:     kernelSize,
			Stride:         stride,
			Padding:        padding,
			UseBias:        useBias,
		},
	})
}

// GlobalAvgPool2D averages over the whole remaining spatial extent
func (gb *GraphBuilder) GlobalAvgPool2D(in StageID, name string) StageID {
	return gb.add(LayerSpec{
		Type:   AvgPool2D,
		Name:   name,
		Inputs: []StageID{in},
	})
}

// Flatten collapses every dimension except the batch
func (gb *GraphBuilder) Flatten(in StageID, name string) StageID {
	return gb.add(LayerSpec{
		Type:   Flatten,
		Name:   name,
		Inputs: []StageID{in},
	})
}

// Dense adds a fully-connected projection
func (gb *GraphBuilder) Dense(in StageID, outputSize int, useBias bool, name string) StageID {
	return gb.add(LayerSpec{
		Type:   Dense,
		Name:   name,
		Inputs: []StageID{in},
		Params: LayerParams{
			OutputSize: outputSize,
			UseBias:    useBias,
		},
	})
}

// Add sums two stages elementwise; their shapes must be identical
func (gb *GraphBuilder) Add(a, b StageID, name string) StageID {
	return gb.add(LayerSpec{
		Type:   Add,
		Name:   name,
		Inputs: []StageID{a, b},
	})
}

// Tile broadcasts a [batch, features] vector to [batch, height, width, features]
func (gb *GraphBuilder) Tile(in StageID, height, width int, name string) StageID {
	return gb.add(LayerSpec{
		Type:   Tile,
		Name:   name,
		Inputs: []StageID{in},
		Params: LayerParams{
			Height: height,
			Width:  width,
		},
	})
}

// Concat joins two NHWC stages along the channel axis
func (gb *GraphBuilder) Concat(a, b StageID, name string) StageID {
	return gb.add(LayerSpec{
		Type:   Concat,
		Name:   name,
		Inputs: []StageID{a, b},
	})
}

// Activate applies a non-linearity
func (gb *GraphBuilder) Activate(in StageID, nl NonLinearity, name string) StageID {
	params := LayerParams{NonLinearity: nl}
	if nl == LeakyReLU {
		params.NegativeSlope = DefaultLeakySlope
	}
	return gb.add(LayerSpec{
		Type:   Activation,
		Name:   name,
		Inputs: []StageID{in},
		Params: params,
	})
}

// Compile freezes the graph with the given output stage
func (gb *GraphBuilder) Compile(output StageID) (*GraphSpec, error) {
	if gb.err != nil {
		return nil, gb.err
	}
	if len(gb.inputs) == 0 {
		return nil, fmt.Errorf("graph %s: cannot compile graph without inputs", gb.name)
	}
	if output < 0 || int(output) >= len(gb.layers) {
		return nil, fmt.Errorf("graph %s: output stage %d does not exist", gb.name, output)
	}

	spec := &GraphSpec{
		Name:   gb.name,
		Layers: make([]LayerSpec, len(gb.layers)),
		Inputs: append([]StageID(nil), gb.inputs...),
		Output: output,
	}
	copy(spec.Layers, gb.layers)

	var allParameterShapes [][]int
	totalParams := int64(0)
	for _, layer := range spec.Layers {
		allParameterShapes = append(allParameterShapes, layer.ParameterShapes...)
		totalParams += layer.ParameterCount
	}

	spec.ParameterShapes = allParameterShapes
	spec.TotalParameters = totalParams
	spec.Compiled = true

	return spec, nil
}
