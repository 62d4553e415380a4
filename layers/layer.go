package layers

import (
	"errors"
	"fmt"
	"strings"
)

// DynamicDim marks a dimension (normally the batch) that is only known at run time
const DynamicDim = -1

var (
	// ErrUnknownNonLinearity is returned when a non-linearity name is not one of relu, lrelu or tanh
	ErrUnknownNonLinearity = errors.New("no such non-linearity is available")

	// ErrShapeMismatch is returned when two stages that must agree on shape do not
	ErrShapeMismatch = errors.New("shape mismatch")
)

// LayerType represents the type of graph stage
type LayerType int

const (
	Input LayerType = iota
	Conv2D
	ConvTranspose2D
	AvgPool2D
	Flatten
	Dense
	Add
	Tile
	Concat
	Activation
)

var layerTypeNames = [...]string{
	Input:           "Input",
	Conv2D:          "Conv2D",
	ConvTranspose2D: "ConvTranspose2D",
	AvgPool2D:       "AvgPool2D",
	Flatten:         "Flatten",
	Dense:           "Dense",
	Add:             "Add",
	Tile:            "Tile",
	Concat:          "Concat",
	Activation:      "Activation",
}

func (lt LayerType) String() string {
	if lt < 0 || int(lt) >= len(layerTypeNames) {
		return "Unknown"
	}
	return layerTypeNames[lt]
}

// MarshalText keeps serialized graphs readable
func (lt LayerType) MarshalText() ([]byte, error) {
	if lt.String() == "Unknown" {
		return nil, fmt.Errorf("unknown layer type %d", int(lt))
	}
	return []byte(lt.String()), nil
}

func (lt *LayerType) UnmarshalText(text []byte) error {
	for i, name := range layerTypeNames {
		if name == string(text) {
			*lt = LayerType(i)
			return nil
		}
	}
	return fmt.Errorf("unknown layer type %q", string(text))
}

// NonLinearity is the closed set of element-wise activations a graph may use
type NonLinearity int

const (
	ReLU NonLinearity = iota
	LeakyReLU
	Tanh
)

// DefaultLeakySlope is the negative slope used for lrelu
const DefaultLeakySlope float32 = 0.2

// ParseNonLinearity maps a configuration name to a NonLinearity.
// Only the exact names "relu", "lrelu" and "tanh" are accepted.
func ParseNonLinearity(name string) (NonLinearity, error) {
	switch name {
	case "relu":
		return ReLU, nil
	case "lrelu":
		return LeakyReLU, nil
	case "tanh":
		return Tanh, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownNonLinearity, name)
	}
}

func (nl NonLinearity) String() string {
	switch nl {
	case ReLU:
		return "relu"
	case LeakyReLU:
		return "lrelu"
	case Tanh:
		return "tanh"
	default:
		return "unknown"
	}
}

func (nl NonLinearity) MarshalText() ([]byte, error) {
	if nl.String() == "unknown" {
		return nil, fmt.Errorf("%w: %d", ErrUnknownNonLinearity, int(nl))
	}
	return []byte(nl.String()), nil
}

func (nl *NonLinearity) UnmarshalText(text []byte) error {
	parsed, err := ParseNonLinearity(string(text))
	if err != nil {
		return err
	}
	*nl = parsed
	return nil
}

// StageID addresses a stage inside a graph by its position
type StageID int

// InvalidStage is returned by builder methods once the builder has failed
const InvalidStage StageID = -1

// LayerParams holds the configuration of a stage. Only the fields relevant
// to the stage's LayerType are set.
type LayerParams struct {
	OutputChannels int          `json:"output_channels,omitempty"`
	KernelSize     int          `json:"kernel_size,omitempty"`
	Stride         int          `json:"stride,omitempty"`
	Padding        int          `json:"padding,omitempty"`
	UseBias        bool         `json:"use_bias,omitempty"`
	OutputSize     int          `json:"output_size,omitempty"`
	Height         int          `json:"height,omitempty"`
	Width          int          `json:"width,omitempty"`
	NonLinearity   NonLinearity `json:"non_linearity,omitempty"`
	NegativeSlope  float32      `json:"negative_slope,omitempty"`
}

// LayerSpec defines one stage of a graph.
// This is pure configuration - execution lives in the engine package.
type LayerSpec struct {
	Type   LayerType   `json:"type"`
	Name   string      `json:"name"`
	Inputs []StageID   `json:"inputs,omitempty"`
	Params LayerParams `json:"params"`

	// Shape information (computed while the graph is built)
	InputShapes [][]int `json:"input_shapes,omitempty"`
	OutputShape []int   `json:"output_shape"`

	// Parameter metadata
	ParameterShapes [][]int `json:"parameter_shapes,omitempty"`
	ParameterCount  int64   `json:"parameter_count,omitempty"`
}

// HasParameters reports whether the stage owns learnable tensors
func (ls LayerSpec) HasParameters() bool {
	return len(ls.ParameterShapes) > 0
}

// ParameterNames returns the names under which the stage's learnable tensors
// are stored, in the same order as ParameterShapes
func (ls LayerSpec) ParameterNames() []string {
	switch ls.Type {
	case Conv2D, ConvTranspose2D, Dense:
		names := []string{ls.Name + ".weight"}
		if ls.Params.UseBias {
			names = append(names, ls.Name+".bias")
		}
		return names
	default:
		return nil
	}
}

// GraphSpec is a compiled, immutable computation graph
type GraphSpec struct {
	Name   string      `json:"name"`
	Layers []LayerSpec `json:"layers"`
	Inputs []StageID   `json:"inputs"`
	Output StageID     `json:"output"`

	// Compiled graph information
	TotalParameters int64   `json:"total_parameters"`
	ParameterShapes [][]int `json:"parameter_shapes"`
	Compiled        bool    `json:"compiled"`
}

// Stage returns the stage with the given id
func (gs *GraphSpec) Stage(id StageID) (LayerSpec, error) {
	if id < 0 || int(id) >= len(gs.Layers) {
		return LayerSpec{}, fmt.Errorf("stage %d out of range [0, %d)", id, len(gs.Layers))
	}
	return gs.Layers[id], nil
}

// OutputShape returns the shape produced by the output stage
func (gs *GraphSpec) OutputShape() []int {
	if gs.Output < 0 || int(gs.Output) >= len(gs.Layers) {
		return nil
	}
	return cloneShape(gs.Layers[gs.Output].OutputShape)
}

// InputShapes returns the shapes of the graph inputs in declaration order
func (gs *GraphSpec) InputShapes() [][]int {
	shapes := make([][]int, 0, len(gs.Inputs))
	for _, id := range gs.Inputs {
		shapes = append(shapes, cloneShape(gs.Layers[id].OutputShape))
	}
	return shapes
}

// CountType returns how many stages of the given type the graph contains
func (gs *GraphSpec) CountType(lt LayerType) int {
	n := 0
	for _, layer := range gs.Layers {
		if layer.Type == lt {
			n++
		}
	}
	return n
}

// Validate checks that a (possibly deserialized) graph is internally consistent
func (gs *GraphSpec) Validate() error {
	if !gs.Compiled {
		return fmt.Errorf("graph %q not compiled", gs.Name)
	}
	if len(gs.Inputs) == 0 {
		return fmt.Errorf("graph %q has no inputs", gs.Name)
	}
	if _, err := gs.Stage(gs.Output); err != nil {
		return fmt.Errorf("graph %q output: %w", gs.Name, err)
	}
	for i, layer := range gs.Layers {
		for _, in := range layer.Inputs {
			if in < 0 || int(in) >= i {
				return fmt.Errorf("stage %d (%s) reads from stage %d which is not an earlier stage", i, layer.Name, in)
			}
		}
	}
	return nil
}

// Summary returns a human-readable graph summary
func (gs *GraphSpec) Summary() string {
	if !gs.Compiled {
		return "Graph not compiled"
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Graph Summary: %s\n", gs.Name)
	fmt.Fprintf(&sb, "Inputs: %v\n", gs.InputShapes())
	fmt.Fprintf(&sb, "Output Shape: %v\n", gs.OutputShape())
	fmt.Fprintf(&sb, "Total Parameters: %d\n", gs.TotalParameters)
	fmt.Fprintf(&sb, "Stages: %d\n\n", len(gs.Layers))

	for i, layer := range gs.Layers {
		fmt.Fprintf(&sb, "Stage %d: %s (%s)\n", i, layer.Name, layer.Type)
		if len(layer.Inputs) > 0 {
			fmt.Fprintf(&sb, "  From:   %v\n", layer.Inputs)
		}
		fmt.Fprintf(&sb, "  Output: %v\n", layer.OutputShape)
		if layer.ParameterCount > 0 {
			fmt.Fprintf(&sb, "  Params: %d\n", layer.ParameterCount)
		}
	}

	return sb.String()
}

func cloneShape(shape []int) []int {
	out := make([]int, len(shape))
	copy(out, shape)
	return out
}

func shapesEqual(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func numElements(shape []int) int {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return n
}
