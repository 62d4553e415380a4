package checkpoints

import (
	"fmt"
	"slices"
	"strings"

	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/tsawler/go-bicyclegan/layers"
	"github.com/tsawler/go-bicyclegan/tensor"
)

// ParameterSource exposes the learnable tensors of one graph in graph order
type ParameterSource interface {
	Parameters() *orderedmap.OrderedMap[string, *tensor.Tensor]
}

// ParameterSink accepts restored tensors by name
type ParameterSink interface {
	SetParameter(name string, value *tensor.Tensor) error
}

// ExtractWeights encodes every parameter of spec held by src. graph tags the
// tensors so encoder and generator weights can share one checkpoint.
func ExtractWeights(graph string, spec *layers.GraphSpec, src ParameterSource, precision Precision) ([]WeightTensor, error) {
	params := src.Parameters()
	var weights []WeightTensor

	for _, layer := range spec.Layers {
		for _, name := range layer.ParameterNames() {
			t, ok := params.Get(name)
			if !ok {
				return nil, fmt.Errorf("missing parameter %s for layer %s", name, layer.Name)
			}

			data, err := precision.Encode(t.Data)
			if err != nil {
				return nil, fmt.Errorf("failed to encode %s: %w", name, err)
			}

			kind := "weight"
			if strings.HasSuffix(name, ".bias") {
				kind = "bias"
			}
			weights = append(weights, WeightTensor{
				Name:      name,
				Graph:     graph,
				Layer:     layer.Name,
				Type:      kind,
				Shape:     append([]int(nil), t.Shape...),
				Precision: precision,
				Data:      data,
			})
		}
	}

	return weights, nil
}

// Tensor decodes the stored data back into a float32 tensor
func (wt WeightTensor) Tensor() (*tensor.Tensor, error) {
	values, err := wt.Precision.Decode(wt.Data)
	if err != nil {
		return nil, fmt.Errorf("weight %s: %w", wt.Name, err)
	}
	t, err := tensor.FromData(wt.Shape, values)
	if err != nil {
		return nil, fmt.Errorf("weight %s: %w", wt.Name, err)
	}
	return t, nil
}

// DecodeWeights decodes the tensors tagged with graph and checks them against
// spec: every parameter must appear exactly once with its declared shape and
// no unknown names are allowed. The result is in graph order.
func DecodeWeights(weights []WeightTensor, graph string, spec *layers.GraphSpec) (*orderedmap.OrderedMap[string, *tensor.Tensor], error) {
	shapes := make(map[string][]int)
	var order []string
	for _, layer := range spec.Layers {
		for i, name := range layer.ParameterNames() {
			shapes[name] = layer.ParameterShapes[i]
			order = append(order, name)
		}
	}

	decoded := make(map[string]*tensor.Tensor, len(order))
	for _, w := range weights {
		if w.Graph != graph {
			continue
		}
		want, ok := shapes[w.Name]
		if !ok {
			return nil, fmt.Errorf("graph %s has no parameter %q", graph, w.Name)
		}
		if _, dup := decoded[w.Name]; dup {
			return nil, fmt.Errorf("checkpoint holds %s/%s more than once", graph, w.Name)
		}
		if !slices.Equal(want, w.Shape) {
			return nil, fmt.Errorf("%w: %s/%s expects %v, checkpoint holds %v", layers.ErrShapeMismatch, graph, w.Name, want, w.Shape)
		}
		t, err := w.Tensor()
		if err != nil {
			return nil, err
		}
		decoded[w.Name] = t
	}
	if len(decoded) == 0 {
		return nil, fmt.Errorf("checkpoint holds no weights for graph %s", graph)
	}

	params := orderedmap.New[string, *tensor.Tensor]()
	var missing []string
	for _, name := range order {
		t, ok := decoded[name]
		if !ok {
			missing = append(missing, name)
			continue
		}
		params.Set(name, t)
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("checkpoint is missing %s parameters %s", graph, strings.Join(missing, ", "))
	}
	return params, nil
}

// ApplyWeights copies decoded parameters into dst
func ApplyWeights(params *orderedmap.OrderedMap[string, *tensor.Tensor], dst ParameterSink) error {
	for p := params.Oldest(); p != nil; p = p.Next() {
		if err := dst.SetParameter(p.Key, p.Value); err != nil {
			return fmt.Errorf("failed to load %s: %w", p.Key, err)
		}
	}
	return nil
}

// LoadWeights validates the tensors tagged with graph against spec and only
// then restores them into dst. It returns how many were loaded.
func LoadWeights(weights []WeightTensor, graph string, spec *layers.GraphSpec, dst ParameterSink) (int, error) {
	params, err := DecodeWeights(weights, graph, spec)
	if err != nil {
		return 0, err
	}
	if err := ApplyWeights(params, dst); err != nil {
		return 0, err
	}
	return params.Len(), nil
}
