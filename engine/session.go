package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"

	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/tsawler/go-bicyclegan/layers"
	"github.com/tsawler/go-bicyclegan/tensor"
)

// ErrReleased is returned when a session is used after Cleanup
var ErrReleased = errors.New("session has been released")

// Session owns a compiled graph together with its parameters and executes it
// on the CPU. Create it with NewSession, use Run, and release it with Cleanup.
// A Session is not safe for concurrent use.
type Session struct {
	spec   *layers.GraphSpec
	params *orderedmap.OrderedMap[string, *tensor.Tensor]
	seed   int64
	log    *slog.Logger

	released bool
}

// Option configures a Session
type Option func(*Session)

// WithSeed sets the seed used for parameter initialization
func WithSeed(seed int64) Option {
	return func(s *Session) {
		s.seed = seed
	}
}

// WithLogger sets the logger used by the session
func WithLogger(logger *slog.Logger) Option {
	return func(s *Session) {
		s.log = logger
	}
}

// NewSession creates an execution context for a compiled graph and
// initializes its parameters
func NewSession(spec *layers.GraphSpec, opts ...Option) (*Session, error) {
	if spec == nil {
		return nil, fmt.Errorf("graph spec is nil")
	}
	if err := spec.Validate(); err != nil {
		return nil, fmt.Errorf("invalid graph: %w", err)
	}

	s := &Session{
		spec:   spec,
		params: orderedmap.New[string, *tensor.Tensor](),
		seed:   1,
		log:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := s.initializeParameters(rand.New(rand.NewSource(s.seed))); err != nil {
		return nil, fmt.Errorf("failed to initialize %s parameters: %w", spec.Name, err)
	}

	s.log.Debug("session created", "graph", spec.Name, "stages", len(spec.Layers), "parameters", spec.TotalParameters)
	return s, nil
}

// Spec returns the graph the session executes
func (s *Session) Spec() *layers.GraphSpec {
	return s.spec
}

// Parameters returns the session's parameters in graph order
func (s *Session) Parameters() *orderedmap.OrderedMap[string, *tensor.Tensor] {
	return s.params
}

// Parameter returns a parameter by name
func (s *Session) Parameter(name string) (*tensor.Tensor, bool) {
	return s.params.Get(name)
}

// SetParameter replaces the data of an existing parameter. The shape must match.
func (s *Session) SetParameter(name string, value *tensor.Tensor) error {
	if s.released {
		return ErrReleased
	}
	current, ok := s.params.Get(name)
	if !ok {
		return fmt.Errorf("graph %s has no parameter %q", s.spec.Name, name)
	}
	if !current.SameShape(value) {
		return fmt.Errorf("%w: parameter %q expects %v, got %v", layers.ErrShapeMismatch, name, current.Shape, value.Shape)
	}
	copy(current.Data, value.Data)
	return nil
}

// Run executes the graph and returns the output stage. inputs are matched
// positionally against the graph inputs.
func (s *Session) Run(ctx context.Context, inputs ...*tensor.Tensor) (*tensor.Tensor, error) {
	values, err := s.RunStages(ctx, inputs...)
	if err != nil {
		return nil, err
	}
	return values[s.spec.Output], nil
}

// RunStages executes the graph and returns the value of every stage, indexed by StageID
func (s *Session) RunStages(ctx context.Context, inputs ...*tensor.Tensor) ([]*tensor.Tensor, error) {
	if s.released {
		return nil, ErrReleased
	}
	batch, err := s.checkInputs(inputs)
	if err != nil {
		return nil, err
	}

	values := make([]*tensor.Tensor, len(s.spec.Layers))
	for i, in := range s.spec.Inputs {
		values[in] = inputs[i]
	}

	for i, layer := range s.spec.Layers {
		if layer.Type == layers.Input {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		args := make([]*tensor.Tensor, len(layer.Inputs))
		for j, in := range layer.Inputs {
			args[j] = values[in]
		}

		out, err := s.execute(layer, args, runtimeShape(layer.OutputShape, batch))
		if err != nil {
			return nil, fmt.Errorf("stage %d (%s): %w", i, layer.Name, err)
		}
		values[i] = out
	}

	return values, nil
}

// checkInputs validates input tensors against the graph's declared inputs and
// returns the batch size
func (s *Session) checkInputs(inputs []*tensor.Tensor) (int, error) {
	if len(inputs) != len(s.spec.Inputs) {
		return 0, fmt.Errorf("graph %s expects %d inputs, got %d", s.spec.Name, len(s.spec.Inputs), len(inputs))
	}

	batch := -1
	for i, id := range s.spec.Inputs {
		want := s.spec.Layers[id].OutputShape
		got := inputs[i]
		if got == nil {
			return 0, fmt.Errorf("input %q is nil", s.spec.Layers[id].Name)
		}
		if len(got.Shape) != len(want) {
			return 0, fmt.Errorf("%w: input %q expects rank %d, got %v", layers.ErrShapeMismatch, s.spec.Layers[id].Name, len(want), got.Shape)
		}
		for d := range want {
			if d == 0 && want[d] == layers.DynamicDim {
				continue
			}
			if want[d] != got.Shape[d] {
				return 0, fmt.Errorf("%w: input %q expects %v, got %v", layers.ErrShapeMismatch, s.spec.Layers[id].Name, want, got.Shape)
			}
		}
		if batch == -1 {
			batch = got.Shape[0]
		} else if batch != got.Shape[0] {
			return 0, fmt.Errorf("%w: inputs disagree on batch size (%d vs %d)", layers.ErrShapeMismatch, batch, got.Shape[0])
		}
	}
	return batch, nil
}

func runtimeShape(shape []int, batch int) []int {
	out := make([]int, len(shape))
	copy(out, shape)
	if len(out) > 0 && out[0] == layers.DynamicDim {
		out[0] = batch
	}
	return out
}

// Cleanup releases the session's parameters. The session cannot be used afterwards.
func (s *Session) Cleanup() {
	if s.released {
		return
	}
	s.params = orderedmap.New[string, *tensor.Tensor]()
	s.released = true
	s.log.Debug("session released", "graph", s.spec.Name)
}
