package engine

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/tsawler/go-bicyclegan/layers"
	"github.com/tsawler/go-bicyclegan/tensor"
)

// initializeParameters allocates every learnable tensor in graph order.
// Weights use He initialization, biases start at zero.
func (s *Session) initializeParameters(rng *rand.Rand) error {
	for _, layer := range s.spec.Layers {
		if !layer.HasParameters() {
			continue
		}

		names := layer.ParameterNames()
		if len(names) != len(layer.ParameterShapes) {
			return fmt.Errorf("stage %s: %d parameter names for %d shapes", layer.Name, len(names), len(layer.ParameterShapes))
		}

		fanIn := fanIn(layer)
		for i, shape := range layer.ParameterShapes {
			var (
				t   *tensor.Tensor
				err error
			)
			if i == 0 {
				t, err = initializeHe(shape, fanIn, rng)
			} else {
				t, err = tensor.Zeros(shape)
			}
			if err != nil {
				return fmt.Errorf("failed to initialize %s: %w", names[i], err)
			}
			s.params.Set(names[i], t)
		}
	}
	return nil
}

// fanIn returns the number of inputs feeding one output unit of a stage
func fanIn(layer layers.LayerSpec) int {
	w := layer.ParameterShapes[0]
	switch layer.Type {
	case layers.Conv2D:
		// [k, k, in, out]
		return w[0] * w[1] * w[2]
	case layers.ConvTranspose2D:
		// [k, k, out, in]
		return w[0] * w[1] * w[3]
	default:
		// [in, out]
		return w[0]
	}
}

// initializeHe draws from a normal distribution with std = sqrt(2 / fan_in)
func initializeHe(shape []int, fanIn int, rng *rand.Rand) (*tensor.Tensor, error) {
	if fanIn <= 0 {
		return nil, fmt.Errorf("invalid fan-in %d", fanIn)
	}
	return tensor.RandNormal(shape, math.Sqrt(2.0/float64(fanIn)), rng)
}
