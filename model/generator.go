package model

import (
	"fmt"

	"github.com/tsawler/go-bicyclegan/config"
	"github.com/tsawler/go-bicyclegan/layers"
)

// OutputChannels is the channel count of generated images
const OutputChannels = 3

// BuildGenerator builds the graph mapping a conditioning image [N, H, W, C]
// and a latent code [N, CodeLen] to an image [N, H, W, 3]
func BuildGenerator(cfg *config.Config) (*layers.GraphSpec, error) {
	switch cfg.NoiseMode {
	case config.NoiseInput:
		return inputGenerator(cfg)
	case config.NoiseAll:
		return nil, fmt.Errorf("all-layers generator: %w", ErrNotImplemented)
	default:
		return nil, fmt.Errorf("%w: no such type of generator exists: %s", ErrInvalidConfig, cfg.NoiseMode)
	}
}

// inputGenerator injects the code at the input only and runs a U-Net style
// stack: strided convolutions down, transposed convolutions up, each upsampled
// map summed with the downsampled map of equal shape
func inputGenerator(cfg *config.Config) (*layers.GraphSpec, error) {
	net := cfg.Generator
	nl := net.NonLinearity
	b := layers.NewGraphBuilder("generator")

	image := b.Input(InputImages, []int{layers.DynamicDim, cfg.H, cfg.W, cfg.C})
	code := b.Input(Code, []int{layers.DynamicDim, cfg.CodeLen})

	tiled := b.Tile(code, cfg.H, cfg.W, "code_tiled")
	var x layers.StageID
	switch cfg.Combine {
	case config.CombineConcat:
		x = b.Concat(image, tiled, "combine")
	case config.CombineAdd:
		x = b.Add(image, tiled, "combine")
	default:
		return nil, fmt.Errorf("%w: unknown combine mode %s", ErrInvalidConfig, cfg.Combine)
	}

	down := make([]layers.StageID, net.Layers)
	for idx := 0; idx < net.Layers; idx++ {
		name := fmt.Sprintf("conv%d", idx)
		x = b.Conv2D(x, kernelsAt(net.Kernels, idx), convKernel, convStride, convPadding, true, name)
		x = b.Activate(x, nl, activationName(name, nl))
		down[idx] = x
	}

	step := net.Layers
	for idx := net.Layers - 2; idx >= 0; idx-- {
		name := fmt.Sprintf("deconv%d", step)
		x = b.ConvTranspose2D(x, kernelsAt(net.Kernels, idx), convKernel, convStride, convPadding, true, name)
		x = b.Activate(x, nl, activationName(name, nl))
		x = b.Add(x, down[idx], fmt.Sprintf("skip%d", step))
		step++
	}

	name := fmt.Sprintf("deconv%d", step)
	x = b.ConvTranspose2D(x, OutputChannels, convKernel, convStride, convPadding, true, name)
	x = b.Activate(x, layers.Tanh, activationName(name, layers.Tanh))

	spec, err := b.Compile(x)
	if err != nil {
		return nil, fmt.Errorf("failed to build generator: %w", err)
	}
	return spec, nil
}
