package model

import (
	"fmt"

	"github.com/tsawler/go-bicyclegan/config"
	"github.com/tsawler/go-bicyclegan/layers"
)

// Every convolution halves the resolution
const (
	convKernel  = 4
	convStride  = 2
	convPadding = 1
)

// Graph input names
const (
	InputImages  = "input_images"
	TargetImages = "target_images"
	Code         = "code"
)

// kernelsAt returns the channel count of downsampling layer idx. Growth stops
// at four times the first layer.
func kernelsAt(kernels, idx int) int {
	return kernels * min(1<<idx, 4)
}

func activationName(stage string, nl layers.NonLinearity) string {
	return fmt.Sprintf("%s_%s", stage, nl)
}

// BuildEncoder builds the graph mapping a target image [N, H, W, C] to a
// latent code [N, CodeLen]
func BuildEncoder(cfg *config.Config) (*layers.GraphSpec, error) {
	switch cfg.EncoderType {
	case config.EncoderNormal:
		return normalEncoder(cfg)
	case config.EncoderResidual:
		return nil, fmt.Errorf("residual encoder: %w", ErrNotImplemented)
	default:
		return nil, fmt.Errorf("%w: no such type of encoder exists: %s", ErrInvalidConfig, cfg.EncoderType)
	}
}

// normalEncoder stacks strided convolutions, then average pools the remaining
// spatial extent and projects it to the code
func normalEncoder(cfg *config.Config) (*layers.GraphSpec, error) {
	net := cfg.Encoder
	b := layers.NewGraphBuilder("encoder")

	x := b.Input(TargetImages, []int{layers.DynamicDim, cfg.H, cfg.W, cfg.C})
	for idx := 0; idx < net.Layers; idx++ {
		name := fmt.Sprintf("conv%d", idx)
		x = b.Conv2D(x, kernelsAt(net.Kernels, idx), convKernel, convStride, convPadding, true, name)
		x = b.Activate(x, net.NonLinearity, activationName(name, net.NonLinearity))
	}

	x = b.GlobalAvgPool2D(x, "pool")
	x = b.Flatten(x, "flatten")
	x = b.Dense(x, cfg.CodeLen, true, "full")

	spec, err := b.Compile(x)
	if err != nil {
		return nil, fmt.Errorf("failed to build encoder: %w", err)
	}
	return spec, nil
}
