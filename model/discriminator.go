package model

import (
	"fmt"

	"github.com/tsawler/go-bicyclegan/config"
	"github.com/tsawler/go-bicyclegan/layers"
)

// PatchScale selects the receptive field of a PatchGAN discriminator
type PatchScale int

const (
	Patch70 PatchScale = iota
	Patch140
)

func (p PatchScale) String() string {
	switch p {
	case Patch70:
		return "70x70"
	case Patch140:
		return "140x140"
	default:
		return "unknown"
	}
}

// BuildDiscriminator would build an unconditioned PatchGAN discriminator
// classifying every patch of an image as real or fake. One discriminator per
// scale is shared by the cVAE-GAN and cLR-GAN branches.
func BuildDiscriminator(cfg *config.Config, scale PatchScale) (*layers.GraphSpec, error) {
	switch scale {
	case Patch70, Patch140:
		return nil, fmt.Errorf("%s discriminator: %w", scale, ErrNotImplemented)
	default:
		return nil, fmt.Errorf("%w: unknown discriminator scale %d", ErrInvalidConfig, int(scale))
	}
}
