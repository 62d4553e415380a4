package model

import (
	"fmt"

	"github.com/tsawler/go-bicyclegan/tensor"
)

// Losses groups the terms of the BicycleGAN objective
type Losses struct {
	GAN float64
	L1  float64
	KL  float64
}

// GANLoss is the adversarial loss of discriminator verdicts on real and
// generated patches
func GANLoss(real, fake *tensor.Tensor) (float64, error) {
	return 0, fmt.Errorf("gan loss: %w", ErrNotImplemented)
}

// L1Loss compares images in the cVAE-GAN branch and latent codes in the
// cLR-GAN branch
func L1Loss(a, b *tensor.Tensor) (float64, error) {
	return 0, fmt.Errorf("l1 loss: %w", ErrNotImplemented)
}

// KLDivergence regularizes the encoded distribution (mean, log variance)
// towards the unit Gaussian prior
func KLDivergence(mean, logVar *tensor.Tensor) (float64, error) {
	return 0, fmt.Errorf("kl divergence: %w", ErrNotImplemented)
}

// Loss combines the three terms
func Loss(real, fake, a, b, mean, logVar *tensor.Tensor) (Losses, error) {
	var (
		l   Losses
		err error
	)
	if l.L1, err = L1Loss(a, b); err != nil {
		return l, err
	}
	if l.KL, err = KLDivergence(mean, logVar); err != nil {
		return l, err
	}
	if l.GAN, err = GANLoss(real, fake); err != nil {
		return l, err
	}
	return l, nil
}
