package model

import (
	"errors"

	"github.com/tsawler/go-bicyclegan/config"
)

var (
	// ErrInvalidConfig is returned when a configuration selects a variant
	// that does not exist
	ErrInvalidConfig = config.ErrInvalidConfig

	// ErrNotImplemented is returned by declared but unbuilt parts of the
	// model: the residual encoder, the all-layers generator, the
	// discriminator, the losses and training
	ErrNotImplemented = errors.New("not implemented")

	// ErrUsage is returned when an operation is called without a required argument
	ErrUsage = errors.New("usage error")
)
