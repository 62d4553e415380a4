package config

import (
	"errors"
	"fmt"

	"github.com/tsawler/go-bicyclegan/checkpoints"
	"github.com/tsawler/go-bicyclegan/layers"
)

// EncoderType selects the encoder architecture
type EncoderType int

const (
	EncoderNormal EncoderType = iota
	EncoderResidual
)

func (e EncoderType) String() string {
	switch e {
	case EncoderNormal:
		return "normal"
	case EncoderResidual:
		return "residual"
	default:
		return "unknown"
	}
}

// ParseEncoderType maps "normal" and "residual" to an EncoderType
func ParseEncoderType(s string) (EncoderType, error) {
	switch s {
	case "normal":
		return EncoderNormal, nil
	case "residual":
		return EncoderResidual, nil
	}
	return 0, fmt.Errorf("%w: no such type of encoder exists: %q", ErrInvalidConfig, s)
}

// NoiseMode selects where the latent code enters the generator
type NoiseMode int

const (
	NoiseInput NoiseMode = iota
	NoiseAll
)

func (n NoiseMode) String() string {
	switch n {
	case NoiseInput:
		return "input"
	case NoiseAll:
		return "all"
	default:
		return "unknown"
	}
}

// ParseNoiseMode maps "input" and "all" to a NoiseMode
func ParseNoiseMode(s string) (NoiseMode, error) {
	switch s {
	case "input":
		return NoiseInput, nil
	case "all":
		return NoiseAll, nil
	}
	return 0, fmt.Errorf("%w: no such type of generator exists: %q", ErrInvalidConfig, s)
}

// CombineMode selects how the tiled code is merged with the conditioning image
type CombineMode int

const (
	CombineConcat CombineMode = iota
	CombineAdd
)

func (c CombineMode) String() string {
	switch c {
	case CombineConcat:
		return "concat"
	case CombineAdd:
		return "add"
	default:
		return "unknown"
	}
}

// ParseCombineMode maps "concat" and "add" to a CombineMode
func ParseCombineMode(s string) (CombineMode, error) {
	switch s {
	case "concat":
		return CombineConcat, nil
	case "add":
		return CombineAdd, nil
	}
	return 0, fmt.Errorf("%w: unknown combine mode %q", ErrInvalidConfig, s)
}

// NetworkConfig describes one of the two networks
type NetworkConfig struct {
	Layers       int
	Kernels      int
	NonLinearity layers.NonLinearity
}

// Config is a validated, immutable configuration. Build it with Options.Validate.
type Config struct {
	H, W, C   int
	CodeLen   int
	BatchSize int

	Encoder   NetworkConfig
	Generator NetworkConfig

	EncoderType EncoderType
	NoiseMode   NoiseMode
	Combine     CombineMode

	SummaryDir string
	CkptDir    string

	Seed      int64
	Precision checkpoints.Precision
	Format    checkpoints.CheckpointFormat
}

// Validate resolves o into a Config. All selector strings are mapped to
// enumerations here, so graph construction never sees an unknown name.
func (o Options) Validate() (*Config, error) {
	var errs []error
	check := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}
	positive := func(name string, v int) {
		if v <= 0 {
			errs = append(errs, fmt.Errorf("%w: %s must be positive, got %d", ErrInvalidConfig, name, v))
		}
	}

	cfg := &Config{
		H:          o.H,
		W:          o.W,
		C:          o.C,
		CodeLen:    o.CodeLen,
		BatchSize:  o.BatchSize,
		Encoder:    NetworkConfig{Layers: o.ELayers, Kernels: o.EKernels},
		Generator:  NetworkConfig{Layers: o.GLayers, Kernels: o.GKernels},
		SummaryDir: o.SummaryDir,
		CkptDir:    o.CkptDir,
		Seed:       o.Seed,
	}

	positive("h", o.H)
	positive("w", o.W)
	positive("c", o.C)
	positive("code_len", o.CodeLen)
	positive("batch_size", o.BatchSize)
	positive("e_layers", o.ELayers)
	positive("e_kernels", o.EKernels)
	positive("g_layers", o.GLayers)
	positive("g_kernels", o.GKernels)

	var err error
	cfg.Encoder.NonLinearity, err = layers.ParseNonLinearity(o.ENonLin)
	check(prefix("e_nonlin", err))
	cfg.Generator.NonLinearity, err = layers.ParseNonLinearity(o.GNonLin)
	check(prefix("g_nonlin", err))

	cfg.EncoderType, err = ParseEncoderType(o.EType)
	check(err)
	cfg.NoiseMode, err = ParseNoiseMode(o.WhereAdd)
	check(err)
	cfg.Combine, err = ParseCombineMode(o.Combine)
	check(err)
	combineParsed := err == nil

	cfg.Precision, err = checkpoints.ParsePrecision(o.Precision)
	check(invalid(err))
	cfg.Format, err = checkpoints.ParseFormat(o.Format)
	check(invalid(err))

	if o.H > 0 && o.W > 0 {
		if o.ELayers > 0 {
			check(cfg.checkResolution("e_layers", o.ELayers))
		}
		if o.GLayers > 0 {
			check(cfg.checkResolution("g_layers", o.GLayers))
		}
	}
	if combineParsed && cfg.Combine == CombineAdd && o.C > 0 && o.CodeLen > 0 && cfg.CodeLen != cfg.C {
		check(fmt.Errorf("%w: combine=add needs code_len (%d) equal to c (%d)", ErrInvalidConfig, cfg.CodeLen, cfg.C))
	}

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return cfg, nil
}

// checkResolution requires H and W to survive n halvings
func (c *Config) checkResolution(name string, n int) error {
	if n > 30 {
		return fmt.Errorf("%w: %s=%d is too deep", ErrInvalidConfig, name, n)
	}
	stride := 1 << n
	if c.H%stride != 0 || c.W%stride != 0 {
		return fmt.Errorf("%w: %dx%d is not divisible by 2^%s (%d)", ErrInvalidConfig, c.H, c.W, name, stride)
	}
	return nil
}

// GeneratorInputChannels returns the channel count entering the first
// generator convolution
func (c *Config) GeneratorInputChannels() int {
	if c.Combine == CombineAdd {
		return c.C
	}
	return c.C + c.CodeLen
}

func prefix(name string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", name, err)
}

func invalid(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
}
