// Package config holds the hyper-parameters of a BicycleGAN model.
//
// Options are layered: Default, then an optional YAML file (LoadFile), then
// BGAN_* environment variables (ApplyEnv), then command line flags. Validate
// resolves every string selector into a closed enumeration before any graph
// is built.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig is returned for unknown variant selectors and
// inconsistent sizes
var ErrInvalidConfig = errors.New("invalid configuration")

// Options is the raw, user-facing configuration
type Options struct {
	H       int `yaml:"h"`
	W       int `yaml:"w"`
	C       int `yaml:"c"`
	CodeLen int `yaml:"code_len"`

	BatchSize int `yaml:"batch_size"`

	ELayers  int    `yaml:"e_layers"`
	EKernels int    `yaml:"e_kernels"`
	ENonLin  string `yaml:"e_nonlin"`

	GLayers  int    `yaml:"g_layers"`
	GKernels int    `yaml:"g_kernels"`
	GNonLin  string `yaml:"g_nonlin"`

	EType    string `yaml:"e_type"`
	WhereAdd string `yaml:"where_add"`
	Combine  string `yaml:"combine"`

	SummaryDir string `yaml:"summary_dir"`
	CkptDir    string `yaml:"ckpt"`

	Seed      int64  `yaml:"seed"`
	Precision string `yaml:"precision"`
	Format    string `yaml:"format"`
}

// Default returns the options of the reference model
func Default() Options {
	return Options{
		H:          256,
		W:          256,
		C:          3,
		CodeLen:    8,
		BatchSize:  1,
		ELayers:    4,
		EKernels:   64,
		ENonLin:    "relu",
		GLayers:    4,
		GKernels:   64,
		GNonLin:    "lrelu",
		EType:      "normal",
		WhereAdd:   "input",
		Combine:    "concat",
		SummaryDir: "summaries",
		CkptDir:    "summaries",
		Seed:       1,
		Precision:  "f32",
		Format:     "json",
	}
}

// LoadFile overlays the YAML file at path onto o. Keys missing from the file
// keep their current value.
func (o *Options) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(o); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("%w: %s: %v", ErrInvalidConfig, path, err)
	}
	return nil
}

// Save writes o as YAML
func (o Options) Save(path string) error {
	data, err := yaml.Marshal(o)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
