package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
)

// Var returns an environment variable with surrounding quotes and spaces removed
func Var(key string) string {
	return strings.Trim(strings.TrimSpace(os.Getenv(key)), "\"'")
}

// LogLevel returns the log level selected by BGAN_DEBUG.
// 0/false = INFO (default), 1/true = DEBUG, 2 = TRACE
func LogLevel() slog.Level {
	level := slog.LevelInfo
	if s := Var("BGAN_DEBUG"); s != "" {
		if b, _ := strconv.ParseBool(s); b {
			level = slog.LevelDebug
		} else if i, _ := strconv.ParseInt(s, 10, 64); i != 0 {
			level = slog.Level(i * -4)
		}
	}
	return level
}

func envInt(key string, dst *int) {
	if s := Var(key); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			slog.Warn("invalid environment variable, using default", "key", key, "value", s, "default", *dst)
			return
		}
		*dst = n
	}
}

func envInt64(key string, dst *int64) {
	if s := Var(key); s != "" {
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			slog.Warn("invalid environment variable, using default", "key", key, "value", s, "default", *dst)
			return
		}
		*dst = n
	}
}

func envString(key string, dst *string) {
	if s := Var(key); s != "" {
		*dst = s
	}
}

// ApplyEnv overlays BGAN_* environment variables onto o
func (o *Options) ApplyEnv() {
	envInt("BGAN_H", &o.H)
	envInt("BGAN_W", &o.W)
	envInt("BGAN_C", &o.C)
	envInt("BGAN_CODE_LEN", &o.CodeLen)
	envInt("BGAN_BATCH_SIZE", &o.BatchSize)
	envInt("BGAN_E_LAYERS", &o.ELayers)
	envInt("BGAN_E_KERNELS", &o.EKernels)
	envString("BGAN_E_NONLIN", &o.ENonLin)
	envInt("BGAN_G_LAYERS", &o.GLayers)
	envInt("BGAN_G_KERNELS", &o.GKernels)
	envString("BGAN_G_NONLIN", &o.GNonLin)
	envString("BGAN_E_TYPE", &o.EType)
	envString("BGAN_WHERE_ADD", &o.WhereAdd)
	envString("BGAN_COMBINE", &o.Combine)
	envString("BGAN_SUMMARY_DIR", &o.SummaryDir)
	envString("BGAN_CKPT", &o.CkptDir)
	envInt64("BGAN_SEED", &o.Seed)
	envString("BGAN_PRECISION", &o.Precision)
	envString("BGAN_FORMAT", &o.Format)
}

// EnvVar describes one supported environment variable
type EnvVar struct {
	Name        string
	Value       string
	Description string
}

// AsMap lists the supported environment variables with their current values
func AsMap() map[string]EnvVar {
	vars := []EnvVar{
		{"BGAN_DEBUG", "", "Show additional debug information (e.g. BGAN_DEBUG=1)"},
		{"BGAN_H", "", "Image height"},
		{"BGAN_W", "", "Image width"},
		{"BGAN_C", "", "Image channels"},
		{"BGAN_CODE_LEN", "", "Length of the latent code"},
		{"BGAN_BATCH_SIZE", "", "Batch size"},
		{"BGAN_E_LAYERS", "", "Encoder convolution layers"},
		{"BGAN_E_KERNELS", "", "Encoder kernels in the first layer"},
		{"BGAN_E_NONLIN", "", "Encoder non-linearity (relu, lrelu, tanh)"},
		{"BGAN_G_LAYERS", "", "Generator downsampling layers"},
		{"BGAN_G_KERNELS", "", "Generator kernels in the first layer"},
		{"BGAN_G_NONLIN", "", "Generator non-linearity (relu, lrelu, tanh)"},
		{"BGAN_E_TYPE", "", "Encoder type (normal, residual)"},
		{"BGAN_WHERE_ADD", "", "Where the code enters the generator (input, all)"},
		{"BGAN_COMBINE", "", "How the code is combined with the image (concat, add)"},
		{"BGAN_SUMMARY_DIR", "", "Directory for summaries and checkpoints"},
		{"BGAN_CKPT", "", "Directory checkpoints are restored from"},
		{"BGAN_SEED", "", "Seed for parameter initialization and code sampling"},
		{"BGAN_PRECISION", "", "Checkpoint weight precision (f32, f16, bf16)"},
		{"BGAN_FORMAT", "", "Checkpoint format (json, proto)"},
	}

	m := make(map[string]EnvVar, len(vars))
	for _, v := range vars {
		v.Value = Var(v.Name)
		m[v.Name] = v
	}
	return m
}
