// Package cmd is the bicyclegan command line interface
package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/tsawler/go-bicyclegan/config"
	"github.com/tsawler/go-bicyclegan/model"
)

func appendEnvDocs(cmd *cobra.Command, envs []config.EnvVar) {
	if len(envs) == 0 {
		return
	}

	envUsage := `
Environment Variables:
`
	for _, e := range envs {
		envUsage += fmt.Sprintf("      %-24s   %s\n", e.Name, e.Description)
	}

	cmd.SetUsageTemplate(cmd.UsageTemplate() + envUsage)
}

// addModelFlags registers the flags overriding config.Options. Defaults are
// only shown in help; a flag is applied when it was set explicitly.
func addModelFlags(fs *pflag.FlagSet) {
	d := config.Default()
	fs.String("config", "", "YAML file with model options")
	fs.Int("h", d.H, "Image height")
	fs.Int("w", d.W, "Image width")
	fs.Int("c", d.C, "Image channels")
	fs.Int("code-len", d.CodeLen, "Length of the latent code")
	fs.Int("batch-size", d.BatchSize, "Batch size")
	fs.Int("e-layers", d.ELayers, "Encoder convolution layers")
	fs.Int("e-kernels", d.EKernels, "Encoder kernels in the first layer")
	fs.String("e-nonlin", d.ENonLin, "Encoder non-linearity (relu, lrelu, tanh)")
	fs.Int("g-layers", d.GLayers, "Generator downsampling layers")
	fs.Int("g-kernels", d.GKernels, "Generator kernels in the first layer")
	fs.String("g-nonlin", d.GNonLin, "Generator non-linearity (relu, lrelu, tanh)")
	fs.String("e-type", d.EType, "Encoder type (normal, residual)")
	fs.String("where-add", d.WhereAdd, "Where the code enters the generator (input, all)")
	fs.String("combine", d.Combine, "How the code is combined with the image (concat, add)")
	fs.String("summary-dir", d.SummaryDir, "Directory for summaries and checkpoints")
	fs.String("ckpt-dir", d.CkptDir, "Directory checkpoints are restored from")
	fs.Int64("seed", d.Seed, "Seed for parameter initialization and code sampling")
	fs.String("precision", d.Precision, "Checkpoint weight precision (f32, f16, bf16)")
	fs.String("format", d.Format, "Checkpoint format (json, proto)")
}

func applyFlags(fs *pflag.FlagSet, o *config.Options) error {
	ints := map[string]*int{
		"h":          &o.H,
		"w":          &o.W,
		"c":          &o.C,
		"code-len":   &o.CodeLen,
		"batch-size": &o.BatchSize,
		"e-layers":   &o.ELayers,
		"e-kernels":  &o.EKernels,
		"g-layers":   &o.GLayers,
		"g-kernels":  &o.GKernels,
	}
	strs := map[string]*string{
		"e-nonlin":    &o.ENonLin,
		"g-nonlin":    &o.GNonLin,
		"e-type":      &o.EType,
		"where-add":   &o.WhereAdd,
		"combine":     &o.Combine,
		"summary-dir": &o.SummaryDir,
		"ckpt-dir":    &o.CkptDir,
		"precision":   &o.Precision,
		"format":      &o.Format,
	}

	var err error
	fs.Visit(func(f *pflag.Flag) {
		if err != nil {
			return
		}
		if dst, ok := ints[f.Name]; ok {
			*dst, err = fs.GetInt(f.Name)
		} else if dst, ok := strs[f.Name]; ok {
			*dst, err = fs.GetString(f.Name)
		} else if f.Name == "seed" {
			o.Seed, err = fs.GetInt64(f.Name)
		}
	})
	return err
}

// loadConfig layers defaults, the --config file, the environment and the
// explicitly set flags, then validates the result
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	o := config.Default()

	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, err
	}
	if path != "" {
		if err := o.LoadFile(path); err != nil {
			return nil, err
		}
	}

	o.ApplyEnv()
	if err := applyFlags(cmd.Flags(), &o); err != nil {
		return nil, err
	}
	return o.Validate()
}

func newModel(cmd *cobra.Command) (*model.Model, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	return model.New(cfg)
}

func setupLogging(cmd *cobra.Command, args []string) {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: config.LogLevel()})
	slog.SetDefault(slog.New(handler))
}

// NewCLI builds the root command
func NewCLI() *cobra.Command {
	cobra.EnableCommandSorting = false

	rootCmd := &cobra.Command{
		Use:           "bicyclegan",
		Short:         "Multimodal image-to-image translation",
		SilenceUsage:  true,
		SilenceErrors: true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		PersistentPreRun: setupLogging,
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Print(cmd.UsageString())
		},
	}

	summaryCmd := &cobra.Command{
		Use:   "summary",
		Short: "Print the encoder and generator stages",
		Args:  cobra.NoArgs,
		RunE:  SummaryHandler,
	}
	summaryCmd.Flags().Bool("params", false, "Also print parameter statistics")

	graphCmd := &cobra.Command{
		Use:   "graph",
		Short: "Write the graph dump to the summary directory",
		Args:  cobra.NoArgs,
		RunE:  GraphHandler,
	}

	checkpointCmd := &cobra.Command{
		Use:   "checkpoint",
		Short: "Initialize the model and save a checkpoint",
		Args:  cobra.NoArgs,
		RunE:  CheckpointHandler,
	}
	checkpointCmd.Flags().Int("iteration", 0, "Iteration number recorded in the checkpoint")

	testCmd := &cobra.Command{
		Use:   "test",
		Short: "Translate an image with the latest checkpoint",
		Args:  cobra.NoArgs,
		RunE:  TestHandler,
	}
	testCmd.Flags().String("image", "", "Path to the conditioning image")
	testCmd.Flags().StringP("output", "o", "", "Write the generated image to this PNG file")

	sampleCmd := &cobra.Command{
		Use:   "sample IMAGE [IMAGE...]",
		Short: "Translate a batch of images with the latest checkpoint",
		Args:  cobra.MinimumNArgs(1),
		RunE:  SampleHandler,
	}

	trainCmd := &cobra.Command{
		Use:   "train",
		Short: "Train the model",
		Args:  cobra.NoArgs,
		RunE:  TrainHandler,
	}

	envCmd := &cobra.Command{
		Use:   "env",
		Short: "List the supported environment variables",
		Args:  cobra.NoArgs,
		RunE:  EnvHandler,
	}

	envVars := config.AsMap()
	var modelEnvs []config.EnvVar
	for _, name := range envNames {
		modelEnvs = append(modelEnvs, envVars[name])
	}

	for _, cmd := range []*cobra.Command{summaryCmd, graphCmd, checkpointCmd, testCmd, sampleCmd, trainCmd} {
		addModelFlags(cmd.Flags())
		appendEnvDocs(cmd, modelEnvs)
	}

	rootCmd.AddCommand(
		summaryCmd,
		graphCmd,
		checkpointCmd,
		testCmd,
		sampleCmd,
		trainCmd,
		envCmd,
	)

	return rootCmd
}
