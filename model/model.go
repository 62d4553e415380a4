// Package model assembles a BicycleGAN: an encoder mapping a target image to
// a latent code and a generator producing an image from a conditioning image
// and a code. The discriminator, losses and training are declared but not
// implemented.
package model

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"

	"github.com/tsawler/go-bicyclegan/checkpoints"
	"github.com/tsawler/go-bicyclegan/config"
	"github.com/tsawler/go-bicyclegan/engine"
	"github.com/tsawler/go-bicyclegan/layers"
	"github.com/tsawler/go-bicyclegan/summaries"
	"github.com/tsawler/go-bicyclegan/tensor"
	"github.com/tsawler/go-bicyclegan/vision/preprocessing"
)

// Placeholders holds the shapes of the model inputs. The batch dimension is
// layers.DynamicDim.
type Placeholders struct {
	InputImages  []int
	TargetImages []int
	Code         []int
}

// Model owns the two graphs and the execution sessions holding their
// parameters. It is not safe for concurrent use.
type Model struct {
	cfg *config.Config
	log *slog.Logger

	encoderSpec   *layers.GraphSpec
	generatorSpec *layers.GraphSpec
	placeholders  Placeholders
	images        []summaries.ImageSummary

	encoder   *engine.Session
	generator *engine.Session
	saver     *checkpoints.CheckpointSaver
	rng       *rand.Rand
}

// Option configures a Model
type Option func(*Model)

// WithLogger sets the logger used by the model and its sessions
func WithLogger(logger *slog.Logger) Option {
	return func(m *Model) {
		m.log = logger
	}
}

// New builds the encoder and generator graphs for cfg and initializes their
// parameters from cfg.Seed
func New(cfg *config.Config, opts ...Option) (*Model, error) {
	if cfg == nil {
		return nil, fmt.Errorf("%w: config is nil", ErrInvalidConfig)
	}

	m := &Model{
		cfg:   cfg,
		log:   slog.Default(),
		saver: checkpoints.NewCheckpointSaver(cfg.Format),
		rng:   rand.New(rand.NewSource(cfg.Seed)),
	}
	for _, opt := range opts {
		opt(m)
	}

	m.placeholders = Placeholders{
		InputImages:  []int{layers.DynamicDim, cfg.H, cfg.W, cfg.C},
		TargetImages: []int{layers.DynamicDim, cfg.H, cfg.W, cfg.C},
		Code:         []int{layers.DynamicDim, cfg.CodeLen},
	}

	var err error
	if m.encoderSpec, err = BuildEncoder(cfg); err != nil {
		return nil, err
	}
	if m.generatorSpec, err = BuildGenerator(cfg); err != nil {
		return nil, err
	}

	if m.encoder, err = engine.NewSession(m.encoderSpec, engine.WithSeed(cfg.Seed), engine.WithLogger(m.log)); err != nil {
		return nil, err
	}
	if m.generator, err = engine.NewSession(m.generatorSpec, engine.WithSeed(cfg.Seed+1), engine.WithLogger(m.log)); err != nil {
		m.encoder.Cleanup()
		return nil, err
	}

	m.images = []summaries.ImageSummary{
		{Name: "Input_images", Source: InputImages, MaxOutputs: summaries.DefaultMaxOutputs},
		{Name: "Target_images", Source: TargetImages, MaxOutputs: summaries.DefaultMaxOutputs},
		{Name: "Gen_images", Source: m.generatorSpec.Layers[m.generatorSpec.Output].Name, MaxOutputs: summaries.DefaultMaxOutputs},
	}

	m.log.Info("model built",
		"encoder_parameters", m.encoderSpec.TotalParameters,
		"generator_parameters", m.generatorSpec.TotalParameters,
		"encoder", cfg.EncoderType, "noise", cfg.NoiseMode, "combine", cfg.Combine)
	return m, nil
}

// Config returns the configuration the model was built with
func (m *Model) Config() *config.Config { return m.cfg }

// Encoder returns the compiled encoder graph
func (m *Model) Encoder() *layers.GraphSpec { return m.encoderSpec }

// Generator returns the compiled generator graph
func (m *Model) Generator() *layers.GraphSpec { return m.generatorSpec }

// Placeholders returns the input shapes of the model
func (m *Model) Placeholders() Placeholders { return m.placeholders }

// ImageSummaries returns the image summaries written by Test
func (m *Model) ImageSummaries() []summaries.ImageSummary { return m.images }

// Encode maps target images [N, H, W, C] to codes [N, CodeLen]
func (m *Model) Encode(ctx context.Context, target *tensor.Tensor) (*tensor.Tensor, error) {
	return m.encoder.Run(ctx, target)
}

// Generate produces images [N, H, W, 3] from conditioning images and codes
func (m *Model) Generate(ctx context.Context, image, code *tensor.Tensor) (*tensor.Tensor, error) {
	return m.generator.Run(ctx, image, code)
}

// SampleCode draws n codes from the standard normal prior
func (m *Model) SampleCode(n int) (*tensor.Tensor, error) {
	return tensor.RandNormal([]int{n, m.cfg.CodeLen}, 1, m.rng)
}

// Train would alternate cVAE-GAN and cLR-GAN updates
func (m *Model) Train(ctx context.Context) error {
	return fmt.Errorf("train: %w", ErrNotImplemented)
}

// Checkpoint writes the current parameters to model_<iteration>.ckpt in the
// summary directory, next to params_<iteration>.json holding their
// statistics, and returns the checkpoint path
func (m *Model) Checkpoint(iteration int) (string, error) {
	if iteration < 0 {
		return "", fmt.Errorf("%w: negative iteration %d", ErrUsage, iteration)
	}

	encWeights, err := checkpoints.ExtractWeights("encoder", m.encoderSpec, m.encoder, m.cfg.Precision)
	if err != nil {
		return "", err
	}
	genWeights, err := checkpoints.ExtractWeights("generator", m.generatorSpec, m.generator, m.cfg.Precision)
	if err != nil {
		return "", err
	}

	ckpt := &checkpoints.Checkpoint{
		Iteration: iteration,
		Encoder:   m.encoderSpec,
		Generator: m.generatorSpec,
		Weights:   append(encWeights, genWeights...),
		Metadata: checkpoints.CheckpointMetadata{
			Description: "BicycleGAN encoder and generator",
			Tags:        []string{m.cfg.EncoderType.String(), m.cfg.NoiseMode.String(), m.cfg.Combine.String()},
		},
	}

	path := checkpoints.Path(m.cfg.SummaryDir, iteration)
	if err := m.saver.SaveCheckpoint(ckpt, path); err != nil {
		return "", err
	}
	m.log.Info("checkpoint saved", "path", path, "iteration", iteration, "format", m.saver.Format(), "precision", m.cfg.Precision)

	w, err := summaries.NewWriter(m.cfg.SummaryDir)
	if err != nil {
		return "", err
	}
	statsPath, err := w.WriteParameterStats(iteration, m.ParameterStats())
	if err != nil {
		return "", err
	}
	m.log.Debug("parameter statistics written", "path", statsPath)
	return path, nil
}

// Restore loads the parameters of both graphs from a checkpoint file. The
// checkpoint is checked against both graphs before any parameter changes, so
// a failed restore leaves the model untouched.
func (m *Model) Restore(path string) error {
	ckpt, err := m.saver.LoadCheckpoint(path)
	if err != nil {
		return err
	}

	encParams, err := checkpoints.DecodeWeights(ckpt.Weights, "encoder", m.encoderSpec)
	if err != nil {
		return fmt.Errorf("restore %s: %w", path, err)
	}
	genParams, err := checkpoints.DecodeWeights(ckpt.Weights, "generator", m.generatorSpec)
	if err != nil {
		return fmt.Errorf("restore %s: %w", path, err)
	}

	if err := checkpoints.ApplyWeights(encParams, m.encoder); err != nil {
		return fmt.Errorf("restore %s: encoder: %w", path, err)
	}
	if err := checkpoints.ApplyWeights(genParams, m.generator); err != nil {
		return fmt.Errorf("restore %s: generator: %w", path, err)
	}

	m.log.Info("checkpoint restored", "path", path, "iteration", ckpt.Iteration, "run_id", ckpt.Metadata.RunID)
	return nil
}

// TestGraph writes the graph dump to the summary directory so the wiring can
// be inspected
func (m *Model) TestGraph() ([]string, error) {
	m.log.Info("testing the architecture of the graph of the network")
	w, err := summaries.NewWriter(m.cfg.SummaryDir)
	if err != nil {
		return nil, err
	}
	return w.WriteGraph(m.encoderSpec, m.generatorSpec)
}

// ParameterStats summarizes every parameter tensor of both graphs
func (m *Model) ParameterStats() []summaries.ParameterStats {
	var stats []summaries.ParameterStats
	for _, g := range []struct {
		name    string
		spec    *layers.GraphSpec
		session *engine.Session
	}{
		{"encoder", m.encoderSpec, m.encoder},
		{"generator", m.generatorSpec, m.generator},
	} {
		for _, layer := range g.spec.Layers {
			for i, name := range layer.ParameterNames() {
				t, ok := g.session.Parameter(name)
				if !ok {
					continue
				}
				kind := "weight"
				if i > 0 {
					kind = "bias"
				}
				stats = append(stats, summaries.ComputeParameterStats(g.name, layer.Name, kind, t.Data, 20))
			}
		}
	}
	return stats
}

// Test restores the latest checkpoint from the checkpoint directory and
// generates an image conditioned on the image at imagePath with a code drawn
// from the prior. Input and generated images are written as summaries.
func (m *Model) Test(ctx context.Context, imagePath string) (*tensor.Tensor, error) {
	if imagePath == "" {
		return nil, fmt.Errorf("%w: specify the path to the test image", ErrUsage)
	}

	iteration, err := m.restoreLatest()
	if err != nil {
		return nil, err
	}

	image, err := preprocessing.LoadImage(imagePath, m.cfg.H, m.cfg.W, m.cfg.C)
	if err != nil {
		return nil, err
	}
	return m.generateSummarized(ctx, image, iteration)
}

// Sample is Test for a batch of images. Images are decoded concurrently, at
// most BatchSize at a time.
func (m *Model) Sample(ctx context.Context, imagePaths []string) (*tensor.Tensor, error) {
	if len(imagePaths) == 0 {
		return nil, fmt.Errorf("%w: specify at least one image", ErrUsage)
	}

	iteration, err := m.restoreLatest()
	if err != nil {
		return nil, err
	}

	batch, err := preprocessing.PreprocessBatch(ctx, imagePaths, m.cfg.H, m.cfg.W, m.cfg.C, m.cfg.BatchSize)
	if err != nil {
		return nil, err
	}
	return m.generateSummarized(ctx, batch, iteration)
}

func (m *Model) restoreLatest() (int, error) {
	path, iteration, err := checkpoints.Latest(m.cfg.CkptDir)
	if err != nil {
		return 0, err
	}
	if err := m.Restore(path); err != nil {
		return 0, err
	}
	return iteration, nil
}

func (m *Model) generateSummarized(ctx context.Context, images *tensor.Tensor, iteration int) (*tensor.Tensor, error) {
	code, err := m.SampleCode(images.Shape[0])
	if err != nil {
		return nil, err
	}

	out, err := m.Generate(ctx, images, code)
	if err != nil {
		return nil, err
	}

	w, err := summaries.NewWriter(m.cfg.SummaryDir)
	if err != nil {
		return nil, err
	}
	for _, s := range []struct {
		summary summaries.ImageSummary
		batch   *tensor.Tensor
	}{
		{m.images[0], images},
		{m.images[2], out},
	} {
		p, err := w.WriteImages(s.summary, iteration, s.batch)
		if err != nil {
			return nil, err
		}
		m.log.Debug("summary written", "path", p)
	}

	return out, nil
}

// Close releases both sessions
func (m *Model) Close() {
	m.encoder.Cleanup()
	m.generator.Cleanup()
}
