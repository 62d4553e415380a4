package model

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tsawler/go-bicyclegan/checkpoints"
	"github.com/tsawler/go-bicyclegan/config"
	"github.com/tsawler/go-bicyclegan/layers"
	"github.com/tsawler/go-bicyclegan/tensor"
)

func quiet() Option {
	return WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

// smallConfig keeps forward passes cheap
func smallConfig(t *testing.T, dir string, modify func(*config.Options)) *config.Config {
	t.Helper()
	return resolve(t, func(o *config.Options) {
		o.H, o.W, o.C, o.CodeLen = 16, 16, 3, 4
		o.ELayers, o.EKernels = 2, 4
		o.GLayers, o.GKernels = 2, 4
		o.SummaryDir, o.CkptDir = dir, dir
		if modify != nil {
			modify(o)
		}
	})
}

func newModel(t *testing.T, cfg *config.Config) *Model {
	t.Helper()
	m, err := New(cfg, quiet())
	require.NoError(t, err)
	t.Cleanup(m.Close)
	return m
}

func writeTestImage(t *testing.T, path string) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 20, 20))
	for y := 0; y < 20; y++ {
		for x := 0; x < 20; x++ {
			img.SetRGBA(x, y, color.RGBA{uint8(x * 12), uint8(y * 12), 90, 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
}

func TestNewModel(t *testing.T) {
	m := newModel(t, smallConfig(t, t.TempDir(), nil))

	p := m.Placeholders()
	assert.Equal(t, []int{-1, 16, 16, 3}, p.InputImages)
	assert.Equal(t, []int{-1, 16, 16, 3}, p.TargetImages)
	assert.Equal(t, []int{-1, 4}, p.Code)

	var names []string
	for _, s := range m.ImageSummaries() {
		names = append(names, s.Name)
		assert.Equal(t, 10, s.MaxOutputs)
	}
	assert.Equal(t, []string{"Input_images", "Target_images", "Gen_images"}, names)
	assert.Equal(t, "deconv3_tanh", m.ImageSummaries()[2].Source)
}

func TestNewModelErrors(t *testing.T) {
	_, err := New(nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = New(smallConfig(t, t.TempDir(), func(o *config.Options) { o.EType = "residual" }), quiet())
	assert.ErrorIs(t, err, ErrNotImplemented)

	_, err = New(smallConfig(t, t.TempDir(), func(o *config.Options) { o.WhereAdd = "all" }), quiet())
	assert.ErrorIs(t, err, ErrNotImplemented)
}

func TestForwardPasses(t *testing.T) {
	m := newModel(t, smallConfig(t, t.TempDir(), nil))
	ctx := context.Background()

	target, err := tensor.RandNormal([]int{2, 16, 16, 3}, 0.5, nil)
	require.NoError(t, err)

	code, err := m.Encode(ctx, target)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 4}, code.Shape)

	out, err := m.Generate(ctx, target, code)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 16, 16, 3}, out.Shape)
	lo, hi := out.MinMax()
	assert.GreaterOrEqual(t, lo, float32(-1))
	assert.LessOrEqual(t, hi, float32(1))

	sampled, err := m.SampleCode(3)
	require.NoError(t, err)
	assert.Equal(t, []int{3, 4}, sampled.Shape)

	_, err = m.Generate(ctx, target, sampled)
	assert.Error(t, err, "batch sizes disagree")
}

func TestTrainNotImplemented(t *testing.T) {
	m := newModel(t, smallConfig(t, t.TempDir(), nil))
	assert.ErrorIs(t, m.Train(context.Background()), ErrNotImplemented)
}

func TestCheckpointAndRestore(t *testing.T) {
	for _, variant := range []struct {
		format, precision string
	}{
		{"json", "f32"},
		{"proto", "f16"},
		{"proto", "bf16"},
	} {
		t.Run(variant.format+"_"+variant.precision, func(t *testing.T) {
			dir := t.TempDir()
			modify := func(o *config.Options) { o.Format, o.Precision = variant.format, variant.precision }
			src := newModel(t, smallConfig(t, dir, modify))

			path, err := src.Checkpoint(12)
			require.NoError(t, err)
			assert.Equal(t, filepath.Join(dir, "model_12.ckpt"), path)
			assert.FileExists(t, filepath.Join(dir, "params_12.json"))

			dst := newModel(t, smallConfig(t, dir, func(o *config.Options) {
				modify(o)
				o.Seed = 77
			}))
			require.NoError(t, dst.Restore(path))

			for _, pair := range []struct{ a, b *Model }{{src, dst}} {
				for p := pair.a.generator.Parameters().Oldest(); p != nil; p = p.Next() {
					got, ok := pair.b.generator.Parameter(p.Key)
					require.True(t, ok)
					assert.True(t, p.Value.AllClose(got, 0.05), p.Key)
				}
				for p := pair.a.encoder.Parameters().Oldest(); p != nil; p = p.Next() {
					got, ok := pair.b.encoder.Parameter(p.Key)
					require.True(t, ok)
					assert.True(t, p.Value.AllClose(got, 0.05), p.Key)
				}
			}
		})
	}
}

func TestCheckpointErrors(t *testing.T) {
	dir := t.TempDir()
	m := newModel(t, smallConfig(t, dir, nil))

	_, err := m.Checkpoint(-1)
	assert.ErrorIs(t, err, ErrUsage)

	path, err := m.Checkpoint(1)
	require.NoError(t, err)

	other := newModel(t, smallConfig(t, t.TempDir(), func(o *config.Options) { o.GKernels = 8 }))
	assert.Error(t, other.Restore(path), "architectures differ")

	wrongFormat := newModel(t, smallConfig(t, dir, func(o *config.Options) { o.Format = "proto" }))
	assert.Error(t, wrongFormat.Restore(path))
}

func TestFailedRestoreKeepsParameters(t *testing.T) {
	dir := t.TempDir()
	wide := newModel(t, smallConfig(t, dir, func(o *config.Options) { o.GKernels = 8 }))
	path, err := wide.Checkpoint(2)
	require.NoError(t, err)

	m := newModel(t, smallConfig(t, t.TempDir(), nil))
	target, err := tensor.Full([]int{1, 16, 16, 3}, 0.25)
	require.NoError(t, err)
	before, err := m.Encode(context.Background(), target)
	require.NoError(t, err)

	// the encoders agree, only the generator widths differ
	err = m.Restore(path)
	require.ErrorIs(t, err, layers.ErrShapeMismatch)

	after, err := m.Encode(context.Background(), target)
	require.NoError(t, err)
	assert.True(t, before.AllClose(after, 0), "encoder changed after a failed restore: %v vs %v", before.Data, after.Data)
}

func TestTestGraph(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "summaries")
	m := newModel(t, smallConfig(t, dir, nil))

	paths, err := m.TestGraph()
	require.NoError(t, err)
	require.Len(t, paths, 2)
	for _, p := range paths {
		assert.FileExists(t, p)
	}
}

func TestParameterStats(t *testing.T) {
	m := newModel(t, smallConfig(t, t.TempDir(), nil))
	stats := m.ParameterStats()

	want := len(m.Encoder().ParameterShapes) + len(m.Generator().ParameterShapes)
	require.Len(t, stats, want)
	assert.Equal(t, "encoder", stats[0].Graph)
	assert.Equal(t, "conv0", stats[0].LayerName)
	assert.Equal(t, "weight", stats[0].ParamType)
	assert.Equal(t, "bias", stats[1].ParamType)
	assert.Equal(t, "generator", stats[len(stats)-1].Graph)
}

func TestTestRequiresImage(t *testing.T) {
	m := newModel(t, smallConfig(t, t.TempDir(), nil))
	_, err := m.Test(context.Background(), "")
	assert.ErrorIs(t, err, ErrUsage)
}

func TestTestWithoutCheckpoint(t *testing.T) {
	dir := t.TempDir()
	img := filepath.Join(dir, "in.png")
	writeTestImage(t, img)

	m := newModel(t, smallConfig(t, dir, nil))
	_, err := m.Test(context.Background(), img)
	assert.ErrorIs(t, err, checkpoints.ErrNoCheckpoint)
}

func TestTestRestoresLatestCheckpoint(t *testing.T) {
	dir := t.TempDir()
	img := filepath.Join(dir, "in.png")
	writeTestImage(t, img)

	trained := newModel(t, smallConfig(t, dir, nil))
	_, err := trained.Checkpoint(3)
	require.NoError(t, err)
	_, err = trained.Checkpoint(8)
	require.NoError(t, err)

	fresh := newModel(t, smallConfig(t, dir, func(o *config.Options) { o.Seed = 5 }))
	out, err := fresh.Test(context.Background(), img)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 16, 16, 3}, out.Shape)

	w, _ := trained.generator.Parameter("deconv3.weight")
	got, _ := fresh.generator.Parameter("deconv3.weight")
	assert.True(t, w.AllClose(got, 0))

	assert.FileExists(t, filepath.Join(dir, "Input_images_8.png"))
	assert.FileExists(t, filepath.Join(dir, "Gen_images_8.png"))

	_, err = fresh.Test(context.Background(), filepath.Join(dir, "missing.png"))
	assert.Error(t, err)
}

func TestCloseReleasesSessions(t *testing.T) {
	m, err := New(smallConfig(t, t.TempDir(), nil), quiet())
	require.NoError(t, err)
	m.Close()

	target, _ := tensor.Zeros([]int{1, 16, 16, 3})
	_, err = m.Encode(context.Background(), target)
	assert.Error(t, err)
}

func TestSampleBatch(t *testing.T) {
	dir := t.TempDir()
	var paths []string
	for _, name := range []string{"a.png", "b.png", "c.png"} {
		p := filepath.Join(dir, name)
		writeTestImage(t, p)
		paths = append(paths, p)
	}

	m := newModel(t, smallConfig(t, dir, func(o *config.Options) { o.BatchSize = 2 }))
	_, err := m.Sample(context.Background(), nil)
	assert.ErrorIs(t, err, ErrUsage)

	_, err = m.Checkpoint(4)
	require.NoError(t, err)

	out, err := m.Sample(context.Background(), paths)
	require.NoError(t, err)
	assert.Equal(t, []int{3, 16, 16, 3}, out.Shape)
	assert.FileExists(t, filepath.Join(dir, "Gen_images_4.png"))
}
