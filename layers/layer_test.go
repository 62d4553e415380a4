package layers_test

import (
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tsawler/go-bicyclegan/layers"
)

// TestGraphBuilderCompile builds a small encoder-like graph and checks shape bookkeeping
func TestGraphBuilderCompile(t *testing.T) {
	b := layers.NewGraphBuilder("test")
	in := b.Input("images", []int{layers.DynamicDim, 32, 32, 3})
	c0 := b.Conv2D(in, 8, 4, 2, 1, true, "conv0")
	a0 := b.Activate(c0, layers.ReLU, "relu0")
	pool := b.GlobalAvgPool2D(a0, "pool")
	flat := b.Flatten(pool, "flatten")
	out := b.Dense(flat, 5, true, "full")

	spec, err := b.Compile(out)
	require.NoError(t, err)

	assert.True(t, spec.Compiled)
	assert.Equal(t, "test", spec.Name)
	assert.Len(t, spec.Layers, 6)

	if diff := cmp.Diff([]int{layers.DynamicDim, 16, 16, 8}, spec.Layers[c0].OutputShape); diff != "" {
		t.Errorf("conv0 output shape mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]int{layers.DynamicDim, 1, 1, 8}, spec.Layers[pool].OutputShape); diff != "" {
		t.Errorf("pool output shape mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]int{layers.DynamicDim, 5}, spec.OutputShape()); diff != "" {
		t.Errorf("output shape mismatch (-want +got):\n%s", diff)
	}

	// conv0: 4*4*3*8 + 8, full: 8*5 + 5
	wantParams := int64(4*4*3*8 + 8 + 8*5 + 5)
	assert.Equal(t, wantParams, spec.TotalParameters)

	var sum int64
	for _, layer := range spec.Layers {
		sum += layer.ParameterCount
	}
	assert.Equal(t, spec.TotalParameters, sum)

	assert.Equal(t, []string{"conv0.weight", "conv0.bias"}, spec.Layers[c0].ParameterNames())
	assert.Equal(t, [][]int{{4, 4, 3, 8}, {8}}, spec.Layers[c0].ParameterShapes)
	require.NoError(t, spec.Validate())
}

func TestConvTransposeRestoresResolution(t *testing.T) {
	b := layers.NewGraphBuilder("updown")
	in := b.Input("x", []int{2, 64, 48, 3})
	down := b.Conv2D(in, 16, 4, 2, 1, true, "down")
	up := b.ConvTranspose2D(down, 3, 4, 2, 1, true, "up")
	sum := b.Add(in, up, "skip")

	spec, err := b.Compile(sum)
	require.NoError(t, err)

	assert.Equal(t, []int{2, 32, 24, 16}, spec.Layers[down].OutputShape)
	assert.Equal(t, []int{2, 64, 48, 3}, spec.OutputShape())
	// deconvolution weights are laid out [k, k, out, in]
	assert.Equal(t, []int{4, 4, 3, 16}, spec.Layers[up].ParameterShapes[0])
}

func TestAddShapeMismatch(t *testing.T) {
	b := layers.NewGraphBuilder("bad")
	in := b.Input("x", []int{1, 8, 8, 3})
	conv := b.Conv2D(in, 4, 4, 2, 1, false, "conv")
	sum := b.Add(in, conv, "sum")

	assert.Equal(t, layers.InvalidStage, sum)
	require.ErrorIs(t, b.Err(), layers.ErrShapeMismatch)

	// later calls are no-ops and the first error is kept
	next := b.Flatten(conv, "flatten")
	assert.Equal(t, layers.InvalidStage, next)

	_, err := b.Compile(conv)
	require.ErrorIs(t, err, layers.ErrShapeMismatch)
}

func TestTileAndConcat(t *testing.T) {
	b := layers.NewGraphBuilder("inject")
	img := b.Input("image", []int{layers.DynamicDim, 16, 16, 3})
	code := b.Input("code", []int{layers.DynamicDim, 8})
	tiled := b.Tile(code, 16, 16, "tile")
	joined := b.Concat(img, tiled, "concat")

	spec, err := b.Compile(joined)
	require.NoError(t, err)

	assert.Equal(t, []int{layers.DynamicDim, 16, 16, 8}, spec.Layers[tiled].OutputShape)
	assert.Equal(t, []int{layers.DynamicDim, 16, 16, 11}, spec.OutputShape())
	assert.Equal(t, [][]int{{layers.DynamicDim, 16, 16, 3}, {layers.DynamicDim, 8}}, spec.InputShapes())
}

func TestConcatSpatialMismatch(t *testing.T) {
	b := layers.NewGraphBuilder("inject")
	img := b.Input("image", []int{1, 16, 16, 3})
	code := b.Input("code", []int{1, 8})
	tiled := b.Tile(code, 8, 8, "tile")
	b.Concat(img, tiled, "concat")

	require.ErrorIs(t, b.Err(), layers.ErrShapeMismatch)
}

func TestBuilderRejectsBadInput(t *testing.T) {
	tests := []struct {
		name  string
		build func(b *layers.GraphBuilder)
	}{
		{"zero dimension", func(b *layers.GraphBuilder) { b.Input("x", []int{1, 0, 4, 3}) }},
		{"empty shape", func(b *layers.GraphBuilder) { b.Input("x", nil) }},
		{"duplicate names", func(b *layers.GraphBuilder) {
			in := b.Input("x", []int{1, 4, 4, 3})
			b.Flatten(in, "x")
		}},
		{"unknown stage", func(b *layers.GraphBuilder) { b.Flatten(7, "flatten") }},
		{"kernel larger than input", func(b *layers.GraphBuilder) {
			in := b.Input("x", []int{1, 2, 2, 3})
			b.Conv2D(in, 4, 8, 2, 0, true, "conv")
		}},
		{"dense without output size", func(b *layers.GraphBuilder) {
			in := b.Input("x", []int{1, 4})
			b.Dense(in, 0, true, "full")
		}},
		{"tile of image", func(b *layers.GraphBuilder) {
			in := b.Input("x", []int{1, 4, 4, 3})
			b.Tile(in, 4, 4, "tile")
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := layers.NewGraphBuilder("bad")
			tt.build(b)
			assert.Error(t, b.Err())
		})
	}
}

func TestCompileWithoutInputs(t *testing.T) {
	b := layers.NewGraphBuilder("empty")
	_, err := b.Compile(0)
	assert.Error(t, err)
}

func TestGraphSpecJSONRoundTrip(t *testing.T) {
	b := layers.NewGraphBuilder("json")
	in := b.Input("x", []int{layers.DynamicDim, 8, 8, 3})
	conv := b.Conv2D(in, 4, 4, 2, 1, true, "conv")
	act := b.Activate(conv, layers.LeakyReLU, "lrelu")

	spec, err := b.Compile(act)
	require.NoError(t, err)

	data, err := json.Marshal(spec)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"Conv2D"`)
	assert.Contains(t, string(data), `"lrelu"`)

	var decoded layers.GraphSpec
	require.NoError(t, json.Unmarshal(data, &decoded))
	if diff := cmp.Diff(*spec, decoded); diff != "" {
		t.Errorf("graph changed after JSON round trip (-want +got):\n%s", diff)
	}
}

func TestSummary(t *testing.T) {
	b := layers.NewGraphBuilder("summary")
	in := b.Input("x", []int{1, 8, 8, 3})
	conv := b.Conv2D(in, 4, 4, 2, 1, true, "conv")

	spec, err := b.Compile(conv)
	require.NoError(t, err)

	s := spec.Summary()
	assert.Contains(t, s, "Graph Summary: summary")
	assert.Contains(t, s, "conv (Conv2D)")
	assert.Contains(t, s, "Total Parameters: 196")
}
