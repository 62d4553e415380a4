package preprocessing

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tsawler/go-bicyclegan/tensor"
)

// createMockImage creates a solid colored image
func createMockImage(width, height int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	return img
}

func writePNG(t *testing.T, path string, img image.Image) {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
}

func TestNewImageProcessor(t *testing.T) {
	processor, err := NewImageProcessor(64, 32, 3)
	if err != nil {
		t.Fatalf("NewImageProcessor failed: %v", err)
	}
	if processor.height != 64 || processor.width != 32 || processor.channels != 3 {
		t.Errorf("unexpected processor size %dx%dx%d", processor.height, processor.width, processor.channels)
	}
	if processor.tempImageBuffer != nil || processor.processBuffer != nil {
		t.Error("Expected nil buffers initially")
	}

	for _, c := range []int{0, 2, 5} {
		if _, err := NewImageProcessor(8, 8, c); err == nil {
			t.Errorf("Expected error for %d channels", c)
		}
	}
	if _, err := NewImageProcessor(0, 8, 3); err == nil {
		t.Error("Expected error for zero height")
	}
}

func TestDecodeAndPreprocess(t *testing.T) {
	processor, err := NewImageProcessor(16, 16, 3)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, createMockImage(40, 24, color.RGBA{255, 0, 51, 255})))

	out, err := processor.DecodeAndPreprocess(&buf)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 16, 16, 3}, out.Shape)

	// solid colors survive resizing
	for i := 0; i < 16*16; i++ {
		assert.InDelta(t, 1, out.Data[i*3], 1e-2)
		assert.InDelta(t, -1, out.Data[i*3+1], 1e-2)
		assert.InDelta(t, -0.6, out.Data[i*3+2], 1e-2)
	}

	lo, hi := out.MinMax()
	assert.GreaterOrEqual(t, lo, float32(-1))
	assert.LessOrEqual(t, hi, float32(1))
}

func TestDecodeJPEGGray(t *testing.T) {
	processor, err := NewImageProcessor(8, 8, 1)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, createMockImage(8, 8, color.RGBA{255, 255, 255, 255}), &jpeg.Options{Quality: 95}))

	out, err := processor.DecodeAndPreprocess(&buf)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 8, 8, 1}, out.Shape)
	for _, v := range out.Data {
		assert.InDelta(t, 1, v, 2e-2)
	}
}

func TestDecodeInvalidData(t *testing.T) {
	processor, err := NewImageProcessor(8, 8, 3)
	require.NoError(t, err)
	_, err = processor.DecodeAndPreprocess(bytes.NewReader([]byte("not an image")))
	assert.ErrorContains(t, err, "failed to decode image")
}

func TestBufferReuseReturnsCopies(t *testing.T) {
	processor, err := NewImageProcessor(4, 4, 3)
	require.NoError(t, err)

	decode := func(c color.RGBA) *tensor.Tensor {
		var buf bytes.Buffer
		require.NoError(t, png.Encode(&buf, createMockImage(4, 4, c)))
		out, err := processor.DecodeAndPreprocess(&buf)
		require.NoError(t, err)
		return out
	}

	first := decode(color.RGBA{255, 255, 255, 255})
	second := decode(color.RGBA{0, 0, 0, 255})
	assert.InDelta(t, 1, first.Data[0], 1e-6, "later calls must not overwrite earlier results")
	assert.InDelta(t, -1, second.Data[0], 1e-6)
}

func TestImageProcessorConcurrency(t *testing.T) {
	processor, err := NewImageProcessor(8, 8, 3)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, createMockImage(12, 12, color.RGBA{128, 128, 128, 255})))
	data := buf.Bytes()

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := processor.DecodeAndPreprocess(bytes.NewReader(data))
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		assert.NoError(t, err)
	}
}

func TestPreprocessBatch(t *testing.T) {
	dir := t.TempDir()
	colors := []color.RGBA{{255, 255, 255, 255}, {0, 0, 0, 255}, {255, 0, 0, 255}}
	var paths []string
	for i, c := range colors {
		p := filepath.Join(dir, string(rune('a'+i))+".png")
		writePNG(t, p, createMockImage(10, 10, c))
		paths = append(paths, p)
	}

	batch, err := PreprocessBatch(context.Background(), paths, 4, 4, 3, 2)
	require.NoError(t, err)
	assert.Equal(t, []int{3, 4, 4, 3}, batch.Shape)

	sample := 4 * 4 * 3
	assert.InDelta(t, 1, batch.Data[0], 1e-2)
	assert.InDelta(t, -1, batch.Data[sample], 1e-2)
	assert.InDelta(t, 1, batch.Data[2*sample], 1e-2)
	assert.InDelta(t, -1, batch.Data[2*sample+1], 1e-2)

	_, err = PreprocessBatch(context.Background(), append(paths, filepath.Join(dir, "missing.png")), 4, 4, 3, 2)
	assert.ErrorContains(t, err, "failed to process image 3")

	_, err = PreprocessBatch(context.Background(), nil, 4, 4, 3, 2)
	assert.Error(t, err)

	_, err = PreprocessBatch(context.Background(), paths, 4, 4, 2, 2)
	assert.Error(t, err)
}

func TestLoadImage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "in.png")
	writePNG(t, path, createMockImage(6, 6, color.RGBA{0, 255, 0, 255}))

	img, err := LoadImage(path, 6, 6, 3)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 6, 6, 3}, img.Shape)
	assert.InDelta(t, 1, img.Data[1], 1e-2)

	_, err = LoadImage(filepath.Join(t.TempDir(), "missing.png"), 6, 6, 3)
	assert.Error(t, err)
}

func TestToImageRoundTrip(t *testing.T) {
	src, err := tensor.FromData([]int{2, 1, 2, 3}, []float32{
		-1, 0, 1, 1, 1, 1,
		-1, -1, -1, 0.5, -0.5, 2,
	})
	require.NoError(t, err)

	img, err := ToImage(src, 1)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 2, 1), img.Bounds())

	nrgba := img.(*image.NRGBA)
	assert.Equal(t, []uint8{0, 0, 0, 255, 191, 64, 255, 255}, nrgba.Pix)

	path := filepath.Join(t.TempDir(), "out.png")
	require.NoError(t, SavePNG(path, img))
	back, err := LoadImage(path, 1, 2, 3)
	require.NoError(t, err)
	assert.InDelta(t, -1, back.Data[0], 1e-2)

	_, err = ToImage(src, 2)
	assert.Error(t, err)
	flat, _ := tensor.Zeros([]int{2, 3})
	_, err = ToImage(flat, 0)
	assert.Error(t, err)
}

func TestToImageGray(t *testing.T) {
	src, _ := tensor.FromData([]int{1, 1, 3, 1}, []float32{-1, 0, 1})
	img, err := ToImage(src, 0)
	require.NoError(t, err)
	assert.Equal(t, []uint8{0, 128, 255}, img.(*image.Gray).Pix)
}

func BenchmarkDecodeAndPreprocess(b *testing.B) {
	processor, _ := NewImageProcessor(64, 64, 3)
	var buf bytes.Buffer
	_ = png.Encode(&buf, createMockImage(128, 128, color.RGBA{10, 20, 30, 255}))
	data := buf.Bytes()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := processor.DecodeAndPreprocess(bytes.NewReader(data)); err != nil {
			b.Fatal(err)
		}
	}
}
