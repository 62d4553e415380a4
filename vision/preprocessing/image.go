package preprocessing

import (
	"context"
	"fmt"
	"image"
	"image/color"
	_ "image/jpeg"
	"image/png"
	"io"
	"os"
	"sync"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
	"golang.org/x/sync/errgroup"

	"github.com/tsawler/go-bicyclegan/tensor"
)

// ImageProcessor decodes images into NHWC tensors with values in [-1, 1],
// reusing its resize and conversion buffers between calls
type ImageProcessor struct {
	mu              sync.Mutex
	tempImageBuffer *image.RGBA
	processBuffer   []float32
	height          int
	width           int
	channels        int
}

// NewImageProcessor creates a processor producing height x width images with
// 1 (gray), 3 (RGB) or 4 (RGBA) channels
func NewImageProcessor(height, width, channels int) (*ImageProcessor, error) {
	if height <= 0 || width <= 0 {
		return nil, fmt.Errorf("invalid target size %dx%d", height, width)
	}
	switch channels {
	case 1, 3, 4:
	default:
		return nil, fmt.Errorf("unsupported channel count %d", channels)
	}
	return &ImageProcessor{
		height:   height,
		width:    width,
		channels: channels,
	}, nil
}

// DecodeAndPreprocess decodes a PNG, JPEG, BMP or WebP image, resizes it to
// the target size and returns a [1, H, W, C] tensor
func (p *ImageProcessor) DecodeAndPreprocess(reader io.Reader) (*tensor.Tensor, error) {
	img, _, err := image.Decode(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.tempImageBuffer == nil {
		p.tempImageBuffer = image.NewRGBA(image.Rect(0, 0, p.width, p.height))
	}
	target := p.tempImageBuffer
	draw.CatmullRom.Scale(target, target.Bounds(), img, img.Bounds(), draw.Src, nil)

	required := p.height * p.width * p.channels
	if len(p.processBuffer) < required {
		p.processBuffer = make([]float32, required)
	}
	data := p.processBuffer[:required]

	for y := 0; y < p.height; y++ {
		for x := 0; x < p.width; x++ {
			px := target.RGBAAt(x, y)
			idx := (y*p.width + x) * p.channels
			switch p.channels {
			case 1:
				g := color.GrayModel.Convert(px).(color.Gray)
				data[idx] = toSigned(g.Y)
			case 3:
				data[idx] = toSigned(px.R)
				data[idx+1] = toSigned(px.G)
				data[idx+2] = toSigned(px.B)
			case 4:
				data[idx] = toSigned(px.R)
				data[idx+1] = toSigned(px.G)
				data[idx+2] = toSigned(px.B)
				data[idx+3] = toSigned(px.A)
			}
		}
	}

	// the buffer is reused, hand out a copy
	result := make([]float32, len(data))
	copy(result, data)
	return tensor.FromData([]int{1, p.height, p.width, p.channels}, result)
}

// toSigned maps [0, 255] to [-1, 1]
func toSigned(v uint8) float32 {
	return float32(v)/127.5 - 1
}

// fromSigned maps [-1, 1] to [0, 255], clamping out-of-range values
func fromSigned(v float32) uint8 {
	f := (v + 1) * 127.5
	switch {
	case f != f || f <= 0:
		return 0
	case f >= 255:
		return 255
	}
	return uint8(f + 0.5)
}

// LoadImage reads and preprocesses a single image file
func LoadImage(path string, height, width, channels int) (*tensor.Tensor, error) {
	p, err := NewImageProcessor(height, width, channels)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	t, err := p.DecodeAndPreprocess(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return t, nil
}

// PreprocessBatch loads images concurrently into one [N, H, W, C] tensor
func PreprocessBatch(ctx context.Context, imagePaths []string, height, width, channels, maxWorkers int) (*tensor.Tensor, error) {
	if len(imagePaths) == 0 {
		return nil, fmt.Errorf("no images to process")
	}
	if maxWorkers <= 0 {
		maxWorkers = 1
	}

	batch, err := tensor.Zeros([]int{len(imagePaths), height, width, channels})
	if err != nil {
		return nil, err
	}
	sample := height * width * channels

	if _, err := NewImageProcessor(height, width, channels); err != nil {
		return nil, err
	}
	// one processor per worker keeps buffer reuse without lock contention
	pool := sync.Pool{New: func() any {
		p, _ := NewImageProcessor(height, width, channels)
		return p
	}}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(maxWorkers)
	for i, path := range imagePaths {
		i, path := i, path
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}

			f, err := os.Open(path)
			if err != nil {
				return fmt.Errorf("failed to process image %d: %w", i, err)
			}
			defer f.Close()

			p := pool.Get().(*ImageProcessor)
			defer pool.Put(p)

			t, err := p.DecodeAndPreprocess(f)
			if err != nil {
				return fmt.Errorf("failed to process image %d: %w", i, err)
			}
			copy(batch.Data[i*sample:(i+1)*sample], t.Data)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return batch, nil
}

// ToImage converts sample index of an NHWC tensor in [-1, 1] back to an image
func ToImage(t *tensor.Tensor, index int) (image.Image, error) {
	if t.Dim() != 4 {
		return nil, fmt.Errorf("expected NHWC tensor, got shape %v", t.Shape)
	}
	n, h, w, c := t.Shape[0], t.Shape[1], t.Shape[2], t.Shape[3]
	if index < 0 || index >= n {
		return nil, fmt.Errorf("sample %d out of range for batch of %d", index, n)
	}
	data := t.Data[index*h*w*c : (index+1)*h*w*c]

	switch c {
	case 1:
		img := image.NewGray(image.Rect(0, 0, w, h))
		for i, v := range data {
			img.Pix[i] = fromSigned(v)
		}
		return img, nil
	case 3, 4:
		img := image.NewNRGBA(image.Rect(0, 0, w, h))
		for i := 0; i < h*w; i++ {
			px := img.Pix[i*4 : i*4+4]
			px[0] = fromSigned(data[i*c])
			px[1] = fromSigned(data[i*c+1])
			px[2] = fromSigned(data[i*c+2])
			px[3] = 255
			if c == 4 {
				px[3] = fromSigned(data[i*c+3])
			}
		}
		return img, nil
	}
	return nil, fmt.Errorf("unsupported channel count %d", c)
}

// SavePNG writes img to path
func SavePNG(path string, img image.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
