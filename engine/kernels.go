package engine

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas32"

	"github.com/tsawler/go-bicyclegan/layers"
	"github.com/tsawler/go-bicyclegan/tensor"
)

// execute dispatches one stage to its kernel
func (s *Session) execute(layer layers.LayerSpec, args []*tensor.Tensor, outShape []int) (*tensor.Tensor, error) {
	out, err := tensor.Zeros(outShape)
	if err != nil {
		return nil, err
	}

	switch layer.Type {
	case layers.Conv2D:
		w, b, err := s.stageParams(layer)
		if err != nil {
			return nil, err
		}
		conv2D(args[0], w, b, layer.Params, out)
	case layers.ConvTranspose2D:
		w, b, err := s.stageParams(layer)
		if err != nil {
			return nil, err
		}
		convTranspose2D(args[0], w, b, layer.Params, out)
	case layers.Dense:
		w, b, err := s.stageParams(layer)
		if err != nil {
			return nil, err
		}
		dense(args[0], w, b, out)
	case layers.AvgPool2D:
		globalAvgPool(args[0], out)
	case layers.Flatten:
		copy(out.Data, args[0].Data)
	case layers.Add:
		for i := range out.Data {
			out.Data[i] = args[0].Data[i] + args[1].Data[i]
		}
	case layers.Tile:
		tile(args[0], out)
	case layers.Concat:
		concatChannels(args[0], args[1], out)
	case layers.Activation:
		if err := activate(args[0], layer.Params, out); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unsupported layer type for execution: %s", layer.Type)
	}

	return out, nil
}

func (s *Session) stageParams(layer layers.LayerSpec) (*tensor.Tensor, *tensor.Tensor, error) {
	names := layer.ParameterNames()
	w, ok := s.params.Get(names[0])
	if !ok {
		return nil, nil, fmt.Errorf("missing parameter %s", names[0])
	}
	if len(names) == 1 {
		return w, nil, nil
	}
	b, ok := s.params.Get(names[1])
	if !ok {
		return nil, nil, fmt.Errorf("missing parameter %s", names[1])
	}
	return w, b, nil
}

func addBias(rows []float32, bias *tensor.Tensor, channels int) {
	if bias == nil {
		return
	}
	for i := 0; i < len(rows); i += channels {
		for c := 0; c < channels; c++ {
			rows[i+c] += bias.Data[c]
		}
	}
}

// conv2D lowers each sample to an im2col matrix [Ho*Wo, k*k*C] and multiplies
// it with the [k*k*C, Co] weight matrix
func conv2D(x, w, b *tensor.Tensor, p layers.LayerParams, out *tensor.Tensor) {
	n, h, wd, c := x.Shape[0], x.Shape[1], x.Shape[2], x.Shape[3]
	ho, wo, co := out.Shape[1], out.Shape[2], out.Shape[3]
	k, stride, pad := p.KernelSize, p.Stride, p.Padding
	kkc := k * k * c

	cols := make([]float32, ho*wo*kkc)
	weights := blas32.General{Rows: kkc, Cols: co, Stride: co, Data: w.Data}

	for s := 0; s < n; s++ {
		in := x.Data[s*h*wd*c : (s+1)*h*wd*c]
		for oy := 0; oy < ho; oy++ {
			for ox := 0; ox < wo; ox++ {
				row := (oy*wo + ox) * kkc
				for ky := 0; ky < k; ky++ {
					iy := oy*stride - pad + ky
					for kx := 0; kx < k; kx++ {
						ix := ox*stride - pad + kx
						dst := cols[row+(ky*k+kx)*c : row+(ky*k+kx+1)*c]
						if iy < 0 || iy >= h || ix < 0 || ix >= wd {
							clear(dst)
							continue
						}
						copy(dst, in[(iy*wd+ix)*c:(iy*wd+ix+1)*c])
					}
				}
			}
		}

		dst := out.Data[s*ho*wo*co : (s+1)*ho*wo*co]
		blas32.Gemm(blas.NoTrans, blas.NoTrans, 1,
			blas32.General{Rows: ho * wo, Cols: kkc, Stride: kkc, Data: cols},
			weights,
			0,
			blas32.General{Rows: ho * wo, Cols: co, Stride: co, Data: dst})
		addBias(dst, b, co)
	}
}

// convTranspose2D multiplies each input pixel with the [k*k*Co, Ci] weight
// matrix and scatters (col2im) the resulting patches into the output
func convTranspose2D(x, w, b *tensor.Tensor, p layers.LayerParams, out *tensor.Tensor) {
	n, h, wd, ci := x.Shape[0], x.Shape[1], x.Shape[2], x.Shape[3]
	ho, wo, co := out.Shape[1], out.Shape[2], out.Shape[3]
	k, stride, pad := p.KernelSize, p.Stride, p.Padding
	kkco := k * k * co

	cols := make([]float32, h*wd*kkco)
	weights := blas32.General{Rows: kkco, Cols: ci, Stride: ci, Data: w.Data}

	for s := 0; s < n; s++ {
		in := x.Data[s*h*wd*ci : (s+1)*h*wd*ci]
		blas32.Gemm(blas.NoTrans, blas.Trans, 1,
			blas32.General{Rows: h * wd, Cols: ci, Stride: ci, Data: in},
			weights,
			0,
			blas32.General{Rows: h * wd, Cols: kkco, Stride: kkco, Data: cols})

		dst := out.Data[s*ho*wo*co : (s+1)*ho*wo*co]
		for iy := 0; iy < h; iy++ {
			for ix := 0; ix < wd; ix++ {
				row := (iy*wd + ix) * kkco
				for ky := 0; ky < k; ky++ {
					oy := iy*stride - pad + ky
					if oy < 0 || oy >= ho {
						continue
					}
					for kx := 0; kx < k; kx++ {
						ox := ix*stride - pad + kx
						if ox < 0 || ox >= wo {
							continue
						}
						src := cols[row+(ky*k+kx)*co : row+(ky*k+kx+1)*co]
						o := dst[(oy*wo+ox)*co : (oy*wo+ox+1)*co]
						for c := range o {
							o[c] += src[c]
						}
					}
				}
			}
		}
		addBias(dst, b, co)
	}
}

// dense treats the input as [N, features] regardless of its rank
func dense(x, w, b *tensor.Tensor, out *tensor.Tensor) {
	n := out.Shape[0]
	in := len(x.Data) / n
	units := out.Shape[1]

	blas32.Gemm(blas.NoTrans, blas.NoTrans, 1,
		blas32.General{Rows: n, Cols: in, Stride: in, Data: x.Data},
		blas32.General{Rows: in, Cols: units, Stride: units, Data: w.Data},
		0,
		blas32.General{Rows: n, Cols: units, Stride: units, Data: out.Data})
	addBias(out.Data, b, units)
}

func globalAvgPool(x, out *tensor.Tensor) {
	n, h, w, c := x.Shape[0], x.Shape[1], x.Shape[2], x.Shape[3]
	scale := 1 / float32(h*w)
	for s := 0; s < n; s++ {
		in := x.Data[s*h*w*c : (s+1)*h*w*c]
		o := out.Data[s*c : (s+1)*c]
		for i := 0; i < h*w; i++ {
			for ch := 0; ch < c; ch++ {
				o[ch] += in[i*c+ch]
			}
		}
		for ch := range o {
			o[ch] *= scale
		}
	}
}

// tile broadcasts [N, L] to [N, H, W, L]
func tile(x, out *tensor.Tensor) {
	n, l := x.Shape[0], x.Shape[1]
	pixels := out.Shape[1] * out.Shape[2]
	for s := 0; s < n; s++ {
		code := x.Data[s*l : (s+1)*l]
		base := s * pixels * l
		for i := 0; i < pixels; i++ {
			copy(out.Data[base+i*l:base+(i+1)*l], code)
		}
	}
}

func concatChannels(a, b, out *tensor.Tensor) {
	ca, cb := a.Shape[3], b.Shape[3]
	pixels := len(a.Data) / ca
	for i := 0; i < pixels; i++ {
		o := out.Data[i*(ca+cb) : (i+1)*(ca+cb)]
		copy(o[:ca], a.Data[i*ca:(i+1)*ca])
		copy(o[ca:], b.Data[i*cb:(i+1)*cb])
	}
}

func activate(x *tensor.Tensor, p layers.LayerParams, out *tensor.Tensor) error {
	switch p.NonLinearity {
	case layers.ReLU:
		for i, v := range x.Data {
			if v > 0 {
				out.Data[i] = v
			}
		}
	case layers.LeakyReLU:
		slope := p.NegativeSlope
		for i, v := range x.Data {
			if v > 0 {
				out.Data[i] = v
			} else {
				out.Data[i] = v * slope
			}
		}
	case layers.Tanh:
		for i, v := range x.Data {
			out.Data[i] = float32(math.Tanh(float64(v)))
		}
	default:
		return fmt.Errorf("%w: %d", layers.ErrUnknownNonLinearity, int(p.NonLinearity))
	}
	return nil
}
