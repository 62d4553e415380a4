package layers

import (
	"fmt"
)

// computeLayerInfo computes output shape and parameter information for a stage
func computeLayerInfo(layer *LayerSpec, inputShapes [][]int) ([]int, [][]int, int64, error) {
	switch layer.Type {
	case Conv2D:
		return computeConv2DInfo(layer, inputShapes[0])
	case ConvTranspose2D:
		return computeConvTranspose2DInfo(layer, inputShapes[0])
	case AvgPool2D:
		return computeAvgPoolInfo(inputShapes[0])
	case Flatten:
		return computeFlattenInfo(inputShapes[0])
	case Dense:
		return computeDenseInfo(layer, inputShapes[0])
	case Add:
		return computeAddInfo(inputShapes[0], inputShapes[1])
	case Tile:
		return computeTileInfo(layer, inputShapes[0])
	case Concat:
		return computeConcatInfo(inputShapes[0], inputShapes[1])
	case Activation:
		return computeActivationInfo(layer, inputShapes[0])
	default:
		return nil, nil, 0, fmt.Errorf("unsupported layer type: %s", layer.Type)
	}
}

func validateConvParams(p LayerParams) error {
	if p.OutputChannels <= 0 {
		return fmt.Errorf("output_channels must be positive, got %d", p.OutputChannels)
	}
	if p.KernelSize <= 0 {
		return fmt.Errorf("kernel_size must be positive, got %d", p.KernelSize)
	}
	if p.Stride <= 0 {
		return fmt.Errorf("stride must be positive, got %d", p.Stride)
	}
	if p.Padding < 0 {
		return fmt.Errorf("padding must not be negative, got %d", p.Padding)
	}
	return nil
}

// convParams returns the weight/bias shapes shared by both convolution kinds.
// Weights use the [kernel, kernel, a, b] layout: [k, k, in, out] for Conv2D and
// [k, k, out, in] for ConvTranspose2D.
func convParams(k, a, b, outputChannels int, useBias bool) ([][]int, int64) {
	paramShapes := [][]int{{k, k, a, b}}
	paramCount := int64(k * k * a * b)
	if useBias {
		paramShapes = append(paramShapes, []int{outputChannels})
		paramCount += int64(outputChannels)
	}
	return paramShapes, paramCount
}

// computeConv2DInfo computes Conv2D stage information
func computeConv2DInfo(layer *LayerSpec, inputShape []int) ([]int, [][]int, int64, error) {
	if len(inputShape) != 4 {
		return nil, nil, 0, fmt.Errorf("Conv2D requires 4D input [batch, height, width, channels], got %v", inputShape)
	}
	p := layer.Params
	if err := validateConvParams(p); err != nil {
		return nil, nil, 0, err
	}

	inputHeight, inputWidth, inputChannels := inputShape[1], inputShape[2], inputShape[3]

	outputHeight := (inputHeight+2*p.Padding-p.KernelSize)/p.Stride + 1
	outputWidth := (inputWidth+2*p.Padding-p.KernelSize)/p.Stride + 1
	if outputHeight <= 0 || outputWidth <= 0 {
		return nil, nil, 0, fmt.Errorf("input %dx%d too small for kernel %d stride %d", inputHeight, inputWidth, p.KernelSize, p.Stride)
	}

	outputShape := []int{inputShape[0], outputHeight, outputWidth, p.OutputChannels}
	paramShapes, paramCount := convParams(p.KernelSize, inputChannels, p.OutputChannels, p.OutputChannels, p.UseBias)
	return outputShape, paramShapes, paramCount, nil
}

// computeConvTranspose2DInfo computes deconvolution stage information
func computeConvTranspose2DInfo(layer *LayerSpec, inputShape []int) ([]int, [][]int, int64, error) {
	if len(inputShape) != 4 {
		return nil, nil, 0, fmt.Errorf("ConvTranspose2D requires 4D input [batch, height, width, channels], got %v", inputShape)
	}
	p := layer.Params
	if err := validateConvParams(p); err != nil {
		return nil, nil, 0, err
	}

	inputHeight, inputWidth, inputChannels := inputShape[1], inputShape[2], inputShape[3]

	outputHeight := (inputHeight-1)*p.Stride - 2*p.Padding + p.KernelSize
	outputWidth := (inputWidth-1)*p.Stride - 2*p.Padding + p.KernelSize
	if outputHeight <= 0 || outputWidth <= 0 {
		return nil, nil, 0, fmt.Errorf("padding %d too large for kernel %d", p.Padding, p.KernelSize)
	}

	outputShape := []int{inputShape[0], outputHeight, outputWidth, p.OutputChannels}
	paramShapes, paramCount := convParams(p.KernelSize, p.OutputChannels, inputChannels, p.OutputChannels, p.UseBias)
	return outputShape, paramShapes, paramCount, nil
}

func computeAvgPoolInfo(inputShape []int) ([]int, [][]int, int64, error) {
	if len(inputShape) != 4 {
		return nil, nil, 0, fmt.Errorf("AvgPool2D requires 4D input, got %v", inputShape)
	}
	return []int{inputShape[0], 1, 1, inputShape[3]}, nil, 0, nil
}

func computeFlattenInfo(inputShape []int) ([]int, [][]int, int64, error) {
	if len(inputShape) < 2 {
		return nil, nil, 0, fmt.Errorf("Flatten requires at least 2D input, got %v", inputShape)
	}
	return []int{inputShape[0], numElements(inputShape[1:])}, nil, 0, nil
}

// computeDenseInfo computes dense stage information
func computeDenseInfo(layer *LayerSpec, inputShape []int) ([]int, [][]int, int64, error) {
	if len(inputShape) < 2 {
		return nil, nil, 0, fmt.Errorf("dense layer requires at least 2D input")
	}
	outputSize := layer.Params.OutputSize
	if outputSize <= 0 {
		return nil, nil, 0, fmt.Errorf("output_size must be positive, got %d", outputSize)
	}

	// Everything except the batch is flattened into the feature dimension
	inputSize := numElements(inputShape[1:])

	paramShapes := [][]int{{inputSize, outputSize}}
	paramCount := int64(inputSize * outputSize)
	if layer.Params.UseBias {
		paramShapes = append(paramShapes, []int{outputSize})
		paramCount += int64(outputSize)
	}

	return []int{inputShape[0], outputSize}, paramShapes, paramCount, nil
}

func computeAddInfo(a, b []int) ([]int, [][]int, int64, error) {
	if !shapesEqual(a, b) {
		return nil, nil, 0, fmt.Errorf("%w: cannot add %v and %v", ErrShapeMismatch, a, b)
	}
	return cloneShape(a), nil, 0, nil
}

func computeTileInfo(layer *LayerSpec, inputShape []int) ([]int, [][]int, int64, error) {
	if len(inputShape) != 2 {
		return nil, nil, 0, fmt.Errorf("Tile requires 2D input [batch, features], got %v", inputShape)
	}
	h, w := layer.Params.Height, layer.Params.Width
	if h <= 0 || w <= 0 {
		return nil, nil, 0, fmt.Errorf("tile size must be positive, got %dx%d", h, w)
	}
	return []int{inputShape[0], h, w, inputShape[1]}, nil, 0, nil
}

func computeConcatInfo(a, b []int) ([]int, [][]int, int64, error) {
	if len(a) != 4 || len(b) != 4 {
		return nil, nil, 0, fmt.Errorf("Concat requires two 4D inputs, got %v and %v", a, b)
	}
	if !shapesEqual(a[:3], b[:3]) {
		return nil, nil, 0, fmt.Errorf("%w: cannot concatenate %v and %v along channels", ErrShapeMismatch, a, b)
	}
	return []int{a[0], a[1], a[2], a[3] + b[3]}, nil, 0, nil
}

// computeActivationInfo computes activation stage information (no parameters)
func computeActivationInfo(layer *LayerSpec, inputShape []int) ([]int, [][]int, int64, error) {
	if _, err := ParseNonLinearity(layer.Params.NonLinearity.String()); err != nil {
		return nil, nil, 0, err
	}
	return cloneShape(inputShape), nil, 0, nil
}
