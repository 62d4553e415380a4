package tensor

import (
	"fmt"
	"math"
	"math/rand"
)

// Tensor is a dense, row-major float32 tensor. Image tensors are NHWC.
type Tensor struct {
	Shape   []int
	Strides []int
	Data    []float32
}

func (t *Tensor) String() string {
	return fmt.Sprintf("Tensor(shape=%v, elements=%d)", t.Shape, len(t.Data))
}

func calculateStrides(shape []int) []int {
	if len(shape) == 0 {
		return []int{}
	}

	strides := make([]int, len(shape))
	stride := 1
	for i := len(shape) - 1; i >= 0; i-- {
		strides[i] = stride
		stride *= shape[i]
	}
	return strides
}

func calculateNumElements(shape []int) int {
	if len(shape) == 0 {
		return 0
	}

	elements := 1
	for _, dim := range shape {
		elements *= dim
	}
	return elements
}

func validateShape(shape []int) error {
	if len(shape) == 0 {
		return fmt.Errorf("invalid shape: no dimensions")
	}
	for i, dim := range shape {
		if dim <= 0 {
			return fmt.Errorf("invalid shape: dimension %d has size %d, must be positive", i, dim)
		}
	}
	return nil
}

// Zeros creates a zero-filled tensor
func Zeros(shape []int) (*Tensor, error) {
	if err := validateShape(shape); err != nil {
		return nil, err
	}
	s := make([]int, len(shape))
	copy(s, shape)
	return &Tensor{
		Shape:   s,
		Strides: calculateStrides(s),
		Data:    make([]float32, calculateNumElements(s)),
	}, nil
}

// FromData wraps data (without copying) in a tensor of the given shape
func FromData(shape []int, data []float32) (*Tensor, error) {
	if err := validateShape(shape); err != nil {
		return nil, err
	}
	if n := calculateNumElements(shape); n != len(data) {
		return nil, fmt.Errorf("data length %d does not match tensor size %d", len(data), n)
	}
	s := make([]int, len(shape))
	copy(s, shape)
	return &Tensor{
		Shape:   s,
		Strides: calculateStrides(s),
		Data:    data,
	}, nil
}

// Full creates a tensor filled with value
func Full(shape []int, value float32) (*Tensor, error) {
	t, err := Zeros(shape)
	if err != nil {
		return nil, err
	}
	for i := range t.Data {
		t.Data[i] = value
	}
	return t, nil
}

// RandNormal creates a tensor of samples from N(0, std²). A nil rng draws
// from the global source.
func RandNormal(shape []int, std float64, rng *rand.Rand) (*Tensor, error) {
	t, err := Zeros(shape)
	if err != nil {
		return nil, err
	}
	norm := rand.NormFloat64
	if rng != nil {
		norm = rng.NormFloat64
	}
	for i := range t.Data {
		t.Data[i] = float32(norm() * std)
	}
	return t, nil
}

// Numel returns the number of elements
func (t *Tensor) Numel() int {
	return len(t.Data)
}

// Dim returns the number of dimensions
func (t *Tensor) Dim() int {
	return len(t.Shape)
}

// Clone returns a deep copy
func (t *Tensor) Clone() *Tensor {
	shape := make([]int, len(t.Shape))
	copy(shape, t.Shape)
	data := make([]float32, len(t.Data))
	copy(data, t.Data)
	return &Tensor{
		Shape:   shape,
		Strides: calculateStrides(shape),
		Data:    data,
	}
}

// Reshape returns a view with a new shape sharing the same data
func (t *Tensor) Reshape(newShape []int) (*Tensor, error) {
	if calculateNumElements(newShape) != len(t.Data) {
		return nil, fmt.Errorf("cannot reshape %v (%d elements) to %v", t.Shape, len(t.Data), newShape)
	}
	return FromData(newShape, t.Data)
}

func (t *Tensor) offset(indices []int) (int, error) {
	if len(indices) != len(t.Shape) {
		return 0, fmt.Errorf("expected %d indices, got %d", len(t.Shape), len(indices))
	}
	off := 0
	for i, idx := range indices {
		if idx < 0 || idx >= t.Shape[i] {
			return 0, fmt.Errorf("index %d out of range [0, %d) for dimension %d", idx, t.Shape[i], i)
		}
		off += idx * t.Strides[i]
	}
	return off, nil
}

// At returns the element at the given indices
func (t *Tensor) At(indices ...int) (float32, error) {
	off, err := t.offset(indices)
	if err != nil {
		return 0, err
	}
	return t.Data[off], nil
}

// SetAt sets the element at the given indices
func (t *Tensor) SetAt(value float32, indices ...int) error {
	off, err := t.offset(indices)
	if err != nil {
		return err
	}
	t.Data[off] = value
	return nil
}

// SameShape reports whether both tensors have identical shapes
func (t *Tensor) SameShape(other *Tensor) bool {
	if len(t.Shape) != len(other.Shape) {
		return false
	}
	for i := range t.Shape {
		if t.Shape[i] != other.Shape[i] {
			return false
		}
	}
	return true
}

// AllClose compares two tensors elementwise with an absolute tolerance
func (t *Tensor) AllClose(other *Tensor, tol float64) bool {
	if !t.SameShape(other) {
		return false
	}
	for i := range t.Data {
		if math.Abs(float64(t.Data[i]-other.Data[i])) > tol {
			return false
		}
	}
	return true
}

// MinMax returns the smallest and largest element
func (t *Tensor) MinMax() (float32, float32) {
	if len(t.Data) == 0 {
		return 0, 0
	}
	lo, hi := t.Data[0], t.Data[0]
	for _, v := range t.Data[1:] {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	return lo, hi
}

// Slice returns batch element i of an N-leading tensor as a [1, ...] tensor sharing data
func (t *Tensor) Slice(i int) (*Tensor, error) {
	if len(t.Shape) == 0 || i < 0 || i >= t.Shape[0] {
		return nil, fmt.Errorf("batch index %d out of range for shape %v", i, t.Shape)
	}
	per := len(t.Data) / t.Shape[0]
	shape := append([]int{1}, t.Shape[1:]...)
	return FromData(shape, t.Data[i*per:(i+1)*per])
}
