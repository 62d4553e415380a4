package checkpoints

import (
	"encoding/binary"
	"fmt"
	"math"
	"strings"

	bfloat16 "github.com/d4l3k/go-bfloat16"
	"github.com/x448/float16"
)

// Precision is the storage type of persisted weights. Tensors are always
// float32 in memory.
type Precision int

const (
	PrecisionF32 Precision = iota
	PrecisionF16
	PrecisionBF16
)

func (p Precision) String() string {
	switch p {
	case PrecisionF32:
		return "f32"
	case PrecisionF16:
		return "f16"
	case PrecisionBF16:
		return "bf16"
	default:
		return "unknown"
	}
}

// ParsePrecision maps "f32", "f16" and "bf16" to a Precision
func ParsePrecision(s string) (Precision, error) {
	switch strings.ToLower(s) {
	case "f32", "float32":
		return PrecisionF32, nil
	case "f16", "float16":
		return PrecisionF16, nil
	case "bf16", "bfloat16":
		return PrecisionBF16, nil
	}
	return 0, fmt.Errorf("unknown precision %q", s)
}

func (p Precision) MarshalText() ([]byte, error) {
	if p.String() == "unknown" {
		return nil, fmt.Errorf("unknown precision %d", int(p))
	}
	return []byte(p.String()), nil
}

func (p *Precision) UnmarshalText(text []byte) error {
	v, err := ParsePrecision(string(text))
	if err != nil {
		return err
	}
	*p = v
	return nil
}

// BytesPerElement returns the encoded size of one value
func (p Precision) BytesPerElement() int {
	if p == PrecisionF32 {
		return 4
	}
	return 2
}

// Encode packs float32 values little-endian in the given precision
func (p Precision) Encode(values []float32) ([]byte, error) {
	switch p {
	case PrecisionF32:
		buf := make([]byte, 4*len(values))
		for i, v := range values {
			binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(v))
		}
		return buf, nil
	case PrecisionF16:
		buf := make([]byte, 2*len(values))
		for i, v := range values {
			binary.LittleEndian.PutUint16(buf[2*i:], float16.Fromfloat32(v).Bits())
		}
		return buf, nil
	case PrecisionBF16:
		return bfloat16.EncodeFloat32(values), nil
	}
	return nil, fmt.Errorf("unknown precision %d", int(p))
}

// Decode unpacks bytes written by Encode
func (p Precision) Decode(data []byte) ([]float32, error) {
	size := p.BytesPerElement()
	if len(data)%size != 0 {
		return nil, fmt.Errorf("%s payload of %d bytes is not a multiple of %d", p, len(data), size)
	}

	switch p {
	case PrecisionF32:
		out := make([]float32, len(data)/4)
		for i := range out {
			out[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[4*i:]))
		}
		return out, nil
	case PrecisionF16:
		out := make([]float32, len(data)/2)
		for i := range out {
			out[i] = float16.Frombits(binary.LittleEndian.Uint16(data[2*i:])).Float32()
		}
		return out, nil
	case PrecisionBF16:
		return bfloat16.DecodeFloat32(data), nil
	}
	return nil, fmt.Errorf("unknown precision %d", int(p))
}
