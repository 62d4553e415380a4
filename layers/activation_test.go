package layers

import (
	"errors"
	"testing"
)

func TestParseNonLinearity(t *testing.T) {
	tests := []struct {
		name string
		want NonLinearity
	}{
		{"relu", ReLU},
		{"lrelu", LeakyReLU},
		{"tanh", Tanh},
	}

	for _, tt := range tests {
		got, err := ParseNonLinearity(tt.name)
		if err != nil {
			t.Fatalf("ParseNonLinearity(%q) returned error: %v", tt.name, err)
		}
		if got != tt.want {
			t.Errorf("ParseNonLinearity(%q) = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestParseNonLinearityUnknown(t *testing.T) {
	for _, name := range []string{"", "sigmoid", "elu", "softmax", " RELU ", "TanH", "LRelu", "relu "} {
		if _, err := ParseNonLinearity(name); !errors.Is(err, ErrUnknownNonLinearity) {
			t.Errorf("ParseNonLinearity(%q) error = %v, want ErrUnknownNonLinearity", name, err)
		}
	}
}

func TestNonLinearityString(t *testing.T) {
	if Tanh.String() != "tanh" {
		t.Errorf("Expected Tanh.String() to be 'tanh', got %s", Tanh.String())
	}
	if NonLinearity(42).String() != "unknown" {
		t.Errorf("Expected out-of-range value to print as 'unknown', got %s", NonLinearity(42).String())
	}
}

func TestActivateLeakySlope(t *testing.T) {
	b := NewGraphBuilder("act")
	in := b.Input("x", []int{2, 5})
	id := b.Activate(in, LeakyReLU, "lrelu")
	spec, err := b.Compile(id)
	if err != nil {
		t.Fatalf("Compile failed: %v", err)
	}

	layer := spec.Layers[id]
	if layer.Params.NegativeSlope != DefaultLeakySlope {
		t.Errorf("Expected negative slope %v, got %v", DefaultLeakySlope, layer.Params.NegativeSlope)
	}
	if layer.ParameterCount != 0 {
		t.Errorf("Expected no parameters for activation, got %d", layer.ParameterCount)
	}
	if !shapesEqual(layer.OutputShape, []int{2, 5}) {
		t.Errorf("Expected activation to keep shape [2 5], got %v", layer.OutputShape)
	}
}

func TestActivateRejectsUnknownValue(t *testing.T) {
	b := NewGraphBuilder("act")
	in := b.Input("x", []int{2, 5})
	b.Activate(in, NonLinearity(9), "bad")
	if !errors.Is(b.Err(), ErrUnknownNonLinearity) {
		t.Errorf("Expected ErrUnknownNonLinearity, got %v", b.Err())
	}
}

func TestLayerTypeText(t *testing.T) {
	for lt := Input; lt <= Activation; lt++ {
		text, err := lt.MarshalText()
		if err != nil {
			t.Fatalf("MarshalText(%d) failed: %v", lt, err)
		}
		var back LayerType
		if err := back.UnmarshalText(text); err != nil {
			t.Fatalf("UnmarshalText(%s) failed: %v", text, err)
		}
		if back != lt {
			t.Errorf("Expected %v after round trip, got %v", lt, back)
		}
	}
	if LayerType(99).String() != "Unknown" {
		t.Errorf("Expected LayerType(99) to print as Unknown")
	}
}
