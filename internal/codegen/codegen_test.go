package codegen

import (
	"errors"
	"math"
	"testing"
)

func TestNormalize(t *testing.T) {
	out := Normalize([]int16{0, math.MaxInt16, -math.MaxInt16, math.MinInt16, 16384})

	expected := []float32{0, 1, -1, -1, 16384.0 / 32767.0}
	for i, want := range expected {
		if out[i] != want {
			t.Errorf("Sample %d: expected %v, got %v", i, want, out[i])
		}
	}
	for i, f := range out {
		if f < -1 || f > 1 {
			t.Errorf("Sample %d out of range: %v", i, f)
		}
	}
}

func TestGenerateInt16_PassesOnlyCapturedSamples(t *testing.T) {
	var got []float32
	g := NewGenerator(Func(func(samples []float32) (string, error) {
		got = samples
		return "eJx", nil
	}))

	pcm := []int16{math.MaxInt16, 0, 99, 99}
	code, err := g.GenerateInt16(pcm, 2)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if code != "eJx" {
		t.Errorf("Expected code 'eJx', got %s", code)
	}
	if len(got) != 2 || got[0] != 1 || got[1] != 0 {
		t.Errorf("Expected normalised [1 0], got %v", got)
	}
}

func TestGenerateInt16_EmptyCode(t *testing.T) {
	g := NewGenerator(Func(func([]float32) (string, error) { return "", nil }))

	_, err := g.GenerateInt16(make([]int16, 100), 100)
	if !errors.Is(err, ErrInsufficientSignal) {
		t.Errorf("Expected ErrInsufficientSignal, got: %v", err)
	}
}

func TestGenerateInt16_ZeroSamples(t *testing.T) {
	called := false
	g := NewGenerator(Func(func([]float32) (string, error) {
		called = true
		return "x", nil
	}))

	_, err := g.GenerateInt16(nil, 0)
	if !errors.Is(err, ErrInsufficientSignal) {
		t.Errorf("Expected ErrInsufficientSignal, got: %v", err)
	}
	if called {
		t.Error("Codec must not be called without samples")
	}
}

func TestGenerateInt16_CodecError(t *testing.T) {
	codecErr := errors.New("native failure")
	g := NewGenerator(Func(func([]float32) (string, error) { return "", codecErr }))

	_, err := g.GenerateInt16(make([]int16, 10), 10)
	if !errors.Is(err, codecErr) {
		t.Errorf("Expected wrapped codec error, got: %v", err)
	}
}

func TestGenerateInt16_CountOutOfRange(t *testing.T) {
	g := NewGenerator(Func(func([]float32) (string, error) { return "x", nil }))

	if _, err := g.GenerateInt16(make([]int16, 10), 11); err == nil {
		t.Error("Expected error for count beyond buffer")
	}
}

func TestCheckFormat(t *testing.T) {
	if err := CheckFormat(11025, 1); err != nil {
		t.Errorf("Expected 11025 Hz mono to be accepted, got: %v", err)
	}

	for _, tc := range []struct{ rate, channels int }{{44100, 1}, {11025, 2}, {44100, 2}, {0, 1}} {
		if err := CheckFormat(tc.rate, tc.channels); !errors.Is(err, ErrUnsupportedFormat) {
			t.Errorf("CheckFormat(%d, %d): expected ErrUnsupportedFormat, got: %v", tc.rate, tc.channels, err)
		}
	}
}
