// Package codegen adapts captured PCM audio to a fingerprint code generator.
package codegen

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"
)

// ErrInsufficientSignal reports that the codec produced an empty code. It is
// an expected outcome, not a failure.
var ErrInsufficientSignal = errors.New("insufficient signal for a fingerprint code")

// Echoprint codes are only comparable when computed from mono PCM at this rate
const (
	SampleRate = 11025
	Channels   = 1
)

// ErrUnsupportedFormat reports a capture format the codec cannot fingerprint
var ErrUnsupportedFormat = errors.New("unsupported codegen format")

// CheckFormat rejects anything but mono audio at SampleRate
func CheckFormat(sampleRate, channels int) error {
	if sampleRate != SampleRate || channels != Channels {
		return fmt.Errorf("%w: need %d Hz mono, got %d Hz with %d channels", ErrUnsupportedFormat, SampleRate, sampleRate, channels)
	}
	return nil
}

// Codec generates an opaque fingerprint code from samples in [-1,1].
// An empty code means the signal was not sufficient.
type Codec interface {
	Generate(samples []float32) (string, error)
}

// Func adapts a plain function to the Codec interface
type Func func(samples []float32) (string, error)

// Generate implements Codec
func (f Func) Generate(samples []float32) (string, error) {
	return f(samples)
}

// Normalize converts signed 16-bit PCM to floats in [-1,1]
func Normalize(pcm []int16) []float32 {
	out := make([]float32, len(pcm))
	for i, s := range pcm {
		f := float32(s) / math.MaxInt16
		// math.MinInt16 lands just below -1
		if f < -1 {
			f = -1
		}
		out[i] = f
	}
	return out
}

// Generator owns a codec for the lifetime of the process and feeds it one
// pass worth of samples at a time
type Generator struct {
	codec Codec
}

// NewGenerator wraps codec
func NewGenerator(codec Codec) *Generator {
	return &Generator{codec: codec}
}

// GenerateInt16 normalises pcm[:n] and invokes the codec once. An empty code
// is returned as ErrInsufficientSignal.
func (g *Generator) GenerateInt16(pcm []int16, n int) (string, error) {
	if n < 0 || n > len(pcm) {
		return "", fmt.Errorf("sample count %d out of range [0,%d]", n, len(pcm))
	}
	if n == 0 {
		return "", ErrInsufficientSignal
	}

	start := time.Now()
	code, err := g.codec.Generate(Normalize(pcm[:n]))
	if err != nil {
		return "", fmt.Errorf("generating fingerprint code: %w", err)
	}
	slog.Debug("Codegen finished", "samples", n, "code_length", len(code), "duration_ms", time.Since(start).Milliseconds())

	if code == "" {
		return "", ErrInsufficientSignal
	}
	return code, nil
}
