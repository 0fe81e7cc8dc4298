package audio

import (
	"errors"
	"fmt"
)

// State represents the recording state reported by a capture device
type State string

const (
	StateRunning State = "RUNNING"
	StateStopped State = "STOPPED"
)

// Encoding describes the PCM sample representation requested from a device
type Encoding string

const (
	EncodingPCM16 Encoding = "pcm16"
)

// Capture defaults used by the fingerprinting session
const (
	DefaultSampleRate = 11025
	DefaultChannels   = 1
	DefaultEncoding   = EncodingPCM16
)

// ErrCaptureTruncated is returned by Fill when the device stopped before the
// buffer was full. It is a control condition, never a reported failure.
var ErrCaptureTruncated = errors.New("capture truncated: device stopped")

// Source opens capture devices for one backend
type Source interface {
	// MinBufferSize returns the smallest buffer, in samples, the backend can
	// work with for the given format
	MinBufferSize(sampleRate, channels int, enc Encoding) (int, error)

	// Open acquires the capture device. The device is not started yet.
	Open(sampleRate, channels int, enc Encoding, bufferSize int) (Device, error)
}

// Device is an acquired capture device. It is owned by exactly one worker;
// only Stop may be called from another goroutine.
type Device interface {
	// Start begins capturing
	Start() error

	// Read blocks until samples are available or the device is stopped and
	// returns the number of samples written to p
	Read(p []int16) (int, error)

	// RecordingState reports whether the device is still capturing
	RecordingState() State

	// Stop halts capture. Idempotent and safe to call concurrently with Read.
	Stop() error

	// Release frees the device. The device must not be used afterwards.
	Release() error
}

// DeviceInfo describes a capture device exposed by a backend
type DeviceInfo struct {
	Name              string  `json:"name" yaml:"name"`
	MaxInputChannels  int     `json:"max_input_channels" yaml:"max_input_channels"`
	DefaultSampleRate float64 `json:"default_sample_rate" yaml:"default_sample_rate"`
	IsDefault         bool    `json:"is_default" yaml:"is_default"`
}

// ValidateFormat checks a capture format before a device is opened
func ValidateFormat(sampleRate, channels int, enc Encoding) error {
	if sampleRate <= 0 {
		return fmt.Errorf("sample rate must be > 0, got: %d", sampleRate)
	}
	if channels != 1 && channels != 2 {
		return fmt.Errorf("channels must be 1 or 2, got: %d", channels)
	}
	if enc != EncodingPCM16 {
		return fmt.Errorf("unsupported encoding: %s", enc)
	}
	return nil
}
