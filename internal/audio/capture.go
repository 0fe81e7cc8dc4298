package audio

import (
	"fmt"
	"log/slog"
	"time"
)

// BufferSize returns the capture buffer size in samples for a recording of
// the given duration: max(deviceMin, sampleRate*seconds)
func BufferSize(deviceMin, sampleRate, seconds int) int {
	return max(deviceMin, sampleRate*seconds)
}

// CaptureBuffer is a fixed-size sample buffer filled from a capture device.
// It is reused across passes; Samples only ever exposes what the last Fill
// captured.
type CaptureBuffer struct {
	data []int16
	n    int
}

// NewCaptureBuffer allocates a buffer of size samples
func NewCaptureBuffer(size int) *CaptureBuffer {
	return &CaptureBuffer{data: make([]int16, size)}
}

// Size returns the capacity of the buffer in samples
func (b *CaptureBuffer) Size() int {
	return len(b.data)
}

// Len returns the number of samples captured by the last Fill
func (b *CaptureBuffer) Len() int {
	return b.n
}

// Samples returns the samples captured by the last Fill
func (b *CaptureBuffer) Samples() []int16 {
	return b.data[:b.n]
}

// Fill reads from dev until the buffer is full or the device reports it has
// stopped. A stopped device yields ErrCaptureTruncated together with the
// number of samples read so far; the partial data must not be processed.
func (b *CaptureBuffer) Fill(dev Device) (int, error) {
	b.n = 0
	start := time.Now()
	reads := 0

	for b.n < len(b.data) {
		n, err := dev.Read(b.data[b.n:])
		if n > 0 {
			b.n += n
		}
		reads++
		if err != nil {
			return b.n, fmt.Errorf("reading capture device after %d samples: %w", b.n, err)
		}

		if dev.RecordingState() == StateStopped {
			break
		}
	}

	slog.Debug("Audio captured", "samples", b.n, "reads", reads, "duration_ms", time.Since(start).Milliseconds())

	if dev.RecordingState() == StateStopped {
		return b.n, ErrCaptureTruncated
	}
	return b.n, nil
}
