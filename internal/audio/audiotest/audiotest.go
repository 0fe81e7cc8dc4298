// Package audiotest provides in-memory capture devices for tests.
package audiotest

import (
	"sync"
	"sync/atomic"

	"github.com/audiolibrelab/echoid/internal/audio"
)

// Source hands out a single fake Device
type Source struct {
	MinSize int
	OpenErr error
	Device  *Device

	mu         sync.Mutex
	opened     int
	lastBuffer int
}

// MinBufferSize implements audio.Source
func (s *Source) MinBufferSize(sampleRate, channels int, enc audio.Encoding) (int, error) {
	return s.MinSize, nil
}

// Open implements audio.Source
func (s *Source) Open(sampleRate, channels int, enc audio.Encoding, bufferSize int) (audio.Device, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.OpenErr != nil {
		return nil, s.OpenErr
	}
	s.opened++
	s.lastBuffer = bufferSize
	if s.Device == nil {
		s.Device = &Device{}
	}
	return s.Device, nil
}

// Opened returns how many times Open succeeded
func (s *Source) Opened() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opened
}

// LastBufferSize returns the buffer size passed to the last Open
func (s *Source) LastBufferSize() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastBuffer
}

// Device is a fake capture device producing a constant sample value
type Device struct {
	// ChunkSize is the number of samples returned per Read (default 1024)
	ChunkSize int
	// StopAfter makes the device stop itself once this many samples have been
	// delivered in total (0 disables)
	StopAfter int
	// BlockAfter makes Read block once this many samples have been delivered
	// in total until Stop is called (0 disables)
	BlockAfter int
	// ReadErr is returned once by the next Read
	ReadErr error
	// StartErr is returned by Start
	StartErr error
	// Value is written into every sample
	Value int16

	mu       sync.Mutex
	total    int
	started  bool
	released bool
	stops    int
	stopped  atomic.Bool
	stopOnce sync.Once
	stopCh   chan struct{}
	blocked  chan struct{}
}

func (d *Device) init() {
	if d.stopCh == nil {
		d.stopCh = make(chan struct{})
		d.blocked = make(chan struct{})
	}
}

// Start implements audio.Device
func (d *Device) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.init()
	if d.StartErr != nil {
		return d.StartErr
	}
	d.started = true
	return nil
}

// Read implements audio.Device
func (d *Device) Read(p []int16) (int, error) {
	d.mu.Lock()
	d.init()
	if d.ReadErr != nil {
		err := d.ReadErr
		d.ReadErr = nil
		d.mu.Unlock()
		return 0, err
	}
	if d.stopped.Load() {
		d.mu.Unlock()
		return 0, nil
	}

	if d.BlockAfter > 0 && d.total >= d.BlockAfter {
		stopCh, blocked := d.stopCh, d.blocked
		d.mu.Unlock()
		select {
		case <-blocked:
		default:
			close(blocked)
		}
		<-stopCh
		return 0, nil
	}

	n := d.ChunkSize
	if n <= 0 {
		n = 1024
	}
	n = min(n, len(p))
	if d.StopAfter > 0 {
		n = min(n, d.StopAfter-d.total)
	}
	if d.BlockAfter > 0 {
		n = min(n, d.BlockAfter-d.total)
	}
	for i := 0; i < n; i++ {
		p[i] = d.Value
	}
	d.total += n
	reachedStop := d.StopAfter > 0 && d.total >= d.StopAfter
	d.mu.Unlock()

	if reachedStop {
		d.Stop()
	}
	return n, nil
}

// RecordingState implements audio.Device
func (d *Device) RecordingState() audio.State {
	if d.stopped.Load() {
		return audio.StateStopped
	}
	return audio.StateRunning
}

// Stop implements audio.Device
func (d *Device) Stop() error {
	d.mu.Lock()
	d.init()
	d.stops++
	stopCh := d.stopCh
	d.mu.Unlock()

	d.stopped.Store(true)
	d.stopOnce.Do(func() { close(stopCh) })
	return nil
}

// Release implements audio.Device
func (d *Device) Release() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.released = true
	return nil
}

// Blocked is closed once a Read has blocked waiting for Stop
func (d *Device) Blocked() <-chan struct{} {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.init()
	return d.blocked
}

// Released reports whether Release was called
func (d *Device) Released() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.released
}

// Started reports whether Start was called
func (d *Device) Started() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.started
}

// Delivered returns the total number of samples handed out
func (d *Device) Delivered() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.total
}
