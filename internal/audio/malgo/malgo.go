// Package malgo captures microphone audio through miniaudio callbacks.
package malgo

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	ma "github.com/gen2brain/malgo"

	"github.com/audiolibrelab/echoid/internal/audio"
)

// queueDepth is the number of callback periods buffered between the audio
// thread and the reader before periods are dropped
const queueDepth = 256

// Source opens miniaudio capture devices
type Source struct {
	deviceName string
}

// New returns a Source for the named capture device; an empty name selects
// the system default
func New(deviceName string) *Source {
	return &Source{deviceName: deviceName}
}

// MinBufferSize implements audio.Source. miniaudio sizes its own periods,
// so any buffer large enough for one sample frame works.
func (s *Source) MinBufferSize(sampleRate, channels int, enc audio.Encoding) (int, error) {
	if err := audio.ValidateFormat(sampleRate, channels, enc); err != nil {
		return 0, err
	}
	return channels, nil
}

// Open implements audio.Source
func (s *Source) Open(sampleRate, channels int, enc audio.Encoding, bufferSize int) (audio.Device, error) {
	if err := audio.ValidateFormat(sampleRate, channels, enc); err != nil {
		return nil, err
	}

	ctx, err := ma.InitContext(nil, ma.ContextConfig{}, func(message string) {
		slog.Debug("miniaudio", "message", message)
	})
	if err != nil {
		return nil, fmt.Errorf("init malgo context: %w", err)
	}

	deviceConfig := ma.DefaultDeviceConfig(ma.Capture)
	deviceConfig.Capture.Format = ma.FormatS16
	deviceConfig.Capture.Channels = uint32(channels)
	deviceConfig.SampleRate = uint32(sampleRate)

	if s.deviceName != "" {
		info, err := findCaptureDevice(ctx, s.deviceName)
		if err != nil {
			freeContext(ctx)
			return nil, err
		}
		deviceConfig.Capture.DeviceID = info.ID.Pointer()
	}

	d := &Device{
		ctx:    ctx,
		frames: make(chan []int16, queueDepth),
		done:   make(chan struct{}),
	}

	callbacks := ma.DeviceCallbacks{
		Data: d.onData,
	}

	dev, err := ma.InitDevice(ctx.Context, deviceConfig, callbacks)
	if err != nil {
		freeContext(ctx)
		return nil, fmt.Errorf("init capture device: %w", err)
	}
	d.dev = dev

	slog.Debug("miniaudio device opened", "device", s.deviceName, "sample_rate", sampleRate, "channels", channels, "buffer_size", bufferSize)

	return d, nil
}

func findCaptureDevice(ctx *ma.AllocatedContext, name string) (*ma.DeviceInfo, error) {
	infos, err := ctx.Context.Devices(ma.Capture)
	if err != nil {
		return nil, fmt.Errorf("listing capture devices: %w", err)
	}
	for i := range infos {
		if infos[i].Name() == name {
			return &infos[i], nil
		}
	}
	return nil, fmt.Errorf("capture device not found: %s", name)
}

func freeContext(ctx *ma.AllocatedContext) {
	_ = ctx.Uninit()
	ctx.Free()
}

// Device is an initialised miniaudio capture device. The audio thread pushes
// periods into a bounded queue that Read drains.
type Device struct {
	ctx *ma.AllocatedContext
	dev *ma.Device

	frames  chan []int16
	pending []int16
	done    chan struct{}
	dropped atomic.Int64

	stopped     atomic.Bool
	stopOnce    sync.Once
	releaseOnce sync.Once
}

func (d *Device) onData(_, pInputSample []byte, _ uint32) {
	if d.stopped.Load() {
		return
	}
	samples := make([]int16, len(pInputSample)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(pInputSample[i*2:]))
	}
	select {
	case d.frames <- samples:
	default:
		d.dropped.Add(1)
	}
}

// Start implements audio.Device
func (d *Device) Start() error {
	if err := d.dev.Start(); err != nil {
		return fmt.Errorf("starting capture device: %w", err)
	}
	return nil
}

// Read implements audio.Device. It blocks until a period is available or the
// device is stopped.
func (d *Device) Read(p []int16) (int, error) {
	if len(d.pending) == 0 {
		select {
		case f := <-d.frames:
			d.pending = f
		case <-d.done:
			return 0, nil
		}
	}

	n := copy(p, d.pending)
	d.pending = d.pending[n:]
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
	var err error
	d.stopOnce.Do(func() {
		d.stopped.Store(true)
		close(d.done)
		if stopErr := d.dev.Stop(); stopErr != nil {
			err = fmt.Errorf("stopping capture device: %w", stopErr)
		}
		if n := d.dropped.Load(); n > 0 {
			slog.Warn("Capture periods dropped", "count", n)
		}
	})
	return err
}

// Release implements audio.Device
func (d *Device) Release() error {
	err := d.Stop()
	d.releaseOnce.Do(func() {
		d.dev.Uninit()
		freeContext(d.ctx)
	})
	return err
}

// ListDevices returns the capture devices miniaudio can see
func ListDevices() ([]audio.DeviceInfo, error) {
	ctx, err := ma.InitContext(nil, ma.ContextConfig{}, func(string) {})
	if err != nil {
		return nil, fmt.Errorf("init malgo context: %w", err)
	}
	defer freeContext(ctx)

	infos, err := ctx.Context.Devices(ma.Capture)
	if err != nil {
		return nil, fmt.Errorf("listing capture devices: %w", err)
	}

	result := make([]audio.DeviceInfo, 0, len(infos))
	for i := range infos {
		result = append(result, audio.DeviceInfo{
			Name:      infos[i].Name(),
			IsDefault: infos[i].IsDefault != 0,
		})
	}
	return result, nil
}
