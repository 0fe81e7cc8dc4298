// Package portaudio captures microphone audio through PortAudio blocking reads.
package portaudio

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	pa "github.com/gordonklaus/portaudio"

	"github.com/audiolibrelab/echoid/internal/audio"
)

// DefaultFramesPerBuffer is the PortAudio read granularity. At 11025 Hz one
// frame buffer is roughly 93ms, which bounds how long Stop takes to be seen.
const DefaultFramesPerBuffer = 1024

// Source opens PortAudio input streams
type Source struct {
	deviceName      string
	framesPerBuffer int
}

// New returns a Source for the named input device; an empty name selects
// the system default
func New(deviceName string) *Source {
	return &Source{deviceName: deviceName, framesPerBuffer: DefaultFramesPerBuffer}
}

// MinBufferSize implements audio.Source
func (s *Source) MinBufferSize(sampleRate, channels int, enc audio.Encoding) (int, error) {
	if err := audio.ValidateFormat(sampleRate, channels, enc); err != nil {
		return 0, err
	}
	return s.framesPerBuffer * channels, nil
}

// Open implements audio.Source
func (s *Source) Open(sampleRate, channels int, enc audio.Encoding, bufferSize int) (audio.Device, error) {
	if err := audio.ValidateFormat(sampleRate, channels, enc); err != nil {
		return nil, err
	}

	if err := pa.Initialize(); err != nil {
		return nil, fmt.Errorf("initializing portaudio: %w", err)
	}

	info, err := findInputDevice(s.deviceName)
	if err != nil {
		pa.Terminate()
		return nil, err
	}

	params := pa.HighLatencyParameters(info, nil)
	params.Input.Channels = channels
	params.Output.Device = nil
	params.Output.Channels = 0
	params.SampleRate = float64(sampleRate)
	params.FramesPerBuffer = s.framesPerBuffer

	frame := make([]int16, s.framesPerBuffer*channels)
	stream, err := pa.OpenStream(params, frame)
	if err != nil {
		pa.Terminate()
		return nil, fmt.Errorf("opening capture stream on %q: %w", info.Name, err)
	}

	slog.Debug("PortAudio stream opened", "device", info.Name, "sample_rate", sampleRate, "channels", channels, "buffer_size", bufferSize)

	return &Device{stream: stream, frame: frame}, nil
}

func findInputDevice(name string) (*pa.DeviceInfo, error) {
	if name == "" {
		info, err := pa.DefaultInputDevice()
		if err != nil {
			return nil, fmt.Errorf("no default input device: %w", err)
		}
		return info, nil
	}

	devices, err := pa.Devices()
	if err != nil {
		return nil, fmt.Errorf("listing portaudio devices: %w", err)
	}
	for _, d := range devices {
		if d.MaxInputChannels > 0 && d.Name == name {
			return d, nil
		}
	}
	// Fall back to a case-insensitive substring match, device names carry
	// host API decorations on some platforms
	for _, d := range devices {
		if d.MaxInputChannels > 0 && strings.Contains(strings.ToLower(d.Name), strings.ToLower(name)) {
			return d, nil
		}
	}
	return nil, fmt.Errorf("input device not found: %s", name)
}

// Device is an open PortAudio input stream. Stop only raises a flag; the
// owner notices it after the frame being read completes.
type Device struct {
	stream  *pa.Stream
	frame   []int16
	pending []int16

	stopped     atomic.Bool
	releaseOnce sync.Once
}

// Start implements audio.Device
func (d *Device) Start() error {
	if err := d.stream.Start(); err != nil {
		return fmt.Errorf("starting capture stream: %w", err)
	}
	return nil
}

// Read implements audio.Device. It returns at most one PortAudio frame
// buffer worth of samples per call.
func (d *Device) Read(p []int16) (int, error) {
	if d.stopped.Load() {
		return 0, nil
	}

	if len(d.pending) == 0 {
		if err := d.stream.Read(); err != nil {
			if !errors.Is(err, pa.InputOverflowed) {
				return 0, err
			}
			slog.Debug("PortAudio input overflowed")
		}
		d.pending = d.frame
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
	d.stopped.Store(true)
	return nil
}

// Release implements audio.Device
func (d *Device) Release() error {
	var err error
	d.releaseOnce.Do(func() {
		d.stopped.Store(true)
		if stopErr := d.stream.Stop(); stopErr != nil && !errors.Is(stopErr, pa.StreamIsStopped) {
			slog.Debug("PortAudio stream stop failed", slog.Any("error", stopErr))
		}
		if closeErr := d.stream.Close(); closeErr != nil {
			err = fmt.Errorf("closing capture stream: %w", closeErr)
		}
		if termErr := pa.Terminate(); termErr != nil && err == nil {
			err = fmt.Errorf("terminating portaudio: %w", termErr)
		}
	})
	return err
}

// ListDevices returns the input-capable PortAudio devices
func ListDevices() ([]audio.DeviceInfo, error) {
	if err := pa.Initialize(); err != nil {
		return nil, fmt.Errorf("initializing portaudio: %w", err)
	}
	defer pa.Terminate()

	devices, err := pa.Devices()
	if err != nil {
		return nil, fmt.Errorf("listing portaudio devices: %w", err)
	}

	var defaultName string
	if def, err := pa.DefaultInputDevice(); err == nil {
		defaultName = def.Name
	}

	var result []audio.DeviceInfo
	for _, d := range devices {
		if d.MaxInputChannels <= 0 {
			continue
		}
		result = append(result, audio.DeviceInfo{
			Name:              d.Name,
			MaxInputChannels:  d.MaxInputChannels,
			DefaultSampleRate: d.DefaultSampleRate,
			IsDefault:         d.Name == defaultName,
		})
	}
	return result, nil
}
