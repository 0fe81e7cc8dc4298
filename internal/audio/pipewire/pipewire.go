// Package pipewire captures microphone audio by reading raw samples from a
// pw-record subprocess.
package pipewire

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/audiolibrelab/echoid/internal/audio"
)

const (
	recordCommand = "pw-record"
	linkCommand   = "pw-link"

	// quantum is the PipeWire period requested for the capture stream
	quantum = 256

	stopTimeout = 5 * time.Second
)

// Source opens pw-record capture streams
type Source struct {
	target string
}

// New returns a Source for the named PipeWire node; an empty name lets
// PipeWire pick the default source
func New(target string) *Source {
	return &Source{target: target}
}

// MinBufferSize implements audio.Source
func (s *Source) MinBufferSize(sampleRate, channels int, enc audio.Encoding) (int, error) {
	if err := audio.ValidateFormat(sampleRate, channels, enc); err != nil {
		return 0, err
	}
	return quantum * channels, nil
}

// Open implements audio.Source. The subprocess is launched by Start.
func (s *Source) Open(sampleRate, channels int, enc audio.Encoding, bufferSize int) (audio.Device, error) {
	if err := audio.ValidateFormat(sampleRate, channels, enc); err != nil {
		return nil, err
	}

	path, err := exec.LookPath(recordCommand)
	if err != nil {
		return nil, fmt.Errorf("%s not found: %w", recordCommand, err)
	}

	if s.target != "" {
		ports, err := listPorts()
		if err != nil {
			slog.Warn("Could not verify PipeWire target", "target", s.target, slog.Any("error", err))
		} else if err := validateTarget(s.target, ports); err != nil {
			return nil, err
		}
	}

	args := []string{
		"--rate", strconv.Itoa(sampleRate),
		"--channels", strconv.Itoa(channels),
		"--format", "s16",
		"--latency", fmt.Sprintf("%d/%d", quantum, sampleRate),
		"--raw",
	}
	if s.target != "" {
		args = append(args, "--target", s.target)
	}
	args = append(args, "-")

	slog.Debug("PipeWire capture prepared", "command", path+" "+strings.Join(args, " "), "buffer_size", bufferSize)

	return &Device{path: path, args: args}, nil
}

// Device is a pw-record process writing little-endian s16 samples to stdout
type Device struct {
	path string
	args []string

	mu     sync.Mutex
	cmd    *exec.Cmd
	reader *bufio.Reader
	raw    []byte

	stopped     atomic.Bool
	stopOnce    sync.Once
	releaseOnce sync.Once
}

// Start implements audio.Device. A device stopped before Start never
// launches the subprocess.
func (d *Device) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped.Load() || d.cmd != nil {
		return nil
	}

	cmd := exec.Command(d.path, d.args...)
	cmd.Env = os.Environ()

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("failed to create stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start %s: %w", recordCommand, err)
	}

	d.cmd = cmd
	d.reader = bufio.NewReaderSize(stdout, 4*quantum)
	go readOutput(stderr)

	slog.Debug("PipeWire capture started", "pid", cmd.Process.Pid)
	return nil
}

// readOutput logs the subprocess diagnostics
func readOutput(pipe io.ReadCloser) {
	scanner := bufio.NewScanner(pipe)
	for scanner.Scan() {
		slog.Debug("pw-record output", "line", scanner.Text())
	}
	pipe.Close()
}

// Read implements audio.Device
func (d *Device) Read(p []int16) (int, error) {
	if d.stopped.Load() || len(p) == 0 {
		return 0, nil
	}

	d.mu.Lock()
	reader := d.reader
	d.mu.Unlock()
	if reader == nil {
		return 0, fmt.Errorf("capture device not started")
	}

	want := 2 * len(p)
	if cap(d.raw) < want {
		d.raw = make([]byte, want)
	}
	buf := d.raw[:want]

	n, err := reader.Read(buf)
	if n%2 == 1 && err == nil {
		var b byte
		if b, err = reader.ReadByte(); err == nil {
			buf[n] = b
			n++
		}
	}
	samples := decodeS16LE(p, buf[:n-n%2])

	if err != nil {
		if d.stopped.Load() {
			return samples, nil
		}
		d.stopped.Store(true)
		if errors.Is(err, io.EOF) {
			return samples, fmt.Errorf("%s exited unexpectedly", recordCommand)
		}
		return samples, fmt.Errorf("reading from %s: %w", recordCommand, err)
	}
	return samples, nil
}

// decodeS16LE converts little-endian byte pairs into dst and returns the
// sample count
func decodeS16LE(dst []int16, src []byte) int {
	n := min(len(src)/2, len(dst))
	for i := 0; i < n; i++ {
		dst[i] = int16(binary.LittleEndian.Uint16(src[i*2:]))
	}
	return n
}

// RecordingState implements audio.Device
func (d *Device) RecordingState() audio.State {
	if d.stopped.Load() {
		return audio.StateStopped
	}
	return audio.StateRunning
}

// Stop implements audio.Device. It interrupts pw-record; Read notices once
// the pipe drains.
func (d *Device) Stop() error {
	d.stopOnce.Do(func() {
		d.stopped.Store(true)

		d.mu.Lock()
		cmd := d.cmd
		d.mu.Unlock()

		if cmd != nil && cmd.Process != nil {
			slog.Debug("Sending SIGINT to pw-record")
			if err := cmd.Process.Signal(os.Interrupt); err != nil {
				slog.Debug("Failed to interrupt pw-record", slog.Any("error", err))
			}
		}
	})
	return nil
}

// Release implements audio.Device. It waits for the subprocess and kills it
// when it does not exit in time.
func (d *Device) Release() error {
	d.Stop()

	var err error
	d.releaseOnce.Do(func() {
		d.mu.Lock()
		cmd := d.cmd
		d.mu.Unlock()
		if cmd == nil {
			return
		}

		done := make(chan error, 1)
		go func() {
			done <- cmd.Wait()
		}()

		select {
		case waitErr := <-done:
			var exitErr *exec.ExitError
			if waitErr != nil && !errors.As(waitErr, &exitErr) {
				err = fmt.Errorf("%s failed: %w", recordCommand, waitErr)
			}
		case <-time.After(stopTimeout):
			slog.Warn("pw-record did not exit within timeout, force killing")
			cmd.Process.Kill()
			<-done
		}
	})
	return err
}

// listPorts returns the output ports known to PipeWire
func listPorts() ([]string, error) {
	output, err := exec.Command(linkCommand, "-o").Output()
	if err != nil {
		return nil, fmt.Errorf("failed to list PipeWire ports: %w", err)
	}
	return parsePorts(string(output)), nil
}

// parsePorts extracts port names from pw-link output
func parsePorts(output string) []string {
	var ports []string
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if line != "" && !strings.HasPrefix(line, "Input ports:") && !strings.HasPrefix(line, "Output ports:") {
			ports = append(ports, line)
		}
	}
	return ports
}

// captureDevices groups capture ports by node, in first-seen order
func captureDevices(ports []string) []audio.DeviceInfo {
	var devices []audio.DeviceInfo
	index := make(map[string]int)
	for _, port := range ports {
		node, portName, ok := strings.Cut(port, ":")
		if !ok || !strings.HasPrefix(portName, "capture_") {
			continue
		}
		if i, seen := index[node]; seen {
			devices[i].MaxInputChannels++
			continue
		}
		index[node] = len(devices)
		devices = append(devices, audio.DeviceInfo{Name: node, MaxInputChannels: 1})
	}
	return devices
}

// findPortDuplicates returns every entry equal to portName
func findPortDuplicates(portName string, ports []string) []string {
	var duplicates []string
	for _, port := range ports {
		if port == portName {
			duplicates = append(duplicates, port)
		}
	}
	return duplicates
}

// validateTarget checks that target names exactly one capture node
func validateTarget(target string, ports []string) error {
	found := false
	for _, port := range ports {
		node, portName, ok := strings.Cut(port, ":")
		if !ok || node != target || !strings.HasPrefix(portName, "capture_") {
			continue
		}
		found = true
		if duplicates := findPortDuplicates(port, ports); len(duplicates) > 1 {
			return fmt.Errorf("duplicate capture nodes detected for '%s': %v. Please close conflicting applications", target, duplicates)
		}
	}
	if !found {
		return fmt.Errorf("capture node not found: %s", target)
	}
	return nil
}

// ListDevices returns the PipeWire nodes exposing capture ports
func ListDevices() ([]audio.DeviceInfo, error) {
	ports, err := listPorts()
	if err != nil {
		return nil, err
	}
	return captureDevices(ports), nil
}
