// Package fingerprinter runs capture, code generation and recognition passes
// on a background worker and reports progress to a Listener.
package fingerprinter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mdobak/go-xerrors"

	"github.com/audiolibrelab/echoid/internal/audio"
	"github.com/audiolibrelab/echoid/internal/codegen"
	"github.com/audiolibrelab/echoid/internal/recognition"
)

// State represents the current state of the session
type State string

const (
	StateIdle       State = "IDLE"
	StateStarting   State = "STARTING"
	StatePassActive State = "PASS_ACTIVE"
	StateStopping   State = "STOPPING"
)

// Recording duration bounds, in seconds
const (
	MinSeconds     = 10
	MaxSeconds     = 30
	DefaultSeconds = 20
)

// maxConsecutiveReadErrors ends a continuous run whose device keeps failing
const maxConsecutiveReadErrors = 3

// ErrDeviceAcquisition reports that the capture device could not be opened
// or started. It ends the run.
var ErrDeviceAcquisition = errors.New("capture device acquisition failed")

// Encoder turns the first n captured samples into a fingerprint code
type Encoder interface {
	GenerateInt16(pcm []int16, n int) (string, error)
}

// Recognizer looks up a fingerprint code
type Recognizer interface {
	Identify(ctx context.Context, code string) (recognition.Result, error)
}

// Options configures a Fingerprinter
type Options struct {
	Source     audio.Source
	Encoder    Encoder
	Recognizer Recognizer
	Listener   Listener

	// Executor delivers callbacks. Defaults to a Loop owned by the
	// Fingerprinter and closed by Close.
	Executor Executor

	SampleRate int
	Channels   int
	Encoding   audio.Encoding
}

// SessionInfo describes the current run
type SessionInfo struct {
	State      State     `json:"state"`
	Seconds    int       `json:"seconds,omitempty"`
	Continuous bool      `json:"continuous"`
	Passes     int       `json:"passes"`
	StartTime  time.Time `json:"start_time"`
}

// Fingerprinter is a single fingerprinting session. At most one worker runs
// at a time; Start and Stop never block.
type Fingerprinter struct {
	source     audio.Source
	encoder    Encoder
	recognizer Recognizer
	listener   Listener
	executor   Executor
	ownLoop    *Loop

	sampleRate int
	channels   int
	encoding   audio.Encoding

	running    atomic.Bool
	continuous atomic.Bool

	mu            sync.Mutex
	state         State
	device        audio.Device
	stopRequested bool
	done          chan struct{}
	info          SessionInfo
}

// New returns an idle Fingerprinter
func New(opts Options) (*Fingerprinter, error) {
	if opts.Source == nil {
		return nil, fmt.Errorf("capture source is required")
	}
	if opts.Encoder == nil {
		return nil, fmt.Errorf("encoder is required")
	}
	if opts.Recognizer == nil {
		return nil, fmt.Errorf("recognizer is required")
	}

	f := &Fingerprinter{
		source:     opts.Source,
		encoder:    opts.Encoder,
		recognizer: opts.Recognizer,
		listener:   opts.Listener,
		executor:   opts.Executor,
		sampleRate: opts.SampleRate,
		channels:   opts.Channels,
		encoding:   opts.Encoding,
		state:      StateIdle,
	}
	if f.listener == nil {
		f.listener = NopListener{}
	}
	if f.executor == nil {
		f.ownLoop = NewLoop(64)
		f.executor = f.ownLoop
	}
	if f.sampleRate == 0 {
		f.sampleRate = audio.DefaultSampleRate
	}
	if f.channels == 0 {
		f.channels = audio.DefaultChannels
	}
	if f.encoding == "" {
		f.encoding = audio.DefaultEncoding
	}
	if err := audio.ValidateFormat(f.sampleRate, f.channels, f.encoding); err != nil {
		return nil, err
	}
	if err := codegen.CheckFormat(f.sampleRate, f.channels); err != nil {
		return nil, err
	}

	return f, nil
}

// ClampSeconds limits a requested duration to [MinSeconds, MaxSeconds]
func ClampSeconds(seconds int) int {
	return min(max(seconds, MinSeconds), MaxSeconds)
}

// Fingerprint runs a single pass of DefaultSeconds
func (f *Fingerprinter) Fingerprint() {
	f.Start(DefaultSeconds, false)
}

// FingerprintFor runs a single pass of the given duration
func (f *Fingerprinter) FingerprintFor(seconds int) {
	f.Start(seconds, false)
}

// Start launches the worker and returns immediately. It reports false, and
// does nothing, when a run is already in progress.
func (f *Fingerprinter) Start(seconds int, continuous bool) bool {
	seconds = ClampSeconds(seconds)

	f.mu.Lock()
	if !f.running.CompareAndSwap(false, true) {
		f.mu.Unlock()
		slog.Debug("Fingerprinter already running, start ignored")
		return false
	}
	f.continuous.Store(continuous)

	done := make(chan struct{})
	f.state = StateStarting
	f.stopRequested = false
	f.done = done
	f.info = SessionInfo{Seconds: seconds, Continuous: continuous, StartTime: time.Now()}
	f.mu.Unlock()

	slog.Info("Fingerprinting started", "seconds", seconds, "continuous", continuous)

	go f.run(seconds, continuous, done)
	return true
}

// Stop asks the worker to finish. The pass in progress still delivers its
// callbacks. Safe to call at any time, any number of times.
func (f *Fingerprinter) Stop() {
	f.continuous.Store(false)

	f.mu.Lock()
	if !f.running.Load() || f.stopRequested {
		f.mu.Unlock()
		return
	}
	f.stopRequested = true
	f.state = StateStopping
	dev := f.device
	f.mu.Unlock()

	slog.Debug("Fingerprinter stop requested")

	if dev != nil {
		if err := dev.Stop(); err != nil {
			slog.Warn("Failed to stop capture device", slog.Any("error", err))
		}
	}
}

// Running reports whether a run is in progress
func (f *Fingerprinter) Running() bool {
	return f.running.Load()
}

// State returns the current session state
func (f *Fingerprinter) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Info returns a snapshot of the current or last run
func (f *Fingerprinter) Info() SessionInfo {
	f.mu.Lock()
	defer f.mu.Unlock()
	info := f.info
	info.State = f.state
	return info
}

// Wait blocks until the current run has delivered DidFinishListening. It
// returns immediately when no run was ever started. Do not call it from a
// listener callback.
func (f *Fingerprinter) Wait() {
	f.mu.Lock()
	done := f.done
	f.mu.Unlock()
	if done != nil {
		<-done
	}
}

// Close stops any run, waits for it and shuts down the default executor
func (f *Fingerprinter) Close() {
	f.Stop()
	f.Wait()
	if f.ownLoop != nil {
		f.ownLoop.Close()
	}
}

func (f *Fingerprinter) setState(s State) {
	f.mu.Lock()
	// Stopping sticks until the worker exits
	if f.state != StateStopping {
		f.state = s
	}
	f.mu.Unlock()
}

func (f *Fingerprinter) post(fn func(l Listener)) {
	l := f.listener
	f.executor.Post(func() { fn(l) })
}

func (f *Fingerprinter) fail(err error) {
	err = xerrors.New(err)
	slog.Error("Fingerprinting failed", slog.Any("error", err))
	f.post(func(l Listener) { l.DidFailWithError(err) })
}

// attach publishes the acquired device so Stop can reach it. A stop that
// arrived while the device was being opened is applied now.
func (f *Fingerprinter) attach(dev audio.Device) {
	f.mu.Lock()
	f.device = dev
	stop := f.stopRequested
	f.mu.Unlock()

	if stop {
		if err := dev.Stop(); err != nil {
			slog.Debug("Capture device stop failed", slog.Any("error", err))
		}
	}
}

func (f *Fingerprinter) run(seconds int, continuous bool, done chan struct{}) {
	dev, size, err := f.acquire(seconds)
	if err != nil {
		f.fail(fmt.Errorf("%w: %v", ErrDeviceAcquisition, err))
		f.finish(nil, done)
		return
	}
	f.attach(dev)

	f.post(func(l Listener) { l.WillStartListening() })

	if err := dev.Start(); err != nil {
		f.fail(fmt.Errorf("%w: %v", ErrDeviceAcquisition, err))
		f.finish(dev, done)
		return
	}

	buf := audio.NewCaptureBuffer(size)
	readErrors := 0

	for pass := 1; ; pass++ {
		f.setState(StatePassActive)
		f.mu.Lock()
		f.info.Passes = pass
		f.mu.Unlock()

		f.post(func(l Listener) { l.WillStartListeningPass() })

		n, err := buf.Fill(dev)
		if errors.Is(err, audio.ErrCaptureTruncated) {
			slog.Debug("Capture stopped before buffer was full", "pass", pass, "samples", n, "buffer_size", size)
			break
		}

		if err != nil {
			readErrors++
			f.fail(err)
		} else {
			readErrors = 0
			f.recognize(buf)
		}

		f.post(func(l Listener) { l.DidFinishListeningPass() })

		if !continuous || !f.continuous.Load() {
			break
		}
		if readErrors >= maxConsecutiveReadErrors || dev.RecordingState() == audio.StateStopped {
			slog.Warn("Capture device unusable, ending run", "read_errors", readErrors)
			break
		}
	}

	f.finish(dev, done)
}

// acquire sizes the buffer and opens the device
func (f *Fingerprinter) acquire(seconds int) (audio.Device, int, error) {
	minSize, err := f.source.MinBufferSize(f.sampleRate, f.channels, f.encoding)
	if err != nil {
		return nil, 0, fmt.Errorf("querying minimum buffer size: %w", err)
	}
	size := audio.BufferSize(minSize, f.sampleRate*f.channels, seconds)

	dev, err := f.source.Open(f.sampleRate, f.channels, f.encoding, size)
	if err != nil {
		return nil, 0, err
	}

	slog.Debug("Capture device acquired", "sample_rate", f.sampleRate, "channels", f.channels, "buffer_size", size, "min_buffer_size", minSize)
	return dev, size, nil
}

// recognize encodes the captured samples and looks the code up. Exactly one
// of match, no match or failure is posted unless the codec found no signal.
func (f *Fingerprinter) recognize(buf *audio.CaptureBuffer) {
	code, err := f.encoder.GenerateInt16(buf.Samples(), buf.Len())
	if errors.Is(err, codegen.ErrInsufficientSignal) || (err == nil && code == "") {
		slog.Debug("No fingerprint code generated, not enough signal", "samples", buf.Len())
		return
	}
	if err != nil {
		f.fail(err)
		return
	}

	f.post(func(l Listener) { l.DidGenerateFingerprintCode(code) })

	// In-flight lookups are allowed to finish after Stop
	res, err := f.recognizer.Identify(context.Background(), code)
	switch {
	case err != nil:
		f.fail(err)
	case res.Found:
		match := res.Match
		slog.Info("Match found", "artist", match.Artist(), "title", match.Title())
		f.post(func(l Listener) { l.DidFindMatchForCode(match, code) })
	default:
		slog.Info("No match found", "code_length", len(code))
		f.post(func(l Listener) { l.DidNotFindMatchForCode(code) })
	}
}

// finish releases the device and posts DidFinishListening. The session only
// becomes idle inside that task, so a new run's callbacks always follow it
// while a Start made from DidFinishListening is still accepted.
func (f *Fingerprinter) finish(dev audio.Device, done chan struct{}) {
	f.mu.Lock()
	f.state = StateStopping
	f.mu.Unlock()

	if dev != nil {
		if err := dev.Stop(); err != nil {
			slog.Debug("Capture device stop failed", slog.Any("error", err))
		}
		if err := dev.Release(); err != nil {
			slog.Warn("Failed to release capture device", slog.Any("error", err))
		}
	}

	f.mu.Lock()
	f.device = nil
	f.mu.Unlock()

	slog.Info("Fingerprinting finished")

	f.post(func(l Listener) {
		f.mu.Lock()
		f.state = StateIdle
		f.running.Store(false)
		f.mu.Unlock()

		l.DidFinishListening()
		close(done)
	})
}
