package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/audiolibrelab/echoid/internal/audio"
	"github.com/audiolibrelab/echoid/internal/audio/backend"
	"github.com/audiolibrelab/echoid/internal/codegen"
	"github.com/audiolibrelab/echoid/internal/codegen/echoprint"
	"github.com/audiolibrelab/echoid/internal/config"
	"github.com/audiolibrelab/echoid/internal/fingerprinter"
	"github.com/audiolibrelab/echoid/internal/history"
	"github.com/audiolibrelab/echoid/internal/recognition"
)

var (
	ErrAlreadyRunning   = errors.New("fingerprinting already running")
	ErrHistoryDisabled  = errors.New("history is disabled")
	ErrProfileWhileBusy = errors.New("cannot change profile while fingerprinting")
)

// Service represents the core echoid service interface
type Service interface {
	// Session operations
	Start(seconds int, continuous bool) error
	Stop()
	Wait()
	GetStatus() Status

	// Configuration operations
	LoadProfile(profile string) error
	GetConfig() *config.Config

	// History operations
	History(ctx context.Context, limit int) ([]history.Entry, error)

	GetLastError() string
	Close() error
}

// Status is a snapshot of the session and its latest outcome
type Status struct {
	State     fingerprinter.State       `json:"state"`
	Running   bool                      `json:"running"`
	Message   string                    `json:"message"`
	Session   fingerprinter.SessionInfo `json:"session"`
	LastCode  string                    `json:"last_code,omitempty"`
	LastMatch recognition.Match         `json:"last_match,omitempty"`
	LastError string                    `json:"last_error,omitempty"`
}

// Option customises service construction
type Option func(*options)

type options struct {
	source     audio.Source
	codec      codegen.Codec
	httpClient *http.Client
	listeners  []fingerprinter.Listener
}

// WithSource replaces the capture backend selected from the configuration
func WithSource(src audio.Source) Option {
	return func(o *options) { o.source = src }
}

// WithCodec replaces the native Echoprint codec
func WithCodec(c codegen.Codec) Option {
	return func(o *options) { o.codec = c }
}

// WithHTTPClient sets the client used for recognition requests
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.httpClient = c }
}

// WithListener adds a listener notified after the service's own bookkeeping
func WithListener(l fingerprinter.Listener) Option {
	return func(o *options) { o.listeners = append(o.listeners, l) }
}

// EchoIDService is the main service implementation
type EchoIDService struct {
	cfg        *config.Config
	configFile string
	opts       options

	fp      *fingerprinter.Fingerprinter
	store   *history.Store
	tracker *tracker

	mu sync.RWMutex
}

// New creates a new echoid service instance
func New(cfg *config.Config, configFile string, opts ...Option) (*EchoIDService, error) {
	s := &EchoIDService{
		configFile: configFile,
		tracker:    newTracker(),
	}
	for _, opt := range opts {
		opt(&s.opts)
	}

	fp, store, err := s.build(cfg)
	if err != nil {
		return nil, err
	}
	s.cfg, s.fp, s.store = cfg, fp, store
	return s, nil
}

// build wires capture, codec, recognition and history for cfg
func (s *EchoIDService) build(cfg *config.Config) (*fingerprinter.Fingerprinter, *history.Store, error) {
	source := s.opts.source
	if source == nil {
		var err error
		source, err = backend.NewSource(cfg)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to select audio backend: %w", err)
		}
	}

	codec := s.opts.codec
	if codec == nil {
		native, err := echoprint.New()
		if err != nil {
			return nil, nil, fmt.Errorf("failed to initialise codec: %w", err)
		}
		codec = native
	}

	client, err := recognition.New(recognition.Options{
		Endpoint:   cfg.Recognition.Endpoint,
		APIKey:     cfg.Recognition.APIKey,
		CodeParam:  cfg.Recognition.CodeParam,
		Params:     cfg.Recognition.Params,
		HTTPClient: s.opts.httpClient,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create recognition client: %w", err)
	}

	listeners := fingerprinter.Listeners{s.tracker}

	var store *history.Store
	if cfg.History.IsEnabled() {
		store, err = history.Open(cfg.History.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open history: %w", err)
		}
		listeners = append(listeners, history.NewRecorder(store))
	}
	listeners = append(listeners, s.opts.listeners...)

	fp, err := fingerprinter.New(fingerprinter.Options{
		Source:     source,
		Encoder:    codegen.NewGenerator(codec),
		Recognizer: client,
		Listener:   listeners,
		SampleRate: cfg.Audio.SampleRate,
		Channels:   cfg.Audio.Channels,
		Encoding:   audio.EncodingPCM16,
	})
	if err != nil {
		if store != nil {
			store.Close()
		}
		return nil, nil, fmt.Errorf("failed to create fingerprinter: %w", err)
	}

	slog.Debug("Service components ready",
		"backend", cfg.Audio.Backend,
		"device", cfg.Audio.Device,
		"endpoint", cfg.Recognition.Endpoint,
		"history", cfg.History.IsEnabled())

	return fp, store, nil
}

func (s *EchoIDService) session() *fingerprinter.Fingerprinter {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.fp
}

// Start begins fingerprinting. A zero duration uses the configured one.
func (s *EchoIDService) Start(seconds int, continuous bool) error {
	slog.Debug("Service.Start called", "seconds", seconds, "continuous", continuous)

	fp := s.session()
	if fp.Running() {
		return ErrAlreadyRunning
	}
	if seconds == 0 {
		seconds = s.GetConfig().Session.Seconds
	}

	s.tracker.clearLastError()
	// Another caller may have won the race since the check above
	if !fp.Start(seconds, continuous) {
		return ErrAlreadyRunning
	}
	return nil
}

// Stop asks the running session to finish
func (s *EchoIDService) Stop() {
	s.session().Stop()
}

// Wait blocks until the current run is over
func (s *EchoIDService) Wait() {
	s.session().Wait()
}

// GetStatus returns the current session state and the latest outcome
func (s *EchoIDService) GetStatus() Status {
	fp := s.session()
	status := s.tracker.snapshot()
	status.State = fp.State()
	status.Running = fp.Running()
	status.Session = fp.Info()
	return status
}

// LoadProfile loads a new configuration profile
func (s *EchoIDService) LoadProfile(profile string) error {
	if s.session().Running() {
		return ErrProfileWhileBusy
	}

	newCfg, err := config.LoadWithProfile(s.configFile, profile)
	if err != nil {
		return fmt.Errorf("failed to load profile '%s': %w", profile, err)
	}

	fp, store, err := s.build(newCfg)
	if err != nil {
		return err
	}

	s.mu.Lock()
	oldFP, oldStore := s.fp, s.store
	s.cfg, s.fp, s.store = newCfg, fp, store
	s.mu.Unlock()

	// Clean up old session
	if err := closeSession(oldFP, oldStore); err != nil {
		slog.Warn("Failed to close previous session", slog.Any("error", err))
	}

	slog.Info("Profile loaded", "profile", profile)
	return nil
}

// GetConfig returns the current configuration
func (s *EchoIDService) GetConfig() *config.Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// History returns the most recent outcomes
func (s *EchoIDService) History(ctx context.Context, limit int) ([]history.Entry, error) {
	s.mu.RLock()
	store := s.store
	s.mu.RUnlock()

	if store == nil {
		return nil, ErrHistoryDisabled
	}
	return store.Recent(ctx, limit)
}

// GetLastError returns the last error message (thread-safe)
func (s *EchoIDService) GetLastError() string {
	return s.tracker.lastError()
}

func closeSession(fp *fingerprinter.Fingerprinter, store *history.Store) error {
	fp.Close()
	if store != nil {
		return store.Close()
	}
	return nil
}

// Close stops any run and releases the history database. The service must
// not be used afterwards.
func (s *EchoIDService) Close() error {
	s.mu.RLock()
	fp, store := s.fp, s.store
	s.mu.RUnlock()
	return closeSession(fp, store)
}
