package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"sort"
	"strconv"

	"github.com/audiolibrelab/echoid/internal/config"
	"github.com/audiolibrelab/echoid/internal/service"
)

// defaultHistoryLimit is used when /history has no limit parameter
const defaultHistoryLimit = 20

// Server represents the web server for remote control of echoid
type Server struct {
	service    service.Service
	hub        *Hub
	configFile string
	addr       string
}

// StatusResponse represents the JSON response for status endpoint
type StatusResponse struct {
	service.Status
	ActiveProfile string              `json:"active_profile"`
	Config        *ResolvedConfigInfo `json:"resolved_config"`
}

// ResolvedConfigInfo contains configuration information for the UI
type ResolvedConfigInfo struct {
	Backend    string `json:"backend"`
	Device     string `json:"device"`
	SampleRate int    `json:"sample_rate"`
	Channels   int    `json:"channels"`
	Seconds    int    `json:"seconds"`
	Continuous bool   `json:"continuous"`
	Endpoint   string `json:"endpoint"`
	History    bool   `json:"history"`
}

// New creates a new web server instance. The session callbacks of the
// created service are broadcast on /events.
func New(configFile string, addr string, opts ...service.Option) (*Server, error) {
	// Load configuration with active profile from config file
	cfg, err := config.LoadWithProfile(configFile, "")
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if addr == "" {
		addr = cfg.Server.Addr
	}

	hub := NewHub()
	opts = append(opts, service.WithListener(hub))

	svc, err := service.New(cfg, configFile, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create service: %w", err)
	}

	return &Server{
		service:    svc,
		hub:        hub,
		configFile: configFile,
		addr:       addr,
	}, nil
}

// Handler returns the HTTP routes
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/start", s.handleStart)
	mux.HandleFunc("/stop", s.handleStop)
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/history", s.handleHistory)
	mux.HandleFunc("/config/profiles", s.handleProfiles)
	mux.HandleFunc("/config/select", s.handleSelectProfile)
	mux.HandleFunc("/config/active", s.handleActiveProfile)
	mux.HandleFunc("/events", s.handleEvents)
	return mux
}

// Start starts the web server
func (s *Server) Start() error {
	host, port, err := net.SplitHostPort(s.addr)
	if err != nil {
		return fmt.Errorf("invalid listen address %q: %w", s.addr, err)
	}
	if host == "" || host == "0.0.0.0" {
		host = getLocalIP()
	}

	slog.Info("Starting echoid web server",
		"addr", s.addr,
		"url", fmt.Sprintf("http://%s:%s", host, port))

	return http.ListenAndServe(s.addr, s.Handler())
}

// Close stops any run, disconnects event clients and releases the service
func (s *Server) Close() error {
	s.hub.Close()
	return s.service.Close()
}

// handleIndex serves a minimal control page
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Write([]byte(indexHTML))
}

const indexHTML = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>echoid</title>
</head>
<body>
    <h1>echoid</h1>
    <button onclick="fetch('/start', {method: 'POST'})">Start</button>
    <button onclick="fetch('/stop', {method: 'POST'})">Stop</button>
    <pre id="status">Idle...</pre>
    <script>
        const ws = new WebSocket((location.protocol === 'https:' ? 'wss://' : 'ws://') + location.host + '/events');
        ws.onmessage = (m) => {
            const e = JSON.parse(m.data);
            if (e.message) document.getElementById('status').textContent = e.message;
        };
    </script>
</body>
</html>`

func methodNotAllowed(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusMethodNotAllowed)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success": false,
		"error":   "Method not allowed",
	})
}

// handleStart starts a fingerprinting run. Form values: seconds, continuous.
func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}

	// Parse form data
	if err := r.ParseForm(); err != nil {
		s.sendErrorResponse(w, http.StatusBadRequest, "Failed to parse form")
		return
	}

	cfg := s.service.GetConfig()
	seconds := 0
	if v := r.FormValue("seconds"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			s.sendErrorResponse(w, http.StatusBadRequest,
				fmt.Sprintf("Invalid seconds value: %s", v), "operation", "start")
			return
		}
		seconds = n
	}
	continuous := cfg.Session.Continuous
	if v := r.FormValue("continuous"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			s.sendErrorResponse(w, http.StatusBadRequest,
				fmt.Sprintf("Invalid continuous value: %s", v), "operation", "start")
			return
		}
		continuous = b
	}

	slog.Debug("Start request", "seconds", seconds, "continuous", continuous)

	if err := s.service.Start(seconds, continuous); err != nil {
		code := http.StatusInternalServerError
		if errors.Is(err, service.ErrAlreadyRunning) {
			code = http.StatusConflict
		}
		s.sendErrorResponse(w, code, fmt.Sprintf("Failed to start: %v", err), "operation", "start")
		return
	}

	status := s.service.GetStatus()
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success":    true,
		"message":    "Fingerprinting started",
		"seconds":    status.Session.Seconds,
		"continuous": status.Session.Continuous,
	})
}

// handleStop asks the running session to finish
func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}

	s.service.Stop()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success": true,
		"message": "Stop requested",
	})
}

// handleStatus returns the current status and session info
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}

	response := StatusResponse{
		Status:        s.service.GetStatus(),
		ActiveProfile: getActiveProfileName(s.configFile),
		Config:        s.getResolvedConfigInfo(),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

// handleHistory returns the most recent outcomes. Query: limit.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}

	limit := defaultHistoryLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			s.sendErrorResponse(w, http.StatusBadRequest, fmt.Sprintf("Invalid limit: %s", v))
			return
		}
		limit = n
	}

	entries, err := s.service.History(r.Context(), limit)
	if errors.Is(err, service.ErrHistoryDisabled) {
		s.sendErrorResponse(w, http.StatusNotFound, "History is disabled")
		return
	}
	if err != nil {
		s.sendErrorResponse(w, http.StatusInternalServerError,
			fmt.Sprintf("Failed to read history: %v", err), "operation", "history")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"entries":     entries,
		"total_count": len(entries),
	})
}

// handleProfiles returns available configuration profiles
func (s *Server) handleProfiles(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}

	profiles := s.getAvailableProfiles()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"profiles": profiles,
	})
}

// handleSelectProfile switches the service to another profile and stores it
// as active_config
func (s *Server) handleSelectProfile(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}

	if err := r.ParseForm(); err != nil {
		s.sendErrorResponse(w, http.StatusBadRequest, "Failed to parse form")
		return
	}

	profile := r.FormValue("profile")
	if profile == "" {
		s.sendErrorResponse(w, http.StatusBadRequest, "Profile is required")
		return
	}
	slog.Debug("Profile selection request", "profile", profile)

	if err := s.service.LoadProfile(profile); err != nil {
		code := http.StatusBadRequest
		if errors.Is(err, service.ErrProfileWhileBusy) {
			code = http.StatusConflict
		}
		s.sendErrorResponse(w, code, err.Error(), "profile", profile, "operation", "profile_selection")
		return
	}

	// Update the active_config in the config file
	if err := config.UpdateActiveConfig(s.configFile, profile); err != nil {
		s.sendErrorResponse(w, http.StatusInternalServerError,
			fmt.Sprintf("Failed to save profile selection to config file: %v", err),
			"profile", profile)
		return
	}

	slog.Info("Profile changed", "profile", profile)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success": true,
		"message": fmt.Sprintf("Profile changed to %s", profile),
		"profile": profile,
	})
}

// handleActiveProfile returns the currently active profile
func (s *Server) handleActiveProfile(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"active_profile": getActiveProfileName(s.configFile),
		"success":        true,
	})
}

// handleEvents streams session callbacks over a websocket
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	status := s.service.GetStatus()
	s.hub.ServeWS(w, r, Event{
		Message: status.Message,
		Code:    status.LastCode,
		Match:   status.LastMatch,
		Error:   status.LastError,
	})
}

// getResolvedConfigInfo builds configuration information for the UI
func (s *Server) getResolvedConfigInfo() *ResolvedConfigInfo {
	cfg := s.service.GetConfig()
	return &ResolvedConfigInfo{
		Backend:    cfg.Audio.Backend,
		Device:     cfg.Audio.Device,
		SampleRate: cfg.Audio.SampleRate,
		Channels:   cfg.Audio.Channels,
		Seconds:    cfg.Session.Seconds,
		Continuous: cfg.Session.Continuous,
		Endpoint:   cfg.Recognition.Endpoint,
		History:    cfg.History.IsEnabled(),
	}
}

func (s *Server) getAvailableProfiles() []string {
	profiles := []string{}

	if s.configFile != "" {
		if _, err := os.Stat(s.configFile); err == nil {
			rootConfig, err := config.ValidateConfigurationFormat(s.configFile)
			if err == nil {
				for profileName := range rootConfig.Configs {
					profiles = append(profiles, profileName)
				}
			} else {
				slog.Debug("Failed to read config file for profiles", slog.Any("error", err))
			}
		}
	}
	sort.Strings(profiles)

	slog.Debug("Available profiles loaded", "profiles", profiles, "config_file", s.configFile)
	return profiles
}

func getActiveProfileName(configFile string) string {
	if configFile == "" {
		return ""
	}
	if _, err := os.Stat(configFile); err != nil {
		return "default"
	}

	rootConfig, err := config.ValidateConfigurationFormat(configFile)
	if err != nil {
		slog.Warn("Failed to read config file for active profile", slog.Any("error", err))
		return ""
	}
	if rootConfig.ActiveConfig == "" {
		return "default"
	}
	return rootConfig.ActiveConfig
}

// sendErrorResponse logs the error and sends a JSON error response to the client
func (s *Server) sendErrorResponse(w http.ResponseWriter, statusCode int, errorMsg string, logContext ...interface{}) {
	// Log the error with structured context
	logFields := []interface{}{"error_message", errorMsg, "status_code", statusCode}
	if len(logContext) > 0 {
		logFields = append(logFields, logContext...)
	}
	slog.Error("Sending error response to client", logFields...)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success": false,
		"error":   errorMsg,
	})
}

func getLocalIP() string {
	// Try to connect to a remote address to determine local IP
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "localhost"
	}
	defer conn.Close()

	localAddr := conn.LocalAddr().(*net.UDPAddr)
	return localAddr.IP.String()
}
