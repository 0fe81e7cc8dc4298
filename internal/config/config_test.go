package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestMergeConfigs_SelectionAndFallback(t *testing.T) {
	base := &Config{
		Audio: AudioConfig{
			Backend:    "portaudio",
			Device:     "USB Mic",
			SampleRate: 11025,
			Channels:   1,
		},
		Session: SessionConfig{Seconds: 20, Continuous: true},
		Recognition: RecognitionConfig{
			Endpoint:  "http://base.example/identify",
			APIKey:    "base-key",
			CodeParam: "code",
			Params:    map[string]string{"version": "4.12"},
		},
		History: HistoryConfig{Path: "/base/history.db"},
		Server:  ServerConfig{Addr: "127.0.0.1:1"},
	}

	profile := &Config{
		Audio:   AudioConfig{Backend: "malgo"},
		Session: SessionConfig{Seconds: 12},
		Recognition: RecognitionConfig{
			Endpoint: "http://profile.example/identify",
			Params:   map[string]string{"bucket": "audio_summary"},
		},
	}

	result := mergeConfigs(base, profile)

	if result.Audio.Backend != "malgo" {
		t.Errorf("Expected backend 'malgo', got %s", result.Audio.Backend)
	}
	if result.Audio.Device != "USB Mic" {
		t.Errorf("Expected inherited device 'USB Mic', got %s", result.Audio.Device)
	}
	if result.Audio.SampleRate != 11025 {
		t.Errorf("Expected inherited sample rate 11025, got %d", result.Audio.SampleRate)
	}
	if result.Session.Seconds != 12 {
		t.Errorf("Expected seconds 12, got %d", result.Session.Seconds)
	}
	// Continuous always comes from the profile
	if result.Session.Continuous {
		t.Error("Expected continuous false from profile")
	}
	if result.Recognition.Endpoint != "http://profile.example/identify" {
		t.Errorf("Expected profile endpoint, got %s", result.Recognition.Endpoint)
	}
	if result.Recognition.APIKey != "base-key" {
		t.Errorf("Expected inherited api key, got %s", result.Recognition.APIKey)
	}
	if result.Recognition.Params["version"] != "4.12" || result.Recognition.Params["bucket"] != "audio_summary" {
		t.Errorf("Expected merged params, got %v", result.Recognition.Params)
	}
	if result.History.Path != "/base/history.db" {
		t.Errorf("Expected inherited history path, got %s", result.History.Path)
	}

	if result.Inheritance.Audio.Backend != "profile-specific" {
		t.Errorf("Expected backend profile-specific, got %s", result.Inheritance.Audio.Backend)
	}
	if result.Inheritance.Audio.Device != "inherited" {
		t.Errorf("Expected device inherited, got %s", result.Inheritance.Audio.Device)
	}
	if result.Inheritance.Recognition.APIKey != "inherited" {
		t.Errorf("Expected api key inherited, got %s", result.Inheritance.Recognition.APIKey)
	}

	// The base params map must not be modified by the merge
	if _, ok := base.Recognition.Params["bucket"]; ok {
		t.Error("Expected base params to be left untouched")
	}
}

func TestMergeConfigs_EmptyProfile(t *testing.T) {
	base := Default()
	result := mergeConfigs(base, &Config{})

	if result.Audio.SampleRate != 11025 || result.Audio.Channels != 1 {
		t.Errorf("Expected default audio settings, got %+v", result.Audio)
	}
	if result.Recognition.Endpoint != DefaultEndpoint {
		t.Errorf("Expected default endpoint, got %s", result.Recognition.Endpoint)
	}
	if !result.History.IsEnabled() {
		t.Error("Expected history enabled by default")
	}
}

func TestMergeConfigs_HistoryDisabled(t *testing.T) {
	disabled := false
	result := mergeConfigs(Default(), &Config{History: HistoryConfig{Enabled: &disabled}})

	if result.History.IsEnabled() {
		t.Error("Expected history disabled by profile")
	}
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}

	if got := expandPath("~/echoid/history.db"); got != filepath.Join(home, "echoid", "history.db") {
		t.Errorf("Expected expanded path, got %s", got)
	}
	if got := expandPath("/var/lib/echoid.db"); got != "/var/lib/echoid.db" {
		t.Errorf("Expected absolute path unchanged, got %s", got)
	}
}

func TestLoadWithProfile_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadWithProfile(filepath.Join(t.TempDir(), "absent.yaml"), "")
	if err != nil {
		t.Fatalf("Expected defaults for missing file, got: %v", err)
	}

	if cfg.Session.Seconds != DefaultSeconds {
		t.Errorf("Expected %d seconds, got %d", DefaultSeconds, cfg.Session.Seconds)
	}
	if cfg.Recognition.CodeParam != "code" {
		t.Errorf("Expected code param 'code', got %s", cfg.Recognition.CodeParam)
	}
	if strings.HasPrefix(cfg.History.Path, "~") {
		t.Errorf("Expected expanded history path, got %s", cfg.History.Path)
	}
}

func TestLoadWithProfile_MissingFileUnknownProfile(t *testing.T) {
	_, err := LoadWithProfile(filepath.Join(t.TempDir(), "absent.yaml"), "studio")
	if err == nil {
		t.Fatal("Expected error for profile without config file")
	}
	if !strings.Contains(err.Error(), "'studio' not found") {
		t.Errorf("Expected profile not found error, got: %v", err)
	}
}

func TestLoadWithProfile_NoConfigFile(t *testing.T) {
	if _, err := LoadWithProfile("", ""); err == nil {
		t.Error("Expected error for empty config file")
	}
}

func TestLoadWithProfile_ActiveConfigAndDefaultFallback(t *testing.T) {
	configFile := createTempConfig(t, `
active_config: car
configs:
    default:
        audio:
            backend: portaudio
            device: "Built-in Microphone"
        recognition:
            api_key: default-key
    car:
        session:
            seconds: 15
            continuous: true
        audio:
            backend: malgo
`)

	cfg, err := LoadWithProfile(configFile, "")
	if err != nil {
		t.Fatalf("Failed to load configuration: %v", err)
	}

	if cfg.Audio.Backend != "malgo" {
		t.Errorf("Expected backend 'malgo' from active profile, got %s", cfg.Audio.Backend)
	}
	if cfg.Audio.Device != "Built-in Microphone" {
		t.Errorf("Expected device from default profile, got %s", cfg.Audio.Device)
	}
	if cfg.Recognition.APIKey != "default-key" {
		t.Errorf("Expected api key from default profile, got %s", cfg.Recognition.APIKey)
	}
	if cfg.Session.Seconds != 15 || !cfg.Session.Continuous {
		t.Errorf("Expected continuous 15s session, got %+v", cfg.Session)
	}
	if cfg.Audio.SampleRate != 11025 {
		t.Errorf("Expected built-in sample rate, got %d", cfg.Audio.SampleRate)
	}
}

func TestLoadWithProfile_ExplicitProfileWinsOverActive(t *testing.T) {
	configFile := createTempConfig(t, `
active_config: car
configs:
    car:
        session:
            seconds: 15
    desk:
        session:
            seconds: 25
`)

	cfg, err := LoadWithProfile(configFile, "desk")
	if err != nil {
		t.Fatalf("Failed to load configuration: %v", err)
	}
	if cfg.Session.Seconds != 25 {
		t.Errorf("Expected 25 seconds from desk profile, got %d", cfg.Session.Seconds)
	}
}

func TestLoadWithProfile_UnknownProfile(t *testing.T) {
	configFile := createTempConfig(t, `
configs:
    default:
        session:
            seconds: 15
`)

	_, err := LoadWithProfile(configFile, "nope")
	if err == nil {
		t.Fatal("Expected error for unknown profile")
	}
	if !strings.Contains(err.Error(), "'nope' not found") {
		t.Errorf("Expected profile not found error, got: %v", err)
	}
}

func TestGlobalsOverrideProfile(t *testing.T) {
	configFile := createTempConfig(t, `
active_config: test
globals:
    recognition:
        api_key: global-key
    history:
        path: /global/history.db
configs:
    test:
        recognition:
            api_key: profile-key
        history:
            path: /profile/history.db
`)

	cfg, err := LoadWithProfile(configFile, "test")
	if err != nil {
		t.Fatalf("Failed to load configuration: %v", err)
	}

	if cfg.Recognition.APIKey != "global-key" {
		t.Errorf("Expected api key from globals, got '%s'", cfg.Recognition.APIKey)
	}
	if cfg.History.Path != "/global/history.db" {
		t.Errorf("Expected history path from globals, got '%s'", cfg.History.Path)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("ECHOID_API_KEY", "env-key")
	t.Setenv("ECHOID_ENDPOINT", "https://env.example/identify")
	t.Setenv("ECHOID_BACKEND", "malgo")

	configFile := createTempConfig(t, `
configs:
    default:
        recognition:
            api_key: file-key
`)

	cfg, err := LoadWithProfile(configFile, "")
	if err != nil {
		t.Fatalf("Failed to load configuration: %v", err)
	}

	if cfg.Recognition.APIKey != "env-key" {
		t.Errorf("Expected api key from environment, got %s", cfg.Recognition.APIKey)
	}
	if cfg.Recognition.Endpoint != "https://env.example/identify" {
		t.Errorf("Expected endpoint from environment, got %s", cfg.Recognition.Endpoint)
	}
	if cfg.Audio.Backend != "malgo" {
		t.Errorf("Expected backend from environment, got %s", cfg.Audio.Backend)
	}
}

func TestUpdateActiveConfig(t *testing.T) {
	configFile := createTempConfig(t, `
active_config: default
configs:
    default:
        session:
            seconds: 15
    car:
        session:
            seconds: 30
`)

	if err := UpdateActiveConfig(configFile, "car"); err != nil {
		t.Fatalf("Failed to update active config: %v", err)
	}

	cfg, err := LoadWithProfile(configFile, "")
	if err != nil {
		t.Fatalf("Failed to load configuration: %v", err)
	}
	if cfg.Session.Seconds != 30 {
		t.Errorf("Expected car profile to be active, got %d seconds", cfg.Session.Seconds)
	}

	if err := UpdateActiveConfig(configFile, "missing"); err == nil {
		t.Error("Expected error when activating an undefined profile")
	}
}
