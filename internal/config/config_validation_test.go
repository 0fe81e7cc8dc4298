package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestValidateConfigurationFormat_ValidConfig(t *testing.T) {
	configFile := createTempConfig(t, `
active_config: default
globals:
    recognition:
        api_key: abc
configs:
    default:
        audio:
            backend: auto
            sample_rate: 11025
            channels: 1
        session:
            seconds: 20
        recognition:
            endpoint: http://api.mooma.sh/v1/song/identify
            code_param: code
            params:
                version: "4.12"
    loop:
        session:
            continuous: true
`)

	rootConfig, err := ValidateConfigurationFormat(configFile)
	if err != nil {
		t.Fatalf("Expected valid config, got error: %v", err)
	}

	if rootConfig.ActiveConfig != "default" {
		t.Errorf("Expected active_config 'default', got %s", rootConfig.ActiveConfig)
	}
	if len(rootConfig.Configs) != 2 {
		t.Errorf("Expected 2 configs, got %d", len(rootConfig.Configs))
	}
	if rootConfig.Globals == nil || rootConfig.Globals.Recognition.APIKey != "abc" {
		t.Errorf("Expected global api key, got %+v", rootConfig.Globals)
	}
	if got := rootConfig.Configs["default"].Recognition.Params["version"]; got != "4.12" {
		t.Errorf("Expected version param '4.12', got %s", got)
	}
	if !rootConfig.Configs["loop"].Session.Continuous {
		t.Error("Expected loop profile to be continuous")
	}
}

func TestValidateConfigurationFormat_InvalidProfiles(t *testing.T) {
	testCases := []struct {
		name        string
		profile     string
		expectedErr string
	}{
		{
			name: "unknown backend",
			profile: `
        audio:
            backend: jack`,
			expectedErr: "audio.backend must be",
		},
		{
			name: "negative sample rate",
			profile: `
        audio:
            sample_rate: -1`,
			expectedErr: "audio.sample_rate must be 11025",
		},
		{
			name: "non-codec sample rate",
			profile: `
        audio:
            sample_rate: 44100`,
			expectedErr: "audio.sample_rate must be 11025",
		},
		{
			name: "stereo",
			profile: `
        audio:
            channels: 2`,
			expectedErr: "audio.channels must be 1",
		},
		{
			name: "too many channels",
			profile: `
        audio:
            channels: 6`,
			expectedErr: "audio.channels must be 1",
		},
		{
			name: "negative seconds",
			profile: `
        session:
            seconds: -5`,
			expectedErr: "session.seconds must be >= 0",
		},
		{
			name: "endpoint scheme",
			profile: `
        recognition:
            endpoint: ftp://example.com/identify`,
			expectedErr: "must use http or https",
		},
		{
			name: "endpoint host",
			profile: `
        recognition:
            endpoint: "http:///identify"`,
			expectedErr: "must include a host",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			configFile := createTempConfig(t, "configs:\n    broken:"+tc.profile+"\n")

			_, err := ValidateConfigurationFormat(configFile)
			if err == nil {
				t.Fatalf("Expected error containing '%s'", tc.expectedErr)
			}
			if !strings.Contains(err.Error(), "invalid config 'broken'") {
				t.Errorf("Expected error to name the profile, got: %v", err)
			}
			if !strings.Contains(err.Error(), tc.expectedErr) {
				t.Errorf("Expected error containing '%s', got: %v", tc.expectedErr, err)
			}
		})
	}
}

func TestValidateConfigurationFormat_UndefinedActiveConfig(t *testing.T) {
	configFile := createTempConfig(t, `
active_config: ghost
configs:
    default:
        session:
            seconds: 10
`)

	_, err := ValidateConfigurationFormat(configFile)
	if err == nil {
		t.Fatal("Expected error for undefined active_config")
	}
	if !strings.Contains(err.Error(), "undefined profile 'ghost'") {
		t.Errorf("Expected undefined profile error, got: %v", err)
	}
}

func TestValidateConfigurationFormat_UnreadableFile(t *testing.T) {
	_, err := ValidateConfigurationFormat(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil {
		t.Fatal("Expected error for missing file")
	}
	if !strings.Contains(err.Error(), "error reading config file") {
		t.Errorf("Expected read error, got: %v", err)
	}
}

func TestValidateConfig_Resolved(t *testing.T) {
	testCases := []struct {
		name        string
		mutate      func(*Config)
		expectedErr string
	}{
		{"empty code param", func(c *Config) { c.Recognition.CodeParam = "" }, "code_param cannot be empty"},
		{"param clash", func(c *Config) { c.Recognition.Params = map[string]string{"code": "x"} }, "cannot redefine the code parameter"},
		{"history without path", func(c *Config) { c.History.Path = "" }, "history.path is required"},
		{"empty addr", func(c *Config) { c.Server.Addr = "" }, "server.addr cannot be empty"},
		{"zero sample rate", func(c *Config) { c.Audio.SampleRate = 0 }, "audio.sample_rate must be 11025"},
		{"resampled rate", func(c *Config) { c.Audio.SampleRate = 48000 }, "audio.sample_rate must be 11025"},
		{"stereo", func(c *Config) { c.Audio.Channels = 2 }, "audio.channels must be 1"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)

			err := validateConfig(cfg)
			if err == nil {
				t.Fatalf("Expected error containing '%s'", tc.expectedErr)
			}
			if !strings.Contains(err.Error(), tc.expectedErr) {
				t.Errorf("Expected error containing '%s', got: %v", tc.expectedErr, err)
			}
		})
	}

	disabled := false
	cfg := Default()
	cfg.History = HistoryConfig{Enabled: &disabled}
	if err := validateConfig(cfg); err != nil {
		t.Errorf("Expected disabled history without path to be valid, got: %v", err)
	}
}

// Helper function to create temporary config file for testing
func createTempConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "echoid.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to write temp file: %v", err)
	}
	return path
}
