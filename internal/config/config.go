package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"github.com/audiolibrelab/echoid/internal/codegen"
)

const (
	DefaultEndpoint  = "http://api.mooma.sh/v1/song/identify"
	DefaultCodeParam = "code"
	DefaultSeconds   = 20
	DefaultAddr      = "127.0.0.1:8420"
	EnvPrefix        = "ECHOID"
)

type RootConfig struct {
	ActiveConfig string             `mapstructure:"active_config" yaml:"active_config"`
	Globals      *GlobalsConfig     `mapstructure:"globals,omitempty" yaml:"globals,omitempty"`
	Configs      map[string]*Config `mapstructure:"configs" yaml:"configs"`
}

// GlobalsConfig holds settings that win over every profile
type GlobalsConfig struct {
	Recognition GlobalRecognitionConfig `mapstructure:"recognition" yaml:"recognition"`
	History     GlobalHistoryConfig     `mapstructure:"history" yaml:"history"`
}

type GlobalRecognitionConfig struct {
	APIKey string `mapstructure:"api_key" yaml:"api_key"`
}

type GlobalHistoryConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
}

type Config struct {
	Audio       AudioConfig       `mapstructure:"audio" yaml:"audio"`
	Session     SessionConfig     `mapstructure:"session" yaml:"session"`
	Recognition RecognitionConfig `mapstructure:"recognition" yaml:"recognition"`
	History     HistoryConfig     `mapstructure:"history" yaml:"history"`
	Server      ServerConfig      `mapstructure:"server" yaml:"server"`

	// Internal field to track inheritance information for config show
	Inheritance *InheritanceInfo `mapstructure:"-" yaml:"-"`
}

type InheritanceInfo struct {
	Audio struct {
		Backend    string // "inherited" or "profile-specific"
		Device     string
		SampleRate string
		Channels   string
	}
	Session struct {
		Seconds string
	}
	Recognition struct {
		Endpoint  string
		APIKey    string
		CodeParam string
	}
	History struct {
		Path string
	}
	Server struct {
		Addr string
	}
}

type AudioConfig struct {
	Backend    string `mapstructure:"backend" yaml:"backend"` // "portaudio", "malgo", "pipewire", "auto"
	Device     string `mapstructure:"device" yaml:"device"`   // empty selects the default input device
	SampleRate int    `mapstructure:"sample_rate" yaml:"sample_rate"`
	Channels   int    `mapstructure:"channels" yaml:"channels"`
}

type SessionConfig struct {
	Seconds    int  `mapstructure:"seconds" yaml:"seconds"`
	Continuous bool `mapstructure:"continuous" yaml:"continuous"`
}

type RecognitionConfig struct {
	Endpoint  string            `mapstructure:"endpoint" yaml:"endpoint"`
	APIKey    string            `mapstructure:"api_key" yaml:"api_key"`
	CodeParam string            `mapstructure:"code_param" yaml:"code_param"`
	Params    map[string]string `mapstructure:"params" yaml:"params,omitempty"`
}

type HistoryConfig struct {
	Enabled *bool  `mapstructure:"enabled" yaml:"enabled,omitempty"`
	Path    string `mapstructure:"path" yaml:"path"`
}

// IsEnabled reports whether pass outcomes are recorded; history is on unless
// explicitly disabled
func (h HistoryConfig) IsEnabled() bool {
	return h.Enabled == nil || *h.Enabled
}

type ServerConfig struct {
	Addr string `mapstructure:"addr" yaml:"addr"`
}

// Default returns the configuration used when no config file exists
func Default() *Config {
	return &Config{
		Audio: AudioConfig{
			Backend:    "auto",
			SampleRate: 11025,
			Channels:   1,
		},
		Session: SessionConfig{
			Seconds: DefaultSeconds,
		},
		Recognition: RecognitionConfig{
			Endpoint:  DefaultEndpoint,
			CodeParam: DefaultCodeParam,
		},
		History: HistoryConfig{
			Path: filepath.Join("~", ".local", "share", "echoid", "history.db"),
		},
		Server: ServerConfig{
			Addr: DefaultAddr,
		},
	}
}

// LoadWithProfile loads configFile and resolves the requested profile. An
// empty profile selects active_config, then "default". A missing file yields
// the built-in defaults.
func LoadWithProfile(configFile, profile string) (*Config, error) {
	if configFile == "" {
		return nil, fmt.Errorf("no config file specified, use --config flag")
	}

	v := newViper()

	var selectedConfig *Config
	if _, err := os.Stat(configFile); errors.Is(err, os.ErrNotExist) {
		if profile != "" && profile != "default" {
			return nil, fmt.Errorf("configuration profile '%s' not found: %s does not exist", profile, configFile)
		}
		selectedConfig = mergeConfigs(Default(), &Config{})
	} else {
		rootConfig, err := validateConfigurationFormat(v, configFile)
		if err != nil {
			return nil, fmt.Errorf("configuration validation failed: %w", err)
		}

		selectedConfig, err = resolveProfile(rootConfig, profile)
		if err != nil {
			return nil, err
		}

		// Global settings take priority over profile-specific values
		if rootConfig.Globals != nil {
			if rootConfig.Globals.Recognition.APIKey != "" {
				selectedConfig.Recognition.APIKey = rootConfig.Globals.Recognition.APIKey
			}
			if rootConfig.Globals.History.Path != "" {
				selectedConfig.History.Path = rootConfig.Globals.History.Path
			}
		}
	}

	applyEnvOverrides(v, selectedConfig)

	selectedConfig.History.Path = expandPath(selectedConfig.History.Path)

	if err := validateConfig(selectedConfig); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return selectedConfig, nil
}

// resolveProfile picks the requested profile and layers it over the
// "default" profile, which is itself layered over the built-in defaults
func resolveProfile(rootConfig *RootConfig, profile string) (*Config, error) {
	configName := profile
	if configName == "" {
		configName = rootConfig.ActiveConfig
	}
	if configName == "" {
		configName = "default"
	}

	selectedProfile, exists := rootConfig.Configs[configName]
	if !exists {
		if configName != "default" {
			return nil, fmt.Errorf("configuration profile '%s' not found", configName)
		}
		selectedProfile = &Config{}
	}

	base := Default()
	if configName != "default" {
		if defaultProfile, exists := rootConfig.Configs["default"]; exists && defaultProfile != nil {
			base = mergeConfigs(base, defaultProfile)
		}
	}

	return mergeConfigs(base, selectedProfile), nil
}

// UpdateActiveConfig updates the active_config field in the config file
func UpdateActiveConfig(configFile, newActiveConfig string) error {
	if configFile == "" {
		return fmt.Errorf("no config file specified")
	}

	// Create a new viper instance to avoid interfering with the global one
	v := viper.New()
	v.SetConfigFile(configFile)

	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("error reading config file %s: %w", configFile, err)
	}

	var rootConfig RootConfig
	if err := v.Unmarshal(&rootConfig); err != nil {
		return fmt.Errorf("error unmarshaling config: %w", err)
	}
	if _, exists := rootConfig.Configs[newActiveConfig]; !exists && newActiveConfig != "default" {
		return fmt.Errorf("configuration profile '%s' not found", newActiveConfig)
	}

	v.Set("active_config", newActiveConfig)

	if err := v.WriteConfig(); err != nil {
		return fmt.Errorf("error writing config file %s: %w", configFile, err)
	}

	return nil
}

// mergeConfigs implements the "Selection & Fallback" inheritance model:
// every setting uses the profile value or falls back to base. The
// continuous flag always comes from the profile once it is loaded.
func mergeConfigs(base, profile *Config) *Config {
	result := &Config{Inheritance: &InheritanceInfo{}}

	if base != nil {
		result.Audio = base.Audio
		result.Session = base.Session
		result.Recognition = base.Recognition
		result.History = base.History
		result.Server = base.Server

		result.Inheritance.Audio.Backend = "inherited"
		result.Inheritance.Audio.Device = "inherited"
		result.Inheritance.Audio.SampleRate = "inherited"
		result.Inheritance.Audio.Channels = "inherited"
		result.Inheritance.Session.Seconds = "inherited"
		result.Inheritance.Recognition.Endpoint = "inherited"
		result.Inheritance.Recognition.APIKey = "inherited"
		result.Inheritance.Recognition.CodeParam = "inherited"
		result.Inheritance.History.Path = "inherited"
		result.Inheritance.Server.Addr = "inherited"
	}

	if profile == nil {
		return result
	}

	if profile.Audio.Backend != "" {
		result.Audio.Backend = profile.Audio.Backend
		result.Inheritance.Audio.Backend = "profile-specific"
	}
	if profile.Audio.Device != "" {
		result.Audio.Device = profile.Audio.Device
		result.Inheritance.Audio.Device = "profile-specific"
	}
	if profile.Audio.SampleRate != 0 {
		result.Audio.SampleRate = profile.Audio.SampleRate
		result.Inheritance.Audio.SampleRate = "profile-specific"
	}
	if profile.Audio.Channels != 0 {
		result.Audio.Channels = profile.Audio.Channels
		result.Inheritance.Audio.Channels = "profile-specific"
	}

	if profile.Session.Seconds != 0 {
		result.Session.Seconds = profile.Session.Seconds
		result.Inheritance.Session.Seconds = "profile-specific"
	}
	result.Session.Continuous = profile.Session.Continuous

	if profile.Recognition.Endpoint != "" {
		result.Recognition.Endpoint = profile.Recognition.Endpoint
		result.Inheritance.Recognition.Endpoint = "profile-specific"
	}
	if profile.Recognition.APIKey != "" {
		result.Recognition.APIKey = profile.Recognition.APIKey
		result.Inheritance.Recognition.APIKey = "profile-specific"
	}
	if profile.Recognition.CodeParam != "" {
		result.Recognition.CodeParam = profile.Recognition.CodeParam
		result.Inheritance.Recognition.CodeParam = "profile-specific"
	}
	if len(profile.Recognition.Params) > 0 {
		params := make(map[string]string, len(result.Recognition.Params)+len(profile.Recognition.Params))
		for k, v := range result.Recognition.Params {
			params[k] = v
		}
		for k, v := range profile.Recognition.Params {
			params[k] = v
		}
		result.Recognition.Params = params
	}

	if profile.History.Enabled != nil {
		result.History.Enabled = profile.History.Enabled
	}
	if profile.History.Path != "" {
		result.History.Path = profile.History.Path
		result.Inheritance.History.Path = "profile-specific"
	}

	if profile.Server.Addr != "" {
		result.Server.Addr = profile.Server.Addr
		result.Inheritance.Server.Addr = "profile-specific"
	}

	return result
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// applyEnvOverrides lets ECHOID_* variables (usually loaded from .env) win
// over file values
func applyEnvOverrides(v *viper.Viper, cfg *Config) {
	if s := v.GetString("api_key"); s != "" {
		cfg.Recognition.APIKey = s
	}
	if s := v.GetString("endpoint"); s != "" {
		cfg.Recognition.Endpoint = s
	}
	if s := v.GetString("backend"); s != "" {
		cfg.Audio.Backend = s
	}
	if s := v.GetString("device"); s != "" {
		cfg.Audio.Device = s
	}
	if s := v.GetString("history.path"); s != "" {
		cfg.History.Path = s
	}
	if s := v.GetString("server.addr"); s != "" {
		cfg.Server.Addr = s
	}
}

func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, path[2:])
	}
	return path
}

// ValidateConfigurationFormat validates the configuration file format and returns parsed config
func ValidateConfigurationFormat(configFile string) (*RootConfig, error) {
	return validateConfigurationFormat(newViper(), configFile)
}

func validateConfigurationFormat(v *viper.Viper, configFile string) (*RootConfig, error) {
	v.SetConfigFile(configFile)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading config file %s: %w", configFile, err)
	}

	var rootConfig RootConfig
	if err := v.Unmarshal(&rootConfig); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	for configName, configProfile := range rootConfig.Configs {
		if configProfile == nil {
			continue
		}
		if err := validateProfile(configProfile); err != nil {
			return nil, fmt.Errorf("invalid config '%s': %w", configName, err)
		}
	}

	if rootConfig.ActiveConfig != "" && rootConfig.ActiveConfig != "default" {
		if _, exists := rootConfig.Configs[rootConfig.ActiveConfig]; !exists {
			return nil, fmt.Errorf("active_config references undefined profile '%s'", rootConfig.ActiveConfig)
		}
	}

	return &rootConfig, nil
}

// validateProfile checks the values a profile sets; unset values are
// inherited and checked after merging
func validateProfile(p *Config) error {
	if p.Audio.Backend != "" {
		if err := validateBackend(p.Audio.Backend); err != nil {
			return err
		}
	}
	if p.Audio.SampleRate != 0 && p.Audio.SampleRate != codegen.SampleRate {
		return fmt.Errorf("audio.sample_rate must be %d, got: %d", codegen.SampleRate, p.Audio.SampleRate)
	}
	if p.Audio.Channels != 0 && p.Audio.Channels != codegen.Channels {
		return fmt.Errorf("audio.channels must be %d, got: %d", codegen.Channels, p.Audio.Channels)
	}
	if p.Session.Seconds < 0 {
		return fmt.Errorf("session.seconds must be >= 0, got: %d", p.Session.Seconds)
	}
	if p.Recognition.Endpoint != "" {
		if err := validateEndpoint(p.Recognition.Endpoint); err != nil {
			return err
		}
	}
	for key := range p.Recognition.Params {
		if strings.TrimSpace(key) == "" {
			return fmt.Errorf("recognition.params: parameter name cannot be empty")
		}
	}
	return nil
}

// validateConfig checks a fully resolved configuration
func validateConfig(cfg *Config) error {
	if err := validateBackend(cfg.Audio.Backend); err != nil {
		return err
	}
	// The fingerprint codec only accepts mono audio at its native rate
	if cfg.Audio.SampleRate != codegen.SampleRate {
		return fmt.Errorf("audio.sample_rate must be %d, got: %d", codegen.SampleRate, cfg.Audio.SampleRate)
	}
	if cfg.Audio.Channels != codegen.Channels {
		return fmt.Errorf("audio.channels must be %d, got: %d", codegen.Channels, cfg.Audio.Channels)
	}
	if cfg.Session.Seconds < 0 {
		return fmt.Errorf("session.seconds must be >= 0, got: %d", cfg.Session.Seconds)
	}
	if err := validateEndpoint(cfg.Recognition.Endpoint); err != nil {
		return err
	}
	if cfg.Recognition.CodeParam == "" {
		return fmt.Errorf("recognition.code_param cannot be empty")
	}
	if _, clash := cfg.Recognition.Params[cfg.Recognition.CodeParam]; clash {
		return fmt.Errorf("recognition.params cannot redefine the code parameter '%s'", cfg.Recognition.CodeParam)
	}
	if cfg.History.IsEnabled() && cfg.History.Path == "" {
		return fmt.Errorf("history.path is required when history is enabled")
	}
	if cfg.Server.Addr == "" {
		return fmt.Errorf("server.addr cannot be empty")
	}
	return nil
}

func validateBackend(backend string) error {
	switch strings.ToLower(backend) {
	case "portaudio", "malgo", "pipewire", "auto":
		return nil
	}
	return fmt.Errorf("audio.backend must be 'portaudio', 'malgo', 'pipewire' or 'auto', got: %s", backend)
}

func validateEndpoint(endpoint string) error {
	u, err := url.Parse(endpoint)
	if err != nil {
		return fmt.Errorf("recognition.endpoint is not a valid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("recognition.endpoint must use http or https, got: %s", endpoint)
	}
	if u.Host == "" {
		return fmt.Errorf("recognition.endpoint must include a host, got: %s", endpoint)
	}
	return nil
}
