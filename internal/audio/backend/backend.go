// Package backend selects the capture implementation named in the configuration.
package backend

import (
	"fmt"
	"strings"

	"github.com/audiolibrelab/echoid/internal/audio"
	"github.com/audiolibrelab/echoid/internal/audio/malgo"
	"github.com/audiolibrelab/echoid/internal/audio/pipewire"
	"github.com/audiolibrelab/echoid/internal/audio/portaudio"
	"github.com/audiolibrelab/echoid/internal/config"
)

// BackendType represents the type of audio backend
type BackendType string

const (
	BackendTypePortAudio BackendType = "portaudio"
	BackendTypeMalgo     BackendType = "malgo"
	BackendTypePipeWire  BackendType = "pipewire"
	BackendTypeAuto      BackendType = "auto"
)

// NewSource creates a capture source using the backend named in the configuration
func NewSource(cfg *config.Config) (audio.Source, error) {
	backendType, err := determineBackend(cfg)
	if err != nil {
		return nil, err
	}

	switch backendType {
	case BackendTypeMalgo:
		return malgo.New(cfg.Audio.Device), nil
	case BackendTypePipeWire:
		return pipewire.New(cfg.Audio.Device), nil
	default:
		return portaudio.New(cfg.Audio.Device), nil
	}
}

// ListDevices lists the capture devices of the configured backend
func ListDevices(cfg *config.Config) (BackendType, []audio.DeviceInfo, error) {
	backendType, err := determineBackend(cfg)
	if err != nil {
		return "", nil, err
	}

	var devices []audio.DeviceInfo
	switch backendType {
	case BackendTypeMalgo:
		devices, err = malgo.ListDevices()
	case BackendTypePipeWire:
		devices, err = pipewire.ListDevices()
	default:
		devices, err = portaudio.ListDevices()
	}
	return backendType, devices, err
}

// determineBackend determines which backend to use based on configuration
func determineBackend(cfg *config.Config) (BackendType, error) {
	if cfg == nil || cfg.Audio.Backend == "" {
		return BackendTypePortAudio, nil
	}

	switch strings.ToLower(cfg.Audio.Backend) {
	case "portaudio":
		return BackendTypePortAudio, nil
	case "malgo":
		return BackendTypeMalgo, nil
	case "pipewire":
		return BackendTypePipeWire, nil
	case "auto":
		// PortAudio gives blocking reads with the lowest overhead
		return BackendTypePortAudio, nil
	}
	return "", fmt.Errorf("unknown audio backend: %s", cfg.Audio.Backend)
}

// GetAvailableBackends returns the backends compiled into this binary
func GetAvailableBackends() []BackendType {
	return []BackendType{BackendTypePortAudio, BackendTypeMalgo, BackendTypePipeWire}
}
