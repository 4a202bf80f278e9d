// Package config provides the configuration schema, loader, file watcher and
// backend registry for SignBridge.
package config

import "time"

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Config is the root configuration structure, typically loaded from YAML with
// [Load] or [LoadFromReader].
type Config struct {
	Server ServerConfig `yaml:"server"`
	Live   LiveConfig   `yaml:"live"`
	Audio  AudioConfig  `yaml:"audio"`
}

// ServerConfig holds the control API and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address of the HTTP control API (e.g. ":8080").
	ListenAddr string `yaml:"listen_addr"`

	LogLevel LogLevel `yaml:"log_level"`

	// TLS enables HTTPS when set.
	TLS *TLSConfig `yaml:"tls"`
}

// TLSConfig holds PEM file paths for HTTPS.
type TLSConfig struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// LiveConfig configures the realtime model session.
type LiveConfig struct {
	// Provider selects the primary live backend.
	Provider ProviderEntry `yaml:"provider"`

	// Fallbacks are tried in order when the primary rejects the handshake or
	// its circuit breaker is open.
	Fallbacks []ProviderEntry `yaml:"fallbacks"`

	// Voice is the prebuilt voice name (e.g. "Puck").
	Voice string `yaml:"voice"`

	// Instructions is the system prompt for the tutor persona.
	Instructions string `yaml:"instructions"`

	// ConnectTimeout bounds the handshake of a new session.
	ConnectTimeout time.Duration `yaml:"connect_timeout"`

	// SendQueue is the number of capture frames buffered for transmission.
	SendQueue int `yaml:"send_queue"`

	Breaker BreakerConfig `yaml:"breaker"`
}

// BreakerConfig tunes the per-backend circuit breaker around connects.
type BreakerConfig struct {
	MaxFailures  int           `yaml:"max_failures"`
	ResetTimeout time.Duration `yaml:"reset_timeout"`
}

// ProviderEntry names a registered backend and carries its credentials.
type ProviderEntry struct {
	// Name selects the registered factory (e.g. "gemini", "genai").
	Name string `yaml:"name"`

	// APIKey authenticates against the backend. When empty, the
	// GEMINI_API_KEY and API_KEY environment variables are consulted.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the backend's default endpoint.
	BaseURL string `yaml:"base_url"`

	// Model overrides the backend's default model.
	Model string `yaml:"model"`

	// Options holds backend-specific values not covered above.
	Options map[string]any `yaml:"options"`
}

// AudioConfig selects the local audio backend and its devices.
type AudioConfig struct {
	// Backend selects the registered audio factory. Default: "malgo".
	Backend string `yaml:"backend"`

	// InputDevice and OutputDevice select devices by case-insensitive name
	// substring. Empty selects the system default.
	InputDevice  string `yaml:"input_device"`
	OutputDevice string `yaml:"output_device"`

	// FrameSize is the number of 16 kHz samples per capture frame.
	FrameSize int `yaml:"frame_size"`

	// PeriodMS is the device callback period in milliseconds.
	PeriodMS int `yaml:"period_ms"`
}
