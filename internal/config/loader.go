package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/signbridge/pkg/audio"
	"github.com/MrWong99/signbridge/pkg/provider/live"
)

// Defaults applied by [ApplyDefaults].
const (
	DefaultListenAddr     = ":8080"
	DefaultLiveProvider   = "gemini"
	DefaultAudioBackend   = "malgo"
	DefaultConnectTimeout = 15 * time.Second
	DefaultPeriodMS       = 20
	DefaultMaxFailures    = 3
	DefaultResetTimeout   = 30 * time.Second
)

// APIKeyEnv lists the environment variables consulted, in order, for a live
// provider entry without an explicit api_key.
var APIKeyEnv = []string{"GEMINI_API_KEY", "API_KEY"}

// ValidProviderNames lists known backend names per kind. [Validate] warns
// about names outside this list.
var ValidProviderNames = map[string][]string{
	"live":  {"gemini", "genai"},
	"audio": {"malgo"},
}

// Load reads, defaults, resolves and validates the YAML file at path.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes YAML from r, applies defaults and environment
// fallbacks, then validates the result. An empty document yields the
// default configuration.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	ApplyEnv(cfg, os.Getenv)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills zero-valued fields with their defaults.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}

	if cfg.Live.Provider.Name == "" {
		cfg.Live.Provider.Name = DefaultLiveProvider
	}
	if cfg.Live.Voice == "" {
		cfg.Live.Voice = live.DefaultVoice
	}
	if cfg.Live.Instructions == "" {
		cfg.Live.Instructions = live.DefaultInstructions
	}
	if cfg.Live.ConnectTimeout == 0 {
		cfg.Live.ConnectTimeout = DefaultConnectTimeout
	}
	if cfg.Live.SendQueue == 0 {
		cfg.Live.SendQueue = live.DefaultSendQueue
	}
	if cfg.Live.Breaker.MaxFailures == 0 {
		cfg.Live.Breaker.MaxFailures = DefaultMaxFailures
	}
	if cfg.Live.Breaker.ResetTimeout == 0 {
		cfg.Live.Breaker.ResetTimeout = DefaultResetTimeout
	}

	if cfg.Audio.Backend == "" {
		cfg.Audio.Backend = DefaultAudioBackend
	}
	if cfg.Audio.FrameSize == 0 {
		cfg.Audio.FrameSize = audio.DefaultFrameSize
	}
	if cfg.Audio.PeriodMS == 0 {
		cfg.Audio.PeriodMS = DefaultPeriodMS
	}
}

// ApplyEnv fills empty live api_key fields from the first non-empty variable
// in [APIKeyEnv], looked up through getenv.
func ApplyEnv(cfg *Config, getenv func(string) string) {
	key := ""
	for _, name := range APIKeyEnv {
		if v := getenv(name); v != "" {
			key = v
			break
		}
	}
	if key == "" {
		return
	}
	if cfg.Live.Provider.APIKey == "" {
		cfg.Live.Provider.APIKey = key
	}
	for i := range cfg.Live.Fallbacks {
		if cfg.Live.Fallbacks[i].APIKey == "" {
			cfg.Live.Fallbacks[i].APIKey = key
		}
	}
}

// Validate checks that cfg is coherent and returns every problem found,
// joined.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	if cfg.Live.Provider.Name == "" {
		errs = append(errs, errors.New("live.provider.name is required"))
	}
	validateProviderName("live", cfg.Live.Provider.Name)
	seen := map[string]string{cfg.Live.Provider.Name: "live.provider"}
	for i, fb := range cfg.Live.Fallbacks {
		prefix := fmt.Sprintf("live.fallbacks[%d]", i)
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
			continue
		}
		if prev, ok := seen[fb.Name]; ok {
			errs = append(errs, fmt.Errorf("%s.name %q duplicates %s", prefix, fb.Name, prev))
		}
		seen[fb.Name] = prefix
		validateProviderName("live", fb.Name)
	}
	if cfg.Live.ConnectTimeout < 0 {
		errs = append(errs, fmt.Errorf("live.connect_timeout %s must not be negative", cfg.Live.ConnectTimeout))
	}
	if cfg.Live.SendQueue < 0 {
		errs = append(errs, fmt.Errorf("live.send_queue %d must not be negative", cfg.Live.SendQueue))
	}
	if cfg.Live.Breaker.MaxFailures < 0 {
		errs = append(errs, fmt.Errorf("live.breaker.max_failures %d must not be negative", cfg.Live.Breaker.MaxFailures))
	}
	if cfg.Live.Breaker.ResetTimeout < 0 {
		errs = append(errs, fmt.Errorf("live.breaker.reset_timeout %s must not be negative", cfg.Live.Breaker.ResetTimeout))
	}
	if cfg.Live.Provider.APIKey == "" {
		slog.Warn("no live api key configured; sessions will not start until one is set",
			"env", APIKeyEnv)
	}

	validateProviderName("audio", cfg.Audio.Backend)
	if cfg.Audio.FrameSize < 0 {
		errs = append(errs, fmt.Errorf("audio.frame_size %d must not be negative", cfg.Audio.FrameSize))
	}
	if cfg.Audio.PeriodMS < 0 || cfg.Audio.PeriodMS > 1000 {
		errs = append(errs, fmt.Errorf("audio.period_ms %d is out of range [1, 1000]", cfg.Audio.PeriodMS))
	}

	return errors.Join(errs...)
}

// validateProviderName warns when name is not a known backend of kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok || slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown backend name; may be a typo or a third-party registration",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
