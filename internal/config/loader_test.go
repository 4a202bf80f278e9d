package config_test

import (
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/signbridge/internal/config"
)

func validConfig() *config.Config {
	cfg := &config.Config{
		Live: config.LiveConfig{
			Provider: config.ProviderEntry{Name: "gemini", APIKey: "k"},
		},
	}
	config.ApplyDefaults(cfg)
	return cfg
}

func TestValidate_Valid(t *testing.T) {
	t.Parallel()
	if err := config.Validate(validConfig()); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestValidate_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*config.Config)
		want   string
	}{
		{
			name:   "bad log level",
			mutate: func(c *config.Config) { c.Server.LogLevel = "verbose" },
			want:   "server.log_level",
		},
		{
			name:   "tls without key",
			mutate: func(c *config.Config) { c.Server.TLS = &config.TLSConfig{CertFile: "c.pem"} },
			want:   "server.tls",
		},
		{
			name:   "missing provider name",
			mutate: func(c *config.Config) { c.Live.Provider.Name = "" },
			want:   "live.provider.name",
		},
		{
			name: "fallback without name",
			mutate: func(c *config.Config) {
				c.Live.Fallbacks = []config.ProviderEntry{{APIKey: "k"}}
			},
			want: "live.fallbacks[0].name",
		},
		{
			name: "fallback duplicates primary",
			mutate: func(c *config.Config) {
				c.Live.Fallbacks = []config.ProviderEntry{{Name: "gemini"}}
			},
			want: "duplicates live.provider",
		},
		{
			name:   "negative connect timeout",
			mutate: func(c *config.Config) { c.Live.ConnectTimeout = -time.Second },
			want:   "live.connect_timeout",
		},
		{
			name:   "negative send queue",
			mutate: func(c *config.Config) { c.Live.SendQueue = -1 },
			want:   "live.send_queue",
		},
		{
			name:   "negative breaker failures",
			mutate: func(c *config.Config) { c.Live.Breaker.MaxFailures = -1 },
			want:   "live.breaker.max_failures",
		},
		{
			name:   "negative frame size",
			mutate: func(c *config.Config) { c.Audio.FrameSize = -4 },
			want:   "audio.frame_size",
		},
		{
			name:   "period too long",
			mutate: func(c *config.Config) { c.Audio.PeriodMS = 5000 },
			want:   "audio.period_ms",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cfg := validConfig()
			tc.mutate(cfg)
			err := config.Validate(cfg)
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Errorf("error should mention %q, got: %v", tc.want, err)
			}
		})
	}
}

func TestValidate_JoinsAllErrors(t *testing.T) {
	t.Parallel()

	cfg := validConfig()
	cfg.Server.LogLevel = "loud"
	cfg.Live.SendQueue = -1
	err := config.Validate(cfg)
	if err == nil {
		t.Fatal("expected error")
	}
	for _, want := range []string{"server.log_level", "live.send_queue"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error should mention %q, got: %v", want, err)
		}
	}
}

func TestValidate_UnknownProviderOnlyWarns(t *testing.T) {
	t.Parallel()

	cfg := validConfig()
	cfg.Live.Provider.Name = "custom-backend"
	cfg.Audio.Backend = "pipewire"
	if err := config.Validate(cfg); err != nil {
		t.Errorf("unknown names should not fail validation: %v", err)
	}
}

func TestApplyDefaults_KeepsExplicitValues(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{
		Server: config.ServerConfig{ListenAddr: ":1234", LogLevel: config.LogWarn},
		Live: config.LiveConfig{
			Voice:          "Charon",
			ConnectTimeout: 3 * time.Second,
			SendQueue:      8,
		},
		Audio: config.AudioConfig{FrameSize: 1024, PeriodMS: 5},
	}
	config.ApplyDefaults(cfg)

	if cfg.Server.ListenAddr != ":1234" || cfg.Server.LogLevel != config.LogWarn {
		t.Errorf("Server = %+v", cfg.Server)
	}
	if cfg.Live.Voice != "Charon" || cfg.Live.ConnectTimeout != 3*time.Second || cfg.Live.SendQueue != 8 {
		t.Errorf("Live = %+v", cfg.Live)
	}
	if cfg.Audio.FrameSize != 1024 || cfg.Audio.PeriodMS != 5 {
		t.Errorf("Audio = %+v", cfg.Audio)
	}
}

func TestLogLevel_IsValid(t *testing.T) {
	t.Parallel()

	for _, l := range []config.LogLevel{config.LogDebug, config.LogInfo, config.LogWarn, config.LogError} {
		if !l.IsValid() {
			t.Errorf("%q should be valid", l)
		}
	}
	if config.LogLevel("trace").IsValid() {
		t.Error("trace should be invalid")
	}
}
