package config_test

import (
	"slices"
	"testing"
	"time"

	"github.com/MrWong99/signbridge/internal/config"
)

func baseConfig() *config.Config {
	cfg := &config.Config{}
	config.ApplyDefaults(cfg)
	cfg.Live.Provider.APIKey = "key"
	return cfg
}

func TestDiff_NoChanges(t *testing.T) {
	t.Parallel()
	cfg := baseConfig()
	d := config.Diff(cfg, cfg)
	if d.SessionChanged || d.LogLevelChanged || len(d.RestartRequired) != 0 {
		t.Errorf("identical configs produced diff %+v", d)
	}
}

func TestDiff_LogLevelChanged(t *testing.T) {
	t.Parallel()
	old, new := baseConfig(), baseConfig()
	new.Server.LogLevel = config.LogDebug

	d := config.Diff(old, new)
	if !d.LogLevelChanged {
		t.Error("expected LogLevelChanged=true")
	}
	if d.NewLogLevel != config.LogDebug {
		t.Errorf("NewLogLevel = %q, want debug", d.NewLogLevel)
	}
}

func TestDiff_SessionFields(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"voice", func(c *config.Config) { c.Live.Voice = "Kore" }},
		{"instructions", func(c *config.Config) { c.Live.Instructions = "Be brief." }},
		{"send_queue", func(c *config.Config) { c.Live.SendQueue = 8 }},
		{"connect_timeout", func(c *config.Config) { c.Live.ConnectTimeout = time.Second }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			old, new := baseConfig(), baseConfig()
			tt.mutate(new)
			d := config.Diff(old, new)
			if !d.SessionChanged {
				t.Error("expected SessionChanged=true")
			}
			if len(d.RestartRequired) != 0 {
				t.Errorf("RestartRequired = %v, want none", d.RestartRequired)
			}
		})
	}
}

func TestDiff_RestartRequired(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*config.Config)
		want   string
	}{
		{"listen", func(c *config.Config) { c.Server.ListenAddr = ":9090" }, "server.listen_addr"},
		{"tls", func(c *config.Config) { c.Server.TLS = &config.TLSConfig{CertFile: "c", KeyFile: "k"} }, "server.tls"},
		{"provider", func(c *config.Config) { c.Live.Provider.Name = "genai" }, "live.provider"},
		{"model", func(c *config.Config) { c.Live.Provider.Model = "other" }, "live.provider"},
		{"fallbacks", func(c *config.Config) { c.Live.Fallbacks = []config.ProviderEntry{{Name: "genai"}} }, "live.fallbacks"},
		{"breaker", func(c *config.Config) { c.Live.Breaker.MaxFailures = 9 }, "live.breaker"},
		{"audio", func(c *config.Config) { c.Audio.OutputDevice = "USB" }, "audio"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			old, new := baseConfig(), baseConfig()
			tt.mutate(new)
			d := config.Diff(old, new)
			if !slices.Contains(d.RestartRequired, tt.want) {
				t.Errorf("RestartRequired = %v, want it to contain %q", d.RestartRequired, tt.want)
			}
			if d.SessionChanged {
				t.Error("SessionChanged should be false")
			}
		})
	}
}
