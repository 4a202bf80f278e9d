package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/MrWong99/signbridge/internal/config"
	"github.com/MrWong99/signbridge/internal/observe"
	"github.com/MrWong99/signbridge/internal/resilience"
	"github.com/MrWong99/signbridge/pkg/audio/device"
	"github.com/MrWong99/signbridge/pkg/provider/live"
	"github.com/MrWong99/signbridge/pkg/provider/live/gemini"
	"github.com/MrWong99/signbridge/pkg/provider/live/genailive"
)

// registerBuiltinBackends wires the live and audio backends that ship with
// SignBridge into reg.
func registerBuiltinBackends(reg *config.Registry) {
	// ── Live ──────────────────────────────────────────────────────────────────

	reg.RegisterLive("gemini", func(entry config.ProviderEntry) (live.Provider, error) {
		var opts []gemini.Option
		if entry.Model != "" {
			opts = append(opts, gemini.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, gemini.WithBaseURL(entry.BaseURL))
		}
		return gemini.New(entry.APIKey, opts...), nil
	})

	// genai goes through the Gen AI SDK, which also reaches Vertex AI when a
	// project is given.
	reg.RegisterLive("genai", func(entry config.ProviderEntry) (live.Provider, error) {
		var opts []genailive.Option
		if entry.Model != "" {
			opts = append(opts, genailive.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, genailive.WithBaseURL(entry.BaseURL))
		}
		if project := optString(entry.Options, "project"); project != "" {
			opts = append(opts, genailive.WithVertexAI(project, optString(entry.Options, "location")))
		}
		return genailive.New(entry.APIKey, opts...), nil
	})

	// ── Audio ─────────────────────────────────────────────────────────────────

	reg.RegisterAudio("malgo", func(cfg config.AudioConfig) (config.AudioDevices, error) {
		return config.AudioDevices{
			Microphone: device.NewMicrophone(device.WithDeviceName(cfg.InputDevice), device.WithPeriod(cfg.PeriodMS)),
			Speaker:    device.NewSpeaker(device.WithDeviceName(cfg.OutputDevice), device.WithPeriod(cfg.PeriodMS)),
		}, nil
	})

	for _, name := range reg.LiveNames() {
		slog.Debug("registered backend", "kind", "live", "name", name)
	}
}

// buildLive creates the primary live backend and its fallbacks behind a
// per-backend circuit breaker.
func buildLive(cfg config.LiveConfig, reg *config.Registry, m *observe.Metrics) (live.Provider, error) {
	primary, err := reg.CreateLive(cfg.Provider)
	if err != nil {
		return nil, fmt.Errorf("create live backend %q: %w", cfg.Provider.Name, err)
	}
	slog.Info("backend created", "kind", "live", "name", cfg.Provider.Name)

	fb := resilience.NewLiveFallback(primary, cfg.Provider.Name, resilience.FallbackConfig{
		CircuitBreaker: resilience.CircuitBreakerConfig{
			MaxFailures:  cfg.Breaker.MaxFailures,
			ResetTimeout: cfg.Breaker.ResetTimeout,
			OnStateChange: func(name string, _, to resilience.State) {
				m.RecordBreakerTransition(context.Background(), name, to.String())
			},
		},
	})
	for _, entry := range cfg.Fallbacks {
		p, err := reg.CreateLive(entry)
		if errors.Is(err, config.ErrProviderNotRegistered) {
			slog.Warn("fallback backend not registered, skipping", "name", entry.Name)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("create live fallback %q: %w", entry.Name, err)
		}
		fb.AddFallback(entry.Name, p)
		slog.Info("backend created", "kind", "live", "name", entry.Name, "role", "fallback")
	}
	return fb, nil
}

// sessionConfig maps the hot-reloadable live settings onto a session
// config. The model stays with each backend.
func sessionConfig(cfg config.LiveConfig) live.SessionConfig {
	return live.SessionConfig{
		Voice:        cfg.Voice,
		Instructions: cfg.Instructions,
		SendQueue:    cfg.SendQueue,
	}
}

// apiKeyCheck returns the start precondition: at least one configured
// backend must be able to authenticate.
func apiKeyCheck(cfg config.LiveConfig) func(context.Context) error {
	usable := hasCredentials(cfg.Provider)
	for _, fb := range cfg.Fallbacks {
		usable = usable || hasCredentials(fb)
	}
	return func(context.Context) error {
		if !usable {
			return fmt.Errorf("no API key configured; set live.provider.api_key or one of %v", config.APIKeyEnv)
		}
		return nil
	}
}

// hasCredentials reports whether entry carries an API key or a Vertex AI
// project.
func hasCredentials(entry config.ProviderEntry) bool {
	return entry.APIKey != "" || optString(entry.Options, "project") != ""
}

// optString extracts a string value from a backend Options map.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	s, _ := opts[key].(string)
	return s
}
