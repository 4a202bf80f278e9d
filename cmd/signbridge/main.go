// Command signbridge runs the SignBridge live practice server: a realtime
// voice session between the local microphone and speaker and a native-audio
// model, controlled over a small HTTP API.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"
	"unicode/utf8"

	"github.com/MrWong99/signbridge/internal/app"
	"github.com/MrWong99/signbridge/internal/config"
	"github.com/MrWong99/signbridge/internal/health"
	"github.com/MrWong99/signbridge/internal/observe"
	"github.com/MrWong99/signbridge/internal/practice"
	"github.com/MrWong99/signbridge/internal/resilience"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	autostart := flag.Bool("autostart", false, "start a practice session as soon as the server is up")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "signbridge: config file %q not found, copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "signbridge: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	level := new(slog.LevelVar)
	level.Set(slogLevel(cfg.Server.LogLevel))
	slog.SetDefault(newLogger(level))

	slog.Info("signbridge starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Observability ─────────────────────────────────────────────────────────
	tel, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceVersion: version})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}

	// ── Backends ──────────────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinBackends(reg)

	provider, err := buildLive(cfg.Live, reg, tel.Metrics)
	if err != nil {
		slog.Error("failed to build live provider", "err", err)
		return 1
	}
	devices, err := reg.CreateAudio(cfg.Audio)
	if err != nil {
		slog.Error("failed to build audio backend", "backend", cfg.Audio.Backend, "err", err)
		return 1
	}

	// ── Practice controller ───────────────────────────────────────────────────
	keyCheck := apiKeyCheck(cfg.Live)
	ctrl := practice.New(provider, devices.Microphone, devices.Speaker,
		practice.WithSessionConfig(sessionConfig(cfg.Live)),
		practice.WithConnectTimeout(cfg.Live.ConnectTimeout),
		practice.WithFrameSize(cfg.Audio.FrameSize),
		practice.WithPrecondition(keyCheck),
		practice.WithMetrics(tel.Metrics),
	)
	ctrl.OnStatus(func(st practice.Status) {
		slog.Info("practice status", "state", st.State.String(), "message", st.Message, "session_id", st.SessionID)
	})

	// ── Config hot reload ─────────────────────────────────────────────────────
	watcher, err := config.NewWatcher(*configPath, func(_, next *config.Config, d config.ConfigDiff) {
		if d.LogLevelChanged {
			level.Set(slogLevel(d.NewLogLevel))
			slog.Info("log level changed", "level", d.NewLogLevel)
		}
		if d.SessionChanged {
			ctrl.SetSessionConfig(sessionConfig(next.Live))
			ctrl.SetConnectTimeout(next.Live.ConnectTimeout)
			slog.Info("session settings updated; they apply to the next session")
		}
	})
	if err != nil {
		slog.Warn("config hot reload disabled", "err", err)
	}

	printStartupSummary(cfg)

	opts := []app.Option{
		app.WithMetrics(tel.Metrics),
		app.WithMetricsHandler(tel.Handler),
		app.WithAutostart(*autostart),
		app.WithCheckers(
			health.Checker{Name: "live_provider", Check: keyCheck},
			health.Checker{Name: "practice", Check: ctrl.Check},
		),
		app.WithCloser(func() error { return tel.Shutdown(context.Background()) }),
	}
	if fb, ok := provider.(*resilience.LiveFallback); ok {
		opts = append(opts, app.WithBackends(func() map[string]string {
			states := fb.Backends()
			out := make(map[string]string, len(states))
			for name, st := range states {
				out[name] = st.String()
			}
			return out
		}))
	}
	if watcher != nil {
		opts = append(opts, app.WithCloser(func() error {
			watcher.Stop()
			return nil
		}))
	}
	application := app.New(cfg, ctrl, opts...)

	slog.Info("server ready, press Ctrl+C to shut down")

	runErr := application.Run(ctx)
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		slog.Error("run error", "err", runErr)
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("stopping")
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║       SignBridge - startup summary    ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printRow("Live", entryLabel(cfg.Live.Provider))
	for i, fb := range cfg.Live.Fallbacks {
		printRow(fmt.Sprintf("Fallback %d", i+1), entryLabel(fb))
	}
	printRow("Voice", cfg.Live.Voice)
	printRow("Audio", cfg.Audio.Backend)
	printRow("Input device", orDefault(cfg.Audio.InputDevice))
	printRow("Output device", orDefault(cfg.Audio.OutputDevice))
	printRow("Listen addr", cfg.Server.ListenAddr)
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printRow(label, value string) {
	fmt.Printf("║  %-14s  : %-19s ║\n", label, truncate(value, 19))
}

// truncate shortens s to at most n runes, marking the cut with an ellipsis.
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n-1]) + "…"
}

func entryLabel(e config.ProviderEntry) string {
	if e.Model != "" {
		return e.Name + " / " + e.Model
	}
	return e.Name
}

func orDefault(s string) string {
	if s == "" {
		return "(system default)"
	}
	return s
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func newLogger(level slog.Leveler) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
