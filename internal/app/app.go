// Package app wires the practice controller into a running SignBridge
// process: the HTTP control API, health probes, the metrics endpoint and an
// ordered shutdown.
//
// Routes:
//
//	GET  /api/live        current session status
//	POST /api/live/start  start a practice session
//	POST /api/live/stop   stop the running session
//	GET  /healthz         liveness
//	GET  /readyz          readiness
//	GET  /metrics         Prometheus exposition (when a handler is given)
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/signbridge/internal/config"
	"github.com/MrWong99/signbridge/internal/health"
	"github.com/MrWong99/signbridge/internal/observe"
	"github.com/MrWong99/signbridge/internal/practice"
)

// shutdownTimeout bounds the HTTP server drain once Run's context ends.
const shutdownTimeout = 10 * time.Second

// SessionController is the part of [practice.Controller] the app drives.
type SessionController interface {
	Start(ctx context.Context) error
	Stop()
	Status() practice.Status
	Close() error
}

var _ SessionController = (*practice.Controller)(nil)

// App owns the HTTP surface and the controller's lifetime.
type App struct {
	cfg       *config.Config
	ctrl      SessionController
	metrics   *observe.Metrics
	promH     http.Handler
	checkers  []health.Checker
	backends  func() map[string]string
	autostart bool

	handler http.Handler
	server  *http.Server

	mu   sync.Mutex
	addr net.Addr

	// closers run in order during Shutdown, after the controller closed.
	closers []func() error

	stopOnce sync.Once
}

// Option configures an [App].
type Option func(*App)

// WithMetrics sets the instruments used by the HTTP middleware. Default:
// [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithMetricsHandler mounts h on GET /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(a *App) { a.promH = h }
}

// WithCheckers adds readiness checks to /readyz.
func WithCheckers(c ...health.Checker) Option {
	return func(a *App) { a.checkers = append(a.checkers, c...) }
}

// WithBackends reports per-backend breaker states in the status response.
func WithBackends(fn func() map[string]string) Option {
	return func(a *App) { a.backends = fn }
}

// WithAutostart starts a session as soon as Run begins serving.
func WithAutostart(on bool) Option {
	return func(a *App) { a.autostart = on }
}

// WithCloser registers fn to run during Shutdown.
func WithCloser(fn func() error) Option {
	return func(a *App) { a.closers = append(a.closers, fn) }
}

// New builds the App. It does not start listening; see [App.Run].
func New(cfg *config.Config, ctrl SessionController, opts ...Option) *App {
	a := &App{cfg: cfg, ctrl: ctrl}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/live", a.handleStatus)
	mux.HandleFunc("POST /api/live/start", a.handleStart)
	mux.HandleFunc("POST /api/live/stop", a.handleStop)
	health.New(a.checkers...).Register(mux)
	if a.promH != nil {
		mux.Handle("GET /metrics", a.promH)
	}

	a.handler = observe.Middleware(a.metrics)(mux)
	a.server = &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           a.handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return a
}

// Handler returns the fully wrapped HTTP handler.
func (a *App) Handler() http.Handler { return a.handler }

// Addr returns the bound listen address once Run is serving, or nil.
func (a *App) Addr() net.Addr {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.addr
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves the control API until ctx is cancelled or the listener fails.
// The HTTP server is drained before Run returns; the controller is left to
// [App.Shutdown].
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.server.Addr)
	if err != nil {
		return fmt.Errorf("app: listen %q: %w", a.server.Addr, err)
	}
	a.mu.Lock()
	a.addr = ln.Addr()
	a.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		var err error
		if tls := a.cfg.Server.TLS; tls != nil {
			slog.Info("control API listening", "addr", ln.Addr().String(), "tls", true)
			err = a.server.ServeTLS(ln, tls.CertFile, tls.KeyFile)
		} else {
			slog.Info("control API listening", "addr", ln.Addr().String())
			err = a.server.Serve(ln)
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: serve: %w", err)
	})

	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := a.server.Shutdown(sctx); err != nil {
			slog.Warn("control API shutdown", "err", err)
		}
		return nil
	})

	if a.autostart {
		g.Go(func() error {
			if err := a.ctrl.Start(gctx); err != nil {
				slog.Warn("autostart failed", "err", err)
			}
			return nil
		})
	}

	return g.Wait()
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown tears down the running session, then runs the registered closers
// in order. Closers left when ctx expires are skipped and ctx's error is
// returned alongside any closer errors.
func (a *App) Shutdown(ctx context.Context) error {
	var errs []error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		if err := a.ctrl.Close(); err != nil {
			errs = append(errs, fmt.Errorf("app: close controller: %w", err))
		}
		for i, closer := range a.closers {
			if err := ctx.Err(); err != nil {
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				errs = append(errs, err)
				return
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
				errs = append(errs, err)
			}
		}
		slog.Info("shutdown complete")
	})
	return errors.Join(errs...)
}
