package app_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/signbridge/internal/app"
	"github.com/MrWong99/signbridge/internal/config"
	"github.com/MrWong99/signbridge/internal/health"
	"github.com/MrWong99/signbridge/internal/practice"
	audiomock "github.com/MrWong99/signbridge/pkg/audio/mock"
	"github.com/MrWong99/signbridge/pkg/provider/live"
	livemock "github.com/MrWong99/signbridge/pkg/provider/live/mock"
)

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{ListenAddr: "127.0.0.1:0", LogLevel: config.LogInfo},
	}
}

type harness struct {
	provider *livemock.Provider
	mic      *audiomock.Source
	speaker  *audiomock.Device
	ctrl     *practice.Controller
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		provider: &livemock.Provider{},
		mic:      &audiomock.Source{},
		speaker:  &audiomock.Device{},
	}
	h.ctrl = practice.New(h.provider, h.mic, h.speaker)
	t.Cleanup(func() { _ = h.ctrl.Close() })
	return h
}

type statusBody struct {
	State     string            `json:"state"`
	Message   string            `json:"message"`
	Error     string            `json:"error"`
	SessionID string            `json:"session_id"`
	StartedAt *time.Time        `json:"started_at"`
	Backends  map[string]string `json:"backends"`
}

func do(t *testing.T, h http.Handler, method, path string) (int, statusBody) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	var body statusBody
	if strings.HasPrefix(path, "/api/") {
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
			t.Fatalf("%s %s: decode body %q: %v", method, path, rec.Body.String(), err)
		}
	}
	return rec.Code, body
}

// ─── HTTP API ────────────────────────────────────────────────────────────────

func TestAPI_StatusIdle(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	a := app.New(testConfig(), h.ctrl)

	code, body := do(t, a.Handler(), http.MethodGet, "/api/live")
	if code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if body.State != "idle" || body.Message != practice.MsgReady {
		t.Errorf("body = %+v", body)
	}
	if body.StartedAt != nil {
		t.Error("started_at should be omitted while idle")
	}
}

func TestAPI_StartStop(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	a := app.New(testConfig(), h.ctrl)

	code, body := do(t, a.Handler(), http.MethodPost, "/api/live/start")
	if code != http.StatusOK {
		t.Fatalf("start status = %d body = %+v", code, body)
	}
	if body.State != "active" || body.Message != practice.MsgListening || body.SessionID == "" || body.StartedAt == nil {
		t.Errorf("start body = %+v", body)
	}

	code, _ = do(t, a.Handler(), http.MethodPost, "/api/live/start")
	if code != http.StatusConflict {
		t.Errorf("second start status = %d, want 409", code)
	}

	code, body = do(t, a.Handler(), http.MethodPost, "/api/live/stop")
	if code != http.StatusOK || body.State != "idle" || body.Message != practice.MsgReady {
		t.Errorf("stop: %d %+v", code, body)
	}
	if !h.provider.LastSession().Ended() {
		t.Error("session should be closed after stop")
	}
}

func TestAPI_StartFailureReportsError(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.provider.ConnectErr = fmt.Errorf("%w: API key not valid", live.ErrConnectionRejected)
	a := app.New(testConfig(), h.ctrl)

	code, body := do(t, a.Handler(), http.MethodPost, "/api/live/start")
	if code != http.StatusBadGateway {
		t.Errorf("status = %d, want 502", code)
	}
	if body.State != "idle" || body.Error == "" {
		t.Errorf("body = %+v", body)
	}
	if !strings.Contains(body.Message, "rejected") {
		t.Errorf("message = %q", body.Message)
	}
}

func TestAPI_PreconditionFailed(t *testing.T) {
	t.Parallel()
	ctrl := practice.New(&livemock.Provider{}, &audiomock.Source{}, &audiomock.Device{},
		practice.WithPrecondition(func(context.Context) error { return errors.New("no key") }))
	a := app.New(testConfig(), ctrl)

	code, _ := do(t, a.Handler(), http.MethodPost, "/api/live/start")
	if code != http.StatusPreconditionFailed {
		t.Errorf("status = %d, want 412", code)
	}
}

func TestAPI_StopWhileIdle(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	a := app.New(testConfig(), h.ctrl)

	code, body := do(t, a.Handler(), http.MethodPost, "/api/live/stop")
	if code != http.StatusOK || body.State != "idle" {
		t.Errorf("stop while idle: %d %+v", code, body)
	}
}

func TestAPI_MethodNotAllowed(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	a := app.New(testConfig(), h.ctrl)

	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/live/start", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET /api/live/start = %d, want 405", rec.Code)
	}
}

func TestAPI_Backends(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	a := app.New(testConfig(), h.ctrl, app.WithBackends(func() map[string]string {
		return map[string]string{"gemini": "open", "genai": "closed"}
	}))

	_, body := do(t, a.Handler(), http.MethodGet, "/api/live")
	if body.Backends["gemini"] != "open" || body.Backends["genai"] != "closed" {
		t.Errorf("backends = %v", body.Backends)
	}
}

func TestAPI_HealthAndMetrics(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, "signbridge_capture_frames_total 0\n")
	})
	a := app.New(testConfig(), h.ctrl,
		app.WithMetricsHandler(metrics),
		app.WithCheckers(health.Checker{Name: "live_provider", Check: func(context.Context) error {
			return errors.New("no api key")
		}}),
	)

	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("/healthz = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("/readyz = %d, want 503", rec.Code)
	}

	rec = httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "signbridge_capture_frames") {
		t.Errorf("/metrics = %d %q", rec.Code, rec.Body.String())
	}
}

// ─── Run / Shutdown ──────────────────────────────────────────────────────────

func TestRun_ServesUntilCancelled(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	a := app.New(testConfig(), h.ctrl)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- a.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for a.Addr() == nil {
		if time.Now().After(deadline) {
			t.Fatal("server did not start listening")
		}
		time.Sleep(5 * time.Millisecond)
	}

	resp, err := http.Get("http://" + a.Addr().String() + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("/healthz = %d", resp.StatusCode)
	}

	cancel()
	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("Run returned %v, want nil", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestRun_Autostart(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	a := app.New(testConfig(), h.ctrl, app.WithAutostart(true))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = a.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for h.ctrl.Status().State != practice.StateActive {
		if time.Now().After(deadline) {
			t.Fatalf("session not autostarted, status = %+v", h.ctrl.Status())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestRun_ListenError(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	cfg := testConfig()
	cfg.Server.ListenAddr = "256.0.0.1:bad"
	a := app.New(cfg, h.ctrl)

	if err := a.Run(context.Background()); err == nil {
		t.Fatal("expected listen error")
	}
}

func TestShutdown_ClosesControllerThenClosers(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	var (
		mu    sync.Mutex
		order []string
	)
	closer := func(name string) func() error {
		return func() error {
			mu.Lock()
			defer mu.Unlock()
			order = append(order, name)
			return nil
		}
	}
	a := app.New(testConfig(), h.ctrl, app.WithCloser(closer("watcher")), app.WithCloser(closer("telemetry")))

	if err := h.ctrl.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := a.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if !h.provider.LastSession().Ended() || h.mic.Running() {
		t.Error("session and microphone should be released")
	}
	if fmt.Sprint(order) != "[watcher telemetry]" {
		t.Errorf("closer order = %v", order)
	}

	// Second call is a no-op.
	if err := a.Shutdown(context.Background()); err != nil {
		t.Errorf("second Shutdown: %v", err)
	}
	if len(order) != 2 {
		t.Errorf("closers ran %d times, want 2", len(order))
	}
}

func TestShutdown_ExpiredContextSkipsClosers(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ran := false
	a := app.New(testConfig(), h.ctrl, app.WithCloser(func() error { ran = true; return nil }))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := a.Shutdown(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Shutdown err = %v, want context.Canceled", err)
	}
	if ran {
		t.Error("closer should be skipped")
	}
}
