package app

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/MrWong99/signbridge/internal/practice"
)

// statusResponse is the JSON shape of GET /api/live and the start/stop
// replies.
type statusResponse struct {
	State     practice.State    `json:"state"`
	Message   string            `json:"message"`
	Error     string            `json:"error,omitempty"`
	SessionID string            `json:"session_id,omitempty"`
	StartedAt *time.Time        `json:"started_at,omitempty"`
	Backends  map[string]string `json:"backends,omitempty"`
}

func (a *App) statusBody() statusResponse {
	st := a.ctrl.Status()
	resp := statusResponse{
		State:     st.State,
		Message:   st.Message,
		SessionID: st.SessionID,
	}
	if st.Err != nil {
		resp.Error = st.Err.Error()
	}
	if !st.StartedAt.IsZero() {
		t := st.StartedAt.UTC()
		resp.StartedAt = &t
	}
	if a.backends != nil {
		resp.Backends = a.backends()
	}
	return resp
}

func (a *App) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.statusBody())
}

func (a *App) handleStart(w http.ResponseWriter, r *http.Request) {
	err := a.ctrl.Start(context.WithoutCancel(r.Context()))
	if err != nil {
		slog.Debug("start request failed", "err", err)
	}
	writeJSON(w, startStatusCode(err), a.statusBody())
}

func (a *App) handleStop(w http.ResponseWriter, _ *http.Request) {
	a.ctrl.Stop()
	writeJSON(w, http.StatusOK, a.statusBody())
}

// startStatusCode maps a Start error to the HTTP reply code.
func startStatusCode(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, practice.ErrBusy):
		return http.StatusConflict
	case errors.Is(err, practice.ErrClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, practice.ErrPrecondition):
		return http.StatusPreconditionFailed
	case errors.Is(err, practice.ErrStopped):
		return http.StatusOK
	default:
		return http.StatusBadGateway
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("write response", "err", err)
	}
}
