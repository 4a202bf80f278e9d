// Package practice drives one live practice session at a time: it owns the
// microphone, the speaker and the live session, wires capture into the
// transport and server audio into the playback scheduler, and tears all of
// it down again.
//
// A [Controller] moves through Idle → Starting → Active → Stopping → Idle.
// Failures during start or mid-session release everything acquired and
// return to Idle with [Status.Err] set. Nothing is retried automatically.
package practice

import (
	"context"
	"errors"
	"time"

	"github.com/MrWong99/signbridge/pkg/audio"
	"github.com/MrWong99/signbridge/pkg/provider/live"
)

var (
	// ErrBusy is returned by [Controller.Start] while a session is starting,
	// running or stopping.
	ErrBusy = errors.New("practice: session already running")

	// ErrClosed is returned by [Controller.Start] after [Controller.Close].
	ErrClosed = errors.New("practice: controller closed")

	// ErrPrecondition wraps the error of a failed host precondition such as a
	// missing API key.
	ErrPrecondition = errors.New("practice: precondition failed")

	// ErrStopped is returned by [Controller.Start] when [Controller.Stop]
	// interrupted the attempt.
	ErrStopped = errors.New("practice: stopped before the session opened")
)

// State is the controller's lifecycle position.
type State int

const (
	StateIdle State = iota
	StateStarting
	StateActive
	StateStopping
)

// String returns the lower-case state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarting:
		return "starting"
	case StateActive:
		return "active"
	case StateStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// MarshalText implements [encoding.TextMarshaler].
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Status messages shown for each state.
const (
	MsgReady      = "Ready to connect"
	MsgConnecting = "Connecting..."
	MsgListening  = "Listening... Speak now!"
	MsgStopping   = "Stopping..."
	MsgClosed     = "Session closed."
)

// Status is a snapshot of the controller.
type Status struct {
	State State

	// Message is the human-readable line for the current state, or the
	// description of Err.
	Message string

	// Err is the error that sent the controller back to Idle, if any. It is
	// cleared by the next Start.
	Err error

	// SessionID identifies the current or last attempt.
	SessionID string

	// StartedAt is when the session became active. Zero otherwise.
	StartedAt time.Time
}

// Describe turns err into the one-line message shown to the user.
func Describe(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrPrecondition):
		return "An API key is required before starting a session."
	case errors.Is(err, audio.ErrPermissionDenied):
		return "Microphone access was denied."
	case errors.Is(err, audio.ErrDeviceUnavailable):
		return "No usable microphone or speaker was found."
	case errors.Is(err, live.ErrConnectionRejected):
		return "The live service rejected the connection. Check the API key and billing."
	case errors.Is(err, context.DeadlineExceeded):
		return "Timed out connecting to the live service."
	case errors.Is(err, errRemoteClosed):
		return MsgClosed
	case errors.Is(err, live.ErrTransport):
		return "Connection to the live service was lost."
	default:
		return "Session failed: " + err.Error()
	}
}

// errorKind labels err for the session error metric.
func errorKind(err error) string {
	switch {
	case errors.Is(err, ErrPrecondition):
		return "precondition"
	case errors.Is(err, audio.ErrPermissionDenied):
		return "permission"
	case errors.Is(err, audio.ErrDeviceUnavailable):
		return "device"
	case errors.Is(err, live.ErrConnectionRejected):
		return "rejected"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, live.ErrTransport):
		return "transport"
	default:
		return "other"
	}
}

// connectStatus labels a connect outcome for the handshake latency metric.
func connectStatus(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, live.ErrConnectionRejected):
		return "rejected"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "cancelled"
	default:
		return "error"
	}
}
