// Package live defines the Provider interface for realtime duplex audio
// backends.
//
// A live provider wraps a conversational voice model reached over a single
// long-lived bidirectional connection: the client streams 16 kHz PCM frames
// in, and the server pushes synthesised 24 kHz PCM back as soon as it is
// generated. The central abstraction is [Session]; [Open] layers the
// callback-style contract (open / server audio / error / close) on top of it.
//
// Sessions are never retried automatically. A rejected handshake is reported
// as [ErrConnectionRejected]; a failure after the session opened is reported
// through [Session.Err] wrapping [ErrTransport].
//
// All implementations must be safe for concurrent use.
package live

import (
	"context"
	"errors"

	"github.com/MrWong99/signbridge/pkg/audio"
)

var (
	// ErrConnectionRejected is returned by [Provider.Connect] when the server
	// refuses the connection or the setup handshake (bad key, unknown model,
	// quota, ...).
	ErrConnectionRejected = errors.New("live: connection rejected")

	// ErrTransport wraps failures of an established session: network errors,
	// unexpected server closure, and server-reported errors.
	ErrTransport = errors.New("live: transport failure")

	// ErrClosed is returned by [Session.Send] after the session closed.
	ErrClosed = errors.New("live: session closed")

	// ErrQueueFull is returned by [Session.Send] when the outbound queue is
	// saturated. The frame is dropped; the session stays open.
	ErrQueueFull = errors.New("live: send queue full")
)

const (
	// DefaultModel is the realtime native-audio model used when none is
	// configured.
	DefaultModel = "gemini-2.5-flash-native-audio-preview-09-2025"

	// DefaultVoice is the prebuilt voice used when none is configured.
	DefaultVoice = "Puck"

	// DefaultInstructions is the tutoring persona used when no instructions
	// are configured.
	DefaultInstructions = "You are a helpful sign language tutor. Listen to the user and help them practice. Be encouraging and concise."

	// DefaultSendQueue is the number of outbound frames buffered per session.
	DefaultSendQueue = 32
)

// SessionConfig is the initial configuration for a new live session.
type SessionConfig struct {
	// Model overrides the provider's default model when non-empty.
	Model string

	// Voice names the prebuilt voice for synthesised speech.
	Voice string

	// Instructions is the system-level prompt.
	Instructions string

	// SendQueue is the outbound frame buffer size. Zero means
	// [DefaultSendQueue].
	SendQueue int

	// OnDecodeError, when non-nil, is called from the receive goroutine for
	// every inbound audio payload that could not be decoded. The payload is
	// dropped; the session continues.
	OnDecodeError func(error)
}

// WithDefaults returns a copy of c with empty fields replaced by the package
// defaults.
func (c SessionConfig) WithDefaults() SessionConfig {
	if c.Model == "" {
		c.Model = DefaultModel
	}
	if c.Voice == "" {
		c.Voice = DefaultVoice
	}
	if c.Instructions == "" {
		c.Instructions = DefaultInstructions
	}
	if c.SendQueue <= 0 {
		c.SendQueue = DefaultSendQueue
	}
	return c
}

// Capabilities describes static properties of a live provider.
type Capabilities struct {
	// InputSampleRate is the PCM rate the server expects from the client.
	InputSampleRate int

	// OutputSampleRate is the PCM rate of audio the server pushes.
	OutputSampleRate int

	// Voices lists known prebuilt voice names.
	Voices []string
}

// Session is an open duplex audio session. Audio I/O is non-blocking for the
// caller: Send enqueues, and server audio arrives on a channel.
//
// Callers must call Close when the session is no longer needed.
type Session interface {
	// Send enqueues one encoded capture frame for transmission. It never
	// blocks: a saturated queue drops the frame and returns [ErrQueueFull];
	// a closed session returns [ErrClosed].
	Send(frame audio.EncodedFrame) error

	// Audio returns the channel of raw 16-bit little-endian PCM payloads
	// pushed by the server, in receive order. The channel is closed when the
	// session ends for any reason. Consumers must drain it promptly.
	Audio() <-chan []byte

	// Err returns the error that ended the session, or nil if it is still
	// open or was closed locally.
	Err() error

	// Done is closed when the session has terminated.
	Done() <-chan struct{}

	// Close terminates the session and releases all resources. Calling Close
	// more than once is safe and returns nil.
	Close() error
}

// Provider is the abstraction over any realtime duplex audio backend.
type Provider interface {
	// Connect dials the service, performs the setup handshake with cfg and
	// waits for the server to acknowledge it. ctx bounds the whole handshake;
	// the returned Session outlives ctx.
	Connect(ctx context.Context, cfg SessionConfig) (Session, error)

	// Capabilities returns static metadata about the provider.
	Capabilities() Capabilities
}
