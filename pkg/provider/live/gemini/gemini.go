// Package gemini implements the live.Provider interface for Google's Gemini
// Live API.
//
// It establishes a bidirectional WebSocket connection to the Gemini Live
// endpoint and exchanges JSON messages according to the BidiGenerateContent
// protocol. Capture frames are sent as base64 PCM realtime input; inline audio
// parts of model turns are decoded and delivered on [live.Session.Audio].
package gemini

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/signbridge/pkg/audio"
	"github.com/MrWong99/signbridge/pkg/provider/live"
)

// Compile-time assertions that Provider and session satisfy the live interfaces.
var _ live.Provider = (*Provider)(nil)
var _ live.Session = (*session)(nil)

const (
	defaultBaseURL = "wss://generativelanguage.googleapis.com/ws"

	keepaliveInterval = 20 * time.Second
	keepaliveTimeout  = 5 * time.Second

	// readLimit bounds a single server message. Model turns carry several
	// hundred milliseconds of base64 audio, well above the library default.
	readLimit = 16 << 20

	audioBuffer = 64
)

// ── Options ────────────────────────────────────────────────────────────────────

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithModel sets the Gemini model used for sessions whose config does not
// name one.
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithBaseURL overrides the base WebSocket URL. Primarily used in tests to
// point at a local mock server.
func WithBaseURL(url string) Option {
	return func(p *Provider) { p.baseURL = url }
}

// ── Provider ───────────────────────────────────────────────────────────────────

// Provider implements live.Provider for Google's Gemini Live API.
type Provider struct {
	apiKey  string
	model   string
	baseURL string
}

// New creates a new Gemini Live Provider with the given API key and options.
func New(apiKey string, opts ...Option) *Provider {
	p := &Provider{
		apiKey:  apiKey,
		model:   live.DefaultModel,
		baseURL: defaultBaseURL,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Capabilities returns static metadata about the Gemini Live provider.
func (p *Provider) Capabilities() live.Capabilities {
	return live.Capabilities{
		InputSampleRate:  audio.InputSampleRate,
		OutputSampleRate: audio.OutputSampleRate,
		Voices:           []string{"Aoede", "Charon", "Fenrir", "Kore", "Leda", "Orus", "Puck", "Zephyr"},
	}
}

// Connect dials the Gemini Live endpoint, sends the setup message and waits
// for setupComplete. ctx bounds the whole handshake.
func (p *Provider) Connect(ctx context.Context, cfg live.SessionConfig) (live.Session, error) {
	model := cfg.Model
	if model == "" {
		model = p.model
	}
	cfg = cfg.WithDefaults()
	cfg.Model = model

	wsURL := fmt.Sprintf(
		"%s/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent?key=%s",
		p.baseURL, p.apiKey,
	)

	conn, resp, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: http.Header{
			"Content-Type": []string{"application/json"},
		},
	})
	if err != nil {
		switch {
		case ctx.Err() != nil:
			return nil, fmt.Errorf("gemini: dial: %w", ctx.Err())
		case resp != nil && resp.StatusCode >= http.StatusBadRequest:
			return nil, fmt.Errorf("%w: gemini: dial: HTTP %d", live.ErrConnectionRejected, resp.StatusCode)
		default:
			return nil, fmt.Errorf("%w: gemini: dial: %v", live.ErrTransport, err)
		}
	}
	conn.SetReadLimit(readLimit)

	if err := handshake(ctx, conn, cfg); err != nil {
		conn.CloseNow()
		return nil, err
	}

	sessCtx, sessCancel := context.WithCancel(context.Background())
	sess := &session{
		conn:          conn,
		outbox:        live.NewOutbox(cfg.SendQueue),
		audioCh:       make(chan []byte, audioBuffer),
		onDecodeError: cfg.OnDecodeError,
		done:          make(chan struct{}),
		ctx:           sessCtx,
		cancel:        sessCancel,
	}

	go sess.receiveLoop()
	go sess.writeLoop()
	go sess.keepaliveLoop()

	return sess, nil
}

// handshake sends the setup message and reads until the server acknowledges
// it. Server errors and closures during the handshake are rejections.
func handshake(ctx context.Context, conn *websocket.Conn, cfg live.SessionConfig) error {
	data, err := json.Marshal(buildSetup(cfg))
	if err != nil {
		return fmt.Errorf("gemini: marshal setup: %w", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("gemini: setup: %w", ctx.Err())
		}
		return fmt.Errorf("%w: gemini: setup: %v", live.ErrTransport, err)
	}

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			var ce websocket.CloseError
			switch {
			case ctx.Err() != nil:
				return fmt.Errorf("gemini: setup: %w", ctx.Err())
			case errors.As(err, &ce):
				return fmt.Errorf("%w: gemini: server closed during setup: %d %s",
					live.ErrConnectionRejected, ce.Code, ce.Reason)
			default:
				return fmt.Errorf("%w: gemini: setup: %v", live.ErrTransport, err)
			}
		}

		var msg serverMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue // skip malformed frames
		}
		if msg.Error != nil {
			return fmt.Errorf("%w: gemini: %s", live.ErrConnectionRejected, msg.Error.describe())
		}
		if msg.SetupComplete != nil {
			return nil
		}
	}
}

// buildSetup translates cfg into the BidiGenerateContent setup message.
func buildSetup(cfg live.SessionConfig) setupMessage {
	model := cfg.Model
	if !strings.HasPrefix(model, "models/") {
		model = "models/" + model
	}
	msg := setupMessage{
		Setup: setupConfig{
			Model: model,
			GenerationConfig: generationConfig{
				ResponseModalities: []string{"AUDIO"},
			},
		},
	}
	if cfg.Instructions != "" {
		msg.Setup.SystemInstruction = &systemInstruction{
			Parts: []part{{Text: cfg.Instructions}},
		}
	}
	if cfg.Voice != "" {
		msg.Setup.GenerationConfig.SpeechConfig = &speechConfig{
			VoiceConfig: voiceConfig{
				PrebuiltVoiceConfig: prebuiltVoiceConfig{VoiceName: cfg.Voice},
			},
		}
	}
	return msg
}

// ── Protocol message types (outgoing) ─────────────────────────────────────────

type setupMessage struct {
	Setup setupConfig `json:"setup"`
}

type setupConfig struct {
	Model             string             `json:"model"`
	GenerationConfig  generationConfig   `json:"generationConfig"`
	SystemInstruction *systemInstruction `json:"systemInstruction,omitempty"`
}

type generationConfig struct {
	ResponseModalities []string      `json:"responseModalities"`
	SpeechConfig       *speechConfig `json:"speechConfig,omitempty"`
}

type speechConfig struct {
	VoiceConfig voiceConfig `json:"voiceConfig"`
}

type voiceConfig struct {
	PrebuiltVoiceConfig prebuiltVoiceConfig `json:"prebuiltVoiceConfig"`
}

type prebuiltVoiceConfig struct {
	VoiceName string `json:"voiceName"`
}

type systemInstruction struct {
	Parts []part `json:"parts"`
}

type part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inlineData,omitempty"`
}

type inlineData struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"` // base64-encoded
}

type realtimeInputMessage struct {
	RealtimeInput realtimeInput `json:"realtimeInput"`
}

type realtimeInput struct {
	MediaChunks []mediaChunk `json:"mediaChunks"`
}

type mediaChunk struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"` // base64-encoded
}

// ── Protocol message types (incoming) ─────────────────────────────────────────

type serverMessage struct {
	SetupComplete *json.RawMessage `json:"setupComplete,omitempty"`
	ServerContent *serverContent   `json:"serverContent,omitempty"`
	GoAway        *goAway          `json:"goAway,omitempty"`
	Error         *geminiError     `json:"error,omitempty"`
}

type geminiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status,omitempty"`
}

func (e *geminiError) describe() string {
	msg := e.Message
	if msg == "" {
		msg = "unknown error"
	}
	if e.Code != 0 {
		return fmt.Sprintf("%d %s", e.Code, msg)
	}
	return msg
}

type goAway struct {
	TimeLeft string `json:"timeLeft,omitempty"`
}

type serverContent struct {
	ModelTurn    *modelTurn `json:"modelTurn,omitempty"`
	TurnComplete bool       `json:"turnComplete,omitempty"`
	Interrupted  bool       `json:"interrupted,omitempty"`
}

type modelTurn struct {
	Parts []part `json:"parts"`
}

// ── session ────────────────────────────────────────────────────────────────────

type session struct {
	conn          *websocket.Conn
	outbox        *live.Outbox
	audioCh       chan []byte
	onDecodeError func(error)

	mu     sync.Mutex
	errVal error
	closed bool
	done   chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
}

// writeJSON marshals v and writes it as a text WebSocket message.
func (s *session) writeJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("gemini: marshal: %w", err)
	}
	return s.conn.Write(s.ctx, websocket.MessageText, data)
}

// writeLoop drains the outbox onto the socket in order.
func (s *session) writeLoop() {
	for frame := range s.outbox.C() {
		msg := realtimeInputMessage{
			RealtimeInput: realtimeInput{
				MediaChunks: []mediaChunk{{MIMEType: frame.MIMEType, Data: frame.Data}},
			},
		}
		if err := s.writeJSON(msg); err != nil {
			if s.ctx.Err() != nil {
				return
			}
			s.terminate(fmt.Errorf("%w: gemini: write: %v", live.ErrTransport, err))
			return
		}
	}
}

// receiveLoop reads messages from the WebSocket and dispatches them.
// It owns audioCh and closes it when it exits.
func (s *session) receiveLoop() {
	defer close(s.audioCh)

	for {
		_, data, err := s.conn.Read(s.ctx)
		if err != nil {
			// If the session context was cancelled, exit cleanly.
			if s.ctx.Err() != nil {
				return
			}
			s.terminate(fmt.Errorf("%w: gemini: read: %v", live.ErrTransport, err))
			return
		}

		var msg serverMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			slog.Warn("gemini: skipping malformed server message", "err", err)
			continue
		}

		if msg.Error != nil {
			s.terminate(fmt.Errorf("%w: gemini: %s", live.ErrTransport, msg.Error.describe()))
			return
		}
		if msg.GoAway != nil {
			slog.Info("gemini: server announced disconnect", "time_left", msg.GoAway.TimeLeft)
		}
		if msg.ServerContent != nil && !s.handleServerContent(msg.ServerContent) {
			return
		}
	}
}

// handleServerContent forwards every inline audio part of a model turn,
// resampled to the advertised output rate when the part's MIME tag names
// another rate. It returns false when the session context ended while
// delivering.
func (s *session) handleServerContent(sc *serverContent) bool {
	if sc.ModelTurn == nil {
		return true
	}
	for _, p := range sc.ModelTurn.Parts {
		if p.InlineData == nil || !isAudio(p.InlineData.MIMEType) {
			continue
		}
		pcm, err := base64.StdEncoding.DecodeString(p.InlineData.Data)
		if err != nil {
			s.decodeError(fmt.Errorf("%w: gemini: base64: %v", audio.ErrDecode, err))
			continue
		}
		if len(pcm) == 0 {
			continue
		}
		if rate := audio.ParsePCMRate(p.InlineData.MIMEType, audio.OutputSampleRate); rate != audio.OutputSampleRate {
			samples, err := audio.DecodePCM16(pcm)
			if err != nil {
				s.decodeError(fmt.Errorf("gemini: %w", err))
				continue
			}
			pcm = audio.Float32ToPCM16(audio.ResampleMono(samples, rate, audio.OutputSampleRate))
		}
		select {
		case s.audioCh <- pcm:
		case <-s.ctx.Done():
			return false
		}
	}
	return true
}

func (s *session) decodeError(err error) {
	slog.Warn("gemini: dropping undecodable audio payload", "err", err)
	if s.onDecodeError != nil {
		s.onDecodeError(err)
	}
}

// isAudio reports whether an inline part carries audio. Parts without a MIME
// type are treated as audio.
func isAudio(mimeType string) bool {
	return mimeType == "" || strings.HasPrefix(mimeType, "audio/")
}

// keepaliveLoop sends WebSocket pings to keep the Gemini Live connection alive.
func (s *session) keepaliveLoop() {
	ticker := time.NewTicker(keepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(s.ctx, keepaliveTimeout)
			_ = s.conn.Ping(pingCtx)
			cancel()
		}
	}
}

// terminate ends the session once. A nil cause means a local, clean close.
func (s *session) terminate(cause error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.errVal = cause
	s.mu.Unlock()

	if cause != nil {
		slog.Warn("gemini: session terminated", "err", cause)
	}
	s.outbox.Close()
	s.cancel()    // unblocks receiveLoop and keepaliveLoop
	close(s.done) // signals keepaliveLoop via done channel
	if cause == nil {
		s.conn.Close(websocket.StatusNormalClosure, "session closed")
	} else {
		s.conn.CloseNow()
	}
}

// ── Session methods ────────────────────────────────────────────────────────────

// Send enqueues an encoded capture frame. It never blocks.
func (s *session) Send(frame audio.EncodedFrame) error {
	return s.outbox.Push(frame)
}

// Audio returns the channel on which the model's synthesised audio arrives.
func (s *session) Audio() <-chan []byte { return s.audioCh }

// Err returns the error that terminated the session, if any.
func (s *session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errVal
}

// Done is closed once the session has terminated.
func (s *session) Done() <-chan struct{} { return s.done }

// Close terminates the session and releases all resources. Idempotent.
func (s *session) Close() error {
	s.terminate(nil)
	return nil
}
