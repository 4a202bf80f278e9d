// Package genailive implements the live.Provider interface on top of the
// Google Gen AI SDK (google.golang.org/genai) Live client.
//
// It is functionally equivalent to the raw WebSocket backend in
// live/gemini but delegates framing, authentication and JSON encoding to the
// SDK, which also makes it usable against Vertex AI.
package genailive

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
	"google.golang.org/genai"

	"github.com/MrWong99/signbridge/pkg/audio"
	"github.com/MrWong99/signbridge/pkg/provider/live"
)

// Compile-time assertions that Provider and session satisfy the live interfaces.
var _ live.Provider = (*Provider)(nil)
var _ live.Session = (*session)(nil)

const audioBuffer = 64

// ── Options ────────────────────────────────────────────────────────────────────

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithModel sets the model used for sessions whose config does not name one.
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithBaseURL overrides the API base URL passed to the SDK.
func WithBaseURL(url string) Option {
	return func(p *Provider) { p.baseURL = url }
}

// WithVertexAI routes sessions through Vertex AI in the given project and
// location instead of the Gemini Developer API.
func WithVertexAI(project, location string) Option {
	return func(p *Provider) {
		p.project = project
		p.location = location
	}
}

// ── Provider ───────────────────────────────────────────────────────────────────

// Provider implements live.Provider using the Gen AI SDK.
type Provider struct {
	apiKey   string
	model    string
	baseURL  string
	project  string
	location string
}

// New creates a Provider with the given API key and options.
func New(apiKey string, opts ...Option) *Provider {
	p := &Provider{
		apiKey: apiKey,
		model:  live.DefaultModel,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Capabilities returns static metadata about the provider.
func (p *Provider) Capabilities() live.Capabilities {
	return live.Capabilities{
		InputSampleRate:  audio.InputSampleRate,
		OutputSampleRate: audio.OutputSampleRate,
		Voices:           []string{"Aoede", "Charon", "Fenrir", "Kore", "Leda", "Orus", "Puck", "Zephyr"},
	}
}

// clientConfig builds the SDK client configuration.
func (p *Provider) clientConfig() *genai.ClientConfig {
	cc := &genai.ClientConfig{
		APIKey:  p.apiKey,
		Backend: genai.BackendGeminiAPI,
	}
	if p.project != "" {
		cc.APIKey = ""
		cc.Backend = genai.BackendVertexAI
		cc.Project = p.project
		cc.Location = p.location
	}
	if p.baseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: p.baseURL}
	}
	return cc
}

// Connect opens a Live session through the SDK and waits for the server's
// setup acknowledgement. ctx bounds the whole handshake.
func (p *Provider) Connect(ctx context.Context, cfg live.SessionConfig) (live.Session, error) {
	model := cfg.Model
	if model == "" {
		model = p.model
	}
	cfg = cfg.WithDefaults()
	cfg.Model = model

	client, err := genai.NewClient(ctx, p.clientConfig())
	if err != nil {
		return nil, fmt.Errorf("%w: genai: client: %v", live.ErrConnectionRejected, err)
	}

	sdk, err := raceDial(ctx, func() (*genai.Session, error) {
		return client.Live.Connect(ctx, model, connectConfig(cfg))
	}, func(late *genai.Session) { _ = late.Close() })
	if err != nil {
		return nil, classifyConnect(ctx, err)
	}

	if err := awaitSetup(ctx, sdk); err != nil {
		_ = sdk.Close()
		return nil, err
	}

	sessCtx, sessCancel := context.WithCancel(context.Background())
	s := &session{
		sdk:           sdk,
		outbox:        live.NewOutbox(cfg.SendQueue),
		audioCh:       make(chan []byte, audioBuffer),
		onDecodeError: cfg.OnDecodeError,
		done:          make(chan struct{}),
		ctx:           sessCtx,
		cancel:        sessCancel,
	}
	go s.receiveLoop()
	go s.writeLoop()
	return s, nil
}

// connectConfig translates cfg into the SDK's LiveConnectConfig.
func connectConfig(cfg live.SessionConfig) *genai.LiveConnectConfig {
	cc := &genai.LiveConnectConfig{
		ResponseModalities: []genai.Modality{genai.ModalityAudio},
	}
	if cfg.Voice != "" {
		cc.SpeechConfig = &genai.SpeechConfig{
			VoiceConfig: &genai.VoiceConfig{
				PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{VoiceName: cfg.Voice},
			},
		}
	}
	if cfg.Instructions != "" {
		cc.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: cfg.Instructions}},
		}
	}
	return cc
}

// raceDial runs dial and returns its result, or ctx's error once ctx ends
// first. The SDK dials without honouring ctx, so a dial that completes after
// the caller gave up is handed to discard.
func raceDial[T any](ctx context.Context, dial func() (T, error), discard func(T)) (T, error) {
	type result struct {
		v   T
		err error
	}
	done := make(chan result, 1)
	go func() {
		v, err := dial()
		done <- result{v, err}
	}()

	select {
	case r := <-done:
		return r.v, r.err
	case <-ctx.Done():
		go func() {
			if r := <-done; r.err == nil {
				discard(r.v)
			}
		}()
		var zero T
		return zero, ctx.Err()
	}
}

// awaitSetup reads until setupComplete. The SDK's Receive does not take a
// context, so the read runs in a goroutine and ctx cancellation closes the
// session to unblock it.
func awaitSetup(ctx context.Context, sdk *genai.Session) error {
	result := make(chan error, 1)
	go func() {
		for {
			msg, err := sdk.Receive()
			if err != nil {
				result <- classifyReceive(err)
				return
			}
			if msg.SetupComplete != nil {
				result <- nil
				return
			}
		}
	}()

	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		_ = sdk.Close()
		return fmt.Errorf("genai: setup: %w", ctx.Err())
	}
}

// classifyConnect maps an SDK dial error onto the live sentinels.
func classifyConnect(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return fmt.Errorf("genai: connect: %w", ctx.Err())
	}
	if errors.Is(err, websocket.ErrBadHandshake) {
		return fmt.Errorf("%w: genai: connect: %v", live.ErrConnectionRejected, err)
	}
	return fmt.Errorf("%w: genai: connect: %v", live.ErrTransport, err)
}

// classifyReceive maps an error read during the handshake. A close frame
// from the server before setupComplete is a rejection.
func classifyReceive(err error) error {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return fmt.Errorf("%w: genai: server closed during setup: %d %s",
			live.ErrConnectionRejected, ce.Code, ce.Text)
	}
	return fmt.Errorf("%w: genai: setup: %v", live.ErrTransport, err)
}

// ── session ────────────────────────────────────────────────────────────────────

type session struct {
	sdk           *genai.Session
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

// writeLoop drains the outbox into SendRealtimeInput in order.
func (s *session) writeLoop() {
	for frame := range s.outbox.C() {
		pcm, err := base64.StdEncoding.DecodeString(frame.Data)
		if err != nil {
			slog.Warn("genai: dropping unencodable capture frame", "err", err)
			continue
		}
		err = s.sdk.SendRealtimeInput(genai.LiveRealtimeInput{
			Audio: &genai.Blob{MIMEType: frame.MIMEType, Data: pcm},
		})
		if err != nil {
			if s.ctx.Err() != nil {
				return
			}
			s.terminate(fmt.Errorf("%w: genai: send: %v", live.ErrTransport, err))
			return
		}
	}
}

// receiveLoop forwards inline audio from model turns. It owns audioCh.
func (s *session) receiveLoop() {
	defer close(s.audioCh)

	for {
		msg, err := s.sdk.Receive()
		if err != nil {
			if s.ctx.Err() != nil {
				return
			}
			s.terminate(fmt.Errorf("%w: genai: receive: %v", live.ErrTransport, err))
			return
		}
		if msg.GoAway != nil {
			slog.Info("genai: server announced disconnect")
		}
		if msg.ServerContent == nil || msg.ServerContent.ModelTurn == nil {
			continue
		}
		for _, p := range msg.ServerContent.ModelTurn.Parts {
			if p == nil || p.InlineData == nil {
				continue
			}
			mime := p.InlineData.MIMEType
			if mime != "" && !strings.HasPrefix(mime, "audio/") {
				continue
			}
			if len(p.InlineData.Data)%2 != 0 {
				s.decodeError(fmt.Errorf("%w: genai: odd PCM length %d", audio.ErrDecode, len(p.InlineData.Data)))
				continue
			}
			if len(p.InlineData.Data) == 0 {
				continue
			}
			select {
			case s.audioCh <- p.InlineData.Data:
			case <-s.ctx.Done():
				return
			}
		}
	}
}

func (s *session) decodeError(err error) {
	slog.Warn("genai: dropping undecodable audio payload", "err", err)
	if s.onDecodeError != nil {
		s.onDecodeError(err)
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
		slog.Warn("genai: session terminated", "err", cause)
	}
	s.outbox.Close()
	s.cancel()
	close(s.done)
	_ = s.sdk.Close() // unblocks Receive
}

// ── Session methods ────────────────────────────────────────────────────────────

// Send enqueues an encoded capture frame. It never blocks.
func (s *session) Send(frame audio.EncodedFrame) error { return s.outbox.Push(frame) }

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

// Close terminates the session. Idempotent.
func (s *session) Close() error {
	s.terminate(nil)
	return nil
}
