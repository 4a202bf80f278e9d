// Package mock provides test doubles for the live package interfaces.
//
// Use Provider to verify Connect calls and hand out controlled sessions.
// Use Session to push server audio, simulate transport failures, and inspect
// which frames were sent.
//
// Example:
//
//	sess := mock.NewSession()
//	p := &mock.Provider{Session: sess}
//	handle, _ := p.Connect(ctx, cfg)
//	sess.PushAudio(pcm)                  // server → client
//	sess.Fail(errors.New("reset"))       // remote failure
package mock

import (
	"context"
	"fmt"
	"sync"

	"github.com/MrWong99/signbridge/pkg/audio"
	"github.com/MrWong99/signbridge/pkg/provider/live"
)

// Compile-time interface assertions.
var (
	_ live.Provider = (*Provider)(nil)
	_ live.Session  = (*Session)(nil)
)

// ConnectCall records a single invocation of Provider.Connect.
type ConnectCall struct {
	// Ctx is the context passed to Connect.
	Ctx context.Context
	// Cfg is the SessionConfig passed to Connect.
	Cfg live.SessionConfig
}

// Provider is a mock implementation of live.Provider.
type Provider struct {
	mu sync.Mutex

	// Session is the Session returned by Connect. If nil, Connect returns a
	// fresh [NewSession] each call.
	Session *Session

	// ConnectErr, if non-nil, is returned as the error from Connect.
	ConnectErr error

	// ConnectBlock, when non-nil, makes Connect wait until the channel is
	// closed or ctx is done. A cancelled ctx returns ctx.Err().
	ConnectBlock chan struct{}

	// ProviderCapabilities is returned by Capabilities.
	ProviderCapabilities live.Capabilities

	// ConnectCalls records every call to Connect in order.
	ConnectCalls []ConnectCall

	// Sessions records every session handed out by Connect.
	Sessions []*Session
}

// Connect records the call and returns Session, ConnectErr.
func (p *Provider) Connect(ctx context.Context, cfg live.SessionConfig) (live.Session, error) {
	p.mu.Lock()
	p.ConnectCalls = append(p.ConnectCalls, ConnectCall{Ctx: ctx, Cfg: cfg})
	block := p.ConnectBlock
	p.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ConnectErr != nil {
		return nil, p.ConnectErr
	}
	sess := p.Session
	if sess == nil {
		sess = NewSession()
	}
	p.Sessions = append(p.Sessions, sess)
	return sess, nil
}

// Capabilities returns ProviderCapabilities.
func (p *Provider) Capabilities() live.Capabilities {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ProviderCapabilities
}

// Connects returns the number of Connect calls so far.
func (p *Provider) Connects() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.ConnectCalls)
}

// LastSession returns the most recent session handed out, or nil.
func (p *Provider) LastSession() *Session {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.Sessions) == 0 {
		return nil
	}
	return p.Sessions[len(p.Sessions)-1]
}

// Session is a mock implementation of live.Session.
//
// Sent frames are recorded synchronously; there is no writer goroutine.
type Session struct {
	mu sync.Mutex

	// SendErr, if non-nil, is returned by every Send call (the frame is not
	// recorded).
	SendErr error

	// Sent records every frame accepted by Send.
	Sent []audio.EncodedFrame

	// CloseCallCount is the number of times Close was called.
	CloseCallCount int

	audioCh chan []byte
	done    chan struct{}
	errVal  error
	ended   bool
}

// NewSession returns an open Session with a buffered audio channel.
func NewSession() *Session {
	return &Session{
		audioCh: make(chan []byte, 64),
		done:    make(chan struct{}),
	}
}

// Send records frame.
func (s *Session) Send(frame audio.EncodedFrame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return live.ErrClosed
	}
	if s.SendErr != nil {
		return s.SendErr
	}
	s.Sent = append(s.Sent, frame)
	return nil
}

// Audio returns the server audio channel.
func (s *Session) Audio() <-chan []byte { return s.audioCh }

// Err returns the error recorded by Fail.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errVal
}

// Done is closed once the session ended.
func (s *Session) Done() <-chan struct{} { return s.done }

// Close ends the session locally. Idempotent.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CloseCallCount++
	s.endLocked(nil)
	return nil
}

// PushAudio delivers pcm on the Audio channel as if the server sent it. It
// returns false once the session has ended.
func (s *Session) PushAudio(pcm []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return false
	}
	s.audioCh <- pcm
	return true
}

// Fail ends the session as if the transport broke with cause.
func (s *Session) Fail(cause error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.endLocked(fmt.Errorf("%w: %w", live.ErrTransport, cause))
}

// SentFrames returns a snapshot of Sent.
func (s *Session) SentFrames() []audio.EncodedFrame {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]audio.EncodedFrame, len(s.Sent))
	copy(out, s.Sent)
	return out
}

// Closes returns CloseCallCount.
func (s *Session) Closes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.CloseCallCount
}

// Ended reports whether the session has terminated.
func (s *Session) Ended() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ended
}

func (s *Session) endLocked(err error) {
	if s.ended {
		return
	}
	s.ended = true
	s.errVal = err
	close(s.audioCh)
	close(s.done)
}
