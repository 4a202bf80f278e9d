package practice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/signbridge/internal/observe"
	"github.com/MrWong99/signbridge/pkg/audio"
	"github.com/MrWong99/signbridge/pkg/audio/capture"
	"github.com/MrWong99/signbridge/pkg/audio/playback"
	"github.com/MrWong99/signbridge/pkg/provider/live"
)

// DefaultConnectTimeout bounds the live handshake when no timeout is
// configured.
const DefaultConnectTimeout = 15 * time.Second

// stuckGrace is added to the connect timeout before [Controller.Check]
// reports a start attempt as stuck.
const stuckGrace = 5 * time.Second

// errRemoteClosed is the cause recorded when the server ends a session
// without reporting an error.
var errRemoteClosed = fmt.Errorf("%w: session ended by server", live.ErrTransport)

// Option configures a [Controller].
type Option func(*Controller)

// WithSessionConfig sets the configuration used for new live sessions.
func WithSessionConfig(cfg live.SessionConfig) Option {
	return func(c *Controller) { c.sessCfg = cfg }
}

// WithConnectTimeout bounds the live handshake. Non-positive values are
// ignored.
func WithConnectTimeout(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.connectTimeout = d
		}
	}
}

// WithFrameSize sets the number of 16 kHz samples per capture frame.
func WithFrameSize(n int) Option {
	return func(c *Controller) {
		if n > 0 {
			c.frameSize = n
		}
	}
}

// WithPrecondition installs a check run at the beginning of every Start,
// before any device is touched. A failure is reported wrapped in
// [ErrPrecondition].
func WithPrecondition(check func(ctx context.Context) error) Option {
	return func(c *Controller) { c.precondition = check }
}

// WithMetrics overrides the metrics sink. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Controller) {
		if m != nil {
			c.metrics = m
		}
	}
}

// Controller owns the practice session lifecycle. All exported methods are
// safe for concurrent use.
type Controller struct {
	provider     live.Provider
	mic          capture.Source
	out          playback.Device
	frameSize    int
	precondition func(context.Context) error
	metrics      *observe.Metrics

	mu             sync.Mutex
	sessCfg        live.SessionConfig
	connectTimeout time.Duration
	status         Status
	run            *run
	closed         bool
	onStatus       func(Status)

	issued uint64 // status tickets handed out, guarded by mu

	// notifyMu and notified keep OnStatus deliveries in transition order
	// without holding mu while the callback runs.
	notifyMu   sync.Mutex
	notifyCond *sync.Cond
	notified   uint64
}

// closer is one resource acquired by a start attempt.
type closer struct {
	name string
	fn   func() error
}

// run is one start attempt and, once active, the session it produced.
// Fields below closers are guarded by Controller.mu.
type run struct {
	id     string
	ctx    context.Context // outlives the Start call; carries the session id
	cancel context.CancelFunc
	span   trace.Span
	begun  time.Time

	// closers are appended by Start only and run in reverse by teardown.
	closers []closer

	startedAt time.Time
	active    bool
	stopped   bool  // Stop was requested
	ending    bool  // teardown claimed
	failure   error // session ended before it became active
	finished  chan struct{}
}

// New returns an idle Controller. mic and out are opened per session and
// released when it ends.
func New(provider live.Provider, mic capture.Source, out playback.Device, opts ...Option) *Controller {
	c := &Controller{
		provider:       provider,
		mic:            mic,
		out:            out,
		frameSize:      audio.DefaultFrameSize,
		connectTimeout: DefaultConnectTimeout,
		status:         Status{State: StateIdle, Message: MsgReady},
	}
	c.notifyCond = sync.NewCond(&c.notifyMu)
	for _, o := range opts {
		o(c)
	}
	if c.metrics == nil {
		c.metrics = observe.DefaultMetrics()
	}
	return c
}

// OnStatus registers fn to receive every status transition, in order. fn
// may read the controller (Status, Check) but must not call Start, Stop or
// Close.
func (c *Controller) OnStatus(fn func(Status)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onStatus = fn
}

// Status returns the current status.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// SetSessionConfig replaces the configuration used by the next session. A
// running session is not affected.
func (c *Controller) SetSessionConfig(cfg live.SessionConfig) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessCfg = cfg
}

// SetConnectTimeout replaces the handshake bound used by the next session.
func (c *Controller) SetConnectTimeout(d time.Duration) {
	if d <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connectTimeout = d
}

// Check reports an error when a start attempt has been pending for longer
// than the connect timeout allows.
func (c *Controller) Check(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if r := c.run; r != nil && !r.active && !r.ending {
		if waited := time.Since(r.begun); waited > c.connectTimeout+stuckGrace {
			return fmt.Errorf("practice: session %s starting for %s", r.id, waited.Round(time.Second))
		}
	}
	return nil
}

// publish stores st, releases c.mu and delivers st to the OnStatus
// callback once every earlier transition has been delivered. c.mu must be
// held.
func (c *Controller) publish(st Status) {
	c.status = st
	fn := c.onStatus
	c.issued++
	ticket := c.issued
	c.mu.Unlock()

	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()
	for c.notified != ticket-1 {
		c.notifyCond.Wait()
	}
	defer func() {
		c.notified = ticket
		c.notifyCond.Broadcast()
	}()
	if fn != nil {
		fn(st)
	}
}

// ── start ──────────────────────────────────────────────────────────────────

// Start opens a session: microphone, then speaker and scheduler, then the
// live connection, then capture wiring. It returns once the session is
// active. Any failure releases what the attempt acquired, leaves the
// controller Idle with the error recorded, and returns the error.
//
// ctx bounds the start attempt only; the session runs until Stop, Close or a
// transport failure.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.run != nil {
		c.mu.Unlock()
		return ErrBusy
	}
	c.mu.Unlock()

	if c.precondition != nil {
		if err := c.precondition(ctx); err != nil {
			err = fmt.Errorf("%w: %w", ErrPrecondition, err)
			c.metrics.RecordSessionError(ctx, errorKind(err))
			c.mu.Lock()
			if c.run != nil {
				c.mu.Unlock()
				return err
			}
			c.publish(Status{State: StateIdle, Message: Describe(err), Err: err})
			return err
		}
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.run != nil {
		c.mu.Unlock()
		return ErrBusy
	}
	id := uuid.NewString()
	startCtx, cancel := context.WithCancel(observe.WithSessionID(ctx, id))
	sessCtx, span := observe.StartSessionSpan(context.WithoutCancel(startCtx), "practice.session")
	r := &run{
		id:       id,
		ctx:      sessCtx,
		cancel:   cancel,
		span:     span,
		begun:    time.Now(),
		finished: make(chan struct{}),
	}
	c.run = r
	cfg, timeout := c.sessCfg, c.connectTimeout
	c.publish(Status{State: StateStarting, Message: MsgConnecting, SessionID: id})

	defer cancel()
	return c.start(startCtx, r, cfg, timeout)
}

func (c *Controller) start(ctx context.Context, r *run, cfg live.SessionConfig, timeout time.Duration) error {
	log := observe.Logger(r.ctx)
	log.Info("practice: starting session", "connect_timeout", timeout)

	pipeline := capture.New(c.mic, capture.WithFrameSize(c.frameSize))
	r.closers = append(r.closers, closer{"microphone", pipeline.Close})
	if err := pipeline.Acquire(ctx); err != nil {
		return c.abort(r, fmt.Errorf("practice: acquire microphone: %w", err))
	}
	r.span.AddEvent("microphone acquired")

	rate := c.provider.Capabilities().OutputSampleRate
	if rate <= 0 {
		rate = audio.OutputSampleRate
	}
	r.closers = append(r.closers, closer{"speaker", c.out.Close})
	if err := c.out.Open(ctx, rate); err != nil {
		return c.abort(r, fmt.Errorf("practice: open speaker: %w", err))
	}
	sched := playback.NewScheduler(c.out, playback.WithObserver(func(s playback.Scheduled) {
		c.metrics.ChunksScheduled.Add(r.ctx, 1)
		if s.Gap > 0 {
			c.metrics.PlaybackGap.Record(r.ctx, s.Gap.Seconds())
		}
	}))
	sched.Start()
	r.closers = append(r.closers, closer{"scheduler", func() error {
		sched.Reset()
		return nil
	}})
	if err := ctx.Err(); err != nil {
		return c.abort(r, err)
	}

	cfg.OnDecodeError = func(err error) { c.decodeError(r.ctx, err) }
	var sessErr error
	connectCtx, cancelConnect := context.WithTimeout(ctx, timeout)
	begin := time.Now()
	sess, err := live.Open(connectCtx, c.provider, cfg, live.Callbacks{
		OnServerAudio: func(pcm []byte) { c.play(r.ctx, sched, rate, pcm) },
		OnError:       func(err error) { sessErr = err },
		OnClose:       func() { c.sessionEnded(r, sessErr) },
	})
	cancelConnect()
	c.metrics.RecordConnect(r.ctx, connectStatus(err), time.Since(begin))
	if err != nil {
		return c.abort(r, fmt.Errorf("practice: connect: %w", err))
	}
	r.closers = append(r.closers, closer{"live session", sess.Close})
	r.span.AddEvent("live session open")

	if err := pipeline.Start(func(f audio.Frame) { c.send(r.ctx, sess, f) }); err != nil {
		return c.abort(r, fmt.Errorf("practice: start capture: %w", err))
	}

	c.mu.Lock()
	if r.failure != nil || r.stopped || ctx.Err() != nil {
		err := r.failure
		if err == nil {
			err = ctx.Err()
		}
		c.mu.Unlock()
		return c.abort(r, err)
	}
	r.active = true
	r.startedAt = time.Now()
	c.metrics.ActiveSessions.Add(r.ctx, 1)
	c.publish(Status{State: StateActive, Message: MsgListening, SessionID: r.id, StartedAt: r.startedAt})

	log.Info("practice: session active", "handshake", time.Since(begin).Round(time.Millisecond))
	return nil
}

// abort tears down a start attempt that never became active and reports
// the outcome. An attempt interrupted by Stop ends without an error status
// and returns [ErrStopped].
func (c *Controller) abort(r *run, cause error) error {
	c.mu.Lock()
	r.ending = true
	stopped := r.stopped
	c.mu.Unlock()

	r.teardown()

	st := Status{State: StateIdle, Message: MsgReady, SessionID: r.id}
	if stopped {
		cause = ErrStopped
		observe.Logger(r.ctx).Info("practice: start interrupted by stop")
	} else {
		c.metrics.RecordSessionError(r.ctx, errorKind(cause))
		st.Message, st.Err = Describe(cause), cause
		r.span.RecordError(cause)
		r.span.SetStatus(codes.Error, st.Message)
		observe.Logger(r.ctx).Warn("practice: start failed", "err", cause)
	}
	r.span.End()

	c.mu.Lock()
	c.run = nil
	close(r.finished)
	c.publish(st)
	return cause
}

// ── stop ───────────────────────────────────────────────────────────────────

// Stop ends the current session or start attempt and waits until the
// controller is Idle again. It is a no-op when Idle and safe to call
// repeatedly.
func (c *Controller) Stop() {
	c.mu.Lock()
	r := c.run
	if r == nil {
		c.mu.Unlock()
		return
	}
	if r.stopped || r.ending {
		c.mu.Unlock()
		<-r.finished
		return
	}
	r.stopped = true
	st := Status{State: StateStopping, Message: MsgStopping, SessionID: r.id, StartedAt: r.startedAt}

	if !r.active {
		// Start still owns the attempt; it notices the cancellation and
		// tears down what it acquired.
		r.cancel()
		c.publish(st)
		<-r.finished
		return
	}
	r.ending = true
	c.publish(st)
	c.finish(r, nil)
}

// Close stops any session and rejects further starts.
func (c *Controller) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.Stop()
	return nil
}

// sessionEnded runs when the live session's callback loop exits.
func (c *Controller) sessionEnded(r *run, cause error) {
	if cause == nil {
		cause = errRemoteClosed
	}
	c.mu.Lock()
	if r.ending {
		c.mu.Unlock()
		return
	}
	if !r.active {
		// Start picks this up before going active.
		r.failure = cause
		c.mu.Unlock()
		return
	}
	r.ending = true
	c.publish(Status{State: StateStopping, Message: MsgStopping, SessionID: r.id, StartedAt: r.startedAt})
	c.finish(r, cause)
}

// finish tears down an active session. The caller must have claimed r.ending.
func (c *Controller) finish(r *run, cause error) {
	r.teardown()

	c.metrics.ActiveSessions.Add(r.ctx, -1)
	c.metrics.SessionDuration.Record(r.ctx, time.Since(r.startedAt).Seconds())

	st := Status{State: StateIdle, Message: MsgReady, SessionID: r.id}
	log := observe.Logger(r.ctx)
	if cause != nil {
		c.metrics.RecordSessionError(r.ctx, errorKind(cause))
		st.Message, st.Err = Describe(cause), cause
		r.span.RecordError(cause)
		r.span.SetStatus(codes.Error, st.Message)
		log.Warn("practice: session failed", "err", cause)
	} else {
		log.Info("practice: session stopped", "duration", time.Since(r.startedAt).Round(time.Second))
	}
	r.span.End()

	c.mu.Lock()
	c.run = nil
	close(r.finished)
	c.publish(st)
}

// teardown releases the attempt's resources in reverse acquisition order.
// Errors are logged; teardown always completes.
func (r *run) teardown() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		cl := r.closers[i]
		if err := cl.fn(); err != nil {
			observe.Logger(r.ctx).Warn("practice: release failed", "resource", cl.name, "err", err)
		}
	}
	r.closers = nil
}

// ── audio paths ────────────────────────────────────────────────────────────

// send runs on the capture callback and never blocks.
func (c *Controller) send(ctx context.Context, sess live.Session, f audio.Frame) {
	c.metrics.FramesCaptured.Add(ctx, 1)
	err := sess.Send(audio.EncodePCM16(f.Samples))
	switch {
	case err == nil:
		c.metrics.FramesSent.Add(ctx, 1)
	case errors.Is(err, live.ErrQueueFull):
		c.metrics.RecordFrameDropped(ctx, "queue_full")
	case errors.Is(err, live.ErrClosed):
		c.metrics.RecordFrameDropped(ctx, "closed")
	default:
		c.metrics.RecordFrameDropped(ctx, "error")
		slog.Debug("practice: send failed", "err", err)
	}
}

// play decodes one server chunk and schedules it.
func (c *Controller) play(ctx context.Context, sched *playback.Scheduler, rate int, pcm []byte) {
	samples, err := audio.DecodePCM16(pcm)
	if err != nil {
		c.decodeError(ctx, err)
		return
	}
	sched.Enqueue(playback.Buffer{Samples: samples, SampleRate: rate})
}

func (c *Controller) decodeError(ctx context.Context, err error) {
	c.metrics.DecodeErrors.Add(ctx, 1)
	observe.Logger(ctx).Warn("practice: dropping malformed audio chunk", "err", err)
}
