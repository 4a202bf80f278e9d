package playback

import (
	"sync"
	"time"
)

// Scheduled describes one buffer placed on the output clock by
// [Scheduler.Enqueue].
type Scheduled struct {
	// Start is the clock position the buffer was scheduled at.
	Start time.Duration

	// Duration is the playback length of the buffer.
	Duration time.Duration

	// Gap is the silence between the end of the previous buffer and Start.
	// It is non-zero only when the buffer arrived after the cursor had
	// already passed (an underrun).
	Gap time.Duration
}

// Option configures a [Scheduler] during construction.
type Option func(*Scheduler)

// WithObserver registers fn to be called after every successful
// [Scheduler.Enqueue]. fn runs on the caller's goroutine and must not block.
func WithObserver(fn func(Scheduled)) Option {
	return func(s *Scheduler) {
		s.observe = fn
	}
}

// Scheduler places buffers on an [Output] clock so that they play in arrival
// order without gaps or overlaps.
//
// All exported methods are safe for concurrent use.
type Scheduler struct {
	out     Output
	observe func(Scheduled)

	mu        sync.Mutex
	started   bool
	nextStart time.Duration // earliest start for the next buffer
}

// NewScheduler returns a Scheduler writing to out. Call [Scheduler.Start]
// once the output device is running.
func NewScheduler(out Output, opts ...Option) *Scheduler {
	s := &Scheduler{out: out}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Start anchors the cursor at the current output clock. Calling
// Start again re-anchors the cursor.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextStart = s.out.Now()
	s.started = true
}

// Enqueue schedules buf at max(cursor, now), advances the cursor by the
// buffer's duration, and returns the chosen start. Buffers are never dropped
// or reordered; an empty buffer is scheduled with zero length. Enqueue on a
// Scheduler that was never started behaves as if Start had just been called.
func (s *Scheduler) Enqueue(buf Buffer) time.Duration {
	s.mu.Lock()
	if !s.started {
		s.nextStart = s.out.Now()
		s.started = true
	}

	now := s.out.Now()
	start := s.nextStart
	var gap time.Duration
	if now > start {
		gap = now - start
		start = now
	}
	dur := buf.Duration()
	s.out.Schedule(buf, start)
	s.nextStart = start + dur
	observe := s.observe
	s.mu.Unlock()

	if observe != nil {
		observe(Scheduled{Start: start, Duration: dur, Gap: gap})
	}
	return start
}

// NextStart returns the position at which the next buffer would start if
// the output clock has not passed it.
func (s *Scheduler) NextStart() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextStart
}

// Reset returns the cursor to zero and marks the scheduler as not started.
// Buffers already handed to the [Output] are unaffected.
func (s *Scheduler) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started = false
	s.nextStart = 0
}
