package live

import (
	"sync"
	"sync/atomic"

	"github.com/MrWong99/signbridge/pkg/audio"
)

// Outbox is a bounded, non-blocking queue of outbound frames drained by a
// single writer goroutine. Backends use it to keep [Session.Send] off the
// network path.
type Outbox struct {
	ch      chan audio.EncodedFrame
	dropped atomic.Int64

	mu     sync.RWMutex
	closed bool
}

// NewOutbox returns an Outbox holding up to size frames. A non-positive size
// means [DefaultSendQueue].
func NewOutbox(size int) *Outbox {
	if size <= 0 {
		size = DefaultSendQueue
	}
	return &Outbox{ch: make(chan audio.EncodedFrame, size)}
}

// Push enqueues f without blocking. It returns [ErrQueueFull] when the queue
// is saturated and [ErrClosed] after [Outbox.Close].
func (o *Outbox) Push(f audio.EncodedFrame) error {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.closed {
		return ErrClosed
	}
	select {
	case o.ch <- f:
		return nil
	default:
		o.dropped.Add(1)
		return ErrQueueFull
	}
}

// C returns the channel the writer goroutine drains. It is closed by
// [Outbox.Close].
func (o *Outbox) C() <-chan audio.EncodedFrame { return o.ch }

// Dropped returns the number of frames rejected because the queue was full.
func (o *Outbox) Dropped() int64 { return o.dropped.Load() }

// Close stops accepting frames and closes the channel. Idempotent.
func (o *Outbox) Close() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return
	}
	o.closed = true
	close(o.ch)
}
