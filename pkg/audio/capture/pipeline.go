package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/MrWong99/signbridge/pkg/audio"
)

var (
	// ErrNotAcquired is returned by [Pipeline.Start] before a successful
	// [Pipeline.Acquire].
	ErrNotAcquired = errors.New("capture: device not acquired")

	// ErrClosed is returned when a closed [Pipeline] is used.
	ErrClosed = errors.New("capture: pipeline closed")

	// ErrAlreadyStarted is returned by a second [Pipeline.Start].
	ErrAlreadyStarted = errors.New("capture: pipeline already started")
)

// Option configures a [Pipeline] during construction.
type Option func(*Pipeline)

// WithFrameSize sets the number of 16 kHz samples per emitted frame.
// Non-positive values are ignored.
func WithFrameSize(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.frameSize = n
		}
	}
}

// WithDeviceFormat sets the format requested from the [Source]. The device
// may deliver something else; the pipeline adapts to [Source.Format].
func WithDeviceFormat(f Format) Option {
	return func(p *Pipeline) {
		if f.SampleRate > 0 && f.Channels > 0 {
			p.want = f
		}
	}
}

// Pipeline adapts a [Source] into fixed-size 16 kHz mono frames.
//
// Lifecycle: [New] → [Pipeline.Acquire] → [Pipeline.Start] → [Pipeline.Close].
// Close may be called at any point, including before Acquire, and more than
// once.
type Pipeline struct {
	src       Source
	want      Format
	frameSize int

	mu        sync.Mutex
	acquired  bool
	started   bool
	closed    bool
	channels  int
	resampler *audio.Resampler
	handler   FrameHandler
	pending   []float32
	emitted   int // 16 kHz samples emitted so far
}

// New returns a Pipeline reading from src.
func New(src Source, opts ...Option) *Pipeline {
	p := &Pipeline{
		src:       src,
		want:      DefaultFormat,
		frameSize: audio.DefaultFrameSize,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// FrameSize returns the number of samples per emitted frame.
func (p *Pipeline) FrameSize() int { return p.frameSize }

// Acquire opens the capture device. Errors from the [Source] are wrapped so
// that [errors.Is] still matches [audio.ErrPermissionDenied] and
// [audio.ErrDeviceUnavailable]. Acquire on an already acquired pipeline is a
// no-op.
func (p *Pipeline) Acquire(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	if p.acquired {
		return nil
	}
	if err := p.src.Open(ctx, p.want); err != nil {
		return fmt.Errorf("capture: acquire: %w", err)
	}

	got := p.src.Format()
	if got.SampleRate <= 0 {
		got.SampleRate = p.want.SampleRate
	}
	if got.Channels <= 0 {
		got.Channels = p.want.Channels
	}
	p.channels = got.Channels
	p.resampler = audio.NewResampler(got.SampleRate, audio.InputSampleRate)
	p.pending = make([]float32, 0, p.frameSize*2)
	p.acquired = true

	slog.Debug("capture: device acquired",
		"rate", got.SampleRate,
		"channels", got.Channels,
		"frame_size", p.frameSize,
	)
	return nil
}

// Start begins delivering frames to handler. handler runs on the device
// callback, receives frames in capture order, and must not block.
func (p *Pipeline) Start(handler FrameHandler) error {
	if handler == nil {
		return errors.New("capture: nil frame handler")
	}

	p.mu.Lock()
	switch {
	case p.closed:
		p.mu.Unlock()
		return ErrClosed
	case !p.acquired:
		p.mu.Unlock()
		return ErrNotAcquired
	case p.started:
		p.mu.Unlock()
		return ErrAlreadyStarted
	}
	p.handler = handler
	p.started = true
	p.mu.Unlock()

	if err := p.src.Start(p.onData); err != nil {
		p.mu.Lock()
		p.handler = nil
		p.started = false
		p.mu.Unlock()
		return fmt.Errorf("capture: start: %w", err)
	}
	return nil
}

// Close stops delivery and releases the device. Only the first call reaches
// the [Source]; later calls return nil.
func (p *Pipeline) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.handler = nil
	p.pending = nil
	p.mu.Unlock()

	// The source is closed outside the lock: device teardown waits for an
	// in-flight callback, which itself takes p.mu.
	if err := p.src.Close(); err != nil {
		return fmt.Errorf("capture: close: %w", err)
	}
	return nil
}

// onData is the device callback.
func (p *Pipeline) onData(samples []float32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed || p.handler == nil {
		return
	}

	mono := audio.DownmixToMono(samples, p.channels)
	p.pending = append(p.pending, p.resampler.Process(mono)...)

	for len(p.pending) >= p.frameSize {
		frame := audio.Frame{
			Samples:    make([]float32, p.frameSize),
			SampleRate: audio.InputSampleRate,
			Timestamp:  audio.SamplesDuration(p.emitted, audio.InputSampleRate),
		}
		copy(frame.Samples, p.pending)
		p.pending = append(p.pending[:0], p.pending[p.frameSize:]...)
		p.emitted += p.frameSize
		p.handler(frame)
	}
}
