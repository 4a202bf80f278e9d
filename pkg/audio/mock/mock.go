// Package mock provides in-memory mock implementations of [capture.Source]
// and [playback.Device] for use in unit tests.
//
// All mocks are safe for concurrent use. They record every method call so that
// tests can assert on call counts and arguments, and they expose exported fields
// that the test can set to control return values.
//
// Typical usage:
//
//	src := &mock.Source{OpenErr: audio.ErrPermissionDenied}
//	dev := &mock.Device{}
//	// ... hand src and dev to the code under test ...
//	src.Emit(make([]float32, 4096)) // simulate one hardware callback
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/signbridge/pkg/audio/capture"
	"github.com/MrWong99/signbridge/pkg/audio/playback"
)

// Compile-time interface assertions.
var (
	_ capture.Source  = (*Source)(nil)
	_ playback.Device = (*Device)(nil)
)

// ─── Source ───────────────────────────────────────────────────────────────────

// Source is a mock implementation of [capture.Source].
// Set the exported Err fields before use; inspect the call counters after.
type Source struct {
	mu sync.Mutex

	// DeliveredFormat is returned by Format. Defaults to the requested
	// format when left zero.
	DeliveredFormat capture.Format

	// OpenErr is returned by Open.
	OpenErr error

	// StartErr is returned by Start.
	StartErr error

	// CloseErr is returned by Close.
	CloseErr error

	// OpenBlock, when non-nil, makes Open wait until it is closed or ctx
	// is done.
	OpenBlock chan struct{}

	// CallCountOpen records how many times Open was called.
	CallCountOpen int

	// CallCountStart records how many times Start was called.
	CallCountStart int

	// CallCountClose records how many times Close was called.
	CallCountClose int

	// Requested is the format passed to the last Open.
	Requested capture.Format

	onData func([]float32)
}

// Open implements [capture.Source].
func (s *Source) Open(ctx context.Context, want capture.Format) error {
	s.mu.Lock()
	s.CallCountOpen++
	s.Requested = want
	block := s.OpenBlock
	err := s.OpenErr
	s.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

// Format implements [capture.Source].
func (s *Source) Format() capture.Format {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.DeliveredFormat.SampleRate > 0 {
		return s.DeliveredFormat
	}
	return s.Requested
}

// Start implements [capture.Source]. The callback is stored and invoked by
// [Source.Emit].
func (s *Source) Start(onData func([]float32)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountStart++
	if s.StartErr != nil {
		return s.StartErr
	}
	s.onData = onData
	return nil
}

// Close implements [capture.Source]. Returns CloseErr.
func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountClose++
	s.onData = nil
	return s.CloseErr
}

// Emit simulates one hardware callback delivering samples. It returns false
// when no callback is registered (never started, or closed).
func (s *Source) Emit(samples []float32) bool {
	s.mu.Lock()
	cb := s.onData
	s.mu.Unlock()
	if cb == nil {
		return false
	}
	cb(samples)
	return true
}

// Running reports whether a data callback is currently registered.
func (s *Source) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.onData != nil
}

// Closes returns how many times Close was called.
func (s *Source) Closes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.CallCountClose
}

// Opens returns how many times Open was called.
func (s *Source) Opens() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.CallCountOpen
}

// ─── Device ───────────────────────────────────────────────────────────────────

// ScheduleCall records the arguments of a single [Device.Schedule] invocation.
type ScheduleCall struct {
	// Buffer is the buffer passed to Schedule.
	Buffer playback.Buffer

	// At is the clock position passed to Schedule.
	At time.Duration
}

// Device is a mock implementation of [playback.Device] with a manually driven
// clock.
type Device struct {
	mu sync.Mutex

	// OpenErr is returned by Open.
	OpenErr error

	// CloseErr is returned by Close.
	CloseErr error

	// CallCountOpen records how many times Open was called.
	CallCountOpen int

	// CallCountClose records how many times Close was called.
	CallCountClose int

	// Rate is the rate passed to the last Open.
	Rate int

	// ScheduleCalls records all Schedule invocations made while open.
	ScheduleCalls []ScheduleCall

	now  time.Duration
	open bool
}

// Open implements [playback.Device].
func (d *Device) Open(_ context.Context, rate int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.CallCountOpen++
	d.Rate = rate
	if d.OpenErr != nil {
		return d.OpenErr
	}
	d.open = true
	return nil
}

// Now implements [playback.Output].
func (d *Device) Now() time.Duration {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.now
}

// Schedule implements [playback.Output]. Calls on a closed device are ignored.
func (d *Device) Schedule(buf playback.Buffer, at time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.open {
		return
	}
	d.ScheduleCalls = append(d.ScheduleCalls, ScheduleCall{Buffer: buf, At: at})
}

// Close implements [playback.Device]. Returns CloseErr.
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.CallCountClose++
	d.open = false
	return d.CloseErr
}

// Advance moves the clock forward by delta.
func (d *Device) Advance(delta time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.now += delta
}

// Scheduled returns a snapshot of ScheduleCalls.
func (d *Device) Scheduled() []ScheduleCall {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]ScheduleCall, len(d.ScheduleCalls))
	copy(out, d.ScheduleCalls)
	return out
}

// IsOpen reports whether the device is between Open and Close.
func (d *Device) IsOpen() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.open
}

// Closes returns how many times Close was called.
func (d *Device) Closes() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.CallCountClose
}
