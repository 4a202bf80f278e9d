package device

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/gen2brain/malgo"

	"github.com/MrWong99/signbridge/pkg/audio"
	"github.com/MrWong99/signbridge/pkg/audio/capture"
)

var _ capture.Source = (*Microphone)(nil)

// Microphone captures from a sound card input through miniaudio.
type Microphone struct {
	opts options

	mu     sync.Mutex
	actx   *malgo.AllocatedContext
	dev    *malgo.Device
	format capture.Format
	closed bool

	onData atomic.Pointer[func([]float32)]
}

// NewMicrophone returns an unopened Microphone.
func NewMicrophone(opts ...Option) *Microphone {
	return &Microphone{opts: buildOptions(opts)}
}

// Open implements [capture.Source].
func (m *Microphone) Open(ctx context.Context, want capture.Format) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.dev != nil {
		return nil
	}
	if want.SampleRate <= 0 || want.Channels <= 0 {
		want = capture.DefaultFormat
	}

	actx, err := initContext()
	if err != nil {
		return err
	}
	id, err := findDevice(actx, malgo.Capture, m.opts.deviceName)
	if err != nil {
		_ = freeContext(actx)
		return err
	}

	cfg := malgo.DefaultDeviceConfig(malgo.Capture)
	cfg.Capture.Format = malgo.FormatS16
	cfg.Capture.Channels = uint32(want.Channels)
	cfg.Capture.DeviceID = id
	cfg.SampleRate = uint32(want.SampleRate)
	cfg.PeriodSizeInMilliseconds = m.opts.periodMs

	dev, err := malgo.InitDevice(actx.Context, cfg, malgo.DeviceCallbacks{
		Data: m.onFrames,
	})
	if err != nil {
		_ = freeContext(actx)
		return classify("open microphone", err)
	}

	m.actx = actx
	m.dev = dev
	m.format = want
	m.closed = false
	slog.Info("microphone opened", "rate", want.SampleRate, "channels", want.Channels, "device", m.opts.deviceName)
	return nil
}

// Format implements [capture.Source].
func (m *Microphone) Format() capture.Format {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.format
}

// Start implements [capture.Source].
func (m *Microphone) Start(onData func([]float32)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.dev == nil {
		return fmt.Errorf("%w: microphone not open", audio.ErrDeviceUnavailable)
	}
	m.onData.Store(&onData)
	if err := m.dev.Start(); err != nil {
		m.onData.Store(nil)
		return classify("start microphone", err)
	}
	return nil
}

// Close implements [capture.Source].
func (m *Microphone) Close() error {
	m.onData.Store(nil)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed || m.dev == nil {
		m.closed = true
		return nil
	}
	m.closed = true

	m.dev.Uninit()
	m.dev = nil
	err := freeContext(m.actx)
	m.actx = nil
	if err != nil {
		return fmt.Errorf("device: close microphone: %w", err)
	}
	slog.Info("microphone closed")
	return nil
}

// onFrames is the miniaudio data callback.
func (m *Microphone) onFrames(_, in []byte, _ uint32) {
	cb := m.onData.Load()
	if cb == nil || len(in) < bytesPerSample {
		return
	}
	samples, err := audio.DecodePCM16(in[:len(in)-len(in)%bytesPerSample])
	if err != nil {
		return
	}
	(*cb)(samples)
}
