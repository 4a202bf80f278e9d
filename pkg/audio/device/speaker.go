package device

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gen2brain/malgo"

	"github.com/MrWong99/signbridge/pkg/audio"
	"github.com/MrWong99/signbridge/pkg/audio/playback"
)

var _ playback.Device = (*Speaker)(nil)

// Speaker plays a [playback.Timeline] through a sound card output. The
// device callback pulls samples from the timeline, so the timeline clock is
// exactly the amount of audio handed to the driver.
type Speaker struct {
	opts options

	mu   sync.Mutex
	actx *malgo.AllocatedContext
	dev  *malgo.Device

	timeline atomic.Pointer[playback.Timeline]

	// scratch is only touched from the driver callback.
	scratch []float32
}

// NewSpeaker returns an unopened Speaker.
func NewSpeaker(opts ...Option) *Speaker {
	return &Speaker{opts: buildOptions(opts)}
}

// Open implements [playback.Device].
func (s *Speaker) Open(ctx context.Context, rate int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if rate <= 0 {
		rate = audio.OutputSampleRate
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dev != nil {
		return nil
	}

	actx, err := initContext()
	if err != nil {
		return err
	}
	id, err := findDevice(actx, malgo.Playback, s.opts.deviceName)
	if err != nil {
		_ = freeContext(actx)
		return err
	}

	cfg := malgo.DefaultDeviceConfig(malgo.Playback)
	cfg.Playback.Format = malgo.FormatS16
	cfg.Playback.Channels = 1
	cfg.Playback.DeviceID = id
	cfg.SampleRate = uint32(rate)
	cfg.PeriodSizeInMilliseconds = s.opts.periodMs

	tl := playback.NewTimeline(rate)
	s.timeline.Store(tl)

	dev, err := malgo.InitDevice(actx.Context, cfg, malgo.DeviceCallbacks{
		Data: s.onFrames,
	})
	if err != nil {
		s.timeline.Store(nil)
		_ = freeContext(actx)
		return classify("open speaker", err)
	}
	if err := dev.Start(); err != nil {
		s.timeline.Store(nil)
		dev.Uninit()
		_ = freeContext(actx)
		return classify("start speaker", err)
	}

	s.actx = actx
	s.dev = dev
	slog.Info("speaker opened", "rate", rate, "device", s.opts.deviceName)
	return nil
}

// Now implements [playback.Output]. A closed speaker reports zero.
func (s *Speaker) Now() time.Duration {
	if tl := s.timeline.Load(); tl != nil {
		return tl.Now()
	}
	return 0
}

// Schedule implements [playback.Output]. Calls on a closed speaker are
// ignored.
func (s *Speaker) Schedule(buf playback.Buffer, at time.Duration) {
	if tl := s.timeline.Load(); tl != nil {
		tl.Schedule(buf, at)
	}
}

// Close implements [playback.Device].
func (s *Speaker) Close() error {
	if tl := s.timeline.Swap(nil); tl != nil {
		if n := tl.Pending(); n > 0 {
			slog.Debug("speaker: discarding queued audio", "buffers", n)
		}
		tl.Clear()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dev == nil {
		return nil
	}
	s.dev.Uninit()
	s.dev = nil
	err := freeContext(s.actx)
	s.actx = nil
	if err != nil {
		return fmt.Errorf("device: close speaker: %w", err)
	}
	slog.Info("speaker closed")
	return nil
}

// onFrames is the miniaudio data callback.
func (s *Speaker) onFrames(out, _ []byte, frames uint32) {
	tl := s.timeline.Load()
	if tl == nil {
		clear(out)
		return
	}
	n := min(int(frames), len(out)/bytesPerSample)
	if cap(s.scratch) < n {
		s.scratch = make([]float32, n)
	}
	buf := s.scratch[:n]
	tl.Render(buf)
	audio.PutPCM16(out, buf)
}
