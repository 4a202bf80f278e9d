package playback

import (
	"container/heap"
	"sync"
	"time"

	"github.com/MrWong99/signbridge/pkg/audio"
)

// Compile-time interface assertion.
var _ Output = (*Timeline)(nil)

// defaultQueueCap is the initial capacity hint for the pending queue.
const defaultQueueCap = 16

// Timeline is a sample-accurate [Output] for pull-based devices. Scheduled
// buffers wait in a min-heap keyed on their start sample; each
// [Timeline.Render] call mixes every buffer overlapping the rendered window
// and advances the clock by the window length.
//
// The clock only moves when Render is called, so a Timeline whose device is
// stalled reports a frozen Now. All exported methods are safe for concurrent
// use.
type Timeline struct {
	rate int

	mu      sync.Mutex
	pos     int64     // samples rendered so far; the clock
	pending entryHeap // scheduled, not yet reached
	active  []entry   // overlapping the current render position
	seq     uint64    // monotonic counter for FIFO ordering
}

// NewTimeline returns an empty Timeline running at rate Hz. A non-positive
// rate falls back to [audio.OutputSampleRate].
func NewTimeline(rate int) *Timeline {
	if rate <= 0 {
		rate = audio.OutputSampleRate
	}
	t := &Timeline{
		rate:    rate,
		pending: make(entryHeap, 0, defaultQueueCap),
	}
	heap.Init(&t.pending)
	return t
}

// SampleRate returns the rate the timeline renders at.
func (t *Timeline) SampleRate() int { return t.rate }

// Now implements [Output]. It returns the duration of audio rendered so far.
func (t *Timeline) Now() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return audio.SamplesDuration(int(t.pos), t.rate)
}

// Schedule implements [Output]. Buffers at a different rate are resampled to
// the timeline rate. A start position before the current clock skips the
// part of buf that would already have played.
func (t *Timeline) Schedule(buf Buffer, at time.Duration) {
	samples := buf.Samples
	if buf.SampleRate > 0 && buf.SampleRate != t.rate {
		samples = audio.ResampleMono(samples, buf.SampleRate, t.rate)
	}
	if len(samples) == 0 {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.seq++
	heap.Push(&t.pending, entry{
		samples: samples,
		start:   t.sampleAt(at),
		seq:     t.seq,
	})
}

// Render fills dst with the mix of every buffer overlapping the next
// len(dst) samples and advances the clock by len(dst). Positions with no
// scheduled audio are rendered as silence. The mix is clamped to [-1, 1].
func (t *Timeline) Render(dst []float32) {
	clear(dst)
	if len(dst) == 0 {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	winStart := t.pos
	winEnd := winStart + int64(len(dst))

	for t.pending.Len() > 0 && t.pending[0].start < winEnd {
		e := heap.Pop(&t.pending).(entry)
		if e.end() <= winStart {
			continue // entirely in the past
		}
		t.active = append(t.active, e)
	}

	kept := t.active[:0]
	for _, e := range t.active {
		from := max(e.start, winStart)
		to := min(e.end(), winEnd)
		for p := from; p < to; p++ {
			dst[p-winStart] += e.samples[p-e.start]
		}
		if e.end() > winEnd {
			kept = append(kept, e)
		}
	}
	for i := len(kept); i < len(t.active); i++ {
		t.active[i] = entry{}
	}
	t.active = kept

	for i, s := range dst {
		if s > 1 {
			dst[i] = 1
		} else if s < -1 {
			dst[i] = -1
		}
	}
	t.pos = winEnd
}

// Pending returns the number of buffers that have not finished playing.
func (t *Timeline) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pending.Len() + len(t.active)
}

// Clear discards every scheduled buffer. The clock keeps running.
func (t *Timeline) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	clear(t.pending)
	t.pending = t.pending[:0]
	clear(t.active)
	t.active = t.active[:0]
}

// sampleAt converts a clock position to the nearest sample index.
// The caller must hold t.mu.
func (t *Timeline) sampleAt(at time.Duration) int64 {
	if at <= 0 {
		return 0
	}
	return (int64(at)*int64(t.rate) + int64(time.Second)/2) / int64(time.Second)
}
