// Package playback schedules decoded server audio for gapless output.
//
// A [Scheduler] keeps a single "next start" cursor on the clock of an
// [Output]. Every enqueued [Buffer] starts at max(cursor, now) and advances
// the cursor by the buffer's duration, so consecutive chunks play back to
// back without overlap and a late chunk starts immediately instead of
// stacking on top of audio that already played.
//
// [Timeline] is a sample-accurate [Output] for pull-based audio devices: the
// device callback calls [Timeline.Render] and the timeline's clock is the
// number of samples rendered so far.
package playback

import (
	"time"

	"github.com/MrWong99/signbridge/pkg/audio"
)

// Buffer is one decoded chunk of mono float32 audio ready for playback.
type Buffer struct {
	// Samples holds mono samples, nominally in [-1, 1].
	Samples []float32

	// SampleRate in Hz. Must be > 0.
	SampleRate int
}

// Duration returns the playback length of the buffer.
func (b Buffer) Duration() time.Duration {
	return audio.SamplesDuration(len(b.Samples), b.SampleRate)
}

// Output is an audio sink with its own monotonic clock.
//
// Implementations must be safe for concurrent use: Now is typically read from
// the goroutine that receives server audio while the device advances the
// clock on its own thread.
type Output interface {
	// Now returns the current position of the output clock.
	Now() time.Duration

	// Schedule arranges for buf to start playing at the given clock position.
	// Positions in the past are honoured as far as possible: the portion of
	// buf that would already have played is skipped.
	Schedule(buf Buffer, at time.Duration)
}
