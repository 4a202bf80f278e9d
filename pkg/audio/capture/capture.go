// Package capture turns a platform microphone into a stream of fixed-size
// 16 kHz mono [audio.Frame] values.
//
// A [Source] is the platform adapter (see audio/device for the real device and
// audio/mock for tests). A [Pipeline] wraps a Source, downmixes and resamples
// whatever the device delivers, and slices the result into frames of
// [audio.DefaultFrameSize] samples. Frames are handed to the [FrameHandler]
// synchronously on the device callback, in capture order; the pipeline never
// queues.
package capture

import (
	"context"

	"github.com/MrWong99/signbridge/pkg/audio"
)

// Format describes the sample layout a [Source] delivers.
type Format struct {
	// SampleRate in Hz.
	SampleRate int

	// Channels is the number of interleaved channels (1 = mono).
	Channels int
}

// DefaultFormat is the format requested from a device when none is
// configured: mono at [audio.InputSampleRate].
var DefaultFormat = Format{SampleRate: audio.InputSampleRate, Channels: 1}

// Source is a platform microphone.
//
// Implementations must be safe for concurrent use of Close with the data
// callback.
type Source interface {
	// Open acquires the capture device, requesting want. Permission refusal
	// must be reported as [audio.ErrPermissionDenied] and a missing or busy
	// device as [audio.ErrDeviceUnavailable]. Open is never retried by
	// callers.
	Open(ctx context.Context, want Format) error

	// Format returns the format the device actually delivers. Valid after a
	// successful Open.
	Format() Format

	// Start begins delivering interleaved float32 samples to onData on the
	// device's callback thread. onData must not block.
	Start(onData func(samples []float32)) error

	// Close stops delivery and releases the device. It is safe to call on a
	// Source that was never opened and safe to call more than once.
	Close() error
}

// FrameHandler receives captured frames. It runs on the device callback and
// must not block; typical handlers encode the frame and hand it to a
// non-blocking transport send.
type FrameHandler func(audio.Frame)
