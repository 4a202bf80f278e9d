package playback

import "context"

// Device is a speaker that exposes its clock as an [Output].
//
// Lifecycle: Open → (Now / Schedule)* → Close. Close must be safe to call on
// a Device that was never opened and safe to call more than once. Schedule
// on a closed Device is a silent no-op.
type Device interface {
	Output

	// Open acquires the speaker at rate Hz (mono) and starts its clock.
	// Failures are reported as [audio.ErrDeviceUnavailable].
	Open(ctx context.Context, rate int) error

	// Close stops output, discards anything still scheduled and releases
	// the device.
	Close() error
}
