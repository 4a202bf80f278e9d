// Package audio defines the sample types, wire encoding, and resampling
// helpers shared by the SignBridge live audio pipeline.
//
// Audio moves through the system in two shapes:
//
//   - [Frame]: a block of float32 samples in [-1, 1] at a known sample rate.
//     Capture produces frames at [InputSampleRate]; the playback side decodes
//     server chunks into frames at [OutputSampleRate].
//   - [EncodedFrame]: the transport-ready form of a frame: 16-bit
//     little-endian PCM, base64 encoded, tagged with a MIME type that names
//     the sample format and rate.
//
// Platform adapters (microphones, speakers) live in sub-packages such as
// audio/device and are reached through the interfaces in audio/capture and
// audio/playback.
package audio

import (
	"errors"
	"time"
)

const (
	// InputSampleRate is the capture rate expected by the realtime endpoint.
	InputSampleRate = 16_000

	// OutputSampleRate is the rate of synthesised audio pushed by the endpoint.
	OutputSampleRate = 24_000

	// DefaultFrameSize is the number of samples in one captured frame
	// (256 ms at [InputSampleRate]).
	DefaultFrameSize = 4096
)

var (
	// ErrPermissionDenied is returned when the user or the operating system
	// refuses access to the microphone.
	ErrPermissionDenied = errors.New("audio: microphone permission denied")

	// ErrDeviceUnavailable is returned when no suitable capture or playback
	// device exists or the device cannot be opened.
	ErrDeviceUnavailable = errors.New("audio: device unavailable")

	// ErrDecode is returned when an inbound audio payload is malformed.
	ErrDecode = errors.New("audio: malformed audio payload")
)

// Frame is a single block of mono audio samples flowing through the pipeline.
// Frames are treated as immutable once produced; consumers that need to keep
// the samples beyond the handler call may retain the slice.
type Frame struct {
	// Samples holds mono float32 samples, nominally in [-1, 1].
	Samples []float32

	// SampleRate in Hz (16000 for capture, 24000 for playback).
	SampleRate int

	// Timestamp marks the position of the first sample relative to the start
	// of the stream that produced it.
	Timestamp time.Duration
}

// Duration returns the playback length of the frame.
func (f Frame) Duration() time.Duration {
	return SamplesDuration(len(f.Samples), f.SampleRate)
}

// EncodedFrame is the transport-safe representation of a [Frame].
type EncodedFrame struct {
	// Data is base64 (standard alphabet) encoded 16-bit little-endian PCM.
	Data string

	// MIMEType names the sample format and rate, e.g. "audio/pcm;rate=16000".
	MIMEType string
}

// SamplesDuration converts a sample count at rate into a duration, rounded
// to the nearest nanosecond. A non-positive rate yields zero.
func SamplesDuration(samples, rate int) time.Duration {
	if rate <= 0 || samples <= 0 {
		return 0
	}
	return time.Duration((int64(samples)*int64(time.Second) + int64(rate)/2) / int64(rate))
}
