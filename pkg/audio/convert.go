package audio

import (
	"fmt"
	"log/slog"
	"math"
	"sync"
)

// Resampler converts a continuous mono float32 stream from one sample rate to
// another using linear interpolation. It keeps the fractional read position
// and the last input sample between calls so that block boundaries produce no
// discontinuities.
//
// Create one per stream; a Resampler is not safe for concurrent use.
type Resampler struct {
	src, dst int

	pos     float64 // read position of the next output sample, relative to the current block
	last    float32 // final sample of the previous block
	hasLast bool

	warnOnce sync.Once
}

// NewResampler returns a Resampler converting from srcRate to dstRate.
func NewResampler(srcRate, dstRate int) *Resampler {
	return &Resampler{src: srcRate, dst: dstRate}
}

// Process resamples one block. When the rates match, or either rate is not
// positive, in is returned unchanged (zero allocation).
func (r *Resampler) Process(in []float32) []float32 {
	if r.src <= 0 || r.dst <= 0 || r.src == r.dst {
		return in
	}
	if len(in) == 0 {
		return nil
	}
	r.warnOnce.Do(func() {
		slog.Debug("audio resampler: converting",
			"from", formatString(r.src, 1),
			"to", formatString(r.dst, 1),
		)
	})

	n := len(in)
	ratio := float64(r.src) / float64(r.dst)
	at := func(i int) float32 {
		if i < 0 {
			if r.hasLast {
				return r.last
			}
			return in[0]
		}
		return in[i]
	}

	out := make([]float32, 0, int(math.Ceil(float64(n)/ratio))+1)
	for r.pos < float64(n-1) {
		i := int(math.Floor(r.pos))
		frac := float32(r.pos - float64(i))
		s0, s1 := at(i), at(i+1)
		out = append(out, s0+(s1-s0)*frac)
		r.pos += ratio
	}
	r.pos -= float64(n)
	r.last = in[n-1]
	r.hasLast = true
	return out
}

// Reset discards the carried stream state.
func (r *Resampler) Reset() {
	r.pos = 0
	r.last = 0
	r.hasLast = false
}

// ResampleMono resamples a complete mono block from srcRate to dstRate using
// linear interpolation. If srcRate == dstRate, the input is returned unchanged.
func ResampleMono(samples []float32, srcRate, dstRate int) []float32 {
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate || len(samples) < 2 {
		return samples
	}
	dstSamples := int(int64(len(samples)) * int64(dstRate) / int64(srcRate))
	if dstSamples == 0 {
		return nil
	}

	out := make([]float32, dstSamples)
	ratio := float64(srcRate) / float64(dstRate)
	for i := range dstSamples {
		srcPos := float64(i) * ratio
		srcIdx := int(srcPos)
		frac := float32(srcPos - float64(srcIdx))

		s0 := samples[srcIdx]
		s1 := s0
		if srcIdx+1 < len(samples) {
			s1 = samples[srcIdx+1]
		}
		out[i] = s0 + (s1-s0)*frac
	}
	return out
}

// DownmixToMono averages interleaved multi-channel samples into a mono
// stream. A channel count of one (or less) returns the input unchanged.
func DownmixToMono(interleaved []float32, channels int) []float32 {
	if channels <= 1 {
		return interleaved
	}
	frames := len(interleaved) / channels
	out := make([]float32, frames)
	for i := range frames {
		var sum float32
		for c := range channels {
			sum += interleaved[i*channels+c]
		}
		out[i] = sum / float32(channels)
	}
	return out
}

// formatString returns a human-readable string for a sample rate and channel count,
// e.g. "48000Hz stereo".
func formatString(rate, channels int) string {
	ch := "mono"
	if channels == 2 {
		ch = "stereo"
	} else if channels > 2 {
		ch = fmt.Sprintf("%dch", channels)
	}
	return fmt.Sprintf("%dHz %s", rate, ch)
}
