package audio

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// pcmScale maps a float sample in [-1, 1] onto the int16 range.
const pcmScale = 32768

// PCMMIMEType returns the MIME tag for 16-bit PCM at rate, e.g.
// "audio/pcm;rate=16000".
func PCMMIMEType(rate int) string {
	return "audio/pcm;rate=" + strconv.Itoa(rate)
}

// EncodePCM16 encodes samples captured at [InputSampleRate] into an
// [EncodedFrame]. See [EncodePCM16At].
func EncodePCM16(samples []float32) EncodedFrame {
	return EncodePCM16At(samples, InputSampleRate)
}

// EncodePCM16At scales each sample by 32768, rounds to the nearest integer,
// clamps to the int16 range, and serialises the result as little-endian
// bytes which are then base64 encoded. The function is pure: the same input
// always produces the same output.
func EncodePCM16At(samples []float32, rate int) EncodedFrame {
	return EncodedFrame{
		Data:     base64.StdEncoding.EncodeToString(Float32ToPCM16(samples)),
		MIMEType: PCMMIMEType(rate),
	}
}

// Float32ToPCM16 converts float samples to 16-bit little-endian PCM bytes.
// Samples outside [-1, 1] saturate at the int16 limits instead of wrapping.
func Float32ToPCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	PutPCM16(out, samples)
	return out
}

// PutPCM16 writes samples into dst as 16-bit little-endian PCM and returns
// the number of samples written, limited by len(dst)/2. It does not allocate,
// which makes it usable from audio device callbacks.
func PutPCM16(dst []byte, samples []float32) int {
	n := min(len(samples), len(dst)/2)
	for i := range n {
		binary.LittleEndian.PutUint16(dst[i*2:], uint16(quantize(samples[i])))
	}
	return n
}

// quantize converts one float sample to int16 with rounding and saturation.
func quantize(s float32) int16 {
	v := math.Round(float64(s) * pcmScale)
	switch {
	case math.IsNaN(v):
		return 0
	case v > math.MaxInt16:
		return math.MaxInt16
	case v < math.MinInt16:
		return math.MinInt16
	}
	return int16(v)
}

// DecodePCM16 converts 16-bit little-endian PCM bytes to float samples by
// dividing each value by 32768. An odd byte count is reported as [ErrDecode].
func DecodePCM16(pcm []byte) ([]float32, error) {
	if len(pcm)%2 != 0 {
		return nil, fmt.Errorf("%w: odd byte count %d", ErrDecode, len(pcm))
	}
	out := make([]float32, len(pcm)/2)
	for i := range out {
		out[i] = float32(int16(binary.LittleEndian.Uint16(pcm[i*2:]))) / pcmScale
	}
	return out, nil
}

// DecodeEncodedFrame reverses [EncodePCM16At]. Malformed base64 or PCM data
// is reported as [ErrDecode].
func DecodeEncodedFrame(f EncodedFrame) ([]float32, error) {
	pcm, err := base64.StdEncoding.DecodeString(f.Data)
	if err != nil {
		return nil, fmt.Errorf("%w: base64: %v", ErrDecode, err)
	}
	return DecodePCM16(pcm)
}

// ParsePCMRate extracts the rate parameter from a MIME tag produced by
// [PCMMIMEType]. It returns def when the tag carries no usable rate.
func ParsePCMRate(mimeType string, def int) int {
	_, params, ok := strings.Cut(mimeType, ";")
	if !ok {
		return def
	}
	for _, p := range strings.Split(params, ";") {
		k, v, ok := strings.Cut(strings.TrimSpace(p), "=")
		if !ok || !strings.EqualFold(k, "rate") {
			continue
		}
		if rate, err := strconv.Atoi(v); err == nil && rate > 0 {
			return rate
		}
	}
	return def
}
