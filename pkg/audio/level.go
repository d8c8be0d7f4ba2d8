// Package audio provides the frame-level audio primitives shared by the
// endpointer and the recognition bridge: loudness estimation over signed
// 16-bit linear PCM and G.711 µ-law conversion.
//
// All functions are pure and allocation-predictable so they can run on the
// media-delivery path once per frame without contention.
package audio

// SamplesPerMs is the narrowband telephony sample rate expressed as samples
// per millisecond (8 kHz).
const SamplesPerMs = 8

// Level returns the mean absolute sample magnitude of a frame of signed
// 16-bit linear PCM, rounded down. The result is in [0, 32767] for any
// realistic frame.
//
// The frame must be non-empty. Zero-length frames are a caller bug; callers
// gate on frame length before classification.
func Level(samples []int16) int {
	var sum int64
	for _, s := range samples {
		v := int64(s)
		if v < 0 {
			v = -v
		}
		sum += v
	}
	return int(sum / int64(len(samples)))
}

// DecodeSamples reinterprets little-endian 16-bit PCM bytes as int16 samples.
// A trailing odd byte is ignored.
func DecodeSamples(pcm []byte) []int16 {
	n := len(pcm) / 2
	out := make([]int16, n)
	for i := range n {
		out[i] = int16(pcm[i*2]) | int16(pcm[i*2+1])<<8
	}
	return out
}

// FrameDurationMs returns the duration in whole milliseconds of a frame of
// narrowband samples.
func FrameDurationMs(sampleCount int) int {
	return sampleCount / SamplesPerMs
}
