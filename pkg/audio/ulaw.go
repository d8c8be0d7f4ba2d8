package audio

// G.711 µ-law encoding constants.
const (
	ulawBias = 0x84  // 132, added before segment search
	ulawClip = 32635 // maximum magnitude representable after bias
)

// EncodeUlaw converts a frame of signed 16-bit linear PCM to G.711 µ-law,
// one byte per sample. This is the narrowband logarithmic encoding expected
// by the recognition backend and persisted by the recording sink.
func EncodeUlaw(samples []int16) []byte {
	out := make([]byte, len(samples))
	for i, s := range samples {
		out[i] = EncodeUlawSample(s)
	}
	return out
}

// EncodeUlawSample converts a single linear sample to its µ-law code.
func EncodeUlawSample(s int16) byte {
	v := int32(s)
	var sign int32
	if v < 0 {
		v = -v
		sign = 0x80
	}
	if v > ulawClip {
		v = ulawClip
	}
	v += ulawBias

	// Segment number is the position of the most significant bit above bit 7.
	exp := int32(7)
	for mask := int32(0x4000); v&mask == 0; mask >>= 1 {
		exp--
	}
	mantissa := (v >> (exp + 3)) & 0x0F

	return byte(^(sign | exp<<4 | mantissa))
}

// DecodeUlawSample expands a µ-law code back to a linear sample. Used by
// offline tooling that inspects recorded .ul captures.
func DecodeUlawSample(c byte) int16 {
	u := int32(^c)
	sign := u & 0x80
	exp := (u >> 4) & 0x07
	mantissa := u & 0x0F

	v := ((mantissa << 3) + ulawBias) << exp
	v -= ulawBias
	if sign != 0 {
		v = -v
	}
	return int16(v)
}
