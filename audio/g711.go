package audio

import "encoding/binary"

const (
	// ulawBias is added to the magnitude before the exponent search.
	ulawBias = 0x84
	// ulawClip is the largest magnitude representable after biasing.
	ulawClip = 32635
)

// LinearToULaw compands one 16-bit linear sample into an 8-bit µ-law code.
//
// The sign is taken from bit 15, the magnitude is clamped and biased, the
// exponent is the position of the highest set bit above the bias, the
// mantissa is the next four bits, and the result is one's-complemented.
func LinearToULaw(sample int16) byte {
	s := int32(sample)
	sign := (s >> 8) & 0x80
	if sign != 0 {
		s = -s
	}
	if s > ulawClip {
		s = ulawClip
	}
	s += ulawBias

	exponent := int32(7)
	for mask := int32(0x4000); s&mask == 0 && exponent > 0; mask >>= 1 {
		exponent--
	}
	mantissa := (s >> (exponent + 3)) & 0x0F

	return ^byte(sign | exponent<<4 | mantissa)
}

// ULawToLinear expands an 8-bit µ-law code back to a 16-bit linear sample.
// It is the exact inverse of LinearToULaw up to quantization.
func ULawToLinear(code byte) int16 {
	u := ^code
	sign := u & 0x80
	exponent := (u >> 4) & 0x07
	mantissa := u & 0x0F

	sample := ((int32(mantissa) << 3) + ulawBias) << exponent
	sample -= ulawBias
	if sign != 0 {
		return int16(-sample)
	}
	return int16(sample)
}

// EncodeULaw converts a 16-bit little-endian PCM buffer to µ-law.
// A trailing odd byte is ignored.
func EncodeULaw(pcm []byte) []byte {
	out := make([]byte, len(pcm)/2)
	for i := range out {
		out[i] = LinearToULaw(int16(binary.LittleEndian.Uint16(pcm[2*i:])))
	}
	return out
}

// DecodeULaw converts a µ-law buffer to 16-bit little-endian PCM.
func DecodeULaw(ulaw []byte) []byte {
	out := make([]byte, len(ulaw)*2)
	for i, code := range ulaw {
		binary.LittleEndian.PutUint16(out[2*i:], uint16(ULawToLinear(code)))
	}
	return out
}
