package audio

import (
	"encoding/binary"

	"github.com/opd-ai/rtpgateway/limits"
)

// decimationFactor is the ratio between model and telephony sample rates.
const decimationFactor = limits.ModelSampleRate / limits.SampleRate

// Decimate3to1 keeps samples 0, 3, 6, ... of a 16-bit little-endian PCM
// buffer, turning 24 kHz audio into 8 kHz audio. No low-pass filter is
// applied before samples are dropped. A trailing odd byte is ignored.
func Decimate3to1(pcm []byte) []byte {
	samples := len(pcm) / 2
	if samples == 0 {
		return []byte{}
	}

	out := make([]byte, ((samples+decimationFactor-1)/decimationFactor)*2)
	for i, j := 0, 0; i < samples; i, j = i+decimationFactor, j+1 {
		binary.LittleEndian.PutUint16(out[2*j:], binary.LittleEndian.Uint16(pcm[2*i:]))
	}
	return out
}

// Transcode24kToULaw runs the full playback pipeline: 3:1 decimation of
// 24 kHz PCM16 followed by µ-law companding.
func Transcode24kToULaw(pcm []byte) []byte {
	return EncodeULaw(Decimate3to1(pcm))
}
