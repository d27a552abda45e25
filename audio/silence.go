package audio

import (
	"bytes"
	"time"

	"github.com/opd-ai/rtpgateway/limits"
)

// SilenceByte is the µ-law code of a zero sample.
const SilenceByte byte = 0xFF

// DefaultSilencePadding is prepended to the first chunk of every utterance.
const DefaultSilencePadding = 100 * time.Millisecond

// IsSilence reports whether buf carries no audio: it is empty or made
// entirely of SilenceByte.
func IsSilence(buf []byte) bool {
	if len(buf) == 0 {
		return true
	}
	for _, b := range buf {
		if b != SilenceByte {
			return false
		}
	}
	return true
}

// SilenceFrames returns frame-aligned silence covering at least d.
// Non-positive durations yield an empty buffer.
func SilenceFrames(d time.Duration) []byte {
	if d <= 0 {
		return []byte{}
	}
	frames := int((d + limits.Ptime - 1) / limits.Ptime)
	return bytes.Repeat([]byte{SilenceByte}, frames*limits.FrameSize)
}

// PadUtteranceStart prepends SilenceFrames(d) to ulaw.
func PadUtteranceStart(ulaw []byte, d time.Duration) []byte {
	pad := SilenceFrames(d)
	out := make([]byte, 0, len(pad)+len(ulaw))
	out = append(out, pad...)
	return append(out, ulaw...)
}

// PadFrame returns a new limits.FrameSize buffer holding frame followed by
// SilenceByte. Bytes beyond FrameSize are dropped.
func PadFrame(frame []byte) []byte {
	out := make([]byte, limits.FrameSize)
	n := copy(out, frame)
	for i := n; i < len(out); i++ {
		out[i] = SilenceByte
	}
	return out
}
