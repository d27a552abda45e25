// Package audio provides the transcoding pipeline between the AI session and
// the telephony leg.
//
// The AI session produces 16-bit little-endian linear PCM at 24 kHz. The
// telephony leg expects 8-bit µ-law at 8 kHz. The pipeline is:
//
//	Playback: PCM16 24 kHz → Decimate 3:1 → PCM16 8 kHz → µ-law → RTP Pacer
//	Capture:  RTP payload (µ-law 8 kHz) → forwarded untouched to the AI session
//
// # Core Components
//
// ## Decimation
//
// Decimate3to1 keeps every third sample. There is no anti-aliasing filter;
// speech intelligibility is acceptable at 24→8 kHz.
//
//	pcm8k := audio.Decimate3to1(pcm24k)
//
// ## G.711 µ-law
//
// LinearToULaw and ULawToLinear implement the ITU-T G.711 µ-law companding
// law with integer arithmetic only. EncodeULaw and DecodeULaw operate on whole
// PCM16 buffers.
//
// ## Silence
//
// SilenceByte (0xFF) is the µ-law code for a zero sample. IsSilence reports
// buffers that carry no audio, and SilenceFrames builds frame-aligned padding
// that PadUtteranceStart prepends to the first chunk of an utterance.
//
// # Thread Safety
//
// All functions are pure and safe for concurrent use.
package audio
