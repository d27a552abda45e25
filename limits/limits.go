// Package limits provides centralized size and timing limits for the media
// gateway. This ensures consistent validation across the RTP engine, the
// transcoder and the realtime client.
package limits

import (
	"errors"
	"fmt"
	"time"
)

const (
	// RTPHeaderSize is the fixed RTP header length (version, payload type,
	// sequence, timestamp, SSRC) with no CSRC entries and no extension.
	RTPHeaderSize = 12

	// SampleRate is the telephony sample rate in Hz.
	SampleRate = 8000

	// ModelSampleRate is the rate of linear PCM produced by the AI session.
	ModelSampleRate = 24000

	// FrameSize is the number of µ-law bytes (and samples) in one packet.
	FrameSize = 160

	// MaxStagingBuffer is the capacity of the pacer staging buffer (4 frames).
	MaxStagingBuffer = 4 * FrameSize

	// MaxDatagram is the largest inbound UDP datagram read by the receiver.
	MaxDatagram = 1500

	// BytesPerSecond is the µ-law byte rate at SampleRate.
	BytesPerSecond = SampleRate
)

const (
	// Ptime is the nominal interval between outbound RTP packets.
	Ptime = 20 * time.Millisecond

	// DispatchInterval is the period of the realtime dispatcher tick.
	DispatchInterval = 25 * time.Millisecond

	// DispatchBatch is the maximum number of messages processed per tick.
	DispatchBatch = 5
)

var (
	// ErrFrameEmpty indicates an empty frame or buffer was provided
	ErrFrameEmpty = errors.New("empty frame")

	// ErrFrameTooLarge indicates a frame or buffer exceeds its maximum size
	ErrFrameTooLarge = errors.New("frame too large")
)

// ValidateSize validates a buffer against the specified maximum size.
// Returns an error with context including the actual and maximum sizes.
func ValidateSize(data []byte, maxSize int) error {
	if len(data) == 0 {
		return ErrFrameEmpty
	}
	if len(data) > maxSize {
		return fmt.Errorf("%w: size %d exceeds limit %d", ErrFrameTooLarge, len(data), maxSize)
	}
	return nil
}

// ValidateDatagram validates an inbound datagram against MaxDatagram.
func ValidateDatagram(datagram []byte) error {
	return ValidateSize(datagram, MaxDatagram)
}

// FramesFor returns how many whole frames are needed to carry n bytes.
func FramesFor(n int) int {
	if n <= 0 {
		return 0
	}
	return (n + FrameSize - 1) / FrameSize
}

// DurationOf returns the playback duration of n µ-law bytes at SampleRate.
func DurationOf(n int64) time.Duration {
	if n <= 0 {
		return 0
	}
	return time.Duration(n) * time.Second / BytesPerSecond
}
