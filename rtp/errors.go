package rtp

import "errors"

// Port allocation errors.
var (
	// ErrInvalidPortRange indicates the pool base or size cannot be served.
	ErrInvalidPortRange = errors.New("invalid RTP port range")
)

// Pacer errors.
var (
	// ErrBufferFull indicates a staging write would overflow the buffer.
	ErrBufferFull = errors.New("staging buffer full")

	// ErrSilentAudio indicates an empty or silence-only buffer was rejected.
	ErrSilentAudio = errors.New("empty or silent audio")

	// ErrPacerClosed indicates the pacer socket has been closed.
	ErrPacerClosed = errors.New("pacer closed")

	// ErrSessionInactive indicates the owning call session is gone.
	ErrSessionInactive = errors.New("call session inactive")
)

// Receiver errors.
var (
	// ErrReceiverClosed indicates the receiver socket has been closed.
	ErrReceiverClosed = errors.New("receiver closed")

	// ErrNoForwarder indicates a receiver was configured without a forwarder.
	ErrNoForwarder = errors.New("audio forwarder cannot be nil")
)
