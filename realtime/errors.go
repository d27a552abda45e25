package realtime

import "errors"

var (
	// ErrMissingCredentials indicates no API key was configured.
	ErrMissingCredentials = errors.New("missing realtime API key")

	// ErrReconnectExhausted indicates the lifetime retry budget is spent.
	ErrReconnectExhausted = errors.New("realtime reconnect attempts exhausted")

	// ErrNotOpen indicates the connection is not in the OPEN state.
	ErrNotOpen = errors.New("realtime connection not open")

	// ErrClientClosed indicates Close has been called.
	ErrClientClosed = errors.New("realtime client closed")

	// ErrNoPlayback indicates a client was configured without a playback sink.
	ErrNoPlayback = errors.New("playback sink cannot be nil")
)
