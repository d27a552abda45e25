package rtpgateway

import "errors"

var (
	// ErrSessionExists indicates a call with the same channel id is live.
	ErrSessionExists = errors.New("session already exists")

	// ErrSessionNotFound indicates no live call has the channel id.
	ErrSessionNotFound = errors.New("session not found")

	// ErrGatewayClosed indicates Close has been called.
	ErrGatewayClosed = errors.New("gateway closed")

	// ErrNilConfig indicates New was called without a configuration.
	ErrNilConfig = errors.New("config cannot be nil")
)
