package rtpgateway

import (
	"time"

	"github.com/gorilla/websocket"
)

// defaultStopWait bounds how long teardown waits for the model connection.
const defaultStopWait = 2 * time.Second

// Option customises a Gateway.
type Option func(*Gateway)

// WithDialer sets the websocket dialer used for every model connection.
func WithDialer(dialer *websocket.Dialer) Option {
	return func(g *Gateway) {
		g.dialer = dialer
	}
}

// WithRetryBackoff overrides the reconnect backoff.
func WithRetryBackoff(d time.Duration) Option {
	return func(g *Gateway) {
		g.retryBackoff = d
	}
}

// WithStopWait overrides the bounded wait for the model connection to
// close during teardown.
func WithStopWait(d time.Duration) Option {
	return func(g *Gateway) {
		if d > 0 {
			g.stopWait = d
		}
	}
}
