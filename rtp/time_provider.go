package rtp

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"time"
)

// Ticker is the subset of time.Ticker the pacer depends on.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// TimeProvider is an interface for getting the current time and creating tickers.
// This allows injecting a mock time provider for deterministic testing.
type TimeProvider interface {
	// Now returns the current time.
	Now() time.Time
	// NewTicker creates a new ticker that fires at the given interval.
	NewTicker(d time.Duration) Ticker
}

// RealTimeProvider implements TimeProvider using the actual system time.
type RealTimeProvider struct{}

// Now returns the current system time.
func (RealTimeProvider) Now() time.Time {
	return time.Now()
}

// NewTicker creates a new ticker using the standard library.
func (RealTimeProvider) NewTicker(d time.Duration) Ticker {
	return &realTicker{ticker: time.NewTicker(d)}
}

type realTicker struct {
	ticker *time.Ticker
}

func (t *realTicker) C() <-chan time.Time { return t.ticker.C }

func (t *realTicker) Stop() { t.ticker.Stop() }

// SSRCProvider generates synchronization source identifiers.
type SSRCProvider interface {
	GenerateSSRC() (uint32, error)
}

// RandomSSRCProvider draws SSRCs from crypto/rand.
type RandomSSRCProvider struct{}

// GenerateSSRC returns a uniformly random 32-bit SSRC.
func (RandomSSRCProvider) GenerateSSRC() (uint32, error) {
	buf := make([]byte, 4)
	if _, err := rand.Read(buf); err != nil {
		return 0, fmt.Errorf("failed to generate SSRC: %w", err)
	}
	return binary.BigEndian.Uint32(buf), nil
}

// randomSequence returns an initial sequence number in [0, 65534].
func randomSequence() (uint16, error) {
	buf := make([]byte, 2)
	if _, err := rand.Read(buf); err != nil {
		return 0, fmt.Errorf("failed to generate sequence number: %w", err)
	}
	return uint16(uint32(binary.BigEndian.Uint16(buf)) % 65535), nil
}
