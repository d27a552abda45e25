package turn

import (
	"context"
	"time"

	"github.com/opd-ai/rtpgateway/limits"
	"github.com/sirupsen/logrus"
)

// Timing defaults for WaitForDelivery.
const (
	DefaultMaxWait      = 6 * time.Second
	DefaultPollInterval = 10 * time.Millisecond

	minDeliveryTimeout = time.Second
	deliveryGrace      = 500 * time.Millisecond
	pollLogInterval    = 50 * time.Millisecond
)

// Target is the playback state of one call.
type Target interface {
	QueueLen() int
	StagedLen() int
	TotalBytes() int64
	Signal() *Signal
}

// Synchronizer waits for utterances to finish playing.
type Synchronizer struct {
	MaxWait      time.Duration
	PollInterval time.Duration
}

// NewSynchronizer returns a Synchronizer with the given ceiling. A
// non-positive maxWait selects DefaultMaxWait.
func NewSynchronizer(maxWait time.Duration) *Synchronizer {
	if maxWait <= 0 {
		maxWait = DefaultMaxWait
	}
	return &Synchronizer{MaxWait: maxWait, PollInterval: DefaultPollInterval}
}

// DynamicTimeout returns the drain wait for an utterance of totalBytes
// µ-law bytes: its playback time rounded up to the millisecond plus a grace
// period, at least one second, and at most maxWait.
func DynamicTimeout(totalBytes int64, maxWait time.Duration) time.Duration {
	timeout := minDeliveryTimeout
	if totalBytes > 0 {
		playback := (limits.DurationOf(totalBytes) + time.Millisecond - 1).Truncate(time.Millisecond)
		if d := playback + deliveryGrace; d > timeout {
			timeout = d
		}
	}
	if maxWait > 0 && timeout > maxWait {
		timeout = maxWait
	}
	return timeout
}

// WaitForDelivery blocks until target has played out. It returns false if
// the queue did not empty within MaxWait or ctx was cancelled; a missing
// drain signal after the queue emptied is only a warning.
func (s *Synchronizer) WaitForDelivery(ctx context.Context, target Target) bool {
	maxWait := s.MaxWait
	if maxWait <= 0 {
		maxWait = DefaultMaxWait
	}
	poll := s.PollInterval
	if poll <= 0 {
		poll = DefaultPollInterval
	}

	totalBytes := target.TotalBytes()
	timeout := DynamicTimeout(totalBytes, maxWait)

	// A drain left over from a gap earlier in the utterance must not end
	// this wait once the current queue empties.
	if target.QueueLen() > 0 || target.StagedLen() > 0 {
		target.Signal().Reset()
	}

	start := time.Now()
	deadline := time.NewTimer(maxWait)
	defer deadline.Stop()
	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	var lastLog time.Time
	for target.QueueLen() > 0 || target.StagedLen() > 0 {
		if now := time.Now(); now.Sub(lastLog) >= pollLogInterval {
			lastLog = now
			logrus.WithFields(logrus.Fields{
				"function": "Synchronizer.WaitForDelivery",
				"queued":   target.QueueLen(),
				"staged":   target.StagedLen(),
				"elapsed":  now.Sub(start),
			}).Debug("Waiting for playback queue to empty")
		}

		select {
		case <-ctx.Done():
			return false
		case <-deadline.C:
			logrus.WithFields(logrus.Fields{
				"function": "Synchronizer.WaitForDelivery",
				"queued":   target.QueueLen(),
				"max_wait": maxWait,
			}).Warn("Playback queue did not empty in time")
			return false
		case <-ticker.C:
		}
	}

	drain := time.NewTimer(timeout)
	defer drain.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-target.Signal().C():
		logrus.WithFields(logrus.Fields{
			"function":    "Synchronizer.WaitForDelivery",
			"total_bytes": totalBytes,
			"duration":    limits.DurationOf(totalBytes),
			"elapsed":     time.Since(start),
		}).Debug("Utterance delivered")
	case <-drain.C:
		logrus.WithFields(logrus.Fields{
			"function":    "Synchronizer.WaitForDelivery",
			"total_bytes": totalBytes,
			"timeout":     timeout,
		}).Warn("No drain signal before timeout, assuming delivered")
	}
	return true
}
