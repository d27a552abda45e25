package rtp

import "time"

// Inter-packet interval window considered normal for 20 ms pacing.
const (
	minNormalPtime = 10 * time.Millisecond
	maxNormalPtime = 60 * time.Millisecond
)

// PtimeStats accumulates inter-packet intervals that fall inside the
// normal window.
type PtimeStats struct {
	Count int
	Total time.Duration
	Min   time.Duration
	Max   time.Duration
}

// Record folds in one interval and reports whether it was inside the
// normal window. Out-of-window intervals are not accumulated.
func (s *PtimeStats) Record(interval time.Duration) bool {
	if interval < minNormalPtime || interval > maxNormalPtime {
		return false
	}
	if s.Count == 0 || interval < s.Min {
		s.Min = interval
	}
	if interval > s.Max {
		s.Max = interval
	}
	s.Count++
	s.Total += interval
	return true
}

// Mean returns the average accumulated interval, or zero.
func (s PtimeStats) Mean() time.Duration {
	if s.Count == 0 {
		return 0
	}
	return s.Total / time.Duration(s.Count)
}

// PacerStats is a snapshot of pacer counters.
type PacerStats struct {
	PacketsSent uint64
	BytesSent   uint64
	SendErrors  uint64
	Dropped     uint64
	Ptime       PtimeStats
}

// ReceiverStats is a snapshot of receiver counters.
type ReceiverStats struct {
	PacketsReceived  uint64
	BytesReceived    uint64
	PacketsForwarded uint64
	PacketsDropped   uint64
	ForwardErrors    uint64
}
