package realtime

import "sync"

// UtteranceMeter counts µ-law bytes emitted for the current utterance.
//
// Finish marks the utterance complete without clearing it, so the total
// stays readable while playback drains; the next Add starts over.
type UtteranceMeter struct {
	mu       sync.Mutex
	total    int64
	finished bool
}

// Add records n bytes and returns the utterance total including them.
func (m *UtteranceMeter) Add(n int64) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.finished {
		m.total = 0
		m.finished = false
	}
	m.total += n
	return m.total
}

// Total returns the bytes of the current or most recently finished utterance.
func (m *UtteranceMeter) Total() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.total
}

// Finish ends the current utterance.
func (m *UtteranceMeter) Finish() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.finished = true
}

// Finished reports whether the last utterance has ended.
func (m *UtteranceMeter) Finished() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.finished
}
