package turn

// Signal is a coalescing, multi-shot notification. Any number of Notify
// calls between two receives collapse into one pending signal.
type Signal struct {
	ch chan struct{}
}

// NewSignal returns a Signal with nothing pending.
func NewSignal() *Signal {
	return &Signal{ch: make(chan struct{}, 1)}
}

// Notify marks the signal pending. It never blocks.
func (s *Signal) Notify() {
	select {
	case s.ch <- struct{}{}:
	default:
	}
}

// C returns the channel that receives pending signals.
func (s *Signal) C() <-chan struct{} {
	return s.ch
}

// Reset discards a pending signal, if any.
func (s *Signal) Reset() {
	select {
	case <-s.ch:
	default:
	}
}
