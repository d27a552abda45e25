package rtp

import (
	"net"
	"sync"
	"time"
)

// MockSender records every datagram instead of sending it.
type MockSender struct {
	mu       sync.Mutex
	packets  [][]byte
	addrs    []net.Addr
	sendErr  error
	closed   bool
	closeCnt int
}

func (m *MockSender) WriteTo(p []byte, addr net.Addr) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sendErr != nil {
		return 0, m.sendErr
	}
	data := make([]byte, len(p))
	copy(data, p)
	m.packets = append(m.packets, data)
	m.addrs = append(m.addrs, addr)
	return len(p), nil
}

func (m *MockSender) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.closeCnt++
	return nil
}

func (m *MockSender) Packets() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]byte, len(m.packets))
	copy(out, m.packets)
	return out
}

// MockSSRCProvider returns a fixed SSRC.
type MockSSRCProvider struct {
	nextSSRC uint32
	err      error
}

func (m *MockSSRCProvider) GenerateSSRC() (uint32, error) { return m.nextSSRC, m.err }

// MockTimeProvider returns a manually advanced clock and tickers that never
// fire, so tests drive the pacer through stepPacer.
type MockTimeProvider struct {
	mu  sync.Mutex
	now time.Time
}

func NewMockTimeProvider() *MockTimeProvider {
	return &MockTimeProvider{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (m *MockTimeProvider) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

func (m *MockTimeProvider) Advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = m.now.Add(d)
}

func (m *MockTimeProvider) NewTicker(time.Duration) Ticker { return &mockTicker{} }

type mockTicker struct{}

func (*mockTicker) C() <-chan time.Time { return nil }

func (*mockTicker) Stop() {}

// stepPacer runs one tick of the currently running clock.
func stepPacer(p *Pacer) bool {
	p.mu.Lock()
	stop := p.stopCh
	p.mu.Unlock()
	if stop == nil {
		return false
	}
	return p.tick(stop)
}
