package rtp

import (
	"fmt"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"
)

// PortPool hands out even-numbered local UDP ports for media sessions.
//
// At most maxConcurrent ports are in use at once. When the bound is reached
// the smallest in-use port is reclaimed and handed to the new owner. The
// caller is told who held it, so the previous holder can be shut down.
type PortPool struct {
	mu            sync.Mutex
	base          int
	maxConcurrent int
	inUse         map[int]string
}

// NewPortPool creates a pool starting at base, which must be even.
func NewPortPool(base, maxConcurrent int) (*PortPool, error) {
	if base < 1024 || base%2 != 0 {
		return nil, fmt.Errorf("%w: base port %d must be even and >= 1024", ErrInvalidPortRange, base)
	}
	if maxConcurrent < 1 {
		return nil, fmt.Errorf("%w: max concurrent %d must be positive", ErrInvalidPortRange, maxConcurrent)
	}
	if base+2*(maxConcurrent-1) > 65534 {
		return nil, fmt.Errorf("%w: %d ports from %d exceed 65534", ErrInvalidPortRange, maxConcurrent, base)
	}

	return &PortPool{
		base:          base,
		maxConcurrent: maxConcurrent,
		inUse:         make(map[int]string, maxConcurrent),
	}, nil
}

// Allocate assigns the lowest free even port at or above the base to owner.
// At the bound the smallest in-use port changes hands instead, and
// reclaimed is true with previous naming its former owner.
func (p *PortPool) Allocate(owner string) (port int, previous string, reclaimed bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.inUse) >= p.maxConcurrent {
		port = p.smallestLocked()
		previous = p.inUse[port]
		p.inUse[port] = owner
		logrus.WithFields(logrus.Fields{
			"function":       "PortPool.Allocate",
			"port":           port,
			"owner":          owner,
			"previous_owner": previous,
			"max_concurrent": p.maxConcurrent,
		}).Warn("Port pool exhausted, reclaiming smallest in-use port")
		return port, previous, true
	}

	port = p.base
	for {
		if _, taken := p.inUse[port]; !taken {
			break
		}
		port += 2
	}
	p.inUse[port] = owner

	logrus.WithFields(logrus.Fields{
		"function": "PortPool.Allocate",
		"port":     port,
		"owner":    owner,
		"in_use":   len(p.inUse),
	}).Debug("Allocated RTP port")

	return port, "", false
}

// Release returns port to the pool if owner still holds it. It reports
// whether the port was freed; unknown ports and ports that were reclaimed
// by someone else are left alone.
func (p *PortPool) Release(port int, owner string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	current, ok := p.inUse[port]
	if !ok || current != owner {
		return false
	}
	delete(p.inUse, port)

	logrus.WithFields(logrus.Fields{
		"function": "PortPool.Release",
		"port":     port,
		"owner":    owner,
		"in_use":   len(p.inUse),
	}).Debug("Released RTP port")
	return true
}

// InUse returns the allocated ports in ascending order.
func (p *PortPool) InUse() []int {
	p.mu.Lock()
	defer p.mu.Unlock()

	ports := make([]int, 0, len(p.inUse))
	for port := range p.inUse {
		ports = append(ports, port)
	}
	sort.Ints(ports)
	return ports
}

func (p *PortPool) smallestLocked() int {
	smallest := -1
	for port := range p.inUse {
		if smallest == -1 || port < smallest {
			smallest = port
		}
	}
	return smallest
}
