package rtpgateway

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/opd-ai/rtpgateway/realtime"
	"github.com/opd-ai/rtpgateway/rtp"
	"github.com/opd-ai/rtpgateway/turn"
)

// CallSession is the per-call state shared by the receiver, the pacer and
// the realtime client.
type CallSession struct {
	channelID     string
	correlationID string
	startedAt     time.Time

	port   int
	remote atomic.Pointer[net.UDPAddr]
	active atomic.Bool

	meter  *realtime.UtteranceMeter
	signal *turn.Signal

	client   atomic.Pointer[realtime.Client]
	pacer    *rtp.Pacer
	receiver *rtp.Receiver

	limitTimer *time.Timer

	ctx      context.Context
	cancel   context.CancelFunc
	stopOnce sync.Once
}

func newCallSession(channelID string, remote *net.UDPAddr) *CallSession {
	ctx, cancel := context.WithCancel(context.Background())
	s := &CallSession{
		channelID:     channelID,
		correlationID: uuid.NewString(),
		startedAt:     time.Now(),
		meter:         &realtime.UtteranceMeter{},
		signal:        turn.NewSignal(),
		ctx:           ctx,
		cancel:        cancel,
	}
	if remote != nil {
		s.remote.Store(remote)
	}
	s.active.Store(true)
	return s
}

// ChannelID returns the call identifier.
func (s *CallSession) ChannelID() string { return s.channelID }

// CorrelationID returns the id attached to every log line of this call.
func (s *CallSession) CorrelationID() string { return s.correlationID }

// StartedAt returns when the session was created.
func (s *CallSession) StartedAt() time.Time { return s.startedAt }

// Port returns the local media port.
func (s *CallSession) Port() int { return s.port }

// RemoteAddr returns the caller's media address, or nil before the first
// inbound packet when none was supplied.
func (s *CallSession) RemoteAddr() *net.UDPAddr {
	return s.remote.Load()
}

// LearnRemote stores addr if no remote address is known yet.
func (s *CallSession) LearnRemote(addr *net.UDPAddr) bool {
	return s.remote.CompareAndSwap(nil, addr)
}

// IsActive reports whether the call has not been torn down.
func (s *CallSession) IsActive() bool {
	return s.active.Load()
}

// Client returns the realtime client, or nil while it is being created.
func (s *CallSession) Client() *realtime.Client {
	return s.client.Load()
}

// Pacer returns the outbound pacer.
func (s *CallSession) Pacer() *rtp.Pacer { return s.pacer }

// Receiver returns the inbound receiver.
func (s *CallSession) Receiver() *rtp.Receiver { return s.receiver }

// IsOpen reports whether inbound audio can be forwarded to the model.
func (s *CallSession) IsOpen() bool {
	client := s.client.Load()
	return s.IsActive() && client != nil && client.IsOpen()
}

// AppendInputAudio forwards caller audio to the model.
func (s *CallSession) AppendInputAudio(payload []byte) error {
	client := s.client.Load()
	if client == nil {
		return realtime.ErrNotOpen
	}
	return client.AppendInputAudio(payload)
}

// QueueLen returns the number of packets waiting in the pacer.
func (s *CallSession) QueueLen() int {
	if s.pacer == nil {
		return 0
	}
	return s.pacer.QueueLen()
}

// StagedLen returns the bytes in the pacer staging buffer.
func (s *CallSession) StagedLen() int {
	if s.pacer == nil {
		return 0
	}
	return s.pacer.StagedLen()
}

// TotalBytes returns the µ-law bytes of the current utterance.
func (s *CallSession) TotalBytes() int64 {
	return s.meter.Total()
}

// Signal returns the drained notification fed by the pacer.
func (s *CallSession) Signal() *turn.Signal {
	return s.signal
}

// Done is closed when the session is torn down.
func (s *CallSession) Done() <-chan struct{} {
	return s.ctx.Done()
}
