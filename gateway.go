package rtpgateway

import (
	"context"
	"fmt"
	"net"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/opd-ai/rtpgateway/config"
	"github.com/opd-ai/rtpgateway/realtime"
	"github.com/opd-ai/rtpgateway/rtp"
	"github.com/opd-ai/rtpgateway/turn"
	"github.com/sirupsen/logrus"
)

// Gateway owns the live calls and the resources they share.
type Gateway struct {
	cfg          *config.Config
	ports        *rtp.PortPool
	synchronizer *turn.Synchronizer

	dialer       *websocket.Dialer
	retryBackoff time.Duration
	stopWait     time.Duration

	mu          sync.Mutex
	sessions    map[string]*CallSession
	starting    map[string]struct{}
	closed      bool
	onDelivered func(channelID string)
}

// New validates cfg and creates a Gateway with no calls.
func New(cfg *config.Config, opts ...Option) (*Gateway, error) {
	if cfg == nil {
		return nil, ErrNilConfig
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid gateway config: %w", err)
	}

	ports, err := rtp.NewPortPool(cfg.RTPPortStart, cfg.MaxConcurrentCalls)
	if err != nil {
		return nil, fmt.Errorf("failed to create port pool: %w", err)
	}

	g := &Gateway{
		cfg:          cfg,
		ports:        ports,
		synchronizer: turn.NewSynchronizer(cfg.DeliveryMaxWait()),
		stopWait:     defaultStopWait,
		sessions:     make(map[string]*CallSession),
		starting:     make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(g)
	}

	logrus.WithFields(logrus.Fields{
		"function":       "New",
		"rtp_port_start": cfg.RTPPortStart,
		"max_calls":      cfg.MaxConcurrentCalls,
		"bind_address":   cfg.RTPBindAddress,
		"model":          cfg.Model,
	}).Info("Gateway created")

	return g, nil
}

// OnUtteranceDelivered registers the callback run after each successful
// WaitForDelivery.
func (g *Gateway) OnUtteranceDelivered(callback func(channelID string)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.onDelivered = callback
}

// StartSession sets up media and the model connection for a call. remote
// may be nil, in which case it is learned from the first inbound packet.
func (g *Gateway) StartSession(ctx context.Context, channelID string, remote *net.UDPAddr) (*CallSession, error) {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return nil, ErrGatewayClosed
	}
	_, live := g.sessions[channelID]
	_, pending := g.starting[channelID]
	if live || pending {
		g.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrSessionExists, channelID)
	}
	g.starting[channelID] = struct{}{}
	g.mu.Unlock()

	defer func() {
		g.mu.Lock()
		delete(g.starting, channelID)
		g.mu.Unlock()
	}()

	session := newCallSession(channelID, remote)
	if err := g.setup(ctx, session); err != nil {
		logrus.WithFields(logrus.Fields{
			"function":       "Gateway.StartSession",
			"channel_id":     channelID,
			"correlation_id": session.correlationID,
			"error":          err.Error(),
		}).Error("Failed to start session")
		g.teardown(session)
		return nil, fmt.Errorf("failed to start session %s: %w", channelID, err)
	}

	if limit := g.cfg.CallDurationLimit(); limit > 0 {
		session.limitTimer = time.AfterFunc(limit, func() {
			logrus.WithFields(logrus.Fields{
				"function":       "Gateway.StartSession",
				"channel_id":     channelID,
				"correlation_id": session.correlationID,
				"limit":          limit,
			}).Warn("Call duration limit reached")
			g.stopIfCurrent(session)
		})
	}

	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		g.teardown(session)
		return nil, ErrGatewayClosed
	}
	g.sessions[channelID] = session
	g.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function":       "Gateway.StartSession",
		"channel_id":     channelID,
		"correlation_id": session.correlationID,
		"port":           session.port,
	}).Info("Session started")

	return session, nil
}

func (g *Gateway) setup(ctx context.Context, session *CallSession) error {
	port, previous, reclaimed := g.ports.Allocate(session.correlationID)
	session.port = port
	if reclaimed {
		g.evict(previous, port)
	}

	receiver, err := rtp.NewReceiver(rtp.ReceiverConfig{
		ChannelID:   session.channelID,
		BindAddress: g.cfg.RTPBindAddress,
		Port:        session.port,
		Learner:     session,
		Forwarder:   session,
	})
	if err != nil {
		return err
	}
	session.receiver = receiver

	pacer, err := rtp.NewPacer(rtp.PacerConfig{
		ChannelID: session.channelID,
		Remote:    session.RemoteAddr,
		Active:    session.IsActive,
		OnDrained: session.signal.Notify,
	})
	if err != nil {
		return err
	}
	session.pacer = pacer

	client, err := realtime.NewClient(realtime.Config{
		ChannelID:         session.channelID,
		CorrelationID:     session.correlationID,
		URL:               g.cfg.RealtimeURL,
		APIKey:            g.cfg.APIKey,
		Model:             g.cfg.Model,
		SystemInstruction: g.cfg.SystemInstruction,
		SilencePadding:    g.cfg.SilencePadding(),
		Playback:          pacer,
		Meter:             session.meter,
		RetryBackoff:      g.retryBackoff,
		Dialer:            g.dialer,
	})
	if err != nil {
		return err
	}
	session.client.Store(client)

	return client.Connect(ctx)
}

// StopSession tears a call down. Unknown ids return ErrSessionNotFound.
func (g *Gateway) StopSession(channelID string) error {
	g.mu.Lock()
	session, ok := g.sessions[channelID]
	if ok {
		delete(g.sessions, channelID)
	}
	g.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, channelID)
	}
	g.teardown(session)
	return nil
}

// evict tears down the registered call whose port was just reclaimed, so
// its receiver lets go of the socket before the new call binds it.
func (g *Gateway) evict(owner string, port int) {
	g.mu.Lock()
	var victim *CallSession
	for id, session := range g.sessions {
		if session.correlationID == owner {
			victim = session
			delete(g.sessions, id)
			break
		}
	}
	g.mu.Unlock()

	if victim == nil {
		logrus.WithFields(logrus.Fields{
			"function":       "Gateway.evict",
			"port":           port,
			"correlation_id": owner,
		}).Warn("Reclaimed port has no registered session")
		return
	}

	logrus.WithFields(logrus.Fields{
		"function":       "Gateway.evict",
		"channel_id":     victim.channelID,
		"correlation_id": owner,
		"port":           port,
	}).Warn("Stopping session to reclaim its port")
	g.teardown(victim)
}

// stopIfCurrent stops session only if it is still the registered one.
func (g *Gateway) stopIfCurrent(session *CallSession) {
	g.mu.Lock()
	current, ok := g.sessions[session.channelID]
	if ok && current == session {
		delete(g.sessions, session.channelID)
	}
	g.mu.Unlock()

	if ok && current == session {
		g.teardown(session)
	}
}

// teardown releases everything a session holds. It is safe on partially
// set up sessions and runs at most once.
func (g *Gateway) teardown(session *CallSession) {
	session.stopOnce.Do(func() {
		session.active.Store(false)
		session.cancel()
		if session.limitTimer != nil {
			session.limitTimer.Stop()
		}

		if session.pacer != nil {
			session.pacer.StopPlayback()
		}

		if client := session.client.Load(); client != nil {
			client.Close()
			select {
			case <-client.Closed():
			case <-time.After(g.stopWait):
				logrus.WithFields(logrus.Fields{
					"function":       "Gateway.teardown",
					"channel_id":     session.channelID,
					"correlation_id": session.correlationID,
				}).Warn("Realtime client did not close in time")
			}
		}

		if session.receiver != nil {
			session.receiver.Close()
		}
		if session.pacer != nil {
			session.pacer.Close()
		}
		if session.port != 0 {
			g.ports.Release(session.port, session.correlationID)
		}

		logrus.WithFields(logrus.Fields{
			"function":       "Gateway.teardown",
			"channel_id":     session.channelID,
			"correlation_id": session.correlationID,
			"duration":       time.Since(session.startedAt),
		}).Info("Session stopped")
	})
}

// WaitForDelivery blocks until the current utterance of a call has played
// out, then runs the delivery callback. It returns false when playback did
// not finish in time or the call ended during the wait.
func (g *Gateway) WaitForDelivery(ctx context.Context, channelID string) (bool, error) {
	session, ok := g.Session(channelID)
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrSessionNotFound, channelID)
	}

	waitCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(session.ctx, cancel)
	defer stop()

	if !session.meter.Finished() {
		logrus.WithFields(logrus.Fields{
			"function":       "Gateway.WaitForDelivery",
			"channel_id":     channelID,
			"correlation_id": session.correlationID,
			"bytes_so_far":   session.meter.Total(),
		}).Debug("Waiting on an utterance the model is still generating")
	}

	delivered := g.synchronizer.WaitForDelivery(waitCtx, session)
	if !delivered {
		return false, nil
	}

	g.mu.Lock()
	callback := g.onDelivered
	g.mu.Unlock()
	if callback != nil {
		callback(channelID)
	}
	return true, nil
}

// Session returns the live call with channelID.
func (g *Gateway) Session(channelID string) (*CallSession, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	session, ok := g.sessions[channelID]
	return session, ok
}

// ActiveSessions returns the channel ids of live calls in sorted order.
func (g *Gateway) ActiveSessions() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	ids := make([]string, 0, len(g.sessions))
	for id := range g.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Ports returns the ports currently allocated to calls.
func (g *Gateway) Ports() []int {
	return g.ports.InUse()
}

// Close stops every call and rejects new ones.
func (g *Gateway) Close() error {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return nil
	}
	g.closed = true
	sessions := make([]*CallSession, 0, len(g.sessions))
	for id, session := range g.sessions {
		sessions = append(sessions, session)
		delete(g.sessions, id)
	}
	g.mu.Unlock()

	var wg sync.WaitGroup
	for _, session := range sessions {
		wg.Add(1)
		go func(s *CallSession) {
			defer wg.Done()
			g.teardown(s)
		}(session)
	}
	wg.Wait()

	logrus.WithFields(logrus.Fields{
		"function": "Gateway.Close",
		"stopped":  len(sessions),
	}).Info("Gateway closed")
	return nil
}
