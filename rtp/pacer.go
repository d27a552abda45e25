package rtp

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/opd-ai/rtpgateway/audio"
	"github.com/opd-ai/rtpgateway/limits"
	"github.com/sirupsen/logrus"
)

const (
	// bufferWarnInterval throttles staging overflow warnings.
	bufferWarnInterval = time.Second
	// rateLogInterval is the period of the packets-per-second log.
	rateLogInterval = 10 * time.Second
	// slowTickThreshold flags ticks whose processing is too slow for 20 ms pacing.
	slowTickThreshold = 5 * time.Millisecond
)

// Sender transmits datagrams. *net.UDPConn satisfies it.
type Sender interface {
	WriteTo(p []byte, addr net.Addr) (int, error)
	Close() error
}

// PacerState is the playback state of a Pacer.
type PacerState int

const (
	// PacerIdle means no clock is running.
	PacerIdle PacerState = iota
	// PacerStreaming means the clock is sending one packet per tick.
	PacerStreaming
)

// String returns the state name.
func (s PacerState) String() string {
	switch s {
	case PacerIdle:
		return "IDLE"
	case PacerStreaming:
		return "STREAMING"
	default:
		return "UNKNOWN"
	}
}

// PacerConfig configures a Pacer.
type PacerConfig struct {
	ChannelID string

	// Sender transmits packets. A fresh ephemeral UDP socket is opened
	// when nil.
	Sender Sender

	// Remote returns the current destination; it is re-read every tick.
	Remote func() *net.UDPAddr

	// Active reports whether the owning call still exists. Nil means
	// always active.
	Active func() bool

	// OnDrained is invoked, outside any lock, each time the queue runs dry
	// or playback ends because the session went away.
	OnDrained func()

	SSRCProvider SSRCProvider
	TimeProvider TimeProvider

	// Interval overrides the 20 ms packet clock.
	Interval time.Duration
}

type outboundPacket struct {
	payload   []byte
	sequence  uint16
	timestamp uint32
}

// Pacer turns enqueued µ-law audio into RTP packets sent at a fixed
// real-time cadence, one 160-byte frame per tick.
type Pacer struct {
	mu sync.Mutex

	channelID    string
	sender       Sender
	remote       func() *net.UDPAddr
	active       func() bool
	onDrained    func()
	timeProvider TimeProvider
	interval     time.Duration

	ssrc      uint32
	sequence  uint16
	timestamp uint32

	queue     []outboundPacket
	staging   []byte
	streaming bool
	stopCh    chan struct{}

	closed atomic.Bool

	lastBufferWarn time.Time
	lastSend       time.Time
	resumed        bool
	windowStart    time.Time
	windowPackets  int

	stats PacerStats
}

// NewPacer creates an idle Pacer with a random SSRC and initial sequence.
func NewPacer(cfg PacerConfig) (*Pacer, error) {
	ssrcProvider := cfg.SSRCProvider
	if ssrcProvider == nil {
		ssrcProvider = RandomSSRCProvider{}
	}
	timeProvider := cfg.TimeProvider
	if timeProvider == nil {
		timeProvider = RealTimeProvider{}
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = limits.Ptime
	}

	ssrc, err := ssrcProvider.GenerateSSRC()
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function":   "NewPacer",
			"channel_id": cfg.ChannelID,
			"error":      err.Error(),
		}).Error("Failed to generate SSRC")
		return nil, fmt.Errorf("failed to generate SSRC: %w", err)
	}
	seq, err := randomSequence()
	if err != nil {
		return nil, err
	}

	sender := cfg.Sender
	if sender == nil {
		conn, err := net.ListenUDP("udp4", nil)
		if err != nil {
			return nil, fmt.Errorf("failed to open pacer socket: %w", err)
		}
		sender = conn
	}

	active := cfg.Active
	if active == nil {
		active = func() bool { return true }
	}
	remote := cfg.Remote
	if remote == nil {
		remote = func() *net.UDPAddr { return nil }
	}

	p := &Pacer{
		channelID:    cfg.ChannelID,
		sender:       sender,
		remote:       remote,
		active:       active,
		onDrained:    cfg.OnDrained,
		timeProvider: timeProvider,
		interval:     interval,
		ssrc:         ssrc,
		sequence:     seq,
		staging:      make([]byte, 0, limits.MaxStagingBuffer),
	}

	logrus.WithFields(logrus.Fields{
		"function":   "NewPacer",
		"channel_id": cfg.ChannelID,
		"ssrc":       ssrc,
		"sequence":   seq,
	}).Info("RTP pacer created")

	return p, nil
}

// SSRC returns the synchronization source used for every packet.
func (p *Pacer) SSRC() uint32 {
	return p.ssrc
}

// Enqueue splits ulaw into 160-byte frames and appends them to the send
// queue, starting the clock if it is idle. A short final frame is padded
// with silence.
func (p *Pacer) Enqueue(ulaw []byte) error {
	if p.closed.Load() {
		return ErrPacerClosed
	}
	if !p.active() {
		logrus.WithFields(logrus.Fields{
			"function":   "Pacer.Enqueue",
			"channel_id": p.channelID,
		}).Warn("Dropping audio for inactive session")
		return ErrSessionInactive
	}
	if len(ulaw) == 0 {
		return nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.enqueueLocked(ulaw)
	p.startClockLocked()
	return nil
}

func (p *Pacer) enqueueLocked(ulaw []byte) {
	frames := limits.FramesFor(len(ulaw))
	for i := 0; i < frames; i++ {
		end := (i + 1) * limits.FrameSize
		if end > len(ulaw) {
			end = len(ulaw)
		}
		p.queue = append(p.queue, outboundPacket{
			payload:   audio.PadFrame(ulaw[i*limits.FrameSize : end]),
			sequence:  p.sequence,
			timestamp: p.timestamp,
		})
		p.sequence++
		p.timestamp += limits.FrameSize
	}
}

// Write stages µ-law bytes for playback. It never blocks: writes that would
// overflow the staging buffer are rejected whole.
func (p *Pacer) Write(data []byte) (int, error) {
	if p.closed.Load() {
		return 0, ErrPacerClosed
	}
	if audio.IsSilence(data) {
		logrus.WithFields(logrus.Fields{
			"function":   "Pacer.Write",
			"channel_id": p.channelID,
			"size":       len(data),
		}).Warn("Rejecting empty or silent audio")
		return 0, ErrSilentAudio
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	free := limits.MaxStagingBuffer - len(p.staging)
	if err := limits.ValidateSize(data, free); err != nil {
		now := p.timeProvider.Now()
		if now.Sub(p.lastBufferWarn) >= bufferWarnInterval {
			p.lastBufferWarn = now
			logrus.WithFields(logrus.Fields{
				"function":   "Pacer.Write",
				"channel_id": p.channelID,
				"size":       len(data),
				"free":       free,
			}).Warn("Staging buffer full, dropping audio")
		}
		p.stats.Dropped += uint64(len(data))
		return 0, fmt.Errorf("%w: %w", ErrBufferFull, err)
	}

	p.staging = append(p.staging, data...)
	p.startClockLocked()
	return len(data), nil
}

// flushStagingLocked moves whole staged frames into the queue. A partial
// remainder is only flushed, padded, when nothing else is queued.
func (p *Pacer) flushStagingLocked() {
	whole := (len(p.staging) / limits.FrameSize) * limits.FrameSize
	if whole == 0 && len(p.queue) == 0 && len(p.staging) > 0 {
		whole = len(p.staging)
	}
	if whole == 0 {
		return
	}
	p.enqueueLocked(p.staging[:whole])
	p.staging = append(p.staging[:0], p.staging[whole:]...)
}

func (p *Pacer) startClockLocked() {
	if p.streaming || p.closed.Load() {
		return
	}
	p.streaming = true
	p.resumed = true
	stop := make(chan struct{})
	p.stopCh = stop

	logrus.WithFields(logrus.Fields{
		"function":   "Pacer.startClock",
		"channel_id": p.channelID,
		"queued":     len(p.queue),
	}).Debug("Pacer streaming")

	go p.run(stop)
}

func (p *Pacer) stopClockLocked() {
	if !p.streaming {
		return
	}
	p.streaming = false
	close(p.stopCh)
	p.stopCh = nil
}

func (p *Pacer) run(stop chan struct{}) {
	ticker := p.timeProvider.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C():
			if !p.tick(stop) {
				return
			}
		}
	}
}

// tick sends at most one packet. It returns false once the clock that
// owns stop should exit.
func (p *Pacer) tick(stop chan struct{}) bool {
	start := p.timeProvider.Now()

	p.mu.Lock()
	if !p.streaming || p.stopCh != stop {
		p.mu.Unlock()
		return false
	}

	p.flushStagingLocked()

	if len(p.queue) == 0 {
		p.stopClockLocked()
		p.mu.Unlock()
		logrus.WithFields(logrus.Fields{
			"function":   "Pacer.tick",
			"channel_id": p.channelID,
		}).Debug("Send queue drained")
		p.notifyDrained()
		return false
	}

	if p.closed.Load() || !p.active() {
		p.stopClockLocked()
		p.mu.Unlock()
		logrus.WithFields(logrus.Fields{
			"function":   "Pacer.tick",
			"channel_id": p.channelID,
		}).Info("Session gone, ending playback")
		p.notifyDrained()
		return false
	}

	pkt := p.queue[0]
	p.queue[0] = outboundPacket{}
	p.queue = p.queue[1:]
	p.sendLocked(pkt, start)
	p.mu.Unlock()

	if elapsed := p.timeProvider.Now().Sub(start); elapsed > slowTickThreshold {
		logrus.WithFields(logrus.Fields{
			"function":   "Pacer.tick",
			"channel_id": p.channelID,
			"elapsed":    elapsed,
		}).Warn("Slow packet processing")
	}
	return true
}

// sendLocked holds the lock across the write so StopPlayback guarantees
// no packet leaves after it returns.
func (p *Pacer) sendLocked(pkt outboundPacket, now time.Time) {
	remote := p.remote()
	if remote == nil {
		p.stats.Dropped++
		logrus.WithFields(logrus.Fields{
			"function":   "Pacer.sendLocked",
			"channel_id": p.channelID,
			"sequence":   pkt.sequence,
		}).Debug("No remote address yet, dropping packet")
		return
	}

	packet := BuildPacket(pkt.sequence, pkt.timestamp, p.ssrc, pkt.payload)
	if _, err := p.sender.WriteTo(packet, remote); err != nil {
		p.stats.SendErrors++
		logrus.WithFields(logrus.Fields{
			"function":    "Pacer.sendLocked",
			"channel_id":  p.channelID,
			"remote_addr": remote.String(),
			"error":       err.Error(),
		}).Warn("Failed to send RTP packet")
		return
	}

	p.stats.PacketsSent++
	p.stats.BytesSent += uint64(len(packet))
	p.recordTimingLocked(now)
}

func (p *Pacer) recordTimingLocked(now time.Time) {
	if !p.lastSend.IsZero() && !p.resumed {
		interval := now.Sub(p.lastSend)
		if !p.stats.Ptime.Record(interval) && interval > maxNormalPtime {
			logrus.WithFields(logrus.Fields{
				"function":   "Pacer.sendLocked",
				"channel_id": p.channelID,
				"interval":   interval,
			}).Warn("Critical inter-packet gap")
		}
	}
	p.resumed = false
	p.lastSend = now

	if p.windowStart.IsZero() {
		p.windowStart = now
	}
	p.windowPackets++
	if elapsed := now.Sub(p.windowStart); elapsed >= rateLogInterval {
		logrus.WithFields(logrus.Fields{
			"function":    "Pacer.sendLocked",
			"channel_id":  p.channelID,
			"packets_sec": float64(p.windowPackets) / elapsed.Seconds(),
			"mean_ptime":  p.stats.Ptime.Mean(),
		}).Info("RTP send rate")
		p.windowStart = now
		p.windowPackets = 0
	}
}

func (p *Pacer) notifyDrained() {
	if p.onDrained != nil {
		p.onDrained()
	}
}

// StopPlayback halts the clock and discards queued and staged audio
// without signalling a drain.
func (p *Pacer) StopPlayback() {
	p.mu.Lock()
	defer p.mu.Unlock()

	dropped := len(p.queue)
	p.stopClockLocked()
	p.queue = nil
	p.staging = p.staging[:0]

	logrus.WithFields(logrus.Fields{
		"function":   "Pacer.StopPlayback",
		"channel_id": p.channelID,
		"dropped":    dropped,
	}).Info("Playback stopped")
}

// QueueLen returns the number of packets waiting to be sent.
func (p *Pacer) QueueLen() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}

// StagedLen returns the number of bytes in the staging buffer.
func (p *Pacer) StagedLen() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.staging)
}

// State returns the current playback state.
func (p *Pacer) State() PacerState {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.streaming {
		return PacerStreaming
	}
	return PacerIdle
}

// IsStreaming reports whether the clock is running.
func (p *Pacer) IsStreaming() bool {
	return p.State() == PacerStreaming
}

// Stats returns a snapshot of the send counters.
func (p *Pacer) Stats() PacerStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}

// Close ends the stream and closes the sender. Safe to call twice.
func (p *Pacer) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}

	p.mu.Lock()
	p.stopClockLocked()
	remaining := len(p.queue)
	p.queue = nil
	p.staging = p.staging[:0]
	stats := p.stats
	p.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function":     "Pacer.Close",
		"channel_id":   p.channelID,
		"packets_sent": stats.PacketsSent,
		"bytes_sent":   stats.BytesSent,
		"send_errors":  stats.SendErrors,
		"discarded":    remaining,
		"mean_ptime":   stats.Ptime.Mean(),
		"min_ptime":    stats.Ptime.Min,
		"max_ptime":    stats.Ptime.Max,
	}).Info("RTP stream ended")

	if err := p.sender.Close(); err != nil {
		return fmt.Errorf("failed to close pacer socket: %w", err)
	}
	return nil
}
