package rtp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/opd-ai/rtpgateway/limits"
	"github.com/sirupsen/logrus"
)

// packetReadTimeout bounds each blocking read so Close is observed promptly.
const packetReadTimeout = 100 * time.Millisecond

// AddressLearner records the first source address seen on a media port.
type AddressLearner interface {
	// LearnRemote stores addr if no address is known yet and reports
	// whether it was stored.
	LearnRemote(addr *net.UDPAddr) bool
}

// AudioForwarder accepts inbound µ-law payloads for the model.
type AudioForwarder interface {
	IsOpen() bool
	AppendInputAudio(payload []byte) error
}

// ReceiverConfig configures a Receiver.
type ReceiverConfig struct {
	ChannelID   string
	BindAddress string
	Port        int
	Learner     AddressLearner
	Forwarder   AudioForwarder
}

// Receiver listens on one UDP port per call and forwards the payload of
// every inbound datagram while the model connection is open.
type Receiver struct {
	channelID string
	conn      *net.UDPConn
	learner   AddressLearner
	forwarder AudioForwarder

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	closeOnce sync.Once
	closed    atomic.Bool

	packetsReceived  atomic.Uint64
	bytesReceived    atomic.Uint64
	packetsForwarded atomic.Uint64
	packetsDropped   atomic.Uint64
	forwardErrors    atomic.Uint64

	// only touched by the read loop
	haveSeq bool
	lastSeq uint16
}

// NewReceiver binds the configured port and starts the read loop.
func NewReceiver(cfg ReceiverConfig) (*Receiver, error) {
	if cfg.Forwarder == nil {
		return nil, ErrNoForwarder
	}
	bind := cfg.BindAddress
	if bind == "" {
		bind = "127.0.0.1"
	}

	udpAddr, err := net.ResolveUDPAddr("udp4", net.JoinHostPort(bind, strconv.Itoa(cfg.Port)))
	if err != nil {
		return nil, fmt.Errorf("failed to resolve receiver address: %w", err)
	}
	conn, err := net.ListenUDP("udp4", udpAddr)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function":   "NewReceiver",
			"channel_id": cfg.ChannelID,
			"addr":       udpAddr.String(),
			"error":      err.Error(),
		}).Error("Failed to bind RTP receiver")
		return nil, fmt.Errorf("failed to bind RTP receiver on %s: %w", udpAddr, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	r := &Receiver{
		channelID: cfg.ChannelID,
		conn:      conn,
		learner:   cfg.Learner,
		forwarder: cfg.Forwarder,
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
	}

	go r.readLoop()

	logrus.WithFields(logrus.Fields{
		"function":   "NewReceiver",
		"channel_id": cfg.ChannelID,
		"local_addr": conn.LocalAddr().String(),
	}).Info("RTP receiver listening")

	return r, nil
}

// LocalAddr returns the bound address.
func (r *Receiver) LocalAddr() *net.UDPAddr {
	return r.conn.LocalAddr().(*net.UDPAddr)
}

func (r *Receiver) readLoop() {
	defer close(r.done)
	buffer := make([]byte, 65536)

	for {
		select {
		case <-r.ctx.Done():
			return
		default:
			if !r.readOne(buffer) {
				return
			}
		}
	}
}

// readOne handles a single datagram. Returns false when the loop should stop.
func (r *Receiver) readOne(buffer []byte) bool {
	if err := r.conn.SetReadDeadline(time.Now().Add(packetReadTimeout)); err != nil {
		return r.handleReadError(err)
	}

	n, addr, err := r.conn.ReadFromUDP(buffer)
	if err != nil {
		return r.handleReadError(err)
	}

	r.handleDatagram(buffer[:n], addr)
	return true
}

func (r *Receiver) handleReadError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	if r.closed.Load() || errors.Is(err, net.ErrClosed) {
		return false
	}

	logrus.WithFields(logrus.Fields{
		"function":   "Receiver.readOne",
		"channel_id": r.channelID,
		"error":      err.Error(),
	}).Warn("Error reading RTP packet")
	return true
}

func (r *Receiver) handleDatagram(datagram []byte, addr *net.UDPAddr) {
	r.packetsReceived.Add(1)
	r.bytesReceived.Add(uint64(len(datagram)))

	if r.learner != nil && r.learner.LearnRemote(addr) {
		logrus.WithFields(logrus.Fields{
			"function":    "Receiver.handleDatagram",
			"channel_id":  r.channelID,
			"remote_addr": addr.String(),
		}).Info("Learned remote RTP address")
	}

	r.traceSequence(datagram)

	if !r.forwarder.IsOpen() {
		r.packetsDropped.Add(1)
		return
	}

	payload := StripHeader(datagram)
	if err := limits.ValidateDatagram(payload); err != nil {
		r.packetsDropped.Add(1)
		return
	}

	owned := make([]byte, len(payload))
	copy(owned, payload)

	if err := r.forwarder.AppendInputAudio(owned); err != nil {
		r.forwardErrors.Add(1)
		logrus.WithFields(logrus.Fields{
			"function":   "Receiver.handleDatagram",
			"channel_id": r.channelID,
			"error":      err.Error(),
		}).Debug("Failed to forward inbound audio")
		return
	}
	r.packetsForwarded.Add(1)
}

// traceSequence logs sequence gaps at debug level. Packets are never
// reordered or dropped because of it.
func (r *Receiver) traceSequence(datagram []byte) {
	if !logrus.IsLevelEnabled(logrus.DebugLevel) {
		return
	}
	header, err := ParseHeader(datagram)
	if err != nil {
		return
	}
	if r.haveSeq && header.SequenceNumber != r.lastSeq+1 {
		logrus.WithFields(logrus.Fields{
			"function":   "Receiver.traceSequence",
			"channel_id": r.channelID,
			"expected":   r.lastSeq + 1,
			"got":        header.SequenceNumber,
		}).Debug("Inbound RTP sequence discontinuity")
	}
	r.haveSeq = true
	r.lastSeq = header.SequenceNumber
}

// Stats returns a snapshot of the receiver counters.
func (r *Receiver) Stats() ReceiverStats {
	return ReceiverStats{
		PacketsReceived:  r.packetsReceived.Load(),
		BytesReceived:    r.bytesReceived.Load(),
		PacketsForwarded: r.packetsForwarded.Load(),
		PacketsDropped:   r.packetsDropped.Load(),
		ForwardErrors:    r.forwardErrors.Load(),
	}
}

// Close stops the read loop and releases the socket. Safe to call twice.
func (r *Receiver) Close() error {
	var err error
	r.closeOnce.Do(func() {
		r.closed.Store(true)
		r.cancel()
		err = r.conn.Close()
		<-r.done

		stats := r.Stats()
		logrus.WithFields(logrus.Fields{
			"function":          "Receiver.Close",
			"channel_id":        r.channelID,
			"packets_received":  stats.PacketsReceived,
			"packets_forwarded": stats.PacketsForwarded,
			"packets_dropped":   stats.PacketsDropped,
		}).Info("RTP receiver closed")
	})
	return err
}
