package realtime

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/opd-ai/rtpgateway/limits"
	"github.com/sirupsen/logrus"
)

// Defaults applied by NewClient.
const (
	DefaultMaxRetries       = 3
	DefaultRetryBackoff     = time.Second
	DefaultHandshakeTimeout = 10 * time.Second

	closeWriteTimeout = time.Second
)

// eventSeq orders protocol log lines across all clients in the process.
var eventSeq atomic.Uint64

// State is the connection state of a Client.
type State int32

const (
	// StateConnecting covers the initial dial and every reconnect.
	StateConnecting State = iota
	// StateOpen means setup was sent and frames are flowing.
	StateOpen
	// StateClosed is terminal.
	StateClosed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateConnecting:
		return "CONNECTING"
	case StateOpen:
		return "OPEN"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// Playback receives transcoded µ-law audio. *rtp.Pacer satisfies it.
type Playback interface {
	Enqueue(ulaw []byte) error
}

// Config configures a Client.
type Config struct {
	ChannelID     string
	CorrelationID string

	URL               string
	APIKey            string
	Model             string
	SystemInstruction string

	// SilencePadding is prepended to the first delta of every utterance.
	SilencePadding time.Duration

	Playback Playback
	// Meter is shared with the turn synchronizer; one is created when nil.
	Meter *UtteranceMeter

	// MaxRetries is the lifetime retry budget; zero selects the default
	// and a negative value disables retries.
	MaxRetries       int
	RetryBackoff     time.Duration
	HandshakeTimeout time.Duration
	DispatchInterval time.Duration
	DispatchBatch    int

	// Dialer overrides the websocket dialer, mainly for tests.
	Dialer *websocket.Dialer
}

// Client is the per-call connection to the AI speech session.
type Client struct {
	cfg    Config
	meter  *UtteranceMeter
	dialer *websocket.Dialer

	mu      sync.Mutex
	conn    *websocket.Conn
	state   State
	retries int

	writeMu sync.Mutex

	intakeMu sync.Mutex
	intake   []*ServerMessage

	ctx       context.Context
	cancel    context.CancelFunc
	closed    chan struct{}
	closeOnce sync.Once

	dispatchOnce sync.Once
	dispatchDone chan struct{}
	dispatching  atomic.Bool

	// dispatchMu serializes batches; it also guards the progress counters
	dispatchMu       sync.Mutex
	progressBytes    int
	progressSegments int
}

// NewClient validates cfg and returns an unconnected client.
func NewClient(cfg Config) (*Client, error) {
	if cfg.Playback == nil {
		return nil, ErrNoPlayback
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	} else if cfg.MaxRetries == 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = DefaultRetryBackoff
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if cfg.DispatchInterval <= 0 {
		cfg.DispatchInterval = limits.DispatchInterval
	}
	if cfg.DispatchBatch <= 0 {
		cfg.DispatchBatch = limits.DispatchBatch
	}

	meter := cfg.Meter
	if meter == nil {
		meter = &UtteranceMeter{}
	}
	dialer := cfg.Dialer
	if dialer == nil {
		dialer = &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.HandshakeTimeout,
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		cfg:          cfg,
		meter:        meter,
		dialer:       dialer,
		state:        StateConnecting,
		ctx:          ctx,
		cancel:       cancel,
		closed:       make(chan struct{}),
		dispatchDone: make(chan struct{}),
	}, nil
}

// fields returns the log fields shared by every line of this client.
func (c *Client) fields(function string) logrus.Fields {
	return logrus.Fields{
		"function":       function,
		"channel_id":     c.cfg.ChannelID,
		"correlation_id": c.cfg.CorrelationID,
	}
}

func (c *Client) protocolFields(function, origin string) logrus.Fields {
	f := c.fields(function)
	f["origin"] = origin
	f["event_seq"] = eventSeq.Add(1)
	return f
}

// Meter returns the utterance meter fed by the dispatcher.
func (c *Client) Meter() *UtteranceMeter {
	return c.meter
}

// Connect dials the session and sends setup, retrying from the lifetime
// budget. Exhausting the budget closes the client.
func (c *Client) Connect(ctx context.Context) error {
	if c.cfg.APIKey == "" {
		logrus.WithFields(c.fields("Client.Connect")).Error("No API key configured")
		return ErrMissingCredentials
	}
	if c.State() == StateClosed {
		return ErrClientClosed
	}

	if err := c.connectLoop(ctx); err != nil {
		logrus.WithFields(c.fields("Client.Connect")).WithError(err).Error("Failed to open realtime session")
		c.markClosed()
		return err
	}

	c.dispatchOnce.Do(func() {
		c.dispatching.Store(true)
		go c.dispatchLoop()
	})
	return nil
}

func (c *Client) connectLoop(ctx context.Context) error {
	for {
		err := c.dialOnce(ctx)
		if err == nil {
			return nil
		}
		if c.State() == StateClosed {
			return ErrClientClosed
		}

		c.mu.Lock()
		if c.retries >= c.cfg.MaxRetries {
			used := c.retries
			c.mu.Unlock()
			return fmt.Errorf("%w after %d retries: %w", ErrReconnectExhausted, used, err)
		}
		c.retries++
		attempt := c.retries
		c.mu.Unlock()

		fields := c.fields("Client.connectLoop")
		fields["attempt"] = attempt
		fields["max_retries"] = c.cfg.MaxRetries
		fields["error"] = err.Error()
		logrus.WithFields(fields).Warn("Realtime dial failed, retrying")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.ctx.Done():
			return ErrClientClosed
		case <-time.After(c.cfg.RetryBackoff):
		}
	}
}

func (c *Client) endpoint() (string, error) {
	u, err := url.Parse(c.cfg.URL)
	if err != nil {
		return "", fmt.Errorf("invalid realtime URL: %w", err)
	}
	q := u.Query()
	q.Set("key", c.cfg.APIKey)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (c *Client) dialOnce(ctx context.Context) error {
	endpoint, err := c.endpoint()
	if err != nil {
		return err
	}

	header := http.Header{}
	header.Set("Content-Type", "application/json")

	conn, _, err := c.dialer.DialContext(ctx, endpoint, header)
	if err != nil {
		return fmt.Errorf("dial realtime endpoint: %w", err)
	}

	setup := NewSetupMessage(c.cfg.Model, c.cfg.SystemInstruction)
	c.writeMu.Lock()
	err = conn.WriteJSON(setup)
	c.writeMu.Unlock()
	if err != nil {
		conn.Close()
		return fmt.Errorf("send setup message: %w", err)
	}

	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		conn.Close()
		return ErrClientClosed
	}
	c.conn = conn
	c.state = StateOpen
	c.mu.Unlock()

	fields := c.protocolFields("Client.dialOnce", "client")
	fields["model"] = setup.Setup.Model
	logrus.WithFields(fields).Info("Realtime session open, setup sent")

	go c.readLoop(conn)
	return nil
}

func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.handleReadError(conn, err)
			return
		}
		c.pushIntake(data)
	}
}

func (c *Client) handleReadError(conn *websocket.Conn, err error) {
	c.mu.Lock()
	if c.state == StateClosed || c.conn != conn {
		c.mu.Unlock()
		return
	}

	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		c.mu.Unlock()
		logrus.WithFields(c.protocolFields("Client.readLoop", "server")).Info("Realtime session closed by server")
		c.markClosed()
		return
	}

	c.state = StateConnecting
	c.conn = nil
	c.mu.Unlock()
	conn.Close()

	fields := c.fields("Client.readLoop")
	fields["error"] = err.Error()
	logrus.WithFields(fields).Warn("Realtime connection lost, reconnecting")

	if err := c.connectLoop(c.ctx); err != nil {
		logrus.WithFields(c.fields("Client.readLoop")).WithError(err).Error("Realtime reconnect failed")
		c.markClosed()
	}
}

// markClosed enters the terminal state and releases waiters once.
func (c *Client) markClosed() {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.state = StateClosed
	c.mu.Unlock()

	if conn != nil {
		conn.Close()
	}

	c.closeOnce.Do(func() {
		c.cancel()
		close(c.closed)
		logrus.WithFields(c.fields("Client.markClosed")).Info("Realtime client closed")
	})
}

// State returns the current connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// IsOpen reports whether caller audio can be forwarded.
func (c *Client) IsOpen() bool {
	return c.State() == StateOpen
}

// Closed is closed exactly once, when the client reaches CLOSED.
func (c *Client) Closed() <-chan struct{} {
	return c.closed
}

// AppendInputAudio forwards one inbound µ-law payload to the model.
func (c *Client) AppendInputAudio(ulaw []byte) error {
	c.mu.Lock()
	conn := c.conn
	open := c.state == StateOpen
	c.mu.Unlock()
	if !open || conn == nil {
		return ErrNotOpen
	}

	c.writeMu.Lock()
	err := conn.WriteJSON(NewAudioAppendMessage(ulaw))
	c.writeMu.Unlock()

	if err != nil {
		fields := c.protocolFields("Client.AppendInputAudio", "client")
		fields["error"] = err.Error()
		logrus.WithFields(fields).Warn("Failed to send caller audio")
		return fmt.Errorf("send caller audio: %w", err)
	}
	return nil
}

// Close sends a normal close frame, drops the socket and stops the
// dispatcher. Safe to call more than once.
func (c *Client) Close() error {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.state = StateClosed
	c.mu.Unlock()

	if conn != nil {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		if err := conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeWriteTimeout)); err != nil {
			logrus.WithFields(c.fields("Client.Close")).WithError(err).Debug("Failed to send close frame")
		}
		conn.Close()
	}

	c.markClosed()
	if c.dispatching.Load() {
		<-c.dispatchDone
	}
	return nil
}
