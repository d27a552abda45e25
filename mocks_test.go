package rtpgateway

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/opd-ai/rtpgateway/config"
	"github.com/opd-ai/rtpgateway/realtime"
	"github.com/stretchr/testify/require"
)

// ---------------------------------------------------------------------------
// fakeModel is a websocket endpoint standing in for the AI speech session.
// ---------------------------------------------------------------------------

type fakeModel struct {
	srv       *httptest.Server
	upgrader  websocket.Upgrader
	onConnect func(conn *websocket.Conn)

	mu    sync.Mutex
	audio []realtime.AudioAppendMessage
	conns int
}

func newFakeModel(t *testing.T, onConnect func(conn *websocket.Conn)) *fakeModel {
	t.Helper()
	m := &fakeModel{onConnect: onConnect}
	m.srv = httptest.NewServer(http.HandlerFunc(m.handle))
	t.Cleanup(m.srv.Close)
	return m
}

func (m *fakeModel) handle(w http.ResponseWriter, r *http.Request) {
	conn, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	var setup realtime.SetupMessage
	if err := conn.ReadJSON(&setup); err != nil {
		return
	}
	m.mu.Lock()
	m.conns++
	m.mu.Unlock()

	conn.WriteMessage(websocket.TextMessage, []byte(`{"setupComplete":{}}`))
	if m.onConnect != nil {
		m.onConnect(conn)
	}

	for {
		var msg realtime.AudioAppendMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		m.mu.Lock()
		m.audio = append(m.audio, msg)
		m.mu.Unlock()
	}
}

func (m *fakeModel) URL() string {
	return "ws" + strings.TrimPrefix(m.srv.URL, "http")
}

func (m *fakeModel) Audio() []realtime.AudioAppendMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]realtime.AudioAppendMessage(nil), m.audio...)
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

// freeEvenPorts returns an even UDP base port on loopback such that count
// consecutive even ports were free a moment ago.
func freeEvenPorts(t *testing.T, count int) int {
	t.Helper()
	for i := 0; i < 50; i++ {
		probe, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
		require.NoError(t, err)
		base := probe.LocalAddr().(*net.UDPAddr).Port &^ 1
		probe.Close()

		if base < 1024 || base+2*count > 65534 {
			continue
		}
		if portsFree(base, count) {
			return base
		}
	}
	t.Fatal("no free even UDP port range")
	return 0
}

func portsFree(base, count int) bool {
	var held []*net.UDPConn
	defer func() {
		for _, c := range held {
			c.Close()
		}
	}()
	for n := 0; n < count; n++ {
		c, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: base + 2*n})
		if err != nil {
			return false
		}
		held = append(held, c)
	}
	return true
}

func testConfig(t *testing.T, modelURL string) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.APIKey = "test-key"
	cfg.SystemInstruction = "You are a test agent."
	cfg.RealtimeURL = modelURL
	cfg.RTPPortStart = freeEvenPorts(t, 2)
	cfg.MaxConcurrentCalls = 1
	cfg.DeliveryMaxWaitMS = 2000
	return cfg
}

// modelAudioFrame encodes n samples of a non-silent 24 kHz ramp as a model
// audio delta.
func modelAudioFrame(n int) []byte {
	pcm := make([]byte, n*2)
	for i := 0; i < n; i++ {
		binary.LittleEndian.PutUint16(pcm[2*i:], uint16(int16(2000+i%300)))
	}
	return []byte(fmt.Sprintf(
		`{"serverContent":{"modelTurn":{"parts":[{"inlineData":{"data":%q}}]}}}`,
		base64.StdEncoding.EncodeToString(pcm)))
}

// callerLeg is the telephony side of a call: it sends RTP to the gateway
// and receives the paced playback.
type callerLeg struct {
	conn *net.UDPConn
}

func newCallerLeg(t *testing.T) *callerLeg {
	t.Helper()
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return &callerLeg{conn: conn}
}

func (c *callerLeg) Addr() *net.UDPAddr {
	return c.conn.LocalAddr().(*net.UDPAddr)
}

func (c *callerLeg) SendTo(t *testing.T, port int, packet []byte) {
	t.Helper()
	_, err := c.conn.WriteToUDP(packet, &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: port})
	require.NoError(t, err)
}
