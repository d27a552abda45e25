package realtime

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRealtimeServer accepts websocket sessions, records the setup and
// caller audio it receives, and runs onConnect for scripted behaviour.
type fakeRealtimeServer struct {
	srv       *httptest.Server
	upgrader  websocket.Upgrader
	onConnect func(n int, conn *websocket.Conn)

	mu      sync.Mutex
	setups  []SetupMessage
	queries []url.Values
	headers []http.Header
	audio   []AudioAppendMessage
}

func newFakeRealtimeServer(t *testing.T, onConnect func(n int, conn *websocket.Conn)) *fakeRealtimeServer {
	t.Helper()
	fs := &fakeRealtimeServer{onConnect: onConnect}
	fs.srv = httptest.NewServer(http.HandlerFunc(fs.handle))
	t.Cleanup(fs.srv.Close)
	return fs
}

func (fs *fakeRealtimeServer) handle(w http.ResponseWriter, r *http.Request) {
	conn, err := fs.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	var setup SetupMessage
	if err := conn.ReadJSON(&setup); err != nil {
		return
	}

	fs.mu.Lock()
	fs.setups = append(fs.setups, setup)
	fs.queries = append(fs.queries, r.URL.Query())
	fs.headers = append(fs.headers, r.Header.Clone())
	n := len(fs.setups)
	fs.mu.Unlock()

	if fs.onConnect != nil {
		fs.onConnect(n, conn)
	}

	for {
		var msg AudioAppendMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		fs.mu.Lock()
		fs.audio = append(fs.audio, msg)
		fs.mu.Unlock()
	}
}

func (fs *fakeRealtimeServer) URL() string {
	return "ws" + strings.TrimPrefix(fs.srv.URL, "http")
}

func (fs *fakeRealtimeServer) Setups() []SetupMessage {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return append([]SetupMessage(nil), fs.setups...)
}

func (fs *fakeRealtimeServer) Audio() []AudioAppendMessage {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return append([]AudioAppendMessage(nil), fs.audio...)
}

func newTestClient(t *testing.T, rawURL string, playback Playback) *Client {
	t.Helper()
	client, err := NewClient(Config{
		ChannelID:         "chan-client",
		CorrelationID:     "corr-1",
		URL:               rawURL,
		APIKey:            "secret",
		Model:             "gemini-test",
		SystemInstruction: "be brief",
		SilencePadding:    100 * time.Millisecond,
		Playback:          playback,
		RetryBackoff:      10 * time.Millisecond,
		DispatchInterval:  5 * time.Millisecond,
	})
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return client
}

func closedLocalURL(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())
	return "ws://" + addr + "/ws"
}

func TestConnectSendsSetup(t *testing.T) {
	fs := newFakeRealtimeServer(t, nil)
	client := newTestClient(t, fs.URL(), &recordingPlayback{})

	require.NoError(t, client.Connect(context.Background()))
	assert.Equal(t, StateOpen, client.State())
	assert.True(t, client.IsOpen())

	require.Eventually(t, func() bool { return len(fs.Setups()) == 1 }, time.Second, 5*time.Millisecond)
	setup := fs.Setups()[0]
	assert.Equal(t, "models/gemini-test", setup.Setup.Model)
	assert.Equal(t, []string{"AUDIO"}, setup.Setup.GenerationConfig.ResponseModalities)
	assert.Equal(t, "be brief", setup.Setup.SystemInstruction.Parts[0].Text)

	fs.mu.Lock()
	assert.Equal(t, "secret", fs.queries[0].Get("key"))
	assert.Equal(t, "application/json", fs.headers[0].Get("Content-Type"))
	fs.mu.Unlock()
}

func TestConnectMissingCredentials(t *testing.T) {
	client, err := NewClient(Config{URL: "ws://127.0.0.1:1", Playback: &recordingPlayback{}})
	require.NoError(t, err)

	assert.ErrorIs(t, client.Connect(context.Background()), ErrMissingCredentials)
	assert.NotEqual(t, StateClosed, client.State())
}

func TestConnectExhaustsRetries(t *testing.T) {
	client := newTestClient(t, closedLocalURL(t), &recordingPlayback{})

	start := time.Now()
	err := client.Connect(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrReconnectExhausted)
	assert.GreaterOrEqual(t, time.Since(start), 3*10*time.Millisecond)
	assert.Equal(t, StateClosed, client.State())

	select {
	case <-client.Closed():
	default:
		t.Fatal("closed channel not released")
	}
	assert.ErrorIs(t, client.Connect(context.Background()), ErrClientClosed)
}

func TestAppendInputAudio(t *testing.T) {
	fs := newFakeRealtimeServer(t, nil)
	client := newTestClient(t, fs.URL(), &recordingPlayback{})

	assert.ErrorIs(t, client.AppendInputAudio([]byte{1, 2, 3}), ErrNotOpen)

	require.NoError(t, client.Connect(context.Background()))
	require.NoError(t, client.AppendInputAudio([]byte{0x00, 0x01, 0xFE}))

	require.Eventually(t, func() bool { return len(fs.Audio()) == 1 }, time.Second, 5*time.Millisecond)
	msg := fs.Audio()[0]
	assert.Equal(t, "input_audio_buffer.append", msg.Type)
	assert.Equal(t, "AAH+", msg.Audio)
}

func TestModelAudioReachesPlayback(t *testing.T) {
	fs := newFakeRealtimeServer(t, func(n int, conn *websocket.Conn) {
		conn.WriteMessage(websocket.TextMessage, []byte(`{"setupComplete":{}}`))
		conn.WriteMessage(websocket.TextMessage, audioFrame(pcm24k(480)))
		conn.WriteMessage(websocket.TextMessage, []byte(`{"serverContent":{"generationComplete":true}}`))
	})
	playback := &recordingPlayback{}
	client := newTestClient(t, fs.URL(), playback)

	require.NoError(t, client.Connect(context.Background()))

	require.Eventually(t, func() bool { return len(playback.Chunks()) == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Len(t, playback.Chunks()[0], 800+160)
	require.Eventually(t, func() bool { return client.Meter().Finished() }, time.Second, 5*time.Millisecond)
	assert.Equal(t, int64(160), client.Meter().Total())
}

func TestServerCloseFrameClosesClient(t *testing.T) {
	fs := newFakeRealtimeServer(t, func(n int, conn *websocket.Conn) {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "done")
		conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	})
	client := newTestClient(t, fs.URL(), &recordingPlayback{})

	require.NoError(t, client.Connect(context.Background()))

	select {
	case <-client.Closed():
	case <-time.After(2 * time.Second):
		t.Fatal("client did not close after server close frame")
	}
	assert.Equal(t, StateClosed, client.State())
	assert.False(t, client.IsOpen())
	assert.Len(t, fs.Setups(), 1)
}

func TestAbruptDropReconnects(t *testing.T) {
	fs := newFakeRealtimeServer(t, func(n int, conn *websocket.Conn) {
		if n == 1 {
			conn.UnderlyingConn().Close()
		}
	})
	client := newTestClient(t, fs.URL(), &recordingPlayback{})

	require.NoError(t, client.Connect(context.Background()))

	require.Eventually(t, func() bool {
		return len(fs.Setups()) == 2 && client.IsOpen()
	}, 2*time.Second, 5*time.Millisecond)
}

func TestCloseIdempotent(t *testing.T) {
	fs := newFakeRealtimeServer(t, nil)
	client := newTestClient(t, fs.URL(), &recordingPlayback{})
	require.NoError(t, client.Connect(context.Background()))

	require.NoError(t, client.Close())
	require.NoError(t, client.Close())

	assert.Equal(t, StateClosed, client.State())
	assert.ErrorIs(t, client.AppendInputAudio([]byte{1}), ErrNotOpen)
	select {
	case <-client.Closed():
	default:
		t.Fatal("closed channel not released")
	}
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "CONNECTING", StateConnecting.String())
	assert.Equal(t, "OPEN", StateOpen.String())
	assert.Equal(t, "CLOSED", StateClosed.String())
	assert.Equal(t, "UNKNOWN", State(9).String())
}
