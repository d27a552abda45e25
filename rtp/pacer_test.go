package rtp

import (
	"bytes"
	"errors"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pacerFixture struct {
	pacer   *Pacer
	sender  *MockSender
	clock   *MockTimeProvider
	active  atomic.Bool
	drained atomic.Int32
	remote  *net.UDPAddr
}

func newPacerFixture(t *testing.T) *pacerFixture {
	t.Helper()
	f := &pacerFixture{
		sender: &MockSender{},
		clock:  NewMockTimeProvider(),
		remote: &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 40000},
	}
	f.active.Store(true)

	pacer, err := NewPacer(PacerConfig{
		ChannelID:    "chan-1",
		Sender:       f.sender,
		Remote:       func() *net.UDPAddr { return f.remote },
		Active:       f.active.Load,
		OnDrained:    func() { f.drained.Add(1) },
		SSRCProvider: &MockSSRCProvider{nextSSRC: 0x1234},
		TimeProvider: f.clock,
	})
	require.NoError(t, err)
	f.pacer = pacer
	return f
}

// drain ticks until the clock stops, advancing mock time 20 ms per tick.
func (f *pacerFixture) drain(t *testing.T) int {
	t.Helper()
	ticks := 0
	for stepPacer(f.pacer) {
		f.clock.Advance(20 * time.Millisecond)
		ticks++
		require.Less(t, ticks, 100000)
	}
	return ticks
}

func TestNewPacerSSRCError(t *testing.T) {
	_, err := NewPacer(PacerConfig{
		Sender:       &MockSender{},
		SSRCProvider: &MockSSRCProvider{err: errors.New("entropy")},
	})
	assert.Error(t, err)
}

func TestPacerOrderingSequenceAndTimestamp(t *testing.T) {
	f := newPacerFixture(t)
	initialSeq := f.pacer.sequence

	audio := make([]byte, 8000)
	for i := range audio {
		audio[i] = byte(i % 251)
	}
	require.NoError(t, f.pacer.Enqueue(audio))
	assert.True(t, f.pacer.IsStreaming())
	assert.Equal(t, 50, f.pacer.QueueLen())

	sent := f.drain(t)
	assert.Equal(t, 50, sent)
	assert.Equal(t, PacerIdle, f.pacer.State())
	assert.Equal(t, int32(1), f.drained.Load())

	packets := f.sender.Packets()
	require.Len(t, packets, 50)
	var reassembled []byte
	for i, packet := range packets {
		require.Len(t, packet, 172)
		header, err := ParseHeader(packet)
		require.NoError(t, err)
		assert.Equal(t, initialSeq+uint16(i), header.SequenceNumber)
		assert.Equal(t, uint32(160*i), header.Timestamp)
		assert.Equal(t, uint32(0x1234), header.SSRC)
		reassembled = append(reassembled, StripHeader(packet)...)
	}
	assert.Equal(t, audio, reassembled)
}

func TestPacerFirstPacketCarriesInitialNumbering(t *testing.T) {
	f := newPacerFixture(t)
	initialSeq := f.pacer.sequence

	require.NoError(t, f.pacer.Enqueue(bytes.Repeat([]byte{0x33}, 160)))
	f.drain(t)

	packets := f.sender.Packets()
	require.Len(t, packets, 1)
	header, err := ParseHeader(packets[0])
	require.NoError(t, err)
	assert.Equal(t, initialSeq, header.SequenceNumber)
	assert.Equal(t, uint32(0), header.Timestamp)
}

func TestPacerPadsShortFinalFrame(t *testing.T) {
	f := newPacerFixture(t)

	require.NoError(t, f.pacer.Enqueue(bytes.Repeat([]byte{0x10}, 200)))
	assert.Equal(t, 2, f.pacer.QueueLen())
	f.drain(t)

	packets := f.sender.Packets()
	require.Len(t, packets, 2)
	last := StripHeader(packets[1])
	require.Len(t, last, 160)
	assert.Equal(t, bytes.Repeat([]byte{0x10}, 40), last[:40])
	assert.Equal(t, bytes.Repeat([]byte{0xFF}, 120), last[40:])
}

func TestPacerSequenceWraps(t *testing.T) {
	f := newPacerFixture(t)
	f.pacer.sequence = 65534

	require.NoError(t, f.pacer.Enqueue(make([]byte, 480)))
	f.drain(t)

	packets := f.sender.Packets()
	require.Len(t, packets, 3)
	var seqs []uint16
	for _, packet := range packets {
		header, err := ParseHeader(packet)
		require.NoError(t, err)
		seqs = append(seqs, header.SequenceNumber)
	}
	assert.Equal(t, []uint16{65534, 65535, 0}, seqs)
}

func TestPacerReentrantAcrossUtterances(t *testing.T) {
	f := newPacerFixture(t)

	require.NoError(t, f.pacer.Enqueue(make([]byte, 320)))
	f.drain(t)
	require.NoError(t, f.pacer.Enqueue(make([]byte, 160)))
	assert.True(t, f.pacer.IsStreaming())
	f.drain(t)

	assert.Len(t, f.sender.Packets(), 3)
	assert.Equal(t, int32(2), f.drained.Load())

	header, err := ParseHeader(f.sender.Packets()[2])
	require.NoError(t, err)
	assert.Equal(t, uint32(320), header.Timestamp)
}

func TestPacerInactiveSessionStopsWithoutSend(t *testing.T) {
	f := newPacerFixture(t)

	require.NoError(t, f.pacer.Enqueue(make([]byte, 320)))
	f.active.Store(false)

	assert.False(t, stepPacer(f.pacer))
	assert.Empty(t, f.sender.Packets())
	assert.Equal(t, int32(1), f.drained.Load())
	assert.False(t, f.pacer.IsStreaming())

	assert.ErrorIs(t, f.pacer.Enqueue(make([]byte, 160)), ErrSessionInactive)
}

func TestPacerStopPlaybackDiscardsWithoutSignal(t *testing.T) {
	f := newPacerFixture(t)

	require.NoError(t, f.pacer.Enqueue(make([]byte, 1600)))
	require.True(t, stepPacer(f.pacer))

	f.pacer.StopPlayback()
	assert.Equal(t, 0, f.pacer.QueueLen())
	assert.False(t, f.pacer.IsStreaming())
	assert.False(t, stepPacer(f.pacer))
	assert.Len(t, f.sender.Packets(), 1)
	assert.Equal(t, int32(0), f.drained.Load())
}

func TestPacerStaleClockDoesNotSend(t *testing.T) {
	f := newPacerFixture(t)

	require.NoError(t, f.pacer.Enqueue(make([]byte, 160)))
	f.pacer.mu.Lock()
	stale := f.pacer.stopCh
	f.pacer.mu.Unlock()

	f.pacer.StopPlayback()
	require.NoError(t, f.pacer.Enqueue(make([]byte, 160)))

	assert.False(t, f.pacer.tick(stale))
	assert.Empty(t, f.sender.Packets())
	assert.Equal(t, 1, f.pacer.QueueLen())
}

func TestPacerNoRemoteDropsPacket(t *testing.T) {
	f := newPacerFixture(t)
	f.remote = nil

	require.NoError(t, f.pacer.Enqueue(make([]byte, 160)))
	f.drain(t)

	assert.Empty(t, f.sender.Packets())
	assert.Equal(t, uint64(1), f.pacer.Stats().Dropped)
}

func TestPacerWriteStaging(t *testing.T) {
	tests := []struct {
		name        string
		writes      [][]byte
		expectError error
		staged      int
	}{
		{
			name:        "empty rejected",
			writes:      [][]byte{{}},
			expectError: ErrSilentAudio,
		},
		{
			name:        "silence rejected",
			writes:      [][]byte{bytes.Repeat([]byte{0xFF}, 160)},
			expectError: ErrSilentAudio,
		},
		{
			name:   "fits",
			writes: [][]byte{bytes.Repeat([]byte{0x01}, 640)},
			staged: 640,
		},
		{
			name:        "overflow rejected whole",
			writes:      [][]byte{bytes.Repeat([]byte{0x01}, 600), bytes.Repeat([]byte{0x02}, 41)},
			expectError: ErrBufferFull,
			staged:      600,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newPacerFixture(t)
			var err error
			for _, w := range tt.writes {
				_, err = f.pacer.Write(w)
			}
			if tt.expectError != nil {
				assert.ErrorIs(t, err, tt.expectError)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.staged, f.pacer.StagedLen())
		})
	}
}

func TestPacerWriteFlushesOnTick(t *testing.T) {
	f := newPacerFixture(t)

	n, err := f.pacer.Write(bytes.Repeat([]byte{0x22}, 400))
	require.NoError(t, err)
	assert.Equal(t, 400, n)
	assert.True(t, f.pacer.IsStreaming())

	// first tick moves the two whole frames, keeping the remainder staged
	require.True(t, stepPacer(f.pacer))
	assert.Equal(t, 80, f.pacer.StagedLen())
	assert.Equal(t, 1, f.pacer.QueueLen())

	f.drain(t)
	assert.Equal(t, 0, f.pacer.StagedLen())

	packets := f.sender.Packets()
	require.Len(t, packets, 3)
	last := StripHeader(packets[2])
	assert.Equal(t, bytes.Repeat([]byte{0x22}, 80), last[:80])
	assert.Equal(t, bytes.Repeat([]byte{0xFF}, 80), last[80:])
}

func TestPacerPtimeStats(t *testing.T) {
	f := newPacerFixture(t)

	require.NoError(t, f.pacer.Enqueue(make([]byte, 160*4)))
	f.drain(t)

	stats := f.pacer.Stats()
	assert.Equal(t, uint64(4), stats.PacketsSent)
	assert.Equal(t, uint64(4*172), stats.BytesSent)
	assert.Equal(t, 3, stats.Ptime.Count)
	assert.Equal(t, 20*time.Millisecond, stats.Ptime.Mean())
}

func TestPacerSendErrorCounted(t *testing.T) {
	f := newPacerFixture(t)
	f.sender.sendErr = errors.New("network unreachable")

	require.NoError(t, f.pacer.Enqueue(make([]byte, 320)))
	f.drain(t)

	assert.Equal(t, uint64(2), f.pacer.Stats().SendErrors)
	assert.Equal(t, uint64(0), f.pacer.Stats().PacketsSent)
}

func TestPacerCloseIdempotent(t *testing.T) {
	f := newPacerFixture(t)
	require.NoError(t, f.pacer.Enqueue(make([]byte, 320)))

	require.NoError(t, f.pacer.Close())
	require.NoError(t, f.pacer.Close())

	assert.Equal(t, 1, f.sender.closeCnt)
	assert.False(t, f.pacer.IsStreaming())
	assert.ErrorIs(t, f.pacer.Enqueue(make([]byte, 160)), ErrPacerClosed)
	_, err := f.pacer.Write([]byte{0x01})
	assert.ErrorIs(t, err, ErrPacerClosed)
}

func TestPacerRealClockStreams(t *testing.T) {
	addr := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 0}
	listener, err := net.ListenUDP("udp4", addr)
	require.NoError(t, err)
	defer listener.Close()

	drained := make(chan struct{}, 1)
	pacer, err := NewPacer(PacerConfig{
		ChannelID: "real",
		Remote:    func() *net.UDPAddr { return listener.LocalAddr().(*net.UDPAddr) },
		OnDrained: func() { drained <- struct{}{} },
	})
	require.NoError(t, err)
	defer pacer.Close()

	require.NoError(t, pacer.Enqueue(bytes.Repeat([]byte{0x33}, 480)))

	select {
	case <-drained:
	case <-time.After(2 * time.Second):
		t.Fatal("pacer did not drain")
	}

	require.NoError(t, listener.SetReadDeadline(time.Now().Add(time.Second)))
	buf := make([]byte, 1500)
	for i := 0; i < 3; i++ {
		n, _, err := listener.ReadFromUDP(buf)
		require.NoError(t, err)
		assert.Equal(t, 172, n)
	}
}
