// Package rtp provides the RTP receive and send engine of the media gateway.
//
// The package handles RTP packet framing, UDP port allocation, inbound audio
// reception and real-time outbound pacing. It uses the pion/rtp library for
// standards-compliant header handling.
//
// # Architecture Overview
//
//   - PortPool: process-wide allocator of even-numbered media ports
//   - Receiver: one UDP listener per call, forwards inbound payloads
//   - Pacer: one outbound queue and 20 ms clock per call
//   - PtimeStats: inter-packet interval diagnostics
//
// # Packet Codec
//
//	header := rtp.BuildHeader(seq, timestamp, ssrc) // 12 bytes, PCMU
//	payload := rtp.StripHeader(datagram)
//
// StripHeader drops a fixed 12 bytes; the receiver never reorders or
// validates inbound packets beyond that.
//
// # Pacing
//
//	pacer, err := rtp.NewPacer(rtp.PacerConfig{
//	    ChannelID: channelID,
//	    Remote:    session.RemoteAddr,
//	    Active:    session.IsActive,
//	    OnDrained: signal.Notify,
//	})
//	err = pacer.Enqueue(ulaw)
//
// The pacer is idle until audio is enqueued. It then sends exactly one
// 160-byte packet per tick and returns to idle, reporting the drain, when
// the queue empties.
//
// # Deterministic Testing
//
// Time and SSRC generation are injectable:
//
//	pacer, _ := rtp.NewPacer(rtp.PacerConfig{
//	    TimeProvider: mockTime,
//	    SSRCProvider: &MockSSRCProvider{nextSSRC: 0x1234},
//	})
//
// # Thread Safety
//
// All exported types are safe for concurrent use from multiple goroutines.
package rtp
