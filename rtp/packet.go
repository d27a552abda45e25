package rtp

import (
	"fmt"

	"github.com/opd-ai/rtpgateway/limits"
	"github.com/pion/rtp"
)

// PayloadTypePCMU is the static RTP payload type for G.711 µ-law.
const PayloadTypePCMU uint8 = 0

// BuildHeader returns the fixed 12-byte RTP header for an outbound PCMU
// packet: version 2, no padding, no extension, no CSRC, marker clear.
func BuildHeader(sequence uint16, timestamp uint32, ssrc uint32) []byte {
	header := rtp.Header{
		Version:        2,
		PayloadType:    PayloadTypePCMU,
		SequenceNumber: sequence,
		Timestamp:      timestamp,
		SSRC:           ssrc,
	}
	buf := make([]byte, limits.RTPHeaderSize)
	// MarshalTo only fails when buf is smaller than MarshalSize.
	if _, err := header.MarshalTo(buf); err != nil {
		panic(fmt.Sprintf("rtp header marshal: %v", err))
	}
	return buf
}

// BuildPacket returns a complete datagram: header followed by payload.
func BuildPacket(sequence uint16, timestamp uint32, ssrc uint32, payload []byte) []byte {
	packet := make([]byte, 0, limits.RTPHeaderSize+len(payload))
	packet = append(packet, BuildHeader(sequence, timestamp, ssrc)...)
	return append(packet, payload...)
}

// StripHeader drops the first 12 bytes of a datagram. Datagrams shorter
// than a header yield an empty payload.
func StripHeader(packet []byte) []byte {
	if len(packet) <= limits.RTPHeaderSize {
		return []byte{}
	}
	return packet[limits.RTPHeaderSize:]
}

// ParseHeader decodes the RTP header of a datagram for diagnostics.
func ParseHeader(packet []byte) (*rtp.Header, error) {
	header := &rtp.Header{}
	if _, err := header.Unmarshal(packet); err != nil {
		return nil, fmt.Errorf("failed to unmarshal RTP header: %w", err)
	}
	return header, nil
}
