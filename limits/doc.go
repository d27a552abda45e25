// Package limits provides centralized frame, packet and buffer size constants
// and validation functions for the gateway media path. It keeps the RTP
// engine, the audio transcoder and the realtime client in agreement about
// how large a frame is and how fast frames move.
//
// # Frame Size Hierarchy
//
//   - RTPHeaderSize (12 bytes): fixed RTP header with no CSRC list or extension.
//
//   - FrameSize (160 bytes): one 20 ms frame of 8 kHz µ-law audio, which is
//     also the number of RTP timestamp units a packet advances.
//
//   - MaxStagingBuffer (640 bytes): four frames of raw staging space in the
//     pacer. Writes that would overflow it are rejected.
//
//   - MaxDatagram (1500 bytes): largest inbound datagram the receiver reads.
//
// # Validation Functions
//
//	err := limits.ValidateDatagram(payload)
//	if err != nil {
//	    // ErrFrameEmpty or ErrFrameTooLarge
//	}
//
// For custom limits, use ValidateSize:
//
//	err := limits.ValidateSize(data, limits.MaxStagingBuffer)
package limits
