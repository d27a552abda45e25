// Package rtpgateway bridges telephony RTP audio and a streaming AI speech
// session.
//
// Each call gets its own media port, an RTP receiver that forwards caller
// audio to the model, a pacer that plays model audio back at real-time
// cadence, and a realtime client that owns the model connection. The
// Gateway owns the table of live calls and runs their teardown.
//
// # Getting Started
//
//	cfg, err := config.Load("config.conf")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	gw, err := rtpgateway.New(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer gw.Close()
//
//	gw.OnUtteranceDelivered(func(channelID string) {
//	    // resume listening for the caller
//	})
//
//	session, err := gw.StartSession(ctx, channelID, nil)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println("send RTP to port", session.Port())
//
// # Audio Path
//
// Caller audio arrives as 8 kHz µ-law RTP and is forwarded unchanged,
// base64 encoded, once the model connection is open. Model audio arrives
// as 24 kHz linear PCM and is decimated, companded, padded with a short
// lead-in of silence, and paced out in 160-byte packets every 20 ms.
//
// # Subpackages
//
//   - [github.com/opd-ai/rtpgateway/rtp]: packet codec, port pool, receiver, pacer
//   - [github.com/opd-ai/rtpgateway/audio]: decimation and G.711 µ-law
//   - [github.com/opd-ai/rtpgateway/realtime]: AI session client and dispatcher
//   - [github.com/opd-ai/rtpgateway/turn]: end-of-utterance delivery wait
//   - [github.com/opd-ai/rtpgateway/config]: settings loader
//   - [github.com/opd-ai/rtpgateway/limits]: shared sizes and timings
//
// # Thread Safety
//
// Gateway and CallSession methods are safe for concurrent use.
package rtpgateway
