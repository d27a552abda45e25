// Package realtime implements the streaming client for the AI speech
// session.
//
// A Client owns one websocket connection per call. It sends a setup
// message on connect, forwards caller audio as base64 µ-law append
// messages, and turns model audio deltas into 8 kHz µ-law that is handed
// to a Playback sink (normally an *rtp.Pacer).
//
// Inbound frames are parsed at intake and queued. A dispatcher goroutine
// drains at most five queued messages every 25 ms, in arrival order, so a
// burst of deltas cannot starve the rest of the process.
//
// Connection loss while open triggers a bounded reconnect: three retries
// with a one second backoff. The retry budget is shared by the whole life
// of the client, so a flapping endpoint eventually closes the session.
//
// Example:
//
//	client, err := realtime.NewClient(realtime.Config{
//	    ChannelID:         "chan-1",
//	    URL:               cfg.RealtimeURL,
//	    APIKey:            cfg.APIKey,
//	    Model:             cfg.Model,
//	    SystemInstruction: cfg.SystemInstruction,
//	    Playback:          pacer,
//	})
//	if err != nil {
//	    return err
//	}
//	if err := client.Connect(ctx); err != nil {
//	    return err
//	}
//	defer client.Close()
package realtime
