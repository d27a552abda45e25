// Package main provides the command-line entry point of the RTP media gateway.
//
// # Overview
//
// The command loads settings from a dotenv file and the environment,
// starts the gateway, and optionally opens one call so the media path can
// be exercised with any RTP endpoint. It runs until interrupted.
//
// # Usage
//
// Run with settings from config.conf:
//
//	go run ./cmd/rtpgateway
//
// Open a call for channel "demo" and play model audio to 127.0.0.1:40000:
//
//	go run ./cmd/rtpgateway -channel demo -remote 127.0.0.1:40000
//
// Emit JSON logs at debug level:
//
//	go run ./cmd/rtpgateway -log-json -log-level debug
//
// # Configuration Options
//
//   - -config: settings file (default: config.conf)
//   - -log-level: overrides LOG_LEVEL
//   - -log-json: JSON log output instead of text
//   - -log-file: log file path (default: stderr)
//   - -channel: open a call with this channel id at startup
//   - -remote: caller media address for -channel (learned when empty)
//   - -help: show usage
package main
