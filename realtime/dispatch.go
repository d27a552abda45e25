package realtime

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/opd-ai/rtpgateway/audio"
	"github.com/sirupsen/logrus"
)

// Progress log thresholds within one utterance.
const (
	progressLogBytes    = 40000
	progressLogSegments = 100
)

// pushIntake parses a raw frame and queues it for the dispatcher.
// Frames that are not valid JSON are logged and discarded here.
func (c *Client) pushIntake(data []byte) {
	msg := &ServerMessage{}
	if err := json.Unmarshal(data, msg); err != nil {
		fields := c.protocolFields("Client.pushIntake", "server")
		fields["size"] = len(data)
		fields["error"] = err.Error()
		logrus.WithFields(fields).Warn("Discarding malformed realtime frame")
		return
	}

	c.intakeMu.Lock()
	c.intake = append(c.intake, msg)
	c.intakeMu.Unlock()
}

// QueueLen returns the number of messages waiting for dispatch.
func (c *Client) QueueLen() int {
	c.intakeMu.Lock()
	defer c.intakeMu.Unlock()
	return len(c.intake)
}

func (c *Client) dispatchLoop() {
	defer close(c.dispatchDone)

	ticker := time.NewTicker(c.cfg.DispatchInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			c.ProcessPending(c.cfg.DispatchBatch)
		}
	}
}

// ProcessPending dispatches up to max queued messages in arrival order and
// returns how many were handled.
func (c *Client) ProcessPending(max int) int {
	c.dispatchMu.Lock()
	defer c.dispatchMu.Unlock()

	c.intakeMu.Lock()
	n := len(c.intake)
	if n > max {
		n = max
	}
	batch := make([]*ServerMessage, n)
	copy(batch, c.intake[:n])
	remaining := copy(c.intake, c.intake[n:])
	for i := remaining; i < len(c.intake); i++ {
		c.intake[i] = nil
	}
	c.intake = c.intake[:remaining]
	c.intakeMu.Unlock()

	for _, msg := range batch {
		c.dispatch(msg)
	}
	return n
}

func (c *Client) dispatch(msg *ServerMessage) {
	defer func() {
		if r := recover(); r != nil {
			fields := c.protocolFields("Client.dispatch", "server")
			fields["panic"] = fmt.Sprint(r)
			logrus.WithFields(fields).Error("Recovered from realtime message handler panic")
		}
	}()

	switch msg.Kind() {
	case KindSetupComplete:
		logrus.WithFields(c.protocolFields("Client.dispatch", "server")).Info("Realtime setup complete")
	case KindAudio:
		c.handleAudio(msg.AudioData())
	case KindGenerationComplete:
		c.handleGenerationComplete()
	default:
		logrus.WithFields(c.protocolFields("Client.dispatch", "server")).Debug("Ignoring realtime message")
	}
}

func (c *Client) handleAudio(data string) {
	pcm, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		fields := c.protocolFields("Client.handleAudio", "server")
		fields["error"] = err.Error()
		logrus.WithFields(fields).Warn("Discarding undecodable audio delta")
		return
	}
	if audio.IsSilence(pcm) {
		fields := c.protocolFields("Client.handleAudio", "server")
		fields["size"] = len(pcm)
		logrus.WithFields(fields).Warn("Discarding empty or silent audio delta")
		return
	}

	ulaw := audio.Transcode24kToULaw(pcm)
	if audio.IsSilence(ulaw) {
		fields := c.protocolFields("Client.handleAudio", "server")
		fields["size"] = len(pcm)
		logrus.WithFields(fields).Debug("Discarding delta that companded to silence")
		return
	}

	total := c.meter.Add(int64(len(ulaw)))
	if total == int64(len(ulaw)) && c.cfg.SilencePadding > 0 {
		ulaw = audio.PadUtteranceStart(ulaw, c.cfg.SilencePadding)
	}

	if err := c.cfg.Playback.Enqueue(ulaw); err != nil {
		fields := c.fields("Client.handleAudio")
		fields["error"] = err.Error()
		logrus.WithFields(fields).Warn("Playback rejected audio")
		return
	}

	c.progressBytes += len(ulaw)
	c.progressSegments++
	if c.progressBytes >= progressLogBytes || c.progressSegments >= progressLogSegments {
		fields := c.protocolFields("Client.handleAudio", "server")
		fields["utterance_bytes"] = total
		fields["segments"] = c.progressSegments
		logrus.WithFields(fields).Info("Streaming model audio")
		c.progressBytes = 0
		c.progressSegments = 0
	}
}

func (c *Client) handleGenerationComplete() {
	fields := c.protocolFields("Client.dispatch", "server")
	fields["utterance_bytes"] = c.meter.Total()
	logrus.WithFields(fields).Info("Model generation complete")

	c.meter.Finish()
	c.progressBytes = 0
	c.progressSegments = 0
}
