package realtime

import (
	"encoding/base64"
	"strings"
)

// Message kinds recognised by the dispatcher.
const (
	KindSetupComplete      = "setupComplete"
	KindAudio              = "audio"
	KindGenerationComplete = "generationComplete"
	KindOther              = "other"
)

// audioAppendType is the type tag of caller audio messages.
const audioAppendType = "input_audio_buffer.append"

// SetupMessage is the first message sent on every connection.
type SetupMessage struct {
	Setup Setup `json:"setup"`
}

// Setup selects the model and output modality.
type Setup struct {
	Model             string            `json:"model"`
	GenerationConfig  GenerationConfig  `json:"generationConfig"`
	SystemInstruction SystemInstruction `json:"systemInstruction"`
}

// GenerationConfig restricts responses to audio.
type GenerationConfig struct {
	ResponseModalities []string `json:"responseModalities"`
}

// SystemInstruction carries the agent prompt.
type SystemInstruction struct {
	Parts []TextPart `json:"parts"`
}

// TextPart is a single text fragment.
type TextPart struct {
	Text string `json:"text"`
}

// NewSetupMessage builds the setup message for model. Double quotes are
// stripped from the instruction.
func NewSetupMessage(model, instruction string) SetupMessage {
	if !strings.HasPrefix(model, "models/") {
		model = "models/" + model
	}
	return SetupMessage{
		Setup: Setup{
			Model: model,
			GenerationConfig: GenerationConfig{
				ResponseModalities: []string{"AUDIO"},
			},
			SystemInstruction: SystemInstruction{
				Parts: []TextPart{{Text: strings.ReplaceAll(instruction, `"`, "")}},
			},
		},
	}
}

// AudioAppendMessage forwards caller audio to the model.
type AudioAppendMessage struct {
	Type  string `json:"type"`
	Audio string `json:"audio"`
}

// NewAudioAppendMessage base64-encodes ulaw into an append message.
func NewAudioAppendMessage(ulaw []byte) AudioAppendMessage {
	return AudioAppendMessage{
		Type:  audioAppendType,
		Audio: base64.StdEncoding.EncodeToString(ulaw),
	}
}

// ServerMessage is the subset of server frames the client understands.
type ServerMessage struct {
	SetupComplete *struct{}      `json:"setupComplete,omitempty"`
	ServerContent *ServerContent `json:"serverContent,omitempty"`
}

// ServerContent carries model output for the current turn.
type ServerContent struct {
	ModelTurn          *ModelTurn `json:"modelTurn,omitempty"`
	GenerationComplete bool       `json:"generationComplete,omitempty"`
	TurnComplete       bool       `json:"turnComplete,omitempty"`
	Interrupted        bool       `json:"interrupted,omitempty"`
}

// ModelTurn is a list of content parts.
type ModelTurn struct {
	Parts []Part `json:"parts"`
}

// Part is one piece of model output.
type Part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *InlineData `json:"inlineData,omitempty"`
}

// InlineData is base64 media.
type InlineData struct {
	MimeType string `json:"mimeType,omitempty"`
	Data     string `json:"data"`
}

// Kind classifies the message. Setup acknowledgement wins over audio,
// which wins over generation completion.
func (m *ServerMessage) Kind() string {
	switch {
	case m.SetupComplete != nil:
		return KindSetupComplete
	case m.hasAudio():
		return KindAudio
	case m.ServerContent != nil && m.ServerContent.GenerationComplete:
		return KindGenerationComplete
	default:
		return KindOther
	}
}

func (m *ServerMessage) hasAudio() bool {
	if m.ServerContent == nil || m.ServerContent.ModelTurn == nil {
		return false
	}
	parts := m.ServerContent.ModelTurn.Parts
	return len(parts) > 0 && parts[0].InlineData != nil
}

// AudioData returns the base64 payload of the first part, or "".
func (m *ServerMessage) AudioData() string {
	if !m.hasAudio() {
		return ""
	}
	return m.ServerContent.ModelTurn.Parts[0].InlineData.Data
}
