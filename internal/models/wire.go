package models

import (
	"bytes"
	"encoding/json"
)

// Event frame types sent by the relay.
const (
	EventSessionCreated         = "session.created"
	EventTranscriptionDelta     = "conversation.item.input_audio_transcription.delta"
	EventTranscriptionCompleted = "conversation.item.input_audio_transcription.completed"
	EventPartialTranscript      = "PartialTranscript"
	EventFinalTranscript        = "FinalTranscript"
	EventClientIdentified       = "client_identified"
	EventPong                   = "pong"
)

// Control frame values sent by clients.
const (
	ControlPing           = "ping"
	ControlIdentifyClient = "identify_client"
)

// Close codes used by the relay beyond the RFC 6455 range.
const (
	CloseIdleTimeout            = 4000
	CloseSessionTimeout         = 4001
	CloseUpstreamConnectTimeout = 4002
	CloseUpstreamConnectFailed  = 4003
	CloseUpstreamClosed         = 4004
)

// ControlFrame is a JSON text frame from a client.
type ControlFrame struct {
	Type    string `json:"type"`
	Message string `json:"message,omitempty"`
}

// EventFrame is a JSON frame sent to a client. Fields are populated
// according to Type.
type EventFrame struct {
	Type       string   `json:"type"`
	ClientID   string   `json:"clientId,omitempty"`
	SessionID  string   `json:"sessionId,omitempty"`
	Delta      string   `json:"delta,omitempty"`
	Transcript string   `json:"transcript,omitempty"`
	Text       string   `json:"text,omitempty"`
	Confidence *float64 `json:"confidence,omitempty"`
}

// ParseControl reports whether data is a control frame: a JSON object with
// a non-empty type. Anything else, malformed JSON included, is audio.
func ParseControl(data []byte) (ControlFrame, bool) {
	trimmed := bytes.TrimLeft(data, " \t\r\n")
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return ControlFrame{}, false
	}
	var f ControlFrame
	if err := json.Unmarshal(trimmed, &f); err != nil || f.Type == "" {
		return ControlFrame{}, false
	}
	return f, true
}
