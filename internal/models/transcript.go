// Package models defines the data structures for transcript events.
package models

const (
	EventTypePartial = "relay.transcript.partial"
	EventTypeFinal   = "relay.transcript.final"
)

// TranscriptPartial is an interim transcript forwarded to a client.
type TranscriptPartial struct {
	EventType  string   `json:"eventType"`
	ClientID   string   `json:"clientId"`
	SessionID  string   `json:"sessionId,omitempty"`
	Provider   string   `json:"provider"`
	Timestamp  int64    `json:"timestamp"`
	Text       string   `json:"text"`
	Confidence *float64 `json:"confidence,omitempty"`
}

// TranscriptFinal is a committed transcript forwarded to a client.
type TranscriptFinal struct {
	EventType  string   `json:"eventType"`
	ClientID   string   `json:"clientId"`
	SessionID  string   `json:"sessionId,omitempty"`
	Provider   string   `json:"provider"`
	Timestamp  int64    `json:"timestamp"`
	Text       string   `json:"text"`
	Confidence *float64 `json:"confidence,omitempty"`
}
