// Package stt defines the interface for Speech-to-Text adapters.
package stt

import "context"

// Callback receives events from the STT provider. An adapter delivers the
// events of one session in the order the provider produced them and never
// calls two methods concurrently.
type Callback interface {
	// OnOpen is called once the provider session is established.
	OnOpen(sessionID string)

	// OnPartial is called when an interim transcript is received.
	// confidence is nil when the provider does not report one.
	OnPartial(text string, confidence *float64)

	// OnFinal is called when a final transcript is received.
	OnFinal(text string, confidence *float64)

	// OnError is called when an error occurs during transcription.
	OnError(err error)

	// OnClose is called once when the provider session ends.
	OnClose(reason string)
}

// Adapter defines the interface for STT providers (AssemblyAI, Google, mock).
type Adapter interface {
	// Name identifies the provider in logs and metrics.
	Name() string

	// Start dials the provider and begins a streaming session. It returns
	// once the connection attempt has been made; OnOpen reports readiness.
	Start(ctx context.Context, cb Callback) error

	// SendAudio sends audio bytes to the STT provider.
	SendAudio(ctx context.Context, audio []byte) error

	// Close ends the session and releases resources. Safe to call more
	// than once.
	Close() error
}

// Factory creates a fresh adapter for one relay client.
type Factory func(ctx context.Context) (Adapter, error)

// MeanConfidence averages word confidences; nil when there are none.
func MeanConfidence(values []float64) *float64 {
	if len(values) == 0 {
		return nil
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(len(values))
	return &mean
}
