// Package mock provides a mock STT adapter for running the relay without
// provider credentials. It replays scripted utterances: one partial per audio
// frame, then exactly one final per utterance.
package mock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"transcription-relay/internal/service/stt"
)

// SimulatedUtterance represents a mock utterance with progressive transcripts.
type SimulatedUtterance struct {
	Partials   []string // Progressive partial transcripts
	Final      string   // Final transcript text
	Confidence float64  // Confidence score for final
}

// DefaultUtterances provides sample utterances for simulation.
var DefaultUtterances = []SimulatedUtterance{
	{
		Partials:   []string{"I want", "I want to", "I want to cancel"},
		Final:      "I want to cancel my subscription",
		Confidence: 0.94,
	},
	{
		Partials:   []string{"Yes", "Yes please"},
		Final:      "Yes please go ahead",
		Confidence: 0.97,
	},
	{
		Partials:   []string{"Can you", "Can you help", "Can you help me with"},
		Final:      "Can you help me with my account",
		Confidence: 0.91,
	},
	{
		Partials:   []string{"I've been", "I've been waiting", "I've been waiting for"},
		Final:      "I've been waiting for over an hour",
		Confidence: 0.89,
	},
	{
		Partials:   []string{"Thank you"},
		Final:      "Thank you very much",
		Confidence: 0.98,
	},
}

// ErrNotStarted is returned by SendAudio before Start.
var ErrNotStarted = errors.New("mock session not started")

// Config controls the simulation.
type Config struct {
	Utterances []SimulatedUtterance
	// MinFrameBytes is the smallest frame that advances the script; smaller
	// frames are treated as keep-alive and ignored.
	MinFrameBytes int
	// OpenDelay postpones OnOpen to simulate the provider handshake.
	OpenDelay time.Duration
}

// DefaultConfig returns the configuration used by the relay.
func DefaultConfig() Config {
	return Config{
		Utterances:    DefaultUtterances,
		MinFrameBytes: 1024,
	}
}

// Adapter implements stt.Adapter with scripted responses.
type Adapter struct {
	cfg          Config
	mu           sync.Mutex
	queue        chan func(stt.Callback)
	sessionID    string
	utterance    int // index into cfg.Utterances
	partialIndex int // next partial to send for the current utterance
	frames       int
	started      bool
	closed       bool
}

// sessionCounter tracks which utterance to use next (cycles through defaults)
var (
	sessionCounter int
	counterMu      sync.Mutex
)

// New creates a mock adapter with DefaultConfig.
func New() *Adapter {
	return NewWithConfig(DefaultConfig())
}

// NewWithConfig creates a mock adapter.
func NewWithConfig(cfg Config) *Adapter {
	if len(cfg.Utterances) == 0 {
		cfg.Utterances = DefaultUtterances
	}

	counterMu.Lock()
	n := sessionCounter
	sessionCounter++
	counterMu.Unlock()

	return &Adapter{
		cfg:       cfg,
		sessionID: fmt.Sprintf("mock-%d", n),
		utterance: n % len(cfg.Utterances),
	}
}

// Name returns the provider name.
func (a *Adapter) Name() string { return "mock" }

// Start opens the simulated session. OnOpen is delivered asynchronously.
func (a *Adapter) Start(ctx context.Context, cb stt.Callback) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.started {
		return errors.New("mock session already started")
	}
	a.started = true
	a.queue = make(chan func(stt.Callback), 256)

	delay := a.cfg.OpenDelay
	sessionID := a.sessionID
	a.queue <- func(cb stt.Callback) {
		if delay > 0 {
			time.Sleep(delay)
		}
		cb.OnOpen(sessionID)
	}

	go a.dispatch(cb)
	return nil
}

// dispatch delivers queued events in order on a single goroutine.
func (a *Adapter) dispatch(cb stt.Callback) {
	for fn := range a.queue {
		fn(cb)
	}
	cb.OnClose("session closed")
}

// SendAudio advances the script by one step per real audio frame.
func (a *Adapter) SendAudio(ctx context.Context, audio []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.started {
		return ErrNotStarted
	}
	if a.closed {
		return nil
	}
	if len(audio) < a.cfg.MinFrameBytes {
		return nil
	}
	a.frames++

	utt := a.cfg.Utterances[a.utterance]
	if a.partialIndex < len(utt.Partials) {
		text := utt.Partials[a.partialIndex]
		a.partialIndex++
		a.enqueueLocked(func(cb stt.Callback) { cb.OnPartial(text, nil) })
		return nil
	}

	a.enqueueFinalLocked()
	return nil
}

// enqueueFinalLocked emits the current utterance's final and moves on to
// the next utterance.
func (a *Adapter) enqueueFinalLocked() {
	utt := a.cfg.Utterances[a.utterance]
	conf := utt.Confidence
	a.enqueueLocked(func(cb stt.Callback) { cb.OnFinal(utt.Final, &conf) })
	a.partialIndex = 0
	a.utterance = (a.utterance + 1) % len(a.cfg.Utterances)
}

func (a *Adapter) enqueueLocked(fn func(stt.Callback)) {
	select {
	case a.queue <- fn:
	default:
		// Queue full; the dispatcher is stuck behind a slow callback.
	}
}

// Frames returns the number of real audio frames received.
func (a *Adapter) Frames() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.frames
}

// Close ends the mock session. An utterance cut short by the close still
// gets its final, followed by OnClose.
func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return nil
	}
	a.closed = true
	if !a.started {
		return nil
	}
	if a.partialIndex > 0 {
		a.enqueueFinalLocked()
	}
	close(a.queue)
	return nil
}
