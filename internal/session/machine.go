// Package session turns the relay's transcript events into an ordered list
// of message blocks and keeps the relay connection alive while recording.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"transcription-relay/internal/clock"
	"transcription-relay/internal/models"
	"transcription-relay/internal/observability/logging"
)

// State is the connection state shown to the user.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateStreaming
	StateSilenceDetected
	StateReconnecting
	StateError
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateStreaming:
		return "streaming"
	case StateSilenceDetected:
		return "silence_detected"
	case StateReconnecting:
		return "reconnecting"
	case StateError:
		return "error"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// Config controls segmentation and reconnection.
type Config struct {
	URL                  string
	SilenceThreshold     time.Duration
	ReconnectBase        time.Duration
	ReconnectMax         time.Duration
	MaxReconnectAttempts int
	DialTimeout          time.Duration
	// OnChange, when set, is called with a snapshot after every change. It
	// runs with no lock held.
	OnChange func(Snapshot)
}

// DefaultConfig returns the standard session settings for url.
func DefaultConfig(url string) Config {
	return Config{
		URL:                  url,
		SilenceThreshold:     10 * time.Second,
		ReconnectBase:        time.Second,
		ReconnectMax:         30 * time.Second,
		MaxReconnectAttempts: 5,
		DialTimeout:          10 * time.Second,
	}
}

// Snapshot is everything a renderer needs.
type Snapshot struct {
	State     State
	Messages  []Message
	Partial   string
	NewWords  string
	ClientID  string
	SessionID string
}

// Machine is the client-side session state machine. Transcript events,
// timers and user actions are serialized by one mutex.
type Machine struct {
	cfg    Config
	clock  clock.Clock
	dialer Dialer
	ids    *IDGenerator
	logger zerolog.Logger

	mu        sync.Mutex
	state     State
	messages  messageList
	current   *Message
	finalized string // text committed to the current message
	partial   string
	newWords  string
	clientID  string
	sessionID string

	conn      Conn
	gen       int // bumped whenever the connection is replaced or dropped
	ctx       context.Context
	recording bool
	attempt   int

	silenceTimer   clock.Timer
	silenceGen     int
	reconnectTimer clock.Timer
}

// NewMachine creates a disconnected machine.
func NewMachine(cfg Config, dialer Dialer, clk clock.Clock) *Machine {
	if clk == nil {
		clk = clock.Real()
	}
	return &Machine{
		cfg:    cfg,
		clock:  clk,
		dialer: dialer,
		ids:    NewIDGenerator(uuid.NewString()[:8]),
		logger: logging.WithComponent("session"),
		state:  StateDisconnected,
	}
}

// Start begins a recording session and connects to the relay. A failed
// first dial is retried with backoff and returned for reporting.
func (m *Machine) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.recording {
		m.mu.Unlock()
		return nil
	}
	m.recording = true
	m.ctx = ctx
	m.attempt = 0
	m.mu.Unlock()

	return m.connect()
}

// connect dials the relay once. On failure it schedules a retry while the
// session is still recording.
func (m *Machine) connect() error {
	m.mu.Lock()
	if !m.recording {
		m.mu.Unlock()
		return nil
	}
	m.gen++
	gen := m.gen
	ctx := m.ctx
	m.setState(StateConnecting)
	m.mu.Unlock()
	m.notify()

	dialCtx, cancel := context.WithTimeout(ctx, m.cfg.DialTimeout)
	conn, err := m.dialer.Dial(dialCtx, m.cfg.URL, &connHandler{m: m, gen: gen})
	cancel()

	m.mu.Lock()
	if err != nil {
		m.logger.Warn().Err(err).Int("attempt", m.attempt).Msg("Relay dial failed")
		if gen == m.gen {
			m.setState(StateDisconnected)
			m.scheduleReconnectLocked()
		}
		m.mu.Unlock()
		m.notify()
		return fmt.Errorf("connecting to relay: %w", err)
	}
	if !m.recording || gen != m.gen {
		m.mu.Unlock()
		conn.Close(1000, "")
		return nil
	}
	m.conn = conn
	m.attempt = 0
	m.setState(StateConnected)
	m.mu.Unlock()

	m.logger.Info().Str("url", m.cfg.URL).Msg("Connected to relay")
	if err := conn.SendControl(models.ControlFrame{Type: models.ControlPing, Message: models.ControlIdentifyClient}); err != nil {
		m.logger.Debug().Err(err).Msg("Failed to send identify")
	}
	m.notify()
	return nil
}

func (m *Machine) scheduleReconnectLocked() {
	if !m.recording {
		return
	}
	if m.attempt >= m.cfg.MaxReconnectAttempts {
		m.logger.Error().Int("attempts", m.attempt).Msg("Giving up reconnecting to relay")
		m.setState(StateError)
		return
	}
	delay := Backoff(m.cfg.ReconnectBase, m.attempt, m.cfg.ReconnectMax)
	m.attempt++
	m.setState(StateReconnecting)
	m.logger.Info().Dur("delay", delay).Int("attempt", m.attempt).Msg("Scheduling reconnect")

	gen := m.gen
	m.reconnectTimer = m.clock.AfterFunc(delay, func() {
		m.mu.Lock()
		stale := gen != m.gen || !m.recording
		m.mu.Unlock()
		if !stale {
			m.connect()
		}
	})
}

// Stop ends the recording session: it closes the connection with a normal
// closure, cancels any pending reconnect, closes the open message and
// clears partial state. Finalized messages are untouched.
func (m *Machine) Stop() error {
	m.mu.Lock()
	m.recording = false
	m.gen++
	conn := m.conn
	m.conn = nil
	if m.reconnectTimer != nil {
		m.reconnectTimer.Stop()
		m.reconnectTimer = nil
	}
	m.stopSilenceLocked()
	if m.current != nil {
		m.current.IsPartial = false
		m.current = nil
	}
	m.finalized, m.partial, m.newWords = "", "", ""
	m.setState(StateDisconnected)
	m.mu.Unlock()

	var err error
	if conn != nil {
		err = conn.Close(1000, "")
	}
	m.notify()
	return err
}

// SendAudio forwards one wire frame without blocking. It implements
// capture.Sink.
func (m *Machine) SendAudio(frame []byte) error {
	m.mu.Lock()
	conn := m.conn
	if conn != nil && m.state == StateConnected {
		m.setState(StateStreaming)
	}
	m.mu.Unlock()

	if conn == nil {
		return ErrNotConnected
	}
	return conn.SendAudio(frame)
}

type connHandler struct {
	m   *Machine
	gen int
}

func (h *connHandler) HandleEvent(frame models.EventFrame) { h.m.handleEvent(h.gen, frame) }
func (h *connHandler) HandleClose(err error)               { h.m.handleClose(h.gen, err) }

func (m *Machine) handleEvent(gen int, frame models.EventFrame) {
	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		return
	}
	switch frame.Type {
	case models.EventClientIdentified:
		m.clientID = frame.ClientID
	case models.EventSessionCreated:
		m.sessionID = frame.SessionID
		m.setState(StateConnected)
	case models.EventTranscriptionDelta:
		m.onTranscriptLocked(frame.Delta, false)
	case models.EventTranscriptionCompleted:
		m.onTranscriptLocked(frame.Transcript, true)
	default:
		// provider-named duplicates and pongs carry nothing new
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()
	m.notify()
}

// HandlePartial applies a partial transcript directly.
func (m *Machine) HandlePartial(text string) {
	m.mu.Lock()
	m.onTranscriptLocked(text, false)
	m.mu.Unlock()
	m.notify()
}

// HandleFinal applies a final transcript directly.
func (m *Machine) HandleFinal(text string) {
	m.mu.Lock()
	m.onTranscriptLocked(text, true)
	m.mu.Unlock()
	m.notify()
}

func (m *Machine) onTranscriptLocked(text string, final bool) {
	m.resetSilenceLocked()
	m.setState(StateConnected)

	if m.current == nil {
		m.current = &Message{
			ID:        m.ids.Next(),
			Timestamp: m.clock.Now(),
			IsPartial: true,
		}
		m.messages.append(m.current)
		m.finalized, m.partial, m.newWords = "", "", ""
	}

	if final {
		m.finalized = joinText(m.finalized, text)
		m.partial = ""
		m.newWords = ""
		m.current.Text = m.finalized
		return
	}
	m.newWords = WordDelta(m.partial, text)
	m.partial = text
	m.current.Text = joinText(m.finalized, text)
}

func (m *Machine) resetSilenceLocked() {
	m.stopSilenceLocked()
	gen := m.silenceGen
	m.silenceTimer = m.clock.AfterFunc(m.cfg.SilenceThreshold, func() {
		m.onSilence(gen)
	})
}

func (m *Machine) stopSilenceLocked() {
	m.silenceGen++
	if m.silenceTimer != nil {
		m.silenceTimer.Stop()
		m.silenceTimer = nil
	}
}

func (m *Machine) onSilence(gen int) {
	m.mu.Lock()
	if gen != m.silenceGen || m.current == nil {
		m.mu.Unlock()
		return
	}
	m.current.IsPartial = false
	m.current.SilenceSegmented = true
	m.logger.Debug().Str("messageId", m.current.ID).Msg("Message closed by silence")
	m.current = nil
	m.finalized, m.partial, m.newWords = "", "", ""
	m.silenceTimer = nil
	if m.state == StateConnected || m.state == StateStreaming {
		m.setState(StateSilenceDetected)
	}
	m.mu.Unlock()
	m.notify()
}

func (m *Machine) handleClose(gen int, err error) {
	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		return
	}
	m.gen++
	m.conn = nil
	// the next session starts fresh, so keep what was shown as committed text
	if m.current != nil && m.partial != "" {
		m.finalized = joinText(m.finalized, m.partial)
		m.current.Text = m.finalized
	}
	m.partial, m.newWords = "", ""
	m.setState(StateDisconnected)
	m.logger.Warn().Err(err).Bool("recording", m.recording).Msg("Relay connection closed")
	m.scheduleReconnectLocked()
	m.mu.Unlock()
	m.notify()
}

func (m *Machine) setState(s State) {
	if m.state != s {
		m.logger.Debug().Str("from", m.state.String()).Str("to", s.String()).Msg("State change")
		m.state = s
	}
}

// State returns the current connection state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Messages returns a copy of the message list.
func (m *Machine) Messages() []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.messages.snapshot()
}

// Snapshot returns the full render state.
func (m *Machine) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

func (m *Machine) snapshotLocked() Snapshot {
	return Snapshot{
		State:     m.state,
		Messages:  m.messages.snapshot(),
		Partial:   m.partial,
		NewWords:  m.newWords,
		ClientID:  m.clientID,
		SessionID: m.sessionID,
	}
}

func (m *Machine) notify() {
	if m.cfg.OnChange == nil {
		return
	}
	m.cfg.OnChange(m.Snapshot())
}

// Delete removes the given messages. Deleting the open message closes it
// for further speech. Returns ErrNotFound when none of the IDs exist.
func (m *Machine) Delete(ids ...string) error {
	m.mu.Lock()
	if m.current != nil {
		for _, id := range ids {
			if id == m.current.ID {
				m.current = nil
				m.finalized, m.partial, m.newWords = "", "", ""
				m.stopSilenceLocked()
				break
			}
		}
	}
	n := m.messages.remove(ids...)
	m.mu.Unlock()

	if n == 0 {
		return ErrNotFound
	}
	m.notify()
	return nil
}

// Merge folds message id into its neighbour in direction dir and returns
// the surviving message's ID.
func (m *Machine) Merge(id string, dir Direction) (string, error) {
	m.mu.Lock()
	into, err := m.messages.merge(id, dir)
	m.mu.Unlock()
	if err != nil {
		return "", err
	}
	m.notify()
	return into, nil
}

// Edit replaces the text of a closed message.
func (m *Machine) Edit(id, text string) error {
	m.mu.Lock()
	err := m.messages.edit(id, text)
	m.mu.Unlock()
	if err != nil {
		return err
	}
	m.notify()
	return nil
}
