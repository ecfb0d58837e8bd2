// Package assemblyai provides a streaming adapter for the AssemblyAI v3
// real-time transcription API.
package assemblyai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"transcription-relay/internal/service/stt"
)

// Message types exchanged with the streaming endpoint.
const (
	typeBegin       = "Begin"
	typeTurn        = "Turn"
	typeTermination = "Termination"
	typeTerminate   = "Terminate"
)

// Config holds AssemblyAI-specific configuration.
type Config struct {
	APIKey       string
	URL          string
	SampleRateHz int
	Encoding     string // pcm_s16le, pcm_mulaw
	// FormatTurns requests punctuated turns; a turn is final only once its
	// formatted version arrives.
	FormatTurns      bool
	HandshakeTimeout time.Duration
	// CloseTimeout bounds the wait for Termination after Terminate is sent.
	CloseTimeout time.Duration
}

// DefaultConfig returns sensible defaults for AssemblyAI.
func DefaultConfig() Config {
	return Config{
		URL:              "wss://streaming.assemblyai.com/v3/ws",
		SampleRateHz:     16000,
		Encoding:         "pcm_s16le",
		FormatTurns:      true,
		HandshakeTimeout: 10 * time.Second,
		CloseTimeout:     2 * time.Second,
	}
}

type beginMessage struct {
	Type      string `json:"type"`
	ID        string `json:"id"`
	ExpiresAt int64  `json:"expires_at"`
}

type word struct {
	Text        string  `json:"text"`
	Confidence  float64 `json:"confidence"`
	WordIsFinal bool    `json:"word_is_final"`
}

type turnMessage struct {
	Type            string `json:"type"`
	TurnOrder       int    `json:"turn_order"`
	Transcript      string `json:"transcript"`
	EndOfTurn       bool   `json:"end_of_turn"`
	TurnIsFormatted bool   `json:"turn_is_formatted"`
	Words           []word `json:"words"`
}

type terminationMessage struct {
	Type                   string  `json:"type"`
	AudioDurationSeconds   float64 `json:"audio_duration_seconds"`
	SessionDurationSeconds float64 `json:"session_duration_seconds"`
}

type envelope struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

// Adapter implements stt.Adapter over the AssemblyAI WebSocket API.
type Adapter struct {
	cfg    Config
	logger zerolog.Logger

	writeMu sync.Mutex
	conn    *websocket.Conn

	closeOnce sync.Once
	closing   chan struct{}
	done      chan struct{}
}

// New creates a new AssemblyAI adapter.
func New(cfg Config) *Adapter {
	def := DefaultConfig()
	if cfg.URL == "" {
		cfg.URL = def.URL
	}
	if cfg.SampleRateHz <= 0 {
		cfg.SampleRateHz = def.SampleRateHz
	}
	if cfg.Encoding == "" {
		cfg.Encoding = def.Encoding
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = def.HandshakeTimeout
	}
	if cfg.CloseTimeout <= 0 {
		cfg.CloseTimeout = def.CloseTimeout
	}
	return &Adapter{
		cfg:     cfg,
		logger:  log.With().Str("sttProvider", "assemblyai").Logger(),
		closing: make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Name returns the provider name.
func (a *Adapter) Name() string { return "assemblyai" }

// endpoint builds the streaming URL with session parameters.
func (a *Adapter) endpoint() (string, error) {
	u, err := url.Parse(a.cfg.URL)
	if err != nil {
		return "", fmt.Errorf("invalid assemblyai url: %w", err)
	}
	q := u.Query()
	q.Set("sample_rate", strconv.Itoa(a.cfg.SampleRateHz))
	q.Set("encoding", a.cfg.Encoding)
	q.Set("format_turns", strconv.FormatBool(a.cfg.FormatTurns))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Start dials the streaming endpoint and starts the receive loop.
func (a *Adapter) Start(ctx context.Context, cb stt.Callback) error {
	endpoint, err := a.endpoint()
	if err != nil {
		return err
	}

	headers := http.Header{}
	headers.Set("Authorization", a.cfg.APIKey)

	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: a.cfg.HandshakeTimeout,
	}
	conn, resp, err := dialer.DialContext(ctx, endpoint, headers)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("assemblyai dial failed with status %d: %w", resp.StatusCode, err)
		}
		return fmt.Errorf("assemblyai dial failed: %w", err)
	}

	// Close may have run while the handshake was in flight; it found no
	// conn to terminate, so this one must not outlive the adapter.
	a.writeMu.Lock()
	select {
	case <-a.closing:
		a.writeMu.Unlock()
		conn.Close()
		return errors.New("assemblyai adapter closed during dial")
	default:
	}
	a.conn = conn
	a.writeMu.Unlock()

	go a.listen(cb)
	return nil
}

// listen reads provider messages until the connection ends.
func (a *Adapter) listen(cb stt.Callback) {
	defer close(a.done)

	reason := "connection closed"
	defer func() { cb.OnClose(reason) }()

	for {
		_, data, err := a.conn.ReadMessage()
		if err != nil {
			select {
			case <-a.closing:
			default:
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
					cb.OnError(fmt.Errorf("assemblyai read: %w", err))
				}
			}
			if ce := (*websocket.CloseError)(nil); errors.As(err, &ce) && ce.Text != "" {
				reason = ce.Text
			}
			return
		}

		var env envelope
		if err := json.Unmarshal(data, &env); err != nil {
			a.logger.Warn().Err(err).Msg("Ignoring malformed provider message")
			continue
		}
		if env.Error != "" {
			cb.OnError(fmt.Errorf("assemblyai: %s", env.Error))
			continue
		}

		switch env.Type {
		case typeBegin:
			var m beginMessage
			if err := json.Unmarshal(data, &m); err != nil {
				cb.OnError(fmt.Errorf("assemblyai begin: %w", err))
				continue
			}
			cb.OnOpen(m.ID)
		case typeTurn:
			var m turnMessage
			if err := json.Unmarshal(data, &m); err != nil {
				cb.OnError(fmt.Errorf("assemblyai turn: %w", err))
				continue
			}
			a.handleTurn(m, cb)
		case typeTermination:
			var m terminationMessage
			_ = json.Unmarshal(data, &m)
			a.logger.Debug().
				Float64("audioSeconds", m.AudioDurationSeconds).
				Float64("sessionSeconds", m.SessionDurationSeconds).
				Msg("Provider session terminated")
			reason = "terminated"
			a.conn.Close()
			return
		default:
			a.logger.Debug().Str("type", env.Type).Msg("Ignoring unknown provider message")
		}
	}
}

// handleTurn maps a Turn message onto partial or final callbacks.
func (a *Adapter) handleTurn(m turnMessage, cb stt.Callback) {
	text := strings.TrimSpace(m.Transcript)
	if text == "" {
		return
	}

	confs := make([]float64, 0, len(m.Words))
	for _, w := range m.Words {
		confs = append(confs, w.Confidence)
	}
	confidence := stt.MeanConfidence(confs)

	if isFinal(m, a.cfg.FormatTurns) {
		cb.OnFinal(text, confidence)
		return
	}
	cb.OnPartial(text, confidence)
}

// isFinal reports whether a turn will not be revised further.
func isFinal(m turnMessage, formatTurns bool) bool {
	if !m.EndOfTurn {
		return false
	}
	return !formatTurns || m.TurnIsFormatted
}

// SendAudio sends one binary audio frame.
func (a *Adapter) SendAudio(ctx context.Context, audio []byte) error {
	a.writeMu.Lock()
	defer a.writeMu.Unlock()

	if a.conn == nil {
		return errors.New("assemblyai session not started")
	}
	select {
	case <-a.closing:
		return errors.New("assemblyai session closed")
	default:
	}
	if deadline, ok := ctx.Deadline(); ok {
		a.conn.SetWriteDeadline(deadline)
	} else {
		a.conn.SetWriteDeadline(time.Time{})
	}
	return a.conn.WriteMessage(websocket.BinaryMessage, audio)
}

// Close asks the provider to terminate the session, waits briefly for the
// Termination message, then closes the socket.
func (a *Adapter) Close() error {
	var err error
	a.closeOnce.Do(func() {
		a.writeMu.Lock()
		conn := a.conn
		close(a.closing)
		if conn != nil {
			conn.SetWriteDeadline(time.Now().Add(a.cfg.CloseTimeout))
			msg, _ := json.Marshal(map[string]string{"type": typeTerminate})
			if werr := conn.WriteMessage(websocket.TextMessage, msg); werr != nil {
				a.logger.Debug().Err(werr).Msg("Failed to send terminate")
			}
		}
		a.writeMu.Unlock()

		if conn == nil {
			return
		}
		select {
		case <-a.done:
		case <-time.After(a.cfg.CloseTimeout):
			a.logger.Warn().Msg("Timed out waiting for provider termination")
		}
		err = conn.Close()
		if errors.Is(err, net.ErrClosed) {
			err = nil
		}
	})
	return err
}
