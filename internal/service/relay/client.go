package relay

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"transcription-relay/internal/clock"
	"transcription-relay/internal/models"
	"transcription-relay/internal/observability/logging"
	"transcription-relay/internal/observability/metrics"
	"transcription-relay/internal/service/filter"
	"transcription-relay/internal/service/stt"
	"transcription-relay/internal/service/throttle"
	"transcription-relay/internal/service/upstream"
)

// Publisher receives every transcript forwarded to a client.
type Publisher interface {
	PublishPartial(ctx context.Context, event models.TranscriptPartial) error
	PublishFinal(ctx context.Context, event models.TranscriptFinal) error
}

// ClientConfig bounds a single client's resources.
type ClientConfig struct {
	ConnectTimeout     time.Duration
	AudioThrottleLimit int // frames per minute, 0 disables
	KeepAliveMaxBytes  int
	PendingFrames      int // audio held while the upstream connects
	WriteTimeout       time.Duration
	SendTimeout        time.Duration // bound on one upstream audio write
}

type eventKind int

const (
	evInbound eventKind = iota
	evInboundClosed
	evUpstreamOpen
	evPartial
	evFinal
	evUpstreamError
	evUpstreamClosed
	evConnectTimeout
	evConnectFailed
)

// event is one input to the client loop.
type event struct {
	kind       eventKind
	data       []byte
	text       string
	confidence *float64
	err        error
	reason     string
}

// Client owns one inbound socket and its upstream session. All socket data
// writes and state changes happen on the goroutine running Run.
type Client struct {
	id        string
	conn      *websocket.Conn
	adapter   stt.Adapter
	lifecycle *upstream.Lifecycle
	throttle  *throttle.Throttle
	filter    *filter.Policy
	publisher Publisher
	registry  *Registry
	clock     clock.Clock
	metrics   *metrics.Metrics
	cfg       ClientConfig
	logger    zerolog.Logger

	events       chan event
	done         chan struct{}
	closeOnce    sync.Once
	connectTimer clock.Timer
	pending      [][]byte
	createdAt    time.Time
	sessionID    string
	throttled    int
	throttleLog  rate.Sometimes
}

func newClient(id string, conn *websocket.Conn, adapter stt.Adapter, s *Server) *Client {
	return &Client{
		id:        id,
		conn:      conn,
		adapter:   adapter,
		lifecycle: upstream.NewLifecycle(),
		throttle:  throttle.New(s.cfg.Client.AudioThrottleLimit, s.cfg.Client.KeepAliveMaxBytes, s.clock),
		filter:    s.filter,
		publisher: s.publisher,
		registry:  s.registry,
		clock:     s.clock,
		metrics:   s.metrics,
		cfg:       s.cfg.Client,
		logger:    logging.WithUpstream(id, adapter.Name()),
		events:    make(chan event, 64),
		done:      make(chan struct{}),
		createdAt: s.clock.Now(),
		throttleLog: rate.Sometimes{
			First:    1,
			Interval: 10 * time.Second,
		},
	}
}

// ID returns the client ID.
func (c *Client) ID() string { return c.id }

// Close sends a close frame and tears down the socket. Safe to call from
// any goroutine and more than once.
func (c *Client) Close(code int, reason string) {
	c.closeOnce.Do(func() {
		msg := websocket.FormatCloseMessage(code, reason)
		if err := c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second)); err != nil {
			c.logger.Debug().Err(err).Msg("Failed to write close frame")
		}
		close(c.done)
		c.conn.Close()
		c.logger.Info().Int("code", code).Str("reason", reason).Msg("Client closed")
	})
}

// post delivers an event to the loop unless the client is done.
func (c *Client) post(ev event) {
	select {
	case c.events <- ev:
	case <-c.done:
	}
}

// Run serves the client until its socket closes, it is evicted, or ctx is
// cancelled.
func (c *Client) Run(parent context.Context) {
	ctx, cancel := context.WithCancel(parent)
	c.registry.Add(c)
	defer c.finish(cancel)

	// Eviction closes the socket from another goroutine; cancelling ctx
	// unblocks an upstream send or dial still in flight.
	go func() {
		select {
		case <-c.done:
			cancel()
		case <-ctx.Done():
		}
	}()

	c.logger.Info().Msg("Client connected")

	go c.readLoop()

	c.connectTimer = c.clock.AfterFunc(c.cfg.ConnectTimeout, func() {
		c.post(event{kind: evConnectTimeout})
	})
	go func() {
		if err := c.adapter.Start(ctx, &upstreamCallback{c: c}); err != nil {
			c.post(event{kind: evConnectFailed, err: err})
		}
	}()

	for {
		select {
		case <-ctx.Done():
			c.Close(websocket.CloseGoingAway, "server shutdown")
			return
		case <-c.done:
			return
		case ev := <-c.events:
			if stop := c.handle(ctx, ev); stop {
				return
			}
		}
	}
}

// finish releases everything the client owns. The upstream dial is
// cancelled before the adapter is closed.
func (c *Client) finish(cancel context.CancelFunc) {
	cancel()
	c.registry.Remove(c.id)
	if c.connectTimer != nil {
		c.connectTimer.Stop()
	}
	c.Close(websocket.CloseNormalClosure, "")
	c.lifecycle.Close()
	if err := c.adapter.Close(); err != nil {
		c.logger.Debug().Err(err).Msg("Upstream close returned error")
	}
	if n := len(c.pending); n > 0 {
		c.metrics.AudioFramesDropped.WithLabelValues("client_closed").Add(float64(n))
		c.pending = nil
	}
}

func (c *Client) readLoop() {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			c.post(event{kind: evInboundClosed, err: err})
			return
		}
		c.post(event{kind: evInbound, data: data})
	}
}

// handle processes one event and reports whether the loop should stop.
func (c *Client) handle(ctx context.Context, ev event) bool {
	switch ev.kind {
	case evInbound:
		c.registry.Touch(c.id)
		if frame, ok := models.ParseControl(ev.data); ok {
			c.handleControl(frame)
			return false
		}
		c.handleAudio(ctx, ev.data)

	case evInboundClosed:
		if websocket.IsUnexpectedCloseError(ev.err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			c.logger.Warn().Err(ev.err).Msg("Client socket closed unexpectedly")
		} else {
			c.logger.Info().Msg("Client disconnected")
		}
		return true

	case evUpstreamOpen:
		c.handleUpstreamOpen(ctx, ev.text)

	case evPartial, evFinal:
		c.forwardTranscript(ctx, ev.kind == evFinal, ev.text, ev.confidence)

	case evUpstreamError:
		c.metrics.RecordUpstreamError(c.adapter.Name(), "stream")
		c.logger.Warn().Err(ev.err).Str("state", c.lifecycle.State().String()).Msg("Upstream error")

	case evUpstreamClosed:
		switch c.lifecycle.State() {
		case upstream.StateConnecting:
			c.metrics.RecordUpstreamConnect(c.adapter.Name(), "failed", 0)
			c.logger.Error().Str("reason", ev.reason).Msg("Upstream closed before session opened")
			c.closeWith(models.CloseUpstreamConnectFailed, "upstream connect failed")
			return true
		case upstream.StateClosed:
			return false
		default:
			c.logger.Info().Str("reason", ev.reason).Msg("Upstream session ended")
			c.closeWith(models.CloseUpstreamClosed, "upstream closed")
			return true
		}

	case evConnectTimeout:
		if c.lifecycle.State() != upstream.StateConnecting {
			return false
		}
		c.metrics.RecordUpstreamConnect(c.adapter.Name(), "timeout", 0)
		c.logger.Error().Dur("timeout", c.cfg.ConnectTimeout).Msg("Upstream connect timed out")
		c.closeWith(models.CloseUpstreamConnectTimeout, "upstream connect timeout")
		return true

	case evConnectFailed:
		c.metrics.RecordUpstreamConnect(c.adapter.Name(), "failed", 0)
		c.logger.Error().Err(ev.err).Msg("Upstream connect failed")
		c.closeWith(models.CloseUpstreamConnectFailed, "upstream connect failed")
		return true
	}
	return false
}

func (c *Client) closeWith(code int, reason string) {
	c.metrics.RecordEviction(metricReason(code))
	c.Close(code, reason)
}

func (c *Client) handleControl(frame models.ControlFrame) {
	switch {
	case frame.Type == models.ControlPing && frame.Message == models.ControlIdentifyClient:
		c.write(models.EventFrame{Type: models.EventClientIdentified, ClientID: c.id})
	case frame.Type == models.ControlPing:
		c.write(models.EventFrame{Type: models.EventPong})
	default:
		c.logger.Debug().Str("type", frame.Type).Msg("Ignoring unknown control frame")
	}
}

func (c *Client) handleAudio(ctx context.Context, data []byte) {
	c.metrics.RecordAudioReceived(len(data))

	switch c.throttle.Admit(len(data)) {
	case throttle.Drop:
		c.metrics.RecordThrottled()
		c.throttled++
		c.throttleLog.Do(func() {
			c.logger.Warn().
				Int("bytes", len(data)).
				Int("throttledTotal", c.throttled).
				Int("limitPerMinute", c.cfg.AudioThrottleLimit).
				Msg("Audio frames throttled")
		})
		return
	case throttle.KeepAlive:
		c.metrics.RecordKeepAlive()
	}

	switch c.lifecycle.State() {
	case upstream.StateConnecting:
		c.enqueue(data)
	case upstream.StateEstablished, upstream.StateStreaming:
		c.sendUpstream(ctx, data)
	default:
		c.metrics.RecordDropped("upstream_closed")
	}
}

// enqueue holds audio until the upstream opens, dropping the oldest frame
// when the queue is full.
func (c *Client) enqueue(data []byte) {
	limit := c.cfg.PendingFrames
	if limit <= 0 {
		c.metrics.RecordDropped("queue_full")
		return
	}
	if len(c.pending) >= limit {
		c.pending = c.pending[1:]
		c.metrics.RecordDropped("queue_full")
	}
	c.pending = append(c.pending, data)
	c.metrics.RecordQueued()
}

func (c *Client) sendUpstream(ctx context.Context, data []byte) {
	if c.cfg.SendTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.SendTimeout)
		defer cancel()
	}
	if err := c.adapter.SendAudio(ctx, data); err != nil {
		c.metrics.RecordUpstreamError(c.adapter.Name(), "send")
		c.logger.Warn().Err(err).Msg("Failed to forward audio upstream")
		return
	}
	c.lifecycle.Stream()
}

func (c *Client) handleUpstreamOpen(ctx context.Context, sessionID string) {
	if err := c.lifecycle.Establish(); err != nil {
		c.logger.Debug().Err(err).Msg("Ignoring late upstream open")
		return
	}
	if c.connectTimer != nil {
		c.connectTimer.Stop()
	}
	c.sessionID = sessionID

	latency := c.clock.Now().Sub(c.createdAt)
	c.metrics.RecordUpstreamConnect(c.adapter.Name(), "established", latency.Seconds())
	c.logger.Info().Str("sessionId", sessionID).Dur("latency", latency).Msg("Upstream session established")

	c.write(models.EventFrame{Type: models.EventSessionCreated, SessionID: sessionID})

	pending := c.pending
	c.pending = nil
	for _, frame := range pending {
		c.sendUpstream(ctx, frame)
	}
}

func (c *Client) forwardTranscript(ctx context.Context, final bool, text string, confidence *float64) {
	kind := "partial"
	if final {
		kind = "final"
	}

	if ok, reason := c.filter.Check(text, confidence); !ok {
		c.metrics.RecordFiltered(reason)
		c.logger.Debug().Str("kind", kind).Str("text", text).Str("reason", reason).Msg("Transcript filtered")
		return
	}

	now := c.clock.Now().UnixMilli()
	if final {
		c.write(models.EventFrame{Type: models.EventTranscriptionCompleted, Transcript: text, Confidence: confidence})
		c.write(models.EventFrame{Type: models.EventFinalTranscript, Text: text, Confidence: confidence})
		err := c.publisher.PublishFinal(ctx, models.TranscriptFinal{
			EventType:  models.EventTypeFinal,
			ClientID:   c.id,
			SessionID:  c.sessionID,
			Provider:   c.adapter.Name(),
			Timestamp:  now,
			Text:       text,
			Confidence: confidence,
		})
		if err != nil {
			c.logger.Warn().Err(err).Msg("Failed to publish final transcript")
		}
	} else {
		c.write(models.EventFrame{Type: models.EventTranscriptionDelta, Delta: text, Confidence: confidence})
		c.write(models.EventFrame{Type: models.EventPartialTranscript, Text: text, Confidence: confidence})
		err := c.publisher.PublishPartial(ctx, models.TranscriptPartial{
			EventType:  models.EventTypePartial,
			ClientID:   c.id,
			SessionID:  c.sessionID,
			Provider:   c.adapter.Name(),
			Timestamp:  now,
			Text:       text,
			Confidence: confidence,
		})
		if err != nil {
			c.logger.Warn().Err(err).Msg("Failed to publish partial transcript")
		}
	}
	c.metrics.RecordForwarded(kind)
}

// write sends one event frame. Only the Run goroutine calls it.
func (c *Client) write(frame models.EventFrame) {
	if c.cfg.WriteTimeout > 0 {
		c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	}
	if err := c.conn.WriteJSON(frame); err != nil {
		c.logger.Debug().Err(err).Str("type", frame.Type).Msg("Failed to write event frame")
	}
}

// upstreamCallback turns provider callbacks into loop events.
type upstreamCallback struct {
	c *Client
}

func (u *upstreamCallback) OnOpen(sessionID string) {
	u.c.post(event{kind: evUpstreamOpen, text: sessionID})
}

func (u *upstreamCallback) OnPartial(text string, confidence *float64) {
	u.c.post(event{kind: evPartial, text: text, confidence: confidence})
}

func (u *upstreamCallback) OnFinal(text string, confidence *float64) {
	u.c.post(event{kind: evFinal, text: text, confidence: confidence})
}

func (u *upstreamCallback) OnError(err error) {
	u.c.post(event{kind: evUpstreamError, err: err})
}

func (u *upstreamCallback) OnClose(reason string) {
	u.c.post(event{kind: evUpstreamClosed, reason: reason})
}
