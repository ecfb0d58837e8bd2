package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"transcription-relay/internal/models"
	"transcription-relay/internal/observability/logging"
)

var (
	// ErrQueueFull is returned when the outgoing queue cannot take another
	// frame without blocking.
	ErrQueueFull = errors.New("outgoing queue full")
	// ErrNotConnected is returned when there is no open relay connection.
	ErrNotConnected = errors.New("not connected")
)

// EventHandler receives what a connection reads. HandleClose is called
// exactly once, after the last HandleEvent.
type EventHandler interface {
	HandleEvent(frame models.EventFrame)
	HandleClose(err error)
}

// Conn is an open relay connection. SendAudio and SendControl never block.
type Conn interface {
	SendAudio(frame []byte) error
	SendControl(frame models.ControlFrame) error
	// Close drains queued frames, then closes with code.
	Close(code int, reason string) error
}

// Dialer opens relay connections.
type Dialer interface {
	Dial(ctx context.Context, url string, h EventHandler) (Conn, error)
}

// WebSocketDialer dials the relay with gorilla/websocket.
type WebSocketDialer struct {
	QueueSize    int
	WriteTimeout time.Duration
	CloseTimeout time.Duration
	Header       http.Header
}

// NewWebSocketDialer returns a dialer with a queue of queueSize frames.
func NewWebSocketDialer(queueSize int) *WebSocketDialer {
	return &WebSocketDialer{
		QueueSize:    queueSize,
		WriteTimeout: 5 * time.Second,
		CloseTimeout: 2 * time.Second,
	}
}

func (d *WebSocketDialer) Dial(ctx context.Context, url string, h EventHandler) (Conn, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, d.Header)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}

	c := &wsConn{
		conn:         conn,
		handler:      h,
		out:          make(chan outbound, d.QueueSize),
		writerDone:   make(chan struct{}),
		readerDone:   make(chan struct{}),
		writeTimeout: d.WriteTimeout,
		closeTimeout: d.CloseTimeout,
		logger:       logging.WithComponent("session-transport"),
	}
	go c.writeLoop()
	go c.readLoop()
	return c, nil
}

type outbound struct {
	kind int
	data []byte
}

type wsConn struct {
	conn         *websocket.Conn
	handler      EventHandler
	writeTimeout time.Duration
	closeTimeout time.Duration
	logger       zerolog.Logger

	mu         sync.Mutex
	out        chan outbound
	closing    bool
	closeCode  int
	closeText  string
	writerDone chan struct{}
	readerDone chan struct{}
}

func (c *wsConn) SendAudio(frame []byte) error {
	return c.enqueue(outbound{kind: websocket.BinaryMessage, data: frame})
}

func (c *wsConn) SendControl(frame models.ControlFrame) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("marshal control frame: %w", err)
	}
	return c.enqueue(outbound{kind: websocket.TextMessage, data: data})
}

func (c *wsConn) enqueue(msg outbound) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closing {
		return ErrNotConnected
	}
	select {
	case c.out <- msg:
		return nil
	default:
		return ErrQueueFull
	}
}

// writeLoop is the only goroutine writing data frames. After the queue is
// closed and drained it sends the close frame.
func (c *wsConn) writeLoop() {
	defer close(c.writerDone)

	for msg := range c.out {
		if c.writeTimeout > 0 {
			c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
		}
		if err := c.conn.WriteMessage(msg.kind, msg.data); err != nil {
			c.logger.Debug().Err(err).Msg("Write failed, dropping connection")
			c.conn.Close()
			for range c.out {
			}
			return
		}
	}

	c.mu.Lock()
	code, text := c.closeCode, c.closeText
	c.mu.Unlock()
	msg := websocket.FormatCloseMessage(code, text)
	if err := c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second)); err != nil {
		c.logger.Debug().Err(err).Msg("Failed to write close frame")
	}
}

func (c *wsConn) readLoop() {
	defer close(c.readerDone)

	var err error
	for {
		var data []byte
		var kind int
		kind, data, err = c.conn.ReadMessage()
		if err != nil {
			break
		}
		if kind != websocket.TextMessage {
			continue
		}
		var frame models.EventFrame
		if jerr := json.Unmarshal(data, &frame); jerr != nil || frame.Type == "" {
			c.logger.Debug().Int("bytes", len(data)).Msg("Ignoring unparseable event frame")
			continue
		}
		c.handler.HandleEvent(frame)
	}
	c.closeQueue(websocket.CloseNormalClosure, "")
	c.handler.HandleClose(err)
}

func (c *wsConn) closeQueue(code int, reason string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closing {
		return false
	}
	c.closing = true
	c.closeCode = code
	c.closeText = reason
	close(c.out)
	return true
}

func (c *wsConn) Close(code int, reason string) error {
	c.closeQueue(code, reason)

	// queued frames go out before the close frame
	select {
	case <-c.writerDone:
	case <-time.After(c.closeTimeout):
	}
	// wait for the relay to answer the close handshake
	select {
	case <-c.readerDone:
	case <-time.After(c.closeTimeout):
	}
	err := c.conn.Close()
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}
