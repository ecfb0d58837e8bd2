package session

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"transcription-relay/internal/models"
)

// relayStub answers identify pings and records binary frames until the
// client closes.
type relayStub struct {
	mu        sync.Mutex
	frames    [][]byte
	closeCode int
	done      chan struct{}
}

func (s *relayStub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	up := websocket.Upgrader{}
	conn, err := up.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()
	defer close(s.done)

	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			var ce *websocket.CloseError
			if errors.As(err, &ce) {
				s.mu.Lock()
				s.closeCode = ce.Code
				s.mu.Unlock()
			}
			return
		}
		if kind == websocket.BinaryMessage {
			s.mu.Lock()
			s.frames = append(s.frames, data)
			s.mu.Unlock()
			continue
		}
		var ctl models.ControlFrame
		if json.Unmarshal(data, &ctl) == nil && ctl.Message == models.ControlIdentifyClient {
			conn.WriteJSON(models.EventFrame{Type: models.EventClientIdentified, ClientID: "stub-1"})
			conn.WriteMessage(websocket.TextMessage, []byte("not json"))
			conn.WriteJSON(models.EventFrame{Type: models.EventTranscriptionDelta, Delta: "hi there"})
		}
	}
}

type recordingHandler struct {
	mu     sync.Mutex
	events []models.EventFrame
	closed chan error
}

func (h *recordingHandler) HandleEvent(f models.EventFrame) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, f)
}

func (h *recordingHandler) HandleClose(err error) { h.closed <- err }

func (h *recordingHandler) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.events)
}

func TestWebSocketDialer_RoundTrip(t *testing.T) {
	stub := &relayStub{done: make(chan struct{})}
	srv := httptest.NewServer(stub)
	defer srv.Close()

	h := &recordingHandler{closed: make(chan error, 1)}
	conn, err := NewWebSocketDialer(16).Dial(context.Background(), "ws"+strings.TrimPrefix(srv.URL, "http"), h)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}

	if err := conn.SendControl(models.ControlFrame{Type: models.ControlPing, Message: models.ControlIdentifyClient}); err != nil {
		t.Fatal(err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for h.count() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	h.mu.Lock()
	events := append([]models.EventFrame(nil), h.events...)
	h.mu.Unlock()
	if len(events) != 2 || events[0].ClientID != "stub-1" || events[1].Delta != "hi there" {
		t.Fatalf("unexpected events: %+v", events)
	}

	for i := 0; i < 5; i++ {
		if err := conn.SendAudio(make([]byte, 100+i)); err != nil {
			t.Fatal(err)
		}
	}
	if err := conn.Close(websocket.CloseNormalClosure, ""); err != nil {
		t.Fatalf("Close: %v", err)
	}

	select {
	case <-stub.done:
	case <-time.After(2 * time.Second):
		t.Fatal("relay never saw the close")
	}
	stub.mu.Lock()
	defer stub.mu.Unlock()
	if len(stub.frames) != 5 || len(stub.frames[4]) != 104 {
		t.Errorf("expected 5 queued frames delivered in order, got %d", len(stub.frames))
	}
	if stub.closeCode != websocket.CloseNormalClosure {
		t.Errorf("expected close 1000, got %d", stub.closeCode)
	}

	select {
	case <-h.closed:
	case <-time.After(2 * time.Second):
		t.Error("HandleClose was not called")
	}
	if err := conn.SendAudio([]byte{1}); !errors.Is(err, ErrNotConnected) {
		t.Errorf("expected ErrNotConnected after close, got %v", err)
	}
}

func TestWSConn_QueueFull(t *testing.T) {
	c := &wsConn{out: make(chan outbound, 1)}
	if err := c.SendAudio([]byte{1}); err != nil {
		t.Fatal(err)
	}
	if err := c.SendAudio([]byte{2}); !errors.Is(err, ErrQueueFull) {
		t.Errorf("expected ErrQueueFull, got %v", err)
	}
}

func TestWebSocketDialer_DialFailure(t *testing.T) {
	h := &recordingHandler{closed: make(chan error, 1)}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := NewWebSocketDialer(4).Dial(ctx, "ws://127.0.0.1:1/ws", h); err == nil {
		t.Error("expected dial error")
	}
}
