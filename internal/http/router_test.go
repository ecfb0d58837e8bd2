package http

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"transcription-relay/internal/models"
	"transcription-relay/internal/observability/metrics"
	"transcription-relay/internal/service/relay"
	"transcription-relay/internal/service/stt"
	"transcription-relay/internal/service/stt/mock"
)

func newTestRelay(t *testing.T) *relay.Server {
	t.Helper()
	srv := relay.NewServer(relay.DefaultConfig(), relay.Deps{
		Factory: func(context.Context) (stt.Adapter, error) { return mock.New(), nil },
		Metrics: metrics.NewMetricsWith(prometheus.NewRegistry()),
	})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	})
	return srv
}

func get(t *testing.T, url string) (int, string) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, string(body)
}

func TestRouter_Health(t *testing.T) {
	var ready atomic.Bool
	ts := httptest.NewServer(NewRouter(newTestRelay(t), ready.Load))
	defer ts.Close()

	if code, body := get(t, ts.URL+"/v1/liveness"); code != http.StatusOK || body != "ok" {
		t.Errorf("liveness: got %d %q", code, body)
	}
	if code, _ := get(t, ts.URL+"/v1/readiness"); code != http.StatusServiceUnavailable {
		t.Errorf("expected 503 before ready, got %d", code)
	}

	ready.Store(true)
	if code, body := get(t, ts.URL+"/v1/readiness"); code != http.StatusOK || body != "ready" {
		t.Errorf("readiness: got %d %q", code, body)
	}
}

func TestRouter_Metrics(t *testing.T) {
	ts := httptest.NewServer(NewRouter(newTestRelay(t), nil))
	defer ts.Close()

	code, body := get(t, ts.URL+"/metrics")
	if code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if !strings.Contains(body, "transcription_relay_clients_active") {
		t.Error("expected relay metrics in exposition")
	}
}

func TestRouter_ClientsListsConnectedSockets(t *testing.T) {
	ts := httptest.NewServer(NewRouter(newTestRelay(t), nil))
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(models.ControlFrame{Type: models.ControlPing, Message: models.ControlIdentifyClient}); err != nil {
		t.Fatalf("write identify: %v", err)
	}
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	// session.created may arrive first.
	var frame models.EventFrame
	for frame.Type != models.EventClientIdentified {
		frame = models.EventFrame{}
		if err := conn.ReadJSON(&frame); err != nil {
			t.Fatalf("read identify reply: %v", err)
		}
	}
	if frame.ClientID == "" {
		t.Fatalf("unexpected reply %+v", frame)
	}

	code, body := get(t, ts.URL+"/v1/clients")
	if code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	var out struct {
		Count   int            `json:"count"`
		Clients []ClientStatus `json:"clients"`
	}
	if err := json.Unmarshal([]byte(body), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Count != 1 || len(out.Clients) != 1 {
		t.Fatalf("expected one client, got %s", body)
	}
	if out.Clients[0].ClientID != frame.ClientID {
		t.Errorf("expected client %s, got %s", frame.ClientID, out.Clients[0].ClientID)
	}
	if out.Clients[0].IdleSeconds < 0 {
		t.Errorf("negative idle time %v", out.Clients[0].IdleSeconds)
	}
}

func TestServer_ServeAndShutdown(t *testing.T) {
	srv := NewServer("127.0.0.1:0", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("hi"))
	}))
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(lis) }()

	code, body := get(t, "http://"+lis.Addr().String()+"/")
	if code != http.StatusOK || body != "hi" {
		t.Fatalf("got %d %q", code, body)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if err := <-errc; err != nil {
		t.Errorf("expected clean Serve return, got %v", err)
	}
}
