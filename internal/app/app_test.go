package app

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"transcription-relay/internal/config"
	"transcription-relay/internal/models"
)

func testConfig() *config.Config {
	cfg := config.Defaults()
	cfg.Service.HTTPPort = "0"
	cfg.Service.GRPCPort = "0"
	cfg.STT.Provider = "mock"
	cfg.Observability.LogLevel = "error"
	return cfg
}

func TestNew_RejectsUnknownProvider(t *testing.T) {
	cfg := testConfig()
	cfg.STT.Provider = "whisper"
	if _, err := New(cfg); err == nil {
		t.Fatal("expected error for unknown provider")
	}
}

func TestRelayConfig_MapsBounds(t *testing.T) {
	rc := config.Defaults().Relay
	rc.MaxIdleTime = 2 * time.Minute
	rc.AudioThrottleLimit = 50
	rc.NoiseWords = []string{"um"}

	got := RelayConfig(rc)
	if got.MaxIdleTime != 2*time.Minute {
		t.Errorf("expected idle 2m, got %v", got.MaxIdleTime)
	}
	if got.Client.AudioThrottleLimit != 50 {
		t.Errorf("expected throttle 50, got %d", got.Client.AudioThrottleLimit)
	}
	if len(got.NoiseWords) != 1 || got.NoiseWords[0] != "um" {
		t.Errorf("unexpected noise words %v", got.NoiseWords)
	}
	if got.Client.PendingFrames == 0 {
		t.Error("expected pending frame default to be kept")
	}
}

func TestApplication_StartServeShutdown(t *testing.T) {
	a, err := New(testConfig())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if a.Ready() {
		t.Fatal("expected not ready before Start")
	}
	if err := a.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !a.Ready() {
		t.Fatal("expected ready after Start")
	}

	base := "http://" + a.HTTP.Addr()
	resp, err := http.Get(base + "/v1/readiness")
	if err != nil {
		t.Fatalf("readiness: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || string(body) != "ready" {
		t.Fatalf("readiness: got %d %q", resp.StatusCode, body)
	}

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(base, "http")+"/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// A ping round trip proves the client is registered before shutdown.
	if err := conn.WriteJSON(models.ControlFrame{Type: models.ControlPing}); err != nil {
		t.Fatalf("write ping: %v", err)
	}
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		var frame models.EventFrame
		if err := conn.ReadJSON(&frame); err != nil {
			t.Fatalf("expected pong: %v", err)
		}
		if frame.Type == models.EventPong {
			break
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := a.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if a.Ready() {
		t.Error("expected not ready after Shutdown")
	}

	for {
		_, _, err := conn.ReadMessage()
		if err == nil {
			continue
		}
		if !websocket.IsCloseError(err, websocket.CloseGoingAway) {
			t.Errorf("expected close 1001, got %v", err)
		}
		break
	}
}
