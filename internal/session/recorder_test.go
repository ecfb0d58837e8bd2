package session

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"transcription-relay/internal/capture"
	"transcription-relay/internal/clock"
)

func TestRecorder_FlushesBeforeClose(t *testing.T) {
	d := &fakeDialer{}
	m := NewMachine(DefaultConfig("ws://relay/ws"), d, clock.Real())

	cfg := capture.DefaultConfig()
	cfg.FrameSize = 1600
	cfg.MaxBuffer = time.Second // hold everything until the final flush
	engine := capture.NewEngine(cfg, m)

	speech := make([]float32, 16000+800)
	for i := range speech {
		if i%2 == 0 {
			speech[i] = 0.3
		} else {
			speech[i] = -0.3
		}
	}
	src := capture.NewFileSource(speech, 16000)

	rec := NewRecorder(src, engine, m)
	if err := rec.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	select {
	case <-rec.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("source never finished")
	}
	if err := rec.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	conn := d.last()
	if got, want := conn.audioBytes(), len(speech)*capture.BytesPerSample; got != want {
		t.Errorf("expected all %d bytes sent, got %d", want, got)
	}

	d.logMu.Lock()
	log := append([]string(nil), d.log...)
	d.logMu.Unlock()
	if len(log) < 2 || log[len(log)-1] != "close" || log[len(log)-2] != "audio" {
		t.Errorf("expected audio flushed before close, got %v", log)
	}
	if conn.closeCode != 1000 {
		t.Errorf("expected close code 1000, got %d", conn.closeCode)
	}
	if m.State() != StateDisconnected {
		t.Errorf("expected disconnected, got %v", m.State())
	}
}

func TestRecorder_StopWithoutStart(t *testing.T) {
	m := NewMachine(DefaultConfig("ws://relay/ws"), &fakeDialer{}, nil)
	rec := NewRecorder(capture.NewFileSource(nil, 16000), capture.NewEngine(capture.DefaultConfig(), m), m)
	if err := rec.Stop(); err != nil {
		t.Errorf("expected nil, got %v", err)
	}
}

// brokenSource fails the way a lost microphone does.
type brokenSource struct{}

func (brokenSource) SampleRate() int { return 16000 }

func (brokenSource) Stream(ctx context.Context, fn func([]float32)) error {
	return fmt.Errorf("%w: device removed", capture.ErrDeviceUnavailable)
}

func TestRecorder_ReportsDeviceFailure(t *testing.T) {
	d := &fakeDialer{}
	m := NewMachine(DefaultConfig("ws://relay/ws"), d, clock.Real())
	rec := NewRecorder(brokenSource{}, capture.NewEngine(capture.DefaultConfig(), m), m)

	if err := rec.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	select {
	case <-rec.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("source never finished")
	}

	err := rec.Stop()
	if !errors.Is(err, capture.ErrDeviceUnavailable) {
		t.Fatalf("expected device error, got %v", err)
	}
	if m.State() != StateDisconnected {
		t.Errorf("expected disconnected after stop, got %v", m.State())
	}
	if conn := d.last(); conn == nil || conn.closeCode != 1000 {
		t.Error("expected the relay socket to be closed normally")
	}
}
