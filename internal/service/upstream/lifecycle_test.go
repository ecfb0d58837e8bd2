package upstream

import (
	"errors"
	"sync"
	"testing"
)

func TestLifecycle_InitialState(t *testing.T) {
	lc := NewLifecycle()

	if lc.State() != StateConnecting {
		t.Errorf("expected StateConnecting, got %v", lc.State())
	}
	if lc.IsOpen() {
		t.Error("expected IsOpen to be false while connecting")
	}
	if lc.IsClosed() {
		t.Error("expected IsClosed to be false")
	}
}

func TestLifecycle_HappyPath(t *testing.T) {
	lc := NewLifecycle()

	if err := lc.Establish(); err != nil {
		t.Fatalf("establish: unexpected error: %v", err)
	}
	if lc.State() != StateEstablished || !lc.IsOpen() {
		t.Fatalf("expected open ESTABLISHED, got %v", lc.State())
	}

	for i := 0; i < 3; i++ {
		if err := lc.Stream(); err != nil {
			t.Fatalf("stream %d: unexpected error: %v", i, err)
		}
	}
	if lc.State() != StateStreaming {
		t.Errorf("expected StateStreaming, got %v", lc.State())
	}

	if !lc.Close() {
		t.Error("expected first Close to transition")
	}
	if lc.State() != StateClosed {
		t.Errorf("expected StateClosed, got %v", lc.State())
	}
}

func TestLifecycle_InvalidTransitions(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(*Lifecycle)
		action  func(*Lifecycle) error
		wantErr error
	}{
		{"stream while connecting", func(*Lifecycle) {}, (*Lifecycle).Stream, ErrNotEstablished},
		{"establish twice", func(l *Lifecycle) { l.Establish() }, (*Lifecycle).Establish, ErrNotConnecting},
		{"establish after close", func(l *Lifecycle) { l.Close() }, (*Lifecycle).Establish, ErrClosed},
		{"stream after close", func(l *Lifecycle) { l.Establish(); l.Close() }, (*Lifecycle).Stream, ErrClosed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lc := NewLifecycle()
			tt.setup(lc)
			if err := tt.action(lc); !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestLifecycle_CloseIdempotent(t *testing.T) {
	lc := NewLifecycle()

	var wg sync.WaitGroup
	var mu sync.Mutex
	transitions := 0
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if lc.Close() {
				mu.Lock()
				transitions++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if transitions != 1 {
		t.Errorf("expected exactly one transition, got %d", transitions)
	}
}

func TestState_String(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateConnecting, "CONNECTING"},
		{StateEstablished, "ESTABLISHED"},
		{StateStreaming, "STREAMING"},
		{StateClosed, "CLOSED"},
		{State(99), "UNKNOWN(99)"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %s, want %s", tt.state, got, tt.want)
		}
	}
}
