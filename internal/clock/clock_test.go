package clock

import (
	"testing"
	"time"
)

func TestFake_AfterFuncFiresInOrder(t *testing.T) {
	c := NewFake(time.Unix(0, 0))

	var fired []string
	c.AfterFunc(2*time.Second, func() { fired = append(fired, "b") })
	c.AfterFunc(1*time.Second, func() { fired = append(fired, "a") })
	c.AfterFunc(5*time.Second, func() { fired = append(fired, "c") })

	c.Advance(3 * time.Second)

	if len(fired) != 2 || fired[0] != "a" || fired[1] != "b" {
		t.Fatalf("expected [a b], got %v", fired)
	}
	if c.Pending() != 1 {
		t.Errorf("expected 1 pending timer, got %d", c.Pending())
	}
	if got := c.Now(); !got.Equal(time.Unix(3, 0)) {
		t.Errorf("expected clock at 3s, got %v", got)
	}
}

func TestFake_StopCancelsTimer(t *testing.T) {
	c := NewFake(time.Unix(0, 0))

	fired := false
	timer := c.AfterFunc(time.Second, func() { fired = true })

	if !timer.Stop() {
		t.Error("expected Stop to report an active timer")
	}
	if timer.Stop() {
		t.Error("expected second Stop to return false")
	}

	c.Advance(2 * time.Second)
	if fired {
		t.Error("stopped timer must not fire")
	}
}

func TestFake_CallbackCanReschedule(t *testing.T) {
	c := NewFake(time.Unix(0, 0))

	count := 0
	var schedule func()
	schedule = func() {
		count++
		c.AfterFunc(time.Second, schedule)
	}
	c.AfterFunc(time.Second, schedule)

	c.Advance(3500 * time.Millisecond)

	if count != 3 {
		t.Errorf("expected 3 firings, got %d", count)
	}
}

func TestFake_Ticker(t *testing.T) {
	c := NewFake(time.Unix(0, 0))
	tk := c.NewTicker(time.Minute)
	defer tk.Stop()

	c.Advance(30 * time.Second)
	select {
	case <-tk.C():
		t.Fatal("ticker fired early")
	default:
	}

	c.Advance(30 * time.Second)
	select {
	case <-tk.C():
	default:
		t.Fatal("expected tick after one minute")
	}
}
