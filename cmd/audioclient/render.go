package main

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"transcription-relay/internal/session"
)

const timeLayout = "15:04:05"

// renderer prints session snapshots. On a terminal it redraws the whole
// transcript; otherwise it appends each message once it is finished.
type renderer struct {
	out io.Writer
	tty bool

	mu      sync.Mutex
	state   session.State
	printed map[string]bool
}

func newRenderer(out io.Writer, tty bool) *renderer {
	return &renderer{
		out:     out,
		tty:     tty,
		state:   session.StateDisconnected,
		printed: make(map[string]bool),
	}
}

// Render is installed as the machine's OnChange callback.
func (r *renderer) Render(s session.Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.tty {
		r.redraw(s)
		return
	}
	if s.State != r.state {
		fmt.Fprintf(r.out, "# %s\n", s.State)
		r.state = s.State
	}
	r.appendFinished(s.Messages)
}

// Finish prints anything still unprinted after the session stops.
func (r *renderer) Finish(s session.Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.tty {
		r.redraw(s)
		fmt.Fprintln(r.out)
		return
	}
	r.appendFinished(s.Messages)
}

func (r *renderer) appendFinished(msgs []session.Message) {
	for _, m := range msgs {
		if m.IsPartial || r.printed[m.ID] || strings.TrimSpace(m.Text) == "" {
			continue
		}
		r.printed[m.ID] = true
		fmt.Fprintf(r.out, "[%s] %s\n", m.Timestamp.Format(timeLayout), m.Text)
	}
}

func (r *renderer) redraw(s session.Snapshot) {
	var b strings.Builder
	b.WriteString("\033[H\033[2J")
	fmt.Fprintf(&b, "relay: %s", s.State)
	if s.ClientID != "" {
		fmt.Fprintf(&b, "  client: %s", s.ClientID)
	}
	b.WriteString("\n\n")
	for _, m := range s.Messages {
		fmt.Fprintf(&b, "[%s] %s", m.Timestamp.Format(timeLayout), m.Text)
		if m.IsPartial {
			b.WriteString(" ...")
		}
		b.WriteString("\n")
	}
	if s.NewWords != "" {
		fmt.Fprintf(&b, "\n+ %s\n", s.NewWords)
	}
	_, _ = io.WriteString(r.out, b.String())
}
