package session

import (
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when no message has the given ID.
	ErrNotFound = errors.New("message not found")
	// ErrNoAdjacent is returned when a merge has nothing to merge into.
	ErrNoAdjacent = errors.New("no adjacent message")
	// ErrMessageOpen is returned when an edit touches the message still
	// receiving transcript text.
	ErrMessageOpen = errors.New("message is still open")
)

// Message is one block of transcribed speech.
type Message struct {
	ID               string    `json:"id"`
	Text             string    `json:"text"`
	Timestamp        time.Time `json:"timestamp"`
	IsPartial        bool      `json:"isPartial"`
	SilenceSegmented bool      `json:"silenceSegmented"`
}

// Direction selects which neighbour a merge folds into.
type Direction int

const (
	// Up appends the message's text to the previous message.
	Up Direction = iota
	// Down prepends the message's text to the next message.
	Down
)

func (d Direction) String() string {
	if d == Up {
		return "up"
	}
	return "down"
}

// messageList is the ordered message store. Callers hold the machine lock.
type messageList struct {
	items []*Message
}

func (l *messageList) index(id string) int {
	for i, m := range l.items {
		if m.ID == id {
			return i
		}
	}
	return -1
}

func (l *messageList) append(m *Message) {
	l.items = append(l.items, m)
}

func (l *messageList) snapshot() []Message {
	out := make([]Message, len(l.items))
	for i, m := range l.items {
		out[i] = *m
	}
	return out
}

// remove deletes every listed ID and returns how many were found.
func (l *messageList) remove(ids ...string) int {
	drop := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		drop[id] = struct{}{}
	}
	kept := l.items[:0]
	removed := 0
	for _, m := range l.items {
		if _, ok := drop[m.ID]; ok {
			removed++
			continue
		}
		kept = append(kept, m)
	}
	for i := len(kept); i < len(l.items); i++ {
		l.items[i] = nil
	}
	l.items = kept
	return removed
}

// merge folds the message with id into its neighbour and returns the
// neighbour's ID.
func (l *messageList) merge(id string, dir Direction) (string, error) {
	i := l.index(id)
	if i < 0 {
		return "", ErrNotFound
	}
	j := i - 1
	if dir == Down {
		j = i + 1
	}
	if j < 0 || j >= len(l.items) {
		return "", ErrNoAdjacent
	}
	src, dst := l.items[i], l.items[j]
	if src.IsPartial || dst.IsPartial {
		return "", ErrMessageOpen
	}

	if dir == Up {
		dst.Text = joinText(dst.Text, src.Text)
	} else {
		dst.Text = joinText(src.Text, dst.Text)
		dst.Timestamp = src.Timestamp
	}
	l.remove(id)
	return dst.ID, nil
}

func (l *messageList) edit(id, text string) error {
	i := l.index(id)
	if i < 0 {
		return ErrNotFound
	}
	if l.items[i].IsPartial {
		return ErrMessageOpen
	}
	l.items[i].Text = text
	return nil
}
