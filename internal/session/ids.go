package session

import (
	"fmt"
	"sync/atomic"
)

// IDGenerator hands out message IDs that are unique within one process.
type IDGenerator struct {
	prefix  string
	counter uint64
}

// NewIDGenerator returns a generator whose IDs start with prefix.
func NewIDGenerator(prefix string) *IDGenerator {
	return &IDGenerator{prefix: prefix}
}

// Next returns the next ID, e.g. "a1b2c3d4-msg-7".
func (g *IDGenerator) Next() string {
	n := atomic.AddUint64(&g.counter, 1)
	return fmt.Sprintf("%s-msg-%d", g.prefix, n)
}
