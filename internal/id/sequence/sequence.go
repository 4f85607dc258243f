// Package sequence generates request correlation ids.
package sequence

import (
	"strconv"
	"sync/atomic"
	"time"
)

// Generator produces ids of the form req-<unixMillis>-<counter>. The counter
// is process-wide for a Generator and starts at 1.
type Generator struct {
	counter atomic.Uint64
	now     func() time.Time
}

// New creates a Generator using the wall clock.
func New() *Generator {
	return NewWithClock(time.Now)
}

// NewWithClock creates a Generator with a fixed time source.
func NewWithClock(now func() time.Time) *Generator {
	return &Generator{now: now}
}

// NewID returns the next request id.
func (g *Generator) NewID() string {
	n := g.counter.Add(1)
	return "req-" + strconv.FormatInt(g.now().UnixMilli(), 10) + "-" + strconv.FormatUint(n, 10)
}

// Child derives the id for the index-th scheduled refresh of a batch request.
func Child(parent string, index int) string {
	return parent + "-scheduled-" + strconv.Itoa(index)
}
