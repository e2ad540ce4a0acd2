package testutil

import (
	"fmt"
	"sync"
	"time"
)

// StubClock is the clock a test database stamps undated articles with. Tests
// move it forward to tell a first ingestion from a later refresh.
type StubClock struct {
	mu  sync.Mutex
	now time.Time
}

func NewStubClock(t time.Time) *StubClock {
	return &StubClock{now: t}
}

// FixedClock starts at 2024-06-01 12:00:00 UTC.
func FixedClock() *StubClock {
	return NewStubClock(time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC))
}

func (c *StubClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Unix is the article timestamp an ingestion would stamp right now.
func (c *StubClock) Unix() int64 {
	return c.Now().Unix()
}

// Advance moves the clock forward by d.
func (c *StubClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// StubIDGenerator names commands "cmd-1", "cmd-2" and so on, so log lines of
// one command can be matched in tests.
type StubIDGenerator struct {
	mu   sync.Mutex
	next int
}

func NewStubIDGenerator() *StubIDGenerator {
	return &StubIDGenerator{}
}

func (g *StubIDGenerator) New() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.next++
	return fmt.Sprintf("cmd-%d", g.next)
}
