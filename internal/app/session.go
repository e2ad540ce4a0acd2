package app

import "time"

// Session is one CLI invocation. Its ID tags every log line the invocation
// writes, so interleaved runs can be told apart in pindash.log.
type Session struct {
	ID      string
	Command string
	Started time.Time
	Status  string // "success" or "error"
}

// NewSession creates a session for command, identified by its start time.
func NewSession(command string, now time.Time) *Session {
	return &Session{
		ID:      now.UTC().Format("20060102T150405Z"),
		Command: command,
		Started: now,
		Status:  "success",
	}
}

// Fail marks the session as failed.
func (s *Session) Fail() {
	s.Status = "error"
}

// Failed reports whether Fail was called.
func (s *Session) Failed() bool {
	return s.Status == "error"
}
