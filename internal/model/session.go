package model

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SessionStatus is the state of a scrape session.
//
//	pending ──► running ──► completed
//	               │
//	               └──────► failed
//
// completed and failed are terminal.
type SessionStatus string

// Session states.
const (
	StatusPending   SessionStatus = "pending"
	StatusRunning   SessionStatus = "running"
	StatusCompleted SessionStatus = "completed"
	StatusFailed    SessionStatus = "failed"
)

// ErrInvalidTransition is returned when a session status change is not
// permitted by the state machine.
var ErrInvalidTransition = errors.New("invalid session status transition")

// validTransitions lists every allowed (from → to) pair.
var validTransitions = map[SessionStatus][]SessionStatus{
	StatusPending: {StatusRunning, StatusFailed},
	StatusRunning: {StatusCompleted, StatusFailed},
	// completed and failed are terminal
}

// ParseSessionStatus converts a raw string to a SessionStatus.
func ParseSessionStatus(s string) (SessionStatus, error) {
	st := SessionStatus(s)
	switch st {
	case StatusPending, StatusRunning, StatusCompleted, StatusFailed:
		return st, nil
	}
	return "", fmt.Errorf("unknown session status %q", s)
}

// CanTransition reports whether moving from → to is permitted.
func CanTransition(from, to SessionStatus) bool {
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transitions are possible.
func (s SessionStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// SessionError is the error payload stored on a failed session.
type SessionError struct {
	Message string `json:"error"`
	Stage   string `json:"stage"`
}

// ScrapeSession is the audit trail of one end-to-end pipeline run.
type ScrapeSession struct {
	ID            uuid.UUID
	CompetitorID  uuid.UUID
	Status        SessionStatus
	StartedAt     time.Time
	CompletedAt   *time.Time
	ProductsFound int
	Error         *SessionError
	RawContent    string
	TokensUsed    int
}

// Transition moves the session to the given status, returning
// ErrInvalidTransition when the state machine forbids it.
func (s *ScrapeSession) Transition(to SessionStatus) error {
	if !CanTransition(s.Status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s.Status, to)
	}
	s.Status = to
	return nil
}
