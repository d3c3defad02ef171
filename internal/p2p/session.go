// Package p2p implements the direct controller-to-target control link.
// The target listens on an ephemeral port; the controller dials it and must
// open with a hello naming the session the broker assigned.
package p2p

import (
	"context"
	"sync"
)

// SessionState is the session a target currently accepts hellos for
type SessionState struct {
	sessionID string
	partnerID string
	changed   chan struct{}
	mu        sync.Mutex
}

// NewSessionState returns an empty state that accepts nothing
func NewSessionState() *SessionState {
	return &SessionState{changed: make(chan struct{})}
}

// Set records the session assigned by the broker
func (s *SessionState) Set(sessionID, partnerID string) {
	s.mu.Lock()
	s.sessionID = sessionID
	s.partnerID = partnerID
	s.notifyLocked()
	s.mu.Unlock()
}

// Clear forgets the session
func (s *SessionState) Clear() {
	s.mu.Lock()
	s.sessionID = ""
	s.partnerID = ""
	s.notifyLocked()
	s.mu.Unlock()
}

// Current returns the recorded session and partner
func (s *SessionState) Current() (sessionID, partnerID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionID, s.partnerID
}

// IsValid reports whether a hello for sessionID from fromID matches. Both
// values must be non-empty.
func (s *SessionState) IsValid(sessionID, fromID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.validLocked(sessionID, fromID)
}

// Wait reports whether the hello matches. The controller can dial before the
// target has processed its START_STREAM, so while no session is recorded it
// blocks until one is set or ctx ends. A recorded session that differs fails
// at once.
func (s *SessionState) Wait(ctx context.Context, sessionID, fromID string) bool {
	for {
		s.mu.Lock()
		if s.sessionID != "" {
			valid := s.validLocked(sessionID, fromID)
			s.mu.Unlock()
			return valid
		}
		changed := s.changed
		s.mu.Unlock()

		select {
		case <-ctx.Done():
			return false
		case <-changed:
		}
	}
}

func (s *SessionState) validLocked(sessionID, fromID string) bool {
	return sessionID != "" && fromID != "" &&
		sessionID == s.sessionID && fromID == s.partnerID
}

func (s *SessionState) notifyLocked() {
	close(s.changed)
	s.changed = make(chan struct{})
}
