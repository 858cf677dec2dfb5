package engine

import (
	"fmt"
	"sync"

	"groupchat/internal/errs"
	"groupchat/internal/presence"
)

// State is the lifecycle of one connection.
type State int

const (
	StateUnauthenticated State = iota
	StateAuthenticated
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUnauthenticated:
		return "unauthenticated"
	case StateAuthenticated:
		return "authenticated"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Session is the engine's view of one connection. A closed session is never
// reused; a reconnect opens a new one.
type Session struct {
	peer presence.Peer

	mu       sync.Mutex
	state    State
	identity string
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Identity returns the logged-in username, or "" before login.
func (s *Session) Identity() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.identity
}

func (s *Session) authenticated() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case StateAuthenticated:
		return s.identity, nil
	case StateClosed:
		return "", errs.ErrSessionClosed
	default:
		return "", errs.ErrNotAuthenticated
	}
}

func (s *Session) snapshot() (State, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state, s.identity
}

func (s *Session) set(state State, identity string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = state
	s.identity = identity
}
