package relay

import (
	"sync"

	"cowrite-server/core"

	"github.com/sirupsen/logrus"
)

// Conn is the transport side of a session.
type Conn interface {
	ID() string
	Emit(event string, payload any) error
}

// State is the relay state of a session.
type State int

const (
	Unjoined State = iota
	Joined
)

func (s State) String() string {
	if s == Joined {
		return "joined"
	}
	return "unjoined"
}

// Session is one client's live connection and its join state. A session is
// a member of at most one room.
type Session struct {
	conn     Conn
	identity core.Identity

	mu     sync.Mutex
	state  State
	room   *room
	closed bool
}

func (s *Session) ID() string {
	return s.conn.ID()
}

func (s *Session) Identity() core.Identity {
	return s.identity
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// DocumentID returns the id of the joined document, or "" when unjoined.
func (s *Session) DocumentID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.room == nil {
		return ""
	}
	return s.room.id
}

func (s *Session) current() *room {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.room
}

// admit moves the session into rm. It fails once the session is closed so a
// join that completes after disconnect is dropped.
func (s *Session) admit(rm *room) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.room = rm
	s.state = Joined
	return true
}

// detach clears the membership if the session still points at rm.
func (s *Session) detach(rm *room) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.room == rm {
		s.room = nil
		s.state = Unjoined
	}
}

func (s *Session) close() *room {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return s.room
}

func (s *Session) emit(event string, payload any) {
	if err := s.conn.Emit(event, payload); err != nil {
		logrus.WithFields(logrus.Fields{
			"session_id": s.ID(),
			"event":      event,
		}).WithError(err).Warn("Failed to emit event")
	}
}

func (s *Session) emitError(err error) {
	s.emit(EventError, errorPayload(err))
}
