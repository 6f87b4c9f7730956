package transport

import (
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Role identifies which responder endpoint a request arrived on
type Role int

const (
	// Public is the regular API endpoint
	Public Role = iota
	// Admin is the administrative API endpoint
	Admin
)

// String returns the role name used in logs and metric labels
func (r Role) String() string {
	switch r {
	case Public:
		return "public"
	case Admin:
		return "admin"
	default:
		return "unknown"
	}
}

const (
	sessionPending int32 = iota
	sessionReplied
	sessionAbandoned
)

// Session correlates one inbound request with its single reply. A session is
// created for every parsed request and is never reused; once handed to the
// host the bridge only touches it again through SendMessage.
type Session struct {
	ID      string
	Role    Role
	Admin   bool
	Created time.Time

	bridge *Bridge
	ep     *endpoint
	frame  *Frame
	state  atomic.Int32
	done   chan struct{}
}

func newSession(b *Bridge, ep *endpoint, frame *Frame) *Session {
	return &Session{
		ID:      uuid.NewString(),
		Role:    ep.role,
		Admin:   ep.role == Admin,
		Created: time.Now(),
		bridge:  b,
		ep:      ep,
		frame:   frame,
		done:    make(chan struct{}),
	}
}

// Replied reports whether a reply was sent, or attempted, for this session
func (s *Session) Replied() bool {
	return s.state.Load() == sessionReplied
}

// Done is closed once the reply has been handed to the endpoint
func (s *Session) Done() <-chan struct{} {
	return s.done
}

func (s *Session) claim() int32 {
	if s.state.CompareAndSwap(sessionPending, sessionReplied) {
		return sessionPending
	}
	return s.state.Load()
}

func (s *Session) abandon() bool {
	return s.state.CompareAndSwap(sessionPending, sessionAbandoned)
}
