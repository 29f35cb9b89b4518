// Package rpcsession is a reference RPC session manager: the minimal
// external collaborator consensus.Adapter.OnRequest needs to route a
// replica core's asynchronous reply back to the client connection that
// submitted the request. It is grounded on the teacher's htlcSwitch: a
// central id-indexed map of live endpoints plus a buffered per-endpoint
// channel, rather than a direct callback invoked from the replica core's
// own goroutine.
package rpcsession

import (
	"sync"
	"sync/atomic"

	"github.com/ccfnode/pbftadapter/consensus"
)

// replyQueueSize bounds how many replies a session can have outstanding
// before ReplyAsync starts dropping them, mirroring htlcQueueSize.
const replyQueueSize = 50

// Reply is a replica-core reply routed back to the session that submitted
// the originating request.
type Reply struct {
	RequestID consensus.RequestID
	Status    int
	Payload   []byte
}

// Session is a single client's pending-reply endpoint.
type Session struct {
	ID uint64

	replies chan Reply
	quit    chan struct{}
}

// Replies returns the channel the session's owner should read replies
// from.
func (s *Session) Replies() <-chan Reply {
	return s.replies
}

// Close closes the session's quit channel; it does not unregister the
// session from its SessionManager. SessionManager.Close(s.ID) unregisters
// the session and calls Close itself, so a session closed that way must not
// be closed again.
func (s *Session) Close() {
	close(s.quit)
}

// SessionManager is a central, id-indexed registry of live sessions. It is
// the ReplyHandler target wired into consensus.Adapter.OnRequest: each
// reply is routed to the session whose id matches RequestID.SessionID.
type SessionManager struct {
	mu       sync.RWMutex
	sessions map[uint64]*Session

	nextID uint64 // atomic
}

// NewSessionManager constructs an empty SessionManager.
func NewSessionManager() *SessionManager {
	return &SessionManager{
		sessions: make(map[uint64]*Session),
	}
}

// NewSession registers and returns a fresh session with a manager-unique
// id.
func (m *SessionManager) NewSession() *Session {
	id := atomic.AddUint64(&m.nextID, 1)
	s := &Session{
		ID:      id,
		replies: make(chan Reply, replyQueueSize),
		quit:    make(chan struct{}),
	}

	m.mu.Lock()
	m.sessions[id] = s
	m.mu.Unlock()

	return s
}

// Close unregisters the session identified by id, if any.
func (m *SessionManager) Close(id uint64) {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	m.mu.Unlock()

	if ok {
		s.Close()
	}
}

// ReplyAsync routes a replica-core reply to the session named by
// rid.SessionID. It is the consensus.ReplyHandler registered (indirectly,
// via an RPC-session-aware wrapper) with consensus.Adapter.OnRequest. A
// reply for an unknown session, or one whose queue is full, is dropped with
// a warning rather than blocking the replica core's callback path.
func (m *SessionManager) ReplyAsync(rid consensus.RequestID, status int, payload []byte) {
	m.mu.RLock()
	s, ok := m.sessions[rid.SessionID]
	m.mu.RUnlock()

	if !ok {
		log.Warnf("reply for unknown session %d dropped", rid.SessionID)
		return
	}

	select {
	case s.replies <- Reply{RequestID: rid, Status: status, Payload: payload}:
	default:
		log.Warnf("session %d reply queue full, dropping reply for request %+v", rid.SessionID, rid)
	}
}
