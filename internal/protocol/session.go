package protocol

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agentoven/mcpgateway/pkg/models"
)

// pendingResponse is a oneshot waiting on a server-initiated request's
// correlated response (sampling/createMessage, elicitation/create).
type pendingResponse struct {
	ch chan *models.RPCMessage
}

// sessionState bundles a models.Session with the protocol-core-private
// bookkeeping that never needs to leave this package: pending cancellable
// requests and pending server-initiated responses.
type sessionState struct {
	session *models.Session

	mu       sync.Mutex
	pending  map[string]models.PendingRequest // requestId -> cancel handle, for notifications/cancelled
	awaiting map[string]pendingResponse       // requestId -> server-initiated request awaiting the client's reply
}

// SessionStore tracks every connected session by id, with the full
// per-session protocol state machine.
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*sessionState
}

func NewSessionStore() *SessionStore {
	return &SessionStore{sessions: map[string]*sessionState{}}
}

// Open registers a freshly connected session and returns it.
func (s *SessionStore) Open(kind models.TransportKind) *models.Session {
	sess := models.NewSession(uuid.New().String(), kind, time.Now())
	s.mu.Lock()
	s.sessions[sess.ID] = &sessionState{
		session:  sess,
		pending:  map[string]models.PendingRequest{},
		awaiting: map[string]pendingResponse{},
	}
	s.mu.Unlock()
	return sess
}

// Get returns the session state for id, if still open.
func (s *SessionStore) Get(id string) (*models.Session, bool) {
	s.mu.RLock()
	st, ok := s.sessions[id]
	s.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return st.session, true
}

// Close transitions a session to Closed and releases its pending table,
// cancelling every outstanding request so callers blocked on them unblock
// immediately instead of leaking goroutines.
func (s *SessionStore) Close(id string) {
	s.mu.Lock()
	st, ok := s.sessions[id]
	delete(s.sessions, id)
	s.mu.Unlock()
	if !ok {
		return
	}
	st.mu.Lock()
	st.session.State = models.SessionClosed
	for _, p := range st.pending {
		if p.Cancel != nil {
			p.Cancel()
		}
	}
	for _, a := range st.awaiting {
		close(a.ch)
	}
	st.mu.Unlock()
}

func (s *SessionStore) state(id string) (*sessionState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.sessions[id]
	return st, ok
}

func (s *SessionStore) setState(id string, state models.SessionState) {
	if st, ok := s.state(id); ok {
		st.mu.Lock()
		st.session.State = state
		st.mu.Unlock()
	}
}

func (s *SessionStore) registerPending(id, requestID string, p models.PendingRequest) {
	if st, ok := s.state(id); ok {
		st.mu.Lock()
		st.pending[requestID] = p
		st.mu.Unlock()
	}
}

func (s *SessionStore) resolvePending(id, requestID string) (models.PendingRequest, bool) {
	st, ok := s.state(id)
	if !ok {
		return models.PendingRequest{}, false
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	p, ok := st.pending[requestID]
	if ok {
		delete(st.pending, requestID)
	}
	return p, ok
}

func (s *SessionStore) clearPending(id, requestID string) {
	if st, ok := s.state(id); ok {
		st.mu.Lock()
		delete(st.pending, requestID)
		st.mu.Unlock()
	}
}

func (s *SessionStore) awaitResponse(id, requestID string) chan *models.RPCMessage {
	ch := make(chan *models.RPCMessage, 1)
	if st, ok := s.state(id); ok {
		st.mu.Lock()
		st.awaiting[requestID] = pendingResponse{ch: ch}
		st.mu.Unlock()
	}
	return ch
}

// deliverResponse routes an inbound response message to whichever
// server-initiated request is awaiting it. Returns true if it was claimed.
func (s *SessionStore) deliverResponse(id string, msg *models.RPCMessage) bool {
	st, ok := s.state(id)
	if !ok {
		return false
	}
	key := rawIDString(msg.ID)
	st.mu.Lock()
	p, ok := st.awaiting[key]
	if ok {
		delete(st.awaiting, key)
	}
	st.mu.Unlock()
	if !ok {
		return false
	}
	p.ch <- msg
	return true
}
