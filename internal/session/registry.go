package session

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Registry is the in-memory session table, keyed by stream SID.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// Create registers a new active session for a media stream. The
// conversation ID is generated here and is the correlation key across
// logs, CRM records and the handover store.
func (r *Registry) Create(callSID, streamSID, callerPhone string) *Session {
	now := time.Now()
	s := &Session{
		ConversationID: uuid.New().String(),
		CallSID:        callSID,
		StreamSID:      streamSID,
		CallerPhone:    callerPhone,
		StartTime:      now,
		status:         StatusActive,
		lastActivity:   now,
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[streamSID] = s
	return s
}

// ByStreamSID looks up a session by its media stream SID.
func (r *Registry) ByStreamSID(streamSID string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[streamSID]
	return s, ok
}

// ByCallSID looks up a session by call SID. Linear scan; the table holds
// only concurrent calls.
func (r *Registry) ByCallSID(callSID string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, s := range r.sessions {
		if s.CallSID == callSID {
			return s, true
		}
	}
	return nil, false
}

// Remove deletes a session. Callers remove sessions from the stream-ended
// webhook, not at socket close, so the handover token stays readable.
func (r *Registry) Remove(streamSID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, streamSID)
}

// Len reports the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
