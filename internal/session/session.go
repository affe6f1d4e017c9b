// Package session tracks in-flight calls. A session is created when the
// media stream's start frame arrives and survives the socket so the
// stream-ended webhook can read the handover token afterwards.
package session

import (
	"sync"
	"time"
)

// Status is the call lifecycle state.
type Status string

const (
	StatusActive     Status = "active"
	StatusEscalating Status = "escalating"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// transcriptMax bounds the rolling transcript kept per call.
const transcriptMax = 10

// MetadataHandoverToken is the metadata key the escalation publisher sets.
const MetadataHandoverToken = "handoverToken"

// Session holds per-call state shared between the bridge and the webhook
// layer.
type Session struct {
	ConversationID string
	CallSID        string
	StreamSID      string
	CallerPhone    string
	StartTime      time.Time

	mu           sync.Mutex
	status       Status
	lastActivity time.Time
	transcript   []string
	metadata     map[string]string
}

// Status returns the current lifecycle state.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// SetStatus transitions the lifecycle state.
func (s *Session) SetStatus(st Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = st
}

// Touch records activity for idle accounting.
func (s *Session) Touch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastActivity = time.Now()
}

// LastActivity returns the time of the most recent Touch.
func (s *Session) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

// AppendTranscript adds a snippet to the rolling transcript, dropping the
// oldest entry once the buffer is full. Empty snippets are ignored.
func (s *Session) AppendTranscript(snippet string) {
	if snippet == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transcript = append(s.transcript, snippet)
	if len(s.transcript) > transcriptMax {
		s.transcript = s.transcript[len(s.transcript)-transcriptMax:]
	}
}

// RecentTranscript returns up to n trailing snippets, oldest first.
func (s *Session) RecentTranscript(n int) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	start := 0
	if len(s.transcript) > n {
		start = len(s.transcript) - n
	}
	out := make([]string, len(s.transcript)-start)
	copy(out, s.transcript[start:])
	return out
}

// SetMetadata stores an arbitrary key/value on the session.
func (s *Session) SetMetadata(key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.metadata == nil {
		s.metadata = make(map[string]string)
	}
	s.metadata[key] = value
}

// Metadata returns the value for key, if set.
func (s *Session) Metadata(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.metadata[key]
	return v, ok
}
