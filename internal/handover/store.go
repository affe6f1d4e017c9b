package handover

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned for tokens that do not exist or have expired.
// Callers treat both the same way, so stores fold expiry into it.
var ErrNotFound = errors.New("handover token not found")

// Payload is the call context stored against a token.
type Payload struct {
	Token          string
	ConversationID string
	CallerPhone    string
	CreatedAt      time.Time
	ExpiresAt      time.Time
	ContactID      string
	TicketID       string
	Summary        string
	Intent         string
	Priority       string
	Reason         string
}

// Store persists handover payloads for the token's lifetime.
//
// Get must re-check expiry against the clock even when the backend purges
// expired rows itself; DynamoDB TTL deletion can lag by minutes and a
// stale token must not route a call.
type Store interface {
	Put(ctx context.Context, p Payload) error
	Get(ctx context.Context, token string) (Payload, error)
	Delete(ctx context.Context, token string) error
}
