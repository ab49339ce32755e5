package auth

import (
	"context"
	"time"
)

// Identity is what a resolved cookie attaches to a request.
type Identity struct {
	UserID    uint64    `json:"user_id"`
	Email     string    `json:"email"`
	SessionID string    `json:"session_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

// ClientContext is issuance metadata recorded with a session.
type ClientContext struct {
	IP        string
	UserAgent string
}

// IdentityCache short-circuits session lookups. A miss is (nil, nil).
type IdentityCache interface {
	GetIdentity(ctx context.Context, tokenHash string) (*Identity, error)
	SetIdentity(ctx context.Context, tokenHash string, id Identity, ttl time.Duration) error
	DeleteIdentity(ctx context.Context, tokenHashes ...string) error
}
