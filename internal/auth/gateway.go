package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/suPer8Hu/voice-tutor/internal/common"
	"github.com/suPer8Hu/voice-tutor/internal/models"
	"gorm.io/gorm"
)

const (
	DefaultSessionTTL = 7 * 24 * time.Hour
	cacheTTL          = 5 * time.Minute
)

type Gateway struct {
	db     *gorm.DB
	cache  IdentityCache
	ttl    time.Duration
	log    *slog.Logger
	now    func() time.Time
	signup bool
}

type Option func(*Gateway)

func WithCache(c IdentityCache) Option {
	return func(g *Gateway) { g.cache = c }
}

func WithSessionTTL(d time.Duration) Option {
	return func(g *Gateway) {
		if d > 0 {
			g.ttl = d
		}
	}
}

func WithRegistration(enabled bool) Option {
	return func(g *Gateway) { g.signup = enabled }
}

func WithClock(now func() time.Time) Option {
	return func(g *Gateway) { g.now = now }
}

func NewGateway(db *gorm.DB, logger *slog.Logger, opts ...Option) *Gateway {
	g := &Gateway{
		db:  db,
		ttl: DefaultSessionTTL,
		log: logger,
		now: time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

type LoginResult struct {
	Token     string
	SessionID string
	ExpiresAt time.Time
	User      *models.User
}

// Login verifies credentials and opens a new session. The returned token is
// the cookie value; only its hash is stored.
func (g *Gateway) Login(ctx context.Context, email, password string, cc ClientContext) (*LoginResult, error) {
	var user models.User
	err := g.db.WithContext(ctx).Where("email = ?", email).First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			burnCompare(password)
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("lookup user: %w", err)
	}
	// some collations compare case-insensitively
	if user.Email != email {
		burnCompare(password)
		return nil, ErrInvalidCredentials
	}
	if !CheckPassword(user.PasswordHash, password) {
		return nil, ErrInvalidCredentials
	}

	token, err := NewToken()
	if err != nil {
		return nil, fmt.Errorf("generate token: %w", err)
	}

	now := g.now()
	sess := &models.AuthSession{
		ID:        uuid.NewString(),
		UserID:    user.ID,
		TokenHash: HashToken(token),
		CreatedAt: now,
		ExpiresAt: now.Add(g.ttl),
		IP:        common.Truncate(cc.IP, 64),
		UserAgent: common.Truncate(cc.UserAgent, 512),
	}
	if err := g.db.WithContext(ctx).Omit("User").Create(sess).Error; err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	return &LoginResult{
		Token:     token,
		SessionID: sess.ID,
		ExpiresAt: sess.ExpiresAt,
		User:      &user,
	}, nil
}

// Resolve maps a cookie token to an identity. Any failure, including an
// unreachable store, is reported as "no identity".
func (g *Gateway) Resolve(ctx context.Context, token string) (*Identity, bool) {
	if token == "" {
		return nil, false
	}
	hash := HashToken(token)
	now := g.now()

	if g.cache != nil {
		id, err := g.cache.GetIdentity(ctx, hash)
		if err != nil {
			g.log.Debug("identity cache get failed", "err", err)
		} else if id != nil && id.ExpiresAt.After(now) {
			return id, true
		}
	}

	var sess models.AuthSession
	err := g.db.WithContext(ctx).
		Preload("User").
		Where("token_hash = ? AND revoked = ? AND expires_at > ?", hash, false, now).
		First(&sess).Error
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			g.log.Warn("session lookup failed", "err", err)
		}
		return nil, false
	}

	id := &Identity{
		UserID:    sess.UserID,
		Email:     sess.User.Email,
		SessionID: sess.ID,
		ExpiresAt: sess.ExpiresAt,
	}
	if g.cache != nil {
		ttl := cacheTTL
		if left := sess.ExpiresAt.Sub(now); left < ttl {
			ttl = left
		}
		if err := g.cache.SetIdentity(ctx, hash, *id, ttl); err != nil {
			g.log.Debug("identity cache set failed", "err", err)
		}
	}
	return id, true
}

// Logout revokes the session for token. Unknown or empty tokens are not an error.
func (g *Gateway) Logout(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	hash := HashToken(token)
	if g.cache != nil {
		if err := g.cache.DeleteIdentity(ctx, hash); err != nil {
			g.log.Warn("identity cache delete failed", "err", err)
		}
	}
	return g.db.WithContext(ctx).Model(&models.AuthSession{}).
		Where("token_hash = ?", hash).
		Update("revoked", true).Error
}

// Register creates a user when self-service signup is enabled.
func (g *Gateway) Register(ctx context.Context, email, password string) (*models.User, error) {
	if !g.signup {
		return nil, ErrRegistrationClosed
	}
	return NewUsers(g.db, g.cache).Add(ctx, email, password)
}

