package auth

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/suPer8Hu/voice-tutor/internal/logging"
	"github.com/suPer8Hu/voice-tutor/internal/models"
	"github.com/suPer8Hu/voice-tutor/internal/testsupport"
	"golang.org/x/crypto/bcrypt"
)

func TestMain(m *testing.M) {
	BcryptCost = bcrypt.MinCost
	os.Exit(m.Run())
}

type memCache struct {
	mu   sync.Mutex
	m    map[string]Identity
	gets int
}

func newMemCache() *memCache { return &memCache{m: map[string]Identity{}} }

func (c *memCache) GetIdentity(_ context.Context, h string) (*Identity, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gets++
	id, ok := c.m[h]
	if !ok {
		return nil, nil
	}
	return &id, nil
}

func (c *memCache) SetIdentity(_ context.Context, h string, id Identity, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m[h] = id
	return nil
}

func (c *memCache) DeleteIdentity(_ context.Context, hs ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, h := range hs {
		delete(c.m, h)
	}
	return nil
}

func TestLogin_TokenResolvesToSameUser(t *testing.T) {
	gdb := testsupport.OpenDB(t)
	u := testsupport.CreateUser(t, gdb, "demo@demo.com", "demopassword")
	g := NewGateway(gdb, logging.Discard())
	ctx := context.Background()

	res, err := g.Login(ctx, "demo@demo.com", "demopassword", ClientContext{IP: "10.0.0.1", UserAgent: "go-test"})
	require.NoError(t, err)
	require.Len(t, res.Token, 64)
	_, err = uuid.Parse(res.SessionID)
	require.NoError(t, err)

	var stored models.AuthSession
	require.NoError(t, gdb.First(&stored, "id = ?", res.SessionID).Error)
	assert.Equal(t, HashToken(res.Token), stored.TokenHash)
	assert.NotEqual(t, res.Token, stored.TokenHash)
	assert.Equal(t, "10.0.0.1", stored.IP)
	assert.WithinDuration(t, time.Now().Add(DefaultSessionTTL), stored.ExpiresAt, time.Minute)

	id, ok := g.Resolve(ctx, res.Token)
	require.True(t, ok)
	assert.Equal(t, u.ID, id.UserID)
	assert.Equal(t, "demo@demo.com", id.Email)
	assert.Equal(t, res.SessionID, id.SessionID)
}

func TestLogin_InvalidCredentialsAreIndistinguishable(t *testing.T) {
	gdb := testsupport.OpenDB(t)
	testsupport.CreateUser(t, gdb, "demo@demo.com", "demopassword")
	g := NewGateway(gdb, logging.Discard())
	ctx := context.Background()

	_, errUnknown := g.Login(ctx, "nobody@demo.com", "demopassword", ClientContext{})
	_, errWrong := g.Login(ctx, "demo@demo.com", "wrong", ClientContext{})
	_, errCase := g.Login(ctx, "DEMO@demo.com", "demopassword", ClientContext{})

	assert.ErrorIs(t, errUnknown, ErrInvalidCredentials)
	assert.ErrorIs(t, errWrong, ErrInvalidCredentials)
	assert.ErrorIs(t, errCase, ErrInvalidCredentials)
	assert.Equal(t, errUnknown.Error(), errWrong.Error())

	var cnt int64
	require.NoError(t, gdb.Model(&models.AuthSession{}).Count(&cnt).Error)
	assert.Zero(t, cnt)
}

func TestResolve_MissingOrUnknownToken(t *testing.T) {
	gdb := testsupport.OpenDB(t)
	g := NewGateway(gdb, logging.Discard())

	_, ok := g.Resolve(context.Background(), "")
	assert.False(t, ok)
	_, ok = g.Resolve(context.Background(), "deadbeef")
	assert.False(t, ok)
}

func TestResolve_ExpiredSession(t *testing.T) {
	gdb := testsupport.OpenDB(t)
	testsupport.CreateUser(t, gdb, "a@b.c", "pw")
	now := time.Now()
	g := NewGateway(gdb, logging.Discard(), WithClock(func() time.Time { return now }), WithSessionTTL(time.Hour))

	res, err := g.Login(context.Background(), "a@b.c", "pw", ClientContext{})
	require.NoError(t, err)

	now = now.Add(2 * time.Hour)
	_, ok := g.Resolve(context.Background(), res.Token)
	assert.False(t, ok)
}

func TestResolve_FailsOpenWhenStoreDown(t *testing.T) {
	gdb := testsupport.OpenDB(t)
	testsupport.CreateUser(t, gdb, "a@b.c", "pw")
	g := NewGateway(gdb, logging.Discard())
	res, err := g.Login(context.Background(), "a@b.c", "pw", ClientContext{})
	require.NoError(t, err)

	sqlDB, err := gdb.DB()
	require.NoError(t, err)
	require.NoError(t, sqlDB.Close())

	id, ok := g.Resolve(context.Background(), res.Token)
	assert.False(t, ok)
	assert.Nil(t, id)
}

func TestLogout_IdempotentAndRevokes(t *testing.T) {
	gdb := testsupport.OpenDB(t)
	testsupport.CreateUser(t, gdb, "a@b.c", "pw")
	cache := newMemCache()
	g := NewGateway(gdb, logging.Discard(), WithCache(cache))
	ctx := context.Background()

	res, err := g.Login(ctx, "a@b.c", "pw", ClientContext{})
	require.NoError(t, err)
	_, ok := g.Resolve(ctx, res.Token)
	require.True(t, ok)
	require.Len(t, cache.m, 1)

	require.NoError(t, g.Logout(ctx, res.Token))
	require.NoError(t, g.Logout(ctx, res.Token))
	require.NoError(t, g.Logout(ctx, ""))

	assert.Empty(t, cache.m)
	_, ok = g.Resolve(ctx, res.Token)
	assert.False(t, ok)

	var stored models.AuthSession
	require.NoError(t, gdb.First(&stored, "id = ?", res.SessionID).Error)
	assert.True(t, stored.Revoked)
}

func TestResolve_ServesFromCache(t *testing.T) {
	gdb := testsupport.OpenDB(t)
	testsupport.CreateUser(t, gdb, "a@b.c", "pw")
	cache := newMemCache()
	g := NewGateway(gdb, logging.Discard(), WithCache(cache))
	ctx := context.Background()

	res, err := g.Login(ctx, "a@b.c", "pw", ClientContext{})
	require.NoError(t, err)
	_, ok := g.Resolve(ctx, res.Token)
	require.True(t, ok)

	// the row is gone but the cache still answers
	require.NoError(t, gdb.Where("id = ?", res.SessionID).Delete(&models.AuthSession{}).Error)
	id, ok := g.Resolve(ctx, res.Token)
	require.True(t, ok)
	assert.Equal(t, res.SessionID, id.SessionID)
}

func TestRegister(t *testing.T) {
	gdb := testsupport.OpenDB(t)
	ctx := context.Background()

	closed := NewGateway(gdb, logging.Discard())
	_, err := closed.Register(ctx, "new@b.c", "pw")
	assert.ErrorIs(t, err, ErrRegistrationClosed)

	open := NewGateway(gdb, logging.Discard(), WithRegistration(true))
	u, err := open.Register(ctx, "new@b.c", "pw")
	require.NoError(t, err)
	assert.NotZero(t, u.ID)

	_, err = open.Register(ctx, "new@b.c", "pw2")
	assert.ErrorIs(t, err, ErrEmailTaken)

	_, err = open.Login(ctx, "new@b.c", "pw", ClientContext{})
	assert.NoError(t, err)
}

func TestCheckPassword_AcceptsPHPPrefix(t *testing.T) {
	hash, err := HashPassword("secret")
	require.NoError(t, err)
	php := "$2y$" + hash[4:]
	assert.True(t, CheckPassword(php, "secret"))
	assert.False(t, CheckPassword(php, "nope"))
}
