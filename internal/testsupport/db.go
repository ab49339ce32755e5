package testsupport

import (
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/suPer8Hu/voice-tutor/internal/db"
	"github.com/suPer8Hu/voice-tutor/internal/models"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

var dbSeq atomic.Int64

// OpenDB returns a migrated in-memory sqlite database private to t.
func OpenDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s_%d?mode=memory&cache=shared", name, dbSeq.Add(1))
	gdb, err := db.Connect("sqlite", dsn, false)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.Migrate(gdb); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := gdb.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return gdb
}

// CreateUser inserts a user with a real bcrypt hash of password.
func CreateUser(t *testing.T, gdb *gorm.DB, email, password string) *models.User {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	u := &models.User{Email: email, PasswordHash: string(hash)}
	if err := gdb.Create(u).Error; err != nil {
		t.Fatalf("create user: %v", err)
	}
	return u
}

// CreateAuthSession inserts an active login session for userID.
func CreateAuthSession(t *testing.T, gdb *gorm.DB, userID uint64) *models.AuthSession {
	t.Helper()
	s := &models.AuthSession{
		ID:        uuid.NewString(),
		UserID:    userID,
		TokenHash: fmt.Sprintf("%064d", dbSeq.Add(1)),
		ExpiresAt: time.Now().Add(time.Hour),
	}
	if err := gdb.Omit("User").Create(s).Error; err != nil {
		t.Fatalf("create auth session: %v", err)
	}
	return s
}
