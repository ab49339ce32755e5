package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/suPer8Hu/voice-tutor/internal/models"
	"gorm.io/gorm"
)

const (
	DemoEmail    = "demo@demo.com"
	DemoPassword = "demopassword"
)

// Users holds the operator-side account operations.
type Users struct {
	db    *gorm.DB
	cache IdentityCache
}

func NewUsers(db *gorm.DB, cache IdentityCache) *Users {
	return &Users{db: db, cache: cache}
}

func (u *Users) Add(ctx context.Context, email, password string) (*models.User, error) {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return nil, errors.New("email and password required")
	}

	var cnt int64
	if err := u.db.WithContext(ctx).Model(&models.User{}).Where("email = ?", email).Count(&cnt).Error; err != nil {
		return nil, fmt.Errorf("check email: %w", err)
	}
	if cnt > 0 {
		return nil, ErrEmailTaken
	}

	hash, err := HashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	user := &models.User{Email: email, PasswordHash: hash}
	if err := u.db.WithContext(ctx).Create(user).Error; err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}
	return user, nil
}

// Delete removes a user with everything hanging off it. Access logs are kept
// and detached.
func (u *Users) Delete(ctx context.Context, email string) error {
	var hashes []string
	err := u.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var user models.User
		if err := tx.Where("email = ?", email).First(&user).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrUserNotFound
			}
			return err
		}

		if err := tx.Model(&models.AuthSession{}).Where("user_id = ?", user.ID).Pluck("token_hash", &hashes).Error; err != nil {
			return err
		}
		if err := tx.Where("user_id = ?", user.ID).Delete(&models.ConversationMessage{}).Error; err != nil {
			return err
		}
		if err := tx.Where("user_id = ?", user.ID).Delete(&models.VoiceSession{}).Error; err != nil {
			return err
		}
		if err := tx.Where("user_id = ?", user.ID).Delete(&models.AuthSession{}).Error; err != nil {
			return err
		}
		if err := tx.Model(&models.AccessLog{}).Where("user_id = ?", user.ID).Update("user_id", nil).Error; err != nil {
			return err
		}
		return tx.Delete(&user).Error
	})
	if err != nil {
		return err
	}
	u.forget(ctx, hashes)
	return nil
}

// ResetPassword sets a new hash and revokes every session of the user.
func (u *Users) ResetPassword(ctx context.Context, email, password string) error {
	hash, err := HashPassword(password)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	var hashes []string
	err = u.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var user models.User
		if err := tx.Where("email = ?", email).First(&user).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrUserNotFound
			}
			return err
		}
		if err := tx.Model(&user).Update("password_hash", hash).Error; err != nil {
			return err
		}
		if err := tx.Model(&models.AuthSession{}).
			Where("user_id = ? AND revoked = ?", user.ID, false).
			Pluck("token_hash", &hashes).Error; err != nil {
			return err
		}
		return tx.Model(&models.AuthSession{}).Where("user_id = ?", user.ID).Update("revoked", true).Error
	})
	if err != nil {
		return err
	}
	u.forget(ctx, hashes)
	return nil
}

// EnsureDemoUser seeds the demo account when no user exists yet.
func (u *Users) EnsureDemoUser(ctx context.Context) (bool, error) {
	var cnt int64
	if err := u.db.WithContext(ctx).Model(&models.User{}).Count(&cnt).Error; err != nil {
		return false, err
	}
	if cnt > 0 {
		return false, nil
	}
	if _, err := u.Add(ctx, DemoEmail, DemoPassword); err != nil {
		return false, err
	}
	return true, nil
}

func (u *Users) forget(ctx context.Context, hashes []string) {
	if u.cache == nil || len(hashes) == 0 {
		return
	}
	_ = u.cache.DeleteIdentity(ctx, hashes...)
}
