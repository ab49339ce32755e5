package models

import "time"

// AuthSession is a login session. Only the SHA-256 of the cookie token is
// stored; the raw token never leaves the client.
type AuthSession struct {
	ID        string    `gorm:"type:varchar(36);primaryKey" json:"id"`
	UserID    uint64    `gorm:"index;not null" json:"-"`
	TokenHash string    `gorm:"type:varchar(64);uniqueIndex;not null" json:"-"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `gorm:"index;not null" json:"expires_at"`
	IP        string    `gorm:"type:varchar(64)" json:"ip"`
	UserAgent string    `gorm:"type:varchar(512)" json:"user_agent"`
	Revoked   bool      `gorm:"index;not null;default:false" json:"revoked"`

	User User `gorm:"constraint:OnDelete:CASCADE" json:"-"`
}

func (AuthSession) TableName() string { return "sessions" }

// Active reports whether the session can still authenticate a request.
func (s *AuthSession) Active(now time.Time) bool {
	return !s.Revoked && s.ExpiresAt.After(now)
}
