package models

import "time"

type Role string

const (
	RoleSystem Role = "SYSTEM"
	RoleUser   Role = "USER"
	RoleInfo   Role = "INFO"
)

func (r Role) Valid() bool {
	switch r {
	case RoleSystem, RoleUser, RoleInfo:
		return true
	}
	return false
}

// VoiceSession is one call between the browser and the tutor. EndedAt and
// DurationSec stay nil while the call is open.
type VoiceSession struct {
	ID          string     `gorm:"type:varchar(36);primaryKey" json:"id"`
	SessionID   string     `gorm:"type:varchar(36);index:idx_voice_session_started,priority:1;not null" json:"session_id"`
	UserID      uint64     `gorm:"index;not null" json:"-"`
	StartedAt   time.Time  `gorm:"index:idx_voice_session_started,priority:2;not null" json:"started_at"`
	EndedAt     *time.Time `json:"ended_at"`
	DurationSec *int       `json:"duration_sec"`
	IP          string     `gorm:"type:varchar(64)" json:"ip"`
	UserAgent   string     `gorm:"type:varchar(512)" json:"user_agent"`

	Session AuthSession `gorm:"foreignKey:SessionID;constraint:OnDelete:CASCADE" json:"-"`
	User    User        `gorm:"constraint:OnDelete:CASCADE" json:"-"`
}

func (VoiceSession) TableName() string { return "voice_sessions" }

func (v *VoiceSession) Open() bool { return v.EndedAt == nil }

type ConversationMessage struct {
	ID             uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	VoiceSessionID string    `gorm:"type:varchar(36);index;not null" json:"voice_session_id"`
	UserID         uint64    `gorm:"index;not null" json:"-"`
	Role           Role      `gorm:"type:varchar(16);not null" json:"role"`
	Message        string    `gorm:"type:text;not null" json:"message"`
	CreatedAt      time.Time `json:"created_at"`

	VoiceSession VoiceSession `gorm:"constraint:OnDelete:CASCADE" json:"-"`
	User         User         `gorm:"constraint:OnDelete:CASCADE" json:"-"`
}

func (ConversationMessage) TableName() string { return "conversation_messages" }
