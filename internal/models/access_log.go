package models

import "time"

// AccessLog survives user deletion with UserID set to NULL.
type AccessLog struct {
	ID        uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID    *uint64   `gorm:"index" json:"user_id"`
	Action    string    `gorm:"type:varchar(512);not null" json:"action"`
	IP        string    `gorm:"type:varchar(64)" json:"ip"`
	UserAgent string    `gorm:"type:varchar(512)" json:"user_agent"`
	CreatedAt time.Time `gorm:"index" json:"created_at"`

	User *User `gorm:"constraint:OnDelete:SET NULL" json:"-"`
}

func (AccessLog) TableName() string { return "access_logs" }
