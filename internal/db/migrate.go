package db

import (
	"fmt"

	"github.com/suPer8Hu/voice-tutor/internal/models"
	"gorm.io/gorm"
)

// Migrate creates or updates every table. Order matters for the foreign keys.
func Migrate(gdb *gorm.DB) error {
	if err := gdb.AutoMigrate(
		&models.User{},
		&models.AuthSession{},
		&models.VoiceSession{},
		&models.ConversationMessage{},
		&models.AccessLog{},
	); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}
