package conversation

import (
	"context"
	"time"

	"github.com/suPer8Hu/voice-tutor/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Repo struct {
	db *gorm.DB
}

func NewRepo(db *gorm.DB) *Repo {
	return &Repo{db: db}
}

// Tx runs fn inside a transaction with a repo bound to it.
func (r *Repo) Tx(ctx context.Context, fn func(tx *Repo) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Repo{db: tx})
	})
}

// LockAuthSession serializes voice-session writers of one login session.
// sqlite has no row locks; its single writer already serializes.
func (r *Repo) LockAuthSession(ctx context.Context, sessionID string) error {
	if r.db.Dialector.Name() == "sqlite" {
		return nil
	}
	var s models.AuthSession
	return r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Select("id").
		Where("id = ?", sessionID).
		First(&s).Error
}

func (r *Repo) CreateVoiceSession(ctx context.Context, vs *models.VoiceSession) error {
	return r.db.WithContext(ctx).Omit(clause.Associations).Create(vs).Error
}

// OpenVoiceSession returns the most recently started open call of a login session.
func (r *Repo) OpenVoiceSession(ctx context.Context, sessionID string) (*models.VoiceSession, error) {
	var vs models.VoiceSession
	if err := r.db.WithContext(ctx).
		Where("session_id = ? AND ended_at IS NULL", sessionID).
		Order("started_at DESC").
		First(&vs).Error; err != nil {
		return nil, err
	}
	return &vs, nil
}

// LatestVoiceSession returns the most recently started call, open or not.
func (r *Repo) LatestVoiceSession(ctx context.Context, sessionID string) (*models.VoiceSession, error) {
	var vs models.VoiceSession
	if err := r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("started_at DESC").
		First(&vs).Error; err != nil {
		return nil, err
	}
	return &vs, nil
}

func (r *Repo) GetVoiceSession(ctx context.Context, id string) (*models.VoiceSession, error) {
	var vs models.VoiceSession
	if err := r.db.WithContext(ctx).First(&vs, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &vs, nil
}

// CloseVoiceSession only touches a row that is still open.
func (r *Repo) CloseVoiceSession(ctx context.Context, id string, endedAt time.Time, durationSec int) (int64, error) {
	res := r.db.WithContext(ctx).Model(&models.VoiceSession{}).
		Where("id = ? AND ended_at IS NULL", id).
		Updates(map[string]any{
			"ended_at":     endedAt,
			"duration_sec": durationSec,
		})
	return res.RowsAffected, res.Error
}

func (r *Repo) InsertMessage(ctx context.Context, m *models.ConversationMessage) error {
	return r.db.WithContext(ctx).Omit(clause.Associations).Create(m).Error
}

// ListMessages returns a call's messages in ASC id order (oldest -> newest).
func (r *Repo) ListMessages(ctx context.Context, voiceSessionID string, limit int, afterID uint64) ([]models.ConversationMessage, error) {
	q := r.db.WithContext(ctx).
		Where("voice_session_id = ?", voiceSessionID).
		Order("id ASC").
		Limit(limit)
	if afterID > 0 {
		q = q.Where("id > ?", afterID)
	}

	var msgs []models.ConversationMessage
	if err := q.Find(&msgs).Error; err != nil {
		return nil, err
	}
	return msgs, nil
}
