package conversation

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/suPer8Hu/voice-tutor/internal/common"
	"github.com/suPer8Hu/voice-tutor/internal/metrics"
	"github.com/suPer8Hu/voice-tutor/internal/models"
	"gorm.io/gorm"
)

var (
	ErrNoVoiceSession   = errors.New("no voice session")
	ErrVoiceSessionOpen = errors.New("a voice session is already open")
	ErrInvalidRole      = errors.New("invalid role")
	ErrEmptyMessage     = errors.New("message text required")
)

// Caller is the authenticated actor behind a request.
type Caller struct {
	UserID    uint64
	Email     string
	SessionID string
	IP        string
	UserAgent string
}

// Mirror receives a copy of every appended line, e.g. a flat-file transcript.
type Mirror interface {
	Append(email, sessionID string, role models.Role, text string) error
}

type Service struct {
	repo   *Repo
	mirror Mirror
	log    *slog.Logger
	now    func() time.Time
}

func NewService(repo *Repo, mirror Mirror, logger *slog.Logger) *Service {
	return &Service{repo: repo, mirror: mirror, log: logger, now: time.Now}
}

// Start opens a call for the caller's login session. A second open call on
// the same login session is refused with ErrVoiceSessionOpen.
func (s *Service) Start(ctx context.Context, c Caller) (*models.VoiceSession, error) {
	vs := &models.VoiceSession{
		ID:        uuid.NewString(),
		SessionID: c.SessionID,
		UserID:    c.UserID,
		StartedAt: s.now(),
		IP:        common.Truncate(c.IP, 64),
		UserAgent: common.Truncate(c.UserAgent, 512),
	}

	err := s.repo.Tx(ctx, func(tx *Repo) error {
		if err := tx.LockAuthSession(ctx, c.SessionID); err != nil {
			return err
		}
		if _, err := tx.OpenVoiceSession(ctx, c.SessionID); err == nil {
			return ErrVoiceSessionOpen
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		return tx.CreateVoiceSession(ctx, vs)
	})
	if err != nil {
		return nil, err
	}

	metrics.VoiceSessionsStarted.Inc()
	metrics.OpenVoiceSessions.Inc()
	return vs, nil
}

// Stop closes a call with the client-observed duration. With a
// voiceSessionID only that row is closed, and only while it is open and
// belongs to the caller's login session. Without one the open call of the
// login session is closed. Anything else is a no-op returning (nil, nil).
func (s *Service) Stop(ctx context.Context, c Caller, voiceSessionID string, durationSec int) (*models.VoiceSession, error) {
	if durationSec < 0 {
		durationSec = 0
	}

	var closed *models.VoiceSession
	err := s.repo.Tx(ctx, func(tx *Repo) error {
		if err := tx.LockAuthSession(ctx, c.SessionID); err != nil {
			return err
		}
		var vs *models.VoiceSession
		var err error
		if voiceSessionID != "" {
			vs, err = tx.GetVoiceSession(ctx, voiceSessionID)
		} else {
			vs, err = tx.OpenVoiceSession(ctx, c.SessionID)
		}
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil
			}
			return err
		}
		if vs.UserID != c.UserID || vs.SessionID != c.SessionID || !vs.Open() {
			return nil
		}

		endedAt := s.now()
		n, err := tx.CloseVoiceSession(ctx, vs.ID, endedAt, durationSec)
		if err != nil {
			return err
		}
		if n == 0 {
			return nil
		}
		vs.EndedAt = &endedAt
		vs.DurationSec = &durationSec
		closed = vs
		return nil
	})
	if err != nil {
		return nil, err
	}

	if closed != nil {
		metrics.VoiceSessionsStopped.Inc()
		metrics.OpenVoiceSessions.Dec()
	}
	return closed, nil
}

// Append logs one line against the most recently started call of the
// caller's login session.
func (s *Service) Append(ctx context.Context, c Caller, role models.Role, text string) (*models.ConversationMessage, error) {
	role = models.Role(strings.ToUpper(strings.TrimSpace(string(role))))
	if !role.Valid() {
		return nil, ErrInvalidRole
	}
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyMessage
	}

	vs, err := s.repo.LatestVoiceSession(ctx, c.SessionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNoVoiceSession
		}
		return nil, err
	}
	if vs.UserID != c.UserID {
		return nil, ErrNoVoiceSession
	}

	msg := &models.ConversationMessage{
		VoiceSessionID: vs.ID,
		UserID:         c.UserID,
		Role:           role,
		Message:        text,
	}
	if err := s.repo.InsertMessage(ctx, msg); err != nil {
		return nil, err
	}
	metrics.ConversationMessages.WithLabelValues(string(role)).Inc()

	if s.mirror != nil {
		if err := s.mirror.Append(c.Email, c.SessionID, role, text); err != nil {
			s.log.Warn("transcript mirror append failed", "session_id", c.SessionID, "err", err)
		}
	}
	return msg, nil
}

// Transcript lists the messages of one of the caller's calls.
func (s *Service) Transcript(ctx context.Context, c Caller, voiceSessionID string, limit int, afterID uint64) ([]models.ConversationMessage, error) {
	if limit <= 0 || limit > 500 {
		limit = 200
	}
	vs, err := s.repo.GetVoiceSession(ctx, voiceSessionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNoVoiceSession
		}
		return nil, err
	}
	if vs.UserID != c.UserID {
		// hide existence
		return nil, ErrNoVoiceSession
	}
	return s.repo.ListMessages(ctx, vs.ID, limit, afterID)
}
