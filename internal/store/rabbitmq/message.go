package rabbitmq

import (
	"errors"
	"time"

	"github.com/suPer8Hu/voice-tutor/internal/models"
)

// AccessLogMessage is the wire form of one access log entry.
type AccessLogMessage struct {
	UserID    *uint64   `json:"user_id,omitempty"`
	Action    string    `json:"action"`
	IP        string    `json:"ip,omitempty"`
	UserAgent string    `json:"user_agent,omitempty"`
	At        time.Time `json:"at"`
}

func FromModel(l models.AccessLog) AccessLogMessage {
	return AccessLogMessage{
		UserID:    l.UserID,
		Action:    l.Action,
		IP:        l.IP,
		UserAgent: l.UserAgent,
		At:        l.CreatedAt,
	}
}

func (m AccessLogMessage) Validate() error {
	if m.Action == "" {
		return errors.New("access log: action required")
	}
	return nil
}

func (m AccessLogMessage) Model() models.AccessLog {
	return models.AccessLog{
		UserID:    m.UserID,
		Action:    m.Action,
		IP:        m.IP,
		UserAgent: m.UserAgent,
		CreatedAt: m.At,
	}
}
