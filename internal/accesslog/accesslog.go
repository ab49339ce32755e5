// Package accesslog records one row per HTTP request. Writes never block the
// request; they go through a bounded retry queue to the database or to
// RabbitMQ.
package accesslog

import (
	"context"
	"time"

	"github.com/suPer8Hu/voice-tutor/internal/common"
	"github.com/suPer8Hu/voice-tutor/internal/logqueue"
	"github.com/suPer8Hu/voice-tutor/internal/models"
	"gorm.io/gorm"
)

type Recorder struct {
	q   *logqueue.Queue[models.AccessLog]
	now func() time.Time
}

func NewRecorder(q *logqueue.Queue[models.AccessLog]) *Recorder {
	return &Recorder{q: q, now: time.Now}
}

func (r *Recorder) Record(userID *uint64, action, ip, userAgent string) {
	if r == nil || r.q == nil {
		return
	}
	r.q.Enqueue(models.AccessLog{
		UserID:    userID,
		Action:    common.Truncate(action, 512),
		IP:        common.Truncate(ip, 64),
		UserAgent: common.Truncate(userAgent, 512),
		CreatedAt: r.now(),
	})
}

// DBSink inserts entries directly.
func DBSink(gdb *gorm.DB) logqueue.Sink[models.AccessLog] {
	return func(ctx context.Context, l models.AccessLog) error {
		l.ID = 0
		return gdb.WithContext(ctx).Omit("User").Create(&l).Error
	}
}
