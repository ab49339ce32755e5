// Package logqueue delivers fire-and-forget log writes. Callers never block
// and never see a failure; undelivered entries are retried on a fixed
// interval. The buffer is bounded: when full, the oldest entry is dropped.
// An entry that keeps failing is dropped after MaxAttempts deliveries so it
// cannot hold back the entries behind it.
package logqueue

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/suPer8Hu/voice-tutor/internal/metrics"
)

type Sink[T any] func(ctx context.Context, item T) error

// DefaultMaxAttempts is the delivery budget of one entry.
const DefaultMaxAttempts = 10

type entry[T any] struct {
	seq      uint64
	attempts int
	item     T
}

type Queue[T any] struct {
	name     string
	sink     Sink[T]
	capacity int
	interval time.Duration
	timeout  time.Duration
	log      *slog.Logger

	// MaxAttempts caps deliveries per entry; <= 0 retries forever.
	MaxAttempts int

	mu      sync.Mutex
	pending []entry[T]
	seq     uint64
	dropped int64

	flushMu sync.Mutex
	wake    chan struct{}
}

func New[T any](name string, capacity int, interval time.Duration, sink Sink[T], logger *slog.Logger) *Queue[T] {
	if capacity <= 0 {
		capacity = 1024
	}
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Queue[T]{
		name:     name,
		sink:     sink,
		capacity: capacity,
		interval: interval,
		timeout:  5 * time.Second,
		log:      logger,
		wake:     make(chan struct{}, 1),

		MaxAttempts: DefaultMaxAttempts,
	}
}

// Enqueue buffers item for delivery. It reports false when an older entry
// had to be dropped to make room.
func (q *Queue[T]) Enqueue(item T) bool {
	q.mu.Lock()
	kept := true
	if len(q.pending) >= q.capacity {
		q.pending = q.pending[1:]
		q.dropped++
		kept = false
	}
	q.seq++
	q.pending = append(q.pending, entry[T]{seq: q.seq, item: item})
	depth := len(q.pending)
	q.mu.Unlock()

	if !kept {
		metrics.LogQueueDropped.WithLabelValues(q.name).Inc()
		q.log.Warn("log queue full, dropped oldest entry", "queue", q.name)
	}
	metrics.LogQueueDepth.WithLabelValues(q.name).Set(float64(depth))

	select {
	case q.wake <- struct{}{}:
	default:
	}
	return kept
}

func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Pending returns a copy of the undelivered items, oldest first.
func (q *Queue[T]) Pending() []T {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]T, 0, len(q.pending))
	for _, e := range q.pending {
		out = append(out, e.item)
	}
	return out
}

func (q *Queue[T]) Dropped() int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

// Flush delivers pending entries in order and stops at the first failure so
// ordering survives retries. A head entry that used up its attempts is
// dropped and delivery moves on. It returns the number delivered.
func (q *Queue[T]) Flush(ctx context.Context) int {
	q.flushMu.Lock()
	defer q.flushMu.Unlock()

	sent := 0
	for {
		q.mu.Lock()
		if len(q.pending) == 0 {
			q.mu.Unlock()
			break
		}
		head := q.pending[0]
		q.mu.Unlock()

		cctx, cancel := context.WithTimeout(ctx, q.timeout)
		err := q.sink(cctx, head.item)
		cancel()
		if err != nil {
			if !q.giveUp(head.seq, err) {
				q.log.Warn("log delivery failed, will retry", "queue", q.name, "err", err)
				break
			}
			continue
		}

		q.mu.Lock()
		// Enqueue may have dropped the head while the sink ran
		if len(q.pending) > 0 && q.pending[0].seq == head.seq {
			q.pending = q.pending[1:]
		}
		q.mu.Unlock()
		sent++
	}
	metrics.LogQueueDepth.WithLabelValues(q.name).Set(float64(q.Len()))
	return sent
}

// giveUp counts a failed delivery of the head entry seq and drops it once
// its attempts are used up. It reports whether the entry was dropped.
func (q *Queue[T]) giveUp(seq uint64, err error) bool {
	q.mu.Lock()
	if len(q.pending) == 0 || q.pending[0].seq != seq {
		// already evicted by Enqueue
		q.mu.Unlock()
		return true
	}
	q.pending[0].attempts++
	attempts := q.pending[0].attempts
	if q.MaxAttempts <= 0 || attempts < q.MaxAttempts {
		q.mu.Unlock()
		return false
	}
	q.pending = q.pending[1:]
	q.dropped++
	q.mu.Unlock()

	metrics.LogQueueDropped.WithLabelValues(q.name).Inc()
	q.log.Error("log delivery gave up, dropping entry", "queue", q.name, "attempts", attempts, "err", err)
	return true
}

// Run delivers on every Enqueue and retries on the fixed interval until ctx
// is done, then makes one last delivery attempt.
func (q *Queue[T]) Run(ctx context.Context) {
	ticker := time.NewTicker(q.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			final, cancel := context.WithTimeout(context.Background(), q.timeout)
			q.Flush(final)
			cancel()
			if n := q.Len(); n > 0 {
				q.log.Warn("log queue stopped with undelivered entries", "queue", q.name, "pending", n)
			}
			return
		case <-q.wake:
			q.Flush(ctx)
		case <-ticker.C:
			q.Flush(ctx)
		}
	}
}
