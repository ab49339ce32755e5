package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strconv"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const attemptHeader = "x-attempt"

// Handler persists one decoded message.
type Handler func(ctx context.Context, m AccessLogMessage) error

type Consumer struct {
	conn  *amqp.Connection
	ch    *amqp.Channel
	queue string
	log   *slog.Logger

	MaxAttempts int
	RetryDelay  time.Duration

	// retry republishes d to the retry queue; swapped in tests.
	retry func(ctx context.Context, d amqp.Delivery, attempt int) error
}

func NewConsumer(url, queue string, logger *slog.Logger) (*Consumer, error) {
	conn, ch, err := dial(url, queue)
	if err != nil {
		return nil, err
	}
	c := &Consumer{
		conn:        conn,
		ch:          ch,
		queue:       queue,
		log:         logger,
		MaxAttempts: 3,
		RetryDelay:  5 * time.Second,
	}
	c.retry = c.publishRetry
	return c, nil
}

func (c *Consumer) Close() error {
	if c.ch != nil {
		_ = c.ch.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// Run consumes with a fixed pool of workers until ctx is done. Prefetch
// equals concurrency, so at most that many deliveries are in flight.
func (c *Consumer) Run(ctx context.Context, concurrency int, h Handler) error {
	if concurrency <= 0 {
		concurrency = 1
	}
	if err := c.ch.Qos(concurrency, 0, false); err != nil {
		return err
	}
	msgs, err := c.ch.Consume(c.queue, "", false, false, false, false, nil)
	if err != nil {
		return err
	}

	c.log.Info("worker started", "queue", c.queue, "concurrency", concurrency)

	jobs := make(chan amqp.Delivery, concurrency*2)
	var wg sync.WaitGroup
	wg.Add(concurrency)
	for i := 0; i < concurrency; i++ {
		go func(workerID int) {
			defer wg.Done()
			for d := range jobs {
				c.process(ctx, workerID, d, h)
			}
		}(i)
	}

	defer func() {
		close(jobs)
		wg.Wait()
	}()

	// dispatcher
	for {
		select {
		case <-ctx.Done():
			c.log.Info("worker shutting down")
			return nil
		case d, ok := <-msgs:
			if !ok {
				return errors.New("delivery channel closed")
			}
			jobs <- d
		}
	}
}

func (c *Consumer) process(ctx context.Context, workerID int, d amqp.Delivery, h Handler) {
	var m AccessLogMessage
	if err := json.Unmarshal(d.Body, &m); err != nil || m.Validate() != nil {
		c.log.Warn("bad message", "worker", workerID, "err", err)
		_ = d.Nack(false, false)
		return
	}

	start := time.Now()
	err := h(ctx, m)
	if err == nil {
		if err := d.Ack(false); err != nil {
			c.log.Warn("ack failed", "worker", workerID, "err", err)
		}
		return
	}

	attempt := attemptOf(d) + 1
	c.log.Warn("access log insert failed", "worker", workerID, "attempt", attempt, "cost", time.Since(start), "err", err)
	if attempt >= c.MaxAttempts {
		_ = d.Nack(false, false)
		return
	}
	if rerr := c.retry(ctx, d, attempt); rerr != nil {
		c.log.Warn("retry publish failed", "worker", workerID, "err", rerr)
		_ = d.Nack(false, true)
		return
	}
	_ = d.Ack(false)
}

func (c *Consumer) publishRetry(ctx context.Context, d amqp.Delivery, attempt int) error {
	cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return c.ch.PublishWithContext(cctx, "", retryQueue(c.queue), false, false, amqp.Publishing{
		ContentType:  d.ContentType,
		DeliveryMode: amqp.Persistent,
		Body:         d.Body,
		Timestamp:    time.Now(),
		Expiration:   strconv.FormatInt(c.RetryDelay.Milliseconds(), 10),
		Headers:      amqp.Table{attemptHeader: int32(attempt)},
	})
}

func attemptOf(d amqp.Delivery) int {
	switch v := d.Headers[attemptHeader].(type) {
	case int32:
		return int(v)
	case int64:
		return int(v)
	case int:
		return v
	}
	return 0
}
