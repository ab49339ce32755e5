package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/suPer8Hu/voice-tutor/internal/accesslog"
	"github.com/suPer8Hu/voice-tutor/internal/config"
	"github.com/suPer8Hu/voice-tutor/internal/db"
	"github.com/suPer8Hu/voice-tutor/internal/logging"
	"github.com/suPer8Hu/voice-tutor/internal/store/rabbitmq"
)

// worker drains the access log queue into the database.
func main() {
	cfg := config.Load()
	logger := logging.New(cfg.DebugLogging)

	gdb, err := db.Connect(cfg.DBDriver, cfg.DBDSN, cfg.DebugLogging)
	if err != nil {
		logger.Error("db connect", "err", err)
		os.Exit(1)
	}
	if err := db.Migrate(gdb); err != nil {
		logger.Error("db migrate", "err", err)
		os.Exit(1)
	}

	consumer, err := rabbitmq.NewConsumer(cfg.RabbitURL, cfg.RabbitQueue, logger)
	if err != nil {
		logger.Error("rabbit dial", "err", err)
		os.Exit(1)
	}
	defer consumer.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	insert := accesslog.DBSink(gdb)
	err = consumer.Run(ctx, cfg.WorkerConcurrency, func(ctx context.Context, m rabbitmq.AccessLogMessage) error {
		return insert(ctx, m.Model())
	})
	if err != nil {
		logger.Error("worker stopped", "err", err)
		os.Exit(1)
	}
}
