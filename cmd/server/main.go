package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/suPer8Hu/voice-tutor/internal/accesslog"
	"github.com/suPer8Hu/voice-tutor/internal/auth"
	"github.com/suPer8Hu/voice-tutor/internal/config"
	"github.com/suPer8Hu/voice-tutor/internal/conversation"
	"github.com/suPer8Hu/voice-tutor/internal/db"
	"github.com/suPer8Hu/voice-tutor/internal/httpapi"
	"github.com/suPer8Hu/voice-tutor/internal/httpapi/handlers"
	"github.com/suPer8Hu/voice-tutor/internal/logging"
	"github.com/suPer8Hu/voice-tutor/internal/logqueue"
	"github.com/suPer8Hu/voice-tutor/internal/models"
	"github.com/suPer8Hu/voice-tutor/internal/realtime"
	"github.com/suPer8Hu/voice-tutor/internal/store/rabbitmq"
	"github.com/suPer8Hu/voice-tutor/internal/store/redisstore"
	"github.com/suPer8Hu/voice-tutor/internal/transcript"
	"gorm.io/gorm"
)

func main() {
	cfg := config.Load()
	logger := logging.New(cfg.DebugLogging)

	if cfg.OpenAIAPIKey == "" {
		logger.Warn("OPENAI_API_KEY is not set, /token will fail")
	}

	gdb, err := db.Connect(cfg.DBDriver, cfg.DBDSN, cfg.DebugLogging)
	if err != nil {
		logger.Error("db connect", "err", err)
		os.Exit(1)
	}
	if err := db.Migrate(gdb); err != nil {
		logger.Error("db migrate", "err", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var rds *redisstore.Store
	if cfg.RedisAddr != "" {
		rds, err = redisstore.New(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			// the database alone is enough to serve
			logger.Warn("redis unavailable, continuing without cache", "addr", cfg.RedisAddr, "err", err)
			rds = nil
		} else {
			defer rds.Close()
		}
	}

	gwOpts := []auth.Option{
		auth.WithSessionTTL(cfg.SessionTTL),
		auth.WithRegistration(cfg.AllowRegister),
	}
	if rds != nil {
		gwOpts = append(gwOpts, auth.WithCache(rds))
	}
	gw := auth.NewGateway(gdb, logger, gwOpts...)

	if created, err := auth.NewUsers(gdb, nil).EnsureDemoUser(ctx); err != nil {
		logger.Error("seed demo user", "err", err)
		os.Exit(1)
	} else if created {
		logger.Info("demo user created", "email", auth.DemoEmail)
	}

	var mirror conversation.Mirror
	if cfg.TranscriptDir != "" {
		mirror = transcript.NewStore(cfg.TranscriptDir)
	}
	conv := conversation.NewService(conversation.NewRepo(gdb), mirror, logger)

	rt := realtime.NewClient(cfg.RealtimeBaseURL, cfg.OpenAIAPIKey, cfg.RealtimeModel, cfg.RealtimeVoice, cfg.TutorInstruction)
	if cfg.RealtimeTimeout > 0 {
		rt.Timeout = cfg.RealtimeTimeout
	}
	if cfg.RealtimeRetries >= 0 {
		rt.Retries = cfg.RealtimeRetries
	}

	h := handlers.NewHandler(gw, conv, rt, cfg, logger)
	deps := httpapi.Deps{}
	if rds != nil {
		h.Attempts = rds
		deps.Attempts = rds
	}

	done := make(chan struct{})
	if cfg.AccessLogging {
		sink, closeSink, err := accessLogSink(cfg, gdb, logger)
		if err != nil {
			logger.Error("access log sink", "sink", cfg.AccessLogSink, "err", err)
			os.Exit(1)
		}
		defer closeSink()
		q := logqueue.New("access_log", cfg.LogQueueSize, cfg.LogRetryInterval, sink, logger)
		deps.Access = accesslog.NewRecorder(q)
		go func() {
			defer close(done)
			q.Run(ctx)
		}()
	} else {
		close(done)
	}

	srv := &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.Port),
		Handler:           httpapi.NewRouter(h, deps),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", srv.Addr, "base_url", cfg.PublicBaseURL())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "err", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", "err", err)
	}
	// the queue does a last flush once ctx is done
	<-done
}

func accessLogSink(cfg config.Config, gdb *gorm.DB, logger *slog.Logger) (logqueue.Sink[models.AccessLog], func(), error) {
	switch cfg.AccessLogSink {
	case "", "db":
		return accesslog.DBSink(gdb), func() {}, nil
	case "rabbit", "rabbitmq":
		pub, err := rabbitmq.NewPublisher(cfg.RabbitURL, cfg.RabbitQueue)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("access logs go to rabbitmq", "queue", cfg.RabbitQueue)
		return pub.PublishAccessLog, func() { _ = pub.Close() }, nil
	default:
		return nil, nil, errors.New("unknown ACCESS_LOG_SINK " + strconv.Quote(cfg.AccessLogSink))
	}
}
