package handlers

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/voice-tutor/internal/auth"
	"github.com/suPer8Hu/voice-tutor/internal/config"
	"github.com/suPer8Hu/voice-tutor/internal/conversation"
	"github.com/suPer8Hu/voice-tutor/internal/httpapi/middleware"
)

// Bridge is the upstream realtime API as the handlers see it.
type Bridge interface {
	EphemeralCredential(ctx context.Context) (json.RawMessage, error)
	Negotiate(ctx context.Context, ephemeralKey, offerSDP string) (string, error)
}

// AttemptResetter clears the login rate limit counter of a client.
type AttemptResetter interface {
	ResetLoginAttempts(ctx context.Context, ip string) error
}

type Handler struct {
	Auth     *auth.Gateway
	Conv     *conversation.Service
	Bridge   Bridge
	Attempts AttemptResetter
	Cfg      config.Config
	Log      *slog.Logger
}

func NewHandler(gw *auth.Gateway, conv *conversation.Service, bridge Bridge, cfg config.Config, logger *slog.Logger) *Handler {
	return &Handler{Auth: gw, Conv: conv, Bridge: bridge, Cfg: cfg, Log: logger}
}

// caller is only valid behind RequireAuth.
func caller(c *gin.Context) conversation.Caller {
	id, _ := middleware.IdentityFrom(c)
	if id == nil {
		return conversation.Caller{IP: c.ClientIP(), UserAgent: c.Request.UserAgent()}
	}
	return conversation.Caller{
		UserID:    id.UserID,
		Email:     id.Email,
		SessionID: id.SessionID,
		IP:        c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
	}
}
