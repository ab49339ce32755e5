package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/voice-tutor/internal/auth"
	"github.com/suPer8Hu/voice-tutor/internal/httpapi/middleware"
	"github.com/suPer8Hu/voice-tutor/internal/metrics"
)

type credentialsReq struct {
	Email    string `form:"email" json:"email"`
	Username string `form:"username" json:"username"`
	Password string `form:"password" json:"password"`
}

func (r credentialsReq) email() string {
	if r.Email != "" {
		return strings.TrimSpace(r.Email)
	}
	return strings.TrimSpace(r.Username)
}

func (h *Handler) Login(c *gin.Context) {
	var req credentialsReq
	if err := c.ShouldBind(&req); err != nil || req.email() == "" || req.Password == "" {
		metrics.LoginsTotal.WithLabelValues("invalid").Inc()
		c.String(http.StatusUnauthorized, "Invalid email or password")
		return
	}

	res, err := h.Auth.Login(c.Request.Context(), req.email(), req.Password, auth.ClientContext{
		IP:        c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
	})
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			metrics.LoginsTotal.WithLabelValues("invalid").Inc()
			c.String(http.StatusUnauthorized, "Invalid email or password")
			return
		}
		metrics.LoginsTotal.WithLabelValues("error").Inc()
		h.Log.Error("login failed", "err", err)
		c.String(http.StatusInternalServerError, "Internal server error")
		return
	}
	metrics.LoginsTotal.WithLabelValues("ok").Inc()

	if h.Attempts != nil {
		if err := h.Attempts.ResetLoginAttempts(c.Request.Context(), c.ClientIP()); err != nil {
			h.Log.Debug("reset login attempts", "err", err)
		}
	}

	h.setAuthCookie(c, res.Token, int(h.sessionTTL().Seconds()))
	c.Redirect(http.StatusFound, "/")
}

func (h *Handler) Logout(c *gin.Context) {
	if token, err := c.Cookie(middleware.AuthCookie); err == nil && token != "" {
		if err := h.Auth.Logout(c.Request.Context(), token); err != nil {
			h.Log.Warn("logout: revoke session", "err", err)
		}
	}
	h.setAuthCookie(c, "", -1)
	c.Redirect(http.StatusFound, "/login")
}

func (h *Handler) Register(c *gin.Context) {
	var req credentialsReq
	if err := c.ShouldBind(&req); err != nil || req.email() == "" || req.Password == "" {
		c.String(http.StatusBadRequest, "Email and password required")
		return
	}

	_, err := h.Auth.Register(c.Request.Context(), req.email(), req.Password)
	switch {
	case errors.Is(err, auth.ErrRegistrationClosed):
		c.String(http.StatusNotFound, "404 page not found")
	case errors.Is(err, auth.ErrEmailTaken):
		c.String(http.StatusConflict, "Email already registered")
	case err != nil:
		h.Log.Error("register failed", "err", err)
		c.String(http.StatusInternalServerError, "Internal server error")
	default:
		c.Redirect(http.StatusFound, "/login")
	}
}

func (h *Handler) Me(c *gin.Context) {
	id, _ := middleware.IdentityFrom(c)
	c.JSON(http.StatusOK, gin.H{
		"email":     id.Email,
		"sessionId": id.SessionID,
	})
}

func (h *Handler) setAuthCookie(c *gin.Context, value string, maxAge int) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(middleware.AuthCookie, value, maxAge, "/", "", h.Cfg.CookieSecure, true)
}

func (h *Handler) sessionTTL() time.Duration {
	if h.Cfg.SessionTTL > 0 {
		return h.Cfg.SessionTTL
	}
	return auth.DefaultSessionTTL
}
