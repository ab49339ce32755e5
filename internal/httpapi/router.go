package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/suPer8Hu/voice-tutor/internal/common"
	"github.com/suPer8Hu/voice-tutor/internal/httpapi/handlers"
	"github.com/suPer8Hu/voice-tutor/internal/httpapi/middleware"
)

// loginWindow is the span LOGIN_RATE_LIMIT attempts are counted over.
const loginWindow = time.Minute

// Deps are the optional pieces of the router. Leave an interface nil to
// switch the feature off.
type Deps struct {
	Access   middleware.AccessRecorder
	Attempts middleware.AttemptCounter
}

func NewRouter(h *handlers.Handler, deps Deps) *gin.Engine {
	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(middleware.Recovery(h.Log))
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger(h.Log))
	r.Use(middleware.Metrics())
	r.Use(middleware.LoadIdentity(h.Auth))
	if deps.Access != nil {
		r.Use(middleware.AccessLog(deps.Access))
	}

	r.NoRoute(h.Fallback)
	r.NoMethod(func(c *gin.Context) {
		common.Fail(c, http.StatusMethodNotAllowed, 40500, "method not allowed")
	})

	r.GET("/ping", h.Ping)
	r.GET("/config", h.Config)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// auth
	r.GET("/login", h.LoginPage)
	r.POST("/login", middleware.LoginRateLimit(deps.Attempts, h.Cfg.LoginRateLimit, loginWindow, h.Log), h.Login)
	r.GET("/register", h.RegisterPage)
	r.POST("/register", h.Register)
	r.GET("/logout", h.Logout)
	r.POST("/logout", h.Logout)

	// browser-facing, anonymous users go to /login
	page := r.Group("/")
	page.Use(middleware.RequireAuth())
	page.GET("/token", h.Token)
	page.POST("/realtime/negotiate", h.Negotiate)
	page.POST("/log-voice-session", h.LogVoiceSession)
	page.POST("/conversation/log", h.LogConversation)
	page.GET("/conversation/:voice_session_id", h.Transcript)

	api := r.Group("/api")
	api.Use(middleware.RequireAuthJSON())
	api.GET("/me", h.Me)

	return r
}
