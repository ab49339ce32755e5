package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func (h *Handler) Config(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"baseUrl": h.Cfg.PublicBaseURL()})
}

// Ping is the backend latency probe target.
func (h *Handler) Ping(c *gin.Context) {
	c.String(http.StatusOK, "pong")
}
