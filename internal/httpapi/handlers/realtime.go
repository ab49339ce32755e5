package handlers

import (
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/voice-tutor/internal/metrics"
)

const maxOfferBytes = 64 * 1024

// Token proxies the upstream ephemeral credential JSON unchanged.
func (h *Handler) Token(c *gin.Context) {
	raw, err := h.Bridge.EphemeralCredential(c.Request.Context())
	if err != nil {
		metrics.UpstreamErrors.WithLabelValues("session").Inc()
		h.Log.Error("token generation failed", "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate token"})
		return
	}
	c.Data(http.StatusOK, "application/json", raw)
}

// Negotiate forwards one SDP offer. The ephemeral key comes as a bearer
// token; the credential never touches storage.
func (h *Handler) Negotiate(c *gin.Context) {
	key := strings.TrimSpace(strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer "))
	if key == "" {
		key = strings.TrimSpace(c.GetHeader("X-Ephemeral-Key"))
	}
	offer, err := io.ReadAll(io.LimitReader(c.Request.Body, maxOfferBytes+1))
	if err != nil || len(offer) > maxOfferBytes {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid offer"})
		return
	}
	if key == "" || strings.TrimSpace(string(offer)) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "ephemeral key and offer required"})
		return
	}

	answer, err := h.Bridge.Negotiate(c.Request.Context(), key, string(offer))
	if err != nil {
		metrics.UpstreamErrors.WithLabelValues("negotiate").Inc()
		h.Log.Error("sdp negotiation failed", "err", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "Failed to negotiate session"})
		return
	}
	c.Data(http.StatusOK, "application/sdp", []byte(answer))
}
