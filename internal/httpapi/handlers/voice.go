package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/voice-tutor/internal/common"
	"github.com/suPer8Hu/voice-tutor/internal/conversation"
	"github.com/suPer8Hu/voice-tutor/internal/models"
)

type voiceSessionReq struct {
	Action         string `json:"action"`
	VoiceSessionID string `json:"voice_session_id"`
	Duration       int    `json:"duration"`
	Reason         string `json:"reason"`
}

func (h *Handler) LogVoiceSession(c *gin.Context) {
	var req voiceSessionReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	who := caller(c)

	switch strings.ToLower(req.Action) {
	case "start":
		vs, err := h.Conv.Start(c.Request.Context(), who)
		if err != nil {
			if errors.Is(err, conversation.ErrVoiceSessionOpen) {
				common.Fail(c, http.StatusConflict, 40901, "a voice session is already open")
				return
			}
			h.Log.Error("start voice session", "session_id", who.SessionID, "err", err)
			common.Fail(c, http.StatusInternalServerError, 50001, "failed to start voice session")
			return
		}
		common.OK(c, gin.H{"voice_session_id": vs.ID, "started_at": vs.StartedAt})

	case "stop":
		vs, err := h.Conv.Stop(c.Request.Context(), who, req.VoiceSessionID, req.Duration)
		if err != nil {
			h.Log.Error("stop voice session", "session_id", who.SessionID, "err", err)
			common.Fail(c, http.StatusInternalServerError, 50002, "failed to stop voice session")
			return
		}
		if vs == nil {
			common.OK(c, gin.H{"voice_session_id": nil})
			return
		}
		h.Log.Info("voice session stopped", "voice_session_id", vs.ID, "duration", req.Duration, "reason", req.Reason)
		common.OK(c, gin.H{"voice_session_id": vs.ID, "duration_sec": *vs.DurationSec})

	default:
		common.Fail(c, http.StatusBadRequest, 10002, "action must be start or stop")
	}
}

type conversationLogReq struct {
	Role string `json:"role"`
	Text string `json:"text"`
}

func (h *Handler) LogConversation(c *gin.Context) {
	var req conversationLogReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}

	msg, err := h.Conv.Append(c.Request.Context(), caller(c), models.Role(req.Role), req.Text)
	if err != nil {
		switch {
		case errors.Is(err, conversation.ErrNoVoiceSession):
			common.Fail(c, http.StatusNotFound, 40401, "no voice session")
		case errors.Is(err, conversation.ErrInvalidRole):
			common.Fail(c, http.StatusBadRequest, 10003, "role must be SYSTEM, USER or INFO")
		case errors.Is(err, conversation.ErrEmptyMessage):
			common.Fail(c, http.StatusBadRequest, 10004, "text required")
		default:
			// a lost log line must not break the call; report and move on
			h.Log.Error("append conversation message", "err", err)
			common.Fail(c, http.StatusInternalServerError, 50003, "failed to log message")
		}
		return
	}
	common.OK(c, gin.H{"id": msg.ID, "voice_session_id": msg.VoiceSessionID})
}

func (h *Handler) Transcript(c *gin.Context) {
	vsID := c.Param("voice_session_id")
	limit, _ := strconv.Atoi(c.Query("limit"))
	var afterID uint64
	if s := c.Query("after_id"); s != "" {
		if n, err := strconv.ParseUint(s, 10, 64); err == nil {
			afterID = n
		}
	}

	msgs, err := h.Conv.Transcript(c.Request.Context(), caller(c), vsID, limit, afterID)
	if err != nil {
		if errors.Is(err, conversation.ErrNoVoiceSession) {
			common.Fail(c, http.StatusNotFound, 40401, "voice session not found")
			return
		}
		h.Log.Error("list transcript", "voice_session_id", vsID, "err", err)
		common.Fail(c, http.StatusInternalServerError, 50004, "failed to list messages")
		return
	}

	out := make([]gin.H, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, gin.H{
			"id":         m.ID,
			"role":       m.Role,
			"message":    m.Message,
			"created_at": m.CreatedAt,
		})
	}
	common.OK(c, gin.H{"voice_session_id": vsID, "messages": out})
}
