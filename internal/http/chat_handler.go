package http

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"curaj-bot/internal/domain"
	"curaj-bot/internal/service"
)

// ChatHandler expone las sesiones de chat sobre HTTP.
type ChatHandler struct {
	logger *zap.Logger
	chat   *service.ChatService
	tokens *service.JWTService
}

func NewChatHandler(logger *zap.Logger, chat *service.ChatService, tokens *service.JWTService) *ChatHandler {
	return &ChatHandler{
		logger: logger,
		chat:   chat,
		tokens: tokens,
	}
}

// CreateSession maneja POST /session.
func (h *ChatHandler) CreateSession(c *gin.Context) {
	session, history, err := h.chat.CreateSession(c.Request.Context())
	if err != nil {
		h.logger.Error("create session failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not create session"})
		return
	}

	resp := gin.H{"session": session, "messages": history}
	if h.tokens.Enabled() {
		token, err := h.tokens.IssueSessionToken(session)
		if err != nil {
			h.logger.Error("issue session token failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "could not create session"})
			return
		}
		resp["token"] = token
	}
	c.JSON(http.StatusCreated, resp)
}

// GetSession maneja GET /session/:id.
func (h *ChatHandler) GetSession(c *gin.Context) {
	id := c.Param("id")
	session, err := h.chat.Session(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, err, nil)
		return
	}
	history, err := h.chat.History(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, err, nil)
		return
	}

	state := h.chat.State(id)
	c.JSON(http.StatusOK, gin.H{
		"session":  session,
		"messages": history,
		"state":    state,
		"typing":   state == domain.SessionAwaiting,
	})
}

// EndSession maneja DELETE /session/:id.
func (h *ChatHandler) EndSession(c *gin.Context) {
	if err := h.chat.EndSession(c.Request.Context(), c.Param("id")); err != nil {
		h.writeError(c, err, nil)
		return
	}
	c.Status(http.StatusNoContent)
}

// PostMessage maneja POST /session/:id/messages.
func (h *ChatHandler) PostMessage(c *gin.Context) {
	var req struct {
		Text string `json:"text" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("invalid post message request", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	ex, err := h.chat.Send(c.Request.Context(), c.Param("id"), req.Text)
	if err != nil {
		var userMsg *domain.Message
		if ex.UserMessage.ID != "" {
			userMsg = &ex.UserMessage
		}
		h.writeError(c, err, userMsg)
		return
	}

	c.JSON(http.StatusCreated, ex)
}

func (h *ChatHandler) writeError(c *gin.Context, err error, userMsg *domain.Message) {
	status := http.StatusInternalServerError
	msg := "internal error"
	switch {
	case errors.Is(err, service.ErrMessageInvalidInput):
		status, msg = http.StatusBadRequest, "message text is empty"
	case errors.Is(err, service.ErrSessionNotFound):
		status, msg = http.StatusNotFound, "session not found"
	case errors.Is(err, service.ErrRateLimited):
		status, msg = http.StatusTooManyRequests, "too many messages, slow down"
	case errors.Is(err, service.ErrSessionClosed):
		status, msg = http.StatusGone, "session closed"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		status, msg = http.StatusGatewayTimeout, "reply still pending"
	default:
		h.logger.Error("chat request failed", zap.Error(err))
	}

	body := gin.H{"error": msg}
	if userMsg != nil {
		body["user_message"] = userMsg
	}
	c.JSON(status, body)
}
