package http

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"curaj-bot/internal/domain"
	"curaj-bot/internal/service"
)

// QueryHandler sirve el contrato del backend de consultas sin sesión.
type QueryHandler struct {
	logger   *zap.Logger
	resolver service.Responder
}

func NewQueryHandler(logger *zap.Logger, resolver service.Responder) *QueryHandler {
	return &QueryHandler{logger: logger, resolver: resolver}
}

// Query maneja POST /api/query.
func (h *QueryHandler) Query(c *gin.Context) {
	if h.resolver == nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Query engine is not initialized."})
		return
	}

	var req struct {
		Prompt string `json:"prompt"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: body must be JSON"})
		return
	}
	if strings.TrimSpace(req.Prompt) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: 'prompt' field is missing or empty"})
		return
	}

	reply, err := h.resolver.Resolve(c.Request.Context(), req.Prompt)
	if err != nil {
		h.logger.Warn("query not resolved", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Query was cancelled before an answer was ready."})
		return
	}

	sources := reply.Sources
	if sources == nil {
		sources = []domain.Source{}
	}
	c.JSON(http.StatusOK, gin.H{
		"response": strings.TrimSpace(reply.Text),
		"sources":  sources,
	})
}
