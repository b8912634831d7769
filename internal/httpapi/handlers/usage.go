package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/chat-gateway/internal/chat"
	"github.com/suPer8Hu/chat-gateway/internal/logger"
	"github.com/suPer8Hu/chat-gateway/internal/usage"
)

type Usage struct {
	repo *usage.Repo
}

func NewUsage(repo *usage.Repo) *Usage {
	return &Usage{repo: repo}
}

// Totals reports the tokens recorded for one provider.
func (h *Usage) Totals(c *gin.Context) {
	provider := strings.TrimSpace(c.Param("provider"))
	if provider == "" {
		fail(c, http.StatusBadRequest, chat.CodeInvalidRequest, "provider is required")
		return
	}

	total, err := h.repo.TotalTokens(c.Request.Context(), provider)
	if err != nil {
		logger.FromContext(c.Request.Context()).Error("usage totals failed", "provider", provider, "error", err)
		fail(c, http.StatusInternalServerError, chat.CodeInternal, internalErrorMessage)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"provider":   provider,
		"tokensUsed": total,
	})
}
