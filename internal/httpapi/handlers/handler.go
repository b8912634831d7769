package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/chat-gateway/internal/conversation"
	"github.com/suPer8Hu/chat-gateway/internal/logger"
)

const (
	CodeProviderUnavailable = "PROVIDER_UNAVAILABLE"
	CodeNotFound            = "NOT_FOUND"
	CodeMethodNotAllowed    = "METHOD_NOT_ALLOWED"

	internalErrorMessage = "Internal server error occurred"
)

func fail(c *gin.Context, status int, code, msg string) {
	c.JSON(status, gin.H{
		"message": msg,
		"code":    code,
	})
}

// Fail writes the gateway's error body.
func Fail(c *gin.Context, status int, code, msg string) {
	fail(c, status, code, msg)
}

// Health reports whether the conversation backends answer their ping.
type Health struct {
	pingers []conversation.Pinger
	timeout time.Duration
}

func NewHealth(pingers ...conversation.Pinger) *Health {
	return &Health{pingers: pingers, timeout: 2 * time.Second}
}

func (h *Health) Check(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()

	for _, p := range h.pingers {
		if err := p.Ping(ctx); err != nil {
			logger.FromContext(ctx).Error("store ping failed", "error", err)
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":    "unhealthy",
				"timestamp": time.Now().UTC(),
			})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
	})
}

// Unavailable serves a provider group whose provider could not be built.
type Unavailable struct {
	provider string
	label    string
}

func NewUnavailable(provider, label string) *Unavailable {
	return &Unavailable{provider: provider, label: label}
}

func (u *Unavailable) SendMessage(c *gin.Context) {
	fail(c, http.StatusServiceUnavailable, CodeProviderUnavailable, u.provider+" provider is not configured")
}

func (u *Unavailable) Health(c *gin.Context) {
	body := gin.H{
		"status":    "unhealthy",
		"timestamp": time.Now().UTC(),
	}
	if u.label != "" {
		body["service"] = u.label
	}
	c.JSON(http.StatusServiceUnavailable, body)
}

