package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/chat-gateway/internal/chat"
	"github.com/suPer8Hu/chat-gateway/internal/logger"
)

// Chat serves one provider's message, health and diagnostic routes.
type Chat struct {
	svc   *chat.Service
	label string
}

// NewChat binds a handler to svc. label, when set, is reported as "service"
// by the health route.
func NewChat(svc *chat.Service, label string) *Chat {
	return &Chat{svc: svc, label: label}
}

func (h *Chat) SendMessage(c *gin.Context) {
	req, ok := bindChatRequest(c)
	if !ok {
		return
	}

	resp, err := h.svc.SendMessage(c.Request.Context(), req)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Chat) Health(c *gin.Context) {
	healthy := h.svc.IsHealthy(c.Request.Context())

	status, text := http.StatusOK, "healthy"
	if !healthy {
		status, text = http.StatusServiceUnavailable, "unhealthy"
	}
	body := gin.H{
		"status":    text,
		"timestamp": time.Now().UTC(),
	}
	if h.label != "" {
		body["service"] = h.label
	}
	c.JSON(status, body)
}

func (h *Chat) TestMessage(c *gin.Context) {
	req, ok := bindChatRequest(c)
	if !ok {
		return
	}

	resp, err := h.svc.TestMessage(c.Request.Context(), req)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// bindChatRequest rejects malformed bodies and blank messages before the
// service is reached.
func bindChatRequest(c *gin.Context) (chat.ChatRequest, bool) {
	var req chat.ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.FromContext(c.Request.Context()).Warn("invalid request body", "error", err)
		fail(c, http.StatusBadRequest, chat.CodeInvalidRequest, "Invalid request body")
		return req, false
	}
	if strings.TrimSpace(req.Message) == "" {
		fail(c, http.StatusBadRequest, chat.CodeInvalidMessage, "Message cannot be empty")
		return req, false
	}
	return req, true
}

func (h *Chat) writeError(c *gin.Context, err error) {
	log := logger.FromContext(c.Request.Context()).With("provider", h.svc.Provider())

	var reqErr *chat.RequestError
	if errors.As(err, &reqErr) {
		log.Warn("request rejected", "code", reqErr.Code, "error", err)
		fail(c, http.StatusBadRequest, reqErr.Code, reqErr.Message)
		return
	}

	log.Error("chat request failed", "error", err)
	fail(c, http.StatusInternalServerError, chat.CodeInternal, internalErrorMessage)
}
