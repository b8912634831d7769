package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/chat-gateway/internal/common"
	"github.com/suPer8Hu/chat-gateway/internal/logger"
)

const (
	RequestIDHeader = "X-Request-ID"
	RequestIDKey    = "request_id"
)

// RequestID propagates or assigns a request id and attaches a request-scoped
// logger to the request context.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if id == "" || len(id) > 128 {
			if gen, err := common.NewULID(); err == nil {
				id = gen
			}
		}
		c.Set(RequestIDKey, id)
		c.Header(RequestIDHeader, id)

		ctx := c.Request.Context()
		l := logger.FromContext(ctx).With("request_id", id)
		c.Request = c.Request.WithContext(logger.WithContext(ctx, l))
		c.Next()
	}
}
