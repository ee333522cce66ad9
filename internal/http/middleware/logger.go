package middleware

import (
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"

	"buddypark.app/relay/common/logger"
	"buddypark.app/relay/internal/http/dto"
)

// Logger logs one line per request. Relay headers are attached to the request
// context so handler and service logs carry them as well.
func Logger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		fields := logger.LogFields{Component: "relay.http"}
		if v := c.GetHeader(dto.HeaderConversationID); v != "" {
			fields.ConversationID = &v
		}
		if v := c.GetHeader(dto.HeaderRequestType); v != "" {
			fields.RequestType = &v
		}
		c.Request = c.Request.WithContext(logger.WithLogFields(c.Request.Context(), fields))

		c.Next()

		status := c.Writer.Status()
		ctx := c.Request.Context()

		attrs := []any{
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", status,
			"latency_ms", time.Since(start).Milliseconds(),
			"client_ip", c.ClientIP(),
		}

		if len(c.Errors) > 0 {
			attrs = append(attrs, "errors", c.Errors.String())
		}

		switch {
		case status >= 500:
			slog.ErrorContext(ctx, "request failed", attrs...)
		case status >= 400:
			slog.WarnContext(ctx, "request error", attrs...)
		default:
			slog.InfoContext(ctx, "request", attrs...)
		}
	}
}
