package middleware

import (
	"bushu/pkg/logger"

	"github.com/gin-gonic/gin"
)

// TraceHeader carries the request trace id in both directions
const TraceHeader = "X-Request-ID"

// Trace attaches a trace id to the request context, reusing the caller's when present
func Trace() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := logger.WithTraceID(c.Request.Context(), c.GetHeader(TraceHeader))
		c.Request = c.Request.WithContext(ctx)
		c.Header(TraceHeader, logger.TraceID(ctx))
		c.Next()
	}
}
