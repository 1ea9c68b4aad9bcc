package middleware

import (
	"bytes"
	"io"
	"net/http"
	"regexp"
	"time"

	"bushu/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/tidwall/pretty"
)

const maxLoggedBody = 1000

// passwordField matches "password":"..." in compacted JSON
var passwordField = regexp.MustCompile(`"password":"(?:[^"\\]|\\.)*"`)

// Logger writes one line per request. Bodies of write requests are logged compacted with passwords masked.
func Logger() gin.HandlerFunc {
	return func(c *gin.Context) {
		startTime := time.Now()

		var bodyStr string
		if c.Request.Method == http.MethodPost || c.Request.Method == http.MethodPut {
			bodyStr = getRequestBody(c)
		}

		c.Next()

		// Skip logging for 404 requests
		statusCode := c.Writer.Status()
		if statusCode == http.StatusNotFound && c.FullPath() == "" {
			return
		}

		ctx := c.Request.Context()
		latency := time.Since(startTime)
		if bodyStr != "" {
			logger.InfoCtx(ctx, "[GIN] %3d | %13v | %15s | %s %s | body: %s",
				statusCode, latency, c.ClientIP(), c.Request.Method, c.Request.RequestURI, bodyStr)
			return
		}
		logger.InfoCtx(ctx, "[GIN] %3d | %13v | %15s | %s %s",
			statusCode, latency, c.ClientIP(), c.Request.Method, c.Request.RequestURI)
	}
}

// getRequestBody gets request body content
func getRequestBody(c *gin.Context) string {
	var bodyBytes []byte
	if c.Request.Body != nil {
		bodyBytes, _ = io.ReadAll(c.Request.Body)
		// Reset request body since reading it clears it
		c.Request.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))
	}
	return CompressBody(string(bodyBytes))
}

// CompressBody compacts JSON with pretty, masks passwords and caps the length
func CompressBody(body string) string {
	if len(body) == 0 {
		return ""
	}

	compressed := pretty.Ugly([]byte(body))
	masked := passwordField.ReplaceAll(compressed, []byte(`"password":"***"`))
	if len(masked) > maxLoggedBody {
		return string(masked[:maxLoggedBody]) + "..."
	}
	return string(masked)
}
