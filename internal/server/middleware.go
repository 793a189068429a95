package server

import (
	"crypto/subtle"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/tuannvm/zendesk-forum-sync/internal/common"
	"github.com/tuannvm/zendesk-forum-sync/internal/logging"
)

// RequestIDHeader carries the id logged with each request.
const RequestIDHeader = "X-Request-ID"

// APIKeyHeader authenticates staff endpoints.
const APIKeyHeader = "X-API-Key"

// requestLogger logs one line per request. Query strings are left out since
// webhook tokens travel there.
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		id := c.GetHeader(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Header(RequestIDHeader, id)

		c.Next()

		logging.Infow("request",
			"request_id", id,
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start).String())
	}
}

func recovery() gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		logging.Errorw("panic recovered",
			"path", c.Request.URL.Path,
			"method", c.Request.Method,
			"error", recovered)
		common.AbortWithError(c, fmt.Errorf("panic: %v", recovered))
	})
}

// apiKeyAuth rejects requests whose X-API-Key header does not match key. An
// empty key rejects everything.
func apiKeyAuth(key string) gin.HandlerFunc {
	return func(c *gin.Context) {
		got := c.GetHeader(APIKeyHeader)
		if key == "" || got == "" || subtle.ConstantTimeCompare([]byte(got), []byte(key)) != 1 {
			logging.Warnw("authentication failed", "path", c.Request.URL.Path)
			common.ReturnJSONError(c.Writer, http.StatusUnauthorized, "Unauthorized: missing or invalid API key")
			c.Abort()
			return
		}
		c.Next()
	}
}
