package middleware

import (
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"hotelfiscal/pkg/logger"
)

// Logger middleware logs HTTP requests with timing and status.
// Successful health probes are logged at debug level. The request logger is
// stored on the context for logger.Info and friends.
func Logger(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Request = c.Request.WithContext(logger.WithLogger(c.Request.Context(), log))
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		status := c.Writer.Status()
		kv := []any{
			"method", c.Request.Method,
			"path", path,
			"query", query,
			"status", status,
			"latency_ms", time.Since(start).Milliseconds(),
			"client_ip", c.ClientIP(),
		}
		if errs := c.Errors.ByType(gin.ErrorTypePrivate).String(); errs != "" {
			kv = append(kv, "error", errs)
		}

		l := log.WithContext(c.Request.Context())
		switch {
		case status >= 500:
			l.Errorw("http request", kv...)
		case status < 400 && strings.HasPrefix(path, "/health"):
			l.Debugw("http request", kv...)
		default:
			l.Infow("http request", kv...)
		}
	}
}
