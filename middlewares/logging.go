package middlewares

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"matrimony-chat/metrics"
)

// Logging logs every request and records its latency.
func Logging(logger zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()
		endpoint := c.FullPath()
		if endpoint == "" {
			endpoint = "unmatched"
		}
		metrics.RecordViewRequest(c.Request.Method, endpoint, strconv.Itoa(status), latency.Seconds())

		logEvent := logger.Debug()
		if status >= 500 {
			logEvent = logger.Error()
		} else if status >= 400 {
			logEvent = logger.Warn()
		}
		logEvent.
			Str("request_id", RequestIDFromContext(c)).
			Str("method", c.Request.Method).
			Str("path", path).
			Int("status", status).
			Dur("latency", latency).
			Msg(c.Errors.ByType(gin.ErrorTypePrivate).String())
	}
}
