// README: Access log middleware writing one structured line per request.
package middleware

import (
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"

	"foodbridge/internal/log"
)

func Logging() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		attrs := []slog.Attr{
			slog.String("method", c.Request.Method),
			slog.String("path", c.FullPath()),
			slog.Int("status", c.Writer.Status()),
			slog.Duration("latency", time.Since(start)),
		}
		if uid := CallerUID(c); uid != "" {
			attrs = append(attrs, slog.String("caller", uid))
		}
		if len(c.Errors) > 0 {
			attrs = append(attrs, slog.String("errors", c.Errors.String()))
		}
		switch {
		case c.Writer.Status() >= 500:
			log.Error(c.Request.Context(), "request", attrs...)
		default:
			log.Info(c.Request.Context(), "request", attrs...)
		}
	}
}
