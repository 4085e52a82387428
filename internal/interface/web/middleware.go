package web

import (
	"net/http"
	"time"

	"github.com/ArkLabsHQ/lnswap/internal/interface/web/types"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

// LoggerMiddleware logs every request once it has been handled, together
// with the errors attached to the gin context.
func LoggerMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		entry := log.WithFields(log.Fields{
			"method":  c.Request.Method,
			"path":    c.FullPath(),
			"status":  c.Writer.Status(),
			"latency": time.Since(start).String(),
			"ip":      c.ClientIP(),
		})
		if len(c.Errors) > 0 {
			entry.WithError(c.Errors.Last().Err).Warn("request failed")
			return
		}
		entry.Debug("request handled")
	}
}

// RecoveryMiddleware turns panics into 500 responses and logs them.
func RecoveryMiddleware() gin.HandlerFunc {
	return gin.CustomRecoveryWithWriter(nil, func(c *gin.Context, recovered any) {
		log.WithField("path", c.Request.URL.Path).Errorf("panic recovered: %v", recovered)
		c.AbortWithStatusJSON(http.StatusInternalServerError, types.Error{Error: "internal error"})
	})
}
