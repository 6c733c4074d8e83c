package api

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// RequestLogger emits one structured log line per handled request.
func RequestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(requestContext *gin.Context) {
		start := time.Now()
		requestContext.Next()
		logger.Info("http",
			zap.String("method", requestContext.Request.Method),
			zap.String("path", requestContext.Request.URL.Path),
			zap.Int("status", requestContext.Writer.Status()),
			zap.Duration("dur", time.Since(start)),
			zap.String("ip", requestContext.ClientIP()),
			zap.String("ua", requestContext.Request.UserAgent()),
		)
	}
}
