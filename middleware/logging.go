package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Asit-14/EchoSphere/utils"
)

// Logger logs each HTTP request with method, path, status and duration.
func Logger(logger *utils.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		logger.Info("request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start).String(),
			"client", c.ClientIP(),
		)
	}
}
