package rest

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/llll-robotics/llll/internal/types"
)

// LoggerMiddleware logs one line per request.
func LoggerMiddleware(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		}
		if c.Writer.Status() >= http.StatusInternalServerError {
			logger.Warn("HTTP request failed", fields...)
			return
		}
		logger.Debug("HTTP request", fields...)
	}
}

func CORSMiddleware() gin.HandlerFunc {
	return cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:    []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders:   []string{"Content-Length"},
		MaxAge:          12 * time.Hour,
	})
}

// statusFor maps an error kind onto an HTTP status.
func statusFor(kind types.ErrorKind) int {
	switch kind {
	case types.KindNotFound:
		return http.StatusNotFound
	case types.KindInvalidRequest:
		return http.StatusBadRequest
	case types.KindDeviceBusy, types.KindDiscoveryAmbiguous:
		return http.StatusConflict
	case types.KindConnection:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// abortWithError writes the standard error body for err.
func abortWithError(c *gin.Context, message string, err error) {
	kind := types.KindOf(err)
	c.AbortWithStatusJSON(statusFor(kind), types.NewErrorResponse(string(kind), message, err.Error()))
}
