package middleware

import (
	"sentinal-relay/internal/services"
	"sentinal-relay/internal/transport/httpdto"
	"sentinal-relay/pkg/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// ErrorHandler renders the last error attached with c.Error. Handlers return
// wrapped sentinel errors and this maps them to a status and code.
func ErrorHandler(l *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}

		err := c.Errors.Last().Err
		status := services.HTTPStatus(err)
		if l != nil {
			log := l.WithContext(c.Request.Context())
			if status >= 500 {
				log.Error("request failed", zap.String("path", c.Request.URL.Path), zap.Error(err))
			} else {
				log.Debug("request rejected", zap.String("path", c.Request.URL.Path), zap.Int("status", status), zap.Error(err))
			}
		}
		msg := err.Error()
		if status >= 500 {
			msg = "internal error"
		}
		resp := httpdto.NewErrorResponse(msg, services.ErrorCode(err))
		c.JSON(status, resp.WithRequestID(logger.RequestIDFrom(c.Request.Context())))
	}
}
