package middleware

import (
	"strings"

	"sentinal-relay/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const HeaderRequestID = "X-Request-Id"

// maxRequestIDLen bounds ids accepted from upstream proxies.
const maxRequestIDLen = 64

// RequestIDMiddleware keeps a well-formed upstream X-Request-Id and mints one
// otherwise. The id is echoed on the response and stored on the request context.
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(HeaderRequestID)
		if !validRequestID(id) {
			id = newRequestID()
		}
		c.Header(HeaderRequestID, id)
		c.Request = c.Request.WithContext(logger.WithRequestID(c.Request.Context(), id))
		c.Next()
	}
}

func validRequestID(id string) bool {
	if id == "" || len(id) > maxRequestIDLen {
		return false
	}
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '-' || r == '_' || r == '.':
		default:
			return false
		}
	}
	return true
}

func newRequestID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}
