package middleware

import (
	"net/http"

	"sentinal-relay/internal/auth"
	"sentinal-relay/internal/services"
	"sentinal-relay/internal/transport/httpdto"
	"sentinal-relay/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

func AuthMiddleware(verifier *auth.Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		identity, err := verifier.Authenticate(c.Request)
		if err != nil {
			c.JSON(http.StatusUnauthorized, httpdto.NewErrorResponse("unauthorized", "UNAUTHORIZED"))
			c.Abort()
			return
		}

		userID, err := uuid.Parse(identity.UserID)
		if err != nil {
			c.JSON(http.StatusUnauthorized, httpdto.NewErrorResponse("unauthorized", "UNAUTHORIZED"))
			c.Abort()
			return
		}

		ctx := services.WithUserContext(c.Request.Context(), userID, identity.Username)
		ctx = logger.WithUserID(ctx, userID.String())
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
