package services

import (
	"context"
	"errors"

	sentinal_errors "sentinal-relay/pkg/errors"

	"github.com/google/uuid"
)

type ctxKey string

var userIDKey ctxKey = "user_id"
var usernameKey ctxKey = "username"

func WithUserContext(ctx context.Context, userID uuid.UUID, username string) context.Context {
	ctx = context.WithValue(ctx, userIDKey, userID)
	if username != "" {
		ctx = context.WithValue(ctx, usernameKey, username)
	}
	return ctx
}

func UserIDFromContext(ctx context.Context) (uuid.UUID, bool) {
	value := ctx.Value(userIDKey)
	if value == nil {
		return uuid.Nil, false
	}
	userID, ok := value.(uuid.UUID)
	return userID, ok
}

func UsernameFromContext(ctx context.Context) string {
	name, _ := ctx.Value(usernameKey).(string)
	return name
}

func HTTPStatus(err error) int {
	switch {
	case errors.Is(err, sentinal_errors.ErrInvalidInput):
		return 400
	case errors.Is(err, sentinal_errors.ErrUnauthorized):
		return 401
	case errors.Is(err, sentinal_errors.ErrForbidden):
		return 403
	case errors.Is(err, sentinal_errors.ErrNotFound):
		return 404
	case errors.Is(err, sentinal_errors.ErrAlreadyExists),
		errors.Is(err, sentinal_errors.ErrConflict),
		errors.Is(err, sentinal_errors.ErrInvalidTransition):
		return 409
	case errors.Is(err, sentinal_errors.ErrRateLimited):
		return 429
	case errors.Is(err, sentinal_errors.ErrServiceUnavailable):
		return 503
	default:
		return 500
	}
}

// ErrorCode is the machine readable code sent alongside HTTPStatus.
func ErrorCode(err error) string {
	switch HTTPStatus(err) {
	case 400:
		return "INVALID_INPUT"
	case 401:
		return "UNAUTHORIZED"
	case 403:
		return "FORBIDDEN"
	case 404:
		return "NOT_FOUND"
	case 409:
		return "CONFLICT"
	case 429:
		return "RATE_LIMITED"
	case 503:
		return "SERVICE_UNAVAILABLE"
	default:
		return "INTERNAL_ERROR"
	}
}
