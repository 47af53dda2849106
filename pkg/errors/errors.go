package sentinal_errors

import (
	"errors"
	"time"
)

// Common errors
var (
	ErrInvalidTransition  = errors.New("invalid status transition")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrForbidden          = errors.New("forbidden")
	ErrNotFound           = errors.New("not found")
	ErrConflict           = errors.New("conflict")
	ErrInvalidInput       = errors.New("invalid input")
	ErrRateLimited        = errors.New("rate limited")
	ErrServiceUnavailable = errors.New("service unavailable")
	ErrAlreadyExists      = errors.New("already exists")
)

// Delivery errors
var (
	ErrSessionClosed    = errors.New("session closed")
	ErrSendBufferFull   = errors.New("send buffer full")
	ErrUnsupportedValue = errors.New("unsupported payload value")
)

// NowPtr returns a pointer to current time
func NowPtr() *time.Time {
	now := time.Now()
	return &now
}

// TimePtr returns a pointer to t
func TimePtr(t time.Time) *time.Time {
	return &t
}
