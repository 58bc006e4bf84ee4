package domain

import "errors"

// Domain errors
var (
	ErrPlayerNotFound    = errors.New("player not found")
	ErrStatsNotFound     = errors.New("player statistics not found")
	ErrInvalidGuess      = errors.New("number must be between 1 and 5")
	ErrNoTurnsLeft       = errors.New("no turns remaining")
	ErrConcurrentRequest = errors.New("too many concurrent requests")
	ErrInvalidRequest    = errors.New("invalid request")
	ErrUnauthorized      = errors.New("authentication failed")
	ErrInternalError     = errors.New("operation failed")
)

// Stable numeric error codes exposed to clients
const (
	CodeOK                 = 200
	CodePlayerNotFound     = 1002
	CodeAuthentication     = 1000
	CodeValidation         = 1100
	CodeNoTurnsLeft        = 1200
	CodeInvalidGuessNumber = 1201
	CodeConcurrentRequest  = 1203
	CodeStatsNotFound      = 1204
	CodeDatabase           = 2002
	CodeOperationFailed    = 9001
)

// Code maps an error to its stable client-facing code. Anything that is not a
// known business error is reported as a generic operation failure.
func Code(err error) int {
	switch {
	case err == nil:
		return CodeOK
	case errors.Is(err, ErrInvalidGuess):
		return CodeInvalidGuessNumber
	case errors.Is(err, ErrInvalidRequest):
		return CodeValidation
	case errors.Is(err, ErrNoTurnsLeft):
		return CodeNoTurnsLeft
	case errors.Is(err, ErrConcurrentRequest):
		return CodeConcurrentRequest
	case errors.Is(err, ErrStatsNotFound):
		return CodeStatsNotFound
	case errors.Is(err, ErrPlayerNotFound):
		return CodePlayerNotFound
	case errors.Is(err, ErrUnauthorized):
		return CodeAuthentication
	default:
		return CodeOperationFailed
	}
}

// IsNotFoundError checks if an error is a not-found type error
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrPlayerNotFound) || errors.Is(err, ErrStatsNotFound)
}

// IsBusinessError reports whether err is safe to surface to the caller as-is.
func IsBusinessError(err error) bool {
	return errors.Is(err, ErrInvalidGuess) ||
		errors.Is(err, ErrInvalidRequest) ||
		errors.Is(err, ErrNoTurnsLeft) ||
		errors.Is(err, ErrConcurrentRequest) ||
		errors.Is(err, ErrUnauthorized) ||
		IsNotFoundError(err)
}
