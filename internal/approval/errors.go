package approval

import "errors"

var (
	ErrRequestNotFound = errors.New("request not found")
	ErrUserNotFound    = errors.New("user not found")
	ErrGameNotFound    = errors.New("game not found")

	ErrBotNotFound  = errors.New("bot not found")
	ErrBotInactive  = errors.New("bot is not active")
	ErrBotForbidden = errors.New("bot does not have approval permissions")

	ErrInsufficientBalance = errors.New("insufficient wallet balance")
	ErrUnknownKind         = errors.New("no execution strategy for request kind")

	// ErrRetryable marks transient store failures (lock timeout, deadlock,
	// serialization) where the caller may safely retry the decision.
	ErrRetryable = errors.New("transient store failure, retry")
)
