package auth

import "errors"

// Token failures. They are distinguished for logging only; callers at the
// HTTP boundary treat all of them as "unauthenticated".
var (
	ErrTokenMalformed        = errors.New("token malformed")
	ErrTokenExpired          = errors.New("token expired")
	ErrTokenSignatureInvalid = errors.New("token signature invalid")
)

// ErrReservedClaim is returned when extra claims try to override a
// registered claim set by the token service.
var ErrReservedClaim = errors.New("reserved claim")

// ErrEmptyPassword is returned when hashing an empty password.
var ErrEmptyPassword = errors.New("password must not be empty")
