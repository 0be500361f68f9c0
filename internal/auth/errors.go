package auth

import (
	"errors"
	"time"

	"github.com/samber/oops"
)

var (
	ErrNotFound             = errors.New("auth: not found")
	ErrInvalidCredentials   = errors.New("auth: invalid credentials")
	ErrInvalidOrExpiredCode = errors.New("auth: invalid or expired code")
	ErrInvalidToken         = errors.New("auth: invalid token")
	ErrTokenAlreadyUsed     = errors.New("auth: token already used")
	ErrTokenExpired         = errors.New("auth: token expired")
	ErrNotificationFailed   = errors.New("auth: notification failed")
	ErrMalformedToken       = errors.New("auth: malformed token")
	ErrValidationFailed     = errors.New("auth: validation failed")
	ErrForbidden            = errors.New("auth: forbidden")
	ErrTooManyAttempts      = errors.New("auth: too many failed attempts")
)

// Error codes attached to oops errors returned by this package.
const (
	CodeNotFound             = "NOT_FOUND"
	CodeInvalidCredentials   = "INVALID_CREDENTIALS"
	CodeInvalidOrExpiredCode = "INVALID_OR_EXPIRED_CODE"
	CodeInvalidToken         = "INVALID_TOKEN"
	CodeTokenAlreadyUsed     = "TOKEN_ALREADY_USED"
	CodeTokenExpired         = "TOKEN_EXPIRED"
	CodeNotificationFailed   = "NOTIFICATION_FAILED"
	CodeMalformedToken       = "MALFORMED_TOKEN"
	CodeValidationFailed     = "VALIDATION_FAILED"
	CodeForbidden            = "FORBIDDEN"
	CodeTooManyAttempts      = "TOO_MANY_ATTEMPTS"
)

var publicMessages = map[error]string{
	ErrNotFound:             "no account is registered with that email",
	ErrInvalidCredentials:   "invalid email or password",
	ErrInvalidOrExpiredCode: "invalid or expired verification code",
	ErrInvalidToken:         "invalid reset token",
	ErrTokenAlreadyUsed:     "reset token has already been used",
	ErrTokenExpired:         "reset token has expired",
	ErrNotificationFailed:   "could not deliver email, please retry",
	ErrMalformedToken:       "malformed token",
	ErrValidationFailed:     "validation failed",
	ErrForbidden:            "insufficient role",
	ErrTooManyAttempts:      "too many failed verification attempts, try again later",
}

var errorCodes = map[error]string{
	ErrNotFound:             CodeNotFound,
	ErrInvalidCredentials:   CodeInvalidCredentials,
	ErrInvalidOrExpiredCode: CodeInvalidOrExpiredCode,
	ErrInvalidToken:         CodeInvalidToken,
	ErrTokenAlreadyUsed:     CodeTokenAlreadyUsed,
	ErrTokenExpired:         CodeTokenExpired,
	ErrNotificationFailed:   CodeNotificationFailed,
	ErrMalformedToken:       CodeMalformedToken,
	ErrValidationFailed:     CodeValidationFailed,
	ErrForbidden:            CodeForbidden,
	ErrTooManyAttempts:      CodeTooManyAttempts,
}

// Fail wraps a taxonomy sentinel with its code and public message.
// kv pairs are attached as error context.
func Fail(sentinel error, kv ...any) error {
	return oops.
		Code(errorCodes[sentinel]).
		With(kv...).
		Public(publicMessages[sentinel]).
		Wrap(sentinel)
}

// Invalid returns ErrValidationFailed with a caller-facing reason.
func Invalid(reason string, kv ...any) error {
	return oops.
		Code(CodeValidationFailed).
		With(kv...).
		Public(reason).
		Wrapf(ErrValidationFailed, "%s", reason)
}

// RetryAfter returns how long a locked-out caller has to wait, or zero when
// err carries no lockout.
func RetryAfter(err error) time.Duration {
	if !errors.Is(err, ErrTooManyAttempts) {
		return 0
	}
	oe, ok := oops.AsOops(err)
	if !ok {
		return 0
	}
	d, _ := oe.Context()["retry_after"].(time.Duration)
	return d
}

// PublicMessage returns the caller-safe text for err.
func PublicMessage(err error) string {
	for sentinel, msg := range publicMessages {
		if errors.Is(err, sentinel) {
			return oops.GetPublic(err, msg)
		}
	}
	return oops.GetPublic(err, "request failed")
}
