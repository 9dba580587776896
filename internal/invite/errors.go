package invite

import "errors"

// Validation outcomes surfaced to the registering user. Each terminal
// state of a token rejects with its own reason.
var (
	ErrTokenUnknown   = errors.New("invite: invalid invitation token")
	ErrTokenRevoked   = errors.New("invite: this invitation token has been revoked")
	ErrTokenExpired   = errors.New("invite: this invitation token has expired")
	ErrTokenExhausted = errors.New("invite: this invitation token has reached its maximum number of uses")
	ErrEmailMismatch  = errors.New("invite: this invitation token is for a different email address")
)

var (
	ErrInvalidInput = errors.New("invite: invalid input")
	ErrNotFound     = errors.New("invite: not found")
)

// IsRejection reports whether err is one of the user-facing validation
// rejections, as opposed to an infrastructure failure.
func IsRejection(err error) bool {
	return errors.Is(err, ErrTokenUnknown) ||
		errors.Is(err, ErrTokenRevoked) ||
		errors.Is(err, ErrTokenExpired) ||
		errors.Is(err, ErrTokenExhausted) ||
		errors.Is(err, ErrEmailMismatch)
}
