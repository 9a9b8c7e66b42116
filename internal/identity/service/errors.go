package service

import (
	"errors"
	"fmt"

	"github.com/samber/oops"
)

// Error kinds. Every operation returns a single wrapped error; callers test the kind with errors.Is
// and handlers map it to a transport status.
var (
	ErrValidation         = errors.New("validation failed")
	ErrConflict           = errors.New("account with this email or phone number already exists")
	ErrNotFound           = errors.New("account not found")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrVerificationFailed = errors.New("two-factor verification failed")
	ErrRateLimited        = errors.New("too many failed sign-in attempts")
)

// Operation error codes carried by the oops wrapper.
const (
	CodeSignUpFailed    = "AUTH_SIGN_UP_FAILED"
	CodeSignInFailed    = "AUTH_SIGN_IN_FAILED"
	CodeTwoFactorFailed = "AUTH_TWO_FACTOR_FAILED"
	CodeSignOutFailed   = "AUTH_SIGN_OUT_FAILED"
)

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

func opError(code, op string) oops.OopsErrorBuilder {
	return oops.In("auth").Code(code).With("operation", op)
}

// Kind returns the error kind sentinel wrapped by err, or nil for an unclassified (internal) failure.
func Kind(err error) error {
	for _, k := range []error{ErrValidation, ErrConflict, ErrNotFound, ErrInvalidCredentials, ErrVerificationFailed, ErrRateLimited} {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}
