package repository

import (
	"context"
	"errors"

	"authsession/backend/internal/account/domain"
)

var (
	// ErrDuplicateAccount is returned by Create when the email or phone number is already taken.
	ErrDuplicateAccount = errors.New("account with this email or phone number already exists")
	// ErrStaleAccount is returned by UpdateSession when the account changed since it was read.
	ErrStaleAccount = errors.New("account was modified concurrently")
)

// Repository defines persistence for accounts. Lookups return (nil, nil) when no account matches;
// errors are reserved for storage failures.
type Repository interface {
	GetByEmail(ctx context.Context, email string) (*domain.Account, error)
	GetByEmailOrPhone(ctx context.Context, email, phone string) (*domain.Account, error)
	// GetByEmailOrID resolves the subject of an auth token.
	GetByEmailOrID(ctx context.Context, email, id string) (*domain.Account, error)
	// GetByVerificationTokenOrCode returns the account whose pending challenge matches either value,
	// preferring a verification token match. Empty values never match. Both arguments are the stored
	// digests (security.HashToken, mfa.HashOTP), never the raw values.
	GetByVerificationTokenOrCode(ctx context.Context, verificationToken, code string) (*domain.Account, error)
	Create(ctx context.Context, a *domain.Account) error
	// UpdateSession atomically writes all session fields if the stored version still equals version,
	// and returns the new version. Returns ErrStaleAccount otherwise.
	UpdateSession(ctx context.Context, id string, version int64, u domain.SessionUpdate) (int64, error)
}
