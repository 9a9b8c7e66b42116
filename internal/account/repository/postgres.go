package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/samber/oops"

	"authsession/backend/internal/account/domain"
)

// DB is the subset of *pgxpool.Pool used by PostgresRepository.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const accountColumns = `id, first_name, last_name, email, phone_number, password_hash,
	auth_token, verification_token, two_factor_code, session_state, version,
	deprecated, deprecated_at, created_at, updated_at`

// PostgresRepository implements Repository on the accounts table.
type PostgresRepository struct {
	db  DB
	now func() time.Time
}

// NewPostgresRepository returns an account repository that uses db for persistence.
func NewPostgresRepository(db DB) *PostgresRepository {
	return &PostgresRepository{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// GetByEmail returns the account with the given email, or nil if not found.
func (r *PostgresRepository) GetByEmail(ctx context.Context, email string) (*domain.Account, error) {
	a, err := r.queryOne(ctx, `SELECT `+accountColumns+` FROM accounts WHERE email = $1`, email)
	if err != nil {
		return nil, oops.Code("ACCOUNT_LOOKUP_FAILED").With("by", "email").Wrap(err)
	}
	return a, nil
}

// GetByEmailOrPhone returns any account holding email or phone, or nil.
func (r *PostgresRepository) GetByEmailOrPhone(ctx context.Context, email, phone string) (*domain.Account, error) {
	a, err := r.queryOne(ctx, `SELECT `+accountColumns+` FROM accounts
		WHERE email = $1 OR phone_number = $2
		LIMIT 1`, email, phone)
	if err != nil {
		return nil, oops.Code("ACCOUNT_LOOKUP_FAILED").With("by", "email_or_phone").Wrap(err)
	}
	return a, nil
}

// GetByEmailOrID returns the account matching email or id, preferring the id match.
func (r *PostgresRepository) GetByEmailOrID(ctx context.Context, email, id string) (*domain.Account, error) {
	a, err := r.queryOne(ctx, `SELECT `+accountColumns+` FROM accounts
		WHERE ($1 <> '' AND email = $1) OR ($2 <> '' AND id = $2)
		ORDER BY (id = $2) DESC
		LIMIT 1`, email, id)
	if err != nil {
		return nil, oops.Code("ACCOUNT_LOOKUP_FAILED").With("by", "email_or_id").Wrap(err)
	}
	return a, nil
}

// GetByVerificationTokenOrCode returns the account whose pending challenge matches either value.
func (r *PostgresRepository) GetByVerificationTokenOrCode(ctx context.Context, verificationToken, code string) (*domain.Account, error) {
	if verificationToken == "" && code == "" {
		return nil, nil
	}
	a, err := r.queryOne(ctx, `SELECT `+accountColumns+` FROM accounts
		WHERE ($1 <> '' AND verification_token = $1) OR ($2 <> '' AND two_factor_code = $2)
		ORDER BY (verification_token = $1) DESC, updated_at DESC
		LIMIT 1`, verificationToken, code)
	if err != nil {
		return nil, oops.Code("ACCOUNT_LOOKUP_FAILED").With("by", "challenge").Wrap(err)
	}
	return a, nil
}

// Create inserts a new account. The account must have ID set. Version is set to 1.
func (r *PostgresRepository) Create(ctx context.Context, a *domain.Account) error {
	now := r.now()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	a.UpdatedAt = now
	a.Version = 1
	_, err := r.db.Exec(ctx, `INSERT INTO accounts (`+accountColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		a.ID, a.FirstName, a.LastName, a.Email, a.PhoneNumber, a.PasswordHash,
		a.AuthToken, a.VerificationToken, a.TwoFactorCode, string(a.State), a.Version,
		a.Deprecated, a.DeprecatedAt, a.CreatedAt, a.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return ErrDuplicateAccount
		}
		return oops.Code("ACCOUNT_CREATE_FAILED").
			With("operation", "insert account").
			Wrap(err)
	}
	return nil
}

// UpdateSession writes all session fields in one statement guarded by the version column.
func (r *PostgresRepository) UpdateSession(ctx context.Context, id string, version int64, u domain.SessionUpdate) (int64, error) {
	var next int64
	err := r.db.QueryRow(ctx, `UPDATE accounts
		SET session_state = $3, auth_token = $4, verification_token = $5, two_factor_code = $6,
		    version = version + 1, updated_at = $7
		WHERE id = $1 AND version = $2
		RETURNING version`,
		id, version, string(u.State), u.AuthToken, u.VerificationToken, u.TwoFactorCode, r.now(),
	).Scan(&next)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrStaleAccount
		}
		return 0, oops.Code("ACCOUNT_UPDATE_FAILED").
			With("operation", "update session").
			With("state", u.State.String()).
			Wrap(err)
	}
	return next, nil
}

func (r *PostgresRepository) queryOne(ctx context.Context, sql string, args ...any) (*domain.Account, error) {
	var (
		a     domain.Account
		state string
	)
	err := r.db.QueryRow(ctx, sql, args...).Scan(
		&a.ID, &a.FirstName, &a.LastName, &a.Email, &a.PhoneNumber, &a.PasswordHash,
		&a.AuthToken, &a.VerificationToken, &a.TwoFactorCode, &state, &a.Version,
		&a.Deprecated, &a.DeprecatedAt, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	a.State = domain.State(state)
	return &a, nil
}
