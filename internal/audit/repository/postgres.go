package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/samber/oops"

	"authsession/backend/internal/audit/domain"
)

// DB is the subset of *pgxpool.Pool used by PostgresRepository.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// PostgresRepository implements Repository on the auth_audit_log table.
type PostgresRepository struct {
	db DB
}

// NewPostgresRepository returns an audit log repository that uses db for persistence.
func NewPostgresRepository(db DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Create persists the audit log. The audit log must have ID set.
func (r *PostgresRepository) Create(ctx context.Context, a *domain.AuditLog) error {
	var accountID *string
	if a.AccountID != "" {
		accountID = &a.AccountID
	}
	_, err := r.db.Exec(ctx, `INSERT INTO auth_audit_log (id, account_id, action, success, reason, ip, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		a.ID, accountID, a.Action, a.Success, a.Reason, a.IP, a.CreatedAt,
	)
	if err != nil {
		return oops.Code("AUDIT_CREATE_FAILED").With("action", a.Action).Wrap(err)
	}
	return nil
}

// ListByAccount returns up to limit entries for accountID, newest first.
func (r *PostgresRepository) ListByAccount(ctx context.Context, accountID string, limit int) ([]*domain.AuditLog, error) {
	rows, err := r.db.Query(ctx, `SELECT id, account_id, action, success, reason, ip, created_at
		FROM auth_audit_log WHERE account_id = $1
		ORDER BY created_at DESC LIMIT $2`, accountID, limit)
	if err != nil {
		return nil, oops.Code("AUDIT_LIST_FAILED").Wrap(err)
	}
	defer rows.Close()
	var out []*domain.AuditLog
	for rows.Next() {
		var (
			a   domain.AuditLog
			acc *string
		)
		if err := rows.Scan(&a.ID, &acc, &a.Action, &a.Success, &a.Reason, &a.IP, &a.CreatedAt); err != nil {
			return nil, oops.Code("AUDIT_LIST_FAILED").Wrap(err)
		}
		if acc != nil {
			a.AccountID = *acc
		}
		out = append(out, &a)
	}
	if err := rows.Err(); err != nil {
		return nil, oops.Code("AUDIT_LIST_FAILED").Wrap(err)
	}
	return out, nil
}
