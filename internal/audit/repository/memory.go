package repository

import (
	"context"
	"sort"
	"sync"

	"authsession/backend/internal/audit/domain"
)

// MemoryRepository keeps audit logs in process. Used with the in-memory account store.
type MemoryRepository struct {
	mu      sync.Mutex
	entries []domain.AuditLog
}

// NewMemoryRepository returns an empty in-memory audit log.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{}
}

// Create appends a copy of a.
func (r *MemoryRepository) Create(ctx context.Context, a *domain.AuditLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, *a)
	return nil
}

// ListByAccount returns up to limit entries for accountID, newest first.
func (r *MemoryRepository) ListByAccount(ctx context.Context, accountID string, limit int) ([]*domain.AuditLog, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.AuditLog
	for i := range r.entries {
		if r.entries[i].AccountID == accountID {
			c := r.entries[i]
			out = append(out, &c)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
