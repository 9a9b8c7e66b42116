package repository

import (
	"context"
	"sync"
	"time"

	"authsession/backend/internal/account/domain"
)

// MemoryRepository is an in-process Repository used when no DATABASE_URL is configured
// (local development) and by tests. Values are copied in and out so callers never share
// a record with the store.
type MemoryRepository struct {
	mu   sync.Mutex
	byID map[string]*domain.Account
	nowF func() time.Time
}

// NewMemoryRepository returns an empty in-memory account store.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		byID: make(map[string]*domain.Account),
		nowF: func() time.Time { return time.Now().UTC() },
	}
}

func (r *MemoryRepository) find(match func(*domain.Account) bool) *domain.Account {
	for _, a := range r.byID {
		if match(a) {
			c := *a
			return &c
		}
	}
	return nil
}

// GetByEmail returns the account with the given email, or nil.
func (r *MemoryRepository) GetByEmail(ctx context.Context, email string) (*domain.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.find(func(a *domain.Account) bool { return a.Email == email }), nil
}

// GetByEmailOrPhone returns any account holding email or phone, or nil.
func (r *MemoryRepository) GetByEmailOrPhone(ctx context.Context, email, phone string) (*domain.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.find(func(a *domain.Account) bool { return a.Email == email || a.PhoneNumber == phone }), nil
}

// GetByEmailOrID returns the account matching id, else the one matching email, or nil.
func (r *MemoryRepository) GetByEmailOrID(ctx context.Context, email, id string) (*domain.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if a, ok := r.byID[id]; ok && id != "" {
		c := *a
		return &c, nil
	}
	if email == "" {
		return nil, nil
	}
	return r.find(func(a *domain.Account) bool { return a.Email == email }), nil
}

// GetByVerificationTokenOrCode prefers a verification token match over a code match.
func (r *MemoryRepository) GetByVerificationTokenOrCode(ctx context.Context, verificationToken, code string) (*domain.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if verificationToken != "" {
		if a := r.find(func(a *domain.Account) bool { return a.VerificationToken == verificationToken }); a != nil {
			return a, nil
		}
	}
	if code != "" {
		var latest *domain.Account
		for _, a := range r.byID {
			if a.TwoFactorCode == code && (latest == nil || a.UpdatedAt.After(latest.UpdatedAt)) {
				latest = a
			}
		}
		if latest != nil {
			c := *latest
			return &c, nil
		}
	}
	return nil, nil
}

// Create stores a copy of a. Returns ErrDuplicateAccount if the email or phone is taken.
func (r *MemoryRepository) Create(ctx context.Context, a *domain.Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.byID {
		if existing.ID == a.ID || existing.Email == a.Email || existing.PhoneNumber == a.PhoneNumber {
			return ErrDuplicateAccount
		}
	}
	now := r.nowF()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	a.UpdatedAt = now
	a.Version = 1
	c := *a
	r.byID[a.ID] = &c
	return nil
}

// UpdateSession writes u under the lock if version matches.
func (r *MemoryRepository) UpdateSession(ctx context.Context, id string, version int64, u domain.SessionUpdate) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.byID[id]
	if !ok || a.Version != version {
		return 0, ErrStaleAccount
	}
	a.Apply(u)
	a.Version++
	a.UpdatedAt = r.nowF()
	return a.Version, nil
}

// Len returns the number of stored accounts.
func (r *MemoryRepository) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byID)
}
