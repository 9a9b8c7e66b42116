// Package devotp keeps the last challenge message per phone number in memory, used only when
// dev OTP mode is enabled (GET /dev/otp). It doubles as the notifier in that mode so no SMS is sent.
package devotp

import (
	"context"
	"sync"
	"time"
)

// DefaultTTL is how long a message stays retrievable.
const DefaultTTL = 10 * time.Minute

type entry struct {
	message   string
	expiresAt time.Time
}

// MemoryStore is an in-memory notifier and store. Not used in production.
type MemoryStore struct {
	mu   sync.RWMutex
	m    map[string]entry
	ttl  time.Duration
	nowF func() time.Time
}

// NewMemoryStore returns a new in-memory dev OTP store. ttl <= 0 uses DefaultTTL.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryStore{
		m:    make(map[string]entry),
		ttl:  ttl,
		nowF: func() time.Time { return time.Now().UTC() },
	}
}

// Send records message as the latest one for destination, replacing any earlier message.
func (s *MemoryStore) Send(ctx context.Context, destination, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[destination] = entry{message: message, expiresAt: s.nowF().Add(s.ttl)}
	return nil
}

// Get returns the latest message for destination if present and not expired.
func (s *MemoryStore) Get(ctx context.Context, destination string) (string, bool) {
	s.mu.RLock()
	e, ok := s.m[destination]
	s.mu.RUnlock()
	if !ok {
		return "", false
	}
	if !e.expiresAt.After(s.nowF()) {
		s.mu.Lock()
		delete(s.m, destination)
		s.mu.Unlock()
		return "", false
	}
	return e.message, true
}
