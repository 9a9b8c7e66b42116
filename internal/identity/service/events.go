package service

import (
	"context"
	"time"
)

// Event names.
const (
	EventSignUp    = "sign_up"
	EventSignIn    = "sign_in"
	EventTwoFactor = "two_factor_verification"
	EventSignOut   = "sign_out"
)

// Event records the outcome of one operation. It never carries passwords, tokens or codes.
type Event struct {
	Name      string
	AccountID string
	Success   bool
	// Reason is the error kind on failure ("internal" when unclassified).
	Reason string
	At     time.Time
}

// EventEmitter receives auth events. Emit must not block for long; it runs on the request path.
type EventEmitter interface {
	Emit(ctx context.Context, e Event)
}

func (s *AuthService) emit(ctx context.Context, name, accountID string, err error) {
	if s.events == nil {
		return
	}
	e := Event{Name: name, AccountID: accountID, Success: err == nil, At: s.nowF()}
	if err != nil {
		e.Reason = "internal"
		if k := Kind(err); k != nil {
			e.Reason = k.Error()
		}
	}
	s.events.Emit(ctx, e)
}

type multiEmitter []EventEmitter

func (m multiEmitter) Emit(ctx context.Context, e Event) {
	for _, em := range m {
		em.Emit(ctx, e)
	}
}

// Emitters combines emitters into one; nil entries are skipped.
func Emitters(emitters ...EventEmitter) EventEmitter {
	var out multiEmitter
	for _, e := range emitters {
		if e != nil {
			out = append(out, e)
		}
	}
	return out
}
