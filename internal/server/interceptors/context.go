package interceptors

import (
	"context"

	"authsession/backend/internal/account/domain"
)

type contextKey struct{ name string }

var accountKey = contextKey{"account"}

// WithAccount returns a context carrying the authenticated account.
func WithAccount(ctx context.Context, a *domain.Account) context.Context {
	return context.WithValue(ctx, accountKey, a)
}

// AccountFromContext returns the authenticated account and true if set; otherwise nil, false.
func AccountFromContext(ctx context.Context) (*domain.Account, bool) {
	a, ok := ctx.Value(accountKey).(*domain.Account)
	return a, ok && a != nil
}

// GetAccountID returns the authenticated account id and true if set; otherwise "", false.
func GetAccountID(ctx context.Context) (string, bool) {
	a, ok := AccountFromContext(ctx)
	if !ok {
		return "", false
	}
	return a.ID, true
}

var clientIPKey = contextKey{"client_ip"}

// WithClientIP returns a context carrying the caller's IP, for transports without gRPC peer info.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPKey, ip)
}
