package interceptors

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"authsession/backend/internal/account/domain"
)

// UserVerifier resolves an Authorization header value to an account, or nil for anonymous.
type UserVerifier interface {
	VerifyUser(ctx context.Context, authorization string) *domain.Account
}

// AuthUnary returns a unary server interceptor that resolves the authorization metadata through
// verifier and stores the account in context. Anonymous calls reach publicMethods unchanged;
// every other method requires an account and fails with Unauthenticated otherwise.
func AuthUnary(verifier UserVerifier, publicMethods map[string]bool) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		if a := verifier.VerifyUser(ctx, authorizationHeader(ctx)); a != nil {
			return handler(WithAccount(ctx, a), req)
		}
		if publicMethods[info.FullMethod] {
			return handler(ctx, req)
		}
		return nil, status.Error(codes.Unauthenticated, "missing or invalid authorization")
	}
}

// authorizationHeader returns the raw authorization metadata value, or "".
func authorizationHeader(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	vals := md.Get("authorization")
	if len(vals) == 0 {
		return ""
	}
	return vals[0]
}
