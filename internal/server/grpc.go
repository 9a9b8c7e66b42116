package server

import (
	"log/slog"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	identityhandler "authsession/backend/internal/identity/handler"
	"authsession/backend/internal/server/interceptors"
)

// Deps holds service dependencies for the gRPC server.
type Deps struct {
	// Auth is the auth service behind AuthService. If nil, auth RPCs return Unimplemented.
	Auth identityhandler.AuthService
	// Verifier resolves bearer tokens for the auth interceptor. If nil, only public methods are reachable.
	Verifier interceptors.UserVerifier
	// Health is the grpc.health.v1 server kept current by the health checker. If nil, health is not registered.
	Health *health.Server
	// Logger is used by the logging interceptor and handlers. Defaults to slog.Default().
	Logger *slog.Logger
}

// healthMethods are excluded from request logging.
var healthMethods = map[string]bool{
	"/grpc.health.v1.Health/Check": true,
	"/grpc.health.v1.Health/Watch": true,
}

// RegisterServices registers all gRPC services with the given server.
//
// Service → handler mapping:
//   - authsession.auth.v1.AuthService → internal/identity/handler
//   - grpc.health.v1.Health           → google.golang.org/grpc/health (fed by internal/health/handler)
func RegisterServices(s grpc.ServiceRegistrar, deps Deps) {
	identityhandler.RegisterAuthServiceServer(s, identityhandler.NewAuthServer(deps.Auth, deps.Logger))
	if deps.Health != nil {
		healthpb.RegisterHealthServer(s, deps.Health)
	}
}

// NewGRPCServer builds a server with tracing, request logging and bearer authentication, and
// registers all services on it.
func NewGRPCServer(deps Deps, opts ...grpc.ServerOption) *grpc.Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	chain := []grpc.UnaryServerInterceptor{interceptors.LoggingUnary(logger, healthMethods)}
	public := make(map[string]bool, len(identityhandler.PublicMethods)+len(healthMethods))
	for m := range identityhandler.PublicMethods {
		public[m] = true
	}
	for m := range healthMethods {
		public[m] = true
	}
	if deps.Verifier != nil {
		chain = append(chain, interceptors.AuthUnary(deps.Verifier, public))
	} else {
		chain = append(chain, interceptors.AuthUnary(anonymous{}, public))
	}
	base := []grpc.ServerOption{
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(chain...),
	}
	s := grpc.NewServer(append(base, opts...)...)
	RegisterServices(s, deps)
	return s
}
