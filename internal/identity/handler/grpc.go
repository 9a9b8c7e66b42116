// Package handler exposes the auth service over gRPC and HTTP.
package handler

import (
	"context"
	"log/slog"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"authsession/backend/internal/account/domain"
	"authsession/backend/internal/server/interceptors"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "authsession.auth.v1.AuthService"

// Full method names.
const (
	MethodSignUp                = "/" + ServiceName + "/SignUp"
	MethodSignIn                = "/" + ServiceName + "/SignIn"
	MethodTwoFactorVerification = "/" + ServiceName + "/TwoFactorVerification"
	MethodSignOut               = "/" + ServiceName + "/SignOut"
	MethodMe                    = "/" + ServiceName + "/Me"
)

// PublicMethods do not require an authenticated account.
var PublicMethods = map[string]bool{
	MethodSignUp:                true,
	MethodSignIn:                true,
	MethodTwoFactorVerification: true,
}

// AuthService is the engine behind the transport.
type AuthService interface {
	SignUp(ctx context.Context, firstName, lastName, email, phoneNumber, password, confirmPassword string) (*domain.Account, error)
	SignIn(ctx context.Context, email, password string) (*domain.Account, error)
	TwoFactorVerification(ctx context.Context, verificationToken, twoFactorCode string) (*domain.Account, error)
	SignOut(ctx context.Context, email string) error
}

// AuthServiceServer is the server API of AuthService. Messages are google.protobuf.Struct.
type AuthServiceServer interface {
	SignUp(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SignIn(context.Context, *structpb.Struct) (*structpb.Struct, error)
	TwoFactorVerification(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SignOut(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Me(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

// AuthServer implements AuthServiceServer on top of the auth service.
type AuthServer struct {
	svc    AuthService
	logger *slog.Logger
}

// NewAuthServer returns a gRPC server for svc. If svc is nil, every RPC returns Unimplemented.
func NewAuthServer(svc AuthService, logger *slog.Logger) *AuthServer {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuthServer{svc: svc, logger: logger}
}

// RegisterAuthServiceServer registers srv with s.
func RegisterAuthServiceServer(s grpc.ServiceRegistrar, srv AuthServiceServer) {
	s.RegisterService(&AuthServiceDesc, srv)
}

// SignUp creates an account. Fields: first_name, last_name, email, phone_number, password, confirm_password.
func (s *AuthServer) SignUp(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if s.svc == nil {
		return nil, status.Error(codes.Unimplemented, "method SignUp not implemented")
	}
	a, err := s.svc.SignUp(ctx,
		field(req, "first_name"), field(req, "last_name"), field(req, "email"),
		field(req, "phone_number"), field(req, "password"), field(req, "confirm_password"))
	if err != nil {
		return nil, s.statusError(ctx, err)
	}
	return accountStruct(a)
}

// SignIn checks the password and opens a two-factor challenge. Fields: email, password.
func (s *AuthServer) SignIn(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if s.svc == nil {
		return nil, status.Error(codes.Unimplemented, "method SignIn not implemented")
	}
	a, err := s.svc.SignIn(ctx, field(req, "email"), field(req, "password"))
	if err != nil {
		return nil, s.statusError(ctx, err)
	}
	return accountStruct(a)
}

// TwoFactorVerification completes the challenge. Fields: verification_token, two_factor_code.
func (s *AuthServer) TwoFactorVerification(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if s.svc == nil {
		return nil, status.Error(codes.Unimplemented, "method TwoFactorVerification not implemented")
	}
	a, err := s.svc.TwoFactorVerification(ctx, field(req, "verification_token"), field(req, "two_factor_code"))
	if err != nil {
		return nil, s.statusError(ctx, err)
	}
	return accountStruct(a)
}

// SignOut signs out the authenticated account. The email is taken from the caller's auth token,
// never from the request, so one account cannot sign out another.
func (s *AuthServer) SignOut(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if s.svc == nil {
		return nil, status.Error(codes.Unimplemented, "method SignOut not implemented")
	}
	a, ok := interceptors.AccountFromContext(ctx)
	if !ok {
		return nil, status.Error(codes.Unauthenticated, "missing or invalid authorization")
	}
	if err := s.svc.SignOut(ctx, a.Email); err != nil {
		return nil, s.statusError(ctx, err)
	}
	return &structpb.Struct{Fields: map[string]*structpb.Value{}}, nil
}

// Me returns the authenticated account.
func (s *AuthServer) Me(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	a, ok := interceptors.AccountFromContext(ctx)
	if !ok {
		return nil, status.Error(codes.Unauthenticated, "missing or invalid authorization")
	}
	return accountStruct(a)
}

func (s *AuthServer) statusError(ctx context.Context, err error) error {
	code := Code(err)
	if code == codes.Internal {
		s.logger.ErrorContext(ctx, "auth: request failed", "error", err)
	}
	return status.Error(code, publicMessage(err))
}

func field(req *structpb.Struct, name string) string {
	return req.GetFields()[name].GetStringValue()
}

func accountStruct(a *domain.Account) (*structpb.Struct, error) {
	st, err := structpb.NewStruct(accountFields(a))
	if err != nil {
		return nil, status.Error(codes.Internal, "encode account")
	}
	return st, nil
}

func unaryMethod(name string, call func(AuthServiceServer, context.Context, *structpb.Struct) (*structpb.Struct, error)) grpc.MethodDesc {
	fullMethod := "/" + ServiceName + "/" + name
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(AuthServiceServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
			return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return call(srv.(AuthServiceServer), ctx, req.(*structpb.Struct))
			})
		},
	}
}

// AuthServiceDesc describes AuthService for grpc.Server.RegisterService.
var AuthServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*AuthServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		unaryMethod("SignUp", AuthServiceServer.SignUp),
		unaryMethod("SignIn", AuthServiceServer.SignIn),
		unaryMethod("TwoFactorVerification", AuthServiceServer.TwoFactorVerification),
		unaryMethod("SignOut", AuthServiceServer.SignOut),
		unaryMethod("Me", AuthServiceServer.Me),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "authsession/auth/v1/auth.proto",
}

// AuthServiceClient is the client API of AuthService.
type AuthServiceClient struct {
	cc grpc.ClientConnInterface
}

// NewAuthServiceClient returns a client calling AuthService over cc.
func NewAuthServiceClient(cc grpc.ClientConnInterface) *AuthServiceClient {
	return &AuthServiceClient{cc: cc}
}

func (c *AuthServiceClient) call(ctx context.Context, method string, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *AuthServiceClient) SignUp(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.call(ctx, MethodSignUp, in, opts...)
}

func (c *AuthServiceClient) SignIn(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.call(ctx, MethodSignIn, in, opts...)
}

func (c *AuthServiceClient) TwoFactorVerification(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.call(ctx, MethodTwoFactorVerification, in, opts...)
}

func (c *AuthServiceClient) SignOut(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.call(ctx, MethodSignOut, in, opts...)
}

func (c *AuthServiceClient) Me(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.call(ctx, MethodMe, in, opts...)
}
