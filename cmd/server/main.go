// Server runs the auth service over gRPC and JSON/HTTP.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"google.golang.org/grpc/health"

	"authsession/backend/internal/audit"
	audithandler "authsession/backend/internal/audit/handler"
	auditrepo "authsession/backend/internal/audit/repository"
	"authsession/backend/internal/config"
	devotphandler "authsession/backend/internal/devotp/handler"
	healthhandler "authsession/backend/internal/health/handler"
	identityhandler "authsession/backend/internal/identity/handler"
	"authsession/backend/internal/identity/service"
	"authsession/backend/internal/logging"
	"authsession/backend/internal/mfa"
	"authsession/backend/internal/notify"
	"authsession/backend/internal/phone"
	"authsession/backend/internal/security"
	"authsession/backend/internal/server"
	"authsession/backend/internal/server/interceptors"
	telemetryotel "authsession/backend/internal/telemetry/otel"
)

const (
	serviceName     = "authsession"
	shutdownTimeout = 15 * time.Second
	healthInterval  = 15 * time.Second
	codeDigits      = 6
)

var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config", "error", err)
		os.Exit(1)
	}
	logger := logging.SetDefault(serviceName, version, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	ctx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	providers, err := telemetryotel.NewProviders(ctx, telemetryotel.Options{
		Endpoint:       cfg.OTLPEndpoint,
		ServiceName:    serviceName,
		ServiceVersion: version,
		Environment:    cfg.Env,
		Insecure:       cfg.OTLPInsecure,
	})
	if err != nil {
		return err
	}
	providers.SetGlobal()
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := providers.Shutdown(sctx); err != nil {
			logger.Warn("telemetry shutdown", "error", err)
		}
	}()

	repo, pool, err := buildRepository(ctx, cfg, logger)
	if err != nil {
		return err
	}
	var auditRepo auditrepo.Repository = auditrepo.NewMemoryRepository()
	if pool != nil {
		defer pool.Close()
		auditRepo = auditrepo.NewPostgresRepository(pool)
	}

	tokens, err := buildTokens(cfg, logger)
	if err != nil {
		return err
	}
	match, err := service.ParseMatchMode(cfg.TwoFactorMatch)
	if err != nil {
		return err
	}

	ns, err := buildNotifier(cfg)
	if err != nil {
		return err
	}
	if ns.closer != nil {
		defer func() {
			if err := ns.closer(); err != nil {
				logger.Warn("notifier close", "error", err)
			}
		}()
	}
	var dispatcher *notify.Dispatcher
	if ns.notifier != nil {
		dispatcher = notify.NewDispatcher(ns.notifier,
			notify.WithTimeout(cfg.CollaboratorTimeoutDuration()),
			notify.WithLogger(logger),
			notify.WithMeterProvider(providers.MeterProvider),
		)
	} else {
		logger.Warn("no challenge delivery configured; set KAFKA_BROKERS, SMS_LOCAL_API_KEY or OTP_RETURN_TO_CLIENT")
	}
	logger.Info("challenge delivery", "mode", ns.kind)

	limiter, redisClient := buildLimiter(ctx, cfg, logger)
	if redisClient != nil {
		defer redisClient.Close()
	}

	events := service.Emitters(
		telemetryotel.NewEventEmitter(providers.LoggerProvider),
		audit.NewLogger(auditRepo, interceptors.ClientIP, logger),
	)
	opts := service.Options{
		Hasher:       security.NewHasher(cfg.BcryptCost),
		Tokens:       tokens,
		Codes:        mfa.NewCodeGenerator(codeDigits),
		Phones:       phone.NewValidator(),
		Match:        match,
		ChallengeTTL: cfg.ChallengeTTLDuration(),
		Timeout:      cfg.CollaboratorTimeoutDuration(),
		ReturnCode:   cfg.OTPReturnToClient,
		Events:       events,
		Logger:       logger,
	}
	if dispatcher != nil {
		opts.Notifier = dispatcher
	}
	if limiter != nil {
		opts.Limiter = limiter
	}
	authSvc := service.NewAuthService(repo, opts)

	hs := health.NewServer()
	checker := healthhandler.NewChecker(hs, logger, identityhandler.ServiceName)
	if pool != nil {
		checker.Register("postgres", pool)
	}
	if redisClient != nil {
		checker.Register("redis", healthhandler.RedisPinger(redisClient))
	}
	go checker.Run(ctx, healthInterval)

	grpcServer := server.NewGRPCServer(server.Deps{
		Auth:     authSvc,
		Verifier: authSvc,
		Health:   hs,
		Logger:   logger,
	})
	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return err
	}
	errCh := make(chan error, 2)
	go func() {
		logger.Info("gRPC server listening", "addr", cfg.GRPCAddr)
		errCh <- grpcServer.Serve(lis)
	}()

	var httpServer *http.Server
	if cfg.HTTPAddr != "" {
		deps := server.HTTPDeps{
			Auth:     identityhandler.NewHTTPHandler(authSvc, logger),
			Verifier: authSvc,
			Health:   checker,
			Audit:    audithandler.New(auditRepo, logger),
			Logger:   logger,
		}
		if ns.devStore != nil && !cfg.IsProduction() {
			logger.Warn("dev OTP mode enabled: challenge codes are returned to clients and served at /dev/otp")
			deps.DevOTP = devotphandler.New(ns.devStore)
		}
		httpServer = &http.Server{
			Addr:              cfg.HTTPAddr,
			Handler:           server.NewHTTPRouter(deps),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			logger.Info("HTTP server listening", "addr", cfg.HTTPAddr)
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
		}()
	}

	var serveErr error
	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case serveErr = <-errCh:
		logger.Error("server failed", "error", serveErr)
	}

	cancelRun()
	checker.Shutdown()
	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if httpServer != nil {
		if err := httpServer.Shutdown(sctx); err != nil {
			logger.Warn("HTTP shutdown", "error", err)
		}
	}
	stopped := make(chan struct{})
	go func() {
		grpcServer.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-sctx.Done():
		grpcServer.Stop()
	}
	dispatcher.Wait()
	logger.Info("server stopped")
	return serveErr
}
