package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"authsession/backend/internal/account/repository"
	"authsession/backend/internal/config"
	"authsession/backend/internal/db"
	"authsession/backend/internal/devotp"
	"authsession/backend/internal/mfa/sms"
	"authsession/backend/internal/notify"
	"authsession/backend/internal/ratelimit"
	"authsession/backend/internal/security"
)

// buildRepository opens Postgres when DATABASE_URL is set and falls back to the in-memory store.
// The returned pool is nil for the in-memory store.
func buildRepository(ctx context.Context, cfg *config.Config, logger *slog.Logger) (repository.Repository, *pgxpool.Pool, error) {
	if cfg.DatabaseURL == "" {
		logger.Warn("DATABASE_URL not set; using in-memory account store (data is lost on restart)")
		return repository.NewMemoryRepository(), nil, nil
	}
	pool, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	return repository.NewPostgresRepository(pool), pool, nil
}

// buildTokens loads the configured key pair. Outside production a missing pair is replaced by an
// ephemeral key, so tokens do not survive a restart.
func buildTokens(cfg *config.Config, logger *slog.Logger) (*security.TokenProvider, error) {
	if cfg.JWTPrivateKey != "" || cfg.JWTPublicKey != "" {
		priv, pub, err := security.LoadKeyPair(cfg.JWTPrivateKey, cfg.JWTPublicKey)
		if err != nil {
			return nil, fmt.Errorf("jwt keys: %w", err)
		}
		return security.NewTokenProvider(priv, pub, cfg.JWTIssuer, cfg.JWTAudience, cfg.ChallengeTTLDuration(), cfg.AuthTTL()), nil
	}
	if cfg.IsProduction() {
		return nil, errors.New("jwt keys: JWT_PRIVATE_KEY and JWT_PUBLIC_KEY are required in production")
	}
	logger.Warn("JWT keys not set; using an ephemeral signing key")
	key, err := security.GenerateSigningKey()
	if err != nil {
		return nil, err
	}
	return security.NewTokenProvider(key, key.Public(), cfg.JWTIssuer, cfg.JWTAudience, cfg.ChallengeTTLDuration(), cfg.AuthTTL()), nil
}

// notifierSetup is the chosen challenge delivery path.
type notifierSetup struct {
	notifier notify.Notifier
	// devStore is set in dev OTP mode and backs GET /dev/otp.
	devStore *devotp.MemoryStore
	// closer releases the Kafka writer, if any.
	closer func() error
	kind   string
}

// buildNotifier picks, in order: the dev OTP store, the Kafka topic consumed by the worker,
// or direct SMS Local delivery. It returns a nil notifier when none is configured.
func buildNotifier(cfg *config.Config) (notifierSetup, error) {
	switch {
	case cfg.OTPReturnToClient:
		store := devotp.NewMemoryStore(cfg.ChallengeTTLDuration())
		return notifierSetup{notifier: store, devStore: store, kind: "dev"}, nil
	case len(cfg.KafkaBrokersList()) > 0:
		kn, err := notify.NewKafkaNotifier(cfg.KafkaBrokersList(), cfg.SMSKafkaTopic)
		if err != nil {
			return notifierSetup{}, err
		}
		return notifierSetup{notifier: kn, closer: kn.Close, kind: "kafka"}, nil
	case cfg.SMSLocalAPIKey != "":
		client := sms.NewSMSLocalClient(cfg.SMSLocalAPIKey, cfg.SMSLocalBaseURL, cfg.SMSLocalSender)
		return notifierSetup{notifier: client, kind: "sms"}, nil
	}
	return notifierSetup{kind: "none"}, nil
}

// buildLimiter connects to Redis when REDIS_ADDR is set. The limiter fails open, so an
// unreachable Redis at startup only logs a warning.
func buildLimiter(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*ratelimit.Limiter, *redis.Client) {
	if cfg.RedisAddr == "" {
		return nil, nil
	}
	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn("redis unreachable; sign-in limiting fails open until it recovers", "addr", cfg.RedisAddr, "error", err)
	}
	return ratelimit.New(client, ratelimit.Config{
		MaxAttempts: cfg.SignInMaxAttempts,
		Window:      cfg.SignInWindowDuration(),
	}), client
}
