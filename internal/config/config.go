// Package config loads and validates app config from env and an optional .env file using Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	// GRPCAddr is the address the gRPC server listens on (e.g. :8080).
	GRPCAddr string `mapstructure:"GRPC_ADDR"`
	// HTTPAddr is the address of the JSON/HTTP API; empty disables it.
	HTTPAddr string `mapstructure:"HTTP_ADDR"`
	// DatabaseURL is the Postgres DSN. Empty selects the in-memory account store (development only).
	DatabaseURL string `mapstructure:"DATABASE_URL"`

	// JWTPrivateKey is the PEM-encoded private key (RSA or ECDSA) or path to file; used with JWT_PUBLIC_KEY for RS256/ES256.
	JWTPrivateKey string `mapstructure:"JWT_PRIVATE_KEY"`
	// JWTPublicKey is the PEM-encoded public key or path to file; used with JWT_PRIVATE_KEY.
	JWTPublicKey string `mapstructure:"JWT_PUBLIC_KEY"`
	JWTIssuer    string `mapstructure:"JWT_ISSUER"`
	JWTAudience  string `mapstructure:"JWT_AUDIENCE"`
	// JWTAuthTTL is the auth token lifetime (e.g. "24h").
	JWTAuthTTL string `mapstructure:"JWT_AUTH_TTL"`
	// ChallengeTTL is how long a sign-in challenge (verification token and code) stays valid (e.g. "10m").
	ChallengeTTL string `mapstructure:"CHALLENGE_TTL"`
	// BcryptCost is the bcrypt cost factor (4–31); default 12.
	BcryptCost int `mapstructure:"BCRYPT_COST"`
	// TwoFactorMatch is "all" (token and code must both match) or "any" (either one).
	TwoFactorMatch string `mapstructure:"TWO_FACTOR_MATCH"`
	// CollaboratorTimeout bounds each store, limiter and notifier call (e.g. "5s").
	CollaboratorTimeout string `mapstructure:"COLLABORATOR_TIMEOUT"`

	// RedisAddr enables the failed sign-in limiter when set (e.g. localhost:6379).
	RedisAddr         string `mapstructure:"REDIS_ADDR"`
	SignInMaxAttempts int    `mapstructure:"SIGN_IN_MAX_ATTEMPTS"`
	SignInWindow      string `mapstructure:"SIGN_IN_WINDOW"`

	// KafkaBrokers is a comma-separated list of Kafka broker addresses (e.g. "localhost:9092").
	// When set, challenge codes are published to SMSKafkaTopic and delivered by the worker.
	KafkaBrokers  string `mapstructure:"KAFKA_BROKERS"`
	SMSKafkaTopic string `mapstructure:"SMS_KAFKA_TOPIC"`
	// KafkaGroupID is the consumer group ID for the SMS worker.
	KafkaGroupID string `mapstructure:"KAFKA_GROUP_ID"`

	// SMSLocalAPIKey is the API key for SMS Local. Used by the worker, or directly by the server when Kafka is not configured.
	SMSLocalAPIKey string `mapstructure:"SMS_LOCAL_API_KEY"`
	// SMSLocalSender is the optional sender ID for SMS Local.
	SMSLocalSender string `mapstructure:"SMS_LOCAL_SENDER"`
	// SMSLocalBaseURL is the SMS Local API base URL.
	SMSLocalBaseURL string `mapstructure:"SMS_LOCAL_BASE_URL"`

	// OTPReturnToClient when true enables dev OTP mode: no SMS, the code is returned by SignIn and kept for GET /dev/otp.
	// Must not be true when Env is production.
	OTPReturnToClient bool `mapstructure:"OTP_RETURN_TO_CLIENT"`
	// Env is the application environment (e.g. "development", "production").
	Env string `mapstructure:"APP_ENV"`
	// LogFormat is "json" (default) or "text".
	LogFormat string `mapstructure:"LOG_FORMAT"`

	// OTLPEndpoint enables OpenTelemetry export when set (e.g. localhost:4317).
	OTLPEndpoint string `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	OTLPInsecure bool   `mapstructure:"OTEL_EXPORTER_OTLP_INSECURE"`
}

var defaults = map[string]any{
	"GRPC_ADDR":                   ":8080",
	"HTTP_ADDR":                   ":8081",
	"DATABASE_URL":                "",
	"JWT_PRIVATE_KEY":             "",
	"JWT_PUBLIC_KEY":              "",
	"JWT_ISSUER":                  "authsession",
	"JWT_AUDIENCE":                "authsession-api",
	"JWT_AUTH_TTL":                "24h",
	"CHALLENGE_TTL":               "10m",
	"BCRYPT_COST":                 12,
	"TWO_FACTOR_MATCH":            "all",
	"COLLABORATOR_TIMEOUT":        "5s",
	"REDIS_ADDR":                  "",
	"SIGN_IN_MAX_ATTEMPTS":        5,
	"SIGN_IN_WINDOW":              "15m",
	"KAFKA_BROKERS":               "",
	"SMS_KAFKA_TOPIC":             "authsession-sms",
	"KAFKA_GROUP_ID":              "authsession-sms-worker",
	"SMS_LOCAL_API_KEY":           "",
	"SMS_LOCAL_SENDER":            "",
	"SMS_LOCAL_BASE_URL":          "https://www.smslocal.com/dev/bulkV2",
	"OTP_RETURN_TO_CLIENT":        false,
	"APP_ENV":                     "",
	"LOG_FORMAT":                  "json",
	"OTEL_EXPORTER_OTLP_ENDPOINT": "",
	"OTEL_EXPORTER_OTLP_INSECURE": false,
}

// Load reads .env (if present), then builds and validates Config from the environment via Viper.
// Missing .env is ignored (e.g. in CI). Env vars override .env. Returns an error if required fields are invalid.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore ErrConfigFileNotFound

	v.AutomaticEnv()
	// Every key needs a default so Unmarshal sees values that only exist in the environment.
	for k, d := range defaults {
		v.SetDefault(k, d)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks field ranges and combinations that must hold before startup.
func (c *Config) Validate() error {
	if c.GRPCAddr == "" {
		return errors.New("config: GRPC_ADDR must be set")
	}
	if c.OTPReturnToClient && c.IsProduction() {
		return errors.New("config: OTP_RETURN_TO_CLIENT must not be true when APP_ENV=production")
	}
	if c.BcryptCost == 0 {
		c.BcryptCost = 12
	}
	if c.BcryptCost < 4 || c.BcryptCost > 31 {
		return errors.New("config: BCRYPT_COST must be between 4 and 31")
	}
	switch strings.ToLower(c.TwoFactorMatch) {
	case "", "all", "any":
	default:
		return fmt.Errorf("config: TWO_FACTOR_MATCH must be all or any, got %q", c.TwoFactorMatch)
	}
	if c.IsProduction() {
		if c.DatabaseURL == "" {
			return errors.New("config: DATABASE_URL is required when APP_ENV=production")
		}
		if c.JWTPrivateKey == "" || c.JWTPublicKey == "" {
			return errors.New("config: JWT_PRIVATE_KEY and JWT_PUBLIC_KEY are required when APP_ENV=production")
		}
	}
	for key, val := range map[string]string{
		"JWT_AUTH_TTL":         c.JWTAuthTTL,
		"CHALLENGE_TTL":        c.ChallengeTTL,
		"COLLABORATOR_TIMEOUT": c.CollaboratorTimeout,
		"SIGN_IN_WINDOW":       c.SignInWindow,
	} {
		if val == "" {
			continue
		}
		if d, err := time.ParseDuration(val); err != nil || d <= 0 {
			return fmt.Errorf("config: %s must be a positive duration, got %q", key, val)
		}
	}
	return nil
}

// IsProduction reports whether APP_ENV is production.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Env, "production")
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// AuthTTL parses JWTAuthTTL. Returns 24h if unset or invalid.
func (c *Config) AuthTTL() time.Duration {
	return parseDuration(c.JWTAuthTTL, 24*time.Hour)
}

// ChallengeTTLDuration parses ChallengeTTL. Returns 10m if unset or invalid.
func (c *Config) ChallengeTTLDuration() time.Duration {
	return parseDuration(c.ChallengeTTL, 10*time.Minute)
}

// CollaboratorTimeoutDuration parses CollaboratorTimeout. Returns 5s if unset or invalid.
func (c *Config) CollaboratorTimeoutDuration() time.Duration {
	return parseDuration(c.CollaboratorTimeout, 5*time.Second)
}

// SignInWindowDuration parses SignInWindow. Returns 15m if unset or invalid.
func (c *Config) SignInWindowDuration() time.Duration {
	return parseDuration(c.SignInWindow, 15*time.Minute)
}

// KafkaBrokersList returns Kafka broker addresses from the comma-separated config.
// An empty list means challenge delivery does not go through Kafka.
func (c *Config) KafkaBrokersList() []string {
	if c == nil || c.KafkaBrokers == "" {
		return nil
	}
	parts := strings.Split(c.KafkaBrokers, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
