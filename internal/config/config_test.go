package config

import (
	"os"
	"strings"
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for k := range defaults {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.GRPCAddr != ":8080" {
		t.Errorf("GRPCAddr = %q, want %q", cfg.GRPCAddr, ":8080")
	}
	if cfg.HTTPAddr != ":8081" {
		t.Errorf("HTTPAddr = %q, want %q", cfg.HTTPAddr, ":8081")
	}
	if cfg.JWTIssuer != "authsession" {
		t.Errorf("JWTIssuer = %q, want %q", cfg.JWTIssuer, "authsession")
	}
	if cfg.JWTAudience != "authsession-api" {
		t.Errorf("JWTAudience = %q, want %q", cfg.JWTAudience, "authsession-api")
	}
	if cfg.BcryptCost != 12 {
		t.Errorf("BcryptCost = %d, want 12", cfg.BcryptCost)
	}
	if cfg.TwoFactorMatch != "all" {
		t.Errorf("TwoFactorMatch = %q, want all", cfg.TwoFactorMatch)
	}
	if cfg.SignInMaxAttempts != 5 {
		t.Errorf("SignInMaxAttempts = %d, want 5", cfg.SignInMaxAttempts)
	}
	if cfg.SMSKafkaTopic != "authsession-sms" {
		t.Errorf("SMSKafkaTopic = %q, want default", cfg.SMSKafkaTopic)
	}
	if cfg.OTPReturnToClient {
		t.Error("OTPReturnToClient should default to false")
	}
	if cfg.AuthTTL() != 24*time.Hour {
		t.Errorf("AuthTTL() = %v, want 24h", cfg.AuthTTL())
	}
	if cfg.ChallengeTTLDuration() != 10*time.Minute {
		t.Errorf("ChallengeTTLDuration() = %v, want 10m", cfg.ChallengeTTLDuration())
	}
	if cfg.CollaboratorTimeoutDuration() != 5*time.Second {
		t.Errorf("CollaboratorTimeoutDuration() = %v, want 5s", cfg.CollaboratorTimeoutDuration())
	}
	if cfg.KafkaBrokersList() != nil {
		t.Errorf("KafkaBrokersList() = %v, want nil", cfg.KafkaBrokersList())
	}
}

func TestLoad_EnvVarOverride(t *testing.T) {
	clearEnv(t)
	t.Setenv("GRPC_ADDR", ":9090")
	t.Setenv("JWT_ISSUER", "custom-issuer")
	t.Setenv("BCRYPT_COST", "14")
	t.Setenv("TWO_FACTOR_MATCH", "any")
	t.Setenv("REDIS_ADDR", "localhost:6379")
	t.Setenv("SIGN_IN_WINDOW", "1m")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.GRPCAddr != ":9090" {
		t.Errorf("GRPCAddr = %q, want %q", cfg.GRPCAddr, ":9090")
	}
	if cfg.JWTIssuer != "custom-issuer" {
		t.Errorf("JWTIssuer = %q, want %q", cfg.JWTIssuer, "custom-issuer")
	}
	if cfg.BcryptCost != 14 {
		t.Errorf("BcryptCost = %d, want 14", cfg.BcryptCost)
	}
	if cfg.TwoFactorMatch != "any" {
		t.Errorf("TwoFactorMatch = %q, want any", cfg.TwoFactorMatch)
	}
	if cfg.RedisAddr != "localhost:6379" {
		t.Errorf("RedisAddr = %q", cfg.RedisAddr)
	}
	if cfg.SignInWindowDuration() != time.Minute {
		t.Errorf("SignInWindowDuration() = %v, want 1m", cfg.SignInWindowDuration())
	}
}

func TestLoad_BCRYPT_COSTRange(t *testing.T) {
	for _, cost := range []string{"3", "32"} {
		clearEnv(t)
		t.Setenv("BCRYPT_COST", cost)
		if _, err := Load(); err == nil {
			t.Errorf("BCRYPT_COST=%s: expected error", cost)
		}
	}
	for _, cost := range []string{"4", "31"} {
		clearEnv(t)
		t.Setenv("BCRYPT_COST", cost)
		if _, err := Load(); err != nil {
			t.Errorf("BCRYPT_COST=%s: %v", cost, err)
		}
	}
}

func TestLoad_TwoFactorMatchInvalid(t *testing.T) {
	clearEnv(t)
	t.Setenv("TWO_FACTOR_MATCH", "either")
	_, err := Load()
	if err == nil || !strings.Contains(err.Error(), "TWO_FACTOR_MATCH") {
		t.Fatalf("err = %v, want TWO_FACTOR_MATCH error", err)
	}
}

func TestLoad_InvalidDuration(t *testing.T) {
	clearEnv(t)
	t.Setenv("CHALLENGE_TTL", "soon")
	_, err := Load()
	if err == nil || !strings.Contains(err.Error(), "CHALLENGE_TTL") {
		t.Fatalf("err = %v, want CHALLENGE_TTL error", err)
	}
}

func TestLoad_OTPReturnToClientProduction(t *testing.T) {
	clearEnv(t)
	t.Setenv("APP_ENV", "production")
	t.Setenv("OTP_RETURN_TO_CLIENT", "true")
	t.Setenv("DATABASE_URL", "postgres://db/auth")
	t.Setenv("JWT_PRIVATE_KEY", "priv.pem")
	t.Setenv("JWT_PUBLIC_KEY", "pub.pem")

	_, err := Load()
	if err == nil || !strings.Contains(err.Error(), "OTP_RETURN_TO_CLIENT") {
		t.Fatalf("err = %v, want OTP_RETURN_TO_CLIENT error", err)
	}
}

func TestLoad_OTPReturnToClientDevelopment(t *testing.T) {
	clearEnv(t)
	t.Setenv("APP_ENV", "development")
	t.Setenv("OTP_RETURN_TO_CLIENT", "true")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !cfg.OTPReturnToClient {
		t.Error("OTPReturnToClient should be true")
	}
}

func TestLoad_ProductionRequiresDatabaseAndKeys(t *testing.T) {
	clearEnv(t)
	t.Setenv("APP_ENV", "production")
	if _, err := Load(); err == nil || !strings.Contains(err.Error(), "DATABASE_URL") {
		t.Fatalf("err = %v, want DATABASE_URL error", err)
	}

	t.Setenv("DATABASE_URL", "postgres://db/auth")
	if _, err := Load(); err == nil || !strings.Contains(err.Error(), "JWT_PRIVATE_KEY") {
		t.Fatalf("err = %v, want JWT key error", err)
	}

	t.Setenv("JWT_PRIVATE_KEY", "priv.pem")
	t.Setenv("JWT_PUBLIC_KEY", "pub.pem")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !cfg.IsProduction() {
		t.Error("IsProduction() = false")
	}
}

func TestDurationHelpers_Fallbacks(t *testing.T) {
	for _, v := range []string{"", "invalid", "0s", "-5m"} {
		cfg := &Config{JWTAuthTTL: v, ChallengeTTL: v, CollaboratorTimeout: v, SignInWindow: v}
		if got := cfg.AuthTTL(); got != 24*time.Hour {
			t.Errorf("AuthTTL(%q) = %v", v, got)
		}
		if got := cfg.ChallengeTTLDuration(); got != 10*time.Minute {
			t.Errorf("ChallengeTTLDuration(%q) = %v", v, got)
		}
		if got := cfg.CollaboratorTimeoutDuration(); got != 5*time.Second {
			t.Errorf("CollaboratorTimeoutDuration(%q) = %v", v, got)
		}
		if got := cfg.SignInWindowDuration(); got != 15*time.Minute {
			t.Errorf("SignInWindowDuration(%q) = %v", v, got)
		}
	}
	cfg := &Config{JWTAuthTTL: "1h"}
	if got := cfg.AuthTTL(); got != time.Hour {
		t.Errorf("AuthTTL() = %v, want 1h", got)
	}
}

func TestKafkaBrokersList(t *testing.T) {
	cfg := &Config{KafkaBrokers: " kafka-1:9092, ,kafka-2:9092 "}
	got := cfg.KafkaBrokersList()
	if len(got) != 2 || got[0] != "kafka-1:9092" || got[1] != "kafka-2:9092" {
		t.Errorf("KafkaBrokersList() = %v", got)
	}
	var nilCfg *Config
	if nilCfg.KafkaBrokersList() != nil {
		t.Error("nil config should return nil")
	}
}
