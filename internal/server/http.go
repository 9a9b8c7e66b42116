package server

import (
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	identityhandler "authsession/backend/internal/identity/handler"
	"authsession/backend/internal/server/interceptors"
)

// HTTPDeps holds the handlers mounted on the JSON/HTTP router.
type HTTPDeps struct {
	Auth     *identityhandler.HTTPHandler
	Verifier interceptors.UserVerifier
	// Health serves GET /healthz. Optional.
	Health http.Handler
	// Audit serves GET /v1/me/audit behind RequireAccount. Optional.
	Audit http.Handler
	// DevOTP serves GET /dev/otp. Set only when dev OTP mode is enabled outside production.
	DevOTP http.Handler
	Logger *slog.Logger
}

// NewHTTPRouter returns the chi router for the HTTP API.
//
//	POST /v1/auth/sign-up
//	POST /v1/auth/sign-in
//	POST /v1/auth/two-factor
//	POST /v1/auth/sign-out   (bearer)
//	GET  /v1/me              (bearer)
//	GET  /v1/me/audit        (bearer)
//	GET  /healthz
//	GET  /dev/otp            (dev only)
func NewHTTPRouter(deps HTTPDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(clientIP)
	r.Use(requestLogger(logger))
	r.Use(middleware.Recoverer)

	if deps.Health != nil {
		r.Method(http.MethodGet, "/healthz", deps.Health)
	}
	if deps.DevOTP != nil {
		r.Method(http.MethodGet, "/dev/otp", deps.DevOTP)
	}
	if deps.Auth == nil {
		return r
	}

	r.Route("/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Post("/auth/sign-up", deps.Auth.SignUp)
			r.Post("/auth/sign-in", deps.Auth.SignIn)
			r.Post("/auth/two-factor", deps.Auth.TwoFactorVerification)
		})
		r.Group(func(r chi.Router) {
			r.Use(RequireAccount(deps.Verifier))
			r.Post("/auth/sign-out", deps.Auth.SignOut)
			r.Get("/me", deps.Auth.Me)
			if deps.Audit != nil {
				r.Method(http.MethodGet, "/me/audit", deps.Audit)
			}
		})
	})
	return r
}

// RequireAccount resolves the Authorization header through verifier and stores the account in the
// request context. Requests without a valid bearer token get 401. A nil verifier rejects everything.
func RequireAccount(verifier interceptors.UserVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if verifier != nil {
				if a := verifier.VerifyUser(r.Context(), r.Header.Get("Authorization")); a != nil {
					next.ServeHTTP(w, r.WithContext(interceptors.WithAccount(r.Context(), a)))
					return
				}
			}
			w.Header().Set("WWW-Authenticate", `Bearer realm="authsession"`)
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "missing or invalid authorization"})
		})
	}
}

// clientIP stores the request's remote host for audit records.
func clientIP(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := r.RemoteAddr
		if host, _, err := net.SplitHostPort(ip); err == nil {
			ip = host
		}
		next.ServeHTTP(w, r.WithContext(interceptors.WithClientIP(r.Context(), ip)))
	})
}

func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			if r.URL.Path == "/healthz" {
				return
			}
			attrs := []any{
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"duration_ms", time.Since(start).Milliseconds(),
				"client_ip", interceptors.ClientIP(r.Context()),
				"request_id", middleware.GetReqID(r.Context()),
			}
			level := slog.LevelInfo
			if ww.Status() >= http.StatusInternalServerError {
				level = slog.LevelWarn
			}
			logger.Log(r.Context(), level, "http request", attrs...)
		})
	}
}
