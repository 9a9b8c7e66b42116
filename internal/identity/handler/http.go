package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"authsession/backend/internal/server/interceptors"
)

const maxBodyBytes = 1 << 16

// HTTPHandler serves the auth operations as JSON over HTTP.
type HTTPHandler struct {
	svc    AuthService
	logger *slog.Logger
}

// NewHTTPHandler returns an HTTP handler for svc.
func NewHTTPHandler(svc AuthService, logger *slog.Logger) *HTTPHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPHandler{svc: svc, logger: logger}
}

type signUpRequest struct {
	FirstName       string `json:"first_name"`
	LastName        string `json:"last_name"`
	Email           string `json:"email"`
	PhoneNumber     string `json:"phone_number"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirm_password"`
}

type signInRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type twoFactorRequest struct {
	VerificationToken string `json:"verification_token"`
	TwoFactorCode     string `json:"two_factor_code"`
}

// SignUp handles POST /v1/auth/sign-up.
func (h *HTTPHandler) SignUp(w http.ResponseWriter, r *http.Request) {
	var req signUpRequest
	if !h.decode(w, r, &req) {
		return
	}
	a, err := h.svc.SignUp(r.Context(), req.FirstName, req.LastName, req.Email, req.PhoneNumber, req.Password, req.ConfirmPassword)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, accountFields(a))
}

// SignIn handles POST /v1/auth/sign-in.
func (h *HTTPHandler) SignIn(w http.ResponseWriter, r *http.Request) {
	var req signInRequest
	if !h.decode(w, r, &req) {
		return
	}
	a, err := h.svc.SignIn(r.Context(), req.Email, req.Password)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, accountFields(a))
}

// TwoFactorVerification handles POST /v1/auth/two-factor.
func (h *HTTPHandler) TwoFactorVerification(w http.ResponseWriter, r *http.Request) {
	var req twoFactorRequest
	if !h.decode(w, r, &req) {
		return
	}
	a, err := h.svc.TwoFactorVerification(r.Context(), req.VerificationToken, req.TwoFactorCode)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, accountFields(a))
}

// SignOut handles POST /v1/auth/sign-out for the authenticated account.
func (h *HTTPHandler) SignOut(w http.ResponseWriter, r *http.Request) {
	a, ok := interceptors.AccountFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing or invalid authorization")
		return
	}
	if err := h.svc.SignOut(r.Context(), a.Email); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Me handles GET /v1/me.
func (h *HTTPHandler) Me(w http.ResponseWriter, r *http.Request) {
	a, ok := interceptors.AccountFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing or invalid authorization")
		return
	}
	writeJSON(w, http.StatusOK, accountFields(a))
}

func (h *HTTPHandler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func (h *HTTPHandler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := HTTPStatus(err)
	if status == http.StatusInternalServerError {
		h.logger.ErrorContext(r.Context(), "auth: request failed", "path", r.URL.Path, "error", err)
	}
	writeError(w, status, publicMessage(err))
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
