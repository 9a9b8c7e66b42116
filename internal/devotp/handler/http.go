// Package handler serves dev-only OTP retrieval over HTTP. Only mounted when dev OTP is enabled and not production.
package handler

import (
	"context"
	"encoding/json"
	"net/http"
)

const devOTPNote = "DEV MODE ONLY"

// Store is the read side of the dev OTP store.
type Store interface {
	Get(ctx context.Context, destination string) (string, bool)
}

// Handler returns the last challenge message sent to a phone number.
type Handler struct {
	store Store
}

// New returns a dev OTP handler reading from store.
func New(store Store) *Handler {
	return &Handler{store: store}
}

// ServeHTTP handles GET /dev/otp?phone=. Returns 400 without phone, 404 if missing or expired.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	phone := r.URL.Query().Get("phone")
	if phone == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "phone is required"})
		return
	}
	msg, ok := h.store.Get(r.Context(), phone)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "OTP not found or expired"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": msg, "note": devOTPNote})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
