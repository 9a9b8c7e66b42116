// Package handler serves an account's own auth audit trail over HTTP.
package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"authsession/backend/internal/audit/repository"
	"authsession/backend/internal/server/interceptors"
)

const (
	defaultLimit = 20
	maxLimit     = 100
)

// Handler serves GET /v1/me/audit for the authenticated account.
type Handler struct {
	repo   repository.Repository
	logger *slog.Logger
}

// New returns a Handler that reads from repo.
func New(repo repository.Repository, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{repo: repo, logger: logger}
}

type entry struct {
	Action    string    `json:"action"`
	Success   bool      `json:"success"`
	Reason    string    `json:"reason,omitempty"`
	IP        string    `json:"ip,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// ServeHTTP lists the newest audit entries of the account in the request context.
// The optional limit query parameter is clamped to [1, 100].
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	accountID, ok := interceptors.GetAccountID(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "missing or invalid authorization"})
		return
	}
	limit, ok := parseLimit(r.URL.Query().Get("limit"))
	if !ok {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "limit must be a positive integer"})
		return
	}
	logs, err := h.repo.ListByAccount(r.Context(), accountID, limit)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "audit: list failed", "account_id", accountID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}
	out := make([]entry, 0, len(logs))
	for _, l := range logs {
		out = append(out, entry{Action: l.Action, Success: l.Success, Reason: l.Reason, IP: l.IP, CreatedAt: l.CreatedAt})
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": out})
}

func parseLimit(raw string) (int, bool) {
	if raw == "" {
		return defaultLimit, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, false
	}
	return min(n, maxLimit), true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
