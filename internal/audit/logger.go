// Package audit persists one record per auth operation.
package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"authsession/backend/internal/audit/domain"
	auditrepo "authsession/backend/internal/audit/repository"
	"authsession/backend/internal/identity/service"
)

const writeTimeout = 2 * time.Second

// IPExtractor returns the client IP from the request context (e.g. gRPC metadata or peer).
type IPExtractor func(context.Context) string

// Logger implements service.EventEmitter using the audit repository and an optional IP extractor.
// Writes are best-effort: failures are logged and do not affect the caller.
type Logger struct {
	repo        auditrepo.Repository
	ipExtractor IPExtractor
	logger      *slog.Logger
}

// NewLogger returns a Logger that persists to repo and uses ipExtractor for client IP.
// ipExtractor may be nil; then IP is recorded as "unknown".
func NewLogger(repo auditrepo.Repository, ipExtractor IPExtractor, logger *slog.Logger) *Logger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Logger{repo: repo, ipExtractor: ipExtractor, logger: logger}
}

// Emit writes one audit log entry for e. The write outlives a canceled request but not writeTimeout.
func (l *Logger) Emit(ctx context.Context, e service.Event) {
	if l.repo == nil {
		return
	}
	ip := "unknown"
	if l.ipExtractor != nil {
		ip = l.ipExtractor(ctx)
	}
	at := e.At
	if at.IsZero() {
		at = time.Now().UTC()
	}
	entry := &domain.AuditLog{
		ID:        uuid.New().String(),
		AccountID: e.AccountID,
		Action:    e.Name,
		Success:   e.Success,
		Reason:    e.Reason,
		IP:        ip,
		CreatedAt: at,
	}
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), writeTimeout)
	defer cancel()
	if err := l.repo.Create(wctx, entry); err != nil {
		l.logger.WarnContext(ctx, "audit: failed to log event", "action", e.Name, "error", err)
	}
}
