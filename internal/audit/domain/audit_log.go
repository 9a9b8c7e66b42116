package domain

import "time"

// AuditLog is one recorded auth operation.
type AuditLog struct {
	ID string
	// AccountID is empty when the operation failed before an account was resolved.
	AccountID string
	Action    string
	Success   bool
	Reason    string
	IP        string
	CreatedAt time.Time
}
