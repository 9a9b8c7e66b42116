package handler

import (
	"time"

	"authsession/backend/internal/account/domain"
)

// accountFields is the wire form of an account shared by the gRPC and HTTP transports.
// Empty session fields are omitted.
func accountFields(a *domain.Account) map[string]any {
	m := map[string]any{
		"id":           a.ID,
		"first_name":   a.FirstName,
		"last_name":    a.LastName,
		"email":        a.Email,
		"phone_number": a.PhoneNumber,
		"state":        a.State.String(),
	}
	if a.AuthToken != "" {
		m["auth_token"] = a.AuthToken
	}
	if a.VerificationToken != "" {
		m["verification_token"] = a.VerificationToken
	}
	if a.TwoFactorCode != "" {
		m["two_factor_code"] = a.TwoFactorCode
	}
	if !a.CreatedAt.IsZero() {
		m["created_at"] = a.CreatedAt.UTC().Format(time.RFC3339)
	}
	return m
}
