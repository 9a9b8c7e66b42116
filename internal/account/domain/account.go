package domain

import (
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Account is the central credential-and-session entity. The repository owns it;
// services hold a per-request copy and never cache it across calls.
type Account struct {
	ID           string
	FirstName    string
	LastName     string
	Email        string
	PhoneNumber  string
	PasswordHash string

	// Session fields; empty unless the State says otherwise.
	AuthToken         string
	VerificationToken string
	TwoFactorCode     string

	State   State
	Version int64

	// Deprecated is maintained by account lifecycle tooling; the auth core never writes it.
	Deprecated   bool
	DeprecatedAt *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// PasswordHasher is the subset of the hashing primitive the account needs to manage its secret.
type PasswordHasher interface {
	Hash(password []byte) (string, error)
	Compare(hash string, password []byte) error
}

// NormalizeName trims surrounding whitespace, upper-cases the first letter and lower-cases the rest
// ("  joHN " becomes "John").
func NormalizeName(v string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return ""
	}
	// Casers are stateful and must not be shared between goroutines.
	r, size := utf8.DecodeRuneInString(v)
	return cases.Upper(language.Und).String(string(r)) + cases.Lower(language.Und).String(v[size:])
}

// NormalizeEmail trims and lower-cases an email address.
func NormalizeEmail(v string) string {
	return strings.ToLower(strings.TrimSpace(v))
}

// SetName stores both name fields in normalized form.
func (a *Account) SetName(firstName, lastName string) {
	a.FirstName = NormalizeName(firstName)
	a.LastName = NormalizeName(lastName)
}

// SetPassword hashes and stores password. If the current hash already verifies password
// the hash is left untouched and changed is false.
func (a *Account) SetPassword(h PasswordHasher, password string) (changed bool, err error) {
	if password == "" {
		return false, errors.New("password is required")
	}
	if a.PasswordHash != "" && h.Compare(a.PasswordHash, []byte(password)) == nil {
		return false, nil
	}
	hashed, err := h.Hash([]byte(password))
	if err != nil {
		return false, err
	}
	a.PasswordHash = hashed
	return true, nil
}

// View returns a copy that is safe to hand to callers: the password hash is blanked.
func (a *Account) View() *Account {
	if a == nil {
		return nil
	}
	v := *a
	v.PasswordHash = ""
	if a.DeprecatedAt != nil {
		t := *a.DeprecatedAt
		v.DeprecatedAt = &t
	}
	return &v
}

// Validate checks the fields required before the account is first persisted.
func (a *Account) Validate() error {
	if a.Email == "" {
		return errors.New("email is required")
	}
	if a.PhoneNumber == "" {
		return errors.New("phone number is required")
	}
	if a.FirstName == "" || a.LastName == "" {
		return errors.New("first and last name are required")
	}
	if a.PasswordHash == "" {
		return errors.New("password hash is required")
	}
	return nil
}
