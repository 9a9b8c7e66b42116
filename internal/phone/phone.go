// Package phone validates phone numbers before they reach the account store.
package phone

import (
	"regexp"
	"strings"
)

var e164 = regexp.MustCompile(`^\+[1-9]\d{7,14}$`)

// Validator checks that a phone number is in E.164 form (leading +, country code, 8 to 15 digits).
type Validator struct{}

// NewValidator returns an E.164 validator.
func NewValidator() Validator {
	return Validator{}
}

// Valid reports whether number is a syntactically valid E.164 number.
func (Validator) Valid(number string) bool {
	return e164.MatchString(number)
}

// Normalize strips spaces, dashes, dots and parentheses commonly typed into phone fields.
// It does not add a country code.
func Normalize(number string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '-', '.', '(', ')', '\t':
			return -1
		}
		return r
	}, strings.TrimSpace(number))
}
