// Package mfa generates and checks the short codes sent as the second sign-in factor.
package mfa

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"math/big"
)

// DefaultDigits is the code length used when a generator is built with zero digits.
const DefaultDigits = 6

// CodeGenerator produces uniformly distributed numeric codes from crypto/rand.
type CodeGenerator struct {
	digits int
	max    *big.Int
}

// NewCodeGenerator returns a generator for codes of the given length (1..18).
func NewCodeGenerator(digits int) *CodeGenerator {
	if digits <= 0 || digits > 18 {
		digits = DefaultDigits
	}
	return &CodeGenerator{
		digits: digits,
		max:    new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(digits)), nil),
	}
}

// Generate returns a zero-padded code, e.g. "042917".
func (g *CodeGenerator) Generate() (string, error) {
	n, err := rand.Int(rand.Reader, g.max)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%0*d", g.digits, n.Int64()), nil
}

// HashOTP returns the hex SHA-256 digest of a code. Only digests are persisted.
func HashOTP(otp string) string {
	h := sha256.Sum256([]byte(otp))
	return hex.EncodeToString(h[:])
}

// OTPEqual reports in constant time whether providedOTP hashes to storedHash.
// An empty stored hash never matches.
func OTPEqual(providedOTP, storedHash string) bool {
	if storedHash == "" || providedOTP == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(HashOTP(providedOTP)), []byte(storedHash)) == 1
}
