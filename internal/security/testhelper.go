package security

import "time"

// NewTestTokenProvider returns a TokenProvider signing with a freshly generated ES256 key.
// For unit tests only.
func NewTestTokenProvider() (*TokenProvider, error) {
	signer, err := GenerateSigningKey()
	if err != nil {
		return nil, err
	}
	return NewTokenProvider(signer, signer.Public(), "test-issuer", "test-audience", 10*time.Minute, 24*time.Hour), nil
}
