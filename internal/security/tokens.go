package security

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken is returned when a token is malformed, expired, or of the wrong kind.
var ErrInvalidToken = errors.New("invalid token")

// Token kinds carried in the "typ" claim so one kind cannot be replayed as the other.
const (
	kindVerification = "verification"
	kindAuth         = "auth"
)

// VerificationClaims identify which sign-in attempt is waiting for its second factor.
type VerificationClaims struct {
	jwt.RegisteredClaims
	Kind  string `json:"typ"`
	Email string `json:"email"`
}

// AuthClaims are carried by the token issued after a completed two-factor verification.
type AuthClaims struct {
	jwt.RegisteredClaims
	Kind      string `json:"typ"`
	Email     string `json:"email"`
	AccountID string `json:"id"`
}

// TokenProvider issues and validates signed verification and auth tokens using RS256 or ES256.
type TokenProvider struct {
	privateKey      crypto.Signer
	publicKey       crypto.PublicKey
	issuer          string
	audience        string
	verificationTTL time.Duration
	authTTL         time.Duration
	nowF            func() time.Time
}

// NewTokenProvider returns a TokenProvider that signs with privateKey and validates with publicKey.
// issuer and audience are set on every token and checked on validation.
func NewTokenProvider(privateKey crypto.Signer, publicKey crypto.PublicKey, issuer, audience string, verificationTTL, authTTL time.Duration) *TokenProvider {
	return &TokenProvider{
		privateKey:      privateKey,
		publicKey:       publicKey,
		issuer:          issuer,
		audience:        audience,
		verificationTTL: verificationTTL,
		authTTL:         authTTL,
		nowF:            func() time.Time { return time.Now().UTC() },
	}
}

// IssueVerification issues the token handed out at sign-in. Every call yields a distinct token
// because each carries a random jti.
func (p *TokenProvider) IssueVerification(email string) (token string, expiresAt time.Time, err error) {
	reg, err := p.registered(email, p.verificationTTL)
	if err != nil {
		return "", time.Time{}, err
	}
	token, err = p.sign(VerificationClaims{RegisteredClaims: reg, Kind: kindVerification, Email: email})
	return token, reg.ExpiresAt.Time, err
}

// IssueAuth issues the session token for a fully authenticated account.
func (p *TokenProvider) IssueAuth(email, accountID string) (token string, expiresAt time.Time, err error) {
	reg, err := p.registered(accountID, p.authTTL)
	if err != nil {
		return "", time.Time{}, err
	}
	token, err = p.sign(AuthClaims{RegisteredClaims: reg, Kind: kindAuth, Email: email, AccountID: accountID})
	return token, reg.ExpiresAt.Time, err
}

// ValidateVerification checks signature, expiry, issuer, audience and kind, and returns the email claim.
func (p *TokenProvider) ValidateVerification(tokenString string) (email string, err error) {
	var claims VerificationClaims
	if err := p.parse(tokenString, &claims); err != nil {
		return "", err
	}
	if claims.Kind != kindVerification || claims.Email == "" {
		return "", ErrInvalidToken
	}
	return claims.Email, nil
}

// ValidateAuth checks an auth token and returns its email and account id claims.
func (p *TokenProvider) ValidateAuth(tokenString string) (email, accountID string, err error) {
	var claims AuthClaims
	if err := p.parse(tokenString, &claims); err != nil {
		return "", "", err
	}
	if claims.Kind != kindAuth || (claims.Email == "" && claims.AccountID == "") {
		return "", "", ErrInvalidToken
	}
	return claims.Email, claims.AccountID, nil
}

func (p *TokenProvider) registered(subject string, ttl time.Duration) (jwt.RegisteredClaims, error) {
	jti, err := generateJTI()
	if err != nil {
		return jwt.RegisteredClaims{}, err
	}
	now := p.nowF()
	return jwt.RegisteredClaims{
		ID:        jti,
		Subject:   subject,
		Issuer:    p.issuer,
		Audience:  jwt.ClaimStrings{p.audience},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}, nil
}

func (p *TokenProvider) sign(claims jwt.Claims) (string, error) {
	var method jwt.SigningMethod
	switch p.privateKey.Public().(type) {
	case *rsa.PublicKey:
		method = jwt.SigningMethodRS256
	case *ecdsa.PublicKey:
		method = jwt.SigningMethodES256
	default:
		return "", ErrInvalidToken
	}
	return jwt.NewWithClaims(method, claims).SignedString(p.privateKey)
}

func (p *TokenProvider) parse(tokenString string, claims jwt.Claims) error {
	if tokenString == "" {
		return ErrInvalidToken
	}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		switch token.Method.(type) {
		case *jwt.SigningMethodRSA, *jwt.SigningMethodECDSA:
			return p.publicKey, nil
		}
		return nil, ErrInvalidToken
	},
		jwt.WithIssuer(p.issuer),
		jwt.WithAudience(p.audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(p.nowF),
	)
	if err != nil || !token.Valid {
		return ErrInvalidToken
	}
	return nil
}

// HashToken returns the hex SHA-256 digest of a token. Only digests of session tokens are stored.
func HashToken(token string) string {
	h := sha256.Sum256([]byte(token))
	return hex.EncodeToString(h[:])
}

// TokenHashEqual reports in constant time whether token hashes to storedHash.
// An empty stored hash never matches.
func TokenHashEqual(token, storedHash string) bool {
	if storedHash == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(HashToken(token)), []byte(storedHash)) == 1
}

func generateJTI() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
