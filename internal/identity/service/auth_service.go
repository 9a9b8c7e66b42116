package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"authsession/backend/internal/account/domain"
	"authsession/backend/internal/account/repository"
	"authsession/backend/internal/mfa"
	"authsession/backend/internal/phone"
	"authsession/backend/internal/ratelimit"
	"authsession/backend/internal/security"
)

const (
	// DefaultTimeout bounds every store and limiter call made by an operation.
	DefaultTimeout = 5 * time.Second

	tracerName = "authsession/backend/internal/identity/service"
)

var emailPattern = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)

// MatchMode selects how TwoFactorVerification matches the presented challenge.
type MatchMode string

const (
	// MatchAll requires both the verification token and the code of the same pending challenge.
	MatchAll MatchMode = "all"
	// MatchAny accepts either value on its own. Kept for clients that only send one of them.
	MatchAny MatchMode = "any"
)

// ParseMatchMode returns the mode named by s. Empty selects MatchAll.
func ParseMatchMode(s string) (MatchMode, error) {
	switch MatchMode(strings.ToLower(strings.TrimSpace(s))) {
	case "", MatchAll:
		return MatchAll, nil
	case MatchAny:
		return MatchAny, nil
	}
	return "", fmt.Errorf("unknown two-factor match mode %q", s)
}

// TokenSigner issues and validates the verification and auth tokens.
type TokenSigner interface {
	IssueVerification(email string) (token string, expiresAt time.Time, err error)
	IssueAuth(email, accountID string) (token string, expiresAt time.Time, err error)
	ValidateVerification(token string) (email string, err error)
	ValidateAuth(token string) (email, accountID string, err error)
}

// ChallengeGenerator produces the short code delivered at sign-in.
type ChallengeGenerator interface {
	Generate() (string, error)
}

// PhoneValidator checks phone number syntax.
type PhoneValidator interface {
	Valid(number string) bool
}

// Dispatcher delivers a message without blocking the caller.
type Dispatcher interface {
	Dispatch(destination, message string)
}

// SignInLimiter tracks failed sign-ins. Check returns an error wrapping ratelimit.ErrRateLimited when blocked.
type SignInLimiter interface {
	Check(ctx context.Context, identifier string) error
	Increment(ctx context.Context, identifier string) error
	Reset(ctx context.Context, identifier string) error
}

// Options holds the collaborators and settings of an AuthService. Hasher, Tokens, Codes and Phones are required.
type Options struct {
	Hasher   domain.PasswordHasher
	Tokens   TokenSigner
	Codes    ChallengeGenerator
	Phones   PhoneValidator
	Notifier Dispatcher
	// Limiter is optional; nil disables failed sign-in limiting.
	Limiter SignInLimiter
	Match   MatchMode
	// ChallengeTTL bounds how long a pending challenge is accepted. Zero disables the check.
	ChallengeTTL time.Duration
	// Timeout bounds each store and limiter call. Zero selects DefaultTimeout.
	Timeout time.Duration
	// ReturnCode includes the plain challenge code in the SignIn result. Development only.
	ReturnCode bool
	// Events is optional; it receives one Event per completed operation.
	Events EventEmitter
	Logger *slog.Logger
}

// AuthService implements sign-up, sign-in, two-factor verification and sign-out as
// transitions over an account record. It holds no per-account state between calls.
type AuthService struct {
	repo         repository.Repository
	hasher       domain.PasswordHasher
	tokens       TokenSigner
	codes        ChallengeGenerator
	phones       PhoneValidator
	notifier     Dispatcher
	limiter      SignInLimiter
	match        MatchMode
	challengeTTL time.Duration
	timeout      time.Duration
	returnCode   bool
	events       EventEmitter
	logger       *slog.Logger
	tracer       trace.Tracer
	nowF         func() time.Time
}

// NewAuthService returns an AuthService over repo.
func NewAuthService(repo repository.Repository, opts Options) *AuthService {
	s := &AuthService{
		repo:         repo,
		hasher:       opts.Hasher,
		tokens:       opts.Tokens,
		codes:        opts.Codes,
		phones:       opts.Phones,
		notifier:     opts.Notifier,
		limiter:      opts.Limiter,
		match:        opts.Match,
		challengeTTL: opts.ChallengeTTL,
		timeout:      opts.Timeout,
		returnCode:   opts.ReturnCode,
		events:       opts.Events,
		logger:       opts.Logger,
		tracer:       otel.Tracer(tracerName),
		nowF:         func() time.Time { return time.Now().UTC() },
	}
	if s.match == "" {
		s.match = MatchAll
	}
	if s.timeout <= 0 {
		s.timeout = DefaultTimeout
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

// bounded returns a child context limited to the collaborator timeout.
func (s *AuthService) bounded(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.timeout)
}

func (s *AuthService) start(ctx context.Context, name string) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, "AuthService."+name)
}

func fail(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// SignUp creates a registered account with normalized names and a hashed password.
// The returned account never carries the password hash.
func (s *AuthService) SignUp(ctx context.Context, firstName, lastName, email, phoneNumber, password, confirmPassword string) (*domain.Account, error) {
	ctx, span := s.start(ctx, "SignUp")
	defer span.End()
	a, err := s.signUp(ctx, firstName, lastName, email, phoneNumber, password, confirmPassword)
	if err != nil {
		fail(span, err)
		s.emit(ctx, EventSignUp, "", err)
		return nil, opError(CodeSignUpFailed, "sign_up").Wrapf(err, "sign up")
	}
	span.SetAttributes(attribute.String("account.id", a.ID))
	s.emit(ctx, EventSignUp, a.ID, nil)
	return a, nil
}

func (s *AuthService) signUp(ctx context.Context, firstName, lastName, email, phoneNumber, password, confirmPassword string) (*domain.Account, error) {
	if password != confirmPassword {
		return nil, invalid("passwords do not match")
	}
	if password == "" {
		return nil, invalid("password is required")
	}
	phoneNumber = phone.Normalize(phoneNumber)
	if !s.phones.Valid(phoneNumber) {
		return nil, invalid("invalid phone number")
	}
	email = domain.NormalizeEmail(email)
	if !emailPattern.MatchString(email) {
		return nil, invalid("invalid email")
	}
	a := &domain.Account{
		ID:          uuid.New().String(),
		Email:       email,
		PhoneNumber: phoneNumber,
	}
	a.SetName(firstName, lastName)
	if a.FirstName == "" || a.LastName == "" {
		return nil, invalid("first and last name are required")
	}
	next, err := domain.Transition(domain.StateUnregistered, domain.OpSignUp)
	if err != nil {
		return nil, err
	}

	lctx, cancel := s.bounded(ctx)
	existing, err := s.repo.GetByEmailOrPhone(lctx, email, phoneNumber)
	cancel()
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, ErrConflict
	}

	if _, err := a.SetPassword(s.hasher, password); err != nil {
		return nil, err
	}
	a.State = next
	if err := a.Validate(); err != nil {
		return nil, invalid("%v", err)
	}

	cctx, cancel := s.bounded(ctx)
	err = s.repo.Create(cctx, a)
	cancel()
	if err != nil {
		if errors.Is(err, repository.ErrDuplicateAccount) {
			return nil, ErrConflict
		}
		return nil, err
	}
	return a.View(), nil
}

// SignIn checks the password and opens a new two-factor challenge, replacing any pending one.
// The code is delivered asynchronously; delivery failure never fails the call.
// The returned account carries the plain verification token.
func (s *AuthService) SignIn(ctx context.Context, email, password string) (*domain.Account, error) {
	ctx, span := s.start(ctx, "SignIn")
	defer span.End()
	a, err := s.signIn(ctx, domain.NormalizeEmail(email), password)
	if err != nil {
		fail(span, err)
		s.emit(ctx, EventSignIn, "", err)
		return nil, opError(CodeSignInFailed, "sign_in").Wrapf(err, "sign in")
	}
	span.SetAttributes(attribute.String("account.id", a.ID))
	s.emit(ctx, EventSignIn, a.ID, nil)
	return a, nil
}

func (s *AuthService) signIn(ctx context.Context, email, password string) (*domain.Account, error) {
	if err := s.checkLimiter(ctx, email); err != nil {
		return nil, err
	}

	lctx, cancel := s.bounded(ctx)
	a, err := s.repo.GetByEmail(lctx, email)
	cancel()
	if err != nil {
		return nil, err
	}
	if a == nil {
		return nil, ErrNotFound
	}
	if password == "" || s.hasher.Compare(a.PasswordHash, []byte(password)) != nil {
		s.recordFailure(ctx, email)
		return nil, ErrInvalidCredentials
	}
	next, err := domain.Transition(a.State, domain.OpSignIn)
	if err != nil {
		return nil, err
	}

	token, _, err := s.tokens.IssueVerification(a.Email)
	if err != nil {
		return nil, fmt.Errorf("issue verification token: %w", err)
	}
	code, err := s.codes.Generate()
	if err != nil {
		return nil, fmt.Errorf("generate challenge code: %w", err)
	}
	stored := domain.SessionUpdate{
		State:             next,
		VerificationToken: security.HashToken(token),
		TwoFactorCode:     mfa.HashOTP(code),
	}
	version, err := s.persist(ctx, a, stored)
	if err != nil {
		return nil, err
	}
	a.Version = version

	s.resetLimiter(ctx, email)
	if s.notifier != nil {
		s.notifier.Dispatch(a.PhoneNumber, challengeMessage(a.FirstName, code))
	}

	shown := domain.SessionUpdate{State: next, VerificationToken: token}
	if s.returnCode {
		shown.TwoFactorCode = code
	}
	return present(a, shown), nil
}

// TwoFactorVerification completes a pending challenge and issues the auth token.
// The challenge is single use: both the verification token and the code are cleared.
func (s *AuthService) TwoFactorVerification(ctx context.Context, verificationToken, twoFactorCode string) (*domain.Account, error) {
	ctx, span := s.start(ctx, "TwoFactorVerification")
	defer span.End()
	span.SetAttributes(attribute.String("auth.match_mode", string(s.match)))
	a, err := s.twoFactor(ctx, strings.TrimSpace(verificationToken), strings.TrimSpace(twoFactorCode))
	if err != nil {
		fail(span, err)
		s.emit(ctx, EventTwoFactor, "", err)
		return nil, opError(CodeTwoFactorFailed, "two_factor_verification").Wrapf(err, "two-factor verification")
	}
	span.SetAttributes(attribute.String("account.id", a.ID))
	s.emit(ctx, EventTwoFactor, a.ID, nil)
	return a, nil
}

func (s *AuthService) twoFactor(ctx context.Context, verificationToken, code string) (*domain.Account, error) {
	if verificationToken == "" && code == "" {
		return nil, ErrVerificationFailed
	}
	if s.match == MatchAll && (verificationToken == "" || code == "") {
		return nil, ErrVerificationFailed
	}
	var tokenDigest, codeDigest string
	if verificationToken != "" {
		tokenDigest = security.HashToken(verificationToken)
	}
	if code != "" {
		codeDigest = mfa.HashOTP(code)
	}

	lctx, cancel := s.bounded(ctx)
	a, err := s.repo.GetByVerificationTokenOrCode(lctx, tokenDigest, codeDigest)
	cancel()
	if err != nil {
		return nil, err
	}
	if a == nil || !s.challengeMatches(a, verificationToken, code) {
		return nil, ErrVerificationFailed
	}
	if s.challengeTTL > 0 && s.nowF().After(a.UpdatedAt.Add(s.challengeTTL)) {
		return nil, fmt.Errorf("%w: challenge expired", ErrVerificationFailed)
	}
	next, err := domain.Transition(a.State, domain.OpTwoFactorVerify)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrVerificationFailed, err)
	}

	authToken, _, err := s.tokens.IssueAuth(a.Email, a.ID)
	if err != nil {
		return nil, fmt.Errorf("issue auth token: %w", err)
	}
	version, err := s.persist(ctx, a, domain.SessionUpdate{
		State:     next,
		AuthToken: security.HashToken(authToken),
	})
	if err != nil {
		return nil, err
	}
	a.Version = version
	return present(a, domain.SessionUpdate{State: next, AuthToken: authToken}), nil
}

// challengeMatches checks the presented values against a's pending challenge.
// A verification token only counts when its signature, expiry and email claim also check out.
func (s *AuthService) challengeMatches(a *domain.Account, verificationToken, code string) bool {
	tokenOK := false
	if security.TokenHashEqual(verificationToken, a.VerificationToken) {
		email, err := s.tokens.ValidateVerification(verificationToken)
		tokenOK = err == nil && email == a.Email
	}
	codeOK := mfa.OTPEqual(code, a.TwoFactorCode)
	if s.match == MatchAny {
		return tokenOK || codeOK
	}
	return tokenOK && codeOK
}

// SignOut clears the auth and verification tokens. The pending code, if any, is left in place.
// Signing out an already signed-out account succeeds.
func (s *AuthService) SignOut(ctx context.Context, email string) error {
	ctx, span := s.start(ctx, "SignOut")
	defer span.End()
	id, err := s.signOut(ctx, domain.NormalizeEmail(email))
	s.emit(ctx, EventSignOut, id, err)
	if err != nil {
		fail(span, err)
		return opError(CodeSignOutFailed, "sign_out").Wrapf(err, "sign out")
	}
	return nil
}

func (s *AuthService) signOut(ctx context.Context, email string) (string, error) {
	lctx, cancel := s.bounded(ctx)
	a, err := s.repo.GetByEmail(lctx, email)
	cancel()
	if err != nil {
		return "", err
	}
	if a == nil {
		return "", ErrNotFound
	}
	next, err := domain.Transition(a.State, domain.OpSignOut)
	if err != nil {
		return a.ID, err
	}
	u := domain.SessionUpdate{State: next, TwoFactorCode: a.TwoFactorCode}
	if a.Session() == u {
		return a.ID, nil
	}
	_, err = s.persist(ctx, a, u)
	return a.ID, err
}

// VerifyUser resolves the account behind an Authorization header value ("Bearer <token>").
// It returns nil, never an error, when the header is absent, the token is invalid or revoked,
// or the lookup fails; callers treat nil as anonymous.
func (s *AuthService) VerifyUser(ctx context.Context, authorization string) *domain.Account {
	token := bearerToken(authorization)
	if token == "" {
		return nil
	}
	email, id, err := s.tokens.ValidateAuth(token)
	if err != nil {
		return nil
	}
	lctx, cancel := s.bounded(ctx)
	a, err := s.repo.GetByEmailOrID(lctx, email, id)
	cancel()
	if err != nil {
		s.logger.ErrorContext(ctx, "auth: verify user lookup failed", "error", err)
		return nil
	}
	if a == nil || a.State != domain.StateAuthenticated || !security.TokenHashEqual(token, a.AuthToken) {
		return nil
	}
	return present(a, domain.SessionUpdate{State: a.State})
}

func bearerToken(header string) string {
	header = strings.TrimSpace(header)
	const prefix = "bearer "
	if len(header) >= len(prefix) && strings.EqualFold(header[:len(prefix)], prefix) {
		header = header[len(prefix):]
	}
	return strings.TrimSpace(header)
}

// persist writes u with a compare-and-set on a's version and applies it to a.
func (s *AuthService) persist(ctx context.Context, a *domain.Account, u domain.SessionUpdate) (int64, error) {
	uctx, cancel := s.bounded(ctx)
	defer cancel()
	version, err := s.repo.UpdateSession(uctx, a.ID, a.Version, u)
	if err != nil {
		return 0, err
	}
	a.Apply(u)
	return version, nil
}

func (s *AuthService) checkLimiter(ctx context.Context, email string) error {
	if s.limiter == nil {
		return nil
	}
	lctx, cancel := s.bounded(ctx)
	defer cancel()
	err := s.limiter.Check(lctx, email)
	if errors.Is(err, ratelimit.ErrRateLimited) {
		return ErrRateLimited
	}
	if err != nil {
		s.logger.WarnContext(ctx, "auth: sign-in limiter unavailable", "error", err)
	}
	return nil
}

func (s *AuthService) recordFailure(ctx context.Context, email string) {
	if s.limiter == nil {
		return
	}
	lctx, cancel := s.bounded(ctx)
	defer cancel()
	if err := s.limiter.Increment(lctx, email); err != nil {
		s.logger.WarnContext(ctx, "auth: record failed sign-in", "error", err)
	}
}

func (s *AuthService) resetLimiter(ctx context.Context, email string) {
	if s.limiter == nil {
		return
	}
	lctx, cancel := s.bounded(ctx)
	defer cancel()
	if err := s.limiter.Reset(lctx, email); err != nil {
		s.logger.WarnContext(ctx, "auth: reset sign-in limiter", "error", err)
	}
}

// present returns a caller-safe view of a whose session fields are replaced by shown.
// Stored digests never leave the service.
func present(a *domain.Account, shown domain.SessionUpdate) *domain.Account {
	v := a.View()
	v.Apply(shown)
	return v
}

func challengeMessage(firstName, code string) string {
	return fmt.Sprintf("Hi %s, please confirm your authentication with this code: %s.", firstName, code)
}
