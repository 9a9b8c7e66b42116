package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/samber/oops"

	"authsession/backend/internal/account/domain"
	"authsession/backend/internal/account/repository"
	"authsession/backend/internal/mfa"
	"authsession/backend/internal/notify"
	"authsession/backend/internal/phone"
	"authsession/backend/internal/ratelimit"
	"authsession/backend/internal/security"
)

const (
	testPassword = "correct horse battery staple"
	testEmail    = "john@example.com"
	testPhone    = "+15551234567"
)

// countingRepo wraps the in-memory repository and counts calls.
type countingRepo struct {
	*repository.MemoryRepository
	mu        sync.Mutex
	lookups   int
	creates   int
	updates   int
	lookupErr error
	updateErr error
	block     bool
}

func newCountingRepo() *countingRepo {
	return &countingRepo{MemoryRepository: repository.NewMemoryRepository()}
}

func (r *countingRepo) lookup(ctx context.Context) error {
	r.mu.Lock()
	r.lookups++
	err, block := r.lookupErr, r.block
	r.mu.Unlock()
	if block {
		<-ctx.Done()
		return ctx.Err()
	}
	return err
}

func (r *countingRepo) GetByEmail(ctx context.Context, email string) (*domain.Account, error) {
	if err := r.lookup(ctx); err != nil {
		return nil, err
	}
	return r.MemoryRepository.GetByEmail(ctx, email)
}

func (r *countingRepo) GetByEmailOrPhone(ctx context.Context, email, phone string) (*domain.Account, error) {
	if err := r.lookup(ctx); err != nil {
		return nil, err
	}
	return r.MemoryRepository.GetByEmailOrPhone(ctx, email, phone)
}

func (r *countingRepo) GetByEmailOrID(ctx context.Context, email, id string) (*domain.Account, error) {
	if err := r.lookup(ctx); err != nil {
		return nil, err
	}
	return r.MemoryRepository.GetByEmailOrID(ctx, email, id)
}

func (r *countingRepo) GetByVerificationTokenOrCode(ctx context.Context, token, code string) (*domain.Account, error) {
	if err := r.lookup(ctx); err != nil {
		return nil, err
	}
	return r.MemoryRepository.GetByVerificationTokenOrCode(ctx, token, code)
}

func (r *countingRepo) Create(ctx context.Context, a *domain.Account) error {
	r.mu.Lock()
	r.creates++
	r.mu.Unlock()
	return r.MemoryRepository.Create(ctx, a)
}

func (r *countingRepo) UpdateSession(ctx context.Context, id string, version int64, u domain.SessionUpdate) (int64, error) {
	r.mu.Lock()
	r.updates++
	err := r.updateErr
	r.mu.Unlock()
	if err != nil {
		return 0, err
	}
	return r.MemoryRepository.UpdateSession(ctx, id, version, u)
}

func (r *countingRepo) writes() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.creates + r.updates
}

func (r *countingRepo) stored(t *testing.T, email string) *domain.Account {
	t.Helper()
	a, err := r.MemoryRepository.GetByEmail(context.Background(), email)
	if err != nil || a == nil {
		t.Fatalf("stored account %s: %v", email, err)
	}
	return a
}

type sentMessage struct {
	destination string
	message     string
}

type recordingDispatcher struct {
	mu   sync.Mutex
	sent []sentMessage
}

func (d *recordingDispatcher) Dispatch(destination, message string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sent = append(d.sent, sentMessage{destination, message})
}

func (d *recordingDispatcher) last(t *testing.T) sentMessage {
	t.Helper()
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.sent) == 0 {
		t.Fatal("no message dispatched")
	}
	return d.sent[len(d.sent)-1]
}

// sequenceCodes hands out 100001, 100002, ...
type sequenceCodes struct {
	mu sync.Mutex
	n  int
}

func (g *sequenceCodes) Generate() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("%06d", 100000+g.n), nil
}

type fakeLimiter struct {
	mu       sync.Mutex
	checkErr error
	failures map[string]int
	resets   int
}

func (l *fakeLimiter) Check(ctx context.Context, id string) error {
	return l.checkErr
}

func (l *fakeLimiter) Increment(ctx context.Context, id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.failures == nil {
		l.failures = make(map[string]int)
	}
	l.failures[id]++
	return nil
}

func (l *fakeLimiter) Reset(ctx context.Context, id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.resets++
	delete(l.failures, id)
	return nil
}

type harness struct {
	svc    *AuthService
	repo   *countingRepo
	sent   *recordingDispatcher
	tokens *security.TokenProvider
}

func newHarness(t *testing.T, opts Options) *harness {
	t.Helper()
	tokens, err := security.NewTestTokenProvider()
	if err != nil {
		t.Fatalf("NewTestTokenProvider: %v", err)
	}
	repo := newCountingRepo()
	sent := &recordingDispatcher{}
	if opts.Hasher == nil {
		opts.Hasher = security.NewHasher(4)
	}
	if opts.Tokens == nil {
		opts.Tokens = tokens
	}
	if opts.Codes == nil {
		opts.Codes = &sequenceCodes{}
	}
	if opts.Phones == nil {
		opts.Phones = phone.NewValidator()
	}
	if opts.Notifier == nil {
		opts.Notifier = sent
	}
	return &harness{svc: NewAuthService(repo, opts), repo: repo, sent: sent, tokens: tokens}
}

func (h *harness) signUp(t *testing.T) *domain.Account {
	t.Helper()
	a, err := h.svc.SignUp(context.Background(), "john", "doe", testEmail, testPhone, testPassword, testPassword)
	if err != nil {
		t.Fatalf("SignUp: %v", err)
	}
	return a
}

// signIn returns the verification token and the delivered code.
func (h *harness) signIn(t *testing.T) (string, string) {
	t.Helper()
	a, err := h.svc.SignIn(context.Background(), testEmail, testPassword)
	if err != nil {
		t.Fatalf("SignIn: %v", err)
	}
	msg := h.sent.last(t).message
	code := strings.TrimSuffix(msg[strings.LastIndex(msg, " ")+1:], ".")
	return a.VerificationToken, code
}

func TestSignUp_NormalizesAndHashes(t *testing.T) {
	h := newHarness(t, Options{})
	a, err := h.svc.SignUp(context.Background(), "  joHN ", "DOE", " John@Example.COM ", testPhone, testPassword, testPassword)
	if err != nil {
		t.Fatalf("SignUp: %v", err)
	}
	if a.FirstName != "John" || a.LastName != "Doe" {
		t.Errorf("names = %q %q, want John Doe", a.FirstName, a.LastName)
	}
	if a.Email != testEmail {
		t.Errorf("email = %q", a.Email)
	}
	if a.PasswordHash != "" {
		t.Error("returned account must not carry the password hash")
	}
	if a.State != domain.StateRegistered || a.AuthToken != "" || a.VerificationToken != "" || a.TwoFactorCode != "" {
		t.Errorf("unexpected session fields: %+v", a.Session())
	}
	stored := h.repo.stored(t, testEmail)
	if stored.PasswordHash == "" || stored.PasswordHash == testPassword {
		t.Fatal("stored password must be a hash")
	}
	if err := security.NewHasher(4).Compare(stored.PasswordHash, []byte(testPassword)); err != nil {
		t.Errorf("stored hash does not verify: %v", err)
	}
	if h.repo.creates != 1 || h.repo.updates != 0 {
		t.Errorf("writes: creates=%d updates=%d, want exactly one create", h.repo.creates, h.repo.updates)
	}
}

func TestSignUp_PasswordMismatch(t *testing.T) {
	h := newHarness(t, Options{})
	_, err := h.svc.SignUp(context.Background(), "John", "Doe", testEmail, testPhone, testPassword, "something else")
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("want ErrValidation, got %v", err)
	}
	if h.repo.writes() != 0 || h.repo.lookups != 0 {
		t.Errorf("store touched: lookups=%d writes=%d", h.repo.lookups, h.repo.writes())
	}
	if strings.Contains(err.Error(), testPassword) {
		t.Error("error must not contain the password")
	}
}

func TestSignUp_ValidationErrors(t *testing.T) {
	h := newHarness(t, Options{})
	cases := []struct {
		name                       string
		first, last, email, number string
		password                   string
	}{
		{"invalid phone", "John", "Doe", testEmail, "555-1234", testPassword},
		{"invalid email", "John", "Doe", "not-an-email", testPhone, testPassword},
		{"blank first name", "   ", "Doe", testEmail, testPhone, testPassword},
		{"empty password", "John", "Doe", testEmail, testPhone, ""},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			_, err := h.svc.SignUp(context.Background(), c.first, c.last, c.email, c.number, c.password, c.password)
			if !errors.Is(err, ErrValidation) {
				t.Errorf("want ErrValidation, got %v", err)
			}
		})
	}
	if h.repo.writes() != 0 {
		t.Errorf("writes = %d, want 0", h.repo.writes())
	}
}

func TestSignUp_Conflict(t *testing.T) {
	h := newHarness(t, Options{})
	h.signUp(t)

	_, err := h.svc.SignUp(context.Background(), "Other", "Person", testEmail, "+15559999999", testPassword, testPassword)
	if !errors.Is(err, ErrConflict) {
		t.Errorf("duplicate email: want ErrConflict, got %v", err)
	}
	_, err = h.svc.SignUp(context.Background(), "Other", "Person", "other@example.com", testPhone, testPassword, testPassword)
	if !errors.Is(err, ErrConflict) {
		t.Errorf("duplicate phone: want ErrConflict, got %v", err)
	}
	if h.repo.Len() != 1 {
		t.Errorf("accounts = %d, want 1", h.repo.Len())
	}
}

func TestSignUp_NormalizesPhoneNumber(t *testing.T) {
	h := newHarness(t, Options{})
	a, err := h.svc.SignUp(context.Background(), "John", "Doe", testEmail, " +1 (555) 123-4567 ", testPassword, testPassword)
	if err != nil {
		t.Fatalf("SignUp: %v", err)
	}
	if a.PhoneNumber != testPhone {
		t.Errorf("phone = %q, want %q", a.PhoneNumber, testPhone)
	}
	if got := h.repo.stored(t, testEmail).PhoneNumber; got != testPhone {
		t.Errorf("stored phone = %q, want %q", got, testPhone)
	}

	_, err = h.svc.SignUp(context.Background(), "Other", "Person", "other@example.com", "+1 555 123 4567", testPassword, testPassword)
	if !errors.Is(err, ErrConflict) {
		t.Errorf("same number in another format: want ErrConflict, got %v", err)
	}
}

func TestSignUp_ErrorCarriesOperationCode(t *testing.T) {
	h := newHarness(t, Options{})
	_, err := h.svc.SignUp(context.Background(), "John", "Doe", testEmail, testPhone, "a", "b")
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		t.Fatalf("want oops error, got %T", err)
	}
	if oopsErr.Code() != CodeSignUpFailed {
		t.Errorf("code = %v, want %s", oopsErr.Code(), CodeSignUpFailed)
	}
	if Kind(err) != ErrValidation {
		t.Errorf("Kind = %v", Kind(err))
	}
}

func TestSignUp_StoreFailureIsWrapped(t *testing.T) {
	h := newHarness(t, Options{})
	storeErr := errors.New("connection refused")
	h.repo.lookupErr = storeErr

	_, err := h.svc.SignUp(context.Background(), "John", "Doe", testEmail, testPhone, testPassword, testPassword)
	if !errors.Is(err, storeErr) {
		t.Fatalf("want wrapped store error, got %v", err)
	}
	if Kind(err) != nil {
		t.Errorf("store failure should have no kind, got %v", Kind(err))
	}
}

func TestSignIn_OpensChallenge(t *testing.T) {
	h := newHarness(t, Options{})
	h.signUp(t)

	a, err := h.svc.SignIn(context.Background(), "JOHN@example.com", testPassword)
	if err != nil {
		t.Fatalf("SignIn: %v", err)
	}
	if a.VerificationToken == "" {
		t.Fatal("SignIn must return a verification token")
	}
	if a.TwoFactorCode != "" {
		t.Error("code must only travel through the notifier")
	}
	if a.State != domain.StatePendingTwoFactor {
		t.Errorf("state = %s", a.State)
	}
	email, err := h.tokens.ValidateVerification(a.VerificationToken)
	if err != nil || email != testEmail {
		t.Errorf("verification token claims: email=%q err=%v", email, err)
	}

	msg := h.sent.last(t)
	if msg.destination != testPhone {
		t.Errorf("destination = %q", msg.destination)
	}
	if msg.message != "Hi John, please confirm your authentication with this code: 100001." {
		t.Errorf("message = %q", msg.message)
	}

	stored := h.repo.stored(t, testEmail)
	if stored.VerificationToken != security.HashToken(a.VerificationToken) {
		t.Error("stored verification token should be the digest of the issued token")
	}
	if stored.TwoFactorCode != mfa.HashOTP("100001") {
		t.Error("stored code should be the digest of the delivered code")
	}
	if stored.State != domain.StatePendingTwoFactor {
		t.Errorf("stored state = %s", stored.State)
	}
}

func TestSignIn_ReturnCode(t *testing.T) {
	h := newHarness(t, Options{ReturnCode: true})
	h.signUp(t)
	a, err := h.svc.SignIn(context.Background(), testEmail, testPassword)
	if err != nil {
		t.Fatalf("SignIn: %v", err)
	}
	if a.TwoFactorCode != "100001" {
		t.Errorf("code = %q, want 100001", a.TwoFactorCode)
	}
}

func TestSignIn_FreshChallengeEachTime(t *testing.T) {
	h := newHarness(t, Options{})
	h.signUp(t)

	token1, code1 := h.signIn(t)
	token2, code2 := h.signIn(t)
	if token1 == token2 || code1 == code2 {
		t.Fatalf("challenges must differ: %q/%q vs %q/%q", token1, code1, token2, code2)
	}

	if _, err := h.svc.TwoFactorVerification(context.Background(), token1, code1); !errors.Is(err, ErrVerificationFailed) {
		t.Errorf("superseded challenge: want ErrVerificationFailed, got %v", err)
	}
	if _, err := h.svc.TwoFactorVerification(context.Background(), token2, code2); err != nil {
		t.Errorf("latest challenge: %v", err)
	}
}

func TestSignIn_UnknownEmail(t *testing.T) {
	h := newHarness(t, Options{})
	_, err := h.svc.SignIn(context.Background(), "nobody@example.com", testPassword)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
	oopsErr, ok := oops.AsOops(err)
	if !ok || oopsErr.Code() != CodeSignInFailed {
		t.Errorf("want %s oops error, got %v", CodeSignInFailed, err)
	}
}

func TestSignIn_WrongPasswordLeavesChallengeUntouched(t *testing.T) {
	h := newHarness(t, Options{})
	h.signUp(t)
	token, code := h.signIn(t)
	before := h.repo.stored(t, testEmail)
	writes := h.repo.writes()

	_, err := h.svc.SignIn(context.Background(), testEmail, "wrong password")
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("want ErrInvalidCredentials, got %v", err)
	}
	if h.repo.writes() != writes {
		t.Error("failed sign-in must not write")
	}
	after := h.repo.stored(t, testEmail)
	if after.Session() != before.Session() || after.Version != before.Version {
		t.Errorf("challenge changed: %+v -> %+v", before.Session(), after.Session())
	}
	if _, err := h.svc.TwoFactorVerification(context.Background(), token, code); err != nil {
		t.Errorf("prior challenge should still verify: %v", err)
	}
}

func TestSignIn_DeliveryFailureDoesNotFail(t *testing.T) {
	d := notify.NewDispatcher(notify.NotifierFunc(func(ctx context.Context, destination, message string) error {
		return errors.New("sms gateway down")
	}))
	h := newHarness(t, Options{Notifier: d})
	h.signUp(t)

	a, err := h.svc.SignIn(context.Background(), testEmail, testPassword)
	d.Wait()
	if err != nil {
		t.Fatalf("SignIn must succeed despite delivery failure: %v", err)
	}
	if a.VerificationToken == "" {
		t.Error("verification token missing")
	}
}

func TestSignIn_StaleWriteIsSurfaced(t *testing.T) {
	h := newHarness(t, Options{})
	h.signUp(t)
	h.repo.updateErr = repository.ErrStaleAccount

	_, err := h.svc.SignIn(context.Background(), testEmail, testPassword)
	if !errors.Is(err, repository.ErrStaleAccount) {
		t.Fatalf("want ErrStaleAccount, got %v", err)
	}
	if len(h.sent.sent) != 0 {
		t.Error("no code may be delivered when the challenge was not persisted")
	}
}

func TestSignIn_ConcurrentChallengesStayConsistent(t *testing.T) {
	h := newHarness(t, Options{ReturnCode: true})
	h.signUp(t)

	type challenge struct{ token, code string }
	var (
		mu   sync.Mutex
		won  []challenge
		wg   sync.WaitGroup
		errs int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a, err := h.svc.SignIn(context.Background(), testEmail, testPassword)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if !errors.Is(err, repository.ErrStaleAccount) {
					t.Errorf("SignIn: %v", err)
				}
				errs++
				return
			}
			won = append(won, challenge{a.VerificationToken, a.TwoFactorCode})
		}()
	}
	wg.Wait()
	if len(won) == 0 {
		t.Fatal("at least one sign-in must succeed")
	}

	stored := h.repo.stored(t, testEmail)
	matched := false
	for _, c := range won {
		if stored.VerificationToken == security.HashToken(c.token) {
			matched = stored.TwoFactorCode == mfa.HashOTP(c.code)
			break
		}
	}
	if !matched {
		t.Error("stored token and code must come from the same sign-in")
	}
}

func TestTwoFactor_CompletesChallenge(t *testing.T) {
	h := newHarness(t, Options{})
	h.signUp(t)
	token, code := h.signIn(t)

	a, err := h.svc.TwoFactorVerification(context.Background(), token, code)
	if err != nil {
		t.Fatalf("TwoFactorVerification: %v", err)
	}
	if a.AuthToken == "" {
		t.Fatal("auth token missing")
	}
	if a.VerificationToken != "" || a.TwoFactorCode != "" {
		t.Error("challenge must be cleared in the result")
	}
	if a.State != domain.StateAuthenticated {
		t.Errorf("state = %s", a.State)
	}
	email, id, err := h.tokens.ValidateAuth(a.AuthToken)
	if err != nil || email != testEmail || id != a.ID {
		t.Errorf("auth claims: email=%q id=%q err=%v", email, id, err)
	}

	stored := h.repo.stored(t, testEmail)
	if stored.VerificationToken != "" || stored.TwoFactorCode != "" {
		t.Error("stored challenge must be cleared")
	}
	if stored.AuthToken != security.HashToken(a.AuthToken) {
		t.Error("stored auth token should be the digest")
	}
}

func TestTwoFactor_ChallengeIsSingleUse(t *testing.T) {
	for _, mode := range []MatchMode{MatchAll, MatchAny} {
		t.Run(string(mode), func(t *testing.T) {
			h := newHarness(t, Options{Match: mode})
			h.signUp(t)
			token, code := h.signIn(t)
			if _, err := h.svc.TwoFactorVerification(context.Background(), token, code); err != nil {
				t.Fatalf("first verification: %v", err)
			}
			if _, err := h.svc.TwoFactorVerification(context.Background(), token, code); !errors.Is(err, ErrVerificationFailed) {
				t.Errorf("replay: want ErrVerificationFailed, got %v", err)
			}
			if _, err := h.svc.TwoFactorVerification(context.Background(), "", code); !errors.Is(err, ErrVerificationFailed) {
				t.Errorf("code replay: want ErrVerificationFailed, got %v", err)
			}
		})
	}
}

func TestTwoFactor_MatchAllRequiresBoth(t *testing.T) {
	h := newHarness(t, Options{Match: MatchAll})
	h.signUp(t)
	token, code := h.signIn(t)

	cases := []struct {
		name, token, code string
	}{
		{"code only", "", code},
		{"token only", token, ""},
		{"wrong code", token, "000000"},
		{"wrong token", "not-a-token", code},
		{"neither", "", ""},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if _, err := h.svc.TwoFactorVerification(context.Background(), c.token, c.code); !errors.Is(err, ErrVerificationFailed) {
				t.Errorf("want ErrVerificationFailed, got %v", err)
			}
		})
	}
	if stored := h.repo.stored(t, testEmail); stored.State != domain.StatePendingTwoFactor {
		t.Errorf("failed attempts must leave the challenge pending, state = %s", stored.State)
	}
}

func TestTwoFactor_MatchAnyAcceptsEither(t *testing.T) {
	t.Run("code only", func(t *testing.T) {
		h := newHarness(t, Options{Match: MatchAny})
		h.signUp(t)
		_, code := h.signIn(t)
		if _, err := h.svc.TwoFactorVerification(context.Background(), "", code); err != nil {
			t.Errorf("code only: %v", err)
		}
	})
	t.Run("token only", func(t *testing.T) {
		h := newHarness(t, Options{Match: MatchAny})
		h.signUp(t)
		token, _ := h.signIn(t)
		if _, err := h.svc.TwoFactorVerification(context.Background(), token, ""); err != nil {
			t.Errorf("token only: %v", err)
		}
	})
	t.Run("neither", func(t *testing.T) {
		h := newHarness(t, Options{Match: MatchAny})
		h.signUp(t)
		h.signIn(t)
		if _, err := h.svc.TwoFactorVerification(context.Background(), "bogus", "999999"); !errors.Is(err, ErrVerificationFailed) {
			t.Errorf("want ErrVerificationFailed, got %v", err)
		}
	})
}

func TestTwoFactor_ExpiredChallenge(t *testing.T) {
	h := newHarness(t, Options{ChallengeTTL: 5 * time.Minute})
	h.signUp(t)
	token, code := h.signIn(t)
	h.svc.nowF = func() time.Time { return time.Now().UTC().Add(10 * time.Minute) }

	if _, err := h.svc.TwoFactorVerification(context.Background(), token, code); !errors.Is(err, ErrVerificationFailed) {
		t.Fatalf("want ErrVerificationFailed, got %v", err)
	}
}

func TestTwoFactor_ErrorCode(t *testing.T) {
	h := newHarness(t, Options{})
	_, err := h.svc.TwoFactorVerification(context.Background(), "", "")
	oopsErr, ok := oops.AsOops(err)
	if !ok || oopsErr.Code() != CodeTwoFactorFailed {
		t.Errorf("want %s oops error, got %v", CodeTwoFactorFailed, err)
	}
}

func TestSignOut_ClearsTokens(t *testing.T) {
	h := newHarness(t, Options{})
	h.signUp(t)
	token, code := h.signIn(t)
	a, err := h.svc.TwoFactorVerification(context.Background(), token, code)
	if err != nil {
		t.Fatalf("TwoFactorVerification: %v", err)
	}
	_, code2 := h.signIn(t)

	if err := h.svc.SignOut(context.Background(), testEmail); err != nil {
		t.Fatalf("SignOut: %v", err)
	}
	stored := h.repo.stored(t, testEmail)
	if stored.AuthToken != "" || stored.VerificationToken != "" {
		t.Errorf("tokens not cleared: %+v", stored.Session())
	}
	if stored.TwoFactorCode != mfa.HashOTP(code2) {
		t.Error("sign-out must not touch the pending code")
	}
	if stored.State != domain.StateRegistered {
		t.Errorf("state = %s", stored.State)
	}
	if h.svc.VerifyUser(context.Background(), "Bearer "+a.AuthToken) != nil {
		t.Error("signed-out token must not resolve")
	}
}

func TestSignOut_Twice(t *testing.T) {
	h := newHarness(t, Options{})
	h.signUp(t)
	h.signIn(t)
	if err := h.svc.SignOut(context.Background(), testEmail); err != nil {
		t.Fatalf("first SignOut: %v", err)
	}
	if err := h.svc.SignOut(context.Background(), testEmail); err != nil {
		t.Fatalf("second SignOut: %v", err)
	}
}

func TestSignOut_UnknownEmail(t *testing.T) {
	h := newHarness(t, Options{})
	err := h.svc.SignOut(context.Background(), "nobody@example.com")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
	oopsErr, ok := oops.AsOops(err)
	if !ok || oopsErr.Code() != CodeSignOutFailed {
		t.Errorf("want %s oops error, got %v", CodeSignOutFailed, err)
	}
}

func TestVerifyUser(t *testing.T) {
	h := newHarness(t, Options{})
	h.signUp(t)
	token, code := h.signIn(t)
	a, err := h.svc.TwoFactorVerification(context.Background(), token, code)
	if err != nil {
		t.Fatalf("TwoFactorVerification: %v", err)
	}

	for _, header := range []string{"Bearer " + a.AuthToken, "bearer " + a.AuthToken, a.AuthToken} {
		got := h.svc.VerifyUser(context.Background(), header)
		if got == nil || got.ID != a.ID {
			t.Fatalf("VerifyUser(%.12q...) = %v", header, got)
		}
		if got.PasswordHash != "" || got.AuthToken != "" {
			t.Error("resolved account must not expose stored secrets")
		}
	}

	for _, header := range []string{"", "Bearer ", "Bearer garbage", "Bearer " + token} {
		if got := h.svc.VerifyUser(context.Background(), header); got != nil {
			t.Errorf("VerifyUser(%q) = %v, want nil", header, got)
		}
	}
}

func TestVerifyUser_LookupErrorIsAnonymous(t *testing.T) {
	h := newHarness(t, Options{})
	h.signUp(t)
	token, code := h.signIn(t)
	a, err := h.svc.TwoFactorVerification(context.Background(), token, code)
	if err != nil {
		t.Fatalf("TwoFactorVerification: %v", err)
	}
	h.repo.lookupErr = errors.New("db down")
	if got := h.svc.VerifyUser(context.Background(), "Bearer "+a.AuthToken); got != nil {
		t.Errorf("VerifyUser = %v, want nil on lookup error", got)
	}
}

func TestSignIn_Limiter(t *testing.T) {
	l := &fakeLimiter{}
	h := newHarness(t, Options{Limiter: l})
	h.signUp(t)

	if _, err := h.svc.SignIn(context.Background(), testEmail, "wrong"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("want ErrInvalidCredentials, got %v", err)
	}
	if l.failures[testEmail] != 1 {
		t.Errorf("failures = %d, want 1", l.failures[testEmail])
	}
	h.signIn(t)
	if l.resets != 1 || l.failures[testEmail] != 0 {
		t.Errorf("success should reset the limiter: resets=%d failures=%d", l.resets, l.failures[testEmail])
	}

	l.checkErr = fmt.Errorf("blocked: %w", ratelimit.ErrRateLimited)
	lookups := h.repo.lookups
	if _, err := h.svc.SignIn(context.Background(), testEmail, testPassword); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("want ErrRateLimited, got %v", err)
	}
	if h.repo.lookups != lookups {
		t.Error("rate-limited sign-in must not touch the store")
	}

	l.checkErr = ratelimit.ErrRedisUnavailable
	if _, err := h.svc.SignIn(context.Background(), testEmail, testPassword); err != nil {
		t.Errorf("limiter outage should fail open: %v", err)
	}
}

func TestCollaboratorTimeout(t *testing.T) {
	h := newHarness(t, Options{Timeout: 20 * time.Millisecond})
	h.repo.block = true

	start := time.Now()
	_, err := h.svc.SignIn(context.Background(), testEmail, testPassword)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("want DeadlineExceeded, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("SignIn took %v", elapsed)
	}
}

func TestParseMatchMode(t *testing.T) {
	for in, want := range map[string]MatchMode{"": MatchAll, "all": MatchAll, "ANY": MatchAny} {
		got, err := ParseMatchMode(in)
		if err != nil || got != want {
			t.Errorf("ParseMatchMode(%q) = %q, %v", in, got, err)
		}
	}
	if _, err := ParseMatchMode("either"); err == nil {
		t.Error("unknown mode should fail")
	}
}

func TestBearerToken(t *testing.T) {
	cases := map[string]string{
		"Bearer abc":   "abc",
		"BEARER  abc ": "abc",
		"abc":          "abc",
		"":             "",
		"Bearer":       "Bearer",
	}
	for in, want := range cases {
		if got := bearerToken(in); got != want {
			t.Errorf("bearerToken(%q) = %q, want %q", in, got, want)
		}
	}
}
