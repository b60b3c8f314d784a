package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/golang-jwt/jwt/v5"

	pkgcrypto "github.com/and161185/larder/internal/crypto"
	"github.com/and161185/larder/internal/errs"
	"github.com/and161185/larder/internal/limiter"
	"github.com/and161185/larder/internal/model"
	"github.com/and161185/larder/internal/repository"
)

type fakeUsers struct {
	byName map[string]*model.User

	createErr error
	getErr    error
}

var _ repository.UserRepository = (*fakeUsers)(nil)

func (f *fakeUsers) Create(_ context.Context, u *model.User) error {
	if f.createErr != nil {
		return f.createErr
	}
	if f.byName == nil {
		f.byName = map[string]*model.User{}
	}
	if _, exists := f.byName[u.Username]; exists {
		return errs.ErrAlreadyExists
	}
	cpy := *u
	f.byName[u.Username] = &cpy
	return nil
}
func (f *fakeUsers) GetByID(_ context.Context, id uuid.UUID) (*model.User, error) {
	for _, u := range f.byName {
		if u.ID == id {
			c := *u
			return &c, nil
		}
	}
	return nil, errs.ErrNotFound
}
func (f *fakeUsers) GetByUsername(_ context.Context, username string) (*model.User, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	u, ok := f.byName[username]
	if !ok {
		return nil, errs.ErrNotFound
	}
	c := *u
	return &c, nil
}

func TestAuth_Register_Basics(t *testing.T) {
	t.Parallel()
	users := &fakeUsers{byName: map[string]*model.User{}}
	s := NewAuthService(users, []byte("k"), time.Minute, nil, nil)

	if _, err := s.Register(context.Background(), " ", ""); !errors.Is(err, errs.ErrInvalid) {
		t.Fatalf("want ErrInvalid on empty username/password, got %v", err)
	}

	id, err := s.Register(context.Background(), "alice", "pwd")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if uuid.FromStringOrNil(id) == uuid.Nil {
		t.Fatalf("bad user id %q", id)
	}
	stored := users.byName["alice"]
	if len(stored.SaltAuth) != pkgcrypto.SaltLen || !pkgcrypto.VerifyPassword([]byte("pwd"), stored.SaltAuth, stored.PwdHash) {
		t.Fatalf("stored credentials do not verify")
	}

	if _, err := s.Register(context.Background(), "alice", "pwd2"); !errors.Is(err, errs.ErrAlreadyExists) {
		t.Fatalf("want ErrAlreadyExists on duplicate username, got %v", err)
	}

	users.createErr = errors.New("boom")
	if _, err := s.Register(context.Background(), "bob", "pwd"); err == nil {
		t.Fatalf("want propagated repo error")
	}
}

func TestAuth_Login(t *testing.T) {
	t.Parallel()

	salt, _ := pkgcrypto.NewSalt()
	u := &model.User{
		ID:       uuid.Must(uuid.NewV4()),
		Username: "alice",
		SaltAuth: salt,
		PwdHash:  pkgcrypto.HashPassword([]byte("correct"), salt),
	}
	users := &fakeUsers{byName: map[string]*model.User{"alice": u}}
	key := []byte("secret")
	s := NewAuthService(users, key, 2*time.Minute, nil, nil)

	if _, _, err := s.LoginWithIP(context.Background(), "nope", "x", "10.0.0.1"); !errors.Is(err, errs.ErrUnauthorized) {
		t.Fatalf("want ErrUnauthorized on missing user, got %v", err)
	}
	if _, _, err := s.LoginWithIP(context.Background(), "alice", "wrong", "10.0.0.1"); !errors.Is(err, errs.ErrUnauthorized) {
		t.Fatalf("want ErrUnauthorized on wrong password, got %v", err)
	}
	users.getErr = errors.New("db down")
	if _, _, err := s.LoginWithIP(context.Background(), "alice", "correct", "10.0.0.1"); !errors.Is(err, errs.ErrUnauthorized) {
		t.Fatalf("want lookup error masked as ErrUnauthorized, got %v", err)
	}
	users.getErr = nil

	tok, gotUser, err := s.LoginWithIP(context.Background(), "alice", "correct", "10.0.0.1")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if gotUser.ID != u.ID {
		t.Fatalf("bad user returned: %+v", gotUser)
	}
	if tok.AccessToken == "" || tok.ExpiresAt.Before(time.Now()) {
		t.Fatalf("bad token: %+v", tok)
	}

	var claims jwt.RegisteredClaims
	parsed, err := jwt.ParseWithClaims(tok.AccessToken, &claims, func(*jwt.Token) (any, error) { return key, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !parsed.Valid {
		t.Fatalf("token does not verify: %v", err)
	}
	if claims.Subject != u.ID.String() {
		t.Fatalf("subject = %q, want %q", claims.Subject, u.ID)
	}
}

func TestAuth_issueAccessToken_TTL(t *testing.T) {
	t.Parallel()

	s := NewAuthService(&fakeUsers{}, []byte("k"), time.Hour, nil, nil)
	fixed := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return fixed }

	_, exp, err := s.issueAccessToken(uuid.Must(uuid.NewV4()))
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if !exp.Equal(fixed.Add(time.Hour)) {
		t.Fatalf("exp = %v, want %v", exp, fixed.Add(time.Hour))
	}
}

type stubLimiter struct {
	allowErr error
	failErr  error
	fails    int
	resets   int
}

func (l *stubLimiter) Allow(context.Context, string, []byte) (bool, time.Duration, error) {
	return l.allowErr == nil, 0, l.allowErr
}
func (l *stubLimiter) Success(context.Context, string, []byte) error {
	l.resets++
	return nil
}
func (l *stubLimiter) Failure(context.Context, string, []byte) (bool, time.Duration, error) {
	l.fails++
	return false, 0, l.failErr
}

func TestAuth_LoginThrottled(t *testing.T) {
	t.Parallel()

	salt, _ := pkgcrypto.NewSalt()
	users := &fakeUsers{byName: map[string]*model.User{"alice": {
		ID:       uuid.Must(uuid.NewV4()),
		Username: "alice",
		SaltAuth: salt,
		PwdHash:  pkgcrypto.HashPassword([]byte("correct"), salt),
	}}}
	lim := limiter.NewMemory(limiter.Policy{Window: time.Minute, MaxFails: 2, BlockFor: time.Minute})
	s := NewAuthService(users, []byte("k"), time.Hour, lim, nil)
	ctx := context.Background()

	if _, _, err := s.LoginWithIP(ctx, "alice", "wrong", "10.0.0.1"); !errors.Is(err, errs.ErrUnauthorized) {
		t.Fatalf("first failure: want ErrUnauthorized, got %v", err)
	}
	if _, _, err := s.LoginWithIP(ctx, "alice", "wrong", "10.0.0.1"); !errors.Is(err, errs.ErrTooManyAttempts) {
		t.Fatalf("second failure: want ErrTooManyAttempts, got %v", err)
	}
	if _, _, err := s.LoginWithIP(ctx, "alice", "correct", "10.0.0.1"); !errors.Is(err, errs.ErrTooManyAttempts) {
		t.Fatalf("blocked address must stay blocked, got %v", err)
	}
	if _, _, err := s.LoginWithIP(ctx, "alice", "correct", "10.0.0.2"); err != nil {
		t.Fatalf("other address: %v", err)
	}
}

func TestAuth_LoginLimiterErrors(t *testing.T) {
	t.Parallel()

	salt, _ := pkgcrypto.NewSalt()
	users := &fakeUsers{byName: map[string]*model.User{"alice": {
		ID:       uuid.Must(uuid.NewV4()),
		Username: "alice",
		SaltAuth: salt,
		PwdHash:  pkgcrypto.HashPassword([]byte("correct"), salt),
	}}}
	ctx := context.Background()

	down := errors.New("limiter down")
	s := NewAuthService(users, []byte("k"), time.Hour, &stubLimiter{allowErr: down}, nil)
	if _, _, err := s.LoginWithIP(ctx, "alice", "correct", "ip"); !errors.Is(err, down) {
		t.Fatalf("want Allow error propagated, got %v", err)
	}

	lim := &stubLimiter{failErr: errors.New("write failed")}
	s = NewAuthService(users, []byte("k"), time.Hour, lim, nil)
	if _, _, err := s.LoginWithIP(ctx, "alice", "wrong", "ip"); !errors.Is(err, errs.ErrUnauthorized) {
		t.Fatalf("failure bookkeeping error must not mask the verdict, got %v", err)
	}
	if _, _, err := s.LoginWithIP(ctx, "alice", "correct", "ip"); err != nil {
		t.Fatalf("login: %v", err)
	}
	if lim.fails != 1 || lim.resets != 1 {
		t.Fatalf("fails=%d resets=%d, want 1/1", lim.fails, lim.resets)
	}
}
