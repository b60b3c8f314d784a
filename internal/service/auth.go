// Package service contains application services for authentication and items.
package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	pkgcrypto "github.com/and161185/larder/internal/crypto"
	"github.com/and161185/larder/internal/errs"
	"github.com/and161185/larder/internal/limiter"
	"github.com/and161185/larder/internal/model"
	"github.com/and161185/larder/internal/repository"
)

// AuthService defines account operations.
type AuthService interface {
	// Register creates a new user with secure password hashing.
	Register(ctx context.Context, username, password string) (userID string, err error)
	// LoginWithIP authenticates the user and issues an access token. Attempts
	// are throttled per (username, ip).
	LoginWithIP(ctx context.Context, username, password, ip string) (tokens model.Tokens, user model.User, err error)
}

type AuthServiceImpl struct {
	users     repository.UserRepository
	signKey   []byte
	accessTTL time.Duration
	lim       limiter.Limiter
	log       *zap.Logger
	now       func() time.Time
}

// NewAuthService constructs AuthService with required dependencies.
// A nil limiter disables throttling.
func NewAuthService(users repository.UserRepository, signKey []byte, accessTTL time.Duration, lim limiter.Limiter, log *zap.Logger) *AuthServiceImpl {
	if log == nil {
		log = zap.NewNop()
	}
	return &AuthServiceImpl{users: users, signKey: signKey, accessTTL: accessTTL, lim: lim, log: log, now: time.Now}
}

// Register creates a new user record with a per-user salt.
func (s *AuthServiceImpl) Register(ctx context.Context, username, password string) (string, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return "", fmt.Errorf("%w: empty username/password", errs.ErrInvalid)
	}
	uid, err := uuid.NewV4()
	if err != nil {
		return "", err
	}
	saltAuth, err := pkgcrypto.NewSalt()
	if err != nil {
		return "", err
	}

	u := &model.User{
		ID:       uid,
		Username: username,
		PwdHash:  pkgcrypto.HashPassword([]byte(password), saltAuth),
		SaltAuth: saltAuth,
	}
	if err := s.users.Create(ctx, u); err != nil {
		return "", err
	}
	return uid.String(), nil
}

// LoginWithIP verifies the password and issues an access token whose subject
// is the user id. Unknown users and wrong passwords are indistinguishable.
func (s *AuthServiceImpl) LoginWithIP(ctx context.Context, username, password, ip string) (model.Tokens, model.User, error) {
	username = strings.TrimSpace(username)
	ipHash := limiter.HashIP(ip)

	if s.lim != nil {
		allowed, retry, err := s.lim.Allow(ctx, username, ipHash)
		if err != nil {
			return model.Tokens{}, model.User{}, err
		}
		if !allowed {
			return model.Tokens{}, model.User{}, fmt.Errorf("%w: retry in %s", errs.ErrTooManyAttempts, retry.Round(time.Second))
		}
	}

	u, err := s.users.GetByUsername(ctx, username)
	if err != nil || !pkgcrypto.VerifyPassword([]byte(password), u.SaltAuth, u.PwdHash) {
		if s.lim != nil {
			blocked, retry, ferr := s.lim.Failure(ctx, username, ipHash)
			if ferr != nil {
				s.log.Warn("record login failure", zap.String("username", username), zap.Error(ferr))
			} else if blocked {
				s.log.Info("login blocked", zap.String("username", username), zap.Duration("for", retry))
				return model.Tokens{}, model.User{}, fmt.Errorf("%w: retry in %s", errs.ErrTooManyAttempts, retry.Round(time.Second))
			}
		}
		return model.Tokens{}, model.User{}, errs.ErrUnauthorized
	}

	if s.lim != nil {
		if err := s.lim.Success(ctx, username, ipHash); err != nil {
			s.log.Warn("reset login counters", zap.String("username", username), zap.Error(err))
		}
	}

	access, exp, err := s.issueAccessToken(u.ID)
	if err != nil {
		return model.Tokens{}, model.User{}, err
	}
	return model.Tokens{AccessToken: access, ExpiresAt: exp}, *u, nil
}

// issueAccessToken creates a signed HS256 JWT for the given subject.
func (s *AuthServiceImpl) issueAccessToken(userID uuid.UUID) (string, time.Time, error) {
	now := s.now()
	exp := now.Add(s.accessTTL)
	claims := jwt.RegisteredClaims{
		Subject:   userID.String(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(exp),
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := tok.SignedString(s.signKey)
	return signed, exp, err
}
