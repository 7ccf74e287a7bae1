// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tenantkit Contributors

package auth

import (
	"context"
	"errors"
	"time"

	"github.com/samber/oops"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Service provides login and bearer-token authentication.
type Service struct {
	users  UserRepository
	hasher PasswordHasher
	tokens *TokenIssuer
	opts   options
}

// NewAuthService creates a new Service.
func NewAuthService(users UserRepository, hasher PasswordHasher, tokens *TokenIssuer, opts ...Option) (*Service, error) {
	if users == nil {
		return nil, oops.Code("AUTH_INVALID_DEPENDENCY").Errorf("user repository is required")
	}
	if hasher == nil {
		return nil, oops.Code("AUTH_INVALID_DEPENDENCY").Errorf("password hasher is required")
	}
	if tokens == nil {
		return nil, oops.Code("AUTH_INVALID_DEPENDENCY").Errorf("token issuer is required")
	}
	return &Service{
		users:  users,
		hasher: hasher,
		tokens: tokens,
		opts:   newOptions(opts),
	}, nil
}

// dummyPasswordHash is verified when the email is unknown so that response
// time does not reveal whether a user exists. It never matches any password.
//
//nolint:gosec // G101: intentionally fake hash for timing attack prevention, not a credential.
const dummyPasswordHash = "$argon2id$v=19$m=65536,t=1,p=4$AAAAAAAAAAAAAAAAAAAAAA$AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"

// LoginResult is returned by a successful Login.
type LoginResult struct {
	User        *User
	AccessToken string
	ExpiresAt   time.Time
}

// Login checks the credentials and issues a session token.
// Unknown email and wrong password return the same AUTH_INVALID_CREDENTIALS error.
func (s *Service) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	ctx, span := s.opts.tracer.Start(ctx, "auth.Login")
	defer span.End()

	result, err := s.login(ctx, NormalizeEmail(email), password)
	if err != nil {
		span.SetStatus(codes.Error, "login failed")
		return nil, err
	}
	span.SetAttributes(attribute.Int64("user.id", result.User.ID))
	return result, nil
}

func (s *Service) login(ctx context.Context, email, password string) (*LoginResult, error) {
	user, lookupErr := s.users.GetByEmail(ctx, email)

	var targetHash string
	var userExists bool
	if lookupErr != nil {
		if !errors.Is(lookupErr, ErrNotFound) {
			s.opts.recorder.LoginAttempt("error")
			return nil, oops.Code("AUTH_LOGIN_FAILED").
				With("operation", "get user by email").
				Wrap(lookupErr)
		}
		targetHash = dummyPasswordHash
	} else {
		targetHash = user.PasswordHash
		userExists = true
	}

	// Always verify so the unknown-email path costs the same as a real check.
	valid, verifyErr := s.hasher.Verify(password, targetHash)
	if verifyErr != nil {
		if userExists {
			s.opts.logger.WarnContext(ctx, "stored password hash could not be verified",
				"user_id", user.ID,
				"error", verifyErr)
		}
		valid = false
	}

	if !userExists || !valid {
		if userExists && user.RecordFailure() {
			if err := s.users.Update(ctx, user); err != nil {
				s.opts.logger.WarnContext(ctx, "best-effort failure counter update failed",
					"user_id", user.ID,
					"operation", "record_failure",
					"error", err)
			}
		}
		s.opts.recorder.LoginAttempt("invalid")
		return nil, oops.Code(CodeInvalidCredentials).Errorf("invalid email or password")
	}

	// Lockout is checked after verification to keep timing uniform.
	if user.IsLocked() {
		s.opts.recorder.LoginAttempt("locked")
		return nil, oops.Code(CodeAccountLocked).
			With("retry_after", LockoutRemaining(user.LockedUntil)).
			Errorf("account is temporarily locked")
	}

	needsUpdate := user.FailedAttempts > 0 || user.LockedUntil != nil
	user.RecordSuccess()

	if s.hasher.NeedsUpgrade(user.PasswordHash) {
		if newHash, err := s.hasher.Hash(password); err == nil {
			user.PasswordHash = newHash
			needsUpdate = true
		}
	}

	if needsUpdate {
		if err := s.users.Update(ctx, user); err != nil {
			s.opts.logger.WarnContext(ctx, "best-effort user update after login failed",
				"user_id", user.ID,
				"operation", "record_success",
				"error", err)
		}
	}

	token, expiresAt, err := s.tokens.IssueAt(user.Email, 0, s.opts.now())
	if err != nil {
		s.opts.recorder.LoginAttempt("error")
		return nil, oops.Code("AUTH_LOGIN_FAILED").
			With("operation", "issue session token").
			Wrap(err)
	}

	s.opts.recorder.LoginAttempt("success")
	return &LoginResult{User: user, AccessToken: token, ExpiresAt: expiresAt}, nil
}

// Authenticate validates a bearer token and resolves its subject to a User.
// Fails with AUTH_INVALID_TOKEN or AUTH_USER_NOT_FOUND; callers must not
// reveal which.
func (s *Service) Authenticate(ctx context.Context, token string) (*User, error) {
	subject, err := s.tokens.ValidateAt(token, s.opts.now())
	if err != nil {
		return nil, err
	}

	user, err := s.users.GetByEmail(ctx, subject)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, oops.Code(CodeUserNotFound).Errorf("token subject does not match a user")
		}
		return nil, oops.Code("AUTH_AUTHENTICATE_FAILED").
			With("operation", "get user by email").
			Wrap(err)
	}
	return user, nil
}
