// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tenantkit Contributors

package auth

import (
	"context"
	"errors"
	"net/url"
	"strings"

	"github.com/samber/oops"
	"go.opentelemetry.io/otel/codes"
)

// ResetMailer delivers password reset links.
type ResetMailer interface {
	SendPasswordReset(ctx context.Context, toEmail, resetLink string) error
}

// PasswordResetService handles the forgot-password flow.
type PasswordResetService struct {
	users    UserRepository
	resets   PasswordResetRepository
	hasher   PasswordHasher
	tx       Transactor
	mailer   ResetMailer
	linkBase string
	opts     options
}

// NewPasswordResetService creates a new PasswordResetService.
// linkBaseURL is the frontend origin; links point at <linkBaseURL>/reset-password?token=...
func NewPasswordResetService(
	users UserRepository,
	resets PasswordResetRepository,
	hasher PasswordHasher,
	tx Transactor,
	mailer ResetMailer,
	linkBaseURL string,
	opts ...Option,
) (*PasswordResetService, error) {
	switch {
	case users == nil:
		return nil, oops.Code("RESET_INVALID_DEPENDENCY").Errorf("user repository is required")
	case resets == nil:
		return nil, oops.Code("RESET_INVALID_DEPENDENCY").Errorf("reset repository is required")
	case hasher == nil:
		return nil, oops.Code("RESET_INVALID_DEPENDENCY").Errorf("password hasher is required")
	case tx == nil:
		return nil, oops.Code("RESET_INVALID_DEPENDENCY").Errorf("transactor is required")
	case mailer == nil:
		return nil, oops.Code("RESET_INVALID_DEPENDENCY").Errorf("mailer is required")
	}

	base, err := url.Parse(strings.TrimRight(linkBaseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, oops.Code("RESET_INVALID_LINK_BASE").
			With("link_base", linkBaseURL).
			Errorf("reset link base must be an absolute URL")
	}

	return &PasswordResetService{
		users:    users,
		resets:   resets,
		hasher:   hasher,
		tx:       tx,
		mailer:   mailer,
		linkBase: base.String(),
		opts:     newOptions(opts),
	}, nil
}

// RequestReset starts a password reset for the user with the given email.
// Returns nil for unknown emails so callers cannot probe for accounts.
// The token row is committed before delivery; delivery failures are logged
// and never returned.
func (s *PasswordResetService) RequestReset(ctx context.Context, email string) error {
	ctx, span := s.opts.tracer.Start(ctx, "auth.RequestReset")
	defer span.End()

	user, err := s.users.GetByEmail(ctx, NormalizeEmail(email))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			s.opts.recorder.PasswordReset("unknown_email")
			return nil
		}
		span.SetStatus(codes.Error, "lookup failed")
		return oops.Code("RESET_REQUEST_FAILED").
			With("operation", "GetByEmail").
			Wrap(err)
	}

	token, hash, err := GenerateResetToken()
	if err != nil {
		return oops.Code("RESET_REQUEST_FAILED").
			With("operation", "GenerateResetToken").
			Wrap(err)
	}

	reset, err := NewPasswordReset(user.ID, hash, s.opts.now().Add(ResetTokenExpiry))
	if err != nil {
		return oops.Code("RESET_REQUEST_FAILED").
			With("operation", "NewPasswordReset").
			Wrap(err)
	}

	if err := s.resets.Create(ctx, reset); err != nil {
		span.SetStatus(codes.Error, "persist failed")
		return oops.Code("RESET_REQUEST_FAILED").
			With("operation", "Create").
			With("user_id", user.ID).
			Wrap(err)
	}
	s.opts.recorder.PasswordReset("requested")

	if err := s.mailer.SendPasswordReset(ctx, user.Email, s.ResetLink(token)); err != nil {
		s.opts.recorder.EmailFailure()
		s.opts.logger.WarnContext(ctx, "password reset email delivery failed",
			"user_id", user.ID,
			"reset_id", reset.ID,
			"operation", "send_email",
			"error", err)
	}

	return nil
}

// ResetLink builds the link sent to the user for token.
func (s *PasswordResetService) ResetLink(token string) string {
	return s.linkBase + "/reset-password?token=" + url.QueryEscape(token)
}

// ValidateToken looks up a reset token without consuming it.
// Fails with RESET_TOKEN_INVALID when absent and RESET_TOKEN_EXPIRED when expired.
func (s *PasswordResetService) ValidateToken(ctx context.Context, token string) (*PasswordReset, error) {
	if token == "" {
		return nil, oops.Code(CodeResetTokenInvalid).Errorf("reset token cannot be empty")
	}

	reset, err := s.resets.GetByTokenHash(ctx, HashResetToken(token))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, oops.Code(CodeResetTokenInvalid).Errorf("reset token not found")
		}
		return nil, oops.Code("RESET_VALIDATE_FAILED").
			With("operation", "GetByTokenHash").
			Wrap(err)
	}

	if reset.IsExpiredAt(s.opts.now()) {
		return nil, oops.Code(CodeResetTokenExpired).
			With("reset_id", reset.ID).
			Errorf("reset token has expired")
	}

	return reset, nil
}

// ResetPassword consumes a reset token and sets a new password.
// Re-validation, the password update and the token deletion share one
// transaction, so a failure anywhere leaves the token usable and the old
// password in place, and a committed reset can never be replayed.
func (s *PasswordResetService) ResetPassword(ctx context.Context, token, newPassword string) error {
	ctx, span := s.opts.tracer.Start(ctx, "auth.ResetPassword")
	defer span.End()

	if newPassword == "" {
		return ErrEmptyPassword
	}

	err := s.tx.InTransaction(ctx, func(ctx context.Context) error {
		reset, err := s.ValidateToken(ctx, token)
		if err != nil {
			return err
		}

		hashed, err := s.hasher.Hash(newPassword)
		if err != nil {
			return oops.Code("RESET_PASSWORD_FAILED").
				With("operation", "Hash").
				Wrap(err)
		}

		if err := s.users.UpdatePassword(ctx, reset.UserID, hashed); err != nil {
			if errors.Is(err, ErrNotFound) {
				return oops.Code(CodeResetTokenInvalid).
					With("user_id", reset.UserID).
					Errorf("reset token user no longer exists")
			}
			return oops.Code("RESET_PASSWORD_FAILED").
				With("operation", "UpdatePassword").
				With("user_id", reset.UserID).
				Wrap(err)
		}

		// A concurrent reset that already consumed this row shows up as ErrNotFound.
		if err := s.resets.Delete(ctx, reset.ID); err != nil {
			if errors.Is(err, ErrNotFound) {
				return oops.Code(CodeResetTokenInvalid).
					With("reset_id", reset.ID).
					Errorf("reset token already used")
			}
			return oops.Code("RESET_PASSWORD_FAILED").
				With("operation", "Delete").
				Wrap(err)
		}

		if _, err := s.resets.DeleteByUser(ctx, reset.UserID); err != nil {
			return oops.Code("RESET_PASSWORD_FAILED").
				With("operation", "DeleteByUser").
				With("user_id", reset.UserID).
				Wrap(err)
		}
		return nil
	})
	if err != nil {
		s.opts.recorder.PasswordReset("rejected")
		span.SetStatus(codes.Error, "reset failed")
		return err
	}

	s.opts.recorder.PasswordReset("completed")
	return nil
}

// PruneExpired deletes reset tokens that have already expired.
func (s *PasswordResetService) PruneExpired(ctx context.Context) (int64, error) {
	n, err := s.resets.DeleteExpired(ctx, s.opts.now())
	if err != nil {
		return 0, oops.Code("RESET_PRUNE_FAILED").
			With("operation", "DeleteExpired").
			Wrap(err)
	}
	if n > 0 {
		s.opts.logger.InfoContext(ctx, "pruned expired password reset tokens", "count", n)
	}
	return n, nil
}
