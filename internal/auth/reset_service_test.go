// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tenantkit Contributors

package auth_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/tenantkit/tenantkit/internal/auth"
	"github.com/tenantkit/tenantkit/internal/auth/mocks"
	"github.com/tenantkit/tenantkit/pkg/errutil"
)

func TestNewPasswordResetService_NilDependencies(t *testing.T) {
	tests := []struct {
		name        string
		users       auth.UserRepository
		resets      auth.PasswordResetRepository
		hasher      auth.PasswordHasher
		tx          auth.Transactor
		mailer      auth.ResetMailer
		expectError string
	}{
		{
			name:        "nil user repository",
			resets:      mocks.NewMockPasswordResetRepository(t),
			hasher:      mocks.NewMockPasswordHasher(t),
			tx:          &mocks.Transactor{},
			mailer:      mocks.NewMockResetMailer(t),
			expectError: "user repository is required",
		},
		{
			name:        "nil reset repository",
			users:       mocks.NewMockUserRepository(t),
			hasher:      mocks.NewMockPasswordHasher(t),
			tx:          &mocks.Transactor{},
			mailer:      mocks.NewMockResetMailer(t),
			expectError: "reset repository is required",
		},
		{
			name:        "nil password hasher",
			users:       mocks.NewMockUserRepository(t),
			resets:      mocks.NewMockPasswordResetRepository(t),
			tx:          &mocks.Transactor{},
			mailer:      mocks.NewMockResetMailer(t),
			expectError: "password hasher is required",
		},
		{
			name:        "nil transactor",
			users:       mocks.NewMockUserRepository(t),
			resets:      mocks.NewMockPasswordResetRepository(t),
			hasher:      mocks.NewMockPasswordHasher(t),
			mailer:      mocks.NewMockResetMailer(t),
			expectError: "transactor is required",
		},
		{
			name:        "nil mailer",
			users:       mocks.NewMockUserRepository(t),
			resets:      mocks.NewMockPasswordResetRepository(t),
			hasher:      mocks.NewMockPasswordHasher(t),
			tx:          &mocks.Transactor{},
			expectError: "mailer is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, err := auth.NewPasswordResetService(tt.users, tt.resets, tt.hasher, tt.tx, tt.mailer, "https://app.example.com")
			require.Error(t, err)
			assert.Nil(t, svc)
			assert.Contains(t, err.Error(), tt.expectError)
		})
	}
}

func TestNewPasswordResetService_InvalidLinkBase(t *testing.T) {
	for _, base := range []string{"", "app.example.com", "/relative"} {
		_, err := auth.NewPasswordResetService(
			mocks.NewMockUserRepository(t),
			mocks.NewMockPasswordResetRepository(t),
			mocks.NewMockPasswordHasher(t),
			&mocks.Transactor{},
			mocks.NewMockResetMailer(t),
			base,
		)
		require.Error(t, err, base)
		errutil.AssertErrorCode(t, err, "RESET_INVALID_LINK_BASE")
	}
}

type resetFixture struct {
	users    *mocks.MockUserRepository
	resets   *mocks.MockPasswordResetRepository
	hasher   *mocks.MockPasswordHasher
	mailer   *mocks.MockResetMailer
	recorder *mocks.MockRecorder
	tx       *mocks.Transactor
	svc      *auth.PasswordResetService
	logs     *bytes.Buffer
	now      time.Time
}

func newResetFixture(t *testing.T) *resetFixture {
	t.Helper()
	f := &resetFixture{
		users:    mocks.NewMockUserRepository(t),
		resets:   mocks.NewMockPasswordResetRepository(t),
		hasher:   mocks.NewMockPasswordHasher(t),
		mailer:   mocks.NewMockResetMailer(t),
		recorder: mocks.NewMockRecorder(t),
		tx:       &mocks.Transactor{},
		logs:     &bytes.Buffer{},
		now:      time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC),
	}
	svc, err := auth.NewPasswordResetService(f.users, f.resets, f.hasher, f.tx, f.mailer,
		"https://app.example.com/",
		auth.WithLogger(slog.New(slog.NewJSONHandler(f.logs, nil))),
		auth.WithRecorder(f.recorder),
		auth.WithClock(func() time.Time { return f.now }),
	)
	require.NoError(t, err)
	f.svc = svc
	return f
}

func tokenFromLink(t *testing.T, link string) string {
	t.Helper()
	u, err := url.Parse(link)
	require.NoError(t, err)
	assert.Equal(t, "/reset-password", u.Path)
	return u.Query().Get("token")
}

func TestPasswordResetService_ResetLink(t *testing.T) {
	f := newResetFixture(t)
	assert.Equal(t,
		"https://app.example.com/reset-password?token=a%2Bb",
		f.svc.ResetLink("a+b"))
}

func TestPasswordResetService_RequestReset(t *testing.T) {
	ctx := context.Background()

	t.Run("stores hashed token and mails the link", func(t *testing.T) {
		f := newResetFixture(t)
		user := &auth.User{ID: 10, Email: "alice@example.com"}

		var stored *auth.PasswordReset
		var link string
		f.users.On("GetByEmail", mock.Anything, "alice@example.com").Return(user, nil)
		f.resets.On("Create", mock.Anything, mock.AnythingOfType("*auth.PasswordReset")).
			Run(func(args mock.Arguments) {
				stored = args.Get(1).(*auth.PasswordReset)
				stored.ID = 99
			}).Return(nil)
		f.mailer.On("SendPasswordReset", mock.Anything, "alice@example.com", mock.AnythingOfType("string")).
			Run(func(args mock.Arguments) { link = args.String(2) }).
			Return(nil)
		f.recorder.On("PasswordReset", "requested").Once()

		require.NoError(t, f.svc.RequestReset(ctx, "ALICE@example.com"))

		require.NotNil(t, stored)
		assert.Equal(t, int64(10), stored.UserID)
		assert.Equal(t, f.now.Add(auth.ResetTokenExpiry), stored.ExpiresAt)

		token := tokenFromLink(t, link)
		assert.Len(t, token, 64)
		assert.Equal(t, auth.HashResetToken(token), stored.TokenHash)
		assert.NotContains(t, stored.TokenHash, token)
	})

	t.Run("unknown email returns nil without side effects", func(t *testing.T) {
		f := newResetFixture(t)
		f.users.On("GetByEmail", mock.Anything, "ghost@example.com").Return(nil, auth.ErrNotFound)
		f.recorder.On("PasswordReset", "unknown_email").Once()

		require.NoError(t, f.svc.RequestReset(ctx, "ghost@example.com"))
		f.resets.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
		f.mailer.AssertNotCalled(t, "SendPasswordReset", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("mail failure is logged and swallowed", func(t *testing.T) {
		f := newResetFixture(t)
		user := &auth.User{ID: 11, Email: "bob@example.com"}
		f.users.On("GetByEmail", mock.Anything, "bob@example.com").Return(user, nil)
		f.resets.On("Create", mock.Anything, mock.Anything).Return(nil)
		f.mailer.On("SendPasswordReset", mock.Anything, "bob@example.com", mock.Anything).
			Return(errors.New("smtp: connection refused"))
		f.recorder.On("PasswordReset", "requested").Once()
		f.recorder.On("EmailFailure").Once()

		require.NoError(t, f.svc.RequestReset(ctx, "bob@example.com"))
		assert.Contains(t, f.logs.String(), "password reset email delivery failed")
		assert.Contains(t, f.logs.String(), `"level":"WARN"`)
		assert.Contains(t, f.logs.String(), `"operation":"send_email"`)
	})

	t.Run("persist failure is returned and no mail is sent", func(t *testing.T) {
		f := newResetFixture(t)
		user := &auth.User{ID: 12, Email: "carol@example.com"}
		f.users.On("GetByEmail", mock.Anything, "carol@example.com").Return(user, nil)
		f.resets.On("Create", mock.Anything, mock.Anything).Return(errors.New("disk full"))

		err := f.svc.RequestReset(ctx, "carol@example.com")
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, "RESET_REQUEST_FAILED")
		f.mailer.AssertNotCalled(t, "SendPasswordReset", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("lookup failure is returned", func(t *testing.T) {
		f := newResetFixture(t)
		f.users.On("GetByEmail", mock.Anything, "dave@example.com").Return(nil, errors.New("timeout"))

		err := f.svc.RequestReset(ctx, "dave@example.com")
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, "RESET_REQUEST_FAILED")
	})
}

func TestPasswordResetService_ValidateToken(t *testing.T) {
	ctx := context.Background()
	token := strings.Repeat("ab", 32)
	hash := auth.HashResetToken(token)

	t.Run("valid token", func(t *testing.T) {
		f := newResetFixture(t)
		reset := &auth.PasswordReset{ID: 1, UserID: 10, TokenHash: hash, ExpiresAt: f.now.Add(time.Minute)}
		f.resets.On("GetByTokenHash", mock.Anything, hash).Return(reset, nil)

		got, err := f.svc.ValidateToken(ctx, token)
		require.NoError(t, err)
		assert.Equal(t, reset, got)
	})

	t.Run("unknown token", func(t *testing.T) {
		f := newResetFixture(t)
		f.resets.On("GetByTokenHash", mock.Anything, hash).Return(nil, auth.ErrNotFound)

		_, err := f.svc.ValidateToken(ctx, token)
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, auth.CodeResetTokenInvalid)
	})

	t.Run("empty token", func(t *testing.T) {
		f := newResetFixture(t)
		_, err := f.svc.ValidateToken(ctx, "")
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, auth.CodeResetTokenInvalid)
	})

	t.Run("expired token", func(t *testing.T) {
		f := newResetFixture(t)
		reset := &auth.PasswordReset{ID: 1, UserID: 10, TokenHash: hash, ExpiresAt: f.now.Add(-time.Second)}
		f.resets.On("GetByTokenHash", mock.Anything, hash).Return(reset, nil)

		_, err := f.svc.ValidateToken(ctx, token)
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, auth.CodeResetTokenExpired)
	})

	t.Run("storage failure", func(t *testing.T) {
		f := newResetFixture(t)
		f.resets.On("GetByTokenHash", mock.Anything, hash).Return(nil, errors.New("boom"))

		_, err := f.svc.ValidateToken(ctx, token)
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, "RESET_VALIDATE_FAILED")
	})
}

func TestPasswordResetService_ResetPassword(t *testing.T) {
	ctx := context.Background()
	token := strings.Repeat("cd", 32)
	hash := auth.HashResetToken(token)

	t.Run("updates password and consumes every token for the user", func(t *testing.T) {
		f := newResetFixture(t)
		reset := &auth.PasswordReset{ID: 5, UserID: 10, TokenHash: hash, ExpiresAt: f.now.Add(time.Minute)}
		f.resets.On("GetByTokenHash", mock.Anything, hash).Return(reset, nil)
		f.hasher.On("Hash", "new-secret").Return("new-hash", nil)
		f.users.On("UpdatePassword", mock.Anything, int64(10), "new-hash").Return(nil)
		f.resets.On("Delete", mock.Anything, int64(5)).Return(nil)
		f.resets.On("DeleteByUser", mock.Anything, int64(10)).Return(int64(2), nil)
		f.recorder.On("PasswordReset", "completed").Once()

		require.NoError(t, f.svc.ResetPassword(ctx, token, "new-secret"))
		assert.Equal(t, 1, f.tx.Calls)
	})

	t.Run("empty password rejected before any lookup", func(t *testing.T) {
		f := newResetFixture(t)
		err := f.svc.ResetPassword(ctx, token, "")
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, auth.CodeEmptyPassword)
		assert.Equal(t, 0, f.tx.Calls)
	})

	t.Run("expired token leaves password unchanged", func(t *testing.T) {
		f := newResetFixture(t)
		reset := &auth.PasswordReset{ID: 5, UserID: 10, TokenHash: hash, ExpiresAt: f.now.Add(-time.Minute)}
		f.resets.On("GetByTokenHash", mock.Anything, hash).Return(reset, nil)
		f.recorder.On("PasswordReset", "rejected").Once()

		err := f.svc.ResetPassword(ctx, token, "new-secret")
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, auth.CodeResetTokenExpired)
		f.users.AssertNotCalled(t, "UpdatePassword", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("concurrently consumed token is invalid", func(t *testing.T) {
		f := newResetFixture(t)
		reset := &auth.PasswordReset{ID: 5, UserID: 10, TokenHash: hash, ExpiresAt: f.now.Add(time.Minute)}
		f.resets.On("GetByTokenHash", mock.Anything, hash).Return(reset, nil)
		f.hasher.On("Hash", "new-secret").Return("new-hash", nil)
		f.users.On("UpdatePassword", mock.Anything, int64(10), "new-hash").Return(nil)
		f.resets.On("Delete", mock.Anything, int64(5)).Return(auth.ErrNotFound)
		f.recorder.On("PasswordReset", "rejected").Once()

		err := f.svc.ResetPassword(ctx, token, "new-secret")
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, auth.CodeResetTokenInvalid)
		f.resets.AssertNotCalled(t, "DeleteByUser", mock.Anything, mock.Anything)
	})

	t.Run("deleted user makes token invalid", func(t *testing.T) {
		f := newResetFixture(t)
		reset := &auth.PasswordReset{ID: 5, UserID: 10, TokenHash: hash, ExpiresAt: f.now.Add(time.Minute)}
		f.resets.On("GetByTokenHash", mock.Anything, hash).Return(reset, nil)
		f.hasher.On("Hash", "new-secret").Return("new-hash", nil)
		f.users.On("UpdatePassword", mock.Anything, int64(10), "new-hash").Return(auth.ErrNotFound)
		f.recorder.On("PasswordReset", "rejected").Once()

		err := f.svc.ResetPassword(ctx, token, "new-secret")
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, auth.CodeResetTokenInvalid)
	})

	t.Run("hash failure aborts", func(t *testing.T) {
		f := newResetFixture(t)
		reset := &auth.PasswordReset{ID: 5, UserID: 10, TokenHash: hash, ExpiresAt: f.now.Add(time.Minute)}
		f.resets.On("GetByTokenHash", mock.Anything, hash).Return(reset, nil)
		f.hasher.On("Hash", "new-secret").Return("", errors.New("rng exhausted"))
		f.recorder.On("PasswordReset", "rejected").Once()

		err := f.svc.ResetPassword(ctx, token, "new-secret")
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, "RESET_PASSWORD_FAILED")
	})
}

func TestPasswordResetService_PruneExpired(t *testing.T) {
	ctx := context.Background()

	t.Run("deletes tokens expired before now", func(t *testing.T) {
		f := newResetFixture(t)
		f.resets.On("DeleteExpired", mock.Anything, f.now).Return(int64(3), nil)

		n, err := f.svc.PruneExpired(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(3), n)
		assert.Contains(t, f.logs.String(), "pruned expired password reset tokens")
	})

	t.Run("storage failure", func(t *testing.T) {
		f := newResetFixture(t)
		f.resets.On("DeleteExpired", mock.Anything, f.now).Return(int64(0), errors.New("boom"))

		_, err := f.svc.PruneExpired(ctx)
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, "RESET_PRUNE_FAILED")
	})
}
