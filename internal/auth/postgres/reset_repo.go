// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tenantkit Contributors

package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/samber/oops"

	"github.com/tenantkit/tenantkit/internal/auth"
	"github.com/tenantkit/tenantkit/internal/store"
)

// PasswordResetRepository implements auth.PasswordResetRepository using PostgreSQL.
type PasswordResetRepository struct {
	db store.DB
}

// NewPasswordResetRepository creates a new PasswordResetRepository.
func NewPasswordResetRepository(db store.DB) *PasswordResetRepository {
	return &PasswordResetRepository{db: db}
}

// Create stores a new password reset request and sets its ID.
func (r *PasswordResetRepository) Create(ctx context.Context, reset *auth.PasswordReset) error {
	err := store.Conn(ctx, r.db).QueryRow(ctx, `
		INSERT INTO password_resets (user_id, token_hash, expires_at, created_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`, reset.UserID, reset.TokenHash, reset.ExpiresAt, reset.CreatedAt).Scan(&reset.ID)
	if err != nil {
		if _, ok := store.IsUniqueViolation(err); ok {
			return oops.Code("RESET_CREATE_FAILED").
				With("user_id", reset.UserID).
				Wrap(auth.ErrDuplicate)
		}
		return oops.Code("RESET_CREATE_FAILED").
			With("operation", "insert password_reset").
			With("user_id", reset.UserID).
			Wrap(err)
	}
	return nil
}

// GetByTokenHash retrieves a reset request by its token hash.
func (r *PasswordResetRepository) GetByTokenHash(ctx context.Context, tokenHash string) (*auth.PasswordReset, error) {
	row := store.Conn(ctx, r.db).QueryRow(ctx, `
		SELECT id, user_id, token_hash, expires_at, created_at
		FROM password_resets
		WHERE token_hash = $1
	`, tokenHash)

	var reset auth.PasswordReset
	err := row.Scan(&reset.ID, &reset.UserID, &reset.TokenHash, &reset.ExpiresAt, &reset.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("RESET_NOT_FOUND").Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("RESET_GET_FAILED").
			With("operation", "get by token hash").
			Wrap(err)
	}
	return &reset, nil
}

// Delete removes a single reset request.
func (r *PasswordResetRepository) Delete(ctx context.Context, id int64) error {
	tag, err := store.Conn(ctx, r.db).Exec(ctx, `DELETE FROM password_resets WHERE id = $1`, id)
	if err != nil {
		return oops.Code("RESET_DELETE_FAILED").With("reset_id", id).Wrap(err)
	}
	if tag.RowsAffected() == 0 {
		return oops.Code("RESET_NOT_FOUND").With("reset_id", id).Wrap(auth.ErrNotFound)
	}
	return nil
}

// DeleteByUser removes all reset requests for a user.
func (r *PasswordResetRepository) DeleteByUser(ctx context.Context, userID int64) (int64, error) {
	tag, err := store.Conn(ctx, r.db).Exec(ctx, `DELETE FROM password_resets WHERE user_id = $1`, userID)
	if err != nil {
		return 0, oops.Code("RESET_DELETE_FAILED").With("user_id", userID).Wrap(err)
	}
	return tag.RowsAffected(), nil
}

// DeleteExpired removes reset requests that expired before the given time.
func (r *PasswordResetRepository) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	tag, err := store.Conn(ctx, r.db).Exec(ctx, `DELETE FROM password_resets WHERE expires_at < $1`, before)
	if err != nil {
		return 0, oops.Code("RESET_DELETE_EXPIRED_FAILED").
			With("operation", "delete expired resets").
			Wrap(err)
	}
	return tag.RowsAffected(), nil
}

// Compile-time interface check.
var _ auth.PasswordResetRepository = (*PasswordResetRepository)(nil)
