// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tenantkit Contributors

package memstore

import (
	"context"
	"time"

	"github.com/samber/oops"

	"github.com/tenantkit/tenantkit/internal/auth"
)

// PasswordResetRepository implements auth.PasswordResetRepository.
type PasswordResetRepository struct {
	s *Store
}

// Create stores a reset request and sets its ID.
func (r *PasswordResetRepository) Create(ctx context.Context, reset *auth.PasswordReset) error {
	defer r.s.lock(ctx)()

	if _, ok := r.s.data.users[reset.UserID]; !ok {
		return oops.Code("RESET_CREATE_FAILED").With("user_id", reset.UserID).Wrap(auth.ErrNotFound)
	}
	for _, existing := range r.s.data.resets {
		if existing.TokenHash == reset.TokenHash {
			return oops.Code("RESET_CREATE_FAILED").Wrap(auth.ErrDuplicate)
		}
	}
	reset.ID = r.s.id()
	r.s.data.resets[reset.ID] = *reset
	return nil
}

// GetByTokenHash retrieves a reset request by its token hash.
func (r *PasswordResetRepository) GetByTokenHash(ctx context.Context, tokenHash string) (*auth.PasswordReset, error) {
	defer r.s.lock(ctx)()

	for _, reset := range r.s.data.resets {
		if reset.TokenHash == tokenHash {
			return &reset, nil
		}
	}
	return nil, oops.Code("RESET_NOT_FOUND").Wrap(auth.ErrNotFound)
}

// Delete removes a single reset request.
func (r *PasswordResetRepository) Delete(ctx context.Context, id int64) error {
	defer r.s.lock(ctx)()

	if _, ok := r.s.data.resets[id]; !ok {
		return oops.Code("RESET_NOT_FOUND").With("reset_id", id).Wrap(auth.ErrNotFound)
	}
	delete(r.s.data.resets, id)
	return nil
}

// DeleteByUser removes all reset requests for a user.
func (r *PasswordResetRepository) DeleteByUser(ctx context.Context, userID int64) (int64, error) {
	return r.deleteWhere(ctx, func(reset auth.PasswordReset) bool { return reset.UserID == userID }), nil
}

// DeleteExpired removes reset requests that expired before the given time.
func (r *PasswordResetRepository) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	return r.deleteWhere(ctx, func(reset auth.PasswordReset) bool { return reset.ExpiresAt.Before(before) }), nil
}

func (r *PasswordResetRepository) deleteWhere(ctx context.Context, match func(auth.PasswordReset) bool) int64 {
	defer r.s.lock(ctx)()

	var n int64
	for id, reset := range r.s.data.resets {
		if match(reset) {
			delete(r.s.data.resets, id)
			n++
		}
	}
	return n
}

var _ auth.PasswordResetRepository = (*PasswordResetRepository)(nil)
