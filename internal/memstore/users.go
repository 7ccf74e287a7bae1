// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tenantkit Contributors

package memstore

import (
	"context"
	"strings"
	"time"

	"github.com/samber/oops"

	"github.com/tenantkit/tenantkit/internal/auth"
)

// UserRepository implements auth.UserRepository.
type UserRepository struct {
	s *Store
}

// Create stores a new user and sets its ID.
func (r *UserRepository) Create(ctx context.Context, user *auth.User) error {
	defer r.s.lock(ctx)()

	if r.emailTaken(user.Email, 0) {
		return oops.Code(auth.CodeEmailConflict).With("email", user.Email).Wrap(auth.ErrDuplicate)
	}
	user.ID = r.s.id()
	r.s.data.users[user.ID] = copyUser(user)
	return nil
}

// GetByID retrieves a user by ID.
func (r *UserRepository) GetByID(ctx context.Context, id int64) (*auth.User, error) {
	defer r.s.lock(ctx)()

	u, ok := r.s.data.users[id]
	if !ok {
		return nil, oops.Code("USER_NOT_FOUND").With("user_id", id).Wrap(auth.ErrNotFound)
	}
	c := copyUser(&u)
	return &c, nil
}

// GetByEmail retrieves a user by email, ignoring case.
func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*auth.User, error) {
	defer r.s.lock(ctx)()

	for _, u := range r.s.data.users {
		if strings.EqualFold(u.Email, email) {
			c := copyUser(&u)
			return &c, nil
		}
	}
	return nil, oops.Code("USER_NOT_FOUND").Wrap(auth.ErrNotFound)
}

// Update writes every mutable field of user.
func (r *UserRepository) Update(ctx context.Context, user *auth.User) error {
	defer r.s.lock(ctx)()

	existing, ok := r.s.data.users[user.ID]
	if !ok {
		return oops.Code("USER_NOT_FOUND").With("user_id", user.ID).Wrap(auth.ErrNotFound)
	}
	if r.emailTaken(user.Email, user.ID) {
		return oops.Code(auth.CodeEmailConflict).With("user_id", user.ID).Wrap(auth.ErrDuplicate)
	}
	updated := copyUser(user)
	updated.CreatedAt = existing.CreatedAt
	r.s.data.users[user.ID] = updated
	return nil
}

// UpdatePassword replaces the password hash and clears any lockout.
func (r *UserRepository) UpdatePassword(ctx context.Context, id int64, passwordHash string) error {
	defer r.s.lock(ctx)()

	u, ok := r.s.data.users[id]
	if !ok {
		return oops.Code("USER_NOT_FOUND").With("user_id", id).Wrap(auth.ErrNotFound)
	}
	u.PasswordHash = passwordHash
	u.FailedAttempts = 0
	u.LockedUntil = nil
	u.UpdatedAt = time.Now().UTC()
	r.s.data.users[id] = u
	return nil
}

// Delete removes a user with its memberships and reset tokens.
func (r *UserRepository) Delete(ctx context.Context, id int64) error {
	defer r.s.lock(ctx)()

	if _, ok := r.s.data.users[id]; !ok {
		return oops.Code("USER_NOT_FOUND").With("user_id", id).Wrap(auth.ErrNotFound)
	}
	delete(r.s.data.users, id)
	for m := range r.s.data.memberships {
		if m.userID == id {
			delete(r.s.data.memberships, m)
		}
	}
	for rid, reset := range r.s.data.resets {
		if reset.UserID == id {
			delete(r.s.data.resets, rid)
		}
	}
	return nil
}

func (r *UserRepository) emailTaken(email string, except int64) bool {
	for id, u := range r.s.data.users {
		if id != except && strings.EqualFold(u.Email, email) {
			return true
		}
	}
	return false
}

// copyUser detaches the pointer fields so callers cannot mutate stored rows.
func copyUser(u *auth.User) auth.User {
	c := *u
	if u.FullName != nil {
		name := *u.FullName
		c.FullName = &name
	}
	if u.LockedUntil != nil {
		until := *u.LockedUntil
		c.LockedUntil = &until
	}
	return c
}

var _ auth.UserRepository = (*UserRepository)(nil)
