// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tenantkit Contributors

package auth

import (
	"context"
	"net/mail"
	"strings"
	"time"

	"github.com/samber/oops"
)

// MaxEmailLength is the longest address accepted (RFC 5321 path limit).
const MaxEmailLength = 254

// User represents a person who can sign in. A user belongs to one or more
// accounts; the membership relation lives in the tenancy package.
type User struct {
	ID             int64
	Email          string
	PasswordHash   string
	FullName       *string
	FailedAttempts int
	LockedUntil    *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// NewUser creates a validated User. The email is normalized before validation.
// The ID is assigned by the repository on Create.
func NewUser(email, passwordHash string, fullName *string) (*User, error) {
	normalized := NormalizeEmail(email)
	if err := ValidateEmail(normalized); err != nil {
		return nil, err
	}
	if passwordHash == "" {
		return nil, oops.Code("USER_INVALID_PASSWORD_HASH").Errorf("password hash cannot be empty")
	}

	now := time.Now().UTC()
	return &User{
		Email:        normalized,
		PasswordHash: passwordHash,
		FullName:     normalizeFullName(fullName),
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

// NormalizeEmail lowercases and trims an email address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ValidateEmail checks that email is a bare address (no display name).
func ValidateEmail(email string) error {
	if email == "" {
		return oops.Code(CodeInvalidEmail).Errorf("email cannot be empty")
	}
	if len(email) > MaxEmailLength {
		return oops.Code(CodeInvalidEmail).
			With("max", MaxEmailLength).
			Errorf("email must be at most %d characters", MaxEmailLength)
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return oops.Code(CodeInvalidEmail).Errorf("email is not a valid address")
	}
	return nil
}

func normalizeFullName(fullName *string) *string {
	if fullName == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*fullName)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

// SetFullName replaces the display name; blank clears it.
func (u *User) SetFullName(fullName *string) {
	u.FullName = normalizeFullName(fullName)
	u.UpdatedAt = time.Now().UTC()
}

// IsLocked returns true if the user is currently locked out.
func (u *User) IsLocked() bool {
	return IsLockedOut(u.LockedUntil)
}

// RecordFailure increments the failure counter and sets lockout if threshold
// reached. An expired lockout starts a fresh count; failures during an
// active lockout are ignored so the lock is never extended. Reports whether
// the user changed.
func (u *User) RecordFailure() bool {
	if u.IsLocked() {
		return false
	}
	if u.LockedUntil != nil {
		u.FailedAttempts = 0
		u.LockedUntil = nil
	}
	u.FailedAttempts++
	u.LockedUntil = ComputeLockoutTime(u.FailedAttempts)
	u.UpdatedAt = time.Now().UTC()
	return true
}

// RecordSuccess resets failure counter and lockout.
func (u *User) RecordSuccess() {
	u.FailedAttempts = 0
	u.LockedUntil = nil
	u.UpdatedAt = time.Now().UTC()
}

// UserRepository manages user persistence.
type UserRepository interface {
	// Create stores a new user and sets its ID.
	// Returns ErrDuplicate if the email is already registered.
	Create(ctx context.Context, user *User) error

	// GetByID retrieves a user by ID.
	GetByID(ctx context.Context, id int64) (*User, error)

	// GetByEmail retrieves a user by email (case-insensitive).
	// Returns ErrNotFound if no user has the given email.
	GetByEmail(ctx context.Context, email string) (*User, error)

	// Update updates an existing user.
	// Returns ErrDuplicate if the new email is already registered.
	Update(ctx context.Context, user *User) error

	// UpdatePassword replaces the password hash and clears any lockout.
	UpdatePassword(ctx context.Context, id int64, passwordHash string) error

	// Delete removes a user. Memberships and reset tokens cascade.
	Delete(ctx context.Context, id int64) error
}

// Transactor runs fn inside a single storage transaction. Repository calls
// made with the ctx passed to fn participate in that transaction; fn
// returning an error rolls everything back.
type Transactor interface {
	InTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}
