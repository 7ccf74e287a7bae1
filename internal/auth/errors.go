// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tenantkit Contributors

package auth

import "errors"

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrDuplicate is returned when an insert or update would violate a
// uniqueness constraint (email, account external ID, reset token hash).
var ErrDuplicate = errors.New("duplicate")

// Error codes the HTTP boundary translates into fixed responses.
const (
	CodeInvalidCredentials = "AUTH_INVALID_CREDENTIALS"
	CodeAccountLocked      = "AUTH_ACCOUNT_LOCKED"
	CodeInvalidToken       = "AUTH_INVALID_TOKEN"
	CodeUserNotFound       = "AUTH_USER_NOT_FOUND"
	CodeEmptyPassword      = "AUTH_EMPTY_PASSWORD"
	CodeInvalidEmail       = "AUTH_INVALID_EMAIL"
	CodeEmailConflict      = "USER_EMAIL_CONFLICT"
	CodeResetTokenInvalid  = "RESET_TOKEN_INVALID"
	CodeResetTokenExpired  = "RESET_TOKEN_EXPIRED"
)
