// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tenantkit Contributors

// Package auth provides authentication primitives for Tenantkit.
//
// # Domain Types
//
// Domain types (User, PasswordReset) should be created using their
// constructors:
//   - NewUser - creates a User with a normalized, validated email
//   - NewPasswordReset - creates a PasswordReset with validated user and expiry
//
// Direct struct initialization bypasses validation and may create invalid state.
// Repository implementations receive pre-validated types from these constructors.
//
// # Services
//
// Service types coordinate domain operations:
//   - Service - login and bearer token authentication
//   - PasswordResetService - forgot-password flow
//   - TokenIssuer - signed, time-limited session tokens (JWT)
//
// Services are created with New*Service constructors that validate dependencies.
package auth
