// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tenantkit Contributors

package tenancy

// Error codes returned by the tenancy service and repositories.
const (
	CodeAccountNotFound     = "ACCOUNT_NOT_FOUND"
	CodeUserNotFound        = "USER_NOT_FOUND"
	CodeInvalidOrgName      = "ACCOUNT_INVALID_NAME"
	CodeNoAccounts          = "MEMBERSHIP_NO_ACCOUNTS"
	CodeExternalIDCollision = "ACCOUNT_EXTERNAL_ID_COLLISION"
	CodeInvalidDependency   = "TENANCY_INVALID_DEPENDENCY"
)
