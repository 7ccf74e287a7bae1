// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tenantkit Contributors

package tenancy

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/samber/oops"

	"github.com/tenantkit/tenantkit/internal/auth"
)

// Account limits.
const (
	ExternalIDBytes           = 8 // 16 hex chars, 64 bits
	MaxOrganisationNameLength = 200
)

// Account is a tenant organisation. ExternalID is the public identifier used
// in URLs; it is unique and never changes after creation.
type Account struct {
	ID               int64
	OrganisationName string
	ExternalID       string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// NewAccount creates a validated Account. The ID is assigned by the repository.
func NewAccount(organisationName, externalID string) (*Account, error) {
	name := strings.TrimSpace(organisationName)
	if err := ValidateOrganisationName(name); err != nil {
		return nil, err
	}
	if !IsExternalID(externalID) {
		return nil, oops.Code("ACCOUNT_INVALID_EXTERNAL_ID").
			With("external_id", externalID).
			Errorf("external id must be %d lowercase hex characters", ExternalIDBytes*2)
	}
	now := time.Now().UTC()
	return &Account{
		OrganisationName: name,
		ExternalID:       externalID,
		CreatedAt:        now,
		UpdatedAt:        now,
	}, nil
}

// Rename replaces the organisation name.
func (a *Account) Rename(organisationName string) error {
	name := strings.TrimSpace(organisationName)
	if err := ValidateOrganisationName(name); err != nil {
		return err
	}
	a.OrganisationName = name
	a.UpdatedAt = time.Now().UTC()
	return nil
}

// GenerateExternalID returns 16 random lowercase hex characters.
func GenerateExternalID() (string, error) {
	b := make([]byte, ExternalIDBytes)
	if _, err := rand.Read(b); err != nil {
		return "", oops.Code("ACCOUNT_EXTERNAL_ID_FAILED").Wrap(err)
	}
	return hex.EncodeToString(b), nil
}

// IsExternalID reports whether s has the external id shape.
func IsExternalID(s string) bool {
	if len(s) != ExternalIDBytes*2 {
		return false
	}
	for _, c := range s {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

// ValidateOrganisationName checks that a name is non-blank, valid UTF-8,
// free of control characters and within MaxOrganisationNameLength.
func ValidateOrganisationName(name string) error {
	if strings.TrimSpace(name) == "" {
		return oops.Code(CodeInvalidOrgName).Errorf("organisation name cannot be empty")
	}
	if !utf8.ValidString(name) {
		return oops.Code(CodeInvalidOrgName).Errorf("organisation name must be valid UTF-8")
	}
	if utf8.RuneCountInString(name) > MaxOrganisationNameLength {
		return oops.Code(CodeInvalidOrgName).
			With("max", MaxOrganisationNameLength).
			Errorf("organisation name exceeds %d characters", MaxOrganisationNameLength)
	}
	if strings.IndexFunc(name, unicode.IsControl) >= 0 {
		return oops.Code(CodeInvalidOrgName).Errorf("organisation name cannot contain control characters")
	}
	return nil
}

// AccountRepository manages account persistence.
type AccountRepository interface {
	// Create stores a new account and sets its ID.
	// Returns auth.ErrDuplicate if the external ID is taken; the surrounding
	// transaction stays usable so the caller can retry with a new ID.
	Create(ctx context.Context, account *Account) error

	// GetByID retrieves an account by ID.
	GetByID(ctx context.Context, id int64) (*Account, error)

	// GetByExternalID retrieves an account by its external ID.
	GetByExternalID(ctx context.Context, externalID string) (*Account, error)

	// Update writes the organisation name.
	Update(ctx context.Context, account *Account) error

	// Delete removes an account. Its memberships cascade.
	Delete(ctx context.Context, id int64) error
}

// MembershipRepository manages the user/account join table.
type MembershipRepository interface {
	// Add links a user to an account. Returns false if the link already existed.
	Add(ctx context.Context, userID, accountID int64) (bool, error)

	// Remove unlinks a user from an account. Returns false if there was no link.
	Remove(ctx context.Context, userID, accountID int64) (bool, error)

	// CountForUser returns how many accounts the user belongs to.
	CountForUser(ctx context.Context, userID int64) (int, error)

	// ListAccountsForUser returns the user's accounts ordered by ID.
	ListAccountsForUser(ctx context.Context, userID int64) ([]*Account, error)

	// ListUsersForAccount returns the account's members ordered by ID.
	ListUsersForAccount(ctx context.Context, accountID int64) ([]*auth.User, error)

	// OrphansOf returns the IDs of users whose only membership is accountID.
	OrphansOf(ctx context.Context, accountID int64) ([]int64, error)
}
