// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tenantkit Contributors

package memstore

import (
	"context"
	"slices"

	"github.com/samber/oops"

	"github.com/tenantkit/tenantkit/internal/auth"
	"github.com/tenantkit/tenantkit/internal/tenancy"
)

// AccountRepository implements tenancy.AccountRepository.
type AccountRepository struct {
	s *Store
}

// Create stores a new account and sets its ID.
func (r *AccountRepository) Create(ctx context.Context, account *tenancy.Account) error {
	defer r.s.lock(ctx)()

	for _, existing := range r.s.data.accounts {
		if existing.ExternalID == account.ExternalID {
			return oops.Code(tenancy.CodeExternalIDCollision).
				With("external_id", account.ExternalID).
				Wrap(auth.ErrDuplicate)
		}
	}
	account.ID = r.s.id()
	r.s.data.accounts[account.ID] = *account
	return nil
}

// GetByID retrieves an account by ID.
func (r *AccountRepository) GetByID(ctx context.Context, id int64) (*tenancy.Account, error) {
	defer r.s.lock(ctx)()

	a, ok := r.s.data.accounts[id]
	if !ok {
		return nil, oops.Code(tenancy.CodeAccountNotFound).With("account_id", id).Wrap(auth.ErrNotFound)
	}
	return &a, nil
}

// GetByExternalID retrieves an account by its external ID.
func (r *AccountRepository) GetByExternalID(ctx context.Context, externalID string) (*tenancy.Account, error) {
	defer r.s.lock(ctx)()

	for _, a := range r.s.data.accounts {
		if a.ExternalID == externalID {
			return &a, nil
		}
	}
	return nil, oops.Code(tenancy.CodeAccountNotFound).With("external_id", externalID).Wrap(auth.ErrNotFound)
}

// Update writes the organisation name.
func (r *AccountRepository) Update(ctx context.Context, account *tenancy.Account) error {
	defer r.s.lock(ctx)()

	a, ok := r.s.data.accounts[account.ID]
	if !ok {
		return oops.Code(tenancy.CodeAccountNotFound).With("account_id", account.ID).Wrap(auth.ErrNotFound)
	}
	a.OrganisationName = account.OrganisationName
	a.UpdatedAt = account.UpdatedAt
	r.s.data.accounts[a.ID] = a
	return nil
}

// Delete removes an account and its memberships.
func (r *AccountRepository) Delete(ctx context.Context, id int64) error {
	defer r.s.lock(ctx)()

	if _, ok := r.s.data.accounts[id]; !ok {
		return oops.Code(tenancy.CodeAccountNotFound).With("account_id", id).Wrap(auth.ErrNotFound)
	}
	delete(r.s.data.accounts, id)
	for m := range r.s.data.memberships {
		if m.accountID == id {
			delete(r.s.data.memberships, m)
		}
	}
	return nil
}

// MembershipRepository implements tenancy.MembershipRepository.
type MembershipRepository struct {
	s *Store
}

// Add links a user to an account.
func (r *MembershipRepository) Add(ctx context.Context, userID, accountID int64) (bool, error) {
	defer r.s.lock(ctx)()

	_, userOK := r.s.data.users[userID]
	_, accountOK := r.s.data.accounts[accountID]
	if !userOK || !accountOK {
		return false, oops.Code("MEMBERSHIP_TARGET_NOT_FOUND").
			With("user_id", userID).
			With("account_id", accountID).
			Wrap(auth.ErrNotFound)
	}
	key := membership{userID: userID, accountID: accountID}
	if _, ok := r.s.data.memberships[key]; ok {
		return false, nil
	}
	r.s.data.memberships[key] = struct{}{}
	return true, nil
}

// Remove unlinks a user from an account.
func (r *MembershipRepository) Remove(ctx context.Context, userID, accountID int64) (bool, error) {
	defer r.s.lock(ctx)()

	key := membership{userID: userID, accountID: accountID}
	if _, ok := r.s.data.memberships[key]; !ok {
		return false, nil
	}
	delete(r.s.data.memberships, key)
	return true, nil
}

// CountForUser returns how many accounts the user belongs to.
func (r *MembershipRepository) CountForUser(ctx context.Context, userID int64) (int, error) {
	defer r.s.lock(ctx)()

	return len(r.accountIDs(userID)), nil
}

// ListAccountsForUser returns the user's accounts ordered by ID.
func (r *MembershipRepository) ListAccountsForUser(ctx context.Context, userID int64) ([]*tenancy.Account, error) {
	defer r.s.lock(ctx)()

	accounts := make([]*tenancy.Account, 0)
	for _, id := range r.accountIDs(userID) {
		a := r.s.data.accounts[id]
		accounts = append(accounts, &a)
	}
	return accounts, nil
}

// ListUsersForAccount returns the account's members ordered by ID.
func (r *MembershipRepository) ListUsersForAccount(ctx context.Context, accountID int64) ([]*auth.User, error) {
	defer r.s.lock(ctx)()

	users := make([]*auth.User, 0)
	for _, id := range r.userIDs(accountID) {
		u := r.s.data.users[id]
		c := copyUser(&u)
		users = append(users, &c)
	}
	return users, nil
}

// OrphansOf returns the IDs of users whose only membership is accountID.
func (r *MembershipRepository) OrphansOf(ctx context.Context, accountID int64) ([]int64, error) {
	defer r.s.lock(ctx)()

	var orphans []int64
	for _, userID := range r.userIDs(accountID) {
		if len(r.accountIDs(userID)) == 1 {
			orphans = append(orphans, userID)
		}
	}
	return orphans, nil
}

func (r *MembershipRepository) accountIDs(userID int64) []int64 {
	var ids []int64
	for m := range r.s.data.memberships {
		if m.userID == userID {
			ids = append(ids, m.accountID)
		}
	}
	slices.Sort(ids)
	return ids
}

func (r *MembershipRepository) userIDs(accountID int64) []int64 {
	var ids []int64
	for m := range r.s.data.memberships {
		if m.accountID == accountID {
			ids = append(ids, m.userID)
		}
	}
	slices.Sort(ids)
	return ids
}

var (
	_ tenancy.AccountRepository    = (*AccountRepository)(nil)
	_ tenancy.MembershipRepository = (*MembershipRepository)(nil)
)
