// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tenantkit Contributors

package tenancy_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/tenantkit/tenantkit/internal/auth"
	"github.com/tenantkit/tenantkit/internal/memstore"
	"github.com/tenantkit/tenantkit/internal/tenancy"
	"github.com/tenantkit/tenantkit/pkg/errutil"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// plainHasher keeps service tests fast; argon2id is covered in auth.
type plainHasher struct{}

func (plainHasher) Hash(p string) (string, error) {
	if p == "" {
		return "", auth.ErrEmptyPassword
	}
	return "plain:" + p, nil
}

func (plainHasher) Verify(p, h string) (bool, error) { return h == "plain:"+p, nil }
func (plainHasher) NeedsUpgrade(string) bool         { return false }

type fixture struct {
	store *memstore.Store
	svc   *tenancy.Service
}

func newFixture(t *testing.T, opts ...tenancy.Option) *fixture {
	t.Helper()
	s := memstore.New()
	svc, err := tenancy.NewService(tenancy.ServiceConfig{
		Accounts:    s.Accounts(),
		Memberships: s.Memberships(),
		Users:       s.Users(),
		Hasher:      plainHasher{},
		Transactor:  s,
	}, opts...)
	require.NoError(t, err)
	return &fixture{store: s, svc: svc}
}

func (f *fixture) accountsOf(t *testing.T, userID int64) []string {
	t.Helper()
	accounts, err := f.svc.ListAccountsForUser(context.Background(), userID)
	require.NoError(t, err)
	names := make([]string, 0, len(accounts))
	for _, a := range accounts {
		names = append(names, a.OrganisationName)
	}
	return names
}

func sequence(ids ...string) func() (string, error) {
	i := 0
	return func() (string, error) {
		id := ids[min(i, len(ids)-1)]
		i++
		return id, nil
	}
}

func TestNewService_RequiresDependencies(t *testing.T) {
	s := memstore.New()
	full := tenancy.ServiceConfig{
		Accounts:    s.Accounts(),
		Memberships: s.Memberships(),
		Users:       s.Users(),
		Hasher:      plainHasher{},
		Transactor:  s,
	}

	tests := []struct {
		name   string
		mutate func(*tenancy.ServiceConfig)
	}{
		{"accounts", func(c *tenancy.ServiceConfig) { c.Accounts = nil }},
		{"memberships", func(c *tenancy.ServiceConfig) { c.Memberships = nil }},
		{"users", func(c *tenancy.ServiceConfig) { c.Users = nil }},
		{"hasher", func(c *tenancy.ServiceConfig) { c.Hasher = nil }},
		{"transactor", func(c *tenancy.ServiceConfig) { c.Transactor = nil }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := full
			tt.mutate(&cfg)
			_, err := tenancy.NewService(cfg)
			errutil.AssertErrorCode(t, err, tenancy.CodeInvalidDependency)
		})
	}
}

func TestCreateAccountAndOwner(t *testing.T) {
	ctx := context.Background()

	t.Run("creates account and new owner", func(t *testing.T) {
		f := newFixture(t)
		name := "Alice"

		account, err := f.svc.CreateAccountAndOwner(ctx, "Acme", " A@Example.com ", "pw1", &name)
		require.NoError(t, err)
		assert.True(t, tenancy.IsExternalID(account.ExternalID))
		assert.NotZero(t, account.ID)

		user, err := f.store.Users().GetByEmail(ctx, "a@example.com")
		require.NoError(t, err)
		assert.Equal(t, "plain:pw1", user.PasswordHash)
		assert.Equal(t, []string{"Acme"}, f.accountsOf(t, user.ID))
	})

	t.Run("attaches existing user without changing password", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.CreateAccountAndOwner(ctx, "Acme", "a@example.com", "pw1", nil)
		require.NoError(t, err)

		_, err = f.svc.CreateAccountAndOwner(ctx, "Globex", "a@example.com", "other", nil)
		require.NoError(t, err)

		user, err := f.store.Users().GetByEmail(ctx, "a@example.com")
		require.NoError(t, err)
		assert.Equal(t, "plain:pw1", user.PasswordHash)
		assert.ElementsMatch(t, []string{"Acme", "Globex"}, f.accountsOf(t, user.ID))
	})

	t.Run("regenerates colliding external id", func(t *testing.T) {
		f := newFixture(t, tenancy.WithExternalIDGenerator(
			sequence("00000000000000a1", "00000000000000a1", "00000000000000b2")))

		first, err := f.svc.CreateAccountAndOwner(ctx, "Acme", "a@example.com", "pw", nil)
		require.NoError(t, err)
		second, err := f.svc.CreateAccountAndOwner(ctx, "Globex", "b@example.com", "pw", nil)
		require.NoError(t, err)

		assert.Equal(t, "00000000000000a1", first.ExternalID)
		assert.Equal(t, "00000000000000b2", second.ExternalID)
	})

	t.Run("gives up after bounded collisions", func(t *testing.T) {
		f := newFixture(t, tenancy.WithExternalIDGenerator(sequence("00000000000000a1")))
		_, err := f.svc.CreateAccountAndOwner(ctx, "Acme", "a@example.com", "pw", nil)
		require.NoError(t, err)

		_, err = f.svc.CreateAccountAndOwner(ctx, "Globex", "b@example.com", "pw", nil)
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, tenancy.CodeExternalIDCollision)

		_, err = f.store.Users().GetByEmail(ctx, "b@example.com")
		assert.ErrorIs(t, err, auth.ErrNotFound, "failed creation must not leave a user behind")
	})

	t.Run("rejects blank organisation name", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.CreateAccountAndOwner(ctx, "   ", "a@example.com", "pw", nil)
		errutil.AssertErrorCode(t, err, tenancy.CodeInvalidOrgName)
	})

	t.Run("rejects invalid email", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.CreateAccountAndOwner(ctx, "Acme", "not-an-email", "pw", nil)
		errutil.AssertErrorCode(t, err, auth.CodeInvalidEmail)
	})

	t.Run("empty password for new user rolls back account", func(t *testing.T) {
		f := newFixture(t, tenancy.WithExternalIDGenerator(sequence("00000000000000a1")))
		_, err := f.svc.CreateAccountAndOwner(ctx, "Acme", "a@example.com", "", nil)
		require.ErrorIs(t, err, auth.ErrEmptyPassword)

		_, err = f.svc.GetAccount(ctx, "00000000000000a1")
		assert.ErrorIs(t, err, auth.ErrNotFound)
	})
}

func TestAddUserToAccounts(t *testing.T) {
	ctx := context.Background()

	t.Run("twice with same account keeps one membership", func(t *testing.T) {
		f := newFixture(t)
		acme, err := f.svc.CreateAccountAndOwner(ctx, "Acme", "owner@example.com", "pw", nil)
		require.NoError(t, err)

		first, err := f.svc.AddUserToAccounts(ctx, "b@example.com", "pw", nil, []int64{acme.ID})
		require.NoError(t, err)
		second, err := f.svc.AddUserToAccounts(ctx, "b@example.com", "ignored", nil, []int64{acme.ID, acme.ID})
		require.NoError(t, err)

		assert.Equal(t, first.ID, second.ID)
		n, err := f.store.Memberships().CountForUser(ctx, first.ID)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	})

	t.Run("new user gets exactly the requested accounts", func(t *testing.T) {
		f := newFixture(t)
		acme, err := f.svc.CreateAccountAndOwner(ctx, "Acme", "owner@example.com", "pw", nil)
		require.NoError(t, err)
		globex, err := f.svc.CreateAccountAndOwner(ctx, "Globex", "owner@example.com", "pw", nil)
		require.NoError(t, err)
		_, err = f.svc.CreateAccountAndOwner(ctx, "Initech", "owner@example.com", "pw", nil)
		require.NoError(t, err)

		user, err := f.svc.AddUserToAccounts(ctx, "b@example.com", "pw", nil, []int64{acme.ID, globex.ID})
		require.NoError(t, err)
		assert.Equal(t, []string{"Acme", "Globex"}, f.accountsOf(t, user.ID))
	})

	t.Run("unknown account creates nothing", func(t *testing.T) {
		f := newFixture(t)
		acme, err := f.svc.CreateAccountAndOwner(ctx, "Acme", "owner@example.com", "pw", nil)
		require.NoError(t, err)

		_, err = f.svc.AddUserToAccounts(ctx, "b@example.com", "pw", nil, []int64{acme.ID, 9999})
		errutil.AssertErrorCode(t, err, tenancy.CodeAccountNotFound)

		_, err = f.store.Users().GetByEmail(ctx, "b@example.com")
		assert.ErrorIs(t, err, auth.ErrNotFound)
	})

	t.Run("requires at least one account", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.AddUserToAccounts(ctx, "b@example.com", "pw", nil, nil)
		errutil.AssertErrorCode(t, err, tenancy.CodeNoAccounts)
	})
}

func TestRemoveUserFromAccount(t *testing.T) {
	ctx := context.Background()

	t.Run("removing the only account deletes the user", func(t *testing.T) {
		f := newFixture(t)
		acme, err := f.svc.CreateAccountAndOwner(ctx, "Acme", "a@example.com", "pw", nil)
		require.NoError(t, err)
		user, err := f.store.Users().GetByEmail(ctx, "a@example.com")
		require.NoError(t, err)

		require.NoError(t, f.svc.RemoveUserFromAccount(ctx, user.ID, acme.ID))

		_, err = f.svc.GetUser(ctx, user.ID)
		assert.ErrorIs(t, err, auth.ErrNotFound)
	})

	t.Run("user with other accounts is kept", func(t *testing.T) {
		f := newFixture(t)
		acme, err := f.svc.CreateAccountAndOwner(ctx, "Acme", "a@example.com", "pw", nil)
		require.NoError(t, err)
		_, err = f.svc.CreateAccountAndOwner(ctx, "Globex", "a@example.com", "pw", nil)
		require.NoError(t, err)
		user, err := f.store.Users().GetByEmail(ctx, "a@example.com")
		require.NoError(t, err)

		require.NoError(t, f.svc.RemoveUserFromAccount(ctx, user.ID, acme.ID))
		assert.Equal(t, []string{"Globex"}, f.accountsOf(t, user.ID))
	})

	t.Run("missing membership is a no-op", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.CreateAccountAndOwner(ctx, "Acme", "a@example.com", "pw", nil)
		require.NoError(t, err)
		user, err := f.store.Users().GetByEmail(ctx, "a@example.com")
		require.NoError(t, err)

		require.NoError(t, f.svc.RemoveUserFromAccount(ctx, user.ID, 9999))
		assert.Equal(t, []string{"Acme"}, f.accountsOf(t, user.ID))
	})

	t.Run("unknown user", func(t *testing.T) {
		f := newFixture(t)
		err := f.svc.RemoveUserFromAccount(ctx, 42, 1)
		errutil.AssertErrorCode(t, err, tenancy.CodeUserNotFound)
	})
}

func TestDeleteAccount(t *testing.T) {
	ctx := context.Background()

	t.Run("deletes sole members and keeps shared ones", func(t *testing.T) {
		f := newFixture(t)
		a, err := f.svc.CreateAccountAndOwner(ctx, "A", "solo@example.com", "pw", nil)
		require.NoError(t, err)
		b, err := f.svc.CreateAccountAndOwner(ctx, "B", "other@example.com", "pw", nil)
		require.NoError(t, err)
		shared, err := f.svc.AddUserToAccounts(ctx, "shared@example.com", "pw", nil, []int64{a.ID, b.ID})
		require.NoError(t, err)
		solo, err := f.store.Users().GetByEmail(ctx, "solo@example.com")
		require.NoError(t, err)

		require.NoError(t, f.svc.DeleteAccount(ctx, a.ExternalID))

		_, err = f.svc.GetAccount(ctx, a.ExternalID)
		assert.ErrorIs(t, err, auth.ErrNotFound)
		_, err = f.svc.GetUser(ctx, solo.ID)
		assert.ErrorIs(t, err, auth.ErrNotFound)
		assert.Equal(t, []string{"B"}, f.accountsOf(t, shared.ID))
	})

	t.Run("unknown account", func(t *testing.T) {
		f := newFixture(t)
		err := f.svc.DeleteAccount(ctx, "ffffffffffffffff")
		errutil.AssertErrorCode(t, err, tenancy.CodeAccountNotFound)
	})

	t.Run("malformed external id", func(t *testing.T) {
		f := newFixture(t)
		err := f.svc.DeleteAccount(ctx, "../etc")
		assert.ErrorIs(t, err, auth.ErrNotFound)
		errutil.AssertErrorCode(t, err, tenancy.CodeAccountNotFound)
	})
}

func TestAccountReadAndUpdate(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	acme, err := f.svc.CreateAccountAndOwner(ctx, "Acme", "a@example.com", "pw", nil)
	require.NoError(t, err)

	renamed, err := f.svc.UpdateAccount(ctx, acme.ExternalID, "  Acme Corp ")
	require.NoError(t, err)
	assert.Equal(t, "Acme Corp", renamed.OrganisationName)
	assert.Equal(t, acme.ExternalID, renamed.ExternalID)

	got, err := f.svc.GetAccount(ctx, acme.ExternalID)
	require.NoError(t, err)
	assert.Equal(t, "Acme Corp", got.OrganisationName)

	_, err = f.svc.UpdateAccount(ctx, acme.ExternalID, strings.Repeat("x", tenancy.MaxOrganisationNameLength+1))
	errutil.AssertErrorCode(t, err, tenancy.CodeInvalidOrgName)

	users, err := f.svc.ListUsersForAccount(ctx, acme.ExternalID)
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, "a@example.com", users[0].Email)
}

func TestUpdateUser(t *testing.T) {
	ctx := context.Background()

	t.Run("changes email and name", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.CreateAccountAndOwner(ctx, "Acme", "a@example.com", "pw", nil)
		require.NoError(t, err)
		user, err := f.store.Users().GetByEmail(ctx, "a@example.com")
		require.NoError(t, err)

		email, name := "New@Example.com", "Alice"
		updated, err := f.svc.UpdateUser(ctx, user.ID, tenancy.UserUpdate{Email: &email, FullName: &name})
		require.NoError(t, err)
		assert.Equal(t, "new@example.com", updated.Email)
		require.NotNil(t, updated.FullName)
		assert.Equal(t, "Alice", *updated.FullName)
		assert.Equal(t, "plain:pw", updated.PasswordHash)
	})

	t.Run("email taken by another user", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.CreateAccountAndOwner(ctx, "Acme", "a@example.com", "pw", nil)
		require.NoError(t, err)
		_, err = f.svc.CreateAccountAndOwner(ctx, "Globex", "b@example.com", "pw", nil)
		require.NoError(t, err)
		b, err := f.store.Users().GetByEmail(ctx, "b@example.com")
		require.NoError(t, err)

		taken := "A@example.com"
		_, err = f.svc.UpdateUser(ctx, b.ID, tenancy.UserUpdate{Email: &taken})
		assert.ErrorIs(t, err, auth.ErrDuplicate)
		errutil.AssertErrorCode(t, err, auth.CodeEmailConflict)
	})

	t.Run("unknown user", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.UpdateUser(ctx, 42, tenancy.UserUpdate{})
		errutil.AssertErrorCode(t, err, tenancy.CodeUserNotFound)
	})
}

func TestDeleteUser(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	acme, err := f.svc.CreateAccountAndOwner(ctx, "Acme", "a@example.com", "pw", nil)
	require.NoError(t, err)
	user, err := f.store.Users().GetByEmail(ctx, "a@example.com")
	require.NoError(t, err)

	require.NoError(t, f.svc.DeleteUser(ctx, user.ID))

	users, err := f.svc.ListUsersForAccount(ctx, acme.ExternalID)
	require.NoError(t, err)
	assert.Empty(t, users)

	err = f.svc.DeleteUser(ctx, user.ID)
	assert.True(t, errors.Is(err, auth.ErrNotFound))
}
