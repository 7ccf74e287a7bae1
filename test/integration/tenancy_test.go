// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tenantkit Contributors

//go:build integration

package integration

import (
	"context"
	"errors"
	"strings"

	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention

	"github.com/tenantkit/tenantkit/internal/auth"
	"github.com/tenantkit/tenantkit/internal/tenancy"
	"github.com/tenantkit/tenantkit/pkg/errutil"
)

func strptr(s string) *string { return &s }

var _ = Describe("Account lifecycle", func() {
	It("creates an account with its owner who can then log in", func() {
		acme, err := env.tenancy.CreateAccountAndOwner(env.ctx, "Acme", "a@x.com", "pw1", strptr("Alice"))
		Expect(err).NotTo(HaveOccurred())
		Expect(tenancy.IsExternalID(acme.ExternalID)).To(BeTrue())

		result, err := env.auth.Login(env.ctx, "A@X.com", "pw1")
		Expect(err).NotTo(HaveOccurred())
		Expect(result.AccessToken).NotTo(BeEmpty())

		user, err := env.auth.Authenticate(env.ctx, result.AccessToken)
		Expect(err).NotTo(HaveOccurred())
		Expect(user.Email).To(Equal("a@x.com"))

		_, err = env.auth.Login(env.ctx, "a@x.com", "wrong")
		Expect(errutil.Code(err)).To(Equal(auth.CodeInvalidCredentials))
	})

	It("attaches an existing email to a new account without changing its password", func() {
		_, err := env.tenancy.CreateAccountAndOwner(env.ctx, "Acme", "a@x.com", "pw1", nil)
		Expect(err).NotTo(HaveOccurred())
		_, err = env.tenancy.CreateAccountAndOwner(env.ctx, "Beta", "a@x.com", "pw2", nil)
		Expect(err).NotTo(HaveOccurred())

		Expect(env.countRows(`SELECT count(*) FROM users`)).To(Equal(1))
		Expect(env.countRows(`SELECT count(*) FROM memberships`)).To(Equal(2))

		_, err = env.auth.Login(env.ctx, "a@x.com", "pw1")
		Expect(err).NotTo(HaveOccurred())
	})

	It("retries when a generated external id collides", func() {
		first, err := env.tenancy.CreateAccountAndOwner(env.ctx, "Acme", "a@x.com", "pw", nil)
		Expect(err).NotTo(HaveOccurred())

		ids := []string{first.ExternalID, "00000000000000ff"}
		svc, err := env.newTenancy(tenancy.WithExternalIDGenerator(func() (string, error) {
			id := ids[0]
			ids = ids[1:]
			return id, nil
		}))
		Expect(err).NotTo(HaveOccurred())

		second, err := svc.CreateAccountAndOwner(env.ctx, "Beta", "b@x.com", "pw", nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(second.ExternalID).To(Equal("00000000000000ff"))
	})

	It("rejects an invalid owner email without creating an account", func() {
		_, err := env.tenancy.CreateAccountAndOwner(env.ctx, "Acme", "not-an-email", "pw", nil)
		Expect(err).To(HaveOccurred())

		Expect(env.countRows(`SELECT count(*) FROM accounts`)).To(Equal(0))
	})
})

var _ = Describe("Memberships", func() {
	var acme, beta *tenancy.Account

	BeforeEach(func() {
		var err error
		acme, err = env.tenancy.CreateAccountAndOwner(env.ctx, "Acme", "owner@acme.com", "pw", nil)
		Expect(err).NotTo(HaveOccurred())
		beta, err = env.tenancy.CreateAccountAndOwner(env.ctx, "Beta", "owner@beta.com", "pw", nil)
		Expect(err).NotTo(HaveOccurred())
	})

	It("adds a user to the same account only once", func() {
		u, err := env.tenancy.AddUserToAccounts(env.ctx, "b@x.com", "pw", nil, []int64{acme.ID})
		Expect(err).NotTo(HaveOccurred())
		_, err = env.tenancy.AddUserToAccounts(env.ctx, "b@x.com", "pw", nil, []int64{acme.ID, acme.ID})
		Expect(err).NotTo(HaveOccurred())

		Expect(env.countRows(`SELECT count(*) FROM memberships WHERE user_id = $1`, u.ID)).To(Equal(1))
	})

	It("rejects unknown accounts without creating the user", func() {
		_, err := env.tenancy.AddUserToAccounts(env.ctx, "b@x.com", "pw", nil, []int64{acme.ID, 9999})
		Expect(errutil.Code(err)).To(Equal(tenancy.CodeAccountNotFound))

		Expect(env.countRows(`SELECT count(*) FROM users WHERE email = 'b@x.com'`)).To(Equal(0))
	})

	It("deletes a user when its last membership is removed", func() {
		u, err := env.tenancy.AddUserToAccounts(env.ctx, "b@x.com", "pw", nil, []int64{acme.ID, beta.ID})
		Expect(err).NotTo(HaveOccurred())

		Expect(env.tenancy.RemoveUserFromAccount(env.ctx, u.ID, acme.ID)).To(Succeed())
		Expect(env.countRows(`SELECT count(*) FROM users WHERE id = $1`, u.ID)).To(Equal(1))

		Expect(env.tenancy.RemoveUserFromAccount(env.ctx, u.ID, beta.ID)).To(Succeed())
		Expect(env.countRows(`SELECT count(*) FROM users WHERE id = $1`, u.ID)).To(Equal(0))
	})

	It("deletes only orphaned users with an account", func() {
		onlyAcme, err := env.tenancy.AddUserToAccounts(env.ctx, "only@x.com", "pw", nil, []int64{acme.ID})
		Expect(err).NotTo(HaveOccurred())
		both, err := env.tenancy.AddUserToAccounts(env.ctx, "both@x.com", "pw", nil, []int64{acme.ID, beta.ID})
		Expect(err).NotTo(HaveOccurred())

		Expect(env.tenancy.DeleteAccount(env.ctx, acme.ExternalID)).To(Succeed())

		Expect(env.countRows(`SELECT count(*) FROM users WHERE id = $1`, onlyAcme.ID)).To(Equal(0))
		Expect(env.countRows(`SELECT count(*) FROM accounts WHERE id = $1`, acme.ID)).To(Equal(0))

		accounts, err := env.tenancy.ListAccountsForUser(env.ctx, both.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(accounts).To(HaveLen(1))
		Expect(accounts[0].ID).To(Equal(beta.ID))

		// No user is left without a membership.
		Expect(env.countRows(`
			SELECT count(*) FROM users u
			WHERE NOT EXISTS (SELECT 1 FROM memberships m WHERE m.user_id = u.id)`)).To(Equal(0))
	})

	It("joins an outer transaction and rolls back with it", func() {
		boom := errors.New("boom")
		err := env.tx.InTransaction(env.ctx, func(ctx context.Context) error {
			if _, err := env.tenancy.AddUserToAccounts(ctx, "b@x.com", "pw", nil, []int64{acme.ID}); err != nil {
				return err
			}
			return boom
		})
		Expect(err).To(MatchError(boom))

		Expect(env.countRows(`SELECT count(*) FROM users WHERE email = 'b@x.com'`)).To(Equal(0))
	})

	It("refuses to take another user's email", func() {
		u, err := env.tenancy.AddUserToAccounts(env.ctx, "b@x.com", "pw", nil, []int64{acme.ID})
		Expect(err).NotTo(HaveOccurred())

		_, err = env.tenancy.UpdateUser(env.ctx, u.ID, tenancy.UserUpdate{Email: strptr("OWNER@acme.com")})
		Expect(errutil.Code(err)).To(Equal(auth.CodeEmailConflict))
	})
})

var _ = Describe("Password reset", func() {
	BeforeEach(func() {
		_, err := env.tenancy.CreateAccountAndOwner(env.ctx, "Acme", "a@x.com", "pw1", nil)
		Expect(err).NotTo(HaveOccurred())
	})

	It("accepts a token exactly once", func() {
		Expect(env.reset.RequestReset(env.ctx, "a@x.com")).To(Succeed())
		token := env.mailer.token("a@x.com")
		Expect(token).To(HaveLen(64))

		var stored string
		Expect(env.pool.QueryRow(env.ctx, `SELECT token_hash FROM password_resets`).Scan(&stored)).To(Succeed())
		Expect(stored).NotTo(Equal(token))

		Expect(env.reset.ResetPassword(env.ctx, token, "pw2")).To(Succeed())
		err := env.reset.ResetPassword(env.ctx, token, "pw3")
		Expect(errutil.Code(err)).To(Equal(auth.CodeResetTokenInvalid))

		_, err = env.auth.Login(env.ctx, "a@x.com", "pw2")
		Expect(err).NotTo(HaveOccurred())
	})

	It("drops outstanding tokens when the user is deleted", func() {
		Expect(env.reset.RequestReset(env.ctx, "a@x.com")).To(Succeed())
		user, err := env.users.GetByEmail(env.ctx, "a@x.com")
		Expect(err).NotTo(HaveOccurred())

		Expect(env.tenancy.DeleteUser(env.ctx, user.ID)).To(Succeed())

		Expect(env.countRows(`SELECT count(*) FROM password_resets`)).To(Equal(0))
	})

	It("says nothing about unknown emails", func() {
		Expect(env.reset.RequestReset(env.ctx, "nobody@x.com")).To(Succeed())
		Expect(env.countRows(`SELECT count(*) FROM password_resets`)).To(Equal(0))
	})
})

var _ = Describe("HTTP API", func() {
	It("serves signup, login and an authenticated request", func() {
		client := env.http.Client()

		resp, err := client.Post(env.http.URL+"/api/v1/accounts", "application/json", strings.NewReader(
			`{"account":{"account_organisation":"Acme"},"user":{"email":"a@x.com","password":"pw1"}}`))
		Expect(err).NotTo(HaveOccurred())
		Expect(resp.Body.Close()).To(Succeed())
		Expect(resp.StatusCode).To(Equal(201))

		resp, err = client.Post(env.http.URL+"/api/v1/auth/login", "application/x-www-form-urlencoded",
			strings.NewReader("username=a%40x.com&password=wrong"))
		Expect(err).NotTo(HaveOccurred())
		Expect(resp.Body.Close()).To(Succeed())
		Expect(resp.StatusCode).To(Equal(401))
	})
})
