// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tenantkit Contributors

package api

import (
	"time"

	"github.com/tenantkit/tenantkit/internal/auth"
	"github.com/tenantkit/tenantkit/internal/tenancy"
)

type accountView struct {
	ID           int64  `json:"id"`
	Organisation string `json:"account_organisation"`
	UniqueID     string `json:"account_unique_id"`
}

func newAccountView(a *tenancy.Account) accountView {
	return accountView{ID: a.ID, Organisation: a.OrganisationName, UniqueID: a.ExternalID}
}

func newAccountViews(accounts []*tenancy.Account) []accountView {
	views := make([]accountView, 0, len(accounts))
	for _, a := range accounts {
		views = append(views, newAccountView(a))
	}
	return views
}

// userView never carries the password hash or lockout state.
type userView struct {
	ID       int64         `json:"id"`
	Email    string        `json:"email"`
	FullName *string       `json:"full_name"`
	Accounts []accountView `json:"accounts,omitempty"`
}

func newUserView(u *auth.User) userView {
	return userView{ID: u.ID, Email: u.Email, FullName: u.FullName}
}

type tokenView struct {
	AccessToken         string        `json:"access_token"`
	TokenType           string        `json:"token_type"`
	ExpiresAt           time.Time     `json:"expires_at"`
	AccountUniqueID     string        `json:"account_unique_id,omitempty"`
	AccountOrganisation string        `json:"account_organisation,omitempty"`
	Accounts            []accountView `json:"accounts"`
}
