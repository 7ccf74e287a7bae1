// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tenantkit Contributors

package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/samber/oops"

	"github.com/tenantkit/tenantkit/internal/tenancy"
)

type createAccountRequest struct {
	Account struct {
		Organisation string `json:"account_organisation" validate:"required"`
	} `json:"account" validate:"required"`
	User struct {
		Email    string  `json:"email" validate:"required,email"`
		Password string  `json:"password" validate:"required"`
		FullName *string `json:"full_name"`
	} `json:"user" validate:"required"`
}

type updateAccountRequest struct {
	Organisation string `json:"account_organisation" validate:"required"`
}

type addUserRequest struct {
	Email      string  `json:"email" validate:"required,email"`
	Password   string  `json:"password" validate:"required"`
	FullName   *string `json:"full_name"`
	AccountIDs []int64 `json:"account_ids"`
}

type updateUserRequest struct {
	Email    *string `json:"email" validate:"omitempty,email"`
	FullName *string `json:"full_name"`
}

func pathID(r *http.Request, name string) (int64, error) {
	raw := chi.URLParam(r, name)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, oops.Code(CodeInvalidPath).With("param", name).Errorf("%s must be a positive integer", name)
	}
	return id, nil
}

// handleCreateAccount is the signup endpoint and needs no token.
func (s *Server) handleCreateAccount(w http.ResponseWriter, r *http.Request) {
	var req createAccountRequest
	if err := s.decode(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	account, err := s.tenancy.CreateAccountAndOwner(r.Context(),
		req.Account.Organisation, req.User.Email, req.User.Password, req.User.FullName)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("Location", "/api/v1/accounts/"+account.ExternalID)
	writeJSON(w, http.StatusCreated, newAccountView(account))
}

func (s *Server) handleListAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := s.tenancy.ListAccountsForUser(r.Context(), currentUser(r.Context()).ID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newAccountViews(accounts))
}

func (s *Server) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	account, err := s.tenancy.GetAccount(r.Context(), chi.URLParam(r, "account"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newAccountView(account))
}

func (s *Server) handleUpdateAccount(w http.ResponseWriter, r *http.Request) {
	var req updateAccountRequest
	if err := s.decode(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	account, err := s.tenancy.UpdateAccount(r.Context(), chi.URLParam(r, "account"), req.Organisation)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newAccountView(account))
}

func (s *Server) handleDeleteAccount(w http.ResponseWriter, r *http.Request) {
	if err := s.tenancy.DeleteAccount(r.Context(), chi.URLParam(r, "account")); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, detailBody{Detail: "Account and associated orphaned users deleted successfully"})
}

func (s *Server) handleListAccountUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.tenancy.ListUsersForAccount(r.Context(), chi.URLParam(r, "account"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	views := make([]userView, 0, len(users))
	for _, u := range users {
		views = append(views, newUserView(u))
	}
	writeJSON(w, http.StatusOK, views)
}

// handleRemoveMembership deletes the user too when this was its last account.
func (s *Server) handleRemoveMembership(w http.ResponseWriter, r *http.Request) {
	accountID, err := pathID(r, "account")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	userID, err := pathID(r, "user")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.tenancy.RemoveUserFromAccount(r.Context(), userID, accountID); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, detailBody{Detail: "User removed from account successfully"})
}

func (s *Server) handleAddUser(w http.ResponseWriter, r *http.Request) {
	var req addUserRequest
	if err := s.decode(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	user, err := s.tenancy.AddUserToAccounts(r.Context(), req.Email, req.Password, req.FullName, req.AccountIDs)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeUserWithAccounts(w, r, http.StatusCreated, user.ID)
}

func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "user")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	user, err := s.tenancy.GetUser(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newUserView(user))
}

func (s *Server) handleUpdateUser(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "user")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req updateUserRequest
	if err := s.decode(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	user, err := s.tenancy.UpdateUser(r.Context(), id, tenancy.UserUpdate{Email: req.Email, FullName: req.FullName})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeUserWithAccounts(w, r, http.StatusOK, user.ID)
}

func (s *Server) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "user")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.tenancy.DeleteUser(r.Context(), id); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, detailBody{Detail: "User deleted successfully"})
}

func (s *Server) writeUserWithAccounts(w http.ResponseWriter, r *http.Request, status int, userID int64) {
	user, err := s.tenancy.GetUser(r.Context(), userID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	accounts, err := s.tenancy.ListAccountsForUser(r.Context(), userID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	view := newUserView(user)
	view.Accounts = newAccountViews(accounts)
	writeJSON(w, status, view)
}
