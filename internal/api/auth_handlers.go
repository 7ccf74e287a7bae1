// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tenantkit Contributors

package api

import (
	"mime"
	"net/http"

	"github.com/samber/oops"
)

type loginRequest struct {
	Email    string `json:"email" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type forgotPasswordRequest struct {
	Email string `json:"email" validate:"required,email"`
}

type validateTokenRequest struct {
	Token string `json:"token" validate:"required"`
}

type resetPasswordRequest struct {
	Token       string `json:"token" validate:"required"`
	NewPassword string `json:"new_password" validate:"required"`
}

// handleLogin accepts either a JSON body or an OAuth2 password form
// (username, password).
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := s.decodeLogin(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	result, err := s.auth.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	accounts, err := s.tenancy.ListAccountsForUser(r.Context(), result.User.ID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	resp := tokenView{
		AccessToken: result.AccessToken,
		TokenType:   "bearer",
		ExpiresAt:   result.ExpiresAt,
		Accounts:    newAccountViews(accounts),
	}
	if len(accounts) > 0 {
		resp.AccountUniqueID = accounts[0].ExternalID
		resp.AccountOrganisation = accounts[0].OrganisationName
	}
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) decodeLogin(w http.ResponseWriter, r *http.Request, req *loginRequest) error {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch mediaType {
	case "application/x-www-form-urlencoded", "multipart/form-data":
		r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		if err := r.ParseForm(); err != nil {
			return oops.Code(CodeMalformedBody).Wrap(err)
		}
		req.Email = r.PostForm.Get("username")
		req.Password = r.PostForm.Get("password")
		return s.validate(req)
	default:
		return s.decode(w, r, req)
	}
}

// handleForgotPassword answers 200 whether or not the email is registered.
func (s *Server) handleForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req forgotPasswordRequest
	if err := s.decode(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.resets.RequestReset(r.Context(), req.Email); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, detailBody{Detail: "if the email is registered, a reset link has been sent"})
}

func (s *Server) handleValidateToken(w http.ResponseWriter, r *http.Request) {
	var req validateTokenRequest
	if err := s.decode(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if _, err := s.resets.ValidateToken(r.Context(), req.Token); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, detailBody{Detail: "token is valid"})
}

func (s *Server) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetPasswordRequest
	if err := s.decode(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.resets.ResetPassword(r.Context(), req.Token, req.NewPassword); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, detailBody{Detail: "password has been reset"})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r.Context())
	accounts, err := s.tenancy.ListAccountsForUser(r.Context(), user.ID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	view := newUserView(user)
	view.Accounts = newAccountViews(accounts)
	writeJSON(w, http.StatusOK, view)
}
