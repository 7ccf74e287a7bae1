// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tenantkit Contributors

// Package api exposes the account and authentication services over HTTP.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/gobwas/glob"
	"github.com/samber/oops"

	"github.com/tenantkit/tenantkit/internal/auth"
	"github.com/tenantkit/tenantkit/internal/tenancy"
)

// Authenticator checks credentials and bearer tokens.
type Authenticator interface {
	Login(ctx context.Context, email, password string) (*auth.LoginResult, error)
	Authenticate(ctx context.Context, token string) (*auth.User, error)
}

// PasswordResetter runs the forgot-password flow.
type PasswordResetter interface {
	RequestReset(ctx context.Context, email string) error
	ValidateToken(ctx context.Context, token string) (*auth.PasswordReset, error)
	ResetPassword(ctx context.Context, token, newPassword string) error
}

// TenancyService manages accounts, users and memberships.
type TenancyService interface {
	CreateAccountAndOwner(ctx context.Context, orgName, email, password string, fullName *string) (*tenancy.Account, error)
	AddUserToAccounts(ctx context.Context, email, password string, fullName *string, accountIDs []int64) (*auth.User, error)
	RemoveUserFromAccount(ctx context.Context, userID, accountID int64) error
	DeleteAccount(ctx context.Context, externalID string) error
	ListAccountsForUser(ctx context.Context, userID int64) ([]*tenancy.Account, error)
	GetAccount(ctx context.Context, externalID string) (*tenancy.Account, error)
	UpdateAccount(ctx context.Context, externalID, orgName string) (*tenancy.Account, error)
	ListUsersForAccount(ctx context.Context, externalID string) ([]*auth.User, error)
	GetUser(ctx context.Context, id int64) (*auth.User, error)
	UpdateUser(ctx context.Context, id int64, update tenancy.UserUpdate) (*auth.User, error)
	DeleteUser(ctx context.Context, id int64) error
}

// RequestObserver records per-request metrics.
type RequestObserver interface {
	ObserveRequest(route string, status int, elapsed time.Duration)
}

type nopObserver struct{}

func (nopObserver) ObserveRequest(string, int, time.Duration) {}

// Config holds the dependencies of a Server.
type Config struct {
	Auth    Authenticator
	Resets  PasswordResetter
	Tenancy TenancyService
	Metrics RequestObserver // optional
	Logger  *slog.Logger    // optional
	// AllowedOrigins lists browser origins allowed by CORS, typically the frontend.
	// Entries are glob patterns where "*" does not cross a ".".
	AllowedOrigins []string
}

// Server is the HTTP boundary.
type Server struct {
	auth           Authenticator
	resets         PasswordResetter
	tenancy        TenancyService
	metrics        RequestObserver
	logger         *slog.Logger
	validator      *validator.Validate
	allowedOrigins []glob.Glob
}

// NewServer validates cfg and creates a Server.
func NewServer(cfg Config) (*Server, error) {
	switch {
	case cfg.Auth == nil:
		return nil, oops.Code("API_INVALID_DEPENDENCY").Errorf("authenticator is required")
	case cfg.Resets == nil:
		return nil, oops.Code("API_INVALID_DEPENDENCY").Errorf("password resetter is required")
	case cfg.Tenancy == nil:
		return nil, oops.Code("API_INVALID_DEPENDENCY").Errorf("tenancy service is required")
	}

	s := &Server{
		auth:      cfg.Auth,
		resets:    cfg.Resets,
		tenancy:   cfg.Tenancy,
		metrics:   cfg.Metrics,
		logger:    cfg.Logger,
		validator: newValidator(),
	}
	if s.metrics == nil {
		s.metrics = nopObserver{}
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	for _, o := range cfg.AllowedOrigins {
		o = strings.ToLower(strings.TrimRight(strings.TrimSpace(o), "/"))
		if o == "" {
			continue
		}
		g, err := glob.Compile(o, '.')
		if err != nil {
			return nil, oops.Code("API_INVALID_ORIGIN").With("origin", o).Wrap(err)
		}
		s.allowedOrigins = append(s.allowedOrigins, g)
	}
	return s, nil
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(s.instrument)
	r.Use(s.recoverer)
	r.Use(s.cors)

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusNotFound, detailBody{Detail: "not found"})
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, detailBody{Detail: "method not allowed"})
	})

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/auth", s.authRoutes)
		r.Route("/accounts", s.accountRoutes)
		r.Route("/users", s.userRoutes)
	})
	return r
}

func (s *Server) authRoutes(r chi.Router) {
	r.Post("/login", s.handleLogin)
	r.Post("/forgot-password", s.handleForgotPassword)
	r.Post("/validate-token", s.handleValidateToken)
	r.Post("/reset-password", s.handleResetPassword)
	r.With(s.requireAuth).Get("/me", s.handleMe)
}

// Account routes share the {account} parameter: the external id everywhere
// except membership removal, which takes the numeric id.
func (s *Server) accountRoutes(r chi.Router) {
	r.Post("/", s.handleCreateAccount)
	r.Group(func(r chi.Router) {
		r.Use(s.requireAuth)
		r.Get("/", s.handleListAccounts)
		r.Get("/{account}", s.handleGetAccount)
		r.Put("/{account}", s.handleUpdateAccount)
		r.Delete("/{account}", s.handleDeleteAccount)
		r.Get("/{account}/users", s.handleListAccountUsers)
		r.Delete("/{account}/users/{user}", s.handleRemoveMembership)
	})
}

func (s *Server) userRoutes(r chi.Router) {
	r.Use(s.requireAuth)
	r.Post("/", s.handleAddUser)
	r.Get("/{user}", s.handleGetUser)
	r.Put("/{user}", s.handleUpdateUser)
	r.Delete("/{user}", s.handleDeleteUser)
}
