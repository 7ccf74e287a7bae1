// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tenantkit Contributors

package tenancy

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tenantkit/tenantkit/internal/auth"
)

const tracerName = "github.com/tenantkit/tenantkit/internal/tenancy"

// MaxExternalIDAttempts bounds external id regeneration on collision.
const MaxExternalIDAttempts = 5

// ServiceConfig holds dependencies for Service.
type ServiceConfig struct {
	Accounts    AccountRepository
	Memberships MembershipRepository
	Users       auth.UserRepository
	Hasher      auth.PasswordHasher
	Transactor  auth.Transactor
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger. Nil keeps slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithExternalIDGenerator replaces GenerateExternalID.
func WithExternalIDGenerator(gen func() (string, error)) Option {
	return func(s *Service) {
		if gen != nil {
			s.newExternalID = gen
		}
	}
}

// Service manages accounts, users and the memberships between them.
// Every mutating operation runs in a single transaction.
type Service struct {
	accounts      AccountRepository
	memberships   MembershipRepository
	users         auth.UserRepository
	hasher        auth.PasswordHasher
	tx            auth.Transactor
	logger        *slog.Logger
	tracer        trace.Tracer
	newExternalID func() (string, error)
}

// NewService creates a Service.
func NewService(cfg ServiceConfig, opts ...Option) (*Service, error) {
	switch {
	case cfg.Accounts == nil:
		return nil, oops.Code(CodeInvalidDependency).Errorf("account repository is required")
	case cfg.Memberships == nil:
		return nil, oops.Code(CodeInvalidDependency).Errorf("membership repository is required")
	case cfg.Users == nil:
		return nil, oops.Code(CodeInvalidDependency).Errorf("user repository is required")
	case cfg.Hasher == nil:
		return nil, oops.Code(CodeInvalidDependency).Errorf("password hasher is required")
	case cfg.Transactor == nil:
		return nil, oops.Code(CodeInvalidDependency).Errorf("transactor is required")
	}

	s := &Service{
		accounts:      cfg.Accounts,
		memberships:   cfg.Memberships,
		users:         cfg.Users,
		hasher:        cfg.Hasher,
		tx:            cfg.Transactor,
		logger:        slog.Default(),
		tracer:        otel.Tracer(tracerName),
		newExternalID: GenerateExternalID,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// CreateAccountAndOwner creates an account and makes the user with email
// its first member. An existing user is attached as-is: password and name
// are left untouched. Otherwise a new user is created with the hashed password.
func (s *Service) CreateAccountAndOwner(ctx context.Context, orgName, email, password string, fullName *string) (*Account, error) {
	ctx, span := s.tracer.Start(ctx, "tenancy.CreateAccountAndOwner")
	defer span.End()

	if err := ValidateOrganisationName(orgName); err != nil {
		return nil, err
	}
	email = auth.NormalizeEmail(email)
	if err := auth.ValidateEmail(email); err != nil {
		return nil, err
	}

	var account *Account
	err := s.tx.InTransaction(ctx, func(ctx context.Context) error {
		created, err := s.createAccount(ctx, orgName)
		if err != nil {
			return err
		}

		owner, _, err := s.findOrCreateUser(ctx, email, password, fullName)
		if err != nil {
			return err
		}

		if _, err := s.memberships.Add(ctx, owner.ID, created.ID); err != nil {
			return oops.Code("ACCOUNT_CREATE_FAILED").
				With("operation", "add owner membership").
				With("account_id", created.ID).
				Wrap(err)
		}
		account = created
		return nil
	})
	if err != nil {
		return nil, err
	}

	span.SetAttributes(attribute.String("account.external_id", account.ExternalID))
	s.logger.InfoContext(ctx, "account created",
		"account_id", account.ID,
		"external_id", account.ExternalID)
	return account, nil
}

// createAccount inserts an account, regenerating the external id on collision.
func (s *Service) createAccount(ctx context.Context, orgName string) (*Account, error) {
	var account *Account
	backoff := retry.WithMaxRetries(MaxExternalIDAttempts-1, retry.NewConstant(time.Millisecond))

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		externalID, err := s.newExternalID()
		if err != nil {
			return err
		}
		candidate, err := NewAccount(orgName, externalID)
		if err != nil {
			return err
		}
		if err := s.accounts.Create(ctx, candidate); err != nil {
			if errors.Is(err, auth.ErrDuplicate) {
				s.logger.WarnContext(ctx, "account external id collision, regenerating",
					"external_id", externalID)
				return retry.RetryableError(err)
			}
			return err
		}
		account = candidate
		return nil
	})
	if err != nil {
		if errors.Is(err, auth.ErrDuplicate) {
			return nil, oops.Code(CodeExternalIDCollision).
				With("attempts", MaxExternalIDAttempts).
				Wrap(err)
		}
		return nil, oops.Code("ACCOUNT_CREATE_FAILED").
			With("operation", "insert account").
			Wrap(err)
	}
	return account, nil
}

// findOrCreateUser returns the user with email, creating it when absent.
// The bool reports whether the user was created.
func (s *Service) findOrCreateUser(ctx context.Context, email, password string, fullName *string) (*auth.User, bool, error) {
	user, err := s.users.GetByEmail(ctx, email)
	if err == nil {
		return user, false, nil
	}
	if !errors.Is(err, auth.ErrNotFound) {
		return nil, false, oops.Code("USER_LOOKUP_FAILED").
			With("operation", "get user by email").
			Wrap(err)
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		return nil, false, err
	}
	user, err = auth.NewUser(email, hash, fullName)
	if err != nil {
		return nil, false, err
	}
	if err := s.users.Create(ctx, user); err != nil {
		return nil, false, oops.Code("USER_CREATE_FAILED").
			With("operation", "create user").
			Wrap(err)
	}
	s.logger.InfoContext(ctx, "user created", "user_id", user.ID)
	return user, true, nil
}

// AddUserToAccounts links the user with email to every account in
// accountIDs. Existing memberships are left as they are. A user that does
// not exist yet is created with memberships to exactly those accounts.
func (s *Service) AddUserToAccounts(ctx context.Context, email, password string, fullName *string, accountIDs []int64) (*auth.User, error) {
	ctx, span := s.tracer.Start(ctx, "tenancy.AddUserToAccounts")
	defer span.End()

	ids := dedupe(accountIDs)
	if len(ids) == 0 {
		return nil, oops.Code(CodeNoAccounts).Errorf("at least one account is required")
	}
	email = auth.NormalizeEmail(email)
	if err := auth.ValidateEmail(email); err != nil {
		return nil, err
	}

	var user *auth.User
	err := s.tx.InTransaction(ctx, func(ctx context.Context) error {
		for _, id := range ids {
			if _, err := s.accounts.GetByID(ctx, id); err != nil {
				return accountLookupError(err, "account_id", id)
			}
		}

		found, _, err := s.findOrCreateUser(ctx, email, password, fullName)
		if err != nil {
			return err
		}

		for _, id := range ids {
			added, err := s.memberships.Add(ctx, found.ID, id)
			if err != nil {
				return oops.Code("MEMBERSHIP_ADD_FAILED").
					With("user_id", found.ID).
					With("account_id", id).
					Wrap(err)
			}
			if added {
				s.logger.DebugContext(ctx, "membership added", "user_id", found.ID, "account_id", id)
			}
		}
		user = found
		return nil
	})
	if err != nil {
		return nil, err
	}
	return user, nil
}

// RemoveUserFromAccount unlinks a user from an account. A missing
// membership is a no-op. A user left without any membership is deleted in
// the same transaction.
func (s *Service) RemoveUserFromAccount(ctx context.Context, userID, accountID int64) error {
	ctx, span := s.tracer.Start(ctx, "tenancy.RemoveUserFromAccount")
	defer span.End()

	return s.tx.InTransaction(ctx, func(ctx context.Context) error {
		if _, err := s.users.GetByID(ctx, userID); err != nil {
			return userLookupError(err, userID)
		}

		removed, err := s.memberships.Remove(ctx, userID, accountID)
		if err != nil {
			return oops.Code("MEMBERSHIP_REMOVE_FAILED").
				With("user_id", userID).
				With("account_id", accountID).
				Wrap(err)
		}
		if !removed {
			return nil
		}

		remaining, err := s.memberships.CountForUser(ctx, userID)
		if err != nil {
			return oops.Code("MEMBERSHIP_REMOVE_FAILED").
				With("operation", "count memberships").
				With("user_id", userID).
				Wrap(err)
		}
		if remaining > 0 {
			return nil
		}

		if err := s.users.Delete(ctx, userID); err != nil {
			return oops.Code("MEMBERSHIP_REMOVE_FAILED").
				With("operation", "delete orphaned user").
				With("user_id", userID).
				Wrap(err)
		}
		s.logger.InfoContext(ctx, "deleted user with no remaining memberships", "user_id", userID)
		return nil
	})
}

// DeleteAccount deletes an account and every user whose only membership was
// that account. Orphans are computed before the delete cascades the
// account's memberships away.
func (s *Service) DeleteAccount(ctx context.Context, externalID string) error {
	ctx, span := s.tracer.Start(ctx, "tenancy.DeleteAccount")
	defer span.End()

	return s.tx.InTransaction(ctx, func(ctx context.Context) error {
		account, err := s.getAccount(ctx, externalID)
		if err != nil {
			return err
		}

		orphans, err := s.memberships.OrphansOf(ctx, account.ID)
		if err != nil {
			return oops.Code("ACCOUNT_DELETE_FAILED").
				With("operation", "compute orphans").
				With("account_id", account.ID).
				Wrap(err)
		}

		if err := s.accounts.Delete(ctx, account.ID); err != nil {
			return oops.Code("ACCOUNT_DELETE_FAILED").
				With("operation", "delete account").
				With("account_id", account.ID).
				Wrap(err)
		}

		for _, userID := range orphans {
			if err := s.users.Delete(ctx, userID); err != nil && !errors.Is(err, auth.ErrNotFound) {
				return oops.Code("ACCOUNT_DELETE_FAILED").
					With("operation", "delete orphaned user").
					With("user_id", userID).
					Wrap(err)
			}
		}

		span.SetAttributes(attribute.Int("tenancy.orphans_deleted", len(orphans)))
		s.logger.InfoContext(ctx, "account deleted",
			"account_id", account.ID,
			"external_id", account.ExternalID,
			"orphans_deleted", len(orphans))
		return nil
	})
}

// ListAccountsForUser returns the accounts the user belongs to.
func (s *Service) ListAccountsForUser(ctx context.Context, userID int64) ([]*Account, error) {
	accounts, err := s.memberships.ListAccountsForUser(ctx, userID)
	if err != nil {
		return nil, oops.Code("ACCOUNT_LIST_FAILED").With("user_id", userID).Wrap(err)
	}
	return accounts, nil
}

// GetAccount retrieves an account by external ID.
func (s *Service) GetAccount(ctx context.Context, externalID string) (*Account, error) {
	return s.getAccount(ctx, externalID)
}

// UpdateAccount renames an account.
func (s *Service) UpdateAccount(ctx context.Context, externalID, orgName string) (*Account, error) {
	if err := ValidateOrganisationName(orgName); err != nil {
		return nil, err
	}

	var account *Account
	err := s.tx.InTransaction(ctx, func(ctx context.Context) error {
		found, err := s.getAccount(ctx, externalID)
		if err != nil {
			return err
		}
		if err := found.Rename(orgName); err != nil {
			return err
		}
		if err := s.accounts.Update(ctx, found); err != nil {
			return oops.Code("ACCOUNT_UPDATE_FAILED").With("account_id", found.ID).Wrap(err)
		}
		account = found
		return nil
	})
	if err != nil {
		return nil, err
	}
	return account, nil
}

// ListUsersForAccount returns the members of an account.
func (s *Service) ListUsersForAccount(ctx context.Context, externalID string) ([]*auth.User, error) {
	account, err := s.getAccount(ctx, externalID)
	if err != nil {
		return nil, err
	}
	users, err := s.memberships.ListUsersForAccount(ctx, account.ID)
	if err != nil {
		return nil, oops.Code("USER_LIST_FAILED").With("account_id", account.ID).Wrap(err)
	}
	return users, nil
}

// GetUser retrieves a user by ID.
func (s *Service) GetUser(ctx context.Context, id int64) (*auth.User, error) {
	user, err := s.users.GetByID(ctx, id)
	if err != nil {
		return nil, userLookupError(err, id)
	}
	return user, nil
}

// UserUpdate holds the optional fields of UpdateUser. Nil leaves a field unchanged.
type UserUpdate struct {
	Email    *string
	FullName *string
}

// UpdateUser changes a user's email and/or full name. Taking an email that
// belongs to another user fails with USER_EMAIL_CONFLICT.
func (s *Service) UpdateUser(ctx context.Context, id int64, update UserUpdate) (*auth.User, error) {
	var email string
	if update.Email != nil {
		email = auth.NormalizeEmail(*update.Email)
		if err := auth.ValidateEmail(email); err != nil {
			return nil, err
		}
	}

	var user *auth.User
	err := s.tx.InTransaction(ctx, func(ctx context.Context) error {
		found, err := s.users.GetByID(ctx, id)
		if err != nil {
			return userLookupError(err, id)
		}
		if update.Email != nil {
			found.Email = email
		}
		if update.FullName != nil {
			found.SetFullName(update.FullName)
		}
		found.UpdatedAt = time.Now().UTC()

		if err := s.users.Update(ctx, found); err != nil {
			if errors.Is(err, auth.ErrDuplicate) {
				return oops.Code(auth.CodeEmailConflict).
					With("user_id", id).
					Wrap(err)
			}
			return oops.Code("USER_UPDATE_FAILED").With("user_id", id).Wrap(err)
		}
		user = found
		return nil
	})
	if err != nil {
		return nil, err
	}
	return user, nil
}

// DeleteUser deletes a user. Memberships and reset tokens cascade.
func (s *Service) DeleteUser(ctx context.Context, id int64) error {
	if err := s.users.Delete(ctx, id); err != nil {
		return userLookupError(err, id)
	}
	s.logger.InfoContext(ctx, "user deleted", "user_id", id)
	return nil
}

func (s *Service) getAccount(ctx context.Context, externalID string) (*Account, error) {
	if !IsExternalID(externalID) {
		return nil, oops.Code(CodeAccountNotFound).
			With("external_id", externalID).
			Wrap(auth.ErrNotFound)
	}
	account, err := s.accounts.GetByExternalID(ctx, externalID)
	if err != nil {
		return nil, accountLookupError(err, "external_id", externalID)
	}
	return account, nil
}

func accountLookupError(err error, key string, value any) error {
	if errors.Is(err, auth.ErrNotFound) {
		return oops.Code(CodeAccountNotFound).With(key, value).Wrap(err)
	}
	return oops.Code("ACCOUNT_GET_FAILED").With(key, value).Wrap(err)
}

func userLookupError(err error, id int64) error {
	if errors.Is(err, auth.ErrNotFound) {
		return oops.Code(CodeUserNotFound).With("user_id", id).Wrap(err)
	}
	return oops.Code("USER_GET_FAILED").With("user_id", id).Wrap(err)
}

func dedupe(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
