// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tenantkit Contributors

// Package postgres provides PostgreSQL implementations of tenancy repositories.
package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/samber/oops"

	"github.com/tenantkit/tenantkit/internal/auth"
	"github.com/tenantkit/tenantkit/internal/store"
	"github.com/tenantkit/tenantkit/internal/tenancy"
)

const accountColumns = `id, organisation_name, external_id, created_at, updated_at`

// AccountRepository implements tenancy.AccountRepository using PostgreSQL.
type AccountRepository struct {
	db store.DB
}

// NewAccountRepository creates a new AccountRepository.
func NewAccountRepository(db store.DB) *AccountRepository {
	return &AccountRepository{db: db}
}

// Create stores a new account and sets its ID. An external id collision
// inserts nothing and leaves the transaction usable.
func (r *AccountRepository) Create(ctx context.Context, account *tenancy.Account) error {
	err := store.Conn(ctx, r.db).QueryRow(ctx, `
		INSERT INTO accounts (organisation_name, external_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (external_id) DO NOTHING
		RETURNING id
	`,
		account.OrganisationName,
		account.ExternalID,
		account.CreatedAt,
		account.UpdatedAt,
	).Scan(&account.ID)
	if errors.Is(err, pgx.ErrNoRows) {
		return oops.Code(tenancy.CodeExternalIDCollision).
			With("external_id", account.ExternalID).
			Wrap(auth.ErrDuplicate)
	}
	if err != nil {
		return oops.Code("ACCOUNT_CREATE_FAILED").
			With("operation", "insert account").
			Wrap(err)
	}
	return nil
}

// GetByID retrieves an account by ID.
func (r *AccountRepository) GetByID(ctx context.Context, id int64) (*tenancy.Account, error) {
	row := store.Conn(ctx, r.db).QueryRow(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id)
	return r.get(row, "account_id", id)
}

// GetByExternalID retrieves an account by its external ID.
func (r *AccountRepository) GetByExternalID(ctx context.Context, externalID string) (*tenancy.Account, error) {
	row := store.Conn(ctx, r.db).QueryRow(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE external_id = $1`, externalID)
	return r.get(row, "external_id", externalID)
}

func (r *AccountRepository) get(row pgx.Row, key string, value any) (*tenancy.Account, error) {
	account, err := scanAccount(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code(tenancy.CodeAccountNotFound).With(key, value).Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("ACCOUNT_GET_FAILED").With(key, value).Wrap(err)
	}
	return account, nil
}

// Update writes the organisation name.
func (r *AccountRepository) Update(ctx context.Context, account *tenancy.Account) error {
	tag, err := store.Conn(ctx, r.db).Exec(ctx,
		`UPDATE accounts SET organisation_name = $2, updated_at = $3 WHERE id = $1`,
		account.ID, account.OrganisationName, account.UpdatedAt)
	if err != nil {
		return oops.Code("ACCOUNT_UPDATE_FAILED").With("account_id", account.ID).Wrap(err)
	}
	if tag.RowsAffected() == 0 {
		return oops.Code(tenancy.CodeAccountNotFound).With("account_id", account.ID).Wrap(auth.ErrNotFound)
	}
	return nil
}

// Delete removes an account. Its memberships cascade.
func (r *AccountRepository) Delete(ctx context.Context, id int64) error {
	tag, err := store.Conn(ctx, r.db).Exec(ctx, `DELETE FROM accounts WHERE id = $1`, id)
	if err != nil {
		return oops.Code("ACCOUNT_DELETE_FAILED").With("account_id", id).Wrap(err)
	}
	if tag.RowsAffected() == 0 {
		return oops.Code(tenancy.CodeAccountNotFound).With("account_id", id).Wrap(auth.ErrNotFound)
	}
	return nil
}

func scanAccount(row pgx.Row) (*tenancy.Account, error) {
	var a tenancy.Account
	if err := row.Scan(&a.ID, &a.OrganisationName, &a.ExternalID, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, err
	}
	return &a, nil
}

var _ tenancy.AccountRepository = (*AccountRepository)(nil)
