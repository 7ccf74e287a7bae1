// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tenantkit Contributors

package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/samber/oops"

	"github.com/tenantkit/tenantkit/internal/auth"
	authpg "github.com/tenantkit/tenantkit/internal/auth/postgres"
	"github.com/tenantkit/tenantkit/internal/store"
	"github.com/tenantkit/tenantkit/internal/tenancy"
)

// MembershipRepository implements tenancy.MembershipRepository using PostgreSQL.
type MembershipRepository struct {
	db store.DB
}

// NewMembershipRepository creates a new MembershipRepository.
func NewMembershipRepository(db store.DB) *MembershipRepository {
	return &MembershipRepository{db: db}
}

// Add links a user to an account. A missing user or account surfaces as
// auth.ErrNotFound.
func (r *MembershipRepository) Add(ctx context.Context, userID, accountID int64) (bool, error) {
	tag, err := store.Conn(ctx, r.db).Exec(ctx, `
		INSERT INTO memberships (user_id, account_id)
		VALUES ($1, $2)
		ON CONFLICT (user_id, account_id) DO NOTHING
	`, userID, accountID)
	if err != nil {
		if store.IsForeignKeyViolation(err) {
			return false, oops.Code("MEMBERSHIP_TARGET_NOT_FOUND").
				With("user_id", userID).
				With("account_id", accountID).
				Wrap(auth.ErrNotFound)
		}
		return false, oops.Code("MEMBERSHIP_ADD_FAILED").
			With("user_id", userID).
			With("account_id", accountID).
			Wrap(err)
	}
	return tag.RowsAffected() == 1, nil
}

// Remove unlinks a user from an account.
func (r *MembershipRepository) Remove(ctx context.Context, userID, accountID int64) (bool, error) {
	tag, err := store.Conn(ctx, r.db).Exec(ctx,
		`DELETE FROM memberships WHERE user_id = $1 AND account_id = $2`, userID, accountID)
	if err != nil {
		return false, oops.Code("MEMBERSHIP_REMOVE_FAILED").
			With("user_id", userID).
			With("account_id", accountID).
			Wrap(err)
	}
	return tag.RowsAffected() == 1, nil
}

// CountForUser returns how many accounts the user belongs to.
func (r *MembershipRepository) CountForUser(ctx context.Context, userID int64) (int, error) {
	var n int
	err := store.Conn(ctx, r.db).QueryRow(ctx,
		`SELECT count(*) FROM memberships WHERE user_id = $1`, userID).Scan(&n)
	if err != nil {
		return 0, oops.Code("MEMBERSHIP_COUNT_FAILED").With("user_id", userID).Wrap(err)
	}
	return n, nil
}

// ListAccountsForUser returns the user's accounts ordered by ID.
func (r *MembershipRepository) ListAccountsForUser(ctx context.Context, userID int64) ([]*tenancy.Account, error) {
	rows, err := store.Conn(ctx, r.db).Query(ctx, `
		SELECT a.id, a.organisation_name, a.external_id, a.created_at, a.updated_at
		FROM accounts a
		JOIN memberships m ON m.account_id = a.id
		WHERE m.user_id = $1
		ORDER BY a.id
	`, userID)
	if err != nil {
		return nil, oops.Code("ACCOUNT_LIST_FAILED").With("user_id", userID).Wrap(err)
	}
	defer rows.Close()

	accounts := make([]*tenancy.Account, 0)
	for rows.Next() {
		account, err := scanAccount(rows)
		if err != nil {
			return nil, oops.Code("ACCOUNT_LIST_FAILED").With("operation", "scan").Wrap(err)
		}
		accounts = append(accounts, account)
	}
	if err := rows.Err(); err != nil {
		return nil, oops.Code("ACCOUNT_LIST_FAILED").With("user_id", userID).Wrap(err)
	}
	return accounts, nil
}

// ListUsersForAccount returns the account's members ordered by ID.
func (r *MembershipRepository) ListUsersForAccount(ctx context.Context, accountID int64) ([]*auth.User, error) {
	rows, err := store.Conn(ctx, r.db).Query(ctx, `
		SELECT u.id, u.email, u.password_hash, u.full_name, u.failed_attempts,
		       u.locked_until, u.created_at, u.updated_at
		FROM users u
		JOIN memberships m ON m.user_id = u.id
		WHERE m.account_id = $1
		ORDER BY u.id
	`, accountID)
	if err != nil {
		return nil, oops.Code("USER_LIST_FAILED").With("account_id", accountID).Wrap(err)
	}
	defer rows.Close()

	users := make([]*auth.User, 0)
	for rows.Next() {
		user, err := authpg.ScanUser(rows)
		if err != nil {
			return nil, oops.Code("USER_LIST_FAILED").With("operation", "scan").Wrap(err)
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, oops.Code("USER_LIST_FAILED").With("account_id", accountID).Wrap(err)
	}
	return users, nil
}

// OrphansOf returns the IDs of users whose only membership is accountID.
func (r *MembershipRepository) OrphansOf(ctx context.Context, accountID int64) ([]int64, error) {
	rows, err := store.Conn(ctx, r.db).Query(ctx, `
		SELECT m.user_id
		FROM memberships m
		WHERE m.account_id = $1
		  AND NOT EXISTS (
		      SELECT 1 FROM memberships o
		      WHERE o.user_id = m.user_id AND o.account_id <> $1
		  )
		ORDER BY m.user_id
	`, accountID)
	if err != nil {
		return nil, oops.Code("MEMBERSHIP_ORPHANS_FAILED").With("account_id", accountID).Wrap(err)
	}

	ids, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, oops.Code("MEMBERSHIP_ORPHANS_FAILED").With("account_id", accountID).Wrap(err)
	}
	return ids, nil
}

var _ tenancy.MembershipRepository = (*MembershipRepository)(nil)
