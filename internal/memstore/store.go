// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tenantkit Contributors

// Package memstore implements the auth and tenancy repositories in memory.
// It mirrors the PostgreSQL schema: unique emails and external ids,
// cascading deletes and transactional rollback. Intended for tests and
// local development without a database.
package memstore

import (
	"context"
	"maps"
	"sync"

	"github.com/tenantkit/tenantkit/internal/auth"
	"github.com/tenantkit/tenantkit/internal/tenancy"
)

type membership struct {
	userID, accountID int64
}

type state struct {
	users       map[int64]auth.User
	resets      map[int64]auth.PasswordReset
	accounts    map[int64]tenancy.Account
	memberships map[membership]struct{}
	nextID      int64
}

func (s *state) clone() state {
	return state{
		users:       maps.Clone(s.users),
		resets:      maps.Clone(s.resets),
		accounts:    maps.Clone(s.accounts),
		memberships: maps.Clone(s.memberships),
		nextID:      s.nextID,
	}
}

// Store holds every table. Every operation is serialized against open
// transactions: calls outside a transaction wait for it to finish, so a
// failed transaction can restore the snapshot taken when it began.
type Store struct {
	txMu sync.Mutex
	mu   sync.Mutex
	data state
}

// New creates an empty Store.
func New() *Store {
	return &Store{data: state{
		users:       make(map[int64]auth.User),
		resets:      make(map[int64]auth.PasswordReset),
		accounts:    make(map[int64]tenancy.Account),
		memberships: make(map[membership]struct{}),
	}}
}

type txKey struct{}

// InTransaction implements auth.Transactor.
func (s *Store) InTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(txKey{}) != nil {
		return fn(ctx)
	}

	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.Lock()
	snapshot := s.data.clone()
	s.mu.Unlock()

	if err := fn(context.WithValue(ctx, txKey{}, true)); err != nil {
		s.mu.Lock()
		s.data = snapshot
		s.mu.Unlock()
		return err
	}
	return nil
}

// lock acquires the store for one repository call. Outside a transaction
// it also holds txMu so no transaction is in flight.
func (s *Store) lock(ctx context.Context) (unlock func()) {
	if ctx.Value(txKey{}) == nil {
		s.txMu.Lock()
		s.mu.Lock()
		return func() {
			s.mu.Unlock()
			s.txMu.Unlock()
		}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

func (s *Store) id() int64 {
	s.data.nextID++
	return s.data.nextID
}

// Users returns an auth.UserRepository view of the store.
func (s *Store) Users() *UserRepository { return &UserRepository{s: s} }

// Resets returns an auth.PasswordResetRepository view of the store.
func (s *Store) Resets() *PasswordResetRepository { return &PasswordResetRepository{s: s} }

// Accounts returns a tenancy.AccountRepository view of the store.
func (s *Store) Accounts() *AccountRepository { return &AccountRepository{s: s} }

// Memberships returns a tenancy.MembershipRepository view of the store.
func (s *Store) Memberships() *MembershipRepository { return &MembershipRepository{s: s} }

var _ auth.Transactor = (*Store)(nil)
