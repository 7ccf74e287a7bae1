// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tenantkit Contributors

//go:build integration

package store_test

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/tenantkit/tenantkit/internal/store"
)

var _ = Describe("PostgreSQL store", Ordered, func() {
	var (
		ctx       context.Context
		container *postgres.PostgresContainer
		pool      *pgxpool.Pool
	)

	BeforeAll(func() {
		ctx = context.Background()

		var err error
		container, err = postgres.Run(ctx,
			"postgres:16-alpine",
			postgres.WithDatabase("tenantkit_test"),
			postgres.WithUsername("tenantkit"),
			postgres.WithPassword("tenantkit"),
			testcontainers.WithWaitStrategy(
				wait.ForLog("database system is ready to accept connections").
					WithOccurrence(2).
					WithStartupTimeout(30*time.Second),
			),
		)
		Expect(err).NotTo(HaveOccurred())

		connStr, err := container.ConnectionString(ctx, "sslmode=disable")
		Expect(err).NotTo(HaveOccurred())

		migrator, err := store.NewMigrator(connStr)
		Expect(err).NotTo(HaveOccurred())
		Expect(migrator.Up()).To(Succeed())
		Expect(migrator.Close()).To(Succeed())

		pool, err = store.Connect(ctx, connStr, store.DefaultConnectOptions())
		Expect(err).NotTo(HaveOccurred())
	})

	AfterAll(func() {
		if pool != nil {
			pool.Close()
		}
		if container != nil {
			_ = container.Terminate(ctx)
		}
	})

	Describe("Transactor", func() {
		It("commits work done through Conn", func() {
			tx := store.NewTransactor(pool)
			err := tx.InTransaction(ctx, func(ctx context.Context) error {
				_, err := store.Conn(ctx, pool).Exec(ctx,
					`INSERT INTO accounts (organisation_name, external_id) VALUES ($1, $2)`,
					"Committed", "00000000000000c1")
				return err
			})
			Expect(err).NotTo(HaveOccurred())

			var name string
			err = pool.QueryRow(ctx,
				`SELECT organisation_name FROM accounts WHERE external_id = $1`, "00000000000000c1").Scan(&name)
			Expect(err).NotTo(HaveOccurred())
			Expect(name).To(Equal("Committed"))
		})

		It("rolls back when fn fails", func() {
			tx := store.NewTransactor(pool)
			err := tx.InTransaction(ctx, func(ctx context.Context) error {
				if _, err := store.Conn(ctx, pool).Exec(ctx,
					`INSERT INTO accounts (organisation_name, external_id) VALUES ($1, $2)`,
					"Rolled back", "00000000000000e1"); err != nil {
					return err
				}
				return errors.New("force rollback")
			})
			Expect(err).To(HaveOccurred())

			err = pool.QueryRow(ctx,
				`SELECT organisation_name FROM accounts WHERE external_id = $1`, "00000000000000e1").Scan(new(string))
			Expect(errors.Is(err, pgx.ErrNoRows)).To(BeTrue())
		})
	})

	Describe("schema", func() {
		It("reports unique violations by constraint", func() {
			_, err := pool.Exec(ctx,
				`INSERT INTO users (email, password_hash) VALUES ('dup@example.com', 'x')`)
			Expect(err).NotTo(HaveOccurred())

			_, err = pool.Exec(ctx,
				`INSERT INTO users (email, password_hash) VALUES ('DUP@example.com', 'x')`)
			constraint, ok := store.IsUniqueViolation(err)
			Expect(ok).To(BeTrue())
			Expect(constraint).To(Equal("users_email_key"))
		})

		It("rejects non-hex external ids", func() {
			_, err := pool.Exec(ctx,
				`INSERT INTO accounts (organisation_name, external_id) VALUES ('Bad', 'ZZZZZZZZZZZZZZZZ')`)
			Expect(err).To(HaveOccurred())
		})
	})
})
