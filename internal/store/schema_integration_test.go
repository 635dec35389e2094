// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

//go:build integration

package store_test

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/oklog/ulid/v2"
	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/holomush/credkeep/internal/store"
)

func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

var _ = Describe("Schema", Ordered, func() {
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
			postgres.WithDatabase("credkeep_test"),
			postgres.WithUsername("credkeep"),
			postgres.WithPassword("credkeep"),
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

	insertUser := func(email string) (string, error) {
		id := ulid.Make().String()
		_, err := pool.Exec(ctx,
			`INSERT INTO users (id, name, email, password_hash) VALUES ($1, 'n', $2, 'h')`,
			id, email)
		return id, err
	}

	It("rejects emails differing only in case", func() {
		_, err := insertUser("case@example.com")
		Expect(err).NotTo(HaveOccurred())

		_, err = insertUser("CASE@example.com")
		Expect(pgCode(err)).To(Equal(pgerrcode.UniqueViolation))
	})

	It("defaults optional profile fields to empty strings", func() {
		id, err := insertUser("defaults@example.com")
		Expect(err).NotTo(HaveOccurred())

		var phone, bio string
		err = pool.QueryRow(ctx, `SELECT phone, bio FROM users WHERE id = $1`, id).Scan(&phone, &bio)
		Expect(err).NotTo(HaveOccurred())
		Expect(phone).To(BeEmpty())
		Expect(bio).To(BeEmpty())
	})

	It("allows one reset token per user and cascades on user delete", func() {
		userID, err := insertUser("reset@example.com")
		Expect(err).NotTo(HaveOccurred())

		now := time.Now()
		insertToken := func(hash string) error {
			_, err := pool.Exec(ctx,
				`INSERT INTO reset_tokens (id, user_id, token_hash, created_at, expires_at)
				 VALUES ($1, $2, $3, $4, $5)`,
				ulid.Make().String(), userID, hash, now, now.Add(time.Hour))
			return err
		}

		Expect(insertToken("hash-one")).To(Succeed())
		Expect(pgCode(insertToken("hash-two"))).To(Equal(pgerrcode.UniqueViolation))

		_, err = pool.Exec(ctx, `DELETE FROM users WHERE id = $1`, userID)
		Expect(err).NotTo(HaveOccurred())

		var n int
		err = pool.QueryRow(ctx, `SELECT COUNT(*) FROM reset_tokens WHERE user_id = $1`, userID).Scan(&n)
		Expect(err).NotTo(HaveOccurred())
		Expect(n).To(BeZero())
	})
})
