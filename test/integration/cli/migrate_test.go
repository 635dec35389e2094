// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

//go:build integration

package cli_test

import (
	"context"

	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention
)

var _ = Describe("Migrate Command", func() {
	var ctx context.Context

	BeforeEach(func() {
		ctx = context.Background()
		resetDatabase(ctx, env.pool)
	})

	It("applies all migrations and reports the schema as current", func() {
		output, err := credkeep(ctx, "migrate", "up")
		Expect(err).NotTo(HaveOccurred(), "migrate up failed: %s", output)
		Expect(output).To(ContainSubstring("Migrations completed successfully"))

		output, err = credkeep(ctx, "migrate", "status")
		Expect(err).NotTo(HaveOccurred(), "migrate status failed: %s", output)
		Expect(output).To(ContainSubstring("applied  000001_create_users"))
		Expect(output).To(ContainSubstring("applied  000002_create_reset_tokens"))
		Expect(output).To(ContainSubstring("Schema is up to date"))

		var count int
		err = env.pool.QueryRow(ctx,
			"SELECT COUNT(*) FROM information_schema.tables WHERE table_name IN ('users', 'reset_tokens')",
		).Scan(&count)
		Expect(err).NotTo(HaveOccurred())
		Expect(count).To(Equal(2))
	})

	It("is idempotent", func() {
		for range 2 {
			output, err := credkeep(ctx, "migrate")
			Expect(err).NotTo(HaveOccurred(), "migrate failed: %s", output)
		}
	})

	It("rolls back one step and lists the pending migration", func() {
		output, err := credkeep(ctx, "migrate", "up")
		Expect(err).NotTo(HaveOccurred(), "migrate up failed: %s", output)

		output, err = credkeep(ctx, "migrate", "steps", "--", "-1")
		Expect(err).NotTo(HaveOccurred(), "migrate steps failed: %s", output)
		Expect(output).To(ContainSubstring("Moved -1 step(s)"))

		output, err = credkeep(ctx, "migrate", "status")
		Expect(err).NotTo(HaveOccurred(), "migrate status failed: %s", output)
		Expect(output).To(ContainSubstring("pending  000002_create_reset_tokens"))
		Expect(output).NotTo(ContainSubstring("Schema is up to date"))
	})
})

var _ = Describe("Purge Command", func() {
	var ctx context.Context

	BeforeEach(func() {
		ctx = context.Background()
		resetDatabase(ctx, env.pool)
		output, err := credkeep(ctx, "migrate", "up")
		Expect(err).NotTo(HaveOccurred(), "migrate up failed: %s", output)

		_, err = env.pool.Exec(ctx, `
			INSERT INTO users (id, name, email, password_hash)
			VALUES ('u1', 'Ann', 'ann@example.com', 'x'), ('u2', 'Bo', 'bo@example.com', 'x')`)
		Expect(err).NotTo(HaveOccurred())
		_, err = env.pool.Exec(ctx, `
			INSERT INTO reset_tokens (id, user_id, token_hash, created_at, expires_at) VALUES
			('r1', 'u1', 'h1', NOW() - INTERVAL '2 hours', NOW() - INTERVAL '1 hour'),
			('r2', 'u2', 'h2', NOW(), NOW() + INTERVAL '40 minutes')`)
		Expect(err).NotTo(HaveOccurred())
	})

	It("removes only expired reset tokens", func() {
		output, err := credkeep(ctx, "purge")
		Expect(err).NotTo(HaveOccurred(), "purge failed: %s", output)
		Expect(output).To(ContainSubstring("Removed 1 expired reset token(s)"))

		var ids []string
		rows, err := env.pool.Query(ctx, "SELECT id FROM reset_tokens")
		Expect(err).NotTo(HaveOccurred())
		defer rows.Close()
		for rows.Next() {
			var id string
			Expect(rows.Scan(&id)).To(Succeed())
			ids = append(ids, id)
		}
		Expect(ids).To(ConsistOf("r2"))
	})
})
