// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

//go:build integration

package web_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention
	"github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/holomush/credkeep/internal/auth"
	"github.com/holomush/credkeep/internal/auth/postgres"
	"github.com/holomush/credkeep/internal/auth/redisstore"
	"github.com/holomush/credkeep/internal/store"
	"github.com/holomush/credkeep/internal/web"
)

// mailbox collects sent messages.
type mailbox struct {
	mu   sync.Mutex
	msgs []auth.Message
}

func (m *mailbox) Send(_ context.Context, msg auth.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.msgs = append(m.msgs, msg)
	return nil
}

func (m *mailbox) lastSecret() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	Expect(m.msgs).NotTo(BeEmpty())
	match := resetLink.FindStringSubmatch(m.msgs[len(m.msgs)-1].HTMLBody)
	Expect(match).To(HaveLen(2))
	return match[1]
}

var _ = Describe("Credential API", Ordered, func() {
	var (
		ctx      context.Context
		pgC      *tcpostgres.PostgresContainer
		redisC   testcontainers.Container
		pool     *pgxpool.Pool
		rdb      *redis.Client
		ts       *httptest.Server
		client   *http.Client
		outbox   *mailbox
		firstKey string
	)

	BeforeAll(func() {
		ctx = context.Background()

		var err error
		pgC, err = tcpostgres.Run(ctx,
			"postgres:16-alpine",
			tcpostgres.WithDatabase("credkeep_test"),
			tcpostgres.WithUsername("credkeep"),
			tcpostgres.WithPassword("credkeep"),
			testcontainers.WithWaitStrategy(
				wait.ForLog("database system is ready to accept connections").
					WithOccurrence(2).
					WithStartupTimeout(30*time.Second),
			),
		)
		Expect(err).NotTo(HaveOccurred())
		dsn, err := pgC.ConnectionString(ctx, "sslmode=disable")
		Expect(err).NotTo(HaveOccurred())

		migrator, err := store.NewMigrator(dsn)
		Expect(err).NotTo(HaveOccurred())
		Expect(migrator.Up()).To(Succeed())
		Expect(migrator.Close()).To(Succeed())

		pool, err = store.Connect(ctx, dsn, store.DefaultConnectOptions())
		Expect(err).NotTo(HaveOccurred())

		redisC, err = testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
			ContainerRequest: testcontainers.ContainerRequest{
				Image:        "redis:7-alpine",
				ExposedPorts: []string{"6379/tcp"},
				WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(30 * time.Second),
			},
			Started: true,
		})
		Expect(err).NotTo(HaveOccurred())
		endpoint, err := redisC.Endpoint(ctx, "")
		Expect(err).NotTo(HaveOccurred())
		rdb = redis.NewClient(&redis.Options{Addr: endpoint})

		resets, err := auth.NewResetManager(redisstore.NewResetTokenRepository(rdb))
		Expect(err).NotTo(HaveOccurred())
		sessions, err := auth.NewSessionIssuer([]byte(strings.Repeat("e2e-", 8)))
		Expect(err).NotTo(HaveOccurred())

		outbox = &mailbox{}
		svc, err := auth.NewService(auth.Dependencies{
			Users:    postgres.NewUserRepository(pool),
			Resets:   resets,
			Hasher:   auth.NewArgon2idHasherWithParams(auth.Argon2Params{Time: 1, Memory: 8 * 1024, Threads: 1}),
			Sessions: sessions,
			Notifier: outbox,
			Mail:     auth.ResetMailConfig{FrontendURL: "https://app.example.com", From: "noreply@example.com"},
		}, auth.WithLogger(discard))
		Expect(err).NotTo(HaveOccurred())

		srv, err := web.NewServer("", svc, web.WithLogger(discard))
		Expect(err).NotTo(HaveOccurred())

		// Session cookies are Secure, so the client must speak TLS.
		ts = httptest.NewTLSServer(srv.Handler())
		client = ts.Client()
		client.Jar, err = cookiejar.New(nil)
		Expect(err).NotTo(HaveOccurred())
	})

	AfterAll(func() {
		if ts != nil {
			ts.Close()
		}
		if rdb != nil {
			_ = rdb.Close()
		}
		if pool != nil {
			pool.Close()
		}
		if redisC != nil {
			_ = redisC.Terminate(ctx)
		}
		if pgC != nil {
			_ = pgC.Terminate(ctx)
		}
	})

	send := func(method, path string, body any) (int, []byte) {
		var r io.Reader = http.NoBody
		if body != nil {
			data, err := json.Marshal(body)
			Expect(err).NotTo(HaveOccurred())
			r = bytes.NewReader(data)
		}
		req, err := http.NewRequestWithContext(ctx, method, ts.URL+path, r)
		Expect(err).NotTo(HaveOccurred())
		req.Header.Set("Content-Type", "application/json")
		resp, err := client.Do(req)
		Expect(err).NotTo(HaveOccurred())
		defer func() { _ = resp.Body.Close() }()
		out, err := io.ReadAll(resp.Body)
		Expect(err).NotTo(HaveOccurred())
		return resp.StatusCode, out
	}

	loggedIn := func() bool {
		status, body := send(http.MethodGet, "/api/users/loggedin", nil)
		Expect(status).To(Equal(http.StatusOK))
		var v bool
		Expect(json.Unmarshal(body, &v)).To(Succeed())
		return v
	}

	It("registers and keeps the session in a cookie", func() {
		status, body := send(http.MethodPost, "/api/users/register", map[string]string{
			"name": "Ann", "email": "Ann@Example.com", "password": "secret1",
		})
		Expect(status).To(Equal(http.StatusCreated), string(body))
		Expect(string(body)).To(ContainSubstring(`"email":"ann@example.com"`))
		Expect(string(body)).NotTo(ContainSubstring("password"))
		Expect(loggedIn()).To(BeTrue())
	})

	It("rejects a second account for the same address in any case", func() {
		status, _ := send(http.MethodPost, "/api/users/register", map[string]string{
			"name": "Other", "email": "ANN@example.com", "password": "secret1",
		})
		Expect(status).To(Equal(http.StatusBadRequest))
	})

	It("serves and updates the profile", func() {
		status, body := send(http.MethodGet, "/api/users/getuser", nil)
		Expect(status).To(Equal(http.StatusOK))
		Expect(string(body)).To(ContainSubstring(`"name":"Ann"`))

		status, body = send(http.MethodPatch, "/api/users/updateuser", map[string]string{"bio": "climber", "phone": "555"})
		Expect(status).To(Equal(http.StatusOK), string(body))
		Expect(string(body)).To(ContainSubstring(`"bio":"climber"`))
		Expect(string(body)).To(ContainSubstring(`"name":"Ann"`))
	})

	It("logs out", func() {
		status, _ := send(http.MethodGet, "/api/users/logout", nil)
		Expect(status).To(Equal(http.StatusOK))
		Expect(loggedIn()).To(BeFalse())

		status, _ = send(http.MethodGet, "/api/users/getuser", nil)
		Expect(status).To(Equal(http.StatusUnauthorized))
	})

	It("issues a reset link and supersedes it on a second request", func() {
		status, _ := send(http.MethodPost, "/api/users/forgotpassword", map[string]string{"email": "ann@example.com"})
		Expect(status).To(Equal(http.StatusOK))
		firstKey = outbox.lastSecret()

		status, _ = send(http.MethodPost, "/api/users/forgotpassword", map[string]string{"email": "ann@example.com"})
		Expect(status).To(Equal(http.StatusOK))
		Expect(outbox.lastSecret()).NotTo(Equal(firstKey))

		status, _ = send(http.MethodPut, "/api/users/resetpassword/"+firstKey, map[string]string{"password": "newpass1"})
		Expect(status).To(Equal(http.StatusUnauthorized))
	})

	It("resets the password once with the live link", func() {
		secret := outbox.lastSecret()

		status, _ := send(http.MethodPut, "/api/users/resetpassword/"+secret, map[string]string{"password": "newpass1"})
		Expect(status).To(Equal(http.StatusOK))

		status, _ = send(http.MethodPut, "/api/users/resetpassword/"+secret, map[string]string{"password": "newpass2"})
		Expect(status).To(Equal(http.StatusUnauthorized))
	})

	It("logs in with the new password only", func() {
		status, _ := send(http.MethodPost, "/api/users/login", map[string]string{"email": "ann@example.com", "password": "secret1"})
		Expect(status).To(Equal(http.StatusUnauthorized))

		status, _ = send(http.MethodPost, "/api/users/login", map[string]string{"email": "ann@example.com", "password": "newpass1"})
		Expect(status).To(Equal(http.StatusOK))
		Expect(loggedIn()).To(BeTrue())
	})
})
