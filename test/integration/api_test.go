// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TechnicFlux Contributors

//go:build integration

package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/oklog/ulid/v2"
	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention
	"github.com/prometheus/client_golang/prometheus"

	"github.com/technicflux/technicflux/internal/api"
	"github.com/technicflux/technicflux/internal/auth"
	authpg "github.com/technicflux/technicflux/internal/auth/postgres"
	"github.com/technicflux/technicflux/internal/catalog"
	catalogpg "github.com/technicflux/technicflux/internal/catalog/postgres"
	"github.com/technicflux/technicflux/internal/ratelimit"
	"github.com/technicflux/technicflux/internal/sequence"
	"github.com/technicflux/technicflux/internal/store"
	"github.com/technicflux/technicflux/internal/store/storetest"
)

const masterKey = "integration-master-key"

// cheapParams keep argon2id fast enough for end-to-end runs.
var cheapParams = auth.Argon2Params{Time: 1, Memory: 1024, Threads: 1, SaltLen: 16, KeyLen: 32}

type environment struct {
	db      *storetest.Database
	users   *auth.Directory
	keys    *auth.KeyRegistry
	catalog *catalog.Service
	limiter *ratelimit.Limiter
	server  *httptest.Server
}

func startEnvironment(ctx context.Context, limit int) *environment {
	gin.SetMode(gin.TestMode)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	db, err := storetest.Start(ctx)
	Expect(err).NotTo(HaveOccurred())

	hasher := auth.NewHashPool(auth.NewArgon2idHasherWithParams(cheapParams), 2, prometheus.NewRegistry())
	userRepo := authpg.NewUserRepository(db.Pool)

	users, err := auth.NewDirectory(userRepo, hasher, logger)
	Expect(err).NotTo(HaveOccurred())
	keys, err := auth.NewKeyRegistry(authpg.NewAPIKeyRepository(db.Pool), hasher,
		auth.KeyRegistryConfig{MasterKey: masterKey, FingerprintSecret: "integration-fingerprint"}, logger)
	Expect(err).NotTo(HaveOccurred())
	svc, err := catalog.NewService(catalog.ServiceConfig{
		Mods:       catalogpg.NewModRepository(db.Pool),
		Modpacks:   catalogpg.NewModpackRepository(db.Pool),
		Builds:     catalogpg.NewBuildRepository(db.Pool),
		Users:      users,
		Sequencer:  sequence.NewPostgresSequencer(db.Pool),
		Transactor: store.NewTransactor(db.Pool),
		Logger:     logger,
	})
	Expect(err).NotTo(HaveOccurred())
	limiter, err := ratelimit.NewLimiter(ratelimit.NewPostgresStore(db.Pool),
		ratelimit.Config{Max: limit, Window: time.Minute}, ratelimit.WithLogger(logger))
	Expect(err).NotTo(HaveOccurred())

	handler, err := api.NewRouter(api.Config{
		Catalog:   svc,
		Users:     users,
		Keys:      keys,
		Limiter:   limiter,
		Logger:    logger,
		Info:      api.Info{Name: "TechnicFlux", Version: "integration", Stream: "stable"},
		MirrorURL: "http://mirror.test/mods",
	})
	Expect(err).NotTo(HaveOccurred())

	return &environment{
		db:      db,
		users:   users,
		keys:    keys,
		catalog: svc,
		limiter: limiter,
		server:  httptest.NewServer(handler),
	}
}

func (e *environment) close(ctx context.Context) {
	e.server.Close()
	e.limiter.Close()
	e.db.Close(ctx)
}

func (e *environment) do(method, path string, body any, apiKey string) *http.Response {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		Expect(err).NotTo(HaveOccurred())
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(context.Background(), method, e.server.URL+path, reader)
	Expect(err).NotTo(HaveOccurred())
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if apiKey != "" {
		req.Header.Set(api.HeaderAPIKey, apiKey)
	}
	resp, err := e.server.Client().Do(req)
	Expect(err).NotTo(HaveOccurred())
	return resp
}

func decode[T any](resp *http.Response) T {
	defer resp.Body.Close() //nolint:errcheck // test helper
	var v T
	Expect(json.NewDecoder(resp.Body).Decode(&v)).To(Succeed())
	return v
}

var _ = Describe("Catalog API", Ordered, func() {
	var (
		ctx context.Context
		env *environment
	)

	BeforeAll(func() {
		ctx = context.Background()
		env = startEnvironment(ctx, 1000)
	})

	AfterAll(func() {
		if env != nil {
			env.close(ctx)
		}
	})

	Describe("publishing a modpack", Ordered, func() {
		var (
			admin   *auth.User
			userKey string
		)

		It("creates a user who can log in", func() {
			_, err := env.users.CreateUser(ctx, "admin", "Administrator", "hunter2hunter2")
			Expect(err).NotTo(HaveOccurred())

			resp := env.do(http.MethodPost, "/api/login", map[string]string{"username": "admin", "password": "hunter2hunter2"}, "")
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			user := decode[api.UserView](resp)
			Expect(user.DisplayName).To(Equal("Administrator"))
			Expect(user.LastLogin).NotTo(BeNil())
		})

		It("rejects a wrong password", func() {
			resp := env.do(http.MethodPost, "/api/login", map[string]string{"username": "admin", "password": "wrong-password"}, "")
			Expect(resp.StatusCode).To(Equal(http.StatusForbidden))
			resp.Body.Close() //nolint:errcheck // test
		})

		It("issues an API key that verifies", func() {
			var err error
			admin, err = env.users.GetByUsername(ctx, "admin")
			Expect(err).NotTo(HaveOccurred())
			key, plaintext, err := env.keys.GenerateKey(ctx, admin.ID, "launcher")
			Expect(err).NotTo(HaveOccurred())
			Expect(key.Fingerprint).NotTo(BeNil())
			userKey = plaintext

			resp := env.do(http.MethodGet, "/api/verify/"+userKey, nil, "")
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			view := decode[api.KeyView](resp)
			Expect(view.Name).To(Equal("launcher"))
			Expect(view.Valid).To(Equal(api.MsgKeyValidated))
		})

		It("verifies the operator key without a record", func() {
			resp := env.do(http.MethodGet, "/api/verify/"+masterKey, nil, "")
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(decode[api.KeyView](resp).CreatedAt).To(Equal("A long time ago"))
		})

		It("refuses writes without a key", func() {
			resp := env.do(http.MethodPost, "/api/modpack", map[string]string{"name": "tekkit"}, "")
			Expect(resp.StatusCode).To(Equal(http.StatusForbidden))
			resp.Body.Close() //nolint:errcheck // test
		})

		It("creates a modpack owned by the key's owner", func() {
			resp := env.do(http.MethodPost, "/api/modpack", map[string]string{"name": "tekkit", "display_name": "Tekkit"}, userKey)
			Expect(resp.StatusCode).To(Equal(http.StatusCreated))
			resp.Body.Close() //nolint:errcheck // test

			packs, err := env.catalog.ListModpacksByMember(ctx, admin.ID, catalog.RoleOwner)
			Expect(err).NotTo(HaveOccurred())
			Expect(packs).To(HaveLen(1))
			Expect(packs[0].Name).To(Equal("tekkit"))

			resp = env.do(http.MethodPost, "/api/modpack", map[string]string{"name": "tekkit"}, userKey)
			Expect(resp.StatusCode).To(Equal(http.StatusConflict))
			resp.Body.Close() //nolint:errcheck // test
		})

		It("publishes mods and a build", func() {
			for _, spec := range []catalog.ModSpec{
				{Name: "ftbu", Version: "1.0.0", MCVersion: "1.12.2", Type: catalog.ModTypeForge, MD5: "aa", Filesize: 10},
				{Name: "jei", Version: "4.16.1", MCVersion: "1.12.2", Type: catalog.ModTypeForge, MD5: "bb", Filesize: 20},
			} {
				resp := env.do(http.MethodPost, "/api/mod", spec, masterKey)
				Expect(resp.StatusCode).To(Equal(http.StatusCreated))
				resp.Body.Close() //nolint:errcheck // test
			}

			resp := env.do(http.MethodPost, "/api/modpack/tekkit/build",
				catalog.BuildSpec{Version: "1.0.0", Minecraft: "1.12.2", Java: 8, Memory: 2048}, userKey)
			Expect(resp.StatusCode).To(Equal(http.StatusCreated))
			resp.Body.Close() //nolint:errcheck // test

			for _, mod := range []string{"ftbu:1.0.0", "jei:4.16.1"} {
				name, version, _ := strings.Cut(mod, ":")
				resp := env.do(http.MethodPost, "/api/modpack/tekkit/1.0.0/mods",
					map[string]string{"name": name, "version": version}, userKey)
				Expect(resp.StatusCode).To(Equal(http.StatusOK))
				resp.Body.Close() //nolint:errcheck // test
			}
		})

		It("resolves the published build", func() {
			resp := env.do(http.MethodGet, "/api/modpack/tekkit/1.0.0", nil, "")
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			build := decode[api.BuildView](resp)
			Expect(build.Minecraft).To(Equal("1.12.2"))
			Expect(build.Mods).To(HaveLen(2))
			Expect(build.Mods[0].Name).To(Equal("ftbu"))
			Expect(build.Mods[1].Filesize).To(BeEquivalentTo(20))

			resp = env.do(http.MethodGet, "/api/modpack/tekkit", nil, "")
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			pack := decode[api.ModpackView](resp)
			Expect(pack.Builds).To(Equal([]string{"1.0.0"}))

			resp = env.do(http.MethodGet, "/api/modpack", nil, "")
			index := decode[api.ModpackIndexView](resp)
			Expect(index.Modpacks).To(HaveKeyWithValue("tekkit", "Tekkit"))
		})

		It("reports unknown builds", func() {
			resp := env.do(http.MethodGet, "/api/modpack/tekkit/9.9.9", nil, "")
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
			resp.Body.Close() //nolint:errcheck // test
		})
	})

	Describe("concurrent publishing", func() {
		It("gives every new mod its own family id", func() {
			const n = 16
			ids := make([]int64, n)
			var wg sync.WaitGroup
			for i := range n {
				wg.Add(1)
				go func() {
					defer GinkgoRecover()
					defer wg.Done()
					mod, err := env.catalog.CreateMod(ctx, catalog.ModSpec{
						Name: "concurrent-" + strconv.Itoa(i), Version: "1.0.0", MCVersion: "1.12.2", Type: catalog.ModTypeForge,
					})
					Expect(err).NotTo(HaveOccurred())
					ids[i] = mod.ModID
				}()
			}
			wg.Wait()

			seen := make(map[int64]bool, n)
			for _, id := range ids {
				Expect(seen).NotTo(HaveKey(id))
				seen[id] = true
			}
		})

		It("keeps every concurrently added build", func() {
			_, err := env.catalog.CreateModpack(ctx, "busy", "Busy", ulid.ULID{})
			Expect(err).NotTo(HaveOccurred())

			const n = 10
			var wg sync.WaitGroup
			for i := range n {
				wg.Add(1)
				go func() {
					defer GinkgoRecover()
					defer wg.Done()
					_, err := env.catalog.AddBuild(ctx, "busy", catalog.BuildSpec{
						Version: "1.0." + strconv.Itoa(i), Minecraft: "1.12.2", Java: 8,
					})
					Expect(err).NotTo(HaveOccurred())
				}()
			}
			wg.Wait()

			pack, err := env.catalog.ResolveModpack(ctx, "busy")
			Expect(err).NotTo(HaveOccurred())
			Expect(pack.BuildVersions()).To(HaveLen(n))
		})
	})
})

var _ = Describe("Rate limiting", Ordered, func() {
	var (
		ctx context.Context
		env *environment
	)

	BeforeAll(func() {
		ctx = context.Background()
		env = startEnvironment(ctx, 3)
	})

	AfterAll(func() {
		if env != nil {
			env.close(ctx)
		}
	})

	It("counts requests in postgres and rejects the overflow", func() {
		for i := 3; i > 0; i-- {
			resp := env.do(http.MethodGet, "/api/", nil, "")
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(resp.Header.Get(api.HeaderRateLimitRemaining)).To(Equal(strconv.Itoa(i - 1)))
			resp.Body.Close() //nolint:errcheck // test
		}

		resp := env.do(http.MethodGet, "/api/", nil, "")
		Expect(resp.StatusCode).To(Equal(http.StatusTooManyRequests))
		Expect(resp.Header.Get(api.HeaderRetryAfter)).NotTo(BeEmpty())
		resp.Body.Close() //nolint:errcheck // test

		var count int
		Expect(env.db.Pool.QueryRow(ctx, "SELECT count(*) FROM rate_limit_windows").Scan(&count)).To(Succeed())
		Expect(count).To(Equal(1))
	})
})
