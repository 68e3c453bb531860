// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TechnicFlux Contributors

//go:build integration

package postgres_test

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/technicflux/technicflux/internal/auth"
	authpg "github.com/technicflux/technicflux/internal/auth/postgres"
	"github.com/technicflux/technicflux/internal/catalog"
	"github.com/technicflux/technicflux/internal/catalog/postgres"
	"github.com/technicflux/technicflux/internal/sequence"
	"github.com/technicflux/technicflux/internal/store"
	"github.com/technicflux/technicflux/internal/store/storetest"
)

var testDB *storetest.Database

func TestMain(m *testing.M) {
	ctx := context.Background()
	db, err := storetest.Start(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "start postgres: %v\n", err)
		os.Exit(1)
	}
	testDB = db
	code := m.Run()
	db.Close(ctx)
	os.Exit(code)
}

func newService(t *testing.T) (*catalog.Service, *authpg.UserRepository, *sequence.PostgresSequencer) {
	t.Helper()
	require.NoError(t, testDB.Truncate(context.Background(),
		"users", "counters", "mods", "modpacks", "builds", "modpack_members", "modpack_builds", "build_mods"))

	users := authpg.NewUserRepository(testDB.Pool)
	seq := sequence.NewPostgresSequencer(testDB.Pool)
	svc, err := catalog.NewService(catalog.ServiceConfig{
		Mods:       postgres.NewModRepository(testDB.Pool),
		Modpacks:   postgres.NewModpackRepository(testDB.Pool),
		Builds:     postgres.NewBuildRepository(testDB.Pool),
		Users:      users,
		Sequencer:  seq,
		Transactor: store.NewTransactor(testDB.Pool),
	})
	require.NoError(t, err)
	return svc, users, seq
}

func TestCatalog_Integration(t *testing.T) {
	ctx := context.Background()
	svc, users, _ := newService(t)

	owner := &auth.User{ID: ulid.Make(), Username: "admin", DisplayName: "Admin", PasswordHash: "x", CreatedOn: time.Now().UTC()}
	require.NoError(t, users.Create(ctx, owner))

	_, err := svc.CreateModpack(ctx, "tekkit", "Tekkit", owner.ID)
	require.NoError(t, err)
	_, err = svc.CreateModpack(ctx, "tekkit", "Tekkit", owner.ID)
	assert.ErrorIs(t, err, catalog.ErrDuplicateSlug)

	for _, v := range []string{"1.0.0", "1.0.1", "1.1.0"} {
		_, err := svc.AddBuild(ctx, "tekkit", catalog.BuildSpec{Version: v, Minecraft: "1.12.2", Java: 8, Memory: 2048})
		require.NoError(t, err)
	}
	_, err = svc.AddBuild(ctx, "tekkit", catalog.BuildSpec{Version: "1.0.0", Minecraft: "1.12.2", Java: 8})
	assert.ErrorIs(t, err, catalog.ErrDuplicateVersion)

	for _, spec := range []catalog.ModSpec{
		{Name: "ftbu", Version: "1.0.0", MCVersion: "1.12.2", Type: catalog.ModTypeForge},
		{Name: "jei", Version: "4.16.1", MCVersion: "1.12.2", Type: catalog.ModTypeForge},
	} {
		_, err := svc.CreateMod(ctx, spec)
		require.NoError(t, err)
	}
	_, err = svc.AddModToBuild(ctx, "tekkit", "1.0.1", "jei", "4.16.1")
	require.NoError(t, err)
	build, err := svc.AddModToBuild(ctx, "tekkit", "1.0.1", "ftbu", "1.0.0")
	require.NoError(t, err)
	require.Len(t, build.Mods, 2)
	assert.Equal(t, "jei", build.Mods[0].Name)
	assert.Equal(t, "ftbu", build.Mods[1].Name)

	pack, err := svc.ResolveModpack(ctx, "tekkit")
	require.NoError(t, err)
	assert.Equal(t, []string{"1.0.0", "1.0.1", "1.1.0"}, pack.BuildVersions())
	require.Len(t, pack.Owners, 1)
	assert.Equal(t, "admin", pack.Owners[0].Username)

	require.NoError(t, svc.DeleteBuild(ctx, "tekkit", "1.0.0"))
	pack, err = svc.ResolveModpack(ctx, "tekkit")
	require.NoError(t, err)
	assert.Equal(t, []string{"1.0.1", "1.1.0"}, pack.BuildVersions())

	_, err = svc.AddBuild(ctx, "tekkit", catalog.BuildSpec{Version: "1.2.0", Minecraft: "1.12.2", Java: 8})
	require.NoError(t, err)
	pack, err = svc.ResolveModpack(ctx, "tekkit")
	require.NoError(t, err)
	assert.Equal(t, []string{"1.0.1", "1.1.0", "1.2.0"}, pack.BuildVersions(), "appends go after surviving entries")
}

func TestCatalog_ConcurrentFirstVersionsShareFamily(t *testing.T) {
	ctx := context.Background()
	svc, _, seq := newService(t)

	const writers = 8
	ids := make([]int64, writers)
	var g errgroup.Group
	for i := range writers {
		g.Go(func() error {
			mod, err := svc.CreateMod(ctx, catalog.ModSpec{
				Name:      "ftbu",
				Version:   fmt.Sprintf("1.0.%d", i),
				MCVersion: "1.12.2",
				Type:      catalog.ModTypeForge,
			})
			if err != nil {
				return err
			}
			ids[i] = mod.ModID
			return nil
		})
	}
	require.NoError(t, g.Wait())

	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
	current, err := seq.Current(ctx, sequence.ModIDKey)
	require.NoError(t, err)
	assert.Equal(t, int64(1), current, "one family id drawn for one slug")

	summary, err := svc.ResolveMod(ctx, "ftbu")
	require.NoError(t, err)
	assert.Len(t, summary.Versions, writers)
}
