// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TechnicFlux Contributors

// Package catalogtest provides in-memory catalog repositories for tests.
package catalogtest

import (
	"context"
	"maps"
	"slices"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/technicflux/technicflux/internal/catalog"
)

type state struct {
	mods     []*catalog.Mod
	modpacks map[ulid.ULID]*catalog.Modpack
	builds   map[ulid.ULID]*catalog.Build
}

func (s *state) clone() *state {
	c := &state{
		mods:     make([]*catalog.Mod, 0, len(s.mods)),
		modpacks: make(map[ulid.ULID]*catalog.Modpack, len(s.modpacks)),
		builds:   make(map[ulid.ULID]*catalog.Build, len(s.builds)),
	}
	for _, m := range s.mods {
		c.mods = append(c.mods, cloneMod(m))
	}
	for id, p := range s.modpacks {
		c.modpacks[id] = clonePack(p)
	}
	for id, b := range s.builds {
		c.builds[id] = cloneBuild(b, true)
	}
	return c
}

// Store holds every catalog collection. Its repositories share state so
// deletes and transactions behave as they would against one database.
// Setting one of the *Err fields makes the matching method fail.
type Store struct {
	mu sync.Mutex
	st *state

	AppendBuildErr error
	AppendModErr   error
	BuildGetErr    error
	ListErr        error

	afterModpackGet func()

	buildGets   atomic.Int64
	stubLoads   atomic.Int64
	modIDLoads  atomic.Int64
	familyLocks atomic.Int64
	hydrated    []ulid.ULID
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{st: &state{
		modpacks: make(map[ulid.ULID]*catalog.Modpack),
		builds:   make(map[ulid.ULID]*catalog.Build),
	}}
}

// Mods returns the store's catalog.ModRepository.
func (s *Store) Mods() *ModRepository { return &ModRepository{s: s} }

// Modpacks returns the store's catalog.ModpackRepository.
func (s *Store) Modpacks() *ModpackRepository { return &ModpackRepository{s: s} }

// Builds returns the store's catalog.BuildRepository.
func (s *Store) Builds() *BuildRepository { return &BuildRepository{s: s} }

// InTransaction runs fn and restores the previous state when it fails.
func (s *Store) InTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	s.mu.Lock()
	snapshot := s.st.clone()
	s.mu.Unlock()

	if err := fn(ctx); err != nil {
		s.mu.Lock()
		s.st = snapshot
		s.mu.Unlock()
		return err
	}
	return nil
}

// InSnapshot runs fn against a copy of the current state. Reads made through
// fn's context do not see writes committed meanwhile.
func (s *Store) InSnapshot(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(snapshotKey{}).(*state); ok {
		return fn(ctx)
	}
	s.mu.Lock()
	snapshot := s.st.clone()
	s.mu.Unlock()
	return fn(context.WithValue(ctx, snapshotKey{}, snapshot))
}

type snapshotKey struct{}

// read returns the snapshot carried by ctx, or the live state. Callers hold mu.
func (s *Store) read(ctx context.Context) *state {
	if st, ok := ctx.Value(snapshotKey{}).(*state); ok {
		return st
	}
	return s.st
}

// AfterNextModpackGet runs fn once, right after the next
// ModpackRepository.GetBySlug returns. Use it to interleave a concurrent
// write between two reads.
func (s *Store) AfterNextModpackGet(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.afterModpackGet = fn
}

// BuildGets counts single-build hydrations through BuildRepository.Get.
func (s *Store) BuildGets() int64 { return s.buildGets.Load() }

// StubLoads counts BuildRepository.GetStubs calls.
func (s *Store) StubLoads() int64 { return s.stubLoads.Load() }

// ModIDLoads counts ModRepository.GetByIDs calls.
func (s *Store) ModIDLoads() int64 { return s.modIDLoads.Load() }

// FamilyLocks counts ModRepository.LockFamily calls.
func (s *Store) FamilyLocks() int64 { return s.familyLocks.Load() }

// Hydrated returns the ids passed to BuildRepository.Get in call order.
func (s *Store) Hydrated() []ulid.ULID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.hydrated)
}

// BuildCount returns the number of stored builds, referenced or not.
func (s *Store) BuildCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.st.builds)
}

// RemoveBuildRow deletes a build row without touching modpack build lists,
// leaving a dangling reference behind.
func (s *Store) RemoveBuildRow(id ulid.ULID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.st.builds, id)
}

// RemoveModRow deletes a mod row without touching build mod lists.
func (s *Store) RemoveModRow(id ulid.ULID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.mods = slices.DeleteFunc(s.st.mods, func(m *catalog.Mod) bool { return m.ID == id })
}

func cloneMod(m *catalog.Mod) *catalog.Mod {
	c := *m
	return &c
}

func clonePack(p *catalog.Modpack) *catalog.Modpack {
	c := *p
	c.BuildRefs = slices.Clone(p.BuildRefs)
	c.OwnerIDs = slices.Clone(p.OwnerIDs)
	c.ContributorIDs = slices.Clone(p.ContributorIDs)
	c.Builds, c.Owners, c.Contributors = nil, nil, nil
	if p.Recommended != nil {
		v := *p.Recommended
		c.Recommended = &v
	}
	if p.Latest != nil {
		v := *p.Latest
		c.Latest = &v
	}
	return &c
}

func cloneBuild(b *catalog.Build, withRefs bool) *catalog.Build {
	c := *b
	c.Mods = nil
	if withRefs {
		c.ModRefs = slices.Clone(b.ModRefs)
	} else {
		c.ModRefs = nil
	}
	if b.Forge != nil {
		v := *b.Forge
		c.Forge = &v
	}
	return &c
}

// ModRepository is an in-memory catalog.ModRepository.
type ModRepository struct{ s *Store }

// ListBySlug returns rows of slug in insertion order.
func (r *ModRepository) ListBySlug(_ context.Context, slug string) ([]*catalog.Mod, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.ListErr != nil {
		return nil, r.s.ListErr
	}
	var out []*catalog.Mod
	for _, m := range r.s.st.mods {
		if m.Name == slug {
			out = append(out, cloneMod(m))
		}
	}
	return out, nil
}

// GetVersion returns one row.
func (r *ModRepository) GetVersion(_ context.Context, slug, version string) (*catalog.Mod, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, m := range r.s.st.mods {
		if m.Name == slug && m.Version == version {
			return cloneMod(m), nil
		}
	}
	return nil, oops.Code("MOD_NOT_FOUND").With("slug", slug).With("version", version).Wrap(catalog.ErrNotFound)
}

// GetByIDs returns the stored rows among ids.
func (r *ModRepository) GetByIDs(_ context.Context, ids []ulid.ULID) ([]*catalog.Mod, error) {
	r.s.modIDLoads.Add(1)
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*catalog.Mod
	for _, m := range r.s.st.mods {
		if slices.Contains(ids, m.ID) {
			out = append(out, cloneMod(m))
		}
	}
	return out, nil
}

// List returns the rows matching filter in insertion order.
func (r *ModRepository) List(_ context.Context, filter catalog.ModFilter) ([]*catalog.Mod, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.ListErr != nil {
		return nil, r.s.ListErr
	}
	var out []*catalog.Mod
	for _, m := range r.s.st.mods {
		if filter.Type != "" && m.Type != filter.Type {
			continue
		}
		if filter.MinecraftVersion != "" && m.MCVersion != filter.MinecraftVersion {
			continue
		}
		out = append(out, cloneMod(m))
	}
	return out, nil
}

// LockFamily records the call.
func (r *ModRepository) LockFamily(_ context.Context, _ string) error {
	r.s.familyLocks.Add(1)
	return nil
}

// FamilyID returns the ModID of the first row of slug.
func (r *ModRepository) FamilyID(_ context.Context, slug string) (int64, bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, m := range r.s.st.mods {
		if m.Name == slug {
			return m.ModID, true, nil
		}
	}
	return 0, false, nil
}

// Create stores a copy of mod.
func (r *ModRepository) Create(_ context.Context, mod *catalog.Mod) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, m := range r.s.st.mods {
		if m.Name == mod.Name && m.Version == mod.Version {
			return oops.Code("MOD_DUPLICATE").With("slug", mod.Name).With("version", mod.Version).Wrap(catalog.ErrDuplicateVersion)
		}
	}
	r.s.st.mods = append(r.s.st.mods, cloneMod(mod))
	return nil
}

// Update replaces the stored row with the same id.
func (r *ModRepository) Update(_ context.Context, mod *catalog.Mod) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for i, m := range r.s.st.mods {
		if m.ID == mod.ID {
			r.s.st.mods[i] = cloneMod(mod)
			return nil
		}
	}
	return oops.Code("MOD_NOT_FOUND").With("id", mod.ID.String()).Wrap(catalog.ErrNotFound)
}

// Delete removes one row.
func (r *ModRepository) Delete(_ context.Context, slug, version string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	before := len(r.s.st.mods)
	r.s.st.mods = slices.DeleteFunc(r.s.st.mods, func(m *catalog.Mod) bool {
		return m.Name == slug && m.Version == version
	})
	if len(r.s.st.mods) == before {
		return oops.Code("MOD_NOT_FOUND").With("slug", slug).With("version", version).Wrap(catalog.ErrNotFound)
	}
	return nil
}

// ModpackRepository is an in-memory catalog.ModpackRepository.
type ModpackRepository struct{ s *Store }

func bySlug(st *state, slug string) *catalog.Modpack {
	for _, p := range st.modpacks {
		if p.Name == slug {
			return p
		}
	}
	return nil
}

// GetBySlug returns a copy of the stored modpack.
func (r *ModpackRepository) GetBySlug(ctx context.Context, slug string) (*catalog.Modpack, error) {
	r.s.mu.Lock()
	var found *catalog.Modpack
	if p := bySlug(r.s.read(ctx), slug); p != nil {
		found = clonePack(p)
	}
	hook := r.s.afterModpackGet
	r.s.afterModpackGet = nil
	r.s.mu.Unlock()

	if hook != nil {
		hook()
	}
	if found == nil {
		return nil, oops.Code("MODPACK_NOT_FOUND").With("slug", slug).Wrap(catalog.ErrNotFound)
	}
	return found, nil
}

// ListNames returns slug to display name.
func (r *ModpackRepository) ListNames(_ context.Context) (map[string]string, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.ListErr != nil {
		return nil, r.s.ListErr
	}
	out := make(map[string]string, len(r.s.st.modpacks))
	for _, p := range r.s.st.modpacks {
		out[p.Name] = p.DisplayName
	}
	return out, nil
}

// ListByMember returns the modpacks on which userID holds role, by slug.
func (r *ModpackRepository) ListByMember(ctx context.Context, userID ulid.ULID, role catalog.Role) ([]*catalog.Modpack, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*catalog.Modpack
	for _, p := range r.s.read(ctx).modpacks {
		ids := p.OwnerIDs
		if role == catalog.RoleContributor {
			ids = p.ContributorIDs
		}
		if slices.Contains(ids, userID) {
			out = append(out, clonePack(p))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Create stores a copy of pack.
func (r *ModpackRepository) Create(_ context.Context, pack *catalog.Modpack) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if bySlug(r.s.st, pack.Name) != nil {
		return oops.Code("MODPACK_DUPLICATE").With("slug", pack.Name).Wrap(catalog.ErrDuplicateSlug)
	}
	r.s.st.modpacks[pack.ID] = clonePack(pack)
	return nil
}

// Update writes display name, URL and markers.
func (r *ModpackRepository) Update(_ context.Context, pack *catalog.Modpack) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.st.modpacks[pack.ID]
	if !ok {
		return oops.Code("MODPACK_NOT_FOUND").With("id", pack.ID.String()).Wrap(catalog.ErrNotFound)
	}
	updated := clonePack(pack)
	p.DisplayName = updated.DisplayName
	p.URL = updated.URL
	p.Recommended = updated.Recommended
	p.Latest = updated.Latest
	return nil
}

// Delete removes a modpack and its builds.
func (r *ModpackRepository) Delete(_ context.Context, slug string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p := bySlug(r.s.st, slug)
	if p == nil {
		return oops.Code("MODPACK_NOT_FOUND").With("slug", slug).Wrap(catalog.ErrNotFound)
	}
	maps.DeleteFunc(r.s.st.builds, func(_ ulid.ULID, b *catalog.Build) bool { return b.ModpackID == p.ID })
	delete(r.s.st.modpacks, p.ID)
	return nil
}

// AppendBuild adds buildID to the end of the build list.
func (r *ModpackRepository) AppendBuild(_ context.Context, modpackID, buildID ulid.ULID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.AppendBuildErr != nil {
		return r.s.AppendBuildErr
	}
	p, ok := r.s.st.modpacks[modpackID]
	if !ok {
		return oops.Code("MODPACK_NOT_FOUND").With("id", modpackID.String()).Wrap(catalog.ErrNotFound)
	}
	p.BuildRefs = append(p.BuildRefs, buildID)
	return nil
}

// RemoveBuild drops buildID from the build list.
func (r *ModpackRepository) RemoveBuild(_ context.Context, modpackID, buildID ulid.ULID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.st.modpacks[modpackID]
	if !ok {
		return oops.Code("MODPACK_NOT_FOUND").With("id", modpackID.String()).Wrap(catalog.ErrNotFound)
	}
	p.BuildRefs = slices.DeleteFunc(p.BuildRefs, func(id ulid.ULID) bool { return id == buildID })
	return nil
}

// AddMember grants role to userID unless already held.
func (r *ModpackRepository) AddMember(_ context.Context, modpackID, userID ulid.ULID, role catalog.Role) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.st.modpacks[modpackID]
	if !ok {
		return oops.Code("MODPACK_NOT_FOUND").With("id", modpackID.String()).Wrap(catalog.ErrNotFound)
	}
	ids := &p.OwnerIDs
	if role == catalog.RoleContributor {
		ids = &p.ContributorIDs
	}
	if !slices.Contains(*ids, userID) {
		*ids = append(*ids, userID)
	}
	return nil
}

// BuildRepository is an in-memory catalog.BuildRepository.
type BuildRepository struct{ s *Store }

// GetStubs returns stored builds among ids without ModRefs.
func (r *BuildRepository) GetStubs(ctx context.Context, ids []ulid.ULID) ([]*catalog.Build, error) {
	r.s.stubLoads.Add(1)
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	st := r.s.read(ctx)
	var out []*catalog.Build
	for _, id := range ids {
		if b, ok := st.builds[id]; ok {
			out = append(out, cloneBuild(b, false))
		}
	}
	return out, nil
}

// Get returns one build with ModRefs.
func (r *BuildRepository) Get(_ context.Context, id ulid.ULID) (*catalog.Build, error) {
	r.s.buildGets.Add(1)
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.hydrated = append(r.s.hydrated, id)
	if r.s.BuildGetErr != nil {
		return nil, r.s.BuildGetErr
	}
	b, ok := r.s.st.builds[id]
	if !ok {
		return nil, oops.Code("BUILD_NOT_FOUND").With("id", id.String()).Wrap(catalog.ErrNotFound)
	}
	return cloneBuild(b, true), nil
}

// Create stores a copy of build.
func (r *BuildRepository) Create(_ context.Context, build *catalog.Build) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, b := range r.s.st.builds {
		if b.ModpackID == build.ModpackID && b.Version == build.Version {
			return oops.Code("BUILD_DUPLICATE").With("version", build.Version).Wrap(catalog.ErrDuplicateVersion)
		}
	}
	r.s.st.builds[build.ID] = cloneBuild(build, true)
	return nil
}

// Delete removes a build.
func (r *BuildRepository) Delete(_ context.Context, id ulid.ULID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.st.builds[id]; !ok {
		return oops.Code("BUILD_NOT_FOUND").With("id", id.String()).Wrap(catalog.ErrNotFound)
	}
	delete(r.s.st.builds, id)
	return nil
}

// AppendMod adds modRowID to the end of the build's mod list.
func (r *BuildRepository) AppendMod(_ context.Context, buildID, modRowID ulid.ULID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.AppendModErr != nil {
		return r.s.AppendModErr
	}
	b, ok := r.s.st.builds[buildID]
	if !ok {
		return oops.Code("BUILD_NOT_FOUND").With("id", buildID.String()).Wrap(catalog.ErrNotFound)
	}
	b.ModRefs = append(b.ModRefs, modRowID)
	return nil
}

// Sequencer is an in-memory sequence.Sequencer.
type Sequencer struct {
	mu     sync.Mutex
	values map[string]int64
	calls  []string

	Err error
}

// NewSequencer returns a sequencer with every key at zero.
func NewSequencer() *Sequencer {
	return &Sequencer{values: make(map[string]int64)}
}

// Next increments key and returns the new value.
func (q *Sequencer) Next(_ context.Context, key string) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.calls = append(q.calls, key)
	if q.Err != nil {
		return 0, q.Err
	}
	q.values[key]++
	return q.values[key], nil
}

// Calls returns the keys passed to Next in call order.
func (q *Sequencer) Calls() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return slices.Clone(q.calls)
}
