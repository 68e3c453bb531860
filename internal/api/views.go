// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TechnicFlux Contributors

package api

import (
	"time"

	"github.com/technicflux/technicflux/internal/auth"
	"github.com/technicflux/technicflux/internal/catalog"
)

// masterKeyCreatedAt is reported for the operator key, which has no record.
const masterKeyCreatedAt = "A long time ago"

// InfoView is the body of GET /api/.
type InfoView struct {
	API     string `json:"api"`
	Version string `json:"version"`
	Stream  string `json:"stream"`
}

// ModView summarizes every version of one mod.
type ModView struct {
	ID          int64    `json:"id"`
	Name        string   `json:"name"`
	PrettyName  string   `json:"pretty_name"`
	Author      string   `json:"author"`
	Description string   `json:"description"`
	Link        string   `json:"link"`
	Versions    []string `json:"versions"`
}

func newModView(s *catalog.ModSummary) ModView {
	return ModView{
		ID:          s.ID,
		Name:        s.Name,
		PrettyName:  s.PrettyName,
		Author:      s.Author,
		Description: s.Description,
		Link:        s.Link,
		Versions:    s.Versions,
	}
}

// ModVersionView is one downloadable mod version.
type ModVersionView struct {
	ID       int64  `json:"id"`
	MD5      string `json:"md5"`
	Filesize int64  `json:"filesize"`
	URL      string `json:"url"`
}

func newModVersionView(m *catalog.Mod) ModVersionView {
	return ModVersionView{ID: m.ModID, MD5: m.MD5, Filesize: m.Filesize, URL: m.URL}
}

// ModpackIndexView lists every modpack.
type ModpackIndexView struct {
	Modpacks  map[string]string `json:"modpacks"`
	MirrorURL string            `json:"mirror_url"`
}

// ModpackView is one modpack with its build versions.
type ModpackView struct {
	Name        string   `json:"name"`
	DisplayName string   `json:"display_name"`
	Recommended *string  `json:"recommended"`
	Latest      *string  `json:"latest"`
	Builds      []string `json:"builds"`
}

func newModpackView(p *catalog.Modpack) ModpackView {
	return ModpackView{
		Name:        p.Name,
		DisplayName: p.DisplayName,
		Recommended: p.Recommended,
		Latest:      p.Latest,
		Builds:      p.BuildVersions(),
	}
}

// BuildModView is one mod entry of a build.
type BuildModView struct {
	Name     string `json:"name"`
	Version  string `json:"version"`
	MD5      string `json:"md5"`
	URL      string `json:"url"`
	Filesize int64  `json:"filesize"`
}

// BuildView is one build with its mods.
type BuildView struct {
	Minecraft string         `json:"minecraft"`
	Forge     *string        `json:"forge"`
	Java      int            `json:"java"`
	Memory    int            `json:"memory"`
	Mods      []BuildModView `json:"mods"`
}

func newBuildView(b *catalog.Build) BuildView {
	mods := make([]BuildModView, 0, len(b.Mods))
	for _, m := range b.Mods {
		mods = append(mods, BuildModView{
			Name:     m.Name,
			Version:  m.Version,
			MD5:      m.MD5,
			URL:      m.URL,
			Filesize: m.Filesize,
		})
	}
	return BuildView{
		Minecraft: b.Minecraft,
		Forge:     b.Forge,
		Java:      b.Java,
		Memory:    b.Memory,
		Mods:      mods,
	}
}

// KeyView is the body of a successful key verification.
type KeyView struct {
	Valid     string `json:"valid"`
	Name      string `json:"name"`
	CreatedAt string `json:"created_at"`
}

func newKeyView(k *auth.APIKey) KeyView {
	created := masterKeyCreatedAt
	if !k.Master {
		created = k.CreatedAt.UTC().Format(time.RFC3339)
	}
	return KeyView{Valid: MsgKeyValidated, Name: k.Name, CreatedAt: created}
}

// UserView is the body of a successful login.
type UserView struct {
	Username    string     `json:"username"`
	DisplayName string     `json:"display_name"`
	CreatedOn   time.Time  `json:"created_on"`
	LastLogin   *time.Time `json:"last_login"`
}

func newUserView(u *auth.User) UserView {
	v := UserView{Username: u.Username, DisplayName: u.DisplayName, CreatedOn: u.CreatedOn.UTC()}
	if event, ok := u.LastLogin(); ok {
		ts := event.Timestamp.UTC()
		v.LastLogin = &ts
	}
	return v
}
