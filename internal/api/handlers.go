// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TechnicFlux Contributors

package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/oklog/ulid/v2"

	"github.com/technicflux/technicflux/internal/auth"
	"github.com/technicflux/technicflux/internal/catalog"
)

func (r *router) getInfo(c *gin.Context) {
	c.JSON(http.StatusOK, InfoView{API: r.info.Name, Version: r.info.Version, Stream: r.info.Stream})
}

func (r *router) getMod(c *gin.Context) {
	summary, err := r.catalog.ResolveMod(c.Request.Context(), c.Param("slug"))
	if err != nil {
		r.respondError(c, err, MsgModNotFound)
		return
	}
	c.JSON(http.StatusOK, newModView(summary))
}

func (r *router) getModVersion(c *gin.Context) {
	mod, err := r.catalog.ResolveModVersion(c.Request.Context(), c.Param("slug"), c.Param("version"))
	if err != nil {
		r.respondError(c, err, MsgModVersionNotFound)
		return
	}
	c.JSON(http.StatusOK, newModVersionView(mod))
}

func (r *router) listModpacks(c *gin.Context) {
	names, err := r.catalog.ListModpacks(c.Request.Context())
	if err != nil {
		r.respondError(c, err, MsgModpackNotFound)
		return
	}
	c.JSON(http.StatusOK, ModpackIndexView{Modpacks: names, MirrorURL: r.mirror})
}

func (r *router) getModpack(c *gin.Context) {
	pack, err := r.catalog.ResolveModpack(c.Request.Context(), c.Param("slug"))
	if err != nil {
		r.respondError(c, err, MsgModpackNotFound)
		return
	}
	c.JSON(http.StatusOK, newModpackView(pack))
}

func (r *router) getBuild(c *gin.Context) {
	build, err := r.catalog.ResolveBuild(c.Request.Context(), c.Param("slug"), c.Param("build"))
	if err != nil {
		r.respondError(c, err, MsgBuildNotFound)
		return
	}
	c.JSON(http.StatusOK, newBuildView(build))
}

func (r *router) verifyMissing(c *gin.Context) {
	abort(c, http.StatusBadRequest, MsgKeyMissing)
}

func (r *router) verifyKey(c *gin.Context) {
	key, err := r.keys.Verify(c.Request.Context(), c.Param("key"))
	if err != nil {
		r.respondError(c, err, MsgKeyInvalid)
		return
	}
	c.JSON(http.StatusOK, newKeyView(key))
}

type loginRequest struct {
	Username string `json:"username" binding:"required,min=3,max=50"`
	Password string `json:"password" binding:"required,max=256"`
}

func (r *router) login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, http.StatusBadRequest, MsgMalformedLogin)
		return
	}
	user, err := r.users.Authenticate(c.Request.Context(), req.Username, req.Password, auth.LoginOptions{
		RecordHistory: true,
		UserAgent:     c.Request.UserAgent(),
	})
	if err != nil {
		r.respondError(c, err, MsgInvalidCredentials)
		return
	}
	c.JSON(http.StatusOK, newUserView(user))
}

type createModpackRequest struct {
	Name        string `json:"name" binding:"required"`
	DisplayName string `json:"display_name"`
}

// createModpack registers a modpack owned by the key's owner. The operator
// key owns nothing, so its packs start without owners.
func (r *router) createModpack(c *gin.Context) {
	var req createModpackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, http.StatusBadRequest, MsgMalformedBody)
		return
	}
	var owner ulid.ULID
	if key := keyFrom(c); key != nil && !key.Master {
		owner = key.OwnerID
	}
	pack, err := r.catalog.CreateModpack(c.Request.Context(), req.Name, req.DisplayName, owner)
	if err != nil {
		r.respondError(c, err, MsgModpackNotFound)
		return
	}
	c.JSON(http.StatusCreated, newModpackView(pack))
}

func (r *router) addBuild(c *gin.Context) {
	var spec catalog.BuildSpec
	if err := c.ShouldBindJSON(&spec); err != nil {
		abort(c, http.StatusBadRequest, MsgMalformedBody)
		return
	}
	build, err := r.catalog.AddBuild(c.Request.Context(), c.Param("slug"), spec)
	if err != nil {
		r.respondError(c, err, MsgModpackNotFound)
		return
	}
	c.JSON(http.StatusCreated, newBuildView(build))
}

type addModRequest struct {
	Name    string `json:"name" binding:"required"`
	Version string `json:"version" binding:"required"`
}

func (r *router) addModToBuild(c *gin.Context) {
	var req addModRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, http.StatusBadRequest, MsgMalformedBody)
		return
	}
	build, err := r.catalog.AddModToBuild(c.Request.Context(), c.Param("slug"), c.Param("build"), req.Name, req.Version)
	if err != nil {
		r.respondError(c, err, MsgBuildNotFound)
		return
	}
	c.JSON(http.StatusOK, newBuildView(build))
}

func (r *router) createMod(c *gin.Context) {
	var spec catalog.ModSpec
	if err := c.ShouldBindJSON(&spec); err != nil {
		abort(c, http.StatusBadRequest, MsgMalformedBody)
		return
	}
	mod, err := r.catalog.CreateMod(c.Request.Context(), spec)
	if err != nil {
		r.respondError(c, err, MsgModNotFound)
		return
	}
	c.JSON(http.StatusCreated, newModVersionView(mod))
}
