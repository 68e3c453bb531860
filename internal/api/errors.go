// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TechnicFlux Contributors

package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/technicflux/technicflux/internal/auth"
	"github.com/technicflux/technicflux/internal/catalog"
	"github.com/technicflux/technicflux/pkg/errutil"
)

// Client-facing error messages. These strings are part of the API.
const (
	MsgModNotFound         = "Mod does not exist"
	MsgModVersionNotFound  = "Mod version does not exist"
	MsgModpackNotFound     = "Modpack does not exist"
	MsgBuildNotFound       = "Build does not exist"
	MsgKeyMissing          = "No API key provided."
	MsgKeyInvalid          = "Invalid key provided."
	MsgKeyValidated        = "Key validated."
	MsgInvalidCredentials  = "Invalid username or password."
	MsgMalformedLogin      = "Malformed login data submitted."
	MsgMalformedBody       = "Malformed request body."
	MsgInvalidInput        = "Invalid request."
	MsgDuplicateSlug       = "Modpack already exists."
	MsgDuplicateVersion    = "Version already exists."
	MsgDuplicateUsername   = "Username already exists."
	MsgInvalidRoute        = "Invalid route."
	MsgNotFound            = "Not found."
	MsgTooManyRequests     = "Too many requests, please try again later."
	MsgInternalServerError = "Internal server error."
)

// notFoundByCode picks the message for a not-found error by the code of the
// lookup that failed, so one route can tell a missing modpack from a missing
// build.
var notFoundByCode = map[string]string{
	"CATALOG_MOD_NOT_FOUND":   MsgModNotFound,
	"MOD_NOT_FOUND":           MsgModVersionNotFound,
	"MODPACK_NOT_FOUND":       MsgModpackNotFound,
	"CATALOG_BUILD_NOT_FOUND": MsgBuildNotFound,
	"BUILD_NOT_FOUND":         MsgBuildNotFound,
}

// ErrorResponse is the body of every error reply.
type ErrorResponse struct {
	Error string `json:"error"`
}

// abort ends the request with status and message.
func abort(c *gin.Context, status int, message string) {
	c.AbortWithStatusJSON(status, ErrorResponse{Error: message})
}

// respondError maps err to a status and stable message. notFound is used
// when the failing lookup carries no known code. Unexpected errors are
// logged and answered with a generic 500.
func (r *router) respondError(c *gin.Context, err error, notFound string) {
	_ = c.Error(err)

	var ve *catalog.ValidationError
	switch {
	case errors.Is(err, catalog.ErrNotFound), errors.Is(err, auth.ErrNotFound):
		if msg, ok := notFoundByCode[errutil.Code(err)]; ok {
			notFound = msg
		}
		abort(c, http.StatusNotFound, notFound)
	case errors.As(err, &ve):
		abort(c, http.StatusBadRequest, ve.Error())
	case errors.Is(err, catalog.ErrInvalidInput), errors.Is(err, auth.ErrInvalidInput):
		abort(c, http.StatusBadRequest, MsgInvalidInput)
	case errors.Is(err, catalog.ErrDuplicateSlug):
		abort(c, http.StatusConflict, MsgDuplicateSlug)
	case errors.Is(err, catalog.ErrDuplicateVersion):
		abort(c, http.StatusConflict, MsgDuplicateVersion)
	case errors.Is(err, auth.ErrDuplicateUsername):
		abort(c, http.StatusConflict, MsgDuplicateUsername)
	case errors.Is(err, auth.ErrInvalidCredentials):
		abort(c, http.StatusForbidden, MsgInvalidCredentials)
	case errors.Is(err, auth.ErrKeyMissing):
		abort(c, http.StatusBadRequest, MsgKeyMissing)
	case errors.Is(err, auth.ErrInvalidKey):
		abort(c, http.StatusForbidden, MsgKeyInvalid)
	default:
		errutil.LogErrorContext(c.Request.Context(), r.logger, "request failed", err)
		abort(c, http.StatusInternalServerError, MsgInternalServerError)
	}
}
