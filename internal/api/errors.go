// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tenantkit Contributors

package api

import (
	"errors"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/samber/oops"

	"github.com/tenantkit/tenantkit/internal/auth"
	"github.com/tenantkit/tenantkit/internal/tenancy"
	"github.com/tenantkit/tenantkit/pkg/errutil"
)

// Codes raised by the HTTP layer itself.
const (
	CodeMalformedBody  = "API_MALFORMED_BODY"
	CodeInvalidRequest = "API_INVALID_REQUEST"
	CodeInvalidPath    = "API_INVALID_PATH"
)

// response is the fixed status and client message for an error code.
type response struct {
	status  int
	message string
}

const (
	msgUnauthenticated = "could not validate credentials"
	msgInvalidToken    = "invalid or expired token"
	msgInternal        = "internal server error"
)

var responses = map[string]response{
	auth.CodeInvalidCredentials:   {http.StatusUnauthorized, "invalid credentials"},
	auth.CodeAccountLocked:        {http.StatusTooManyRequests, "too many failed login attempts, try again later"},
	auth.CodeInvalidToken:         {http.StatusUnauthorized, msgUnauthenticated},
	auth.CodeUserNotFound:         {http.StatusUnauthorized, msgUnauthenticated},
	auth.CodeResetTokenInvalid:    {http.StatusBadRequest, msgInvalidToken},
	auth.CodeResetTokenExpired:    {http.StatusBadRequest, msgInvalidToken},
	auth.CodeEmptyPassword:        {http.StatusUnprocessableEntity, "password cannot be empty"},
	auth.CodeInvalidEmail:         {http.StatusUnprocessableEntity, "invalid email address"},
	auth.CodeEmailConflict:        {http.StatusConflict, "email already registered"},
	tenancy.CodeAccountNotFound:   {http.StatusNotFound, "account not found"},
	tenancy.CodeUserNotFound:      {http.StatusNotFound, "user not found"},
	tenancy.CodeInvalidOrgName:    {http.StatusUnprocessableEntity, "invalid organisation name"},
	tenancy.CodeNoAccounts:        {http.StatusUnprocessableEntity, "at least one account is required"},
	"MEMBERSHIP_TARGET_NOT_FOUND": {http.StatusNotFound, "account not found"},
	CodeMalformedBody:             {http.StatusBadRequest, "malformed request body"},
	CodeInvalidRequest:            {http.StatusUnprocessableEntity, "invalid request"},
	CodeInvalidPath:               {http.StatusBadRequest, "invalid path parameter"},
}

// translate maps err to a status and a generic message. The bool is false
// for unexpected errors, which must be logged.
func translate(err error) (response, bool) {
	if r, ok := responses[errutil.Code(err)]; ok {
		return r, true
	}
	switch {
	case errors.Is(err, auth.ErrNotFound):
		return response{http.StatusNotFound, "not found"}, true
	case errors.Is(err, auth.ErrDuplicate):
		return response{http.StatusConflict, "conflict"}, true
	}
	return response{http.StatusInternalServerError, msgInternal}, false
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	resp, known := translate(err)
	if !known {
		errutil.LogErrorContext(r.Context(), s.logger, "request failed", err)
	} else {
		s.logger.DebugContext(r.Context(), "request rejected", errutil.Attrs(err)...)
	}

	if resp.status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", "Bearer")
	}
	if resp.status == http.StatusTooManyRequests {
		if secs := retryAfterSeconds(err); secs > 0 {
			w.Header().Set("Retry-After", strconv.Itoa(secs))
		}
	}

	body := errorBody{Detail: resp.message}
	if resp.status == http.StatusUnprocessableEntity {
		body.Fields = fieldErrors(err)
	}
	writeJSON(w, resp.status, body)
}

func retryAfterSeconds(err error) int {
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return 0
	}
	d, ok := oopsErr.Context()["retry_after"].(time.Duration)
	if !ok || d <= 0 {
		return 0
	}
	return int(math.Ceil(d.Seconds()))
}

var errMissingToken = oops.Code(auth.CodeInvalidToken).Errorf("missing bearer token")
