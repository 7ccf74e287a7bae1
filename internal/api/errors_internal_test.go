// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tenantkit Contributors

package api

import (
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/samber/oops"
	"github.com/stretchr/testify/assert"

	"github.com/tenantkit/tenantkit/internal/auth"
	"github.com/tenantkit/tenantkit/internal/tenancy"
)

func TestTranslate(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		known  bool
	}{
		{"invalid credentials", oops.Code(auth.CodeInvalidCredentials).Errorf("x"), http.StatusUnauthorized, true},
		{"unknown token user", oops.Code(auth.CodeUserNotFound).Errorf("x"), http.StatusUnauthorized, true},
		{"locked", oops.Code(auth.CodeAccountLocked).Errorf("x"), http.StatusTooManyRequests, true},
		{"expired reset", oops.Code(auth.CodeResetTokenExpired).Errorf("x"), http.StatusBadRequest, true},
		{"repository code wins", oops.Code("WRAPPER").Wrap(oops.Code(tenancy.CodeAccountNotFound).Wrap(auth.ErrNotFound)), http.StatusNotFound, true},
		{"bare not found", auth.ErrNotFound, http.StatusNotFound, true},
		{"bare duplicate", oops.Code("SOMETHING").Wrap(auth.ErrDuplicate), http.StatusConflict, true},
		{"unexpected", errors.New("connection reset"), http.StatusInternalServerError, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, known := translate(tt.err)
			assert.Equal(t, tt.status, resp.status)
			assert.Equal(t, tt.known, known)
		})
	}
}

func TestTranslate_UnexpectedMessageIsGeneric(t *testing.T) {
	resp, _ := translate(oops.With("dsn", "postgres://secret").Wrap(errors.New("boom")))
	assert.Equal(t, msgInternal, resp.message)
}

func TestRetryAfterSeconds(t *testing.T) {
	err := oops.Code(auth.CodeAccountLocked).With("retry_after", 1500*time.Millisecond).Errorf("locked")
	assert.Equal(t, 2, retryAfterSeconds(err))
	assert.Zero(t, retryAfterSeconds(errors.New("plain")))
}
