// Copyright (c) 2023 The Burn Relayer Network developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package restutil

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWrapHandlerFunc(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"no error", nil, http.StatusOK},
		{"bad request", BadRequest(errors.New("bad")), http.StatusBadRequest},
		{"forbidden", Forbidden(errors.New("no")), http.StatusForbidden},
		{"not found", NotFound(errors.New("missing")), http.StatusNotFound},
		{"conflict", Conflict(errors.New("stale")), http.StatusConflict},
		{"custom status", HTTPError(errors.New("tea"), http.StatusTeapot), http.StatusTeapot},
		{"plain error", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			WrapHandlerFunc(func(http.ResponseWriter, *http.Request) error {
				return tt.err
			})(rec, httptest.NewRequest(http.MethodGet, "/", nil))
			assert.Equal(t, tt.status, rec.Code)
		})
	}
}

func TestParseJSONStrict(t *testing.T) {
	var v struct {
		Known string `json:"known"`
	}
	assert.NoError(t, ParseJSON(strings.NewReader(`{"known":"x"}`), &v))
	assert.Error(t, ParseJSON(strings.NewReader(`{"unknown":"y"}`), &v))
}
