// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-passkey.
//
// go-passkey is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

package rest

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeremyhahn/go-passkey/pkg/passkey"
)

func handledResponse(t *testing.T, err error) (int, ErrorResponse) {
	t.Helper()

	w := httptest.NewRecorder()
	handleError(w, err)

	var resp ErrorResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	return w.Code, resp
}

func TestHandleError(t *testing.T) {
	t.Run("storage failure hides internal detail", func(t *testing.T) {
		err := passkey.NewError("upsert credential",
			fmt.Errorf("%w: %v", passkey.ErrStorage, errors.New("SQLSTATE 23505: duplicate key")))

		code, resp := handledResponse(t, err)
		assert.Equal(t, http.StatusInternalServerError, code)
		assert.Equal(t, ErrInternalError.Error(), resp.Error)
		assert.NotContains(t, resp.Error, "SQLSTATE")
	})

	t.Run("verified not saved keeps its wording", func(t *testing.T) {
		err := passkey.NewError("finish registration",
			fmt.Errorf("%w: %v", passkey.ErrVerifiedNotSaved, errors.New("disk I/O error")))

		code, resp := handledResponse(t, err)
		assert.Equal(t, http.StatusInternalServerError, code)
		assert.Equal(t, passkey.ErrVerifiedNotSaved.Error(), resp.Error)
		assert.NotContains(t, resp.Error, "disk I/O")
	})

	t.Run("client errors keep their message", func(t *testing.T) {
		code, resp := handledResponse(t, passkey.NewError("finish login", passkey.ErrNoChallenge))
		assert.Equal(t, http.StatusBadRequest, code)
		assert.Contains(t, resp.Error, "no pending challenge")
	})

	t.Run("unknown user maps to not found", func(t *testing.T) {
		code, _ := handledResponse(t, passkey.ErrUserNotFound)
		assert.Equal(t, http.StatusNotFound, code)
	})
}
