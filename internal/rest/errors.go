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
	"log/slog"
	"net/http"

	"github.com/jeremyhahn/go-passkey/internal/session"
	"github.com/jeremyhahn/go-passkey/pkg/passkey"
)

// Transport-level errors.
var (
	ErrInvalidRequest = errors.New("invalid request")
	ErrInternalError  = errors.New("internal server error")
	ErrUnauthorized   = errors.New("unauthorized")
)

// writeError writes an error response to the client.
func writeError(w http.ResponseWriter, err error, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	resp := ErrorResponse{
		Error: err.Error(),
		Code:  statusCode,
	}

	if encErr := json.NewEncoder(w).Encode(resp); encErr != nil {
		slog.Error("Failed to encode error response", "error", encErr)
	}
}

// writeErrorWithMessage writes an error response with a custom message.
func writeErrorWithMessage(w http.ResponseWriter, err error, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	resp := ErrorResponse{
		Error:   err.Error(),
		Message: message,
		Code:    statusCode,
	}

	if encErr := json.NewEncoder(w).Encode(resp); encErr != nil {
		slog.Error("Failed to encode error response", "error", encErr)
	}
}

// mapErrorToStatusCode maps ceremony errors to HTTP status codes.
//
// Unknown usernames at login/begin and unregistered credentials at
// login/finish are 404; everything the client sent wrong, including
// failed verification and missing challenges, is 400. A credential
// that verified but could not be saved is the one server fault a
// client may retry, so it stays 500.
func mapErrorToStatusCode(err error) int {
	switch {
	case errors.Is(err, passkey.ErrUserNotFound),
		errors.Is(err, passkey.ErrCredentialNotFound):
		return http.StatusNotFound
	case errors.Is(err, passkey.ErrUsernameTaken):
		return http.StatusConflict
	case errors.Is(err, passkey.ErrUsernameRequired),
		errors.Is(err, passkey.ErrMissingCredentialID),
		errors.Is(err, passkey.ErrNoChallenge),
		errors.Is(err, passkey.ErrVerificationFailed),
		errors.Is(err, passkey.ErrClonedAuthenticator),
		errors.Is(err, ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, session.ErrNotAuthenticated),
		errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

// handleError maps the error to a status code and writes the response.
// Server faults are logged with the full error chain but reported to the
// client with a generic message, so driver and ORM text never reaches the
// wire. The verified-but-not-saved case keeps its own wording because the
// client must know the ceremony itself succeeded and a retry is safe.
func handleError(w http.ResponseWriter, err error) {
	status := mapErrorToStatusCode(err)
	if status == http.StatusInternalServerError {
		slog.Error("Request failed", "error", err)
		if errors.Is(err, passkey.ErrVerifiedNotSaved) {
			writeError(w, passkey.ErrVerifiedNotSaved, status)
			return
		}
		writeError(w, ErrInternalError, status)
		return
	}
	writeError(w, err, status)
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("Failed to encode JSON response", "error", err)
	}
}
