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
	"time"

	"github.com/jeremyhahn/go-passkey/pkg/passkey"
)

// BeginRequest is the request body for the register/begin and login/begin
// endpoints.
type BeginRequest struct {
	// Username identifies the account the ceremony is for.
	Username string `json:"username"`
}

// FinishResponse is the response body for the register/finish and
// login/finish endpoints.
type FinishResponse struct {
	// Verified is true when the ceremony completed successfully.
	Verified bool `json:"verified"`

	// Username is the account the ceremony completed for.
	Username string `json:"username"`

	// Token is an optional API token, present when a token issuer is
	// configured.
	Token string `json:"token,omitempty"`
}

// UserResponse describes the authenticated user for GET /api/v1/me.
type UserResponse struct {
	ID          string               `json:"id"`
	Username    string               `json:"username"`
	CreatedAt   time.Time            `json:"created_at"`
	Credentials []CredentialResponse `json:"credentials"`
}

// CredentialResponse describes a registered credential. Key material is
// never exposed; only the external identifier and metadata are.
type CredentialResponse struct {
	ID         string    `json:"id"`
	SignCount  uint32    `json:"sign_count"`
	Transports []string  `json:"transports,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	LastUsedAt time.Time `json:"last_used_at,omitempty"`
}

// CalcRequest is the request body for POST /api/v1/calc.
type CalcRequest struct {
	// Radius of the circle. Must be positive.
	Radius float64 `json:"radius"`
}

// CalcResponse is the response body for POST /api/v1/calc.
type CalcResponse struct {
	Radius        float64 `json:"radius"`
	Area          float64 `json:"area"`
	Circumference float64 `json:"circumference"`
}

// ErrorResponse is the JSON body written for all error responses.
type ErrorResponse struct {
	// Error is the short error identifier.
	Error string `json:"error"`
	// Message provides additional human-readable context.
	Message string `json:"message,omitempty"`
	// Code is the HTTP status code.
	Code int `json:"code"`
}

// newCredentialResponse converts a stored credential to its API shape.
func newCredentialResponse(cred *passkey.Credential) CredentialResponse {
	transports := make([]string, len(cred.Transports))
	for i, t := range cred.Transports {
		transports[i] = string(t)
	}
	return CredentialResponse{
		ID:         cred.EncodedID(),
		SignCount:  cred.SignCount,
		Transports: transports,
		CreatedAt:  cred.CreatedAt,
		LastUsedAt: cred.LastUsedAt,
	}
}
