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
	"math"
	"net/http"
	"time"

	"github.com/go-webauthn/webauthn/protocol"

	"github.com/jeremyhahn/go-passkey/pkg/metrics"
	"github.com/jeremyhahn/go-passkey/pkg/passkey"
)

// RegisterBeginHandler handles POST /auth/register/begin.
//
// It creates the account on first sight of the username, issues creation
// options, and stashes the pending ceremony in the session. A repeated
// begin replaces any earlier pending ceremony.
func (s *Server) RegisterBeginHandler(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var req BeginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorWithMessage(w, ErrInvalidRequest, "Invalid JSON body", http.StatusBadRequest)
		return
	}

	options, ceremony, err := s.service.BeginRegistration(r.Context(), req.Username)
	if err != nil {
		s.logger.Warn("Registration begin failed", "username", req.Username, "error", err)
		metrics.RecordCeremony(metrics.CeremonyRegistration, metrics.PhaseBegin, metrics.StatusError, time.Since(start).Seconds())
		handleError(w, err)
		return
	}

	if err := s.sessions.StashCeremony(w, r, ceremony); err != nil {
		s.logger.Error("Failed to stash ceremony", "error", err)
		metrics.RecordCeremony(metrics.CeremonyRegistration, metrics.PhaseBegin, metrics.StatusError, time.Since(start).Seconds())
		writeError(w, ErrInternalError, http.StatusInternalServerError)
		return
	}

	metrics.RecordCeremony(metrics.CeremonyRegistration, metrics.PhaseBegin, metrics.StatusSuccess, time.Since(start).Seconds())
	writeJSON(w, options, http.StatusOK)
}

// RegisterFinishHandler handles POST /auth/register/finish.
//
// The pending ceremony is consumed before the response is even parsed, so
// the challenge is spent exactly once regardless of the outcome.
func (s *Server) RegisterFinishHandler(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	ceremony, err := s.sessions.ConsumeCeremony(w, r)
	if err != nil {
		metrics.RecordError(metrics.CeremonyRegistration, metrics.PhaseFinish, "no_challenge")
		handleError(w, err)
		return
	}

	response, err := protocol.ParseCredentialCreationResponseBody(r.Body)
	if err != nil {
		s.logger.Warn("Malformed attestation response", "error", err)
		metrics.RecordCeremony(metrics.CeremonyRegistration, metrics.PhaseFinish, metrics.StatusError, time.Since(start).Seconds())
		writeErrorWithMessage(w, ErrInvalidRequest, "Malformed credential creation response", http.StatusBadRequest)
		return
	}

	user, cred, err := s.service.FinishRegistration(r.Context(), ceremony, response)
	if err != nil {
		s.logger.Warn("Registration finish failed", "error", err)
		metrics.RecordCeremony(metrics.CeremonyRegistration, metrics.PhaseFinish, metrics.StatusError, time.Since(start).Seconds())
		// The pending account vanishing mid-ceremony is the client's
		// problem to restart, not a lookup miss worth a 404.
		if passkey.IsUserNotFound(err) {
			writeError(w, err, http.StatusBadRequest)
			return
		}
		handleError(w, err)
		return
	}

	if err := s.sessions.Authenticate(w, r, user.ID); err != nil {
		s.logger.Error("Failed to open session", "error", err)
		writeError(w, ErrInternalError, http.StatusInternalServerError)
		return
	}

	token, err := s.service.IssueToken(r.Context(), user)
	if err != nil {
		s.logger.Error("Failed to issue token", "error", err)
		writeError(w, ErrInternalError, http.StatusInternalServerError)
		return
	}

	s.logger.Info("Credential registered",
		"username", user.Username,
		"credential_id", cred.EncodedID())
	metrics.RecordCeremony(metrics.CeremonyRegistration, metrics.PhaseFinish, metrics.StatusSuccess, time.Since(start).Seconds())

	writeJSON(w, FinishResponse{Verified: true, Username: user.Username, Token: token}, http.StatusOK)
}

// LoginBeginHandler handles POST /auth/login/begin.
//
// Login never creates accounts; an unknown username is 404.
func (s *Server) LoginBeginHandler(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var req BeginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorWithMessage(w, ErrInvalidRequest, "Invalid JSON body", http.StatusBadRequest)
		return
	}

	options, ceremony, err := s.service.BeginAuthentication(r.Context(), req.Username)
	if err != nil {
		s.logger.Warn("Login begin failed", "username", req.Username, "error", err)
		metrics.RecordCeremony(metrics.CeremonyAuthentication, metrics.PhaseBegin, metrics.StatusError, time.Since(start).Seconds())
		handleError(w, err)
		return
	}

	if err := s.sessions.StashCeremony(w, r, ceremony); err != nil {
		s.logger.Error("Failed to stash ceremony", "error", err)
		metrics.RecordCeremony(metrics.CeremonyAuthentication, metrics.PhaseBegin, metrics.StatusError, time.Since(start).Seconds())
		writeError(w, ErrInternalError, http.StatusInternalServerError)
		return
	}

	metrics.RecordCeremony(metrics.CeremonyAuthentication, metrics.PhaseBegin, metrics.StatusSuccess, time.Since(start).Seconds())
	writeJSON(w, options, http.StatusOK)
}

// LoginFinishHandler handles POST /auth/login/finish.
//
// The session user is the verified credential's owner, which may differ
// from the username presented at begin time if the credential was
// re-registered to another account in between.
func (s *Server) LoginFinishHandler(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	ceremony, err := s.sessions.ConsumeCeremony(w, r)
	if err != nil {
		metrics.RecordError(metrics.CeremonyAuthentication, metrics.PhaseFinish, "no_challenge")
		handleError(w, err)
		return
	}

	response, err := protocol.ParseCredentialRequestResponseBody(r.Body)
	if err != nil {
		s.logger.Warn("Malformed assertion response", "error", err)
		metrics.RecordCeremony(metrics.CeremonyAuthentication, metrics.PhaseFinish, metrics.StatusError, time.Since(start).Seconds())
		writeErrorWithMessage(w, ErrInvalidRequest, "Malformed credential assertion response", http.StatusBadRequest)
		return
	}

	user, cred, err := s.service.FinishAuthentication(r.Context(), ceremony, response)
	if err != nil {
		s.logger.Warn("Login finish failed", "error", err)
		metrics.RecordCeremony(metrics.CeremonyAuthentication, metrics.PhaseFinish, metrics.StatusError, time.Since(start).Seconds())
		if passkey.IsClonedAuthenticator(err) {
			metrics.RecordCloneWarning()
		}
		handleError(w, err)
		return
	}

	if err := s.sessions.Authenticate(w, r, user.ID); err != nil {
		s.logger.Error("Failed to open session", "error", err)
		writeError(w, ErrInternalError, http.StatusInternalServerError)
		return
	}

	token, err := s.service.IssueToken(r.Context(), user)
	if err != nil {
		s.logger.Error("Failed to issue token", "error", err)
		writeError(w, ErrInternalError, http.StatusInternalServerError)
		return
	}

	s.logger.Info("User authenticated",
		"username", user.Username,
		"credential_id", cred.EncodedID(),
		"sign_count", cred.SignCount)
	metrics.RecordCeremony(metrics.CeremonyAuthentication, metrics.PhaseFinish, metrics.StatusSuccess, time.Since(start).Seconds())

	writeJSON(w, FinishResponse{Verified: true, Username: user.Username, Token: token}, http.StatusOK)
}

// LogoutHandler handles POST /auth/logout. Logout is idempotent.
func (s *Server) LogoutHandler(w http.ResponseWriter, r *http.Request) {
	if err := s.sessions.Logout(w, r); err != nil {
		s.logger.Error("Failed to clear session", "error", err)
		writeError(w, ErrInternalError, http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// MeHandler handles GET /api/v1/me, returning the authenticated user and
// their registered credentials.
func (s *Server) MeHandler(w http.ResponseWriter, r *http.Request) {
	userID, err := s.sessions.CurrentUserID(r)
	if err != nil {
		handleError(w, err)
		return
	}

	user, err := s.service.User(r.Context(), userID)
	if err != nil {
		// A session naming a deleted user is stale; drop it.
		if passkey.IsUserNotFound(err) {
			_ = s.sessions.Logout(w, r)
			writeError(w, ErrUnauthorized, http.StatusUnauthorized)
			return
		}
		handleError(w, err)
		return
	}

	creds, err := s.service.Credentials(r.Context(), user.ID)
	if err != nil {
		handleError(w, err)
		return
	}

	resp := UserResponse{
		ID:          user.ID,
		Username:    user.Username,
		CreatedAt:   user.CreatedAt,
		Credentials: make([]CredentialResponse, 0, len(creds)),
	}
	for _, cred := range creds {
		resp.Credentials = append(resp.Credentials, newCredentialResponse(cred))
	}

	writeJSON(w, resp, http.StatusOK)
}

// CalcHandler handles POST /api/v1/calc, the demo business endpoint gated
// behind the session.
func (s *Server) CalcHandler(w http.ResponseWriter, r *http.Request) {
	var req CalcRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorWithMessage(w, ErrInvalidRequest, "Invalid JSON body", http.StatusBadRequest)
		return
	}

	if req.Radius <= 0 || math.IsNaN(req.Radius) || math.IsInf(req.Radius, 0) {
		writeErrorWithMessage(w, ErrInvalidRequest, "Radius must be a positive number", http.StatusBadRequest)
		return
	}

	writeJSON(w, CalcResponse{
		Radius:        req.Radius,
		Area:          math.Pi * req.Radius * req.Radius,
		Circumference: 2 * math.Pi * req.Radius,
	}, http.StatusOK)
}
