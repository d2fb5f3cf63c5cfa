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

// Package rest implements the HTTP surface of the passkey server.
//
// Ceremony endpoints:
//
//	POST /auth/register/begin   - issue registration options and a challenge
//	POST /auth/register/finish  - verify the attestation, store the credential
//	POST /auth/login/begin      - issue authentication options and a challenge
//	POST /auth/login/finish     - verify the assertion, open the session
//	POST /auth/logout           - clear the session
//
// Session-gated API:
//
//	GET  /api/v1/me             - the authenticated user and their credentials
//	POST /api/v1/calc           - demo business endpoint (circle geometry)
//
// Operational endpoints (no session required):
//
//	GET /healthz                - legacy one-shot health check
//	GET /health/live|ready|startup - Kubernetes probes
//	GET /metrics                - Prometheus metrics
//
// The begin handlers stash the pending ceremony in the client's cookie
// session; the finish handlers consume it before verification, so each
// challenge is accepted at most once no matter how verification ends.
package rest
