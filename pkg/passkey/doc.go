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

// Package passkey orchestrates WebAuthn passkey ceremonies for a relying
// party: credential registration, authentication, and the challenge
// lifecycle that binds the two phases of each ceremony together.
//
// The package is built around three pieces:
//
//   - Service drives the begin/finish ceremony flows, owns the business
//     rules (username validation, credential lookup, signature counter
//     enforcement), and is transport-agnostic.
//   - Engine wraps the go-webauthn protocol verification. The default
//     engine is constructed with NewEngine from a Config.
//   - Store persists users and credentials. MemoryStore is provided for
//     tests and ephemeral deployments; production deployments use a
//     database-backed implementation.
//
// A Ceremony value is returned by each Begin* call and must be presented
// to the matching Finish* call. Callers are responsible for stashing it
// somewhere bound to the client (typically a server-side session) and for
// discarding it after a single use.
//
// Basic usage:
//
//	svc, err := passkey.NewService(passkey.ServiceParams{
//		Config: &passkey.Config{
//			RPID:          "example.com",
//			RPDisplayName: "Example",
//			RPOrigins:     []string{"https://example.com"},
//		},
//		Store: passkey.NewMemoryStore(),
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	options, ceremony, err := svc.BeginRegistration(ctx, "alice")
//	// ... send options to the browser, hold ceremony in the session ...
//	user, cred, err := svc.FinishRegistration(ctx, ceremony, parsedResponse)
//
// Errors returned by the Service wrap the package sentinel errors
// (ErrUserNotFound, ErrNoChallenge, ErrVerificationFailed, ...) so callers
// can map failures to transport-level responses with errors.Is.
package passkey
