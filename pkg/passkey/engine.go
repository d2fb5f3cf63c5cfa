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

package passkey

import (
	"fmt"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"
)

// webAuthnEngine implements Engine on top of github.com/go-webauthn/webauthn.
type webAuthnEngine struct {
	wa *webauthn.WebAuthn
}

// NewEngine creates the default verification engine from the given
// configuration. The configuration must already be validated.
func NewEngine(config *Config) (Engine, error) {
	wa, err := webauthn.New(config.toWebAuthnConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to create webauthn instance: %w", err)
	}
	return &webAuthnEngine{wa: wa}, nil
}

// BeginRegistration produces creation options with a fresh random challenge.
func (e *webAuthnEngine) BeginRegistration(user *User, exclusions []protocol.CredentialDescriptor) (*protocol.CredentialCreation, *webauthn.SessionData, error) {
	return e.wa.BeginRegistration(&ceremonyUser{user: user},
		webauthn.WithExclusions(exclusions),
	)
}

// VerifyRegistration validates the attestation response. All signature,
// origin, RP binding and user-verification checks happen inside the library.
func (e *webAuthnEngine) VerifyRegistration(user *User, session webauthn.SessionData, response *protocol.ParsedCredentialCreationData) (*Credential, error) {
	cred, err := e.wa.CreateCredential(&ceremonyUser{user: user}, session, response)
	if err != nil {
		return nil, err
	}
	return fromWebAuthnCredential(user.ID, cred), nil
}

// BeginAuthentication produces request options. With zero stored credentials
// the discoverable flow is used so the authenticator itself picks the account.
func (e *webAuthnEngine) BeginAuthentication(user *User, creds []*Credential) (*protocol.CredentialAssertion, *webauthn.SessionData, error) {
	if len(creds) == 0 {
		return e.wa.BeginDiscoverableLogin()
	}
	return e.wa.BeginLogin(&ceremonyUser{user: user, creds: creds})
}

// VerifyAuthentication validates the assertion response against the stored
// credential. The returned credential carries the authenticator-reported
// signature counter and the library's clone warning.
func (e *webAuthnEngine) VerifyAuthentication(user *User, stored *Credential, session webauthn.SessionData, response *protocol.ParsedCredentialAssertionData) (*webauthn.Credential, error) {
	owner := &ceremonyUser{user: user, creds: []*Credential{stored}}

	// Discoverable ceremonies carry no user handle in the session; the
	// library resolves the account from the assertion's user handle instead.
	if len(session.UserID) == 0 {
		return e.wa.ValidateDiscoverableLogin(
			func(rawID, userHandle []byte) (webauthn.User, error) {
				return owner, nil
			},
			session,
			response,
		)
	}
	return e.wa.ValidateLogin(owner, session, response)
}
