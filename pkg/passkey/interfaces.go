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
	"context"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"
)

// Store is the interface for user and credential persistence. Each write is
// atomic per row; the store enforces uniqueness of usernames and of external
// credential IDs.
type Store interface {
	// UserByName retrieves a user by username.
	// Returns ErrUserNotFound if the user does not exist.
	UserByName(ctx context.Context, username string) (*User, error)

	// UserByID retrieves a user by store identifier.
	// Returns ErrUserNotFound if the user does not exist.
	UserByID(ctx context.Context, id string) (*User, error)

	// CreateUser creates a new user with a freshly generated user handle.
	// Returns ErrUsernameTaken if the username already exists.
	CreateUser(ctx context.Context, username string) (*User, error)

	// Credentials retrieves all credentials for a user in creation order.
	// Returns an empty slice if the user has none.
	Credentials(ctx context.Context, userID string) ([]*Credential, error)

	// CredentialByEncodedID retrieves a credential by its external URL-safe
	// base64 identifier. Returns ErrCredentialNotFound if absent.
	CredentialByEncodedID(ctx context.Context, encodedID string) (*Credential, error)

	// UpsertCredential inserts the credential, or - when its external ID
	// already exists - overwrites owner, public key, sign count and
	// transports for that row in a single atomic conditional write.
	UpsertCredential(ctx context.Context, cred *Credential) error

	// UpdateSignCount writes only the counter field of the credential with
	// the given external ID. Returns ErrCredentialNotFound if the row no
	// longer exists.
	UpdateSignCount(ctx context.Context, encodedID string, count uint32) error
}

// Engine is the cryptographic verification boundary. It owns challenge
// generation, COSE key parsing, attestation statement parsing and signature
// verification; the ceremony service never touches any of that directly.
type Engine interface {
	// BeginRegistration produces creation options and session data for a
	// registration ceremony, excluding the listed credentials.
	BeginRegistration(user *User, exclusions []protocol.CredentialDescriptor) (*protocol.CredentialCreation, *webauthn.SessionData, error)

	// VerifyRegistration validates an attestation response against the
	// session data and returns the new credential.
	VerifyRegistration(user *User, session webauthn.SessionData, response *protocol.ParsedCredentialCreationData) (*Credential, error)

	// BeginAuthentication produces request options and session data for an
	// authentication ceremony, building the allow list from the user's
	// stored credentials. With zero credentials the discoverable-credential
	// flow is selected and no allow list is sent.
	BeginAuthentication(user *User, creds []*Credential) (*protocol.CredentialAssertion, *webauthn.SessionData, error)

	// VerifyAuthentication validates an assertion response against the
	// stored credential and returns the verified credential state,
	// including the authenticator-reported signature counter.
	VerifyAuthentication(user *User, stored *Credential, session webauthn.SessionData, response *protocol.ParsedCredentialAssertionData) (*webauthn.Credential, error)
}

// TokenIssuer is an optional interface for issuing API tokens after a
// successful ceremony. If not configured, finish responses carry no token.
type TokenIssuer interface {
	// IssueToken creates a token for the authenticated user.
	IssueToken(ctx context.Context, user *User) (string, error)
}
