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
	"crypto/rand"
	"encoding/base64"
	"time"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"
)

// UserHandleSize is the size in bytes of the opaque user handle presented to
// authenticators. The handle is random and never derived from the username,
// so the authenticator-visible identity stays decoupled from the display name.
const UserHandleSize = 32

// User is an account known to the relying party. Accounts are created lazily
// the first time an unseen username begins registration.
type User struct {
	// ID is the store-assigned identifier.
	ID string `json:"id"`

	// Username is the unique, immutable display and lookup key.
	Username string `json:"username"`

	// Handle is the WebAuthn user handle: random bytes generated once at
	// creation, never reused.
	Handle []byte `json:"handle"`

	// CreatedAt is when the account was created.
	CreatedAt time.Time `json:"created_at"`
}

// NewUserHandle generates a fresh random user handle.
func NewUserHandle() ([]byte, error) {
	handle := make([]byte, UserHandleSize)
	if _, err := rand.Read(handle); err != nil {
		return nil, err
	}
	return handle, nil
}

// Credential is a public-key credential stored by the relying party.
type Credential struct {
	// ID is the credential identifier assigned by the authenticator.
	ID []byte `json:"id"`

	// UserID is the store identifier of the owning user. A credential
	// belongs to exactly one user at a time.
	UserID string `json:"user_id"`

	// PublicKey is the credential's public key in COSE format. Set once at
	// registration, never mutated.
	PublicKey []byte `json:"public_key"`

	// AttestationType indicates the type of attestation conveyed at
	// registration ("none" for this server).
	AttestationType string `json:"attestation_type"`

	// Transports lists how the client may reach this authenticator
	// (e.g. "usb", "internal"). Advisory only, never security-relevant.
	Transports []protocol.AuthenticatorTransport `json:"transports,omitempty"`

	// SignCount is the authenticator's signature counter. Zero is a legal
	// initial value for authenticators without a counter; a nonzero counter
	// only ever moves forward.
	SignCount uint32 `json:"sign_count"`

	// BackupEligible and BackupState carry the authenticator's backup flags.
	BackupEligible bool `json:"backup_eligible"`
	BackupState    bool `json:"backup_state"`

	// CreatedAt is when the credential was registered.
	CreatedAt time.Time `json:"created_at"`

	// LastUsedAt is when the credential last completed an authentication.
	LastUsedAt time.Time `json:"last_used_at,omitempty"`
}

// EncodedID returns the credential ID as URL-safe base64 text, the external
// form used for storage and transport.
func (c *Credential) EncodedID() string {
	return base64.RawURLEncoding.EncodeToString(c.ID)
}

// Descriptor returns the credential as a WebAuthn descriptor for
// exclusion and allow lists.
func (c *Credential) Descriptor() protocol.CredentialDescriptor {
	return protocol.CredentialDescriptor{
		Type:         protocol.PublicKeyCredentialType,
		CredentialID: c.ID,
		Transport:    c.Transports,
	}
}

// toWebAuthn converts the credential to the go-webauthn library's type.
func (c *Credential) toWebAuthn() webauthn.Credential {
	return webauthn.Credential{
		ID:              c.ID,
		PublicKey:       c.PublicKey,
		AttestationType: c.AttestationType,
		Transport:       c.Transports,
		Flags: webauthn.CredentialFlags{
			BackupEligible: c.BackupEligible,
			BackupState:    c.BackupState,
		},
		Authenticator: webauthn.Authenticator{
			SignCount: c.SignCount,
		},
	}
}

// fromWebAuthnCredential creates a Credential from the go-webauthn library's type.
func fromWebAuthnCredential(userID string, wc *webauthn.Credential) *Credential {
	return &Credential{
		ID:              wc.ID,
		UserID:          userID,
		PublicKey:       wc.PublicKey,
		AttestationType: wc.AttestationType,
		Transports:      wc.Transport,
		SignCount:       wc.Authenticator.SignCount,
		BackupEligible:  wc.Flags.BackupEligible,
		BackupState:     wc.Flags.BackupState,
		CreatedAt:       time.Now().UTC(),
	}
}

// Ceremony is the ephemeral state of one begin/finish pair: the issued
// challenge bound to exactly one pending user. It lives in the caller's
// session carrier between the two requests and is consumed exactly once.
type Ceremony struct {
	// Session is the engine's session data: challenge, user handle,
	// expiry and verification policy.
	Session webauthn.SessionData `json:"session"`

	// PendingUserID is the store identifier of the user this challenge was
	// issued for.
	PendingUserID string `json:"pending_user_id"`
}

// ceremonyUser adapts a User and its credentials to the engine's user model.
type ceremonyUser struct {
	user  *User
	creds []*Credential
}

// WebAuthnID returns the user handle.
func (u *ceremonyUser) WebAuthnID() []byte {
	return u.user.Handle
}

// WebAuthnName returns the username.
func (u *ceremonyUser) WebAuthnName() string {
	return u.user.Username
}

// WebAuthnDisplayName returns the username; this server keeps no separate
// display name.
func (u *ceremonyUser) WebAuthnDisplayName() string {
	return u.user.Username
}

// WebAuthnCredentials returns the user's registered credentials.
func (u *ceremonyUser) WebAuthnCredentials() []webauthn.Credential {
	creds := make([]webauthn.Credential, len(u.creds))
	for i, c := range u.creds {
		creds[i] = c.toWebAuthn()
	}
	return creds
}
