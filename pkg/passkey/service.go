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
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/go-webauthn/webauthn/protocol"
)

// Service orchestrates passkey registration and authentication ceremonies.
// It owns no protocol state itself: challenges live in the caller's session
// carrier between begin and finish, and all credential state lives in the
// Store.
type Service struct {
	engine     Engine
	config     *Config
	store      Store
	tokens     TokenIssuer // optional
	configured bool
}

// ServiceParams contains dependencies for creating a ceremony service.
type ServiceParams struct {
	// Config is the relying-party configuration (required).
	Config *Config

	// Store is the user and credential persistence layer (required).
	Store Store

	// Engine is the cryptographic verification engine. If nil, the default
	// go-webauthn backed engine is created from Config.
	Engine Engine

	// TokenIssuer is an optional post-ceremony token generator. If nil,
	// finish operations return no token.
	TokenIssuer TokenIssuer
}

// NewService creates a new ceremony service with the provided dependencies.
func NewService(params ServiceParams) (*Service, error) {
	if params.Config == nil {
		return nil, fmt.Errorf("config is required")
	}
	if params.Store == nil {
		return nil, fmt.Errorf("store is required")
	}

	params.Config.SetDefaults()
	if err := params.Config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	engine := params.Engine
	if engine == nil {
		var err error
		if engine, err = NewEngine(params.Config); err != nil {
			return nil, err
		}
	}

	return &Service{
		engine:     engine,
		config:     params.Config,
		store:      params.Store,
		tokens:     params.TokenIssuer,
		configured: true,
	}, nil
}

// BeginRegistration starts a registration ceremony for the given username.
// Unknown usernames create a new account: registering a first passkey IS
// account creation. Returns the creation options for the client and the
// ceremony state the caller must hold until finish.
func (s *Service) BeginRegistration(ctx context.Context, username string) (*protocol.CredentialCreation, *Ceremony, error) {
	if !s.configured {
		return nil, nil, ErrNotConfigured
	}

	username = strings.TrimSpace(username)
	if username == "" {
		return nil, nil, ErrUsernameRequired
	}

	user, err := s.store.UserByName(ctx, username)
	if err != nil {
		if !IsUserNotFound(err) {
			return nil, nil, WrapError("get user", err)
		}
		if user, err = s.store.CreateUser(ctx, username); err != nil {
			return nil, nil, WrapError("create user", err)
		}
	}

	// Exclude the user's existing credentials so the same physical
	// authenticator cannot be registered twice for this account.
	existing, err := s.store.Credentials(ctx, user.ID)
	if err != nil {
		return nil, nil, WrapError("get credentials", err)
	}
	exclusions := make([]protocol.CredentialDescriptor, len(existing))
	for i, cred := range existing {
		exclusions[i] = cred.Descriptor()
	}

	options, session, err := s.engine.BeginRegistration(user, exclusions)
	if err != nil {
		return nil, nil, WrapError("begin registration", err)
	}

	return options, &Ceremony{Session: *session, PendingUserID: user.ID}, nil
}

// FinishRegistration completes a registration ceremony. The caller must have
// consumed the ceremony from its session carrier before calling, so a failed
// attempt never leaves a replayable challenge behind.
func (s *Service) FinishRegistration(ctx context.Context, ceremony *Ceremony, response *protocol.ParsedCredentialCreationData) (*User, *Credential, error) {
	if !s.configured {
		return nil, nil, ErrNotConfigured
	}
	if ceremony == nil {
		return nil, nil, ErrNoChallenge
	}

	user, err := s.store.UserByID(ctx, ceremony.PendingUserID)
	if err != nil {
		return nil, nil, WrapError("resolve pending user", err)
	}

	cred, err := s.engine.VerifyRegistration(user, ceremony.Session, response)
	if err != nil {
		return nil, nil, verificationError("verify registration", err)
	}

	if err := s.store.UpsertCredential(ctx, cred); err != nil {
		// The response verified; reporting a generic failure here would hide
		// that the authenticator now holds a key the server never stored.
		return nil, nil, NewError("save credential", fmt.Errorf("%w: %v", ErrVerifiedNotSaved, err))
	}

	return user, cred, nil
}

// BeginAuthentication starts an authentication ceremony for the given
// username. Unlike registration, login never creates an account. A user with
// zero credentials still receives options, with no allow list, so
// discoverable credentials can complete the ceremony.
func (s *Service) BeginAuthentication(ctx context.Context, username string) (*protocol.CredentialAssertion, *Ceremony, error) {
	if !s.configured {
		return nil, nil, ErrNotConfigured
	}

	username = strings.TrimSpace(username)
	if username == "" {
		return nil, nil, ErrUsernameRequired
	}

	user, err := s.store.UserByName(ctx, username)
	if err != nil {
		return nil, nil, WrapError("get user", err)
	}

	creds, err := s.store.Credentials(ctx, user.ID)
	if err != nil {
		return nil, nil, WrapError("get credentials", err)
	}

	options, session, err := s.engine.BeginAuthentication(user, creds)
	if err != nil {
		return nil, nil, WrapError("begin authentication", err)
	}

	return options, &Ceremony{Session: *session, PendingUserID: user.ID}, nil
}

// FinishAuthentication completes an authentication ceremony. The returned
// user is the owner of the verified credential, not whoever the client
// claimed at begin time. The caller must have consumed the ceremony from its
// session carrier before calling.
func (s *Service) FinishAuthentication(ctx context.Context, ceremony *Ceremony, response *protocol.ParsedCredentialAssertionData) (*User, *Credential, error) {
	if !s.configured {
		return nil, nil, ErrNotConfigured
	}
	if ceremony == nil {
		return nil, nil, ErrNoChallenge
	}
	if len(response.RawID) == 0 {
		return nil, nil, ErrMissingCredentialID
	}

	// The stored public key and counter are inputs to verification, so the
	// lookup must precede the engine call.
	encodedID := base64.RawURLEncoding.EncodeToString(response.RawID)
	stored, err := s.store.CredentialByEncodedID(ctx, encodedID)
	if err != nil {
		return nil, nil, WrapError("get credential", err)
	}

	owner, err := s.store.UserByID(ctx, stored.UserID)
	if err != nil {
		return nil, nil, WrapError("get credential owner", err)
	}

	verified, err := s.engine.VerifyAuthentication(owner, stored, ceremony.Session, response)
	if err != nil {
		return nil, nil, verificationError("verify authentication", err)
	}

	// A counter that fails to advance past a previously nonzero value means
	// a second authenticator holds the same key. Reject, and leave both the
	// stored counter and the session untouched.
	if verified.Authenticator.CloneWarning {
		return nil, nil, NewError("verify authentication", ErrClonedAuthenticator)
	}
	if stored.SignCount > 0 && verified.Authenticator.SignCount <= stored.SignCount {
		return nil, nil, NewError("verify authentication", ErrClonedAuthenticator)
	}

	// Persist the engine-reported counter, never anything supplied directly
	// by the client.
	if err := s.store.UpdateSignCount(ctx, encodedID, verified.Authenticator.SignCount); err != nil {
		return nil, nil, WrapError("update sign count", err)
	}
	stored.SignCount = verified.Authenticator.SignCount

	return owner, stored, nil
}

// IssueToken creates an API token for the user if a TokenIssuer is
// configured, otherwise returns the empty string.
func (s *Service) IssueToken(ctx context.Context, user *User) (string, error) {
	if s.tokens == nil {
		return "", nil
	}
	return s.tokens.IssueToken(ctx, user)
}

// User retrieves a user by store identifier.
func (s *Service) User(ctx context.Context, id string) (*User, error) {
	if !s.configured {
		return nil, ErrNotConfigured
	}
	return s.store.UserByID(ctx, id)
}

// Credentials retrieves all credentials for a user in creation order.
func (s *Service) Credentials(ctx context.Context, userID string) ([]*Credential, error) {
	if !s.configured {
		return nil, ErrNotConfigured
	}
	return s.store.Credentials(ctx, userID)
}

// Config returns the service configuration.
func (s *Service) Config() *Config {
	return s.config
}

// verificationError wraps an engine rejection so callers can match
// ErrVerificationFailed while keeping the engine's diagnostic message.
func verificationError(op string, err error) error {
	return NewError(op, fmt.Errorf("%w: %v", ErrVerificationFailed, err))
}
