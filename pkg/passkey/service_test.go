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
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testRPID   = "localhost"
	testOrigin = "http://localhost:8080"
)

func newTestService(t *testing.T) (*Service, *MemoryStore) {
	t.Helper()

	store := NewMemoryStore()
	svc, err := NewService(ServiceParams{
		Config: &Config{
			RPID:          testRPID,
			RPDisplayName: "Test RP",
			RPOrigins:     []string{testOrigin},
		},
		Store: store,
	})
	require.NoError(t, err)
	return svc, store
}

// registerCredential drives a full registration ceremony for the username
// with the given authenticator and returns the resulting user.
func registerCredential(t *testing.T, svc *Service, username string, auth *MockAuthenticator) *User {
	t.Helper()

	options, ceremony, err := svc.BeginRegistration(context.Background(), username)
	require.NoError(t, err)

	response, err := auth.Attest(options.Response.Challenge, testOrigin)
	require.NoError(t, err)

	user, cred, err := svc.FinishRegistration(context.Background(), ceremony, response)
	require.NoError(t, err)
	require.NotNil(t, cred)
	return user
}

func TestBeginRegistration(t *testing.T) {
	t.Run("creates account on first sight", func(t *testing.T) {
		svc, store := newTestService(t)

		options, ceremony, err := svc.BeginRegistration(context.Background(), "alice")
		require.NoError(t, err)
		require.NotNil(t, options)
		require.NotNil(t, ceremony)

		assert.NotEmpty(t, options.Response.Challenge)
		assert.NotEmpty(t, ceremony.PendingUserID)
		assert.Equal(t, 1, store.UserCount())

		user, err := store.UserByName(context.Background(), "alice")
		require.NoError(t, err)
		assert.Equal(t, user.ID, ceremony.PendingUserID)
		assert.Len(t, user.Handle, UserHandleSize)
	})

	t.Run("reuses existing account", func(t *testing.T) {
		svc, store := newTestService(t)

		_, first, err := svc.BeginRegistration(context.Background(), "alice")
		require.NoError(t, err)

		_, second, err := svc.BeginRegistration(context.Background(), "alice")
		require.NoError(t, err)

		assert.Equal(t, first.PendingUserID, second.PendingUserID)
		assert.Equal(t, 1, store.UserCount())
	})

	t.Run("issues a fresh challenge per begin", func(t *testing.T) {
		svc, _ := newTestService(t)

		first, _, err := svc.BeginRegistration(context.Background(), "alice")
		require.NoError(t, err)
		second, _, err := svc.BeginRegistration(context.Background(), "alice")
		require.NoError(t, err)

		assert.NotEqual(t, first.Response.Challenge, second.Response.Challenge)
	})

	t.Run("rejects empty username", func(t *testing.T) {
		svc, _ := newTestService(t)

		_, _, err := svc.BeginRegistration(context.Background(), "   ")
		assert.ErrorIs(t, err, ErrUsernameRequired)
	})

	t.Run("excludes registered credentials", func(t *testing.T) {
		svc, _ := newTestService(t)

		auth, err := NewMockAuthenticator(testRPID)
		require.NoError(t, err)
		registerCredential(t, svc, "alice", auth)

		options, _, err := svc.BeginRegistration(context.Background(), "alice")
		require.NoError(t, err)
		require.Len(t, options.Response.CredentialExcludeList, 1)
		assert.Equal(t, auth.CredentialID, []byte(options.Response.CredentialExcludeList[0].CredentialID))
	})
}

func TestFinishRegistration(t *testing.T) {
	t.Run("verifies and stores the credential", func(t *testing.T) {
		svc, store := newTestService(t)

		auth, err := NewMockAuthenticator(testRPID)
		require.NoError(t, err)
		user := registerCredential(t, svc, "alice", auth)

		creds, err := store.Credentials(context.Background(), user.ID)
		require.NoError(t, err)
		require.Len(t, creds, 1)
		assert.Equal(t, auth.CredentialID, creds[0].ID)
		assert.NotEmpty(t, creds[0].PublicKey)
		assert.Equal(t, uint32(0), creds[0].SignCount)
	})

	t.Run("rejects nil ceremony", func(t *testing.T) {
		svc, _ := newTestService(t)

		auth, err := NewMockAuthenticator(testRPID)
		require.NoError(t, err)
		response, err := auth.Attest([]byte("irrelevant"), testOrigin)
		require.NoError(t, err)

		_, _, err = svc.FinishRegistration(context.Background(), nil, response)
		assert.ErrorIs(t, err, ErrNoChallenge)
	})

	t.Run("rejects a mismatched challenge", func(t *testing.T) {
		svc, store := newTestService(t)

		_, ceremony, err := svc.BeginRegistration(context.Background(), "alice")
		require.NoError(t, err)

		auth, err := NewMockAuthenticator(testRPID)
		require.NoError(t, err)

		wrongChallenge := make([]byte, 32)
		_, err = rand.Read(wrongChallenge)
		require.NoError(t, err)

		response, err := auth.Attest(wrongChallenge, testOrigin)
		require.NoError(t, err)

		_, _, err = svc.FinishRegistration(context.Background(), ceremony, response)
		assert.ErrorIs(t, err, ErrVerificationFailed)
		assert.Equal(t, 0, store.CredentialCount())
	})

	t.Run("rejects a foreign origin", func(t *testing.T) {
		svc, _ := newTestService(t)

		options, ceremony, err := svc.BeginRegistration(context.Background(), "alice")
		require.NoError(t, err)

		auth, err := NewMockAuthenticator(testRPID)
		require.NoError(t, err)
		response, err := auth.Attest(options.Response.Challenge, "https://evil.example")
		require.NoError(t, err)

		_, _, err = svc.FinishRegistration(context.Background(), ceremony, response)
		assert.ErrorIs(t, err, ErrVerificationFailed)
	})

	t.Run("re-registration moves the credential to the new owner", func(t *testing.T) {
		svc, store := newTestService(t)

		auth, err := NewMockAuthenticator(testRPID)
		require.NoError(t, err)
		alice := registerCredential(t, svc, "alice", auth)
		carol := registerCredential(t, svc, "carol", auth)

		stored, err := store.CredentialByEncodedID(context.Background(),
			(&Credential{ID: auth.CredentialID}).EncodedID())
		require.NoError(t, err)
		assert.Equal(t, carol.ID, stored.UserID)
		assert.Equal(t, 1, store.CredentialCount())

		aliceCreds, err := store.Credentials(context.Background(), alice.ID)
		require.NoError(t, err)
		assert.Empty(t, aliceCreds)
	})
}

func TestBeginAuthentication(t *testing.T) {
	t.Run("unknown user", func(t *testing.T) {
		svc, _ := newTestService(t)

		_, _, err := svc.BeginAuthentication(context.Background(), "nobody")
		assert.ErrorIs(t, err, ErrUserNotFound)
	})

	t.Run("never creates an account", func(t *testing.T) {
		svc, store := newTestService(t)

		_, _, _ = svc.BeginAuthentication(context.Background(), "nobody")
		assert.Equal(t, 0, store.UserCount())
	})

	t.Run("builds the allow list from stored credentials", func(t *testing.T) {
		svc, _ := newTestService(t)

		auth, err := NewMockAuthenticator(testRPID)
		require.NoError(t, err)
		registerCredential(t, svc, "alice", auth)

		options, ceremony, err := svc.BeginAuthentication(context.Background(), "alice")
		require.NoError(t, err)
		require.Len(t, options.Response.AllowedCredentials, 1)
		assert.Equal(t, auth.CredentialID, []byte(options.Response.AllowedCredentials[0].CredentialID))
		assert.NotEmpty(t, ceremony.Session.UserID)
	})

	t.Run("zero credentials selects the discoverable flow", func(t *testing.T) {
		svc, _ := newTestService(t)

		// Account exists but never finished a registration.
		_, _, err := svc.BeginRegistration(context.Background(), "bob")
		require.NoError(t, err)

		options, ceremony, err := svc.BeginAuthentication(context.Background(), "bob")
		require.NoError(t, err)
		assert.Empty(t, options.Response.AllowedCredentials)
		assert.Empty(t, ceremony.Session.UserID)
	})
}

func TestFinishAuthentication(t *testing.T) {
	t.Run("verifies and advances the counter", func(t *testing.T) {
		svc, store := newTestService(t)

		auth, err := NewMockAuthenticator(testRPID)
		require.NoError(t, err)
		alice := registerCredential(t, svc, "alice", auth)

		options, ceremony, err := svc.BeginAuthentication(context.Background(), "alice")
		require.NoError(t, err)

		response, err := auth.Assert(options.Response.Challenge, nil, testOrigin)
		require.NoError(t, err)

		owner, cred, err := svc.FinishAuthentication(context.Background(), ceremony, response)
		require.NoError(t, err)
		assert.Equal(t, alice.ID, owner.ID)
		assert.Equal(t, uint32(1), cred.SignCount)

		stored, err := store.CredentialByEncodedID(context.Background(), cred.EncodedID())
		require.NoError(t, err)
		assert.Equal(t, uint32(1), stored.SignCount)
	})

	t.Run("rejects a stale signature counter", func(t *testing.T) {
		svc, store := newTestService(t)

		auth, err := NewMockAuthenticator(testRPID)
		require.NoError(t, err)
		registerCredential(t, svc, "alice", auth)

		// First login establishes a nonzero counter.
		options, ceremony, err := svc.BeginAuthentication(context.Background(), "alice")
		require.NoError(t, err)
		response, err := auth.Assert(options.Response.Challenge, nil, testOrigin)
		require.NoError(t, err)
		_, _, err = svc.FinishAuthentication(context.Background(), ceremony, response)
		require.NoError(t, err)

		// A clone starts from the counter it copied, so its next assertion
		// fails to advance past the stored value.
		auth.SignCount = 0
		options, ceremony, err = svc.BeginAuthentication(context.Background(), "alice")
		require.NoError(t, err)
		response, err = auth.Assert(options.Response.Challenge, nil, testOrigin)
		require.NoError(t, err)

		_, _, err = svc.FinishAuthentication(context.Background(), ceremony, response)
		assert.ErrorIs(t, err, ErrClonedAuthenticator)

		// The stored counter must be untouched by the rejected attempt.
		stored, err := store.CredentialByEncodedID(context.Background(),
			(&Credential{ID: auth.CredentialID}).EncodedID())
		require.NoError(t, err)
		assert.Equal(t, uint32(1), stored.SignCount)
	})

	t.Run("unregistered credential", func(t *testing.T) {
		svc, _ := newTestService(t)

		registered, err := NewMockAuthenticator(testRPID)
		require.NoError(t, err)
		registerCredential(t, svc, "alice", registered)

		stranger, err := NewMockAuthenticator(testRPID)
		require.NoError(t, err)

		options, ceremony, err := svc.BeginAuthentication(context.Background(), "alice")
		require.NoError(t, err)
		response, err := stranger.Assert(options.Response.Challenge, nil, testOrigin)
		require.NoError(t, err)

		_, _, err = svc.FinishAuthentication(context.Background(), ceremony, response)
		assert.ErrorIs(t, err, ErrCredentialNotFound)
	})

	t.Run("nil ceremony", func(t *testing.T) {
		svc, _ := newTestService(t)

		auth, err := NewMockAuthenticator(testRPID)
		require.NoError(t, err)
		response, err := auth.Assert([]byte("irrelevant"), nil, testOrigin)
		require.NoError(t, err)

		_, _, err = svc.FinishAuthentication(context.Background(), nil, response)
		assert.ErrorIs(t, err, ErrNoChallenge)
	})

	t.Run("challenge from one ceremony cannot finish another", func(t *testing.T) {
		svc, _ := newTestService(t)

		auth, err := NewMockAuthenticator(testRPID)
		require.NoError(t, err)
		registerCredential(t, svc, "alice", auth)

		first, _, err := svc.BeginAuthentication(context.Background(), "alice")
		require.NoError(t, err)
		_, secondCeremony, err := svc.BeginAuthentication(context.Background(), "alice")
		require.NoError(t, err)

		// Response answers the first challenge, ceremony carries the second.
		response, err := auth.Assert(first.Response.Challenge, nil, testOrigin)
		require.NoError(t, err)

		_, _, err = svc.FinishAuthentication(context.Background(), secondCeremony, response)
		assert.ErrorIs(t, err, ErrVerificationFailed)
	})

	t.Run("discoverable ceremony resolves the credential owner", func(t *testing.T) {
		svc, store := newTestService(t)

		auth, err := NewMockAuthenticator(testRPID)
		require.NoError(t, err)
		alice := registerCredential(t, svc, "alice", auth)

		// bob has an account but no credentials, so his begin produces a
		// discoverable ceremony with no user binding.
		_, _, err = svc.BeginRegistration(context.Background(), "bob")
		require.NoError(t, err)
		options, ceremony, err := svc.BeginAuthentication(context.Background(), "bob")
		require.NoError(t, err)
		require.Empty(t, ceremony.Session.UserID)

		aliceUser, err := store.UserByID(context.Background(), alice.ID)
		require.NoError(t, err)
		response, err := auth.Assert(options.Response.Challenge, aliceUser.Handle, testOrigin)
		require.NoError(t, err)

		owner, _, err := svc.FinishAuthentication(context.Background(), ceremony, response)
		require.NoError(t, err)
		assert.Equal(t, "alice", owner.Username)
	})
}

func TestIssueToken(t *testing.T) {
	t.Run("no issuer configured", func(t *testing.T) {
		svc, _ := newTestService(t)

		token, err := svc.IssueToken(context.Background(), &User{ID: "u1"})
		require.NoError(t, err)
		assert.Empty(t, token)
	})

	t.Run("issues a verifiable token", func(t *testing.T) {
		issuer, err := NewJWTIssuer(&JWTIssuerConfig{Secret: []byte("test-secret-at-least-32-bytes-long")})
		require.NoError(t, err)

		svc, err := NewService(ServiceParams{
			Config: &Config{
				RPID:          testRPID,
				RPDisplayName: "Test RP",
				RPOrigins:     []string{testOrigin},
			},
			Store:       NewMemoryStore(),
			TokenIssuer: issuer,
		})
		require.NoError(t, err)

		auth, err := NewMockAuthenticator(testRPID)
		require.NoError(t, err)
		user := registerCredential(t, svc, "alice", auth)

		token, err := svc.IssueToken(context.Background(), user)
		require.NoError(t, err)
		require.NotEmpty(t, token)

		subject, err := issuer.Verify(token)
		require.NoError(t, err)
		assert.Equal(t, user.ID, subject)
	})
}
