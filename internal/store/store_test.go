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

package store

import (
	"context"
	"testing"
	"time"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeremyhahn/go-passkey/pkg/metrics"
	"github.com/jeremyhahn/go-passkey/pkg/passkey"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	s, err := Open(Options{Driver: DriverSQLite, DSN: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newTestCredential(id []byte, userID string, count uint32) *passkey.Credential {
	return &passkey.Credential{
		ID:              id,
		UserID:          userID,
		PublicKey:       []byte("cose-public-key"),
		AttestationType: "none",
		Transports:      []protocol.AuthenticatorTransport{protocol.USB, protocol.Internal},
		SignCount:       count,
		CreatedAt:       time.Now().UTC(),
	}
}

func TestOpen(t *testing.T) {
	t.Run("sqlite", func(t *testing.T) {
		s := newTestStore(t)
		assert.NoError(t, s.Ping())
	})

	t.Run("unsupported driver", func(t *testing.T) {
		_, err := Open(Options{Driver: "oracle", DSN: "x"})
		assert.Error(t, err)
	})
}

func TestStoreUsers(t *testing.T) {
	ctx := context.Background()

	t.Run("create and retrieve", func(t *testing.T) {
		s := newTestStore(t)

		user, err := s.CreateUser(ctx, "alice")
		require.NoError(t, err)
		assert.NotEmpty(t, user.ID)
		assert.Len(t, user.Handle, passkey.UserHandleSize)

		byName, err := s.UserByName(ctx, "alice")
		require.NoError(t, err)
		assert.Equal(t, user.ID, byName.ID)
		assert.Equal(t, user.Handle, byName.Handle)

		byID, err := s.UserByID(ctx, user.ID)
		require.NoError(t, err)
		assert.Equal(t, "alice", byID.Username)
	})

	t.Run("duplicate username", func(t *testing.T) {
		s := newTestStore(t)

		_, err := s.CreateUser(ctx, "alice")
		require.NoError(t, err)

		_, err = s.CreateUser(ctx, "alice")
		assert.ErrorIs(t, err, passkey.ErrUsernameTaken)
	})

	t.Run("not found", func(t *testing.T) {
		s := newTestStore(t)

		_, err := s.UserByName(ctx, "ghost")
		assert.ErrorIs(t, err, passkey.ErrUserNotFound)

		_, err = s.UserByID(ctx, "no-such-id")
		assert.ErrorIs(t, err, passkey.ErrUserNotFound)
	})
}

func TestStoreCredentials(t *testing.T) {
	ctx := context.Background()

	t.Run("upsert and retrieve round trip", func(t *testing.T) {
		s := newTestStore(t)
		user, err := s.CreateUser(ctx, "alice")
		require.NoError(t, err)

		cred := newTestCredential([]byte{1, 2, 3, 4}, user.ID, 0)
		require.NoError(t, s.UpsertCredential(ctx, cred))

		got, err := s.CredentialByEncodedID(ctx, cred.EncodedID())
		require.NoError(t, err)
		assert.Equal(t, cred.ID, got.ID)
		assert.Equal(t, cred.PublicKey, got.PublicKey)
		assert.Equal(t, cred.Transports, got.Transports)
		assert.Equal(t, "none", got.AttestationType)
	})

	t.Run("listing preserves creation order", func(t *testing.T) {
		s := newTestStore(t)
		user, err := s.CreateUser(ctx, "alice")
		require.NoError(t, err)

		require.NoError(t, s.UpsertCredential(ctx, newTestCredential([]byte{1}, user.ID, 0)))
		require.NoError(t, s.UpsertCredential(ctx, newTestCredential([]byte{2}, user.ID, 0)))
		require.NoError(t, s.UpsertCredential(ctx, newTestCredential([]byte{3}, user.ID, 0)))

		list, err := s.Credentials(ctx, user.ID)
		require.NoError(t, err)
		require.Len(t, list, 3)
		assert.Equal(t, []byte{1}, list[0].ID)
		assert.Equal(t, []byte{3}, list[2].ID)
	})

	t.Run("empty list for user without credentials", func(t *testing.T) {
		s := newTestStore(t)
		user, err := s.CreateUser(ctx, "alice")
		require.NoError(t, err)

		list, err := s.Credentials(ctx, user.ID)
		require.NoError(t, err)
		assert.Empty(t, list)
	})

	t.Run("upsert overwrites owner and key state", func(t *testing.T) {
		s := newTestStore(t)
		alice, err := s.CreateUser(ctx, "alice")
		require.NoError(t, err)
		carol, err := s.CreateUser(ctx, "carol")
		require.NoError(t, err)

		id := []byte{9, 9, 9}
		require.NoError(t, s.UpsertCredential(ctx, newTestCredential(id, alice.ID, 17)))
		require.NoError(t, s.UpsertCredential(ctx, newTestCredential(id, carol.ID, 0)))

		count, err := s.CredentialCount(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(1), count)

		got, err := s.CredentialByEncodedID(ctx, (&passkey.Credential{ID: id}).EncodedID())
		require.NoError(t, err)
		assert.Equal(t, carol.ID, got.UserID)
		assert.Equal(t, uint32(0), got.SignCount)

		aliceList, err := s.Credentials(ctx, alice.ID)
		require.NoError(t, err)
		assert.Empty(t, aliceList)
	})

	t.Run("re-registration resets last used", func(t *testing.T) {
		s := newTestStore(t)
		user, err := s.CreateUser(ctx, "alice")
		require.NoError(t, err)

		cred := newTestCredential([]byte{4, 2}, user.ID, 0)
		require.NoError(t, s.UpsertCredential(ctx, cred))
		require.NoError(t, s.UpdateSignCount(ctx, cred.EncodedID(), 3))

		require.NoError(t, s.UpsertCredential(ctx, newTestCredential([]byte{4, 2}, user.ID, 0)))

		got, err := s.CredentialByEncodedID(ctx, cred.EncodedID())
		require.NoError(t, err)
		assert.True(t, got.LastUsedAt.IsZero())
	})

	t.Run("update sign count", func(t *testing.T) {
		s := newTestStore(t)
		user, err := s.CreateUser(ctx, "alice")
		require.NoError(t, err)

		cred := newTestCredential([]byte{5}, user.ID, 0)
		require.NoError(t, s.UpsertCredential(ctx, cred))

		require.NoError(t, s.UpdateSignCount(ctx, cred.EncodedID(), 7))

		got, err := s.CredentialByEncodedID(ctx, cred.EncodedID())
		require.NoError(t, err)
		assert.Equal(t, uint32(7), got.SignCount)
		assert.False(t, got.LastUsedAt.IsZero())
	})

	t.Run("update sign count for missing credential", func(t *testing.T) {
		s := newTestStore(t)

		err := s.UpdateSignCount(ctx, "bm9wZQ", 1)
		assert.ErrorIs(t, err, passkey.ErrCredentialNotFound)
	})

	t.Run("not found", func(t *testing.T) {
		s := newTestStore(t)

		_, err := s.CredentialByEncodedID(ctx, "bm9wZQ")
		assert.ErrorIs(t, err, passkey.ErrCredentialNotFound)
	})
}

func TestStoreCredentialsGauge(t *testing.T) {
	ctx := context.Background()

	s := newTestStore(t)
	assert.Equal(t, float64(0), testutil.ToFloat64(metrics.CredentialsTotal))

	user, err := s.CreateUser(ctx, "alice")
	require.NoError(t, err)

	require.NoError(t, s.UpsertCredential(ctx, newTestCredential([]byte{1}, user.ID, 0)))
	require.NoError(t, s.UpsertCredential(ctx, newTestCredential([]byte{2}, user.ID, 0)))
	assert.Equal(t, float64(2), testutil.ToFloat64(metrics.CredentialsTotal))

	// Overwriting an existing row does not change the count.
	require.NoError(t, s.UpsertCredential(ctx, newTestCredential([]byte{2}, user.ID, 5)))
	assert.Equal(t, float64(2), testutil.ToFloat64(metrics.CredentialsTotal))
}
