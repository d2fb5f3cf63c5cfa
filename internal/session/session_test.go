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

package session

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-webauthn/webauthn/webauthn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeremyhahn/go-passkey/pkg/passkey"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()

	m, err := NewManager(Options{Secret: []byte("0123456789abcdef0123456789abcdef")})
	require.NoError(t, err)
	return m
}

// carryCookies builds a fresh request carrying the cookies a previous
// response set, simulating the browser between ceremony phases.
func carryCookies(t *testing.T, w *httptest.ResponseRecorder) *http.Request {
	t.Helper()

	req := httptest.NewRequest(http.MethodPost, "/", nil)
	for _, c := range w.Result().Cookies() {
		req.AddCookie(c)
	}
	return req
}

func TestNewManager(t *testing.T) {
	t.Run("requires secret", func(t *testing.T) {
		_, err := NewManager(Options{})
		assert.Error(t, err)
	})

	t.Run("valid", func(t *testing.T) {
		m, err := NewManager(Options{Secret: []byte("secret")})
		require.NoError(t, err)
		assert.NotNil(t, m)
	})
}

func TestCeremonyRoundTrip(t *testing.T) {
	m := newTestManager(t)

	ceremony := &passkey.Ceremony{
		Session: webauthn.SessionData{
			Challenge: "dGVzdC1jaGFsbGVuZ2U",
			UserID:    []byte("user-handle"),
		},
		PendingUserID: "user-1",
	}

	w := httptest.NewRecorder()
	require.NoError(t, m.StashCeremony(w, httptest.NewRequest(http.MethodPost, "/", nil), ceremony))
	require.NotEmpty(t, w.Result().Cookies())

	w2 := httptest.NewRecorder()
	got, err := m.ConsumeCeremony(w2, carryCookies(t, w))
	require.NoError(t, err)
	assert.Equal(t, ceremony.Session.Challenge, got.Session.Challenge)
	assert.Equal(t, ceremony.Session.UserID, got.Session.UserID)
	assert.Equal(t, ceremony.PendingUserID, got.PendingUserID)
}

func TestConsumeCeremonyIsSingleUse(t *testing.T) {
	m := newTestManager(t)

	ceremony := &passkey.Ceremony{
		Session:       webauthn.SessionData{Challenge: "b25jZQ"},
		PendingUserID: "user-1",
	}

	w := httptest.NewRecorder()
	require.NoError(t, m.StashCeremony(w, httptest.NewRequest(http.MethodPost, "/", nil), ceremony))

	w2 := httptest.NewRecorder()
	_, err := m.ConsumeCeremony(w2, carryCookies(t, w))
	require.NoError(t, err)

	// The consume response carries the cleared cookie; presenting it again
	// must find no pending challenge.
	w3 := httptest.NewRecorder()
	_, err = m.ConsumeCeremony(w3, carryCookies(t, w2))
	assert.ErrorIs(t, err, passkey.ErrNoChallenge)
}

func TestConsumeCeremonyEmpty(t *testing.T) {
	m := newTestManager(t)

	w := httptest.NewRecorder()
	_, err := m.ConsumeCeremony(w, httptest.NewRequest(http.MethodPost, "/", nil))
	assert.ErrorIs(t, err, passkey.ErrNoChallenge)
}

func TestStashCeremonyReplacesPending(t *testing.T) {
	m := newTestManager(t)

	first := &passkey.Ceremony{Session: webauthn.SessionData{Challenge: "Zmlyc3Q"}}
	second := &passkey.Ceremony{Session: webauthn.SessionData{Challenge: "c2Vjb25k"}}

	w := httptest.NewRecorder()
	require.NoError(t, m.StashCeremony(w, httptest.NewRequest(http.MethodPost, "/", nil), first))

	w2 := httptest.NewRecorder()
	require.NoError(t, m.StashCeremony(w2, carryCookies(t, w), second))

	w3 := httptest.NewRecorder()
	got, err := m.ConsumeCeremony(w3, carryCookies(t, w2))
	require.NoError(t, err)
	assert.Equal(t, "c2Vjb25k", got.Session.Challenge)
}

func TestAuthenticate(t *testing.T) {
	m := newTestManager(t)

	anon := httptest.NewRequest(http.MethodGet, "/", nil)
	_, err := m.CurrentUserID(anon)
	assert.ErrorIs(t, err, ErrNotAuthenticated)
	assert.False(t, m.IsAuthenticated(anon))

	w := httptest.NewRecorder()
	require.NoError(t, m.Authenticate(w, anon, "user-1"))

	authed := carryCookies(t, w)
	userID, err := m.CurrentUserID(authed)
	require.NoError(t, err)
	assert.Equal(t, "user-1", userID)
	assert.True(t, m.IsAuthenticated(authed))
}

func TestLogout(t *testing.T) {
	m := newTestManager(t)

	w := httptest.NewRecorder()
	require.NoError(t, m.Authenticate(w, httptest.NewRequest(http.MethodPost, "/", nil), "user-1"))

	w2 := httptest.NewRecorder()
	require.NoError(t, m.Logout(w2, carryCookies(t, w)))

	// A maxed-out cookie deletion still produces a Set-Cookie header; what
	// matters is that the cleared session carries no user.
	_, err := m.CurrentUserID(carryCookies(t, w2))
	assert.ErrorIs(t, err, ErrNotAuthenticated)
}

func TestLogoutClearsPendingCeremony(t *testing.T) {
	m := newTestManager(t)

	ceremony := &passkey.Ceremony{
		Session:       webauthn.SessionData{Challenge: "cGVuZGluZw"},
		PendingUserID: "user-1",
	}

	w := httptest.NewRecorder()
	require.NoError(t, m.StashCeremony(w, httptest.NewRequest(http.MethodPost, "/", nil), ceremony))

	w2 := httptest.NewRecorder()
	require.NoError(t, m.Logout(w2, carryCookies(t, w)))

	// Logout tears down the whole session, so a challenge issued before it
	// must not be redeemable afterwards.
	w3 := httptest.NewRecorder()
	_, err := m.ConsumeCeremony(w3, carryCookies(t, w2))
	assert.ErrorIs(t, err, passkey.ErrNoChallenge)
}

func TestAuthenticatePreservesPendingCeremony(t *testing.T) {
	m := newTestManager(t)

	ceremony := &passkey.Ceremony{Session: webauthn.SessionData{Challenge: "a2VlcA"}}

	w := httptest.NewRecorder()
	require.NoError(t, m.StashCeremony(w, httptest.NewRequest(http.MethodPost, "/", nil), ceremony))

	w2 := httptest.NewRecorder()
	require.NoError(t, m.Authenticate(w2, carryCookies(t, w), "user-1"))

	w3 := httptest.NewRecorder()
	got, err := m.ConsumeCeremony(w3, carryCookies(t, w2))
	require.NoError(t, err)
	assert.Equal(t, "a2VlcA", got.Session.Challenge)
	assert.True(t, m.IsAuthenticated(carryCookies(t, w2)))
}
