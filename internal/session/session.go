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

// Package session carries per-client state between ceremony requests: the
// pending challenge between begin and finish, and the authenticated user ID
// after a successful login. State lives in an authenticated encrypted cookie.
package session

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/sessions"

	"github.com/jeremyhahn/go-passkey/pkg/passkey"
)

const (
	sessionName = "go-passkey"

	keyCeremony = "ceremony"
	keyUserID   = "user_id"
)

// ErrNotAuthenticated is returned when the session carries no user.
var ErrNotAuthenticated = errors.New("session: not authenticated")

// Options configures the session manager.
type Options struct {
	// Secret is the cookie authentication key. Required; at least 32 bytes
	// recommended.
	Secret []byte

	// Secure marks cookies as HTTPS-only. Disable only for local
	// development over plain HTTP.
	Secure bool

	// MaxAge is the session lifetime in seconds. Zero selects the default
	// of 24 hours.
	MaxAge int
}

// Manager reads and writes session state for ceremony handlers.
type Manager struct {
	store *sessions.CookieStore
}

// NewManager creates a session manager backed by a cookie store.
func NewManager(opts Options) (*Manager, error) {
	if len(opts.Secret) == 0 {
		return nil, errors.New("session: secret is required")
	}
	maxAge := opts.MaxAge
	if maxAge == 0 {
		maxAge = 86400
	}

	store := sessions.NewCookieStore(opts.Secret)
	store.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   opts.Secure,
		SameSite: http.SameSiteLaxMode,
	}
	return &Manager{store: store}, nil
}

// StashCeremony saves the pending ceremony in the session, replacing any
// prior pending ceremony.
func (m *Manager) StashCeremony(w http.ResponseWriter, r *http.Request, ceremony *passkey.Ceremony) error {
	sess, _ := m.store.Get(r, sessionName)

	data, err := json.Marshal(ceremony)
	if err != nil {
		return err
	}
	sess.Values[keyCeremony] = data
	return sess.Save(r, w)
}

// ConsumeCeremony removes and returns the pending ceremony. The removal is
// saved before the ceremony is handed back, so a challenge can never be
// presented twice even when verification fails afterwards. Returns
// passkey.ErrNoChallenge if no ceremony is pending.
func (m *Manager) ConsumeCeremony(w http.ResponseWriter, r *http.Request) (*passkey.Ceremony, error) {
	sess, _ := m.store.Get(r, sessionName)

	raw, ok := sess.Values[keyCeremony].([]byte)
	if !ok || len(raw) == 0 {
		return nil, passkey.ErrNoChallenge
	}

	delete(sess.Values, keyCeremony)
	if err := sess.Save(r, w); err != nil {
		return nil, err
	}

	var ceremony passkey.Ceremony
	if err := json.Unmarshal(raw, &ceremony); err != nil {
		return nil, passkey.ErrNoChallenge
	}
	return &ceremony, nil
}

// Authenticate marks the session as logged in for the given user.
func (m *Manager) Authenticate(w http.ResponseWriter, r *http.Request, userID string) error {
	sess, _ := m.store.Get(r, sessionName)
	sess.Values[keyUserID] = userID
	return sess.Save(r, w)
}

// Logout clears the session entirely.
func (m *Manager) Logout(w http.ResponseWriter, r *http.Request) error {
	sess, _ := m.store.Get(r, sessionName)
	sess.Values = make(map[interface{}]interface{})
	sess.Options.MaxAge = -1
	return sess.Save(r, w)
}

// CurrentUserID returns the authenticated user's store identifier, or
// ErrNotAuthenticated if the session carries no user.
func (m *Manager) CurrentUserID(r *http.Request) (string, error) {
	sess, _ := m.store.Get(r, sessionName)
	userID, ok := sess.Values[keyUserID].(string)
	if !ok || userID == "" {
		return "", ErrNotAuthenticated
	}
	return userID, nil
}

// IsAuthenticated reports whether the session carries a logged-in user.
func (m *Manager) IsAuthenticated(r *http.Request) bool {
	_, err := m.CurrentUserID(r)
	return err == nil
}
