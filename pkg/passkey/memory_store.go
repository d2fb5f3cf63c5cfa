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
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-memory implementation of Store.
// This is intended for development and testing only.
type MemoryStore struct {
	mu      sync.RWMutex
	byID    map[string]*User
	byName  map[string]*User
	creds   map[string]*Credential // keyed by external credential ID
	order   map[string][]string    // user ID -> external credential IDs in creation order
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:   make(map[string]*User),
		byName: make(map[string]*User),
		creds:  make(map[string]*Credential),
		order:  make(map[string][]string),
	}
}

// UserByName retrieves a user by username.
func (s *MemoryStore) UserByName(ctx context.Context, username string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.byName[username]
	if !ok {
		return nil, ErrUserNotFound
	}
	return user, nil
}

// UserByID retrieves a user by store identifier.
func (s *MemoryStore) UserByID(ctx context.Context, id string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.byID[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	return user, nil
}

// CreateUser creates a new user with a freshly generated handle.
func (s *MemoryStore) CreateUser(ctx context.Context, username string) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byName[username]; ok {
		return nil, ErrUsernameTaken
	}

	handle, err := NewUserHandle()
	if err != nil {
		return nil, err
	}

	user := &User{
		ID:        uuid.NewString(),
		Username:  username,
		Handle:    handle,
		CreatedAt: time.Now().UTC(),
	}
	s.byID[user.ID] = user
	s.byName[username] = user

	return user, nil
}

// Credentials retrieves all credentials for a user in creation order.
func (s *MemoryStore) Credentials(ctx context.Context, userID string) ([]*Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.order[userID]
	result := make([]*Credential, 0, len(ids))
	for _, id := range ids {
		if cred, ok := s.creds[id]; ok && cred.UserID == userID {
			result = append(result, cred)
		}
	}
	return result, nil
}

// CredentialByEncodedID retrieves a credential by its external identifier.
func (s *MemoryStore) CredentialByEncodedID(ctx context.Context, encodedID string) (*Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cred, ok := s.creds[encodedID]
	if !ok {
		return nil, ErrCredentialNotFound
	}
	return cred, nil
}

// UpsertCredential inserts the credential or overwrites the row with the
// same external ID, mirroring an ON CONFLICT DO UPDATE write.
func (s *MemoryStore) UpsertCredential(ctx context.Context, cred *Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := cred.EncodedID()
	if prev, ok := s.creds[key]; ok {
		// Keep the original creation time; everything else follows the
		// new registration, including a possible owner change.
		cred.CreatedAt = prev.CreatedAt
		if prev.UserID != cred.UserID {
			s.removeFromOrder(prev.UserID, key)
			s.order[cred.UserID] = append(s.order[cred.UserID], key)
		}
		s.creds[key] = cred
		return nil
	}

	s.creds[key] = cred
	s.order[cred.UserID] = append(s.order[cred.UserID], key)
	return nil
}

// UpdateSignCount writes the counter for the credential with the given
// external ID.
func (s *MemoryStore) UpdateSignCount(ctx context.Context, encodedID string, count uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cred, ok := s.creds[encodedID]
	if !ok {
		return ErrCredentialNotFound
	}
	cred.SignCount = count
	cred.LastUsedAt = time.Now().UTC()
	return nil
}

// CredentialCount returns the total number of credentials in the store.
func (s *MemoryStore) CredentialCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.creds)
}

// UserCount returns the number of users in the store.
func (s *MemoryStore) UserCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID)
}

func (s *MemoryStore) removeFromOrder(userID, encodedID string) {
	ids := s.order[userID]
	for i, id := range ids {
		if id == encodedID {
			s.order[userID] = append(ids[:i], ids[i+1:]...)
			return
		}
	}
}
