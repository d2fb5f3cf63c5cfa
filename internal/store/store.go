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
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/jeremyhahn/go-passkey/pkg/metrics"
	"github.com/jeremyhahn/go-passkey/pkg/passkey"
)

// Store is a GORM-backed implementation of passkey.Store.
type Store struct {
	db *gorm.DB
}

var _ passkey.Store = (*Store)(nil)

// userModel is the users table. The user handle and all credential key
// material are stored as URL-safe base64 text so rows survive backends
// without clean binary column support.
type userModel struct {
	ID        string `gorm:"primaryKey;size:36"`
	Username  string `gorm:"uniqueIndex;not null;size:255"`
	Handle    string `gorm:"not null"`
	CreatedAt time.Time
}

func (userModel) TableName() string { return "users" }

// credentialModel is the credentials table. CredentialID is the external
// URL-safe base64 identifier and is globally unique.
type credentialModel struct {
	ID              uint   `gorm:"primaryKey;autoIncrement"`
	CredentialID    string `gorm:"uniqueIndex;not null"`
	UserID          string `gorm:"index;not null;size:36"`
	PublicKey       string `gorm:"not null"`
	AttestationType string
	Transports      string
	SignCount       uint32
	BackupEligible  bool
	BackupState     bool
	CreatedAt       time.Time
	LastUsedAt      time.Time
}

func (credentialModel) TableName() string { return "credentials" }

// UserByName retrieves a user by username.
func (s *Store) UserByName(ctx context.Context, username string) (*passkey.User, error) {
	var row userModel
	if err := s.db.WithContext(ctx).Where("username = ?", username).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, passkey.ErrUserNotFound
		}
		return nil, storageError("get user by name", err)
	}
	return row.toUser()
}

// UserByID retrieves a user by store identifier.
func (s *Store) UserByID(ctx context.Context, id string) (*passkey.User, error) {
	var row userModel
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, passkey.ErrUserNotFound
		}
		return nil, storageError("get user by id", err)
	}
	return row.toUser()
}

// CreateUser creates a new user with a freshly generated user handle.
func (s *Store) CreateUser(ctx context.Context, username string) (*passkey.User, error) {
	handle, err := passkey.NewUserHandle()
	if err != nil {
		return nil, storageError("generate user handle", err)
	}

	row := userModel{
		ID:       uuid.NewString(),
		Username: username,
		Handle:   base64.RawURLEncoding.EncodeToString(handle),
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, passkey.ErrUsernameTaken
		}
		return nil, storageError("create user", err)
	}

	return &passkey.User{
		ID:        row.ID,
		Username:  row.Username,
		Handle:    handle,
		CreatedAt: row.CreatedAt,
	}, nil
}

// Credentials retrieves all credentials for a user in creation order.
func (s *Store) Credentials(ctx context.Context, userID string) ([]*passkey.Credential, error) {
	var rows []credentialModel
	if err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("id asc").
		Find(&rows).Error; err != nil {
		return nil, storageError("list credentials", err)
	}

	creds := make([]*passkey.Credential, 0, len(rows))
	for i := range rows {
		cred, err := rows[i].toCredential()
		if err != nil {
			return nil, err
		}
		creds = append(creds, cred)
	}
	return creds, nil
}

// CredentialByEncodedID retrieves a credential by its external identifier.
func (s *Store) CredentialByEncodedID(ctx context.Context, encodedID string) (*passkey.Credential, error) {
	var row credentialModel
	if err := s.db.WithContext(ctx).Where("credential_id = ?", encodedID).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, passkey.ErrCredentialNotFound
		}
		return nil, storageError("get credential", err)
	}
	return row.toCredential()
}

// UpsertCredential inserts the credential, or overwrites the existing row
// with the same external ID in a single conditional write. The original
// creation timestamp survives an overwrite.
func (s *Store) UpsertCredential(ctx context.Context, cred *passkey.Credential) error {
	row := credentialModel{
		CredentialID:    cred.EncodedID(),
		UserID:          cred.UserID,
		PublicKey:       base64.RawURLEncoding.EncodeToString(cred.PublicKey),
		AttestationType: cred.AttestationType,
		Transports:      joinTransports(cred.Transports),
		SignCount:       cred.SignCount,
		BackupEligible:  cred.BackupEligible,
		BackupState:     cred.BackupState,
		CreatedAt:       cred.CreatedAt,
		LastUsedAt:      cred.LastUsedAt,
	}

	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "credential_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"user_id", "public_key", "attestation_type", "transports",
			"sign_count", "backup_eligible", "backup_state", "last_used_at",
		}),
	}).Create(&row).Error
	if err != nil {
		return storageError("upsert credential", err)
	}

	s.publishCredentialCount(ctx)
	return nil
}

// UpdateSignCount writes only the counter and last-used timestamp of the
// credential with the given external ID.
func (s *Store) UpdateSignCount(ctx context.Context, encodedID string, count uint32) error {
	result := s.db.WithContext(ctx).
		Model(&credentialModel{}).
		Where("credential_id = ?", encodedID).
		Updates(map[string]interface{}{
			"sign_count":   count,
			"last_used_at": time.Now().UTC(),
		})
	if result.Error != nil {
		return storageError("update sign count", result.Error)
	}
	if result.RowsAffected == 0 {
		return passkey.ErrCredentialNotFound
	}
	return nil
}

// CredentialCount returns the total number of stored credentials.
func (s *Store) CredentialCount(ctx context.Context) (int64, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&credentialModel{}).Count(&count).Error; err != nil {
		return 0, storageError("count credentials", err)
	}
	return count, nil
}

// publishCredentialCount refreshes the credentials gauge. A count failure
// only leaves the gauge stale, so the error is not propagated.
func (s *Store) publishCredentialCount(ctx context.Context) {
	if count, err := s.CredentialCount(ctx); err == nil {
		metrics.SetCredentialsTotal(float64(count))
	}
}

func (m *userModel) toUser() (*passkey.User, error) {
	handle, err := base64.RawURLEncoding.DecodeString(m.Handle)
	if err != nil {
		return nil, storageError("decode user handle", err)
	}
	return &passkey.User{
		ID:        m.ID,
		Username:  m.Username,
		Handle:    handle,
		CreatedAt: m.CreatedAt,
	}, nil
}

func (m *credentialModel) toCredential() (*passkey.Credential, error) {
	id, err := base64.RawURLEncoding.DecodeString(m.CredentialID)
	if err != nil {
		return nil, storageError("decode credential id", err)
	}
	publicKey, err := base64.RawURLEncoding.DecodeString(m.PublicKey)
	if err != nil {
		return nil, storageError("decode public key", err)
	}
	return &passkey.Credential{
		ID:              id,
		UserID:          m.UserID,
		PublicKey:       publicKey,
		AttestationType: m.AttestationType,
		Transports:      splitTransports(m.Transports),
		SignCount:       m.SignCount,
		BackupEligible:  m.BackupEligible,
		BackupState:     m.BackupState,
		CreatedAt:       m.CreatedAt,
		LastUsedAt:      m.LastUsedAt,
	}, nil
}

func joinTransports(transports []protocol.AuthenticatorTransport) string {
	parts := make([]string, len(transports))
	for i, t := range transports {
		parts[i] = string(t)
	}
	return strings.Join(parts, ",")
}

func splitTransports(s string) []protocol.AuthenticatorTransport {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	transports := make([]protocol.AuthenticatorTransport, len(parts))
	for i, p := range parts {
		transports[i] = protocol.AuthenticatorTransport(p)
	}
	return transports
}

func storageError(op string, err error) error {
	return passkey.NewError(op, fmt.Errorf("%w: %v", passkey.ErrStorage, err))
}
