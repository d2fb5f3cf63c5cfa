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
	"errors"
	"fmt"
)

// Sentinel errors for passkey ceremony operations.
var (
	// ErrUsernameRequired is returned when a ceremony begins with an empty username.
	ErrUsernameRequired = errors.New("username is required")

	// ErrUsernameTaken is returned when creating a user whose username already exists.
	ErrUsernameTaken = errors.New("username already taken")

	// ErrUserNotFound is returned when a user cannot be found.
	ErrUserNotFound = errors.New("user not found")

	// ErrCredentialNotFound is returned when a credential cannot be found.
	ErrCredentialNotFound = errors.New("credential not registered")

	// ErrMissingCredentialID is returned when an assertion response carries no
	// credential identifier.
	ErrMissingCredentialID = errors.New("credential ID missing from response")

	// ErrNoChallenge is returned when a finish call arrives with no pending
	// challenge, either because begin was never called or because the
	// challenge was already consumed.
	ErrNoChallenge = errors.New("no pending challenge")

	// ErrVerificationFailed is returned when the cryptographic engine rejects
	// an attestation or assertion response.
	ErrVerificationFailed = errors.New("verification failed")

	// ErrClonedAuthenticator is returned when the signature counter fails to
	// advance past a previously nonzero value.
	ErrClonedAuthenticator = errors.New("cloned authenticator detected")

	// ErrStorage is returned when the persistence layer fails.
	ErrStorage = errors.New("storage failure")

	// ErrVerifiedNotSaved is returned when a response verified successfully
	// but the credential write failed. Callers must not report plain success.
	ErrVerifiedNotSaved = errors.New("credential verified but not saved")

	// ErrNotConfigured is returned when the service is not properly configured.
	ErrNotConfigured = errors.New("passkey service not configured")
)

// CeremonyError wraps an error with the operation that produced it.
type CeremonyError struct {
	Op  string // Operation that failed
	Err error  // Underlying error
}

// Error returns the error message.
func (e *CeremonyError) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return e.Err.Error()
}

// Unwrap returns the underlying error.
func (e *CeremonyError) Unwrap() error {
	return e.Err
}

// Is reports whether the target error matches.
func (e *CeremonyError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewError creates a new CeremonyError with the given operation and error.
func NewError(op string, err error) error {
	return &CeremonyError{
		Op:  op,
		Err: err,
	}
}

// WrapError wraps an error with an operation name if it's not nil.
func WrapError(op string, err error) error {
	if err == nil {
		return nil
	}
	return NewError(op, err)
}

// IsUserNotFound returns true if the error indicates a user was not found.
func IsUserNotFound(err error) bool {
	return errors.Is(err, ErrUserNotFound)
}

// IsCredentialNotFound returns true if the error indicates a credential was not found.
func IsCredentialNotFound(err error) bool {
	return errors.Is(err, ErrCredentialNotFound)
}

// IsNoChallenge returns true if the error indicates no pending challenge.
func IsNoChallenge(err error) bool {
	return errors.Is(err, ErrNoChallenge)
}

// IsVerificationFailed returns true if the error indicates verification failed.
func IsVerificationFailed(err error) bool {
	return errors.Is(err, ErrVerificationFailed)
}

// IsClonedAuthenticator returns true if the error indicates a signature
// counter regression.
func IsClonedAuthenticator(err error) bool {
	return errors.Is(err, ErrClonedAuthenticator)
}
