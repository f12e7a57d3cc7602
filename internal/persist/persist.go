// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 KindBridge Contributors

// Package persist is the local persistence adapter: atomic key/value
// read-write-remove over an on-device store. There are no transactions
// across keys; callers must tolerate a crash landing between two related
// writes.
package persist

import (
	"context"

	kberr "github.com/kindbridge/kindbridge/pkg/errors"
)

// Well-known session keys.
const (
	// KeyCurrentUser holds the serialized principal record.
	KeyCurrentUser = "current_user"
	// KeyGuestMode is a legacy boolean flag, superseded by in-memory-only
	// guest state. Still purged on sign-out.
	KeyGuestMode = "guest_mode"
	// KeyAuthMode holds the auth mode tag: guest, demo, or real.
	KeyAuthMode = "auth_mode"
	// KeyProviderUserID marks the session as provider-originated. Its
	// presence is what allows a provider sign-out event to clear the session.
	KeyProviderUserID = "provider_user_id"
	// KeyAuthToken holds the last issued token for a real session, so
	// restoration can fall back to it when the provider is unreachable.
	KeyAuthToken = "auth_token"

	// Staging keys written by out-of-band login redirect flows and consumed
	// (then deleted) by the first CheckAuthStatus that sees them.
	KeyLoginSuccessFlag = "login_success_flag"
	KeyStagedLoginUser  = "staged_login_user"
	KeyStagedLoginToken = "staged_login_token"
)

// SessionKeys lists every key the engine owns. SignOut purges all of them.
var SessionKeys = []string{
	KeyCurrentUser,
	KeyGuestMode,
	KeyAuthMode,
	KeyProviderUserID,
	KeyAuthToken,
	KeyLoginSuccessFlag,
	KeyStagedLoginUser,
	KeyStagedLoginToken,
}

// Store provides atomic single-key persistence operations.
// Implementations may use the OS keyring, SQLite, or an in-memory map.
type Store interface {
	// Get fetches the value for key. Returns an error with code
	// persist.key.not_found if the key does not exist.
	Get(ctx context.Context, key string) (string, error)

	// Set stores value under key, replacing any previous value.
	Set(ctx context.Context, key, value string) error

	// Delete removes key. Returns an error with code persist.key.not_found
	// if the key does not exist.
	Delete(ctx context.Context, key string) error
}

// DeleteAll removes every given key from s, ignoring not-found, and joins
// any remaining errors. Used by sign-out and purge paths where missing keys
// are expected.
func DeleteAll(ctx context.Context, s Store, keys ...string) error {
	var errs []error
	for _, key := range keys {
		if err := s.Delete(ctx, key); err != nil && !kberr.IsNotFound(err) {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return kberr.Join(errs...)
	}
	return nil
}
