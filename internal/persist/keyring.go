// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 KindBridge Contributors

package persist

import (
	"context"
	"errors"

	kberr "github.com/kindbridge/kindbridge/pkg/errors"
	"github.com/zalando/go-keyring"
)

// KeyringStore implements Store on the OS keyring via zalando/go-keyring.
// On macOS it uses Keychain, on Linux secret-service (D-Bus), and on Windows
// the Credential Manager. The session record and tokens never touch disk in
// plaintext with this backend.
type KeyringStore struct {
	service string
}

// NewKeyringStore returns a KeyringStore scoped to the given service name.
func NewKeyringStore(service string) (*KeyringStore, error) {
	if service == "" {
		return nil, kberr.New(kberr.CodePersistInvalidInput, "keyring store: service must not be empty")
	}
	return &KeyringStore{service: service}, nil
}

func (s *KeyringStore) Get(_ context.Context, key string) (string, error) {
	if key == "" {
		return "", kberr.New(kberr.CodePersistInvalidInput, "persist get: key must not be empty")
	}

	val, err := keyring.Get(s.service, key)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return "", kberr.Errorf(kberr.CodePersistKeyNotFound, "key %s not found", key)
		}
		return "", kberr.Wrapf(err, kberr.CodePersistReadFailure, "reading %s/%s", s.service, key)
	}
	return val, nil
}

func (s *KeyringStore) Set(_ context.Context, key, value string) error {
	if key == "" {
		return kberr.New(kberr.CodePersistInvalidInput, "persist set: key must not be empty")
	}

	if err := keyring.Set(s.service, key, value); err != nil {
		return kberr.Wrapf(err, kberr.CodePersistWriteFailure, "writing %s/%s", s.service, key)
	}
	return nil
}

func (s *KeyringStore) Delete(_ context.Context, key string) error {
	if key == "" {
		return kberr.New(kberr.CodePersistInvalidInput, "persist delete: key must not be empty")
	}

	if err := keyring.Delete(s.service, key); err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return kberr.Errorf(kberr.CodePersistKeyNotFound, "key %s not found", key)
		}
		return kberr.Wrapf(err, kberr.CodePersistDeleteFailure, "deleting %s/%s", s.service, key)
	}
	return nil
}
