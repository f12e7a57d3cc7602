// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 KindBridge Contributors

package persist

import (
	"context"
	"sync"

	kberr "github.com/kindbridge/kindbridge/pkg/errors"
)

// MemoryStore is an in-process Store. Sessions written to it do not survive
// a restart, which is exactly what tests and ephemeral environments want.
type MemoryStore struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{values: make(map[string]string)}
}

func (s *MemoryStore) Get(_ context.Context, key string) (string, error) {
	if key == "" {
		return "", kberr.New(kberr.CodePersistInvalidInput, "persist get: key must not be empty")
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	val, ok := s.values[key]
	if !ok {
		return "", kberr.Errorf(kberr.CodePersistKeyNotFound, "key %s not found", key)
	}
	return val, nil
}

func (s *MemoryStore) Set(_ context.Context, key, value string) error {
	if key == "" {
		return kberr.New(kberr.CodePersistInvalidInput, "persist set: key must not be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.values[key] = value
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	if key == "" {
		return kberr.New(kberr.CodePersistInvalidInput, "persist delete: key must not be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.values[key]; !ok {
		return kberr.Errorf(kberr.CodePersistKeyNotFound, "key %s not found", key)
	}
	delete(s.values, key)
	return nil
}

// Keys returns the stored key names. Test helper.
func (s *MemoryStore) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]string, 0, len(s.values))
	for k := range s.values {
		keys = append(keys, k)
	}
	return keys
}
