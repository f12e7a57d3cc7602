// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 KindBridge Contributors

package persist

import (
	"sync"

	kberr "github.com/kindbridge/kindbridge/pkg/errors"
)

// Compile-time interface checks.
var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*KeyringStore)(nil)
)

// Options selects and parameterizes a persistence backend.
type Options struct {
	Backend        string
	KeyringService string
	SQLitePath     string
}

// Factory creates a Store from Options.
type Factory func(opts Options) (Store, error)

var (
	factories   = map[string]Factory{}
	factoriesMu sync.RWMutex
)

// RegisterBackend registers a factory for a named persistence backend.
// Backend packages call this from init(). Goroutine-safe.
func RegisterBackend(name string, f Factory) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	factories[name] = f
}

func init() {
	RegisterBackend("memory", func(Options) (Store, error) {
		return NewMemoryStore(), nil
	})
	RegisterBackend("keyring", func(opts Options) (Store, error) {
		return NewKeyringStore(opts.KeyringService)
	})
}

// Open creates the Store selected by opts.Backend, defaulting to keyring.
func Open(opts Options) (Store, error) {
	backend := opts.Backend
	if backend == "" {
		backend = "keyring"
	}

	factoriesMu.RLock()
	factory, ok := factories[backend]
	factoriesMu.RUnlock()
	if !ok {
		return nil, kberr.Errorf(kberr.CodePersistBackendUnknown, "unsupported persistence backend: %q", backend)
	}

	return factory(opts)
}
