// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 KindBridge Contributors

package sqlite_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/kindbridge/kindbridge/internal/persist"
	"github.com/kindbridge/kindbridge/internal/persist/sqlite"
	kberr "github.com/kindbridge/kindbridge/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	s, err := sqlite.NewStore(filepath.Join(t.TempDir(), "session.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStore_RoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, persist.KeyCurrentUser, `{"id":"u-1"}`))
	require.NoError(t, s.Set(ctx, persist.KeyCurrentUser, `{"id":"u-2"}`), "set replaces existing value")

	val, err := s.Get(ctx, persist.KeyCurrentUser)
	require.NoError(t, err)
	assert.Equal(t, `{"id":"u-2"}`, val)

	require.NoError(t, s.Delete(ctx, persist.KeyCurrentUser))

	_, err = s.Get(ctx, persist.KeyCurrentUser)
	assert.True(t, kberr.IsNotFound(err))
}

func TestStore_DeleteMissingIsNotFound(t *testing.T) {
	s := newTestStore(t)

	err := s.Delete(context.Background(), "nope")
	require.Error(t, err)
	assert.True(t, kberr.HasCode(err, kberr.CodePersistKeyNotFound))
}

func TestStore_SurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "session.db")
	ctx := context.Background()

	s1, err := sqlite.NewStore(path)
	require.NoError(t, err)
	require.NoError(t, s1.Set(ctx, persist.KeyAuthMode, "real"))
	require.NoError(t, s1.Close())

	s2, err := sqlite.NewStore(path)
	require.NoError(t, err)
	defer func() { _ = s2.Close() }()

	val, err := s2.Get(ctx, persist.KeyAuthMode)
	require.NoError(t, err)
	assert.Equal(t, "real", val)
}

func TestOpen_RegistersSQLiteBackend(t *testing.T) {
	s, err := persist.Open(persist.Options{
		Backend:    "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "session.db"),
	})
	require.NoError(t, err)
	assert.IsType(t, &sqlite.Store{}, s)
	_ = s.(*sqlite.Store).Close()
}

func TestNewStore_RequiresPath(t *testing.T) {
	_, err := sqlite.NewStore("")
	require.Error(t, err)
	assert.True(t, kberr.HasCode(err, kberr.CodePersistInvalidInput))
}
