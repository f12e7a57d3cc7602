// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 KindBridge Contributors

// Package sqlite provides a file-backed persistence adapter. Import it for
// its registration side effect:
//
//	import _ "github.com/kindbridge/kindbridge/internal/persist/sqlite"
package sqlite

import (
	"context"
	"database/sql"
	"errors"

	_ "github.com/mattn/go-sqlite3"

	"github.com/kindbridge/kindbridge/internal/persist"
	kberr "github.com/kindbridge/kindbridge/pkg/errors"
)

func init() {
	persist.RegisterBackend("sqlite", func(opts persist.Options) (persist.Store, error) {
		return NewStore(opts.SQLitePath)
	})
}

// Compile-time interface check.
var _ persist.Store = (*Store)(nil)

// Store implements persist.Store backed by a single SQLite table. Each
// Set/Delete is its own implicit transaction, which gives the per-key
// atomicity the adapter contract asks for and nothing more.
type Store struct {
	db *sql.DB
}

// NewStore opens (or creates) the database at dbPath and initialises the
// kv table.
func NewStore(dbPath string) (*Store, error) {
	if dbPath == "" {
		return nil, kberr.New(kberr.CodePersistInvalidInput, "sqlite store: path must not be empty")
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, kberr.Wrapf(err, kberr.CodePersistReadFailure, "opening session db %s", dbPath)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, kberr.Wrapf(err, kberr.CodePersistReadFailure, "pinging session db %s", dbPath)
	}

	const ddl = `
CREATE TABLE IF NOT EXISTS kv (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`
	if _, err := db.Exec(ddl); err != nil {
		_ = db.Close()
		return nil, kberr.Wrapf(err, kberr.CodePersistWriteFailure, "migrating session db %s", dbPath)
	}

	return &Store{db: db}, nil
}

func (s *Store) Get(ctx context.Context, key string) (string, error) {
	if key == "" {
		return "", kberr.New(kberr.CodePersistInvalidInput, "persist get: key must not be empty")
	}

	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", kberr.Errorf(kberr.CodePersistKeyNotFound, "key %s not found", key)
		}
		return "", kberr.Wrapf(err, kberr.CodePersistReadFailure, "reading key %s", key)
	}
	return value, nil
}

func (s *Store) Set(ctx context.Context, key, value string) error {
	if key == "" {
		return kberr.New(kberr.CodePersistInvalidInput, "persist set: key must not be empty")
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO kv (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value,
	)
	if err != nil {
		return kberr.Wrapf(err, kberr.CodePersistWriteFailure, "writing key %s", key)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	if key == "" {
		return kberr.New(kberr.CodePersistInvalidInput, "persist delete: key must not be empty")
	}

	res, err := s.db.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, key)
	if err != nil {
		return kberr.Wrapf(err, kberr.CodePersistDeleteFailure, "deleting key %s", key)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return kberr.Wrapf(err, kberr.CodePersistDeleteFailure, "deleting key %s", key)
	}
	if affected == 0 {
		return kberr.Errorf(kberr.CodePersistKeyNotFound, "key %s not found", key)
	}
	return nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}
