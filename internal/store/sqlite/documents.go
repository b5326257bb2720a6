// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Pagewarden Contributors

// Package sqlite implements store.DocumentStore on a single SQLite file.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/sigil-dev/pagewarden/internal/store"
	pwerr "github.com/sigil-dev/pagewarden/pkg/errors"
)

var _ store.DocumentStore = (*Store)(nil)

// Store keeps one row per document key.
type Store struct {
	db *sql.DB
}

// New opens (or creates) a SQLite database at dbPath and initialises the
// documents table.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, pwerr.Wrapf(err, pwerr.CodeStoreDatabaseFailure, "opening sqlite db")
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, pwerr.Wrapf(err, pwerr.CodeStoreDatabaseFailure, "pinging sqlite db")
	}

	if err := migrate(db); err != nil {
		_ = db.Close()
		return nil, pwerr.Wrapf(err, pwerr.CodeStoreDatabaseFailure, "migrating sqlite db")
	}

	return &Store{db: db}, nil
}

func migrate(db *sql.DB) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS documents (
	key        TEXT PRIMARY KEY,
	body       BLOB NOT NULL,
	updated_at TEXT NOT NULL
);
`
	_, err := db.Exec(ddl)
	return err
}

func (s *Store) Put(ctx context.Context, key string, data []byte) error {
	if err := store.ValidateKey(key); err != nil {
		return err
	}

	const q = `
INSERT INTO documents (key, body, updated_at) VALUES (?, ?, ?)
ON CONFLICT(key) DO UPDATE SET body = excluded.body, updated_at = excluded.updated_at`

	if _, err := s.db.ExecContext(ctx, q, key, data, time.Now().UTC().Format(time.RFC3339Nano)); err != nil {
		return pwerr.Wrapf(err, pwerr.CodeStoreDatabaseFailure, "writing document %q", key)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	if err := store.ValidateKey(key); err != nil {
		return nil, err
	}

	var body []byte
	err := s.db.QueryRowContext(ctx, `SELECT body FROM documents WHERE key = ?`, key).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.NotFound(key)
	}
	if err != nil {
		return nil, pwerr.Wrapf(err, pwerr.CodeStoreDatabaseFailure, "reading document %q", key)
	}
	return body, nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	if err := store.ValidateKey(key); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE key = ?`, key); err != nil {
		return pwerr.Wrapf(err, pwerr.CodeStoreDatabaseFailure, "deleting document %q", key)
	}
	return nil
}

func (s *Store) Close() error { return s.db.Close() }
