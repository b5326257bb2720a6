// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Pagewarden Contributors

// Package store persists whole JSON documents by key. Callers always read
// and write a complete document; there are no field-level patches.
package store

import (
	"context"
	"encoding/json"

	pwerr "github.com/sigil-dev/pagewarden/pkg/errors"
)

// Document keys used by pagewarden.
const (
	KeySession    = "session"
	KeyGrants     = "grants"
	KeyMCPServers = "mcp_servers"
)

// DocumentStore reads and replaces whole documents.
type DocumentStore interface {
	// Put replaces the document stored under key.
	Put(ctx context.Context, key string, data []byte) error
	// Get returns the document stored under key, or an error classified
	// as not found.
	Get(ctx context.Context, key string) ([]byte, error)
	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error
	Close() error
}

// Save marshals v and stores it under key.
func Save(ctx context.Context, s DocumentStore, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return pwerr.Wrapf(err, pwerr.CodeStoreDocumentInvalid, "encoding document %q", key)
	}
	return s.Put(ctx, key, data)
}

// Load reads the document under key into v. found is false when the key
// has never been written; v is left untouched in that case.
func Load(ctx context.Context, s DocumentStore, key string, v any) (found bool, err error) {
	data, err := s.Get(ctx, key)
	if pwerr.IsNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return true, pwerr.Wrapf(err, pwerr.CodeStoreDatabaseFailure, "decoding document %q", key)
	}
	return true, nil
}

func validateKey(key string) error {
	if key == "" {
		return pwerr.New(pwerr.CodeStoreDocumentInvalid, "document key must not be empty")
	}
	return nil
}
