// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Pagewarden Contributors

package store

import (
	"errors"

	pwerr "github.com/sigil-dev/pagewarden/pkg/errors"
)

// ErrNotFound is the root cause of every not-found error from a backend.
// Check with errors.Is or pwerr.IsNotFound.
var ErrNotFound = errors.New("document not found")

// NotFound returns the classified error for a missing key.
func NotFound(key string) error {
	return pwerr.Wrap(ErrNotFound, pwerr.CodeStoreDocumentNotFound, "document "+key, pwerr.Field("key", key))
}

// ValidateKey rejects empty document keys. Backends call it before touching storage.
func ValidateKey(key string) error { return validateKey(key) }
