// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Pagewarden Contributors

package sqlite

import (
	"path/filepath"

	"github.com/sigil-dev/pagewarden/internal/store"
)

func init() {
	store.RegisterBackend("sqlite", func(dataPath string) (store.DocumentStore, error) {
		return New(filepath.Join(dataPath, "pagewarden.db"))
	})
}
