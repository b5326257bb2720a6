// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Pagewarden Contributors

package sqlite_test

import (
	"path/filepath"
	"testing"

	"github.com/sigil-dev/pagewarden/internal/store/sqlite"
	"github.com/stretchr/testify/require"
)

// openTestStore opens a store in a fresh temp directory.
func openTestStore(t *testing.T) (*sqlite.Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := sqlite.New(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s, path
}
