// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Pagewarden Contributors

package secrets_test

import (
	"testing"

	"github.com/sigil-dev/pagewarden/internal/secrets"
	pwerr "github.com/sigil-dev/pagewarden/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"
)

func init() {
	// Keep tests away from the real OS keyring.
	keyring.MockInit()
}

func TestKeyringStore_StoreRetrieveDelete(t *testing.T) {
	ks := secrets.NewKeyringStore()
	svc := "test-store-retrieve"

	require.NoError(t, ks.Store(svc, "api-key", "sk-secret-123"))

	val, err := ks.Retrieve(svc, "api-key")
	require.NoError(t, err)
	assert.Equal(t, "sk-secret-123", val)

	require.NoError(t, ks.Delete(svc, "api-key"))

	_, err = ks.Retrieve(svc, "api-key")
	assert.True(t, pwerr.HasCode(err, pwerr.CodeSecretNotFound))
}

func TestKeyringStore_Overwrite(t *testing.T) {
	ks := secrets.NewKeyringStore()
	svc := "test-overwrite"

	require.NoError(t, ks.Store(svc, "k", "v1"))
	require.NoError(t, ks.Store(svc, "k", "v2"))

	val, err := ks.Retrieve(svc, "k")
	require.NoError(t, err)
	assert.Equal(t, "v2", val)
}

func TestKeyringStore_DeleteNotFound(t *testing.T) {
	err := secrets.NewKeyringStore().Delete("no-such-service", "no-key")
	require.Error(t, err)
	assert.True(t, pwerr.HasCode(err, pwerr.CodeSecretNotFound))
}

func TestKeyringStore_InvalidInput(t *testing.T) {
	ks := secrets.NewKeyringStore()

	tests := []struct {
		name string
		call func() error
	}{
		{"store empty service", func() error { return ks.Store("", "k", "v") }},
		{"store empty key", func() error { return ks.Store("svc", "", "v") }},
		{"store empty value", func() error { return ks.Store("svc", "k", "") }},
		{"retrieve empty key", func() error { _, err := ks.Retrieve("svc", ""); return err }},
		{"delete empty service", func() error { return ks.Delete("", "k") }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.call()
			require.Error(t, err)
			assert.True(t, pwerr.HasCode(err, pwerr.CodeSecretInvalidInput))
		})
	}
}
