// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Pagewarden Contributors

package secrets

import (
	"errors"
	"log/slog"
	"strings"

	pwerr "github.com/sigil-dev/pagewarden/pkg/errors"
	"github.com/spf13/viper"
)

const keyringScheme = "keyring://"

// IsKeyringURI reports whether value uses the keyring:// URI scheme.
func IsKeyringURI(value string) bool {
	return strings.HasPrefix(value, keyringScheme)
}

// ParseKeyringURI extracts service and key from a keyring://service/key URI.
func ParseKeyringURI(uri string) (service, key string, err error) {
	if !IsKeyringURI(uri) {
		return "", "", pwerr.Errorf(pwerr.CodeSecretInvalidInput, "not a keyring URI: %q", uri)
	}

	service, key, ok := strings.Cut(strings.TrimPrefix(uri, keyringScheme), "/")
	if !ok || service == "" || key == "" {
		return "", "", pwerr.Errorf(pwerr.CodeSecretInvalidInput,
			"invalid keyring URI %q: expected keyring://service/key", uri)
	}

	return service, key, nil
}

// ResolveKeyringURI resolves a keyring:// URI to its secret value.
// Any other value is returned unchanged.
func ResolveKeyringURI(store Store, value string) (string, error) {
	if !IsKeyringURI(value) {
		return value, nil
	}

	service, key, err := ParseKeyringURI(value)
	if err != nil {
		return "", err
	}

	secret, err := store.Retrieve(service, key)
	if err != nil {
		return "", pwerr.Wrapf(err, pwerr.CodeSecretResolveFailure, "resolving keyring URI %q", value)
	}

	return secret, nil
}

// ResolveViperSecrets replaces keyring:// values in v with the secrets they
// reference. Every key is attempted; the returned error names each config
// key that could not be resolved.
func ResolveViperSecrets(v *viper.Viper, store Store) error {
	var errs []error
	for _, key := range v.AllKeys() {
		val := v.GetString(key)
		if !IsKeyringURI(val) {
			continue
		}

		resolved, err := ResolveKeyringURI(store, val)
		if err != nil {
			slog.Warn("failed to resolve keyring URI", "config_key", key, "error", err)
			errs = append(errs, pwerr.Wrapf(err, pwerr.CodeSecretResolveFailure, "config key %s", key))
			continue
		}

		v.Set(key, resolved)
	}

	if len(errs) > 0 {
		return pwerr.Errorf(pwerr.CodeSecretResolveFailure, "resolving secrets: %w", errors.Join(errs...))
	}
	return nil
}
