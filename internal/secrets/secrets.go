// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Pagewarden Contributors

// Package secrets keeps provider credentials out of the config file.
// Config values of the form keyring://service/key are resolved against a
// Store at load time.
package secrets

// DefaultService is the keyring service used by the CLI.
const DefaultService = "pagewarden"

// Store provides secret storage operations.
type Store interface {
	// Store saves a secret value under the given service and key.
	Store(service, key, value string) error

	// Retrieve fetches the secret value for the given service and key.
	// A missing key yields CodeSecretNotFound.
	Retrieve(service, key string) (string, error)

	// Delete removes the secret for the given service and key.
	// A missing key yields CodeSecretNotFound.
	Delete(service, key string) error
}

// URI returns the keyring:// reference for a key under DefaultService.
func URI(key string) string {
	return keyringScheme + DefaultService + "/" + key
}
