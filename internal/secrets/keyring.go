// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Pagewarden Contributors

package secrets

import (
	"errors"

	pwerr "github.com/sigil-dev/pagewarden/pkg/errors"
	"github.com/zalando/go-keyring"
)

// KeyringStore implements Store on the OS keyring (Keychain, secret-service
// or Credential Manager, depending on platform).
type KeyringStore struct{}

// NewKeyringStore returns a KeyringStore.
func NewKeyringStore() *KeyringStore {
	return &KeyringStore{}
}

func validateRef(op, service, key string) error {
	if service == "" {
		return pwerr.Errorf(pwerr.CodeSecretInvalidInput, "secret %s: service must not be empty", op)
	}
	if key == "" {
		return pwerr.Errorf(pwerr.CodeSecretInvalidInput, "secret %s: key must not be empty", op)
	}
	return nil
}

func (s *KeyringStore) Store(service, key, value string) error {
	if err := validateRef("store", service, key); err != nil {
		return err
	}
	if value == "" {
		return pwerr.New(pwerr.CodeSecretInvalidInput, "secret store: value must not be empty")
	}

	if err := keyring.Set(service, key, value); err != nil {
		return pwerr.Wrapf(err, pwerr.CodeSecretStoreFailure, "storing secret %s/%s", service, key)
	}
	return nil
}

func (s *KeyringStore) Retrieve(service, key string) (string, error) {
	if err := validateRef("retrieve", service, key); err != nil {
		return "", err
	}

	val, err := keyring.Get(service, key)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return "", pwerr.Errorf(pwerr.CodeSecretNotFound, "secret %s/%s not found", service, key)
		}
		return "", pwerr.Wrapf(err, pwerr.CodeSecretStoreFailure, "retrieving secret %s/%s", service, key)
	}
	return val, nil
}

func (s *KeyringStore) Delete(service, key string) error {
	if err := validateRef("delete", service, key); err != nil {
		return err
	}

	if err := keyring.Delete(service, key); err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return pwerr.Errorf(pwerr.CodeSecretNotFound, "secret %s/%s not found", service, key)
		}
		return pwerr.Wrapf(err, pwerr.CodeSecretDeleteFailure, "deleting secret %s/%s", service, key)
	}
	return nil
}
