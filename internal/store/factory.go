// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Pagewarden Contributors

package store

import (
	"sort"
	"sync"

	pwerr "github.com/sigil-dev/pagewarden/pkg/errors"
)

// Factory opens a DocumentStore rooted at dataPath.
type Factory func(dataPath string) (DocumentStore, error)

var (
	factories   = map[string]Factory{}
	factoriesMu sync.RWMutex
)

func init() {
	RegisterBackend("memory", func(string) (DocumentStore, error) { return NewMemory(), nil })
}

// RegisterBackend registers a named storage backend. Backend packages call
// this from init(). This function is goroutine-safe.
func RegisterBackend(name string, f Factory) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	factories[name] = f
}

// Backends lists the registered backend names.
func Backends() []string {
	factoriesMu.RLock()
	defer factoriesMu.RUnlock()
	names := make([]string, 0, len(factories))
	for n := range factories {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Open creates the store for backend, defaulting to "sqlite".
func Open(backend, dataPath string) (DocumentStore, error) {
	if backend == "" {
		backend = "sqlite"
	}

	factoriesMu.RLock()
	f, ok := factories[backend]
	factoriesMu.RUnlock()
	if !ok {
		return nil, pwerr.Errorf(pwerr.CodeStoreBackendUnsupported, "unsupported storage backend: %q", backend)
	}

	return f(dataPath)
}
