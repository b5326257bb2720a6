// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Pagewarden Contributors

package main

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/sigil-dev/pagewarden/internal/config"
	"github.com/sigil-dev/pagewarden/internal/provider"
	"github.com/sigil-dev/pagewarden/internal/secrets"
	"github.com/sigil-dev/pagewarden/internal/tools"
	pwerr "github.com/sigil-dev/pagewarden/pkg/errors"
)

// result is what one CLI invocation produced.
type result struct {
	stdout string
	stderr string
	err    error
}

// execute runs the root command with args and stdin in an isolated home
// directory so no real config file is discovered.
func execute(t *testing.T, stdin string, args ...string) result {
	t.Helper()
	root := NewRootCmd()
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(args)
	err := root.Execute()
	return result{stdout: out.String(), stderr: errOut.String(), err: err}
}

// isolate points HOME at a temp dir and swaps the keyring for memory.
func isolate(t *testing.T) (home string, keyring *memSecretStore) {
	t.Helper()
	home = t.TempDir()
	t.Setenv("HOME", home)
	t.Chdir(home)

	keyring = newMemSecretStore()
	old := secretStoreFactory
	secretStoreFactory = func() secrets.Store { return keyring }
	t.Cleanup(func() { secretStoreFactory = old })
	return home, keyring
}

// memSecretStore is an in-memory secrets.Store keyed by service/key.
type memSecretStore struct {
	mu   sync.Mutex
	data map[string]string
}

func newMemSecretStore() *memSecretStore {
	return &memSecretStore{data: make(map[string]string)}
}

func (m *memSecretStore) Store(service, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[service+"/"+key] = value
	return nil
}

func (m *memSecretStore) Retrieve(service, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[service+"/"+key]
	if !ok {
		return "", pwerr.New(pwerr.CodeSecretNotFound, "not found")
	}
	return v, nil
}

func (m *memSecretStore) Delete(service, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.data[service+"/"+key]; !ok {
		return pwerr.New(pwerr.CodeSecretNotFound, "not found")
	}
	delete(m.data, service+"/"+key)
	return nil
}

// scriptedProvider streams the same text answer for every chat call.
type scriptedProvider struct {
	answer string

	mu    sync.Mutex
	calls int
}

func (p *scriptedProvider) Name() string                   { return "scripted" }
func (p *scriptedProvider) Available(context.Context) bool { return true }
func (p *scriptedProvider) Close() error                   { return nil }

func (p *scriptedProvider) Chat(_ context.Context, _ provider.ChatRequest) (<-chan provider.ChatEvent, error) {
	p.mu.Lock()
	p.calls++
	p.mu.Unlock()

	ch := make(chan provider.ChatEvent, 3)
	ch <- provider.ChatEvent{Type: provider.EventTypeTextDelta, Text: p.answer}
	ch <- provider.ChatEvent{Type: provider.EventTypeUsage, Usage: &provider.Usage{InputTokens: 12, OutputTokens: 8}}
	ch <- provider.ChatEvent{Type: provider.EventTypeDone}
	close(ch)
	return ch, nil
}

// fakeHost is a one-tab browser showing a shop's opening hours.
type fakeHost struct {
	mu       sync.Mutex
	opened   []string
	shutdown bool
	hooks    TabHooks
}

func (h *fakeHost) Open(_ context.Context, url string) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.opened = append(h.opened, url)
	return "tab-1", nil
}

func (h *fakeHost) Page(context.Context, string) (tools.Page, error) {
	return tools.Page{URL: "https://shop.example/hours", Title: "Hours"}, nil
}

func (h *fakeHost) Invoke(_ context.Context, _ string, req tools.HostRequest) (tools.HostResponse, error) {
	if req.Command == tools.CommandReadContent {
		return tools.HostResponse{Content: "Open Monday to Saturday 9-18. Closed on Sunday.", URL: "https://shop.example/hours"}, nil
	}
	return tools.HostResponse{Content: "ok"}, nil
}

func (h *fakeHost) Shutdown() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.shutdown = true
	return nil
}

// withFakes replaces the browser and the ollama backend for one test.
func withFakes(t *testing.T, answer string) (*fakeHost, *scriptedProvider) {
	t.Helper()
	host := &fakeHost{}
	prov := &scriptedProvider{answer: answer}

	oldHost := hostFactory
	hostFactory = func(_ context.Context, _ *config.Config, hooks TabHooks) (Host, error) {
		host.mu.Lock()
		host.hooks = hooks
		host.mu.Unlock()
		return host, nil
	}
	oldFactory := providerFactories[config.ProviderTypeOllama]
	providerFactories[config.ProviderTypeOllama] = func(string, config.ProviderConfig) (provider.Provider, error) {
		return prov, nil
	}
	t.Cleanup(func() {
		hostFactory = oldHost
		providerFactories[config.ProviderTypeOllama] = oldFactory
	})
	return host, prov
}
