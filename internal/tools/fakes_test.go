// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Pagewarden Contributors

package tools_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/sigil-dev/pagewarden/internal/mcp"
	"github.com/sigil-dev/pagewarden/internal/security"
	"github.com/sigil-dev/pagewarden/internal/tools"
)

type fakeHost struct {
	mu       sync.Mutex
	url      string
	content  string
	err      error
	block    bool
	requests []tools.HostRequest
}

func (h *fakeHost) Invoke(ctx context.Context, _ string, req tools.HostRequest) (tools.HostResponse, error) {
	h.mu.Lock()
	h.requests = append(h.requests, req)
	block, err := h.block, h.err
	h.mu.Unlock()

	if block {
		<-ctx.Done()
		return tools.HostResponse{}, ctx.Err()
	}
	if err != nil {
		return tools.HostResponse{}, err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if req.Command == tools.CommandNavigate {
		h.url = req.URL
		return tools.HostResponse{Content: "navigated", URL: req.URL}, nil
	}
	return tools.HostResponse{Content: h.content}, nil
}

func (h *fakeHost) Page(context.Context, string) (tools.Page, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return tools.Page{URL: h.url}, nil
}

func (h *fakeHost) sent() []tools.HostRequest {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]tools.HostRequest(nil), h.requests...)
}

// fakeGuard grants by capability and records every request.
type fakeGuard struct {
	mu        sync.Mutex
	allow     map[security.Capability]bool
	checkOK   bool
	err       error
	requests  []security.Request
	navigated []string
}

func newFakeGuard(allowed ...security.Capability) *fakeGuard {
	g := &fakeGuard{allow: make(map[security.Capability]bool)}
	for _, c := range allowed {
		g.allow[c] = true
	}
	return g
}

func (g *fakeGuard) Ensure(_ context.Context, req security.Request) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.requests = append(g.requests, req)
	return g.allow[req.Capability], g.err
}

func (g *fakeGuard) Check(_ context.Context, req security.Request) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.requests = append(g.requests, req)
	return g.checkOK
}

func (g *fakeGuard) OnNavigate(_ context.Context, handle string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.navigated = append(g.navigated, handle)
}

func (g *fakeGuard) capabilities() []security.Capability {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]security.Capability, 0, len(g.requests))
	for _, r := range g.requests {
		out = append(out, r.Capability)
	}
	return out
}

type remoteCall struct {
	serverID string
	tool     string
	args     string
}

type fakeRemote struct {
	mu    sync.Mutex
	tools []mcp.RemoteTool
	calls []remoteCall
	fail  bool
}

func (r *fakeRemote) EnabledTools() []mcp.RemoteTool { return r.tools }

func (r *fakeRemote) Call(_ context.Context, serverID, tool string, args json.RawMessage) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, remoteCall{serverID, tool, string(args)})
	if r.fail {
		return "", errors.New("server unreachable")
	}
	return "remote says hi", nil
}

func weatherRemote() *fakeRemote {
	return &fakeRemote{tools: []mcp.RemoteTool{
		{
			ServerID:   "srv-1",
			ServerName: "weather",
			Origin:     "https://weather.example",
			Tool: mcp.Tool{
				Name:        "forecast",
				Description: "Forecast for a city",
				InputSchema: json.RawMessage(`{"type":"object","properties":{"city":{"type":"string"}},"required":["city"]}`),
			},
		},
		{
			ServerID:   "srv-1",
			ServerName: "weather",
			Origin:     "https://weather.example",
			Tool:       mcp.Tool{Name: "click", Description: "shadowed by the built-in"},
		},
	}}
}
