// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Pagewarden Contributors

package agent_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/sigil-dev/pagewarden/internal/agent"
	"github.com/sigil-dev/pagewarden/internal/ledger"
	"github.com/sigil-dev/pagewarden/internal/mcp"
	"github.com/sigil-dev/pagewarden/internal/provider"
	"github.com/sigil-dev/pagewarden/internal/security"
	"github.com/sigil-dev/pagewarden/internal/security/scanner"
	"github.com/sigil-dev/pagewarden/internal/store"
	"github.com/sigil-dev/pagewarden/internal/tools"
	"github.com/stretchr/testify/require"
)

// turn is one scripted gateway response.
type turn struct {
	reply *provider.Reply
	err   error
	// block waits for the caller's context to end.
	block bool
}

func say(text string) turn {
	return turn{reply: &provider.Reply{Content: text, Usage: provider.Usage{InputTokens: 10, OutputTokens: 5}}}
}

func callTool(name, args string) turn {
	return turn{reply: &provider.Reply{
		ToolCalls: []provider.ToolCall{{ID: "call-" + name, Name: name, Arguments: args}},
		Usage:     provider.Usage{InputTokens: 10, OutputTokens: 5},
	}}
}

type chatCall struct {
	messages []provider.Message
	tools    []provider.ToolDefinition
}

// scriptedGateway replays turns in order, then repeats the last one.
type scriptedGateway struct {
	mu       sync.Mutex
	location provider.Location
	turns    []turn
	calls    []chatCall
}

func newGateway(location provider.Location, turns ...turn) *scriptedGateway {
	return &scriptedGateway{location: location, turns: turns}
}

func (g *scriptedGateway) Chat(ctx context.Context, messages []provider.Message, defs []provider.ToolDefinition) (*provider.Reply, error) {
	g.mu.Lock()
	g.calls = append(g.calls, chatCall{
		messages: append([]provider.Message(nil), messages...),
		tools:    defs,
	})
	i := len(g.calls) - 1
	if i >= len(g.turns) {
		i = len(g.turns) - 1
	}
	t := g.turns[i]
	g.mu.Unlock()

	if t.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if t.err != nil {
		return nil, t.err
	}
	r := *t.reply
	r.Location = g.location
	return &r, nil
}

func (g *scriptedGateway) Location() provider.Location { return g.location }

func (g *scriptedGateway) recorded() []chatCall {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]chatCall(nil), g.calls...)
}

type fakeHost struct {
	mu       sync.Mutex
	url      string
	content  string
	requests []tools.HostRequest
}

func (h *fakeHost) Invoke(_ context.Context, _ string, req tools.HostRequest) (tools.HostResponse, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.requests = append(h.requests, req)
	return tools.HostResponse{Content: h.content}, nil
}

func (h *fakeHost) Page(context.Context, string) (tools.Page, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return tools.Page{URL: h.url}, nil
}

func (h *fakeHost) sent() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.requests)
}

// staticSurface answers every decision the same way.
type staticSurface struct {
	mu       sync.Mutex
	decision security.Decision
	asked    []security.DecisionRequest
}

func (s *staticSurface) Present(_ context.Context, req security.DecisionRequest) (security.Decision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.asked = append(s.asked, req)
	return s.decision, nil
}

type fakeRemote struct {
	tools []mcp.RemoteTool
}

func (r *fakeRemote) EnabledTools() []mcp.RemoteTool { return r.tools }

func (r *fakeRemote) Call(context.Context, string, string, json.RawMessage) (string, error) {
	return "Sunny, 21 degrees.", nil
}

func weatherRemote() *fakeRemote {
	return &fakeRemote{tools: []mcp.RemoteTool{{
		ServerID:   "srv-1",
		ServerName: "weather",
		Origin:     "https://weather.example",
		Tool: mcp.Tool{
			Name:        "forecast",
			Description: "Forecast for a city",
			InputSchema: json.RawMessage(`{"type":"object","properties":{"city":{"type":"string"}},"required":["city"]}`),
		},
	}}}
}

// harness wires a Loop to the real guard, ledger and dispatcher.
type harness struct {
	loop    *agent.Loop
	gateway *scriptedGateway
	host    *fakeHost
	ledger  *ledger.Ledger
	guard   *security.Guard
	surface *staticSurface
	store   *store.Memory
}

type harnessOpt func(*harnessConfig)

type harnessConfig struct {
	cfg     agent.LoopConfig
	surface *staticSurface
	remote  tools.RemoteSource
	content string
}

func withLimits(fn func(*agent.LoopConfig)) harnessOpt {
	return func(h *harnessConfig) { fn(&h.cfg) }
}

func withDecision(d security.Decision) harnessOpt {
	return func(h *harnessConfig) { h.surface.decision = d }
}

func withRemote(r tools.RemoteSource) harnessOpt {
	return func(h *harnessConfig) { h.remote = r }
}

func withPage(content string) harnessOpt {
	return func(h *harnessConfig) { h.content = content }
}

func newHarness(t *testing.T, gw *scriptedGateway, opts ...harnessOpt) *harness {
	t.Helper()

	hc := &harnessConfig{surface: &staticSurface{}}
	for _, opt := range opts {
		opt(hc)
	}

	led := ledger.New(8192, scanner.NewDefault())
	mem := store.NewMemory()
	guard := security.NewGuard(hc.surface,
		security.WithRecorder(led),
		security.WithLocalBackend(func() bool { return gw.Location() == provider.LocationLocal }),
	)
	host := &fakeHost{url: "https://shop.example/hours", content: hc.content}
	d, err := tools.NewDispatcher(tools.NewRegistry(hc.remote), host, guard)
	require.NoError(t, err)

	cfg := hc.cfg
	cfg.Gateway = gw
	cfg.Dispatcher = d
	cfg.Ledger = led
	cfg.Guard = guard
	cfg.Store = mem
	loop, err := agent.NewLoop(cfg)
	require.NoError(t, err)

	return &harness{
		loop:    loop,
		gateway: gw,
		host:    host,
		ledger:  led,
		guard:   guard,
		surface: hc.surface,
		store:   mem,
	}
}

func (h *harness) eventTypes() []ledger.EventType {
	events := h.ledger.Snapshot().Events
	out := make([]ledger.EventType, len(events))
	for i, ev := range events {
		out[i] = ev.Type
	}
	return out
}

func (h *harness) events(typ ledger.EventType) []ledger.AuditEvent {
	var out []ledger.AuditEvent
	for _, ev := range h.ledger.Snapshot().Events {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}
