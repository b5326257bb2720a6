// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Pagewarden Contributors

package provider_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sigil-dev/pagewarden/internal/provider"
	pwerr "github.com/sigil-dev/pagewarden/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedProvider replays one scripted event list per Chat call.
type scriptedProvider struct {
	mu       sync.Mutex
	turns    [][]provider.ChatEvent
	requests []provider.ChatRequest
	startErr error
}

func (p *scriptedProvider) Name() string                     { return "scripted" }
func (p *scriptedProvider) Available(_ context.Context) bool { return true }
func (p *scriptedProvider) Close() error                     { return nil }

func (p *scriptedProvider) Chat(_ context.Context, req provider.ChatRequest) (<-chan provider.ChatEvent, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.requests = append(p.requests, req)
	if p.startErr != nil {
		return nil, p.startErr
	}

	var events []provider.ChatEvent
	if len(p.turns) > 0 {
		events = p.turns[0]
		p.turns = p.turns[1:]
	}

	ch := make(chan provider.ChatEvent, len(events)+1)
	for _, ev := range events {
		ch <- ev
	}
	close(ch)
	return ch, nil
}

func (p *scriptedProvider) calls() []provider.ChatRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]provider.ChatRequest(nil), p.requests...)
}

func text(s string) provider.ChatEvent {
	return provider.ChatEvent{Type: provider.EventTypeTextDelta, Text: s}
}

func done() provider.ChatEvent { return provider.ChatEvent{Type: provider.EventTypeDone} }

func failure(status int, msg string) provider.ChatEvent {
	return provider.ChatEvent{Type: provider.EventTypeError, Error: msg, StatusCode: status}
}

var findText = provider.ToolDefinition{
	Name:        "find_text",
	Description: "Find text on the page",
	InputSchema: map[string]any{"type": "object"},
}

func newGateway(t *testing.T, p provider.Provider, native bool, loc provider.Location) *provider.Gateway {
	t.Helper()
	g, err := provider.NewGateway(provider.Backend{
		Name:        "test",
		Provider:    p,
		Model:       "m",
		Location:    loc,
		NativeTools: native,
	})
	require.NoError(t, err)
	return g
}

func TestNewGateway_Validation(t *testing.T) {
	_, err := provider.NewGateway(provider.Backend{Name: "x", Location: provider.LocationLocal})
	assert.True(t, pwerr.HasCode(err, pwerr.CodeProviderRequestInvalid))

	_, err = provider.NewGateway(provider.Backend{Name: "x", Provider: &scriptedProvider{}, Location: "mars"})
	assert.True(t, pwerr.HasCode(err, pwerr.CodeProviderRequestInvalid))
}

func TestGateway_NativeToolCall(t *testing.T) {
	p := &scriptedProvider{turns: [][]provider.ChatEvent{{
		{Type: provider.EventTypeToolCall, ToolCall: &provider.ToolCall{ID: "c1", Name: "find_text", Arguments: `{"query":"x"}`}},
		{Type: provider.EventTypeUsage, Usage: &provider.Usage{InputTokens: 10, OutputTokens: 3}},
		done(),
	}}}
	g := newGateway(t, p, true, provider.LocationCloud)

	reply, err := g.Chat(context.Background(), []provider.Message{
		{Role: provider.MessageRoleSystem, Content: "be brief"},
		{Role: provider.MessageRoleUser, Content: "find x"},
	}, []provider.ToolDefinition{findText})
	require.NoError(t, err)

	require.Len(t, reply.ToolCalls, 1)
	assert.Equal(t, "find_text", reply.ToolCalls[0].Name)
	assert.Equal(t, provider.LocationCloud, reply.Location)
	assert.Equal(t, 13, reply.Usage.Total())
	assert.False(t, reply.Fallback)

	reqs := p.calls()
	require.Len(t, reqs, 1)
	assert.Equal(t, "be brief", reqs[0].SystemPrompt)
	assert.Len(t, reqs[0].Tools, 1)
	require.Len(t, reqs[0].Messages, 1)
	assert.Equal(t, provider.MessageRoleUser, reqs[0].Messages[0].Role)
}

func TestGateway_FallbackOnToolRejection(t *testing.T) {
	p := &scriptedProvider{turns: [][]provider.ChatEvent{
		{failure(400, "tools are not supported by this model")},
		{text(`Checking. TOOL_CALL {"name": "find_text", "arguments": {"query": "price"}}`), done()},
	}}
	g := newGateway(t, p, true, provider.LocationLocal)

	reply, err := g.Chat(context.Background(), []provider.Message{
		{Role: provider.MessageRoleSystem, Content: "base prompt"},
		{Role: provider.MessageRoleUser, Content: "what is the price"},
	}, []provider.ToolDefinition{findText})
	require.NoError(t, err)

	assert.True(t, reply.Fallback)
	assert.Equal(t, "Checking.", reply.Content)
	require.Len(t, reply.ToolCalls, 1)
	assert.Equal(t, "find_text", reply.ToolCalls[0].Name)
	assert.JSONEq(t, `{"query": "price"}`, reply.ToolCalls[0].Arguments)
	assert.NotEmpty(t, reply.ToolCalls[0].ID)

	reqs := p.calls()
	require.Len(t, reqs, 2)
	assert.Len(t, reqs[0].Tools, 1)
	assert.Empty(t, reqs[1].Tools)
	assert.Contains(t, reqs[1].SystemPrompt, "base prompt")
	assert.Contains(t, reqs[1].SystemPrompt, provider.ToolCallMarker)
	assert.Contains(t, reqs[1].SystemPrompt, "find_text")
}

func TestGateway_FallbackWithoutEmbeddedCall(t *testing.T) {
	p := &scriptedProvider{turns: [][]provider.ChatEvent{
		{failure(422, "unknown field tools")},
		{text("The price is 12 euros."), done()},
	}}
	g := newGateway(t, p, true, provider.LocationLocal)

	reply, err := g.Chat(context.Background(), []provider.Message{{Role: provider.MessageRoleUser, Content: "price?"}},
		[]provider.ToolDefinition{findText})
	require.NoError(t, err)
	assert.True(t, reply.Fallback)
	assert.Empty(t, reply.ToolCalls)
	assert.Equal(t, "The price is 12 euros.", reply.Content)
}

func TestGateway_NoFallbackForAuthOrServerErrors(t *testing.T) {
	for _, status := range []int{401, 403, 429, 500, 0} {
		p := &scriptedProvider{turns: [][]provider.ChatEvent{{failure(status, "nope")}}}
		g := newGateway(t, p, true, provider.LocationCloud)

		_, err := g.Chat(context.Background(), []provider.Message{{Role: provider.MessageRoleUser, Content: "hi"}},
			[]provider.ToolDefinition{findText})
		require.Error(t, err, "status %d", status)
		assert.True(t, pwerr.IsUpstreamFailure(err))
		assert.Equal(t, status, provider.StatusCodeOf(err))
		assert.Len(t, p.calls(), 1, "status %d must not be retried", status)
	}
}

func TestGateway_ContentOnlyBackendAlwaysUsesCatalog(t *testing.T) {
	p := &scriptedProvider{turns: [][]provider.ChatEvent{
		{text(`TOOL_CALL {"name": "find_text", "arguments": {"query": "a"}}`), done()},
	}}
	g := newGateway(t, p, false, provider.LocationLocal)

	reply, err := g.Chat(context.Background(), []provider.Message{{Role: provider.MessageRoleUser, Content: "a?"}},
		[]provider.ToolDefinition{findText})
	require.NoError(t, err)

	reqs := p.calls()
	require.Len(t, reqs, 1)
	assert.Empty(t, reqs[0].Tools)
	assert.Contains(t, reqs[0].SystemPrompt, provider.ToolCallMarker)
	require.Len(t, reply.ToolCalls, 1)
	assert.Empty(t, reply.Content)
}

func TestGateway_NoToolsIsPlainChat(t *testing.T) {
	p := &scriptedProvider{turns: [][]provider.ChatEvent{{text("hello "), text("there"), done()}}}
	g := newGateway(t, p, true, provider.LocationLocal)

	reply, err := g.Chat(context.Background(), []provider.Message{{Role: provider.MessageRoleUser, Content: "hi"}}, nil)
	require.NoError(t, err)
	assert.Equal(t, "hello there", reply.Content)
	assert.False(t, reply.Fallback)
	assert.NotContains(t, p.calls()[0].SystemPrompt, provider.ToolCallMarker)
}

func TestGateway_StartErrorRecordsFailure(t *testing.T) {
	p := &scriptedProvider{startErr: errors.New("dial tcp: refused")}
	g := newGateway(t, p, true, provider.LocationCloud)

	_, err := g.Chat(context.Background(), []provider.Message{{Role: provider.MessageRoleUser, Content: "hi"}}, nil)
	require.Error(t, err)

	m := g.Health()
	assert.False(t, m.Available)
	assert.Equal(t, int64(1), m.FailureCount)
}

func TestGateway_MidConversationSystemBecomesUser(t *testing.T) {
	p := &scriptedProvider{turns: [][]provider.ChatEvent{{text("ok"), done()}}}
	g := newGateway(t, p, true, provider.LocationLocal)

	_, err := g.Chat(context.Background(), []provider.Message{
		{Role: provider.MessageRoleUser, Content: "q"},
		{Role: provider.MessageRoleSystem, Content: "late note"},
	}, nil)
	require.NoError(t, err)

	msgs := p.calls()[0].Messages
	require.Len(t, msgs, 2)
	assert.Equal(t, provider.MessageRoleUser, msgs[1].Role)
	assert.Empty(t, p.calls()[0].SystemPrompt)
}

// blockingProvider never produces events until its context ends.
type blockingProvider struct{ scriptedProvider }

func (p *blockingProvider) Chat(ctx context.Context, _ provider.ChatRequest) (<-chan provider.ChatEvent, error) {
	ch := make(chan provider.ChatEvent)
	go func() {
		<-ctx.Done()
		close(ch)
	}()
	return ch, nil
}

func TestGateway_Timeout(t *testing.T) {
	g, err := provider.NewGateway(provider.Backend{
		Name:     "slow",
		Provider: &blockingProvider{},
		Location: provider.LocationLocal,
	}, provider.WithTimeout(20*time.Millisecond))
	require.NoError(t, err)

	_, err = g.Chat(context.Background(), []provider.Message{{Role: provider.MessageRoleUser, Content: "hi"}}, nil)
	require.Error(t, err)
	assert.True(t, pwerr.IsUpstreamFailure(err))
}
