// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Pagewarden Contributors

package provider

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	pwerr "github.com/sigil-dev/pagewarden/pkg/errors"
	"github.com/sigil-dev/pagewarden/pkg/health"
)

// Backend is one configured LLM backend.
type Backend struct {
	Name     string
	Provider Provider
	Model    string
	Location Location
	// NativeTools is false for content-only backends; they always get the
	// textual tool catalog instead of structured schemas.
	NativeTools bool
	MaxTokens   int
}

// Reply is the gateway's answer to one chat turn.
type Reply struct {
	Content   string
	ToolCalls []ToolCall
	Location  Location
	Usage     Usage
	// Fallback is true when tool calls were requested through the textual catalog.
	Fallback bool
}

// Gateway issues chat calls against a single active backend.
type Gateway struct {
	backend Backend
	parser  ToolCallParser
	health  *HealthTracker
	timeout time.Duration
	logger  *slog.Logger
}

// GatewayOption configures a Gateway.
type GatewayOption func(*Gateway)

// WithParser replaces the textual tool-call parser.
func WithParser(p ToolCallParser) GatewayOption {
	return func(g *Gateway) { g.parser = p }
}

// WithTimeout bounds every backend call.
func WithTimeout(d time.Duration) GatewayOption {
	return func(g *Gateway) { g.timeout = d }
}

// WithLogger sets the gateway logger.
func WithLogger(l *slog.Logger) GatewayOption {
	return func(g *Gateway) { g.logger = l }
}

// NewGateway creates a Gateway for backend.
func NewGateway(backend Backend, opts ...GatewayOption) (*Gateway, error) {
	if backend.Provider == nil {
		return nil, pwerr.New(pwerr.CodeProviderRequestInvalid, "gateway: backend has no provider",
			pwerr.FieldProvider(backend.Name))
	}
	if backend.Location != LocationLocal && backend.Location != LocationCloud {
		return nil, pwerr.Errorf(pwerr.CodeProviderRequestInvalid, "gateway: unknown location %q", backend.Location)
	}

	tracker, err := NewHealthTracker(DefaultHealthCooldown)
	if err != nil {
		return nil, err
	}

	g := &Gateway{
		backend: backend,
		parser:  TextProtocol{},
		health:  tracker,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// Location is the processing location of the active backend.
func (g *Gateway) Location() Location { return g.backend.Location }

// BackendName is the configured name of the active backend.
func (g *Gateway) BackendName() string { return g.backend.Name }

// Health reports the active backend's health.
func (g *Gateway) Health() health.Metrics { return g.health.Metrics() }

// Close releases the backend.
func (g *Gateway) Close() error { return g.backend.Provider.Close() }

// Chat sends messages to the active backend. Leading system messages become
// the system prompt. When tools are given and the backend rejects them, the
// same turn is retried once with the textual catalog.
func (g *Gateway) Chat(ctx context.Context, messages []Message, tools []ToolDefinition) (*Reply, error) {
	system, rest := splitSystem(messages)

	req := ChatRequest{
		Model:        g.backend.Model,
		Messages:     rest,
		SystemPrompt: system,
		Options:      ChatOptions{MaxTokens: g.backend.MaxTokens},
	}

	if len(tools) == 0 {
		resp, err := g.call(ctx, req)
		if err != nil {
			return nil, err
		}
		return g.reply(resp, false), nil
	}

	if g.backend.NativeTools {
		req.Tools = tools
		resp, err := g.call(ctx, req)
		if err == nil {
			return g.reply(resp, false), nil
		}
		if !rejectsTools(err) {
			return nil, err
		}
		g.logger.Warn("backend rejected structured tools, retrying with textual catalog",
			"backend", g.backend.Name,
			"status", StatusCodeOf(err),
			"error", err,
		)
		req.Tools = nil
	}

	req.SystemPrompt = joinPrompt(system, Catalog(tools))
	resp, err := g.call(ctx, req)
	if err != nil {
		return nil, err
	}

	reply := g.reply(resp, true)
	if call, ok := g.parser.Parse(resp.Text); ok {
		call.ID = "call_" + uuid.NewString()
		reply.ToolCalls = []ToolCall{call}
		reply.Content = strings.TrimSpace(resp.Text[:strings.Index(resp.Text, ToolCallMarker)])
	}
	return reply, nil
}

func (g *Gateway) call(ctx context.Context, req ChatRequest) (Response, error) {
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	ch, err := g.backend.Provider.Chat(ctx, req)
	if err != nil {
		g.health.RecordFailure(err)
		return Response{}, pwerr.Wrapf(err, pwerr.CodeProviderUpstreamFailure, "%s: starting chat", g.backend.Name)
	}

	resp, err := Collect(ctx, ch)
	if err != nil {
		g.health.RecordFailure(err)
		return Response{}, pwerr.With(err, pwerr.FieldProvider(g.backend.Name))
	}

	g.health.RecordSuccess()
	return resp, nil
}

func (g *Gateway) reply(resp Response, fallback bool) *Reply {
	return &Reply{
		Content:   resp.Text,
		ToolCalls: resp.ToolCalls,
		Location:  g.backend.Location,
		Usage:     resp.Usage,
		Fallback:  fallback,
	}
}

// rejectsTools reports whether err is a client error other than an auth or
// rate-limit failure, which is how backends refuse structured tool schemas.
func rejectsTools(err error) bool {
	code := StatusCodeOf(err)
	if code < 400 || code >= 500 {
		return false
	}
	switch code {
	case http.StatusUnauthorized, http.StatusForbidden, http.StatusTooManyRequests:
		return false
	}
	return true
}

func splitSystem(messages []Message) (string, []Message) {
	var parts []string
	i := 0
	for ; i < len(messages) && messages[i].Role == MessageRoleSystem; i++ {
		parts = append(parts, messages[i].Content)
	}
	rest := make([]Message, 0, len(messages)-i)
	for _, m := range messages[i:] {
		// Later system messages are folded into user turns; not every backend
		// accepts them mid-conversation.
		if m.Role == MessageRoleSystem {
			m.Role = MessageRoleUser
		}
		rest = append(rest, m)
	}
	return strings.Join(parts, "\n\n"), rest
}

func joinPrompt(base, extra string) string {
	if base == "" {
		return extra
	}
	return base + "\n\n" + extra
}
