// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Pagewarden Contributors

// Package openai implements the OpenAI-compatible backend. It also serves
// self-hosted endpoints (Ollama, llama.cpp server) that speak the same API.
package openai

import (
	"context"
	"encoding/json"
	"errors"

	openaisdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"
	"github.com/sigil-dev/pagewarden/internal/provider"
	pwerr "github.com/sigil-dev/pagewarden/pkg/errors"
)

// localKeyPlaceholder is sent to self-hosted endpoints that ignore auth.
const localKeyPlaceholder = "pagewarden-local"

// Config holds OpenAI-compatible provider configuration.
type Config struct {
	// Name identifies the backend in logs and errors. Defaults to "openai".
	Name    string
	APIKey  string
	BaseURL string
	// Local allows an empty API key for self-hosted endpoints.
	Local      bool
	MaxRetries int
}

// Provider implements provider.Provider using the Chat Completions API.
type Provider struct {
	client openaisdk.Client
	name   string
}

var _ provider.Provider = (*Provider)(nil)

// New creates a new OpenAI-compatible provider.
func New(cfg Config) (*Provider, error) {
	name := cfg.Name
	if name == "" {
		name = "openai"
	}

	key := cfg.APIKey
	if key == "" {
		if !cfg.Local {
			return nil, pwerr.New(pwerr.CodeProviderRequestInvalid, name+": missing api_key in config",
				pwerr.FieldProvider(name))
		}
		key = localKeyPlaceholder
	}
	if cfg.Local && cfg.BaseURL == "" {
		return nil, pwerr.New(pwerr.CodeProviderRequestInvalid, name+": local backend needs an endpoint",
			pwerr.FieldProvider(name))
	}

	opts := []option.RequestOption{
		option.WithAPIKey(key),
		option.WithMaxRetries(cfg.MaxRetries),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &Provider{client: openaisdk.NewClient(opts...), name: name}, nil
}

func (p *Provider) Name() string { return p.name }

// Available always reports true; reachability is learned from chat calls.
func (p *Provider) Available(_ context.Context) bool { return true }

func (p *Provider) Close() error { return nil }

func (p *Provider) Chat(ctx context.Context, req provider.ChatRequest) (<-chan provider.ChatEvent, error) {
	params, err := buildParams(req)
	if err != nil {
		return nil, err
	}

	eventCh := make(chan provider.ChatEvent, 100)

	go func() {
		defer close(eventCh)
		p.streamChat(ctx, params, eventCh)
	}()

	return eventCh, nil
}

// buildParams converts a provider.ChatRequest into SDK parameters.
func buildParams(req provider.ChatRequest) (openaisdk.ChatCompletionNewParams, error) {
	if req.Model == "" {
		return openaisdk.ChatCompletionNewParams{}, pwerr.New(pwerr.CodeProviderRequestInvalid, "openai: model is required")
	}

	msgs, err := convertMessages(req.Messages, req.SystemPrompt)
	if err != nil {
		return openaisdk.ChatCompletionNewParams{}, err
	}

	params := openaisdk.ChatCompletionNewParams{
		Model:    shared.ChatModel(req.Model),
		Messages: msgs,
		StreamOptions: openaisdk.ChatCompletionStreamOptionsParam{
			IncludeUsage: param.NewOpt(true),
		},
	}

	if req.Options.MaxTokens > 0 {
		params.MaxCompletionTokens = param.NewOpt(int64(req.Options.MaxTokens))
	}
	if req.Options.Temperature != nil {
		params.Temperature = param.NewOpt(float64(*req.Options.Temperature))
	}
	if len(req.Tools) > 0 {
		params.Tools = convertTools(req.Tools)
	}

	return params, nil
}

// convertMessages prepends the system prompt as a system message.
func convertMessages(msgs []provider.Message, systemPrompt string) ([]openaisdk.ChatCompletionMessageParamUnion, error) {
	var result []openaisdk.ChatCompletionMessageParamUnion

	if systemPrompt != "" {
		result = append(result, openaisdk.SystemMessage(systemPrompt))
	}

	for _, msg := range msgs {
		switch msg.Role {
		case provider.MessageRoleUser:
			result = append(result, openaisdk.UserMessage(msg.Content))
		case provider.MessageRoleAssistant:
			result = append(result, openaisdk.AssistantMessage(msg.Content))
		case provider.MessageRoleSystem:
			result = append(result, openaisdk.SystemMessage(msg.Content))
		default:
			return nil, pwerr.Errorf(pwerr.CodeProviderRequestInvalid, "openai: unsupported message role %q", msg.Role)
		}
	}

	return result, nil
}

func convertTools(tools []provider.ToolDefinition) []openaisdk.ChatCompletionToolParam {
	result := make([]openaisdk.ChatCompletionToolParam, 0, len(tools))
	for _, t := range tools {
		result = append(result, openaisdk.ChatCompletionToolParam{
			Function: shared.FunctionDefinitionParam{
				Name:        t.Name,
				Description: param.NewOpt(t.Description),
				Parameters:  shared.FunctionParameters(t.InputSchema),
			},
		})
	}
	return result
}

// statusCode extracts the HTTP status from an SDK error, or 0.
func statusCode(err error) int {
	var apiErr *openaisdk.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}

type toolAccum struct {
	id          string
	name        string
	partialArgs string
}

func (a *toolAccum) event() provider.ChatEvent {
	args := a.partialArgs
	if !json.Valid([]byte(args)) {
		args = "{}"
	}
	return provider.ChatEvent{
		Type:     provider.EventTypeToolCall,
		ToolCall: &provider.ToolCall{ID: a.id, Name: a.name, Arguments: args},
	}
}

// streamChat converts SDK stream chunks into provider.ChatEvent values.
func (p *Provider) streamChat(ctx context.Context, params openaisdk.ChatCompletionNewParams, ch chan<- provider.ChatEvent) {
	stream := p.client.Chat.Completions.NewStreaming(ctx, params)
	defer func() { _ = stream.Close() }()

	// Tool call fragments arrive keyed by index.
	toolCalls := make(map[int64]*toolAccum)
	var order []int64

	for stream.Next() {
		chunk := stream.Current()

		for _, choice := range chunk.Choices {
			if choice.Delta.Content != "" {
				ch <- provider.ChatEvent{Type: provider.EventTypeTextDelta, Text: choice.Delta.Content}
			}

			for _, tc := range choice.Delta.ToolCalls {
				acc, ok := toolCalls[tc.Index]
				if !ok {
					acc = &toolAccum{}
					toolCalls[tc.Index] = acc
					order = append(order, tc.Index)
				}
				if tc.ID != "" {
					acc.id = tc.ID
				}
				if tc.Function.Name != "" {
					acc.name = tc.Function.Name
				}
				acc.partialArgs += tc.Function.Arguments
			}
		}

		if chunk.Usage.PromptTokens > 0 || chunk.Usage.CompletionTokens > 0 {
			ch <- provider.ChatEvent{
				Type: provider.EventTypeUsage,
				Usage: &provider.Usage{
					InputTokens:  int(chunk.Usage.PromptTokens),
					OutputTokens: int(chunk.Usage.CompletionTokens),
				},
			}
		}
	}

	if err := stream.Err(); err != nil {
		ch <- provider.ChatEvent{
			Type:       provider.EventTypeError,
			Error:      p.name + ": " + err.Error(),
			StatusCode: statusCode(err),
		}
		return
	}

	for _, idx := range order {
		ch <- toolCalls[idx].event()
	}

	ch <- provider.ChatEvent{Type: provider.EventTypeDone}
}
