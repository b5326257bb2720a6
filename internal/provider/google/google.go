// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Pagewarden Contributors

package google

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"google.golang.org/genai"

	"github.com/sigil-dev/pagewarden/internal/provider"
	pwerr "github.com/sigil-dev/pagewarden/pkg/errors"
)

// Config holds Google provider configuration.
type Config struct {
	APIKey  string
	BaseURL string // optional, useful for testing against a mock server
}

// Provider implements provider.Provider using the Gemini API.
type Provider struct {
	client *genai.Client
}

var _ provider.Provider = (*Provider)(nil)

// New creates a new Google provider. Returns an error if the API key is missing.
func New(cfg Config) (*Provider, error) {
	if cfg.APIKey == "" {
		return nil, pwerr.New(pwerr.CodeProviderRequestInvalid, "google: missing api_key in config", pwerr.FieldProvider("google"))
	}

	clientCfg := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.BaseURL != "" {
		clientCfg.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}

	client, err := genai.NewClient(context.Background(), clientCfg)
	if err != nil {
		return nil, pwerr.Wrapf(err, pwerr.CodeProviderUpstreamFailure, "google: creating client")
	}

	return &Provider{client: client}, nil
}

func (p *Provider) Name() string { return "google" }

func (p *Provider) Available(_ context.Context) bool { return true }

func (p *Provider) Close() error { return nil }

func (p *Provider) Chat(ctx context.Context, req provider.ChatRequest) (<-chan provider.ChatEvent, error) {
	if req.Model == "" {
		return nil, pwerr.New(pwerr.CodeProviderRequestInvalid, "google: model is required")
	}

	contents, system, err := convertMessages(req.Messages)
	if err != nil {
		return nil, err
	}

	config := buildConfig(req, system)

	eventCh := make(chan provider.ChatEvent, 100)

	go func() {
		defer close(eventCh)
		p.streamChat(ctx, req.Model, contents, config, eventCh)
	}()

	return eventCh, nil
}

// buildConfig converts a provider.ChatRequest into a genai.GenerateContentConfig.
func buildConfig(req provider.ChatRequest, extraSystem []string) *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{}

	if req.Options.Temperature != nil {
		cfg.Temperature = genai.Ptr(*req.Options.Temperature)
	}
	if req.Options.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(req.Options.MaxTokens)
	}

	var parts []*genai.Part
	if req.SystemPrompt != "" {
		parts = append(parts, &genai.Part{Text: req.SystemPrompt})
	}
	for _, s := range extraSystem {
		parts = append(parts, &genai.Part{Text: s})
	}
	if len(parts) > 0 {
		cfg.SystemInstruction = &genai.Content{Parts: parts}
	}

	if len(req.Tools) > 0 {
		cfg.Tools = convertTools(req.Tools)
	}

	return cfg
}

// convertMessages maps roles onto Gemini's user/model pair. System messages
// are returned separately for the system instruction.
func convertMessages(msgs []provider.Message) ([]*genai.Content, []string, error) {
	var (
		result []*genai.Content
		system []string
	)

	for _, msg := range msgs {
		switch msg.Role {
		case provider.MessageRoleUser:
			result = append(result, genai.NewContentFromText(msg.Content, genai.RoleUser))
		case provider.MessageRoleAssistant:
			result = append(result, genai.NewContentFromText(msg.Content, genai.RoleModel))
		case provider.MessageRoleSystem:
			system = append(system, msg.Content)
		default:
			return nil, nil, pwerr.Errorf(pwerr.CodeProviderRequestInvalid, "google: unsupported message role %q", msg.Role)
		}
	}

	return result, system, nil
}

func convertTools(tools []provider.ToolDefinition) []*genai.Tool {
	decls := make([]*genai.FunctionDeclaration, 0, len(tools))
	for _, t := range tools {
		decls = append(decls, &genai.FunctionDeclaration{
			Name:                 t.Name,
			Description:          t.Description,
			ParametersJsonSchema: t.InputSchema,
		})
	}
	return []*genai.Tool{{FunctionDeclarations: decls}}
}

func statusCode(err error) int {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) {
		return apiErrPtr.Code
	}
	return 0
}

// streamChat converts streamed responses into provider.ChatEvent values.
func (p *Provider) streamChat(
	ctx context.Context,
	model string,
	contents []*genai.Content,
	config *genai.GenerateContentConfig,
	ch chan<- provider.ChatEvent,
) {
	for result, err := range p.client.Models.GenerateContentStream(ctx, model, contents, config) {
		if err != nil {
			ch <- provider.ChatEvent{
				Type:       provider.EventTypeError,
				Error:      "google: " + err.Error(),
				StatusCode: statusCode(err),
			}
			return
		}

		for _, candidate := range result.Candidates {
			if candidate.Content == nil {
				continue
			}
			for _, part := range candidate.Content.Parts {
				if part.Text != "" {
					ch <- provider.ChatEvent{Type: provider.EventTypeTextDelta, Text: part.Text}
				}
				if part.FunctionCall == nil {
					continue
				}

				args, err := json.Marshal(part.FunctionCall.Args)
				if err != nil {
					argsStr := fmt.Sprintf("%v", part.FunctionCall.Args)
					if len(argsStr) > 200 {
						argsStr = argsStr[:200] + "..."
					}
					slog.Error("failed to marshal tool call arguments",
						"function", part.FunctionCall.Name,
						"args_preview", argsStr,
						"error", err,
					)
					ch <- provider.ChatEvent{
						Type:  provider.EventTypeError,
						Error: fmt.Sprintf("google: marshaling tool call arguments for %q: %v", part.FunctionCall.Name, err),
					}
					return
				}
				if part.FunctionCall.Args == nil {
					args = []byte("{}")
				}
				ch <- provider.ChatEvent{
					Type: provider.EventTypeToolCall,
					ToolCall: &provider.ToolCall{
						ID:        part.FunctionCall.ID,
						Name:      part.FunctionCall.Name,
						Arguments: string(args),
					},
				}
			}
		}

		if result.UsageMetadata != nil {
			ch <- provider.ChatEvent{
				Type: provider.EventTypeUsage,
				Usage: &provider.Usage{
					InputTokens:  int(result.UsageMetadata.PromptTokenCount),
					OutputTokens: int(result.UsageMetadata.CandidatesTokenCount),
				},
			}
		}
	}

	ch <- provider.ChatEvent{Type: provider.EventTypeDone}
}
