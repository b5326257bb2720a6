// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Pagewarden Contributors

// Package mcp keeps the user's remote tool servers and talks to them over the
// Model Context Protocol's streamable HTTP transport.
package mcp

import (
	"encoding/json"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

// Tool is one tool advertised by a server.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"inputSchema,omitempty"`
}

// toolFromSDK keeps the schema as raw JSON; the tool registry compiles it.
func toolFromSDK(t *sdk.Tool) Tool {
	out := Tool{Name: t.Name, Description: t.Description}
	if t.InputSchema != nil {
		if raw, err := json.Marshal(t.InputSchema); err == nil {
			out.InputSchema = raw
		}
	}
	return out
}

// resultText joins the text blocks of a tool result. Other content types are
// not forwarded to the model.
func resultText(res *sdk.CallToolResult) string {
	var text string
	for _, block := range res.Content {
		tc, ok := block.(*sdk.TextContent)
		if !ok || tc.Text == "" {
			continue
		}
		if text != "" {
			text += "\n"
		}
		text += tc.Text
	}
	return text
}
