// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Pagewarden Contributors

// Package tools resolves, authorizes and runs the tools a model may call:
// a fixed table of built-in page tools and the tools of enabled MCP servers.
package tools

import (
	"github.com/sigil-dev/pagewarden/internal/mcp"
	"github.com/sigil-dev/pagewarden/internal/provider"
	"github.com/sigil-dev/pagewarden/internal/security"
	pwerr "github.com/sigil-dev/pagewarden/pkg/errors"
)

// Kind is the resolved variant of a requested tool name.
type Kind int

const (
	KindUnknown Kind = iota
	KindBuiltin
	KindRemote
	// KindInvalid is a known tool whose arguments failed validation.
	KindInvalid
)

func (k Kind) String() string {
	switch k {
	case KindBuiltin:
		return "builtin"
	case KindRemote:
		return "remote"
	case KindInvalid:
		return "invalid"
	default:
		return "unknown"
	}
}

func fieldKind(k Kind) pwerr.Attr {
	return pwerr.Field("tool_kind", k.String())
}

// KindOf returns the tool_kind recorded on a Check error, or "" when err
// did not come from resolution.
func KindOf(err error) string {
	kind, _ := pwerr.FieldsOf(err)["tool_kind"].(string)
	return kind
}

// Definition is a built-in tool.
type Definition struct {
	Name          string
	Description   string
	Capability    security.Capability
	IsWriteAction bool
	Parameters    map[string]any
	command       Command
}

// ToolDefinition converts d to the gateway's schema form.
func (d Definition) ToolDefinition() provider.ToolDefinition {
	return provider.ToolDefinition{Name: d.Name, Description: d.Description, InputSchema: d.Parameters}
}

// Tool is a resolved tool name.
type Tool struct {
	Kind Kind
	Name string
	// Builtin is set for KindBuiltin.
	Builtin Definition
	// Remote is set for KindRemote.
	Remote mcp.RemoteTool
}

// Capability is the capability the tool declares.
func (t Tool) Capability() security.Capability {
	if t.Kind == KindRemote {
		return security.CapabilityAct
	}
	return t.Builtin.Capability
}

// IsWriteAction reports whether the tool mutates external state. Remote
// effects are unknown, so remote tools always count as writes.
func (t Tool) IsWriteAction() bool {
	if t.Kind == KindRemote {
		return true
	}
	return t.Builtin.IsWriteAction
}

// Built-in tool names.
const (
	ToolReadPage   = "read_page"
	ToolFindText   = "find_text"
	ToolClick      = "click"
	ToolFillFields = "fill_fields"
	ToolNavigate   = "navigate"
)

// Builtins returns the fixed built-in table in catalog order.
func Builtins() []Definition {
	return []Definition{
		{
			Name:        ToolReadPage,
			Description: "Read the visible text of the current page.",
			Capability:  security.CapabilityRead,
			Parameters: object(map[string]any{
				"max_chars": map[string]any{
					"type":        "integer",
					"minimum":     1,
					"description": "Upper bound on returned characters",
				},
			}),
			command: CommandReadContent,
		},
		{
			Name:        ToolFindText,
			Description: "Find passages on the current page that contain a phrase.",
			Capability:  security.CapabilityRead,
			Parameters: object(map[string]any{
				"query": map[string]any{"type": "string", "minLength": 1, "description": "Text to look for"},
			}, "query"),
			command: CommandFindText,
		},
		{
			Name:          ToolClick,
			Description:   "Click the element matching a CSS selector.",
			Capability:    security.CapabilityAct,
			IsWriteAction: true,
			Parameters: object(map[string]any{
				"selector": map[string]any{"type": "string", "minLength": 1, "description": "CSS selector"},
			}, "selector"),
			command: CommandClick,
		},
		{
			Name:          ToolFillFields,
			Description:   "Type values into form fields.",
			Capability:    security.CapabilityAct,
			IsWriteAction: true,
			Parameters: object(map[string]any{
				"fields": map[string]any{
					"type":     "array",
					"minItems": 1,
					"items": object(map[string]any{
						"selector": map[string]any{"type": "string", "minLength": 1},
						"value":    map[string]any{"type": "string"},
					}, "selector", "value"),
				},
			}, "fields"),
			command: CommandFillFields,
		},
		{
			Name:          ToolNavigate,
			Description:   "Open a URL in the current tab.",
			Capability:    security.CapabilityAct,
			IsWriteAction: true,
			Parameters: object(map[string]any{
				"url": map[string]any{"type": "string", "pattern": "^https?://", "description": "Absolute http(s) URL"},
			}, "url"),
			command: CommandNavigate,
		},
	}
}

func object(props map[string]any, required ...string) map[string]any {
	schema := map[string]any{
		"type":                 "object",
		"properties":           props,
		"additionalProperties": false,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}
