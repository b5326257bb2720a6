// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Pagewarden Contributors

package provider

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ToolCallMarker introduces an embedded tool call in a plain-text reply.
const ToolCallMarker = "TOOL_CALL"

// ToolCallParser extracts a tool call embedded in free text. Backends with
// native tool calling never go through a parser.
type ToolCallParser interface {
	Parse(text string) (ToolCall, bool)
}

// TextProtocol parses replies of the form
//
//	TOOL_CALL {"name": "read_page", "arguments": {...}}
//
// Only the first marker counts. Anything malformed yields no call; it is
// never an error, because small models often answer in prose.
type TextProtocol struct{}

var _ ToolCallParser = TextProtocol{}

type embeddedCall struct {
	Name       string          `json:"name"`
	Arguments  json.RawMessage `json:"arguments"`
	Parameters json.RawMessage `json:"parameters"`
}

func (TextProtocol) Parse(text string) (ToolCall, bool) {
	idx := strings.Index(text, ToolCallMarker)
	if idx < 0 {
		return ToolCall{}, false
	}

	obj, ok := scanObject(text[idx+len(ToolCallMarker):])
	if !ok {
		return ToolCall{}, false
	}

	var call embeddedCall
	if err := json.Unmarshal([]byte(obj), &call); err != nil || call.Name == "" {
		return ToolCall{}, false
	}

	args := call.Arguments
	if len(args) == 0 {
		args = call.Parameters
	}
	normalized, ok := normalizeArguments(args)
	if !ok {
		return ToolCall{}, false
	}

	return ToolCall{Name: call.Name, Arguments: normalized}, true
}

// scanObject returns the first balanced {...} in s. Whatever precedes the
// first brace (a code fence, the tool name) is skipped. Braces inside string
// literals do not count. The object is well-formed only if the depth returns
// to zero before the text ends.
func scanObject(s string) (string, bool) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", false
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}

		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}

// normalizeArguments accepts an object, an absent value, or a string that
// itself holds an object.
func normalizeArguments(raw json.RawMessage) (string, bool) {
	trimmed := strings.TrimSpace(string(raw))
	switch {
	case trimmed == "" || trimmed == "null":
		return "{}", true
	case strings.HasPrefix(trimmed, "{"):
		return trimmed, true
	case strings.HasPrefix(trimmed, `"`):
		var inner string
		if err := json.Unmarshal(raw, &inner); err != nil {
			return "", false
		}
		inner = strings.TrimSpace(inner)
		if !strings.HasPrefix(inner, "{") || !json.Valid([]byte(inner)) {
			return "", false
		}
		return inner, true
	default:
		return "", false
	}
}

// Catalog renders tools and calling instructions for a system prompt.
func Catalog(tools []ToolDefinition) string {
	var b strings.Builder
	b.WriteString("You can use tools. To call one, reply with a single line and nothing else:\n")
	fmt.Fprintf(&b, "%s {\"name\": \"<tool name>\", \"arguments\": {<arguments as JSON>}}\n", ToolCallMarker)
	b.WriteString("Call at most one tool per reply. If no tool is needed, answer normally and do not write ")
	b.WriteString(ToolCallMarker)
	b.WriteString(".\n\nAvailable tools:\n")

	for _, t := range tools {
		schema, err := json.Marshal(t.InputSchema)
		if err != nil || t.InputSchema == nil {
			schema = []byte("{}")
		}
		fmt.Fprintf(&b, "- %s: %s\n  arguments schema: %s\n", t.Name, t.Description, schema)
	}
	return b.String()
}
