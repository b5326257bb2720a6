// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Pagewarden Contributors

package tools

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"

	"github.com/sigil-dev/pagewarden/internal/mcp"
	"github.com/sigil-dev/pagewarden/internal/provider"
	pwerr "github.com/sigil-dev/pagewarden/pkg/errors"
)

// RemoteSource supplies the tools of enabled MCP servers and calls them.
// *mcp.Registry implements it.
type RemoteSource interface {
	EnabledTools() []mcp.RemoteTool
	Call(ctx context.Context, serverID, tool string, args json.RawMessage) (string, error)
}

// Registry resolves tool names: built-ins first, then remote tools.
type Registry struct {
	builtins map[string]Definition
	order    []string
	remote   RemoteSource
	logger   *slog.Logger

	mu      sync.Mutex
	schemas map[string]*gojsonschema.Schema
}

// NewRegistry creates a registry over the built-in table. remote may be nil.
func NewRegistry(remote RemoteSource) *Registry {
	r := &Registry{
		builtins: make(map[string]Definition),
		remote:   remote,
		logger:   slog.Default(),
		schemas:  make(map[string]*gojsonschema.Schema),
	}
	for _, d := range Builtins() {
		r.builtins[d.Name] = d
		r.order = append(r.order, d.Name)
	}
	return r
}

// Resolve maps a name to its variant. A remote tool whose name collides
// with a built-in is never reachable.
func (r *Registry) Resolve(name string) Tool {
	if d, ok := r.builtins[name]; ok {
		return Tool{Kind: KindBuiltin, Name: name, Builtin: d}
	}
	if r.remote != nil {
		for _, rt := range r.remote.EnabledTools() {
			if rt.Tool.Name == name {
				return Tool{Kind: KindRemote, Name: name, Remote: rt}
			}
		}
	}
	return Tool{Kind: KindUnknown, Name: name}
}

// Check resolves call and validates its arguments. A known tool whose
// arguments fail validation comes back as KindInvalid, keeping the resolved
// definition, together with a CodeToolArgsInvalid error. Errors carry the
// tool_kind field.
func (r *Registry) Check(call provider.ToolCall) (Tool, json.RawMessage, error) {
	t := r.Resolve(call.Name)
	if t.Kind == KindUnknown {
		return t, nil, pwerr.New(pwerr.CodeToolUnknown, "unknown tool "+call.Name,
			pwerr.FieldTool(call.Name), fieldKind(t.Kind))
	}

	args, err := ParseArguments(call.Arguments)
	if err == nil {
		err = r.Validate(t, args)
	}
	if err != nil {
		t.Kind = KindInvalid
		return t, args, pwerr.With(err, pwerr.FieldTool(call.Name), fieldKind(t.Kind))
	}
	return t, args, nil
}

// Definitions is the catalog offered to the model: built-ins in table
// order, then remote tools that do not shadow a built-in.
func (r *Registry) Definitions() []provider.ToolDefinition {
	defs := make([]provider.ToolDefinition, 0, len(r.order))
	for _, name := range r.order {
		defs = append(defs, r.builtins[name].ToolDefinition())
	}
	if r.remote == nil {
		return defs
	}

	for _, rt := range r.remote.EnabledTools() {
		if _, shadowed := r.builtins[rt.Tool.Name]; shadowed {
			continue
		}
		defs = append(defs, provider.ToolDefinition{
			Name:        rt.Tool.Name,
			Description: remoteDescription(rt),
			InputSchema: remoteSchema(rt.Tool.InputSchema),
		})
	}
	return defs
}

func remoteDescription(rt mcp.RemoteTool) string {
	desc := strings.TrimSpace(rt.Tool.Description)
	if desc == "" {
		desc = "Remote tool"
	}
	return desc + " (via " + rt.ServerName + ")"
}

func remoteSchema(raw json.RawMessage) map[string]any {
	var schema map[string]any
	if len(raw) == 0 || json.Unmarshal(raw, &schema) != nil || schema == nil {
		return map[string]any{"type": "object"}
	}
	return schema
}

// ParseArguments decodes call arguments, which must be a JSON object. Empty
// arguments are an empty object.
func ParseArguments(raw string) (json.RawMessage, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return json.RawMessage("{}"), nil
	}
	var obj map[string]any
	if err := json.Unmarshal([]byte(raw), &obj); err != nil || obj == nil {
		return nil, pwerr.New(pwerr.CodeToolArgsInvalid, "arguments must be a JSON object")
	}
	return json.RawMessage(raw), nil
}

// Validate checks args against the tool's parameter schema. Remote tools
// with an unusable schema are not validated.
func (r *Registry) Validate(t Tool, args json.RawMessage) error {
	schema, err := r.schema(t)
	if err != nil {
		if t.Kind == KindRemote {
			r.logger.Debug("remote tool schema unusable, skipping validation", "tool", t.Name, "error", err)
			return nil
		}
		return pwerr.Wrap(err, pwerr.CodeToolArgsInvalid, "compiling schema", pwerr.FieldTool(t.Name))
	}

	result, err := schema.Validate(gojsonschema.NewBytesLoader(args))
	if err != nil {
		return pwerr.Wrap(err, pwerr.CodeToolArgsInvalid, "validating arguments", pwerr.FieldTool(t.Name))
	}
	if result.Valid() {
		return nil
	}

	problems := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		problems = append(problems, e.String())
	}
	return pwerr.New(pwerr.CodeToolArgsInvalid, strings.Join(problems, "; "), pwerr.FieldTool(t.Name))
}

func (r *Registry) schema(t Tool) (*gojsonschema.Schema, error) {
	key := t.Kind.String() + ":" + t.Name
	if t.Kind == KindRemote {
		key += "@" + t.Remote.ServerID + ":" + string(t.Remote.Tool.InputSchema)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.schemas[key]; ok {
		return s, nil
	}

	var loader gojsonschema.JSONLoader
	switch t.Kind {
	case KindBuiltin:
		loader = gojsonschema.NewGoLoader(t.Builtin.Parameters)
	case KindRemote:
		loader = gojsonschema.NewGoLoader(remoteSchema(t.Remote.Tool.InputSchema))
	default:
		return nil, pwerr.New(pwerr.CodeToolUnknown, "no schema for "+t.Name)
	}

	s, err := gojsonschema.NewSchema(loader)
	if err != nil {
		return nil, err
	}
	r.schemas[key] = s
	return s, nil
}
