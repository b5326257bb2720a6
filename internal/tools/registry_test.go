// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Pagewarden Contributors

package tools_test

import (
	"encoding/json"
	"testing"

	"github.com/sigil-dev/pagewarden/internal/provider"
	"github.com/sigil-dev/pagewarden/internal/security"
	"github.com/sigil-dev/pagewarden/internal/tools"
	pwerr "github.com/sigil-dev/pagewarden/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuiltins(t *testing.T) {
	want := map[string]struct {
		cap   security.Capability
		write bool
	}{
		tools.ToolReadPage:   {security.CapabilityRead, false},
		tools.ToolFindText:   {security.CapabilityRead, false},
		tools.ToolClick:      {security.CapabilityAct, true},
		tools.ToolFillFields: {security.CapabilityAct, true},
		tools.ToolNavigate:   {security.CapabilityAct, true},
	}

	defs := tools.Builtins()
	require.Len(t, defs, len(want))
	for _, d := range defs {
		w, ok := want[d.Name]
		require.True(t, ok, "unexpected built-in %s", d.Name)
		assert.Equal(t, w.cap, d.Capability, d.Name)
		assert.Equal(t, w.write, d.IsWriteAction, d.Name)
		assert.NotEmpty(t, d.Description)
		assert.Equal(t, "object", d.Parameters["type"])
	}
}

func TestRegistry_ResolveOrder(t *testing.T) {
	r := tools.NewRegistry(weatherRemote())

	click := r.Resolve("click")
	assert.Equal(t, tools.KindBuiltin, click.Kind, "built-ins win name clashes")
	assert.Equal(t, security.CapabilityAct, click.Capability())

	forecast := r.Resolve("forecast")
	assert.Equal(t, tools.KindRemote, forecast.Kind)
	assert.Equal(t, "srv-1", forecast.Remote.ServerID)
	assert.Equal(t, security.CapabilityAct, forecast.Capability())
	assert.True(t, forecast.IsWriteAction())

	assert.Equal(t, tools.KindUnknown, r.Resolve("delete_everything").Kind)
	assert.Equal(t, tools.KindUnknown, tools.NewRegistry(nil).Resolve("forecast").Kind)
}

func TestRegistry_Check(t *testing.T) {
	r := tools.NewRegistry(weatherRemote())

	tool, args, err := r.Check(provider.ToolCall{Name: "click", Arguments: `{"selector":"#buy"}`})
	require.NoError(t, err)
	assert.Equal(t, tools.KindBuiltin, tool.Kind)
	assert.True(t, tool.IsWriteAction())
	assert.JSONEq(t, `{"selector":"#buy"}`, string(args))

	tool, _, err = r.Check(provider.ToolCall{Name: "click", Arguments: `{}`})
	require.Error(t, err)
	assert.Equal(t, tools.KindInvalid, tool.Kind)
	assert.Equal(t, "click", tool.Builtin.Name, "the resolved definition is kept")
	assert.True(t, pwerr.HasCode(err, pwerr.CodeToolArgsInvalid))
	assert.Equal(t, "invalid", tools.KindOf(err))

	tool, _, err = r.Check(provider.ToolCall{Name: "forecast", Arguments: `{"city": 7}`})
	require.Error(t, err)
	assert.Equal(t, tools.KindInvalid, tool.Kind)
	assert.Equal(t, "srv-1", tool.Remote.ServerID)

	tool, _, err = r.Check(provider.ToolCall{Name: "teleport"})
	require.Error(t, err)
	assert.Equal(t, tools.KindUnknown, tool.Kind)
	assert.True(t, pwerr.HasCode(err, pwerr.CodeToolUnknown))
	assert.Equal(t, "unknown", tools.KindOf(err))

	assert.Empty(t, tools.KindOf(pwerr.New(pwerr.CodeToolHostFailure, "tab closed")))
}

func TestRegistry_Definitions(t *testing.T) {
	defs := tools.NewRegistry(weatherRemote()).Definitions()

	names := make([]string, 0, len(defs))
	for _, d := range defs {
		names = append(names, d.Name)
	}
	assert.Equal(t, []string{"read_page", "find_text", "click", "fill_fields", "navigate", "forecast"}, names)

	forecast := defs[len(defs)-1]
	assert.Equal(t, "Forecast for a city (via weather)", forecast.Description)
	assert.Equal(t, []any{"city"}, forecast.InputSchema["required"])
}

func TestParseArguments(t *testing.T) {
	args, err := tools.ParseArguments("  ")
	require.NoError(t, err)
	assert.JSONEq(t, `{}`, string(args))

	args, err = tools.ParseArguments(`{"a":1}`)
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":1}`, string(args))

	for _, bad := range []string{`[1,2]`, `"text"`, `null`, `{broken`} {
		_, err := tools.ParseArguments(bad)
		assert.True(t, pwerr.HasCode(err, pwerr.CodeToolArgsInvalid), bad)
	}
}

func TestRegistry_Validate(t *testing.T) {
	r := tools.NewRegistry(weatherRemote())

	tests := []struct {
		tool  string
		args  string
		valid bool
	}{
		{"read_page", `{}`, true},
		{"read_page", `{"max_chars": 200}`, true},
		{"read_page", `{"max_chars": 0}`, false},
		{"find_text", `{"query": "refund policy"}`, true},
		{"find_text", `{}`, false},
		{"find_text", `{"query": ""}`, false},
		{"click", `{"selector": "#buy"}`, true},
		{"click", `{"selector": "#buy", "force": true}`, false},
		{"fill_fields", `{"fields": [{"selector": "#email", "value": "a@b.example"}]}`, true},
		{"fill_fields", `{"fields": []}`, false},
		{"fill_fields", `{"fields": [{"selector": "#email"}]}`, false},
		{"navigate", `{"url": "https://b.example/cart"}`, true},
		{"navigate", `{"url": "javascript:alert(1)"}`, false},
		{"forecast", `{"city": "Oslo"}`, true},
		{"forecast", `{"town": "Oslo"}`, false},
	}

	for _, tt := range tests {
		t.Run(tt.tool+" "+tt.args, func(t *testing.T) {
			err := r.Validate(r.Resolve(tt.tool), json.RawMessage(tt.args))
			if tt.valid {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, pwerr.HasCode(err, pwerr.CodeToolArgsInvalid))
		})
	}
}

func TestRegistry_ValidateRemoteWithoutSchema(t *testing.T) {
	r := tools.NewRegistry(weatherRemote())
	remote := tools.Tool{Kind: tools.KindRemote, Name: "anything"}
	assert.NoError(t, r.Validate(remote, json.RawMessage(`{"x":1}`)))
}
