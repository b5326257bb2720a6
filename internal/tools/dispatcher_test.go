// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Pagewarden Contributors

package tools_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sigil-dev/pagewarden/internal/ledger"
	"github.com/sigil-dev/pagewarden/internal/provider"
	"github.com/sigil-dev/pagewarden/internal/security"
	"github.com/sigil-dev/pagewarden/internal/security/scanner"
	"github.com/sigil-dev/pagewarden/internal/tools"
	pwerr "github.com/sigil-dev/pagewarden/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newDispatcher(t *testing.T, host tools.HostExecutor, guard tools.Guard, remote tools.RemoteSource, opts ...tools.DispatcherOption) *tools.Dispatcher {
	t.Helper()
	d, err := tools.NewDispatcher(tools.NewRegistry(remote), host, guard, opts...)
	require.NoError(t, err)
	return d
}

func TestNewDispatcher_RequiresDependencies(t *testing.T) {
	_, err := tools.NewDispatcher(nil, nil, newFakeGuard())
	assert.True(t, pwerr.IsInvalidInput(err))
	_, err = tools.NewDispatcher(tools.NewRegistry(nil), nil, nil)
	assert.True(t, pwerr.IsInvalidInput(err))
}

func TestDispatcher_ReadPage(t *testing.T) {
	host := &fakeHost{url: "https://a.example/docs?page=2", content: "Opening hours: 9-17"}
	guard := newFakeGuard(security.CapabilityRead)
	d := newDispatcher(t, host, guard, nil, tools.WithReadLimit(500))
	ctx := context.Background()

	call, err := d.Prepare(ctx, provider.ToolCall{ID: "c1", Name: "read_page", Arguments: `{"max_chars": 100}`},
		tools.Scope{Handle: "tab-1", Sensitivity: scanner.SeverityLow})
	require.NoError(t, err)
	assert.Equal(t, "https://a.example", call.Origin)
	assert.Equal(t, tools.KindBuiltin, call.Tool.Kind)

	res, err := d.Invoke(ctx, call)
	require.NoError(t, err)
	assert.Equal(t, "Opening hours: 9-17", res.Content)
	assert.Equal(t, "https://a.example", res.Origin)
	assert.Equal(t, ledger.OriginPage, res.OriginType)

	sent := host.sent()
	require.Len(t, sent, 1)
	assert.Equal(t, tools.CommandReadContent, sent[0].Command)
	assert.Equal(t, 100, sent[0].MaxChars)

	require.Len(t, guard.requests, 1)
	req := guard.requests[0]
	assert.Equal(t, security.CapabilityRead, req.Capability)
	assert.Equal(t, "tab-1", req.Handle)
	assert.Equal(t, "read_page", req.Tool)
	assert.Equal(t, scanner.SeverityLow, req.Sensitivity)
}

func TestDispatcher_ReadLimitCapsRequestedSize(t *testing.T) {
	host := &fakeHost{url: "https://a.example"}
	d := newDispatcher(t, host, newFakeGuard(security.CapabilityRead), nil, tools.WithReadLimit(50))

	call, err := d.Prepare(context.Background(), provider.ToolCall{Name: "read_page", Arguments: `{"max_chars": 9000}`}, tools.Scope{Handle: "tab-1"})
	require.NoError(t, err)
	_, err = d.Invoke(context.Background(), call)
	require.NoError(t, err)
	assert.Equal(t, 50, host.sent()[0].MaxChars)
}

func TestDispatcher_PrepareOutcomes(t *testing.T) {
	host := &fakeHost{url: "https://a.example"}

	tests := []struct {
		name    string
		allow   []security.Capability
		call    provider.ToolCall
		code    pwerr.Code
		kind    string
		guarded bool
	}{
		{"unknown tool", nil, provider.ToolCall{Name: "format_disk"}, pwerr.CodeToolUnknown, "unknown", false},
		{"arguments not an object", nil, provider.ToolCall{Name: "click", Arguments: `[]`}, pwerr.CodeToolArgsInvalid, "invalid", false},
		{"schema violation", nil, provider.ToolCall{Name: "click", Arguments: `{}`}, pwerr.CodeToolArgsInvalid, "invalid", false},
		{"denied", nil, provider.ToolCall{Name: "click", Arguments: `{"selector":"#buy"}`}, pwerr.CodePermissionDenied, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			guard := newFakeGuard(tt.allow...)
			d := newDispatcher(t, host, guard, nil)

			call, err := d.Prepare(context.Background(), tt.call, tools.Scope{Handle: "tab-1"})
			assert.Nil(t, call)
			require.Error(t, err)
			assert.True(t, pwerr.HasCode(err, tt.code), "got %v", err)
			assert.Equal(t, tt.call.Name, pwerr.FieldsOf(err)["tool"])
			assert.Equal(t, tt.kind, tools.KindOf(err))
			if tt.guarded {
				assert.Len(t, guard.requests, 1)
			} else {
				assert.Empty(t, guard.requests, "the guard is consulted only for valid calls")
			}
		})
	}
	assert.Empty(t, host.sent(), "nothing reaches the host without a prepared call")
}

func TestDispatcher_GuardErrorPropagates(t *testing.T) {
	guard := newFakeGuard()
	guard.err = context.Canceled
	d := newDispatcher(t, &fakeHost{url: "https://a.example"}, guard, nil)

	_, err := d.Prepare(context.Background(), provider.ToolCall{Name: "read_page"}, tools.Scope{Handle: "tab-1"})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDispatcher_InvokeRequiresPreparedCall(t *testing.T) {
	d := newDispatcher(t, &fakeHost{}, newFakeGuard(), nil)

	_, err := d.Invoke(context.Background(), nil)
	assert.True(t, pwerr.HasCode(err, pwerr.CodeToolNotAuthorized))

	_, err = d.Invoke(context.Background(), &tools.Call{Tool: tools.Tool{Kind: tools.KindUnknown, Name: "x"}})
	assert.True(t, pwerr.HasCode(err, pwerr.CodeToolNotAuthorized))
}

func TestDispatcher_NavigateRevokesPageGrants(t *testing.T) {
	host := &fakeHost{url: "https://a.example/cart"}
	guard := newFakeGuard(security.CapabilityAct)
	d := newDispatcher(t, host, guard, nil)
	ctx := context.Background()

	call, err := d.Prepare(ctx, provider.ToolCall{Name: "navigate", Arguments: `{"url":"https://b.example/checkout"}`}, tools.Scope{Handle: "tab-1"})
	require.NoError(t, err)
	assert.Equal(t, "https://a.example", call.Origin, "act is asked on the page being left")

	res, err := d.Invoke(ctx, call)
	require.NoError(t, err)
	assert.Equal(t, "https://b.example", res.Origin)
	assert.Equal(t, []string{"tab-1"}, guard.navigated)
}

func TestDispatcher_FillFieldsPassesValues(t *testing.T) {
	host := &fakeHost{url: "https://a.example"}
	d := newDispatcher(t, host, newFakeGuard(security.CapabilityAct), nil)

	call, err := d.Prepare(context.Background(), provider.ToolCall{
		Name:      "fill_fields",
		Arguments: `{"fields":[{"selector":"#q","value":"shoes"},{"selector":"#size","value":"42"}]}`,
	}, tools.Scope{Handle: "tab-1"})
	require.NoError(t, err)
	_, err = d.Invoke(context.Background(), call)
	require.NoError(t, err)

	sent := host.sent()[0]
	assert.Equal(t, tools.CommandFillFields, sent.Command)
	assert.Equal(t, []tools.FieldValue{{Selector: "#q", Value: "shoes"}, {Selector: "#size", Value: "42"}}, sent.Fields)
}

func TestDispatcher_HostFailures(t *testing.T) {
	t.Run("error", func(t *testing.T) {
		host := &fakeHost{url: "https://a.example", err: errors.New("tab crashed")}
		d := newDispatcher(t, host, newFakeGuard(security.CapabilityRead), nil)

		call, err := d.Prepare(context.Background(), provider.ToolCall{Name: "read_page"}, tools.Scope{Handle: "tab-1"})
		require.NoError(t, err)
		_, err = d.Invoke(context.Background(), call)
		assert.True(t, pwerr.HasCode(err, pwerr.CodeToolHostFailure))
	})

	t.Run("timeout", func(t *testing.T) {
		host := &fakeHost{url: "https://a.example", block: true}
		d := newDispatcher(t, host, newFakeGuard(security.CapabilityRead), nil, tools.WithToolTimeout(20*time.Millisecond))

		call, err := d.Prepare(context.Background(), provider.ToolCall{Name: "read_page"}, tools.Scope{Handle: "tab-1"})
		require.NoError(t, err)
		_, err = d.Invoke(context.Background(), call)
		assert.True(t, pwerr.IsTimeout(err), "got %v", err)
	})

	t.Run("no host", func(t *testing.T) {
		d := newDispatcher(t, nil, newFakeGuard(security.CapabilityRead), nil)
		_, err := d.Prepare(context.Background(), provider.ToolCall{Name: "read_page"}, tools.Scope{Handle: "tab-1"})
		assert.True(t, pwerr.HasCode(err, pwerr.CodeToolHostFailure))
	})
}

func TestDispatcher_RemoteAsksSendExternalBeforeTransmission(t *testing.T) {
	remote := weatherRemote()
	guard := newFakeGuard(security.CapabilityAct, security.CapabilitySendExternal)
	d := newDispatcher(t, nil, guard, remote)
	ctx := context.Background()

	call, err := d.Prepare(ctx, provider.ToolCall{Name: "forecast", Arguments: `{"city":"Oslo"}`}, tools.Scope{Handle: "tab-1"})
	require.NoError(t, err)
	assert.Equal(t, "https://weather.example", call.Origin)
	assert.Equal(t, []security.Capability{security.CapabilityAct}, guard.capabilities())
	assert.Empty(t, remote.calls)

	res, err := d.Invoke(ctx, call)
	require.NoError(t, err)
	assert.Equal(t, "remote says hi", res.Content)
	assert.Equal(t, ledger.OriginMCP, res.OriginType)
	assert.Equal(t, []security.Capability{security.CapabilityAct, security.CapabilitySendExternal}, guard.capabilities())
	require.Len(t, remote.calls, 1)
	assert.Equal(t, remoteCall{"srv-1", "forecast", `{"city":"Oslo"}`}, remote.calls[0])
}

func TestDispatcher_RemoteSendExternalDenied(t *testing.T) {
	remote := weatherRemote()
	d := newDispatcher(t, nil, newFakeGuard(security.CapabilityAct), remote)
	ctx := context.Background()

	call, err := d.Prepare(ctx, provider.ToolCall{Name: "forecast", Arguments: `{"city":"Oslo"}`}, tools.Scope{Handle: "tab-1"})
	require.NoError(t, err)

	_, err = d.Invoke(ctx, call)
	require.Error(t, err)
	assert.True(t, pwerr.IsDenied(err))
	assert.Empty(t, remote.calls, "nothing is transmitted without send-external")
}

func TestDispatcher_RemoteFailure(t *testing.T) {
	remote := weatherRemote()
	remote.fail = true
	d := newDispatcher(t, nil, newFakeGuard(security.CapabilityAct, security.CapabilitySendExternal), remote)

	call, err := d.Prepare(context.Background(), provider.ToolCall{Name: "forecast", Arguments: `{"city":"Oslo"}`}, tools.Scope{})
	require.NoError(t, err)
	_, err = d.Invoke(context.Background(), call)
	assert.EqualError(t, err, "server unreachable")
}

func TestDispatcher_Snapshot(t *testing.T) {
	host := &fakeHost{url: "https://a.example/faq", content: "Returns accepted within 30 days."}

	t.Run("allowed", func(t *testing.T) {
		guard := newFakeGuard()
		guard.checkOK = true
		d := newDispatcher(t, host, guard, nil)

		res, err := d.Snapshot(context.Background(), "tab-1", 2000)
		require.NoError(t, err)
		assert.Equal(t, "Returns accepted within 30 days.", res.Content)
		assert.Equal(t, "https://a.example", res.Origin)
		assert.Equal(t, 2000, host.sent()[len(host.sent())-1].MaxChars)
	})

	t.Run("not pre-authorized", func(t *testing.T) {
		guard := newFakeGuard(security.CapabilityRead)
		d := newDispatcher(t, host, guard, nil)
		before := len(host.sent())

		_, err := d.Snapshot(context.Background(), "tab-1", 2000)
		assert.True(t, pwerr.IsDenied(err))
		assert.Len(t, host.sent(), before)
	})
}
