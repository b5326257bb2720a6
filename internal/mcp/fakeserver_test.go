// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Pagewarden Contributors

package mcp_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

const headerSessionID = "Mcp-Session-Id"

// toolHandler answers tools/call. A returned error is sent as a JSON-RPC
// error.
type toolHandler func(name string, args json.RawMessage) (*sdk.CallToolResult, error)

type fakeOption func(*sdk.ServerOptions)

func withPageSize(n int) fakeOption {
	return func(o *sdk.ServerOptions) { o.PageSize = n }
}

// fakeServer is an MCP server mounted on one path. It records the methods it
// receives and can reject requests on demand.
type fakeServer struct {
	path    string
	server  *sdk.Server
	handler http.Handler

	mu          sync.Mutex
	onCall      toolHandler
	down        bool
	expireNext  bool
	methods     []string
	sessionSeen map[string]string
	callArgs    []json.RawMessage

	srv *httptest.Server
}

func newFakeServer(t *testing.T, path string, opts ...fakeOption) *fakeServer {
	t.Helper()
	serverOpts := &sdk.ServerOptions{}
	for _, opt := range opts {
		opt(serverOpts)
	}

	f := &fakeServer{
		path:        path,
		server:      sdk.NewServer(&sdk.Implementation{Name: "fake", Version: "1"}, serverOpts),
		sessionSeen: make(map[string]string),
	}
	f.handler = sdk.NewStreamableHTTPHandler(func(*http.Request) *sdk.Server { return f.server }, nil)
	f.srv = httptest.NewServer(http.HandlerFunc(f.handle))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeServer) URL() string { return f.srv.URL }

func (f *fakeServer) addTool(name, description string) {
	f.server.AddTool(&sdk.Tool{
		Name:        name,
		Description: description,
		InputSchema: map[string]any{"type": "object"},
	}, f.callTool)
}

func (f *fakeServer) callTool(_ context.Context, req *sdk.CallToolRequest) (*sdk.CallToolResult, error) {
	args := append(json.RawMessage(nil), req.Params.Arguments...)

	f.mu.Lock()
	f.callArgs = append(f.callArgs, args)
	onCall := f.onCall
	f.mu.Unlock()

	if onCall == nil {
		return nil, errors.New("no tools")
	}
	return onCall(req.Params.Name, args)
}

func (f *fakeServer) seenMethods() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.methods...)
}

func (f *fakeServer) sessionFor(method string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sessionSeen[method]
}

// set mutates the fake under its lock.
func (f *fakeServer) set(fn func(f *fakeServer)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

func (f *fakeServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != f.path {
		http.NotFound(w, r)
		return
	}

	f.mu.Lock()
	down := f.down
	f.mu.Unlock()
	if down {
		http.Error(w, "maintenance", http.StatusServiceUnavailable)
		return
	}

	switch r.Method {
	case http.MethodGet:
		// No standalone event stream: replies travel on the POST responses.
		http.Error(w, "no event stream", http.StatusMethodNotAllowed)
		return
	case http.MethodPost:
		body, _ := io.ReadAll(r.Body)
		r.Body = io.NopCloser(bytes.NewReader(body))

		var msg struct {
			ID     json.RawMessage `json:"id"`
			Method string          `json:"method"`
		}
		_ = json.Unmarshal(body, &msg)
		session := r.Header.Get(headerSessionID)

		f.mu.Lock()
		if msg.Method != "" {
			f.methods = append(f.methods, msg.Method)
			f.sessionSeen[msg.Method] = session
		}
		expire := f.expireNext && session != "" && len(msg.ID) > 0
		if expire {
			f.expireNext = false
		}
		f.mu.Unlock()

		if expire {
			http.NotFound(w, r)
			return
		}
	}
	f.handler.ServeHTTP(w, r)
}

func textResult(text string, isError bool) *sdk.CallToolResult {
	return &sdk.CallToolResult{
		Content: []sdk.Content{&sdk.TextContent{Text: text}},
		IsError: isError,
	}
}
