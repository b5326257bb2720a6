// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Pagewarden Contributors

package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"

	pwerr "github.com/sigil-dev/pagewarden/pkg/errors"
)

// DefaultEndpointPath is tried before the bare base URL when resolving.
const DefaultEndpointPath = "/mcp"

// maxToolPages bounds tools/list pagination.
const maxToolPages = 20

var implementation = &sdk.Implementation{Name: "pagewarden", Version: "1"}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient replaces the HTTP client used by the transport.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.http = hc }
}

// WithTimeout bounds each handshake and call. Zero means unbounded.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) { c.timeout = d }
}

// WithEndpointPath sets the path tried before the base URL. An empty path
// tries the base URL only.
func WithEndpointPath(p string) ClientOption {
	return func(c *Client) { c.endpointPath = p }
}

// WithEndpoint restores a previously resolved endpoint so the client can
// skip resolving.
func WithEndpoint(endpoint string) ClientOption {
	return func(c *Client) { c.endpoint = endpoint }
}

// WithClientLogger sets the logger.
func WithClientLogger(l *slog.Logger) ClientOption {
	return func(c *Client) { c.logger = l }
}

// Client talks to one MCP server through a single protocol session, opened
// on first use and reopened after any failed request.
type Client struct {
	baseURL      string
	endpointPath string
	http         *http.Client
	timeout      time.Duration
	logger       *slog.Logger
	sdk          *sdk.Client

	mu       sync.Mutex
	endpoint string
	session  *sdk.ClientSession
}

// NewClient creates a client for the server at baseURL. No request is made
// until Resolve or a call.
func NewClient(baseURL string, opts ...ClientOption) (*Client, error) {
	base, err := NormalizeBaseURL(baseURL)
	if err != nil {
		return nil, err
	}

	c := &Client{
		baseURL:      base,
		endpointPath: DefaultEndpointPath,
		http:         http.DefaultClient,
		logger:       slog.Default(),
		sdk:          sdk.NewClient(implementation, nil),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// NormalizeBaseURL validates an http(s) URL and strips trailing slashes.
func NormalizeBaseURL(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", pwerr.Wrap(err, pwerr.CodeMCPInvalidInput, "parsing server url")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", pwerr.Errorf(pwerr.CodeMCPInvalidInput, "server url must be http or https, got %q", raw)
	}
	if u.Host == "" {
		return "", pwerr.Errorf(pwerr.CodeMCPInvalidInput, "server url has no host: %q", raw)
	}
	u.RawQuery = ""
	u.Fragment = ""
	return strings.TrimRight(u.String(), "/"), nil
}

// BaseURL returns the normalized base URL.
func (c *Client) BaseURL() string { return c.baseURL }

// Endpoint returns the resolved or restored endpoint, or "" when unknown.
func (c *Client) Endpoint() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.endpoint
}

// SessionID returns the server-assigned session id of the open session, if
// any.
func (c *Client) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return ""
	}
	return c.session.ID()
}

// Resolve finds the server's endpoint by running the initialize handshake
// against <base><endpoint path> and then <base>. The first candidate that
// completes it becomes the endpoint and keeps its session open.
func (c *Client) Resolve(ctx context.Context) (string, error) {
	candidates := []string{c.baseURL}
	if c.endpointPath != "" {
		candidates = []string{c.baseURL + c.endpointPath, c.baseURL}
	}

	var errs []error
	for _, ep := range candidates {
		cs, err := c.connect(ctx, ep)
		if err != nil {
			c.logger.Debug("mcp endpoint candidate failed", "endpoint", ep, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", ep, err))
			if ctx.Err() != nil {
				break
			}
			continue
		}

		c.setSession(ep, cs)
		return ep, nil
	}

	return "", pwerr.Wrap(errors.Join(errs...), pwerr.CodeMCPConnectFailure,
		"no MCP endpoint answered at "+c.baseURL)
}

// ListTools returns every tool the server advertises, following pagination.
// Listing has no side effects, so a failure on an open session is retried
// once on a fresh one.
func (c *Client) ListTools(ctx context.Context) ([]Tool, error) {
	tools, err := c.listTools(ctx)
	if err != nil && ctx.Err() == nil && c.dropSession() {
		c.logger.Info("mcp session failed, re-initializing", "endpoint", c.Endpoint(), "error", err)
		tools, err = c.listTools(ctx)
	}
	return tools, err
}

func (c *Client) listTools(ctx context.Context) ([]Tool, error) {
	cs, err := c.open(ctx)
	if err != nil {
		return nil, err
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	var (
		tools  []Tool
		cursor string
	)
	for range maxToolPages {
		page, err := cs.ListTools(ctx, &sdk.ListToolsParams{Cursor: cursor})
		if err != nil {
			return nil, classify(ctx, err, pwerr.CodeMCPProtocolInvalid, "tools/list failed")
		}
		for _, t := range page.Tools {
			if t != nil && t.Name != "" {
				tools = append(tools, toolFromSDK(t))
			}
		}
		if page.NextCursor == "" || page.NextCursor == cursor {
			break
		}
		cursor = page.NextCursor
	}
	return tools, nil
}

// CallTool invokes name with JSON arguments and returns the joined text
// content. A result flagged isError becomes a CodeMCPToolFailure error
// carrying the server's text. Calls are never retried. A failed request drops
// the session; when the server then refuses a fresh handshake the failure is
// a CodeMCPConnectFailure, otherwise the server answered and it is a
// CodeMCPToolFailure.
func (c *Client) CallTool(ctx context.Context, name string, args json.RawMessage) (string, error) {
	cs, err := c.open(ctx)
	if err != nil {
		return "", pwerr.With(err, pwerr.FieldTool(name))
	}
	if len(args) == 0 {
		args = json.RawMessage("{}")
	}

	callCtx, cancel := c.withTimeout(ctx)
	defer cancel()

	res, err := cs.CallTool(callCtx, &sdk.CallToolParams{Name: name, Arguments: args})
	if err != nil {
		c.dropSession()
		return "", pwerr.With(c.callFailure(ctx, callCtx, err), pwerr.FieldTool(name))
	}

	text := resultText(res)
	if res.IsError {
		if text == "" {
			text = "tool reported an error"
		}
		return "", pwerr.New(pwerr.CodeMCPToolFailure, text, pwerr.FieldTool(name))
	}
	return text, nil
}

// callFailure codes a failed tools/call request. The server's reachability
// decides between a connect failure and a tool failure.
func (c *Client) callFailure(ctx, callCtx context.Context, err error) error {
	if transportFailure(callCtx, err) {
		return pwerr.Wrap(err, pwerr.CodeMCPConnectFailure, "tools/call failed")
	}
	if ctx.Err() == nil {
		if _, reErr := c.open(ctx); reErr != nil {
			c.logger.Debug("mcp server unreachable after failed call", "endpoint", c.Endpoint(), "error", reErr)
			return pwerr.Wrap(err, pwerr.CodeMCPConnectFailure, "tools/call failed and the server is unreachable")
		}
	}
	return pwerr.Wrap(err, pwerr.CodeMCPToolFailure, "tools/call failed")
}

// Close ends the open session, if any.
func (c *Client) Close() error {
	c.mu.Lock()
	cs := c.session
	c.session = nil
	c.mu.Unlock()
	if cs == nil {
		return nil
	}
	return cs.Close()
}

// open returns the live session. A restored endpoint is tried directly;
// resolving is the fallback.
func (c *Client) open(ctx context.Context) (*sdk.ClientSession, error) {
	c.mu.Lock()
	endpoint, cs := c.endpoint, c.session
	c.mu.Unlock()

	if cs != nil {
		return cs, nil
	}
	if endpoint != "" {
		cs, err := c.connect(ctx, endpoint)
		if err == nil {
			c.setSession(endpoint, cs)
			return cs, nil
		}
		c.logger.Debug("saved mcp endpoint failed, resolving", "endpoint", endpoint, "error", err)
	}

	if _, err := c.Resolve(ctx); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session, nil
}

// connect runs the initialize handshake against endpoint.
func (c *Client) connect(ctx context.Context, endpoint string) (*sdk.ClientSession, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	transport := &sdk.StreamableClientTransport{Endpoint: endpoint, HTTPClient: c.http}
	cs, err := c.sdk.Connect(ctx, transport, nil)
	if err != nil {
		return nil, pwerr.Wrap(err, pwerr.CodeMCPConnectFailure, "initialize at "+endpoint)
	}
	return cs, nil
}

func (c *Client) setSession(endpoint string, cs *sdk.ClientSession) {
	c.mu.Lock()
	old := c.session
	c.endpoint = endpoint
	c.session = cs
	c.mu.Unlock()

	if old != nil && old != cs {
		_ = old.Close()
	}
}

// dropSession closes the open session and reports whether there was one.
func (c *Client) dropSession() bool {
	c.mu.Lock()
	cs := c.session
	c.session = nil
	c.mu.Unlock()

	if cs == nil {
		return false
	}
	_ = cs.Close()
	return true
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.timeout)
}

// classify maps a request failure to a code: transport failures and
// deadlines are connect failures, anything the server answered is code.
func classify(ctx context.Context, err error, code pwerr.Code, msg string) error {
	if transportFailure(ctx, err) {
		return pwerr.Wrap(err, pwerr.CodeMCPConnectFailure, msg)
	}
	return pwerr.Wrap(err, code, msg)
}

func transportFailure(ctx context.Context, err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) || errors.Is(ctx.Err(), context.DeadlineExceeded)
}
