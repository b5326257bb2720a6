// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Pagewarden Contributors

package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sigil-dev/pagewarden/internal/store"
	pwerr "github.com/sigil-dev/pagewarden/pkg/errors"
)

// Status is the connection state of a registered server.
type Status string

const (
	StatusConnected    Status = "connected"
	StatusDisconnected Status = "disconnected"
	StatusError        Status = "error"
)

// Server is a registered remote tool server.
type Server struct {
	ID            string     `json:"id"`
	Name          string     `json:"name"`
	BaseURL       string     `json:"base_url"`
	Endpoint      string     `json:"endpoint,omitempty"`
	Enabled       bool       `json:"enabled"`
	Status        Status     `json:"status"`
	Tools         []Tool     `json:"tools"`
	LastConnected *time.Time `json:"last_connected,omitempty"`
	LastError     string     `json:"last_error,omitempty"`
}

// Origin is the scheme and host of the server, used as the permission origin
// for data sent to it.
func (s Server) Origin() string {
	u, err := url.Parse(s.BaseURL)
	if err != nil {
		return s.BaseURL
	}
	return u.Scheme + "://" + u.Host
}

// RemoteTool is a tool offered by an enabled, connected server.
type RemoteTool struct {
	ServerID   string
	ServerName string
	Origin     string
	Tool       Tool
}

// ClientFactory builds a client for a server base URL and a previously
// resolved endpoint, which may be empty.
type ClientFactory func(baseURL, endpoint string) (*Client, error)

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithClientFactory replaces how clients are built.
func WithClientFactory(f ClientFactory) RegistryOption {
	return func(r *Registry) { r.newClient = f }
}

// WithRegistryLogger sets the logger.
func WithRegistryLogger(l *slog.Logger) RegistryOption {
	return func(r *Registry) { r.logger = l }
}

// HTTPClientFactory builds clients sharing one http.Client. timeout bounds
// each handshake and call; sessions themselves are long-lived.
func HTTPClientFactory(timeout time.Duration, endpointPath string) ClientFactory {
	hc := &http.Client{}
	return func(baseURL, endpoint string) (*Client, error) {
		opts := []ClientOption{WithHTTPClient(hc), WithTimeout(timeout), WithEndpointPath(endpointPath)}
		if endpoint != "" {
			opts = append(opts, WithEndpoint(endpoint))
		}
		return NewClient(baseURL, opts...)
	}
}

// Registry holds the user's remote tool servers and their live clients. The
// server list is persisted as one document.
type Registry struct {
	mu        sync.Mutex
	servers   map[string]*Server
	clients   map[string]*Client
	store     store.DocumentStore
	newClient ClientFactory
	logger    *slog.Logger
	nowFn     func() time.Time
}

// NewRegistry creates an empty registry. s may be nil for an unpersisted
// registry.
func NewRegistry(s store.DocumentStore, opts ...RegistryOption) *Registry {
	r := &Registry{
		servers:   make(map[string]*Server),
		clients:   make(map[string]*Client),
		store:     s,
		newClient: HTTPClientFactory(15*time.Second, DefaultEndpointPath),
		logger:    slog.Default(),
		nowFn:     time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// SetNowFunc overrides the clock. Used by tests.
func (r *Registry) SetNowFunc(fn func() time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nowFn = fn
}

// Load restores persisted servers. Restored servers start disconnected; their
// clients are rebuilt lazily from the saved endpoint.
func (r *Registry) Load(ctx context.Context) error {
	if r.store == nil {
		return nil
	}

	var saved []Server
	if _, err := store.Load(ctx, r.store, store.KeyMCPServers, &saved); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range saved {
		s := saved[i]
		if s.ID == "" {
			continue
		}
		if s.Status == StatusConnected {
			s.Status = StatusDisconnected
		}
		r.servers[s.ID] = &s
	}
	return nil
}

// Connect registers a new server: it resolves the endpoint, lists tools and
// stores the result. Nothing is stored when the server cannot be reached.
func (r *Registry) Connect(ctx context.Context, name, baseURL string) (Server, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Server{}, pwerr.New(pwerr.CodeMCPInvalidInput, "server name is required")
	}
	base, err := NormalizeBaseURL(baseURL)
	if err != nil {
		return Server{}, err
	}

	r.mu.Lock()
	for _, s := range r.servers {
		if strings.EqualFold(s.Name, name) {
			r.mu.Unlock()
			return Server{}, pwerr.New(pwerr.CodeMCPServerConflict, "a server named "+name+" already exists",
				pwerr.FieldServer(s.ID))
		}
		if s.BaseURL == base {
			r.mu.Unlock()
			return Server{}, pwerr.New(pwerr.CodeMCPServerConflict, base+" is already registered as "+s.Name,
				pwerr.FieldServer(s.ID))
		}
	}
	r.mu.Unlock()

	client, err := r.newClient(base, "")
	if err != nil {
		return Server{}, err
	}
	endpoint, tools, err := discover(ctx, client)
	if err != nil {
		_ = client.Close()
		return Server{}, err
	}

	now := r.now()
	s := &Server{
		ID:            uuid.NewString(),
		Name:          name,
		BaseURL:       base,
		Endpoint:      endpoint,
		Enabled:       true,
		Status:        StatusConnected,
		Tools:         tools,
		LastConnected: &now,
	}

	r.mu.Lock()
	r.servers[s.ID] = s
	r.clients[s.ID] = client
	out := cloneServer(s)
	r.mu.Unlock()

	r.logger.Info("mcp server connected", "server", name, "endpoint", endpoint, "tools", len(tools))
	return out, r.persist(ctx)
}

func discover(ctx context.Context, c *Client) (string, []Tool, error) {
	endpoint, err := c.Resolve(ctx)
	if err != nil {
		return "", nil, err
	}
	tools, err := c.ListTools(ctx)
	if err != nil {
		return "", nil, err
	}
	return endpoint, tools, nil
}

// Delete removes a server.
func (r *Registry) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	if _, ok := r.servers[id]; !ok {
		r.mu.Unlock()
		return notFound(id)
	}
	delete(r.servers, id)
	client := r.clients[id]
	delete(r.clients, id)
	r.mu.Unlock()

	closeClient(client)
	return r.persist(ctx)
}

// SetEnabled toggles whether a server's tools are offered. It never
// reconnects.
func (r *Registry) SetEnabled(ctx context.Context, id string, enabled bool) (Server, error) {
	r.mu.Lock()
	s, ok := r.servers[id]
	if !ok {
		r.mu.Unlock()
		return Server{}, notFound(id)
	}
	s.Enabled = enabled
	out := cloneServer(s)
	r.mu.Unlock()

	return out, r.persist(ctx)
}

// Refresh reconnects a server and replaces its tool list. On failure the
// server is kept with status error and its previous tools.
func (r *Registry) Refresh(ctx context.Context, id string) (Server, error) {
	r.mu.Lock()
	s, ok := r.servers[id]
	if !ok {
		r.mu.Unlock()
		return Server{}, notFound(id)
	}
	base := s.BaseURL
	r.mu.Unlock()

	client, err := r.newClient(base, "")
	if err != nil {
		return Server{}, err
	}
	endpoint, tools, discoverErr := discover(ctx, client)

	r.mu.Lock()
	s, ok = r.servers[id]
	if !ok {
		r.mu.Unlock()
		closeClient(client)
		return Server{}, notFound(id)
	}
	stale := client
	if discoverErr != nil {
		s.Status = StatusError
		s.LastError = discoverErr.Error()
	} else {
		now := r.nowFn()
		s.Endpoint = endpoint
		s.Tools = tools
		s.Status = StatusConnected
		s.LastError = ""
		s.LastConnected = &now
		stale = r.clients[id]
		r.clients[id] = client
	}
	out := cloneServer(s)
	r.mu.Unlock()

	closeClient(stale)

	if err := r.persist(ctx); err != nil {
		return out, err
	}
	if discoverErr != nil {
		r.logger.Warn("mcp server refresh failed", "server", out.Name, "error", discoverErr)
		return out, pwerr.With(discoverErr, pwerr.FieldServer(id))
	}
	return out, nil
}

// List returns every server ordered by name.
func (r *Registry) List() []Server {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sortedLocked()
}

// Get returns one server.
func (r *Registry) Get(id string) (Server, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.servers[id]
	if !ok {
		return Server{}, notFound(id)
	}
	return cloneServer(s), nil
}

// EnabledTools lists the tools of enabled servers ordered by server name.
// Servers in the error state keep offering their last known tools; the next
// Call reconnects them. When two servers offer the same tool name the first
// one wins.
func (r *Registry) EnabledTools() []RemoteTool {
	r.mu.Lock()
	defer r.mu.Unlock()

	seen := make(map[string]bool)
	var out []RemoteTool
	for _, s := range r.sortedLocked() {
		if !s.Enabled {
			continue
		}
		for _, t := range s.Tools {
			if seen[t.Name] {
				continue
			}
			seen[t.Name] = true
			out = append(out, RemoteTool{ServerID: s.ID, ServerName: s.Name, Origin: s.Origin(), Tool: t})
		}
	}
	return out
}

// Call invokes a tool on an enabled server. A transport failure marks the
// server as errored and drops its client, so the next call builds a fresh
// one.
func (r *Registry) Call(ctx context.Context, serverID, tool string, args json.RawMessage) (string, error) {
	client, err := r.client(serverID)
	if err != nil {
		return "", err
	}

	text, err := client.CallTool(ctx, tool, args)
	if err != nil && pwerr.HasCode(err, pwerr.CodeMCPConnectFailure) {
		r.markError(ctx, serverID, err)
	} else if err == nil {
		r.markConnected(ctx, serverID, client)
	}
	if err != nil {
		return "", pwerr.With(err, pwerr.FieldServer(serverID))
	}
	return text, nil
}

func (r *Registry) client(id string) (*Client, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.servers[id]
	if !ok {
		return nil, notFound(id)
	}
	if !s.Enabled {
		return nil, pwerr.New(pwerr.CodeMCPInvalidInput, "server "+s.Name+" is disabled", pwerr.FieldServer(id))
	}
	if c, ok := r.clients[id]; ok {
		return c, nil
	}

	c, err := r.newClient(s.BaseURL, s.Endpoint)
	if err != nil {
		return nil, err
	}
	r.clients[id] = c
	return c, nil
}

func (r *Registry) markError(ctx context.Context, id string, cause error) {
	r.mu.Lock()
	s, ok := r.servers[id]
	var client *Client
	if ok {
		s.Status = StatusError
		s.LastError = cause.Error()
		client = r.clients[id]
		delete(r.clients, id)
	}
	r.mu.Unlock()

	closeClient(client)

	if ok {
		if err := r.persist(ctx); err != nil {
			r.logger.Warn("persisting mcp servers failed", "error", err)
		}
	}
}

func (r *Registry) markConnected(ctx context.Context, id string, c *Client) {
	r.mu.Lock()
	s, ok := r.servers[id]
	changed := ok && (s.Status != StatusConnected || s.Endpoint != c.Endpoint())
	if changed {
		now := r.nowFn()
		s.Status = StatusConnected
		s.Endpoint = c.Endpoint()
		s.LastError = ""
		s.LastConnected = &now
	}
	r.mu.Unlock()

	if changed {
		if err := r.persist(ctx); err != nil {
			r.logger.Warn("persisting mcp servers failed", "error", err)
		}
	}
}

// Close ends every open server session.
func (r *Registry) Close() error {
	r.mu.Lock()
	clients := r.clients
	r.clients = make(map[string]*Client)
	r.mu.Unlock()

	var errs []error
	for _, c := range clients {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func closeClient(c *Client) {
	if c != nil {
		_ = c.Close()
	}
}

func (r *Registry) persist(ctx context.Context) error {
	if r.store == nil {
		return nil
	}
	r.mu.Lock()
	servers := r.sortedLocked()
	r.mu.Unlock()
	return store.Save(context.WithoutCancel(ctx), r.store, store.KeyMCPServers, servers)
}

func (r *Registry) sortedLocked() []Server {
	out := make([]Server, 0, len(r.servers))
	for _, s := range r.servers {
		out = append(out, cloneServer(s))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (r *Registry) now() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.nowFn()
}

func cloneServer(s *Server) Server {
	out := *s
	out.Tools = append([]Tool(nil), s.Tools...)
	if s.LastConnected != nil {
		t := *s.LastConnected
		out.LastConnected = &t
	}
	return out
}

func notFound(id string) error {
	return pwerr.New(pwerr.CodeMCPServerNotFound, "no mcp server with id "+id, pwerr.FieldServer(id))
}
