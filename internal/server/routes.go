// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Pagewarden Contributors

package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/sigil-dev/pagewarden/internal/agent"
	"github.com/sigil-dev/pagewarden/internal/ledger"
	"github.com/sigil-dev/pagewarden/internal/mcp"
	"github.com/sigil-dev/pagewarden/internal/security"
	pwerr "github.com/sigil-dev/pagewarden/pkg/errors"
	"github.com/sigil-dev/pagewarden/pkg/health"
)

// RegisterServices sets the service dependencies and registers REST routes.
func (s *Server) RegisterServices(svc *Services) error {
	if svc == nil {
		return pwerr.New(pwerr.CodeServerConfigInvalid, "services are required")
	}
	if err := svc.validate(); err != nil {
		return err
	}
	s.services = svc
	s.registerRoutes()
	s.registerDecisionStream()
	return nil
}

func (s *Server) registerRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "status",
		Method:      http.MethodGet,
		Path:        "/api/v1/status",
		Summary:     "Backend and task status",
		Tags:        []string{"system"},
	}, s.handleStatus)

	// Tasks
	huma.Register(s.api, huma.Operation{
		OperationID: "submit-task",
		Method:      http.MethodPost,
		Path:        "/api/v1/tasks",
		Summary:     "Run a task and wait for its outcome",
		Description: "Only one task runs at a time; a second submission while one is running gets 409.",
		Tags:        []string{"tasks"},
	}, s.handleSubmitTask)

	// Decisions
	huma.Register(s.api, huma.Operation{
		OperationID: "list-decisions",
		Method:      http.MethodGet,
		Path:        "/api/v1/decisions",
		Summary:     "List permission requests waiting for an answer",
		Tags:        []string{"decisions"},
	}, s.handleListDecisions)

	huma.Register(s.api, huma.Operation{
		OperationID: "resolve-decision",
		Method:      http.MethodPost,
		Path:        "/api/v1/decisions/{id}",
		Summary:     "Grant or deny a pending permission request",
		Tags:        []string{"decisions"},
	}, s.handleResolveDecision)

	// Session and grants
	huma.Register(s.api, huma.Operation{
		OperationID: "get-session",
		Method:      http.MethodGet,
		Path:        "/api/v1/session",
		Summary:     "Current session ledger",
		Tags:        []string{"session"},
	}, s.handleGetSession)

	huma.Register(s.api, huma.Operation{
		OperationID: "list-grants",
		Method:      http.MethodGet,
		Path:        "/api/v1/grants",
		Summary:     "List active grants",
		Tags:        []string{"grants"},
	}, s.handleListGrants)

	huma.Register(s.api, huma.Operation{
		OperationID: "revoke-grant",
		Method:      http.MethodPost,
		Path:        "/api/v1/grants/revoke",
		Summary:     "Revoke one grant",
		Tags:        []string{"grants"},
	}, s.handleRevokeGrant)

	// MCP servers
	huma.Register(s.api, huma.Operation{
		OperationID: "list-mcp-servers",
		Method:      http.MethodGet,
		Path:        "/api/v1/mcp/servers",
		Summary:     "List registered MCP servers",
		Tags:        []string{"mcp"},
	}, s.handleListServers)

	huma.Register(s.api, huma.Operation{
		OperationID: "get-mcp-server",
		Method:      http.MethodGet,
		Path:        "/api/v1/mcp/servers/{id}",
		Summary:     "Get an MCP server",
		Tags:        []string{"mcp"},
	}, s.handleGetServer)

	huma.Register(s.api, huma.Operation{
		OperationID:   "add-mcp-server",
		Method:        http.MethodPost,
		Path:          "/api/v1/mcp/servers",
		Summary:       "Connect and register an MCP server",
		Tags:          []string{"mcp"},
		DefaultStatus: http.StatusCreated,
	}, s.handleAddServer)

	huma.Register(s.api, huma.Operation{
		OperationID:   "delete-mcp-server",
		Method:        http.MethodDelete,
		Path:          "/api/v1/mcp/servers/{id}",
		Summary:       "Remove an MCP server",
		Tags:          []string{"mcp"},
		DefaultStatus: http.StatusNoContent,
	}, s.handleDeleteServer)

	huma.Register(s.api, huma.Operation{
		OperationID: "enable-mcp-server",
		Method:      http.MethodPost,
		Path:        "/api/v1/mcp/servers/{id}/enable",
		Summary:     "Offer the server's tools to the model",
		Tags:        []string{"mcp"},
	}, s.enableHandler(true))

	huma.Register(s.api, huma.Operation{
		OperationID: "disable-mcp-server",
		Method:      http.MethodPost,
		Path:        "/api/v1/mcp/servers/{id}/disable",
		Summary:     "Stop offering the server's tools",
		Tags:        []string{"mcp"},
	}, s.enableHandler(false))

	huma.Register(s.api, huma.Operation{
		OperationID: "refresh-mcp-server",
		Method:      http.MethodPost,
		Path:        "/api/v1/mcp/servers/{id}/refresh",
		Summary:     "Reconnect a server and reload its tools",
		Tags:        []string{"mcp"},
	}, s.handleRefreshServer)
}

// --- Request/Response types for huma ---

// BackendStatus describes the active LLM backend.
type BackendStatus struct {
	Name     string         `json:"name"`
	Location string         `json:"location" enum:"local,cloud"`
	Health   health.Metrics `json:"health"`
}

type statusOutput struct {
	Body struct {
		Status    string         `json:"status" example:"ok"`
		Busy      bool           `json:"busy" doc:"A task is running"`
		SessionID string         `json:"session_id"`
		Backend   *BackendStatus `json:"backend,omitempty"`
	}
}

type submitTaskInput struct {
	Body struct {
		Intent string `json:"intent" minLength:"1" doc:"What the user wants done"`
		Handle string `json:"handle,omitempty" doc:"Content handle of an open page"`
		URL    string `json:"url,omitempty" doc:"Page to open when no handle is given"`
		Mode   string `json:"mode,omitempty" enum:"loop,plan" doc:"loop (default) or plan"`
	}
}
type taskOutput struct {
	Body *agent.Outcome
}

type listDecisionsOutput struct {
	Body struct {
		Decisions []security.DecisionRequest `json:"decisions"`
	}
}

type resolveDecisionInput struct {
	ID   string `path:"id"`
	Body struct {
		Granted bool   `json:"granted"`
		Scope   string `json:"scope,omitempty" enum:"page,site,task" doc:"Grant scope, page when omitted"`
	}
}

type statusBody struct {
	Body struct {
		Status string `json:"status"`
	}
}

func statusReply(status string) *statusBody {
	out := &statusBody{}
	out.Body.Status = status
	return out
}

type sessionOutput struct {
	Body ledger.Session
}

type listGrantsOutput struct {
	Body struct {
		Grants []security.Grant `json:"grants"`
	}
}

type revokeGrantInput struct {
	Body struct {
		Capability string `json:"capability" enum:"read,act,send-external"`
		Origin     string `json:"origin" minLength:"1"`
		Handle     string `json:"handle,omitempty"`
	}
}

type listServersOutput struct {
	Body struct {
		Servers []mcp.Server `json:"servers"`
	}
}

type serverIDInput struct {
	ID string `path:"id"`
}

type serverOutput struct {
	Body mcp.Server
}

type addServerInput struct {
	Body struct {
		Name string `json:"name" minLength:"1"`
		URL  string `json:"url" minLength:"1" doc:"Base URL; the /mcp endpoint is tried first"`
	}
}

// --- Handlers ---

func (s *Server) handleStatus(_ context.Context, _ *struct{}) (*statusOutput, error) {
	out := &statusOutput{}
	out.Body.Status = "ok"
	out.Body.Busy = s.services.Runner.Busy()
	out.Body.SessionID = s.services.Session.Snapshot().ID
	if b := s.services.Backend; b != nil {
		out.Body.Backend = &BackendStatus{
			Name:     b.BackendName(),
			Location: string(b.Location()),
			Health:   b.Health(),
		}
	}
	return out, nil
}

func (s *Server) handleSubmitTask(ctx context.Context, input *submitTaskInput) (*taskOutput, error) {
	task := agent.Task{Intent: input.Body.Intent, Handle: input.Body.Handle}

	var outcome *agent.Outcome
	err := s.services.Runner.Do(ctx, func(ctx context.Context) error {
		if task.Handle == "" && input.Body.URL != "" {
			if s.services.Pages == nil {
				return pwerr.New(pwerr.CodeServerRequestInvalid, "this server cannot open pages; pass a handle")
			}
			handle, err := s.services.Pages.Open(ctx, input.Body.URL)
			if err != nil {
				return err
			}
			task.Handle = handle
		}

		var err error
		if input.Body.Mode == "plan" {
			outcome, err = s.services.Tasks.RunPlan(ctx, task)
		} else {
			outcome, err = s.services.Tasks.Run(ctx, task)
		}
		return err
	})
	if err != nil {
		return nil, apiError(err)
	}
	return &taskOutput{Body: outcome}, nil
}

func (s *Server) handleListDecisions(_ context.Context, _ *struct{}) (*listDecisionsOutput, error) {
	out := &listDecisionsOutput{}
	out.Body.Decisions = s.services.Decisions.Pending()
	return out, nil
}

func (s *Server) handleResolveDecision(_ context.Context, input *resolveDecisionInput) (*statusBody, error) {
	d := security.Decision{Granted: input.Body.Granted, Scope: security.Scope(input.Body.Scope)}
	if err := s.services.Decisions.Resolve(input.ID, d); err != nil {
		return nil, apiError(err)
	}
	if d.Granted {
		return statusReply("granted"), nil
	}
	return statusReply("denied"), nil
}

func (s *Server) handleGetSession(_ context.Context, _ *struct{}) (*sessionOutput, error) {
	return &sessionOutput{Body: s.services.Session.Snapshot()}, nil
}

func (s *Server) handleListGrants(_ context.Context, _ *struct{}) (*listGrantsOutput, error) {
	out := &listGrantsOutput{}
	out.Body.Grants = s.services.Grants.Active()
	return out, nil
}

func (s *Server) handleRevokeGrant(ctx context.Context, input *revokeGrantInput) (*statusBody, error) {
	c := security.Capability(input.Body.Capability)
	if !s.services.Grants.Revoke(ctx, c, input.Body.Origin, input.Body.Handle) {
		return nil, huma.Error404NotFound("no matching grant")
	}
	return statusReply("revoked"), nil
}

func (s *Server) handleListServers(_ context.Context, _ *struct{}) (*listServersOutput, error) {
	out := &listServersOutput{}
	out.Body.Servers = s.services.MCP.List()
	return out, nil
}

func (s *Server) handleGetServer(_ context.Context, input *serverIDInput) (*serverOutput, error) {
	srv, err := s.services.MCP.Get(input.ID)
	if err != nil {
		return nil, apiError(err)
	}
	return &serverOutput{Body: srv}, nil
}

func (s *Server) handleAddServer(ctx context.Context, input *addServerInput) (*serverOutput, error) {
	srv, err := s.services.MCP.Connect(ctx, input.Body.Name, input.Body.URL)
	if err != nil {
		return nil, apiError(err)
	}
	return &serverOutput{Body: srv}, nil
}

func (s *Server) handleDeleteServer(ctx context.Context, input *serverIDInput) (*struct{}, error) {
	if err := s.services.MCP.Delete(ctx, input.ID); err != nil {
		return nil, apiError(err)
	}
	return nil, nil
}

func (s *Server) enableHandler(enabled bool) func(context.Context, *serverIDInput) (*serverOutput, error) {
	return func(ctx context.Context, input *serverIDInput) (*serverOutput, error) {
		srv, err := s.services.MCP.SetEnabled(ctx, input.ID, enabled)
		if err != nil {
			return nil, apiError(err)
		}
		return &serverOutput{Body: srv}, nil
	}
}

func (s *Server) handleRefreshServer(ctx context.Context, input *serverIDInput) (*serverOutput, error) {
	srv, err := s.services.MCP.Refresh(ctx, input.ID)
	if err != nil {
		return nil, apiError(err)
	}
	return &serverOutput{Body: srv}, nil
}
