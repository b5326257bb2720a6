// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Pagewarden Contributors

package server

import (
	"context"

	"github.com/sigil-dev/pagewarden/internal/agent"
	"github.com/sigil-dev/pagewarden/internal/ledger"
	"github.com/sigil-dev/pagewarden/internal/mcp"
	"github.com/sigil-dev/pagewarden/internal/provider"
	"github.com/sigil-dev/pagewarden/internal/security"
	pwerr "github.com/sigil-dev/pagewarden/pkg/errors"
	"github.com/sigil-dev/pagewarden/pkg/health"
)

// TaskService runs tasks. *agent.Loop implements it.
type TaskService interface {
	Run(ctx context.Context, task agent.Task) (*agent.Outcome, error)
	RunPlan(ctx context.Context, task agent.Task) (*agent.Outcome, error)
}

// DecisionService holds permission requests waiting for a human.
// *security.DecisionBroker implements it.
type DecisionService interface {
	Pending() []security.DecisionRequest
	Resolve(id string, d security.Decision) error
}

// GrantService lists and revokes grants. *security.Guard implements it.
type GrantService interface {
	Active() []security.Grant
	Revoke(ctx context.Context, c security.Capability, origin, handle string) bool
}

// SessionService reads the current session. *ledger.Ledger implements it.
type SessionService interface {
	Snapshot() ledger.Session
}

// MCPService manages remote tool servers. *mcp.Registry implements it.
type MCPService interface {
	List() []mcp.Server
	Get(id string) (mcp.Server, error)
	Connect(ctx context.Context, name, baseURL string) (mcp.Server, error)
	Delete(ctx context.Context, id string) error
	SetEnabled(ctx context.Context, id string, enabled bool) (mcp.Server, error)
	Refresh(ctx context.Context, id string) (mcp.Server, error)
}

// BackendService describes the active LLM backend. *provider.Gateway
// implements it.
type BackendService interface {
	BackendName() string
	Location() provider.Location
	Health() health.Metrics
}

// PageService opens pages for tasks that name a URL instead of a handle.
// *browser.Executor implements it.
type PageService interface {
	Open(ctx context.Context, url string) (string, error)
}

// Services holds the dependencies behind the REST routes. Tasks, Runner,
// Decisions, Grants, Session and MCP are required; Backend, Pages and
// Hub are optional.
type Services struct {
	Tasks     TaskService
	Runner    *agent.Runner
	Decisions DecisionService
	Grants    GrantService
	Session   SessionService
	MCP       MCPService
	Backend   BackendService
	Pages     PageService
	Hub       *Hub
}

func (s *Services) validate() error {
	var missing []string
	if s.Tasks == nil {
		missing = append(missing, "Tasks")
	}
	if s.Runner == nil {
		missing = append(missing, "Runner")
	}
	if s.Decisions == nil {
		missing = append(missing, "Decisions")
	}
	if s.Grants == nil {
		missing = append(missing, "Grants")
	}
	if s.Session == nil {
		missing = append(missing, "Session")
	}
	if s.MCP == nil {
		missing = append(missing, "MCP")
	}
	if len(missing) > 0 {
		return pwerr.Errorf(pwerr.CodeServerConfigInvalid, "missing services: %v", missing)
	}
	return nil
}
