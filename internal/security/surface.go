// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Pagewarden Contributors

package security

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/sigil-dev/pagewarden/internal/security/scanner"
	pwerr "github.com/sigil-dev/pagewarden/pkg/errors"
)

// DecisionRequest is what a human is asked to approve.
type DecisionRequest struct {
	ID          string           `json:"id"`
	Capability  Capability       `json:"capability"`
	Origin      string           `json:"origin"`
	Reason      string           `json:"reason"`
	Sensitivity scanner.Severity `json:"sensitivity"`
	Tool        string           `json:"tool,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
}

// Decision is the human's answer. Scope is ignored when Granted is false.
type Decision struct {
	Granted bool  `json:"granted"`
	Scope   Scope `json:"scope,omitempty"`
}

// DecisionSurface presents a permission request to a human and blocks
// until they answer. There is no timeout on human consent; an error means
// the surface itself could not be reached.
type DecisionSurface interface {
	Present(ctx context.Context, req DecisionRequest) (Decision, error)
}

// DecisionBroker is a DecisionSurface for remote clients. Present parks the
// request until Resolve is called with its id, typically from the HTTP API.
type DecisionBroker struct {
	mu      sync.Mutex
	pending map[string]*pendingDecision
	closed  bool
	notify  func(DecisionRequest)
}

type pendingDecision struct {
	req DecisionRequest
	ch  chan Decision
}

var _ DecisionSurface = (*DecisionBroker)(nil)

// NewDecisionBroker creates an empty broker. notify, if non-nil, is called
// for every newly parked request.
func NewDecisionBroker(notify func(DecisionRequest)) *DecisionBroker {
	return &DecisionBroker{pending: make(map[string]*pendingDecision), notify: notify}
}

func (b *DecisionBroker) Present(ctx context.Context, req DecisionRequest) (Decision, error) {
	if req.ID == "" {
		return Decision{}, pwerr.New(pwerr.CodePermissionInvalidInput, "decision request needs an id")
	}

	p := &pendingDecision{req: req, ch: make(chan Decision, 1)}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return Decision{}, pwerr.New(pwerr.CodePermissionSurfaceFailure, "decision broker is closed")
	}
	b.pending[req.ID] = p
	notify := b.notify
	b.mu.Unlock()

	if notify != nil {
		notify(req)
	}

	select {
	case d, ok := <-p.ch:
		if !ok {
			return Decision{}, pwerr.New(pwerr.CodePermissionSurfaceFailure, "decision broker closed while waiting")
		}
		return d, nil
	case <-ctx.Done():
		b.mu.Lock()
		delete(b.pending, req.ID)
		b.mu.Unlock()
		return Decision{}, ctx.Err()
	}
}

// Pending lists parked requests, oldest first.
func (b *DecisionBroker) Pending() []DecisionRequest {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]DecisionRequest, 0, len(b.pending))
	for _, p := range b.pending {
		out = append(out, p.req)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Resolve answers the parked request id.
func (b *DecisionBroker) Resolve(id string, d Decision) error {
	if d.Granted && d.Scope != "" && !d.Scope.Valid() {
		return pwerr.Errorf(pwerr.CodePermissionInvalidInput, "unknown scope %q", d.Scope)
	}

	b.mu.Lock()
	p, ok := b.pending[id]
	if ok {
		delete(b.pending, id)
	}
	b.mu.Unlock()

	if !ok {
		return pwerr.New(pwerr.CodePermissionNotFound, "no pending decision with id "+id)
	}
	p.ch <- d
	return nil
}

// Close fails every parked request and rejects new ones.
func (b *DecisionBroker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, p := range b.pending {
		close(p.ch)
		delete(b.pending, id)
	}
}
