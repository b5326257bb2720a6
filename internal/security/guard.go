// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Pagewarden Contributors

package security

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/sigil-dev/pagewarden/internal/ledger"
	"github.com/sigil-dev/pagewarden/internal/security/scanner"
	"github.com/sigil-dev/pagewarden/internal/store"
	pwerr "github.com/sigil-dev/pagewarden/pkg/errors"
)

// PersistLogEscalationThreshold is the number of consecutive grant
// persistence failures after which the log level escalates from Warn to Error.
const PersistLogEscalationThreshold = 3

// Request asks for one capability on behalf of a tool call.
type Request struct {
	Capability  Capability
	Origin      string
	Handle      string
	Reason      string
	Sensitivity scanner.Severity
	Tool        string
}

// Validate checks that the capability is known.
func (r Request) Validate() error {
	if !r.Capability.Valid() {
		return pwerr.Errorf(pwerr.CodePermissionInvalidInput, "unknown capability %q", r.Capability)
	}
	return nil
}

// Recorder receives audit events. *ledger.Ledger implements it.
type Recorder interface {
	Record(ev ledger.AuditEvent) ledger.AuditEvent
}

// FailurePolicy decides what happens when the decision surface cannot be
// reached. It returns true to auto-grant at page scope.
type FailurePolicy func(c Capability, local bool) bool

// ActFailOpenLocal auto-grants only act, and only while the local backend is
// active. Every other capability is denied.
func ActFailOpenLocal(c Capability, local bool) bool {
	return c == CapabilityAct && local
}

// GuardOption configures a Guard.
type GuardOption func(*Guard)

// WithStore persists the grant set as one document.
func WithStore(s store.DocumentStore) GuardOption {
	return func(g *Guard) { g.store = s }
}

// WithRecorder sends audit events to r.
func WithRecorder(r Recorder) GuardOption {
	return func(g *Guard) { g.recorder = r }
}

// WithLocalBackend reports whether the active backend is the local one.
func WithLocalBackend(fn func() bool) GuardOption {
	return func(g *Guard) { g.isLocal = fn }
}

// WithFailurePolicy replaces ActFailOpenLocal.
func WithFailurePolicy(p FailurePolicy) GuardOption {
	return func(g *Guard) { g.onFailure = p }
}

// WithGuardLogger sets the logger.
func WithGuardLogger(l *slog.Logger) GuardOption {
	return func(g *Guard) { g.logger = l }
}

// Guard decides whether a capability may be used. It owns the grant set.
type Guard struct {
	mu        sync.Mutex
	grants    map[grantKey]Grant
	surface   DecisionSurface
	recorder  Recorder
	store     store.DocumentStore
	isLocal   func() bool
	onFailure FailurePolicy
	logger    *slog.Logger
	nowFn     func() time.Time

	persistFailCount atomic.Int64
}

// NewGuard creates a Guard that asks surface when a human decision is needed.
func NewGuard(surface DecisionSurface, opts ...GuardOption) *Guard {
	g := &Guard{
		grants:    make(map[grantKey]Grant),
		surface:   surface,
		isLocal:   func() bool { return false },
		onFailure: ActFailOpenLocal,
		logger:    slog.Default(),
		nowFn:     time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// SetNowFunc overrides the clock. Used by tests.
func (g *Guard) SetNowFunc(fn func() time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.nowFn = fn
}

// SetSurface swaps the decision surface, e.g. when a CLI session takes over.
func (g *Guard) SetSurface(s DecisionSurface) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.surface = s
}

// Load restores persisted grants, dropping expired ones.
func (g *Guard) Load(ctx context.Context) error {
	if g.store == nil {
		return nil
	}

	var saved []Grant
	if _, err := store.Load(ctx, g.store, store.KeyGrants, &saved); err != nil {
		return err
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	now := g.nowFn()
	for _, gr := range saved {
		if !gr.Capability.Valid() || !gr.Scope.Valid() || gr.Expired(now) {
			continue
		}
		g.grants[gr.key()] = gr
	}
	return nil
}

// Ensure returns true when req may proceed. It asks the decision surface
// only when no covering grant exists and no auto-grant rule applies. A
// denial is a normal outcome and returns false with a nil error.
func (g *Guard) Ensure(ctx context.Context, req Request) (bool, error) {
	if err := req.Validate(); err != nil {
		return false, err
	}

	if g.covered(req) {
		return true, nil
	}
	if g.autoGrantRead(ctx, req) {
		return true, nil
	}

	g.record(ledger.AuditEvent{
		Type:   ledger.EventPermissionRequested,
		Origin: req.Origin,
		Detail: requestDetail(req),
	})

	g.mu.Lock()
	surface := g.surface
	g.mu.Unlock()

	decReq := DecisionRequest{
		ID:          uuid.NewString(),
		Capability:  req.Capability,
		Origin:      req.Origin,
		Reason:      req.Reason,
		Sensitivity: req.Sensitivity,
		Tool:        req.Tool,
		CreatedAt:   g.now(),
	}

	var (
		decision Decision
		err      error
	)
	if surface == nil {
		err = pwerr.New(pwerr.CodePermissionSurfaceFailure, "no decision surface configured")
	} else {
		decision, err = surface.Present(ctx, decReq)
	}

	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			g.deny(req, "cancelled", err)
			return false, pwerr.Wrap(ctxErr, pwerr.CodePermissionSurfaceFailure, "waiting for permission decision")
		}
		return g.surfaceFailed(ctx, req, err), nil
	}

	if !decision.Granted {
		g.deny(req, "denied", nil)
		return false, nil
	}

	scope := decision.Scope
	if !scope.Valid() {
		scope = ScopePage
	}
	if _, err := g.Grant(ctx, req.Capability, scope, req.Origin, req.Handle); err != nil {
		return false, err
	}

	detail := requestDetail(req)
	detail["scope"] = string(scope)
	g.record(ledger.AuditEvent{
		Type:     ledger.EventPermissionGranted,
		Origin:   req.Origin,
		Detail:   detail,
		Decision: "granted",
	})
	return true, nil
}

// Check is the non-interactive form of Ensure: an existing grant or the
// local read auto-grant, never a human prompt.
func (g *Guard) Check(ctx context.Context, req Request) bool {
	if req.Validate() != nil {
		return false
	}
	return g.covered(req) || g.autoGrantRead(ctx, req)
}

func (g *Guard) covered(req Request) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.nowFn()
	for k, gr := range g.grants {
		if gr.Expired(now) {
			delete(g.grants, k)
			continue
		}
		if gr.Covers(req.Capability, req.Origin, req.Handle) {
			return true
		}
	}
	return false
}

// autoGrantRead grants read at page scope when the local backend is active.
func (g *Guard) autoGrantRead(ctx context.Context, req Request) bool {
	if req.Capability != CapabilityRead || !g.isLocal() {
		return false
	}

	gr, _ := NewGrant(req.Capability, ScopePage, req.Origin, req.Handle, g.now())
	gr.AutoGranted = true
	g.put(ctx, gr)

	detail := requestDetail(req)
	detail["scope"] = string(ScopePage)
	detail["auto_granted"] = true
	g.record(ledger.AuditEvent{
		Type:     ledger.EventPermissionGranted,
		Origin:   req.Origin,
		Detail:   detail,
		Decision: "auto_granted",
	})
	return true
}

func (g *Guard) surfaceFailed(ctx context.Context, req Request, cause error) bool {
	local := g.isLocal()
	g.logger.Warn("permission decision surface failed",
		"capability", req.Capability,
		"origin", req.Origin,
		"local_backend", local,
		"error", cause,
	)

	if !g.onFailure(req.Capability, local) {
		g.deny(req, "surface_failure", cause)
		return false
	}

	gr, _ := NewGrant(req.Capability, ScopePage, req.Origin, req.Handle, g.now())
	gr.AutoGranted = true
	g.put(ctx, gr)

	detail := requestDetail(req)
	detail["scope"] = string(ScopePage)
	detail["auto_granted"] = true
	detail["failure_reason"] = cause.Error()
	g.record(ledger.AuditEvent{
		Type:     ledger.EventPermissionGranted,
		Origin:   req.Origin,
		Detail:   detail,
		Decision: "auto_granted",
	})
	return true
}

func (g *Guard) deny(req Request, decision string, cause error) {
	detail := requestDetail(req)
	if cause != nil {
		detail["failure_reason"] = cause.Error()
	}
	g.record(ledger.AuditEvent{
		Type:     ledger.EventPermissionDenied,
		Origin:   req.Origin,
		Detail:   detail,
		Decision: decision,
	})
}

// Revoke removes the grant for the exact triple, if any.
func (g *Guard) Revoke(ctx context.Context, c Capability, origin, handle string) bool {
	g.mu.Lock()
	k := grantKey{capability: c, origin: origin, handle: handle}
	gr, ok := g.grants[k]
	if ok {
		delete(g.grants, k)
	}
	g.mu.Unlock()

	if !ok {
		return false
	}
	g.revoked(ctx, []Grant{gr}, "revoked")
	return true
}

// OnNavigate ends every page grant bound to handle.
func (g *Guard) OnNavigate(ctx context.Context, handle string) {
	g.removeWhere(ctx, "navigation", func(gr Grant) bool {
		return gr.Scope == ScopePage && gr.Handle == handle
	})
}

// OnTeardown ends every grant bound to handle, whatever its scope.
func (g *Guard) OnTeardown(ctx context.Context, handle string) {
	g.removeWhere(ctx, "teardown", func(gr Grant) bool { return gr.Handle == handle })
}

// ResetTask ends every task grant. Called when a session ends.
func (g *Guard) ResetTask(ctx context.Context) {
	g.removeWhere(ctx, "task_end", func(gr Grant) bool { return gr.Scope == ScopeTask })
}

func (g *Guard) removeWhere(ctx context.Context, reason string, match func(Grant) bool) {
	g.mu.Lock()
	var removed []Grant
	for k, gr := range g.grants {
		if match(gr) {
			removed = append(removed, gr)
			delete(g.grants, k)
		}
	}
	g.mu.Unlock()

	if len(removed) > 0 {
		g.revoked(ctx, removed, reason)
	}
}

func (g *Guard) revoked(ctx context.Context, grants []Grant, reason string) {
	g.persist(ctx)
	for _, gr := range grants {
		g.record(ledger.AuditEvent{
			Type:   ledger.EventGrantRevoked,
			Origin: gr.Origin,
			Detail: map[string]any{
				"capability": string(gr.Capability),
				"scope":      string(gr.Scope),
				"handle":     gr.Handle,
				"reason":     reason,
			},
		})
	}
}

// Active returns unexpired grants ordered by grant time.
func (g *Guard) Active() []Grant {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.nowFn()
	out := make([]Grant, 0, len(g.grants))
	for _, gr := range g.grants {
		if !gr.Expired(now) {
			out = append(out, gr)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].GrantedAt.Equal(out[j].GrantedAt) {
			return out[i].Capability < out[j].Capability
		}
		return out[i].GrantedAt.Before(out[j].GrantedAt)
	})
	return out
}

// Grant stores a grant for the (capability, origin, handle) triple. An
// existing grant for the same triple is replaced, so the later scope and
// expiry win.
func (g *Guard) Grant(ctx context.Context, c Capability, s Scope, origin, handle string) (Grant, error) {
	gr, err := NewGrant(c, s, origin, handle, g.now())
	if err != nil {
		return Grant{}, err
	}
	g.put(ctx, gr)
	return gr, nil
}

// put stores gr, replacing any grant for the same triple.
func (g *Guard) put(ctx context.Context, gr Grant) {
	g.mu.Lock()
	g.grants[gr.key()] = gr
	g.mu.Unlock()
	g.persist(ctx)
}

// persist writes the grant set. Failures are logged, not returned: the
// in-memory set stays authoritative for the running process.
func (g *Guard) persist(ctx context.Context) {
	if g.store == nil {
		return
	}

	active := g.Active()
	if err := store.Save(context.WithoutCancel(ctx), g.store, store.KeyGrants, active); err != nil {
		consecutive := g.persistFailCount.Add(1)
		level := slog.LevelWarn
		if consecutive >= PersistLogEscalationThreshold {
			level = slog.LevelError
		}
		g.logger.Log(ctx, level, "persisting permission grants failed",
			"error", err,
			"consecutive_failures", consecutive,
		)
		return
	}
	g.persistFailCount.Store(0)
}

// PersistFailCount returns the current consecutive persistence failure count.
func (g *Guard) PersistFailCount() int64 { return g.persistFailCount.Load() }

func (g *Guard) now() time.Time {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.nowFn()
}

func (g *Guard) record(ev ledger.AuditEvent) {
	if g.recorder != nil {
		g.recorder.Record(ev)
	}
}

func requestDetail(req Request) map[string]any {
	d := map[string]any{
		"capability": string(req.Capability),
		"reason":     req.Reason,
	}
	if req.Handle != "" {
		d["handle"] = req.Handle
	}
	if req.Sensitivity != "" {
		d["sensitivity"] = string(req.Sensitivity)
	}
	if req.Tool != "" {
		d["tool"] = req.Tool
	}
	return d
}
