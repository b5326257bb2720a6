// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Pagewarden Contributors

package tools

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/sigil-dev/pagewarden/internal/ledger"
	"github.com/sigil-dev/pagewarden/internal/provider"
	"github.com/sigil-dev/pagewarden/internal/security"
	"github.com/sigil-dev/pagewarden/internal/security/scanner"
	pwerr "github.com/sigil-dev/pagewarden/pkg/errors"
)

// Guard is the permission gate. *security.Guard implements it.
type Guard interface {
	Ensure(ctx context.Context, req security.Request) (bool, error)
	Check(ctx context.Context, req security.Request) bool
	OnNavigate(ctx context.Context, handle string)
}

// Scope is the content context a call runs against.
type Scope struct {
	Handle string
	// Sensitivity is the highest sensitivity already in the session; it is
	// shown to the human when a decision is needed.
	Sensitivity scanner.Severity
}

// Call is a resolved, validated and authorized tool call. Only Prepare
// creates one.
type Call struct {
	ID     string
	Tool   Tool
	Args   json.RawMessage
	Origin string
	scope  Scope
}

// Result is the output of an invoked call.
type Result struct {
	Content    string
	Origin     string
	OriginType ledger.OriginType
	Truncated  bool
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithToolTimeout bounds host and remote calls. The permission wait is
// never bounded.
func WithToolTimeout(d time.Duration) DispatcherOption {
	return func(x *Dispatcher) { x.timeout = d }
}

// WithReadLimit is the default MaxChars for page reads.
func WithReadLimit(n int) DispatcherOption {
	return func(x *Dispatcher) { x.readLimit = n }
}

// WithDispatcherLogger sets the logger.
func WithDispatcherLogger(l *slog.Logger) DispatcherOption {
	return func(x *Dispatcher) { x.logger = l }
}

// Dispatcher runs tool calls behind the permission gate.
type Dispatcher struct {
	registry  *Registry
	host      HostExecutor
	guard     Guard
	timeout   time.Duration
	readLimit int
	logger    *slog.Logger
}

// NewDispatcher wires a dispatcher. host may be nil, in which case every
// built-in call fails with a host error.
func NewDispatcher(registry *Registry, host HostExecutor, guard Guard, opts ...DispatcherOption) (*Dispatcher, error) {
	if registry == nil {
		return nil, pwerr.New(pwerr.CodeAgentLoopInvalidInput, "tool registry is required")
	}
	if guard == nil {
		return nil, pwerr.New(pwerr.CodeAgentLoopInvalidInput, "permission guard is required")
	}

	d := &Dispatcher{
		registry:  registry,
		host:      host,
		guard:     guard,
		timeout:   20 * time.Second,
		readLimit: 8000,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Registry returns the tool registry.
func (d *Dispatcher) Registry() *Registry { return d.registry }

// Definitions is the catalog offered to the model.
func (d *Dispatcher) Definitions() []provider.ToolDefinition { return d.registry.Definitions() }

// Prepare resolves call, validates its arguments and asks the guard for the
// tool's declared capability. Errors are classified: CodeToolUnknown,
// CodeToolArgsInvalid and CodePermissionDenied are outcomes to report back
// to the model; anything else is a failure.
func (d *Dispatcher) Prepare(ctx context.Context, call provider.ToolCall, scope Scope) (*Call, error) {
	t, args, err := d.registry.Check(call)
	if err != nil {
		return nil, err
	}

	origin, err := d.originFor(ctx, t, scope.Handle)
	if err != nil {
		return nil, err
	}

	granted, err := d.guard.Ensure(ctx, security.Request{
		Capability:  t.Capability(),
		Origin:      origin,
		Handle:      scope.Handle,
		Reason:      reasonFor(t, args),
		Sensitivity: scope.Sensitivity,
		Tool:        t.Name,
	})
	if err != nil {
		return nil, err
	}
	if !granted {
		return nil, denied(t.Name, t.Capability(), origin)
	}

	return &Call{ID: call.ID, Tool: t, Args: args, Origin: origin, scope: scope}, nil
}

// Invoke runs a prepared call. Remote calls ask for send-external right
// before the data leaves.
func (d *Dispatcher) Invoke(ctx context.Context, c *Call) (Result, error) {
	if c == nil {
		return Result{}, pwerr.New(pwerr.CodeToolNotAuthorized, "tool call was not prepared")
	}

	switch c.Tool.Kind {
	case KindBuiltin:
		return d.invokeBuiltin(ctx, c)
	case KindRemote:
		return d.invokeRemote(ctx, c)
	default:
		return Result{}, pwerr.New(pwerr.CodeToolNotAuthorized, "tool call was not prepared", pwerr.FieldTool(c.Tool.Name))
	}
}

func (d *Dispatcher) invokeBuiltin(ctx context.Context, c *Call) (Result, error) {
	req, err := hostRequest(c.Tool.Builtin, c.Args, d.readLimit)
	if err != nil {
		return Result{}, err
	}

	resp, err := d.hostInvoke(ctx, c.scope.Handle, req)
	if err != nil {
		return Result{}, pwerr.With(err, pwerr.FieldTool(c.Tool.Name))
	}

	if req.Command == CommandNavigate {
		d.guard.OnNavigate(ctx, c.scope.Handle)
	}

	origin := c.Origin
	if resp.URL != "" {
		origin = OriginOf(resp.URL)
	}
	return Result{Content: resp.Content, Origin: origin, OriginType: ledger.OriginPage, Truncated: resp.Truncated}, nil
}

func (d *Dispatcher) invokeRemote(ctx context.Context, c *Call) (Result, error) {
	rt := c.Tool.Remote
	granted, err := d.guard.Ensure(ctx, security.Request{
		Capability:  security.CapabilitySendExternal,
		Origin:      rt.Origin,
		Handle:      c.scope.Handle,
		Reason:      "send arguments to " + rt.ServerName + " for " + rt.Tool.Name,
		Sensitivity: c.scope.Sensitivity,
		Tool:        c.Tool.Name,
	})
	if err != nil {
		return Result{}, err
	}
	if !granted {
		return Result{}, denied(c.Tool.Name, security.CapabilitySendExternal, rt.Origin)
	}

	callCtx, cancel := d.withTimeout(ctx)
	defer cancel()

	text, err := d.registry.remote.Call(callCtx, rt.ServerID, rt.Tool.Name, c.Args)
	if err != nil {
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			return Result{}, pwerr.Wrapf(err, pwerr.CodeToolTimeout, "tool %q timed out", c.Tool.Name)
		}
		return Result{}, err
	}
	return Result{Content: text, Origin: rt.Origin, OriginType: ledger.OriginMCP}, nil
}

// Snapshot reads the page behind handle without prompting: it proceeds only
// when read is already granted or auto-granted.
func (d *Dispatcher) Snapshot(ctx context.Context, handle string, maxChars int) (Result, error) {
	page, err := d.page(ctx, handle)
	if err != nil {
		return Result{}, err
	}
	origin := page.Origin()

	if !d.guard.Check(ctx, security.Request{
		Capability: security.CapabilityRead,
		Origin:     origin,
		Handle:     handle,
		Reason:     "read the page before answering",
		Tool:       ToolReadPage,
	}) {
		return Result{}, denied(ToolReadPage, security.CapabilityRead, origin)
	}

	resp, err := d.hostInvoke(ctx, handle, HostRequest{Command: CommandReadContent, MaxChars: maxChars})
	if err != nil {
		return Result{}, err
	}
	return Result{Content: resp.Content, Origin: origin, OriginType: ledger.OriginPage, Truncated: resp.Truncated}, nil
}

func (d *Dispatcher) originFor(ctx context.Context, t Tool, handle string) (string, error) {
	if t.Kind == KindRemote {
		return t.Remote.Origin, nil
	}
	page, err := d.page(ctx, handle)
	if err != nil {
		return "", pwerr.With(err, pwerr.FieldTool(t.Name))
	}
	return page.Origin(), nil
}

func (d *Dispatcher) page(ctx context.Context, handle string) (Page, error) {
	if d.host == nil {
		return Page{}, pwerr.New(pwerr.CodeToolHostFailure, "no host executor configured")
	}
	callCtx, cancel := d.withTimeout(ctx)
	defer cancel()

	p, err := d.host.Page(callCtx, handle)
	if err != nil {
		return Page{}, hostError(callCtx, err, "describing handle "+handle)
	}
	return p, nil
}

func (d *Dispatcher) hostInvoke(ctx context.Context, handle string, req HostRequest) (HostResponse, error) {
	if d.host == nil {
		return HostResponse{}, pwerr.New(pwerr.CodeToolHostFailure, "no host executor configured")
	}
	callCtx, cancel := d.withTimeout(ctx)
	defer cancel()

	resp, err := d.host.Invoke(callCtx, handle, req)
	if err != nil {
		return HostResponse{}, hostError(callCtx, err, string(req.Command))
	}
	return resp, nil
}

func hostError(ctx context.Context, err error, what string) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return pwerr.Wrapf(err, pwerr.CodeToolTimeout, "host %s timed out", what)
	}
	return pwerr.Wrapf(err, pwerr.CodeToolHostFailure, "host %s", what)
}

func (d *Dispatcher) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if d.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d.timeout)
}

func denied(tool string, c security.Capability, origin string) error {
	return pwerr.New(pwerr.CodePermissionDenied, "permission to "+string(c)+" on "+origin+" was declined",
		pwerr.FieldTool(tool), pwerr.FieldOrigin(origin))
}

// hostRequest maps validated arguments onto a host command.
func hostRequest(def Definition, args json.RawMessage, readLimit int) (HostRequest, error) {
	var in struct {
		MaxChars int          `json:"max_chars"`
		Query    string       `json:"query"`
		Selector string       `json:"selector"`
		Fields   []FieldValue `json:"fields"`
		URL      string       `json:"url"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return HostRequest{}, pwerr.Wrap(err, pwerr.CodeToolArgsInvalid, "decoding arguments", pwerr.FieldTool(def.Name))
	}

	req := HostRequest{Command: def.command, MaxChars: readLimit}
	switch def.command {
	case CommandReadContent:
		if in.MaxChars > 0 && in.MaxChars < readLimit {
			req.MaxChars = in.MaxChars
		}
	case CommandFindText:
		req.Query = in.Query
	case CommandClick:
		req.Selector = in.Selector
	case CommandFillFields:
		req.Fields = in.Fields
	case CommandNavigate:
		req.URL = in.URL
	}
	return req, nil
}

func reasonFor(t Tool, args json.RawMessage) string {
	if t.Kind == KindRemote {
		return "run " + t.Name + " on " + t.Remote.ServerName
	}

	var in map[string]any
	_ = json.Unmarshal(args, &in)
	switch t.Name {
	case ToolReadPage:
		return "read the page content"
	case ToolFindText:
		return "search the page for " + quote(in["query"])
	case ToolClick:
		return "click " + quote(in["selector"])
	case ToolFillFields:
		return "fill in form fields"
	case ToolNavigate:
		return "open " + quote(in["url"])
	}
	return t.Name
}

func quote(v any) string {
	s, _ := v.(string)
	if r := []rune(s); len(r) > 80 {
		s = string(r[:80]) + "..."
	}
	return `"` + strings.ReplaceAll(s, `"`, `'`) + `"`
}
