// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Pagewarden Contributors

// Package agent runs tasks: it drives the model through a pre-read, an
// optional direct answer and a bounded tool loop, with every step recorded
// in the session ledger.
package agent

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/sigil-dev/pagewarden/internal/ledger"
	"github.com/sigil-dev/pagewarden/internal/provider"
	"github.com/sigil-dev/pagewarden/internal/security/scanner"
	"github.com/sigil-dev/pagewarden/internal/store"
	"github.com/sigil-dev/pagewarden/internal/tools"
	pwerr "github.com/sigil-dev/pagewarden/pkg/errors"
)

const (
	defaultMaxIterations = 5
	// defaultMaxToolCallsPerTurn caps the calls run from a single reply.
	defaultMaxToolCallsPerTurn = 10
	defaultPreReadTimeout      = 3 * time.Second
	defaultGenerationTimeout   = 45 * time.Second
	defaultSnapshotMaxChars    = 8000
	defaultResultMaxChars      = 4000

	// minDirectAnswerLen is the shortest trimmed reply accepted as a direct answer.
	minDirectAnswerLen = 20
)

// ExhaustedMessage is the answer of a task that reached the iteration cap.
const ExhaustedMessage = "I wasn't able to finish this task within the step limit."

// State is where the loop is in a task.
type State string

const (
	StateIdle          State = "idle"
	StatePreReading    State = "pre_reading"
	StateDirectAnswer  State = "direct_answer"
	StateToolLoop      State = "tool_loop"
	StatePlanning      State = "planning"
	StateExecutingPlan State = "executing_plan"
	StateAnswered      State = "answered"
	StateErrored       State = "errored"
	StateExhausted     State = "exhausted"
)

// Terminal reports whether s ends a task.
func (s State) Terminal() bool {
	return s == StateAnswered || s == StateErrored || s == StateExhausted
}

// Gateway answers chat turns. *provider.Gateway implements it.
type Gateway interface {
	Chat(ctx context.Context, messages []provider.Message, tools []provider.ToolDefinition) (*provider.Reply, error)
	Location() provider.Location
}

// TaskGuard drops task-scoped grants when a task ends. *security.Guard
// implements it.
type TaskGuard interface {
	ResetTask(ctx context.Context)
}

// Task is one user intent against a content handle.
type Task struct {
	Intent string `json:"intent"`
	Handle string `json:"handle,omitempty"`
}

// ToolCallRecord is one tool call as the task saw it.
type ToolCallRecord struct {
	Tool      string    `json:"tool"`
	Arguments string    `json:"arguments"`
	Result    string    `json:"result"`
	Iteration int       `json:"iteration"`
	Timestamp time.Time `json:"timestamp"`
	Error     bool      `json:"error,omitempty"`
	Skipped   bool      `json:"skipped,omitempty"`
}

// Outcome is the result of a task.
type Outcome struct {
	SessionID  string           `json:"session_id"`
	State      State            `json:"state"`
	Answer     string           `json:"answer"`
	Iterations int              `json:"iterations"`
	ToolCalls  []ToolCallRecord `json:"tool_calls"`
	Warnings   []ledger.Warning `json:"warnings,omitempty"`
	Plan       *Plan            `json:"plan,omitempty"`
	Usage      provider.Usage   `json:"usage"`
}

// LoopConfig holds dependencies and limits for the Loop. Zero limits take
// their defaults.
type LoopConfig struct {
	Gateway    Gateway
	Dispatcher *tools.Dispatcher
	Ledger     *ledger.Ledger
	Guard      TaskGuard
	Store      store.DocumentStore

	MaxIterations       int
	MaxToolCallsPerTurn int
	PreReadTimeout      time.Duration
	GenerationTimeout   time.Duration
	SnapshotMaxChars    int
	ResultMaxChars      int

	Logger *slog.Logger
}

// Loop is the orchestration state machine. It runs one task at a time;
// callers serialize tasks through a Runner.
type Loop struct {
	gateway    Gateway
	dispatcher *tools.Dispatcher
	ledger     *ledger.Ledger
	guard      TaskGuard
	store      store.DocumentStore

	maxIterations       int
	maxToolCallsPerTurn int
	preReadTimeout      time.Duration
	generationTimeout   time.Duration
	snapshotMaxChars    int
	resultMaxChars      int

	logger           *slog.Logger
	persistFailCount atomic.Int64

	mu    sync.Mutex
	state State
	nowFn func() time.Time
}

// NewLoop creates a Loop. Gateway, Dispatcher and Ledger are required.
func NewLoop(cfg LoopConfig) (*Loop, error) {
	var missing []string
	if cfg.Gateway == nil {
		missing = append(missing, "Gateway")
	}
	if cfg.Dispatcher == nil {
		missing = append(missing, "Dispatcher")
	}
	if cfg.Ledger == nil {
		missing = append(missing, "Ledger")
	}
	if len(missing) > 0 {
		return nil, pwerr.New(pwerr.CodeAgentLoopInvalidInput, "missing loop dependencies: "+strings.Join(missing, ", "))
	}

	l := &Loop{
		gateway:             cfg.Gateway,
		dispatcher:          cfg.Dispatcher,
		ledger:              cfg.Ledger,
		guard:               cfg.Guard,
		store:               cfg.Store,
		maxIterations:       orDefault(cfg.MaxIterations, defaultMaxIterations),
		maxToolCallsPerTurn: orDefault(cfg.MaxToolCallsPerTurn, defaultMaxToolCallsPerTurn),
		preReadTimeout:      orDefault(cfg.PreReadTimeout, defaultPreReadTimeout),
		generationTimeout:   orDefault(cfg.GenerationTimeout, defaultGenerationTimeout),
		snapshotMaxChars:    orDefault(cfg.SnapshotMaxChars, defaultSnapshotMaxChars),
		resultMaxChars:      orDefault(cfg.ResultMaxChars, defaultResultMaxChars),
		logger:              cfg.Logger,
		state:               StateIdle,
		nowFn:               time.Now,
	}
	if l.logger == nil {
		l.logger = slog.Default()
	}
	return l, nil
}

func orDefault[T int | time.Duration](v, def T) T {
	if v <= 0 {
		return def
	}
	return v
}

// SetNowFunc overrides the clock used for tool call records. Used by tests.
func (l *Loop) SetNowFunc(fn func() time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.nowFn = fn
}

// State returns the current state. After a task it is that task's
// terminal state.
func (l *Loop) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

func (l *Loop) setState(s State) {
	l.mu.Lock()
	l.state = s
	l.mu.Unlock()
}

func (l *Loop) now() time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.nowFn()
}

// run is the working set of one task.
type run struct {
	task      Task
	out       *Outcome
	messages  []provider.Message
	completed []ledger.StepOrigin
}

func (r *run) addUsage(u provider.Usage) {
	r.out.Usage.InputTokens += u.InputTokens
	r.out.Usage.OutputTokens += u.OutputTokens
}

// observe accounts for one answered prompt: its usage goes to the outcome
// and its location to the session.
func (l *Loop) observe(r *run, reply *provider.Reply) {
	l.observe(r, reply)
	l.ledger.Observe(ledger.Location(reply.Location))
}

// Run executes task: reset the session, pre-read the page, try a direct
// answer, then fall back to the tool loop. Exhaustion and permission
// denial are outcomes, not errors; a gateway failure ends the task in
// StateErrored and is returned along with the outcome.
func (l *Loop) Run(ctx context.Context, task Task) (*Outcome, error) {
	r, err := l.begin(task, "tool_loop")
	if err != nil {
		return nil, err
	}
	defer l.finish(ctx, r)

	if answer, ok := l.directAnswer(ctx, r); ok {
		return l.answered(r, answer, 0, "direct_answer"), nil
	}
	return l.toolLoop(ctx, r)
}

func (l *Loop) begin(task Task, mode string) (*run, error) {
	task.Intent = strings.TrimSpace(task.Intent)
	if task.Intent == "" {
		return nil, pwerr.New(pwerr.CodeAgentLoopInvalidInput, "task intent must not be empty")
	}

	id := l.ledger.Reset()
	l.setState(StateIdle)
	l.record(ledger.EventTaskStarted, "", map[string]any{
		"intent": clip(task.Intent, maxArgLen),
		"handle": task.Handle,
		"mode":   mode,
	})

	return &run{
		task: task,
		out:  &Outcome{SessionID: id, State: StateIdle, ToolCalls: []ToolCallRecord{}},
	}, nil
}

func (l *Loop) finish(ctx context.Context, r *run) {
	ctx = context.WithoutCancel(ctx)
	if l.guard != nil {
		l.guard.ResetTask(ctx)
	}
	l.persistSession(ctx)
	l.logger.Info("task finished",
		"session_id", r.out.SessionID,
		"state", r.out.State,
		"iterations", r.out.Iterations,
		"tool_calls", len(r.out.ToolCalls),
	)
}

// directAnswer pre-reads the page and asks for an answer from that content
// alone. Any failure or timeout falls through to the tool loop.
func (l *Loop) directAnswer(ctx context.Context, r *run) (string, bool) {
	l.setState(StatePreReading)
	snap, err := race(ctx, l.preReadTimeout, func(ctx context.Context) (tools.Result, error) {
		return l.dispatcher.Snapshot(ctx, r.task.Handle, l.snapshotMaxChars)
	})
	if err != nil {
		l.logger.Debug("pre-read skipped", "session_id", r.out.SessionID, "error", err)
		return "", false
	}
	content := strings.TrimSpace(snap.Content)
	if content == "" {
		return "", false
	}

	l.setState(StateDirectAnswer)
	messages := []provider.Message{
		{Role: provider.MessageRoleSystem, Content: directAnswerPrompt(content)},
		{Role: provider.MessageRoleUser, Content: r.task.Intent},
	}
	reply, err := race(ctx, l.generationTimeout, func(ctx context.Context) (*provider.Reply, error) {
		return l.gateway.Chat(ctx, messages, nil)
	})
	if err != nil {
		l.logger.Debug("direct answer unavailable", "session_id", r.out.SessionID, "error", err)
		return "", false
	}
	l.observe(r, reply)

	answer := strings.TrimSpace(reply.Content)
	if !acceptDirect(answer) {
		return "", false
	}

	// The snapshot only enters the context when the answer was drawn from it.
	if _, err := l.ledger.AddEntry(ctx, ledger.EntryInput{
		Origin:     snap.Origin,
		OriginType: snap.OriginType,
		DataType:   "page_snapshot",
		Method:     "pre_read",
		Content:    content,
	}); err != nil {
		l.logger.Warn("recording pre-read entry failed", "session_id", r.out.SessionID, "error", err)
	}
	return answer, true
}

func acceptDirect(answer string) bool {
	return utf8.RuneCountInString(answer) >= minDirectAnswerLen &&
		!strings.HasPrefix(answer, provider.ToolCallMarker)
}

func (l *Loop) toolLoop(ctx context.Context, r *run) (*Outcome, error) {
	l.setState(StateToolLoop)
	defs := l.dispatcher.Definitions()
	r.messages = []provider.Message{
		{Role: provider.MessageRoleSystem, Content: toolLoopPrompt()},
		{Role: provider.MessageRoleUser, Content: r.task.Intent},
	}

	for iteration := 1; iteration <= l.maxIterations; iteration++ {
		r.out.Iterations = iteration

		reply, err := l.gateway.Chat(ctx, r.messages, defs)
		if err != nil {
			return l.failed(r, err, iteration)
		}
		l.observe(r, reply)

		if len(reply.ToolCalls) == 0 {
			return l.answered(r, strings.TrimSpace(reply.Content), iteration, "tool_loop"), nil
		}

		for i, call := range reply.ToolCalls {
			if i >= l.maxToolCallsPerTurn {
				l.skipOverLimit(r, call, iteration)
				continue
			}
			res := l.execute(ctx, r, call, iteration, reply.Content)
			if res.err != nil {
				return l.failed(r, res.err, iteration)
			}
			if res.denied {
				return l.answered(r, res.answer, iteration, "denied"), nil
			}
		}
	}

	return l.exhausted(r), nil
}

// callResult is what execute reports back to the driving loop.
type callResult struct {
	ok          bool
	denied      bool
	answer      string
	origin      string
	sensitivity scanner.Severity
	err         error
}

// execute runs one tool call through the dispatcher and records it. Denials
// and fatal errors are returned to the caller; tool failures are fed back to
// the model as results.
func (l *Loop) execute(ctx context.Context, r *run, call provider.ToolCall, iteration int, content string) callResult {
	args := clip(call.Arguments, maxArgLen)
	l.record(ledger.EventToolCallStart, "", map[string]any{
		"tool":      call.Name,
		"call_id":   call.ID,
		"iteration": iteration,
		"arguments": args,
	})

	prepared, err := l.dispatcher.Prepare(ctx, call, tools.Scope{Handle: r.task.Handle, Sensitivity: l.sensitivity()})
	var res tools.Result
	if err == nil {
		res, err = l.dispatcher.Invoke(ctx, prepared)
	}

	switch {
	case err == nil:
	case pwerr.IsDenied(err):
		return l.denied(r, call, iteration, err)
	case ctx.Err() != nil:
		return callResult{err: err}
	default:
		return l.toolFailed(r, call, iteration, content, err)
	}

	text, truncated := truncate(res.Content, l.resultMaxChars)
	detail := map[string]any{
		"tool":      call.Name,
		"call_id":   call.ID,
		"iteration": iteration,
		"truncated": truncated,
		"write":     prepared.Tool.IsWriteAction(),
	}
	sensitivity := scanner.SeverityLow
	entry, err := l.ledger.AddEntry(ctx, ledger.EntryInput{
		Origin:     res.Origin,
		OriginType: res.OriginType,
		DataType:   "tool_result",
		Method:     call.Name,
		Content:    text,
	})
	if err != nil {
		l.logger.Warn("recording tool result entry failed", "tool", call.Name, "error", err)
	} else {
		sensitivity = entry.Sensitivity
		detail["tokens"] = entry.Tokens
		detail["sensitivity"] = string(entry.Sensitivity)
	}
	l.record(ledger.EventToolCallResult, res.Origin, detail)

	r.out.ToolCalls = append(r.out.ToolCalls, ToolCallRecord{
		Tool:      call.Name,
		Arguments: args,
		Result:    text,
		Iteration: iteration,
		Timestamp: l.now(),
	})
	r.messages = append(r.messages,
		provider.Message{Role: provider.MessageRoleAssistant, Content: restate(call, content)},
		provider.Message{Role: provider.MessageRoleUser, Content: resultMessage(call.Name, text, truncated)},
	)
	return callResult{ok: true, origin: res.Origin, sensitivity: sensitivity}
}

func (l *Loop) toolFailed(r *run, call provider.ToolCall, iteration int, content string, err error) callResult {
	msg, _ := truncate(err.Error(), l.resultMaxChars)
	l.logger.Debug("tool call failed", "tool", call.Name, "iteration", iteration, "error", err)

	detail := map[string]any{
		"tool":      call.Name,
		"call_id":   call.ID,
		"iteration": iteration,
		"error":     true,
		"code":      string(pwerr.CodeOf(err)),
		"message":   msg,
	}
	if kind := tools.KindOf(err); kind != "" {
		detail["kind"] = kind
	}
	l.record(ledger.EventToolCallResult, originField(err), detail)
	r.out.ToolCalls = append(r.out.ToolCalls, ToolCallRecord{
		Tool:      call.Name,
		Arguments: clip(call.Arguments, maxArgLen),
		Result:    msg,
		Iteration: iteration,
		Timestamp: l.now(),
		Error:     true,
	})
	r.messages = append(r.messages,
		provider.Message{Role: provider.MessageRoleAssistant, Content: restate(call, content)},
		provider.Message{Role: provider.MessageRoleUser, Content: errorMessage(call.Name, msg)},
	)
	return callResult{}
}

func (l *Loop) denied(r *run, call provider.ToolCall, iteration int, err error) callResult {
	l.record(ledger.EventToolCallSkipped, originField(err), map[string]any{
		"tool":      call.Name,
		"call_id":   call.ID,
		"iteration": iteration,
		"reason":    "permission_denied",
		"message":   err.Error(),
	})
	answer := denialAnswer(call.Name, err.Error())
	r.out.ToolCalls = append(r.out.ToolCalls, ToolCallRecord{
		Tool:      call.Name,
		Arguments: clip(call.Arguments, maxArgLen),
		Result:    answer,
		Iteration: iteration,
		Timestamp: l.now(),
		Skipped:   true,
	})
	return callResult{denied: true, answer: answer}
}

func (l *Loop) skipOverLimit(r *run, call provider.ToolCall, iteration int) {
	l.record(ledger.EventToolCallSkipped, "", map[string]any{
		"tool":      call.Name,
		"call_id":   call.ID,
		"iteration": iteration,
		"reason":    "turn_limit",
	})
	r.out.ToolCalls = append(r.out.ToolCalls, ToolCallRecord{
		Tool:      call.Name,
		Arguments: clip(call.Arguments, maxArgLen),
		Iteration: iteration,
		Timestamp: l.now(),
		Skipped:   true,
	})
	r.messages = append(r.messages, provider.Message{
		Role:    provider.MessageRoleUser,
		Content: errorMessage(call.Name, "not run, too many tool calls in one turn"),
	})
}

func (l *Loop) answered(r *run, answer string, iteration int, mode string) *Outcome {
	l.ledger.Record(ledger.AuditEvent{
		Type:      ledger.EventLLMPrompt,
		Detail:    map[string]any{"iteration": iteration, "mode": mode},
		Location:  ledger.Location(l.gateway.Location()),
		TokenCost: r.out.Usage.Total(),
	})
	r.out.State = StateAnswered
	r.out.Answer = answer
	l.setState(StateAnswered)
	return r.out
}

func (l *Loop) exhausted(r *run) *Outcome {
	l.ledger.Record(ledger.AuditEvent{
		Type:      ledger.EventTaskExhausted,
		Detail:    map[string]any{"iterations": r.out.Iterations, "max_iterations": l.maxIterations},
		TokenCost: r.out.Usage.Total(),
	})
	r.out.State = StateExhausted
	r.out.Answer = ExhaustedMessage
	l.setState(StateExhausted)
	return r.out
}

func (l *Loop) failed(r *run, err error, iteration int) (*Outcome, error) {
	l.ledger.Record(ledger.AuditEvent{
		Type: ledger.EventTaskFailed,
		Detail: map[string]any{
			"iteration": iteration,
			"code":      string(pwerr.CodeOf(err)),
			"error":     err.Error(),
		},
		TokenCost: r.out.Usage.Total(),
	})
	r.out.State = StateErrored
	l.setState(StateErrored)
	l.logger.Warn("task failed", "session_id", r.out.SessionID, "iteration", iteration, "error", err)
	return r.out, pwerr.With(err, pwerr.FieldSessionID(r.out.SessionID))
}

// sensitivity is the highest sensitivity of the data already in context.
func (l *Loop) sensitivity() scanner.Severity {
	level := scanner.SeverityLow
	for _, e := range l.ledger.Snapshot().Entries {
		level = level.Max(e.Sensitivity)
	}
	return level
}

func originField(err error) string {
	origin, _ := pwerr.FieldsOf(err)["origin"].(string)
	return origin
}

// truncate cuts s to n runes.
func truncate(s string, n int) (string, bool) {
	if n <= 0 || utf8.RuneCountInString(s) <= n {
		return s, false
	}
	return string([]rune(s)[:n]), true
}
