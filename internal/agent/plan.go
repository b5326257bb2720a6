// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Pagewarden Contributors

package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/sigil-dev/pagewarden/internal/ledger"
	"github.com/sigil-dev/pagewarden/internal/provider"
	pwerr "github.com/sigil-dev/pagewarden/pkg/errors"
)

// PlanStep is one tool call the model intends to make.
type PlanStep struct {
	Tool        string          `json:"tool"`
	Arguments   json.RawMessage `json:"arguments,omitempty"`
	Description string          `json:"description,omitempty"`
}

// Plan is an ordered list of steps drafted before any tool runs.
type Plan struct {
	Steps []PlanStep `json:"steps"`
}

// Tools lists the step tools in order.
func (p *Plan) Tools() []string {
	names := make([]string, len(p.Steps))
	for i, s := range p.Steps {
		names[i] = s.Tool
	}
	return names
}

// ParsePlan extracts a plan from a model reply. Text around the outermost
// JSON object is ignored, which tolerates code fences and preambles.
func ParsePlan(text string) (*Plan, error) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end < start {
		return nil, pwerr.New(pwerr.CodeAgentPlanInvalid, "plan reply contains no JSON object")
	}

	var p Plan
	if err := json.Unmarshal([]byte(text[start:end+1]), &p); err != nil {
		return nil, pwerr.Wrap(err, pwerr.CodeAgentPlanInvalid, "decoding plan")
	}
	if len(p.Steps) == 0 {
		return nil, pwerr.New(pwerr.CodeAgentPlanInvalid, "plan has no steps")
	}
	for i, s := range p.Steps {
		if strings.TrimSpace(s.Tool) == "" {
			return nil, pwerr.Errorf(pwerr.CodeAgentPlanInvalid, "plan step %d names no tool", i+1)
		}
		if len(bytes.TrimSpace(s.Arguments)) == 0 || bytes.Equal(bytes.TrimSpace(s.Arguments), []byte("null")) {
			p.Steps[i].Arguments = json.RawMessage("{}")
		}
	}
	return &p, nil
}

// RunPlan executes task in plan mode: the model drafts every step up front,
// the steps run in order, and a final call answers from their results. The
// context is checked for cross-origin mixing after each completed step.
// When no usable plan arrives in time the task runs in the tool loop
// instead.
func (l *Loop) RunPlan(ctx context.Context, task Task) (*Outcome, error) {
	r, err := l.begin(task, "plan")
	if err != nil {
		return nil, err
	}
	defer l.finish(ctx, r)

	plan, err := l.draftPlan(ctx, r)
	if err != nil {
		l.logger.Info("no usable plan, falling back to tool loop", "session_id", r.out.SessionID, "error", err)
		return l.toolLoop(ctx, r)
	}
	if len(plan.Steps) > l.maxIterations {
		plan.Steps = plan.Steps[:l.maxIterations]
	}
	r.out.Plan = plan
	l.record(ledger.EventPlanCreated, "", map[string]any{
		"steps": len(plan.Steps),
		"tools": plan.Tools(),
	})

	return l.executePlan(ctx, r, plan)
}

func (l *Loop) draftPlan(ctx context.Context, r *run) (*Plan, error) {
	l.setState(StatePlanning)
	messages := []provider.Message{
		{Role: provider.MessageRoleSystem, Content: planPrompt(l.dispatcher.Definitions())},
		{Role: provider.MessageRoleUser, Content: r.task.Intent},
	}
	reply, err := race(ctx, l.generationTimeout, func(ctx context.Context) (*provider.Reply, error) {
		return l.gateway.Chat(ctx, messages, nil)
	})
	if err != nil {
		return nil, err
	}
	l.observe(r, reply)
	return ParsePlan(reply.Content)
}

func (l *Loop) executePlan(ctx context.Context, r *run, plan *Plan) (*Outcome, error) {
	l.setState(StateExecutingPlan)
	r.messages = []provider.Message{
		{Role: provider.MessageRoleSystem, Content: planSummaryPrompt()},
		{Role: provider.MessageRoleUser, Content: r.task.Intent},
	}

	for i, step := range plan.Steps {
		n := i + 1
		r.out.Iterations = n
		call := provider.ToolCall{
			ID:        "step-" + strconv.Itoa(n),
			Name:      step.Tool,
			Arguments: string(step.Arguments),
		}

		res := l.execute(ctx, r, call, n, step.Description)
		if res.err != nil {
			return l.failed(r, res.err, n)
		}
		if res.denied {
			return l.answered(r, res.answer, n, "denied"), nil
		}
		if !res.ok {
			continue
		}

		current := ledger.StepOrigin{Origin: res.origin, Sensitivity: res.sensitivity}
		if w := ledger.CheckCrossOrigin(r.completed, current); w != nil {
			l.record(ledger.EventCrossOriginWarning, res.origin, map[string]any{
				"step":             n,
				"origins":          w.Origins,
				"high_sensitivity": w.HighSensitivity,
				"message":          w.Message,
			})
			r.out.Warnings = append(r.out.Warnings, *w)
		}
		r.completed = append(r.completed, current)
	}

	reply, err := l.gateway.Chat(ctx, r.messages, nil)
	if err != nil {
		return l.failed(r, err, r.out.Iterations)
	}
	l.observe(r, reply)
	return l.answered(r, strings.TrimSpace(reply.Content), r.out.Iterations, "plan"), nil
}
