// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Pagewarden Contributors

package security

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	pwerr "github.com/sigil-dev/pagewarden/pkg/errors"
)

// PromptSurface asks for decisions on a terminal.
type PromptSurface struct {
	mu    sync.Mutex
	in    *bufio.Reader
	out   io.Writer
	once  sync.Once
	lines chan lineResult
}

var _ DecisionSurface = (*PromptSurface)(nil)

// NewPromptSurface reads answers from in and writes questions to out.
func NewPromptSurface(in io.Reader, out io.Writer) *PromptSurface {
	return &PromptSurface{in: bufio.NewReader(in), out: out, lines: make(chan lineResult)}
}

// readLoop is the only reader of in, so an abandoned prompt never leaves two
// goroutines reading at once.
func (p *PromptSurface) readLoop() {
	for {
		line, err := p.in.ReadString('\n')
		p.lines <- lineResult{line: line, err: err}
		if err != nil {
			close(p.lines)
			return
		}
	}
}

type lineResult struct {
	line string
	err  error
}

func (p *PromptSurface) Present(ctx context.Context, req DecisionRequest) (Decision, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	origin := req.Origin
	if origin == "" {
		origin = "this page"
	}
	fmt.Fprintf(p.out, "\nAllow %s on %s?\n", req.Capability, origin)
	if req.Reason != "" {
		fmt.Fprintf(p.out, "  reason: %s\n", req.Reason)
	}
	if req.Sensitivity != "" {
		fmt.Fprintf(p.out, "  data sensitivity: %s\n", req.Sensitivity)
	}
	fmt.Fprint(p.out, "  [p]age / [s]ite / [t]ask / [n]o: ")

	p.once.Do(func() { go p.readLoop() })

	select {
	case <-ctx.Done():
		return Decision{}, ctx.Err()
	case res, ok := <-p.lines:
		if !ok {
			return Decision{}, pwerr.New(pwerr.CodePermissionSurfaceFailure, "terminal input closed")
		}
		if res.err != nil && res.line == "" {
			return Decision{}, pwerr.Wrap(res.err, pwerr.CodePermissionSurfaceFailure, "reading permission answer")
		}
		return parseAnswer(res.line), nil
	}
}

func parseAnswer(line string) Decision {
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "p", "page", "y", "yes":
		return Decision{Granted: true, Scope: ScopePage}
	case "s", "site":
		return Decision{Granted: true, Scope: ScopeSite}
	case "t", "task":
		return Decision{Granted: true, Scope: ScopeTask}
	default:
		return Decision{Granted: false}
	}
}
