// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Pagewarden Contributors

package agent

import (
	"context"
	"log/slog"
	"runtime/debug"
	"sync/atomic"

	pwerr "github.com/sigil-dev/pagewarden/pkg/errors"
)

// Runner admits one task at a time. A second task submitted while one is
// running is rejected rather than queued.
type Runner struct {
	busy   atomic.Bool
	logger *slog.Logger
}

// NewRunner creates an idle Runner. A nil logger means slog.Default().
func NewRunner(logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{logger: logger}
}

// Busy reports whether a task is running.
func (r *Runner) Busy() bool { return r.busy.Load() }

// Do runs fn unless another task is in flight, in which case it fails with
// CodeAgentTaskConflict. A panic in fn is recovered and returned as an error.
func (r *Runner) Do(ctx context.Context, fn func(context.Context) error) (err error) {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !r.busy.CompareAndSwap(false, true) {
		return pwerr.New(pwerr.CodeAgentTaskConflict, "a task is already running")
	}
	defer r.busy.Store(false)

	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("task panic recovered",
				"panic", p,
				"stack", string(debug.Stack()),
			)
			err = pwerr.Errorf(pwerr.CodeAgentLoopFailure, "task panic: %v", p)
		}
	}()
	return fn(ctx)
}
