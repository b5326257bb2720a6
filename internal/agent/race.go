// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Pagewarden Contributors

package agent

import (
	"context"
	"time"

	pwerr "github.com/sigil-dev/pagewarden/pkg/errors"
)

// race runs fn against a timer. Whichever settles first wins: on timeout
// fn's context is cancelled and its eventual result is dropped.
func race[T any](ctx context.Context, d time.Duration, fn func(context.Context) (T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	type settled struct {
		v   T
		err error
	}
	ch := make(chan settled, 1)
	go func() {
		v, err := fn(ctx)
		ch <- settled{v, err}
	}()

	select {
	case s := <-ch:
		return s.v, s.err
	case <-ctx.Done():
		var zero T
		return zero, pwerr.Wrapf(ctx.Err(), pwerr.CodeAgentGenerateTimeout, "no result within %s", d)
	}
}
