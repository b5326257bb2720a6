// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Pagewarden Contributors

package agent_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sigil-dev/pagewarden/internal/agent"
	pwerr "github.com/sigil-dev/pagewarden/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunner_RejectsConcurrentTask(t *testing.T) {
	r := agent.NewRunner(nil)
	started := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)

	go func() {
		done <- r.Do(context.Background(), func(context.Context) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started
	assert.True(t, r.Busy())

	err := r.Do(context.Background(), func(context.Context) error {
		t.Fatal("second task must not run")
		return nil
	})
	require.Error(t, err)
	assert.True(t, pwerr.IsConflict(err))

	close(release)
	require.NoError(t, <-done)
	assert.False(t, r.Busy())

	// Free again once the first task is done.
	assert.NoError(t, r.Do(context.Background(), func(context.Context) error { return nil }))
}

func TestRunner_ReturnsTaskError(t *testing.T) {
	r := agent.NewRunner(nil)
	want := errors.New("boom")
	assert.ErrorIs(t, r.Do(context.Background(), func(context.Context) error { return want }), want)
	assert.False(t, r.Busy())
}

func TestRunner_RecoversPanic(t *testing.T) {
	r := agent.NewRunner(nil)
	err := r.Do(context.Background(), func(context.Context) error { panic("kaboom") })
	require.Error(t, err)
	assert.True(t, pwerr.HasCode(err, pwerr.CodeAgentLoopFailure))
	assert.Contains(t, err.Error(), "kaboom")
	assert.False(t, r.Busy())
}

func TestRunner_CancelledContext(t *testing.T) {
	r := agent.NewRunner(nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := r.Do(ctx, func(context.Context) error {
		t.Fatal("must not run")
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRace(t *testing.T) {
	t.Run("result before deadline", func(t *testing.T) {
		v, err := agent.RaceForTest(context.Background(), time.Second, func(context.Context) (string, error) {
			return "ok", nil
		})
		require.NoError(t, err)
		assert.Equal(t, "ok", v)
	})

	t.Run("deadline first cancels the loser", func(t *testing.T) {
		cancelled := make(chan struct{})
		v, err := agent.RaceForTest(context.Background(), 20*time.Millisecond, func(ctx context.Context) (string, error) {
			<-ctx.Done()
			close(cancelled)
			return "late", nil
		})
		require.Error(t, err)
		assert.True(t, pwerr.IsTimeout(err))
		assert.Empty(t, v)

		select {
		case <-cancelled:
		case <-time.After(time.Second):
			t.Fatal("losing call was not cancelled")
		}
	})

	t.Run("error passes through", func(t *testing.T) {
		want := errors.New("refused")
		_, err := agent.RaceForTest(context.Background(), time.Second, func(context.Context) (string, error) {
			return "", want
		})
		assert.ErrorIs(t, err, want)
	})
}

func TestClip(t *testing.T) {
	assert.Equal(t, "short", agent.ClipForTest("short", 10))
	assert.Equal(t, "ab", agent.ClipForTest("abcdef", 2))
	// "é" is two bytes; clipping inside it drops the whole rune.
	assert.Equal(t, "a", agent.ClipForTest("aé", 2))
}
