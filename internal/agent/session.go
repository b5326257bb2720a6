// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Pagewarden Contributors

package agent

import (
	"context"
	"log/slog"

	"github.com/sigil-dev/pagewarden/internal/ledger"
	"github.com/sigil-dev/pagewarden/internal/store"
)

// RestoreSession loads the last persisted session into the ledger. It
// reports false when nothing was stored or no store is configured.
func (l *Loop) RestoreSession(ctx context.Context) (bool, error) {
	if l.store == nil {
		return false, nil
	}

	var s ledger.Session
	found, err := store.Load(ctx, l.store, store.KeySession, &s)
	if err != nil || !found {
		return false, err
	}
	l.ledger.Restore(s)
	l.logger.Info("session restored", "session_id", s.ID, "events", len(s.Events))
	return true, nil
}

// persistSession writes the ledger snapshot to the store. Failures are
// logged, not returned; a task's outcome never depends on persistence.
func (l *Loop) persistSession(ctx context.Context) {
	if l.store == nil {
		return
	}

	snap := l.ledger.Snapshot()
	if err := store.Save(ctx, l.store, store.KeySession, snap); err != nil {
		n := l.persistFailCount.Add(1)
		logPersistFailure(ctx, l.logger, n, "persisting session failed",
			slog.String("session_id", snap.ID),
			slog.Int64("consecutive_failures", n),
			slog.Any("error", err),
		)
		return
	}
	l.persistFailCount.Store(0)
}
