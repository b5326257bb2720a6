// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Pagewarden Contributors

package agent

import (
	"context"
	"log/slog"
	"unicode/utf8"

	"github.com/sigil-dev/pagewarden/internal/ledger"
	"github.com/sigil-dev/pagewarden/internal/security"
)

// maxArgLen bounds the tool arguments copied into audit details.
const maxArgLen = 1024

// logPersistFailure logs a session persistence failure at Warn, escalating
// to Error once security.PersistLogEscalationThreshold consecutive failures
// have happened.
func logPersistFailure(ctx context.Context, log *slog.Logger, consecutive int64, msg string, attrs ...slog.Attr) {
	level := slog.LevelWarn
	if consecutive >= security.PersistLogEscalationThreshold {
		level = slog.LevelError
	}
	log.LogAttrs(ctx, level, msg, attrs...)
}

// clip cuts s to at most n bytes on a rune boundary.
func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	i := n
	for i > 0 && !utf8.RuneStart(s[i]) {
		i--
	}
	return s[:i]
}

func (l *Loop) record(typ ledger.EventType, origin string, detail map[string]any) {
	l.ledger.Record(ledger.AuditEvent{Type: typ, Origin: origin, Detail: detail})
}
