// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Pagewarden Contributors

// Package ledger records everything that happens during one task: the data
// that entered the model's context and an append-only audit trail.
package ledger

import (
	"context"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/sigil-dev/pagewarden/internal/security/scanner"
	pwerr "github.com/sigil-dev/pagewarden/pkg/errors"
)

// Location classifies where the session's prompts were processed.
type Location string

const (
	LocationIdle  Location = "idle"
	LocationLocal Location = "local"
	LocationCloud Location = "cloud"
	LocationMixed Location = "mixed"
)

// OriginType is the kind of source a DataEntry came from.
type OriginType string

const (
	OriginPage OriginType = "page"
	OriginMCP  OriginType = "mcp"
	OriginUser OriginType = "user"
)

// EventType tags an AuditEvent.
type EventType string

const (
	EventTaskStarted         EventType = "task_started"
	EventPermissionRequested EventType = "permission_requested"
	EventPermissionGranted   EventType = "permission_granted"
	EventPermissionDenied    EventType = "permission_denied"
	EventToolCallStart       EventType = "tool_call_start"
	EventToolCallResult      EventType = "tool_call_result"
	EventToolCallSkipped     EventType = "tool_call_skipped"
	EventLLMPrompt           EventType = "llm_prompt"
	EventCrossOriginWarning  EventType = "cross_origin_warning"
	EventPlanCreated         EventType = "plan_created"
	EventTaskFailed          EventType = "task_failed"
	EventTaskExhausted       EventType = "task_exhausted"
	EventGrantRevoked        EventType = "grant_revoked"
)

// DataEntry is one unit of content that entered the model's context.
// Sensitivity is fixed when the entry is created.
type DataEntry struct {
	ID          string           `json:"id"`
	Origin      string           `json:"origin"`
	OriginType  OriginType       `json:"origin_type"`
	DataType    string           `json:"data_type"`
	Tokens      int              `json:"tokens"`
	Sensitivity scanner.Severity `json:"sensitivity"`
	Method      string           `json:"method"`
	Timestamp   time.Time        `json:"timestamp"`
}

// EntryInput describes content about to be added to the context.
type EntryInput struct {
	Origin     string
	OriginType OriginType
	DataType   string
	Method     string
	Content    string
}

// AuditEvent is one observable action in the session.
type AuditEvent struct {
	ID        string         `json:"id"`
	Type      EventType      `json:"type"`
	Origin    string         `json:"origin,omitempty"`
	Detail    map[string]any `json:"detail,omitempty"`
	Decision  string         `json:"decision,omitempty"`
	TokenCost int            `json:"token_cost,omitempty"`
	Location  Location       `json:"location"`
	Timestamp time.Time      `json:"timestamp"`
}

// Session is the whole record of one task.
type Session struct {
	ID           string       `json:"id"`
	CreatedAt    time.Time    `json:"created_at"`
	TokenCount   int          `json:"token_count"`
	ContextUsed  int          `json:"context_used"`
	ContextLimit int          `json:"context_limit"`
	Location     Location     `json:"location"`
	Entries      []DataEntry  `json:"entries"`
	Events       []AuditEvent `json:"events"`
}

// EstimateTokens approximates the token count of s as one token per four characters.
func EstimateTokens(s string) int {
	n := utf8.RuneCountInString(s)
	return (n + 3) / 4
}

// Ledger owns the current Session. Every mutation goes through it; readers
// get copies, so the API can snapshot while a task runs.
type Ledger struct {
	mu           sync.Mutex
	session      Session
	contextLimit int
	scanner      scanner.Scanner
	nowFn        func() time.Time
}

// New creates a Ledger with an empty session.
func New(contextLimit int, s scanner.Scanner) *Ledger {
	l := &Ledger{contextLimit: contextLimit, scanner: s, nowFn: time.Now}
	l.session = l.fresh()
	return l
}

// SetNowFunc overrides the clock. Used by tests.
func (l *Ledger) SetNowFunc(fn func() time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.nowFn = fn
}

func (l *Ledger) fresh() Session {
	return Session{
		ID:           uuid.NewString(),
		CreatedAt:    l.nowFn(),
		ContextLimit: l.contextLimit,
		Location:     LocationIdle,
		Entries:      []DataEntry{},
		Events:       []AuditEvent{},
	}
}

// Reset replaces the whole session with a new, empty one and returns its id.
func (l *Ledger) Reset() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.session = l.fresh()
	return l.session.ID
}

// Restore replaces the session with a persisted snapshot.
func (l *Ledger) Restore(s Session) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if s.Entries == nil {
		s.Entries = []DataEntry{}
	}
	if s.Events == nil {
		s.Events = []AuditEvent{}
	}
	l.session = s
}

// Record appends ev to the audit trail. ID and timestamp are filled in, and
// an empty Location is stamped with the session's current location.
func (l *Ledger) Record(ev AuditEvent) AuditEvent {
	l.mu.Lock()
	defer l.mu.Unlock()

	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = l.nowFn()
	}

	if ev.Type == EventLLMPrompt && ev.Location != "" {
		l.session.Location = merge(l.session.Location, ev.Location)
	}
	if ev.Location == "" {
		ev.Location = l.session.Location
	}

	l.session.Events = append(l.session.Events, ev)
	l.session.TokenCount += ev.TokenCost
	return ev
}

// Observe merges loc into the session's processing location. It is called
// after every answered prompt so events recorded later carry it.
func (l *Ledger) Observe(loc Location) {
	if loc == "" {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.session.Location = merge(l.session.Location, loc)
}

// AddEntry classifies content once and appends a DataEntry for it.
func (l *Ledger) AddEntry(ctx context.Context, in EntryInput) (DataEntry, error) {
	if in.Origin == "" {
		return DataEntry{}, pwerr.New(pwerr.CodeAgentLoopInvalidInput, "ledger: data entry needs an origin")
	}

	// Classify outside the lock; scanning large content is the slow part.
	sensitivity := scanner.Classify(ctx, l.scanner, in.Content)

	l.mu.Lock()
	defer l.mu.Unlock()

	entry := DataEntry{
		ID:          uuid.NewString(),
		Origin:      in.Origin,
		OriginType:  in.OriginType,
		DataType:    in.DataType,
		Tokens:      EstimateTokens(in.Content),
		Sensitivity: sensitivity,
		Method:      in.Method,
		Timestamp:   l.nowFn(),
	}
	l.session.Entries = append(l.session.Entries, entry)
	l.session.ContextUsed += entry.Tokens
	return entry, nil
}

// Snapshot returns a deep copy of the current session.
func (l *Ledger) Snapshot() Session {
	l.mu.Lock()
	defer l.mu.Unlock()

	s := l.session
	s.Entries = append([]DataEntry(nil), l.session.Entries...)
	s.Events = make([]AuditEvent, len(l.session.Events))
	for i, ev := range l.session.Events {
		if ev.Detail != nil {
			detail := make(map[string]any, len(ev.Detail))
			for k, v := range ev.Detail {
				detail[k] = v
			}
			ev.Detail = detail
		}
		s.Events[i] = ev
	}
	return s
}

// SessionID returns the current session id.
func (l *Ledger) SessionID() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.session.ID
}

func merge(current, next Location) Location {
	switch {
	case current == LocationIdle || current == "":
		return next
	case current == next:
		return current
	default:
		return LocationMixed
	}
}
