// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Pagewarden Contributors

package server

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/danielgtaylor/huma/v2"

	"github.com/sigil-dev/pagewarden/internal/security"
)

// SSEEvent represents a single server-sent event.
type SSEEvent struct {
	Event string `json:"event"`
	Data  string `json:"data"`
}

// hubBuffer is the per-subscriber backlog. A subscriber that falls this far
// behind misses events; the decision list endpoint is the source of truth.
const hubBuffer = 16

// Hub fans permission requests out to connected stream clients. Its
// PublishDecision method is meant to be the DecisionBroker's notify hook.
type Hub struct {
	mu   sync.Mutex
	subs map[chan SSEEvent]struct{}
}

// NewHub creates a Hub with no subscribers.
func NewHub() *Hub {
	return &Hub{subs: make(map[chan SSEEvent]struct{})}
}

// PublishDecision announces a newly parked decision request.
func (h *Hub) PublishDecision(req security.DecisionRequest) {
	data, err := json.Marshal(req)
	if err != nil {
		slog.Warn("encoding decision event", "error", err)
		return
	}
	h.publish(SSEEvent{Event: "decision", Data: string(data)})
}

func (h *Hub) publish(ev SSEEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs {
		select {
		case ch <- ev:
		default:
			slog.Warn("dropping event for slow stream client", "event", ev.Event)
		}
	}
}

func (h *Hub) subscribe() chan SSEEvent {
	ch := make(chan SSEEvent, hubBuffer)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

func (h *Hub) unsubscribe(ch chan SSEEvent) {
	h.mu.Lock()
	delete(h.subs, ch)
	h.mu.Unlock()
}

// Subscribers reports the number of connected stream clients.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

func (s *Server) registerDecisionStream() {
	s.router.Get("/api/v1/decisions/stream", s.handleDecisionStream)

	// The stream needs raw http.ResponseWriter access, so it cannot use
	// Huma's handler signature. The chi route above serves it and this
	// entry documents it.
	s.api.OpenAPI().AddOperation(&huma.Operation{
		OperationID: "stream-decisions",
		Method:      http.MethodGet,
		Path:        "/api/v1/decisions/stream",
		Summary:     "Stream permission requests via SSE",
		Description: "Sends every pending request on connect, then each new request as a \"decision\" event.",
		Tags:        []string{"decisions"},
		Responses: map[string]*huma.Response{
			"200": {
				Description: "Server-sent event stream",
				Content: map[string]*huma.MediaType{
					"text/event-stream": {
						Schema: &huma.Schema{Type: "string", Description: "Server-sent event stream"},
					},
				},
			},
			"503": {Description: "Decision streaming not configured"},
		},
	})
}

func (s *Server) handleDecisionStream(w http.ResponseWriter, r *http.Request) {
	hub := s.services.Hub
	if hub == nil {
		http.Error(w, `{"error":"decision streaming not configured"}`, http.StatusServiceUnavailable)
		return
	}

	// Subscribe before listing so nothing parked in between is missed.
	ch := hub.subscribe()
	defer hub.unsubscribe(ch)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	flusher, _ := w.(http.Flusher)
	write := func(ev SSEEvent) bool {
		if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Event, ev.Data); err != nil {
			return false
		}
		if flusher != nil {
			flusher.Flush()
		}
		return true
	}

	seen := make(map[string]bool)
	for _, req := range s.services.Decisions.Pending() {
		data, err := json.Marshal(req)
		if err != nil {
			continue
		}
		seen[req.ID] = true
		if !write(SSEEvent{Event: "decision", Data: string(data)}) {
			return
		}
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case ev := <-ch:
			var head struct {
				ID string `json:"id"`
			}
			if json.Unmarshal([]byte(ev.Data), &head) == nil && seen[head.ID] {
				continue
			}
			if !write(ev) {
				return
			}
		}
	}
}
