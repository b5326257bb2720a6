// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Pagewarden Contributors

package main

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/sigil-dev/pagewarden/internal/agent"
	"github.com/sigil-dev/pagewarden/internal/ledger"
	"github.com/sigil-dev/pagewarden/internal/mcp"
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("99"))
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Bold(true)
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	boxStyle     = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("62")).Padding(0, 1)
)

// stateStyle colors a terminal state.
func stateStyle(s agent.State) lipgloss.Style {
	switch s {
	case agent.StateAnswered:
		return successStyle
	case agent.StateExhausted:
		return warnStyle
	default:
		return errorStyle
	}
}

// renderOutcome writes the answer box, cross-origin warnings and a one-line
// summary of the run.
func renderOutcome(w io.Writer, out *agent.Outcome) {
	if out == nil {
		return
	}
	if out.Answer != "" {
		_, _ = fmt.Fprintln(w, boxStyle.Render(out.Answer))
	}
	for _, warn := range out.Warnings {
		_, _ = fmt.Fprintln(w, warnStyle.Render("! "+warn.Message))
	}

	summary := fmt.Sprintf("%s after %d iteration(s), %d tool call(s), %d tokens",
		out.State, out.Iterations, len(out.ToolCalls), out.Usage.Total())
	_, _ = fmt.Fprintln(w, stateStyle(out.State).Render(summary))
}

// renderAudit writes one line per audit event, oldest first.
func renderAudit(w io.Writer, s ledger.Session) {
	_, _ = fmt.Fprintln(w, titleStyle.Render("Audit trail")+dimStyle.Render(" session "+s.ID))
	for _, ev := range s.Events {
		line := fmt.Sprintf("%s  %-22s", ev.Timestamp.Format("15:04:05"), ev.Type)
		if ev.Origin != "" {
			line += " " + ev.Origin
		}
		if ev.Decision != "" {
			line += " [" + ev.Decision + "]"
		}
		if d := detailSummary(ev.Detail); d != "" {
			line += dimStyle.Render("  " + d)
		}
		_, _ = fmt.Fprintln(w, eventStyle(ev.Type).Render(line))
	}
}

func eventStyle(t ledger.EventType) lipgloss.Style {
	switch t {
	case ledger.EventPermissionDenied, ledger.EventTaskFailed, ledger.EventToolCallSkipped:
		return errorStyle
	case ledger.EventCrossOriginWarning, ledger.EventTaskExhausted:
		return warnStyle
	case ledger.EventPermissionGranted:
		return successStyle
	default:
		return lipgloss.NewStyle()
	}
}

// detailSummary renders a detail map as sorted key=value pairs.
func detailSummary(d map[string]any) string {
	if len(d) == 0 {
		return ""
	}
	keys := make([]string, 0, len(d))
	for k := range d {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		v := fmt.Sprint(d[k])
		if len(v) > 60 {
			v = v[:57] + "..."
		}
		parts = append(parts, k+"="+v)
	}
	return strings.Join(parts, " ")
}

// renderServers writes the MCP server table.
func renderServers(w io.Writer, servers []mcp.Server) {
	if len(servers) == 0 {
		_, _ = fmt.Fprintln(w, "No MCP servers registered.")
		return
	}
	for _, s := range servers {
		state := successStyle.Render("enabled")
		if !s.Enabled {
			state = dimStyle.Render("disabled")
		}
		_, _ = fmt.Fprintf(w, "%s  %s  %s  %s  %d tool(s)\n",
			titleStyle.Render(s.Name), dimStyle.Render(s.ID), s.BaseURL, state, len(s.Tools))
		if s.LastError != "" {
			_, _ = fmt.Fprintln(w, errorStyle.Render("  last error: "+s.LastError))
		}
	}
}
