// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Pagewarden Contributors

package agent

import (
	"fmt"
	"strings"

	"github.com/sigil-dev/pagewarden/internal/provider"
)

const basePrompt = "You are pagewarden, an assistant that works on the web page the user is looking at."

func directAnswerPrompt(snapshot string) string {
	return basePrompt + "\n\n" +
		"Answer the user's request using only the page content below. " +
		"If the content is not enough to answer, reply with exactly " + provider.ToolCallMarker + " and nothing else.\n\n" +
		"Page content:\n" + snapshot
}

func toolLoopPrompt() string {
	return basePrompt + "\n\n" +
		"Use the available tools to read or act on the page. Call one tool at a time. " +
		"When you have what you need, reply to the user in plain text without calling a tool."
}

func planPrompt(defs []provider.ToolDefinition) string {
	var b strings.Builder
	b.WriteString(basePrompt)
	b.WriteString("\n\nBreak the user's request into tool steps. Reply with JSON only, in this form:\n")
	b.WriteString(`{"steps":[{"tool":"<tool name>","arguments":{},"description":"<why>"}]}`)
	b.WriteString("\n\nAvailable tools:\n")
	for _, d := range defs {
		fmt.Fprintf(&b, "- %s: %s\n", d.Name, d.Description)
	}
	return b.String()
}

func planSummaryPrompt() string {
	return basePrompt + "\n\n" +
		"The planned steps have run and their results follow. " +
		"Answer the user's request from those results in plain text."
}

// restate is the synthetic assistant turn describing a call the model made.
func restate(call provider.ToolCall, content string) string {
	args := strings.TrimSpace(call.Arguments)
	if args == "" {
		args = "{}"
	}
	text := fmt.Sprintf("Calling %s with %s.", call.Name, args)
	if content = strings.TrimSpace(content); content != "" {
		text = content + "\n\n" + text
	}
	return text
}

func resultMessage(tool, content string, truncated bool) string {
	text := fmt.Sprintf("Result of %s:\n%s", tool, content)
	if truncated {
		text += "\n[result truncated]"
	}
	return text
}

func errorMessage(tool, msg string) string {
	return fmt.Sprintf("%s failed: %s", tool, msg)
}

func denialAnswer(tool, reason string) string {
	return fmt.Sprintf("I did not run %s because %s.", tool, reason)
}
