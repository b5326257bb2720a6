// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Pagewarden Contributors

package ledger

import (
	"fmt"
	"strings"

	"github.com/sigil-dev/pagewarden/internal/security/scanner"
)

// StepOrigin is the origin a plan step read from and the most sensitive
// data it brought into context.
type StepOrigin struct {
	Origin      string
	Sensitivity scanner.Severity
}

// Warning reports that data from several origins now shares one context.
type Warning struct {
	Origins         []string `json:"origins"`
	HighSensitivity bool     `json:"high_sensitivity"`
	Message         string   `json:"message"`
}

// CheckCrossOrigin compares the step that just completed against the steps
// completed before it. It returns nil unless current introduces a new origin
// into a context that already holds at least one other origin. The result is
// advisory; callers decide whether to continue.
func CheckCrossOrigin(completed []StepOrigin, current StepOrigin) *Warning {
	seen := make(map[string]bool)
	var origins []string
	high := false

	for _, step := range completed {
		if step.Origin == "" {
			continue
		}
		if step.Sensitivity == scanner.SeverityHigh {
			high = true
		}
		if !seen[step.Origin] {
			seen[step.Origin] = true
			origins = append(origins, step.Origin)
		}
	}

	if len(origins) == 0 || current.Origin == "" || seen[current.Origin] {
		return nil
	}
	origins = append(origins, current.Origin)

	w := &Warning{Origins: origins, HighSensitivity: high}
	list := strings.Join(origins, ", ")
	if high {
		w.Message = fmt.Sprintf("Sensitive data from earlier steps is now in the same context as %s. Origins in context: %s.",
			current.Origin, list)
	} else {
		w.Message = fmt.Sprintf("Data from several sites is now combined in one context: %s.", list)
	}
	return w
}
