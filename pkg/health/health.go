// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Pagewarden Contributors

package health

import "time"

// Metrics is the health state of an LLM backend as reported by the API.
type Metrics struct {
	FailureCount  int64      `json:"failure_count"`
	LastFailureAt *time.Time `json:"last_failure_at,omitempty"`
	CooldownUntil *time.Time `json:"cooldown_until,omitempty"`
	LastError     string     `json:"last_error,omitempty"`
	Available     bool       `json:"available"`
}
