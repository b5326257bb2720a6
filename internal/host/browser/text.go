// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Pagewarden Contributors

package browser

import "strings"

// Truncate cuts s to at most n runes. n <= 0 means no limit.
func Truncate(s string, n int) (string, bool) {
	if n <= 0 {
		return s, false
	}
	r := []rune(s)
	if len(r) <= n {
		return s, false
	}
	return string(r[:n]), true
}

// Passages returns the paragraphs of text that contain query, ignoring
// case, in page order and at most limit of them.
func Passages(text, query string, limit int) []string {
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return nil
	}

	var out []string
	for _, para := range strings.Split(text, "\n") {
		para = strings.Join(strings.Fields(para), " ")
		if para == "" || !strings.Contains(strings.ToLower(para), query) {
			continue
		}
		out = append(out, para)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}
