// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Pagewarden Contributors

// Package scanner classifies content entering the model context. Every
// DataEntry gets its sensitivity from Classify exactly once, at creation.
package scanner

import (
	"context"
	"regexp"
	"slices"
	"strings"

	pwerr "github.com/sigil-dev/pagewarden/pkg/errors"
	"golang.org/x/text/unicode/norm"
)

// Severity is the sensitivity level of a detection.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Valid reports whether the severity is a known level.
func (s Severity) Valid() bool {
	switch s {
	case SeverityHigh, SeverityMedium, SeverityLow:
		return true
	default:
		return false
	}
}

func (s Severity) rank() int {
	switch s {
	case SeverityHigh:
		return 2
	case SeverityMedium:
		return 1
	default:
		return 0
	}
}

// Max returns the more severe of s and other.
func (s Severity) Max(other Severity) Severity {
	if other.rank() > s.rank() {
		return other
	}
	return s
}

// Category groups rules by what they detect.
type Category string

const (
	CategoryCredential Category = "credential"
	CategoryPersonal   Category = "personal"
	// CategoryInjection matches never raise sensitivity; they are reported
	// so callers can log instruction-like text arriving from a page.
	CategoryInjection Category = "injection"
)

// Rule defines a detection pattern.
type Rule struct {
	Name     string
	Category Category
	Pattern  *regexp.Regexp
	Severity Severity
	// Verify optionally rejects regex hits, e.g. a Luhn check on card numbers.
	Verify func(match string) bool
}

// Match describes a single rule hit. Location and Length are byte offsets
// into Result.Content.
type Match struct {
	Rule     string
	Category Category
	Location int
	Length   int
	Severity Severity
}

// Result holds the outcome of a scan.
type Result struct {
	Matches []Match
	// Content is the normalized text the match offsets refer to.
	Content     string
	Sensitivity Severity
}

// Injection reports whether any instruction-like pattern matched.
func (r Result) Injection() bool {
	return slices.ContainsFunc(r.Matches, func(m Match) bool { return m.Category == CategoryInjection })
}

// Scanner scans content for sensitive data.
type Scanner interface {
	Scan(ctx context.Context, content string) (Result, error)
}

// DefaultMaxContentLength caps the bytes inspected per scan (1MB).
const DefaultMaxContentLength = 1 << 20

// RegexScanner implements Scanner using compiled regexes.
type RegexScanner struct {
	rules            []Rule
	maxContentLength int
}

// NewRegexScanner creates a scanner with the given rules.
func NewRegexScanner(rules []Rule) (*RegexScanner, error) {
	for i, r := range rules {
		if r.Pattern == nil {
			return nil, pwerr.Errorf(pwerr.CodeSecurityScannerFailure, "rule %d (%s) has nil pattern", i, r.Name)
		}
		if r.Name == "" {
			return nil, pwerr.Errorf(pwerr.CodeSecurityScannerFailure, "rule %d has empty name", i)
		}
		if !r.Severity.Valid() {
			return nil, pwerr.Errorf(pwerr.CodeSecurityScannerFailure, "rule %d (%s) has invalid severity %q", i, r.Name, r.Severity)
		}
	}
	return &RegexScanner{rules: rules, maxContentLength: DefaultMaxContentLength}, nil
}

// NewDefault returns a scanner over DefaultRules.
func NewDefault() *RegexScanner {
	s, err := NewRegexScanner(DefaultRules())
	if err != nil {
		panic(err)
	}
	return s
}

// invisibleCharReplacer strips zero-width and other invisible characters
// that would otherwise split a secret and hide it from the patterns.
var invisibleCharReplacer = strings.NewReplacer(
	"\u200b", "", // zero-width space
	"\u200c", "", // zero-width non-joiner
	"\u200d", "", // zero-width joiner
	"\ufeff", "", // BOM
	"\u00ad", "", // soft hyphen
	"\u034f", "", // combining grapheme joiner
	"\u2060", "", // word joiner
	"\u2062", "", // invisible times
	"\u2063", "", // invisible separator
)

func normalize(s string) string {
	return norm.NFKC.String(invisibleCharReplacer.Replace(s))
}

// Scan checks content against every rule. Content over the size cap is
// scanned up to the cap and classified at least medium.
func (s *RegexScanner) Scan(ctx context.Context, content string) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, pwerr.Wrap(err, pwerr.CodeSecurityScannerFailure, "scan cancelled")
	}

	content = normalize(content)
	result := Result{Content: content, Sensitivity: SeverityLow}

	scanned := content
	if len(scanned) > s.maxContentLength {
		scanned = scanned[:s.maxContentLength]
		result.Sensitivity = SeverityMedium
	}

	for _, rule := range s.rules {
		for _, loc := range rule.Pattern.FindAllStringIndex(scanned, -1) {
			if rule.Verify != nil && !rule.Verify(scanned[loc[0]:loc[1]]) {
				continue
			}
			result.Matches = append(result.Matches, Match{
				Rule:     rule.Name,
				Category: rule.Category,
				Location: loc[0],
				Length:   loc[1] - loc[0],
				Severity: rule.Severity,
			})
			if rule.Category != CategoryInjection {
				result.Sensitivity = result.Sensitivity.Max(rule.Severity)
			}
		}
	}

	return result, nil
}

// Classify returns the sensitivity of content: the highest severity among
// credential and personal-data matches, low when nothing matched.
func Classify(ctx context.Context, s Scanner, content string) Severity {
	if s == nil {
		return SeverityLow
	}
	res, err := s.Scan(ctx, content)
	if err != nil {
		return SeverityLow
	}
	return res.Sensitivity
}

// Redact replaces credential matches in the scanned content with [REDACTED].
// Personal data and injection matches are left readable.
func Redact(result Result) string {
	matches := slices.DeleteFunc(slices.Clone(result.Matches), func(m Match) bool {
		return m.Category != CategoryCredential || m.Location < 0 || m.Length < 0
	})
	return redact(result.Content, matches)
}

// redact replaces matched regions with [REDACTED], merging overlaps.
func redact(content string, matches []Match) string {
	if len(matches) == 0 {
		return content
	}

	slices.SortFunc(matches, func(a, b Match) int { return a.Location - b.Location })

	type span struct{ start, end int }
	spans := []span{{matches[0].Location, matches[0].Location + matches[0].Length}}
	for _, m := range matches[1:] {
		last := &spans[len(spans)-1]
		end := m.Location + m.Length
		if m.Location <= last.end {
			last.end = max(last.end, end)
		} else {
			spans = append(spans, span{m.Location, end})
		}
	}

	var b strings.Builder
	b.Grow(len(content))
	pos := 0
	for _, s := range spans {
		b.WriteString(content[pos:s.start])
		b.WriteString("[REDACTED]")
		pos = min(s.end, len(content))
	}
	b.WriteString(content[pos:])
	return b.String()
}
