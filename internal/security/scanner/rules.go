// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Pagewarden Contributors

package scanner

import (
	"regexp"
	"slices"
)

// DefaultRules returns the built-in rule set.
func DefaultRules() []Rule {
	return slices.Concat(CredentialRules(), PersonalDataRules(), InjectionRules())
}

// CredentialRules detects secrets and access tokens.
func CredentialRules() []Rule {
	credential := func(name, pattern string, sev Severity) Rule {
		return Rule{Name: name, Category: CategoryCredential, Pattern: regexp.MustCompile(pattern), Severity: sev}
	}
	return []Rule{
		credential("aws_access_key", `AKIA[0-9A-Z]{16}`, SeverityHigh),
		credential("openai_api_key", `sk-proj-[A-Za-z0-9_-]{20,}`, SeverityHigh),
		credential("openai_legacy_key", `sk-[A-Za-z0-9]{40,}`, SeverityMedium),
		credential("anthropic_api_key", `sk-ant-api\d{2}-[A-Za-z0-9_-]{20,}`, SeverityHigh),
		credential("google_api_key", `AIza[0-9A-Za-z_-]{35}`, SeverityHigh),
		credential("github_pat", `ghp_[A-Za-z0-9]{36}`, SeverityHigh),
		credential("github_fine_grained_pat", `github_pat_[A-Za-z0-9_]{22,}`, SeverityHigh),
		credential("slack_token", `xox[bpas]-[A-Za-z0-9-]+`, SeverityHigh),
		credential("bearer_token", `(?i)bearer\s+[A-Za-z0-9_\-.]{20,}`, SeverityHigh),
		credential("pem_private_key", `-----BEGIN\s+(RSA |EC |DSA |OPENSSH )?PRIVATE KEY-----`, SeverityHigh),
		credential("database_connection_string", `(?i)(postgres(?:ql)?|mysql|mongodb|redis)://[^\s:@]+:[^\s@]+@[^\s/:]+`, SeverityHigh),
		credential("password_assignment", `(?i)\b(?:password|passwd|pwd)\s*[:=]\s*\S{4,}`, SeverityHigh),
		credential("keyring_uri", `keyring://[^\s]+`, SeverityMedium),
	}
}

// PersonalDataRules detects personal and financial data commonly found on pages.
func PersonalDataRules() []Rule {
	return []Rule{
		{
			Name:     "payment_card",
			Category: CategoryPersonal,
			Pattern:  regexp.MustCompile(`\b(?:\d[ -]?){12,18}\d\b`),
			Severity: SeverityHigh,
			Verify:   luhnValid,
		},
		{
			Name:     "us_ssn",
			Category: CategoryPersonal,
			Pattern:  regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`),
			Severity: SeverityHigh,
		},
		{
			Name:     "iban",
			Category: CategoryPersonal,
			Pattern:  regexp.MustCompile(`\b[A-Z]{2}\d{2}(?: ?[A-Z0-9]{4}){3,7}(?: ?[A-Z0-9]{1,3})?\b`),
			Severity: SeverityHigh,
		},
		{
			Name:     "email_address",
			Category: CategoryPersonal,
			Pattern:  regexp.MustCompile(`[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}`),
			Severity: SeverityMedium,
		},
		{
			Name:     "phone_number",
			Category: CategoryPersonal,
			Pattern:  regexp.MustCompile(`(?:\+\d{1,3}[\s.-]?)?\(?\d{3}\)?[\s.-]\d{3}[\s.-]\d{4}\b`),
			Severity: SeverityMedium,
		},
	}
}

// InjectionRules detects instruction-like text embedded in page or tool content.
func InjectionRules() []Rule {
	return []Rule{
		{
			Name:     "instruction_override",
			Category: CategoryInjection,
			Pattern:  regexp.MustCompile(`(?i)(ignore|disregard|override|forget)\s+(all\s+)?(previous|prior|above)\s+(instructions|prompts|rules)`),
			Severity: SeverityHigh,
		},
		{
			Name:     "system_prompt_leak",
			Category: CategoryInjection,
			Pattern:  regexp.MustCompile(`(?im)^SYSTEM:\s`),
			Severity: SeverityHigh,
		},
		{
			Name:     "role_impersonation",
			Category: CategoryInjection,
			Pattern:  regexp.MustCompile(`(?is)\[INST\].{0,1000}?\[/INST\]`),
			Severity: SeverityHigh,
		},
		{
			Name:     "fake_tool_call",
			Category: CategoryInjection,
			Pattern:  regexp.MustCompile(`TOOL_CALL\s*\{`),
			Severity: SeverityMedium,
		},
	}
}

// luhnValid reports whether the digits in s pass the Luhn checksum.
func luhnValid(s string) bool {
	sum, n := 0, 0
	double := false
	for i := len(s) - 1; i >= 0; i-- {
		c := s[i]
		if c < '0' || c > '9' {
			continue
		}
		d := int(c - '0')
		if double {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		double = !double
		n++
	}
	return n >= 13 && sum%10 == 0
}
