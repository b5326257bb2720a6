// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Pagewarden Contributors

package tools

import (
	"context"
	"net/url"
)

// Command is an opaque instruction for the host executor.
type Command string

const (
	CommandReadContent Command = "read_content"
	CommandFindText    Command = "find_text"
	CommandClick       Command = "click"
	CommandFillFields  Command = "fill_fields"
	CommandNavigate    Command = "navigate"
)

// FieldValue is one form field to fill.
type FieldValue struct {
	Selector string `json:"selector"`
	Value    string `json:"value"`
}

// HostRequest is one command sent to a content handle.
type HostRequest struct {
	Command  Command      `json:"command"`
	Query    string       `json:"query,omitempty"`
	Selector string       `json:"selector,omitempty"`
	Fields   []FieldValue `json:"fields,omitempty"`
	URL      string       `json:"url,omitempty"`
	// MaxChars caps the returned content. Zero means the executor default.
	MaxChars int `json:"max_chars,omitempty"`
}

// HostResponse is the executor's answer.
type HostResponse struct {
	Content   string `json:"content"`
	URL       string `json:"url,omitempty"`
	Truncated bool   `json:"truncated,omitempty"`
}

// Page describes what a handle currently shows.
type Page struct {
	URL   string `json:"url"`
	Title string `json:"title,omitempty"`
}

// Origin returns scheme://host of the page, or the raw URL if it does not
// parse.
func (p Page) Origin() string { return OriginOf(p.URL) }

// HostExecutor reaches a content handle (a browser tab or similar). Calls
// must honor ctx cancellation.
type HostExecutor interface {
	Invoke(ctx context.Context, handle string, req HostRequest) (HostResponse, error)
	Page(ctx context.Context, handle string) (Page, error)
}

// OriginOf reduces a URL to scheme://host.
func OriginOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return raw
	}
	return u.Scheme + "://" + u.Host
}
