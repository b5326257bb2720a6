// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Pagewarden Contributors

// Package security is the permission gate in front of every tool call:
// capabilities, scoped grants and the human decision surfaces.
package security

import (
	"time"

	pwerr "github.com/sigil-dev/pagewarden/pkg/errors"
)

// Capability is the kind of access a tool needs.
type Capability string

const (
	CapabilityRead         Capability = "read"
	CapabilityAct          Capability = "act"
	CapabilitySendExternal Capability = "send-external"
)

// Valid reports whether c is a known capability.
func (c Capability) Valid() bool {
	switch c {
	case CapabilityRead, CapabilityAct, CapabilitySendExternal:
		return true
	}
	return false
}

// Scope is the breadth of a grant, ascending: page, site, task.
type Scope string

const (
	// ScopePage binds a grant to one handle and origin. It ends on
	// navigation and never expires on a timer.
	ScopePage Scope = "page"
	// ScopeSite binds a grant to an origin.
	ScopeSite Scope = "site"
	// ScopeTask covers every origin for the rest of the session.
	ScopeTask Scope = "task"
)

// Valid reports whether s is a known scope.
func (s Scope) Valid() bool {
	switch s {
	case ScopePage, ScopeSite, ScopeTask:
		return true
	}
	return false
}

// GrantTTL is the lifetime of site and task grants.
const GrantTTL = 30 * time.Minute

// Grant is one active permission.
type Grant struct {
	Capability Capability `json:"capability"`
	Scope      Scope      `json:"scope"`
	Origin     string     `json:"origin"`
	Handle     string     `json:"handle"`
	GrantedAt  time.Time  `json:"granted_at"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
	// AutoGranted is set when no human was asked.
	AutoGranted bool `json:"auto_granted,omitempty"`
}

// NewGrant builds a grant issued at now. Page grants carry no expiry; site
// and task grants expire GrantTTL after now.
func NewGrant(c Capability, s Scope, origin, handle string, now time.Time) (Grant, error) {
	if !c.Valid() {
		return Grant{}, pwerr.Errorf(pwerr.CodePermissionInvalidInput, "unknown capability %q", c)
	}
	if !s.Valid() {
		return Grant{}, pwerr.Errorf(pwerr.CodePermissionInvalidInput, "unknown scope %q", s)
	}

	g := Grant{Capability: c, Scope: s, Origin: origin, Handle: handle, GrantedAt: now}
	if s != ScopePage {
		exp := now.Add(GrantTTL)
		g.ExpiresAt = &exp
	}
	return g, nil
}

// Expired reports whether g is no longer valid at now.
func (g Grant) Expired(now time.Time) bool {
	return g.ExpiresAt != nil && !now.Before(*g.ExpiresAt)
}

// Covers reports whether g authorizes capability c for origin and handle.
func (g Grant) Covers(c Capability, origin, handle string) bool {
	if g.Capability != c {
		return false
	}
	switch g.Scope {
	case ScopePage:
		return g.Origin == origin && g.Handle == handle
	case ScopeSite:
		return g.Origin == origin
	case ScopeTask:
		return true
	}
	return false
}

type grantKey struct {
	capability Capability
	origin     string
	handle     string
}

func (g Grant) key() grantKey {
	return grantKey{capability: g.Capability, origin: g.Origin, handle: g.Handle}
}
