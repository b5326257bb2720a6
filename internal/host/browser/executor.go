// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Pagewarden Contributors

// Package browser drives Chrome tabs over the DevTools protocol. A content
// handle is a CDP target ID.
package browser

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"

	"github.com/sigil-dev/pagewarden/internal/tools"
	pwerr "github.com/sigil-dev/pagewarden/pkg/errors"
)

const (
	defaultLoadTimeout = 10 * time.Second
	maxPassages        = 20
)

const innerTextJS = `() => document.body ? document.body.innerText : ""`

// Option configures an Executor.
type Option func(*Executor)

// WithLoadTimeout bounds the wait for a page load after navigation.
func WithLoadTimeout(d time.Duration) Option {
	return func(e *Executor) { e.loadTimeout = d }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Executor) { e.logger = l }
}

// WithTeardownHook registers fn to run after a tab is closed. The guard's
// OnTeardown is the usual hook.
func WithTeardownHook(fn func(ctx context.Context, handle string)) Option {
	return func(e *Executor) { e.onTeardown = fn }
}

// WithNavigateHook registers fn to run whenever the main frame of a tracked
// tab commits a navigation, whether a tool, a script or the user started it.
// The guard's OnNavigate is the usual hook; it may see a navigation twice.
func WithNavigateHook(fn func(ctx context.Context, handle string)) Option {
	return func(e *Executor) { e.onNavigate = fn }
}

// Executor implements tools.HostExecutor on a rod browser.
type Executor struct {
	browser     *rod.Browser
	launcher    *launcher.Launcher
	loadTimeout time.Duration
	logger      *slog.Logger
	onTeardown  func(ctx context.Context, handle string)
	onNavigate  func(ctx context.Context, handle string)

	mu      sync.Mutex
	pages   map[string]*rod.Page
	watches map[proto.TargetTargetID]context.CancelFunc
}

var _ tools.HostExecutor = (*Executor)(nil)

// Connect attaches to the browser at controlURL. With an empty URL a
// headless Chrome is launched and killed again by Close.
func Connect(ctx context.Context, controlURL string, opts ...Option) (*Executor, error) {
	var l *launcher.Launcher
	if controlURL == "" {
		l = launcher.New().Context(ctx).Headless(true)
		u, err := l.Launch()
		if err != nil {
			return nil, pwerr.Wrap(err, pwerr.CodeToolHostFailure, "launching browser")
		}
		controlURL = u
	}

	b := rod.New().ControlURL(controlURL)
	if err := b.Connect(); err != nil {
		if l != nil {
			l.Kill()
		}
		return nil, pwerr.Wrapf(err, pwerr.CodeToolHostFailure, "connecting to %s", controlURL)
	}

	e := New(b, opts...)
	e.launcher = l
	return e, nil
}

// New wraps an already connected browser.
func New(b *rod.Browser, opts ...Option) *Executor {
	e := &Executor{
		browser:     b,
		loadTimeout: defaultLoadTimeout,
		logger:      slog.Default(),
		pages:       make(map[string]*rod.Page),
		watches:     make(map[proto.TargetTargetID]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Open creates a tab, optionally loading url, and returns its handle.
func (e *Executor) Open(ctx context.Context, url string) (string, error) {
	p, err := e.browser.Context(ctx).Page(proto.TargetCreateTarget{URL: url})
	if err != nil {
		return "", pwerr.Wrap(err, pwerr.CodeToolHostFailure, "opening tab")
	}
	if url != "" {
		if err := p.Context(ctx).Timeout(e.loadTimeout).WaitLoad(); err != nil {
			e.logger.Warn("page load did not finish", "url", url, "error", err)
		}
	}

	handle := string(p.TargetID)
	e.track(p, handle)
	return handle, nil
}

// Handles lists the open tabs.
func (e *Executor) Handles(ctx context.Context) ([]string, error) {
	pages, err := e.browser.Context(ctx).Pages()
	if err != nil {
		return nil, pwerr.Wrap(err, pwerr.CodeToolHostFailure, "listing tabs")
	}
	handles := make([]string, 0, len(pages))
	for _, p := range pages {
		handles = append(handles, string(p.TargetID))
	}
	return handles, nil
}

// Page describes the tab behind handle. An empty handle is the first tab.
func (e *Executor) Page(ctx context.Context, handle string) (tools.Page, error) {
	p, err := e.page(ctx, handle)
	if err != nil {
		return tools.Page{}, err
	}
	info, err := p.Context(ctx).Info()
	if err != nil {
		return tools.Page{}, pwerr.Wrap(err, pwerr.CodeToolHostFailure, "reading tab info")
	}
	return tools.Page{URL: info.URL, Title: info.Title}, nil
}

// Invoke runs one command against the tab behind handle.
func (e *Executor) Invoke(ctx context.Context, handle string, req tools.HostRequest) (tools.HostResponse, error) {
	p, err := e.page(ctx, handle)
	if err != nil {
		return tools.HostResponse{}, err
	}
	p = p.Context(ctx)

	switch req.Command {
	case tools.CommandReadContent:
		text, err := innerText(p)
		if err != nil {
			return tools.HostResponse{}, err
		}
		content, truncated := Truncate(text, req.MaxChars)
		return tools.HostResponse{Content: content, Truncated: truncated}, nil

	case tools.CommandFindText:
		text, err := innerText(p)
		if err != nil {
			return tools.HostResponse{}, err
		}
		found := Passages(text, req.Query, maxPassages)
		if len(found) == 0 {
			return tools.HostResponse{Content: "No passages contain " + strconv.Quote(req.Query) + "."}, nil
		}
		content, truncated := Truncate(strings.Join(found, "\n---\n"), req.MaxChars)
		return tools.HostResponse{Content: content, Truncated: truncated}, nil

	case tools.CommandClick:
		el, err := p.Element(req.Selector)
		if err != nil {
			return tools.HostResponse{}, pwerr.Wrapf(err, pwerr.CodeToolHostFailure, "element %s not found", req.Selector)
		}
		if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
			return tools.HostResponse{}, pwerr.Wrapf(err, pwerr.CodeToolHostFailure, "clicking %s", req.Selector)
		}
		return tools.HostResponse{Content: "Clicked " + req.Selector + "."}, nil

	case tools.CommandFillFields:
		for _, f := range req.Fields {
			el, err := p.Element(f.Selector)
			if err != nil {
				return tools.HostResponse{}, pwerr.Wrapf(err, pwerr.CodeToolHostFailure, "element %s not found", f.Selector)
			}
			if err := el.SelectAllText(); err != nil {
				return tools.HostResponse{}, pwerr.Wrapf(err, pwerr.CodeToolHostFailure, "clearing %s", f.Selector)
			}
			if err := el.Input(f.Value); err != nil {
				return tools.HostResponse{}, pwerr.Wrapf(err, pwerr.CodeToolHostFailure, "typing into %s", f.Selector)
			}
		}
		return tools.HostResponse{Content: "Filled " + strconv.Itoa(len(req.Fields)) + " field(s)."}, nil

	case tools.CommandNavigate:
		if err := p.Navigate(req.URL); err != nil {
			return tools.HostResponse{}, pwerr.Wrapf(err, pwerr.CodeToolHostFailure, "navigating to %s", req.URL)
		}
		if err := p.Timeout(e.loadTimeout).WaitLoad(); err != nil {
			e.logger.Warn("page load did not finish", "url", req.URL, "error", err)
		}
		info, err := p.Info()
		if err != nil {
			return tools.HostResponse{URL: req.URL, Content: "Navigated to " + req.URL + "."}, nil
		}
		return tools.HostResponse{URL: info.URL, Content: "Navigated to " + info.URL + " (" + info.Title + ")."}, nil
	}

	return tools.HostResponse{}, pwerr.Errorf(pwerr.CodeToolHostFailure, "unsupported host command %q", req.Command)
}

// Close releases the tab behind handle.
func (e *Executor) Close(handle string) error {
	e.mu.Lock()
	p, ok := e.pages[handle]
	delete(e.pages, handle)
	if ok {
		e.unwatchLocked(p.TargetID)
	}
	e.mu.Unlock()
	if !ok {
		return nil
	}
	err := p.Close()
	if e.onTeardown != nil {
		e.onTeardown(context.Background(), handle)
	}
	return err
}

// Shutdown disconnects from the browser, killing it if Connect launched it.
func (e *Executor) Shutdown() error {
	e.mu.Lock()
	e.pages = make(map[string]*rod.Page)
	for id := range e.watches {
		e.unwatchLocked(id)
	}
	e.mu.Unlock()

	err := e.browser.Close()
	if e.launcher != nil {
		e.launcher.Kill()
		e.launcher.Cleanup()
	}
	return err
}

func (e *Executor) page(ctx context.Context, handle string) (*rod.Page, error) {
	e.mu.Lock()
	p, ok := e.pages[handle]
	e.mu.Unlock()
	if ok {
		return p, nil
	}

	pages, err := e.browser.Context(ctx).Pages()
	if err != nil {
		return nil, pwerr.Wrap(err, pwerr.CodeToolHostFailure, "listing tabs")
	}
	for _, candidate := range pages {
		if handle == "" || string(candidate.TargetID) == handle {
			e.track(candidate, string(candidate.TargetID), handle)
			return candidate, nil
		}
	}
	if handle == "" {
		return nil, pwerr.New(pwerr.CodeToolHostFailure, "browser has no open tab")
	}
	return nil, pwerr.New(pwerr.CodeToolHostFailure, "no tab with handle "+handle)
}

// track remembers p under each handle and, with a navigate hook set, starts
// one navigation watch per tab.
func (e *Executor) track(p *rod.Page, handles ...string) {
	e.mu.Lock()
	for _, h := range handles {
		e.pages[h] = p
	}
	_, watching := e.watches[p.TargetID]
	start := e.onNavigate != nil && !watching
	var ctx context.Context
	if start {
		var cancel context.CancelFunc
		ctx, cancel = context.WithCancel(context.Background())
		e.watches[p.TargetID] = cancel
	}
	e.mu.Unlock()

	if !start {
		return
	}
	wait := p.Context(ctx).EachEvent(func(ev *proto.PageFrameNavigated) {
		if ev.Frame == nil || ev.Frame.ParentID != "" {
			return
		}
		e.navigated(p.TargetID, ev.Frame.URL)
	})
	go wait()
}

// navigated runs the hook for every handle that names the tab, so grants
// held under the first-tab alias are revoked too.
func (e *Executor) navigated(id proto.TargetTargetID, url string) {
	e.mu.Lock()
	var handles []string
	for h, p := range e.pages {
		if p.TargetID == id {
			handles = append(handles, h)
		}
	}
	e.mu.Unlock()

	e.logger.Debug("tab navigated", "target", string(id), "url", url)
	for _, h := range handles {
		e.onNavigate(context.Background(), h)
	}
}

func (e *Executor) unwatchLocked(id proto.TargetTargetID) {
	if cancel, ok := e.watches[id]; ok {
		cancel()
		delete(e.watches, id)
	}
}

func innerText(p *rod.Page) (string, error) {
	res, err := p.Eval(innerTextJS)
	if err != nil {
		return "", pwerr.Wrap(err, pwerr.CodeToolHostFailure, "reading page text")
	}
	return res.Value.Str(), nil
}
