/*
 *
 * xk6-browser - a browser automation extension for k6
 * Copyright (C) 2021 Load Impact
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as
 * published by the Free Software Foundation, either version 3 of the
 * License, or (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 *
 */
package common

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chromedp/cdproto"
	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/fetch"
	"github.com/chromedp/cdproto/inspector"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	cdpruntime "github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/cdproto/target"
	"github.com/tidwall/gjson"

	"github.com/liuxd6825/horseman/common/js"
	"github.com/liuxd6825/horseman/log"
)

// PageState is the lifecycle state of a page.
type PageState int32

const (
	StateCreated PageState = iota
	StateLoading
	StateSettingUp
	StateReady
	StateFailed
	StateClosed
)

func (s PageState) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateLoading:
		return "loading"
	case StateSettingUp:
		return "settingUp"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	case StateClosed:
		return "closed"
	}
	return fmt.Sprintf("PageState(%d)", int32(s))
}

// ResourceRequest is the payload of EventPageResourceRequested.
type ResourceRequest struct {
	ID      string
	URL     string
	Method  string
	Headers map[string]any
	Type    string
	IsMain  bool
}

// ResourceResponse is the payload of EventPageResourceReceived.
type ResourceResponse struct {
	ID          string
	URL         string
	Status      int64
	StatusText  string
	Headers     map[string]any
	ContentType string
	Type        string
	IsMain      bool
}

// NavigationRequest is the payload of EventPageNavigationRequested.
type NavigationRequest struct {
	URL          string
	Type         string
	WillNavigate bool
	IsMain       bool
}

// ConsoleMessage is the payload of EventPageConsoleMessage.
type ConsoleMessage struct {
	Type string
	Text string
	// Args are the logged values, decoded when serializable.
	Args []any
}

// Dialog is the payload of EventPageDialog.
type Dialog struct {
	// Type is alert, confirm, prompt or beforeunload.
	Type          string
	Message       string
	DefaultPrompt string
	URL           string
}

// DialogResponse answers a Dialog.
type DialogResponse struct {
	Accept     bool
	PromptText string
}

// DialogHandler decides how a dialog is answered.
type DialogHandler func(Dialog) DialogResponse

// NavigateOptions tune Page.Navigate.
type NavigateOptions struct {
	Method      string
	Body        string
	ContentType string
	Referrer    string
}

// PageOptions configure every page a Browser attaches to.
type PageOptions struct {
	Timeouts *TimeoutSettings
	Waiter   *Waiter

	InjectHelperLibrary bool
	// ClientScripts are evaluated in the main frame after every load.
	ClientScripts []string
	UserAgent     string
	Viewport      Size

	// OnStatus is called synchronously for every response, before the
	// load it belongs to is reported as finished.
	OnStatus func(url string, status int64)
	// OnClose is called synchronously once the page is closed, by the
	// engine or by Close, before its context ends.
	OnClose func(p *Page)
}

type frameInfo struct {
	id       cdp.FrameID
	parentID cdp.FrameID
	name     string
	url      string
	children []cdp.FrameID
}

// Page is one browsing context of the browser. It tracks the load
// lifecycle of its main frame and gates commands until the current load
// has been set up.
type Page struct {
	BaseEventEmitter

	ctx     context.Context
	cancel  context.CancelFunc
	browser *Browser
	session *Session
	logger  *log.Logger

	targetID target.ID
	openerID target.ID

	opts      PageOptions
	timeouts  *TimeoutSettings
	waiter    *Waiter
	evaluator *Evaluator
	setupEval *Evaluator

	navCount atomic.Int64

	mu        sync.RWMutex
	state     PageState
	readyCh   chan struct{}
	readyErr  error
	loadGen   int64
	url       string
	mainFrame cdp.FrameID
	curFrame  cdp.FrameID
	frames    map[cdp.FrameID]*frameInfo
	contexts  map[cdp.FrameID]cdpruntime.ExecutionContextID
	requests  map[network.RequestID]string

	dialogMu      sync.RWMutex
	dialogHandler DialogHandler

	settingsMu sync.Mutex
	headers    map[string]string
	authHeader string
	viewport   Size
	zoom       float64
	userAgent  string
}

// NewPage creates a page bound to session. The page starts listening to
// its session events right away; Browser calls initialize before
// letting the target run.
func NewPage(ctx context.Context, b *Browser, s *Session, info *target.Info, opts PageOptions, logger *log.Logger) *Page {
	ctx, cancel := context.WithCancel(ctx)
	timeouts := opts.Timeouts
	if timeouts == nil {
		timeouts = NewTimeoutSettings(0, 0)
	}
	waiter := opts.Waiter
	if waiter == nil {
		waiter = NewWaiter(nil, timeouts.Timeout(), DefaultInterval, nil)
	}
	p := &Page{
		BaseEventEmitter: NewBaseEventEmitter(ctx),
		ctx:              ctx,
		cancel:           cancel,
		browser:          b,
		session:          s,
		logger:           logger,
		targetID:         info.TargetID,
		openerID:         info.OpenerID,
		opts:             opts,
		timeouts:         timeouts,
		waiter:           waiter,
		readyCh:          make(chan struct{}),
		url:              info.URL,
		frames:           make(map[cdp.FrameID]*frameInfo),
		contexts:         make(map[cdp.FrameID]cdpruntime.ExecutionContextID),
		requests:         make(map[network.RequestID]string),
		headers:          make(map[string]string),
		viewport:         opts.Viewport,
		zoom:             1,
		userAgent:        opts.UserAgent,
	}
	p.evaluator = NewEvaluator(s, p.currentContextID, waiter, logger)
	p.setupEval = NewEvaluator(s, p.mainContextID, waiter, logger)

	events := []string{
		cdproto.EventPageFrameStartedLoading,
		cdproto.EventPageLoadEventFired,
		cdproto.EventPageFrameAttached,
		cdproto.EventPageFrameDetached,
		cdproto.EventPageFrameNavigated,
		cdproto.EventPageNavigatedWithinDocument,
		cdproto.EventPageFrameRequestedNavigation,
		cdproto.EventPageJavascriptDialogOpening,
		cdproto.EventRuntimeExecutionContextCreated,
		cdproto.EventRuntimeExecutionContextDestroyed,
		cdproto.EventRuntimeExecutionContextsCleared,
		cdproto.EventRuntimeConsoleAPICalled,
		cdproto.EventRuntimeExceptionThrown,
		cdproto.EventNetworkRequestWillBeSent,
		cdproto.EventNetworkResponseReceived,
		cdproto.EventNetworkLoadingFailed,
		cdproto.EventInspectorTargetCrashed,
		EventSessionClosed,
	}
	Subscribe(ctx, s, p.handleEvent, events...)

	return p
}

// initialize enables the domains the page depends on and applies the
// initial settings. The target is still paused at this point.
func (p *Page) initialize(ctx context.Context) error {
	p.logger.Debugf("Page:initialize", "tid:%v", p.targetID)

	tree, err := page.GetFrameTree().Do(cdp.WithExecutor(ctx, p.session))
	if err != nil {
		return wrapProtocolError("getting frame tree", err)
	}
	p.mu.Lock()
	p.addFrameTree(tree, "")
	p.mu.Unlock()

	actions := []Action{
		page.Enable(),
		page.SetLifecycleEventsEnabled(true),
		network.Enable(),
		cdpruntime.Enable(),
		inspector.Enable(),
	}
	for _, action := range actions {
		if err := action.Do(cdp.WithExecutor(ctx, p.session)); err != nil {
			return wrapProtocolError("initializing page", err)
		}
	}
	if _, err := page.AddScriptToEvaluateOnNewDocument(js.HarnessScript).Do(cdp.WithExecutor(ctx, p.session)); err != nil {
		return wrapProtocolError("installing harness", err)
	}
	if p.userAgent != "" {
		if err := p.SetUserAgent(ctx, p.userAgent); err != nil {
			return err
		}
	}
	if p.viewport.Width > 0 && p.viewport.Height > 0 {
		if err := p.SetViewport(ctx, p.viewport); err != nil {
			return err
		}
	}

	// A page that has not navigated anywhere yet is usable as is.
	p.mu.Lock()
	if p.state == StateCreated {
		p.state = StateReady
		close(p.readyCh)
	}
	p.mu.Unlock()

	return nil
}

func (p *Page) addFrameTree(tree *page.FrameTree, parent cdp.FrameID) {
	if tree == nil || tree.Frame == nil {
		return
	}
	f := tree.Frame
	p.frames[f.ID] = &frameInfo{id: f.ID, parentID: parent, name: f.Name, url: f.URL}
	if parent == "" {
		p.mainFrame = f.ID
		p.curFrame = f.ID
		if f.URL != "" {
			p.url = f.URL
		}
	} else if pf, ok := p.frames[parent]; ok {
		pf.children = append(pf.children, f.ID)
	}
	for _, child := range tree.ChildFrames {
		p.addFrameTree(child, f.ID)
	}
}

func (p *Page) handleEvent(ev Event) {
	switch e := ev.data.(type) {
	case *page.EventFrameStartedLoading:
		p.onFrameStartedLoading(e)
	case *page.EventLoadEventFired:
		p.onLoadEventFired()
	case *page.EventFrameAttached:
		p.onFrameAttached(e)
	case *page.EventFrameDetached:
		p.onFrameDetached(e)
	case *page.EventFrameNavigated:
		p.onFrameNavigated(e)
	case *page.EventNavigatedWithinDocument:
		p.onNavigatedWithinDocument(e)
	case *page.EventFrameRequestedNavigation:
		p.onFrameRequestedNavigation(e)
	case *page.EventJavascriptDialogOpening:
		p.onDialog(e)
	case *cdpruntime.EventExecutionContextCreated:
		p.onExecutionContextCreated(e)
	case *cdpruntime.EventExecutionContextDestroyed:
		p.onExecutionContextDestroyed(e)
	case *cdpruntime.EventExecutionContextsCleared:
		p.mu.Lock()
		p.contexts = make(map[cdp.FrameID]cdpruntime.ExecutionContextID)
		p.mu.Unlock()
	case *cdpruntime.EventConsoleAPICalled:
		p.emit(EventPageConsoleMessage, ConsoleMessage{
			Type: string(e.Type),
			Text: remoteObjectsString(e.Args),
			Args: remoteObjectValues(e.Args),
		})
	case *cdpruntime.EventExceptionThrown:
		p.emit(EventPageError, newEvaluationError(envelopeFromException(e.ExceptionDetails)))
	case *network.EventRequestWillBeSent:
		p.onRequestWillBeSent(e)
	case *network.EventResponseReceived:
		p.onResponseReceived(e)
	case *network.EventLoadingFailed:
		p.onLoadingFailed(e)
	case *inspector.EventTargetCrashed:
		p.onTargetCrashed()
	default:
		if ev.typ == EventSessionClosed {
			p.didClose()
		}
	}
}

// arm starts a new load: it moves the page to Loading and replaces the
// readiness signal when the previous one already fired.
// The caller must hold p.mu.
func (p *Page) arm() bool {
	if p.state == StateClosed || p.state == StateLoading {
		return false
	}
	p.state = StateLoading
	p.loadGen++
	if isClosed(p.readyCh) {
		p.readyCh = make(chan struct{})
	}
	p.readyErr = nil
	return true
}

// settle ends the load identified by gen. Loads superseded by a newer
// navigation are ignored.
func (p *Page) settle(gen int64, err error) {
	p.mu.Lock()
	if gen != p.loadGen || (p.state != StateLoading && p.state != StateSettingUp) {
		p.mu.Unlock()
		return
	}
	status := "success"
	if err != nil {
		status = "fail"
		p.state = StateFailed
		p.readyErr = err
	} else {
		p.state = StateReady
	}
	if !isClosed(p.readyCh) {
		close(p.readyCh)
	}
	p.mu.Unlock()

	p.logger.Debugf("Page:settle", "tid:%v gen:%d status:%s", p.targetID, gen, status)
	p.emit(EventPageLoadFinished, status)
}

func (p *Page) fail(err error) {
	p.mu.Lock()
	gen := p.loadGen
	p.mu.Unlock()
	p.settle(gen, err)
}

func (p *Page) onFrameStartedLoading(e *page.EventFrameStartedLoading) {
	p.mu.Lock()
	if e.FrameID != p.mainFrame {
		p.mu.Unlock()
		return
	}
	p.arm()
	p.mu.Unlock()

	p.emit(EventPageLoadStarted, nil)
}

func (p *Page) onLoadEventFired() {
	p.mu.Lock()
	if p.state == StateClosed {
		p.mu.Unlock()
		return
	}
	if p.state != StateLoading {
		// The load started before we were listening.
		p.arm()
	}
	p.state = StateSettingUp
	gen := p.loadGen
	p.mu.Unlock()

	p.navCount.Add(1)
	go p.setup(gen)
}

// setup prepares a freshly loaded document: the harness is reset, the
// helper library is injected when configured and missing, and client
// scripts run.
func (p *Page) setup(gen int64) {
	ctx, cancel := context.WithTimeout(p.ctx, p.timeouts.NavigationTimeout())
	defer cancel()

	if err := p.setupEval.InstallHarness(ctx); err != nil {
		p.logger.Warnf("Page:setup", "tid:%v installing harness: %v", p.targetID, err)
	}
	if p.opts.InjectHelperLibrary {
		if err := p.setupEval.Run(ctx, js.HelperScript); err != nil {
			p.logger.Warnf("Page:setup", "tid:%v injecting helper library: %v", p.targetID, err)
		}
	}
	for _, script := range p.opts.ClientScripts {
		if err := p.setupEval.Run(ctx, script); err != nil {
			p.logger.Warnf("Page:setup", "tid:%v client script: %v", p.targetID, err)
		}
	}
	p.settle(gen, nil)
}

func (p *Page) onFrameAttached(e *page.EventFrameAttached) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.frames[e.FrameID]; ok {
		return
	}
	p.frames[e.FrameID] = &frameInfo{id: e.FrameID, parentID: e.ParentFrameID}
	if pf, ok := p.frames[e.ParentFrameID]; ok {
		pf.children = append(pf.children, e.FrameID)
	}
}

func (p *Page) onFrameDetached(e *page.EventFrameDetached) {
	if e.Reason == page.FrameDetachedReasonSwap {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	p.removeFrame(e.FrameID)
}

// The caller must hold p.mu.
func (p *Page) removeFrame(id cdp.FrameID) {
	f, ok := p.frames[id]
	if !ok {
		return
	}
	for _, child := range f.children {
		p.removeFrame(child)
	}
	if pf, ok := p.frames[f.parentID]; ok {
		for i, c := range pf.children {
			if c == id {
				pf.children = append(pf.children[:i], pf.children[i+1:]...)
				break
			}
		}
	}
	delete(p.frames, id)
	delete(p.contexts, id)
	if p.curFrame == id {
		p.curFrame = f.parentID
		if p.curFrame == "" {
			p.curFrame = p.mainFrame
		}
	}
}

func (p *Page) onFrameNavigated(e *page.EventFrameNavigated) {
	fr := e.Frame
	p.mu.Lock()
	f, ok := p.frames[fr.ID]
	if !ok {
		f = &frameInfo{id: fr.ID, parentID: fr.ParentID}
		p.frames[fr.ID] = f
		if pf, ok := p.frames[fr.ParentID]; ok {
			pf.children = append(pf.children, fr.ID)
		}
	}
	f.name = fr.Name
	f.url = fr.URL + fr.URLFragment
	isMain := fr.ParentID == ""
	if isMain {
		p.mainFrame = fr.ID
		p.curFrame = fr.ID
		p.url = f.url
	}
	p.mu.Unlock()

	if isMain {
		p.emit(EventPageURLChanged, f.url)
	}
}

func (p *Page) onNavigatedWithinDocument(e *page.EventNavigatedWithinDocument) {
	p.mu.Lock()
	if f, ok := p.frames[e.FrameID]; ok {
		f.url = e.URL
	}
	isMain := e.FrameID == p.mainFrame
	if isMain {
		p.url = e.URL
	}
	p.mu.Unlock()

	if isMain {
		p.emit(EventPageURLChanged, e.URL)
	}
}

func (p *Page) onFrameRequestedNavigation(e *page.EventFrameRequestedNavigation) {
	p.mu.RLock()
	isMain := e.FrameID == p.mainFrame
	p.mu.RUnlock()

	p.emit(EventPageNavigationRequested, NavigationRequest{
		URL:          e.URL,
		Type:         string(e.Reason),
		WillNavigate: e.Disposition == page.ClientNavigationDispositionCurrentTab,
		IsMain:       isMain,
	})
}

func (p *Page) onExecutionContextCreated(e *cdpruntime.EventExecutionContextCreated) {
	aux := gjson.ParseBytes(e.Context.AuxData)
	if !aux.Get("isDefault").Bool() {
		return
	}
	fid := cdp.FrameID(aux.Get("frameId").String())

	p.mu.Lock()
	p.contexts[fid] = e.Context.ID
	isMain := fid == p.mainFrame
	p.mu.Unlock()

	if isMain {
		p.emit(EventPageInitialized, nil)
	}
}

func (p *Page) onExecutionContextDestroyed(e *cdpruntime.EventExecutionContextDestroyed) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for fid, id := range p.contexts {
		if id == e.ExecutionContextID {
			delete(p.contexts, fid)
		}
	}
}

func (p *Page) onRequestWillBeSent(e *network.EventRequestWillBeSent) {
	p.mu.Lock()
	isMain := e.Type == network.ResourceTypeDocument && e.FrameID == p.mainFrame
	if isMain {
		p.requests[e.RequestID] = e.Request.Method
	}
	p.mu.Unlock()

	if e.RedirectResponse != nil && p.opts.OnStatus != nil {
		p.opts.OnStatus(e.RedirectResponse.URL, e.RedirectResponse.Status)
	}
	p.emit(EventPageResourceRequested, ResourceRequest{
		ID:      string(e.RequestID),
		URL:     e.Request.URL,
		Method:  e.Request.Method,
		Headers: e.Request.Headers,
		Type:    string(e.Type),
		IsMain:  isMain,
	})
}

func (p *Page) onResponseReceived(e *network.EventResponseReceived) {
	if e.Response == nil {
		return
	}
	p.mu.Lock()
	isMain := e.Type == network.ResourceTypeDocument && e.FrameID == p.mainFrame
	delete(p.requests, e.RequestID)
	p.mu.Unlock()

	if p.opts.OnStatus != nil {
		p.opts.OnStatus(e.Response.URL, e.Response.Status)
	}
	p.emit(EventPageResourceReceived, ResourceResponse{
		ID:          string(e.RequestID),
		URL:         e.Response.URL,
		Status:      e.Response.Status,
		StatusText:  e.Response.StatusText,
		Headers:     e.Response.Headers,
		ContentType: e.Response.MimeType,
		Type:        string(e.Type),
		IsMain:      isMain,
	})
}

func (p *Page) onLoadingFailed(e *network.EventLoadingFailed) {
	p.mu.Lock()
	method, isMain := p.requests[e.RequestID]
	delete(p.requests, e.RequestID)
	u := p.url
	p.mu.Unlock()

	if !isMain || e.Canceled {
		return
	}
	p.logger.Debugf("Page:onLoadingFailed", "tid:%v err:%s", p.targetID, e.ErrorText)
	p.fail(&NavigationError{Method: method, URL: u, Reason: e.ErrorText})
}

func (p *Page) onDialog(e *page.EventJavascriptDialogOpening) {
	d := Dialog{
		Type:          string(e.Type),
		Message:       e.Message,
		DefaultPrompt: e.DefaultPrompt,
		URL:           e.URL,
	}
	p.emit(EventPageDialog, d)

	p.dialogMu.RLock()
	handler := p.dialogHandler
	p.dialogMu.RUnlock()

	resp := DialogResponse{Accept: true, PromptText: d.DefaultPrompt}
	if handler != nil {
		resp = handler(d)
	}
	go func() {
		action := page.HandleJavaScriptDialog(resp.Accept).WithPromptText(resp.PromptText)
		if err := action.Do(cdp.WithExecutor(p.ctx, p.session)); err != nil {
			p.logger.Warnf("Page:onDialog", "tid:%v answering %s: %v", p.targetID, d.Type, err)
		}
	}()
}

// SetDialogHandler installs the handler answering dialogs. A nil handler
// accepts every dialog with its default prompt text.
func (p *Page) SetDialogHandler(h DialogHandler) {
	p.dialogMu.Lock()
	defer p.dialogMu.Unlock()
	p.dialogHandler = h
}

func (p *Page) onTargetCrashed() {
	p.logger.Errorf("Page:onTargetCrashed", "tid:%v", p.targetID)
	p.session.markAsCrashed()

	err := &TransportError{Op: "page", Err: ErrTargetCrashed}
	p.mu.Lock()
	p.state = StateFailed
	p.readyErr = err
	p.loadGen++
	if !isClosed(p.readyCh) {
		close(p.readyCh)
	}
	p.mu.Unlock()
}

func (p *Page) didClose() {
	p.mu.Lock()
	if p.state == StateClosed {
		p.mu.Unlock()
		return
	}
	p.state = StateClosed
	p.readyErr = ErrSessionClosed
	p.loadGen++
	if !isClosed(p.readyCh) {
		close(p.readyCh)
	}
	p.mu.Unlock()

	p.logger.Debugf("Page:didClose", "tid:%v", p.targetID)
	p.emit(EventPageClose, p)
	if p.opts.OnClose != nil {
		p.opts.OnClose(p)
	}
	p.cancel()
}

// State returns the current lifecycle state.
func (p *Page) State() PageState {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state
}

// NavCount returns the number of loads completed so far.
func (p *Page) NavCount() int64 {
	return p.navCount.Load()
}

// TargetID returns the engine target id.
func (p *Page) TargetID() target.ID { return p.targetID }

// OpenerID returns the id of the target that opened this page, if any.
func (p *Page) OpenerID() target.ID { return p.openerID }

// URL returns the last committed URL of the main frame.
func (p *Page) URL() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.url
}

// Timeouts returns the timeout settings of the page.
func (p *Page) Timeouts() *TimeoutSettings { return p.timeouts }

// Evaluator returns the evaluator bound to the current frame.
func (p *Page) Evaluator() *Evaluator { return p.evaluator }

// WaitReady blocks until the current load has been set up. It returns
// the navigation error when the load failed and ErrSessionClosed when
// the page is gone.
func (p *Page) WaitReady(ctx context.Context) error {
	p.mu.RLock()
	ch := p.readyCh
	p.mu.RUnlock()

	timeout := p.timeouts.NavigationTimeout()
	timer := p.waiter.clock.Timer(timeout)
	defer timer.Stop()

	select {
	case <-ch:
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return &TimeoutError{Op: "waitReady", Timeout: timeout}
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	switch p.state {
	case StateClosed:
		return ErrSessionClosed
	case StateFailed:
		return p.readyErr
	}
	return nil
}

// Navigate loads url in the main frame and waits for the page to be
// ready.
func (p *Page) Navigate(ctx context.Context, url string, opts NavigateOptions) error {
	method := strings.ToUpper(opts.Method)
	if method == "" {
		method = "GET"
	}
	p.logger.Debugf("Page:Navigate", "tid:%v %s %s", p.targetID, method, url)

	p.mu.Lock()
	if p.state == StateClosed {
		p.mu.Unlock()
		return ErrSessionClosed
	}
	p.arm()
	gen := p.loadGen
	p.mu.Unlock()

	if method != "GET" || opts.Body != "" {
		stop, err := p.interceptNavigation(ctx, url, method, opts.Body, opts.ContentType)
		if err != nil {
			p.settle(gen, err)
			return err
		}
		defer stop()
	}

	action := page.Navigate(url)
	if opts.Referrer != "" {
		action = action.WithReferrer(opts.Referrer)
	}
	_, loaderID, errorText, err := action.Do(cdp.WithExecutor(ctx, p.session))
	if err != nil {
		if IsTransport(err) {
			p.settle(gen, err)
			return err
		}
		errorText = err.Error()
	}
	if errorText != "" {
		navErr := &NavigationError{Method: method, URL: url, Reason: errorText}
		p.settle(gen, navErr)
		return navErr
	}
	if loaderID == "" {
		// Same document navigation: no load will follow.
		p.settle(gen, nil)
		return nil
	}

	return p.WaitReady(ctx)
}

// interceptNavigation rewrites the next document request for url into a
// method request carrying body.
func (p *Page) interceptNavigation(ctx context.Context, url, method, body, contentType string) (func(), error) {
	if contentType == "" && body != "" {
		contentType = "application/x-www-form-urlencoded"
	}
	pattern := &fetch.RequestPattern{
		URLPattern:   escapeURLPattern(url),
		ResourceType: network.ResourceTypeDocument,
		RequestStage: fetch.RequestStageRequest,
	}

	ictx, cancel := context.WithCancel(p.ctx)
	ch := make(chan Event)
	p.session.on(ictx, []string{cdproto.EventFetchRequestPaused}, ch)

	err := fetch.Enable().
		WithPatterns([]*fetch.RequestPattern{pattern}).
		Do(cdp.WithExecutor(ctx, p.session))
	if err != nil {
		cancel()
		return nil, wrapProtocolError("enabling request interception", err)
	}

	go func() {
		rewritten := false
		for {
			select {
			case <-ictx.Done():
				return
			case ev := <-ch:
				rp, ok := ev.data.(*fetch.EventRequestPaused)
				if !ok {
					continue
				}
				action := fetch.ContinueRequest(rp.RequestID)
				if !rewritten {
					rewritten = true
					action = action.
						WithMethod(method).
						WithPostData(base64.StdEncoding.EncodeToString([]byte(body))).
						WithHeaders(requestHeaders(rp.Request, contentType))
				}
				if err := action.Do(cdp.WithExecutor(ictx, p.session)); err != nil {
					p.logger.Warnf("Page:interceptNavigation", "tid:%v continuing request: %v", p.targetID, err)
				}
			}
		}
	}()

	stop := func() {
		if err := fetch.Disable().Do(cdp.WithExecutor(p.ctx, p.session)); err != nil {
			p.logger.Debugf("Page:interceptNavigation", "tid:%v disabling: %v", p.targetID, err)
		}
		cancel()
	}
	return stop, nil
}

func requestHeaders(req *network.Request, contentType string) []*fetch.HeaderEntry {
	var entries []*fetch.HeaderEntry
	if req != nil {
		for name, v := range req.Headers {
			if strings.EqualFold(name, "Content-Type") && contentType != "" {
				continue
			}
			entries = append(entries, &fetch.HeaderEntry{Name: name, Value: fmt.Sprint(v)})
		}
	}
	if contentType != "" {
		entries = append(entries, &fetch.HeaderEntry{Name: "Content-Type", Value: contentType})
	}
	return entries
}

func escapeURLPattern(u string) string {
	return strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`).Replace(u)
}

// GoBack navigates one entry back in history. It reports false when
// there is no such entry.
func (p *Page) GoBack(ctx context.Context) (bool, error) {
	return p.goHistory(ctx, -1)
}

// GoForward navigates one entry forward in history.
func (p *Page) GoForward(ctx context.Context) (bool, error) {
	return p.goHistory(ctx, 1)
}

func (p *Page) goHistory(ctx context.Context, delta int64) (bool, error) {
	cur, entries, err := page.GetNavigationHistory().Do(cdp.WithExecutor(ctx, p.session))
	if err != nil {
		return false, wrapProtocolError("getting navigation history", err)
	}
	idx := cur + delta
	if idx < 0 || idx >= int64(len(entries)) {
		return false, nil
	}
	sameDocument := stripFragment(entries[idx].URL) == stripFragment(entries[cur].URL)

	barrier := NewBarrier()
	defer barrier.Cancel()
	if !sameDocument {
		barrier.AddPageNavigation(p)
	}
	if err := page.NavigateToHistoryEntry(entries[idx].ID).Do(cdp.WithExecutor(ctx, p.session)); err != nil {
		return false, wrapProtocolError("navigating history", err)
	}
	if sameDocument {
		return true, nil
	}
	if err := barrier.Wait(ctx); err != nil {
		return true, err
	}
	return true, p.WaitReady(ctx)
}

// Reload reloads the main frame and waits for the page to be ready.
func (p *Page) Reload(ctx context.Context) error {
	barrier := NewBarrier()
	defer barrier.Cancel()
	barrier.AddPageNavigation(p)
	if err := page.Reload().Do(cdp.WithExecutor(ctx, p.session)); err != nil {
		return wrapProtocolError("reloading", err)
	}
	if err := barrier.Wait(ctx); err != nil {
		return err
	}
	return p.WaitReady(ctx)
}

func stripFragment(u string) string {
	parsed, err := url.Parse(u)
	if err != nil {
		return u
	}
	parsed.Fragment = ""
	return parsed.String()
}

// Close closes the page target and waits for its session to end.
func (p *Page) Close(ctx context.Context) error {
	if p.State() == StateClosed {
		return nil
	}
	if err := p.browser.closeTarget(ctx, p.targetID); err != nil {
		return err
	}
	timeout := p.timeouts.Timeout()
	timer := p.waiter.clock.Timer(timeout)
	defer timer.Stop()

	select {
	case <-p.session.Done():
		p.didClose()
	case <-p.ctx.Done():
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return &TimeoutError{Op: "closeTab", Timeout: timeout}
	}
	return nil
}

func (p *Page) mainContextID(ctx context.Context) (cdpruntime.ExecutionContextID, error) {
	p.mu.RLock()
	fid := p.mainFrame
	p.mu.RUnlock()
	return p.contextFor(ctx, fid)
}

func (p *Page) currentContextID(ctx context.Context) (cdpruntime.ExecutionContextID, error) {
	p.mu.RLock()
	fid := p.curFrame
	p.mu.RUnlock()
	return p.contextFor(ctx, fid)
}

// contextFor returns the default execution context of a frame, waiting
// for it to be created when the frame has just navigated.
func (p *Page) contextFor(ctx context.Context, fid cdp.FrameID) (cdpruntime.ExecutionContextID, error) {
	lookup := func() (cdpruntime.ExecutionContextID, bool) {
		p.mu.RLock()
		defer p.mu.RUnlock()
		id, ok := p.contexts[fid]
		return id, ok
	}
	if id, ok := lookup(); ok {
		return id, nil
	}

	var id cdpruntime.ExecutionContextID
	w := NewWaiter(p.waiter.clock, p.waiter.Timeout(), 10*time.Millisecond, nil)
	err := w.Poll(ctx, "executionContext", func(context.Context) (bool, error) {
		if p.State() == StateClosed {
			return false, ErrSessionClosed
		}
		var ok bool
		id, ok = lookup()
		return ok, nil
	})
	if IsTimeout(err) {
		return 0, fmt.Errorf("frame %s: %w", fid, ErrNoContext)
	}
	return id, err
}

// Action is a CDP command without a result.
type Action interface {
	Do(context.Context) error
}

func isClosed(ch chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}
