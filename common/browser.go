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
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto"
	cdpbrowser "github.com/chromedp/cdproto/browser"
	"github.com/chromedp/cdproto/cdp"
	cdpruntime "github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/cdproto/target"

	"github.com/liuxd6825/horseman/log"
)

// Ensure Browser implements the EventEmitter interface
var _ EventEmitter = &Browser{}

const closeTimeout = 5 * time.Second

// BrowserOptions configure a Browser.
type BrowserOptions struct {
	// Page is applied to every page the browser attaches to.
	Page PageOptions
	// OnPageCreated is called for pages opened by another page.
	OnPageCreated func(*Page)
}

// Browser is a connection to a browser process and the pages in it.
type Browser struct {
	BaseEventEmitter

	ctx    context.Context
	cancel context.CancelFunc

	proc   *BrowserProcess
	conn   *Connection
	opts   BrowserOptions
	logger *log.Logger

	// Needed as the pages map is accessed from the goroutine listening
	// for CDP events and from callers.
	pagesMu  sync.RWMutex
	pages    map[target.ID]*Page
	sessions map[target.SessionID]target.ID

	closeOnce sync.Once
}

// NewBrowser connects to the browser started as proc. The process is
// terminated when the browser is closed.
func NewBrowser(ctx context.Context, proc *BrowserProcess, opts BrowserOptions, logger *log.Logger) (*Browser, error) {
	b, err := Connect(ctx, proc.WsURL(), opts, logger)
	if err != nil {
		proc.Terminate()
		return nil, err
	}
	b.proc = proc
	return b, nil
}

// Connect attaches to a browser already listening on wsURL.
func Connect(ctx context.Context, wsURL string, opts BrowserOptions, logger *log.Logger) (*Browser, error) {
	if opts.Page.Timeouts == nil {
		opts.Page.Timeouts = NewTimeoutSettings(0, 0)
	}
	ctx, cancel := context.WithCancel(ctx)
	b := &Browser{
		BaseEventEmitter: NewBaseEventEmitter(ctx),
		ctx:              ctx,
		cancel:           cancel,
		opts:             opts,
		logger:           logger,
		pages:            make(map[target.ID]*Page),
		sessions:         make(map[target.SessionID]target.ID),
	}

	logger.Infof("Browser:connect", "wsurl:%v", wsURL)
	conn, err := NewConnection(ctx, wsURL, logger)
	if err != nil {
		cancel()
		return nil, err
	}
	b.conn = conn

	if err := b.initEvents(); err != nil {
		_ = conn.Close()
		cancel()
		return nil, err
	}
	return b, nil
}

func (b *Browser) initEvents() error {
	Subscribe(b.ctx, b.conn, func(ev Event) {
		switch e := ev.data.(type) {
		case *target.EventAttachedToTarget:
			b.logger.Debugf("Browser:initEvents:onAttachedToTarget", "sid:%v tid:%v", e.SessionID, e.TargetInfo.TargetID)
			go b.onAttachedToTarget(e)
		case *target.EventDetachedFromTarget:
			b.logger.Debugf("Browser:initEvents:onDetachedFromTarget", "sid:%v", e.SessionID)
			go b.onDetachedFromTarget(e)
		default:
			if ev.typ == EventConnectionClose {
				b.logger.Debugf("Browser:initEvents:EventConnectionClose", "")
				b.emit(EventBrowserDisconnected, nil)
			}
		}
	},
		cdproto.EventTargetAttachedToTarget,
		cdproto.EventTargetDetachedFromTarget,
		EventConnectionClose,
	)

	action := target.SetAutoAttach(true, true).WithFlatten(true)
	if err := action.Do(cdp.WithExecutor(b.ctx, b.conn)); err != nil {
		return wrapProtocolError("auto attaching to targets", err)
	}
	return nil
}

func (b *Browser) onAttachedToTarget(ev *target.EventAttachedToTarget) {
	session := b.conn.getSession(ev.SessionID)
	if session == nil {
		return
	}
	info := ev.TargetInfo

	// Only pages are driven; everything else is let run.
	isDevTools := strings.HasPrefix(info.URL, "devtools://devtools")
	if info.Type != "page" || isDevTools {
		b.resume(session)
		return
	}

	p := NewPage(b.ctx, b, session, info, b.opts.Page, b.logger)
	if err := p.initialize(b.ctx); err != nil {
		b.logger.Errorf("Browser:onAttachedToTarget", "tid:%v initializing page: %v", info.TargetID, err)
		b.resume(session)
		return
	}

	b.pagesMu.Lock()
	b.pages[info.TargetID] = p
	b.sessions[ev.SessionID] = info.TargetID
	b.pagesMu.Unlock()

	b.resume(session)
	b.emit(EventBrowserPage, p)

	if info.OpenerID != "" && b.opts.OnPageCreated != nil {
		b.opts.OnPageCreated(p)
	}
}

func (b *Browser) resume(s *Session) {
	if err := cdpruntime.RunIfWaitingForDebugger().Do(cdp.WithExecutor(b.ctx, s)); err != nil {
		b.logger.Debugf("Browser:resume", "sid:%v err:%v", s.ID(), err)
	}
}

func (b *Browser) onDetachedFromTarget(ev *target.EventDetachedFromTarget) {
	b.pagesMu.Lock()
	tid, ok := b.sessions[ev.SessionID]
	var p *Page
	if ok {
		p = b.pages[tid]
		delete(b.pages, tid)
		delete(b.sessions, ev.SessionID)
	}
	b.pagesMu.Unlock()

	if p != nil {
		p.didClose()
	}
}

// NewPage opens a new about:blank page and returns it once ready.
func (b *Browser) NewPage(ctx context.Context) (*Page, error) {
	var (
		mu  sync.RWMutex // protects tid
		tid target.ID
	)
	ch, evCancelFn := nextEvent(
		ctx, b, []string{EventBrowserPage},
		func(data any) bool {
			mu.RLock()
			defer mu.RUnlock()
			return data.(*Page).targetID == tid
		},
	)
	defer evCancelFn()

	id, err := target.CreateTarget("about:blank").Do(cdp.WithExecutor(ctx, b.conn))
	if err != nil {
		return nil, wrapProtocolError("creating page", err)
	}
	mu.Lock()
	tid = id
	mu.Unlock()

	p := b.page(id)
	if p == nil {
		timeout := b.opts.Page.Timeouts.NavigationTimeout()
		timer := time.NewTimer(timeout)
		defer timer.Stop()

		select {
		case data := <-ch:
			p = data.(*Page)
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-b.ctx.Done():
			return nil, &TransportError{Op: "creating page", Err: ErrChannelClosed}
		case <-timer.C:
			// Attached before the id was known.
			if p = b.page(id); p == nil {
				return nil, &TimeoutError{Op: "newPage", Timeout: timeout}
			}
		}
	}

	if err := p.WaitReady(ctx); err != nil {
		return nil, fmt.Errorf("waiting for new page: %w", err)
	}
	return p, nil
}

func (b *Browser) page(id target.ID) *Page {
	b.pagesMu.RLock()
	defer b.pagesMu.RUnlock()
	return b.pages[id]
}

// Pages returns every open page.
func (b *Browser) Pages() []*Page {
	b.pagesMu.RLock()
	defer b.pagesMu.RUnlock()

	pages := make([]*Page, 0, len(b.pages))
	for _, p := range b.pages {
		pages = append(pages, p)
	}
	return pages
}

func (b *Browser) closeTarget(ctx context.Context, id target.ID) error {
	if err := target.CloseTarget(id).Do(cdp.WithExecutor(ctx, b.conn)); err != nil {
		return wrapProtocolError("closing page", err)
	}
	return nil
}

// Close closes the browser, the connection and the process once.
// Later calls do nothing.
func (b *Browser) Close() {
	b.closeOnce.Do(func() {
		b.logger.Debugf("Browser:Close", "")

		select {
		case <-b.conn.Done():
		default:
			ctx, cancel := context.WithTimeout(b.ctx, closeTimeout)
			if err := cdpbrowser.Close().Do(cdp.WithExecutor(ctx, b.conn)); err != nil {
				b.logger.Debugf("Browser:Close", "closing browser: %v", err)
			}
			cancel()
			_ = b.conn.Close()
		}
		if b.proc != nil {
			b.proc.Terminate()
		}
		b.cancel()
	})
}
