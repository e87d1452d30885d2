/*
 *
 * horseman - a headless browser automation library for Go
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
package ws

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/png"
	"strings"
	"sync"

	"github.com/chromedp/cdproto"
	"github.com/chromedp/cdproto/target"
	"github.com/gorilla/websocket"
	"github.com/mailru/easyjson"
	"github.com/tidwall/gjson"
)

// FunctionCall is a Runtime.callFunctionOn command received by a
// FakeBrowser.
type FunctionCall struct {
	SessionID   string
	URL         string
	Declaration string
	Args        []gjson.Result
}

// IsInvocation reports whether the call runs a function through the
// page harness.
func (c FunctionCall) IsInvocation() bool {
	return strings.Contains(c.Declaration, ".invoke(conv, token,")
}

// UserArgs returns the arguments passed to the invoked function.
func (c FunctionCall) UserArgs() []gjson.Result {
	if !c.IsInvocation() || len(c.Args) < 2 {
		return c.Args
	}
	return c.Args[2:]
}

// Done formats a settled harness reply carrying the JSON value v.
func Done(v string) string {
	return `{"state":"done","value":` + v + `,"binary":false}`
}

// FakeBrowser is a scripted CDP peer emulating a browser whose pages
// load instantly. Its Handle method is meant for WithCDPHandler.
type FakeBrowser struct {
	// Status returns the HTTP status served for url. Nil serves 200.
	Status func(url string) int64
	// NavigationError returns the error text of a navigation to url,
	// empty when it succeeds.
	NavigationError func(url string) string
	// Eval returns the JSON value produced by a function call.
	// Nil settles every invocation with null.
	Eval func(call FunctionCall) string
	// Opens returns the URL of a popup a function call opens, empty
	// when it opens none.
	Opens func(call FunctionCall) string
	// Closes reports whether a function call closes its own page.
	Closes func(call FunctionCall) bool

	mu       sync.Mutex
	targets  map[string]*fakeTarget
	nextID   int
	commands []string
}

type fakeTarget struct {
	sessionID string
	targetID  string
	frameID   string
	url       string
	history   []string
	index     int
}

// Commands returns the methods received so far.
func (f *FakeBrowser) Commands() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.commands...)
}

// Targets returns the number of open targets.
func (f *FakeBrowser) Targets() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.targets)
}

// Handle answers one CDP message.
func (f *FakeBrowser) Handle(_ *websocket.Conn, msg *cdproto.Message, writeCh chan cdproto.Message, done chan struct{}) {
	if msg.Method == "" {
		return
	}
	send := func(m cdproto.Message) {
		select {
		case writeCh <- m:
		case <-done:
		}
	}
	reply := func(result string) {
		send(cdproto.Message{ID: msg.ID, SessionID: msg.SessionID, Result: easyjson.RawMessage(result)})
	}
	params := gjson.ParseBytes(msg.Params)

	f.mu.Lock()
	if f.targets == nil {
		f.targets = make(map[string]*fakeTarget)
	}
	f.commands = append(f.commands, string(msg.Method))
	f.mu.Unlock()

	if msg.SessionID == "" {
		switch msg.Method {
		case cdproto.CommandTargetSetAutoAttach:
			reply(`{}`)
			f.attach(send, "about:blank", "")
		case cdproto.CommandTargetCreateTarget:
			t := f.attach(send, params.Get("url").String(), "")
			reply(fmt.Sprintf(`{"targetId":%q}`, t.targetID))
		case cdproto.CommandTargetCloseTarget:
			reply(`{"success":true}`)
			f.close(send, params.Get("targetId").String())
		default:
			reply(`{}`)
		}
		return
	}

	f.mu.Lock()
	t, ok := f.targets[string(msg.SessionID)]
	f.mu.Unlock()
	if !ok {
		send(cdproto.Message{ID: msg.ID, SessionID: msg.SessionID, Error: &cdproto.Error{Code: -32001, Message: "Session with given id not found."}})
		return
	}

	switch msg.Method {
	case cdproto.CommandPageGetFrameTree:
		reply(fmt.Sprintf(`{"frameTree":{"frame":%s}}`, t.frame()))
	case cdproto.CommandRuntimeEnable:
		reply(`{}`)
		f.contextCreated(send, t)
	case cdproto.CommandPageNavigate:
		u := params.Get("url").String()
		if f.NavigationError != nil {
			if text := f.NavigationError(u); text != "" {
				reply(fmt.Sprintf(`{"frameId":%q,"loaderId":"","errorText":%q}`, t.frameID, text))
				return
			}
		}
		f.mu.Lock()
		t.history = append(t.history[:t.index+1], u)
		t.index = len(t.history) - 1
		f.mu.Unlock()
		reply(fmt.Sprintf(`{"frameId":%q,"loaderId":"loader_%s"}`, t.frameID, t.targetID))
		f.load(send, t, u)
	case cdproto.CommandPageReload:
		reply(`{}`)
		f.load(send, t, t.url)
	case cdproto.CommandPageGetNavigationHistory:
		f.mu.Lock()
		var entries []string
		for i, u := range t.history {
			entries = append(entries, fmt.Sprintf(`{"id":%d,"url":%q,"userTypedURL":%q,"title":"","transitionType":"typed"}`, i, u, u))
		}
		idx := t.index
		f.mu.Unlock()
		reply(fmt.Sprintf(`{"currentIndex":%d,"entries":[%s]}`, idx, strings.Join(entries, ",")))
	case cdproto.CommandPageNavigateToHistoryEntry:
		id := int(params.Get("entryId").Int())
		f.mu.Lock()
		valid := id >= 0 && id < len(t.history)
		var u string
		if valid {
			t.index = id
			u = t.history[id]
		}
		f.mu.Unlock()
		reply(`{}`)
		if valid {
			f.load(send, t, u)
		}
	case cdproto.CommandRuntimeEvaluate:
		reply(`{"result":{"type":"undefined"}}`)
	case cdproto.CommandRuntimeCallFunctionOn:
		call := FunctionCall{
			SessionID:   string(msg.SessionID),
			URL:         t.url,
			Declaration: params.Get("functionDeclaration").String(),
		}
		for _, a := range params.Get("arguments").Array() {
			call.Args = append(call.Args, a.Get("value"))
		}
		var value string
		if f.Eval != nil {
			value = f.Eval(call)
		}
		if value == "" {
			value = "null"
			if call.IsInvocation() {
				value = Done("null")
			}
		}
		reply(fmt.Sprintf(`{"result":{"type":"object","value":%s}}`, value))
		if f.Opens != nil {
			if u := f.Opens(call); u != "" {
				f.attach(send, u, t.targetID)
			}
		}
		if f.Closes != nil && f.Closes(call) {
			f.close(send, t.targetID)
		}
	case cdproto.CommandPageCaptureScreenshot:
		reply(fmt.Sprintf(`{"data":%q}`, base64.StdEncoding.EncodeToString(tinyPNG())))
	case cdproto.CommandPagePrintToPDF:
		reply(fmt.Sprintf(`{"data":%q}`, base64.StdEncoding.EncodeToString([]byte("%PDF-1.4\n%%EOF\n"))))
	case cdproto.CommandNetworkGetCookies:
		reply(`{"cookies":[]}`)
	default:
		reply(`{}`)
	}
}

func (f *FakeBrowser) attach(send func(cdproto.Message), u, opener string) *fakeTarget {
	f.mu.Lock()
	f.nextID++
	n := f.nextID
	t := &fakeTarget{
		sessionID: fmt.Sprintf("session_%d", n),
		targetID:  fmt.Sprintf("target_%d", n),
		frameID:   fmt.Sprintf("frame_%d", n),
		url:       u,
		history:   []string{u},
	}
	f.targets[t.sessionID] = t
	f.mu.Unlock()

	f.event(send, "", cdproto.EventTargetAttachedToTarget, fmt.Sprintf(`{
		"sessionId": %q,
		"targetInfo": {
			"targetId": %q,
			"type": "page",
			"title": "",
			"url": %q,
			"attached": true,
			"canAccessOpener": false,
			"openerId": %q,
			"browserContextId": %q
		},
		"waitingForDebugger": true
	}`, t.sessionID, t.targetID, u, opener, DefaultBrowserContextID))
	return t
}

func (f *FakeBrowser) detach(targetID string) *fakeTarget {
	f.mu.Lock()
	defer f.mu.Unlock()
	for sid, t := range f.targets {
		if t.targetID == targetID {
			delete(f.targets, sid)
			return t
		}
	}
	return nil
}

// close detaches targetID the way the browser does when the page goes
// away.
func (f *FakeBrowser) close(send func(cdproto.Message), targetID string) {
	t := f.detach(targetID)
	if t == nil {
		return
	}
	f.event(send, "", cdproto.EventTargetDetachedFromTarget,
		fmt.Sprintf(`{"sessionId":%q,"targetId":%q}`, t.sessionID, t.targetID))
}

func (f *FakeBrowser) load(send func(cdproto.Message), t *fakeTarget, u string) {
	status := int64(200)
	if f.Status != nil {
		status = f.Status(u)
	}
	f.mu.Lock()
	t.url = u
	f.mu.Unlock()

	sid := t.sessionID
	f.event(send, sid, cdproto.EventPageFrameStartedLoading, fmt.Sprintf(`{"frameId":%q}`, t.frameID))
	f.event(send, sid, cdproto.EventNetworkRequestWillBeSent, fmt.Sprintf(`{
		"requestId": "request_%s",
		"loaderId": "loader_%s",
		"documentURL": %q,
		"request": {"url": %q, "method": "GET", "headers": {}, "initialPriority": "VeryHigh", "referrerPolicy": "no-referrer"},
		"timestamp": 1,
		"wallTime": 1,
		"initiator": {"type": "other"},
		"type": "Document",
		"frameId": %q
	}`, t.targetID, t.targetID, u, u, t.frameID))
	f.event(send, sid, cdproto.EventNetworkResponseReceived, fmt.Sprintf(`{
		"requestId": "request_%s",
		"loaderId": "loader_%s",
		"timestamp": 1,
		"type": "Document",
		"response": {"url": %q, "status": %d, "statusText": "", "headers": {}, "mimeType": "text/html"},
		"frameId": %q
	}`, t.targetID, t.targetID, u, status, t.frameID))
	f.event(send, sid, cdproto.EventRuntimeExecutionContextsCleared, `{}`)
	f.event(send, sid, cdproto.EventPageFrameNavigated, fmt.Sprintf(`{"frame":%s,"type":"Navigation"}`, t.frame()))
	f.contextCreated(send, t)
	f.event(send, sid, cdproto.EventPageLoadEventFired, `{"timestamp":1}`)
}

func (f *FakeBrowser) contextCreated(send func(cdproto.Message), t *fakeTarget) {
	f.mu.Lock()
	f.nextID++
	id := f.nextID
	f.mu.Unlock()

	f.event(send, t.sessionID, cdproto.EventRuntimeExecutionContextCreated, fmt.Sprintf(`{
		"context": {
			"id": %d,
			"origin": "",
			"name": "",
			"uniqueId": "context_%d",
			"auxData": {"isDefault": true, "type": "default", "frameId": %q}
		}
	}`, id, id, t.frameID))
}

func (f *FakeBrowser) event(send func(cdproto.Message), sid, method, params string) {
	send(cdproto.Message{
		SessionID: target.SessionID(sid),
		Method:    cdproto.MethodType(method),
		Params:    easyjson.RawMessage(params),
	})
}

func (t *fakeTarget) frame() string {
	return fmt.Sprintf(`{"id":%q,"loaderId":"loader_%s","url":%q,"securityOrigin":"","mimeType":"text/html"}`,
		t.frameID, t.targetID, t.url)
}

func tinyPNG() []byte {
	var buf bytes.Buffer
	_ = png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 2, 2)))
	return buf.Bytes()
}
