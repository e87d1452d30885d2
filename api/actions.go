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
// Package api declares the action set shared by sessions and chains.
package api

import (
	"github.com/chromedp/cdproto/network"

	"github.com/liuxd6825/horseman/common"
)

// Cookie is a cookie to set in the browser.
type Cookie = network.CookieParam

// Area is a rectangle of the page used for cropping.
type Area = common.Rect

// TypeOptions tunes Type.
type TypeOptions struct {
	// Reset clears the field before typing.
	Reset bool `json:"reset"`
	// EventType is keypress, keydown or keyup.
	EventType string `json:"eventType"`
	// KeepFocus leaves the field focused after typing.
	KeepFocus bool `json:"keepFocus"`
	// Modifiers such as "ctrl+shift".
	Modifiers string `json:"modifiers"`
}

// Event is delivered to handlers registered with On.
type Event struct {
	Name string
	// Tab is the index of the tab the event relates to, -1 when none.
	Tab  int
	Page *common.Page

	URL          string
	Status       string
	Type         string
	WillNavigate bool
	IsMain       bool
	Context      string
	Message      string
	// Args are the values of a console message.
	Args         []any
	Err          error
	Request      *common.ResourceRequest
	Response     *common.ResourceResponse
}

// EventHandler handles one kind of event.
type EventHandler func(Event)

// Actions is the set of operations available on a session and on every
// chain built from it. Each call queues the action and returns the chain
// carrying its result.
type Actions[C any] interface {
	// Do runs any registered action by name.
	Do(name string, args ...any) C

	// Navigation.
	Open(url string) C
	Post(url, data string) C
	Put(url, data string) C
	Back() C
	Forward() C
	Reload() C
	Status() C
	URL() C
	Title() C

	// Page settings.
	UserAgent(ua ...string) C
	Headers(headers map[string]string) C
	Authentication(user, password string) C
	Viewport(size ...int64) C
	Zoom(factor float64) C
	ScrollTo(top, left float64) C
	Cookies() C
	SetCookies(cookies ...*Cookie) C
	AddCookie(cookie *Cookie) C

	// Capture.
	Screenshot(path string) C
	ScreenshotBase64(format string) C
	Crop(area any, path string) C
	CropBase64(area any, format string) C
	PDF(path string, paper ...common.PaperSize) C

	// Scripts.
	InjectJs(file string) C
	IncludeJs(url string) C
	Evaluate(fn string, args ...any) C
	EvaluateWith(conv common.CallConvention, fn string, args ...any) C

	// Input.
	Click(selector string) C
	Select(selector, value string) C
	KeyboardEvent(eventType, key string, modifiers ...string) C
	MouseEvent(eventType string, x, y float64, button ...string) C
	Type(selector, text string, opts ...TypeOptions) C
	Clear(selector string) C
	Upload(selector, path string) C
	Download(url, path string, binary bool) C

	// DOM getters.
	BoundingRectangle(selector string) C
	Count(selector string) C
	Exists(selector string) C
	HTML(selector string, file ...string) C
	Text(selector ...string) C
	PlainText() C
	Attribute(selector, attr string) C
	CSSProperty(selector, prop string) C
	Width(selector string) C
	Height(selector string) C
	Value(selector string, value ...any) C
	Visible(selector string) C
	Log(output ...any) C

	// Tabs.
	TabCount() C
	SwitchToTab(index int) C
	OpenTab(url string) C
	CloseTab(index int) C

	// Frames.
	FrameName() C
	FrameCount() C
	FrameNames() C
	SwitchToFocusedFrame() C
	SwitchToFrame(nameOrIndex any) C
	SwitchToMainFrame() C
	SwitchToParentFrame() C

	// Events.
	On(event string, handler EventHandler) C
	At(dialog string, responder common.DialogHandler) C

	// Waits.
	Wait(ms int64) C
	WaitForNextPage() C
	WaitForSelector(selector string) C
	WaitFor(fn string, value any, args ...any) C

	// Close shuts the session down.
	Close() error
}
