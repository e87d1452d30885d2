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
package horseman

import (
	"github.com/liuxd6825/horseman/api"
	"github.com/liuxd6825/horseman/common"
)

func variadic[T any](vs []T) []any {
	out := make([]any, len(vs))
	for i, v := range vs {
		out[i] = v
	}
	return out
}

func prepend[T any](head []any, vs []T) []any {
	return append(head, variadic(vs)...)
}

// Session actions. Each queues after every action issued before it.

func (s *Session) Open(url string) *Chain { return s.Do("open", url) }
func (s *Session) Post(url, data string) *Chain { return s.Do("post", url, data) }
func (s *Session) Put(url, data string) *Chain { return s.Do("put", url, data) }
func (s *Session) Back() *Chain { return s.Do("back") }
func (s *Session) Forward() *Chain { return s.Do("forward") }
func (s *Session) Reload() *Chain { return s.Do("reload") }
func (s *Session) Status() *Chain { return s.Do("status") }
func (s *Session) URL() *Chain { return s.Do("url") }
func (s *Session) Title() *Chain { return s.Do("title") }
func (s *Session) UserAgent(ua ...string) *Chain { return s.Do("userAgent", variadic(ua)...) }
func (s *Session) Headers(headers map[string]string) *Chain { return s.Do("headers", headers) }
func (s *Session) Authentication(user, password string) *Chain { return s.Do("authentication", user, password) }
func (s *Session) Viewport(size ...int64) *Chain { return s.Do("viewport", variadic(size)...) }
func (s *Session) Zoom(factor float64) *Chain { return s.Do("zoom", factor) }
func (s *Session) ScrollTo(top, left float64) *Chain { return s.Do("scrollTo", top, left) }
func (s *Session) Cookies() *Chain { return s.Do("cookies") }
func (s *Session) SetCookies(cookies ...*api.Cookie) *Chain { return s.Do("setCookies", variadic(cookies)...) }
func (s *Session) AddCookie(cookie *api.Cookie) *Chain { return s.Do("addCookie", cookie) }
func (s *Session) Screenshot(path string) *Chain { return s.Do("screenshot", path) }
func (s *Session) ScreenshotBase64(format string) *Chain { return s.Do("screenshotBase64", format) }
func (s *Session) Crop(area any, path string) *Chain { return s.Do("crop", area, path) }
func (s *Session) CropBase64(area any, format string) *Chain { return s.Do("cropBase64", area, format) }
func (s *Session) PDF(path string, paper ...common.PaperSize) *Chain { return s.Do("pdf", prepend([]any{path}, paper)...) }
func (s *Session) InjectJs(file string) *Chain { return s.Do("injectJs", file) }
func (s *Session) IncludeJs(url string) *Chain { return s.Do("includeJs", url) }
func (s *Session) Evaluate(fn string, args ...any) *Chain { return s.Do("evaluate", append([]any{fn}, args...)...) }
func (s *Session) EvaluateWith(conv common.CallConvention, fn string, args ...any) *Chain { return s.Do("evaluateWith", append([]any{conv, fn}, args...)...) }
func (s *Session) Click(selector string) *Chain { return s.Do("click", selector) }
func (s *Session) Select(selector, value string) *Chain { return s.Do("select", selector, value) }
func (s *Session) KeyboardEvent(eventType, key string, modifiers ...string) *Chain { return s.Do("keyboardEvent", prepend([]any{eventType, key}, modifiers)...) }
func (s *Session) MouseEvent(eventType string, x, y float64, button ...string) *Chain { return s.Do("mouseEvent", prepend([]any{eventType, x, y}, button)...) }
func (s *Session) Type(selector, text string, opts ...api.TypeOptions) *Chain { return s.Do("type", prepend([]any{selector, text}, opts)...) }
func (s *Session) Clear(selector string) *Chain { return s.Do("clear", selector) }
func (s *Session) Upload(selector, path string) *Chain { return s.Do("upload", selector, path) }
func (s *Session) Download(url, path string, binary bool) *Chain { return s.Do("download", url, path, binary) }
func (s *Session) BoundingRectangle(selector string) *Chain { return s.Do("boundingRectangle", selector) }
func (s *Session) Count(selector string) *Chain { return s.Do("count", selector) }
func (s *Session) Exists(selector string) *Chain { return s.Do("exists", selector) }
func (s *Session) HTML(selector string, file ...string) *Chain { return s.Do("html", prepend([]any{selector}, file)...) }
func (s *Session) Text(selector ...string) *Chain { return s.Do("text", variadic(selector)...) }
func (s *Session) PlainText() *Chain { return s.Do("plainText") }
func (s *Session) Attribute(selector, attr string) *Chain { return s.Do("attribute", selector, attr) }
func (s *Session) CSSProperty(selector, prop string) *Chain { return s.Do("cssProperty", selector, prop) }
func (s *Session) Width(selector string) *Chain { return s.Do("width", selector) }
func (s *Session) Height(selector string) *Chain { return s.Do("height", selector) }
func (s *Session) Value(selector string, value ...any) *Chain { return s.Do("value", append([]any{selector}, value...)...) }
func (s *Session) Visible(selector string) *Chain { return s.Do("visible", selector) }
func (s *Session) Log(output ...any) *Chain { return s.Do("log", output...) }
func (s *Session) TabCount() *Chain { return s.Do("tabCount") }
func (s *Session) SwitchToTab(index int) *Chain { return s.Do("switchToTab", index) }
func (s *Session) OpenTab(url string) *Chain { return s.Do("openTab", url) }
func (s *Session) CloseTab(index int) *Chain { return s.Do("closeTab", index) }
func (s *Session) FrameName() *Chain { return s.Do("frameName") }
func (s *Session) FrameCount() *Chain { return s.Do("frameCount") }
func (s *Session) FrameNames() *Chain { return s.Do("frameNames") }
func (s *Session) SwitchToFocusedFrame() *Chain { return s.Do("switchToFocusedFrame") }
func (s *Session) SwitchToFrame(nameOrIndex any) *Chain { return s.Do("switchToFrame", nameOrIndex) }
func (s *Session) SwitchToMainFrame() *Chain { return s.Do("switchToMainFrame") }
func (s *Session) SwitchToParentFrame() *Chain { return s.Do("switchToParentFrame") }
func (s *Session) On(event string, handler EventHandler) *Chain { return s.Do("on", event, handler) }
func (s *Session) At(dialog string, responder common.DialogHandler) *Chain { return s.Do("at", dialog, responder) }
func (s *Session) Wait(ms int64) *Chain { return s.Do("wait", ms) }
func (s *Session) WaitForNextPage() *Chain { return s.Do("waitForNextPage") }
func (s *Session) WaitForSelector(selector string) *Chain { return s.Do("waitForSelector", selector) }
func (s *Session) WaitFor(fn string, value any, args ...any) *Chain { return s.Do("waitFor", append([]any{fn, value}, args...)...) }

// Chain actions. Each runs after c and is skipped when c failed.

func (c *Chain) Open(url string) *Chain { return c.Do("open", url) }
func (c *Chain) Post(url, data string) *Chain { return c.Do("post", url, data) }
func (c *Chain) Put(url, data string) *Chain { return c.Do("put", url, data) }
func (c *Chain) Back() *Chain { return c.Do("back") }
func (c *Chain) Forward() *Chain { return c.Do("forward") }
func (c *Chain) Reload() *Chain { return c.Do("reload") }
func (c *Chain) Status() *Chain { return c.Do("status") }
func (c *Chain) URL() *Chain { return c.Do("url") }
func (c *Chain) Title() *Chain { return c.Do("title") }
func (c *Chain) UserAgent(ua ...string) *Chain { return c.Do("userAgent", variadic(ua)...) }
func (c *Chain) Headers(headers map[string]string) *Chain { return c.Do("headers", headers) }
func (c *Chain) Authentication(user, password string) *Chain { return c.Do("authentication", user, password) }
func (c *Chain) Viewport(size ...int64) *Chain { return c.Do("viewport", variadic(size)...) }
func (c *Chain) Zoom(factor float64) *Chain { return c.Do("zoom", factor) }
func (c *Chain) ScrollTo(top, left float64) *Chain { return c.Do("scrollTo", top, left) }
func (c *Chain) Cookies() *Chain { return c.Do("cookies") }
func (c *Chain) SetCookies(cookies ...*api.Cookie) *Chain { return c.Do("setCookies", variadic(cookies)...) }
func (c *Chain) AddCookie(cookie *api.Cookie) *Chain { return c.Do("addCookie", cookie) }
func (c *Chain) Screenshot(path string) *Chain { return c.Do("screenshot", path) }
func (c *Chain) ScreenshotBase64(format string) *Chain { return c.Do("screenshotBase64", format) }
func (c *Chain) Crop(area any, path string) *Chain { return c.Do("crop", area, path) }
func (c *Chain) CropBase64(area any, format string) *Chain { return c.Do("cropBase64", area, format) }
func (c *Chain) PDF(path string, paper ...common.PaperSize) *Chain { return c.Do("pdf", prepend([]any{path}, paper)...) }
func (c *Chain) InjectJs(file string) *Chain { return c.Do("injectJs", file) }
func (c *Chain) IncludeJs(url string) *Chain { return c.Do("includeJs", url) }
func (c *Chain) Evaluate(fn string, args ...any) *Chain { return c.Do("evaluate", append([]any{fn}, args...)...) }
func (c *Chain) EvaluateWith(conv common.CallConvention, fn string, args ...any) *Chain { return c.Do("evaluateWith", append([]any{conv, fn}, args...)...) }
func (c *Chain) Click(selector string) *Chain { return c.Do("click", selector) }
func (c *Chain) Select(selector, value string) *Chain { return c.Do("select", selector, value) }
func (c *Chain) KeyboardEvent(eventType, key string, modifiers ...string) *Chain { return c.Do("keyboardEvent", prepend([]any{eventType, key}, modifiers)...) }
func (c *Chain) MouseEvent(eventType string, x, y float64, button ...string) *Chain { return c.Do("mouseEvent", prepend([]any{eventType, x, y}, button)...) }
func (c *Chain) Type(selector, text string, opts ...api.TypeOptions) *Chain { return c.Do("type", prepend([]any{selector, text}, opts)...) }
func (c *Chain) Clear(selector string) *Chain { return c.Do("clear", selector) }
func (c *Chain) Upload(selector, path string) *Chain { return c.Do("upload", selector, path) }
func (c *Chain) Download(url, path string, binary bool) *Chain { return c.Do("download", url, path, binary) }
func (c *Chain) BoundingRectangle(selector string) *Chain { return c.Do("boundingRectangle", selector) }
func (c *Chain) Count(selector string) *Chain { return c.Do("count", selector) }
func (c *Chain) Exists(selector string) *Chain { return c.Do("exists", selector) }
func (c *Chain) HTML(selector string, file ...string) *Chain { return c.Do("html", prepend([]any{selector}, file)...) }
func (c *Chain) Text(selector ...string) *Chain { return c.Do("text", variadic(selector)...) }
func (c *Chain) PlainText() *Chain { return c.Do("plainText") }
func (c *Chain) Attribute(selector, attr string) *Chain { return c.Do("attribute", selector, attr) }
func (c *Chain) CSSProperty(selector, prop string) *Chain { return c.Do("cssProperty", selector, prop) }
func (c *Chain) Width(selector string) *Chain { return c.Do("width", selector) }
func (c *Chain) Height(selector string) *Chain { return c.Do("height", selector) }
func (c *Chain) Value(selector string, value ...any) *Chain { return c.Do("value", append([]any{selector}, value...)...) }
func (c *Chain) Visible(selector string) *Chain { return c.Do("visible", selector) }
func (c *Chain) Log(output ...any) *Chain { return c.Do("log", output...) }
func (c *Chain) TabCount() *Chain { return c.Do("tabCount") }
func (c *Chain) SwitchToTab(index int) *Chain { return c.Do("switchToTab", index) }
func (c *Chain) OpenTab(url string) *Chain { return c.Do("openTab", url) }
func (c *Chain) CloseTab(index int) *Chain { return c.Do("closeTab", index) }
func (c *Chain) FrameName() *Chain { return c.Do("frameName") }
func (c *Chain) FrameCount() *Chain { return c.Do("frameCount") }
func (c *Chain) FrameNames() *Chain { return c.Do("frameNames") }
func (c *Chain) SwitchToFocusedFrame() *Chain { return c.Do("switchToFocusedFrame") }
func (c *Chain) SwitchToFrame(nameOrIndex any) *Chain { return c.Do("switchToFrame", nameOrIndex) }
func (c *Chain) SwitchToMainFrame() *Chain { return c.Do("switchToMainFrame") }
func (c *Chain) SwitchToParentFrame() *Chain { return c.Do("switchToParentFrame") }
func (c *Chain) On(event string, handler EventHandler) *Chain { return c.Do("on", event, handler) }
func (c *Chain) At(dialog string, responder common.DialogHandler) *Chain { return c.Do("at", dialog, responder) }
func (c *Chain) Wait(ms int64) *Chain { return c.Do("wait", ms) }
func (c *Chain) WaitForNextPage() *Chain { return c.Do("waitForNextPage") }
func (c *Chain) WaitForSelector(selector string) *Chain { return c.Do("waitForSelector", selector) }
func (c *Chain) WaitFor(fn string, value any, args ...any) *Chain { return c.Do("waitFor", append([]any{fn, value}, args...)...) }
