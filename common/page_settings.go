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
package common

import (
	"context"
	"encoding/base64"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
)

// Size is a width and height in CSS pixels.
type Size struct {
	Width  int64 `json:"width"`
	Height int64 `json:"height"`
}

// UserAgent returns the user agent override, empty when none is set.
func (p *Page) UserAgent() string {
	p.settingsMu.Lock()
	defer p.settingsMu.Unlock()
	return p.userAgent
}

// SetUserAgent overrides the user agent of the page.
func (p *Page) SetUserAgent(ctx context.Context, ua string) error {
	if err := emulation.SetUserAgentOverride(ua).Do(cdp.WithExecutor(ctx, p.session)); err != nil {
		return wrapProtocolError("setting user agent", err)
	}
	p.settingsMu.Lock()
	p.userAgent = ua
	p.settingsMu.Unlock()
	return nil
}

// SetExtraHTTPHeaders replaces the headers sent with every request.
func (p *Page) SetExtraHTTPHeaders(ctx context.Context, headers map[string]string) error {
	p.settingsMu.Lock()
	p.headers = make(map[string]string, len(headers))
	for k, v := range headers {
		p.headers[k] = v
	}
	p.settingsMu.Unlock()
	return p.applyHeaders(ctx)
}

// SetAuthentication sends basic credentials with every request.
func (p *Page) SetAuthentication(ctx context.Context, user, password string) error {
	p.settingsMu.Lock()
	p.authHeader = "Basic " + base64.StdEncoding.EncodeToString([]byte(user+":"+password))
	p.settingsMu.Unlock()
	return p.applyHeaders(ctx)
}

func (p *Page) applyHeaders(ctx context.Context) error {
	p.settingsMu.Lock()
	headers := make(network.Headers, len(p.headers)+1)
	for k, v := range p.headers {
		headers[k] = v
	}
	if p.authHeader != "" {
		headers["Authorization"] = p.authHeader
	}
	p.settingsMu.Unlock()

	if err := network.SetExtraHTTPHeaders(headers).Do(cdp.WithExecutor(ctx, p.session)); err != nil {
		return wrapProtocolError("setting extra headers", err)
	}
	return nil
}

// Viewport returns the emulated viewport size.
func (p *Page) Viewport() Size {
	p.settingsMu.Lock()
	defer p.settingsMu.Unlock()

	if p.viewport.Width == 0 || p.viewport.Height == 0 {
		return Size{Width: DefaultScreenWidth, Height: DefaultScreenHeight}
	}
	return p.viewport
}

// SetViewport emulates a viewport of the given size.
func (p *Page) SetViewport(ctx context.Context, size Size) error {
	if size.Width <= 0 || size.Height <= 0 {
		return &ValidationError{Field: "viewport", Reason: "width and height must be positive"}
	}
	p.settingsMu.Lock()
	zoom := p.zoom
	p.settingsMu.Unlock()

	if err := p.emulateMetrics(ctx, size, zoom); err != nil {
		return err
	}
	p.settingsMu.Lock()
	p.viewport = size
	p.settingsMu.Unlock()
	return nil
}

// Zoom returns the zoom factor.
func (p *Page) Zoom() float64 {
	p.settingsMu.Lock()
	defer p.settingsMu.Unlock()
	return p.zoom
}

// SetZoom scales the page rendering by factor.
func (p *Page) SetZoom(ctx context.Context, factor float64) error {
	if factor <= 0 {
		return &ValidationError{Field: "zoom", Reason: "factor must be positive"}
	}
	if err := p.emulateMetrics(ctx, p.Viewport(), factor); err != nil {
		return err
	}
	p.settingsMu.Lock()
	p.zoom = factor
	p.settingsMu.Unlock()
	return nil
}

func (p *Page) emulateMetrics(ctx context.Context, size Size, scale float64) error {
	action := emulation.SetDeviceMetricsOverride(size.Width, size.Height, scale, false)
	if err := action.Do(cdp.WithExecutor(ctx, p.session)); err != nil {
		return wrapProtocolError("emulating viewport", err)
	}
	return nil
}

// Cookies returns the cookies visible to the current URL.
func (p *Page) Cookies(ctx context.Context) ([]*network.Cookie, error) {
	action := network.GetCookies()
	if u := p.URL(); u != "" && u != "about:blank" {
		action = action.WithUrls([]string{u})
	}
	cookies, err := action.Do(cdp.WithExecutor(ctx, p.session))
	if err != nil {
		return nil, wrapProtocolError("getting cookies", err)
	}
	return cookies, nil
}

// SetCookies replaces every cookie of the browser with cookies.
func (p *Page) SetCookies(ctx context.Context, cookies []*network.CookieParam) error {
	if err := network.ClearBrowserCookies().Do(cdp.WithExecutor(ctx, p.session)); err != nil {
		return wrapProtocolError("clearing cookies", err)
	}
	return p.AddCookies(ctx, cookies)
}

// AddCookies adds cookies. Cookies without a domain or URL are scoped to
// the current URL.
func (p *Page) AddCookies(ctx context.Context, cookies []*network.CookieParam) error {
	if len(cookies) == 0 {
		return nil
	}
	u := p.URL()
	for _, c := range cookies {
		if c.Name == "" {
			return &ValidationError{Field: "cookie", Reason: "name must not be empty"}
		}
		if c.URL == "" && c.Domain == "" {
			c.URL = u
		}
	}
	if err := network.SetCookies(cookies).Do(cdp.WithExecutor(ctx, p.session)); err != nil {
		return wrapProtocolError("setting cookies", err)
	}
	return nil
}
