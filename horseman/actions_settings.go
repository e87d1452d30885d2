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
	"context"

	"github.com/chromedp/cdproto/network"

	"github.com/liuxd6825/horseman/common"
)

func init() {
	MustRegisterAction("userAgent", userAgent)
	MustRegisterAction("headers", headers)
	MustRegisterAction("authentication", authentication)
	MustRegisterAction("viewport", viewport)
	MustRegisterAction("zoom", zoom)
	MustRegisterAction("scrollTo", scrollTo)
	MustRegisterAction("cookies", cookies)
	MustRegisterAction("setCookies", setCookies)
	MustRegisterAction("addCookie", addCookie)
}

// userAgent sets the user agent, or returns it when called without an
// argument.
func userAgent(ctx context.Context, s *Session, args ...any) (any, error) {
	p, err := s.page(ctx)
	if err != nil {
		return nil, err
	}
	ua, err := optArg(args, 0, "userAgent", "")
	if err != nil {
		return nil, err
	}
	if ua != "" {
		return nil, p.SetUserAgent(ctx, ua)
	}
	if ua = p.UserAgent(); ua != "" {
		return ua, nil
	}
	return s.evalString(ctx, `function () { return navigator.userAgent; }`)
}

func headers(ctx context.Context, s *Session, args ...any) (any, error) {
	p, err := s.page(ctx)
	if err != nil {
		return nil, err
	}
	h, err := argDecode[map[string]string](args, 0, "headers")
	if err != nil {
		return nil, err
	}
	return nil, p.SetExtraHTTPHeaders(ctx, h)
}

func authentication(ctx context.Context, s *Session, args ...any) (any, error) {
	p, err := s.page(ctx)
	if err != nil {
		return nil, err
	}
	user, err := arg[string](args, 0, "user")
	if err != nil {
		return nil, err
	}
	password, err := arg[string](args, 1, "password")
	if err != nil {
		return nil, err
	}
	return nil, p.SetAuthentication(ctx, user, password)
}

// viewport sets the viewport to width and height, or returns its size
// when called without arguments.
func viewport(ctx context.Context, s *Session, args ...any) (any, error) {
	p, err := s.page(ctx)
	if err != nil {
		return nil, err
	}
	if len(args) == 0 {
		return p.Viewport(), nil
	}
	w, err := argInt(args, 0, "width")
	if err != nil {
		return nil, err
	}
	h, err := argInt(args, 1, "height")
	if err != nil {
		return nil, err
	}
	return nil, p.SetViewport(ctx, common.Size{Width: int64(w), Height: int64(h)})
}

func zoom(ctx context.Context, s *Session, args ...any) (any, error) {
	p, err := s.page(ctx)
	if err != nil {
		return nil, err
	}
	f, err := argNumber(args, 0, "factor")
	if err != nil {
		return nil, err
	}
	return nil, p.SetZoom(ctx, f)
}

func scrollTo(ctx context.Context, s *Session, args ...any) (any, error) {
	top, err := argNumber(args, 0, "top")
	if err != nil {
		return nil, err
	}
	left, err := argNumber(args, 1, "left")
	if err != nil {
		return nil, err
	}
	_, err = s.eval(ctx, common.ConventionSync, `function (top, left) { window.scrollTo(left, top); }`, top, left)
	return nil, err
}

func cookies(ctx context.Context, s *Session, _ ...any) (any, error) {
	p, err := s.page(ctx)
	if err != nil {
		return nil, err
	}
	return p.Cookies(ctx) //nolint:wrapcheck
}

func setCookies(ctx context.Context, s *Session, args ...any) (any, error) {
	p, err := s.page(ctx)
	if err != nil {
		return nil, err
	}
	cs, err := cookieArgs(args)
	if err != nil {
		return nil, err
	}
	return nil, p.SetCookies(ctx, cs)
}

func addCookie(ctx context.Context, s *Session, args ...any) (any, error) {
	p, err := s.page(ctx)
	if err != nil {
		return nil, err
	}
	c, err := argDecode[network.CookieParam](args, 0, "cookie")
	if err != nil {
		return nil, err
	}
	return nil, p.AddCookies(ctx, []*network.CookieParam{&c})
}

func cookieArgs(args []any) ([]*network.CookieParam, error) {
	cs := make([]*network.CookieParam, 0, len(args))
	for i := range args {
		c, err := argDecode[network.CookieParam](args, i, "cookie")
		if err != nil {
			return nil, err
		}
		cs = append(cs, &c)
	}
	return cs, nil
}
