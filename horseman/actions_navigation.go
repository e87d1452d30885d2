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

	"github.com/liuxd6825/horseman/common"
)

func init() {
	MustRegisterAction("open", open)
	MustRegisterAction("post", navigateWith("POST"))
	MustRegisterAction("put", navigateWith("PUT"))
	MustRegisterAction("back", back)
	MustRegisterAction("forward", forward)
	MustRegisterAction("reload", reload)
	MustRegisterAction("status", lastStatus)
	MustRegisterAction("url", currentURL)
	MustRegisterAction("title", pageTitle)
}

func open(ctx context.Context, s *Session, args ...any) (any, error) {
	u, err := arg[string](args, 0, "url")
	if err != nil {
		return nil, err
	}
	return nil, s.navigate(ctx, u, common.NavigateOptions{})
}

func navigateWith(method string) ActionFunc {
	return func(ctx context.Context, s *Session, args ...any) (any, error) {
		u, err := arg[string](args, 0, "url")
		if err != nil {
			return nil, err
		}
		data, err := optArg(args, 1, "data", "")
		if err != nil {
			return nil, err
		}
		return nil, s.navigate(ctx, u, common.NavigateOptions{Method: method, Body: data})
	}
}

func (s *Session) navigate(ctx context.Context, u string, opts common.NavigateOptions) error {
	p, err := s.page(ctx)
	if err != nil {
		return err
	}
	s.setTarget(u)
	return p.Navigate(ctx, u, opts) //nolint:wrapcheck
}

func back(ctx context.Context, s *Session, _ ...any) (any, error) {
	p, err := s.page(ctx)
	if err != nil {
		return nil, err
	}
	_, err = p.GoBack(ctx)
	return nil, err
}

func forward(ctx context.Context, s *Session, _ ...any) (any, error) {
	p, err := s.page(ctx)
	if err != nil {
		return nil, err
	}
	_, err = p.GoForward(ctx)
	return nil, err
}

func reload(ctx context.Context, s *Session, _ ...any) (any, error) {
	p, err := s.page(ctx)
	if err != nil {
		return nil, err
	}
	return nil, p.Reload(ctx)
}

// lastStatus returns the HTTP status of the last opened URL, nil when no
// response was seen for it.
func lastStatus(_ context.Context, s *Session, _ ...any) (any, error) {
	st, ok := s.status()
	if !ok {
		return nil, nil
	}
	return st, nil
}

func currentURL(ctx context.Context, s *Session, _ ...any) (any, error) {
	p, err := s.page(ctx)
	if err != nil {
		return nil, err
	}
	return p.URL(), nil
}

func pageTitle(ctx context.Context, s *Session, _ ...any) (any, error) {
	return s.evalString(ctx, `function () { return document.title; }`)
}

// eval runs src in the current frame of the active page.
func (s *Session) eval(ctx context.Context, conv common.CallConvention, src string, args ...any) (any, error) {
	p, err := s.page(ctx)
	if err != nil {
		return nil, err
	}
	return p.Evaluator().Evaluate(ctx, common.EvaluateParams{ //nolint:wrapcheck
		Source:     src,
		Convention: conv,
		Args:       args,
	})
}

func (s *Session) evalString(ctx context.Context, src string, args ...any) (string, error) {
	v, err := s.eval(ctx, common.ConventionSync, src, args...)
	if err != nil {
		return "", err
	}
	str, _ := v.(string)
	return str, nil
}
