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

	"github.com/spf13/afero"

	"github.com/liuxd6825/horseman/common"
)

func init() {
	MustRegisterAction("injectJs", injectJs)
	MustRegisterAction("includeJs", includeJs)
	MustRegisterAction("evaluate", evaluate)
	MustRegisterAction("evaluateWith", evaluateWith)
}

// injectJs runs a local script file in the current frame.
func injectJs(ctx context.Context, s *Session, args ...any) (any, error) {
	path, err := arg[string](args, 0, "file")
	if err != nil {
		return nil, err
	}
	src, err := afero.ReadFile(s.fs, path)
	if err != nil {
		return nil, &common.ValidationError{Field: "file", Reason: err.Error()}
	}
	p, err := s.page(ctx)
	if err != nil {
		return nil, err
	}
	return nil, p.Evaluator().Run(ctx, string(src))
}

const includeJsFn = `function (url, done) {
	var script = document.createElement('script');
	script.src = url;
	script.onload = function () { done(null, true); };
	script.onerror = function () { done(new Error('failed to load ' + url)); };
	(document.head || document.documentElement).appendChild(script);
}`

// includeJs loads a remote script in the current frame and waits for it.
func includeJs(ctx context.Context, s *Session, args ...any) (any, error) {
	u, err := arg[string](args, 0, "url")
	if err != nil {
		return nil, err
	}
	_, err = s.eval(ctx, common.ConventionCallback, includeJsFn, u)
	return nil, err
}

// evaluate runs a function with the calling convention inferred from its
// declaration.
func evaluate(ctx context.Context, s *Session, args ...any) (any, error) {
	fn, err := arg[string](args, 0, "fn")
	if err != nil {
		return nil, err
	}
	conv, err := common.InferConvention(fn, len(args)-1)
	if err != nil {
		return nil, err
	}
	return s.eval(ctx, conv, fn, args[1:]...)
}

func evaluateWith(ctx context.Context, s *Session, args ...any) (any, error) {
	var conv common.CallConvention
	switch c := firstArg(args).(type) {
	case common.CallConvention:
		conv = c
	case string:
		var err error
		if conv, err = common.ParseCallConvention(c); err != nil {
			return nil, err
		}
	default:
		return nil, argError("convention", "expected a calling convention, got %T", c)
	}
	fn, err := arg[string](args, 1, "fn")
	if err != nil {
		return nil, err
	}
	return s.eval(ctx, conv, fn, args[2:]...)
}

func firstArg(args []any) any {
	if len(args) == 0 {
		return nil
	}
	return args[0]
}
