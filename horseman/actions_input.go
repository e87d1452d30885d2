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
	"fmt"
	"path/filepath"

	"github.com/liuxd6825/horseman/api"
	"github.com/liuxd6825/horseman/common"
)

func init() {
	MustRegisterAction("click", click)
	MustRegisterAction("select", selectValue)
	MustRegisterAction("keyboardEvent", keyboardEvent)
	MustRegisterAction("mouseEvent", mouseEvent)
	MustRegisterAction("type", typeText)
	MustRegisterAction("clear", clearValue)
	MustRegisterAction("upload", upload)
	MustRegisterAction("download", download)
}

const clickFn = `function (selector) {
	var el = document.querySelector(selector);
	if (!el) {
		throw new Error('no element matches ' + selector);
	}
	el.dispatchEvent(new MouseEvent('click', { bubbles: true, cancelable: true, view: window }));
}`

func click(ctx context.Context, s *Session, args ...any) (any, error) {
	sel, err := arg[string](args, 0, "selector")
	if err != nil {
		return nil, err
	}
	_, err = s.eval(ctx, common.ConventionSync, clickFn, sel)
	return nil, err
}

const setValueFn = `function (selector, value) {
	var el = document.querySelector(selector);
	if (!el) {
		throw new Error('no element matches ' + selector);
	}
	el.value = value;
	el.dispatchEvent(new Event('change', { bubbles: true }));
}`

func selectValue(ctx context.Context, s *Session, args ...any) (any, error) {
	sel, err := arg[string](args, 0, "selector")
	if err != nil {
		return nil, err
	}
	value, err := arg[string](args, 1, "value")
	if err != nil {
		return nil, err
	}
	_, err = s.eval(ctx, common.ConventionSync, setValueFn, sel, value)
	return nil, err
}

func clearValue(ctx context.Context, s *Session, args ...any) (any, error) {
	sel, err := arg[string](args, 0, "selector")
	if err != nil {
		return nil, err
	}
	_, err = s.eval(ctx, common.ConventionSync, setValueFn, sel, "")
	return nil, err
}

func keyboardEvent(ctx context.Context, s *Session, args ...any) (any, error) {
	typ, err := optArg(args, 0, "eventType", "keypress")
	if err != nil {
		return nil, err
	}
	key, err := arg[string](args, 1, "key")
	if err != nil {
		return nil, err
	}
	mods, err := optArg(args, 2, "modifiers", "")
	if err != nil {
		return nil, err
	}
	p, err := s.page(ctx)
	if err != nil {
		return nil, err
	}
	return nil, p.KeyEvent(ctx, typ, key, mods)
}

func mouseEvent(ctx context.Context, s *Session, args ...any) (any, error) {
	typ, err := optArg(args, 0, "eventType", "click")
	if err != nil {
		return nil, err
	}
	x, err := argNumber(args, 1, "x")
	if err != nil {
		return nil, err
	}
	y, err := argNumber(args, 2, "y")
	if err != nil {
		return nil, err
	}
	button, err := optArg(args, 3, "button", "left")
	if err != nil {
		return nil, err
	}
	p, err := s.page(ctx)
	if err != nil {
		return nil, err
	}
	return nil, p.MouseEvent(ctx, typ, x, y, button)
}

const focusFn = `function (selector, reset) {
	var el = document.querySelector(selector);
	if (!el) {
		throw new Error('no element matches ' + selector);
	}
	if (reset) {
		el.value = '';
	}
	el.focus();
}`

const blurFn = `function (selector) {
	var el = document.querySelector(selector);
	if (el) {
		el.blur();
	}
}`

// typeText focuses the element and types text into it key by key.
func typeText(ctx context.Context, s *Session, args ...any) (any, error) {
	sel, err := arg[string](args, 0, "selector")
	if err != nil {
		return nil, err
	}
	text, err := arg[string](args, 1, "text")
	if err != nil {
		return nil, err
	}
	opts := api.TypeOptions{EventType: "keypress"}
	if len(args) > 2 && args[2] != nil {
		if opts, err = argDecode[api.TypeOptions](args, 2, "options"); err != nil {
			return nil, err
		}
		if opts.EventType == "" {
			opts.EventType = "keypress"
		}
	}
	if _, _, err := common.ParseModifiers(opts.Modifiers); err != nil {
		return nil, err
	}

	p, err := s.page(ctx)
	if err != nil {
		return nil, err
	}
	if _, err := s.eval(ctx, common.ConventionSync, focusFn, sel, opts.Reset); err != nil {
		return nil, err
	}
	for _, r := range text {
		if err := p.KeyEvent(ctx, opts.EventType, string(r), opts.Modifiers); err != nil {
			return nil, err
		}
	}
	if !opts.KeepFocus {
		if _, err := s.eval(ctx, common.ConventionSync, blurFn, sel); err != nil {
			return nil, err
		}
	}
	return nil, nil
}

// upload sets the file of a file input. The path must name a regular
// file.
func upload(ctx context.Context, s *Session, args ...any) (any, error) {
	sel, err := arg[string](args, 0, "selector")
	if err != nil {
		return nil, err
	}
	path, err := arg[string](args, 1, "path")
	if err != nil {
		return nil, err
	}
	fi, err := s.fs.Stat(path)
	if err != nil {
		return nil, &common.ValidationError{Field: "path", Reason: err.Error()}
	}
	if !fi.Mode().IsRegular() {
		return nil, &common.ValidationError{Field: "path", Reason: fmt.Sprintf("%s is not a file", path)}
	}
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}

	p, err := s.page(ctx)
	if err != nil {
		return nil, err
	}
	id, err := p.Evaluator().EvaluateHandle(ctx, `function (selector) { return document.querySelector(selector); }`, sel)
	if err != nil {
		return nil, err
	}
	if id == "" {
		return nil, fmt.Errorf("no element matches %s", sel)
	}
	return nil, p.SetInputFiles(ctx, id, []string{path})
}

const downloadFn = `function (url, binary, done) {
	var xhr = new XMLHttpRequest();
	xhr.open('GET', url, true);
	xhr.responseType = binary ? 'arraybuffer' : 'text';
	xhr.onload = function () {
		if (xhr.status >= 400) {
			done(new Error('downloading ' + url + ': status ' + xhr.status));
			return;
		}
		done(null, xhr.response);
	};
	xhr.onerror = function () { done(new Error('downloading ' + url + ' failed')); };
	xhr.send();
}`

// download fetches url from the page. The content is written to path,
// or returned when path is empty: a []byte when binary, a string
// otherwise.
func download(ctx context.Context, s *Session, args ...any) (any, error) {
	u, err := arg[string](args, 0, "url")
	if err != nil {
		return nil, err
	}
	path, err := optArg(args, 1, "path", "")
	if err != nil {
		return nil, err
	}
	binary, err := optArg(args, 2, "binary", false)
	if err != nil {
		return nil, err
	}
	v, err := s.eval(ctx, common.ConventionCallback, downloadFn, u, binary)
	if err != nil {
		return nil, err
	}
	var data []byte
	switch c := v.(type) {
	case []byte:
		data = c
	case string:
		data = []byte(c)
	case nil:
	default:
		return nil, fmt.Errorf("downloading %s: unexpected result %T", u, v)
	}
	if path == "" {
		if binary {
			return data, nil
		}
		return string(data), nil
	}
	return nil, s.writeFile(path, data)
}
