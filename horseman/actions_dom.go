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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/liuxd6825/horseman/common"
)

func init() {
	MustRegisterAction("boundingRectangle", boundingRectangle)
	MustRegisterAction("count", count)
	MustRegisterAction("exists", exists)
	MustRegisterAction("html", html)
	MustRegisterAction("text", text)
	MustRegisterAction("plainText", plainText)
	MustRegisterAction("attribute", attributeOf)
	MustRegisterAction("cssProperty", cssProperty)
	MustRegisterAction("width", width)
	MustRegisterAction("height", height)
	MustRegisterAction("value", value)
	MustRegisterAction("visible", visible)
	MustRegisterAction("log", logValue)
}

const boundingRectFn = `function (selector) {
	var el = document.querySelector(selector);
	if (!el) {
		throw new Error('no element matches ' + selector);
	}
	var r = el.getBoundingClientRect();
	return { top: r.top, left: r.left, width: r.width, height: r.height };
}`

func (s *Session) boundingRect(ctx context.Context, sel string) (common.Rect, error) {
	var rect common.Rect
	v, err := s.eval(ctx, common.ConventionSync, boundingRectFn, sel)
	if err != nil {
		return rect, err
	}
	buf, err := json.Marshal(v)
	if err != nil {
		return rect, fmt.Errorf("encoding bounding rectangle: %w", err)
	}
	if err := json.Unmarshal(buf, &rect); err != nil {
		return rect, fmt.Errorf("decoding bounding rectangle: %w", err)
	}
	return rect, nil
}

func boundingRectangle(ctx context.Context, s *Session, args ...any) (any, error) {
	sel, err := arg[string](args, 0, "selector")
	if err != nil {
		return nil, err
	}
	return s.boundingRect(ctx, sel)
}

const countFn = `function (selector) { return document.querySelectorAll(selector).length; }`

func (s *Session) count(ctx context.Context, sel string) (int, error) {
	v, err := s.eval(ctx, common.ConventionSync, countFn, sel)
	if err != nil {
		return 0, err
	}
	return toInt(v), nil
}

func count(ctx context.Context, s *Session, args ...any) (any, error) {
	sel, err := arg[string](args, 0, "selector")
	if err != nil {
		return nil, err
	}
	return s.count(ctx, sel)
}

func exists(ctx context.Context, s *Session, args ...any) (any, error) {
	sel, err := arg[string](args, 0, "selector")
	if err != nil {
		return nil, err
	}
	n, err := s.count(ctx, sel)
	return n > 0, err
}

const htmlFn = `function (selector) {
	if (!selector) {
		return document.documentElement.outerHTML;
	}
	var el = document.querySelector(selector);
	return el ? el.innerHTML : '';
}`

// html returns the inner HTML of the selected element, or the whole
// document when the selector is empty. The markup is also written to
// the optional file.
func html(ctx context.Context, s *Session, args ...any) (any, error) {
	sel, err := optArg(args, 0, "selector", "")
	if err != nil {
		return nil, err
	}
	file, err := optArg(args, 1, "file", "")
	if err != nil {
		return nil, err
	}
	markup, err := s.evalString(ctx, htmlFn, sel)
	if err != nil {
		return nil, err
	}
	if file != "" {
		if err := s.writeFile(file, []byte(markup)); err != nil {
			return nil, err
		}
	}
	return markup, nil
}

const textFn = `function (selector) {
	var el = document.querySelector(selector);
	return el ? el.textContent : '';
}`

func text(ctx context.Context, s *Session, args ...any) (any, error) {
	sel, err := optArg(args, 0, "selector", "body")
	if err != nil {
		return nil, err
	}
	if sel == "" {
		sel = "body"
	}
	return s.evalString(ctx, textFn, sel)
}

// plainText renders the document as text, leaving out scripts and
// styles.
func plainText(ctx context.Context, s *Session, _ ...any) (any, error) {
	markup, err := s.evalString(ctx, htmlFn, "")
	if err != nil {
		return nil, err
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewBufferString(markup))
	if err != nil {
		return nil, fmt.Errorf("parsing document: %w", err)
	}
	doc.Find("script, style, noscript, template").Remove()

	var lines []string
	for _, l := range strings.Split(doc.Find("body").Text(), "\n") {
		if l = strings.Join(strings.Fields(l), " "); l != "" {
			lines = append(lines, l)
		}
	}
	return strings.Join(lines, "\n"), nil
}

const attributeFn = `function (selector, name) {
	var el = document.querySelector(selector);
	return el ? el.getAttribute(name) : null;
}`

// attributeOf returns nil when the element or the attribute is missing.
func attributeOf(ctx context.Context, s *Session, args ...any) (any, error) {
	sel, err := arg[string](args, 0, "selector")
	if err != nil {
		return nil, err
	}
	name, err := arg[string](args, 1, "attribute")
	if err != nil {
		return nil, err
	}
	return s.eval(ctx, common.ConventionSync, attributeFn, sel, name)
}

const cssPropertyFn = `function (selector, prop) {
	var el = document.querySelector(selector);
	return el ? window.getComputedStyle(el).getPropertyValue(prop) : null;
}`

func cssProperty(ctx context.Context, s *Session, args ...any) (any, error) {
	sel, err := arg[string](args, 0, "selector")
	if err != nil {
		return nil, err
	}
	prop, err := arg[string](args, 1, "property")
	if err != nil {
		return nil, err
	}
	return s.eval(ctx, common.ConventionSync, cssPropertyFn, sel, prop)
}

func width(ctx context.Context, s *Session, args ...any) (any, error) {
	sel, err := arg[string](args, 0, "selector")
	if err != nil {
		return nil, err
	}
	r, err := s.boundingRect(ctx, sel)
	return r.Width, err
}

func height(ctx context.Context, s *Session, args ...any) (any, error) {
	sel, err := arg[string](args, 0, "selector")
	if err != nil {
		return nil, err
	}
	r, err := s.boundingRect(ctx, sel)
	return r.Height, err
}

const getValueFn = `function (selector) {
	var el = document.querySelector(selector);
	if (!el) {
		throw new Error('no element matches ' + selector);
	}
	return el.value == null ? '' : el.value;
}`

// value reads the value of a form element, or sets it when a second
// argument is given.
func value(ctx context.Context, s *Session, args ...any) (any, error) {
	sel, err := arg[string](args, 0, "selector")
	if err != nil {
		return nil, err
	}
	if len(args) < 2 {
		return s.eval(ctx, common.ConventionSync, getValueFn, sel)
	}
	v := args[1]
	if v == nil {
		v = ""
	}
	_, err = s.eval(ctx, common.ConventionSync, setValueFn, sel, v)
	return nil, err
}

const visibleFn = `function (selector) {
	var el = document.querySelector(selector);
	if (!el) {
		return false;
	}
	var style = window.getComputedStyle(el);
	if (style.display === 'none' || style.visibility === 'hidden' || style.opacity === '0') {
		return false;
	}
	return el.offsetWidth > 0 || el.offsetHeight > 0 || el.getClientRects().length > 0;
}`

func visible(ctx context.Context, s *Session, args ...any) (any, error) {
	sel, err := arg[string](args, 0, "selector")
	if err != nil {
		return nil, err
	}
	v, err := s.eval(ctx, common.ConventionSync, visibleFn, sel)
	if err != nil {
		return nil, err
	}
	b, _ := v.(bool)
	return b, nil
}

// logValue prints its arguments, or the last value when there are none,
// and yields the last value so it can be chained.
func logValue(_ context.Context, s *Session, args ...any) (any, error) {
	last := s.LastVal()
	out := args
	if len(out) == 0 {
		out = []any{last}
	}
	parts := make([]string, 0, len(out))
	for _, v := range out {
		if str, ok := v.(string); ok {
			parts = append(parts, str)
			continue
		}
		buf, err := json.Marshal(v)
		if err != nil {
			parts = append(parts, fmt.Sprint(v))
			continue
		}
		parts = append(parts, string(buf))
	}
	if _, err := fmt.Fprintln(s.out, strings.Join(parts, " ")); err != nil {
		return nil, fmt.Errorf("writing log output: %w", err)
	}
	return last, nil
}
