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
	"time"

	"github.com/liuxd6825/horseman/common"
)

func init() {
	MustRegisterAction("on", on)
	MustRegisterAction("at", at)
	MustRegisterAction("wait", wait)
	MustRegisterAction("waitForNextPage", waitForNextPage)
	MustRegisterAction("waitForSelector", waitForSelector)
	MustRegisterAction("waitFor", waitFor)
}

func on(_ context.Context, s *Session, args ...any) (any, error) {
	event, err := arg[string](args, 0, "event")
	if err != nil {
		return nil, err
	}
	var h EventHandler
	if len(args) > 1 {
		switch fn := args[1].(type) {
		case EventHandler:
			h = fn
		case func(Event):
			h = fn
		case nil:
		default:
			return nil, argError("handler", "expected an EventHandler, got %T", args[1])
		}
	}
	return nil, s.setHandler(event, h)
}

func at(_ context.Context, s *Session, args ...any) (any, error) {
	dialog, err := arg[string](args, 0, "dialog")
	if err != nil {
		return nil, err
	}
	var r common.DialogHandler
	if len(args) > 1 {
		switch fn := args[1].(type) {
		case common.DialogHandler:
			r = fn
		case func(common.Dialog) common.DialogResponse:
			r = fn
		case nil:
		default:
			return nil, argError("responder", "expected a DialogHandler, got %T", args[1])
		}
	}
	return nil, s.setResponder(dialog, r)
}

func wait(ctx context.Context, s *Session, args ...any) (any, error) {
	ms, err := argNumber(args, 0, "ms")
	if err != nil {
		return nil, err
	}
	if ms < 0 {
		return nil, argError("ms", "must not be negative")
	}
	return nil, s.waiter.Sleep(ctx, time.Duration(ms*float64(time.Millisecond)))
}

// waitForNextPage waits until the active page has navigated since the
// previous action started.
func waitForNextPage(ctx context.Context, s *Session, _ ...any) (any, error) {
	s.mu.RLock()
	since := s.lastNav
	s.mu.RUnlock()

	w := s.waiter.WithTimeout(s.opts.navigationTimeout())
	err := w.Poll(ctx, "waitForNextPage", func(ctx context.Context) (bool, error) {
		p := s.ActivePage()
		if p == nil {
			return false, common.ErrNoActivePage
		}
		return p.NavCount() > since, nil
	})
	if err != nil {
		return nil, err
	}
	_, err = s.page(ctx)
	return nil, err
}

func waitForSelector(ctx context.Context, s *Session, args ...any) (any, error) {
	sel, err := arg[string](args, 0, "selector")
	if err != nil {
		return nil, err
	}
	return nil, s.waiter.WaitFor(ctx, "waitForSelector", func(ctx context.Context) (any, error) {
		n, err := s.count(ctx, sel)
		return n > 0, err
	}, true)
}

// waitFor evaluates fn until it returns value.
func waitFor(ctx context.Context, s *Session, args ...any) (any, error) {
	fn, err := arg[string](args, 0, "fn")
	if err != nil {
		return nil, err
	}
	if len(args) < 2 {
		return nil, argError("value", "missing argument")
	}
	want, fnArgs := args[1], args[2:]
	conv, err := common.InferConvention(fn, len(fnArgs))
	if err != nil {
		return nil, err
	}
	return nil, s.waiter.WaitFor(ctx, "waitFor", func(ctx context.Context) (any, error) {
		return s.eval(ctx, conv, fn, fnArgs...)
	}, want)
}
