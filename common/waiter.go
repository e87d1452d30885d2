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
	"time"

	"github.com/benbjohnson/clock"
)

// CheckFunc reports whether the awaited condition holds.
// A returned error aborts the wait.
type CheckFunc func(ctx context.Context) (bool, error)

// Waiter polls a condition on a fixed interval until it holds
// or the timeout elapses.
type Waiter struct {
	clock     clock.Clock
	timeout   time.Duration
	interval  time.Duration
	onTimeout func(op string)
}

// NewWaiter returns a waiter driven by clk. A nil clk uses the wall clock
// and onTimeout may be nil.
func NewWaiter(clk clock.Clock, timeout, interval time.Duration, onTimeout func(op string)) *Waiter {
	if clk == nil {
		clk = clock.New()
	}
	if interval <= 0 {
		interval = DefaultInterval
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Waiter{
		clock:     clk,
		timeout:   timeout,
		interval:  interval,
		onTimeout: onTimeout,
	}
}

// Timeout returns the deadline of every wait, relative to its start.
func (w *Waiter) Timeout() time.Duration { return w.timeout }

// Interval returns the polling interval.
func (w *Waiter) Interval() time.Duration { return w.interval }

// WithTimeout returns a copy of the waiter using timeout.
func (w *Waiter) WithTimeout(timeout time.Duration) *Waiter {
	cp := *w
	if timeout > 0 {
		cp.timeout = timeout
	}
	return &cp
}

// Poll calls check immediately and then once per interval.
// It returns nil the first time check holds, the first error check
// returns, ctx.Err() when ctx is done, or a *TimeoutError once the
// timeout has elapsed. The ticker is stopped on every return path.
func (w *Waiter) Poll(ctx context.Context, op string, check CheckFunc) error {
	start := w.clock.Now()
	ticker := w.clock.Ticker(w.interval)
	defer ticker.Stop()

	for {
		ok, err := check(ctx)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		if w.clock.Since(start) >= w.timeout {
			if w.onTimeout != nil {
				w.onTimeout(op)
			}
			return &TimeoutError{Op: op, Timeout: w.timeout}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Sleep blocks for d on the waiter clock or until ctx is done.
func (w *Waiter) Sleep(ctx context.Context, d time.Duration) error {
	timer := w.clock.Timer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// ValueFunc produces the current value of an awaited expression.
type ValueFunc func(ctx context.Context) (any, error)

// WaitFor polls eval until the value it produces equals value. Equality
// is strict: both sides must have the same JSON type and value.
func (w *Waiter) WaitFor(ctx context.Context, op string, eval ValueFunc, value any) error {
	return w.Poll(ctx, op, func(ctx context.Context) (bool, error) {
		v, err := eval(ctx)
		if err != nil {
			return false, err
		}
		return JSONEqual(v, value), nil
	})
}
