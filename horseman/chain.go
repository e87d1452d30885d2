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

import "context"

// Chain is the pending result of a queued action. Actions called on a
// chain run after it, and are skipped when it failed.
type Chain struct {
	s       *Session
	done    chan struct{}
	value   any
	err     error
	lastVal any
}

func newChain(s *Session) *Chain {
	return &Chain{s: s, done: make(chan struct{})}
}

// Done is closed once the action has run or was skipped.
func (c *Chain) Done() <-chan struct{} { return c.done }

// Result waits for the action and returns its value and error.
func (c *Chain) Result() (any, error) {
	<-c.done
	return c.value, c.err
}

// Err waits for the action and returns its error.
func (c *Chain) Err() error {
	<-c.done
	return c.err
}

// LastVal waits for the action and returns the value of the step before
// it.
func (c *Chain) LastVal() any {
	<-c.done
	return c.lastVal
}

// Do queues the action registered under name after c.
func (c *Chain) Do(name string, args ...any) *Chain {
	return c.s.queue(c, name, args)
}

// Then queues fn, called with the value of c when c succeeded.
func (c *Chain) Then(fn func(v any) (any, error)) *Chain {
	return c.step(func(v any, err error) (any, error) {
		if err != nil {
			return nil, err
		}
		return fn(v)
	})
}

// Catch queues fn, called with the error of c when c failed. Its result
// replaces the failure.
func (c *Chain) Catch(fn func(err error) (any, error)) *Chain {
	return c.step(func(v any, err error) (any, error) {
		if err == nil {
			return v, nil
		}
		return fn(err)
	})
}

func (c *Chain) step(fn func(v any, err error) (any, error)) *Chain {
	next := newChain(c.s)
	c.s.enqueue(func(context.Context) {
		defer close(next.done)

		next.lastVal = c.value
		next.value, next.err = fn(c.value, c.err)
		if next.err == nil {
			c.s.setLastVal(next.value)
		}
	})
	return next
}

// Close waits for c, then closes the session. The error of c, if any,
// is returned in preference to the one of the session.
func (c *Chain) Close() error {
	<-c.done
	err := c.s.Close()
	if c.err != nil {
		return c.err
	}
	return err
}
