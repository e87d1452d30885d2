/*
 *
 * xk6-browser - a browser automation extension for k6
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
)

// Barrier waits for the page loads an action is expected to trigger.
type Barrier struct {
	waits []func(ctx context.Context) error
	stops []context.CancelFunc
}

func NewBarrier() *Barrier {
	return &Barrier{}
}

// AddPageNavigation expects p to finish a load within its navigation
// timeout, counted from now. A load finishing before Wait is called
// still counts.
func (b *Barrier) AddPageNavigation(p *Page) {
	loaded, stop := nextEvent(p.ctx, p, []string{EventPageLoadFinished}, nil)
	timeout := p.timeouts.NavigationTimeout()
	deadline := time.Now().Add(timeout)

	b.stops = append(b.stops, stop)
	b.waits = append(b.waits, func(ctx context.Context) error {
		timer := time.NewTimer(time.Until(deadline))
		defer timer.Stop()

		select {
		case <-loaded:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		case <-p.ctx.Done():
			return ErrSessionClosed
		case <-timer.C:
			return &TimeoutError{Op: "waitForNavigation", Timeout: timeout}
		}
	})
}

// Wait blocks until every expected load finished, returning the first
// failure.
func (b *Barrier) Wait(ctx context.Context) error {
	defer b.Cancel()
	for _, wait := range b.waits {
		if err := wait(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Cancel stops waiting. It is a no-op once Wait returned.
func (b *Barrier) Cancel() {
	for _, stop := range b.stops {
		stop()
	}
}
