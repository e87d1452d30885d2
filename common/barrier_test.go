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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newEmitterPage(ctx context.Context, navTimeout time.Duration) *Page {
	return &Page{
		BaseEventEmitter: NewBaseEventEmitter(ctx),
		ctx:              ctx,
		timeouts:         NewTimeoutSettings(0, navTimeout),
	}
}

func TestBarrier(t *testing.T) {
	t.Parallel()

	t.Run("should work", func(t *testing.T) {
		t.Parallel()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		p := newEmitterPage(ctx, time.Second)

		barrier := NewBarrier()
		barrier.AddPageNavigation(p)
		p.emit(EventPageLoadFinished, "success")

		err := barrier.Wait(ctx)
		require.NoError(t, err)
	})

	t.Run("without navigation", func(t *testing.T) {
		t.Parallel()

		require.NoError(t, NewBarrier().Wait(context.Background()))
	})

	t.Run("should time out", func(t *testing.T) {
		t.Parallel()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		p := newEmitterPage(ctx, 20*time.Millisecond)

		barrier := NewBarrier()
		barrier.AddPageNavigation(p)

		err := barrier.Wait(ctx)
		var te *TimeoutError
		require.ErrorAs(t, err, &te)
		assert.Equal(t, "waitForNavigation", te.Op)
	})

	t.Run("waits for every page", func(t *testing.T) {
		t.Parallel()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		first, second := newEmitterPage(ctx, time.Second), newEmitterPage(ctx, time.Second)

		barrier := NewBarrier()
		barrier.AddPageNavigation(first)
		barrier.AddPageNavigation(second)
		first.emit(EventPageLoadFinished, "success")

		waitCtx, waitCancel := context.WithTimeout(ctx, 20*time.Millisecond)
		defer waitCancel()
		require.ErrorIs(t, barrier.Wait(waitCtx), context.DeadlineExceeded)
	})

	t.Run("page closed", func(t *testing.T) {
		t.Parallel()

		ctx, cancel := context.WithCancel(context.Background())
		p := newEmitterPage(ctx, time.Second)

		barrier := NewBarrier()
		barrier.AddPageNavigation(p)
		cancel()

		require.ErrorIs(t, barrier.Wait(context.Background()), ErrSessionClosed)
	})
}
