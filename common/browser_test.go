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

	"github.com/liuxd6825/horseman/log"
	"github.com/liuxd6825/horseman/tests/ws"
)

func newFakeBrowser(t *testing.T, fb *ws.FakeBrowser, opts BrowserOptions) *Browser {
	t.Helper()

	server := ws.NewServer(t, ws.WithCDPHandler("/cdp", fb.Handle, nil))
	b, err := Connect(context.Background(), server.URL("/cdp"), opts, log.NewNullLogger())
	require.NoError(t, err)
	t.Cleanup(b.Close)
	return b
}

func TestBrowserNewPage(t *testing.T) {
	t.Parallel()

	fb := &ws.FakeBrowser{}
	b := newFakeBrowser(t, fb, BrowserOptions{})

	p, err := b.NewPage(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateReady, p.State())
	assert.Equal(t, "about:blank", p.URL())
	assert.Contains(t, b.Pages(), p)

	cmds := fb.Commands()
	assert.Contains(t, cmds, "Page.addScriptToEvaluateOnNewDocument")
	assert.Contains(t, cmds, "Runtime.runIfWaitingForDebugger")
}

func TestBrowserClosePage(t *testing.T) {
	t.Parallel()

	fb := &ws.FakeBrowser{}
	b := newFakeBrowser(t, fb, BrowserOptions{})

	p, err := b.NewPage(context.Background())
	require.NoError(t, err)
	before := fb.Targets()

	require.NoError(t, p.Close(context.Background()))
	assert.Equal(t, StateClosed, p.State())
	assert.Equal(t, before-1, fb.Targets())
	assert.ErrorIs(t, p.WaitReady(context.Background()), ErrSessionClosed)
	assert.Eventually(t, func() bool {
		for _, bp := range b.Pages() {
			if bp == p {
				return false
			}
		}
		return true
	}, time.Second, 10*time.Millisecond)

	// closing twice is a no-op
	require.NoError(t, p.Close(context.Background()))
}

func TestBrowserCloseIsIdempotent(t *testing.T) {
	t.Parallel()

	fb := &ws.FakeBrowser{}
	b := newFakeBrowser(t, fb, BrowserOptions{})
	p, err := b.NewPage(context.Background())
	require.NoError(t, err)

	b.Close()
	b.Close()

	select {
	case <-b.conn.Done():
	case <-time.After(time.Second):
		t.Fatal("connection should be closed")
	}
	select {
	case <-p.session.Done():
	case <-time.After(time.Second):
		t.Fatal("page session should end with the connection")
	}
}
