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

	"github.com/chromedp/cdproto"
	"github.com/chromedp/cdproto/cdp"
	cdppage "github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/target"
	"github.com/gorilla/websocket"
	"github.com/mailru/easyjson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liuxd6825/horseman/tests/ws"
)

// attachedSession returns a session of the default target served by handler.
func attachedSession(t *testing.T, handler ws.CDPHandler, received *[]cdproto.MethodType) (*Connection, *Session) {
	t.Helper()

	server := ws.NewServer(t, ws.WithCDPHandler("/cdp", handler, received))
	conn := dial(t, server, "/cdp")
	s, err := conn.createSession(&target.Info{TargetID: ws.DefaultTargetID, Type: "page"})
	require.NoError(t, err)
	return conn, s
}

func TestSessionExecute(t *testing.T) {
	t.Parallel()

	var received []cdproto.MethodType
	_, s := attachedSession(t, ws.CDPDefaultHandler, &received)
	assert.Equal(t, target.ID(ws.DefaultTargetID), s.TargetID())

	enable := cdppage.Enable()
	require.NoError(t, enable.Do(cdp.WithExecutor(context.Background(), s)))
	assert.Equal(t, []cdproto.MethodType{
		cdproto.CommandTargetAttachToTarget,
		cdproto.CommandPageEnable,
	}, received)

	err := target.CloseTarget(ws.DefaultTargetID).Do(cdp.WithExecutor(context.Background(), s))
	require.Error(t, err, "closing a target goes through its context")

	s.markAsCrashed()
	require.ErrorIs(t, enable.Do(cdp.WithExecutor(context.Background(), s)), ErrTargetCrashed)
}

func TestSessionClosed(t *testing.T) {
	t.Parallel()

	conn, s := attachedSession(t, ws.CDPDefaultHandler, nil)

	closed := make(chan struct{})
	Subscribe(context.Background(), s, func(Event) { close(closed) }, EventSessionClosed)

	conn.closeSession(s.ID())
	require.ErrorIs(t, cdppage.Enable().Do(cdp.WithExecutor(context.Background(), s)), ErrSessionClosed)
	select {
	case <-closed:
	case <-time.After(time.Second):
		t.Fatal("no sessionClosed event")
	}
}

func TestSessionDetachedByBrowser(t *testing.T) {
	t.Parallel()

	detach := func(_ *websocket.Conn, msg *cdproto.Message, writeCh chan cdproto.Message, done chan struct{}) {
		if msg.Method != cdproto.CommandPageEnable {
			ws.CDPDefaultHandler(nil, msg, writeCh, done)
			return
		}
		writeCh <- cdproto.Message{
			Method: cdproto.EventTargetDetachedFromTarget,
			Params: easyjson.RawMessage(`{"sessionId":"` + ws.DefaultSessionID + `","targetId":"` + ws.DefaultTargetID + `"}`),
		}
		writeCh <- cdproto.Message{
			ID:        msg.ID,
			SessionID: msg.SessionID,
			Error:     &cdproto.Error{Code: -32001, Message: "No session with given id"},
		}
	}
	conn, s := attachedSession(t, detach, nil)

	err := cdppage.Enable().Do(cdp.WithExecutor(context.Background(), s))
	var perr *cdproto.Error
	require.ErrorAs(t, err, &perr)

	select {
	case <-s.Done():
	case <-time.After(time.Second):
		t.Fatal("session should be closed once detached")
	}
	assert.Nil(t, conn.getSession(s.ID()))
}

func TestSessionEvents(t *testing.T) {
	t.Parallel()

	fire := func(_ *websocket.Conn, msg *cdproto.Message, writeCh chan cdproto.Message, done chan struct{}) {
		ws.CDPDefaultHandler(nil, msg, writeCh, done)
		if msg.Method == cdproto.CommandPageEnable {
			writeCh <- cdproto.Message{
				SessionID: msg.SessionID,
				Method:    cdproto.EventPageLoadEventFired,
				Params:    easyjson.RawMessage(`{"timestamp":1}`),
			}
		}
	}
	_, s := attachedSession(t, fire, nil)

	got := make(chan Event, 1)
	Subscribe(context.Background(), s, func(ev Event) { got <- ev }, cdproto.EventPageLoadEventFired)
	require.NoError(t, cdppage.Enable().Do(cdp.WithExecutor(context.Background(), s)))

	select {
	case ev := <-got:
		assert.IsType(t, &cdppage.EventLoadEventFired{}, ev.Data())
	case <-time.After(time.Second):
		t.Fatal("event not emitted")
	}
}
