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
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/chromedp/cdproto"
	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/target"
	"github.com/gorilla/websocket"
	"github.com/mailru/easyjson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liuxd6825/horseman/log"
	"github.com/liuxd6825/horseman/tests/ws"
)

func dial(t *testing.T, server *ws.Server, path string) *Connection {
	t.Helper()

	conn, err := NewConnection(context.Background(), server.URL(path), log.NewNullLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestConnectionDial(t *testing.T) {
	t.Parallel()

	server := ws.NewServer(t, ws.WithEchoHandler("/echo"))

	conn := dial(t, server, "/echo")
	require.NoError(t, conn.Close())
	select {
	case <-conn.Done():
	default:
		t.Fatal("Done should be closed after Close")
	}

	_, err := NewConnection(context.Background(), server.URL("/missing"), log.NewNullLogger())
	require.Error(t, err)
	assert.True(t, IsTransport(err))
}

func TestConnectionExecute(t *testing.T) {
	t.Parallel()

	t.Run("empty reply", func(t *testing.T) {
		t.Parallel()

		server := ws.NewServer(t, ws.WithCDPHandler("/cdp", ws.CDPDefaultHandler, nil))
		conn := dial(t, server, "/cdp")

		require.NoError(t, target.SetDiscoverTargets(true).Do(cdp.WithExecutor(context.Background(), conn)))
	})

	t.Run("protocol error", func(t *testing.T) {
		t.Parallel()

		handler := func(_ *websocket.Conn, msg *cdproto.Message, writeCh chan cdproto.Message, _ chan struct{}) {
			writeCh <- cdproto.Message{
				ID:    msg.ID,
				Error: &cdproto.Error{Code: -32601, Message: "'Target.setDiscoverTargets' wasn't found"},
			}
		}
		server := ws.NewServer(t, ws.WithCDPHandler("/cdp", handler, nil))
		conn := dial(t, server, "/cdp")

		err := target.SetDiscoverTargets(true).Do(cdp.WithExecutor(context.Background(), conn))
		var perr *cdproto.Error
		require.ErrorAs(t, err, &perr)
		assert.Equal(t, int64(-32601), perr.Code)
		assert.False(t, IsTransport(err))
	})

	t.Run("malformed result", func(t *testing.T) {
		t.Parallel()

		handler := func(_ *websocket.Conn, msg *cdproto.Message, writeCh chan cdproto.Message, _ chan struct{}) {
			writeCh <- cdproto.Message{ID: msg.ID, Result: easyjson.RawMessage(`{"targetId":5}`)}
		}
		server := ws.NewServer(t, ws.WithCDPHandler("/cdp", handler, nil))
		conn := dial(t, server, "/cdp")

		_, err := target.CreateTarget("about:blank").Do(cdp.WithExecutor(context.Background(), conn))
		require.Error(t, err)
		assert.True(t, IsTransport(err), "got %v", err)
		assert.Contains(t, err.Error(), cdproto.CommandTargetCreateTarget)

		// The connection survives a reply it could not decode.
		require.NoError(t, target.SetDiscoverTargets(true).Do(cdp.WithExecutor(context.Background(), conn)))
	})

	t.Run("undecodable reply", func(t *testing.T) {
		t.Parallel()

		handler := func(conn *websocket.Conn, msg *cdproto.Message, _ chan cdproto.Message, _ chan struct{}) {
			frame := fmt.Sprintf(`{"id":%d,"sessionId":5,"result":{}}`, msg.ID)
			_ = conn.WriteMessage(websocket.TextMessage, []byte(frame))
		}
		server := ws.NewServer(t, ws.WithCDPHandler("/cdp", handler, nil))
		conn := dial(t, server, "/cdp")

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err := target.SetDiscoverTargets(true).Do(cdp.WithExecutor(ctx, conn))
		require.Error(t, err)
		assert.True(t, IsTransport(err), "got %v", err)
		assert.NotErrorIs(t, err, context.DeadlineExceeded)
	})

	t.Run("replies out of order", func(t *testing.T) {
		t.Parallel()

		// The first command is answered only after the second one.
		var (
			mu   sync.Mutex
			held *cdproto.Message
		)
		handler := func(_ *websocket.Conn, msg *cdproto.Message, writeCh chan cdproto.Message, _ chan struct{}) {
			mu.Lock()
			defer mu.Unlock()
			if held == nil {
				held = msg
				return
			}
			writeCh <- cdproto.Message{ID: msg.ID, Result: easyjson.RawMessage(`{"targetId":"second"}`)}
			writeCh <- cdproto.Message{ID: held.ID, Result: easyjson.RawMessage(`{"targetId":"first"}`)}
		}
		server := ws.NewServer(t, ws.WithCDPHandler("/cdp", handler, nil))
		conn := dial(t, server, "/cdp")
		ctx := context.Background()

		first := make(chan target.ID, 1)
		go func() {
			id, err := target.CreateTarget("about:blank").Do(cdp.WithExecutor(ctx, conn))
			assert.NoError(t, err)
			first <- id
		}()
		require.Eventually(t, func() bool {
			mu.Lock()
			defer mu.Unlock()
			return held != nil
		}, time.Second, 5*time.Millisecond)

		id, err := target.CreateTarget("about:blank").Do(cdp.WithExecutor(ctx, conn))
		require.NoError(t, err)
		assert.Equal(t, target.ID("second"), id)
		assert.Equal(t, target.ID("first"), <-first)
	})

	t.Run("context cancelled while waiting", func(t *testing.T) {
		t.Parallel()

		silent := func(*websocket.Conn, *cdproto.Message, chan cdproto.Message, chan struct{}) {}
		server := ws.NewServer(t, ws.WithCDPHandler("/cdp", silent, nil))
		conn := dial(t, server, "/cdp")

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		err := target.SetDiscoverTargets(true).Do(cdp.WithExecutor(ctx, conn))
		require.ErrorIs(t, err, context.DeadlineExceeded)

		conn.pendingMu.Lock()
		defer conn.pendingMu.Unlock()
		assert.Empty(t, conn.pending, "abandoned calls are forgotten")
	})

	t.Run("closed while waiting", func(t *testing.T) {
		t.Parallel()

		silent := func(*websocket.Conn, *cdproto.Message, chan cdproto.Message, chan struct{}) {}
		server := ws.NewServer(t, ws.WithCDPHandler("/cdp", silent, nil))
		conn := dial(t, server, "/cdp")

		errc := make(chan error, 1)
		go func() {
			errc <- target.SetDiscoverTargets(true).Do(cdp.WithExecutor(context.Background(), conn))
		}()
		require.Eventually(t, func() bool {
			conn.pendingMu.Lock()
			defer conn.pendingMu.Unlock()
			return len(conn.pending) == 1
		}, time.Second, 5*time.Millisecond)
		require.NoError(t, conn.Close())

		err := <-errc
		require.ErrorIs(t, err, ErrChannelClosed)
		assert.True(t, IsTransport(err))
	})
}

func TestConnectionClosureAbnormal(t *testing.T) {
	t.Parallel()

	server := ws.NewServer(t, ws.WithClosureAbnormalHandler("/closure-abnormal"))
	conn := dial(t, server, "/closure-abnormal")

	err := target.SetDiscoverTargets(true).Do(cdp.WithExecutor(context.Background(), conn))
	require.Error(t, err)
	assert.True(t, IsTransport(err), "got %v", err)
	<-conn.Done()
}

func TestConnectionCreateSession(t *testing.T) {
	t.Parallel()

	var received []cdproto.MethodType
	server := ws.NewServer(t, ws.WithCDPHandler("/cdp", ws.CDPDefaultHandler, &received))
	conn := dial(t, server, "/cdp")

	s, err := conn.createSession(&target.Info{
		TargetID:         ws.DefaultTargetID,
		Type:             "page",
		BrowserContextID: ws.DefaultBrowserContextID,
	})
	require.NoError(t, err)
	assert.Equal(t, target.SessionID(ws.DefaultSessionID), s.ID())
	assert.Same(t, s, conn.getSession(s.ID()))
	assert.Equal(t, []cdproto.MethodType{cdproto.CommandTargetAttachToTarget}, received)

	require.NoError(t, conn.Close())
	select {
	case <-s.Done():
	default:
		t.Fatal("session should be closed with its connection")
	}
	assert.Nil(t, conn.getSession(s.ID()))
}
