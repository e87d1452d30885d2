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

// Package ws serves fake Chrome DevTools Protocol endpoints to tests.
package ws

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/chromedp/cdproto"
	"github.com/gorilla/websocket"
	"github.com/mailru/easyjson"
	"github.com/mailru/easyjson/jlexer"
	"github.com/mailru/easyjson/jwriter"
	"github.com/mccutchen/go-httpbin/httpbin"
)

// Server is an HTTP test server answering CDP websockets on the paths
// registered by its options. Every other path is served by httpbin.
type Server struct {
	Mux        *http.ServeMux
	ServerHTTP *httptest.Server
}

// ServerOption registers a handler on a Server.
type ServerOption func(*Server)

// NewServer starts a server that is closed when t ends.
func NewServer(t testing.TB, opts ...ServerOption) *Server {
	t.Helper()

	s := &Server{Mux: http.NewServeMux()}
	s.Mux.Handle("/", httpbin.New().Handler())
	for _, opt := range opts {
		opt(s)
	}
	s.ServerHTTP = httptest.NewServer(s.Mux)
	t.Cleanup(s.ServerHTTP.Close)
	return s
}

// URL returns the websocket URL of path.
func (s *Server) URL(path string) string {
	return "ws" + strings.TrimPrefix(s.ServerHTTP.URL, "http") + path
}

// HTTPURL returns the plain HTTP URL of path.
func (s *Server) HTTPURL(path string) string {
	return s.ServerHTTP.URL + path
}

func upgrade(w http.ResponseWriter, req *http.Request) (*websocket.Conn, bool) {
	conn, err := (&websocket.Upgrader{}).Upgrade(w, req, w.Header())
	return conn, err == nil
}

// WithClosureAbnormalHandler drops the connection on path without a close
// handshake.
func WithClosureAbnormalHandler(path string) ServerOption {
	return func(s *Server) {
		s.Mux.HandleFunc(path, func(w http.ResponseWriter, req *http.Request) {
			if conn, ok := upgrade(w, req); ok {
				_ = conn.Close()
			}
		})
	}
}

// WithEchoHandler echoes the first message received on path, then closes
// the connection normally.
func WithEchoHandler(path string) ServerOption {
	echo := func(conn *websocket.Conn) error {
		typ, r, err := conn.NextReader()
		if err != nil {
			return err
		}
		wc, err := conn.NextWriter(typ)
		if err != nil {
			return err
		}
		if _, err := io.Copy(wc, r); err != nil {
			return err
		}
		if err := wc.Close(); err != nil {
			return err
		}
		return conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(10*time.Second))
	}
	return func(s *Server) {
		s.Mux.HandleFunc(path, func(w http.ResponseWriter, req *http.Request) {
			if conn, ok := upgrade(w, req); ok {
				_ = echo(conn)
			}
		})
	}
}

// CDPHandler handles one incoming CDP message. Replies and events go to
// writeCh; done is closed once the peer went away.
type CDPHandler func(conn *websocket.Conn, msg *cdproto.Message, writeCh chan cdproto.Message, done chan struct{})

// WithCDPHandler serves CDP on path, handing every message to fn in the
// order received. When received is not nil, the method of every command
// is appended to it before fn runs.
func WithCDPHandler(path string, fn CDPHandler, received *[]cdproto.MethodType) ServerOption {
	return func(s *Server) {
		s.Mux.HandleFunc(path, func(w http.ResponseWriter, req *http.Request) {
			conn, ok := upgrade(w, req)
			if !ok {
				return
			}
			p := &cdpPeer{
				conn: conn,
				out:  make(chan cdproto.Message),
				done: make(chan struct{}),
			}
			go p.writeLoop()
			p.readLoop(fn, received)
			_ = conn.Close()
		})
	}
}

// cdpPeer is the browser end of a CDP websocket.
type cdpPeer struct {
	conn *websocket.Conn
	out  chan cdproto.Message
	done chan struct{}
}

func (p *cdpPeer) readLoop(fn CDPHandler, received *[]cdproto.MethodType) {
	defer close(p.done)
	for {
		_, buf, err := p.conn.ReadMessage()
		if err != nil {
			return
		}
		var msg cdproto.Message
		in := jlexer.Lexer{Data: buf}
		msg.UnmarshalEasyJSON(&in)
		if in.Error() != nil {
			return
		}
		if msg.Method != "" && received != nil {
			*received = append(*received, msg.Method)
		}
		fn(p.conn, &msg, p.out, p.done)
	}
}

func (p *cdpPeer) writeLoop() {
	for {
		select {
		case msg := <-p.out:
			var out jwriter.Writer
			msg.MarshalEasyJSON(&out)
			if out.Error != nil {
				continue
			}
			buf, err := out.BuildBytes()
			if err != nil {
				continue
			}
			if err := p.conn.WriteMessage(websocket.TextMessage, buf); err != nil {
				return
			}
		case <-p.done:
			return
		}
	}
}

// Identifiers of the single page target served by CDPDefaultHandler.
const (
	DefaultSessionID        = "session_id_0123456789"
	DefaultTargetID         = "target_id_0123456789"
	DefaultBrowserContextID = "browser_context_id_0123456789"
)

// CDPDefaultHandler answers every command with an empty result.
// Target.attachToTarget also attaches the default page target.
func CDPDefaultHandler(_ *websocket.Conn, msg *cdproto.Message, writeCh chan cdproto.Message, _ chan struct{}) {
	if msg.Method == "" {
		return
	}
	result := `{}`
	if msg.SessionID == "" && msg.Method == cdproto.CommandTargetAttachToTarget {
		writeCh <- cdproto.Message{
			Method: cdproto.EventTargetAttachedToTarget,
			Params: easyjson.RawMessage(`{
				"sessionId": "` + DefaultSessionID + `",
				"targetInfo": {
					"targetId": "` + DefaultTargetID + `",
					"type": "page",
					"title": "",
					"url": "about:blank",
					"attached": true,
					"browserContextId": "` + DefaultBrowserContextID + `"
				},
				"waitingForDebugger": false
			}`),
		}
		result = `{"sessionId":"` + DefaultSessionID + `"}`
	}
	writeCh <- cdproto.Message{
		ID:        msg.ID,
		SessionID: msg.SessionID,
		Result:    easyjson.RawMessage(result),
	}
}
