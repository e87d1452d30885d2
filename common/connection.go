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
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chromedp/cdproto"
	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/target"
	"github.com/gorilla/websocket"
	"github.com/mailru/easyjson"
	"github.com/mailru/easyjson/jlexer"
	"github.com/mailru/easyjson/jwriter"
	"github.com/tidwall/gjson"

	"github.com/liuxd6825/horseman/log"
)

const (
	wsWriteBufferSize  = 1 << 20
	wsHandshakeTimeout = 60 * time.Second
	wsCloseTimeout     = 10 * time.Second
	// outgoing messages queued before callers block.
	sendQueueSize = 32
)

var (
	_ EventEmitter = &Connection{}
	_ cdp.Executor = &Connection{}
)

// Connection is the websocket to the browser and its root CDP session.
//
// Every command, whichever session it targets, takes its id from one
// counter and waits in a single table for the reply with that id. Events
// carrying a session id are handed to that Session; the others are
// emitted by the Connection.
type Connection struct {
	BaseEventEmitter

	ctx    context.Context
	wsURL  string
	logger *log.Logger
	conn   *websocket.Conn

	out       chan []byte
	done      chan struct{}
	closeOnce sync.Once
	// reason the connection went down, readable once done is closed.
	reason error

	lastID    atomic.Int64
	pendingMu sync.Mutex
	pending   map[int64]chan answer

	sessionsMu sync.RWMutex
	sessions   map[target.SessionID]*Session
}

// NewConnection dials wsURL and starts the read and write loops.
func NewConnection(ctx context.Context, wsURL string, logger *log.Logger) (*Connection, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: wsHandshakeTimeout,
		Proxy:            http.ProxyFromEnvironment,
		WriteBufferSize:  wsWriteBufferSize,
	}
	conn, _, err := dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, &TransportError{Op: "dialing " + wsURL, Err: err}
	}

	c := &Connection{
		BaseEventEmitter: NewBaseEventEmitter(ctx),
		ctx:              ctx,
		wsURL:            wsURL,
		logger:           logger,
		conn:             conn,
		out:              make(chan []byte, sendQueueSize),
		done:             make(chan struct{}),
		pending:          make(map[int64]chan answer),
		sessions:         make(map[target.SessionID]*Session),
	}
	go c.readLoop()
	go c.writeLoop()
	return c, nil
}

// Close sends a going-away close frame and shuts the connection down.
func (c *Connection) Close() error {
	return c.shutdown(nil)
}

// Done is closed once the connection is down.
func (c *Connection) Done() <-chan struct{} {
	return c.done
}

// shutdown takes the connection down once. A nil cause is a local close.
func (c *Connection) shutdown(cause error) error {
	var err error
	c.closeOnce.Do(func() {
		c.logger.Debugf("Connection:shutdown", "wsURL:%q cause:%v", c.wsURL, cause)

		c.reason = ErrChannelClosed
		if cause != nil {
			c.reason = cause
		} else {
			err = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, ""),
				time.Now().Add(wsCloseTimeout))
		}
		close(c.done)
		_ = c.conn.Close()

		c.pendingMu.Lock()
		for id, ch := range c.pending {
			close(ch)
			delete(c.pending, id)
		}
		c.pendingMu.Unlock()

		c.sessionsMu.Lock()
		for id, s := range c.sessions {
			s.close()
			delete(c.sessions, id)
		}
		c.sessionsMu.Unlock()

		c.emit(EventConnectionClose, nil)
	})
	return err
}

func (c *Connection) transportError(op string) error {
	<-c.done
	return &TransportError{Op: op, Err: c.reason}
}

func (c *Connection) getSession(id target.SessionID) *Session {
	c.sessionsMu.RLock()
	defer c.sessionsMu.RUnlock()
	return c.sessions[id]
}

func (c *Connection) closeSession(id target.SessionID) {
	c.logger.Debugf("Connection:closeSession", "sid:%v", id)

	c.sessionsMu.Lock()
	s := c.sessions[id]
	delete(c.sessions, id)
	c.sessionsMu.Unlock()

	if s != nil {
		s.close()
	}
}

// createSession attaches to the target and returns its flat session.
func (c *Connection) createSession(info *target.Info) (*Session, error) {
	c.logger.Debugf("Connection:createSession", "tid:%v bctxid:%v type:%s", info.TargetID, info.BrowserContextID, info.Type)

	id, err := target.AttachToTarget(info.TargetID).WithFlatten(true).Do(cdp.WithExecutor(c.ctx, c))
	if err != nil {
		return nil, err
	}
	s := c.getSession(id)
	if s == nil {
		return nil, &TransportError{Op: "attaching to target " + string(info.TargetID), Err: ErrChannelClosed}
	}
	return s, nil
}

// track registers the attach and detach events before anybody else sees
// them, so that a reply never arrives for an unknown session.
func (c *Connection) track(msg *cdproto.Message) {
	switch msg.Method {
	case cdproto.EventTargetAttachedToTarget:
		ev, err := cdproto.UnmarshalMessage(msg)
		if err != nil {
			c.logger.Errorf("Connection:track", "%v", err)
			return
		}
		a := ev.(*target.EventAttachedToTarget)
		c.sessionsMu.Lock()
		c.sessions[a.SessionID] = NewSession(c.ctx, c, a.SessionID, a.TargetInfo.TargetID, c.logger)
		c.sessionsMu.Unlock()
	case cdproto.EventTargetDetachedFromTarget:
		ev, err := cdproto.UnmarshalMessage(msg)
		if err != nil {
			c.logger.Errorf("Connection:track", "%v", err)
			return
		}
		c.closeSession(ev.(*target.EventDetachedFromTarget).SessionID)
	}
}

func (c *Connection) readLoop() {
	for {
		_, buf, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				err = ErrChannelClosed
			}
			_ = c.shutdown(err)
			return
		}
		c.logger.Tracef("cdp:recv", "<- %s", buf)

		msg := new(cdproto.Message)
		in := jlexer.Lexer{Data: buf}
		msg.UnmarshalEasyJSON(&in)
		if err := in.Error(); err != nil {
			c.logger.Errorf("Connection:readLoop", "decoding message: %v", err)
			if id := gjson.GetBytes(buf, "id").Int(); id != 0 {
				c.fail(id, err)
			}
			continue
		}
		c.track(msg)

		switch {
		case msg.ID != 0:
			c.resolve(msg)
			if msg.SessionID != "" && msg.Error != nil && msg.Error.Message == "No session with given id" {
				c.closeSession(msg.SessionID)
			}
		case msg.SessionID != "":
			if s := c.getSession(msg.SessionID); s != nil {
				s.deliver(msg)
			}
		case msg.Method != "":
			ev, err := cdproto.UnmarshalMessage(msg)
			if err != nil {
				c.logger.Debugf("Connection:readLoop", "%v", err)
				continue
			}
			c.emit(string(msg.Method), ev)
		default:
			c.logger.Errorf("Connection:readLoop", "ignoring message without id or method: %s", buf)
		}
	}
}

func (c *Connection) writeLoop() {
	for {
		select {
		case buf := <-c.out:
			c.logger.Tracef("cdp:send", "-> %s", buf)
			if err := c.conn.WriteMessage(websocket.TextMessage, buf); err != nil {
				_ = c.shutdown(err)
				return
			}
		case <-c.done:
			return
		}
	}
}

// answer is the outcome of a command: its reply, or the error that
// kept the reply from being decoded.
type answer struct {
	msg *cdproto.Message
	err error
}

// await registers a reply slot for id.
func (c *Connection) await(id int64) chan answer {
	ch := make(chan answer, 1)
	c.pendingMu.Lock()
	c.pending[id] = ch
	c.pendingMu.Unlock()
	return ch
}

// resolve hands a reply to the caller waiting for it, if any.
func (c *Connection) resolve(msg *cdproto.Message) {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	if ch, ok := c.pending[msg.ID]; ok {
		ch <- answer{msg: msg}
		delete(c.pending, msg.ID)
	}
}

// fail hands err to the caller waiting for id, if any.
func (c *Connection) fail(id int64, err error) {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	if ch, ok := c.pending[id]; ok {
		ch <- answer{err: err}
		delete(c.pending, id)
	}
}

func (c *Connection) forget(id int64) {
	c.pendingMu.Lock()
	delete(c.pending, id)
	c.pendingMu.Unlock()
}

// call sends a command on session sid, the root session when empty, and
// decodes its reply into res. A reply that does not decode is a
// TransportError.
func (c *Connection) call(ctx context.Context, sid target.SessionID, method string, params easyjson.Marshaler, res easyjson.Unmarshaler) error {
	var buf []byte
	if params != nil {
		var err error
		if buf, err = easyjson.Marshal(params); err != nil {
			return err
		}
	}
	msg := &cdproto.Message{
		ID:        c.lastID.Add(1),
		SessionID: sid,
		Method:    cdproto.MethodType(method),
		Params:    buf,
	}
	var w jwriter.Writer
	msg.MarshalEasyJSON(&w)
	frame, err := w.BuildBytes()
	if err != nil {
		return fmt.Errorf("encoding %s: %w", method, err)
	}

	reply := c.await(msg.ID)
	defer c.forget(msg.ID)

	select {
	case c.out <- frame:
	case <-c.done:
		return c.transportError(method)
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case a, ok := <-reply:
		switch {
		case !ok:
			return c.transportError(method)
		case a.err != nil:
			return &TransportError{Op: method, Err: a.err}
		case a.msg.Error != nil:
			return a.msg.Error
		case res != nil:
			if err := easyjson.Unmarshal(a.msg.Result, res); err != nil {
				return &TransportError{Op: method, Err: err}
			}
		}
		return nil
	case <-c.done:
		return c.transportError(method)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Execute runs a command on the root browser session.
func (c *Connection) Execute(ctx context.Context, method string, params easyjson.Marshaler, res easyjson.Unmarshaler) error {
	c.logger.Debugf("Connection:Execute", "method:%q", method)
	return c.call(ctx, "", method, params, res)
}
