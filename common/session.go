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
	"errors"
	"sync"
	"sync/atomic"

	"github.com/chromedp/cdproto"
	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/target"
	"github.com/mailru/easyjson"

	"github.com/liuxd6825/horseman/log"
)

var (
	_ EventEmitter = &Session{}
	_ cdp.Executor = &Session{}
)

// Session is the flat CDP session of one attached target. Commands are
// sent through the Connection; events are decoded and emitted in the
// order they arrived.
type Session struct {
	BaseEventEmitter

	ctx    context.Context
	conn   *Connection
	id     target.SessionID
	tid    target.ID
	logger *log.Logger

	events    chan *cdproto.Message
	done      chan struct{}
	closeOnce sync.Once
	crashed   atomic.Bool
}

// NewSession returns the session id of target tid and starts emitting its
// events.
func NewSession(ctx context.Context, conn *Connection, id target.SessionID, tid target.ID, logger *log.Logger) *Session {
	s := &Session{
		BaseEventEmitter: NewBaseEventEmitter(ctx),
		ctx:              ctx,
		conn:             conn,
		id:               id,
		tid:              tid,
		logger:           logger,
		events:           make(chan *cdproto.Message),
		done:             make(chan struct{}),
	}
	go s.emitLoop()
	return s
}

// ID returns the CDP session id.
func (s *Session) ID() target.SessionID { return s.id }

// TargetID returns the id of the attached target.
func (s *Session) TargetID() target.ID { return s.tid }

// Done is closed once the session is detached.
func (s *Session) Done() <-chan struct{} { return s.done }

func (s *Session) close() {
	s.closeOnce.Do(func() {
		s.logger.Debugf("Session:close", "sid:%v tid:%v", s.id, s.tid)
		close(s.done)
		s.emit(EventSessionClosed, nil)
	})
}

func (s *Session) markAsCrashed() {
	s.crashed.Store(true)
}

// deliver queues an event of the session. It drops the event once the
// session or its connection is gone.
func (s *Session) deliver(msg *cdproto.Message) {
	select {
	case s.events <- msg:
	case <-s.done:
	case <-s.conn.done:
	}
}

func (s *Session) emitLoop() {
	for {
		select {
		case msg := <-s.events:
			ev, err := cdproto.UnmarshalMessage(msg)
			var unknown cdp.ErrUnknownCommandOrEvent
			switch {
			case errors.As(err, &unknown):
				s.logger.Tracef("Session:emitLoop", "sid:%v skipping unknown event %s", s.id, msg.Method)
			case err != nil:
				s.logger.Errorf("Session:emitLoop", "sid:%v tid:%v err:%v", s.id, s.tid, err)
			default:
				s.emit(string(msg.Method), ev)
			}
		case <-s.done:
			return
		}
	}
}

// usable returns why the session refuses commands, if it does.
func (s *Session) usable(method string) error {
	if method == target.CommandCloseTarget {
		return errors.New("to close the target, cancel its context")
	}
	if s.crashed.Load() {
		return ErrTargetCrashed
	}
	select {
	case <-s.done:
		return ErrSessionClosed
	default:
		return nil
	}
}

// Execute runs a command on the target and waits for its reply.
func (s *Session) Execute(ctx context.Context, method string, params easyjson.Marshaler, res easyjson.Unmarshaler) error {
	s.logger.Tracef("Session:Execute", "sid:%v tid:%v method:%q", s.id, s.tid, method)
	if err := s.usable(method); err != nil {
		return err
	}
	return s.conn.call(ctx, s.id, method, params, res)
}
