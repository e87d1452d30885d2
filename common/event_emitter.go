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
	"sync"
)

var _ EventEmitter = &BaseEventEmitter{}

const (
	// Browser

	EventBrowserPage         string = "page"
	EventBrowserDisconnected string = "disconnected"

	// Connection

	EventConnectionClose string = "close"

	// Session

	EventSessionClosed string = "sessionClosed"

	// Page

	EventPageInitialized         string = "initialized"
	EventPageLoadStarted         string = "loadStarted"
	EventPageLoadFinished        string = "loadFinished"
	EventPageResourceRequested   string = "resourceRequested"
	EventPageResourceReceived    string = "resourceReceived"
	EventPageURLChanged          string = "urlChanged"
	EventPageNavigationRequested string = "navigationRequested"
	EventPageConsoleMessage      string = "consoleMessage"
	EventPageError               string = "error"
	EventPageDialog              string = "dialog"
	EventPageClose               string = "close"
)

// Event as emitted by an EventEmitter.
type Event struct {
	typ  string
	data any
}

// Type returns the event name.
func (e Event) Type() string { return e.typ }

// Data returns the event payload.
func (e Event) Data() any { return e.data }

// EventEmitter is implemented by everything emitting CDP or page events.
type EventEmitter interface {
	emit(event string, data any)
	on(ctx context.Context, events []string, ch chan Event)
	onAll(ctx context.Context, ch chan Event)
}

// subscription forwards the events it matches to ch in emit order. A
// slow reader only delays its own subscription: events queue up in
// pending and a single pump goroutine drains them.
type subscription struct {
	ctx    context.Context
	events map[string]bool
	ch     chan Event

	mu      sync.Mutex
	pending []Event
	pumping bool
}

func (s *subscription) matches(event string) bool {
	return s.events == nil || s.events[event]
}

func (s *subscription) push(ev Event, stop <-chan struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pending = append(s.pending, ev)
	if !s.pumping {
		s.pumping = true
		go s.pump(stop)
	}
}

func (s *subscription) pump(stop <-chan struct{}) {
	for {
		s.mu.Lock()
		if len(s.pending) == 0 {
			s.pumping = false
			s.mu.Unlock()
			return
		}
		ev := s.pending[0]
		s.pending[0] = Event{}
		s.pending = s.pending[1:]
		s.mu.Unlock()

		select {
		case s.ch <- ev:
		case <-s.ctx.Done():
			s.drop()
			return
		case <-stop:
			s.drop()
			return
		}
	}
}

func (s *subscription) drop() {
	s.mu.Lock()
	s.pending, s.pumping = nil, false
	s.mu.Unlock()
}

type emitterState struct {
	mu   sync.Mutex
	subs []*subscription
}

// BaseEventEmitter emits events to the channels subscribed to them. Emit
// never blocks; every subscription receives its events in the order they
// were emitted. Nothing is delivered once the emitter context is done.
type BaseEventEmitter struct {
	ctx   context.Context
	state *emitterState
}

// NewBaseEventEmitter returns an emitter living as long as ctx.
func NewBaseEventEmitter(ctx context.Context) BaseEventEmitter {
	return BaseEventEmitter{ctx: ctx, state: &emitterState{}}
}

func (e *BaseEventEmitter) emit(event string, data any) {
	ev := Event{typ: event, data: data}

	e.state.mu.Lock()
	defer e.state.mu.Unlock()

	live := e.state.subs[:0]
	for _, s := range e.state.subs {
		if s.ctx.Err() != nil {
			continue
		}
		live = append(live, s)
		if s.matches(event) {
			s.push(ev, e.ctx.Done())
		}
	}
	clear(e.state.subs[len(live):])
	e.state.subs = live
}

func (e *BaseEventEmitter) subscribe(ctx context.Context, events map[string]bool, ch chan Event) {
	e.state.mu.Lock()
	e.state.subs = append(e.state.subs, &subscription{ctx: ctx, events: events, ch: ch})
	e.state.mu.Unlock()
}

// on sends the given events to ch until ctx is done.
func (e *BaseEventEmitter) on(ctx context.Context, events []string, ch chan Event) {
	set := make(map[string]bool, len(events))
	for _, ev := range events {
		set[ev] = true
	}
	e.subscribe(ctx, set, ch)
}

// onAll sends every event to ch until ctx is done.
func (e *BaseEventEmitter) onAll(ctx context.Context, ch chan Event) {
	e.subscribe(ctx, nil, ch)
}

// Subscribe calls fn for every event in events until ctx is done.
// With no events given, fn receives everything the emitter emits.
func Subscribe(ctx context.Context, em EventEmitter, fn func(Event), events ...string) {
	ch := make(chan Event)
	if len(events) == 0 {
		em.onAll(ctx, ch)
	} else {
		em.on(ctx, events, ch)
	}
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case ev := <-ch:
				fn(ev)
			}
		}
	}()
}

// nextEvent returns a channel receiving the data of the first of events
// accepted by match, a nil match accepting anything. The subscription
// ends with the first match or when cancel is called.
func nextEvent(ctx context.Context, em EventEmitter, events []string, match func(data any) bool) (<-chan any, context.CancelFunc) {
	ctx, cancel := context.WithCancel(ctx)
	in := make(chan Event)
	out := make(chan any, 1)
	em.on(ctx, events, in)

	go func() {
		defer cancel()
		for {
			select {
			case <-ctx.Done():
				return
			case ev := <-in:
				if match == nil || match(ev.data) {
					out <- ev.data
					return
				}
			}
		}
	}()
	return out, cancel
}
