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

import (
	"fmt"

	"github.com/liuxd6825/horseman/api"
	"github.com/liuxd6825/horseman/common"
)

type (
	// Event is delivered to handlers registered with On.
	Event = api.Event
	// EventHandler handles one kind of event.
	EventHandler = api.EventHandler
)

// Event names accepted by On.
const (
	EventInitialized         = "initialized"
	EventLoadStarted         = "loadStarted"
	EventLoadFinished        = "loadFinished"
	EventResourceRequested   = "resourceRequested"
	EventResourceReceived    = "resourceReceived"
	EventURLChanged          = "urlChanged"
	EventNavigationRequested = "navigationRequested"
	EventTabCreated          = "tabCreated"
	EventTabClosed           = "tabClosed"
	EventTimeout             = "timeout"
	EventConsoleMessage      = "consoleMessage"
	EventError               = "error"
	EventAlert               = "alert"
	EventConfirm             = "confirm"
	EventPrompt              = "prompt"
)

var eventNames = map[string]bool{
	EventInitialized:         true,
	EventLoadStarted:         true,
	EventLoadFinished:        true,
	EventResourceRequested:   true,
	EventResourceReceived:    true,
	EventURLChanged:          true,
	EventNavigationRequested: true,
	EventTabCreated:          true,
	EventTabClosed:           true,
	EventTimeout:             true,
	EventConsoleMessage:      true,
	EventError:               true,
	EventAlert:               true,
	EventConfirm:             true,
	EventPrompt:              true,
}

var dialogTypes = map[string]bool{
	EventAlert:   true,
	EventConfirm: true,
	EventPrompt:  true,
}

// setHandler replaces the handler of event. A nil handler removes it.
func (s *Session) setHandler(event string, h EventHandler) error {
	if !eventNames[event] {
		return &common.ValidationError{Field: "event", Reason: fmt.Sprintf("unknown event %q", event)}
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if h == nil {
		delete(s.handlers, event)
		return nil
	}
	s.handlers[event] = h
	return nil
}

// setResponder replaces the responder of a dialog type.
func (s *Session) setResponder(dialog string, r common.DialogHandler) error {
	if !dialogTypes[dialog] {
		return &common.ValidationError{Field: "dialog", Reason: fmt.Sprintf("unknown dialog type %q, use alert, confirm or prompt", dialog)}
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if r == nil {
		delete(s.responders, dialog)
		return nil
	}
	s.responders[dialog] = r
	return nil
}

func (s *Session) answerDialog(d common.Dialog) common.DialogResponse {
	s.mu.RLock()
	r := s.responders[d.Type]
	s.mu.RUnlock()

	if r == nil {
		return common.DialogResponse{Accept: true, PromptText: d.DefaultPrompt}
	}
	return r(d)
}

func (s *Session) fire(ev Event) {
	s.mu.RLock()
	h := s.handlers[ev.Name]
	s.mu.RUnlock()

	s.logger.Tracef("Session:fire", "event:%s tab:%d", ev.Name, ev.Tab)
	if h != nil {
		h(ev)
	}
}

func (s *Session) onTimeout(op string) {
	s.fire(Event{Name: EventTimeout, Tab: -1, Context: op})
}

// forwardPageEvents turns the events of p into session events.
func (s *Session) forwardPageEvents(p *common.Page) {
	common.Subscribe(s.ctx, p, func(e common.Event) {
		ev := Event{Name: e.Type(), Tab: s.tabIndex(p), Page: p}
		switch data := e.Data().(type) {
		case string:
			if e.Type() == common.EventPageLoadFinished {
				ev.Status = data
			} else {
				ev.URL = data
			}
		case common.ResourceRequest:
			ev.URL = data.URL
			ev.Request = &data
		case common.ResourceResponse:
			ev.URL = data.URL
			ev.Response = &data
		case common.NavigationRequest:
			ev.URL = data.URL
			ev.Type = data.Type
			ev.WillNavigate = data.WillNavigate
			ev.IsMain = data.IsMain
		case common.ConsoleMessage:
			ev.Type = data.Type
			ev.Message = data.Text
			ev.Args = data.Args
		case *common.EvaluationError:
			ev.Err = data
			ev.Message = data.Error()
		case common.Dialog:
			ev.Name = data.Type
			ev.Type = data.Type
			ev.URL = data.URL
			ev.Message = data.Message
		}
		s.fire(ev)
	},
		common.EventPageInitialized,
		common.EventPageLoadStarted,
		common.EventPageLoadFinished,
		common.EventPageResourceRequested,
		common.EventPageResourceReceived,
		common.EventPageURLChanged,
		common.EventPageNavigationRequested,
		common.EventPageConsoleMessage,
		common.EventPageError,
		common.EventPageDialog,
	)
}
