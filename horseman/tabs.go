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
	"context"
	"strings"

	"github.com/liuxd6825/horseman/common"
)

// ActivePage returns the page actions run against, nil when there is
// none.
func (s *Session) ActivePage() *common.Page {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.active < 0 || s.active >= len(s.tabs) {
		return nil
	}
	return s.tabs[s.active]
}

// Tabs returns the open pages in creation order.
func (s *Session) Tabs() []*common.Page {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]*common.Page(nil), s.tabs...)
}

func (s *Session) tabIndex(p *common.Page) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for i, t := range s.tabs {
		if t == p {
			return i
		}
	}
	return -1
}

func (s *Session) addTab(p *common.Page, activate, notify bool) int {
	s.mu.Lock()
	s.tabs = append(s.tabs, p)
	idx := len(s.tabs) - 1
	if activate || s.active < 0 {
		s.active = idx
	}
	s.mu.Unlock()

	s.logger.Debugf("Session:addTab", "tab:%d tid:%v active:%t", idx, p.TargetID(), activate)
	p.SetDialogHandler(s.answerDialog)
	s.forwardPageEvents(p)
	if notify {
		s.fire(Event{Name: EventTabCreated, Tab: idx, Page: p})
	}
	// A page closing while it was being added missed removeTab.
	if p.State() == common.StateClosed {
		s.removeTab(p)
	}
	return idx
}

// removeTab forgets p. When p was active the previous tab becomes
// active.
func (s *Session) removeTab(p *common.Page) {
	s.mu.Lock()
	idx := -1
	for i, t := range s.tabs {
		if t == p {
			idx = i
			break
		}
	}
	if idx < 0 {
		s.mu.Unlock()
		return
	}
	s.tabs = append(s.tabs[:idx], s.tabs[idx+1:]...)
	switch {
	case len(s.tabs) == 0:
		s.active = -1
	case s.active > idx:
		s.active--
	case s.active == idx && idx > 0:
		s.active = idx - 1
	}
	s.mu.Unlock()

	s.logger.Debugf("Session:removeTab", "tab:%d tid:%v", idx, p.TargetID())
	s.fire(Event{Name: EventTabClosed, Tab: idx, Page: p})
}

// onPopup adopts pages opened by a page of the session.
func (s *Session) onPopup(p *common.Page) {
	if s.tabIndex(p) >= 0 {
		return
	}
	s.addTab(p, s.opts.SwitchToNewTab.Bool, true)
}

// page returns the active page once its current load has settled.
// A failed load leaves the page usable.
func (s *Session) page(ctx context.Context) (*common.Page, error) {
	p := s.ActivePage()
	if p == nil {
		return nil, common.ErrNoActivePage
	}
	if err := p.WaitReady(ctx); err != nil && p.State() != common.StateFailed {
		return nil, err
	}
	return p, nil
}

func (s *Session) recordStatus(url string, status int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.responses[url] = status
}

func (s *Session) setTarget(url string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.targetURL = url
}

// status returns the status of the last requested URL. The engine may
// report the response under the URL with a trailing slash.
func (s *Session) status() (int64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if st, ok := s.responses[s.targetURL]; ok {
		return st, true
	}
	if !strings.HasSuffix(s.targetURL, "/") {
		if st, ok := s.responses[s.targetURL+"/"]; ok {
			return st, true
		}
	}
	return 0, false
}
