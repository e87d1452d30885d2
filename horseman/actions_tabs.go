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
	"fmt"

	"github.com/liuxd6825/horseman/common"
)

func init() {
	MustRegisterAction("tabCount", tabCount)
	MustRegisterAction("switchToTab", switchToTab)
	MustRegisterAction("openTab", openTab)
	MustRegisterAction("closeTab", closeTab)

	MustRegisterAction("frameName", frameName)
	MustRegisterAction("frameCount", frameCount)
	MustRegisterAction("frameNames", frameNames)
	MustRegisterAction("switchToFocusedFrame", switchToFocusedFrame)
	MustRegisterAction("switchToFrame", switchToFrame)
	MustRegisterAction("switchToMainFrame", switchToMainFrame)
	MustRegisterAction("switchToParentFrame", switchToParentFrame)
}

func tabCount(_ context.Context, s *Session, _ ...any) (any, error) {
	return len(s.Tabs()), nil
}

func (s *Session) tabAt(args []any) (*common.Page, int, error) {
	i, err := argInt(args, 0, "index")
	if err != nil {
		return nil, 0, err
	}
	tabs := s.Tabs()
	if i < 0 || i >= len(tabs) {
		return nil, i, fmt.Errorf("tab %d of %d: %w", i, len(tabs), common.ErrNoSuchTab)
	}
	return tabs[i], i, nil
}

func switchToTab(_ context.Context, s *Session, args ...any) (any, error) {
	_, i, err := s.tabAt(args)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.active = i
	s.mu.Unlock()
	return nil, nil
}

// openTab opens url in a new tab. The tab becomes active only with the
// SwitchToNewTab option.
func openTab(ctx context.Context, s *Session, args ...any) (any, error) {
	u, err := arg[string](args, 0, "url")
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	b := s.browser
	s.mu.RUnlock()
	if b == nil {
		return nil, common.ErrSessionClosed
	}

	p, err := b.NewPage(ctx)
	if err != nil {
		return nil, err
	}
	s.addTab(p, s.opts.SwitchToNewTab.Bool, true)
	s.setTarget(u)
	return nil, p.Navigate(ctx, u, common.NavigateOptions{}) //nolint:wrapcheck
}

func closeTab(ctx context.Context, s *Session, args ...any) (any, error) {
	p, _, err := s.tabAt(args)
	if err != nil {
		return nil, err
	}
	if err := p.Close(ctx); err != nil {
		return nil, err
	}
	s.removeTab(p)
	return nil, nil
}

func frameName(ctx context.Context, s *Session, _ ...any) (any, error) {
	p, err := s.page(ctx)
	if err != nil {
		return nil, err
	}
	return p.FrameName(), nil
}

func frameCount(ctx context.Context, s *Session, _ ...any) (any, error) {
	p, err := s.page(ctx)
	if err != nil {
		return nil, err
	}
	return p.FrameCount(), nil
}

func frameNames(ctx context.Context, s *Session, _ ...any) (any, error) {
	p, err := s.page(ctx)
	if err != nil {
		return nil, err
	}
	return p.FrameNames(), nil
}

func switchToFocusedFrame(ctx context.Context, s *Session, _ ...any) (any, error) {
	p, err := s.page(ctx)
	if err != nil {
		return nil, err
	}
	return p.SwitchToFocusedFrame(ctx)
}

func switchToFrame(ctx context.Context, s *Session, args ...any) (any, error) {
	if len(args) == 0 {
		return nil, argError("frame", "missing argument")
	}
	p, err := s.page(ctx)
	if err != nil {
		return nil, err
	}
	return nil, p.SwitchToFrame(args[0])
}

func switchToMainFrame(ctx context.Context, s *Session, _ ...any) (any, error) {
	p, err := s.page(ctx)
	if err != nil {
		return nil, err
	}
	p.SwitchToMainFrame()
	return nil, nil
}

func switchToParentFrame(ctx context.Context, s *Session, _ ...any) (any, error) {
	p, err := s.page(ctx)
	if err != nil {
		return nil, err
	}
	return p.SwitchToParentFrame(), nil
}
