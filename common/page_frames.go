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
package common

import (
	"context"
	"fmt"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/dom"
)

// FrameName returns the name of the current frame.
func (p *Page) FrameName() string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if f, ok := p.frames[p.curFrame]; ok {
		return f.name
	}
	return ""
}

// FrameCount returns the number of child frames of the current frame.
func (p *Page) FrameCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if f, ok := p.frames[p.curFrame]; ok {
		return len(f.children)
	}
	return 0
}

// FrameNames returns the names of the child frames of the current frame.
func (p *Page) FrameNames() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	f, ok := p.frames[p.curFrame]
	if !ok {
		return nil
	}
	names := make([]string, 0, len(f.children))
	for _, id := range f.children {
		if c, ok := p.frames[id]; ok {
			names = append(names, c.name)
		}
	}
	return names
}

// SwitchToFrame makes a child frame of the current frame current.
// nameOrIndex is either the frame name or its position among the
// children of the current frame.
func (p *Page) SwitchToFrame(nameOrIndex any) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	f, ok := p.frames[p.curFrame]
	if !ok {
		return ErrNoSuchFrame
	}
	switch v := nameOrIndex.(type) {
	case string:
		for _, id := range f.children {
			if c, ok := p.frames[id]; ok && c.name == v {
				p.curFrame = id
				return nil
			}
		}
	case int, int32, int64, float64:
		i, err := toInt(v)
		if err != nil {
			return err
		}
		if i >= 0 && i < len(f.children) {
			p.curFrame = f.children[i]
			return nil
		}
	default:
		return &ValidationError{Field: "frame", Reason: fmt.Sprintf("unsupported frame reference %T", nameOrIndex)}
	}
	return fmt.Errorf("switching to frame %v: %w", nameOrIndex, ErrNoSuchFrame)
}

// SwitchToMainFrame makes the main frame current.
func (p *Page) SwitchToMainFrame() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.curFrame = p.mainFrame
}

// SwitchToParentFrame makes the parent of the current frame current.
// It reports false when the current frame is the main frame.
func (p *Page) SwitchToParentFrame() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	f, ok := p.frames[p.curFrame]
	if !ok || f.parentID == "" {
		return false
	}
	p.curFrame = f.parentID
	return true
}

// SwitchToFocusedFrame makes the frame owning the focused element
// current. It reports false when the focused element is not a frame.
func (p *Page) SwitchToFocusedFrame(ctx context.Context) (bool, error) {
	id, err := p.evaluator.EvaluateHandle(ctx, `function () { return document.activeElement; }`)
	if err != nil {
		return false, err
	}
	if id == "" {
		return false, nil
	}
	node, err := dom.DescribeNode().WithObjectID(id).Do(cdp.WithExecutor(ctx, p.session))
	if err != nil {
		return false, wrapProtocolError("describing focused element", err)
	}
	if node.FrameID == "" {
		return false, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.frames[node.FrameID]; !ok {
		return false, nil
	}
	p.curFrame = node.FrameID
	return true, nil
}

func toInt(v any) (int, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case int32:
		return int(n), nil
	case int64:
		return int(n), nil
	case float64:
		if n != float64(int(n)) {
			return 0, &ValidationError{Field: "index", Reason: fmt.Sprintf("%v is not an integer", n)}
		}
		return int(n), nil
	}
	return 0, &ValidationError{Field: "index", Reason: fmt.Sprintf("unsupported index %T", v)}
}
