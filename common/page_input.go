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
	"strings"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/cdproto/input"
	cdpruntime "github.com/chromedp/cdproto/runtime"
)

type keyDefinition struct {
	code    string
	keyCode int64
	text    string
}

var keyDefinitions = map[string]keyDefinition{
	"Backspace":  {code: "Backspace", keyCode: 8},
	"Tab":        {code: "Tab", keyCode: 9, text: "\t"},
	"Enter":      {code: "Enter", keyCode: 13, text: "\r"},
	"Escape":     {code: "Escape", keyCode: 27},
	"Space":      {code: "Space", keyCode: 32, text: " "},
	"PageUp":     {code: "PageUp", keyCode: 33},
	"PageDown":   {code: "PageDown", keyCode: 34},
	"End":        {code: "End", keyCode: 35},
	"Home":       {code: "Home", keyCode: 36},
	"ArrowLeft":  {code: "ArrowLeft", keyCode: 37},
	"ArrowUp":    {code: "ArrowUp", keyCode: 38},
	"ArrowRight": {code: "ArrowRight", keyCode: 39},
	"ArrowDown":  {code: "ArrowDown", keyCode: 40},
	"Delete":     {code: "Delete", keyCode: 46},
}

// ParseModifiers parses modifiers written as "ctrl+shift+alt+meta".
// keypad is accepted and reported separately since it is a key location
// rather than a modifier.
func ParseModifiers(s string) (mods input.Modifier, keypad bool, err error) {
	if s == "" {
		return input.ModifierNone, false, nil
	}
	for _, m := range strings.Split(s, "+") {
		switch strings.ToLower(strings.TrimSpace(m)) {
		case "ctrl", "control":
			mods |= input.ModifierCtrl
		case "shift":
			mods |= input.ModifierShift
		case "alt":
			mods |= input.ModifierAlt
		case "meta":
			mods |= input.ModifierMeta
		case "keypad":
			keypad = true
		case "":
		default:
			return 0, false, &ValidationError{Field: "modifiers", Reason: fmt.Sprintf("unknown modifier %q", m)}
		}
	}
	return mods, keypad, nil
}

// KeyEvent dispatches a keyboard event. eventType is keypress, keydown
// or keyup.
func (p *Page) KeyEvent(ctx context.Context, eventType, key string, modifiers string) error {
	mods, keypad, err := ParseModifiers(modifiers)
	if err != nil {
		return err
	}
	def, named := keyDefinitions[key]
	if !named {
		def = keyDefinition{text: key}
		if len([]rune(key)) == 1 {
			r := []rune(strings.ToUpper(key))[0]
			if r >= 'A' && r <= 'Z' {
				def.code = "Key" + string(r)
				def.keyCode = int64(r)
			}
			if r >= '0' && r <= '9' {
				def.code = "Digit" + string(r)
				def.keyCode = int64(r)
			}
		}
	}

	event := func(typ input.KeyType, text string) *input.DispatchKeyEventParams {
		action := input.DispatchKeyEvent(typ).
			WithKey(key).
			WithModifiers(mods).
			WithIsKeypad(keypad)
		if def.code != "" {
			action = action.WithCode(def.code).WithWindowsVirtualKeyCode(def.keyCode)
		}
		if text != "" && mods&(input.ModifierCtrl|input.ModifierMeta|input.ModifierAlt) == 0 {
			action = action.WithText(text).WithUnmodifiedText(text)
		}
		return action
	}

	exec := cdp.WithExecutor(ctx, p.session)
	switch strings.ToLower(eventType) {
	case "keydown":
		err = event(input.KeyDown, def.text).Do(exec)
	case "keyup":
		err = event(input.KeyUp, "").Do(exec)
	case "", "keypress":
		if err = event(input.KeyDown, def.text).Do(exec); err == nil {
			err = event(input.KeyUp, "").Do(exec)
		}
	default:
		return &ValidationError{Field: "eventType", Reason: fmt.Sprintf("unsupported keyboard event %q", eventType)}
	}
	if err != nil {
		return wrapProtocolError("dispatching key event", err)
	}
	return nil
}

// MouseEvent dispatches a mouse event at x, y. eventType is click,
// doubleclick, mousedown, mouseup or mousemove.
func (p *Page) MouseEvent(ctx context.Context, eventType string, x, y float64, button string) error {
	var btn input.MouseButton
	switch strings.ToLower(button) {
	case "", "left":
		btn = input.Left
	case "middle":
		btn = input.Middle
	case "right":
		btn = input.Right
	default:
		return &ValidationError{Field: "button", Reason: fmt.Sprintf("unsupported mouse button %q", button)}
	}

	exec := cdp.WithExecutor(ctx, p.session)
	press := func(typ input.MouseType, count int64) error {
		return input.DispatchMouseEvent(typ, x, y).
			WithButton(btn).
			WithClickCount(count).
			Do(exec)
	}
	click := func(count int64) error {
		if err := press(input.MousePressed, count); err != nil {
			return err
		}
		return press(input.MouseReleased, count)
	}

	var err error
	switch strings.ToLower(eventType) {
	case "", "click":
		err = click(1)
	case "doubleclick":
		if err = click(1); err == nil {
			err = click(2)
		}
	case "mousedown":
		err = press(input.MousePressed, 1)
	case "mouseup":
		err = press(input.MouseReleased, 1)
	case "mousemove":
		err = input.DispatchMouseEvent(input.MouseMoved, x, y).Do(exec)
	default:
		return &ValidationError{Field: "eventType", Reason: fmt.Sprintf("unsupported mouse event %q", eventType)}
	}
	if err != nil {
		return wrapProtocolError("dispatching mouse event", err)
	}
	return nil
}

// InsertText inserts text into the focused element as if typed.
func (p *Page) InsertText(ctx context.Context, text string) error {
	if err := input.InsertText(text).Do(cdp.WithExecutor(ctx, p.session)); err != nil {
		return wrapProtocolError("inserting text", err)
	}
	return nil
}

// SetInputFiles sets the files of the file input identified by id.
func (p *Page) SetInputFiles(ctx context.Context, id cdpruntime.RemoteObjectID, files []string) error {
	action := dom.SetFileInputFiles(files).WithObjectID(id)
	if err := action.Do(cdp.WithExecutor(ctx, p.session)); err != nil {
		return wrapProtocolError("setting input files", err)
	}
	return nil
}
