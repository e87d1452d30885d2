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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liuxd6825/horseman/common"
)

func TestRegisterAction(t *testing.T) {
	t.Parallel()

	noop := func(context.Context, *Session, ...any) (any, error) { return nil, nil }
	var verr *common.ValidationError

	require.NoError(t, RegisterAction("registryTestNoop", noop))
	assert.Contains(t, RegisteredActions(), "registryTestNoop")

	err := RegisterAction("registryTestNoop", noop)
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Reason, "already registered")
	require.ErrorAs(t, RegisterAction("registry_test_noop", noop), &verr, "spellings of one name collide")

	require.ErrorAs(t, RegisterAction("", noop), &verr)
	require.ErrorAs(t, RegisterAction("registryTestNil", nil), &verr)

	assert.Panics(t, func() { MustRegisterAction("open", noop) })
}

func TestBuiltinActionsRegistered(t *testing.T) {
	t.Parallel()

	names := RegisteredActions()
	for _, name := range []string{
		"open", "post", "put", "back", "forward", "reload", "status", "url", "title",
		"userAgent", "headers", "authentication", "viewport", "zoom", "scrollTo",
		"cookies", "setCookies", "addCookie",
		"screenshot", "screenshotBase64", "crop", "cropBase64", "pdf",
		"injectJs", "includeJs", "evaluate", "evaluateWith",
		"click", "select", "keyboardEvent", "mouseEvent", "type", "clear", "upload", "download",
		"boundingRectangle", "count", "exists", "html", "text", "plainText", "attribute",
		"cssProperty", "width", "height", "value", "visible", "log",
		"tabCount", "switchToTab", "openTab", "closeTab",
		"frameName", "frameCount", "frameNames", "switchToFocusedFrame", "switchToFrame",
		"switchToMainFrame", "switchToParentFrame",
		"on", "at", "wait", "waitForNextPage", "waitForSelector", "waitFor",
	} {
		assert.Contains(t, names, name)
	}
	assert.IsIncreasing(t, names)
}

func TestLookupUnknownAction(t *testing.T) {
	t.Parallel()

	_, err := lookupAction("noSuchAction")
	var verr *common.ValidationError
	require.ErrorAs(t, err, &verr)
}

func TestLookupActionSpellings(t *testing.T) {
	t.Parallel()

	for _, name := range []string{"waitForSelector", "wait_for_selector", "wait-for-selector", " setCookies", "set-cookies"} {
		_, err := lookupAction(name)
		assert.NoError(t, err, name)
	}
}
