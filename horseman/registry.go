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
	"sort"
	"strings"
	"sync"

	"github.com/serenize/snaker"

	"github.com/liuxd6825/horseman/common"
)

// ActionFunc implements an action. It has the session to itself:
// no other action of s runs concurrently.
type ActionFunc func(ctx context.Context, s *Session, args ...any) (any, error)

type registeredAction struct {
	name string
	fn   ActionFunc
}

var (
	registryMu sync.RWMutex
	registry   = make(map[string]registeredAction)
)

// actionKey folds the camel, snake and kebab spellings of a name
// together, so waitForSelector, wait_for_selector and wait-for-selector
// name the same action.
func actionKey(name string) string {
	return snaker.CamelToSnake(strings.ReplaceAll(strings.TrimSpace(name), "-", "_"))
}

// RegisterAction makes fn callable on every session and chain under name.
func RegisterAction(name string, fn ActionFunc) error {
	if strings.TrimSpace(name) == "" {
		return &common.ValidationError{Field: "name", Reason: "action name must not be empty"}
	}
	if fn == nil {
		return &common.ValidationError{Field: "fn", Reason: fmt.Sprintf("action %q has no implementation", name)}
	}
	key := actionKey(name)

	registryMu.Lock()
	defer registryMu.Unlock()

	if prev, ok := registry[key]; ok {
		return &common.ValidationError{Field: "name", Reason: fmt.Sprintf("action %q is already registered as %q", name, prev.name)}
	}
	registry[key] = registeredAction{name: name, fn: fn}
	return nil
}

// MustRegisterAction is like RegisterAction but panics on error.
func MustRegisterAction(name string, fn ActionFunc) {
	if err := RegisterAction(name, fn); err != nil {
		panic(err)
	}
}

// RegisteredActions returns the sorted names of every registered action,
// spelled as they were registered.
func RegisteredActions() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	names := make([]string, 0, len(registry))
	for _, a := range registry {
		names = append(names, a.name)
	}
	sort.Strings(names)
	return names
}

func lookupAction(name string) (ActionFunc, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()

	a, ok := registry[actionKey(name)]
	if !ok {
		return nil, &common.ValidationError{Field: "action", Reason: fmt.Sprintf("unknown action %q", name)}
	}
	return a.fn, nil
}
