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
	"sync"
	"time"
)

// TimeoutSettings holds the timeouts shared by the pages of a browser.
// A zero duration is unset and resolves to the next fallback: the
// navigation timeout falls back to the default timeout, which falls back
// to DefaultTimeout.
type TimeoutSettings struct {
	mu         sync.RWMutex
	timeout    time.Duration
	navigation time.Duration
}

// NewTimeoutSettings returns settings with the given timeouts.
func NewTimeoutSettings(timeout, navigation time.Duration) *TimeoutSettings {
	t := &TimeoutSettings{}
	t.SetDefaultTimeout(timeout)
	t.SetDefaultNavigationTimeout(navigation)
	return t
}

// SetDefaultTimeout sets the timeout of waits and evaluations.
func (t *TimeoutSettings) SetDefaultTimeout(timeout time.Duration) {
	t.mu.Lock()
	t.timeout = max(timeout, 0)
	t.mu.Unlock()
}

// SetDefaultNavigationTimeout sets the timeout of a single page load.
func (t *TimeoutSettings) SetDefaultNavigationTimeout(timeout time.Duration) {
	t.mu.Lock()
	t.navigation = max(timeout, 0)
	t.mu.Unlock()
}

// Timeout returns the timeout of waits and evaluations.
func (t *TimeoutSettings) Timeout() time.Duration {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return firstPositive(t.timeout, DefaultTimeout)
}

// NavigationTimeout returns the timeout of a single page load.
func (t *TimeoutSettings) NavigationTimeout() time.Duration {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return firstPositive(t.navigation, t.timeout, DefaultTimeout)
}

func firstPositive(ds ...time.Duration) time.Duration {
	for _, d := range ds {
		if d > 0 {
			return d
		}
	}
	return 0
}
