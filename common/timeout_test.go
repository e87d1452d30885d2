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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTimeoutSettings(t *testing.T) {
	t.Parallel()

	t.Run("defaults", func(t *testing.T) {
		t.Parallel()

		ts := NewTimeoutSettings(0, 0)
		assert.Equal(t, DefaultTimeout, ts.Timeout())
		assert.Equal(t, DefaultTimeout, ts.NavigationTimeout())
	})
	t.Run("navigation falls back to the timeout", func(t *testing.T) {
		t.Parallel()

		ts := NewTimeoutSettings(time.Second, 0)
		assert.Equal(t, time.Second, ts.Timeout())
		assert.Equal(t, time.Second, ts.NavigationTimeout())

		ts.SetDefaultNavigationTimeout(100 * time.Millisecond)
		assert.Equal(t, 100*time.Millisecond, ts.NavigationTimeout())
		assert.Equal(t, time.Second, ts.Timeout())

		ts.SetDefaultNavigationTimeout(0)
		assert.Equal(t, time.Second, ts.NavigationTimeout())
	})
	t.Run("negative is unset", func(t *testing.T) {
		t.Parallel()

		ts := NewTimeoutSettings(-time.Second, -time.Second)
		assert.Equal(t, DefaultTimeout, ts.Timeout())
		assert.Equal(t, DefaultTimeout, ts.NavigationTimeout())
	})
}
