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
	"os"
	"strings"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/guregu/null.v3"

	"github.com/liuxd6825/horseman/chromium"
	"github.com/liuxd6825/horseman/log"
	"github.com/liuxd6825/horseman/tests/ws"
)

// skipIfNoBrowser skips tests driving a real Chromium when none is
// installed or HORSEMAN_SKIP_BROWSER_TESTS is set.
func skipIfNoBrowser(t *testing.T) string {
	t.Helper()

	if os.Getenv("HORSEMAN_SKIP_BROWSER_TESTS") != "" {
		t.Skip("browser tests disabled")
	}
	path := os.Getenv("HORSEMAN_EXECUTABLE_PATH")
	if path == "" {
		path = chromium.NewLauncher(afero.NewOsFs()).ExecutablePath()
	}
	if path == "" {
		t.Skip("no Chromium executable found")
	}
	return path
}

func TestSessionRealBrowser(t *testing.T) {
	t.Parallel()
	path := skipIfNoBrowser(t)

	srv := ws.NewServer(t)

	s := NewSession(context.Background(), Options{
		ExecutablePath: null.StringFrom(path),
		Timeout:        null.IntFrom(10000),
	}, WithLogger(log.NewNullLogger()))
	t.Cleanup(func() { _ = s.Close() })

	v, err := s.Open(srv.HTTPURL("/html")).Status().Result()
	require.NoError(t, err)
	assert.Equal(t, int64(200), v)

	v, err = s.Text("h1").Result()
	require.NoError(t, err)
	assert.Contains(t, v, "Moby-Dick")

	v, err = s.Exists("h1").Result()
	require.NoError(t, err)
	assert.Equal(t, true, v)

	v, err = s.Evaluate(`function (a, b) { return a * b; }`, 6, 7).Result()
	require.NoError(t, err)
	assert.EqualValues(t, 42, v)

	v, err = s.Evaluate(`function (done) { setTimeout(function () { done(null, 'later'); }, 10); }`).Result()
	require.NoError(t, err)
	assert.Equal(t, "later", v)

	v, err = s.Open(srv.HTTPURL("/status/404")).Status().Result()
	require.NoError(t, err)
	assert.Equal(t, int64(404), v)

	v, err = s.Back().URL().Result()
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(v.(string), "/html"))

	v, err = s.PlainText().Result()
	require.NoError(t, err)
	assert.Contains(t, v, "Herman Melville")

	require.NoError(t, s.Close())
}
