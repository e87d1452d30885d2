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
package chromium

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liuxd6825/horseman/common"
	"github.com/liuxd6825/horseman/log"
)

func TestPrepareFlags(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		opts   LaunchOptions
		assert func(t *testing.T, flags map[string]any)
	}{
		{
			name: "headless defaults",
			opts: LaunchOptions{Headless: true, LoadImages: true},
			assert: func(t *testing.T, flags map[string]any) {
				assert.Equal(t, true, flags["headless"])
				assert.Equal(t, true, flags["no-first-run"])
				assert.Equal(t, true, flags["hide-scrollbars"])
				assert.NotContains(t, flags, "blink-settings")
				assert.NotContains(t, flags, "proxy-server")
				assert.NotContains(t, flags, "ignore-certificate-errors")
			},
		},
		{
			name: "headful",
			opts: LaunchOptions{LoadImages: true},
			assert: func(t *testing.T, flags map[string]any) {
				assert.Equal(t, false, flags["headless"])
				assert.NotContains(t, flags, "hide-scrollbars")
			},
		},
		{
			name: "images proxy and ssl",
			opts: LaunchOptions{Proxy: "127.0.0.1:3128", IgnoreSSLErrors: true},
			assert: func(t *testing.T, flags map[string]any) {
				assert.Equal(t, "imagesEnabled=false", flags["blink-settings"])
				assert.Equal(t, "127.0.0.1:3128", flags["proxy-server"])
				assert.Equal(t, true, flags["ignore-certificate-errors"])
			},
		},
		{
			name: "args override defaults",
			opts: LaunchOptions{Args: []string{"window-size=1024,768", "--lang='fr'", "disable-gpu", " "}},
			assert: func(t *testing.T, flags map[string]any) {
				assert.Equal(t, "1024,768", flags["window-size"])
				assert.Equal(t, "fr", flags["lang"])
				assert.Equal(t, true, flags["disable-gpu"])
				assert.NotContains(t, flags, "")
			},
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			tt.assert(t, prepareFlags(tt.opts))
		})
	}
}

func TestParseArgs(t *testing.T) {
	t.Parallel()

	t.Run("defaults", func(t *testing.T) {
		t.Parallel()

		args, err := parseArgs(map[string]any{"headless": true, "mute-audio": false, "lang": "en"}, false)
		require.NoError(t, err)
		assert.Equal(t, []string{"--headless", "--lang=en", "--remote-debugging-port=0"}, args)
	})
	t.Run("root disables the sandbox", func(t *testing.T) {
		t.Parallel()

		args, err := parseArgs(map[string]any{}, true)
		require.NoError(t, err)
		assert.Equal(t, []string{"--no-sandbox", "--remote-debugging-port=0"}, args)

		args, err = parseArgs(map[string]any{"no-sandbox": false}, true)
		require.NoError(t, err)
		assert.Equal(t, []string{"--remote-debugging-port=0"}, args)
	})
	t.Run("explicit debugging port", func(t *testing.T) {
		t.Parallel()

		args, err := parseArgs(map[string]any{"remote-debugging-port": "9222"}, false)
		require.NoError(t, err)
		assert.Equal(t, []string{"--remote-debugging-port=9222"}, args)
	})
	t.Run("invalid value", func(t *testing.T) {
		t.Parallel()

		_, err := parseArgs(map[string]any{"window-size": 800}, false)
		require.Error(t, err)
	})
}

func TestLauncherExecutablePath(t *testing.T) {
	t.Parallel()

	l := NewLauncher(afero.NewMemMapFs())
	l.lookPath = func(file string) (string, error) {
		if file == "google-chrome" {
			return "/usr/bin/google-chrome", nil
		}
		return "", errors.New("not found")
	}
	assert.Equal(t, "google-chrome", l.ExecutablePath())

	l.lookPath = func(string) (string, error) { return "", errors.New("not found") }
	assert.Empty(t, l.ExecutablePath())
}

func TestLauncherMissingExecutable(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	l := NewLauncher(fs)
	l.lookPath = func(string) (string, error) { return "", errors.New("not found") }

	_, err := l.Launch(context.Background(), LaunchOptions{}, log.NewNullLogger())
	require.ErrorIs(t, err, ErrExecutableNotFound)
	assert.True(t, common.IsTransport(err))
}

func TestLauncherStartFailureRemovesDataDir(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	l := NewLauncher(fs)

	_, err := l.Launch(context.Background(), LaunchOptions{
		ExecutablePath: "/nonexistent/horseman-chromium",
	}, log.NewNullLogger())
	require.Error(t, err)
	assert.True(t, common.IsTransport(err))

	dirs, err := afero.Glob(fs, filepath.Join(os.TempDir(), "horseman-chromium-*"))
	require.NoError(t, err)
	assert.Empty(t, dirs)
}
