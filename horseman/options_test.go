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
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/guregu/null.v3"

	"github.com/liuxd6825/horseman/common"
)

func TestOptionsDefaults(t *testing.T) {
	t.Parallel()

	opts := DefaultOptions()
	require.NoError(t, opts.Validate())
	assert.Equal(t, common.DefaultTimeout, opts.timeout())
	assert.Equal(t, common.DefaultInterval, opts.interval())
	assert.Equal(t, opts.timeout(), opts.navigationTimeout())
	assert.True(t, opts.InjectHelperLibrary.Bool)
	assert.True(t, opts.LoadImages.Bool)
	assert.True(t, opts.Headless.Bool)
	assert.False(t, opts.SwitchToNewTab.Bool)
	assert.False(t, opts.Timeout.Valid, "defaults must not count as set")
}

func TestOptionsApply(t *testing.T) {
	t.Parallel()

	base := DefaultOptions()
	got := base.Apply(Options{
		Timeout:       null.IntFrom(1000),
		ClientScripts: []string{"a.js"},
		Proxy:         null.StringFrom("localhost:3128"),
	})
	assert.Equal(t, int64(1000), got.Timeout.Int64)
	assert.Equal(t, base.Interval, got.Interval)
	assert.Equal(t, []string{"a.js"}, got.ClientScripts)
	assert.Equal(t, "localhost:3128", got.Proxy.String)
	assert.True(t, got.Headless.Bool)

	// An explicit false overrides a true default.
	got = got.Apply(Options{Headless: null.BoolFrom(false)})
	assert.False(t, got.Headless.Bool)
	assert.True(t, got.Headless.Valid)
}

func TestOptionsNavigationTimeout(t *testing.T) {
	t.Parallel()

	opts := DefaultOptions().Apply(Options{
		Timeout:                  null.IntFrom(1000),
		NavigationTimeoutPerPage: null.IntFrom(250),
	})
	assert.Equal(t, 250*time.Millisecond, opts.navigationTimeout())
	assert.Equal(t, time.Second, opts.timeout())
}

func TestOptionsValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		opts  Options
		field string
	}{
		{"zero timeout", Options{Timeout: null.IntFrom(0)}, "timeout"},
		{"negative interval", Options{Interval: null.IntFrom(-1)}, "interval"},
		{"interval above timeout", Options{Timeout: null.IntFrom(100), Interval: null.IntFrom(200)}, "interval"},
		{"negative navigation timeout", Options{NavigationTimeoutPerPage: null.IntFrom(-5)}, "navigationTimeoutPerPage"},
		{"negative launch timeout", Options{LaunchTimeout: null.IntFrom(-5)}, "launchTimeout"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			err := DefaultOptions().Apply(tt.opts).Validate()
			var verr *common.ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.field, verr.Field)
		})
	}
}

func TestOptionsFromEnv(t *testing.T) {
	t.Parallel()

	opts, err := OptionsFromEnv(map[string]string{
		"HORSEMAN_TIMEOUT":           "2500",
		"HORSEMAN_SWITCH_TO_NEW_TAB": "true",
		"HORSEMAN_PROXY":             "proxy.test:8080",
		"HORSEMAN_ARGS":              "--lang=de,--mute-audio",
		"UNRELATED":                  "1",
	})
	require.NoError(t, err)
	assert.Equal(t, null.IntFrom(2500), opts.Timeout)
	assert.Equal(t, null.BoolFrom(true), opts.SwitchToNewTab)
	assert.Equal(t, null.StringFrom("proxy.test:8080"), opts.Proxy)
	assert.Equal(t, []string{"--lang=de", "--mute-audio"}, opts.Args)
	assert.False(t, opts.Interval.Valid)
	assert.False(t, opts.Headless.Valid)

	_, err = OptionsFromEnv(map[string]string{"HORSEMAN_TIMEOUT": "soon"})
	assert.Error(t, err)
}

func TestLoadOptionsFile(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/etc/horseman.yaml", []byte(`
timeout: 3000
loadImages: false
userAgent: horseman-test
clientScripts:
  - /scripts/jquery.js
`), 0o644))

	opts, err := LoadOptionsFile(fs, "/etc/horseman.yaml")
	require.NoError(t, err)
	assert.Equal(t, null.IntFrom(3000), opts.Timeout)
	assert.Equal(t, null.BoolFrom(false), opts.LoadImages)
	assert.Equal(t, null.StringFrom("horseman-test"), opts.UserAgent)
	assert.Equal(t, []string{"/scripts/jquery.js"}, opts.ClientScripts)
	assert.False(t, opts.Interval.Valid)

	// Layers: defaults, then file.
	eff := DefaultOptions().Apply(opts)
	assert.Equal(t, common.DefaultInterval, eff.interval())
	assert.Equal(t, 3*time.Second, eff.timeout())

	_, err = LoadOptionsFile(fs, "/missing.yaml")
	assert.Error(t, err)

	require.NoError(t, afero.WriteFile(fs, "/bad.yaml", []byte("timeout: [1"), 0o644))
	_, err = LoadOptionsFile(fs, "/bad.yaml")
	assert.Error(t, err)
}
