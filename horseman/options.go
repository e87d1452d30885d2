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
	"encoding/json"
	"fmt"
	"time"

	"github.com/mstoykov/envconfig"
	"github.com/spf13/afero"
	"gopkg.in/guregu/null.v3"
	"gopkg.in/yaml.v3"

	"github.com/liuxd6825/horseman/common"
)

// Options configures a Session. Every field is nullable so that a layer
// only overrides the values it actually sets. Durations are in
// milliseconds.
type Options struct {
	Timeout                  null.Int    `json:"timeout" envconfig:"HORSEMAN_TIMEOUT"`
	Interval                 null.Int    `json:"interval" envconfig:"HORSEMAN_INTERVAL"`
	InjectHelperLibrary      null.Bool   `json:"injectHelperLibrary" envconfig:"HORSEMAN_INJECT_HELPER_LIBRARY"`
	SwitchToNewTab           null.Bool   `json:"switchToNewTab" envconfig:"HORSEMAN_SWITCH_TO_NEW_TAB"`
	NavigationTimeoutPerPage null.Int    `json:"navigationTimeoutPerPage" envconfig:"HORSEMAN_NAVIGATION_TIMEOUT_PER_PAGE"`
	ClientScripts            []string    `json:"clientScripts" envconfig:"HORSEMAN_CLIENT_SCRIPTS"`
	LoadImages               null.Bool   `json:"loadImages" envconfig:"HORSEMAN_LOAD_IMAGES"`
	IgnoreSSLErrors          null.Bool   `json:"ignoreSSLErrors" envconfig:"HORSEMAN_IGNORE_SSL_ERRORS"`
	Proxy                    null.String `json:"proxy" envconfig:"HORSEMAN_PROXY"`
	UserAgent                null.String `json:"userAgent" envconfig:"HORSEMAN_USER_AGENT"`
	Headless                 null.Bool   `json:"headless" envconfig:"HORSEMAN_HEADLESS"`
	ExecutablePath           null.String `json:"executablePath" envconfig:"HORSEMAN_EXECUTABLE_PATH"`
	Args                     []string    `json:"args" envconfig:"HORSEMAN_ARGS"`
	Debug                    null.Bool   `json:"debug" envconfig:"HORSEMAN_DEBUG"`
	LogCategoryFilter        null.String `json:"logCategoryFilter" envconfig:"HORSEMAN_LOG_CATEGORY_FILTER"`
	LaunchTimeout            null.Int    `json:"launchTimeout" envconfig:"HORSEMAN_LAUNCH_TIMEOUT"`
	// WSEndpoint connects to a running browser instead of launching one.
	WSEndpoint null.String `json:"wsEndpoint" envconfig:"HORSEMAN_WS_ENDPOINT"`
}

// DefaultOptions returns the options every other layer is applied to.
func DefaultOptions() Options {
	return Options{
		Timeout:                  null.NewInt(common.DefaultTimeout.Milliseconds(), false),
		Interval:                 null.NewInt(common.DefaultInterval.Milliseconds(), false),
		InjectHelperLibrary:      null.NewBool(true, false),
		SwitchToNewTab:           null.NewBool(false, false),
		NavigationTimeoutPerPage: null.NewInt(0, false),
		LoadImages:               null.NewBool(true, false),
		IgnoreSSLErrors:          null.NewBool(false, false),
		Headless:                 null.NewBool(true, false),
		Debug:                    null.NewBool(false, false),
		LaunchTimeout:            null.NewInt(common.DefaultLaunchTimeout.Milliseconds(), false),
	}
}

// Apply returns o overridden by every value set in opts.
func (o Options) Apply(opts Options) Options {
	if opts.Timeout.Valid {
		o.Timeout = opts.Timeout
	}
	if opts.Interval.Valid {
		o.Interval = opts.Interval
	}
	if opts.InjectHelperLibrary.Valid {
		o.InjectHelperLibrary = opts.InjectHelperLibrary
	}
	if opts.SwitchToNewTab.Valid {
		o.SwitchToNewTab = opts.SwitchToNewTab
	}
	if opts.NavigationTimeoutPerPage.Valid {
		o.NavigationTimeoutPerPage = opts.NavigationTimeoutPerPage
	}
	if opts.ClientScripts != nil {
		o.ClientScripts = opts.ClientScripts
	}
	if opts.LoadImages.Valid {
		o.LoadImages = opts.LoadImages
	}
	if opts.IgnoreSSLErrors.Valid {
		o.IgnoreSSLErrors = opts.IgnoreSSLErrors
	}
	if opts.Proxy.Valid {
		o.Proxy = opts.Proxy
	}
	if opts.UserAgent.Valid {
		o.UserAgent = opts.UserAgent
	}
	if opts.Headless.Valid {
		o.Headless = opts.Headless
	}
	if opts.ExecutablePath.Valid {
		o.ExecutablePath = opts.ExecutablePath
	}
	if opts.Args != nil {
		o.Args = opts.Args
	}
	if opts.Debug.Valid {
		o.Debug = opts.Debug
	}
	if opts.LogCategoryFilter.Valid {
		o.LogCategoryFilter = opts.LogCategoryFilter
	}
	if opts.LaunchTimeout.Valid {
		o.LaunchTimeout = opts.LaunchTimeout
	}
	if opts.WSEndpoint.Valid {
		o.WSEndpoint = opts.WSEndpoint
	}
	return o
}

// Validate checks the option values.
func (o Options) Validate() error {
	if o.Timeout.Int64 <= 0 {
		return &common.ValidationError{Field: "timeout", Reason: "must be positive"}
	}
	if o.Interval.Int64 <= 0 {
		return &common.ValidationError{Field: "interval", Reason: "must be positive"}
	}
	if o.Interval.Int64 > o.Timeout.Int64 {
		return &common.ValidationError{
			Field:  "interval",
			Reason: fmt.Sprintf("%d ms is larger than the timeout of %d ms", o.Interval.Int64, o.Timeout.Int64),
		}
	}
	if o.NavigationTimeoutPerPage.Int64 < 0 {
		return &common.ValidationError{Field: "navigationTimeoutPerPage", Reason: "must not be negative"}
	}
	if o.LaunchTimeout.Int64 < 0 {
		return &common.ValidationError{Field: "launchTimeout", Reason: "must not be negative"}
	}
	return nil
}

func (o Options) timeout() time.Duration {
	return time.Duration(o.Timeout.Int64) * time.Millisecond
}

func (o Options) interval() time.Duration {
	return time.Duration(o.Interval.Int64) * time.Millisecond
}

func (o Options) navigationTimeout() time.Duration {
	if o.NavigationTimeoutPerPage.Int64 > 0 {
		return time.Duration(o.NavigationTimeoutPerPage.Int64) * time.Millisecond
	}
	return o.timeout()
}

func (o Options) launchTimeout() time.Duration {
	return time.Duration(o.LaunchTimeout.Int64) * time.Millisecond
}

// OptionsFromEnv reads the HORSEMAN_* variables of env.
func OptionsFromEnv(env map[string]string) (Options, error) {
	var opts Options
	if err := envconfig.Process("", &opts, func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}); err != nil {
		return opts, fmt.Errorf("reading options from the environment: %w", err)
	}
	return opts, nil
}

// LoadOptionsFile reads options from a YAML (or JSON) file on fs.
func LoadOptionsFile(fs afero.Fs, path string) (Options, error) {
	var opts Options

	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return opts, fmt.Errorf("reading options file: %w", err)
	}
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return opts, fmt.Errorf("parsing options file %s: %w", path, err)
	}
	// The null types decode from JSON, so the document takes one more
	// trip through it.
	buf, err := json.Marshal(raw)
	if err != nil {
		return opts, fmt.Errorf("parsing options file %s: %w", path, err)
	}
	if err := json.Unmarshal(buf, &opts); err != nil {
		return opts, fmt.Errorf("parsing options file %s: %w", path, err)
	}
	return opts, nil
}
