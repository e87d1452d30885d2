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
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spf13/afero"

	"github.com/liuxd6825/horseman/common"
	"github.com/liuxd6825/horseman/log"
)

// ErrExecutableNotFound is returned when no Chromium executable is
// configured or found on the system.
var ErrExecutableNotFound = errors.New("chromium executable not found")

// LaunchOptions configures a Chromium process.
type LaunchOptions struct {
	ExecutablePath  string
	Headless        bool
	LoadImages      bool
	IgnoreSSLErrors bool
	Proxy           string
	// Args are extra flags in name=value form. They override the
	// defaults of the same name.
	Args    []string
	Timeout time.Duration
}

// Launcher starts Chromium processes.
type Launcher struct {
	fs       afero.Fs
	lookPath func(string) (string, error)
	getuid   func() int
}

// NewLauncher returns a launcher creating user data directories on fs.
func NewLauncher(fs afero.Fs) *Launcher {
	return &Launcher{
		fs:       fs,
		lookPath: exec.LookPath,
		getuid:   os.Getuid,
	}
}

// Launch starts Chromium and waits until it reports its DevTools
// websocket URL. The user data directory is removed when the process
// ends.
func (l *Launcher) Launch(ctx context.Context, opts LaunchOptions, logger *log.Logger) (*common.BrowserProcess, error) {
	path := opts.ExecutablePath
	if path == "" {
		path = l.ExecutablePath()
	}
	if path == "" {
		return nil, &common.TransportError{Op: "launch", Err: ErrExecutableNotFound}
	}

	dataDir, err := afero.TempDir(l.fs, "", "horseman-chromium-")
	if err != nil {
		return nil, fmt.Errorf("creating user data directory: %w", err)
	}
	flags := prepareFlags(opts)
	flags["user-data-dir"] = dataDir

	args, err := parseArgs(flags, l.getuid() == 0)
	if err != nil {
		_ = l.fs.RemoveAll(dataDir)
		return nil, &common.ValidationError{Field: "args", Reason: err.Error()}
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = common.DefaultLaunchTimeout
	}
	logger.Debugf("Launcher:Launch", "path:%q args:%v", path, args)

	return common.NewLocalBrowserProcess(ctx, path, args, l.fs, dataDir, timeout, logger) //nolint:wrapcheck
}

// ExecutablePath returns the first known Chromium executable found on the
// system, or an empty string.
func (l *Launcher) ExecutablePath() string {
	for _, path := range [...]string{
		// Unix-like
		"headless_shell",
		"headless-shell",
		"chromium",
		"chromium-browser",
		"google-chrome",
		"google-chrome-stable",
		"google-chrome-beta",
		"google-chrome-unstable",
		"/usr/bin/google-chrome",

		// Windows
		"chrome",
		"chrome.exe", // in case PATHEXT is misconfigured
		`C:\Program Files (x86)\Google\Chrome\Application\chrome.exe`,
		`C:\Program Files\Google\Chrome\Application\chrome.exe`,
		filepath.Join(os.Getenv("USERPROFILE"), `AppData\Local\Google\Chrome\Application\chrome.exe`),

		// Mac
		"/Applications/Google Chrome.app/Contents/MacOS/Google Chrome",
		"/Applications/Chromium.app/Contents/MacOS/Chromium",
	} {
		if _, err := l.lookPath(path); err == nil {
			return path
		}
	}
	return ""
}

func prepareFlags(opts LaunchOptions) map[string]any {
	// After Puppeteer's and Playwright's default behavior.
	f := map[string]any{
		"disable-background-networking":                      true,
		"disable-background-timer-throttling":                true,
		"disable-backgrounding-occluded-windows":             true,
		"disable-breakpad":                                   true,
		"disable-component-extensions-with-background-pages": true,
		"disable-default-apps":                               true,
		"disable-dev-shm-usage":                              true,
		"disable-extensions":                                 true,
		"disable-features":                                   "site-per-process,TranslateUI,MediaRouter",
		"disable-hang-monitor":                               true,
		"disable-ipc-flooding-protection":                    true,
		"disable-popup-blocking":                             true,
		"disable-prompt-on-repost":                           true,
		"disable-renderer-backgrounding":                     true,
		"force-color-profile":                                "srgb",
		"metrics-recording-only":                             true,
		"no-first-run":                                       true,
		"no-default-browser-check":                           true,
		"enable-automation":                                  true,
		"password-store":                                     "basic",
		"use-mock-keychain":                                  true,
		"headless":                                           opts.Headless,
		"window-size":                                        fmt.Sprintf("%d,%d", common.DefaultScreenWidth, common.DefaultScreenHeight),
	}
	if opts.Headless {
		f["hide-scrollbars"] = true
		f["mute-audio"] = true
	}
	if opts.Proxy != "" {
		f["proxy-server"] = opts.Proxy
	}
	if opts.IgnoreSSLErrors {
		f["ignore-certificate-errors"] = true
	}
	if !opts.LoadImages {
		f["blink-settings"] = "imagesEnabled=false"
	}
	setFlagsFromArgs(f, opts.Args)

	return f
}

// setFlagsFromArgs fills flags by parsing "name=value" arguments.
// A name without a value is a switch.
func setFlagsFromArgs(flags map[string]any, args []string) {
	for _, arg := range args {
		pair := strings.SplitN(strings.TrimPrefix(strings.TrimSpace(arg), "--"), "=", 2)
		name := strings.TrimSpace(pair[0])
		if name == "" {
			continue
		}
		if len(pair) == 1 {
			flags[name] = true
			continue
		}
		flags[name] = unquote(strings.TrimSpace(pair[1]))
	}
}

// parseArgs turns flags into a sorted command line.
func parseArgs(flags map[string]any, root bool) ([]string, error) {
	var args []string
	for name, value := range flags {
		switch value := value.(type) {
		case string:
			args = append(args, fmt.Sprintf("--%s=%s", name, value))
		case bool:
			if value {
				args = append(args, fmt.Sprintf("--%s", name))
			}
		default:
			return nil, fmt.Errorf(`invalid browser command line flag: "%s=%v"`, name, value)
		}
	}
	if _, ok := flags["no-sandbox"]; !ok && root {
		// Chromium refuses to start as root with the sandbox on.
		args = append(args, "--no-sandbox")
	}
	if _, ok := flags["remote-debugging-port"]; !ok {
		args = append(args, "--remote-debugging-port=0")
	}
	sort.Strings(args)

	return args, nil
}

// unquote strips one pair of matching single or double quotes.
func unquote(s string) string {
	if len(s) >= 2 && (s[0] == '"' || s[0] == '\'') && s[len(s)-1] == s[0] {
		return s[1 : len(s)-1]
	}
	return s
}
