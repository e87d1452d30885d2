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
package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liuxd6825/horseman/common"
	"github.com/liuxd6825/horseman/tests/ws"
)

func newTestState(t *testing.T, env map[string]string) (*globalState, *bytes.Buffer) {
	t.Helper()

	var out bytes.Buffer
	mu := &sync.Mutex{}
	if env == nil {
		env = map[string]string{}
	}
	return &globalState{
		ctx:    context.Background(),
		fs:     afero.NewMemMapFs(),
		env:    env,
		stdout: &consoleWriter{&out, false, mu},
		stderr: &consoleWriter{io.Discard, false, mu},
		logger: &logrus.Logger{
			Out:       io.Discard,
			Formatter: new(logrus.TextFormatter),
			Hooks:     make(logrus.LevelHooks),
			Level:     logrus.WarnLevel,
		},
	}, &out
}

// fakeBrowserEnv serves fb and points HORSEMAN_WS_ENDPOINT at it.
func fakeBrowserEnv(t *testing.T, fb *ws.FakeBrowser) map[string]string {
	t.Helper()

	server := ws.NewServer(t, ws.WithCDPHandler("/cdp", fb.Handle, nil))
	return map[string]string{"HORSEMAN_WS_ENDPOINT": server.URL("/cdp")}
}

func execute(gs *globalState, args ...string) error {
	c := newRootCommand(gs)
	c.cmd.SetArgs(args)
	c.cmd.SetOut(io.Discard)
	c.cmd.SetErr(io.Discard)
	return c.cmd.ExecuteContext(gs.ctx)
}

func TestBuildEnvMap(t *testing.T) {
	t.Parallel()

	env := buildEnvMap([]string{"A=1", "B=x=y", "EMPTY=", "BARE"})
	assert.Equal(t, map[string]string{"A": "1", "B": "x=y", "EMPTY": "", "BARE": ""}, env)
}

func TestSessionOptionsLayering(t *testing.T) {
	t.Parallel()

	gs, _ := newTestState(t, map[string]string{
		"HORSEMAN_TIMEOUT": "4000",
		"HORSEMAN_PROXY":   "proxy.test:3128",
	})
	require.NoError(t, afero.WriteFile(gs.fs, "/horseman.yaml", []byte("timeout: 3000\ninterval: 100\nproxy: file.test:1\n"), 0o644))

	c := newRootCommand(gs)
	cmd, _, err := c.cmd.Find([]string{"status"})
	require.NoError(t, err)
	require.NoError(t, cmd.ParseFlags([]string{"--config", "/horseman.yaml", "--timeout", "5000"}))

	opts, err := c.sessionOptions(cmd)
	require.NoError(t, err)
	assert.Equal(t, int64(5000), opts.Timeout.Int64, "flags win")
	assert.Equal(t, "proxy.test:3128", opts.Proxy.String, "environment beats the file")
	assert.Equal(t, int64(100), opts.Interval.Int64, "file beats the defaults")
	assert.False(t, opts.Headless.Valid, "defaults are left to the session")
}

func TestStatusCommand(t *testing.T) {
	t.Parallel()

	fb := &ws.FakeBrowser{
		Status: func(url string) int64 {
			if strings.HasSuffix(url, "/missing") {
				return 404
			}
			return 200
		},
	}
	gs, out := newTestState(t, fakeBrowserEnv(t, fb))

	require.NoError(t, execute(gs, "status", "http://horseman.test/missing"))
	assert.Equal(t, "404\n", out.String())

	assert.Error(t, execute(gs, "status"))
}

func TestTextCommand(t *testing.T) {
	t.Parallel()

	fb := &ws.FakeBrowser{
		Eval: func(call ws.FunctionCall) string {
			if call.IsInvocation() && strings.Contains(call.Declaration, "textContent") {
				return ws.Done(fmt.Sprintf("%q", "text of "+call.UserArgs()[0].String()))
			}
			return ""
		},
	}
	gs, out := newTestState(t, fakeBrowserEnv(t, fb))

	require.NoError(t, execute(gs, "text", "http://horseman.test/"))
	require.NoError(t, execute(gs, "text", "http://horseman.test/", "h1"))
	assert.Equal(t, "text of body\ntext of h1\n", out.String())
}

func TestEvalCommand(t *testing.T) {
	t.Parallel()

	fb := &ws.FakeBrowser{
		Eval: func(call ws.FunctionCall) string {
			if !call.IsInvocation() || !strings.Contains(call.Declaration, "a + b") {
				return ""
			}
			args := call.UserArgs()
			return ws.Done(fmt.Sprintf(`{"sum":%d}`, args[0].Int()+args[1].Int()))
		},
	}
	gs, out := newTestState(t, fakeBrowserEnv(t, fb))

	require.NoError(t, execute(gs, "eval", "http://horseman.test/", "function (a, b) { return { sum: a + b }; }", "2", "3"))
	assert.Equal(t, "{\"sum\":5}\n", out.String())

	err := execute(gs, "eval", "http://horseman.test/", "function (a) { return a; }", "not json")
	assert.ErrorContains(t, err, "is not JSON")
}

func TestDoCommand(t *testing.T) {
	t.Parallel()

	fb := &ws.FakeBrowser{Status: func(string) int64 { return 201 }}
	gs, out := newTestState(t, fakeBrowserEnv(t, fb))

	require.NoError(t, execute(gs, "do", "http://horseman.test/", "status"))
	require.NoError(t, execute(gs, "do", "http://horseman.test/", "tab-count"))
	assert.Equal(t, "201\n1\n", out.String())

	assert.ErrorContains(t, execute(gs, "do", "http://horseman.test/", "noSuchAction"), "unknown action")
}

func TestScreenshotCommand(t *testing.T) {
	t.Parallel()

	gs, out := newTestState(t, fakeBrowserEnv(t, &ws.FakeBrowser{}))

	require.NoError(t, execute(gs, "screenshot", "http://horseman.test/", "/shots/page.png"))
	assert.Equal(t, "saved /shots/page.png\n", out.String())

	buf, err := afero.ReadFile(gs.fs, "/shots/page.png")
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(buf, []byte("\x89PNG")))
}

func TestLogOutputFile(t *testing.T) {
	t.Parallel()

	gs, _ := newTestState(t, fakeBrowserEnv(t, &ws.FakeBrowser{}))
	require.NoError(t, gs.fs.MkdirAll("/logs", 0o755))

	require.NoError(t, execute(gs, "--debug", "--log-output", "file=/logs/horseman.log", "status", "http://horseman.test/"))

	logs, err := afero.ReadFile(gs.fs, "/logs/horseman.log")
	require.NoError(t, err)
	assert.Contains(t, string(logs), "Session:run")

	assert.ErrorContains(t, execute(gs, "--log-output", "syslog", "status", "http://horseman.test/"), "unsupported log output")
}

func TestStartFailureIsReported(t *testing.T) {
	t.Parallel()

	gs, out := newTestState(t, map[string]string{"HORSEMAN_INTERVAL": "0"})

	var verr *common.ValidationError
	err := execute(gs, "status", "http://horseman.test/")
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "interval", verr.Field)
	assert.Empty(t, out.String())
}
