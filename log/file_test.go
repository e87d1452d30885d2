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
package log

import (
	"context"
	"encoding/json"
	"io"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFileHookConfig(t *testing.T) {
	t.Parallel()

	tests := []struct {
		line   string
		want   FileHookConfig
		errMsg string
	}{
		{
			line: "file=/horseman.log",
			want: FileHookConfig{Path: "/horseman.log", Levels: logrus.AllLevels},
		},
		{
			line: "file=/horseman.log,level=info",
			want: FileHookConfig{Path: "/horseman.log", Levels: logrus.AllLevels[:5]},
		},
		{
			line: "file=/horseman.log,format=json,level=error",
			want: FileHookConfig{Path: "/horseman.log", Levels: logrus.AllLevels[:3], JSON: true},
		},
		{line: "file", errMsg: "logfile configuration should be in the form `file=path-to-local-file` but is `file`"},
		{line: "file=,level=info", errMsg: `error while parsing logfile configuration key "file" has an empty value`},
		{line: "file=/horseman.log,level=", errMsg: `error while parsing logfile configuration key "level" has an empty value`},
		{line: "file=/horseman.log,unknown", errMsg: `error while parsing logfile configuration "unknown" is not a key=value pair`},
		{line: "file=/horseman.log,level=tea", errMsg: `unknown log level "tea"`},
		{line: "file=/horseman.log,format=xml", errMsg: "unknown logfile format xml"},
		{line: "file=/horseman.log,unknown=something", errMsg: "unknown logfile config key unknown"},
		{line: "unknown=something", errMsg: "logfile configuration should be in the form `file=path-to-local-file` but is `unknown=something`"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.line, func(t *testing.T) {
			t.Parallel()

			cfg, err := ParseFileHookConfig(tt.line)
			if tt.errMsg != "" {
				require.EqualError(t, err, tt.errMsg)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, cfg)
		})
	}
}

func TestFileHookMissingDirectory(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, err := FileHookFromConfigLine(ctx, afero.NewMemMapFs(), logrus.New(), "file=/a/c/horseman.log")
	require.EqualError(t, err, "provided directory '/a/c' does not exist")
}

func newFileLogger(t *testing.T, fs afero.Fs, line string) (*logrus.Logger, func()) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	hook, err := FileHookFromConfigLine(ctx, fs, logrus.New(), line)
	require.NoError(t, err)

	logger := logrus.New()
	logger.SetOutput(io.Discard)
	logger.SetLevel(logrus.DebugLevel)
	logger.AddHook(hook)
	return logger, func() {
		cancel()
		hook.Wait()
	}
}

func TestFileHookFire(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	logger, stop := newFileLogger(t, fs, "file=/horseman.log,level=info")

	logger.Info("example log line")
	logger.Debug("below the file level")
	stop()

	data, err := afero.ReadFile(fs, "/horseman.log")
	require.NoError(t, err)
	assert.Contains(t, string(data), "example log line")
	assert.NotContains(t, string(data), "below the file level")
}

func TestFileHookJSON(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	logger, stop := newFileLogger(t, fs, "file=/horseman.log,format=json")

	New(logger, false, nil).WithField("sid", "s1").Debugf("Session:run", "action:%s", "open")
	stop()

	data, err := afero.ReadFile(fs, "/horseman.log")
	require.NoError(t, err)

	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(string(data))), &entry))
	assert.Equal(t, "action:open", entry["msg"])
	assert.Equal(t, "Session:run", entry["category"])
	assert.Equal(t, "s1", entry["sid"])
	assert.Equal(t, "debug", entry["level"])
}
