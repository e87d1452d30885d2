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
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
)

// fileHookBufferSize is the number of entries queued before Fire blocks.
const fileHookBufferSize = 100

// FileHookConfig is the parsed form of a "file=path[,level=lvl][,format=fmt]"
// log output line.
type FileHookConfig struct {
	Path   string
	Levels []logrus.Level
	// JSON writes one JSON object per entry instead of logfmt text.
	JSON bool
}

// ParseFileHookConfig parses a log output line starting with "file=".
func ParseFileHookConfig(line string) (FileHookConfig, error) {
	cfg := FileHookConfig{Levels: logrus.AllLevels}
	if key, _, _ := strings.Cut(line, "="); key != "file" {
		return cfg, fmt.Errorf("logfile configuration should be in the form `file=path-to-local-file` but is `%s`", line)
	}
	for _, pair := range strings.Split(line, ",") {
		key, value, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		switch {
		case !ok || key == "":
			return cfg, fmt.Errorf("error while parsing logfile configuration %q is not a key=value pair", pair)
		case value == "":
			return cfg, fmt.Errorf("error while parsing logfile configuration key %q has an empty value", key)
		}

		var err error
		switch key {
		case "file":
			cfg.Path = value
		case "level":
			cfg.Levels, err = parseLevels(value)
		case "format":
			switch value {
			case "text":
				cfg.JSON = false
			case "json":
				cfg.JSON = true
			default:
				err = fmt.Errorf("unknown logfile format %s", value)
			}
		default:
			err = fmt.Errorf("unknown logfile config key %s", key)
		}
		if err != nil {
			return cfg, err
		}
	}
	return cfg, nil
}

// FileHook is a logrus hook appending entries to a file. Entries are
// written by a background goroutine that flushes and closes the file
// once the context given to NewFileHook is done.
type FileHook struct {
	levels    []logrus.Level
	formatter logrus.Formatter
	fallback  logrus.FieldLogger
	lines     chan []byte
	done      chan struct{}
}

// FileHookFromConfigLine parses line and opens the hook it describes.
func FileHookFromConfigLine(
	ctx context.Context, fs afero.Fs, fallbackLogger logrus.FieldLogger, line string,
) (*FileHook, error) {
	cfg, err := ParseFileHookConfig(line)
	if err != nil {
		return nil, err
	}
	return NewFileHook(ctx, fs, fallbackLogger, cfg)
}

// NewFileHook opens cfg.Path for appending. Write failures are reported
// to fallbackLogger. The parent directory must exist.
func NewFileHook(ctx context.Context, fs afero.Fs, fallbackLogger logrus.FieldLogger, cfg FileHookConfig) (*FileHook, error) {
	dir := filepath.Dir(cfg.Path)
	if _, err := fs.Stat(dir); errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("provided directory '%s' does not exist", dir)
	}
	f, err := fs.OpenFile(cfg.Path, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0o600)
	if err != nil {
		return nil, fmt.Errorf("failed to open logfile %s: %w", cfg.Path, err)
	}

	h := &FileHook{
		levels:   cfg.Levels,
		fallback: fallbackLogger,
		lines:    make(chan []byte, fileHookBufferSize),
		done:     make(chan struct{}),
	}
	if cfg.JSON {
		h.formatter = &logrus.JSONFormatter{}
	} else {
		h.formatter = &logrus.TextFormatter{DisableColors: true, FullTimestamp: true}
	}
	go h.write(ctx, f)
	return h, nil
}

func (h *FileHook) write(ctx context.Context, f afero.File) {
	defer close(h.done)

	w := bufio.NewWriter(f)
	put := func(line []byte) {
		if _, err := w.Write(line); err != nil {
			h.fallback.Errorf("failed to write a log message to a logfile: %v", err)
		}
	}
	for {
		select {
		case line := <-h.lines:
			put(line)
		case <-ctx.Done():
			for n := len(h.lines); n > 0; n-- {
				put(<-h.lines)
			}
			if err := w.Flush(); err != nil {
				h.fallback.Errorf("failed to flush logfile: %v", err)
			}
			if err := f.Close(); err != nil {
				h.fallback.Errorf("failed to close logfile: %v", err)
			}
			return
		}
	}
}

// Fire queues entry for writing.
func (h *FileHook) Fire(entry *logrus.Entry) error {
	line, err := h.formatter.Format(entry)
	if err != nil {
		return fmt.Errorf("failed to format a log entry: %w", err)
	}
	h.lines <- line
	return nil
}

// Levels returns the levels written to the file.
func (h *FileHook) Levels() []logrus.Level {
	return h.levels
}

// Wait blocks until the file is flushed and closed.
func (h *FileHook) Wait() {
	<-h.done
}
