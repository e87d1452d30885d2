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

// Package log is the categorized logger of horseman.
//
// Entries are logged under a category such as "Page:navigate". A category
// filter keeps only the categories matching a regular expression, and a
// debug override lets debug entries through whatever the logrus level is.
package log

import (
	"encoding/json"
	"fmt"
	"io"
	"regexp"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
)

// state is shared by a logger and the loggers derived from it.
type state struct {
	mu     sync.Mutex
	last   time.Time
	filter *regexp.Regexp
}

// Logger is a categorized logger. Besides its own fields, every entry
// carries its category, the time elapsed since the previous entry and the
// id of the goroutine that logged it.
type Logger struct {
	Log *logrus.Logger

	debugOverride bool
	fields        logrus.Fields
	state         *state
}

// NewNullLogger returns a logger that discards everything.
func NewNullLogger() *Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return New(l, false, nil)
}

// New wraps logger. With debugOverride set, debug entries are logged even
// when the level of logger would drop them.
func New(logger *logrus.Logger, debugOverride bool, categoryFilter *regexp.Regexp) *Logger {
	return &Logger{
		Log:           logger,
		debugOverride: debugOverride,
		state:         &state{filter: categoryFilter},
	}
}

// WithField returns a logger adding key to every entry. It shares the
// filter and the elapsed time with l.
func (l *Logger) WithField(key string, value any) *Logger {
	fields := make(logrus.Fields, len(l.fields)+1)
	for k, v := range l.fields {
		fields[k] = v
	}
	fields[key] = value
	return &Logger{
		Log:           l.Log,
		debugOverride: l.debugOverride,
		fields:        fields,
		state:         l.state,
	}
}

func (l *Logger) Tracef(category string, msg string, args ...any) {
	l.Logf(logrus.TraceLevel, category, msg, args...)
}

func (l *Logger) Debugf(category string, msg string, args ...any) {
	l.Logf(logrus.DebugLevel, category, msg, args...)
}

func (l *Logger) Infof(category string, msg string, args ...any) {
	l.Logf(logrus.InfoLevel, category, msg, args...)
}

func (l *Logger) Warnf(category string, msg string, args ...any) {
	l.Logf(logrus.WarnLevel, category, msg, args...)
}

func (l *Logger) Errorf(category string, msg string, args ...any) {
	l.Logf(logrus.ErrorLevel, category, msg, args...)
}

// enabled reports whether an entry at level is logged at all, and whether
// it only passes thanks to the debug override.
func (l *Logger) enabled(level logrus.Level) (ok, overridden bool) {
	if l.Log == nil || l.Log.IsLevelEnabled(level) {
		return true, false
	}
	return l.debugOverride, l.debugOverride
}

// Logf logs msg under category at level. A nil logger logs nothing.
func (l *Logger) Logf(level logrus.Level, category string, msg string, args ...any) {
	if l == nil {
		return
	}
	ok, overridden := l.enabled(level)
	if !ok {
		return
	}

	l.state.mu.Lock()
	defer l.state.mu.Unlock()

	now := time.Now()
	var elapsed time.Duration
	if !l.state.last.IsZero() {
		elapsed = now.Sub(l.state.last)
	}
	l.state.last = now

	if f := l.state.filter; f != nil && !f.MatchString(category) {
		return
	}
	if l.Log == nil {
		magenta := color.New(color.FgMagenta).SprintFunc()
		fmt.Printf("%s [%d]: %s - %s ms\n", magenta(category), goroutineID(), fmt.Sprintf(msg, args...), magenta(elapsed.Milliseconds()))
		return
	}

	entry := l.Log.WithFields(l.fields).WithFields(logrus.Fields{
		"category":  category,
		"elapsed":   fmt.Sprintf("%d ms", elapsed.Milliseconds()),
		"goroutine": goroutineID(),
	})
	if overridden {
		entry.Printf(msg, args...)
		return
	}
	entry.Logf(level, msg, args...)
}

// SetLevel sets the level of the underlying logger from a logrus level
// name.
func (l *Logger) SetLevel(level string) error {
	levels, err := parseLevels(level)
	if err != nil {
		return err
	}
	l.Log.SetLevel(levels[len(levels)-1])
	return nil
}

// SetCategoryFilter keeps only the entries whose category matches filter.
// An empty filter keeps everything.
func (l *Logger) SetCategoryFilter(filter string) error {
	var re *regexp.Regexp
	if filter != "" {
		var err error
		if re, err = regexp.Compile(filter); err != nil {
			return fmt.Errorf("invalid log category filter %q: %w", filter, err)
		}
	}
	l.state.mu.Lock()
	l.state.filter = re
	l.state.mu.Unlock()
	return nil
}

// DebugMode reports whether debug entries are logged.
func (l *Logger) DebugMode() bool {
	ok, _ := l.enabled(logrus.DebugLevel)
	return ok
}

// ReportCaller adds the calling function and its location to entries.
func (l *Logger) ReportCaller() {
	l.Log.SetFormatter(&logrus.TextFormatter{
		CallerPrettyfier: func(f *runtime.Frame) (string, string) {
			return f.Function, f.File + ":" + strconv.Itoa(f.Line)
		},
		FieldMap: logrus.FieldMap{logrus.FieldKeyFile: "caller"},
	})
	l.Log.SetReportCaller(true)
}

// ConsoleLogFormatterSerializer returns a logger for page console
// messages. The values in the "objects" field of its entries become the
// message: strings as they are, anything else as JSON.
func (l *Logger) ConsoleLogFormatterSerializer() *Logger {
	return &Logger{
		Log: &logrus.Logger{
			Out:       l.Log.Out,
			Hooks:     l.Log.Hooks,
			Level:     l.Log.GetLevel(),
			Formatter: &consoleLogFormatter{l.Log.Formatter},
		},
		debugOverride: l.debugOverride,
		fields:        l.fields,
		state:         l.state,
	}
}

func goroutineID() int {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	field, _, _ := strings.Cut(strings.TrimPrefix(string(buf[:n]), "goroutine "), " ")
	id, err := strconv.Atoi(field)
	if err != nil {
		panic(fmt.Sprintf("cannot get goroutine id: %v", err))
	}
	return id
}

type consoleLogFormatter struct {
	logrus.Formatter
}

func (f *consoleLogFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	objects, ok := entry.Data["objects"].([]any)
	if !ok {
		return f.Formatter.Format(entry)
	}
	parts := make([]string, 0, len(objects))
	for _, obj := range objects {
		if s, ok := obj.(string); ok {
			parts = append(parts, s)
			continue
		}
		if buf, err := json.Marshal(obj); err == nil {
			parts = append(parts, string(buf))
		}
	}
	entry.Message = strings.Join(parts, " ")
	delete(entry.Data, "objects")
	return f.Formatter.Format(entry)
}

// parseLevels returns level and every level more severe than it.
func parseLevels(level string) ([]logrus.Level, error) {
	lvl, err := logrus.ParseLevel(strings.TrimSpace(level))
	if err != nil {
		return nil, fmt.Errorf("unknown log level %q", level)
	}
	return logrus.AllLevels[:lvl+1], nil
}
