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
// Package horseman drives a headless Chromium through a sequential,
// chainable action API.
package horseman

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/mattn/go-colorable"
	gouuid "github.com/nu7hatch/gouuid"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/liuxd6825/horseman/api"
	"github.com/liuxd6825/horseman/chromium"
	"github.com/liuxd6825/horseman/common"
	"github.com/liuxd6825/horseman/log"
)

const tracerName = "github.com/liuxd6825/horseman"

var (
	_ api.Actions[*Chain] = (*Session)(nil)
	_ api.Actions[*Chain] = (*Chain)(nil)
)

// SessionOption customizes a Session.
type SessionOption func(*Session)

// WithFs sets the filesystem used for every local file.
func WithFs(fs afero.Fs) SessionOption {
	return func(s *Session) { s.fs = fs }
}

// WithClock sets the clock driving waits and timeouts.
func WithClock(clk clock.Clock) SessionOption {
	return func(s *Session) { s.clock = clk }
}

// WithLogger sets the logger.
func WithLogger(logger *log.Logger) SessionOption {
	return func(s *Session) { s.logger = logger }
}

// WithTracerProvider sets the provider of action spans. The global
// provider is used otherwise.
func WithTracerProvider(tp trace.TracerProvider) SessionOption {
	return func(s *Session) { s.tracer = tp.Tracer(tracerName) }
}

// WithOutput sets where Log prints.
func WithOutput(w io.Writer) SessionOption {
	return func(s *Session) { s.out = w }
}

// Session owns one browser and runs its actions one at a time, in the
// order they were issued.
type Session struct {
	id     string
	opts   Options
	fs     afero.Fs
	clock  clock.Clock
	logger *log.Logger
	tracer trace.Tracer
	out    io.Writer
	waiter *common.Waiter

	ctx    context.Context
	cancel context.CancelFunc

	queueMu sync.Mutex
	tail    chan struct{}

	mu         sync.RWMutex
	browser    *common.Browser
	tabs       []*common.Page
	active     int
	responses  map[string]int64
	targetURL  string
	lastNav    int64
	curNav     int64
	lastVal    any
	fatal      error
	startErr   error
	closed     bool
	handlers   map[string]EventHandler
	responders map[string]common.DialogHandler

	closeOnce sync.Once
}

// NewSession returns a session configured by opts on top of
// DefaultOptions. It returns immediately: the browser is started by the
// first queued step, and a start failure is returned by every action and
// by Close.
func NewSession(ctx context.Context, opts Options, sopts ...SessionOption) *Session {
	s := &Session{
		opts:       DefaultOptions().Apply(opts),
		active:     -1,
		responses:  make(map[string]int64),
		handlers:   make(map[string]EventHandler),
		responders: make(map[string]common.DialogHandler),
		tail:       make(chan struct{}),
	}
	close(s.tail)
	if id, err := gouuid.NewV4(); err == nil {
		s.id = id.String()
	}
	for _, o := range sopts {
		o(s)
	}
	if s.fs == nil {
		s.fs = afero.NewOsFs()
	}
	if s.clock == nil {
		s.clock = clock.New()
	}
	if s.logger == nil {
		s.logger = newLogger(s.opts)
	}
	s.logger = s.logger.WithField("sid", s.id)
	if s.tracer == nil {
		s.tracer = otel.GetTracerProvider().Tracer(tracerName)
	}
	if s.out == nil {
		s.out = colorable.NewColorableStdout()
	}
	s.waiter = common.NewWaiter(s.clock, s.opts.timeout(), s.opts.interval(), s.onTimeout)
	s.ctx, s.cancel = context.WithCancel(ctx)

	s.enqueue(func(ctx context.Context) {
		ctx, span := s.tracer.Start(ctx, "horseman.start")
		defer span.End()

		if err := s.start(ctx); err != nil {
			s.logger.Errorf("Session:start", "%v", err)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			s.mu.Lock()
			s.fatal, s.startErr = err, err
			s.mu.Unlock()
		}
	})
	return s
}

func newLogger(opts Options) *log.Logger {
	l := logrus.New()
	l.SetLevel(logrus.WarnLevel)
	logger := log.New(l, opts.Debug.Bool, nil)
	if f := opts.LogCategoryFilter.String; f != "" {
		if err := logger.SetCategoryFilter(f); err != nil {
			logger.Warnf("Session", "ignoring log category filter: %v", err)
		}
	}
	return logger
}

func (s *Session) start(ctx context.Context) error {
	if err := s.opts.Validate(); err != nil {
		return err
	}
	scripts, err := s.readClientScripts()
	if err != nil {
		return err
	}

	bopts := common.BrowserOptions{
		Page: common.PageOptions{
			Timeouts:            common.NewTimeoutSettings(s.opts.timeout(), s.opts.navigationTimeout()),
			Waiter:              s.waiter,
			InjectHelperLibrary: s.opts.InjectHelperLibrary.Bool,
			ClientScripts:       scripts,
			UserAgent:           s.opts.UserAgent.String,
			OnStatus:            s.recordStatus,
			OnClose:             s.removeTab,
		},
		OnPageCreated: s.onPopup,
	}

	var b *common.Browser
	if ws := s.opts.WSEndpoint.String; ws != "" {
		b, err = common.Connect(s.ctx, ws, bopts, s.logger)
	} else {
		var proc *common.BrowserProcess
		proc, err = chromium.NewLauncher(s.fs).Launch(s.ctx, chromium.LaunchOptions{
			ExecutablePath:  s.opts.ExecutablePath.String,
			Headless:        s.opts.Headless.Bool,
			LoadImages:      s.opts.LoadImages.Bool,
			IgnoreSSLErrors: s.opts.IgnoreSSLErrors.Bool,
			Proxy:           s.opts.Proxy.String,
			Args:            s.opts.Args,
			Timeout:         s.opts.launchTimeout(),
		}, s.logger)
		if err != nil {
			return err
		}
		b, err = common.NewBrowser(s.ctx, proc, bopts, s.logger)
	}
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.browser = b
	s.mu.Unlock()

	p, err := b.NewPage(ctx)
	if err != nil {
		return err
	}
	s.addTab(p, true, false)
	return nil
}

func (s *Session) readClientScripts() ([]string, error) {
	scripts := make([]string, 0, len(s.opts.ClientScripts))
	for _, path := range s.opts.ClientScripts {
		src, err := afero.ReadFile(s.fs, path)
		if err != nil {
			return nil, &common.ValidationError{Field: "clientScripts", Reason: err.Error()}
		}
		scripts = append(scripts, string(src))
	}
	return scripts, nil
}

// ID identifies the session in logs and spans.
func (s *Session) ID() string { return s.id }

// Options returns the effective options.
func (s *Session) Options() Options { return s.opts }

// enqueue runs step once every previously queued step has finished.
func (s *Session) enqueue(step func(ctx context.Context)) <-chan struct{} {
	done := make(chan struct{})

	s.queueMu.Lock()
	prev := s.tail
	s.tail = done
	s.queueMu.Unlock()

	go func() {
		defer close(done)
		<-prev
		step(s.ctx)
	}()
	return done
}

// idle returns a channel closed once every queued step has finished.
func (s *Session) idle() <-chan struct{} {
	s.queueMu.Lock()
	defer s.queueMu.Unlock()
	return s.tail
}

// usable returns the error every action fails with, if any.
func (s *Session) usable() error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.fatal != nil {
		return s.fatal
	}
	if s.closed {
		return common.ErrSessionClosed
	}
	return nil
}

// run executes one action inside its span.
func (s *Session) run(ctx context.Context, name string, args []any) (any, error) {
	ctx, span := s.tracer.Start(ctx, "horseman."+name, trace.WithAttributes(
		attribute.String("horseman.session", s.id),
		attribute.String("horseman.action", name),
		attribute.Int("horseman.args", len(args)),
	))
	defer span.End()

	v, err := s.call(ctx, name, args)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return v, nil
}

func (s *Session) call(ctx context.Context, name string, args []any) (any, error) {
	fn, err := lookupAction(name)
	if err != nil {
		return nil, err
	}
	if err := s.usable(); err != nil {
		return nil, err
	}
	s.markAction()
	s.logger.Debugf("Session:run", "action:%s nargs:%d", name, len(args))

	v, err := fn(ctx, s, args...)
	if err != nil {
		var te *common.TransportError
		if errors.As(err, &te) {
			s.mu.Lock()
			if s.fatal == nil {
				s.fatal = err
			}
			s.mu.Unlock()
		}
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return v, nil
}

// markAction samples the navigation counter of the active page.
func (s *Session) markAction() {
	var n int64
	if p := s.ActivePage(); p != nil {
		n = p.NavCount()
	}
	s.mu.Lock()
	s.lastNav, s.curNav = s.curNav, n
	s.mu.Unlock()
}

func (s *Session) setLastVal(v any) {
	s.mu.Lock()
	s.lastVal = v
	s.mu.Unlock()
}

// LastVal returns the value produced by the last successful step.
func (s *Session) LastVal() any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastVal
}

// Do queues the action registered under name.
func (s *Session) Do(name string, args ...any) *Chain {
	return s.queue(nil, name, args)
}

func (s *Session) queue(parent *Chain, name string, args []any) *Chain {
	c := newChain(s)
	s.enqueue(func(ctx context.Context) {
		defer close(c.done)

		if parent != nil {
			c.lastVal = parent.value
			if parent.err != nil {
				c.err = parent.err
				return
			}
		} else {
			c.lastVal = s.LastVal()
		}
		c.value, c.err = s.run(ctx, name, args)
		if c.err == nil {
			s.setLastVal(c.value)
		}
	})
	return c
}

// Close waits for the running action, closes the browser and ends the
// session. Only the first call has an effect. It returns the start-up
// error of the session, if any.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		<-s.idle()

		s.mu.Lock()
		s.closed = true
		b := s.browser
		err = s.startErr
		s.mu.Unlock()

		if b != nil {
			b.Close()
		}
		s.cancel()
		s.logger.Debugf("Session:Close", "closed")
	})
	return err
}
