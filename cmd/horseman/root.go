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
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/fatih/color"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.opentelemetry.io/otel/trace"
	"gopkg.in/guregu/null.v3"

	"github.com/liuxd6825/horseman/horseman"
	"github.com/liuxd6825/horseman/log"
)

// consoleWriter serializes writes to a terminal stream.
type consoleWriter struct {
	io.Writer
	isTTY bool
	mu    *sync.Mutex
}

func (w *consoleWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.Writer.Write(p)
}

// globalState is everything the commands read from the process.
type globalState struct {
	ctx    context.Context
	fs     afero.Fs
	env    map[string]string
	stdout *consoleWriter
	stderr *consoleWriter
	logger *logrus.Logger
}

func newGlobalState(ctx context.Context) *globalState {
	mu := &sync.Mutex{}
	stdoutTTY := isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd())
	stderrTTY := isatty.IsTerminal(os.Stderr.Fd()) || isatty.IsCygwinTerminal(os.Stderr.Fd())
	stderr := &consoleWriter{colorable.NewColorableStderr(), stderrTTY, mu}

	return &globalState{
		ctx:    ctx,
		fs:     afero.NewOsFs(),
		env:    buildEnvMap(os.Environ()),
		stdout: &consoleWriter{colorable.NewColorableStdout(), stdoutTTY, mu},
		stderr: stderr,
		logger: &logrus.Logger{
			Out:       stderr,
			Formatter: &logrus.TextFormatter{ForceColors: stderrTTY},
			Hooks:     make(logrus.LevelHooks),
			Level:     logrus.WarnLevel,
		},
	}
}

func buildEnvMap(environ []string) map[string]string {
	env := make(map[string]string, len(environ))
	for _, kv := range environ {
		k, v, _ := strings.Cut(kv, "=")
		env[k] = v
	}
	return env
}

// waitingHook is a log hook that finishes its writes asynchronously.
type waitingHook interface {
	logrus.Hook
	Wait()
}

type rootCommand struct {
	gs  *globalState
	cmd *cobra.Command

	configPath   string
	timeout      int64
	interval     int64
	debug        bool
	logFilter    string
	logOutput    string
	logLevel     string
	logCaller    bool
	noColor      bool
	otlpEndpoint string
	wsEndpoint   string

	cancelLogs     context.CancelFunc
	logHook        waitingHook
	tracerProvider trace.TracerProvider
	shutdownTraces func(context.Context) error
}

func newRootCommand(gs *globalState) *rootCommand {
	c := &rootCommand{gs: gs}
	c.cmd = &cobra.Command{
		Use:                "horseman",
		Short:              "drive a headless Chromium from the command line",
		SilenceUsage:       true,
		SilenceErrors:      true,
		PersistentPreRunE:  c.persistentPreRunE,
		PersistentPostRunE: c.persistentPostRunE,
	}
	c.cmd.PersistentFlags().AddFlagSet(c.persistentFlagSet())
	c.cmd.AddCommand(
		getStatusCmd(c),
		getTextCmd(c),
		getEvalCmd(c),
		getScreenshotCmd(c),
		getDoCmd(c),
	)
	return c
}

func (c *rootCommand) persistentFlagSet() *pflag.FlagSet {
	flags := pflag.NewFlagSet("", pflag.ContinueOnError)
	flags.StringVarP(&c.configPath, "config", "c", "", "YAML or JSON options file")
	flags.Int64Var(&c.timeout, "timeout", 0, "timeout of every wait in milliseconds")
	flags.Int64Var(&c.interval, "interval", 0, "polling interval in milliseconds")
	flags.BoolVarP(&c.debug, "debug", "v", false, "enable debug logging")
	flags.StringVar(&c.logFilter, "log-filter", "", "only log categories matching this regular expression")
	flags.StringVar(&c.logOutput, "log-output", "stderr",
		"where logs go, one of stderr, stdout, none or file=path[,level=lvl][,format=text|json]")
	flags.StringVar(&c.logLevel, "log-level", "", "minimum level of the logged entries")
	flags.BoolVar(&c.logCaller, "log-caller", false, "add the calling function to log entries")
	flags.BoolVar(&c.noColor, "no-color", false, "disable colored output")
	flags.StringVar(&c.otlpEndpoint, "otlp-endpoint", "", "host:port of an OTLP/HTTP collector receiving action spans")
	flags.StringVar(&c.wsEndpoint, "ws-endpoint", "", "connect to a running browser instead of launching one")
	return flags
}

func (c *rootCommand) persistentPreRunE(cmd *cobra.Command, _ []string) error {
	if c.noColor {
		c.gs.stdout.Writer = colorable.NewNonColorable(os.Stdout)
		c.gs.stderr.Writer = colorable.NewNonColorable(os.Stderr)
		c.gs.stdout.isTTY, c.gs.stderr.isTTY = false, false
	}
	if err := c.setupLogger(); err != nil {
		return err
	}

	tp, shutdown, err := newTracerProvider(cmd.Context(), c.otlpEndpoint)
	if err != nil {
		return err
	}
	c.tracerProvider, c.shutdownTraces = tp, shutdown
	return nil
}

func (c *rootCommand) persistentPostRunE(cmd *cobra.Command, _ []string) error {
	var err error
	if c.shutdownTraces != nil {
		err = c.shutdownTraces(cmd.Context())
	}
	c.stopLogger()
	return err
}

func (c *rootCommand) setupLogger() error {
	l := c.gs.logger
	switch out := c.logOutput; {
	case out == "stderr":
		l.SetOutput(c.gs.stderr)
	case out == "stdout":
		l.SetOutput(c.gs.stdout)
	case out == "none":
		l.SetOutput(io.Discard)
	case strings.HasPrefix(out, "file"):
		ctx, cancel := context.WithCancel(c.gs.ctx)
		hook, err := log.FileHookFromConfigLine(ctx, c.gs.fs, c.gs.logger, out)
		if err != nil {
			cancel()
			return err
		}
		l.AddHook(hook)
		l.SetOutput(io.Discard)
		c.logHook, c.cancelLogs = hook, cancel
	default:
		return fmt.Errorf("unsupported log output %q", out)
	}
	if c.debug {
		l.SetLevel(logrus.DebugLevel)
	}
	if tf, ok := l.Formatter.(*logrus.TextFormatter); ok {
		tf.DisableColors = c.noColor
		tf.ForceColors = c.gs.stderr.isTTY && !c.noColor
	}
	return nil
}

func (c *rootCommand) stopLogger() {
	if c.cancelLogs == nil {
		return
	}
	c.cancelLogs()
	c.logHook.Wait()
	c.cancelLogs = nil
}

// newLogger returns the categorized logger handed to sessions.
func (c *rootCommand) newLogger() (*log.Logger, error) {
	logger := log.New(c.gs.logger, c.debug, nil)
	if c.logLevel != "" {
		if err := logger.SetLevel(c.logLevel); err != nil {
			return nil, err
		}
	}
	if err := logger.SetCategoryFilter(c.logFilter); err != nil {
		return nil, err
	}
	if c.logCaller {
		logger.ReportCaller()
	}
	return logger, nil
}

// sessionOptions layers the options file, the environment and the flags.
// Defaults are applied by the session.
func (c *rootCommand) sessionOptions(cmd *cobra.Command) (horseman.Options, error) {
	var opts horseman.Options
	if c.configPath != "" {
		file, err := horseman.LoadOptionsFile(c.gs.fs, c.configPath)
		if err != nil {
			return opts, err
		}
		opts = opts.Apply(file)
	}
	env, err := horseman.OptionsFromEnv(c.gs.env)
	if err != nil {
		return opts, err
	}
	opts = opts.Apply(env)

	flags := cmd.Flags()
	var fromFlags horseman.Options
	if flags.Changed("timeout") {
		fromFlags.Timeout = null.IntFrom(c.timeout)
	}
	if flags.Changed("interval") {
		fromFlags.Interval = null.IntFrom(c.interval)
	}
	if flags.Changed("debug") {
		fromFlags.Debug = null.BoolFrom(c.debug)
	}
	if flags.Changed("log-filter") {
		fromFlags.LogCategoryFilter = null.StringFrom(c.logFilter)
	}
	if flags.Changed("ws-endpoint") {
		fromFlags.WSEndpoint = null.StringFrom(c.wsEndpoint)
	}
	return opts.Apply(fromFlags), nil
}

// run opens a session, queues the actions built by chain and prints
// the final value with show.
func (c *rootCommand) run(cmd *cobra.Command, chain func(s *horseman.Session) *horseman.Chain, show func(w io.Writer, v any) error) error {
	opts, err := c.sessionOptions(cmd)
	if err != nil {
		return err
	}
	logger, err := c.newLogger()
	if err != nil {
		return err
	}
	s := horseman.NewSession(cmd.Context(), opts,
		horseman.WithFs(c.gs.fs),
		horseman.WithLogger(logger),
		horseman.WithTracerProvider(c.tracerProvider),
		horseman.WithOutput(c.gs.stdout),
	)
	console := logger.ConsoleLogFormatterSerializer()
	s.On(horseman.EventConsoleMessage, func(ev horseman.Event) {
		console.Log.WithField("objects", ev.Args).Debug()
	})

	v, err := chain(s).Result()
	if cerr := s.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return err
	}
	return show(c.gs.stdout, v)
}

func (c *rootCommand) colorize(attr color.Attribute) *color.Color {
	col := color.New(attr)
	if c.noColor || !c.gs.stdout.isTTY {
		col.DisableColor()
	}
	return col
}

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	gs := newGlobalState(ctx)
	c := newRootCommand(gs)

	if err := c.cmd.ExecuteContext(ctx); err != nil {
		gs.logger.Error(err)
		c.stopLogger()
		cancel()
		os.Exit(1)
	}
	cancel()
}
