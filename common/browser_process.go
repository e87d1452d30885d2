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

package common

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/spf13/afero"

	"github.com/liuxd6825/horseman/log"
)

const devToolsPrefix = "DevTools listening on "

var (
	errProcessEnded  = errors.New("browser process ended unexpectedly")
	errNoDevToolsURL = errors.New("browser process closed its output before establishing a connection")
)

// BrowserProcess is a running browser executable.
type BrowserProcess struct {
	pid    int
	wsURL  string
	kill   context.CancelFunc
	exited chan struct{}
	once   sync.Once
	logger *log.Logger
}

// NewLocalBrowserProcess starts the executable at path and waits up to
// launchTimeout for it to report its DevTools websocket URL. dataDir is
// removed from fs once the process ends.
func NewLocalBrowserProcess(
	ctx context.Context, path string, args []string,
	fs afero.Fs, dataDir string, launchTimeout time.Duration, logger *log.Logger,
) (*BrowserProcess, error) {
	ctx, kill := context.WithCancel(ctx)

	cmd, err := startProcess(ctx, path, args, logger)
	if err != nil {
		kill()
		_ = fs.RemoveAll(dataDir)
		return nil, &TransportError{Op: "launching " + path, Err: err}
	}

	p := &BrowserProcess{
		pid:    cmd.Process.Pid,
		kill:   kill,
		exited: make(chan struct{}),
		logger: logger,
	}
	go func() {
		defer close(p.exited)
		<-cmd.done
		if dataDir == "" {
			return
		}
		if err := fs.RemoveAll(dataDir); err != nil {
			logger.Errorf("BrowserProcess", "removing %s: %v", dataDir, err)
		}
	}()

	waitCtx, cancel := context.WithTimeout(ctx, launchTimeout)
	defer cancel()
	if p.wsURL, err = parseDevToolsURL(waitCtx, cmd); err != nil {
		p.Terminate()
		if errors.Is(err, context.DeadlineExceeded) {
			err = &TimeoutError{Op: "launch", Timeout: launchTimeout}
		}
		return nil, &TransportError{Op: "launching " + path, Err: err}
	}
	logger.Debugf("BrowserProcess", "pid:%d wsURL:%q", p.pid, p.wsURL)

	return p, nil
}

// Terminate kills the process and waits until it exited and its data
// directory is gone. Calls after the first only wait.
func (p *BrowserProcess) Terminate() {
	p.once.Do(func() {
		p.logger.Debugf("BrowserProcess:Terminate", "pid:%d", p.pid)
		p.kill()
	})
	<-p.exited
}

// WsURL returns the DevTools websocket URL of the browser.
func (p *BrowserProcess) WsURL() string { return p.wsURL }

// Pid returns the process ID.
func (p *BrowserProcess) Pid() int { return p.pid }

// Done is closed once the process has exited.
func (p *BrowserProcess) Done() <-chan struct{} { return p.exited }

// command is a started process together with its stderr.
type command struct {
	*exec.Cmd
	done   chan struct{}
	stderr io.Reader
	logger *log.Logger
}

func startProcess(ctx context.Context, path string, args []string, logger *log.Logger) (command, error) {
	cmd := exec.CommandContext(ctx, path, args...)
	killAfterParent(cmd)

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return command{}, fmt.Errorf("opening stderr: %w", err)
	}
	switch err := cmd.Start(); {
	case os.IsNotExist(err):
		return command{}, fmt.Errorf("file does not exist: %s", path)
	case err != nil:
		return command{}, fmt.Errorf("starting: %w", err)
	}

	c := command{Cmd: cmd, done: make(chan struct{}), stderr: stderr, logger: logger}
	go func() {
		defer close(c.done)
		if err := cmd.Wait(); err != nil && ctx.Err() == nil {
			logger.Errorf("BrowserProcess", "pid:%d ended: %v", cmd.Process.Pid, err)
		}
	}()
	return c, nil
}

// parseDevToolsURL reads the stderr of cmd until the browser announces
// its DevTools URL. The first error line logged by the browser is
// returned if it exits without one. Once the URL is found the rest of
// stderr is drained into the debug log.
func parseDevToolsURL(ctx context.Context, cmd command) (string, error) {
	type outcome struct {
		url string
		err error
	}
	found := make(chan outcome, 1)

	go func() {
		var (
			sc       = bufio.NewScanner(cmd.stderr)
			firstErr error
			reported bool
		)
		for sc.Scan() {
			line := sc.Text()
			if reported {
				cmd.logger.Debugf("browser:stderr", "%s", line)
				continue
			}
			if url, ok := strings.CutPrefix(strings.TrimSpace(line), devToolsPrefix); ok {
				found <- outcome{url: url}
				reported = true
				continue
			}
			if firstErr == nil && strings.Contains(line, ":ERROR:") {
				if _, msg, ok := strings.Cut(line, "] "); ok {
					firstErr = errors.New(msg)
				}
			}
		}
		if reported {
			return
		}
		switch {
		case firstErr != nil:
		case sc.Err() != nil:
			firstErr = fmt.Errorf("reading browser output: %w", sc.Err())
		default:
			firstErr = errNoDevToolsURL
		}
		found <- outcome{err: firstErr}
	}()

	select {
	case o := <-found:
		return o.url, o.err
	case <-cmd.done:
		// The output may still hold the URL or the reason of the exit.
		select {
		case o := <-found:
			return o.url, o.err
		case <-time.After(100 * time.Millisecond):
			return "", errProcessEnded
		}
	case <-ctx.Done():
		return "", ctx.Err()
	}
}
