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
	"errors"
	"fmt"
	"runtime"
	"strings"
	"time"
)

var (
	ErrChannelClosed = errors.New("channel closed")
	ErrTargetCrashed = errors.New("target has crashed")
	ErrSessionClosed = errors.New("session closed")
	ErrNoActivePage  = errors.New("no active page")
	ErrNoSuchTab     = errors.New("no such tab")
	ErrNoSuchFrame   = errors.New("no such frame")
	ErrNoContext     = errors.New("execution context not available")
)

// TransportError means the channel to the engine process failed
// or the process could not be started.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("transport: %v", e.Err)
	}
	return fmt.Sprintf("transport: %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// NavigationError is returned when a navigation did not complete
// successfully.
type NavigationError struct {
	Method string
	URL    string
	Reason string
}

func (e *NavigationError) Error() string {
	msg := fmt.Sprintf("Failed to %s url: %s", e.Method, e.URL)
	if e.Reason != "" {
		msg += " (" + e.Reason + ")"
	}
	return msg
}

// ErrorEnvelope is the serialized form of an error raised inside the page.
type ErrorEnvelope struct {
	Kind        string `json:"kind"`
	Message     string `json:"message"`
	RemoteStack string `json:"stack"`
}

// EvaluationError wraps an exception thrown, rejected or called back
// by an evaluated function.
type EvaluationError struct {
	ErrorEnvelope
	LocalStack string
}

func newEvaluationError(env ErrorEnvelope) *EvaluationError {
	if env.Kind == "" {
		env.Kind = "Error"
	}
	return &EvaluationError{
		ErrorEnvelope: env,
		LocalStack:    callerStack(3),
	}
}

func (e *EvaluationError) Error() string {
	return e.Kind + ": " + e.Message
}

// Stack returns the remote stack followed by the local call site stack.
func (e *EvaluationError) Stack() string {
	var sb strings.Builder
	sb.WriteString(e.RemoteStack)
	if e.LocalStack != "" {
		if sb.Len() > 0 {
			sb.WriteByte('\n')
		}
		sb.WriteString(e.LocalStack)
	}
	return sb.String()
}

// TimeoutError is returned when a wait did not succeed in time.
type TimeoutError struct {
	Op      string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timeout during .%s() after %d ms", e.Op, e.Timeout.Milliseconds())
}

// ValidationError is a local precondition failure detected
// before anything was sent to the engine.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return e.Field + ": " + e.Reason
}

// IsTimeout reports whether err is or wraps a *TimeoutError.
func IsTimeout(err error) bool {
	var te *TimeoutError
	return errors.As(err, &te)
}

// IsTransport reports whether err is or wraps a *TransportError.
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

func callerStack(skip int) string {
	pcs := make([]uintptr, 32)
	n := runtime.Callers(skip, pcs)
	frames := runtime.CallersFrames(pcs[:n])

	var sb strings.Builder
	for {
		f, more := frames.Next()
		fmt.Fprintf(&sb, "    at %s (%s:%d)\n", f.Function, f.File, f.Line)
		if !more {
			break
		}
	}
	return strings.TrimRight(sb.String(), "\n")
}
