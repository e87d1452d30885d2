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
	"context"
	"errors"
	"fmt"

	"github.com/chromedp/cdproto/cdp"
	cdpruntime "github.com/chromedp/cdproto/runtime"
	gouuid "github.com/nu7hatch/gouuid"
	"github.com/tidwall/gjson"
	"github.com/vincent-petithory/dataurl"

	"github.com/liuxd6825/horseman/common/js"
	"github.com/liuxd6825/horseman/log"
)

const evaluationScriptURL = "__horseman_evaluation_script__"

const (
	invokeWrapperStart = `function (conv, token) {
	var args = Array.prototype.slice.call(arguments, 2);
	if (!window.` + HarnessGlobal + `) {
		return { state: 'missing' };
	}
	return window.` + HarnessGlobal + `.invoke(conv, token, (`
	invokeWrapperEnd = `
	), args);
}
//# sourceURL=` + evaluationScriptURL

	hasResultFn  = `function (token) { return !!(window.` + HarnessGlobal + ` && window.` + HarnessGlobal + `.has(token)); }`
	takeResultFn = `function (token) { return window.` + HarnessGlobal + `.take(token); }`
)

// ContextFunc resolves the execution context evaluations run in.
type ContextFunc func(ctx context.Context) (cdpruntime.ExecutionContextID, error)

// EvaluateParams describes one evaluation.
type EvaluateParams struct {
	// Source is the text of a function expression.
	Source     string
	Convention CallConvention
	Args       []any
}

// Evaluator runs functions inside a page and reconstructs their
// results and errors.
type Evaluator struct {
	exec      cdp.Executor
	contextID ContextFunc
	waiter    *Waiter
	logger    *log.Logger
}

// NewEvaluator returns an evaluator sending commands through exec.
// Results that are not available synchronously are polled with waiter.
func NewEvaluator(exec cdp.Executor, contextID ContextFunc, waiter *Waiter, logger *log.Logger) *Evaluator {
	return &Evaluator{
		exec:      exec,
		contextID: contextID,
		waiter:    waiter,
		logger:    logger,
	}
}

// WithWaiter returns a copy of the evaluator polling with w.
func (e *Evaluator) WithWaiter(w *Waiter) *Evaluator {
	cp := *e
	cp.waiter = w
	return &cp
}

type evalReply struct {
	state  string
	value  gjson.Result
	binary bool
	err    ErrorEnvelope
}

func parseEvalReply(raw []byte) (*evalReply, error) {
	if len(raw) == 0 || !gjson.ValidBytes(raw) {
		return nil, &TransportError{Op: "decoding evaluation reply", Err: fmt.Errorf("malformed reply %q", raw)}
	}
	r := gjson.ParseBytes(raw)
	reply := &evalReply{
		state:  r.Get("state").String(),
		value:  r.Get("value"),
		binary: r.Get("binary").Bool(),
	}
	if reply.state == "error" {
		reply.err = ErrorEnvelope{
			Kind:        r.Get("error.kind").String(),
			Message:     r.Get("error.message").String(),
			RemoteStack: r.Get("error.stack").String(),
		}
	}
	return reply, nil
}

func (r *evalReply) result() (any, error) {
	switch r.state {
	case "done":
		if r.binary {
			du, err := dataurl.DecodeString(r.value.String())
			if err != nil {
				return nil, fmt.Errorf("decoding binary result: %w", err)
			}
			return du.Data, nil
		}
		return r.value.Value(), nil
	case "error":
		return nil, newEvaluationError(r.err)
	default:
		return nil, &TransportError{Op: "decoding evaluation reply", Err: fmt.Errorf("unexpected state %q", r.state)}
	}
}

// Evaluate calls the function in p.Source with p.Args and returns its
// result. Binary results (Blob, ArrayBuffer, typed arrays) are returned
// as []byte. Errors raised in the page are returned as *EvaluationError.
func (e *Evaluator) Evaluate(ctx context.Context, p EvaluateParams) (any, error) {
	e.logger.Debugf("Evaluator:Evaluate", "convention:%s nargs:%d", p.Convention, len(p.Args))

	tok, err := gouuid.NewV4()
	if err != nil {
		return nil, fmt.Errorf("generating evaluation token: %w", err)
	}
	token := tok.String()

	reply, err := e.invoke(ctx, p, token)
	if err != nil {
		return nil, err
	}
	if reply.state == "missing" {
		if err := e.InstallHarness(ctx); err != nil {
			return nil, err
		}
		if reply, err = e.invoke(ctx, p, token); err != nil {
			return nil, err
		}
	}
	if reply.state != "pending" {
		return reply.result()
	}

	e.logger.Debugf("Evaluator:Evaluate", "token:%s pending", token)
	err = e.waiter.Poll(ctx, "evaluate", func(ctx context.Context) (bool, error) {
		ro, err := e.call(ctx, hasResultFn, true, token)
		if err != nil {
			return false, err
		}
		return gjson.ParseBytes(ro.Value).Bool(), nil
	})
	if err != nil {
		return nil, err
	}

	ro, err := e.call(ctx, takeResultFn, true, token)
	if err != nil {
		return nil, err
	}
	if reply, err = parseEvalReply(ro.Value); err != nil {
		return nil, err
	}
	return reply.result()
}

func (e *Evaluator) invoke(ctx context.Context, p EvaluateParams, token string) (*evalReply, error) {
	args := append([]any{int(p.Convention), token}, p.Args...)
	ro, err := e.call(ctx, invokeWrapperStart+p.Source+invokeWrapperEnd, true, args...)
	if err != nil {
		return nil, err
	}
	return parseEvalReply(ro.Value)
}

// EvaluateHandle calls the function in src and returns a handle to the
// object it returns. A null or undefined result yields an empty id.
func (e *Evaluator) EvaluateHandle(ctx context.Context, src string, args ...any) (cdpruntime.RemoteObjectID, error) {
	ro, err := e.call(ctx, src, false, args...)
	if err != nil {
		return "", err
	}
	return ro.ObjectID, nil
}

// InstallHarness (re)installs the page harness in the current context,
// discarding every parked result.
func (e *Evaluator) InstallHarness(ctx context.Context) error {
	return e.Run(ctx, js.HarnessScript)
}

// Run evaluates a script for its side effects.
func (e *Evaluator) Run(ctx context.Context, script string) error {
	id, err := e.contextID(ctx)
	if err != nil {
		return err
	}
	action := cdpruntime.Evaluate(script).
		WithContextID(id).
		WithSilent(true)
	_, exc, err := action.Do(cdp.WithExecutor(ctx, e.exec))
	if err != nil {
		return wrapProtocolError("evaluating script", err)
	}
	if exc != nil {
		return newEvaluationError(envelopeFromException(exc))
	}
	return nil
}

func (e *Evaluator) call(ctx context.Context, fn string, byValue bool, args ...any) (*cdpruntime.RemoteObject, error) {
	id, err := e.contextID(ctx)
	if err != nil {
		return nil, err
	}
	cargs, err := convertArguments(args...)
	if err != nil {
		return nil, &ValidationError{Field: "args", Reason: err.Error()}
	}
	action := cdpruntime.CallFunctionOn(fn).
		WithArguments(cargs).
		WithExecutionContextID(id).
		WithReturnByValue(byValue).
		WithAwaitPromise(false).
		WithUserGesture(true)
	ro, exc, err := action.Do(cdp.WithExecutor(ctx, e.exec))
	if err != nil {
		return nil, wrapProtocolError("calling function", err)
	}
	if exc != nil {
		return nil, newEvaluationError(envelopeFromException(exc))
	}
	if ro == nil {
		return &cdpruntime.RemoteObject{}, nil
	}
	return ro, nil
}

// wrapProtocolError keeps transport failures and context errors
// untouched and prefixes engine side protocol errors.
func wrapProtocolError(op string, err error) error {
	if IsTransport(err) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%s: %w", op, err)
}
