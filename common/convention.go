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
	"fmt"
	"strings"

	"github.com/dop251/goja"
	"github.com/dop251/goja/ast"
)

// CallConvention is the way an evaluated function reports completion.
type CallConvention int

const (
	// ConventionSync functions return their result. A returned thenable
	// is awaited.
	ConventionSync CallConvention = iota
	// ConventionCallback functions receive a trailing done(err, result).
	ConventionCallback
	// ConventionDeferred functions return a promise.
	ConventionDeferred
	// ConventionAuto leaves the choice to the page: callback when the
	// function declares one parameter more than it is given, sync
	// otherwise.
	ConventionAuto
)

var conventionNames = map[CallConvention]string{
	ConventionSync:     "sync",
	ConventionCallback: "callback",
	ConventionDeferred: "deferred",
	ConventionAuto:     "auto",
}

func (c CallConvention) String() string {
	if s, ok := conventionNames[c]; ok {
		return s
	}
	return fmt.Sprintf("CallConvention(%d)", int(c))
}

// ParseCallConvention maps a convention name back to its value.
func ParseCallConvention(s string) (CallConvention, error) {
	for c, name := range conventionNames {
		if strings.EqualFold(name, s) {
			return c, nil
		}
	}
	return 0, &ValidationError{Field: "convention", Reason: fmt.Sprintf("unknown calling convention %q", s)}
}

// FunctionInfo describes a function expression.
type FunctionInfo struct {
	// Length is the number of declared parameters before the first one
	// with a default value or a rest parameter.
	Length int
	Async  bool
}

// InspectFunction parses src, which must be a single function or arrow
// function expression, without running any of its code.
func InspectFunction(src string) (FunctionInfo, error) {
	info, _, err := inspectFunction(src)
	return info, err
}

// inspectFunction also reports whether src was understood at all. Source
// the local parser rejects may still be valid in the page.
func inspectFunction(src string) (info FunctionInfo, parsed bool, err error) {
	prg, err := goja.Parse("", "("+src+"\n)")
	if err != nil {
		return info, false, &ValidationError{Field: "function", Reason: err.Error()}
	}
	if len(prg.Body) != 1 {
		return info, true, &ValidationError{Field: "function", Reason: "expected a single function expression"}
	}
	stmt, ok := prg.Body[0].(*ast.ExpressionStatement)
	if !ok {
		return info, true, &ValidationError{Field: "function", Reason: "expected a single function expression"}
	}
	switch fn := stmt.Expression.(type) {
	case *ast.FunctionLiteral:
		info.Async = fn.Async
	case *ast.ArrowFunctionLiteral:
		info.Async = fn.Async
	default:
		return info, true, &ValidationError{Field: "function", Reason: "expected a single function expression"}
	}

	// Creating the function value runs none of its body; the runtime
	// computes length the way the page will.
	rt := goja.New()
	v, err := rt.RunString("(" + src + "\n)")
	if err != nil {
		return info, false, &ValidationError{Field: "function", Reason: err.Error()}
	}
	info.Length = int(v.ToObject(rt).Get("length").ToInteger())

	return info, true, nil
}

// InferConvention picks the calling convention of src for a call with
// nargs arguments: one extra declared parameter means a completion
// callback, an async function is deferred, anything else is sync.
// Source that does not parse locally is left to the page with
// ConventionAuto; the page reports real syntax errors.
func InferConvention(src string, nargs int) (CallConvention, error) {
	info, parsed, err := inspectFunction(src)
	switch {
	case !parsed:
		return ConventionAuto, nil
	case err != nil:
		return ConventionSync, err
	}
	switch {
	case info.Length == nargs+1:
		return ConventionCallback, nil
	case info.Async:
		return ConventionDeferred, nil
	default:
		return ConventionSync, nil
	}
}
