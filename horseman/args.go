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
package horseman

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/liuxd6825/horseman/common"
)

func argError(name string, format string, a ...any) error {
	return &common.ValidationError{Field: name, Reason: fmt.Sprintf(format, a...)}
}

// arg returns args[i] as a T.
func arg[T any](args []any, i int, name string) (T, error) {
	var zero T
	if i >= len(args) {
		return zero, argError(name, "missing argument")
	}
	v, ok := args[i].(T)
	if !ok {
		return zero, argError(name, "expected %T, got %T", zero, args[i])
	}
	return v, nil
}

// optArg returns args[i] as a T, or def when it is absent or nil.
func optArg[T any](args []any, i int, name string, def T) (T, error) {
	if i >= len(args) || args[i] == nil {
		return def, nil
	}
	return arg[T](args, i, name)
}

// argNumber accepts any Go number, including the float64 of decoded JSON.
func argNumber(args []any, i int, name string) (float64, error) {
	if i >= len(args) {
		return 0, argError(name, "missing argument")
	}
	switch n := args[i].(type) {
	case int:
		return float64(n), nil
	case int32:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case float32:
		return float64(n), nil
	case float64:
		return n, nil
	case json.Number:
		return n.Float64()
	}
	return 0, argError(name, "expected a number, got %T", args[i])
}

func argInt(args []any, i int, name string) (int, error) {
	f, err := argNumber(args, i, name)
	if err != nil {
		return 0, err
	}
	if f != math.Trunc(f) {
		return 0, argError(name, "%v is not an integer", f)
	}
	return int(f), nil
}

// argDecode converts args[i] to T through its JSON form, which lets
// callers pass either a T or a decoded JSON object.
func argDecode[T any](args []any, i int, name string) (T, error) {
	var v T
	if i >= len(args) {
		return v, argError(name, "missing argument")
	}
	if t, ok := args[i].(T); ok {
		return t, nil
	}
	if t, ok := args[i].(*T); ok && t != nil {
		return *t, nil
	}
	buf, err := json.Marshal(args[i])
	if err != nil {
		return v, argError(name, "%v", err)
	}
	if err := json.Unmarshal(buf, &v); err != nil {
		return v, argError(name, "%v", err)
	}
	return v, nil
}

// toInt converts a number produced by an evaluation.
func toInt(v any) int {
	switch n := v.(type) {
	case float64:
		return int(n)
	case int:
		return n
	case int64:
		return int(n)
	}
	return 0
}

func toFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	case int64:
		return float64(n)
	}
	return 0
}
