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
package common

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"

	cdpruntime "github.com/chromedp/cdproto/runtime"
)

// maxSafeInteger is the largest integer a JavaScript number holds exactly.
const maxSafeInteger = 1<<53 - 1

// convertArgument turns a Go value into an argument of
// Runtime.callFunctionOn. Numbers JSON cannot represent, and integers a
// JavaScript number cannot hold, are passed in their unserializable form.
func convertArgument(arg any) (*cdpruntime.CallArgument, error) {
	var unserializable string
	switch a := arg.(type) {
	case cdpruntime.RemoteObjectID:
		return &cdpruntime.CallArgument{ObjectID: a}, nil
	case int:
		unserializable = bigIntLiteral(int64(a))
	case int64:
		unserializable = bigIntLiteral(a)
	case float32:
		unserializable = floatLiteral(float64(a))
	case float64:
		unserializable = floatLiteral(a)
	}
	if unserializable != "" {
		return &cdpruntime.CallArgument{UnserializableValue: cdpruntime.UnserializableValue(unserializable)}, nil
	}

	buf, err := json.Marshal(arg)
	if err != nil {
		return nil, fmt.Errorf("converting argument '%v': %w", arg, err)
	}
	return &cdpruntime.CallArgument{Value: buf}, nil
}

func bigIntLiteral(n int64) string {
	if n > maxSafeInteger || n < -maxSafeInteger {
		return fmt.Sprintf("%dn", n)
	}
	return ""
}

func floatLiteral(f float64) string {
	switch {
	case math.IsNaN(f):
		return "NaN"
	case math.IsInf(f, 1):
		return "Infinity"
	case math.IsInf(f, -1):
		return "-Infinity"
	case f == 0 && math.Signbit(f):
		return "-0"
	}
	return ""
}

func convertArguments(args ...any) ([]*cdpruntime.CallArgument, error) {
	out := make([]*cdpruntime.CallArgument, len(args))
	for i, arg := range args {
		ca, err := convertArgument(arg)
		if err != nil {
			return nil, err
		}
		out[i] = ca
	}
	return out, nil
}

// JSONEqual reports whether a and b are equal once both are reduced to
// their JSON form. Numbers of different Go types compare equal, strings
// never equal numbers.
func JSONEqual(a, b any) bool {
	na, err := normalizeJSON(a)
	if err != nil {
		return false
	}
	nb, err := normalizeJSON(b)
	if err != nil {
		return false
	}
	return reflect.DeepEqual(na, nb)
}

func normalizeJSON(v any) (any, error) {
	buf, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(buf, &out); err != nil {
		return nil, err
	}
	return out, nil
}
