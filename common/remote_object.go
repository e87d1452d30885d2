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
	"strings"

	cdpruntime "github.com/chromedp/cdproto/runtime"
	"github.com/tidwall/gjson"
)

// envelopeFromException builds an error envelope from the exception
// details the engine reports for a script that failed to compile or
// threw outside the page harness.
func envelopeFromException(exc *cdpruntime.ExceptionDetails) ErrorEnvelope {
	env := ErrorEnvelope{Kind: "Error", Message: exc.Text}
	if exc.Exception != nil {
		if exc.Exception.ClassName != "" {
			env.Kind = exc.Exception.ClassName
		}
		desc := exc.Exception.Description
		if desc == "" {
			desc = remoteObjectString(exc.Exception)
		}
		// Descriptions read "Kind: message\n    at ...".
		first, rest, _ := strings.Cut(desc, "\n")
		env.Message = strings.TrimPrefix(first, env.Kind+": ")
		env.RemoteStack = rest
	}
	if exc.StackTrace != nil && env.RemoteStack == "" {
		var sb strings.Builder
		for _, f := range exc.StackTrace.CallFrames {
			sb.WriteString("    at ")
			sb.WriteString(f.FunctionName)
			sb.WriteString(" (")
			sb.WriteString(f.URL)
			sb.WriteString(")\n")
		}
		env.RemoteStack = strings.TrimRight(sb.String(), "\n")
	}
	return env
}

// remoteObjectString renders a remote object for logs and console
// messages.
func remoteObjectString(obj *cdpruntime.RemoteObject) string {
	if obj == nil {
		return ""
	}
	if obj.UnserializableValue != "" {
		return obj.UnserializableValue.String()
	}
	if len(obj.Value) > 0 {
		v := gjson.ParseBytes(obj.Value)
		if v.Type == gjson.String {
			return v.String()
		}
		return v.Raw
	}
	if obj.Description != "" {
		return obj.Description
	}
	return obj.Type.String()
}

func remoteObjectsString(objs []*cdpruntime.RemoteObject) string {
	parts := make([]string, 0, len(objs))
	for _, o := range objs {
		parts = append(parts, remoteObjectString(o))
	}
	return strings.Join(parts, " ")
}

// remoteObjectValues decodes serializable objects and describes the
// others.
func remoteObjectValues(objs []*cdpruntime.RemoteObject) []any {
	vals := make([]any, 0, len(objs))
	for _, o := range objs {
		if o != nil && len(o.Value) > 0 {
			vals = append(vals, gjson.ParseBytes(o.Value).Value())
			continue
		}
		vals = append(vals, remoteObjectString(o))
	}
	return vals
}
