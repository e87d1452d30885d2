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
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"testing"

	"github.com/dop251/goja"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liuxd6825/horseman/common/js"
)

func TestInferConvention(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		src   string
		nargs int
		want  CallConvention
	}{
		{name: "plain", src: `function() { return 1 }`, want: ConventionSync},
		{name: "plain with args", src: `function(a, b) { return a + b }`, nargs: 2, want: ConventionSync},
		{name: "callback", src: `function(done) { done(null, 1) }`, want: ConventionCallback},
		{name: "callback with args", src: `function(a, b, done) { done(null, a + b) }`, nargs: 2, want: ConventionCallback},
		{name: "arrow callback", src: `(a, done) => done(null, a)`, nargs: 1, want: ConventionCallback},
		{name: "async", src: `async function() { return 1 }`, want: ConventionDeferred},
		{name: "async arrow", src: `async (a) => a`, nargs: 1, want: ConventionDeferred},
		{name: "promise returning", src: `function() { return Promise.resolve(1) }`, want: ConventionSync},
		{name: "defaults are not counted", src: `function(a, done = null) {}`, nargs: 0, want: ConventionCallback},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := InferConvention(tt.src, tt.nargs)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestInferConventionInvalid(t *testing.T) {
	t.Parallel()

	for _, src := range []string{
		`document.title`,
		`(function() {})()`,
		`42`,
	} {
		_, err := InferConvention(src, 0)
		var ve *ValidationError
		require.ErrorAs(t, err, &ve, src)
	}
}

func TestInferConventionLeavesUnparsedSourceToPage(t *testing.T) {
	t.Parallel()

	for _, src := range []string{
		`function () { return typeof 10n; }`,
		`function (a) { a ??= 1; return a; }`,
		`function (a, done) { done(null, a?.b ?? 0n); }`,
		`function( {`,
	} {
		conv, err := InferConvention(src, 0)
		require.NoError(t, err, src)
		assert.Equal(t, ConventionAuto, conv, src)
	}
}

func TestHarnessAutoConvention(t *testing.T) {
	t.Parallel()

	rt := goja.New()
	require.NoError(t, rt.Set("window", rt.NewObject()))
	_, err := rt.RunString(js.HarnessScript)
	require.NoError(t, err)

	invoke := func(t *testing.T, token, fn string, args ...int) map[string]any {
		t.Helper()

		jsArgs := make([]string, 0, len(args))
		for _, a := range args {
			jsArgs = append(jsArgs, strconv.Itoa(a))
		}
		v, err := rt.RunString(fmt.Sprintf("JSON.stringify(window.__horseman.invoke(3, %q, %s, [%s]))",
			token, fn, strings.Join(jsArgs, ",")))
		require.NoError(t, err)

		var reply map[string]any
		require.NoError(t, json.Unmarshal([]byte(v.String()), &reply))
		return reply
	}

	reply := invoke(t, "sync", "function (a) { return a + 1; }", 1)
	assert.Equal(t, "done", reply["state"])
	assert.Equal(t, float64(2), reply["value"])

	reply = invoke(t, "cb", "function (a, done) { done(null, a * 10); }", 4)
	assert.Equal(t, "pending", reply["state"])
	parked, err := rt.RunString(`JSON.stringify(window.__horseman.take("cb"))`)
	require.NoError(t, err)
	assert.JSONEq(t, `{"state":"done","value":40,"binary":false}`, parked.String())
}

func TestCallConventionString(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "sync", ConventionSync.String())
	assert.Equal(t, "callback", ConventionCallback.String())
	assert.Equal(t, "deferred", ConventionDeferred.String())
	assert.Equal(t, "auto", ConventionAuto.String())
	assert.Equal(t, "CallConvention(9)", CallConvention(9).String())

	c, err := ParseCallConvention("Callback")
	require.NoError(t, err)
	assert.Equal(t, ConventionCallback, c)

	_, err = ParseCallConvention("nope")
	require.Error(t, err)
}
