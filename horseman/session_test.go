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
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"gopkg.in/guregu/null.v3"

	"github.com/liuxd6825/horseman/common"
	"github.com/liuxd6825/horseman/log"
	"github.com/liuxd6825/horseman/tests/ws"
)

var errBoom = errors.New("boom")

// journal collects the arguments of the sessionTestRecord action.
type journal struct {
	mu      sync.Mutex
	entries []any
}

func (j *journal) add(v any) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, v)
}

func (j *journal) get() []any {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]any(nil), j.entries...)
}

func init() {
	MustRegisterAction("sessionTestEcho", func(_ context.Context, _ *Session, args ...any) (any, error) {
		return firstArg(args), nil
	})
	MustRegisterAction("sessionTestSlow", func(ctx context.Context, _ *Session, args ...any) (any, error) {
		time.Sleep(50 * time.Millisecond)
		args[0].(*journal).add(args[1])
		return args[1], nil
	})
	MustRegisterAction("sessionTestRecord", func(_ context.Context, _ *Session, args ...any) (any, error) {
		args[0].(*journal).add(args[1])
		return args[1], nil
	})
	MustRegisterAction("sessionTestFail", func(context.Context, *Session, ...any) (any, error) {
		return nil, errBoom
	})
}

func newFakeSession(t *testing.T, fb *ws.FakeBrowser, opts Options, sopts ...SessionOption) *Session {
	t.Helper()

	server := ws.NewServer(t, ws.WithCDPHandler("/cdp", fb.Handle, nil))
	opts.WSEndpoint = null.StringFrom(server.URL("/cdp"))
	sopts = append([]SessionOption{
		WithLogger(log.NewNullLogger()),
		WithFs(afero.NewMemMapFs()),
	}, sopts...)
	s := NewSession(context.Background(), opts, sopts...)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// evalBy answers harness invocations whose source contains a key of
// results with the JSON value mapped to it.
func evalBy(results map[string]string) func(ws.FunctionCall) string {
	return func(call ws.FunctionCall) string {
		if !call.IsInvocation() {
			return ""
		}
		for frag, v := range results {
			if strings.Contains(call.Declaration, frag) {
				return ws.Done(v)
			}
		}
		return ""
	}
}

func TestSessionRunsActionsInIssueOrder(t *testing.T) {
	t.Parallel()

	s := newFakeSession(t, &ws.FakeBrowser{}, Options{})
	var j journal

	s.Do("sessionTestSlow", &j, "first")
	s.Do("sessionTestRecord", &j, "second")
	c := s.Do("sessionTestSlow", &j, "third").Do("sessionTestRecord", &j, "fourth")

	require.NoError(t, c.Err())
	assert.Equal(t, []any{"first", "second", "third", "fourth"}, j.get())
}

func TestChainShortCircuits(t *testing.T) {
	t.Parallel()

	s := newFakeSession(t, &ws.FakeBrowser{}, Options{})
	var j journal

	c := s.Do("sessionTestFail").Do("sessionTestRecord", &j, "skipped")
	err := c.Err()
	require.ErrorIs(t, err, errBoom)
	assert.Contains(t, err.Error(), "sessionTestFail")
	assert.Empty(t, j.get())

	// The failure is confined to its chain.
	v, err := s.Do("sessionTestRecord", &j, "next").Result()
	require.NoError(t, err)
	assert.Equal(t, "next", v)

	v, err = s.Do("sessionTestFail").
		Catch(func(err error) (any, error) {
			assert.ErrorIs(t, err, errBoom)
			return "recovered", nil
		}).
		Then(func(v any) (any, error) { return v.(string) + "!", nil }).
		Result()
	require.NoError(t, err)
	assert.Equal(t, "recovered!", v)
}

func TestChainLastVal(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	s := newFakeSession(t, &ws.FakeBrowser{}, Options{}, WithOutput(&out))

	c := s.Do("sessionTestEcho", 1).Do("sessionTestEcho", 2)
	v, err := c.Result()
	require.NoError(t, err)
	assert.Equal(t, 2, v)
	assert.Equal(t, 1, c.LastVal())
	assert.Equal(t, 2, s.LastVal())

	v, err = s.Do("sessionTestEcho", map[string]int{"a": 1}).Log().Result()
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"a": 1}, v)

	_, err = s.Do("sessionTestEcho", "plain").Log().Log("x", 2).Result()
	require.NoError(t, err)
	assert.Equal(t, "{\"a\":1}\nplain\nx 2\n", out.String())
}

func TestSessionClose(t *testing.T) {
	t.Parallel()

	fb := &ws.FakeBrowser{}
	s := newFakeSession(t, fb, Options{})
	require.NoError(t, s.Do("sessionTestEcho", 1).Err())

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	assert.ErrorIs(t, s.Do("sessionTestEcho", 1).Err(), common.ErrSessionClosed)
	assert.ErrorIs(t, s.Open("http://horseman.test/").Err(), common.ErrSessionClosed)
}

func TestSessionStartFailure(t *testing.T) {
	t.Parallel()

	s := NewSession(context.Background(), Options{Timeout: null.IntFrom(0)}, WithLogger(log.NewNullLogger()))

	var verr *common.ValidationError
	require.ErrorAs(t, s.Open("http://horseman.test/").Err(), &verr)
	assert.Equal(t, "timeout", verr.Field)
	require.ErrorAs(t, s.Do("sessionTestEcho", 1).Err(), &verr)

	require.ErrorAs(t, s.Close(), &verr)
	assert.NoError(t, s.Close())
}

func TestSessionMissingClientScript(t *testing.T) {
	t.Parallel()

	s := newFakeSession(t, &ws.FakeBrowser{}, Options{ClientScripts: []string{"/scripts/missing.js"}})
	var verr *common.ValidationError
	require.ErrorAs(t, s.Do("sessionTestEcho", 1).Err(), &verr)
	assert.Equal(t, "clientScripts", verr.Field)
}

func TestSessionUnknownAction(t *testing.T) {
	t.Parallel()

	s := newFakeSession(t, &ws.FakeBrowser{}, Options{})
	var verr *common.ValidationError
	require.ErrorAs(t, s.Do("noSuchAction").Err(), &verr)
	// Not fatal.
	assert.NoError(t, s.Do("sessionTestEcho", 1).Err())
}

func TestSessionSpans(t *testing.T) {
	t.Parallel()

	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	s := newFakeSession(t, &ws.FakeBrowser{}, Options{}, WithTracerProvider(tp))

	require.NoError(t, s.Do("sessionTestEcho", 1).Err())
	require.Error(t, s.Do("sessionTestFail").Err())
	require.NoError(t, s.Close())

	status := make(map[string]codes.Code)
	for _, span := range rec.Ended() {
		status[span.Name()] = span.Status().Code
	}
	assert.Equal(t, codes.Unset, status["horseman.start"])
	assert.Equal(t, codes.Unset, status["horseman.sessionTestEcho"])
	assert.Equal(t, codes.Error, status["horseman.sessionTestFail"])
}

func TestSessionStatus(t *testing.T) {
	t.Parallel()

	fb := &ws.FakeBrowser{
		Status: func(url string) int64 {
			if strings.HasSuffix(url, "/missing") {
				return 404
			}
			return 200
		},
	}
	s := newFakeSession(t, fb, Options{})

	v, err := s.Status().Result()
	require.NoError(t, err)
	assert.Nil(t, v, "no URL opened yet")

	v, err = s.Open("http://horseman.test/").Status().Result()
	require.NoError(t, err)
	assert.Equal(t, int64(200), v)

	v, err = s.Open("http://horseman.test/missing").Status().Result()
	require.NoError(t, err)
	assert.Equal(t, int64(404), v)

	v, err = s.URL().Result()
	require.NoError(t, err)
	assert.Equal(t, "http://horseman.test/missing", v)
}

func TestSessionStatusTrailingSlash(t *testing.T) {
	t.Parallel()

	s := &Session{responses: make(map[string]int64)}
	s.setTarget("http://horseman.test")
	_, ok := s.status()
	assert.False(t, ok)

	s.recordStatus("http://horseman.test/", 301)
	st, ok := s.status()
	require.True(t, ok)
	assert.Equal(t, int64(301), st)

	s.recordStatus("http://horseman.test", 200)
	st, _ = s.status()
	assert.Equal(t, int64(200), st)
}

func TestSessionNavigationFailureKeepsSession(t *testing.T) {
	t.Parallel()

	fb := &ws.FakeBrowser{
		NavigationError: func(url string) string {
			if strings.Contains(url, "refused") {
				return "net::ERR_CONNECTION_REFUSED"
			}
			return ""
		},
	}
	s := newFakeSession(t, fb, Options{})

	var nerr *common.NavigationError
	require.ErrorAs(t, s.Open("http://refused.test/").Err(), &nerr)

	v, err := s.Open("http://horseman.test/ok").URL().Result()
	require.NoError(t, err)
	assert.Equal(t, "http://horseman.test/ok", v)
}

func TestSessionEvents(t *testing.T) {
	t.Parallel()

	s := newFakeSession(t, &ws.FakeBrowser{}, Options{})

	var (
		mu     sync.Mutex
		events []Event
	)
	record := func(ev Event) {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, ev)
	}
	require.NoError(t, s.On(EventLoadFinished, record).On(EventURLChanged, record).Err())
	require.NoError(t, s.Open("http://horseman.test/events").Err())

	// Page events are delivered asynchronously.
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		for _, ev := range events {
			if ev.Name == EventLoadFinished {
				return true
			}
		}
		return false
	}, time.Second, 10*time.Millisecond)

	mu.Lock()
	for _, ev := range events {
		assert.Equal(t, 0, ev.Tab)
		assert.NotNil(t, ev.Page)
		switch ev.Name {
		case EventLoadFinished:
			assert.Equal(t, "success", ev.Status)
		case EventURLChanged:
			assert.Equal(t, "http://horseman.test/events", ev.URL)
		}
	}
	mu.Unlock()

	var verr *common.ValidationError
	assert.ErrorAs(t, s.On("noSuchEvent", record).Err(), &verr)
	assert.ErrorAs(t, s.At("noSuchDialog", nil).Err(), &verr)
}

func TestSessionDialogResponders(t *testing.T) {
	t.Parallel()

	s := newFakeSession(t, &ws.FakeBrowser{}, Options{})

	resp := s.answerDialog(common.Dialog{Type: "prompt", DefaultPrompt: "dflt"})
	assert.Equal(t, common.DialogResponse{Accept: true, PromptText: "dflt"}, resp)

	require.NoError(t, s.At(EventConfirm, func(d common.Dialog) common.DialogResponse {
		return common.DialogResponse{Accept: d.Message == "sure?"}
	}).Err())
	assert.True(t, s.answerDialog(common.Dialog{Type: "confirm", Message: "sure?"}).Accept)
	assert.False(t, s.answerDialog(common.Dialog{Type: "confirm", Message: "really?"}).Accept)

	require.NoError(t, s.At(EventConfirm, nil).Err())
	assert.True(t, s.answerDialog(common.Dialog{Type: "confirm", Message: "really?"}).Accept)
}
