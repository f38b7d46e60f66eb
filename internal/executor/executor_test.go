package executor

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"githook-runner/internal/common/errors"
	"githook-runner/internal/common/logging"
)

func writeHandler(t *testing.T, script string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "handler.js")
	require.NoError(t, os.WriteFile(path, []byte(script), 0o644))
	return path
}

func newTestExecutor(timeout time.Duration) *GojaExecutor {
	return NewGojaExecutor(timeout, logging.NewDefaultLogger())
}

func strPtr(s string) *string { return &s }

func TestGojaExecutor_Execute(t *testing.T) {
	ctx := context.Background()
	exec := newTestExecutor(5 * time.Second)
	payload := json.RawMessage(`{"repository":{"full_name":"octocat/hello"},"count":3}`)

	t.Run("returns handler string output", func(t *testing.T) {
		path := writeHandler(t, `
			function handle_event(payload, event_type, action) {
				return event_type + ":" + action + ":" + payload.count;
			}
		`)

		output, err := exec.Execute(ctx, path, payload, "issues", strPtr("opened"))
		require.NoError(t, err)
		assert.Equal(t, "issues:opened:3", output)
	})

	t.Run("serializes object output as JSON", func(t *testing.T) {
		path := writeHandler(t, `
			function handle_event(payload) {
				return {repo: payload.repository.full_name, seen: true};
			}
		`)

		output, err := exec.Execute(ctx, path, payload, "issues", nil)
		require.NoError(t, err)
		assert.JSONEq(t, `{"repo":"octocat/hello","seen":true}`, output)
	})

	t.Run("nil action is passed as null", func(t *testing.T) {
		path := writeHandler(t, `
			function handle_event(payload, event_type, action) {
				return action === null ? "wildcard" : "specific";
			}
		`)

		output, err := exec.Execute(ctx, path, payload, "push", nil)
		require.NoError(t, err)
		assert.Equal(t, "wildcard", output)
	})

	t.Run("undefined return yields sentinel output", func(t *testing.T) {
		path := writeHandler(t, `function handle_event() {}`)

		output, err := exec.Execute(ctx, path, payload, "issues", nil)
		require.NoError(t, err)
		assert.Equal(t, "no output", output)
	})

	t.Run("null return yields sentinel output", func(t *testing.T) {
		path := writeHandler(t, `function handle_event() { return null; }`)

		output, err := exec.Execute(ctx, path, payload, "issues", nil)
		require.NoError(t, err)
		assert.Equal(t, "no output", output)
	})

	t.Run("missing artifact is a handler_not_found error", func(t *testing.T) {
		_, err := exec.Execute(ctx, filepath.Join(t.TempDir(), "gone.js"), payload, "issues", nil)
		require.Error(t, err)

		appErr, ok := errors.GetAppError(err)
		require.True(t, ok)
		assert.Equal(t, errors.ErrTypeExecution, appErr.Type)
		assert.Equal(t, "handler_not_found", appErr.Code)
	})

	t.Run("missing entry point is an entry_point_missing error", func(t *testing.T) {
		path := writeHandler(t, `var x = 1;`)

		_, err := exec.Execute(ctx, path, payload, "issues", nil)
		require.Error(t, err)

		appErr, ok := errors.GetAppError(err)
		require.True(t, ok)
		assert.Equal(t, "entry_point_missing", appErr.Code)
	})

	t.Run("non-function handle_event is an entry_point_missing error", func(t *testing.T) {
		path := writeHandler(t, `var handle_event = 42;`)

		_, err := exec.Execute(ctx, path, payload, "issues", nil)
		require.Error(t, err)

		appErr, ok := errors.GetAppError(err)
		require.True(t, ok)
		assert.Equal(t, "entry_point_missing", appErr.Code)
	})

	t.Run("thrown error is a handler_failed error with the message", func(t *testing.T) {
		path := writeHandler(t, `
			function handle_event() { throw new Error("kaboom"); }
		`)

		_, err := exec.Execute(ctx, path, payload, "issues", nil)
		require.Error(t, err)

		appErr, ok := errors.GetAppError(err)
		require.True(t, ok)
		assert.Equal(t, "handler_failed", appErr.Code)
		assert.Contains(t, appErr.Message, "kaboom")
	})

	t.Run("runaway handler is interrupted", func(t *testing.T) {
		path := writeHandler(t, `
			function handle_event() { while (true) {} }
		`)

		short := newTestExecutor(100 * time.Millisecond)
		start := time.Now()
		_, err := short.Execute(ctx, path, payload, "issues", nil)
		require.Error(t, err)
		assert.Less(t, time.Since(start), 5*time.Second)

		appErr, ok := errors.GetAppError(err)
		require.True(t, ok)
		assert.Equal(t, "timeout", appErr.Code)
	})

	t.Run("fulfilled promise resolves to its value", func(t *testing.T) {
		path := writeHandler(t, `
			function handle_event(payload) {
				return Promise.resolve("async:" + payload.count);
			}
		`)

		output, err := exec.Execute(ctx, path, payload, "issues", nil)
		require.NoError(t, err)
		assert.Equal(t, "async:3", output)
	})

	t.Run("rejected promise is a handler_failed error", func(t *testing.T) {
		path := writeHandler(t, `
			function handle_event() {
				return Promise.reject(new Error("nope"));
			}
		`)

		_, err := exec.Execute(ctx, path, payload, "issues", nil)
		require.Error(t, err)

		appErr, ok := errors.GetAppError(err)
		require.True(t, ok)
		assert.Equal(t, "handler_failed", appErr.Code)
		assert.Contains(t, appErr.Message, "nope")
	})

	t.Run("chained promise settles before control returns", func(t *testing.T) {
		path := writeHandler(t, `
			function handle_event(payload) {
				return Promise.resolve(payload.count).then(function(n) { return n * 2; });
			}
		`)

		output, err := exec.Execute(ctx, path, payload, "issues", nil)
		require.NoError(t, err)
		assert.Equal(t, "4", output)
	})

	t.Run("invocations do not share runtime state", func(t *testing.T) {
		path := writeHandler(t, `
			var calls = (typeof calls === "undefined") ? 0 : calls;
			function handle_event() {
				calls = calls + 1;
				return String(calls);
			}
		`)

		first, err := exec.Execute(ctx, path, payload, "issues", nil)
		require.NoError(t, err)
		second, err := exec.Execute(ctx, path, payload, "issues", nil)
		require.NoError(t, err)

		assert.Equal(t, "1", first)
		assert.Equal(t, "1", second)
	})

	t.Run("original artifact is untouched", func(t *testing.T) {
		script := `function handle_event() { return "ok"; }`
		path := writeHandler(t, script)

		_, err := exec.Execute(ctx, path, payload, "issues", nil)
		require.NoError(t, err)

		content, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Equal(t, script, string(content))
	})
}
