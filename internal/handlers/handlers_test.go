package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"githook-runner/internal/circuitbreaker"
	"githook-runner/internal/common/logging"
	"githook-runner/internal/engine"
	"githook-runner/internal/executor"
	"githook-runner/internal/matcher"
	"githook-runner/internal/notify"
	"githook-runner/internal/signature"
	"githook-runner/internal/storage"
	"githook-runner/internal/storage/sqlite"
)

const testSecret = "test-secret"

type testEnv struct {
	handlers *Handlers
	store    storage.Storage
	verifier *signature.Verifier
	router   *mux.Router
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	store, err := sqlite.NewAdapter(&sqlite.Config{
		DatabasePath: filepath.Join(t.TempDir(), "handlers_test.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	logger := logging.NewDefaultLogger()
	breakers := circuitbreaker.NewRegistry(logger)
	eng := engine.New(
		store,
		matcher.NewMatcher(store, breakers, logger),
		executor.NewGojaExecutor(time.Second, logger),
		notify.NewDispatcher(store, notify.NewLogSink(logger), logger),
		1, 16, logger,
	)

	verifier := signature.NewVerifier(testSecret)
	h := New(store, verifier, eng, breakers, logger)

	router := mux.NewRouter()
	router.HandleFunc("/webhooks", h.HandleWebhook).Methods("POST")
	router.HandleFunc("/api/triggers", h.GetTriggers).Methods("GET")
	router.HandleFunc("/api/triggers", h.CreateTrigger).Methods("POST")
	router.HandleFunc("/api/triggers/{id}", h.GetTrigger).Methods("GET")
	router.HandleFunc("/api/triggers/{id}", h.UpdateTrigger).Methods("PUT", "PATCH")
	router.HandleFunc("/api/triggers/{id}", h.DeleteTrigger).Methods("DELETE")
	router.HandleFunc("/api/events", h.GetEvents).Methods("GET")
	router.HandleFunc("/api/events/{id}", h.GetEvent).Methods("GET")
	router.HandleFunc("/api/executions", h.GetExecutions).Methods("GET")
	router.HandleFunc("/api/executions/{id}", h.GetExecution).Methods("GET")
	router.HandleFunc("/api/notifications", h.GetNotifications).Methods("GET")
	router.HandleFunc("/api/notifications/{id}", h.GetNotification).Methods("GET")
	router.HandleFunc("/api/notifications/{id}/read", h.MarkNotificationRead).Methods("POST")
	router.HandleFunc("/api/breakers", h.GetBreakers).Methods("GET")
	router.HandleFunc("/health", h.Health).Methods("GET")

	return &testEnv{handlers: h, store: store, verifier: verifier, router: router}
}

func (e *testEnv) do(t *testing.T, method, path string, body []byte, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) deliver(t *testing.T, eventType string, payload []byte) *httptest.ResponseRecorder {
	t.Helper()

	return e.do(t, http.MethodPost, "/webhooks", payload, map[string]string{
		"X-GitHub-Event":      eventType,
		"X-Hub-Signature-256": e.verifier.Sign(payload),
	})
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()

	var envelope struct {
		Error struct {
			Type    string `json:"type"`
			Message string `json:"message"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	return envelope.Error.Type
}

var validPayload = []byte(`{
	"action": "opened",
	"repository": {"full_name": "octocat/hello"},
	"sender": {"login": "octocat"}
}`)

func TestHandleWebhook(t *testing.T) {
	t.Run("accepts a signed delivery with 202", func(t *testing.T) {
		env := newTestEnv(t)

		rec := env.deliver(t, "issues", validPayload)
		require.Equal(t, http.StatusAccepted, rec.Code)

		var resp map[string]string
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "accepted", resp["status"])
		require.NotEmpty(t, resp["id"])

		event, err := env.store.GetEvent(resp["id"])
		require.NoError(t, err)
		assert.Equal(t, "issues", event.EventType)
		assert.Equal(t, "octocat/hello", event.Repository)
		assert.Equal(t, "octocat", event.Sender)
		require.NotNil(t, event.Action)
		assert.Equal(t, "opened", *event.Action)
		assert.False(t, event.Processed)
	})

	t.Run("rejects missing signature with 403", func(t *testing.T) {
		env := newTestEnv(t)

		rec := env.do(t, http.MethodPost, "/webhooks", validPayload, map[string]string{
			"X-GitHub-Event": "issues",
		})
		assert.Equal(t, http.StatusForbidden, rec.Code)
		assert.Equal(t, "signature", decodeError(t, rec))
	})

	t.Run("rejects invalid signature with 403 and stores nothing", func(t *testing.T) {
		env := newTestEnv(t)

		other := signature.NewVerifier("wrong-secret")
		rec := env.do(t, http.MethodPost, "/webhooks", validPayload, map[string]string{
			"X-GitHub-Event":      "issues",
			"X-Hub-Signature-256": other.Sign(validPayload),
		})
		assert.Equal(t, http.StatusForbidden, rec.Code)

		events, err := env.store.ListEvents(10, 0)
		require.NoError(t, err)
		assert.Empty(t, events)
	})

	t.Run("rejects missing event type header with 400", func(t *testing.T) {
		env := newTestEnv(t)

		rec := env.do(t, http.MethodPost, "/webhooks", validPayload, map[string]string{
			"X-Hub-Signature-256": env.verifier.Sign(validPayload),
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "validation", decodeError(t, rec))
	})

	t.Run("rejects malformed JSON with 400", func(t *testing.T) {
		env := newTestEnv(t)

		body := []byte(`{"action": `)
		rec := env.deliver(t, "issues", body)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("rejects payload without repository with 400", func(t *testing.T) {
		env := newTestEnv(t)

		body := []byte(`{"sender": {"login": "octocat"}}`)
		rec := env.deliver(t, "issues", body)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestTriggerEndpoints(t *testing.T) {
	createBody := []byte(`{
		"name": "on-open",
		"repository": "octocat/hello",
		"event_type": "issues",
		"action": "opened",
		"codefile_path": "/handlers/open.js",
		"notify": true
	}`)

	t.Run("create returns 201 with defaults applied", func(t *testing.T) {
		env := newTestEnv(t)

		rec := env.do(t, http.MethodPost, "/api/triggers", createBody, nil)
		require.Equal(t, http.StatusCreated, rec.Code)

		var trigger storage.Trigger
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &trigger))
		assert.NotEmpty(t, trigger.ID)
		assert.True(t, trigger.Enabled)
		assert.True(t, trigger.Notify)
	})

	t.Run("create rejects missing fields with 400", func(t *testing.T) {
		env := newTestEnv(t)

		rec := env.do(t, http.MethodPost, "/api/triggers", []byte(`{"name": "x"}`), nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "validation", decodeError(t, rec))
	})

	t.Run("get unknown trigger returns 404", func(t *testing.T) {
		env := newTestEnv(t)

		rec := env.do(t, http.MethodGet, "/api/triggers/missing", nil, nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Equal(t, "not_found", decodeError(t, rec))
	})

	t.Run("patch updates only provided fields", func(t *testing.T) {
		env := newTestEnv(t)

		rec := env.do(t, http.MethodPost, "/api/triggers", createBody, nil)
		require.Equal(t, http.StatusCreated, rec.Code)
		var created storage.Trigger
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

		rec = env.do(t, http.MethodPatch, "/api/triggers/"+created.ID,
			[]byte(`{"enabled": false}`), nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var updated storage.Trigger
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &updated))
		assert.False(t, updated.Enabled)
		assert.Equal(t, created.Name, updated.Name)
		require.NotNil(t, updated.Action)
		assert.Equal(t, "opened", *updated.Action)
	})

	t.Run("patch with explicit null action clears the filter", func(t *testing.T) {
		env := newTestEnv(t)

		rec := env.do(t, http.MethodPost, "/api/triggers", createBody, nil)
		require.Equal(t, http.StatusCreated, rec.Code)
		var created storage.Trigger
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

		rec = env.do(t, http.MethodPatch, "/api/triggers/"+created.ID,
			[]byte(`{"action": null}`), nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var updated storage.Trigger
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &updated))
		assert.Nil(t, updated.Action)
	})

	t.Run("delete returns 204 then 404", func(t *testing.T) {
		env := newTestEnv(t)

		rec := env.do(t, http.MethodPost, "/api/triggers", createBody, nil)
		require.Equal(t, http.StatusCreated, rec.Code)
		var created storage.Trigger
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

		rec = env.do(t, http.MethodDelete, "/api/triggers/"+created.ID, nil, nil)
		assert.Equal(t, http.StatusNoContent, rec.Code)

		rec = env.do(t, http.MethodDelete, "/api/triggers/"+created.ID, nil, nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("list filters by enabled", func(t *testing.T) {
		env := newTestEnv(t)

		rec := env.do(t, http.MethodPost, "/api/triggers", createBody, nil)
		require.Equal(t, http.StatusCreated, rec.Code)
		rec = env.do(t, http.MethodPost, "/api/triggers",
			[]byte(`{"name":"off","repository":"octocat/hello","event_type":"push","codefile_path":"/h.js","enabled":false}`), nil)
		require.Equal(t, http.StatusCreated, rec.Code)

		rec = env.do(t, http.MethodGet, "/api/triggers?enabled=true", nil, nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var triggers []storage.Trigger
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &triggers))
		require.Len(t, triggers, 1)
		assert.Equal(t, "on-open", triggers[0].Name)
	})
}

func TestInspectionEndpoints(t *testing.T) {
	t.Run("events list and get", func(t *testing.T) {
		env := newTestEnv(t)

		rec := env.deliver(t, "push", []byte(`{"repository":{"full_name":"octocat/hello"},"sender":{"login":"octocat"}}`))
		require.Equal(t, http.StatusAccepted, rec.Code)

		rec = env.do(t, http.MethodGet, "/api/events", nil, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		var events []storage.Event
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &events))
		require.Len(t, events, 1)

		rec = env.do(t, http.MethodGet, "/api/events/"+events[0].ID, nil, nil)
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("empty lists serialize as arrays", func(t *testing.T) {
		env := newTestEnv(t)

		for _, path := range []string{"/api/events", "/api/triggers", "/api/executions", "/api/notifications"} {
			rec := env.do(t, http.MethodGet, path, nil, nil)
			require.Equal(t, http.StatusOK, rec.Code, path)
			assert.Equal(t, "[]\n", rec.Body.String(), path)
		}
	})

	t.Run("unknown execution returns 404", func(t *testing.T) {
		env := newTestEnv(t)

		rec := env.do(t, http.MethodGet, "/api/executions/missing", nil, nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestNotificationEndpoints(t *testing.T) {
	env := newTestEnv(t)

	trigger := &storage.Trigger{
		Name: "n", Repository: "octocat/hello", EventType: "push",
		CodefilePath: "/h.js", Enabled: true, Notify: true,
	}
	require.NoError(t, env.store.AddTrigger(trigger))
	event, err := env.store.AddEvent("push", nil, "octocat/hello", "octocat", nil)
	require.NoError(t, err)

	notification := &storage.Notification{
		TriggerID: trigger.ID,
		EventID:   event.ID,
		Title:     "n succeeded",
		Message:   "push event on octocat/hello from octocat",
	}
	require.NoError(t, env.store.AddNotification(notification))

	rec := env.do(t, http.MethodGet, "/api/notifications?read=false", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var unread []storage.Notification
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &unread))
	require.Len(t, unread, 1)

	rec = env.do(t, http.MethodPost, "/api/notifications/"+notification.ID+"/read", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var marked storage.Notification
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &marked))
	assert.True(t, marked.Read)

	// Marking again is idempotent.
	rec = env.do(t, http.MethodPost, "/api/notifications/"+notification.ID+"/read", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/notifications?read=false", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &unread))
	assert.Empty(t, unread)
}

func TestSystemEndpoints(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/health", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var health map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	assert.Equal(t, "ok", health["status"])

	rec = env.do(t, http.MethodGet, "/api/breakers", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}
