package main

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"MailCourier/internal/models"
)

type recorded struct {
	method      string
	path        string
	contentType string
	body        []byte
}

type recorder struct {
	mu    sync.Mutex
	calls []recorded
}

func (r *recorder) all() []recorded {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]recorded(nil), r.calls...)
}

func newTestServer(t *testing.T, status int, reply string) (*httptest.Server, *recorder) {
	t.Helper()
	rec := &recorder{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		rec.mu.Lock()
		rec.calls = append(rec.calls, recorded{
			method:      r.Method,
			path:        r.URL.Path,
			contentType: r.Header.Get("Content-Type"),
			body:        body,
		})
		rec.mu.Unlock()
		w.WriteHeader(status)
		io.WriteString(w, reply)
	}))
	t.Cleanup(srv.Close)
	return srv, rec
}

func execute(t *testing.T, server string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCommand(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(append([]string{"--server", server}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func TestActionCommands(t *testing.T) {
	tests := []struct {
		args   []string
		method string
		path   string
	}{
		{args: []string{"start"}, method: http.MethodPost, path: "/automation/start"},
		{args: []string{"stop"}, method: http.MethodPost, path: "/automation/stop"},
		{args: []string{"retry"}, method: http.MethodPost, path: "/automation/restart-failed"},
		{args: []string{"status"}, method: http.MethodGet, path: "/automation/status"},
		{args: []string{"settings"}, method: http.MethodGet, path: "/automation/settings"},
		{args: []string{"schedule"}, method: http.MethodGet, path: "/automation/schedule"},
	}

	for _, tt := range tests {
		t.Run(tt.args[0], func(t *testing.T) {
			srv, rec := newTestServer(t, http.StatusOK, `{"status":"idle","is_running":false}`)

			out, err := execute(t, srv.URL, tt.args...)
			require.NoError(t, err)

			calls := rec.all()
			require.Len(t, calls, 1)
			assert.Equal(t, tt.method, calls[0].method)
			assert.Equal(t, tt.path, calls[0].path)
			assert.Contains(t, out, `"status": "idle"`)
		})
	}
}

func TestServerErrorIsReturned(t *testing.T) {
	srv, _ := newTestServer(t, http.StatusConflict, "automation is already running\n")

	_, err := execute(t, srv.URL, "retry")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "409")
	assert.Contains(t, err.Error(), "automation is already running")
}

func TestScheduleSetSendsOnlyChangedFlags(t *testing.T) {
	srv, rec := newTestServer(t, http.StatusOK, `{"enabled":true}`)

	_, err := execute(t, srv.URL, "schedule", "set", "--enabled", "--frequency", "weekly", "--days", "1,5")
	require.NoError(t, err)

	calls := rec.all()
	require.Len(t, calls, 1)
	call := calls[0]
	assert.Equal(t, http.MethodPut, call.method)
	assert.Equal(t, "/automation/schedule", call.path)
	assert.Equal(t, "application/json", call.contentType)

	var u models.ScheduleUpdate
	require.NoError(t, json.Unmarshal(call.body, &u))
	require.NotNil(t, u.Enabled)
	assert.True(t, *u.Enabled)
	require.NotNil(t, u.Frequency)
	assert.Equal(t, models.FrequencyWeekly, *u.Frequency)
	assert.Equal(t, []int{1, 5}, u.Days)
	assert.Nil(t, u.TimeOfDay)
}

func TestSettingsSet(t *testing.T) {
	srv, rec := newTestServer(t, http.StatusOK, `{}`)

	_, err := execute(t, srv.URL, "settings", "set", "--retry-on-failure=false", "--allow", "a@x.com,example.org")
	require.NoError(t, err)

	calls := rec.all()
	require.Len(t, calls, 1)
	var raw map[string]any
	require.NoError(t, json.Unmarshal(calls[0].body, &raw))
	assert.Equal(t, false, raw["retry_on_failure"])
	assert.Equal(t, []any{"a@x.com", "example.org"}, raw["recipient_allowlist"])
	assert.NotContains(t, raw, "template_id")
	assert.NotContains(t, raw, "retry_interval_minutes")
}

func TestImportUploadsCSV(t *testing.T) {
	srv, rec := newTestServer(t, http.StatusCreated, `{"imported":1,"ids":[1]}`)

	file := filepath.Join(t.TempDir(), "jobs.csv")
	csv := "company,email,subject\nAcme,a@x.com,Invoice\n"
	require.NoError(t, os.WriteFile(file, []byte(csv), 0o644))

	out, err := execute(t, srv.URL, "import", file)
	require.NoError(t, err)

	calls := rec.all()
	require.Len(t, calls, 1)
	assert.Equal(t, "/jobs/import", calls[0].path)
	assert.Equal(t, "text/csv", calls[0].contentType)
	assert.Equal(t, csv, string(calls[0].body))
	assert.Contains(t, out, `"imported": 1`)
}

func TestImportMissingFile(t *testing.T) {
	srv, rec := newTestServer(t, http.StatusCreated, `{}`)

	_, err := execute(t, srv.URL, "import", filepath.Join(t.TempDir(), "missing.csv"))
	require.Error(t, err)
	assert.Empty(t, rec.all())
}

func TestUnknownCommand(t *testing.T) {
	_, err := execute(t, "http://127.0.0.1:0", "unknown-command")
	assert.Error(t, err)
}
