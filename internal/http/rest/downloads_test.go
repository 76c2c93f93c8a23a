package rest

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/italolelis/resumable_downloader/internal/downloader"
	"github.com/italolelis/resumable_downloader/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockManager struct {
	started   []string
	resumed   []string
	paused    []string
	cancelled []string
	startErr  error
	tasks     map[string]downloader.Snapshot
}

func (m *mockManager) Start(_ context.Context, url, dir, name string, _ downloader.Listener) (string, error) {
	if m.startErr != nil {
		return "", m.startErr
	}

	m.started = append(m.started, url+"|"+dir+"|"+name)

	return "id-1", nil
}

func (m *mockManager) Resume(_ context.Context, url, dir, name string, _ downloader.Listener) (string, error) {
	m.resumed = append(m.resumed, url+"|"+dir+"|"+name)

	return "id-1", nil
}

func (m *mockManager) Pause(id string) error {
	if _, ok := m.tasks[id]; !ok {
		return downloader.ErrTaskNotFound
	}

	m.paused = append(m.paused, id)

	return nil
}

func (m *mockManager) Cancel(id string) bool {
	if _, ok := m.tasks[id]; !ok {
		return false
	}

	m.cancelled = append(m.cancelled, id)

	return true
}

func (m *mockManager) Get(id string) (downloader.Snapshot, bool) {
	s, ok := m.tasks[id]

	return s, ok
}

func (m *mockManager) List() []downloader.Snapshot {
	out := make([]downloader.Snapshot, 0, len(m.tasks))
	for _, s := range m.tasks {
		out = append(out, s)
	}

	return out
}

type mockHistory struct {
	records []storage.DownloadRecord
	limit   int
}

func (h *mockHistory) GetDownloads(_ context.Context, limit int) ([]storage.DownloadRecord, error) {
	h.limit = limit

	return h.records, nil
}

func (h *mockHistory) GetExpiredDownloads(context.Context, string, time.Time) ([]storage.DownloadRecord, error) {
	return nil, nil
}

func newTestHandler(m *mockManager, history storage.DownloadReadRepository) http.Handler {
	return NewDownloadsHandler(m, history, "/data", "", "").Routes()
}

func do(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(method, target, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	return rec
}

func TestHandleStart(t *testing.T) {
	m := &mockManager{}
	h := newTestHandler(m, nil)

	rec := do(t, h, http.MethodPost, "/downloads", `{"url":"http://example.com/f.bin","dir":"movies","name":"f.bin"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp DownloadResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "id-1", resp.ID)
	assert.Equal(t, []string{"http://example.com/f.bin|/data/movies|f.bin"}, m.started)
}

func TestHandleStart_DirConfinedToTarget(t *testing.T) {
	m := &mockManager{}
	h := newTestHandler(m, nil)

	rec := do(t, h, http.MethodPost, "/downloads", `{"url":"http://example.com/f.bin","dir":"../../etc","name":"f.bin"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, []string{"http://example.com/f.bin|/data/etc|f.bin"}, m.started)
}

func TestHandleStart_Errors(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		body     string
		wantCode int
	}{
		{name: "malformed body", body: `{`, wantCode: http.StatusBadRequest},
		{name: "invalid request", err: downloader.ErrInvalidRequest, body: `{}`, wantCode: http.StatusBadRequest},
		{name: "shutting down", err: downloader.ErrShuttingDown, body: `{}`, wantCode: http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestHandler(&mockManager{startErr: tt.err}, nil)

			rec := do(t, h, http.MethodPost, "/downloads", tt.body)
			assert.Equal(t, tt.wantCode, rec.Code)
		})
	}
}

func TestHandleResume(t *testing.T) {
	m := &mockManager{}
	h := newTestHandler(m, nil)

	rec := do(t, h, http.MethodPost, "/downloads/resume", `{"url":"http://example.com/f.bin","name":"f.bin"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, []string{"http://example.com/f.bin|/data|f.bin"}, m.resumed)
}

func TestHandleTaskOperations(t *testing.T) {
	m := &mockManager{tasks: map[string]downloader.Snapshot{
		"abc": {ID: "abc", State: downloader.StateDownloading, TotalBytes: 10},
	}}
	h := newTestHandler(m, nil)

	rec := do(t, h, http.MethodGet, "/downloads/abc", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var snap map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&snap))
	assert.Equal(t, "downloading", snap["state"])

	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodGet, "/downloads/nope", "").Code)

	assert.Equal(t, http.StatusNoContent, do(t, h, http.MethodPost, "/downloads/abc/pause", "").Code)
	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodPost, "/downloads/nope/pause", "").Code)
	assert.Equal(t, []string{"abc"}, m.paused)

	assert.Equal(t, http.StatusNoContent, do(t, h, http.MethodDelete, "/downloads/abc", "").Code)
	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodDelete, "/downloads/nope", "").Code)
	assert.Equal(t, []string{"abc"}, m.cancelled)

	rec = do(t, h, http.MethodGet, "/downloads", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var list []map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&list))
	assert.Len(t, list, 1)
}

func TestHandleHistory(t *testing.T) {
	history := &mockHistory{records: []storage.DownloadRecord{{ID: 1, TaskID: "abc", Status: "completed"}}}
	h := newTestHandler(&mockManager{}, history)

	rec := do(t, h, http.MethodGet, "/history?limit=10", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 10, history.limit)

	var records []storage.DownloadRecord
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&records))
	require.Len(t, records, 1)
	assert.Equal(t, "abc", records[0].TaskID)

	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodGet, "/history?limit=x", "").Code)
	assert.Equal(t, http.StatusNotFound, do(t, newTestHandler(&mockManager{}, nil), http.MethodGet, "/history", "").Code)
}

func TestBasicAuth(t *testing.T) {
	h := NewDownloadsHandler(&mockManager{}, nil, "/data", "user", "secret").Routes()

	assert.Equal(t, http.StatusUnauthorized, do(t, h, http.MethodGet, "/downloads", "").Code)

	req := httptest.NewRequest(http.MethodGet, "/downloads", nil)
	req.SetBasicAuth("user", "secret")

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}
