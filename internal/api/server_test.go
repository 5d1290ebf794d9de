package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/pressroom/internal/clock/system"
	"github.com/JakeFAU/pressroom/internal/core"
	"github.com/JakeFAU/pressroom/internal/pipeline"
	"github.com/JakeFAU/pressroom/internal/sources"
	"github.com/JakeFAU/pressroom/internal/store/memory"
)

type testServer struct {
	server *Server
	store  *memory.Store
	queue  *fakeQueue
}

func newTestServer(t *testing.T, opts Options) testServer {
	t.Helper()
	store := memory.New(system.NewManual(time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)))
	q := &fakeQueue{depths: map[string]int{"crawl": 3, "process": 0}}
	importer := sources.NewImporter(store, zap.NewNop())
	return testServer{
		server: NewServer(store, q, importer, opts, zap.NewNop()),
		store:  store,
		queue:  q,
	}
}

func (ts testServer) do(method, path string, body []byte, headers map[string]string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != nil {
		req = httptest.NewRequest(method, path, bytes.NewReader(body))
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	ts.server.Handler().ServeHTTP(rec, req)
	return rec
}

func TestServer_Healthz(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, Options{})
	rec := ts.do(http.MethodGet, "/healthz", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "ok")
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestServer_ReadyzReportsStoreFailure(t *testing.T) {
	t.Parallel()

	q := &fakeQueue{}
	server := NewServer(&failingStore{}, q, nil, Options{}, zap.NewNop())
	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	ts := newTestServer(t, Options{})
	rec = ts.do(http.MethodGet, "/readyz", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestServer_RequestIDIsEchoed(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, Options{})
	rec := ts.do(http.MethodGet, "/healthz", nil, map[string]string{"X-Request-ID": "req-42"})
	require.Equal(t, "req-42", rec.Header().Get("X-Request-ID"))
}

func TestServer_SubmitCrawl(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, Options{})
	rec := ts.do(http.MethodPost, "/v1/crawl", []byte(`{"domain_limit":5,"page_limit":100,"max_depth":2}`), nil)
	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "task-1", resp["task_id"])

	submitted := ts.queue.Submitted()
	require.Len(t, submitted, 1)
	require.Equal(t, pipeline.KindCrawlSources, submitted[0].kind)
	require.Equal(t, pipeline.CrawlRequest{DomainLimit: 5, PageLimit: 100, MaxDepth: 2}, submitted[0].payload)
}

func TestServer_SubmitCrawlEmptyBodyUsesDefaults(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, Options{})
	rec := ts.do(http.MethodPost, "/v1/crawl", nil, nil)
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Equal(t, pipeline.CrawlRequest{}, ts.queue.Submitted()[0].payload)
}

func TestServer_SubmitCrawlRejectsBadInput(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		body string
	}{
		{name: "invalid json", body: `{"domain_limit":`},
		{name: "negative limit", body: `{"page_limit":-1}`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			ts := newTestServer(t, Options{})
			rec := ts.do(http.MethodPost, "/v1/crawl", []byte(tc.body), nil)
			require.Equal(t, http.StatusBadRequest, rec.Code)
			require.Empty(t, ts.queue.Submitted())
		})
	}
}

func TestServer_SubmitFailureIsServerError(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, Options{})
	ts.queue.err = errors.New("broker down")
	rec := ts.do(http.MethodPost, "/v1/crawl", nil, nil)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestServer_AddSource(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, Options{})
	body := []byte(`{"url":"example.com","name":"Example News","country":"US"}`)

	rec := ts.do(http.MethodPost, "/v1/sources", body, nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	var created core.Source
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	require.Equal(t, "example-news", created.Slug)
	require.Equal(t, "US", created.Country)

	rec = ts.do(http.MethodPost, "/v1/sources", body, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var existing core.Source
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &existing))
	require.Equal(t, created.ID, existing.ID)

	rec = ts.do(http.MethodGet, "/v1/sources", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Sources []core.Source `json:"sources"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list.Sources, 1)
}

func TestServer_AddSourceInvalid(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, Options{})
	rec := ts.do(http.MethodPost, "/v1/sources", []byte(`{"url":""}`), nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(http.MethodPost, "/v1/sources", []byte(`not json`), nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_Journalist(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, Options{})
	j, err := ts.store.InsertJournalist(context.Background(), core.Journalist{Name: "Jane Doe", Slug: "jane-doe"})
	require.NoError(t, err)

	rec := ts.do(http.MethodGet, "/v1/journalists/"+itoa(j.ID), nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "Jane Doe")

	rec = ts.do(http.MethodPost, "/v1/journalists/"+itoa(j.ID)+"/reindex", nil, nil)
	require.Equal(t, http.StatusAccepted, rec.Code)
	submitted := ts.queue.Submitted()
	require.Len(t, submitted, 1)
	require.Equal(t, pipeline.KindIndexJournalist, submitted[0].kind)
	require.Equal(t, pipeline.JournalistTask{JournalistID: j.ID}, submitted[0].payload)
}

func TestServer_JournalistErrors(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, Options{})
	require.Equal(t, http.StatusNotFound, ts.do(http.MethodGet, "/v1/journalists/999", nil, nil).Code)
	require.Equal(t, http.StatusBadRequest, ts.do(http.MethodGet, "/v1/journalists/abc", nil, nil).Code)
	require.Equal(t, http.StatusNotFound, ts.do(http.MethodPost, "/v1/journalists/999/reindex", nil, nil).Code)
	require.Empty(t, ts.queue.Submitted())
}

func TestServer_ReconcileIndex(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, Options{})
	rec := ts.do(http.MethodPost, "/v1/index/reconcile", []byte(`{"window":"30m"}`), nil)
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Equal(t, pipeline.ReconcileTask{Window: 30 * time.Minute}, ts.queue.Submitted()[0].payload)

	rec = ts.do(http.MethodPost, "/v1/index/reconcile", []byte(`{"window":"soon"}`), nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_Lanes(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, Options{})
	rec := ts.do(http.MethodGet, "/v1/lanes", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Lanes map[string]int `json:"lanes"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, 3, resp.Lanes["crawl"])
}

func TestServer_APIKey(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, Options{APIKey: "secret"})
	require.Equal(t, http.StatusForbidden, ts.do(http.MethodGet, "/v1/lanes", nil, nil).Code)
	require.Equal(t, http.StatusOK, ts.do(http.MethodGet, "/v1/lanes", nil, map[string]string{"X-API-Key": "secret"}).Code)
	require.Equal(t, http.StatusOK, ts.do(http.MethodGet, "/v1/lanes?api_key=secret", nil, nil).Code)
	require.Equal(t, http.StatusOK, ts.do(http.MethodGet, "/healthz", nil, nil).Code, "health endpoints stay open")
}

func TestServer_Metrics(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, Options{})
	_ = ts.do(http.MethodGet, "/healthz", nil, nil)
	rec := ts.do(http.MethodGet, "/metrics", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "http_requests_total")
}

func TestRecoverMiddleware(t *testing.T) {
	t.Parallel()

	s := &Server{logger: zap.NewNop()}
	h := s.recoverMiddleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func itoa(id int64) string {
	b, _ := json.Marshal(id)
	return string(b)
}

// --- fakes ---

type submission struct {
	kind    string
	payload any
}

type fakeQueue struct {
	mu          sync.Mutex
	submissions []submission
	depths      map[string]int
	err         error
}

func (q *fakeQueue) Submit(_ context.Context, kind string, payload any) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return "", q.err
	}
	q.submissions = append(q.submissions, submission{kind: kind, payload: payload})
	return "task-" + itoa(int64(len(q.submissions))), nil
}

func (q *fakeQueue) Depths(context.Context) (map[string]int, error) {
	return q.depths, nil
}

func (q *fakeQueue) Submitted() []submission {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]submission(nil), q.submissions...)
}

type failingStore struct{}

func (failingStore) Ping(context.Context) error { return errors.New("db down") }

func (failingStore) ListSources(context.Context) ([]core.Source, error) { return nil, nil }

func (failingStore) GetJournalist(context.Context, int64) (core.Journalist, error) {
	return core.Journalist{}, core.ErrNotFound
}
