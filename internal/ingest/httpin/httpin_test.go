package httpin

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grepwise/grepwise/internal/model"
)

type captureSink struct {
	mu      sync.Mutex
	records []model.LogRecord
}

func newCaptureSinkAdapter() *captureSink { return &captureSink{} }

func (s *captureSink) Add(_ context.Context, record model.LogRecord) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, record)
	return true
}

func (s *captureSink) all() []model.LogRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.LogRecord(nil), s.records...)
}

// rejectingSink simulates a full buffer: Add always reports failure.
type rejectingSink struct{}

func (rejectingSink) Add(_ context.Context, _ model.LogRecord) bool { return false }

func httpSource(id, path string, batch bool, token string) model.SourceConfig {
	return model.SourceConfig{
		ID: id, Name: id, Enabled: true, Type: model.SourceTypeHTTP,
		Path: path, BatchAllowed: batch, AuthToken: token,
	}
}

func TestRouterAcceptsSingleRecord(t *testing.T) {
	router := NewRouter(nil)
	sink := newCaptureSinkAdapter()
	router.Start(httpSource("s1", "/ingest/web", false, ""), sink)

	body, _ := json.Marshal(inboundRecord{Message: "hello", Level: "error"})
	req := httptest.NewRequest(http.MethodPost, "/ingest/web", bytes.NewReader(body))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, true, resp["success"])
	recs := sink.all()
	require.Len(t, recs, 1)
	assert.Equal(t, model.LevelError, recs[0].Level)
	assert.Equal(t, "s1", recs[0].Metadata["source_id"])
}

func TestRouterReturns500OnBufferFailure(t *testing.T) {
	router := NewRouter(nil)
	router.Start(httpSource("s1", "/ingest/web", false, ""), rejectingSink{})

	body, _ := json.Marshal(inboundRecord{Message: "hello"})
	req := httptest.NewRequest(http.MethodPost, "/ingest/web", bytes.NewReader(body))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestRouterBatchEndpointOnlyWhenAllowed(t *testing.T) {
	router := NewRouter(nil)
	sink := newCaptureSinkAdapter()
	router.Start(httpSource("s1", "/ingest/web", true, ""), sink)

	batch := []inboundRecord{{Message: "a"}, {Message: "b"}, {Message: ""}}
	body, _ := json.Marshal(batch)
	req := httptest.NewRequest(http.MethodPost, "/ingest/web/batch", bytes.NewReader(body))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, true, resp["success"])
	assert.Equal(t, float64(2), resp["count"])
	assert.Len(t, sink.all(), 2) // empty message skipped
}

func TestRouterRejectsDisabledSource(t *testing.T) {
	router := NewRouter(nil)
	sink := newCaptureSinkAdapter()
	cfg := httpSource("s1", "/ingest/web", false, "")
	cfg.Enabled = false
	router.Start(cfg, sink)

	req := httptest.NewRequest(http.MethodPost, "/ingest/web", bytes.NewReader([]byte(`{"message":"x"}`)))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestRouterUnknownSourceReturns404(t *testing.T) {
	router := NewRouter(nil)
	req := httptest.NewRequest(http.MethodPost, "/ingest/missing", bytes.NewReader([]byte(`{}`)))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRouterRequiresValidToken(t *testing.T) {
	router := NewRouter(nil)
	sink := newCaptureSinkAdapter()
	router.Start(httpSource("s1", "/ingest/web", false, "secret-token"), sink)

	req := httptest.NewRequest(http.MethodPost, "/ingest/web", bytes.NewReader([]byte(`{"message":"x"}`)))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req2 := httptest.NewRequest(http.MethodPost, "/ingest/web", bytes.NewReader([]byte(`{"message":"x"}`)))
	req2.Header.Set("X-Auth-Token", "secret-token")
	w2 := httptest.NewRecorder()
	router.ServeHTTP(w2, req2)
	assert.Equal(t, http.StatusOK, w2.Code)
	assert.Len(t, sink.all(), 1)
}

func TestRouterInvalidPayloadReturns400(t *testing.T) {
	router := NewRouter(nil)
	sink := newCaptureSinkAdapter()
	router.Start(httpSource("s1", "/ingest/web", false, ""), sink)

	req := httptest.NewRequest(http.MethodPost, "/ingest/web", bytes.NewReader([]byte("not json")))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestToRecordDefaultsSourceFromConfig(t *testing.T) {
	cfg := httpSource("s9", "/ingest/x", false, "")
	rec := toRecord(inboundRecord{Message: "m"}, cfg)
	assert.Equal(t, "http:s9", rec.Source)
	assert.Equal(t, model.LevelUnknown, rec.Level)
}
