package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/retrievald/internal/embeddings"
	"github.com/fyrsmithlabs/retrievald/internal/retrieval"
	"github.com/fyrsmithlabs/retrievald/internal/tenant"
	"github.com/fyrsmithlabs/retrievald/internal/textproc"
	"github.com/fyrsmithlabs/retrievald/internal/vectorstore"
)

// stubStore plays back canned results and errors for handler tests.
type stubStore struct {
	searchRes []vectorstore.SearchResult
	searchErr error
	upsertErr error
	deleteErr error
	statsErr  error
}

func (s *stubStore) Upsert(_ context.Context, _ tenant.Scope, points []vectorstore.Point) ([]string, error) {
	if s.upsertErr != nil {
		return nil, s.upsertErr
	}
	ids := make([]string, len(points))
	for i := range ids {
		ids[i] = "00000000-0000-0000-0000-000000000001"
	}
	return ids, nil
}

func (s *stubStore) Search(context.Context, tenant.Scope, []float32, vectorstore.SearchOptions) ([]vectorstore.SearchResult, error) {
	return s.searchRes, s.searchErr
}

func (s *stubStore) Delete(context.Context, tenant.Scope, []string, ...vectorstore.Condition) error {
	return s.deleteErr
}

func (s *stubStore) Stats(context.Context, tenant.Scope) (*vectorstore.CollectionStats, error) {
	if s.statsErr != nil {
		return nil, s.statsErr
	}
	return &vectorstore.CollectionStats{Collection: "test", PointCount: 10, ScopedCount: 3}, nil
}

type stubEmbedder struct{}

func (stubEmbedder) ComputeBatch(_ context.Context, chunks []textproc.Chunk, dedup textproc.DedupStats) (*embeddings.BatchResult, error) {
	vectors := make([][]float32, len(chunks))
	for i := range vectors {
		vectors[i] = []float32{0.1}
	}
	return &embeddings.BatchResult{Chunks: chunks, Vectors: vectors, Model: "stub-model", Dedup: dedup}, nil
}

func (stubEmbedder) EmbedQuery(context.Context, string) ([]float32, error) {
	return []float32{0.1}, nil
}

func (stubEmbedder) Model() string { return "stub-model" }

func newTestServer(t *testing.T, store *stubStore) *Server {
	t.Helper()

	svc, err := retrieval.NewService(store, stubEmbedder{}, nil, nil)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	guard, err := tenant.NewGuard(tenant.GuardConfig{AllowHeaderIdentity: true}, zap.NewNop())
	if err != nil {
		t.Fatalf("NewGuard: %v", err)
	}
	srv, err := NewServer(svc, guard, zap.NewNop(), nil)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	return srv
}

func doRequest(srv *Server, method, path, body string, scoped bool) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	if scoped {
		req.Header.Set(tenant.HeaderTenantID, "acme")
		req.Header.Set(tenant.HeaderProjectID, "search")
	}
	rec := httptest.NewRecorder()
	srv.echo.ServeHTTP(rec, req)
	return rec
}

func TestHealthEndpoint(t *testing.T) {
	srv := newTestServer(t, &stubStore{})

	rec := doRequest(srv, http.MethodGet, "/health", "", false)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp HealthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp.Status != "ok" {
		t.Errorf("status = %q", resp.Status)
	}
}

func TestMetricsEndpointOpen(t *testing.T) {
	srv := newTestServer(t, &stubStore{})

	rec := doRequest(srv, http.MethodGet, "/metrics", "", false)
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, metrics must not require identity", rec.Code)
	}
}

func TestScopedRoutesRequireIdentity(t *testing.T) {
	srv := newTestServer(t, &stubStore{})

	paths := []struct {
		method string
		path   string
	}{
		{http.MethodPost, "/api/v1/documents"},
		{http.MethodPost, "/api/v1/search"},
		{http.MethodPost, "/api/v1/points/delete"},
		{http.MethodGet, "/api/v1/stats"},
	}

	for _, p := range paths {
		t.Run(p.path, func(t *testing.T) {
			rec := doRequest(srv, p.method, p.path, `{}`, false)
			if rec.Code != http.StatusUnauthorized {
				t.Errorf("status = %d, want 401", rec.Code)
			}
		})
	}
}

func TestProcessDocumentEndpoint(t *testing.T) {
	srv := newTestServer(t, &stubStore{})

	body := `{"text": "A paragraph with enough text to produce at least one chunk for the handler test.", "type": "knowledge"}`
	rec := doRequest(srv, http.MethodPost, "/api/v1/documents", body, true)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var result retrieval.ProcessResult
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if result.ChunkCount != 1 || len(result.PointIDs) != 1 {
		t.Errorf("result = %+v", result)
	}
	if result.Model != "stub-model" {
		t.Errorf("model = %q", result.Model)
	}
}

func TestProcessDocumentRequiresText(t *testing.T) {
	srv := newTestServer(t, &stubStore{})

	rec := doRequest(srv, http.MethodPost, "/api/v1/documents", `{"type": "knowledge"}`, true)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestProcessDocumentRejectsUnknownNormalization(t *testing.T) {
	srv := newTestServer(t, &stubStore{})

	body := `{"text": "Enough text here to get past the empty-document check.", "normalization": "extreme"}`
	rec := doRequest(srv, http.MethodPost, "/api/v1/documents", body, true)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400, body = %s", rec.Code, rec.Body.String())
	}
}

func TestSearchEndpoint(t *testing.T) {
	store := &stubStore{searchRes: []vectorstore.SearchResult{
		{ID: "p1", Score: 0.92, Record: vectorstore.Record{TenantID: "acme", ProjectID: "search", Content: "hit"}},
	}}
	srv := newTestServer(t, store)

	body := `{"query": "what is retrievald", "limit": 5, "filters": {"type": "knowledge"}}`
	rec := doRequest(srv, http.MethodPost, "/api/v1/search", body, true)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var resp SearchResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp.Count != 1 || len(resp.Results) != 1 {
		t.Fatalf("response = %+v", resp)
	}
	if resp.Results[0].ID != "p1" || resp.Results[0].Record.Content != "hit" {
		t.Errorf("result = %+v", resp.Results[0])
	}
}

func TestSearchRequiresQuery(t *testing.T) {
	srv := newTestServer(t, &stubStore{})

	rec := doRequest(srv, http.MethodPost, "/api/v1/search", `{"limit": 5}`, true)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestSearchUnknownNormalizationFallsBack(t *testing.T) {
	store := &stubStore{searchRes: []vectorstore.SearchResult{{ID: "p1", Score: 0.5}}}
	srv := newTestServer(t, store)

	rec := doRequest(srv, http.MethodPost, "/api/v1/search", `{"query": "q", "normalization": "extreme"}`, true)
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, queries degrade to the standard level", rec.Code)
	}
}

func TestSearchRejectsBadFilters(t *testing.T) {
	srv := newTestServer(t, &stubStore{})

	rec := doRequest(srv, http.MethodPost, "/api/v1/search", `{"query": "q", "filters": {"type": 42}}`, true)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestDeleteEndpoint(t *testing.T) {
	srv := newTestServer(t, &stubStore{})

	body := `{"point_ids": ["00000000-0000-0000-0000-000000000001"]}`
	rec := doRequest(srv, http.MethodPost, "/api/v1/points/delete", body, true)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
}

func TestDeleteRequiresSelector(t *testing.T) {
	srv := newTestServer(t, &stubStore{})

	rec := doRequest(srv, http.MethodPost, "/api/v1/points/delete", `{}`, true)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestStatsEndpoint(t *testing.T) {
	srv := newTestServer(t, &stubStore{})

	rec := doRequest(srv, http.MethodGet, "/api/v1/stats", "", true)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var stats vectorstore.CollectionStats
	if err := json.Unmarshal(rec.Body.Bytes(), &stats); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if stats.ScopedCount != 3 {
		t.Errorf("scoped count = %d", stats.ScopedCount)
	}
}

func TestErrorClassification(t *testing.T) {
	tests := []struct {
		name       string
		store      *stubStore
		wantStatus int
	}{
		{
			name:       "scope violation",
			store:      &stubStore{searchErr: vectorstore.ErrScopeViolation},
			wantStatus: http.StatusForbidden,
		},
		{
			name:       "invalid payload",
			store:      &stubStore{searchErr: vectorstore.ErrInvalidPayload},
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "collection missing",
			store:      &stubStore{searchErr: vectorstore.ErrCollectionNotFound},
			wantStatus: http.StatusNotFound,
		},
		{
			name:       "storage unavailable",
			store:      &stubStore{searchErr: vectorstore.ErrStorageUnavailable},
			wantStatus: http.StatusServiceUnavailable,
		},
		{
			name:       "embedding unavailable",
			store:      &stubStore{searchErr: embeddings.ErrEmbeddingFailed},
			wantStatus: http.StatusServiceUnavailable,
		},
		{
			name:       "timeout",
			store:      &stubStore{searchErr: context.DeadlineExceeded},
			wantStatus: http.StatusGatewayTimeout,
		},
		{
			name:       "unknown error",
			store:      &stubStore{searchErr: errors.New("boom")},
			wantStatus: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTestServer(t, tt.store)
			rec := doRequest(srv, http.MethodPost, "/api/v1/search", `{"query": "q"}`, true)
			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
		})
	}
}
