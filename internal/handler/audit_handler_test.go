package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"docqa-go/internal/apperr"
	"docqa-go/internal/model"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAuditRepo struct {
	audits   map[string]*model.QueryAudit
	counts   map[string]int64
	countErr error
}

func (f *fakeAuditRepo) Save(audit *model.QueryAudit) error {
	f.audits[audit.RequestID] = audit
	return nil
}

func (f *fakeAuditRepo) FindByRequestID(requestID string) (*model.QueryAudit, error) {
	if a, ok := f.audits[requestID]; ok {
		return a, nil
	}
	return nil, apperr.NotFound("no audit record for request %q", requestID)
}

func (f *fakeAuditRepo) CountByIntent() (map[string]int64, error) {
	return f.counts, f.countErr
}

func newAuditRouter(repo *fakeAuditRepo) *gin.Engine {
	h := NewAuditHandler(repo)
	r := gin.New()
	r.GET("/api/audit/summary", h.Summary)
	r.GET("/api/audit/requests/:requestId", h.Get)
	return r
}

func TestAuditSummary(t *testing.T) {
	repo := &fakeAuditRepo{counts: map[string]int64{"query_documents": 4, "chit_chat": 1}}
	w := httptest.NewRecorder()
	newAuditRouter(repo).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/audit/summary", nil))

	require.Equal(t, http.StatusOK, w.Code)
	var got map[string]int64
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, repo.counts, got)
}

func TestAuditSummaryStoreDown(t *testing.T) {
	repo := &fakeAuditRepo{countErr: errors.New("dial tcp: connection refused")}
	w := httptest.NewRecorder()
	newAuditRouter(repo).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/audit/summary", nil))

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), `"category":"upstream_unavailable"`)
}

func TestAuditGet(t *testing.T) {
	repo := &fakeAuditRepo{audits: map[string]*model.QueryAudit{
		"req-1": {RequestID: "req-1", Intent: "query_documents", Status: "done", HitCount: 3},
	}}
	router := newAuditRouter(repo)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/audit/requests/req-1", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var got model.QueryAudit
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, "query_documents", got.Intent)
	assert.Equal(t, 3, got.HitCount)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/audit/requests/missing", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), `"category":"not_found"`)
}
