package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"unicode/utf8"

	"docqa-go/internal/apperr"
	"docqa-go/internal/config"
	"docqa-go/pkg/es"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testIndex = "docs"

type fakeDoc struct {
	id     string
	source map[string]interface{}
}

// fakeES 模拟本仓库用到的 Elasticsearch 接口：映射、kNN 检索、scroll、按 id 读取。
type fakeES struct {
	mu          sync.Mutex
	dims        int
	docs        []fakeDoc
	searchHits  []map[string]interface{}
	lastSearch  map[string]interface{}
	scrollCalls int
	cleared     []string
	scrolls     map[string]int
	pageSize    int
}

func (f *fakeES) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	w.Header().Set("X-Elastic-Product", "Elasticsearch")
	w.Header().Set("Content-Type", "application/json")

	switch {
	case r.URL.Path == "/"+testIndex+"/_mapping":
		writeJSON(w, map[string]interface{}{
			testIndex: map[string]interface{}{"mappings": map[string]interface{}{"properties": map[string]interface{}{
				"chunk_vector": map[string]interface{}{"type": "dense_vector", "dims": f.dims},
				"chunk_text":   map[string]interface{}{"type": "text"},
			}}},
		})
	case r.URL.Path == "/"+testIndex+"/_search":
		var body map[string]interface{}
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.lastSearch = body
		if r.URL.Query().Get("scroll") == "" {
			writeJSON(w, map[string]interface{}{"hits": map[string]interface{}{"hits": f.searchHits}})
			return
		}
		f.pageSize = int(body["size"].(float64))
		f.writePage(w, "scroll-0", 0)
	case r.URL.Path == "/_search/scroll" && r.Method == http.MethodDelete:
		var body struct {
			ScrollID []string `json:"scroll_id"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.cleared = append(f.cleared, body.ScrollID...)
		writeJSON(w, map[string]interface{}{"succeeded": true})
	case r.URL.Path == "/_search/scroll":
		var body struct {
			ScrollID string `json:"scroll_id"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.scrollCalls++
		offset, ok := f.scrolls[body.ScrollID]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			writeJSON(w, map[string]interface{}{"error": map[string]interface{}{"type": "search_context_missing_exception", "reason": "no such scroll"}})
			return
		}
		f.writePage(w, body.ScrollID, offset)
	case strings.HasPrefix(r.URL.Path, "/"+testIndex+"/_doc/"):
		id := strings.TrimPrefix(r.URL.Path, "/"+testIndex+"/_doc/")
		for _, d := range f.docs {
			if d.id == id {
				writeJSON(w, map[string]interface{}{"_id": id, "found": true, "_source": d.source})
				return
			}
		}
		w.WriteHeader(http.StatusNotFound)
		writeJSON(w, map[string]interface{}{"_id": id, "found": false})
	default:
		w.WriteHeader(http.StatusBadRequest)
		writeJSON(w, map[string]interface{}{"error": map[string]interface{}{"type": "unexpected", "reason": r.URL.Path}})
	}
}

func (f *fakeES) writePage(w http.ResponseWriter, scrollID string, offset int) {
	if f.scrolls == nil {
		f.scrolls = map[string]int{}
	}
	end := offset + f.pageSize
	if end > len(f.docs) {
		end = len(f.docs)
	}
	hits := make([]map[string]interface{}, 0, end-offset)
	for _, d := range f.docs[offset:end] {
		hits = append(hits, map[string]interface{}{"_id": d.id, "_source": d.source})
	}
	f.scrolls[scrollID] = end
	writeJSON(w, map[string]interface{}{"_scroll_id": scrollID, "hits": map[string]interface{}{"hits": hits}})
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	_ = json.NewEncoder(w).Encode(v)
}

func newTestRepo(t *testing.T, f *fakeES, pageSize int) DocumentRepository {
	t.Helper()
	if f.dims == 0 {
		f.dims = 4
	}
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)

	cfg := config.ElasticsearchConfig{
		Addresses:    srv.URL,
		IndexName:    testIndex,
		VectorField:  "chunk_vector",
		TextField:    "chunk_text",
		ListPageSize: pageSize,
	}
	client, err := es.NewClient(cfg)
	require.NoError(t, err)
	repo := NewDocumentRepository(client, cfg, 150)
	require.NoError(t, repo.Init(context.Background(), 4))
	return repo
}

func TestInitRejectsDimensionMismatch(t *testing.T) {
	f := &fakeES{dims: 768}
	srv := httptest.NewServer(f)
	defer srv.Close()

	cfg := config.ElasticsearchConfig{Addresses: srv.URL, IndexName: testIndex, VectorField: "chunk_vector", TextField: "chunk_text"}
	client, err := es.NewClient(cfg)
	require.NoError(t, err)
	repo := NewDocumentRepository(client, cfg, 150)

	err = repo.Init(context.Background(), 384)
	assert.Equal(t, apperr.KindConfig, apperr.KindOf(err))

	_, err = repo.Search(context.Background(), SearchRequest{Vector: make([]float32, 384), K: 10, NumCandidates: 100})
	assert.Equal(t, apperr.KindConfig, apperr.KindOf(err), "unavailable repository must report its reason")
}

func TestUninitializedRepositoryIsUnavailable(t *testing.T) {
	repo := NewDocumentRepository(nil, config.ElasticsearchConfig{}, 150)
	_, err := repo.ListFiles(context.Background())
	assert.Equal(t, apperr.KindUpstreamUnavailable, apperr.KindOf(err))

	assert.Equal(t, apperr.KindConfig, apperr.KindOf(repo.Init(context.Background(), 384)))
	assert.Equal(t, apperr.KindConfig, apperr.KindOf(repo.Available()))
}

func TestSearchKeepsIndexOrderAndResolvesSnippets(t *testing.T) {
	long := strings.Repeat("authentication tokens are rotated daily. ", 10)
	f := &fakeES{searchHits: []map[string]interface{}{
		{"_id": "a", "_score": 0.93, "_source": map[string]interface{}{"file_name": "auth.md", "path": "/docs", "chunk_text": long},
			"highlight": map[string]interface{}{"chunk_text": []string{"<em>authentication</em> tokens"}}},
		{"_id": "b", "_score": 0.81, "_source": map[string]interface{}{"file_name": "login.md", "path": "/docs", "chunk_text": long}},
		{"_id": "", "_score": 0.80, "_source": map[string]interface{}{"file_name": "orphan.md"}},
		{"_id": "c", "_score": 0.75, "_source": map[string]interface{}{"path": "/docs", "chunk_text": "no name"}},
		{"_id": "d", "_score": 0.60, "_source": map[string]interface{}{"file_name": "empty.md", "path": "/docs"}},
		{"_id": "e", "_score": 0.60, "_source": map[string]interface{}{"file_name": "short.md", "path": "/docs", "chunk_text": "short text"}},
	}}
	repo := newTestRepo(t, f, 500)

	hits, err := repo.Search(context.Background(), SearchRequest{Vector: []float32{1, 0, 0, 0}, K: 10, NumCandidates: 100, HighlightText: "authentication"})
	require.NoError(t, err)
	require.Len(t, hits, 4)

	assert.Equal(t, []string{"a", "b", "d", "e"}, []string{hits[0].ID, hits[1].ID, hits[2].ID, hits[3].ID})
	for i := 1; i < len(hits); i++ {
		assert.LessOrEqual(t, hits[i].Score, hits[i-1].Score)
	}
	assert.Equal(t, "<em>authentication</em> tokens", hits[0].Snippet)
	assert.True(t, strings.HasSuffix(hits[1].Snippet, "..."))
	assert.Equal(t, 153, utf8.RuneCountInString(hits[1].Snippet))
	assert.Equal(t, ContentUnavailable, hits[2].Snippet)
	assert.Equal(t, "short text", hits[3].Snippet)

	knn := f.lastSearch["knn"].(map[string]interface{})
	assert.EqualValues(t, 10, knn["k"])
	assert.EqualValues(t, 100, knn["num_candidates"])
	assert.Equal(t, "chunk_vector", knn["field"])
	hl := f.lastSearch["highlight"].(map[string]interface{})
	assert.Contains(t, hl, "highlight_query")
}

func TestListFilesPagesAndDeduplicates(t *testing.T) {
	f := &fakeES{}
	// 1200 个分块，分属 300 个 (path, fileName) 组合；同名文件出现在两个目录下
	for i := 0; i < 1200; i++ {
		pair := i % 300
		f.docs = append(f.docs, fakeDoc{
			id: fmt.Sprintf("chunk-%d", i),
			source: map[string]interface{}{
				"file_name": fmt.Sprintf("doc-%d.txt", pair%150),
				"path":      fmt.Sprintf("/dir%d", pair/150),
			},
		})
	}
	repo := newTestRepo(t, f, 500)

	files, err := repo.ListFiles(context.Background())
	require.NoError(t, err)
	assert.Len(t, files, 300)

	seen := map[string]bool{}
	for _, rec := range files {
		key := rec.Path + "\x00" + rec.FileName
		assert.False(t, seen[key], "duplicate record %v", rec)
		seen[key] = true
	}
	assert.Equal(t, "chunk-0", files[0].ID, "first occurrence id is kept")
	assert.Equal(t, "chunk-299", files[299].ID)
	assert.Equal(t, 3, f.scrollCalls, "1200 chunks in pages of 500 need two more pages and one empty page")
	assert.Equal(t, []string{"scroll-0"}, f.cleared)
}

func TestGetFile(t *testing.T) {
	longText := strings.Repeat("x", 400)
	f := &fakeES{docs: []fakeDoc{
		{id: "pdf", source: map[string]interface{}{"file_name": "a.pdf", "path": "/p", "content": "JVBERi0xLjQ=", "content_type": "pdf_base64"}},
		{id: "pdf-implicit", source: map[string]interface{}{"file_name": "b.PDF", "path": "/p", "content": "JVBERi0xLjQ="}},
		{id: "text-pdf-name", source: map[string]interface{}{"file_name": "c.pdf", "path": "/p", "content": "JVBERi0xLjQ=", "content_type": "text"}},
		{id: "bad-pdf", source: map[string]interface{}{"file_name": "d.pdf", "path": "/p", "content": "not base64!!", "content_type": "pdf_base64"}},
		{id: "plain", source: map[string]interface{}{"file_name": "e.txt", "path": "/p", "content": longText}},
		{id: "no-content", source: map[string]interface{}{"file_name": "f.txt", "path": "/p", "chunk_text": "chunk"}},
	}}
	repo := newTestRepo(t, f, 500)
	ctx := context.Background()

	dto, err := repo.GetFile(ctx, "pdf")
	require.NoError(t, err)
	assert.True(t, dto.IsBase64)

	dto, err = repo.GetFile(ctx, "pdf-implicit")
	require.NoError(t, err)
	assert.True(t, dto.IsBase64)

	dto, err = repo.GetFile(ctx, "text-pdf-name")
	require.NoError(t, err)
	assert.False(t, dto.IsBase64, "explicit content_type wins over the extension")

	_, err = repo.GetFile(ctx, "bad-pdf")
	assert.Equal(t, apperr.KindDecode, apperr.KindOf(err))

	dto, err = repo.GetFile(ctx, "plain")
	require.NoError(t, err)
	assert.False(t, dto.IsBase64)
	assert.Equal(t, longText, dto.Content)
	assert.Equal(t, strings.Repeat("x", 150)+"...", dto.Snippet)

	dto, err = repo.GetFile(ctx, "no-content")
	require.NoError(t, err)
	assert.Equal(t, ContentNotFound, dto.Content)
	assert.Equal(t, "chunk", dto.Snippet)

	_, err = repo.GetFile(ctx, "missing")
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestIsBase64Content(t *testing.T) {
	cases := []struct {
		contentType, fileName, content string
		want                           bool
	}{
		{"", "report.pdf", "JVBERi0xLjQ=", true},
		{"", "report.pdf", "plain words", false},
		{"", "report.txt", "JVBERi0xLjQ=", false},
		{"text", "report.pdf", "JVBERi0xLjQ=", false},
		{"pdf_base64", "blob", "JVBERi0xLjQ=", true},
		// 折行的 MIME 风格内容
		{"", "report.pdf", "JVBERi0x\r\nLjQKJcfs\r\nj6IK", true},
		{"pdf_base64", "blob", "JVBERi0x\nLjQKJcfs\nj6IK\n", true},
	}
	for _, c := range cases {
		got, err := IsBase64Content(c.contentType, c.fileName, c.content)
		require.NoError(t, err)
		assert.Equal(t, c.want, got, "%+v", c)
	}
}
