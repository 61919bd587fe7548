// Package repository 提供了数据访问层的实现。
package repository

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"docqa-go/internal/apperr"
	"docqa-go/internal/config"
	"docqa-go/internal/model"
	"docqa-go/pkg/es"
	"docqa-go/pkg/log"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
)

// ContentUnavailable 在命中结果既无高亮也无分块文本时替代摘要。
const ContentUnavailable = "[content unavailable]"

// ContentNotFound 在文档没有保存原文时作为内容返回。
const ContentNotFound = "Content not found"

const scrollKeepAlive = time.Minute

// SearchRequest 描述一次 kNN 检索。
type SearchRequest struct {
	Vector        []float32
	K             int
	NumCandidates int
	// HighlightText 非空时用于生成高亮片段
	HighlightText string
}

// DocumentRepository 定义了对分块索引的只读访问。
type DocumentRepository interface {
	// Init 检查索引映射，失败后仓库进入不可用状态。
	Init(ctx context.Context, dims int) error
	Available() error
	Search(ctx context.Context, req SearchRequest) ([]model.SearchHit, error)
	ListFiles(ctx context.Context) ([]model.FileRecord, error)
	GetFile(ctx context.Context, id string) (*model.FileContentDTO, error)
}

type esDocumentRepository struct {
	client       *elasticsearch.Client
	cfg          config.ElasticsearchConfig
	snippetChars int
	err          error
}

// NewDocumentRepository 创建一个尚未初始化的 DocumentRepository。client 为 nil 时始终不可用。
func NewDocumentRepository(client *elasticsearch.Client, cfg config.ElasticsearchConfig, snippetChars int) DocumentRepository {
	if cfg.ListPageSize <= 0 {
		cfg.ListPageSize = 500
	}
	if snippetChars <= 0 {
		snippetChars = 150
	}
	return &esDocumentRepository{
		client:       client,
		cfg:          cfg,
		snippetChars: snippetChars,
		err:          apperr.Unavailable(nil, "search backend not initialized"),
	}
}

func (r *esDocumentRepository) Init(ctx context.Context, dims int) error {
	if r.client == nil {
		r.err = apperr.Config("search backend client is not configured")
		return r.err
	}
	if err := es.CheckIndex(ctx, r.client, r.cfg.IndexName, r.cfg.VectorField, dims); err != nil {
		r.err = err
		return err
	}
	r.err = nil
	return nil
}

func (r *esDocumentRepository) Available() error {
	return r.err
}

type esHit struct {
	ID        string              `json:"_id"`
	Score     *float64            `json:"_score"`
	Source    json.RawMessage     `json:"_source"`
	Highlight map[string][]string `json:"highlight"`
}

type esSearchResponse struct {
	ScrollID string `json:"_scroll_id"`
	Hits     struct {
		Hits []esHit `json:"hits"`
	} `json:"hits"`
}

// Search 执行近似 kNN 检索。返回顺序即索引给出的相关度顺序，不做二次排序。
func (r *esDocumentRepository) Search(ctx context.Context, req SearchRequest) ([]model.SearchHit, error) {
	if r.err != nil {
		return nil, r.err
	}
	textField := r.cfg.TextField
	body := map[string]interface{}{
		"knn": map[string]interface{}{
			"field":          r.cfg.VectorField,
			"query_vector":   req.Vector,
			"k":              req.K,
			"num_candidates": req.NumCandidates,
		},
		"size":    req.K,
		"_source": []string{"file_name", "path", textField},
	}
	if req.HighlightText != "" {
		body["highlight"] = map[string]interface{}{
			"fields": map[string]interface{}{
				textField: map[string]interface{}{
					"fragment_size":       r.snippetChars,
					"number_of_fragments": 1,
				},
			},
			"highlight_query": map[string]interface{}{
				"match": map[string]interface{}{textField: req.HighlightText},
			},
		}
	}

	resp, err := r.search(ctx, body, nil)
	if err != nil {
		return nil, err
	}

	hits := make([]model.SearchHit, 0, len(resp.Hits.Hits))
	for _, h := range resp.Hits.Hits {
		var src model.ChunkDocument
		if err := json.Unmarshal(h.Source, &src); err != nil {
			log.Warnf("[DocumentRepository] 跳过无法解析的命中结果, id: %s, error: %v", h.ID, err)
			continue
		}
		if h.ID == "" || src.FileName == "" {
			log.Warnf("[DocumentRepository] 跳过缺少 id 或文件名的命中结果, id: %q", h.ID)
			continue
		}
		var fragment string
		if frags := h.Highlight[textField]; len(frags) > 0 {
			fragment = frags[0]
		}
		hit := model.SearchHit{
			ID:       h.ID,
			FileName: src.FileName,
			Path:     src.Path,
			Snippet:  ResolveSnippet(fragment, chunkText(h.Source, textField), r.snippetChars),
		}
		if h.Score != nil {
			hit.Score = *h.Score
		}
		hits = append(hits, hit)
	}
	return hits, nil
}

// ListFiles 用 scroll 分页遍历整个索引，按 (path, fileName) 去重并保留首次出现的 id。
func (r *esDocumentRepository) ListFiles(ctx context.Context) ([]model.FileRecord, error) {
	if r.err != nil {
		return nil, r.err
	}
	body := map[string]interface{}{
		"size":    r.cfg.ListPageSize,
		"query":   map[string]interface{}{"match_all": map[string]interface{}{}},
		"_source": []string{"file_name", "path"},
		"sort":    []string{"_doc"},
	}
	keepAlive := scrollKeepAlive
	resp, err := r.search(ctx, body, &keepAlive)
	if err != nil {
		return nil, err
	}

	type fileKey struct{ path, name string }
	seen := make(map[fileKey]struct{})
	files := make([]model.FileRecord, 0)
	scrollID := resp.ScrollID
	defer func() { r.clearScroll(scrollID) }()

	pages := 0
	for len(resp.Hits.Hits) > 0 {
		pages++
		for _, h := range resp.Hits.Hits {
			var src model.ChunkDocument
			if err := json.Unmarshal(h.Source, &src); err != nil || h.ID == "" || src.FileName == "" {
				continue
			}
			key := fileKey{path: src.Path, name: src.FileName}
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			files = append(files, model.FileRecord{ID: h.ID, FileName: src.FileName, Path: src.Path})
		}
		if scrollID == "" {
			break
		}
		resp, err = r.scroll(ctx, scrollID)
		if err != nil {
			return nil, err
		}
		if resp.ScrollID != "" {
			scrollID = resp.ScrollID
		}
	}
	log.Infof("[DocumentRepository] 文件列表遍历完成, 页数: %d, 文件数: %d", pages, len(files))
	return files, nil
}

// GetFile 按 id 读取单个分块文档。
func (r *esDocumentRepository) GetFile(ctx context.Context, id string) (*model.FileContentDTO, error) {
	if r.err != nil {
		return nil, r.err
	}
	res, err := r.client.Get(r.cfg.IndexName, id, r.client.Get.WithContext(ctx))
	if err != nil {
		return nil, apperr.Unavailable(err, "elasticsearch get failed")
	}
	defer res.Body.Close()
	if res.StatusCode == http.StatusNotFound {
		return nil, apperr.NotFound("file %q not found", id)
	}
	raw, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, apperr.Unavailable(err, "failed to read elasticsearch response")
	}
	if res.IsError() {
		return nil, apperr.Unavailable(nil, "elasticsearch get failed: %s", es.ErrorReason(res.Status(), raw))
	}

	var doc struct {
		Found  bool            `json:"found"`
		Source json.RawMessage `json:"_source"`
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, apperr.Unavailable(err, "failed to decode elasticsearch response")
	}
	if !doc.Found {
		return nil, apperr.NotFound("file %q not found", id)
	}
	var src model.ChunkDocument
	if err := json.Unmarshal(doc.Source, &src); err != nil {
		return nil, apperr.Decode(err, "stored document %q is malformed", id)
	}

	dto := &model.FileContentDTO{
		ID:       id,
		FileName: src.FileName,
		Path:     src.Path,
		Content:  ContentNotFound,
	}
	text := chunkText(doc.Source, r.cfg.TextField)
	if src.Content != nil {
		dto.Content = *src.Content
		isBase64, err := IsBase64Content(src.ContentType, src.FileName, dto.Content)
		if err != nil {
			return nil, err
		}
		dto.IsBase64 = isBase64
		// 没有分块文本时退回到原文
		if (text == nil || *text == "") && !isBase64 {
			text = src.Content
		}
	}
	dto.Snippet = ResolveSnippet("", text, r.snippetChars)
	return dto, nil
}

// IsBase64Content 判断存储内容是否为 base64 编码的二进制。
// 显式的 content_type 优先；缺失时仅当文件名以 .pdf 结尾且内容是合法 base64 才视为二进制。
func IsBase64Content(contentType, fileName, content string) (bool, error) {
	switch contentType {
	case model.ContentTypePDFBase64:
		if !validBase64(content) {
			return false, apperr.Decode(nil, "content of %q is declared pdf_base64 but is not valid base64", fileName)
		}
		return true, nil
	case model.ContentTypeText:
		return false, nil
	case "":
		return strings.HasSuffix(strings.ToLower(fileName), ".pdf") && validBase64(content), nil
	default:
		return false, apperr.Decode(nil, "unknown content_type %q for %q", contentType, fileName)
	}
}

func validBase64(s string) bool {
	s = strings.TrimSpace(s)
	if s == "" {
		return false
	}
	_, err := base64.StdEncoding.DecodeString(s)
	return err == nil
}

// ResolveSnippet 按优先级选择摘要：高亮片段、截断后的分块文本、占位符。
func ResolveSnippet(fragment string, text *string, maxChars int) string {
	if fragment != "" {
		return fragment
	}
	if text == nil || *text == "" {
		return ContentUnavailable
	}
	if utf8.RuneCountInString(*text) <= maxChars {
		return *text
	}
	runes := []rune(*text)
	return string(runes[:maxChars]) + "..."
}

// chunkText 读取可配置名称的文本字段。
func chunkText(source json.RawMessage, field string) *string {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(source, &m); err != nil {
		return nil
	}
	raw, ok := m[field]
	if !ok {
		return nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil
	}
	return &s
}

func (r *esDocumentRepository) search(ctx context.Context, body map[string]interface{}, scroll *time.Duration) (*esSearchResponse, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, apperr.Internal(err, "failed to marshal search request")
	}
	req := esapi.SearchRequest{
		Index: []string{r.cfg.IndexName},
		Body:  bytes.NewReader(payload),
	}
	if scroll != nil {
		req.Scroll = *scroll
	}
	res, err := req.Do(ctx, r.client)
	if err != nil {
		log.Errorf("[DocumentRepository] 检索请求失败: %v", err)
		return nil, apperr.Unavailable(err, "elasticsearch search failed")
	}
	return decodeSearch(res)
}

func (r *esDocumentRepository) scroll(ctx context.Context, scrollID string) (*esSearchResponse, error) {
	payload, _ := json.Marshal(map[string]string{
		"scroll":    scrollKeepAlive.String(),
		"scroll_id": scrollID,
	})
	res, err := esapi.ScrollRequest{Body: bytes.NewReader(payload)}.Do(ctx, r.client)
	if err != nil {
		return nil, apperr.Unavailable(err, "elasticsearch scroll failed")
	}
	return decodeSearch(res)
}

func (r *esDocumentRepository) clearScroll(scrollID string) {
	if scrollID == "" {
		return
	}
	payload, _ := json.Marshal(map[string][]string{"scroll_id": {scrollID}})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	res, err := esapi.ClearScrollRequest{Body: bytes.NewReader(payload)}.Do(ctx, r.client)
	if err != nil {
		log.Warnf("[DocumentRepository] 释放 scroll 上下文失败: %v", err)
		return
	}
	res.Body.Close()
}

func decodeSearch(res *esapi.Response) (*esSearchResponse, error) {
	defer res.Body.Close()
	raw, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, apperr.Unavailable(err, "failed to read elasticsearch response")
	}
	if res.IsError() {
		reason := es.ErrorReason(res.Status(), raw)
		log.Errorf("[DocumentRepository] Elasticsearch 返回错误: %s", reason)
		return nil, apperr.Unavailable(nil, "elasticsearch search failed: %s", reason)
	}
	var out esSearchResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, apperr.Unavailable(err, "failed to decode elasticsearch response")
	}
	return &out, nil
}
