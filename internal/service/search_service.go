// Package service 提供了搜索相关的业务逻辑。
package service

import (
	"context"
	"regexp"
	"strings"

	"docqa-go/internal/apperr"
	"docqa-go/internal/config"
	"docqa-go/internal/model"
	"docqa-go/internal/repository"
	"docqa-go/pkg/log"
	"docqa-go/pkg/metrics"
)

// SearchService 接口定义了直接检索操作。
type SearchService interface {
	Search(ctx context.Context, query string, topK int) ([]model.SearchResultDTO, error)
}

type searchService struct {
	embedder Embedder
	docs     repository.DocumentRepository
	cfg      config.SearchConfig
}

// NewSearchService 创建一个新的 SearchService 实例。
func NewSearchService(embedder Embedder, docs repository.DocumentRepository, cfg config.SearchConfig) SearchService {
	if cfg.TopK <= 0 {
		cfg.TopK = 10
	}
	if cfg.MaxTopK < cfg.TopK {
		cfg.MaxTopK = cfg.TopK
	}
	return &searchService{embedder: embedder, docs: docs, cfg: cfg}
}

// Search 对原始问题做向量检索，结果顺序与索引给出的相关度一致。
// 与问答流程不同，这里的后端失败直接返回给调用方。
func (s *searchService) Search(ctx context.Context, query string, topK int) ([]model.SearchResultDTO, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, apperr.Validation("query is required")
	}
	if topK == 0 {
		topK = s.cfg.TopK
	}
	if topK < 0 || topK > s.cfg.MaxTopK {
		return nil, apperr.Validation("topK must be between 1 and %d", s.cfg.MaxTopK)
	}
	if err := s.embedder.Available(); err != nil {
		return nil, err
	}
	if err := s.docs.Available(); err != nil {
		return nil, err
	}

	log.Infof("[SearchService] 开始执行向量检索, query: '%s', topK: %d", query, topK)
	vec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		log.Errorf("[SearchService] 向量化查询失败: %v", err)
		return nil, err
	}

	highlight := normalizeQuery(query)
	hits, err := s.docs.Search(ctx, repository.SearchRequest{
		Vector:        vec,
		K:             topK,
		NumCandidates: CandidatePool(s.cfg.NumCandidates, topK),
		HighlightText: highlight,
	})
	if err != nil {
		log.Errorf("[SearchService] 检索失败: %v", err)
		return nil, err
	}
	metrics.SearchHits.Observe(float64(len(hits)))
	log.Infof("[SearchService] 检索完成, 命中 %d 条", len(hits))

	results := make([]model.SearchResultDTO, 0, len(hits))
	for _, h := range hits {
		results = append(results, model.SearchResultDTO{
			Source:         h.Source(),
			ContentSnippet: h.Snippet,
			Score:          h.Score,
		})
	}
	return results, nil
}

var (
	reKeep  = regexp.MustCompile(`[^\p{L}\p{N}\s]+`)
	reSpace = regexp.MustCompile(`\s+`)
)

// normalizeQuery 去掉问句中的口语词与标点，得到用于高亮的核心短语。
// 结果为空时返回原问句。
func normalizeQuery(q string) string {
	lower := " " + strings.ToLower(q) + " "
	stopPhrases := []string{" please ", " tell me ", " what is ", " what are ", " how does ", " how do ", " can you ", "请问", "告诉我", "是什么", "如何", "怎么", "吗", "呢"}
	for _, sp := range stopPhrases {
		lower = strings.ReplaceAll(lower, sp, " ")
	}
	kept := reKeep.ReplaceAllString(lower, " ")
	kept = strings.TrimSpace(reSpace.ReplaceAllString(kept, " "))
	if kept == "" {
		return q
	}
	return kept
}
