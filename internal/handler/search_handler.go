package handler

import (
	"net/http"

	"docqa-go/internal/apperr"
	"docqa-go/internal/service"
	"docqa-go/pkg/log"

	"github.com/gin-gonic/gin"
)

// SearchHandler 结构体定义了搜索相关的处理器。
type SearchHandler struct {
	searchService service.SearchService
}

// NewSearchHandler 创建一个新的 SearchHandler 实例。
func NewSearchHandler(searchService service.SearchService) *SearchHandler {
	return &SearchHandler{
		searchService: searchService,
	}
}

type searchRequest struct {
	Query string `json:"query"`
	TopK  int    `json:"topK"`
}

// Search 处理 POST /api/search，返回按相关度排序的结果数组。
func (h *SearchHandler) Search(c *gin.Context) {
	var req searchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Warnf("[SearchHandler] 请求体解析失败: %v", err)
		writeError(c, apperr.Validation("invalid request body: %v", err))
		return
	}
	log.Infof("[SearchHandler] 收到搜索请求, query: %s, topK: %d", req.Query, req.TopK)

	results, err := h.searchService.Search(c.Request.Context(), req.Query, req.TopK)
	if err != nil {
		log.Errorf("[SearchHandler] 搜索服务返回错误, error: %v", err)
		writeError(c, err)
		return
	}

	log.Infof("[SearchHandler] 搜索成功, query: '%s', 返回 %d 条结果", req.Query, len(results))
	c.JSON(http.StatusOK, results)
}
