package handler

import (
	"net/http"

	"docqa-go/internal/service"

	"github.com/gin-gonic/gin"
)

// SourceHandler 暴露外部文档源的只读接口。
type SourceHandler struct {
	sourceService service.SourceService
}

// NewSourceHandler 创建一个新的 SourceHandler 实例。
func NewSourceHandler(sourceService service.SourceService) *SourceHandler {
	return &SourceHandler{sourceService: sourceService}
}

// ListDocuments 处理 GET /api/sources/documents。
func (h *SourceHandler) ListDocuments(c *gin.Context) {
	docs, err := h.sourceService.ListDocuments(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, docs)
}

// ExportDocument 处理 GET /api/sources/documents/*id，返回纯文本内容。
func (h *SourceHandler) ExportDocument(c *gin.Context) {
	doc, err := h.sourceService.ExportText(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, doc)
}
