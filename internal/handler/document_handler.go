package handler

import (
	"net/http"

	"docqa-go/internal/service"
	"docqa-go/pkg/log"

	"github.com/gin-gonic/gin"
)

// DocumentHandler 负责处理索引中文件的只读请求。
type DocumentHandler struct {
	docService service.DocumentService
}

// NewDocumentHandler 创建一个新的 DocumentHandler 实例。
func NewDocumentHandler(docService service.DocumentService) *DocumentHandler {
	return &DocumentHandler{docService: docService}
}

// ListFiles 处理 GET /api/files。
func (h *DocumentHandler) ListFiles(c *gin.Context) {
	files, err := h.docService.ListFiles(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	log.Infof("[DocumentHandler] 返回文件列表, 共 %d 个文件", len(files))
	c.JSON(http.StatusOK, files)
}

// GetFile 处理 GET /api/files/:id。
func (h *DocumentHandler) GetFile(c *gin.Context) {
	file, err := h.docService.GetFile(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, file)
}
