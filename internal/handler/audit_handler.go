package handler

import (
	"net/http"

	"docqa-go/internal/apperr"
	"docqa-go/internal/repository"
	"docqa-go/pkg/log"

	"github.com/gin-gonic/gin"
)

// AuditHandler 提供查询审计记录的只读接口。
type AuditHandler struct {
	auditRepo repository.AuditRepository
}

// NewAuditHandler 创建一个新的 AuditHandler 实例。
func NewAuditHandler(auditRepo repository.AuditRepository) *AuditHandler {
	return &AuditHandler{auditRepo: auditRepo}
}

// Summary 处理 GET /api/audit/summary，返回各意图的请求数。
func (h *AuditHandler) Summary(c *gin.Context) {
	counts, err := h.auditRepo.CountByIntent()
	if err != nil {
		log.Error("[AuditHandler] 统计审计记录失败", err)
		writeError(c, apperr.Unavailable(err, "audit store unavailable"))
		return
	}
	c.JSON(http.StatusOK, counts)
}

// Get 处理 GET /api/audit/requests/:requestId。
func (h *AuditHandler) Get(c *gin.Context) {
	audit, err := h.auditRepo.FindByRequestID(c.Param("requestId"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, audit)
}
