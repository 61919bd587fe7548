package handler

import (
	"net/http"

	"docqa-go/internal/apperr"

	"github.com/gin-gonic/gin"
)

// Backend 是可报告可用性的共享资源。
type Backend interface {
	Available() error
}

// HealthHandler 报告共享后端的可用状态。
type HealthHandler struct {
	backends map[string]Backend
}

// NewHealthHandler 创建一个新的 HealthHandler 实例。
func NewHealthHandler(backends map[string]Backend) *HealthHandler {
	return &HealthHandler{backends: backends}
}

type backendStatus struct {
	Available bool        `json:"available"`
	Category  apperr.Kind `json:"category,omitempty"`
	Reason    string      `json:"reason,omitempty"`
}

// Health 处理 GET /healthz。任一后端不可用时返回 503。
func (h *HealthHandler) Health(c *gin.Context) {
	status := "ok"
	code := http.StatusOK
	report := make(map[string]backendStatus, len(h.backends))
	for name, b := range h.backends {
		if err := b.Available(); err != nil {
			status = "unavailable"
			code = http.StatusServiceUnavailable
			report[name] = backendStatus{Category: apperr.KindOf(err), Reason: apperr.DetailOf(err)}
			continue
		}
		report[name] = backendStatus{Available: true}
	}
	c.JSON(code, gin.H{"status": status, "backends": report})
}
