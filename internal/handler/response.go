// Package handler 包含了处理 HTTP 请求的控制器逻辑。
package handler

import (
	"docqa-go/internal/apperr"
	"docqa-go/internal/middleware"
	"docqa-go/pkg/log"

	"github.com/gin-gonic/gin"
)

// writeError 以 {code, category, message} 的统一格式返回错误。
// internal_error 不向调用方暴露内部细节。
func writeError(c *gin.Context, err error) {
	kind := apperr.KindOf(err)
	status := apperr.HTTPStatus(kind)
	message := apperr.DetailOf(err)
	if kind == apperr.KindInternal {
		log.Errorf("[Handler] 内部错误, request_id: %s, path: %s, error: %v", requestID(c), c.Request.URL.Path, err)
		message = "internal error"
	}
	c.AbortWithStatusJSON(status, gin.H{
		"code":     status,
		"category": kind,
		"message":  message,
	})
}

// errorPayload 是流内错误事件的内容。
func errorPayload(err error) gin.H {
	kind := apperr.KindOf(err)
	detail := apperr.DetailOf(err)
	if kind == apperr.KindInternal {
		detail = "internal error"
	}
	return gin.H{"category": kind, "detail": detail}
}

func requestID(c *gin.Context) string {
	return c.GetString(middleware.RequestIDKey)
}
