package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	// RequestIDHeader 是请求 ID 使用的 HTTP 头。
	RequestIDHeader = "X-Request-ID"
	// RequestIDKey 是请求 ID 在 Gin 上下文中的键。
	RequestIDKey = "requestID"
)

// RequestID 沿用客户端传入的 X-Request-ID，没有时生成一个新的 UUID，并写回响应头。
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if id == "" || len(id) > 64 {
			id = uuid.NewString()
		}
		c.Set(RequestIDKey, id)
		c.Header(RequestIDHeader, id)
		c.Next()
	}
}
