// Package middleware 提供了处理 HTTP 请求的中间件。
package middleware

import (
	"net/http"
	"strings"

	"docqa-go/internal/apperr"
	"docqa-go/pkg/log"
	"docqa-go/pkg/token"

	"github.com/gin-gonic/gin"
)

// ClientIDKey 是调用方 ID 在 Gin 上下文中的键。
const ClientIDKey = "clientID"

// AuthMiddleware 创建一个 Gin 中间件，用于校验 API 令牌。
// 令牌从 Authorization: Bearer 头读取；浏览器的 WebSocket 无法设置请求头，因此也接受 token 查询参数。
func AuthMiddleware(jwtManager *token.JWTManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString := c.Query("token")
		if authHeader := c.GetHeader("Authorization"); authHeader != "" {
			const bearerPrefix = "Bearer "
			if !strings.HasPrefix(authHeader, bearerPrefix) {
				abortUnauthorized(c, "无效的授权头格式")
				return
			}
			tokenString = strings.TrimPrefix(authHeader, bearerPrefix)
		}
		if tokenString == "" {
			abortUnauthorized(c, "请求未包含授权头")
			return
		}

		claims, err := jwtManager.VerifyToken(tokenString)
		if err != nil {
			log.Warnf("[AuthMiddleware] 令牌校验失败, path: %s, error: %v", c.Request.URL.Path, err)
			abortUnauthorized(c, "无效或已过期的 token")
			return
		}

		c.Set(ClientIDKey, claims.ClientID)
		c.Next()
	}
}

func abortUnauthorized(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"code":     http.StatusUnauthorized,
		"category": apperr.KindValidation,
		"message":  message,
	})
}
