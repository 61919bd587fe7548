package middleware

import (
	"strconv"

	"docqa-go/pkg/metrics"

	"github.com/gin-gonic/gin"
)

// Metrics 按路由模板与状态码统计请求数。未匹配到路由的请求记为 "unmatched"。
func Metrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		metrics.HTTPRequests.WithLabelValues(route, strconv.Itoa(c.Writer.Status())).Inc()
	}
}
