// Package middleware 存放 Gin 框架的中间件。
package middleware

import (
	"bytes"
	"io"
	"strings"
	"time"

	"docqa-go/pkg/log"

	"github.com/gin-gonic/gin"
)

// 记录到日志中的请求体与响应体的最大长度
const maxLoggedBody = 4096

// bodyLogWriter 用于捕获响应体
type bodyLogWriter struct {
	gin.ResponseWriter
	body *bytes.Buffer
}

// Write 实现了 io.Writer 接口，将响应写入 gin.ResponseWriter 和一个内部的 buffer
func (w bodyLogWriter) Write(b []byte) (int, error) {
	if room := maxLoggedBody - w.body.Len(); room > 0 {
		if len(b) > room {
			w.body.Write(b[:room])
		} else {
			w.body.Write(b)
		}
	}
	return w.ResponseWriter.Write(b)
}

// RequestLogger 是一个 Gin 中间件，用于记录请求和响应日志。
// streamingPaths 中的路由不捕获响应体。
func RequestLogger(streamingPaths ...string) gin.HandlerFunc {
	streaming := make(map[string]bool, len(streamingPaths))
	for _, p := range streamingPaths {
		streaming[p] = true
	}
	return func(c *gin.Context) {
		startTime := time.Now()

		// 读取并重新缓存请求体
		var requestBody []byte
		if c.Request.Body != nil {
			requestBody, _ = io.ReadAll(c.Request.Body)
		}
		c.Request.Body = io.NopCloser(bytes.NewBuffer(requestBody))

		path := c.Request.URL.Path
		isStream := streaming[path] || strings.EqualFold(c.GetHeader("Upgrade"), "websocket")
		var blw *bodyLogWriter
		if !isStream {
			blw = &bodyLogWriter{body: bytes.NewBufferString(""), ResponseWriter: c.Writer}
			c.Writer = blw
		}

		c.Next()

		fields := []interface{}{
			"request_id", c.GetString(RequestIDKey),
			"statusCode", c.Writer.Status(),
			"latency", time.Since(startTime).String(),
			"clientIP", c.ClientIP(),
			"method", c.Request.Method,
			"path", path,
			"requestBody", truncate(requestBody),
		}
		if blw != nil {
			fields = append(fields, "responseBody", blw.body.String())
		}
		log.Infow("HTTP Request Log", fields...)
	}
}

func truncate(b []byte) string {
	if len(b) > maxLoggedBody {
		return string(b[:maxLoggedBody]) + "..."
	}
	return string(b)
}
