package handler

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"sync"
	"time"

	"docqa-go/internal/apperr"
	"docqa-go/internal/model"
	"docqa-go/internal/service"
	"docqa-go/pkg/log"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

var (
	upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			return true // 允许所有来源
		},
	}
)

// ChatHandler 负责处理问答请求，支持 SSE 与 WebSocket 两种传输方式。
type ChatHandler struct {
	chatService service.ChatService
}

// NewChatHandler 创建一个新的 ChatHandler。
func NewChatHandler(chatService service.ChatService) *ChatHandler {
	return &ChatHandler{chatService: chatService}
}

// Chat 处理 POST /api/chat，以 SSE 推送生成的文本片段。
// 流开始之前的错误以普通 JSON 错误返回；流中途的错误以 error 事件结束。
func (h *ChatHandler) Chat(c *gin.Context) {
	var req model.ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Warnf("[ChatHandler] 请求体解析失败: %v", err)
		writeError(c, apperr.Validation("invalid request body: %v", err))
		return
	}

	reply, err := h.chatService.Ask(c.Request.Context(), requestID(c), req)
	if err != nil {
		writeError(c, err)
		return
	}

	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Header("X-Intent", reply.Intent.String())
	c.Stream(func(w io.Writer) bool {
		chunk, ok := <-reply.Chunks
		if !ok {
			return false
		}
		if chunk.Err != nil {
			c.SSEvent("error", errorPayload(chunk.Err))
			return false
		}
		c.SSEvent("", gin.H{"text": chunk.Text})
		return true
	})
}

// wsFrame 是客户端发送的 WebSocket 消息：问答请求或 {"type":"stop"} 停止指令。
type wsFrame struct {
	Type string `json:"type"`
	model.ChatRequest
}

// wsSession 保存一条 WebSocket 连接上的写锁与正在进行的生成。
type wsSession struct {
	conn   *websocket.Conn
	mu     sync.Mutex
	cancel context.CancelFunc
}

func (s *wsSession) write(v interface{}) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteMessage(websocket.TextMessage, b)
}

// begin 登记新的生成；已有生成在进行时返回 false。
func (s *wsSession) begin(cancel context.CancelFunc) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return false
	}
	s.cancel = cancel
	return true
}

func (s *wsSession) end() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
}

// stop 取消正在进行的生成，返回是否确实有生成被取消。
func (s *wsSession) stop() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel == nil {
		return false
	}
	s.cancel()
	return true
}

// HandleWebsocket 处理 GET /api/chat/ws。读循环与生成并发执行，
// 收到停止指令时取消当前生成。
func (h *ChatHandler) HandleWebsocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error("WebSocket 升级失败", err)
		return
	}
	defer conn.Close()

	session := &wsSession{conn: conn}
	defer session.stop()
	log.Infof("[ChatHandler] WebSocket 连接已建立, request_id: %s", requestID(c))

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Warnf("[ChatHandler] 从 WebSocket 读取消息失败: %v", err)
			}
			return
		}

		var frame wsFrame
		if err := json.Unmarshal(message, &frame); err != nil {
			_ = session.write(wsError(apperr.Validation("invalid message: %v", err)))
			continue
		}
		if frame.Type == "stop" {
			if session.stop() {
				log.Info("[ChatHandler] 收到停止指令，正在中断流式响应...")
			}
			continue
		}

		ctx, cancel := context.WithCancel(c.Request.Context())
		if !session.begin(cancel) {
			cancel()
			_ = session.write(wsError(apperr.Validation("a response is already streaming on this connection")))
			continue
		}
		go h.streamToSocket(ctx, session, uuid.NewString(), frame.ChatRequest)
	}
}

func (h *ChatHandler) streamToSocket(ctx context.Context, session *wsSession, id string, req model.ChatRequest) {
	defer session.end()

	reply, err := h.chatService.Ask(ctx, id, req)
	if err != nil {
		if ctx.Err() != nil {
			sendCompletion(session, "stopped")
			return
		}
		_ = session.write(wsError(err))
		return
	}

	for chunk := range reply.Chunks {
		if chunk.Err != nil {
			_ = session.write(wsError(chunk.Err))
			return
		}
		if err := session.write(gin.H{"text": chunk.Text}); err != nil {
			log.Warnf("[ChatHandler] 写入 WebSocket 失败, request_id: %s, error: %v", id, err)
			return
		}
	}
	if ctx.Err() != nil {
		sendCompletion(session, "stopped")
		return
	}
	sendCompletion(session, "finished")
}

func wsError(err error) gin.H {
	payload := errorPayload(err)
	payload["type"] = "error"
	return payload
}

// sendCompletion 发送完成通知。
func sendCompletion(session *wsSession, status string) {
	message := "响应已完成"
	if status == "stopped" {
		message = "响应已停止"
	}
	now := time.Now()
	_ = session.write(gin.H{
		"type":      "completion",
		"status":    status,
		"message":   message,
		"timestamp": now.UnixMilli(),
		"date":      now.Format("2006-01-02T15:04:05"),
	})
}
