// Package model 包含了应用的数据模型定义。
package model

import "strings"

// Role 是对话轮次的作者。
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// DefaultQuery 在历史中找不到用户最新发言时替代使用。
const DefaultQuery = "Please provide a summary based on the context."

// ConversationTurn 代表一轮对话。
type ConversationTurn struct {
	Role Role   `json:"role"`
	Text string `json:"text"`
}

// ConversationHistory 是按时间排序的对话轮次，最新的在最后。
type ConversationHistory []ConversationTurn

// LatestUserText 返回最后一轮的文本（仅当其作者为 user 且非空），否则返回 DefaultQuery。
func (h ConversationHistory) LatestUserText() string {
	if len(h) == 0 {
		return DefaultQuery
	}
	last := h[len(h)-1]
	if last.Role != RoleUser || strings.TrimSpace(last.Text) == "" {
		return DefaultQuery
	}
	return last.Text
}

// Earlier 返回除最后一轮之外的历史。
func (h ConversationHistory) Earlier() ConversationHistory {
	if len(h) == 0 {
		return nil
	}
	return h[:len(h)-1]
}

// ChatRequest 是 /api/chat 的请求体。
type ChatRequest struct {
	Query   string              `json:"query"`
	Model   string              `json:"model"`
	History ConversationHistory `json:"history,omitempty"`
}

// Conversation 将 query 追加为最新的用户轮次后返回完整历史。
// 只含空白的 query 视为未提供。
func (r ChatRequest) Conversation() ConversationHistory {
	history := make(ConversationHistory, 0, len(r.History)+1)
	history = append(history, r.History...)
	if query := strings.TrimSpace(r.Query); query != "" {
		history = append(history, ConversationTurn{Role: RoleUser, Text: query})
	}
	return history
}
