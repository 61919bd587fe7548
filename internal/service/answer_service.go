package service

import (
	"context"
	"strings"

	"docqa-go/internal/apperr"
	"docqa-go/internal/config"
	"docqa-go/internal/model"
	"docqa-go/pkg/llm"
	"docqa-go/pkg/log"
)

// GroundingInstruction 限定模型只能依据提供的上下文作答，不可配置。
const GroundingInstruction = `You are a helpful AI assistant. Your task is to answer the user's question based *only* on the context provided below.

If the answer is not available in the context, you must state that you cannot answer the question with the given information. Do not use any external knowledge.`

const codeInstruction = `You are a helpful AI coding assistant. Write, modify or rewrite code and documents as the user asks. The context below contains excerpts from the user's documents; treat it as reference material and follow its conventions. If the context does not contain what the request depends on, say so instead of guessing.`

const defaultNoResultText = "No relevant information was found in the documents for this question. Tell the user that no information was found and do not answer from outside knowledge."

const (
	defaultRefStart = "<<REF>>"
	defaultRefEnd   = "<<END>>"
)

// ResponseStreamer 构建提示词并流式调用语言模型。
type ResponseStreamer struct {
	client llm.Client
	prompt config.PromptConfig
	gen    *llm.GenerationParams
}

// NewResponseStreamer 创建一个新的 ResponseStreamer 实例。
func NewResponseStreamer(client llm.Client, prompt config.PromptConfig, gen *llm.GenerationParams) *ResponseStreamer {
	if prompt.RefStart == "" {
		prompt.RefStart = defaultRefStart
	}
	if prompt.RefEnd == "" {
		prompt.RefEnd = defaultRefEnd
	}
	if prompt.NoResultText == "" {
		prompt.NoResultText = defaultNoResultText
	}
	return &ResponseStreamer{client: client, prompt: prompt, gen: gen}
}

// GroundedMessages 构建只允许依据上下文作答的消息。contextText 为空时以“未找到信息”的指令代替上下文。
func (s *ResponseStreamer) GroundedMessages(question, contextText string) []llm.Message {
	return []llm.Message{
		{Role: "system", Content: s.systemMessage(GroundingInstruction, contextText)},
		{Role: "user", Content: question},
	}
}

// CodeMessages 构建代码类请求的消息，上下文作为参考资料，保留此前的对话。
func (s *ResponseStreamer) CodeMessages(history model.ConversationHistory, contextText string) []llm.Message {
	msgs := []llm.Message{{Role: "system", Content: s.systemMessage(codeInstruction, contextText)}}
	return append(msgs, historyMessages(history)...)
}

// ChitChatMessages 直接使用对话历史，不附加任何上下文限制。
func (s *ResponseStreamer) ChitChatMessages(history model.ConversationHistory) []llm.Message {
	return historyMessages(history)
}

// Stream 以流式方式生成回答。在产生第一个片段之前的失败以 upstream_unavailable 返回。
func (s *ResponseStreamer) Stream(ctx context.Context, modelName string, messages []llm.Message) (<-chan llm.Chunk, error) {
	ch, err := s.client.StreamChat(ctx, modelName, messages, s.gen)
	if err != nil {
		log.Errorf("[ResponseStreamer] 启动流式生成失败, model: %s, error: %v", modelName, err)
		return nil, apperr.Unavailable(err, "language model unavailable")
	}
	return ch, nil
}

func (s *ResponseStreamer) systemMessage(instruction, contextText string) string {
	var sys strings.Builder
	sys.WriteString(instruction)
	sys.WriteString("\n\n")
	if s.prompt.Rules != "" {
		sys.WriteString(s.prompt.Rules)
		sys.WriteString("\n\n")
	}
	sys.WriteString("Context:\n")
	sys.WriteString(s.prompt.RefStart)
	sys.WriteString("\n")
	if contextText != "" {
		sys.WriteString(contextText)
	} else {
		sys.WriteString(s.prompt.NoResultText)
	}
	sys.WriteString("\n")
	sys.WriteString(s.prompt.RefEnd)
	return sys.String()
}

func historyMessages(history model.ConversationHistory) []llm.Message {
	msgs := make([]llm.Message, 0, len(history))
	for _, turn := range history {
		msgs = append(msgs, llm.Message{Role: string(turn.Role), Content: turn.Text})
	}
	return msgs
}
