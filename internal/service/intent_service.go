package service

import (
	"context"
	"strings"
	"time"

	"docqa-go/internal/apperr"
	"docqa-go/internal/config"
	"docqa-go/internal/model"
	"docqa-go/pkg/llm"
	"docqa-go/pkg/log"
	"docqa-go/pkg/metrics"
)

// Intent modes.
const (
	IntentModeTwoWay   = "two_way"
	IntentModeThreeWay = "three_way"
)

const twoWayIntentPrompt = `You are an intent classifier for an AI assistant that answers questions about a private document collection. Your job is to determine the user's primary intent.

Classify the user's message into one of two categories:
1. 'query_documents': The user is asking for information, asking a question, requesting a summary, or looking for something within the documents.
2. 'chit_chat': The user is making a social comment, greeting, expressing gratitude, or saying something not related to the documents.

Respond with only one of the two category names: 'query_documents' or 'chit_chat'.

User: "How does the authentication work?"
Assistant: query_documents

User: "Hey there"
Assistant: chit_chat

User: "Tell me about the new features"
Assistant: query_documents

User: "That's awesome, thanks a lot!"
Assistant: chit_chat

User: "What's the difference between BERT and the Transformer model?"
Assistant: query_documents`

const threeWayIntentPrompt = `You are an advanced intent classifier for an AI assistant that helps with documents and code. Your job is to determine the user's primary intent.

Classify the user's message into one of three categories:
1. 'query_documents': The user is asking for information, asking a question, requesting a summary, or looking for something within the provided context.
2. 'generate_code': The user is asking to write new code, modify existing code, refactor, add features, fix bugs, or asking to edit or rewrite the content of a document.
3. 'chit_chat': The user is making a social comment, greeting, expressing gratitude, or saying something not related to the documents or code.

Respond with only one of the three category names: 'query_documents', 'generate_code', or 'chit_chat'.

User: "How does the authentication work?"
Assistant: query_documents

User: "Hey there"
Assistant: chit_chat

User: "Add a logout function to the auth service."
Assistant: generate_code

User: "Can you refactor the user model to include a new field?"
Assistant: generate_code

User: "That's awesome, thanks a lot!"
Assistant: chit_chat

User: "Rewrite the abstract for the BERT paper to be more concise."
Assistant: generate_code

User: "What's the difference between BERT and the Transformer model?"
Assistant: query_documents`

// 分类时最多参考的历史轮数
const intentHistoryTurns = 4

// IntentClassifier 将用户最新一条消息归入固定的意图集合。
type IntentClassifier interface {
	// Classify 总是返回一个合法意图；后端失败或输出无法识别时返回 IntentQueryDocuments。
	Classify(ctx context.Context, latest string, history model.ConversationHistory) model.Intent
}

type llmIntentClassifier struct {
	client  llm.Client
	model   string
	mode    string
	timeout time.Duration
}

// NewIntentClassifier 创建一个基于语言模型的意图分类器。每次请求只调用一次，不重试。
func NewIntentClassifier(client llm.Client, utilityModel string, cfg config.IntentConfig) IntentClassifier {
	mode := cfg.Mode
	if mode == "" {
		mode = IntentModeTwoWay
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &llmIntentClassifier{client: client, model: utilityModel, mode: mode, timeout: timeout}
}

func (c *llmIntentClassifier) Classify(ctx context.Context, latest string, history model.ConversationHistory) model.Intent {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	messages := []llm.Message{
		{Role: "system", Content: c.systemPrompt(history)},
		{Role: "user", Content: latest},
	}
	raw, err := c.client.Complete(ctx, c.model, messages, &llm.GenerationParams{Temperature: floatPtr(0)})
	if err != nil {
		log.Warnf("[IntentClassifier] 意图分类调用失败, 回退为 query_documents: %v", err)
		metrics.ClassifierFallbacks.WithLabelValues("backend_error").Inc()
		return model.IntentQueryDocuments
	}
	intent, err := ParseIntent(raw, c.mode)
	if err != nil {
		log.Warnf("[IntentClassifier] 无法识别的意图输出, 回退为 query_documents: %v", err)
		metrics.ClassifierFallbacks.WithLabelValues(string(apperr.KindOf(err))).Inc()
		return model.IntentQueryDocuments
	}
	return intent
}

func (c *llmIntentClassifier) systemPrompt(history model.ConversationHistory) string {
	prompt := twoWayIntentPrompt
	if c.mode == IntentModeThreeWay {
		prompt = threeWayIntentPrompt
	}
	if len(history) == 0 {
		return prompt
	}
	if len(history) > intentHistoryTurns {
		history = history[len(history)-intentHistoryTurns:]
	}
	var sb strings.Builder
	sb.WriteString(prompt)
	sb.WriteString("\n\nRecent conversation, for reference only:\n")
	for _, turn := range history {
		sb.WriteString(string(turn.Role))
		sb.WriteString(": ")
		sb.WriteString(turn.Text)
		sb.WriteString("\n")
	}
	return sb.String()
}

// ParseIntent 宽松地解析模型输出的意图标签：忽略大小写、引号、标点与多余的行。
// generate_code 只在三分类模式下有效。
func ParseIntent(raw, mode string) (model.Intent, error) {
	s := strings.ToLower(strings.TrimSpace(raw))
	if i := strings.IndexAny(s, "\r\n"); i >= 0 {
		s = s[:i]
	}
	s = strings.TrimSpace(strings.TrimPrefix(s, "assistant:"))
	s = strings.Trim(s, " \t'\"`.:*")
	s = strings.NewReplacer("-", "_", " ", "_").Replace(s)

	switch s {
	case "chit_chat":
		return model.IntentChitChat, nil
	case "query_documents", "query_document":
		return model.IntentQueryDocuments, nil
	case "generate_code":
		if mode == IntentModeThreeWay {
			return model.IntentGenerateCode, nil
		}
	}
	return model.IntentQueryDocuments, apperr.Ambiguous("unrecognized intent label %q", raw)
}

func floatPtr(f float64) *float64 { return &f }
