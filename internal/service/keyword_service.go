package service

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"docqa-go/pkg/llm"
	"docqa-go/pkg/log"
)

const keywordPrompt = `Extract keywords from the user's query for a search engine. Respond with the keywords only, on a single line.

User: "Tell me about the new features in the latest version"
Assistant: new features latest version

User: "How does the authentication work?"
Assistant: authentication`

// 超过该长度的输出视为模型没有按要求压缩
const maxKeywordRunes = 256

// KeywordExtractor 将对话式问题压缩为检索短语。
type KeywordExtractor interface {
	// Extract 尽力压缩，失败时返回原问题。
	Extract(ctx context.Context, query string) string
}

type llmKeywordExtractor struct {
	client  llm.Client
	model   string
	timeout time.Duration
}

// NewKeywordExtractor 创建一个基于语言模型的关键词提取器。
func NewKeywordExtractor(client llm.Client, utilityModel string, timeout time.Duration) KeywordExtractor {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &llmKeywordExtractor{client: client, model: utilityModel, timeout: timeout}
}

func (e *llmKeywordExtractor) Extract(ctx context.Context, query string) string {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	raw, err := e.client.Complete(ctx, e.model, []llm.Message{
		{Role: "system", Content: keywordPrompt},
		{Role: "user", Content: query},
	}, &llm.GenerationParams{Temperature: floatPtr(0)})
	if err != nil {
		log.Warnf("[KeywordExtractor] 关键词提取失败, 使用原问题检索: %v", err)
		return query
	}
	phrase := cleanKeywords(raw)
	if phrase == "" || utf8.RuneCountInString(phrase) > maxKeywordRunes {
		log.Warnf("[KeywordExtractor] 关键词输出不可用, 使用原问题检索, 输出长度: %d", len(raw))
		return query
	}
	return phrase
}

// cleanKeywords 取第一行并去掉引号与前缀。
func cleanKeywords(raw string) string {
	s := strings.TrimSpace(raw)
	if i := strings.IndexAny(s, "\r\n"); i >= 0 {
		s = s[:i]
	}
	s = strings.TrimSpace(s)
	for _, prefix := range []string{"Assistant:", "Keywords:", "->"} {
		s = strings.TrimSpace(strings.TrimPrefix(s, prefix))
	}
	return strings.TrimSpace(strings.Trim(s, "'\"`"))
}
