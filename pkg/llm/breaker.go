package llm

import (
	"context"
	"time"

	"docqa-go/internal/config"
	"docqa-go/pkg/log"

	"github.com/sony/gobreaker"
)

// breakerClient 为非流式调用加上熔断器；后端持续失败时快速返回错误，
// 由调用方（意图分类、关键词提取）走降级路径。流式调用直接透传。
type breakerClient struct {
	inner Client
	cb    *gobreaker.CircuitBreaker
}

// WithBreaker 用熔断器包装 Client。
func WithBreaker(inner Client, cfg config.BreakerConfig) Client {
	maxFailures := cfg.MaxFailures
	if maxFailures == 0 {
		maxFailures = 5
	}
	openTimeout := cfg.OpenTimeout
	if openTimeout == 0 {
		openTimeout = 30 * time.Second
	}
	settings := gobreaker.Settings{
		Name:        "llm-complete",
		MaxRequests: 1,
		Timeout:     openTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warnf("[LLMBreaker] 熔断器 %s 状态变化: %s -> %s", name, from, to)
		},
	}
	return &breakerClient{inner: inner, cb: gobreaker.NewCircuitBreaker(settings)}
}

func (b *breakerClient) Complete(ctx context.Context, model string, messages []Message, gen *GenerationParams) (string, error) {
	out, err := b.cb.Execute(func() (interface{}, error) {
		return b.inner.Complete(ctx, model, messages, gen)
	})
	if err != nil {
		return "", err
	}
	return out.(string), nil
}

func (b *breakerClient) StreamChat(ctx context.Context, model string, messages []Message, gen *GenerationParams) (<-chan Chunk, error) {
	return b.inner.StreamChat(ctx, model, messages, gen)
}
