package embedding

import (
	"context"
	"fmt"

	"docqa-go/internal/apperr"
	"docqa-go/pkg/log"
)

const probeText = "embedding readiness probe"

// Generator 是进程级共享的向量生成器。启动时调用一次 Init 完成探测，之后只读。
// 探测失败时进入不可用状态，Embed 直接返回该状态对应的错误而不会访问后端。
type Generator struct {
	client     Client
	dimensions int
	err        error
}

// NewGenerator 创建一个尚未初始化的 Generator。
func NewGenerator(client Client, dimensions int) *Generator {
	return &Generator{
		client:     client,
		dimensions: dimensions,
		err:        apperr.Unavailable(nil, "embedding model not initialized"),
	}
}

// Init 调用一次模型并校验向量维度。必须在开始处理请求前调用。
func (g *Generator) Init(ctx context.Context) error {
	vec, err := g.client.CreateEmbedding(ctx, probeText)
	switch {
	case err != nil:
		g.err = apperr.Unavailable(err, "embedding model unavailable")
	case len(vec) != g.dimensions:
		g.err = apperr.Config("embedding dimension mismatch: model returned %d, index expects %d", len(vec), g.dimensions)
	default:
		g.err = nil
		log.Infof("[EmbeddingGenerator] 向量模型初始化成功, 维度: %d", len(vec))
		return nil
	}
	log.Errorf("[EmbeddingGenerator] 向量模型不可用: %v", g.err)
	return g.err
}

// Available 返回 nil 表示可用，否则返回不可用原因。
func (g *Generator) Available() error {
	return g.err
}

// Dimensions 返回配置的向量维度。
func (g *Generator) Dimensions() int {
	return g.dimensions
}

// Embed 将文本映射为固定维度的向量。
func (g *Generator) Embed(ctx context.Context, text string) ([]float32, error) {
	if g.err != nil {
		return nil, g.err
	}
	vec, err := g.client.CreateEmbedding(ctx, text)
	if err != nil {
		return nil, apperr.Unavailable(err, "embedding request failed")
	}
	if len(vec) != g.dimensions {
		return nil, apperr.Config("embedding dimension mismatch: got %d, want %d", len(vec), g.dimensions)
	}
	return vec, nil
}

func (g *Generator) String() string {
	return fmt.Sprintf("embedding.Generator(dims=%d, available=%t)", g.dimensions, g.err == nil)
}
