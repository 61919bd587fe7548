// Package llm provides a client for OpenAI-compatible chat completion APIs.
package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"docqa-go/internal/config"
)

// Client defines the interface for an LLM client.
type Client interface {
	// Complete 以非流式方式调用聊天接口，返回完整回答。model 为空时使用配置中的默认模型。
	Complete(ctx context.Context, model string, messages []Message, gen *GenerationParams) (string, error)
	// StreamChat 以流式方式调用聊天接口。返回的 channel 按顺序逐个投递增量文本，
	// 生成结束或出错后关闭；出错时最后一个 Chunk 携带 Err。
	// 调用方取消 ctx 后生产者立即停止并释放底层连接。
	StreamChat(ctx context.Context, model string, messages []Message, gen *GenerationParams) (<-chan Chunk, error)
}

// Message 表示一条角色消息
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Chunk 是流式生成中的一个增量片段。
type Chunk struct {
	Text string
	Err  error
}

// GenerationParams 控制生成行为
type GenerationParams struct {
	Temperature *float64
	TopP        *float64
	MaxTokens   *int
}

type openAICompatibleClient struct {
	cfg    config.LLMConfig
	client *http.Client
}

// NewClient creates a new LLM client for an OpenAI-compatible endpoint.
func NewClient(cfg config.LLMConfig) Client {
	return &openAICompatibleClient{
		cfg:    cfg,
		client: &http.Client{},
	}
}

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Stream      bool      `json:"stream"`
	Temperature *float64  `json:"temperature,omitempty"`
	TopP        *float64  `json:"top_p,omitempty"`
	MaxTokens   *int      `json:"max_tokens,omitempty"`
}

type streamResponse struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

type completionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// DefaultGenerationParams 从配置中读取非零的生成参数，全部为零时返回 nil。
func DefaultGenerationParams(cfg config.LLMGenerationConfig) *GenerationParams {
	var gp GenerationParams
	if cfg.Temperature != 0 {
		t := cfg.Temperature
		gp.Temperature = &t
	}
	if cfg.TopP != 0 {
		p := cfg.TopP
		gp.TopP = &p
	}
	if cfg.MaxTokens != 0 {
		m := cfg.MaxTokens
		gp.MaxTokens = &m
	}
	if gp.Temperature == nil && gp.TopP == nil && gp.MaxTokens == nil {
		return nil
	}
	return &gp
}

func (c *openAICompatibleClient) newRequest(ctx context.Context, model string, messages []Message, gen *GenerationParams, stream bool) (*http.Request, error) {
	if model == "" {
		model = c.cfg.Model
	}
	reqBody := chatRequest{
		Model:    model,
		Messages: messages,
		Stream:   stream,
	}
	// 传参优先，其次使用全局配置
	if gen == nil {
		gen = DefaultGenerationParams(c.cfg.Generation)
	}
	if gen != nil {
		reqBody.Temperature = gen.Temperature
		reqBody.TopP = gen.TopP
		reqBody.MaxTokens = gen.MaxTokens
	}

	reqBytes, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/chat/completions", bytes.NewReader(reqBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to create chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}
	if stream {
		req.Header.Set("Accept", "text/event-stream")
	}
	return req, nil
}

func (c *openAICompatibleClient) do(req *http.Request) (*http.Response, error) {
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call chat api: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, fmt.Errorf("chat api returned non-200 status: %s, body: %s", resp.Status, string(bodyBytes))
	}
	return resp, nil
}

// Complete calls the chat completions API without streaming.
func (c *openAICompatibleClient) Complete(ctx context.Context, model string, messages []Message, gen *GenerationParams) (string, error) {
	req, err := c.newRequest(ctx, model, messages, gen, false)
	if err != nil {
		return "", err
	}
	resp, err := c.do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var out completionResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("failed to decode chat response: %w", err)
	}
	if len(out.Choices) == 0 {
		return "", errors.New("chat api returned no choices")
	}
	return out.Choices[0].Message.Content, nil
}

// StreamChat calls the chat completions API and streams the response deltas.
func (c *openAICompatibleClient) StreamChat(ctx context.Context, model string, messages []Message, gen *GenerationParams) (<-chan Chunk, error) {
	req, err := c.newRequest(ctx, model, messages, gen, true)
	if err != nil {
		return nil, err
	}
	resp, err := c.do(req)
	if err != nil {
		return nil, err
	}

	out := make(chan Chunk)
	go func() {
		defer close(out)
		defer resp.Body.Close()

		reader := bufio.NewReader(resp.Body)
		for {
			line, err := reader.ReadString('\n')
			if err != nil && err != io.EOF {
				if ctx.Err() == nil {
					send(ctx, out, Chunk{Err: fmt.Errorf("failed to read from stream: %w", err)})
				}
				return
			}
			eof := err == io.EOF

			if strings.HasPrefix(line, "data:") {
				data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
				if data == "[DONE]" {
					return
				}
				var chunk streamResponse
				if jsonErr := json.Unmarshal([]byte(data), &chunk); jsonErr == nil {
					if chunk.Error != nil {
						send(ctx, out, Chunk{Err: fmt.Errorf("chat api stream error: %s", chunk.Error.Message)})
						return
					}
					if len(chunk.Choices) > 0 && chunk.Choices[0].Delta.Content != "" {
						if !send(ctx, out, Chunk{Text: chunk.Choices[0].Delta.Content}) {
							return
						}
					}
				}
			}

			if eof {
				// 没有收到 [DONE] 就结束的流视为被截断
				if ctx.Err() == nil {
					send(ctx, out, Chunk{Err: errors.New("chat api stream ended before [DONE]")})
				}
				return
			}
		}
	}()
	return out, nil
}

// send 在消费者拉取或 ctx 取消前阻塞；返回 false 表示消费者已离开。
func send(ctx context.Context, out chan<- Chunk, c Chunk) bool {
	select {
	case out <- c:
		return true
	case <-ctx.Done():
		return false
	}
}
