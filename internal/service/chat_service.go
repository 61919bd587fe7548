// Package service 包含了应用的业务逻辑层。
package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"docqa-go/internal/apperr"
	"docqa-go/internal/config"
	"docqa-go/internal/model"
	"docqa-go/internal/repository"
	"docqa-go/pkg/events"
	"docqa-go/pkg/llm"
	"docqa-go/pkg/log"
	"docqa-go/pkg/metrics"
)

// State 是单个请求在问答流程中的阶段。
type State int

const (
	StateReceived State = iota
	StateClassifying
	StateChitChatGenerating
	StateExtractingKeywords
	StateSearching
	StateAssemblingContext
	StateGenerating
	StateStreaming
	StateDone
	StateErrored
)

func (s State) String() string {
	switch s {
	case StateReceived:
		return "received"
	case StateClassifying:
		return "classifying"
	case StateChitChatGenerating:
		return "chit_chat_generating"
	case StateExtractingKeywords:
		return "extracting_keywords"
	case StateSearching:
		return "searching"
	case StateAssemblingContext:
		return "assembling_context"
	case StateGenerating:
		return "generating"
	case StateStreaming:
		return "streaming"
	case StateDone:
		return "done"
	default:
		return "errored"
	}
}

// Embedder 是流程需要的向量生成能力，由 embedding.Generator 实现。
type Embedder interface {
	Available() error
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Reply 是一次问答的结果。Chunks 按生成顺序投递文本，结束后关闭；
// 生成中途失败时最后一个元素携带 Err。调用方必须持续读取直到关闭或取消 ctx。
type Reply struct {
	RequestID string
	Intent    model.Intent
	Keywords  string
	Hits      []model.SearchHit
	Chunks    <-chan llm.Chunk
}

// ChatService 定义了问答流程的接口。
type ChatService interface {
	Ask(ctx context.Context, requestID string, req model.ChatRequest) (*Reply, error)
}

type chatService struct {
	classifier IntentClassifier
	extractor  KeywordExtractor
	embedder   Embedder
	docs       repository.DocumentRepository
	streamer   *ResponseStreamer
	sink       events.Sink
	llmCfg     config.LLMConfig
	searchCfg  config.SearchConfig
}

// NewChatService 创建一个新的 ChatService 实例。sink 为 nil 时不发送审计事件。
func NewChatService(
	classifier IntentClassifier,
	extractor KeywordExtractor,
	embedder Embedder,
	docs repository.DocumentRepository,
	streamer *ResponseStreamer,
	sink events.Sink,
	llmCfg config.LLMConfig,
	searchCfg config.SearchConfig,
) ChatService {
	if sink == nil {
		sink = events.NopSink{}
	}
	if searchCfg.TopK <= 0 {
		searchCfg.TopK = 10
	}
	return &chatService{
		classifier: classifier,
		extractor:  extractor,
		embedder:   embedder,
		docs:       docs,
		streamer:   streamer,
		sink:       sink,
		llmCfg:     llmCfg,
		searchCfg:  searchCfg,
	}
}

// run 保存单个请求的可变状态，不在请求之间共享。
type run struct {
	requestID string
	state     State
	started   time.Time
	stageAt   time.Time
	event     events.QueryEvent
}

func (r *run) enter(next State) {
	now := time.Now()
	metrics.StageLatency.WithLabelValues(r.state.String()).Observe(now.Sub(r.stageAt).Seconds())
	log.Infow("[ChatService] 状态迁移", "request_id", r.requestID, "from", r.state.String(), "to", next.String())
	r.state = next
	r.stageAt = now
}

// Ask 执行完整的问答流程并返回流式回答。流开始之前的失败直接以错误返回。
func (s *chatService) Ask(ctx context.Context, requestID string, req model.ChatRequest) (*Reply, error) {
	now := time.Now()
	r := &run{requestID: requestID, state: StateReceived, started: now, stageAt: now}
	r.event = events.QueryEvent{RequestID: requestID, Intent: "unclassified"}

	reply, err := s.ask(ctx, r, req)
	if err != nil {
		s.fail(r, err)
		return nil, err
	}
	reply.Chunks = s.forward(ctx, r, reply.Chunks)
	return reply, nil
}

func (s *chatService) ask(ctx context.Context, r *run, req model.ChatRequest) (*Reply, error) {
	history := req.Conversation()
	modelName, err := s.validate(req, history)
	if err != nil {
		return nil, err
	}
	r.event.Model = modelName
	latest := history.LatestUserText()
	if last := history[len(history)-1]; last.Role != model.RoleUser || strings.TrimSpace(last.Text) == "" {
		// 最新一轮不是有效的用户发言时，以占位问题作为本轮输入
		if last.Role == model.RoleUser {
			history = history[:len(history)-1]
		}
		history = append(history, model.ConversationTurn{Role: model.RoleUser, Text: latest})
	}

	r.enter(StateClassifying)
	intent := s.classifier.Classify(ctx, latest, history.Earlier())
	r.event.Intent = intent.String()
	metrics.ChatRequests.WithLabelValues(intent.String()).Inc()
	log.Infof("[ChatService] 意图分类完成, request_id: %s, intent: %s", r.requestID, intent)

	reply := &Reply{RequestID: r.requestID, Intent: intent}
	var messages []llm.Message
	switch intent {
	case model.IntentChitChat:
		r.enter(StateChitChatGenerating)
		messages = s.streamer.ChitChatMessages(history)
	case model.IntentQueryDocuments, model.IntentGenerateCode:
		contextText, err := s.retrieve(ctx, r, reply, latest)
		if err != nil {
			return nil, err
		}
		r.enter(StateGenerating)
		if intent == model.IntentGenerateCode {
			messages = s.streamer.CodeMessages(history, contextText)
		} else {
			messages = s.streamer.GroundedMessages(latest, contextText)
		}
	}

	chunks, err := s.streamer.Stream(ctx, modelName, messages)
	if err != nil {
		return nil, err
	}
	r.enter(StateStreaming)
	reply.Chunks = chunks
	return reply, nil
}

// retrieve 依次完成关键词提取、向量化、检索与上下文拼接。
// 后端未初始化时返回错误；单次检索的临时失败按空上下文继续。
func (s *chatService) retrieve(ctx context.Context, r *run, reply *Reply, latest string) (string, error) {
	if err := s.embedder.Available(); err != nil {
		return "", err
	}
	if err := s.docs.Available(); err != nil {
		return "", err
	}

	r.enter(StateExtractingKeywords)
	keywords := s.extractor.Extract(ctx, latest)
	reply.Keywords = keywords
	r.event.Keywords = keywords
	log.Infof("[ChatService] 关键词提取完成, request_id: %s, keywords: '%s'", r.requestID, keywords)

	r.enter(StateSearching)
	hits, err := s.search(ctx, keywords)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		log.Warnf("[ChatService] 检索失败, 以空上下文继续, request_id: %s, error: %v", r.requestID, err)
		metrics.SearchDegraded.Inc()
		hits = nil
	}
	metrics.SearchHits.Observe(float64(len(hits)))
	reply.Hits = hits
	r.event.HitCount = len(hits)

	r.enter(StateAssemblingContext)
	contextText := AssembleContext(hits, s.searchCfg.TopK)
	if contextText == "" {
		log.Infof("[ChatService] 上下文为空, 将提示模型未找到相关信息, request_id: %s", r.requestID)
	}
	return contextText, nil
}

func (s *chatService) search(ctx context.Context, phrase string) ([]model.SearchHit, error) {
	vec, err := s.embedder.Embed(ctx, phrase)
	if err != nil {
		return nil, err
	}
	k := s.searchCfg.TopK
	return s.docs.Search(ctx, repository.SearchRequest{
		Vector:        vec,
		K:             k,
		NumCandidates: CandidatePool(s.searchCfg.NumCandidates, k),
		HighlightText: phrase,
	})
}

func (s *chatService) validate(req model.ChatRequest, history model.ConversationHistory) (string, error) {
	if len(history) == 0 {
		return "", apperr.Validation("query or history is required")
	}
	for i, turn := range history {
		if turn.Role != model.RoleUser && turn.Role != model.RoleAssistant {
			return "", apperr.Validation("history[%d] has invalid role %q", i, turn.Role)
		}
	}
	modelName := req.Model
	if modelName == "" {
		return s.llmCfg.Model, nil
	}
	if len(s.llmCfg.AllowedModels) == 0 {
		return modelName, nil
	}
	for _, m := range s.llmCfg.AllowedModels {
		if m == modelName {
			return modelName, nil
		}
	}
	return "", apperr.Validation("model %q is not allowed", modelName)
}

// forward 把生成片段转交给调用方，并在流结束时记录审计事件。
// 输出 channel 无缓冲，调用方停止读取并取消 ctx 后生产者随之停止。
func (s *chatService) forward(ctx context.Context, r *run, in <-chan llm.Chunk) <-chan llm.Chunk {
	out := make(chan llm.Chunk)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				s.finish(r, events.StatusAborted, "")
				return
			case c, ok := <-in:
				if !ok {
					if ctx.Err() != nil {
						s.finish(r, events.StatusAborted, "")
						return
					}
					r.enter(StateDone)
					s.finish(r, events.StatusDone, "")
					return
				}
				if c.Err != nil {
					c.Err = streamError(c.Err)
					s.fail(r, c.Err)
				} else {
					r.event.ChunkCount++
					metrics.StreamChunks.Inc()
				}
				select {
				case out <- c:
				case <-ctx.Done():
					if c.Err == nil {
						s.finish(r, events.StatusAborted, "")
					}
					return
				}
				if c.Err != nil {
					return
				}
			}
		}
	}()
	return out
}

func (s *chatService) fail(r *run, err error) {
	kind := apperr.KindOf(err)
	if errors.Is(err, context.Canceled) {
		s.finish(r, events.StatusAborted, "")
		return
	}
	r.enter(StateErrored)
	metrics.PipelineErrors.WithLabelValues(string(kind)).Inc()
	log.Errorf("[ChatService] 请求失败, request_id: %s, category: %s, error: %v", r.requestID, kind, err)
	s.finish(r, events.StatusErrored, string(kind))
}

func (s *chatService) finish(r *run, status, category string) {
	r.event.Status = status
	r.event.ErrorCategory = category
	r.event.FinishedAt = time.Now()
	r.event.DurationMs = r.event.FinishedAt.Sub(r.started).Milliseconds()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.sink.Publish(ctx, r.event); err != nil {
		log.Warnf("[ChatService] 发送审计事件失败, request_id: %s, error: %v", r.requestID, err)
	}
}

// streamError 将生成中途的失败归类。
func streamError(err error) error {
	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		return err
	}
	return apperr.Unavailable(err, "language model stream interrupted")
}

// CandidatePool 返回 kNN 检索的候选集大小，至少为 10 倍的 k。
func CandidatePool(configured, k int) int {
	if minPool := 10 * k; configured < minPool {
		return minPool
	}
	return configured
}
