package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"docqa-go/internal/apperr"
	"docqa-go/internal/config"
	"docqa-go/internal/model"
	"docqa-go/internal/repository"
	"docqa-go/pkg/events"
	"docqa-go/pkg/llm"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeLLM 根据系统提示区分分类、关键词与生成三类调用。
type fakeLLM struct {
	mu          sync.Mutex
	intent      string
	intentErr   error
	keywords    string
	keywordErr  error
	deltas      []string
	streamErr   error
	midStream   error
	streamed    [][]llm.Message
	streamModel string
}

func (f *fakeLLM) Complete(ctx context.Context, modelName string, messages []llm.Message, gen *llm.GenerationParams) (string, error) {
	if strings.Contains(messages[0].Content, "intent classifier") {
		return f.intent, f.intentErr
	}
	return f.keywords, f.keywordErr
}

func (f *fakeLLM) StreamChat(ctx context.Context, modelName string, messages []llm.Message, gen *llm.GenerationParams) (<-chan llm.Chunk, error) {
	f.mu.Lock()
	f.streamed = append(f.streamed, messages)
	f.streamModel = modelName
	f.mu.Unlock()
	if f.streamErr != nil {
		return nil, f.streamErr
	}
	out := make(chan llm.Chunk)
	go func() {
		defer close(out)
		for _, d := range f.deltas {
			select {
			case out <- llm.Chunk{Text: d}:
			case <-ctx.Done():
				return
			}
		}
		if f.midStream != nil {
			select {
			case out <- llm.Chunk{Err: f.midStream}:
			case <-ctx.Done():
			}
		}
	}()
	return out, nil
}

type fakeEmbedder struct {
	err      error
	embedErr error
	texts    []string
}

func (f *fakeEmbedder) Available() error { return f.err }

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	f.texts = append(f.texts, text)
	if f.embedErr != nil {
		return nil, f.embedErr
	}
	return []float32{0.1, 0.2, 0.3}, nil
}

type fakeDocs struct {
	availErr  error
	hits      []model.SearchHit
	searchErr error
	requests  []repository.SearchRequest
}

func (f *fakeDocs) Init(context.Context, int) error { return nil }
func (f *fakeDocs) Available() error                { return f.availErr }

func (f *fakeDocs) Search(ctx context.Context, req repository.SearchRequest) ([]model.SearchHit, error) {
	f.requests = append(f.requests, req)
	return f.hits, f.searchErr
}

func (f *fakeDocs) ListFiles(context.Context) ([]model.FileRecord, error) { return nil, nil }

func (f *fakeDocs) GetFile(context.Context, string) (*model.FileContentDTO, error) { return nil, nil }

type recordingSink struct {
	mu     sync.Mutex
	events []events.QueryEvent
}

func (s *recordingSink) Publish(ctx context.Context, e events.QueryEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	return nil
}

func (s *recordingSink) last(t *testing.T) events.QueryEvent {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	require.NotEmpty(t, s.events)
	return s.events[len(s.events)-1]
}

type harness struct {
	llm      *fakeLLM
	embedder *fakeEmbedder
	docs     *fakeDocs
	sink     *recordingSink
	svc      ChatService
}

func newHarness(mode string) *harness {
	h := &harness{
		llm:      &fakeLLM{intent: "query_documents", keywords: "authentication", deltas: []string{"Tokens ", "are ", "rotated."}},
		embedder: &fakeEmbedder{},
		docs:     &fakeDocs{},
		sink:     &recordingSink{},
	}
	h.svc = NewChatService(
		NewIntentClassifier(h.llm, "utility", config.IntentConfig{Mode: mode, Timeout: time.Second}),
		NewKeywordExtractor(h.llm, "utility", time.Second),
		h.embedder,
		h.docs,
		NewResponseStreamer(h.llm, config.PromptConfig{}, nil),
		h.sink,
		config.LLMConfig{Model: "default-model", AllowedModels: []string{"default-model", "big-model"}},
		config.SearchConfig{TopK: 10, NumCandidates: 100},
	)
	return h
}

func drain(t *testing.T, ch <-chan llm.Chunk) (string, error) {
	t.Helper()
	var sb strings.Builder
	timeout := time.After(2 * time.Second)
	for {
		select {
		case c, ok := <-ch:
			if !ok {
				return sb.String(), nil
			}
			if c.Err != nil {
				return sb.String(), c.Err
			}
			sb.WriteString(c.Text)
		case <-timeout:
			t.Fatal("stream did not terminate")
		}
	}
}

func TestChitChatSkipsSearch(t *testing.T) {
	h := newHarness(IntentModeTwoWay)
	h.llm.intent = "chit_chat"

	reply, err := h.svc.Ask(context.Background(), "req-1", model.ChatRequest{Query: "Hey there"})
	require.NoError(t, err)
	text, err := drain(t, reply.Chunks)
	require.NoError(t, err)

	assert.Equal(t, model.IntentChitChat, reply.Intent)
	assert.Equal(t, "Tokens are rotated.", text)
	assert.Empty(t, h.docs.requests, "search must not be invoked for chit chat")
	assert.Empty(t, h.embedder.texts)
	require.Len(t, h.llm.streamed, 1)
	assert.Equal(t, []llm.Message{{Role: "user", Content: "Hey there"}}, h.llm.streamed[0])
}

func TestDocumentQueryUsesAssembledContext(t *testing.T) {
	h := newHarness(IntentModeTwoWay)
	h.docs.hits = []model.SearchHit{
		{ID: "1", FileName: "auth.md", Path: "/docs", Snippet: "<em>Authentication</em> uses signed tokens.", Score: 0.9},
		{ID: "2", FileName: "login.md", Path: "/docs", Snippet: "Login sessions expire after an hour.", Score: 0.7},
	}

	reply, err := h.svc.Ask(context.Background(), "req-2", model.ChatRequest{Query: "How does authentication work?", Model: "big-model"})
	require.NoError(t, err)
	_, err = drain(t, reply.Chunks)
	require.NoError(t, err)

	assert.Equal(t, model.IntentQueryDocuments, reply.Intent)
	assert.Equal(t, "authentication", reply.Keywords)
	assert.Equal(t, []string{"authentication"}, h.embedder.texts)
	require.Len(t, h.docs.requests, 1)
	assert.Equal(t, 10, h.docs.requests[0].K)
	assert.Equal(t, 100, h.docs.requests[0].NumCandidates)
	assert.Equal(t, "big-model", h.llm.streamModel)

	require.Len(t, h.llm.streamed, 1)
	msgs := h.llm.streamed[0]
	require.Len(t, msgs, 2)
	want := "Authentication uses signed tokens." + ContextSeparator + "Login sessions expire after an hour."
	assert.Contains(t, msgs[0].Content, "<<REF>>\n"+want+"\n<<END>>")
	assert.Contains(t, msgs[0].Content, "cannot answer the question with the given information")
	assert.Equal(t, "How does authentication work?", msgs[1].Content)
}

func TestClassifierFailureFallsBackToDocumentQuery(t *testing.T) {
	for name, setup := range map[string]func(*fakeLLM){
		"backend error": func(f *fakeLLM) { f.intentErr = errors.New("timeout") },
		"garbage label": func(f *fakeLLM) { f.intent = "I think the user wants a poem" },
		"code in two-way mode": func(f *fakeLLM) { f.intent = "generate_code" },
	} {
		t.Run(name, func(t *testing.T) {
			h := newHarness(IntentModeTwoWay)
			setup(h.llm)

			reply, err := h.svc.Ask(context.Background(), "req", model.ChatRequest{Query: "Write me something"})
			require.NoError(t, err)
			_, err = drain(t, reply.Chunks)
			require.NoError(t, err)
			assert.Equal(t, model.IntentQueryDocuments, reply.Intent)
			assert.Len(t, h.docs.requests, 1)
		})
	}
}

func TestKeywordFailureUsesOriginalQuery(t *testing.T) {
	h := newHarness(IntentModeTwoWay)
	h.llm.keywordErr = errors.New("rate limited")

	reply, err := h.svc.Ask(context.Background(), "req", model.ChatRequest{Query: "How does authentication work?"})
	require.NoError(t, err)
	_, _ = drain(t, reply.Chunks)
	assert.Equal(t, []string{"How does authentication work?"}, h.embedder.texts)
}

func TestZeroHitsStillStreamsNoInformationAnswer(t *testing.T) {
	for name, setup := range map[string]func(*harness){
		"no hits":          func(h *harness) {},
		"transient search": func(h *harness) { h.docs.searchErr = apperr.Unavailable(errors.New("timeout"), "search failed") },
		"transient embed":  func(h *harness) { h.embedder.embedErr = errors.New("timeout") },
	} {
		t.Run(name, func(t *testing.T) {
			h := newHarness(IntentModeTwoWay)
			setup(h)

			reply, err := h.svc.Ask(context.Background(), "req", model.ChatRequest{Query: "What is the refund policy?"})
			require.NoError(t, err)
			text, err := drain(t, reply.Chunks)
			require.NoError(t, err)
			assert.NotEmpty(t, text)
			assert.Empty(t, reply.Hits)

			system := h.llm.streamed[0][0].Content
			assert.Contains(t, system, defaultNoResultText)
			assert.Contains(t, system, "Do not use any external knowledge")
			assert.Equal(t, events.StatusDone, h.sink.last(t).Status)
		})
	}
}

func TestUnavailableBackendIsSurfaced(t *testing.T) {
	h := newHarness(IntentModeTwoWay)
	h.embedder.err = apperr.Unavailable(nil, "embedding model not initialized")

	_, err := h.svc.Ask(context.Background(), "req", model.ChatRequest{Query: "How does authentication work?"})
	assert.Equal(t, apperr.KindUpstreamUnavailable, apperr.KindOf(err))
	assert.Empty(t, h.llm.streamed)
	assert.Equal(t, events.StatusErrored, h.sink.last(t).Status)

	h = newHarness(IntentModeTwoWay)
	h.docs.availErr = apperr.Config("dims mismatch")
	_, err = h.svc.Ask(context.Background(), "req", model.ChatRequest{Query: "How does authentication work?"})
	assert.Equal(t, apperr.KindConfig, apperr.KindOf(err))
}

func TestChitChatWorksWithoutSearchBackend(t *testing.T) {
	h := newHarness(IntentModeTwoWay)
	h.llm.intent = "chit_chat"
	h.docs.availErr = apperr.Unavailable(nil, "search backend not initialized")

	reply, err := h.svc.Ask(context.Background(), "req", model.ChatRequest{Query: "thanks!"})
	require.NoError(t, err)
	_, err = drain(t, reply.Chunks)
	require.NoError(t, err)
}

func TestValidation(t *testing.T) {
	h := newHarness(IntentModeTwoWay)

	_, err := h.svc.Ask(context.Background(), "req", model.ChatRequest{})
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	_, err = h.svc.Ask(context.Background(), "req", model.ChatRequest{Query: "  \n\t"})
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	_, err = h.svc.Ask(context.Background(), "req", model.ChatRequest{Query: "hi", Model: "unknown"})
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	_, err = h.svc.Ask(context.Background(), "req", model.ChatRequest{History: model.ConversationHistory{{Role: "system", Text: "x"}}})
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
	assert.Empty(t, h.llm.streamed)
}

func TestPlaceholderQueryWhenLastTurnIsAssistant(t *testing.T) {
	h := newHarness(IntentModeTwoWay)
	reply, err := h.svc.Ask(context.Background(), "req", model.ChatRequest{History: model.ConversationHistory{
		{Role: model.RoleUser, Text: "Summarise the handbook"},
		{Role: model.RoleAssistant, Text: "Which section?"},
	}})
	require.NoError(t, err)
	_, _ = drain(t, reply.Chunks)

	msgs := h.llm.streamed[0]
	assert.Equal(t, model.DefaultQuery, msgs[len(msgs)-1].Content)
}

func TestMidStreamFailureEndsWithErrorChunk(t *testing.T) {
	h := newHarness(IntentModeTwoWay)
	h.llm.midStream = errors.New("connection reset")

	reply, err := h.svc.Ask(context.Background(), "req-9", model.ChatRequest{Query: "How does authentication work?"})
	require.NoError(t, err)
	text, err := drain(t, reply.Chunks)
	assert.Equal(t, "Tokens are rotated.", text)
	assert.Equal(t, apperr.KindUpstreamUnavailable, apperr.KindOf(err))

	ev := h.sink.last(t)
	assert.Equal(t, events.StatusErrored, ev.Status)
	assert.Equal(t, 3, ev.ChunkCount)
	assert.Equal(t, "req-9", ev.RequestID)
}

func TestStreamStartFailureIsSurfaced(t *testing.T) {
	h := newHarness(IntentModeTwoWay)
	h.llm.streamErr = errors.New("503")

	_, err := h.svc.Ask(context.Background(), "req", model.ChatRequest{Query: "How does authentication work?"})
	assert.Equal(t, apperr.KindUpstreamUnavailable, apperr.KindOf(err))
}

func TestCancellationAbortsStream(t *testing.T) {
	h := newHarness(IntentModeTwoWay)
	h.llm.deltas = make([]string, 1000)
	for i := range h.llm.deltas {
		h.llm.deltas[i] = "x"
	}

	ctx, cancel := context.WithCancel(context.Background())
	reply, err := h.svc.Ask(ctx, "req", model.ChatRequest{Query: "How does authentication work?"})
	require.NoError(t, err)
	<-reply.Chunks
	cancel()

	for range reply.Chunks {
	}
	assert.Eventually(t, func() bool {
		h.sink.mu.Lock()
		defer h.sink.mu.Unlock()
		return len(h.sink.events) == 1 && h.sink.events[0].Status == events.StatusAborted
	}, time.Second, 10*time.Millisecond)
}

func TestGenerateCodeInThreeWayMode(t *testing.T) {
	h := newHarness(IntentModeThreeWay)
	h.llm.intent = "generate_code"
	h.docs.hits = []model.SearchHit{{ID: "1", FileName: "auth.go", Path: "/src", Snippet: "func Login() {}", Score: 1}}

	reply, err := h.svc.Ask(context.Background(), "req", model.ChatRequest{Query: "Add a logout function to the auth service."})
	require.NoError(t, err)
	_, err = drain(t, reply.Chunks)
	require.NoError(t, err)

	assert.Equal(t, model.IntentGenerateCode, reply.Intent)
	assert.Len(t, h.docs.requests, 1)
	msgs := h.llm.streamed[0]
	assert.Contains(t, msgs[0].Content, "coding assistant")
	assert.Contains(t, msgs[0].Content, "func Login() {}")
	assert.Equal(t, "Add a logout function to the auth service.", msgs[len(msgs)-1].Content)
}

func TestCandidatePool(t *testing.T) {
	assert.Equal(t, 100, CandidatePool(100, 10))
	assert.Equal(t, 200, CandidatePool(100, 20))
	assert.Equal(t, 500, CandidatePool(500, 5))
}
