package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"docqa-go/internal/apperr"
	"docqa-go/internal/config"
	"docqa-go/internal/model"
	"docqa-go/pkg/llm"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseIntent(t *testing.T) {
	cases := []struct {
		raw  string
		mode string
		want model.Intent
		ok   bool
	}{
		{"chit_chat", IntentModeTwoWay, model.IntentChitChat, true},
		{" 'Chit-Chat'\n", IntentModeTwoWay, model.IntentChitChat, true},
		{"Assistant: query_documents", IntentModeTwoWay, model.IntentQueryDocuments, true},
		{"\"query_document\".", IntentModeTwoWay, model.IntentQueryDocuments, true},
		{"generate_code", IntentModeThreeWay, model.IntentGenerateCode, true},
		{"generate_code", IntentModeTwoWay, model.IntentQueryDocuments, false},
		{"", IntentModeTwoWay, model.IntentQueryDocuments, false},
		{"The user is greeting", IntentModeTwoWay, model.IntentQueryDocuments, false},
	}
	for _, c := range cases {
		got, err := ParseIntent(c.raw, c.mode)
		assert.Equal(t, c.want, got, "%q", c.raw)
		if c.ok {
			assert.NoError(t, err, "%q", c.raw)
		} else {
			assert.Equal(t, apperr.KindClassificationAmbiguous, apperr.KindOf(err), "%q", c.raw)
		}
	}
}

func TestClassifierIncludesRecentHistory(t *testing.T) {
	f := &recordingLLM{reply: "chit_chat"}
	c := NewIntentClassifier(f, "utility", config.IntentConfig{Mode: IntentModeTwoWay, Timeout: time.Second})

	history := model.ConversationHistory{
		{Role: model.RoleUser, Text: "turn-1"},
		{Role: model.RoleAssistant, Text: "turn-2"},
		{Role: model.RoleUser, Text: "turn-3"},
		{Role: model.RoleAssistant, Text: "turn-4"},
		{Role: model.RoleUser, Text: "turn-5"},
	}
	assert.Equal(t, model.IntentChitChat, c.Classify(context.Background(), "thanks", history))
	require.Len(t, f.calls, 1)
	system := f.calls[0][0].Content
	assert.NotContains(t, system, "turn-1")
	assert.Contains(t, system, "assistant: turn-4")
	assert.Equal(t, "thanks", f.calls[0][1].Content)
	assert.Equal(t, "utility", f.models[0])
}

func TestClassifierTimeout(t *testing.T) {
	f := &recordingLLM{block: true}
	c := NewIntentClassifier(f, "utility", config.IntentConfig{Timeout: 20 * time.Millisecond})

	start := time.Now()
	assert.Equal(t, model.IntentQueryDocuments, c.Classify(context.Background(), "hello", nil))
	assert.Less(t, time.Since(start), time.Second)
}

func TestKeywordExtractorCleansOutput(t *testing.T) {
	e := NewKeywordExtractor(&recordingLLM{reply: "\"new features latest version\"\nextra line"}, "utility", time.Second)
	assert.Equal(t, "new features latest version", e.Extract(context.Background(), "Tell me about the new features"))

	e = NewKeywordExtractor(&recordingLLM{reply: "   "}, "utility", time.Second)
	assert.Equal(t, "original question", e.Extract(context.Background(), "original question"))

	e = NewKeywordExtractor(&recordingLLM{err: errors.New("down")}, "utility", time.Second)
	assert.Equal(t, "original question", e.Extract(context.Background(), "original question"))
}

func TestAssembleContext(t *testing.T) {
	assert.Equal(t, "", AssembleContext(nil, 10))

	hits := []model.SearchHit{
		{Snippet: "first <em>match</em>"},
		{Snippet: "   "},
		{Snippet: "before\n---\nafter"},
		{Snippet: "third"},
	}
	got := AssembleContext(hits, 3)
	assert.Equal(t, "first match"+ContextSeparator+"before\n\\---\nafter", got)
	assert.Equal(t, 2, strings.Count(got, "---"), "only the real separator and the escaped line contain dashes")
}

func TestGroundedPromptRestrictsToContext(t *testing.T) {
	s := NewResponseStreamer(nil, config.PromptConfig{Rules: "Answer in English."}, nil)

	msgs := s.GroundedMessages("What is X?", "X is a letter.")
	require.Len(t, msgs, 2)
	system := msgs[0].Content
	assert.Contains(t, system, "based *only* on the context")
	assert.Contains(t, system, "you must state that you cannot answer the question with the given information")
	assert.Contains(t, system, "Do not use any external knowledge")
	assert.Contains(t, system, "Answer in English.")
	assert.Contains(t, system, "<<REF>>\nX is a letter.\n<<END>>")
	assert.Equal(t, "What is X?", msgs[1].Content)

	empty := s.GroundedMessages("What is X?", "")[0].Content
	assert.Contains(t, empty, defaultNoResultText)
	assert.Contains(t, empty, "cannot answer the question with the given information")
}

func TestChitChatPromptHasNoRestriction(t *testing.T) {
	s := NewResponseStreamer(nil, config.PromptConfig{}, nil)
	msgs := s.ChitChatMessages(model.ConversationHistory{
		{Role: model.RoleUser, Text: "hi"},
		{Role: model.RoleAssistant, Text: "hello!"},
		{Role: model.RoleUser, Text: "how are you"},
	})
	require.Len(t, msgs, 3)
	for _, m := range msgs {
		assert.NotContains(t, m.Content, "external knowledge")
	}
}

type recordingLLM struct {
	reply  string
	err    error
	block  bool
	calls  [][]llm.Message
	models []string
}

func (r *recordingLLM) Complete(ctx context.Context, modelName string, messages []llm.Message, gen *llm.GenerationParams) (string, error) {
	r.calls = append(r.calls, messages)
	r.models = append(r.models, modelName)
	if r.block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	return r.reply, r.err
}

func (r *recordingLLM) StreamChat(ctx context.Context, modelName string, messages []llm.Message, gen *llm.GenerationParams) (<-chan llm.Chunk, error) {
	return nil, errors.New("not used")
}
