package chain

import (
	"context"
	"errors"
	"iter"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rag-chatbot/internal/llm"
	"rag-chatbot/internal/models"
)

// MockRetriever returns fixed passages and records the query.
type MockRetriever struct {
	passages []models.Passage
	err      error
	queries  []string
}

func (m *MockRetriever) Retrieve(_ context.Context, query string) ([]models.Passage, error) {
	m.queries = append(m.queries, query)
	return m.passages, m.err
}

// MockModel answers with a fixed response and records the prompt it saw.
type MockModel struct {
	response string
	err      error
	seen     []llm.Message
}

func (m *MockModel) Generate(_ context.Context, messages []llm.Message) (string, error) {
	m.seen = messages
	return m.response, m.err
}

// MockStreamingModel yields the configured chunks, then err if set.
type MockStreamingModel struct {
	MockModel
	chunks []llm.Chunk
	pulled int
}

func (m *MockStreamingModel) Stream(_ context.Context, messages []llm.Message) iter.Seq2[llm.Chunk, error] {
	m.seen = messages
	return func(yield func(llm.Chunk, error) bool) {
		for _, c := range m.chunks {
			m.pulled++
			if !yield(c, nil) {
				return
			}
		}
		if m.err != nil {
			yield(llm.Chunk{}, m.err)
		}
	}
}

func TestNewRequiresCollaborators(t *testing.T) {
	_, err := New(WithChatModel(&MockModel{}))
	assert.EqualError(t, err, "missing retriever")

	_, err = New(WithRetriever(&MockRetriever{}))
	assert.EqualError(t, err, "missing chat model")
}

func TestAnswer(t *testing.T) {
	retriever := &MockRetriever{passages: []models.Passage{
		{Content: "Campus opens at 8."},
		{Content: "Parking is free."},
	}}
	model := &MockModel{response: "At 8."}

	p, err := New(WithRetriever(retriever), WithChatModel(model), WithSystemPrompt("rules"))
	require.NoError(t, err)
	assert.False(t, p.CanStream())

	answer, err := p.Answer(context.Background(), "When does campus open?")
	require.NoError(t, err)

	assert.Equal(t, "At 8.", answer.Result)
	assert.NotNil(t, answer.SourceDocuments)
	assert.Empty(t, answer.SourceDocuments)

	require.Len(t, model.seen, 2)
	assert.Equal(t, "rules", model.seen[0].Content)
	assert.Equal(t, "Question: When does campus open?\nContext: Campus opens at 8.\n\nParking is free.", model.seen[1].Content)
	assert.Equal(t, []string{"When does campus open?"}, retriever.queries)
}

func TestAnswerWithEmptyRetrieval(t *testing.T) {
	p, err := New(WithRetriever(&MockRetriever{}), WithChatModel(&MockModel{response: "I don't know."}))
	require.NoError(t, err)

	answer, err := p.Answer(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, "I don't know.", answer.Result)
	assert.Empty(t, answer.SourceDocuments)
}

func TestAnswerPropagatesFailures(t *testing.T) {
	boom := errors.New("boom")

	p, _ := New(WithRetriever(&MockRetriever{err: boom}), WithChatModel(&MockModel{}))
	_, err := p.Answer(context.Background(), "q")
	assert.ErrorIs(t, err, boom)

	p, _ = New(WithRetriever(&MockRetriever{}), WithChatModel(&MockModel{err: boom}))
	_, err = p.Answer(context.Background(), "q")
	assert.ErrorIs(t, err, boom)
}

func TestAnswerStream(t *testing.T) {
	model := &MockStreamingModel{chunks: []llm.Chunk{
		llm.UnknownChunk(map[string]any{"prompt_filter_results": []any{}}),
		llm.MessageChunk(""),
		llm.MessageChunk("Hello"),
		llm.TextChunk(" there"),
		llm.MessageChunk("\nBye"),
	}}

	p, err := New(WithRetriever(&MockRetriever{}), WithChatModel(model))
	require.NoError(t, err)
	assert.True(t, p.CanStream())

	var got []string
	for text, err := range p.AnswerStream(context.Background(), "q") {
		require.NoError(t, err)
		got = append(got, text)
	}

	assert.Equal(t, []string{"Hello", " there", "\nBye"}, got)
}

func TestAnswerStreamStopsPulling(t *testing.T) {
	model := &MockStreamingModel{chunks: []llm.Chunk{
		llm.MessageChunk("a"), llm.MessageChunk("b"), llm.MessageChunk("c"),
	}}
	p, _ := New(WithRetriever(&MockRetriever{}), WithChatModel(model))

	for range p.AnswerStream(context.Background(), "q") {
		break
	}
	assert.Equal(t, 1, model.pulled)
}

func TestAnswerStreamError(t *testing.T) {
	boom := errors.New("boom")
	model := &MockStreamingModel{chunks: []llm.Chunk{llm.MessageChunk("partial")}}
	model.err = boom

	p, _ := New(WithRetriever(&MockRetriever{}), WithChatModel(model))

	var texts []string
	var errs []error
	for text, err := range p.AnswerStream(context.Background(), "q") {
		if err != nil {
			errs = append(errs, err)
			continue
		}
		texts = append(texts, text)
	}

	assert.Equal(t, []string{"partial"}, texts)
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], boom)
}

func TestAnswerStreamRetrievalFailure(t *testing.T) {
	boom := errors.New("index down")
	model := &MockStreamingModel{chunks: []llm.Chunk{llm.MessageChunk("never")}}
	p, _ := New(WithRetriever(&MockRetriever{err: boom}), WithChatModel(model))

	var errs []error
	for _, err := range p.AnswerStream(context.Background(), "q") {
		errs = append(errs, err)
	}
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], boom)
	assert.Zero(t, model.pulled)
}
