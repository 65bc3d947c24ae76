package provider

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "rag-chatbot/internal/errors"
	"rag-chatbot/internal/llm"
	"rag-chatbot/internal/models"
)

type MockRetriever struct {
	err error
}

func (m *MockRetriever) Retrieve(context.Context, string) ([]models.Passage, error) {
	if m.err != nil {
		return nil, m.err
	}
	return []models.Passage{{Content: "The library opens at 8."}}, nil
}

// MockModel answers through fn so concurrent translation calls stay
// independent.
type MockModel struct {
	fn func(messages []llm.Message) (string, error)
}

func (m *MockModel) Generate(_ context.Context, messages []llm.Message) (string, error) {
	return m.fn(messages)
}

type MockStreamingModel struct {
	MockModel
	chunks []llm.Chunk
	err    error
}

func (m *MockStreamingModel) Stream(context.Context, []llm.Message) iter.Seq2[llm.Chunk, error] {
	return func(yield func(llm.Chunk, error) bool) {
		for _, c := range m.chunks {
			if !yield(c, nil) {
				return
			}
		}
		if m.err != nil {
			yield(llm.Chunk{}, m.err)
		}
	}
}

func answering(s string) *MockModel {
	return &MockModel{fn: func([]llm.Message) (string, error) { return s, nil }}
}

// prefixing translates by prefixing the user text with the target language
// named in the system prompt.
func prefixing() *MockModel {
	return &MockModel{fn: func(messages []llm.Message) (string, error) {
		lang := strings.TrimSuffix(strings.TrimPrefix(messages[0].Content, "Translate the following text to "), ". Provide only the translation.")
		return lang + ":" + messages[1].Content, nil
	}}
}

type MockFAQSource struct{}

func (MockFAQSource) Fetch(context.Context) ([]models.FAQ, error) {
	return []models.FAQ{
		{Heading: "Parking", Subheading: []string{"Where?", "Cost?"}},
		{Heading: "Library", Subheading: []string{}},
	}, nil
}

type MockAuditStore struct {
	mu      sync.Mutex
	queries []string
}

func (m *MockAuditStore) SaveQuery(_ context.Context, rec models.AuditRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queries = append(m.queries, rec.Query)
	return nil
}

func (m *MockAuditStore) Queries() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.queries)
}

type MockBatchStore struct {
	ids     []string
	batches []int
}

func (m *MockBatchStore) ListIDs(_ context.Context, limit int) ([]string, error) {
	return m.ids[:min(limit, len(m.ids))], nil
}

func (m *MockBatchStore) DeleteBatch(_ context.Context, ids []string) (any, error) {
	m.batches = append(m.batches, len(ids))
	return map[string]any{"deleted": len(ids)}, nil
}

type MockSearcher struct{}

func (MockSearcher) SearchQueries(context.Context, string, int, float64) (*models.QueryFrequency, error) {
	return &models.QueryFrequency{Frequency: 2, Result: []models.FrequencyBucket{{Datetime: "2024-05-01T10:00:00Z", Frequency: 2}}}, nil
}

type MockTranscriber struct{}

func (MockTranscriber) Transcribe(context.Context, models.Audio) (string, error) {
	return "hello", nil
}

func newProvider(t *testing.T, model llm.ChatModel, opts ...func(*Deps)) (*Base, *MockAuditStore) {
	t.Helper()

	audit := &MockAuditStore{}
	deps := Deps{
		Name:      "test",
		Retriever: &MockRetriever{},
		ChatModel: model,
		FAQs:      MockFAQSource{},
		Analytics: audit,
		Documents: &MockBatchStore{},
	}
	for _, o := range opts {
		o(&deps)
	}

	p, err := New(deps)
	require.NoError(t, err)
	assert.Equal(t, StateReady, p.State())
	return p, audit
}

func collect(seq iter.Seq[string]) []string {
	var out []string
	for s := range seq {
		out = append(out, s)
	}
	return out
}

func drain(t *testing.T, p *Base) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, p.Close(ctx))
}

func TestNewRequiresCollaborators(t *testing.T) {
	_, err := New(Deps{Name: "x", Retriever: &MockRetriever{}, ChatModel: answering("a"), Documents: &MockBatchStore{}})
	assert.ErrorContains(t, err, "missing FAQ source")

	_, err = New(Deps{Name: "x", Retriever: &MockRetriever{}, ChatModel: answering("a"), FAQs: MockFAQSource{}})
	assert.ErrorContains(t, err, "missing document store")

	_, err = New(Deps{Name: "x", ChatModel: answering("a"), FAQs: MockFAQSource{}, Documents: &MockBatchStore{}})
	assert.ErrorContains(t, err, "missing retriever")
}

func TestNotReady(t *testing.T) {
	p := &Base{name: "cold"}
	assert.Equal(t, StateUninitialized, p.State())

	_, err := p.AnswerQuery(context.Background(), "q")
	assert.True(t, apperrors.Is(err, apperrors.ErrNotReady))

	_, err = p.GetFAQs(context.Background())
	assert.True(t, apperrors.Is(err, apperrors.ErrNotReady))

	assert.Equal(t, []string{StreamErrorMessage}, collect(p.AnswerQueryStream(context.Background(), "q")))
}

func TestAnswerQuery(t *testing.T) {
	p, audit := newProvider(t, answering("At 8."))

	answer, err := p.AnswerQuery(context.Background(), "When does the library open?")
	require.NoError(t, err)
	assert.Equal(t, "At 8.", answer.Result)
	assert.NotNil(t, answer.SourceDocuments)
	assert.Empty(t, answer.SourceDocuments)

	drain(t, p)
	assert.Equal(t, []string{"When does the library open?"}, audit.Queries())
}

func TestAnswerQueryBackendError(t *testing.T) {
	p, audit := newProvider(t, answering("unused"), func(d *Deps) {
		d.Retriever = &MockRetriever{err: errors.New("index offline")}
	})

	answer, err := p.AnswerQuery(context.Background(), "q")
	require.Error(t, err)
	assert.Nil(t, answer)
	assert.True(t, apperrors.Is(err, apperrors.ErrBackend))

	drain(t, p)
	assert.Empty(t, audit.Queries())
}

func TestAnswerQueryStream(t *testing.T) {
	model := &MockStreamingModel{chunks: []llm.Chunk{
		llm.MessageChunk("Hello"),
		llm.UnknownChunk(map[string]any{"tool": true}),
		llm.MessageChunk("\n"),
		llm.MessageChunk("World"),
	}}
	p, audit := newProvider(t, model)

	got := collect(p.AnswerQueryStream(context.Background(), "greet"))
	assert.Equal(t, []string{"Hello", "\n", "World"}, got)

	drain(t, p)
	assert.Equal(t, []string{"greet"}, audit.Queries())
}

func TestAnswerQueryStreamError(t *testing.T) {
	model := &MockStreamingModel{
		chunks: []llm.Chunk{llm.MessageChunk("Partial")},
		err:    errors.New("connection reset"),
	}
	p, _ := newProvider(t, model)

	got := collect(p.AnswerQueryStream(context.Background(), "q"))
	assert.Equal(t, []string{"Partial", StreamErrorMessage}, got)
	drain(t, p)
}

func TestAnswerQueryStreamConsumerStops(t *testing.T) {
	model := &MockStreamingModel{chunks: []llm.Chunk{
		llm.MessageChunk("a"), llm.MessageChunk("b"), llm.MessageChunk("c"),
	}}
	p, _ := newProvider(t, model)

	var got []string
	for s := range p.AnswerQueryStream(context.Background(), "q") {
		got = append(got, s)
		break
	}
	assert.Equal(t, []string{"a"}, got)
	drain(t, p)
}

func TestAnswerQueryStreamFallback(t *testing.T) {
	p, audit := newProvider(t, answering("Whole answer\nin one piece"))

	got := collect(p.AnswerQueryStream(context.Background(), "q"))
	assert.Equal(t, []string{"Whole answer\nin one piece"}, got)

	drain(t, p)
	assert.Equal(t, []string{"q"}, audit.Queries())

	failing, _ := newProvider(t, &MockModel{fn: func([]llm.Message) (string, error) {
		return "", errors.New("timeout")
	}})
	assert.Equal(t, []string{FallbackErrorMessage}, collect(failing.AnswerQueryStream(context.Background(), "q")))
	drain(t, failing)
}

func TestTranslateFAQs(t *testing.T) {
	p, _ := newProvider(t, prefixing())

	english, err := p.TranslateFAQs(context.Background(), "en")
	require.NoError(t, err)
	cached, err := p.GetFAQs(context.Background())
	require.NoError(t, err)
	assert.Equal(t, cached, english)

	french, err := p.TranslateFAQs(context.Background(), "fr")
	require.NoError(t, err)
	assert.Equal(t, []models.FAQ{
		{Heading: "French:Parking", Subheading: []string{"French:Where?", "French:Cost?"}},
		{Heading: "French:Library", Subheading: []string{}},
	}, french)

	// cache keeps the English list
	again, err := p.GetFAQs(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Parking", again[0].Heading)
}

func TestTranslateFAQsFailure(t *testing.T) {
	p, _ := newProvider(t, &MockModel{fn: func(messages []llm.Message) (string, error) {
		if messages[1].Content == "Cost?" {
			return "", errors.New("rate limited")
		}
		return "x", nil
	}})

	got, err := p.TranslateFAQs(context.Background(), "de")
	require.Error(t, err)
	assert.Nil(t, got)
	assert.True(t, apperrors.Is(err, apperrors.ErrBackend))
}

func TestOptionalCapabilities(t *testing.T) {
	p, _ := newProvider(t, answering("a"))

	_, err := p.SearchData(context.Background(), "parking", 100, 0.8)
	assert.True(t, apperrors.Is(err, apperrors.ErrNotImplemented))

	_, err = p.TranscribeAudio(context.Background(), models.Audio{Data: strings.NewReader("")})
	assert.True(t, apperrors.Is(err, apperrors.ErrNotImplemented))

	full, _ := newProvider(t, answering("a"), func(d *Deps) {
		d.Searcher = MockSearcher{}
		d.Transcriber = MockTranscriber{}
	})

	freq, err := full.SearchData(context.Background(), "parking", 100, 0.8)
	require.NoError(t, err)
	assert.Equal(t, 2, freq.Frequency)

	text, err := full.TranscribeAudio(context.Background(), models.Audio{Data: strings.NewReader("")})
	require.NoError(t, err)
	assert.Equal(t, "hello", text)
}

func TestDeleteDocuments(t *testing.T) {
	store := &MockBatchStore{}
	for i := range 250 {
		store.ids = append(store.ids, fmt.Sprint(i))
	}
	p, _ := newProvider(t, answering("a"), func(d *Deps) {
		d.Documents = store
		d.DeleteBatchSize = 100
	})

	result, err := p.DeleteAllDocuments(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 250, result.TotalDeleted)
	assert.Len(t, result.DeletedBatches, 3)
	assert.Equal(t, []int{100, 100, 50}, store.batches)

	_, err = p.DeleteDocument(context.Background(), "")
	assert.True(t, apperrors.Is(err, apperrors.ErrInvalidInput))

	single, err := p.DeleteDocument(context.Background(), "42")
	require.NoError(t, err)
	assert.Equal(t, 1, single.TotalDeleted)
}

type closeRecorder struct{ closed bool }

func (c *closeRecorder) Close() error {
	c.closed = true
	return nil
}

func TestCloseReleasesResources(t *testing.T) {
	rec := &closeRecorder{}
	p, _ := newProvider(t, answering("a"), func(d *Deps) {
		d.Closers = append(d.Closers, rec)
	})

	drain(t, p)
	assert.True(t, rec.closed)
}
