// Package provider exposes one tenant's chatbot capabilities behind a single
// façade: question answering, FAQs, transcription, analytics search and
// document administration.
package provider

import (
	"context"
	"fmt"
	"io"
	"iter"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"rag-chatbot/internal/analytics"
	"rag-chatbot/internal/chain"
	"rag-chatbot/internal/documents"
	"rag-chatbot/internal/errors"
	"rag-chatbot/internal/faq"
	"rag-chatbot/internal/llm"
	"rag-chatbot/internal/logging"
	"rag-chatbot/internal/models"
	"rag-chatbot/internal/transcribe"
)

// Units yielded by AnswerQueryStream in place of an answer.
const (
	StreamErrorMessage   = "Error: An error occurred while streaming the response."
	FallbackErrorMessage = "Error: An unexpected error occurred while processing your request."
	NoAnswerMessage      = "Error: Could not retrieve answer."
)

var tracer = otel.Tracer("rag-chatbot/provider")

type Provider interface {
	Name() string
	State() State

	AnswerQuery(ctx context.Context, query string) (*models.Answer, error)
	// AnswerQueryStream never fails: errors become a single readable unit.
	AnswerQueryStream(ctx context.Context, query string) iter.Seq[string]

	GetFAQs(ctx context.Context) ([]models.FAQ, error)
	TranslateFAQs(ctx context.Context, lang string) ([]models.FAQ, error)
	TranscribeAudio(ctx context.Context, audio models.Audio) (string, error)

	SearchData(ctx context.Context, query string, limit int, radius float64) (*models.QueryFrequency, error)
	DeleteDocument(ctx context.Context, id string) (*models.DeleteResult, error)
	DeleteAllDocuments(ctx context.Context) (*models.DeleteResult, error)

	// Close drains pending analytics writes and releases backend clients.
	Close(ctx context.Context) error
}

type State int32

const (
	StateUninitialized State = iota
	StateInitializing
	StateReady
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	default:
		return "uninitialized"
	}
}

// Deps are the collaborators of one tenant. Retriever, ChatModel, FAQs and
// Documents are required; the rest disable their operation when nil.
type Deps struct {
	Name string

	Retriever        chain.Retriever
	ChatModel        llm.ChatModel
	TranslationModel llm.ChatModel
	SystemPrompt     string

	FAQs   faq.Source
	FAQTTL time.Duration

	Analytics        analytics.Store
	AnalyticsTimeout time.Duration
	Searcher         analytics.Searcher

	Transcriber transcribe.Transcriber

	Documents       documents.BatchStore
	DeleteBatchSize int

	Closers []io.Closer
}

// Base implements Provider on top of Deps. Both tenant variants are a Base
// with different collaborators.
type Base struct {
	name  string
	state atomic.Int32

	pipeline    *chain.Pipeline
	faqs        *faq.Cache
	translator  *chain.Translator
	sink        *analytics.Sink
	searcher    analytics.Searcher
	transcriber transcribe.Transcriber
	documents   documents.BatchStore
	batchSize   int
	closers     []io.Closer
}

var _ Provider = (*Base)(nil)

// New builds every collaborator synchronously. The returned provider is
// Ready; on error nothing is returned and the caller must not serve.
func New(deps Deps) (*Base, error) {
	p := &Base{name: deps.Name}
	if err := p.init(deps); err != nil {
		p.state.Store(int32(StateFailed))
		for _, c := range deps.Closers {
			_ = c.Close()
		}
		return nil, fmt.Errorf("provider %s: %w", deps.Name, err)
	}
	return p, nil
}

func (p *Base) init(deps Deps) error {
	p.state.Store(int32(StateInitializing))

	if deps.FAQs == nil {
		return fmt.Errorf("missing FAQ source")
	}
	if deps.Documents == nil {
		return fmt.Errorf("missing document store")
	}

	pipeline, err := chain.New(
		chain.WithRetriever(deps.Retriever),
		chain.WithChatModel(deps.ChatModel),
		chain.WithSystemPrompt(deps.SystemPrompt),
	)
	if err != nil {
		return err
	}

	translation := deps.TranslationModel
	if translation == nil {
		translation = deps.ChatModel
	}

	p.pipeline = pipeline
	p.translator = chain.NewTranslator(translation)
	p.faqs = faq.NewCache(deps.FAQs, deps.FAQTTL)
	p.searcher = deps.Searcher
	p.transcriber = deps.Transcriber
	p.documents = deps.Documents
	p.batchSize = deps.DeleteBatchSize
	p.closers = deps.Closers

	if deps.Analytics != nil {
		p.sink = analytics.NewSink(deps.Analytics, analytics.WithTimeout(deps.AnalyticsTimeout))
	}

	p.state.Store(int32(StateReady))
	logging.Component("provider").WithField("tenant", p.name).
		WithField("streaming", pipeline.CanStream()).Info("provider ready")
	return nil
}

func (p *Base) Name() string { return p.name }

func (p *Base) State() State { return State(p.state.Load()) }

func (p *Base) ready() error {
	if s := p.State(); s != StateReady {
		return errors.ErrNotReady.WithMessage(fmt.Sprintf("provider %q is %s", p.name, s))
	}
	return nil
}

func (p *Base) start(ctx context.Context, op string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "provider."+op, trace.WithAttributes(attribute.String("tenant", p.name)))
}

// wrap keeps classified errors and marks everything else as a backend failure.
func wrap(span trace.Span, op string, err error) error {
	if err == nil {
		return nil
	}
	span.SetStatus(codes.Error, err.Error())

	var se *errors.StandardError
	if errors.As(err, &se) {
		return err
	}
	return errors.Backend(op, err)
}

func (p *Base) AnswerQuery(ctx context.Context, query string) (*models.Answer, error) {
	if err := p.ready(); err != nil {
		return nil, err
	}

	ctx, span := p.start(ctx, "answer")
	defer span.End()

	answer, err := p.pipeline.Answer(ctx, query)
	if err != nil {
		return nil, wrap(span, "answer", err)
	}

	p.record(ctx, query)
	return answer, nil
}

func (p *Base) AnswerQueryStream(ctx context.Context, query string) iter.Seq[string] {
	return func(yield func(string) bool) {
		logger := logging.Component("provider").WithField("tenant", p.name)

		if err := p.ready(); err != nil {
			logger.WithError(err).Warn("stream requested before provider is ready")
			yield(StreamErrorMessage)
			return
		}

		ctx, span := p.start(ctx, "answer_stream")
		defer span.End()

		if !p.pipeline.CanStream() {
			p.fallbackStream(ctx, query, yield)
			return
		}

		units := 0
		for text, err := range p.pipeline.AnswerStream(ctx, query) {
			if err != nil {
				span.SetStatus(codes.Error, err.Error())
				logger.WithError(err).Error("streaming answer failed")
				yield(StreamErrorMessage)
				break
			}
			units++
			if !yield(text) {
				logger.Debug("stream consumer went away")
				break
			}
		}

		span.SetAttributes(attribute.Int("provider.units", units))
		p.record(ctx, query)
	}
}

// fallbackStream answers once and yields the whole result as one unit.
func (p *Base) fallbackStream(ctx context.Context, query string, yield func(string) bool) {
	logger := logging.Component("provider").WithField("tenant", p.name)
	logger.Debug("chat model cannot stream, answering in one piece")

	answer, err := p.pipeline.Answer(ctx, query)
	switch {
	case err != nil:
		logger.WithError(err).Error("fallback answer failed")
		yield(FallbackErrorMessage)
	case answer == nil:
		logger.Error("fallback answer returned no result")
		yield(NoAnswerMessage)
	default:
		p.record(ctx, query)
		yield(answer.Result)
	}
}

func (p *Base) record(ctx context.Context, query string) {
	if p.sink != nil {
		p.sink.Record(ctx, query)
	}
}

func (p *Base) GetFAQs(ctx context.Context) ([]models.FAQ, error) {
	if err := p.ready(); err != nil {
		return nil, err
	}

	ctx, span := p.start(ctx, "faqs")
	defer span.End()

	faqs, err := p.faqs.Get(ctx)
	return faqs, wrap(span, "faq store", err)
}

// TranslateFAQs returns the cached list untouched for English. Translations
// are not cached.
func (p *Base) TranslateFAQs(ctx context.Context, lang string) ([]models.FAQ, error) {
	faqs, err := p.GetFAQs(ctx)
	if err != nil {
		return nil, err
	}
	if chain.IsEnglish(lang) {
		return faqs, nil
	}

	ctx, span := p.start(ctx, "translate_faqs")
	defer span.End()
	span.SetAttributes(attribute.String("lang", lang))

	translated, err := faq.Translate(ctx, p.translator, faqs, lang)
	return translated, wrap(span, "translation", err)
}

func (p *Base) TranscribeAudio(ctx context.Context, audio models.Audio) (string, error) {
	if err := p.ready(); err != nil {
		return "", err
	}
	if p.transcriber == nil {
		return "", errors.NotImplemented("transcribe_audio")
	}

	ctx, span := p.start(ctx, "transcribe")
	defer span.End()

	text, err := p.transcriber.Transcribe(ctx, audio)
	return text, wrap(span, "transcription", err)
}

func (p *Base) SearchData(ctx context.Context, query string, limit int, radius float64) (*models.QueryFrequency, error) {
	if err := p.ready(); err != nil {
		return nil, err
	}
	if p.searcher == nil {
		return nil, errors.NotImplemented("search_data")
	}

	ctx, span := p.start(ctx, "search_data")
	defer span.End()

	result, err := p.searcher.SearchQueries(ctx, query, limit, radius)
	return result, wrap(span, "analytics search", err)
}

func (p *Base) DeleteDocument(ctx context.Context, id string) (*models.DeleteResult, error) {
	if err := p.ready(); err != nil {
		return nil, err
	}
	if id == "" {
		return nil, errors.ErrInvalidInput.WithMessage("document id is required")
	}

	ctx, span := p.start(ctx, "delete_document")
	defer span.End()

	result, err := documents.Delete(ctx, p.documents, id)
	return result, wrap(span, "document delete", err)
}

func (p *Base) DeleteAllDocuments(ctx context.Context) (*models.DeleteResult, error) {
	if err := p.ready(); err != nil {
		return nil, err
	}

	ctx, span := p.start(ctx, "delete_all_documents")
	defer span.End()

	result, err := documents.DeleteAll(ctx, p.documents, p.batchSize)
	if err == nil {
		span.SetAttributes(attribute.Int("documents.deleted", result.TotalDeleted))
	}
	return result, wrap(span, "document delete", err)
}

func (p *Base) Close(ctx context.Context) error {
	var firstErr error
	if p.sink != nil {
		if err := p.sink.Wait(ctx); err != nil {
			firstErr = fmt.Errorf("drain analytics: %w", err)
		}
	}
	for _, c := range p.closers {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
