// Package chain composes retrieval and generation into question answering
// and translation pipelines.
package chain

import (
	"context"
	"errors"
	"iter"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"rag-chatbot/internal/llm"
	"rag-chatbot/internal/logging"
	"rag-chatbot/internal/models"
)

var tracer = otel.Tracer("rag-chatbot/chain")

// Retriever returns the passages most relevant to query, best first.
type Retriever interface {
	Retrieve(ctx context.Context, query string) ([]models.Passage, error)
}

// Pipeline answers questions from retrieved context: retrieve, format,
// prompt, generate.
type Pipeline struct {
	retriever Retriever
	model     llm.ChatModel
	prompt    Prompt
}

type Option func(*Pipeline)

func WithRetriever(r Retriever) Option {
	return func(p *Pipeline) {
		p.retriever = r
	}
}

func WithChatModel(m llm.ChatModel) Option {
	return func(p *Pipeline) {
		p.model = m
	}
}

func WithSystemPrompt(system string) Option {
	return func(p *Pipeline) {
		p.prompt.System = system
	}
}

func New(options ...Option) (*Pipeline, error) {
	p := &Pipeline{
		prompt: NewPrompt(""),
	}

	for _, option := range options {
		option(p)
	}

	if p.retriever == nil {
		return nil, errors.New("missing retriever")
	}

	if p.model == nil {
		return nil, errors.New("missing chat model")
	}

	return p, nil
}

// CanStream reports whether the chat model streams natively.
func (p *Pipeline) CanStream() bool {
	_, ok := p.model.(llm.StreamingChatModel)
	return ok
}

// Answer runs the full pipeline once. SourceDocuments is always empty.
func (p *Pipeline) Answer(ctx context.Context, query string) (*models.Answer, error) {
	messages, err := p.messages(ctx, query)
	if err != nil {
		return nil, err
	}

	ctx, span := tracer.Start(ctx, "chain.generate")
	defer span.End()

	result, err := p.model.Generate(ctx, messages)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	return &models.Answer{
		Result:          result,
		SourceDocuments: []models.Passage{},
	}, nil
}

// AnswerStream retrieves context and then yields translated model fragments.
// Each call runs retrieval and generation again. Unrecognized and empty
// fragments are not yielded.
func (p *Pipeline) AnswerStream(ctx context.Context, query string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		streamer, ok := p.model.(llm.StreamingChatModel)
		if !ok {
			yield("", errors.New("chat model does not support streaming"))
			return
		}

		messages, err := p.messages(ctx, query)
		if err != nil {
			yield("", err)
			return
		}

		ctx, span := tracer.Start(ctx, "chain.stream")
		defer span.End()

		skipped := 0
		for chunk, err := range streamer.Stream(ctx, messages) {
			if err != nil {
				span.SetStatus(codes.Error, err.Error())
				yield("", err)
				return
			}

			text, ok := TranslateChunk(chunk)
			if !ok {
				skipped++
				continue
			}
			if text == "" {
				continue
			}

			if !yield(text, nil) {
				return
			}
		}

		span.SetAttributes(attribute.Int("chain.skipped_chunks", skipped))
	}
}

func (p *Pipeline) messages(ctx context.Context, query string) ([]llm.Message, error) {
	ctx, span := tracer.Start(ctx, "chain.retrieve")
	defer span.End()

	passages, err := p.retriever.Retrieve(ctx, query)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	span.SetAttributes(attribute.Int("chain.passages", len(passages)))
	logging.Component("chain").WithField("passages", len(passages)).Debug("retrieved context")

	return p.prompt.Messages(query, FormatPassages(passages)), nil
}
