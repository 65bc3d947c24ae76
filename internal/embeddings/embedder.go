// Package embeddings turns text into vectors for retrieval and analytics.
package embeddings

import (
	"context"
	"fmt"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"rag-chatbot/internal/errors"
)

type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

var _ Embedder = (*OpenAIEmbedder)(nil)

type OpenAIEmbedder struct {
	client openai.Client
	model  string
}

type Option func(*[]option.RequestOption)

func WithBaseURL(url string) Option {
	return func(o *[]option.RequestOption) {
		if url != "" {
			*o = append(*o, option.WithBaseURL(url))
		}
	}
}

func WithTimeout(d time.Duration) Option {
	return func(o *[]option.RequestOption) {
		if d > 0 {
			*o = append(*o, option.WithRequestTimeout(d))
		}
	}
}

func WithMaxRetries(n int) Option {
	return func(o *[]option.RequestOption) {
		*o = append(*o, option.WithMaxRetries(n))
	}
}

func NewEmbedder(apiKey, model string, options ...Option) *OpenAIEmbedder {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	for _, o := range options {
		o(&opts)
	}

	return &OpenAIEmbedder{
		client: openai.NewClient(opts...),
		model:  model,
	}
}

func (e *OpenAIEmbedder) Model() string {
	return e.model
}

func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := e.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Model: openai.EmbeddingModel(e.model),
		Input: openai.EmbeddingNewParamsInputUnion{OfString: openai.String(text)},
	})
	if err != nil {
		return nil, errors.Backend("openai embeddings", err)
	}

	if len(resp.Data) == 0 {
		return nil, errors.Backend("openai embeddings", fmt.Errorf("no embedding returned"))
	}

	src := resp.Data[0].Embedding
	vec := make([]float32, len(src))
	for i, v := range src {
		vec[i] = float32(v)
	}

	return vec, nil
}
