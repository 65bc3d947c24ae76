package storage

import (
	"context"

	"rag-chatbot/internal/models"
)

type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Retriever embeds the query and returns the k nearest passages.
type Retriever struct {
	store    VectorStore
	embedder Embedder
	k        int
}

func NewRetriever(store VectorStore, embedder Embedder, k int) *Retriever {
	return &Retriever{store: store, embedder: embedder, k: k}
}

func (r *Retriever) Retrieve(ctx context.Context, query string) ([]models.Passage, error) {
	embedding, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}
	return r.store.SearchSimilar(ctx, embedding, r.k)
}

// Ingest embeds and stores a passage.
func (r *Retriever) Ingest(ctx context.Context, p *models.Passage) error {
	embedding, err := r.embedder.Embed(ctx, p.Content)
	if err != nil {
		return err
	}
	return r.store.AddPassage(ctx, p, embedding)
}
