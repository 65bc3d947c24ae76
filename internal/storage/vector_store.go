package storage

import (
	"context"

	"rag-chatbot/internal/models"
)

// VectorStore holds passages with their embeddings.
type VectorStore interface {
	AddPassage(ctx context.Context, p *models.Passage, embedding []float32) error
	SearchSimilar(ctx context.Context, embedding []float32, topK int) ([]models.Passage, error)
	ListIDs(ctx context.Context, limit int) ([]string, error)
	DeleteBatch(ctx context.Context, ids []string) (any, error)
}

var _ VectorStore = (*SQLiteStore)(nil)
