// Package documents implements bulk document deletion shared by the
// vector store backends.
package documents

import (
	"context"
	"fmt"

	"rag-chatbot/internal/logging"
	"rag-chatbot/internal/models"
)

const (
	// DefaultBatchSize is the number of ids sent per delete request.
	DefaultBatchSize = 100
	// ListLimit bounds the ids collected by one DeleteAll call.
	ListLimit = 1000
)

// BatchStore lists and deletes documents by primary key. DeleteBatch returns
// the raw backend response.
type BatchStore interface {
	ListIDs(ctx context.Context, limit int) ([]string, error)
	DeleteBatch(ctx context.Context, ids []string) (any, error)
}

// Delete removes a single document.
func Delete(ctx context.Context, store BatchStore, id string) (*models.DeleteResult, error) {
	if id == "" {
		return nil, fmt.Errorf("document id is required")
	}

	resp, err := store.DeleteBatch(ctx, []string{id})
	if err != nil {
		return nil, err
	}

	logging.Component("documents").WithField("id", id).Info("document deleted")
	return &models.DeleteResult{Deleted: resp, TotalDeleted: 1}, nil
}

// DeleteAll lists up to ListLimit ids and deletes them in batches of
// batchSize, stopping at the first failed batch.
func DeleteAll(ctx context.Context, store BatchStore, batchSize int) (*models.DeleteResult, error) {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	logger := logging.Component("documents")

	ids, err := store.ListIDs(ctx, ListLimit)
	if err != nil {
		return nil, err
	}

	if len(ids) == 0 {
		logger.Info("no documents found for deletion")
		return &models.DeleteResult{Message: "No documents found."}, nil
	}

	logger.WithField("count", len(ids)).Info("deleting documents")

	result := &models.DeleteResult{DeletedBatches: []any{}}
	for start := 0; start < len(ids); start += batchSize {
		end := min(start+batchSize, len(ids))

		resp, err := store.DeleteBatch(ctx, ids[start:end])
		if err != nil {
			return nil, fmt.Errorf("batch %d: %w", start/batchSize+1, err)
		}

		logger.WithField("batch", start/batchSize+1).WithField("size", end-start).Debug("batch deleted")
		result.DeletedBatches = append(result.DeletedBatches, resp)
	}

	result.TotalDeleted = len(ids)
	return result, nil
}
