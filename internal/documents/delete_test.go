package documents

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rag-chatbot/internal/models"
	"rag-chatbot/internal/storage"
)

// MockBatchStore records batch sizes and can fail on a given batch.
type MockBatchStore struct {
	ids     []string
	batches []int
	failAt  int
	listErr error
}

func (m *MockBatchStore) ListIDs(_ context.Context, limit int) ([]string, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	return m.ids[:min(limit, len(m.ids))], nil
}

func (m *MockBatchStore) DeleteBatch(_ context.Context, ids []string) (any, error) {
	m.batches = append(m.batches, len(ids))
	if m.failAt == len(m.batches) {
		return nil, errors.New("delete failed")
	}
	return map[string]any{"code": 0}, nil
}

func newMockStore(n int) *MockBatchStore {
	store := &MockBatchStore{}
	for i := range n {
		store.ids = append(store.ids, fmt.Sprint(i))
	}
	return store
}

func TestDeleteAll(t *testing.T) {
	tests := []struct {
		name        string
		docs        int
		wantBatches []int
	}{
		{"250 documents", 250, []int{100, 100, 50}},
		{"exact multiple", 200, []int{100, 100}},
		{"single partial batch", 7, []int{7}},
		{"list limit caps deletion", 1500, []int{100, 100, 100, 100, 100, 100, 100, 100, 100, 100}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newMockStore(tt.docs)

			result, err := DeleteAll(context.Background(), store, DefaultBatchSize)
			require.NoError(t, err)

			assert.Equal(t, tt.wantBatches, store.batches)
			assert.Len(t, result.DeletedBatches, len(tt.wantBatches))
			assert.Equal(t, min(tt.docs, ListLimit), result.TotalDeleted)
		})
	}
}

func TestDeleteAllEmpty(t *testing.T) {
	store := newMockStore(0)

	result, err := DeleteAll(context.Background(), store, 0)
	require.NoError(t, err)
	assert.Equal(t, &models.DeleteResult{Message: "No documents found."}, result)
	assert.Empty(t, store.batches)
}

func TestDeleteAllFailures(t *testing.T) {
	store := newMockStore(250)
	store.failAt = 2

	_, err := DeleteAll(context.Background(), store, DefaultBatchSize)
	require.ErrorContains(t, err, "batch 2")
	assert.Equal(t, []int{100, 100}, store.batches)

	store = &MockBatchStore{listErr: errors.New("query failed")}
	_, err = DeleteAll(context.Background(), store, DefaultBatchSize)
	require.ErrorContains(t, err, "query failed")
}

func TestDelete(t *testing.T) {
	store := newMockStore(3)

	result, err := Delete(context.Background(), store, "1")
	require.NoError(t, err)
	assert.Equal(t, 1, result.TotalDeleted)
	assert.Equal(t, []int{1}, store.batches)

	_, err = Delete(context.Background(), store, "")
	assert.Error(t, err)
}

func TestDeleteAllAgainstSQLiteStore(t *testing.T) {
	ctx := context.Background()
	store, err := storage.NewSQLiteStore(filepath.Join(t.TempDir(), "docs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	for i := range 250 {
		require.NoError(t, store.AddPassage(ctx, models.NewPassage(fmt.Sprint(i), ""), []float32{1, float32(i)}))
	}

	result, err := DeleteAll(ctx, store, DefaultBatchSize)
	require.NoError(t, err)
	assert.Equal(t, 250, result.TotalDeleted)
	assert.Equal(t, []any{100, 100, 50}, result.DeletedBatches)

	ids, err := store.ListIDs(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, ids)
}
