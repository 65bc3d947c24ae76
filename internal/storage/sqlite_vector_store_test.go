package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rag-chatbot/internal/models"
)

func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test_store.db"))
	require.NoError(t, err, "failed to create SQLite store")
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestSQLiteStorePassages(t *testing.T) {
	ctx := context.Background()
	store := setupTestStore(t)

	// Empty index searches without creating the vec table
	results, err := store.SearchSimilar(ctx, []float32{1, 0, 0}, 2)
	require.NoError(t, err)
	assert.Empty(t, results)

	p1 := models.NewPassage("Library hours are 8 to 5", "library.html")
	p2 := models.NewPassage("Parking permits are required", "parking.html")
	require.NoError(t, store.AddPassage(ctx, p1, []float32{1, 0, 0}))
	require.NoError(t, store.AddPassage(ctx, p2, []float32{0, 1, 0}))

	results, err = store.SearchSimilar(ctx, []float32{0.9, 0.1, 0}, 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, p1.ID, results[0].ID)
	assert.Equal(t, "library.html", results[0].Source())
	assert.Greater(t, results[0].Score, 0.9)

	// Upsert replaces content and vector
	p1.Content = "Library hours are 9 to 5"
	require.NoError(t, store.AddPassage(ctx, p1, []float32{0, 0, 1}))
	results, err = store.SearchSimilar(ctx, []float32{0, 0, 1}, 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "Library hours are 9 to 5", results[0].Content)

	err = store.AddPassage(ctx, models.NewPassage("wrong size", ""), []float32{1, 2})
	assert.ErrorContains(t, err, "cannot change embedding length")
}

func TestSQLiteStoreDeleteBatch(t *testing.T) {
	ctx := context.Background()
	store := setupTestStore(t)

	for i := range 5 {
		p := models.NewPassage(fmt.Sprintf("passage %d", i), "")
		require.NoError(t, store.AddPassage(ctx, p, []float32{float32(i), 1}))
	}

	ids, err := store.ListIDs(ctx, 3)
	require.NoError(t, err)
	require.Len(t, ids, 3)

	n, err := store.DeleteBatch(ctx, ids)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	ids, err = store.ListIDs(ctx, 1000)
	require.NoError(t, err)
	assert.Len(t, ids, 2)

	results, err := store.SearchSimilar(ctx, []float32{1, 1}, 10)
	require.NoError(t, err)
	assert.Len(t, results, 2)
}

func TestSQLiteStoreQueryLog(t *testing.T) {
	ctx := context.Background()
	store := setupTestStore(t)

	base := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, store.SaveQuery(ctx, models.NewAuditRecord("where is parking", base)))
	require.NoError(t, store.SaveQuery(ctx, models.NewAuditRecord("library hours", base.Add(500*time.Millisecond))))

	rows, err := store.db.QueryContext(ctx, `SELECT query, timestamp FROM query_log ORDER BY timestamp`)
	require.NoError(t, err)
	defer func() { _ = rows.Close() }()

	var got []string
	for rows.Next() {
		var query, ts string
		require.NoError(t, rows.Scan(&query, &ts))
		got = append(got, query+"@"+ts)
	}
	require.NoError(t, rows.Err())
	assert.Equal(t, []string{
		"where is parking@2025-03-01T10:00:00.000000000Z",
		"library hours@2025-03-01T10:00:00.500000000Z",
	}, got)
}

func TestRetriever(t *testing.T) {
	ctx := context.Background()
	r := NewRetriever(setupTestStore(t), keywordEmbedder{}, 1)

	require.NoError(t, r.Ingest(ctx, models.NewPassage("parking lots", "a")))
	require.NoError(t, r.Ingest(ctx, models.NewPassage("library books", "b")))

	got, err := r.Retrieve(ctx, "where is the library")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "library books", got[0].Content)
}

func TestRetrieverSeed(t *testing.T) {
	ctx := context.Background()
	store := setupTestStore(t)
	r := NewRetriever(store, keywordEmbedder{}, 2)

	path := filepath.Join(t.TempDir(), "seed.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`passages:
  - id: parking-1
    content: Visitor parking is in lot 5.
    source: parking.html
    metadata:
      campus: main
  - content: ""
  - content: The library opens at 8.
    source: library.html
`), 0o600))

	n, err := r.Seed(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	got, err := r.Retrieve(ctx, "where is parking")
	require.NoError(t, err)
	require.NotEmpty(t, got)
	assert.Equal(t, "parking-1", got[0].ID)
	assert.Equal(t, "parking.html", got[0].Source())
	assert.Equal(t, "main", got[0].Metadata["campus"])

	// a second start leaves the populated index alone
	n, err = r.Seed(ctx, path)
	require.NoError(t, err)
	assert.Zero(t, n)

	ids, err := store.ListIDs(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, ids, 2)
}

func TestRetrieverSeedErrors(t *testing.T) {
	ctx := context.Background()
	r := NewRetriever(setupTestStore(t), keywordEmbedder{}, 2)

	_, err := r.Seed(ctx, filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "failed to read seed file")

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("passages: [unclosed"), 0o600))
	_, err = r.Seed(ctx, path)
	assert.ErrorContains(t, err, "failed to parse seed file")
}
