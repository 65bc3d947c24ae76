package embeddings

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	stderrors "errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"

	"rag-chatbot/internal/logging"
	"rag-chatbot/internal/storage"
)

// OpenCache opens the badger database backing the embedding cache. An empty
// path keeps the cache in memory.
func OpenCache(path string) (*badger.DB, error) {
	opts := badger.DefaultOptions(path)
	if path == "" {
		opts = opts.WithInMemory(true)
	}
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open embedding cache: %w", err)
	}
	return db, nil
}

// CachedEmbedder memoizes vectors per namespace (usually the model name) and
// text. Cache failures fall through to the wrapped embedder.
type CachedEmbedder struct {
	embedder  Embedder
	db        *badger.DB
	namespace string
}

func NewCachedEmbedder(embedder Embedder, db *badger.DB, namespace string) *CachedEmbedder {
	return &CachedEmbedder{
		embedder:  embedder,
		db:        db,
		namespace: namespace,
	}
}

func (c *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	key := c.key(text)

	vec, err := c.lookup(key)
	if err == nil {
		return vec, nil
	}
	if !stderrors.Is(err, badger.ErrKeyNotFound) {
		logging.Component("embeddings").WithError(err).Warn("embedding cache read failed")
	}

	vec, err = c.embedder.Embed(ctx, text)
	if err != nil {
		return nil, err
	}

	if err := c.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, storage.EncodeVector(vec))
	}); err != nil {
		logging.Component("embeddings").WithError(err).Warn("embedding cache write failed")
	}

	return vec, nil
}

func (c *CachedEmbedder) lookup(key []byte) ([]float32, error) {
	var vec []float32

	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			vec = storage.DecodeVector(val)
			return nil
		})
	})

	return vec, err
}

func (c *CachedEmbedder) key(text string) []byte {
	sum := sha256.Sum256([]byte(text))
	return []byte("emb:" + c.namespace + ":" + hex.EncodeToString(sum[:]))
}
