package zilliz

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/milvus-io/milvus/client/v2/entity"
	"github.com/milvus-io/milvus/client/v2/milvusclient"

	"rag-chatbot/internal/documents"
	"rag-chatbot/internal/models"
)

type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Collection is a document collection searched for answers and managed by
// the admin delete endpoints.
type Collection struct {
	client   *Client
	embedder Embedder

	name        string
	pkField     string
	textField   string
	vectorField string
	k           int
}

var _ documents.BatchStore = (*Collection)(nil)

type CollectionConfig struct {
	Name        string
	PKField     string
	TextField   string
	VectorField string
	K           int
}

func NewCollection(client *Client, embedder Embedder, cfg CollectionConfig) *Collection {
	c := &Collection{
		client:      client,
		embedder:    embedder,
		name:        cfg.Name,
		pkField:     cfg.PKField,
		textField:   cfg.TextField,
		vectorField: cfg.VectorField,
		k:           cfg.K,
	}
	if c.pkField == "" {
		c.pkField = "pk"
	}
	if c.textField == "" {
		c.textField = "vector_content"
	}
	if c.vectorField == "" {
		c.vectorField = "vector"
	}
	if c.k <= 0 {
		c.k = 4
	}
	return c
}

// Retrieve returns the k passages nearest to query. Fields other than the
// text and vector become passage metadata.
func (c *Collection) Retrieve(ctx context.Context, query string) ([]models.Passage, error) {
	vec, err := c.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}

	entities, scores, err := c.client.search(ctx, milvusclient.NewSearchOption(c.name, c.k, []entity.Vector{entity.FloatVector(vec)}).
		WithANNSField(c.vectorField).
		WithOutputFields("*"))
	if err != nil {
		return nil, err
	}

	passages := make([]models.Passage, 0, len(entities))
	for i, row := range entities {
		p := models.Passage{Metadata: map[string]any{}}
		if i < len(scores) {
			p.Score = float64(scores[i])
		}

		for key, v := range row {
			switch key {
			case c.textField:
				p.Content, _ = v.(string)
			case c.vectorField:
			case pkKey, c.pkField:
				p.ID = fmt.Sprint(v)
				p.Metadata[c.pkField] = v
			default:
				p.Metadata[key] = v
			}
		}

		passages = append(passages, p)
	}

	return passages, nil
}

// ListIDs returns up to limit primary keys.
func (c *Collection) ListIDs(ctx context.Context, limit int) ([]string, error) {
	entities, err := c.client.query(ctx, milvusclient.NewQueryOption(c.name).
		WithOutputFields(c.pkField).
		WithLimit(limit))
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(entities))
	for _, row := range entities {
		if v, ok := row[c.pkField]; ok {
			ids = append(ids, fmt.Sprint(v))
		}
	}
	return ids, nil
}

// DeleteBatch deletes ids with a `pk in [...]` filter and reports how many
// entities the cluster removed.
func (c *Collection) DeleteBatch(ctx context.Context, ids []string) (any, error) {
	n, err := c.client.delete(ctx, milvusclient.NewDeleteOption(c.name).WithExpr(PKFilter(c.pkField, ids)))
	if err != nil {
		return nil, err
	}
	return map[string]any{"deleteCount": n}, nil
}

// PKFilter renders `pk in [...]`. Numeric ids are left bare, others quoted.
func PKFilter(field string, ids []string) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		if _, err := strconv.ParseInt(id, 10, 64); err == nil {
			parts[i] = id
		} else {
			parts[i] = strconv.Quote(id)
		}
	}
	return fmt.Sprintf("%s in [%s]", field, strings.Join(parts, ", "))
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i, true
		}
		f, err := n.Float64()
		return int64(f), err == nil
	case float64:
		return int64(n), true
	case int64:
		return n, true
	case int32:
		return int64(n), true
	case string:
		i, err := strconv.ParseInt(n, 10, 64)
		return i, err == nil
	}
	return 0, false
}
