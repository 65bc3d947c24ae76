// Package azuresearch talks to an Azure AI Search index over its REST API.
package azuresearch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"rag-chatbot/internal/documents"
	"rag-chatbot/internal/errors"
	"rag-chatbot/internal/logging"
	"rag-chatbot/internal/models"
)

type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

type Config struct {
	Endpoint      string
	APIKey        string
	Index         string
	APIVersion    string
	KeyField      string
	ContentField  string
	VectorField   string
	MetadataField string
	K             int
	Timeout       time.Duration
}

// Index is a hybrid (keyword + vector) retriever over one search index. It
// also serves the admin delete operations.
type Index struct {
	cfg      Config
	embedder Embedder
	client   *http.Client
}

var _ documents.BatchStore = (*Index)(nil)

func New(cfg Config, embedder Embedder) *Index {
	cfg.Endpoint = strings.TrimSuffix(cfg.Endpoint, "/")
	if cfg.APIVersion == "" {
		cfg.APIVersion = "2023-11-01"
	}
	if cfg.KeyField == "" {
		cfg.KeyField = "id"
	}
	if cfg.ContentField == "" {
		cfg.ContentField = "content"
	}
	if cfg.VectorField == "" {
		cfg.VectorField = "content_vector"
	}
	if cfg.MetadataField == "" {
		cfg.MetadataField = "metadata"
	}
	if cfg.K <= 0 {
		cfg.K = 4
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}

	return &Index{
		cfg:      cfg,
		embedder: embedder,
		client:   &http.Client{Timeout: cfg.Timeout},
	}
}

type vectorQuery struct {
	Kind   string    `json:"kind"`
	Vector []float32 `json:"vector"`
	Fields string    `json:"fields"`
	K      int       `json:"k"`
}

type searchRequest struct {
	Search        string        `json:"search"`
	Top           int           `json:"top"`
	Select        string        `json:"select,omitempty"`
	VectorQueries []vectorQuery `json:"vectorQueries,omitempty"`
}

type searchResponse struct {
	Value []map[string]any `json:"value"`
}

type indexResult struct {
	Key        string `json:"key"`
	Status     bool   `json:"status"`
	StatusCode int    `json:"statusCode"`
	Error      string `json:"errorMessage,omitempty"`
}

// Retrieve runs a hybrid search for query and returns the top K passages.
func (x *Index) Retrieve(ctx context.Context, query string) ([]models.Passage, error) {
	vec, err := x.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}

	var resp searchResponse
	err = x.post(ctx, "/docs/search", searchRequest{
		Search: query,
		Top:    x.cfg.K,
		Select: strings.Join([]string{x.cfg.KeyField, x.cfg.ContentField, x.cfg.MetadataField}, ","),
		VectorQueries: []vectorQuery{{
			Kind:   "vector",
			Vector: vec,
			Fields: x.cfg.VectorField,
			K:      x.cfg.K,
		}},
	}, &resp)
	if err != nil {
		return nil, err
	}

	passages := make([]models.Passage, 0, len(resp.Value))
	for _, doc := range resp.Value {
		passages = append(passages, x.passage(doc))
	}
	return passages, nil
}

func (x *Index) passage(doc map[string]any) models.Passage {
	p := models.Passage{Metadata: map[string]any{}}
	p.ID, _ = doc[x.cfg.KeyField].(string)
	p.Content, _ = doc[x.cfg.ContentField].(string)
	p.Score, _ = doc["@search.score"].(float64)

	// metadata is stored as a JSON string
	switch m := doc[x.cfg.MetadataField].(type) {
	case string:
		if m != "" {
			if err := json.Unmarshal([]byte(m), &p.Metadata); err != nil {
				logging.Component("azuresearch").WithError(err).WithField("id", p.ID).Warn("invalid document metadata")
			}
		}
	case map[string]any:
		p.Metadata = m
	}

	if p.ID != "" {
		p.Metadata["id"] = p.ID
	}
	return p
}

// ListIDs returns up to limit document keys.
func (x *Index) ListIDs(ctx context.Context, limit int) ([]string, error) {
	var resp searchResponse
	if err := x.post(ctx, "/docs/search", searchRequest{Search: "*", Top: limit, Select: x.cfg.KeyField}, &resp); err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(resp.Value))
	for _, doc := range resp.Value {
		if id, ok := doc[x.cfg.KeyField].(string); ok {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// DeleteBatch deletes documents by key and returns the per-key results.
func (x *Index) DeleteBatch(ctx context.Context, ids []string) (any, error) {
	actions := make([]map[string]string, len(ids))
	for i, id := range ids {
		actions[i] = map[string]string{"@search.action": "delete", x.cfg.KeyField: id}
	}

	var resp struct {
		Value []indexResult `json:"value"`
	}
	if err := x.post(ctx, "/docs/index", map[string]any{"value": actions}, &resp); err != nil {
		return nil, err
	}

	for _, r := range resp.Value {
		if !r.Status && r.StatusCode != http.StatusNotFound {
			return nil, errors.Backend("azure search", fmt.Errorf("delete %s: %d %s", r.Key, r.StatusCode, r.Error))
		}
	}
	return resp.Value, nil
}

func (x *Index) post(ctx context.Context, path string, body any, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("azure search: encode request: %w", err)
	}

	u := fmt.Sprintf("%s/indexes/%s%s?api-version=%s",
		x.cfg.Endpoint, url.PathEscape(x.cfg.Index), path, url.QueryEscape(x.cfg.APIVersion))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("azure search: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("api-key", x.cfg.APIKey)

	resp, err := x.client.Do(req)
	if err != nil {
		return errors.Backend("azure search", err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.Backend("azure search", err)
	}

	// 207 is a partial success on /docs/index and is inspected by the caller
	if resp.StatusCode >= 300 {
		return errors.Backend("azure search", fmt.Errorf("POST %s failed: %s: %s", path, resp.Status, strings.TrimSpace(string(raw))))
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return errors.Backend("azure search", fmt.Errorf("decode response: %w", err))
	}
	return nil
}
