// Package zilliz reads and writes Zilliz Cloud collections through the
// Milvus Go client.
package zilliz

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"time"

	"github.com/milvus-io/milvus/client/v2/milvusclient"
	"google.golang.org/grpc"

	"rag-chatbot/internal/errors"
)

// dynamicField holds fields that are not part of the collection schema.
const dynamicField = "$meta"

// Milvus is the subset of *milvusclient.Client used by this package.
type Milvus interface {
	Search(ctx context.Context, option milvusclient.SearchOption, callOptions ...grpc.CallOption) ([]milvusclient.ResultSet, error)
	Query(ctx context.Context, option milvusclient.QueryOption, callOptions ...grpc.CallOption) (milvusclient.ResultSet, error)
	Insert(ctx context.Context, option milvusclient.InsertOption, callOptions ...grpc.CallOption) (milvusclient.InsertResult, error)
	Delete(ctx context.Context, option milvusclient.DeleteOption, callOptions ...grpc.CallOption) (milvusclient.DeleteResult, error)
	Close(ctx context.Context) error
}

var _ Milvus = (*milvusclient.Client)(nil)

type Config struct {
	URL     string
	Token   string
	Timeout time.Duration
}

// Client bounds every call to the cluster by a timeout.
type Client struct {
	db      Milvus
	timeout time.Duration
}

// Connect dials the Zilliz Cloud endpoint, authenticating with the API key.
func Connect(ctx context.Context, cfg Config) (*Client, error) {
	c := NewClient(nil, cfg.Timeout)

	ctx, cancel := c.bound(ctx)
	defer cancel()

	db, err := milvusclient.New(ctx, &milvusclient.ClientConfig{
		Address: cfg.URL,
		APIKey:  cfg.Token,
	})
	if err != nil {
		return nil, errors.Backend("zilliz", fmt.Errorf("connect %s: %w", cfg.URL, err))
	}
	c.db = db
	return c, nil
}

func NewClient(db Milvus, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{db: db, timeout: timeout}
}

func (c *Client) Close(ctx context.Context) error {
	return c.db.Close(ctx)
}

func (c *Client) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, c.timeout)
}

func (c *Client) search(ctx context.Context, opt milvusclient.SearchOption) ([]map[string]any, []float32, error) {
	ctx, cancel := c.bound(ctx)
	defer cancel()

	sets, err := c.db.Search(ctx, opt)
	if err != nil {
		return nil, nil, errors.Backend("zilliz", err)
	}
	if len(sets) == 0 {
		return nil, nil, nil
	}

	// one query vector, one result set
	rs := sets[0]
	if rs.Err != nil {
		return nil, nil, errors.Backend("zilliz", rs.Err)
	}

	entities, err := rows(rs)
	if err != nil {
		return nil, nil, errors.Backend("zilliz", err)
	}
	return entities, rs.Scores, nil
}

func (c *Client) query(ctx context.Context, opt milvusclient.QueryOption) ([]map[string]any, error) {
	ctx, cancel := c.bound(ctx)
	defer cancel()

	rs, err := c.db.Query(ctx, opt)
	if err != nil {
		return nil, errors.Backend("zilliz", err)
	}

	entities, err := rows(rs)
	if err != nil {
		return nil, errors.Backend("zilliz", err)
	}
	return entities, nil
}

func (c *Client) insert(ctx context.Context, opt milvusclient.InsertOption) error {
	ctx, cancel := c.bound(ctx)
	defer cancel()

	if _, err := c.db.Insert(ctx, opt); err != nil {
		return errors.Backend("zilliz", err)
	}
	return nil
}

func (c *Client) delete(ctx context.Context, opt milvusclient.DeleteOption) (int64, error) {
	ctx, cancel := c.bound(ctx)
	defer cancel()

	res, err := c.db.Delete(ctx, opt)
	if err != nil {
		return 0, errors.Backend("zilliz", err)
	}
	return res.DeleteCount, nil
}

// rows turns a column oriented result into one map per entity. Dynamic
// fields are merged into the entity. The primary key column of a search
// result is stored under pkKey.
func rows(rs milvusclient.ResultSet) ([]map[string]any, error) {
	n := rs.ResultCount
	if n == 0 {
		for _, col := range rs.Fields {
			if col != nil {
				n = max(n, col.Len())
			}
		}
		if rs.IDs != nil {
			n = max(n, rs.IDs.Len())
		}
	}

	out := make([]map[string]any, n)
	for i := range n {
		row := map[string]any{}

		if rs.IDs != nil && i < rs.IDs.Len() {
			id, err := rs.IDs.Get(i)
			if err != nil {
				return nil, fmt.Errorf("read id %d: %w", i, err)
			}
			row[pkKey] = id
		}

		for _, col := range rs.Fields {
			if col == nil || i >= col.Len() {
				continue
			}
			v, err := col.Get(i)
			if err != nil {
				return nil, fmt.Errorf("read %s[%d]: %w", col.Name(), i, err)
			}
			if col.Name() == dynamicField {
				var raw []byte
				switch b := v.(type) {
				case []byte:
					raw = b
				case json.RawMessage:
					raw = b
				}
				var meta map[string]any
				if raw != nil && decode(raw, &meta) == nil {
					maps.Copy(row, meta)
					continue
				}
			}
			row[col.Name()] = v
		}

		out[i] = row
	}
	return out, nil
}

// pkKey cannot collide with a field name.
const pkKey = "#pk"

func decode(raw []byte, out any) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	return dec.Decode(out)
}
