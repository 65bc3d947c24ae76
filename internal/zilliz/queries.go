package zilliz

import (
	"context"
	"time"

	"github.com/milvus-io/milvus/client/v2/column"
	"github.com/milvus-io/milvus/client/v2/entity"
	"github.com/milvus-io/milvus/client/v2/index"
	"github.com/milvus-io/milvus/client/v2/milvusclient"

	"rag-chatbot/internal/analytics"
	"rag-chatbot/internal/logging"
	"rag-chatbot/internal/models"
)

// QueryLog stores user queries as vectors in a dedicated collection so they
// can later be searched by similarity.
type QueryLog struct {
	client     *Client
	embedder   Embedder
	collection string
}

var (
	_ analytics.Store    = (*QueryLog)(nil)
	_ analytics.Searcher = (*QueryLog)(nil)
)

func NewQueryLog(client *Client, embedder Embedder, collection string) *QueryLog {
	if collection == "" {
		collection = "user_queries"
	}
	return &QueryLog{client: client, embedder: embedder, collection: collection}
}

func (q *QueryLog) SaveQuery(ctx context.Context, rec models.AuditRecord) error {
	vec, err := q.embedder.Embed(ctx, rec.Query)
	if err != nil {
		return err
	}

	return q.client.insert(ctx, milvusclient.NewColumnBasedInsertOption(q.collection, queryColumns(rec, vec)...))
}

// queryColumns lays out one logged query; pk is generated by the cluster.
func queryColumns(rec models.AuditRecord, vec []float32) []column.Column {
	return []column.Column{
		column.NewColumnVarChar("text", []string{rec.Query}),
		column.NewColumnFloatVector("vector", len(vec), [][]float32{vec}),
		column.NewColumnInt64("timestamp", []int64{rec.Timestamp.Unix()}),
	}
}

// SearchQueries finds logged queries within radius of query and aggregates
// them per hour. Rows without a timestamp are ignored.
func (q *QueryLog) SearchQueries(ctx context.Context, query string, limit int, radius float64) (*models.QueryFrequency, error) {
	vec, err := q.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}

	ann := index.NewCustomAnnParam()
	ann.WithExtraParam("nprobe", 10)
	ann.WithRadius(radius)

	rows, _, err := q.client.search(ctx, milvusclient.NewSearchOption(q.collection, limit, []entity.Vector{entity.FloatVector(vec)}).
		WithANNSField("vector").
		WithAnnParam(ann).
		WithOutputFields("pk", "timestamp"))
	if err != nil {
		return nil, err
	}

	timestamps := make([]time.Time, 0, len(rows))
	for _, row := range rows {
		ts, ok := toInt64(row["timestamp"])
		if !ok {
			continue
		}
		timestamps = append(timestamps, time.Unix(ts, 0).UTC())
	}

	if len(timestamps) == 0 {
		logging.Component("zilliz").WithField("rows", len(rows)).Warn("no timestamped queries found")
	}

	return analytics.AggregateHourly(timestamps), nil
}
