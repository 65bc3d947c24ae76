package provider

import (
	"context"
	"fmt"
	"io"

	"github.com/dgraph-io/badger/v4"
	"github.com/openai/openai-go/option"

	"rag-chatbot/internal/analytics"
	"rag-chatbot/internal/azuresearch"
	"rag-chatbot/internal/chain"
	"rag-chatbot/internal/config"
	"rag-chatbot/internal/documents"
	"rag-chatbot/internal/embeddings"
	"rag-chatbot/internal/faq"
	"rag-chatbot/internal/llm"
	"rag-chatbot/internal/storage"
	"rag-chatbot/internal/transcribe"
	"rag-chatbot/internal/zilliz"
)

// Build constructs the provider variant configured for tenant. cache may be
// nil to embed without caching.
func Build(ctx context.Context, cfg *config.Config, tenant string, cache *badger.DB) (*Base, error) {
	tc, ok := cfg.Tenants[tenant]
	if !ok {
		return nil, fmt.Errorf("unknown tenant %q", tenant)
	}

	b := &builder{cfg: cfg, tenant: tenant, tc: tc, cache: cache}

	var (
		deps Deps
		err  error
	)
	switch tc.Provider {
	case config.ProviderAzure:
		deps, err = b.azure(ctx)
	case config.ProviderZilliz:
		deps, err = b.zilliz(ctx)
	default:
		err = fmt.Errorf("unknown provider %q", tc.Provider)
	}
	if err != nil {
		b.close()
		return nil, fmt.Errorf("provider %s: %w", tenant, err)
	}

	deps.Closers = b.closers
	return New(deps)
}

type builder struct {
	cfg    *config.Config
	tenant string
	tc     config.TenantConfig
	cache  *badger.DB

	sqlite  *storage.SQLiteStore
	zc      *zilliz.Client
	closers []io.Closer
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

func (b *builder) close() {
	for _, c := range b.closers {
		_ = c.Close()
	}
}

// azure wires Azure OpenAI, the configured retriever, Cosmos Mongo FAQs, the
// SQLite audit log and Azure Speech.
func (b *builder) azure(ctx context.Context) (Deps, error) {
	s := b.cfg.Services

	model := llm.New(s.AzureOpenAI.Deployment,
		llm.WithAzure(s.AzureOpenAI.Endpoint, s.AzureOpenAI.APIVersion, s.AzureOpenAI.APIKey),
		llm.WithTimeout(b.cfg.Pipeline.Timeout()),
		llm.WithTemperature(b.cfg.Pipeline.Temperature),
	)

	retriever, store, err := b.retriever(ctx)
	if err != nil {
		return Deps{}, err
	}

	client, err := faq.Connect(ctx, s.Mongo.URI)
	if err != nil {
		return Deps{}, err
	}
	b.closers = append(b.closers, closerFunc(func() error {
		return client.Disconnect(context.Background())
	}))
	faqs := faq.NewMongoSource(client.Database(s.Mongo.Database).Collection(s.Mongo.FAQCollection))

	audit, err := b.sqliteStore()
	if err != nil {
		return Deps{}, err
	}

	deps := b.deps(retriever, model, faqs, store)
	deps.Analytics = audit
	if s.AzureSpeech.Endpoint != "" {
		deps.Transcriber = transcribe.NewAzureSpeech(s.AzureSpeech.Endpoint, s.AzureSpeech.APIKey, s.AzureSpeech.Language, s.AzureSpeech.RequestTimeout())
	}
	return deps, nil
}

// zilliz wires OpenAI, the configured retriever and the Zilliz FAQ and
// user query collections.
func (b *builder) zilliz(ctx context.Context) (Deps, error) {
	s := b.cfg.Services

	model := llm.New(s.OpenAI.ChatModel,
		llm.WithAPIKey(s.OpenAI.APIKey),
		llm.WithBaseURL(s.OpenAI.BaseURL),
		llm.WithTimeout(b.cfg.Pipeline.Timeout()),
		llm.WithTemperature(b.cfg.Pipeline.Temperature),
	)

	retriever, store, err := b.retriever(ctx)
	if err != nil {
		return Deps{}, err
	}

	zc, err := b.zillizClient(ctx)
	if err != nil {
		return Deps{}, err
	}
	queries := zilliz.NewQueryLog(zc, b.embedder("queries"), s.Zilliz.UserQueriesCollection)

	var opts []option.RequestOption
	if s.OpenAI.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(s.OpenAI.BaseURL))
	}

	deps := b.deps(retriever, model, zilliz.NewFAQSource(zc, s.Zilliz.FAQCollection), store)
	deps.Analytics = queries
	deps.Searcher = queries
	deps.Transcriber = transcribe.NewWhisper(s.OpenAI.APIKey, s.OpenAI.TranscriptionModel, opts...)
	return deps, nil
}

func (b *builder) deps(retriever chain.Retriever, model llm.ChatModel, faqs faq.Source, store documents.BatchStore) Deps {
	return Deps{
		Name:             b.tenant,
		Retriever:        retriever,
		ChatModel:        model,
		SystemPrompt:     b.cfg.Pipeline.SystemPrompt,
		FAQs:             faqs,
		FAQTTL:           b.cfg.Pipeline.CacheTTL(),
		AnalyticsTimeout: b.cfg.Pipeline.AnalyticsWriteTimeout(),
		DeleteBatchSize:  b.cfg.Pipeline.DeleteBatchSize,
	}
}

// retriever returns the tenant's document index, which also serves the
// admin delete operations.
func (b *builder) retriever(ctx context.Context) (chain.Retriever, documents.BatchStore, error) {
	s := b.cfg.Services
	topK := b.cfg.Pipeline.TopK

	switch b.tc.Retriever {
	case config.RetrieverAzureSearch:
		idx := azuresearch.New(azuresearch.Config{
			Endpoint:      s.AzureSearch.Endpoint,
			APIKey:        s.AzureSearch.APIKey,
			Index:         s.AzureSearch.IndexName,
			APIVersion:    s.AzureSearch.APIVersion,
			KeyField:      s.AzureSearch.KeyField,
			ContentField:  s.AzureSearch.ContentField,
			VectorField:   s.AzureSearch.VectorField,
			MetadataField: s.AzureSearch.MetadataField,
			K:             topK,
			Timeout:       s.AzureSearch.RequestTimeout(),
		}, b.embedder("documents"))
		return idx, idx, nil

	case config.RetrieverZilliz:
		zc, err := b.zillizClient(ctx)
		if err != nil {
			return nil, nil, err
		}
		coll := zilliz.NewCollection(zc, b.embedder("documents"), zilliz.CollectionConfig{
			Name:        s.Zilliz.Collection,
			PKField:     s.Zilliz.PrimaryKeyField,
			TextField:   s.Zilliz.TextField,
			VectorField: s.Zilliz.VectorField,
			K:           topK,
		})
		return coll, coll, nil

	case config.RetrieverSQLite:
		store, err := b.sqliteStore()
		if err != nil {
			return nil, nil, err
		}
		r := storage.NewRetriever(store, b.embedder("documents"), topK)
		if seed := b.cfg.Storage.SeedFile; seed != "" {
			if _, err := r.Seed(ctx, seed); err != nil {
				return nil, nil, err
			}
		}
		return r, store, nil
	}

	return nil, nil, fmt.Errorf("unknown retriever %q", b.tc.Retriever)
}

// embedder returns the OpenAI embedder, cached per tenant and purpose when
// an embedding cache is open.
func (b *builder) embedder(purpose string) embeddings.Embedder {
	s := b.cfg.Services.OpenAI

	base := embeddings.NewEmbedder(s.APIKey, s.EmbeddingModel,
		embeddings.WithBaseURL(s.BaseURL),
		embeddings.WithTimeout(b.cfg.Pipeline.Timeout()),
	)
	if b.cache == nil {
		return base
	}
	return embeddings.NewCachedEmbedder(base, b.cache, b.tenant+":"+purpose+":"+s.EmbeddingModel)
}

func (b *builder) sqliteStore() (*storage.SQLiteStore, error) {
	if b.sqlite != nil {
		return b.sqlite, nil
	}

	store, err := storage.NewSQLiteStore(b.cfg.Storage.SQLitePath)
	if err != nil {
		return nil, err
	}
	b.sqlite = store
	b.closers = append(b.closers, store)
	return store, nil
}

func (b *builder) zillizClient(ctx context.Context) (*zilliz.Client, error) {
	if b.zc != nil {
		return b.zc, nil
	}

	z := b.cfg.Services.Zilliz
	zc, err := zilliz.Connect(ctx, zilliz.Config{URL: z.URL, Token: z.Token, Timeout: z.RequestTimeout()})
	if err != nil {
		return nil, err
	}
	b.zc = zc
	b.closers = append(b.closers, closerFunc(func() error {
		return zc.Close(context.Background())
	}))
	return zc, nil
}

var (
	_ analytics.Store    = (*storage.SQLiteStore)(nil)
	_ analytics.Searcher = (*zilliz.QueryLog)(nil)
)
