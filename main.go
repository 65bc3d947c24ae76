// Command rag-chatbot serves the multi-tenant retrieval augmented chatbot API.
package main

import (
	"context"
	"os"
	"os/signal"
	"slices"
	"syscall"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"

	"rag-chatbot/internal/api"
	"rag-chatbot/internal/auth"
	"rag-chatbot/internal/config"
	"rag-chatbot/internal/embeddings"
	"rag-chatbot/internal/logging"
	"rag-chatbot/internal/provider"
	"rag-chatbot/internal/telemetry"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("failed to load configuration")
	}
	logging.Setup(cfg.App.LogLevel, cfg.App.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.WithError(err).Error("server stopped with error")
		stop()
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	shutdownTracing, err := telemetry.Setup(ctx, cfg.Telemetry)
	if err != nil {
		return err
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			log.WithError(err).Warn("failed to flush traces")
		}
	}()

	cache, err := openEmbeddingCache(cfg.Storage.EmbeddingCachePath)
	if err != nil {
		return err
	}
	if cache != nil {
		defer func() {
			if err := cache.Close(); err != nil {
				log.WithError(err).Warn("failed to close embedding cache")
			}
		}()
	}

	tenants := make(map[string]provider.Provider, len(cfg.Tenants))
	defer closeProviders(tenants)

	names := make([]string, 0, len(cfg.Tenants))
	for name := range cfg.Tenants {
		names = append(names, name)
	}
	slices.Sort(names)

	for _, name := range names {
		p, err := provider.Build(ctx, cfg, name, cache)
		if err != nil {
			return err
		}
		tenants[name] = p
	}

	verifier, err := auth.NewVerifier(ctx, cfg.Security)
	if err != nil {
		return err
	}
	if verifier == nil {
		log.Warn("admin endpoints are not authenticated")
	}

	return api.NewServer(cfg, tenants, verifier).Run(ctx)
}

// openEmbeddingCache returns nil when caching is disabled by an empty path.
func openEmbeddingCache(path string) (*badger.DB, error) {
	if path == "" {
		return nil, nil
	}
	return embeddings.OpenCache(path)
}

func closeProviders(tenants map[string]provider.Provider) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	for name, p := range tenants {
		if err := p.Close(ctx); err != nil {
			log.WithError(err).WithField("tenant", name).Warn("failed to close provider")
		}
	}
}
