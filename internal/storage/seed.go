package storage

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"rag-chatbot/internal/logging"
	"rag-chatbot/internal/models"
)

// SeedFile lists passages to load into an empty local index.
type SeedFile struct {
	Passages []SeedPassage `yaml:"passages"`
}

type SeedPassage struct {
	ID       string         `yaml:"id"`
	Content  string         `yaml:"content"`
	Source   string         `yaml:"source"`
	Metadata map[string]any `yaml:"metadata"`
}

// LoadSeedFile reads a YAML seed file.
func LoadSeedFile(path string) (*SeedFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read seed file: %w", err)
	}

	var seed SeedFile
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("failed to parse seed file %s: %w", path, err)
	}
	return &seed, nil
}

// Seed ingests the passages of the seed file at path unless the index
// already holds passages. It returns the number of passages ingested.
func (r *Retriever) Seed(ctx context.Context, path string) (int, error) {
	existing, err := r.store.ListIDs(ctx, 1)
	if err != nil {
		return 0, err
	}
	if len(existing) > 0 {
		logging.Component("storage").WithField("seed_file", path).Debug("index not empty, skipping seed")
		return 0, nil
	}

	seed, err := LoadSeedFile(path)
	if err != nil {
		return 0, err
	}

	n := 0
	for i, sp := range seed.Passages {
		if sp.Content == "" {
			logging.Component("storage").WithField("index", i).Warn("skipping seed passage without content")
			continue
		}

		p := models.NewPassage(sp.Content, sp.Source)
		if sp.ID != "" {
			p.ID = sp.ID
		}
		for k, v := range sp.Metadata {
			p.Metadata[k] = v
		}

		if err := r.Ingest(ctx, p); err != nil {
			return n, fmt.Errorf("failed to ingest seed passage %d: %w", i, err)
		}
		n++
	}

	logging.Component("storage").WithField("passages", n).Info("seeded local index")
	return n, nil
}
