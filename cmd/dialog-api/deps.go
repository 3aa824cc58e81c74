package main

import (
	"fmt"

	"github.com/beslagsboden/dialog-engine/internal/analysis"
	"github.com/beslagsboden/dialog-engine/internal/cache"
	"github.com/beslagsboden/dialog-engine/internal/catalog"
	"github.com/beslagsboden/dialog-engine/internal/config"
	"github.com/beslagsboden/dialog-engine/internal/engine"
	"github.com/beslagsboden/dialog-engine/internal/nlp"
	"github.com/beslagsboden/dialog-engine/internal/observability"
	"github.com/beslagsboden/dialog-engine/internal/session"
)

// Deps holds the wired service graph behind the handlers.
type Deps struct {
	Engine   *engine.Engine
	Sessions *session.Manager

	store       *catalog.Store
	cacheClient cache.Client
}

// Close releases the underlying resources.
func (d *Deps) Close() {
	if d.cacheClient != nil {
		_ = d.cacheClient.Close()
	}
	if d.store != nil {
		_ = d.store.Close()
	}
}

// buildDeps wires the engine from configuration. The tagger and embedder
// are optional: without them the engine degrades to pattern and index
// extraction and keyword-driven intent fusion.
func buildDeps(cfg *config.Config, logger *observability.Logger) (*Deps, error) {
	store, err := catalog.Open(cfg.Catalog.Path, logger)
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}

	var cacheClient cache.Client
	switch cfg.Cache.Driver {
	case "redis":
		cacheClient, err = cache.NewRedisClient(cache.RedisConfig{
			Addr:     cfg.Cache.Redis.Addr,
			Password: cfg.Cache.Redis.Password,
			DB:       cfg.Cache.Redis.DB,
			PoolSize: cfg.Cache.Redis.PoolSize,
		})
		if err != nil {
			store.Close()
			return nil, fmt.Errorf("connect redis: %w", err)
		}
	default:
		cacheClient = cache.NewMemoryClient(cfg.Cache.MaxEntries)
	}

	var tagger nlp.Tagger
	if cfg.NER.BaseURL != "" {
		tagger, err = nlp.NewHTTPTagger(nlp.TaggerConfig{
			BaseURL: cfg.NER.BaseURL,
			Timeout: cfg.NER.Timeout,
		})
		if err != nil {
			logger.Warn().Err(err).Msg("Tagger disabled")
			tagger = nil
		}
	}

	var embedder nlp.Embedder
	if cfg.Embedding.APIKey != "" {
		client, err := nlp.NewEmbeddingClient(nlp.EmbeddingConfig{
			APIKey:    cfg.Embedding.APIKey,
			Model:     cfg.Embedding.Model,
			BaseURL:   cfg.Embedding.BaseURL,
			Dimension: cfg.Embedding.Dimension,
			Timeout:   cfg.Embedding.Timeout,
		})
		if err != nil {
			logger.Warn().Err(err).Msg("Embedder disabled")
		} else {
			embedder = client
		}
	}

	eng := engine.New(logger, store, store, tagger, embedder, cacheClient, engine.Config{
		ConfidenceFloor:        cfg.Engine.ConfidenceFloor,
		ClarificationThreshold: cfg.Engine.ClarificationThreshold,
		MaxSearchResults:       cfg.Engine.MaxSearchResults,
		Weights: analysis.FusionWeights{
			Keyword:  cfg.Engine.Weights.Keyword,
			Semantic: cfg.Engine.Weights.Semantic,
			Entity:   cfg.Engine.Weights.Entity,
			Context:  cfg.Engine.Weights.Context,
		},
		CacheResults: cfg.Engine.CacheResults,
		CacheTTL:     cfg.Engine.CacheTTL,
	})

	return &Deps{
		Engine:      eng,
		Sessions:    session.NewManager(logger),
		store:       store,
		cacheClient: cacheClient,
	}, nil
}
