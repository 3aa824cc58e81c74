// Package main provides the dialog engine CLI: an interactive chat REPL,
// one-shot queries, and catalog seeding.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/beslagsboden/dialog-engine/internal/analysis"
	"github.com/beslagsboden/dialog-engine/internal/cache"
	"github.com/beslagsboden/dialog-engine/internal/catalog"
	"github.com/beslagsboden/dialog-engine/internal/config"
	"github.com/beslagsboden/dialog-engine/internal/engine"
	"github.com/beslagsboden/dialog-engine/internal/nlp"
	"github.com/beslagsboden/dialog-engine/internal/observability"
)

var (
	flagConfig  string
	flagJSON    bool
	flagVerbose bool

	cfg    *config.Config
	logger *observability.Logger
)

func main() {
	root := &cobra.Command{
		Use:   "dialog-cli",
		Short: "Conversational product catalog assistant",
		Long:  "dialog-cli answers product questions in natural language or via -t/-c/-s/-f commands against the catalog.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			_ = godotenv.Load()

			var err error
			cfg, err = config.Load(flagConfig)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			cfg.Catalog.Path = config.ResolveRelativePath(flagConfig, cfg.Catalog.Path)

			level := "warn"
			if flagVerbose {
				level = "debug"
			}
			logger = observability.NewLogger(observability.LogConfig{
				Level:       level,
				Format:      "console",
				Output:      os.Stderr,
				ServiceName: cfg.Observability.ServiceName,
			})
			return nil
		},
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&flagConfig, "config", "", "path to config file")
	root.PersistentFlags().BoolVar(&flagJSON, "json", false, "emit raw JSON results")
	root.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "verbose logging")

	root.AddCommand(newChatCmd())
	root.AddCommand(newAskCmd())
	root.AddCommand(newSeedCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// cliDeps is the engine wiring for CLI commands.
type cliDeps struct {
	engine      *engine.Engine
	store       *catalog.Store
	cacheClient cache.Client
}

func (d *cliDeps) close() {
	if d.cacheClient != nil {
		_ = d.cacheClient.Close()
	}
	if d.store != nil {
		_ = d.store.Close()
	}
}

func buildCLIDeps() (*cliDeps, error) {
	store, err := catalog.Open(cfg.Catalog.Path, logger)
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}

	var cacheClient cache.Client
	if cfg.Cache.Driver == "redis" {
		cacheClient, err = cache.NewRedisClient(cache.RedisConfig{
			Addr:     cfg.Cache.Redis.Addr,
			Password: cfg.Cache.Redis.Password,
			DB:       cfg.Cache.Redis.DB,
			PoolSize: cfg.Cache.Redis.PoolSize,
		})
		if err != nil {
			logger.Warn().Err(err).Msg("Redis unavailable, using memory cache")
			cacheClient = cache.NewMemoryClient(cfg.Cache.MaxEntries)
		}
	} else {
		cacheClient = cache.NewMemoryClient(cfg.Cache.MaxEntries)
	}

	var tagger nlp.Tagger
	if cfg.NER.BaseURL != "" {
		if t, err := nlp.NewHTTPTagger(nlp.TaggerConfig{
			BaseURL: cfg.NER.BaseURL,
			Timeout: cfg.NER.Timeout,
		}); err == nil {
			tagger = t
		}
	}

	var embedder nlp.Embedder
	if cfg.Embedding.APIKey != "" {
		if c, err := nlp.NewEmbeddingClient(nlp.EmbeddingConfig{
			APIKey:    cfg.Embedding.APIKey,
			Model:     cfg.Embedding.Model,
			BaseURL:   cfg.Embedding.BaseURL,
			Dimension: cfg.Embedding.Dimension,
			Timeout:   cfg.Embedding.Timeout,
		}); err == nil {
			embedder = c
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

	return &cliDeps{engine: eng, store: store, cacheClient: cacheClient}, nil
}
