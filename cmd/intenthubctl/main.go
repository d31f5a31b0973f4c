// Command intenthubctl is the operator CLI for Intent Hub: manage routes,
// trigger synchronization, run a prediction, and inspect diagnostics
// without going through the HTTP API.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/ajitpratap0/intenthub/internal/config"
	"github.com/ajitpratap0/intenthub/internal/diagnostics"
	"github.com/ajitpratap0/intenthub/internal/embedder"
	"github.com/ajitpratap0/intenthub/internal/llmadvisor"
	"github.com/ajitpratap0/intenthub/internal/predictor"
	"github.com/ajitpratap0/intenthub/internal/routestore"
	"github.com/ajitpratap0/intenthub/internal/synchronizer"
	"github.com/ajitpratap0/intenthub/internal/vectorindex"
)

var cfg *config.Config

func main() {
	rootCmd := &cobra.Command{
		Use:   "intenthubctl",
		Short: "Operate an Intent Hub deployment",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			cfg, _, err = config.Load()
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}
			return nil
		},
	}

	rootCmd.AddCommand(
		routeCmd(),
		predictCmd(),
		syncCmd(),
		diagnosticsCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger() *slog.Logger {
	level := slog.LevelInfo
	if cfg != nil && cfg.Logging.Level == "debug" {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func newEmbedder(logger *slog.Logger) embedder.Embedder {
	return embedder.NewHTTPEmbedder(cfg.Embedder.APIKey, cfg.Embedder.Model, logger,
		embedder.WithDimensions(cfg.Qdrant.Dimension))
}

func newIndex(logger *slog.Logger) (vectorindex.VectorIndex, error) {
	return vectorindex.NewQdrantIndex(cfg.Qdrant.Host, cfg.Qdrant.Port, cfg.Qdrant.Collection,
		uint64(cfg.Qdrant.Dimension), cfg.Qdrant.UseTLS, logger)
}

func newRouteStore(logger *slog.Logger) (*routestore.RouteStore, error) {
	return routestore.New(cfg.RouteStore.JournalPath, logger)
}

func newAdvisor(logger *slog.Logger) *llmadvisor.Advisor {
	if cfg.LLM.APIKey == "" {
		return nil
	}
	return llmadvisor.New(llmadvisor.Config{
		Provider:       llmadvisor.Provider(cfg.LLM.Provider),
		BaseURL:        cfg.LLM.BaseURL,
		Model:          cfg.LLM.Model,
		APIKey:         cfg.LLM.APIKey,
		Temperature:    cfg.LLM.Temperature,
		RepairPrompt:   cfg.LLM.RepairPrompt,
		GeneratePrompt: cfg.LLM.GeneratePrompt,
	}, logger)
}

func newDiagnosticsEngine(store *routestore.RouteStore, emb embedder.Embedder, logger *slog.Logger) *diagnostics.Engine {
	return diagnostics.New(store, emb, logger,
		diagnostics.WithRegionThreshold(cfg.Diagnostics.RegionThreshold),
		diagnostics.WithInstanceThreshold(cfg.Diagnostics.InstanceThreshold),
		diagnostics.WithAdvisor(newAdvisor(logger)))
}

func newSynchronizer(store *routestore.RouteStore, index vectorindex.VectorIndex, emb embedder.Embedder, logger *slog.Logger) *synchronizer.Synchronizer {
	return synchronizer.New(store, index, emb, logger, synchronizer.WithBatchSize(cfg.Embedder.BatchSize))
}

func newPredictor(store *routestore.RouteStore, index vectorindex.VectorIndex, emb embedder.Embedder, logger *slog.Logger) *predictor.Predictor {
	return predictor.New(index, emb, store, logger,
		predictor.WithFallback(cfg.Predictor.DefaultRouteID, cfg.Predictor.DefaultRouteName))
}
