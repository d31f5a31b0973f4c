// Command intenthubd runs the Intent Hub HTTP server: route management,
// prediction, synchronization, and diagnostics, all behind one process.
package main

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ajitpratap0/intenthub/internal/api"
	"github.com/ajitpratap0/intenthub/internal/config"
	"github.com/ajitpratap0/intenthub/internal/diagnostics"
	"github.com/ajitpratap0/intenthub/internal/embedder"
	"github.com/ajitpratap0/intenthub/internal/llmadvisor"
	"github.com/ajitpratap0/intenthub/internal/predictor"
	"github.com/ajitpratap0/intenthub/internal/routestore"
	"github.com/ajitpratap0/intenthub/internal/synchronizer"
	"github.com/ajitpratap0/intenthub/internal/vectorindex"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "intenthubd:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, v, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	logger := newLogger(cfg)

	emb := embedder.NewHTTPEmbedder(cfg.Embedder.APIKey, cfg.Embedder.Model, logger,
		embedder.WithDimensions(cfg.Qdrant.Dimension))

	index, err := vectorindex.NewQdrantIndex(cfg.Qdrant.Host, cfg.Qdrant.Port, cfg.Qdrant.Collection,
		uint64(cfg.Qdrant.Dimension), cfg.Qdrant.UseTLS, logger)
	if err != nil {
		return fmt.Errorf("connecting to vector index: %w", err)
	}
	defer func() { _ = index.Close() }()

	store, err := routestore.New(cfg.RouteStore.JournalPath, logger)
	if err != nil {
		return fmt.Errorf("loading route journal: %w", err)
	}

	pred := predictor.New(index, emb, store, logger,
		predictor.WithFallback(cfg.Predictor.DefaultRouteID, cfg.Predictor.DefaultRouteName))
	sync := synchronizer.New(store, index, emb, logger, synchronizer.WithBatchSize(cfg.Embedder.BatchSize))

	var advisor *llmadvisor.Advisor
	if cfg.LLM.APIKey != "" {
		advisor = llmadvisor.New(llmadvisor.Config{
			Provider:       llmadvisor.Provider(cfg.LLM.Provider),
			BaseURL:        cfg.LLM.BaseURL,
			Model:          cfg.LLM.Model,
			APIKey:         cfg.LLM.APIKey,
			Temperature:    cfg.LLM.Temperature,
			RepairPrompt:   cfg.LLM.RepairPrompt,
			GeneratePrompt: cfg.LLM.GeneratePrompt,
		}, logger)
	}
	diag := diagnostics.New(store, emb, logger,
		diagnostics.WithRegionThreshold(cfg.Diagnostics.RegionThreshold),
		diagnostics.WithInstanceThreshold(cfg.Diagnostics.InstanceThreshold),
		diagnostics.WithAdvisor(advisor))

	config.Watch(v, logger, diag)

	srv := api.NewServer(store, pred, sync, diag, advisor, logger, cfg.Server.APIKey, cfg.Server.PredictKey)

	httpSrv := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: srv.Handler(),
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("intenthubd: starting", "addr", cfg.Server.Addr)
		if listenErr := httpSrv.ListenAndServe(); listenErr != nil && listenErr != http.ErrServerClosed {
			errCh <- fmt.Errorf("http server: %w", listenErr)
		}
		close(errCh)
	}()

	select {
	case sig := <-sigCh:
		logger.Info("intenthubd: shutting down", "signal", sig)
	case startErr := <-errCh:
		if startErr != nil {
			return startErr
		}
		return nil
	}

	if shutdownErr := api.Shutdown(httpSrv, shutdownTimeout); shutdownErr != nil {
		return fmt.Errorf("graceful shutdown: %w", shutdownErr)
	}

	if startErr := <-errCh; startErr != nil {
		return startErr
	}
	return nil
}

func newLogger(cfg *config.Config) *slog.Logger {
	level := slog.LevelInfo
	if cfg.Logging.Level == "debug" {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Logging.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}
