package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ajitpratap0/intenthub/internal/models"
)

func syncCmd() *cobra.Command {
	var forcedFull bool

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Reconcile the vector index with the route store",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()
			ctx := context.Background()

			emb := newEmbedder(logger)
			index, err := newIndex(logger)
			if err != nil {
				return fmt.Errorf("sync: connecting to vector index: %w", err)
			}
			defer func() { _ = index.Close() }()

			store, err := newRouteStore(logger)
			if err != nil {
				return fmt.Errorf("sync: opening route store: %w", err)
			}

			mode := models.SyncModeIncremental
			if forcedFull {
				mode = models.SyncModeForcedFull
			}

			sync := newSynchronizer(store, index, emb, logger)
			report, err := sync.Run(ctx, mode)
			if err != nil {
				return fmt.Errorf("sync: %w", err)
			}

			fmt.Printf("Synced %d routes, %d points in the index (mode=%s)\n", report.RoutesCount, report.TotalPoints, report.Mode)
			return nil
		},
	}

	cmd.Flags().BoolVar(&forcedFull, "forced-full", false, "reconcile against a full index scroll instead of the in-memory snapshot")
	return cmd
}
