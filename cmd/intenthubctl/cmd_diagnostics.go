package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ajitpratap0/intenthub/internal/diagnostics"
)

func diagnosticsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "diagnostics",
		Short: "Inspect route overlaps and embedding layout",
	}
	cmd.AddCommand(
		diagnosticsOverlapsCmd(),
		diagnosticsProjectionCmd(),
		diagnosticsRepairCmd(),
	)
	return cmd
}

func diagnosticsOverlapsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "overlaps",
		Short: "Report routes whose utterances sit too close together",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()
			ctx := context.Background()

			emb := newEmbedder(logger)
			store, err := newRouteStore(logger)
			if err != nil {
				return fmt.Errorf("diagnostics overlaps: opening route store: %w", err)
			}

			engine := newDiagnosticsEngine(store, emb, logger)
			refresh, _ := cmd.Flags().GetBool("refresh")
			report, err := engine.DetectOverlaps(ctx, refresh)
			if err != nil {
				return fmt.Errorf("diagnostics overlaps: %w", err)
			}

			if len(report.Overlaps) == 0 {
				fmt.Println("No overlaps found.")
				return nil
			}
			return encodeJSON(report)
		},
	}
	cmd.Flags().Bool("refresh", false, "force recomputation instead of reusing a cached result")
	return cmd
}

func diagnosticsProjectionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "projection",
		Short: "Compute a 2-D layout of route utterances for visualization",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()
			ctx := context.Background()

			emb := newEmbedder(logger)
			store, err := newRouteStore(logger)
			if err != nil {
				return fmt.Errorf("diagnostics projection: opening route store: %w", err)
			}

			engine := newDiagnosticsEngine(store, emb, logger)
			nNeighbors, _ := cmd.Flags().GetInt("n-neighbors")
			minDist, _ := cmd.Flags().GetFloat64("min-dist")
			seed, _ := cmd.Flags().GetUint64("seed")
			points, err := engine.Project2D(ctx, nNeighbors, minDist, seed)
			if err != nil {
				return fmt.Errorf("diagnostics projection: %w", err)
			}
			return encodeJSON(points)
		},
	}
	cmd.Flags().Int("n-neighbors", diagnostics.DefaultNNeighbors, "neighbors considered per point")
	cmd.Flags().Float64("min-dist", diagnostics.DefaultMinDist, "minimum allowed distance between points")
	cmd.Flags().Uint64("seed", diagnostics.DefaultSeed, "deterministic layout seed")
	return cmd
}

func diagnosticsRepairCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "repair-suggestions",
		Short: "Ask the configured LLM advisor how to disentangle overlapping routes",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()
			ctx := context.Background()

			emb := newEmbedder(logger)
			store, err := newRouteStore(logger)
			if err != nil {
				return fmt.Errorf("diagnostics repair-suggestions: opening route store: %w", err)
			}

			engine := newDiagnosticsEngine(store, emb, logger)
			suggestions, err := engine.RepairSuggestions(ctx)
			if err != nil {
				return fmt.Errorf("diagnostics repair-suggestions: %w", err)
			}
			if suggestions == nil {
				fmt.Println("No LLM advisor configured; set llm.api_key to enable repair suggestions.")
				return nil
			}
			return encodeJSON(suggestions)
		},
	}
	return cmd
}

func encodeJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
