package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func predictCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "predict [utterance]",
		Short: "Predict which route an utterance matches",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()
			ctx := context.Background()
			utterance := args[0]

			emb := newEmbedder(logger)
			index, err := newIndex(logger)
			if err != nil {
				return fmt.Errorf("predict: connecting to vector index: %w", err)
			}
			defer func() { _ = index.Close() }()

			store, err := newRouteStore(logger)
			if err != nil {
				return fmt.Errorf("predict: opening route store: %w", err)
			}

			pred := newPredictor(store, index, emb, logger)
			matches, err := pred.Predict(ctx, utterance)
			if err != nil {
				return fmt.Errorf("predict: %w", err)
			}

			for _, match := range matches {
				if match.Score == nil {
					fmt.Printf("No route matched, fell back to %q (id=%d)\n", match.Name, match.ID)
					continue
				}
				fmt.Printf("Matched %q (id=%d) with score %.4f\n", match.Name, match.ID, *match.Score)
			}
			return nil
		},
	}
	return cmd
}
