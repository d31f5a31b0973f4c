package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ajitpratap0/intenthub/internal/models"
)

func routeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "route",
		Short: "Manage routes",
	}
	cmd.AddCommand(
		routeCreateCmd(),
		routeListCmd(),
		routeGetCmd(),
		routeDeleteCmd(),
	)
	return cmd
}

func routeCreateCmd() *cobra.Command {
	var (
		name              string
		description       string
		utterances        string
		negativeSamples   string
		scoreThreshold    float64
		negativeThreshold float64
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new route",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()
			store, err := newRouteStore(logger)
			if err != nil {
				return fmt.Errorf("route create: opening route store: %w", err)
			}

			route := models.Route{
				Name:              name,
				Description:       description,
				Utterances:        splitCSV(utterances),
				NegativeSamples:   splitCSV(negativeSamples),
				ScoreThreshold:    scoreThreshold,
				NegativeThreshold: negativeThreshold,
			}

			created, err := store.Create(route)
			if err != nil {
				return fmt.Errorf("route create: %w", err)
			}

			fmt.Printf("Created route %d (%s)\n", created.ID, created.Name)
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "route name (required)")
	cmd.Flags().StringVar(&description, "description", "", "route description")
	cmd.Flags().StringVar(&utterances, "utterances", "", "comma-separated example utterances (required)")
	cmd.Flags().StringVar(&negativeSamples, "negative-samples", "", "comma-separated negative examples")
	cmd.Flags().Float64Var(&scoreThreshold, "score-threshold", 0.75, "minimum admission score")
	cmd.Flags().Float64Var(&negativeThreshold, "negative-threshold", 0, "veto threshold (0 disables)")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("utterances")
	return cmd
}

func routeListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List all routes",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()
			store, err := newRouteStore(logger)
			if err != nil {
				return fmt.Errorf("route list: opening route store: %w", err)
			}

			routes := store.List()
			if len(routes) == 0 {
				fmt.Println("No routes found.")
				return nil
			}
			for _, r := range routes {
				fmt.Printf("[%d] %-20s utterances=%-3d score>=%.2f\n", r.ID, r.Name, len(r.Utterances), r.ScoreThreshold)
			}
			return nil
		},
	}
	return cmd
}

func routeGetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get [id]",
		Short: "Print one route as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("route get: invalid id %q", args[0])
			}

			logger := newLogger()
			store, err := newRouteStore(logger)
			if err != nil {
				return fmt.Errorf("route get: opening route store: %w", err)
			}

			route, err := store.Get(id)
			if err != nil {
				return fmt.Errorf("route get: %w", err)
			}

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(route)
		},
	}
	return cmd
}

func routeDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete [id]",
		Short: "Delete a route",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("route delete: invalid id %q", args[0])
			}

			logger := newLogger()
			store, err := newRouteStore(logger)
			if err != nil {
				return fmt.Errorf("route delete: opening route store: %w", err)
			}

			if err := store.Delete(id); err != nil {
				return fmt.Errorf("route delete: %w", err)
			}

			fmt.Printf("Deleted route %d\n", id)
			return nil
		},
	}
	return cmd
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
