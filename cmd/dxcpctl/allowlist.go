package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/dxcp/dxcp/internal/config"
	"github.com/dxcp/dxcp/internal/domain"
)

func newAllowlistCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "allowlist",
		Short: "Inspect or seed the CI publisher allowlist",
	}
	cmd.AddCommand(allowlistListCommand(), allowlistSeedCommand())
	return cmd
}

func allowlistListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the currently configured CI publishers",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			_, st, logger, err := openDeps(ctx)
			if err != nil {
				return err
			}
			defer st.Close()

			rc := config.NewReloadCoordinator(st, 0, logger)
			if err := rc.Refresh(ctx); err != nil {
				return fmt.Errorf("refresh live settings: %w", err)
			}

			publishers := rc.Current().CIPublishers
			if len(publishers) == 0 {
				fmt.Println("no CI publishers configured")
				return nil
			}
			for _, p := range publishers {
				fmt.Printf("%-20s issuer=%s azp=%s subject=%s email=%s\n", p.ID, p.Issuer, p.AZP, p.Subject, p.Email)
			}
			return nil
		},
	}
}

func allowlistSeedCommand() *cobra.Command {
	var replace bool
	cmd := &cobra.Command{
		Use:   "seed <file.json>",
		Short: "Seed CI publishers from a JSON file",
		Long:  "Reads a JSON array of CI publisher entries and either replaces the current allowlist or appends to it (default: append, deduplicated by id).",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read allowlist file: %w", err)
			}
			var incoming []domain.CIPublisher
			if err := json.Unmarshal(raw, &incoming); err != nil {
				return fmt.Errorf("decode allowlist file: %w", err)
			}

			ctx := context.Background()
			_, st, logger, err := openDeps(ctx)
			if err != nil {
				return err
			}
			defer st.Close()

			rc := config.NewReloadCoordinator(st, 0, logger)
			if err := rc.Refresh(ctx); err != nil {
				return fmt.Errorf("refresh live settings: %w", err)
			}
			settings := rc.Current()

			if replace {
				settings.CIPublishers = incoming
			} else {
				settings.CIPublishers = mergePublishers(settings.CIPublishers, incoming)
			}

			if err := rc.Put(ctx, settings, time.Now()); err != nil {
				return fmt.Errorf("persist live settings: %w", err)
			}
			fmt.Printf("seeded %d CI publisher(s), %d total\n", len(incoming), len(settings.CIPublishers))
			return nil
		},
	}
	cmd.Flags().BoolVar(&replace, "replace", false, "Replace the existing allowlist instead of merging into it")
	return cmd
}

func mergePublishers(existing, incoming []domain.CIPublisher) []domain.CIPublisher {
	byID := make(map[string]domain.CIPublisher, len(existing)+len(incoming))
	var order []string
	for _, p := range existing {
		if _, seen := byID[p.ID]; !seen {
			order = append(order, p.ID)
		}
		byID[p.ID] = p
	}
	for _, p := range incoming {
		if _, seen := byID[p.ID]; !seen {
			order = append(order, p.ID)
		}
		byID[p.ID] = p
	}
	merged := make([]domain.CIPublisher, 0, len(order))
	for _, id := range order {
		merged = append(merged, byID[id])
	}
	return merged
}
