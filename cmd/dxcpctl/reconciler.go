package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/dxcp/dxcp/internal/clock"
	"github.com/dxcp/dxcp/internal/domain"
)

func newReconcilerCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reconciler",
		Short: "Inspect in-flight deployments the reconciler is tracking",
	}
	cmd.AddCommand(reconcilerStatusCommand())
	return cmd
}

func reconcilerStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "List every non-terminal deployment a running server would track",
		Long:  "Scans the backing store for deployments in PENDING, ACTIVE, or IN_PROGRESS state, the same set reconciler.Manager.Resume would pick up on restart.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			_, st, _, err := openDeps(ctx)
			if err != nil {
				return err
			}
			defer st.Close()

			clk := clock.Real{}
			deployments := domain.NewDeploymentRepo(st, clk, clock.UUIDGenerator{}, nil, nil)

			var total int
			for _, state := range []domain.DeploymentState{domain.StatePending, domain.StateActive, domain.StateInProgress} {
				cursor := ""
				for {
					records, next, err := deployments.List(ctx, cursor, 200, "", string(state), "", "")
					if err != nil {
						return fmt.Errorf("list %s deployments: %w", state, err)
					}
					for _, rec := range records {
						total++
						age := time.Since(rec.AcceptedAt).Round(time.Second)
						fmt.Printf("%-36s %-12s %-10s %-20s age=%s\n", rec.ID, rec.State, rec.Environment, rec.Service, age)
					}
					if next == "" {
						break
					}
					cursor = next
				}
			}
			if total == 0 {
				fmt.Println("no non-terminal deployments")
			}
			return nil
		},
	}
}
