package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/dxcp/dxcp/internal/config"
)

func newKillSwitchCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "killswitch",
		Short: "Inspect or flip the mutations kill switch",
	}
	cmd.AddCommand(killSwitchStatusCommand(), killSwitchSetCommand("on", true), killSwitchSetCommand("off", false))
	return cmd
}

func killSwitchStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show whether the kill switch is currently engaged",
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
			current := rc.Current()
			state := "disengaged"
			if current.KillSwitch {
				state = "engaged"
			}
			fmt.Printf("kill switch: %s\n", state)
			return nil
		},
	}
}

func killSwitchSetCommand(use string, value bool) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: fmt.Sprintf("Turn the kill switch %s", use),
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
			settings := rc.Current()
			settings.KillSwitch = value

			if err := rc.Put(ctx, settings, time.Now()); err != nil {
				return fmt.Errorf("persist live settings: %w", err)
			}
			fmt.Printf("kill switch set to %s\n", use)
			return nil
		},
	}
}
