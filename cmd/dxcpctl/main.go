// dxcpctl is the admin CLI for the DXCP control plane: config
// validation, live-settings (kill switch, CI publisher allowlist)
// seeding, and reconciler state inspection, all operating against the
// same backing store the server uses. Structured the same way as the
// migrations CLI (internal/infrastructure/migrations/cli.go): a
// *cobra.Command tree with one builder method per subcommand group,
// RunE closures resolving a context.Background() and printing plain
// text to stdout.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var configPath string

func main() {
	root := &cobra.Command{
		Use:   "dxcpctl",
		Short: "Admin CLI for the DXCP delivery control plane",
		Long:  "dxcpctl performs administrative operations against a DXCP deployment: validating configuration, seeding live settings, and inspecting reconciler state.",
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "Path to YAML config file")

	root.AddCommand(
		newConfigCommand(),
		newKillSwitchCommand(),
		newAllowlistCommand(),
		newReconcilerCommand(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
