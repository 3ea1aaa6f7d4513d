package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// NewRootCommand creates the slotkeeper command tree.
func NewRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "slotkeeper",
		Short: "Multi-tenant appointment slot reservation",
		Long: `slotkeeper guards appointment slots against double booking.

It serves the booking tool-call API, runs the hold reaper and processes
idempotent events. Configuration is read from .env, config.yaml and the
environment.`,
		SilenceUsage: true,
	}

	cmd.AddCommand(NewServeCommand())
	cmd.AddCommand(NewWorkerCommand())
	cmd.AddCommand(NewReapCommand())
	cmd.AddCommand(NewPruneCommand())
	cmd.AddCommand(NewSeedCommand())
	cmd.AddCommand(NewAuditCommand())
	return cmd
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
