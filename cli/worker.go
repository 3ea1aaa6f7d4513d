package cli

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"slotkeeper/cron"
)

// NewWorkerCommand creates the worker command.
func NewWorkerCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Run the task worker and periodic scheduler",
		Long: `Run the asynq worker that reaps expired holds, prunes processed events
and sends appointment confirmations. Several workers may run at once.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := bootstrap(ctx)
			if err != nil {
				return err
			}
			defer a.Close()
			return cron.RunWorker(ctx, a.cfg, a.jobs())
		},
	}
}
