package cli

import (
	"encoding/json"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// NewReapCommand creates the reap command.
func NewReapCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "reap",
		Short: "Release expired holds once and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := bootstrap(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			report, err := a.engine.Reap(cmd.Context())
			if err != nil {
				a.logger.Error("Reaper sweep failed", zap.Error(err))
				return err
			}
			return writeJSON(cmd.OutOrStdout(), report)
		},
	}
}

// NewPruneCommand creates the prune command.
func NewPruneCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "prune",
		Short: "Delete completed processed events past retention",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := bootstrap(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			n, err := a.guard.Prune(cmd.Context())
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), map[string]int64{"pruned": n})
		},
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
