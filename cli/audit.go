package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"slotkeeper/database/repository"
)

// AuditOptions holds flags for the audit command.
type AuditOptions struct {
	Tenant      string
	Since       time.Duration
	SlotID      string
	Interaction string
	Limit       int
	Abuse       bool
	Threshold   int
}

// NewAuditCommand creates the audit command.
func NewAuditCommand() *cobra.Command {
	opts := &AuditOptions{}

	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Print a tenant's audit timeline or conflict report",
		Long: `Print the audit timeline of a tenant, optionally narrowed to one slot or
interaction. With --abuse, print holders that lost at least --threshold
claims in the window instead.

Example:
  slotkeeper audit --tenant clinic-a --since 2h --slot slot_001
  slotkeeper audit --tenant clinic-a --abuse --threshold 5`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.Tenant == "" {
				return fmt.Errorf("--tenant is required")
			}

			a, err := bootstrap(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			since := time.Now().UTC().Add(-opts.Since)
			if opts.Abuse {
				holders, err := a.audit.ConflictsByHolder(cmd.Context(), opts.Tenant, since, opts.Threshold)
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), holders)
			}

			entries, err := a.audit.Timeline(cmd.Context(), repository.AuditQuery{
				TenantID:      opts.Tenant,
				SlotID:        opts.SlotID,
				InteractionID: opts.Interaction,
				Since:         since,
				Limit:         opts.Limit,
			})
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), entries)
		},
	}

	cmd.Flags().StringVar(&opts.Tenant, "tenant", "", "tenant id (required)")
	cmd.Flags().DurationVar(&opts.Since, "since", 24*time.Hour, "how far back to look")
	cmd.Flags().StringVar(&opts.SlotID, "slot", "", "only entries for this slot")
	cmd.Flags().StringVar(&opts.Interaction, "interaction", "", "only entries for this interaction")
	cmd.Flags().IntVar(&opts.Limit, "limit", 200, "maximum entries")
	cmd.Flags().BoolVar(&opts.Abuse, "abuse", false, "print the conflict report")
	cmd.Flags().IntVar(&opts.Threshold, "threshold", 3, "minimum conflicts per holder")
	return cmd
}
