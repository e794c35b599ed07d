package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/leapmap/internal/state"
)

// newRunsCommand creates the runs command.
func newRunsCommand() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Show recent generation runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store := state.NewSQLiteStore(logger)
			if err := store.Open(cfg.StatePath); err != nil {
				return fmt.Errorf("failed to open state database: %w", err)
			}
			defer store.Close()
			if err := store.Migrate(); err != nil {
				return fmt.Errorf("failed to migrate state database: %w", err)
			}

			runs, err := store.ListRuns(cmd.Context(), limit)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(runs) == 0 {
				fmt.Fprintln(out, "No runs recorded")
				return nil
			}
			for _, r := range runs {
				fmt.Fprintf(out, "%.8s  %s  %-30s %-10s cols=%d lookups=%d unresolved=%d warnings=%d\n",
					r.ID, r.CompletedAt.Format(time.RFC3339), r.TargetTable, r.Status,
					r.Columns, r.Lookups, r.Unresolved, r.Warnings)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of runs to show")

	return cmd
}
