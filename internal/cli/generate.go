package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/leapmap/internal/lookup"
	"github.com/leapstack-labs/leapmap/internal/pipeline"
	"github.com/leapstack-labs/leapmap/internal/state"
)

// newGenerateCommand creates the generate command.
func newGenerateCommand() *cobra.Command {
	var (
		jobID   string
		noState bool
	)

	cmd := &cobra.Command{
		Use:   "generate <mapping.csv>",
		Short: "Generate SQL, job, and audit artifacts from a mapping sheet",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if cfg.Malcode == "" {
				return fmt.Errorf("malcode is required (flag --malcode or config)")
			}

			var catalog *lookup.Catalog
			if cfg.LookupCatalog != "" {
				var err error
				catalog, err = lookup.LoadCatalog(cfg.LookupCatalog)
				if err != nil {
					return fmt.Errorf("failed to load lookup catalog: %w", err)
				}
			}

			opts := pipeline.Options{
				InputPath:      args[0],
				OutDir:         cfg.OutDir,
				Malcode:        cfg.Malcode,
				JobID:          jobID,
				CodeSuffix:     cfg.CodeSuffix,
				DefaultAliases: cfg.DefaultAliases,
				Catalog:        catalog,
				SourceReport:   cfg.Verbose,
				Logger:         logger,
			}

			if !noState && cfg.StatePath != "" {
				if dir := filepath.Dir(cfg.StatePath); dir != "." && dir != "" {
					if err := os.MkdirAll(dir, 0o755); err != nil {
						return fmt.Errorf("failed to create state directory: %w", err)
					}
				}
				store := state.NewSQLiteStore(logger)
				if err := store.Open(cfg.StatePath); err != nil {
					return fmt.Errorf("failed to open state database: %w", err)
				}
				defer store.Close()
				if err := store.Migrate(); err != nil {
					return fmt.Errorf("failed to migrate state database: %w", err)
				}
				opts.Store = store
			}

			start := time.Now()
			results, err := pipeline.Generate(cmd.Context(), opts)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for _, r := range results {
				fmt.Fprintf(out, "%s: %d columns, %d lookups, %d unresolved\n",
					r.ViewName, r.Columns, r.Lookups, r.Unresolved)
				for _, w := range r.Warnings {
					fmt.Fprintf(out, "  warning: %s\n", w)
				}
			}
			fmt.Fprintf(out, "Generated %d view(s) in %s\n",
				len(results), time.Since(start).Round(time.Millisecond))
			return nil
		},
	}

	cmd.Flags().StringVar(&jobID, "job-id", "", "Job identifier to stamp into artifacts (generated when empty)")
	cmd.Flags().BoolVar(&noState, "no-state", false, "Skip recording the run in the state database")

	return cmd
}
