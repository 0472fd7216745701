package main

import (
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/sells-group/adradar/internal/enrich"
	"github.com/sells-group/adradar/internal/rollup"
	"github.com/sells-group/adradar/internal/scoring"
)

var enrichCmd = &cobra.Command{
	Use:   "enrich",
	Short: "Run the enrichment post-pass",
	Long:  "Classifies categories and shares traffic, price and platform values between creatives of the same domain or advertiser. Never overwrites specific values.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("maintain"); err != nil {
			return err
		}
		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		opts := runnerOptions().Enrich
		opts.Scoring = scoringParams()
		summary, err := enrich.NewPass(st, opts).Run(ctx, time.Now().UTC())
		if err != nil {
			return err
		}
		return printJSON(os.Stdout, summary)
	},
}

var rescoreCmd = &cobra.Command{
	Use:   "rescore",
	Short: "Recompute every creative's score",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("maintain"); err != nil {
			return err
		}
		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		summary, err := scoring.Sweep(ctx, st, scoringParams(), cfg.Lifecycle.BatchSize, time.Now().UTC())
		if err != nil {
			return err
		}
		return printJSON(os.Stdout, summary)
	},
}

var rollupCmd = &cobra.Command{
	Use:   "rollup",
	Short: "Rebuild the opportunity cards",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("maintain"); err != nil {
			return err
		}
		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		summary, err := rollup.Run(ctx, st, runnerOptions().Rollup, time.Now().UTC())
		if err != nil {
			return err
		}
		return printJSON(os.Stdout, summary)
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the database schema",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := cfg.Validate("admin"); err != nil {
			return err
		}
		st, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		return st.Close()
	},
}

func init() {
	rootCmd.AddCommand(enrichCmd, rescoreCmd, rollupCmd, migrateCmd)
}
