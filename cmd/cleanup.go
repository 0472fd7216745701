package main

import (
	"context"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/adradar/internal/gate"
	"github.com/sells-group/adradar/internal/model"
	"github.com/sells-group/adradar/internal/store"
)

var cleanupDryRun bool

// cleanupResult reports creatives that no longer pass the validity gate.
type cleanupResult struct {
	Scanned  int                 `json:"scanned"`
	Failing  map[gate.Reason]int `json:"failing"`
	Deleted  int64               `json:"deleted"`
	DryRun   bool                `json:"dry_run"`
	failures []int64
}

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete stored creatives that now fail the validity gate",
	Long: `Re-checks every stored creative against the current lexicon and deletes the
ones that would be rejected today. This is the only path that deletes
creatives; use --dry-run to see what would go.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("admin"); err != nil {
			return err
		}
		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		g, err := initGate()
		if err != nil {
			return err
		}

		res, err := runCleanup(ctx, st, g, cfg.Lifecycle.BatchSize, cleanupDryRun)
		if err != nil {
			return err
		}
		return printJSON(os.Stdout, res)
	},
}

func runCleanup(ctx context.Context, st store.Store, g *gate.Gate, batchSize int, dryRun bool) (*cleanupResult, error) {
	res := &cleanupResult{Failing: make(map[gate.Reason]int), DryRun: dryRun}
	err := st.Scan(ctx, batchSize, func(batch []model.Creative) error {
		for i := range batch {
			res.Scanned++
			v := g.CheckCreative(&batch[i])
			if v.Accepted {
				continue
			}
			res.Failing[v.Reason]++
			res.failures = append(res.failures, batch[i].ID)
			zap.L().Debug("creative fails gate",
				zap.Int64("id", batch[i].ID),
				zap.String("reason", string(v.Reason)),
				zap.String("detail", v.Detail),
			)
		}
		return nil
	})
	if err != nil {
		return nil, eris.Wrap(err, "cleanup: scan")
	}
	if dryRun || len(res.failures) == 0 {
		return res, nil
	}

	res.Deleted, err = st.DeleteByIDs(ctx, res.failures)
	if err != nil {
		return res, eris.Wrap(err, "cleanup: delete")
	}
	zap.L().Info("cleanup complete", zap.Int("scanned", res.Scanned), zap.Int64("deleted", res.Deleted))
	return res, nil
}

func init() {
	cleanupCmd.Flags().BoolVar(&cleanupDryRun, "dry-run", false, "report failing creatives without deleting them")
	rootCmd.AddCommand(cleanupCmd)
}
