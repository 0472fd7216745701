package main

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/adradar/internal/ingest"
)

var (
	rescanInput string
	rescanDelta bool
)

var rescanCmd = &cobra.Command{
	Use:   "rescan",
	Short: "Run a full rescan from a fresh scrape",
	Long: `Applies one lifecycle pass using the observations of a fresh scrape (creatives
not seen count a miss; enough misses deactivate them), ingests the new
observations, then runs enrichment, the rescoring sweep and the opportunity
rollup. Running it twice on the same input changes nothing the second time
except miss counts. An input with no usable observations is refused so a
failed scrape never counts as a miss.

With --delta only last_seen is refreshed for active creatives seen in the
input; nothing else changes.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		observations, err := readObservations(ctx, rescanInput)
		if err != nil {
			return err
		}

		env, err := initEnv(ctx, "rescan")
		if err != nil {
			return err
		}
		defer env.Close()

		if rescanDelta {
			touched, err := env.Tracker.Touch(ctx, env.Store, ingest.Sightings(observations),
				cfg.Lifecycle.BatchSize, time.Now().UTC())
			if err != nil {
				return eris.Wrap(err, "rescan: delta")
			}
			zap.L().Info("delta scan complete", zap.Int("touched", touched))
			return printJSON(os.Stdout, map[string]int{"touched": touched})
		}

		report, err := env.Runner.Full(ctx, observations)
		if report != nil {
			_ = printJSON(os.Stdout, report)
		}
		return err
	},
}

func init() {
	rescanCmd.Flags().StringVar(&rescanInput, "input", "", "observations file (JSONL) from the fresh scrape, or - for stdin")
	rescanCmd.Flags().BoolVar(&rescanDelta, "delta", false, "only refresh last_seen for creatives in the input")
	rootCmd.AddCommand(rescanCmd)
}
