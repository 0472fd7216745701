package main

import (
	"encoding/json"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var ingestInput string

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Ingest scraped ad observations",
	Long: `Reads newline-delimited JSON observations, rejects invalid ones through the
validity gate, dedups and upserts the rest, and scores them.

Examples:
  # Ingest a scraper dump
  adradar ingest --input observations.jsonl

  # Read from stdin
  scraper | adradar ingest --input -`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		observations, err := readObservations(ctx, ingestInput)
		if err != nil {
			return err
		}

		env, err := initEnv(ctx, "ingest")
		if err != nil {
			return err
		}
		defer env.Close()

		summary, err := env.Pipeline.Ingest(ctx, observations)
		if summary != nil {
			_ = printJSON(os.Stdout, summary)
		}
		return err
	},
}

// printJSON writes v as indented JSON.
func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func init() {
	ingestCmd.Flags().StringVar(&ingestInput, "input", "", "observations file (JSONL), or - for stdin")
	rootCmd.AddCommand(ingestCmd)
}
