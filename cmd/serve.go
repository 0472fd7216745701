package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/adradar/internal/api"
	"github.com/sells-group/adradar/internal/config"
	"github.com/sells-group/adradar/internal/lifecycle"
	"github.com/sells-group/adradar/internal/metrics"
	"github.com/sells-group/adradar/internal/rescan"
	"github.com/sells-group/adradar/internal/store"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the query API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := cfg.Validate("serve"); err != nil {
			return err
		}
		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		if n, err := st.Count(ctx); err == nil {
			metrics.Creatives.Set(float64(n))
		}

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		router, runner := buildRouter(st)
		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		}

		go rescan.NewScheduler(runner, config.Duration(cfg.Server.MaintainInterval, 0)).Run(ctx)

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

// buildRouter wires the query API over st. POST /rescan and the scheduler
// run maintenance only: a lifecycle pass needs a fresh scrape, which the API
// does not take.
func buildRouter(st store.Store) (http.Handler, *rescan.Runner) {
	runner := rescan.New(st, lifecycle.NewTracker(cfg.Lifecycle.MissThreshold), nil, runnerOptions())
	return api.NewRouter(st, runner, api.Options{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		RescanTimeout:  config.Duration(cfg.Server.RescanTimeout, 30*time.Minute),
	}), runner
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
