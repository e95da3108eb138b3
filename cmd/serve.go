package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/etrends/internal/metrics"
	"github.com/sells-group/etrends/internal/monitoring"
)

const shutdownTimeout = 30 * time.Second

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the scheduler and the operator API",
	Long:  "Starts the cron scheduler for recurring acquisitions and serves the operator JSON API and Prometheus metrics.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}
		cfg.Server.Port = port

		m := metrics.New(prometheus.DefaultRegisterer)
		env, err := initEnv(ctx, "serve", m)
		if err != nil {
			return err
		}
		defer env.Close()

		checker := monitoring.NewChecker(
			monitoring.NewCollector(env.Store),
			monitoring.NewAlerter(cfg.Monitoring),
			m, cfg.Monitoring,
		)
		h := NewHandler(Services{
			Runs:    env.Orchestrator,
			Jobs:    env.Scheduler,
			Trends:  env.Trends,
			Store:   env.Store,
			Monitor: checker,
		}, cfg.Trends.ComparisonWindowDays, cfg.Trends.ChartWindowDays)
		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           newRouter(h, cfg.Server.AllowedOrigins, prometheus.DefaultGatherer),
			ReadHeaderTimeout: 10 * time.Second,
		}

		env.Scheduler.Start()

		g, gctx := errgroup.WithContext(ctx)
		if cfg.Monitoring.Enabled {
			g.Go(func() error {
				checker.Run(gctx)
				return nil
			})
		}
		g.Go(func() error {
			zap.L().Info("starting server", zap.Int("port", port))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return eris.Wrap(err, "server listen")
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			zap.L().Info("shutting down server")

			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()

			var errs []error
			if err := srv.Shutdown(shutdownCtx); err != nil {
				errs = append(errs, eris.Wrap(err, "server shutdown"))
			}
			if err := env.Scheduler.Stop(shutdownCtx); err != nil {
				errs = append(errs, err)
			}
			return errors.Join(errs...)
		})
		return g.Wait()
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
