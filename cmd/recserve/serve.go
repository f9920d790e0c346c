package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/rushteam/recserve/cache"
	"github.com/rushteam/recserve/config"
	"github.com/rushteam/recserve/engine"
	"github.com/rushteam/recserve/pkg/logging"
	"github.com/rushteam/recserve/server"
)

func newServeCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the recommendation HTTP server",
		Long: `Start the HTTP server. The bundle is loaded in the background;
/readyz reports 503 and /api/recommend answers 503 until loading completes.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			return runServe(cmd.Context(), cfg)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "config file (default: $CONFIG_PATH or ./recserve.yaml)")
	return cmd
}

func runServe(ctx context.Context, cfg *config.Config) error {
	logging.Init(logging.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Caller: cfg.Log.Caller,
	})
	logger := logging.WithComponent("main")

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	loader, err := newLoader(cfg)
	if err != nil {
		return err
	}
	eng := engine.New(engine.WithMetrics(engine.NewMetrics(reg)))

	var rec server.Recommender = eng
	st, err := openCache(ctx, cfg.Cache)
	if err != nil {
		return err
	}
	if st != nil {
		defer st.Close()
		rec = cache.New(eng, st, cache.Config{
			TTL:              cfg.Cache.TTL,
			FailureThreshold: cfg.Cache.FailureThreshold,
			OpenTimeout:      cfg.Cache.OpenTimeout,
		}, cache.WithRegisterer(reg))
		logger.Info().Str("backend", st.Name()).Msg("result cache enabled")
	}

	srv := server.New(rec, server.Config{
		DefaultCount: cfg.Recommend.DefaultCount,
		MaxCount:     cfg.Recommend.MaxCount,
		RateLimit:    cfg.Server.RateLimit,
		RateWindow:   cfg.Server.RateWindow,
	}, server.WithGatherer(reg))
	httpServer := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      srv.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	sup := server.NewSupervisor("recserve", logging.WithComponent("supervisor"))
	sup.Add(server.NewLoaderService(eng, loader, cfg.Bundle.LoadTimeout))
	sup.Add(server.NewHTTPService(httpServer, cfg.Server.ShutdownTimeout))

	logger.Info().
		Str("addr", cfg.Server.Addr).
		Str("bundle", cfg.Bundle.Source+":"+cfg.Bundle.Path).
		Str("version", version).
		Msg("starting recserve")

	if err := sup.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info().Msg("recserve stopped")
	return nil
}
