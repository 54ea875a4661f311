package app

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"horse.fit/finwire/internal/cli"
	"horse.fit/finwire/internal/db"
	"horse.fit/finwire/internal/httpapi"
	"horse.fit/finwire/internal/logging"
	"horse.fit/finwire/internal/notify"
)

// runDaemon runs the ingestion scheduler: one tick after a short initial
// delay, then one per configured interval, until SIGINT/SIGTERM. With --serve
// it also hosts the read API from the same process so the event stream covers
// the daemon's own ticks.
func runDaemon(args []string) int {
	fs := flag.NewFlagSet("daemon", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	withServe := fs.Bool("serve", false, "Also start the read API server in this process")
	host := fs.String("host", "0.0.0.0", "Host interface to bind (with --serve)")
	port := fs.Int("port", 8090, "HTTP port (with --serve)")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if fs.NArg() != 0 {
		fmt.Fprintln(os.Stderr, "daemon does not accept positional arguments")
		return 2
	}
	if *port <= 0 || *port > 65535 {
		fmt.Fprintln(os.Stderr, "--port must be between 1 and 65535")
		return 2
	}

	cfg, err := loadConfigWithEnv(envLoader)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	logger, err := logging.New(cfg.Environment, cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		return 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	go func() {
		<-sigCh
		logger.Info().Msg("shutdown signal received")
		cancel()
	}()

	dbCtx, dbCancel := context.WithTimeout(ctx, 10*time.Second)
	defer dbCancel()

	pool, err := db.NewPool(dbCtx, cfg)
	if err != nil {
		logger.Error().Err(err).Msg("database connection failed")
		fmt.Fprintf(os.Stderr, "Failed to connect to database: %v\n", err)
		return 1
	}
	defer pool.Close()

	broadcaster := notify.NewBroadcaster()
	defer broadcaster.Close()

	svc, err := buildPipeline(ctx, cfg, logger, pool, broadcaster)
	if err != nil {
		logger.Error().Err(err).Msg("pipeline setup failed")
		fmt.Fprintf(os.Stderr, "Failed to build pipeline: %v\n", err)
		return 1
	}

	serveErr := make(chan error, 1)
	if *withServe {
		srv := httpapi.NewServer(pool, broadcaster, logger, httpapi.Options{
			Host:           *host,
			Port:           *port,
			AllowedOrigins: cfg.CORSAllowedOriginsList(),
		})
		go func() {
			serveErr <- srv.Start(ctx)
		}()
	}

	logger.Info().
		Dur("initial_delay", cfg.IngestInitialDelay).
		Dur("interval", cfg.IngestInterval).
		Msg("ingestion daemon started")

	runTick := func() {
		if _, err := svc.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Error().Err(err).Msg("ingest tick failed")
		}
	}

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			logger.Error().Err(err).Msg("api server failed")
			return 1
		}
	case <-time.After(cfg.IngestInitialDelay):
		runTick()

		ticker := time.NewTicker(cfg.IngestInterval)
		defer ticker.Stop()

	loop:
		for {
			select {
			case <-ctx.Done():
				break loop
			case err := <-serveErr:
				if err != nil {
					logger.Error().Err(err).Msg("api server failed")
					return 1
				}
				break loop
			case <-ticker.C:
				runTick()
			}
		}
	}

	logger.Info().Msg("ingestion daemon stopped")
	return 0
}
