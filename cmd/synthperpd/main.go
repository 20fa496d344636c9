package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"SynthPerp/internal/config"
	"SynthPerp/internal/engine"
	"SynthPerp/internal/history"
	"SynthPerp/internal/observability"
	"SynthPerp/internal/oracle"
	"SynthPerp/internal/server"
	"SynthPerp/internal/store"
	"SynthPerp/internal/stream"
)

func main() {
	var configPath string

	root := &cobra.Command{
		Use:          "synthperpd",
		Short:        "Margin-trading engine for synthetic perpetual futures",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configPath)
		},
	}
	root.Flags().StringVar(&configPath, "config", "", "path to config file")

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	level, err := zerolog.ParseLevel(cfg.Logging.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	logger := observability.NewLoggerWithLevel("synthperpd", level)
	logger.Info().Msg("starting")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Postgres ---
	db, err := store.Open(ctx, cfg.Database.DSN)
	if err != nil {
		return err
	}
	defer db.Close()

	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)
	logger.Info().Msg("postgres connected")

	if cfg.Database.AutoMigrate {
		migrator := store.NewMigrator(db, cfg.Database.MigrationsDir, logger)
		if err := migrator.Up(ctx); err != nil {
			return fmt.Errorf("run migrations: %w", err)
		}
		logger.Info().Msg("migrations applied")
	}

	// --- Observability ---
	metrics := observability.NewMetrics()
	health := observability.NewHealthChecker()

	// --- Oracle ---
	resolver := oracle.NewStatic(nil)
	for symbol, price := range cfg.Oracle.Prices {
		resolver.Set(cfg.Oracle.FeedID(symbol), price)
	}

	// --- NATS ---
	var (
		publisher engine.Publisher
		hist      server.History
	)
	if cfg.NATS.Enabled {
		nc, err := nats.Connect(cfg.NATS.URL)
		if err != nil {
			return fmt.Errorf("nats connect: %w", err)
		}
		defer nc.Close()

		js, err := jetstream.New(nc)
		if err != nil {
			return fmt.Errorf("jetstream: %w", err)
		}
		if err := stream.EnsureStream(ctx, js); err != nil {
			return err
		}

		pub := stream.NewPublisher(js, cfg.Publisher.Buffer, logger, metrics)
		go pub.Run(ctx)
		publisher = pub
		logger.Info().Str("url", cfg.NATS.URL).Msg("nats connected")

		if cfg.History.Enabled {
			recorder := history.NewRecorder(db)
			consumer := history.NewConsumer(js, recorder, observability.NewLoggerWithLevel("history", level))
			if err := consumer.Start(ctx); err != nil {
				return err
			}
			defer consumer.Stop()
			hist = recorder
		}
	}

	// --- Engine ---
	eng := engine.New(engine.Deps{
		Store:     store.NewPostgres(db),
		Oracle:    resolver,
		Clock:     engine.SystemClock(),
		Publisher: publisher,
		Logger:    observability.NewLoggerWithLevel("engine", level),
		Metrics:   metrics,
	})

	// --- HTTP API ---
	api := server.New(eng, hist, observability.NewLoggerWithLevel("http", level))
	httpServer := &http.Server{
		Addr:    cfg.Server.ListenAddr,
		Handler: api.Router(health),
	}

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsServer := &http.Server{
		Addr:    cfg.Server.MetricsAddr,
		Handler: metricsMux,
	}

	errChan := make(chan error, 2)
	go func() {
		logger.Info().Str("addr", cfg.Server.ListenAddr).Msg("api listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("api server: %w", err)
		}
	}()
	go func() {
		logger.Info().Str("addr", cfg.Server.MetricsAddr).Msg("metrics listening")
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("metrics server: %w", err)
		}
	}()

	health.SetReady(true)
	logger.Info().Msg("ready")

	select {
	case <-ctx.Done():
		logger.Info().Msg("shutdown signal received")
	case err := <-errChan:
		logger.Error().Err(err).Msg("server failed")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	httpServer.Shutdown(shutdownCtx)
	metricsServer.Shutdown(shutdownCtx)

	logger.Info().Msg("shutdown complete")
	return nil
}
