package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"net/http"

	s3journal "github.com/factual/s3journal"
	"github.com/factual/s3journal/internal/logger"
	"github.com/factual/s3journal/internal/metrics"
	"github.com/factual/s3journal/internal/telemetry"
)

func runCmd() *cobra.Command {
	var shards int

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the journal service until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runService(cmd.Context(), shards)
		},
	}

	cmd.Flags().IntVar(&shards, "shards", 0, "override the configured shard count (0 = use config)")

	return cmd
}

func runService(ctx context.Context, shardOverride int) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if err := logger.Init(cfg.Logging.ToLoggerConfig()); err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	shutdownTracing, err := telemetry.Init(ctx, cfg.Telemetry.ToTelemetryConfig())
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer shutdownTracing(ctx)

	if cfg.Profiling.Enabled {
		shutdownProfiling, err := telemetry.InitProfiling(cfg.Profiling.ToProfilingConfig())
		if err != nil {
			return fmt.Errorf("init profiling: %w", err)
		}
		defer shutdownProfiling()
	}

	store, err := buildStore(ctx, cfg)
	if err != nil {
		return err
	}

	compressor, err := buildCompressor(cfg)
	if err != nil {
		return err
	}

	var recorder *metrics.Recorder
	if cfg.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		recorder = metrics.New(reg)

		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		server := &http.Server{Addr: cfg.Metrics.Listen, Handler: mux}
		go func() {
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("metrics server failed", "error", err)
			}
		}()
		defer server.Close()
	}

	shards := cfg.Shards
	if shardOverride > 0 {
		shards = shardOverride
	}

	base := s3journal.Config{
		Store:           store,
		LocalDirectory:  cfg.LocalDirectory,
		FsyncPerPut:     cfg.FsyncPerPut,
		Compressor:      compressor,
		Delimiter:       cfg.Delimiter,
		MaxBatchSize:    cfg.MaxBatchSize,
		MaxBatchLatency: cfg.MaxBatchLatency,
		MinPartSize:     cfg.MinPartSize.Uint64(),
		MaxPartsPerFile: cfg.MaxPartsPerFile,
		Metrics:         recorder,
	}

	sharder, err := s3journal.NewSharder(base, shards)
	if err != nil {
		return fmt.Errorf("construct journal: %w", err)
	}

	logger.Info("s3journal started", "shards", shards, "bucket", cfg.S3Bucket)

	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-sigCtx.Done()

	logger.Info("s3journal shutting down")
	return sharder.Close()
}
