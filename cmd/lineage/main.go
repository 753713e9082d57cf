package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	cacheredis "github.com/model-lineage/pipeline/internal/cache/redis"
	neo4jstore "github.com/model-lineage/pipeline/internal/graph/neo4j"
	"github.com/model-lineage/pipeline/internal/metrics"
	"github.com/model-lineage/pipeline/internal/pipeline"
	"github.com/model-lineage/pipeline/internal/registry"
	"github.com/model-lineage/pipeline/internal/scraper"
	"github.com/model-lineage/pipeline/internal/snapshot"
	"github.com/model-lineage/pipeline/internal/storage/sqlite"
	"github.com/model-lineage/pipeline/pkg/config"
	"github.com/model-lineage/pipeline/pkg/logger"
)

var (
	rootCmd = &cobra.Command{
		Use:   "lineage",
		Short: "Model lineage graph pipeline",
	}

	flagMode       string
	flagKeep       int
	flagMaxRecords int
	flagLimit      int
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Execute one full scrape-build-load pass",
		RunE:  runPipeline,
	}
	runCmd.Flags().StringVar(&flagMode, "mode", "", "load mode: replace or merge (default from config)")
	runCmd.Flags().IntVar(&flagKeep, "keep", 0, "snapshots to retain (default from config)")
	runCmd.Flags().IntVar(&flagMaxRecords, "max-records", -1, "cap on records fetched, 0 = unbounded (default from config)")

	historyCmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent pipeline runs",
		RunE:  showHistory,
	}
	historyCmd.Flags().IntVar(&flagLimit, "limit", 20, "number of runs to show")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(historyCmd)
}

func runPipeline(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := logger.Init(logger.Config{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		OutputPath: cfg.Logging.OutputPath,
	}); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer logger.Sync()

	if flagMode != "" {
		cfg.Neo4j.LoadMode = flagMode
	}
	if flagKeep > 0 {
		cfg.Snapshot.KeepLatest = flagKeep
	}
	if flagMaxRecords >= 0 {
		cfg.Scraper.MaxRecords = flagMaxRecords
	}

	mode, err := neo4jstore.ParseLoadMode(cfg.Neo4j.LoadMode)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Metrics.Enabled {
		app := metrics.NewApp()
		go func() {
			if err := app.Listen(cfg.Metrics.Addr); err != nil {
				logger.Warn("Metrics server stopped", zap.Error(err))
			}
		}()
		defer app.Shutdown()
	}

	regClient := registry.NewClient(registry.Config{
		BaseURL:    cfg.Registry.BaseURL,
		Token:      cfg.Registry.Token,
		PageSize:   cfg.Registry.PageSize,
		Timeout:    time.Duration(cfg.Registry.TimeoutSec) * time.Second,
		MaxRetries: cfg.Scraper.MaxRetries,
	})

	var cache scraper.Cache
	if cfg.Redis.Enabled {
		redisClient, err := cacheredis.NewClient(
			cfg.Redis.Host,
			cfg.Redis.Port,
			cfg.Redis.Password,
			cfg.Redis.DB,
			time.Duration(cfg.Redis.TTLSec)*time.Second,
		)
		if err != nil {
			logger.Warn("Redis cache unavailable, continuing without it", zap.Error(err))
		} else {
			defer redisClient.Close()
			cache = redisClient
		}
	}

	store, err := snapshot.NewStore(cfg.Snapshot.Dir)
	if err != nil {
		logger.Error("Failed to open snapshot store", zap.Error(err))
		return err
	}

	loader, err := neo4jstore.NewLoader(
		cfg.Neo4j.URI,
		cfg.Neo4j.Username,
		cfg.Neo4j.Password,
		cfg.Neo4j.Database,
		cfg.Neo4j.BatchSize,
	)
	if err != nil {
		logger.Error("Failed to connect to graph store", zap.Error(err))
		return err
	}
	defer loader.Close(context.Background())

	ledger, err := sqlite.NewLedger(cfg.Ledger.Path)
	if err != nil {
		logger.Warn("Run ledger unavailable", zap.Error(err))
		ledger = nil
	} else {
		defer ledger.Close()
		if err := ledger.InitSchema(); err != nil {
			logger.Warn("Run ledger schema init failed", zap.Error(err))
			ledger.Close()
			ledger = nil
		}
	}

	fetcher := scraper.New(regClient, cache, cfg.Scraper.Concurrency, cfg.Scraper.MaxRecords)
	runner := pipeline.NewRunner(fetcher, store, loader, ledger, mode, cfg.Snapshot.KeepLatest)

	summary, err := runner.Run(ctx)
	printSummary(summary)
	if err != nil {
		logger.Error("Pipeline run failed", zap.Error(err))
		return err
	}

	return nil
}

func showHistory(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := logger.Init(logger.Config{Level: "warn", Format: cfg.Logging.Format, OutputPath: cfg.Logging.OutputPath}); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	ledger, err := sqlite.NewLedger(cfg.Ledger.Path)
	if err != nil {
		return fmt.Errorf("failed to open run ledger: %w", err)
	}
	defer ledger.Close()

	if err := ledger.InitSchema(); err != nil {
		return err
	}

	runs, err := ledger.History(flagLimit)
	if err != nil {
		return err
	}

	if len(runs) == 0 {
		fmt.Println("No pipeline runs recorded.")
		return nil
	}

	for _, run := range runs {
		fmt.Printf("%s  %-9s  snapshot=%-18s  mode=%-7s  fetched=%d skipped=%d nodes=%d edges=%d dangling=%d\n",
			run.StartedAt.Format(time.RFC3339),
			run.Status,
			run.SnapshotID,
			run.Mode,
			run.RecordsFetched,
			run.RecordsSkipped,
			run.NodesLoaded,
			run.EdgesLoaded,
			run.DanglingDropped,
		)
		if run.ErrorText != "" {
			fmt.Printf("    error: %s\n", run.ErrorText)
		}
	}

	return nil
}

func printSummary(s *pipeline.Summary) {
	fmt.Printf("run %s: %s\n", s.RunID, s.Status)
	fmt.Printf("  snapshot:         %s\n", s.SnapshotID)
	fmt.Printf("  mode:             %s\n", s.Mode)
	fmt.Printf("  records fetched:  %d (skipped %d)\n", s.RecordsFetched, s.RecordsSkipped)
	fmt.Printf("  relationships:    %d (dangling dropped %d)\n", s.Relationships, s.DanglingDropped)
	fmt.Printf("  loaded:           %d nodes, %d edges\n", s.NodesLoaded, s.EdgesLoaded)
	fmt.Printf("  duration:         %s\n", s.Duration.Round(time.Millisecond))
}
