package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/promptveil/promptveil/internal/config"
	"github.com/promptveil/promptveil/internal/export"
	"github.com/promptveil/promptveil/internal/logger"
	"github.com/promptveil/promptveil/internal/review"
)

func main() {
	var (
		configPath = flag.String("config", "", "Configuration file path")
		outputFile = flag.String("output", "", "Output dataset file (.csv, .parquet, or .jsonl)")
		status     = flag.String("status", "", "Only export submissions with this review status")
		batchSize  = flag.Int("batch-size", 500, "Batch size for reading submissions")
		showStats  = flag.Bool("stats", false, "Show review store statistics and exit")
	)
	flag.Parse()

	if *outputFile == "" && !*showStats {
		fmt.Fprintf(os.Stderr, "Usage: %s [options]\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "\nOptions:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  %s --output submissions.parquet\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s --output approved.csv --status approved\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s --stats\n", os.Args[0])
		os.Exit(1)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("Starting PromptVeil export",
		zap.String("version", "0.1.0"),
		zap.String("config", *configPath))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Info("Received shutdown signal, cancelling export...")
		cancel()
	}()

	store, err := review.NewStore(cfg.Review, log.WithComponent("review").Logger)
	if err != nil {
		log.Fatal("Failed to open review store", zap.Error(err))
	}
	defer store.Close()

	if *showStats {
		if err := showStoreStats(ctx, store); err != nil {
			log.Fatal("Failed to show stats", zap.Error(err))
		}
		return
	}

	statusFilter := review.Status(*status)
	if statusFilter != "" && !statusFilter.Valid() {
		log.Fatal("Invalid status filter", zap.String("status", *status))
	}

	pipeline := export.NewPipeline(store, &export.Config{
		BatchSize:      *batchSize,
		Status:         statusFilter,
		ProgressReport: 1000,
	}, log.WithComponent("export").Logger)

	result, err := pipeline.Export(ctx, *outputFile)
	if err != nil {
		log.Fatal("Export failed", zap.Error(err))
	}

	log.Info("Export completed",
		zap.String("output", result.OutputFile),
		zap.String("format", string(result.Format)),
		zap.Int64("total_records", result.TotalRecords),
		zap.Duration("duration", result.Duration),
		zap.Float64("records_per_second", float64(result.TotalRecords)/result.Duration.Seconds()))
}

// showStoreStats displays current review store statistics
func showStoreStats(ctx context.Context, store *review.Store) error {
	counts, err := store.CountByStatus(ctx)
	if err != nil {
		return fmt.Errorf("failed to count submissions: %w", err)
	}

	var total int64
	for _, c := range counts {
		total += c
	}

	fmt.Printf("\n=== PromptVeil Review Store Statistics ===\n")
	fmt.Printf("Total Submissions:  %d\n", total)
	fmt.Printf("Pending Review:     %d\n", counts[review.StatusPending])
	fmt.Printf("Approved:           %d\n", counts[review.StatusApproved])
	fmt.Printf("Rejected:           %d\n", counts[review.StatusRejected])

	return nil
}
