package export

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/segmentio/parquet-go"
	"go.uber.org/zap"

	"github.com/promptveil/promptveil/internal/review"
)

// Pipeline exports reviewed submissions from the review store to a dataset
// file for downstream analysis.
type Pipeline struct {
	store  *review.Store
	config *Config
	logger *zap.Logger
}

// NewPipeline creates a new export pipeline
func NewPipeline(store *review.Store, config *Config, logger *zap.Logger) *Pipeline {
	return &Pipeline{
		store:  store,
		config: config,
		logger: logger,
	}
}

// Export writes submissions to outputPath. The format follows the file
// extension (CSV, Parquet, or JSONL).
func (p *Pipeline) Export(ctx context.Context, outputPath string) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	format := DetectFileFormat(outputPath)
	p.logger.Info("Starting export pipeline",
		zap.String("output", outputPath),
		zap.String("format", string(format)),
		zap.String("status_filter", string(p.config.Status)),
		zap.Int("batch_size", p.config.BatchSize))

	file, err := os.Create(outputPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create output file: %w", err)
	}
	defer file.Close()

	var write func(Record) error
	var flush func() error

	switch format {
	case FormatCSV:
		w := csv.NewWriter(file)
		if err := w.Write([]string{"submission_id", "session_id", "display_text", "findings", "categories", "confidence", "status", "created_at"}); err != nil {
			return nil, fmt.Errorf("failed to write CSV header: %w", err)
		}
		write = func(r Record) error {
			return w.Write([]string{
				fmt.Sprintf("%d", r.SubmissionID),
				r.SessionID,
				r.DisplayText,
				fmt.Sprintf("%d", r.Findings),
				r.Categories,
				fmt.Sprintf("%d", r.Confidence),
				r.Status,
				r.CreatedAt,
			})
		}
		flush = func() error {
			w.Flush()
			return w.Error()
		}

	case FormatParquet:
		w := parquet.NewWriter(file)
		write = func(r Record) error {
			return w.Write(&r)
		}
		flush = w.Close

	case FormatJSONL:
		enc := json.NewEncoder(file)
		write = func(r Record) error { return enc.Encode(r) }
		flush = func() error { return nil }

	default:
		return nil, fmt.Errorf("unsupported output format: %s", format)
	}

	start := time.Now()
	result := &Result{OutputFile: outputPath, Format: format}

	var afterID int64
	for {
		select {
		case <-ctx.Done():
			return result, ctx.Err()
		default:
		}

		batch, err := p.store.ListAfter(ctx, afterID, p.config.BatchSize)
		if err != nil {
			return result, fmt.Errorf("failed to read batch: %w", err)
		}
		if len(batch) == 0 {
			break
		}

		for _, sub := range batch {
			if p.config.Status != "" && sub.Status != p.config.Status {
				continue
			}
			if err := write(newRecord(sub)); err != nil {
				return result, fmt.Errorf("failed to write record %d: %w", sub.ID, err)
			}
			result.TotalRecords++

			if p.config.ProgressReport > 0 && result.TotalRecords%int64(p.config.ProgressReport) == 0 {
				p.reportProgress(result, start)
			}
		}

		afterID = batch[len(batch)-1].ID
	}

	if err := flush(); err != nil {
		return result, fmt.Errorf("failed to finalize output: %w", err)
	}
	result.Duration = time.Since(start)

	p.logger.Info("Export pipeline completed",
		zap.Int64("total_records", result.TotalRecords),
		zap.Duration("duration", result.Duration),
		zap.String("output", outputPath))

	return result, nil
}

func (p *Pipeline) reportProgress(result *Result, start time.Time) {
	elapsed := time.Since(start)
	rate := float64(result.TotalRecords) / elapsed.Seconds()

	p.logger.Info("Export progress",
		zap.Int64("records_written", result.TotalRecords),
		zap.Float64("rate_per_sec", rate),
		zap.Duration("elapsed", elapsed))
}
