package export

import (
	"strings"
	"time"

	"github.com/promptveil/promptveil/internal/review"
)

// Record is one exported submission row. It carries the redacted display
// text and review metadata only; original text never leaves the database.
type Record struct {
	SubmissionID int64  `csv:"submission_id" parquet:"submission_id" json:"submission_id"`
	SessionID    string `csv:"session_id" parquet:"session_id" json:"session_id"`
	DisplayText  string `csv:"display_text" parquet:"display_text" json:"display_text"`
	Findings     int32  `csv:"findings" parquet:"findings" json:"findings"`
	Categories   string `csv:"categories" parquet:"categories" json:"categories"`
	Confidence   int32  `csv:"confidence" parquet:"confidence" json:"confidence"`
	Status       string `csv:"status" parquet:"status" json:"status"`
	CreatedAt    string `csv:"created_at" parquet:"created_at" json:"created_at"`
}

// newRecord flattens a submission into its export row.
func newRecord(sub review.Submission) Record {
	categories := make([]string, len(sub.Categories))
	for i, c := range sub.Categories {
		categories[i] = string(c)
	}

	return Record{
		SubmissionID: sub.ID,
		SessionID:    sub.SessionID,
		DisplayText:  sub.DisplayText,
		Findings:     int32(len(sub.Findings)),
		Categories:   strings.Join(categories, ","),
		Confidence:   int32(sub.Confidence),
		Status:       string(sub.Status),
		CreatedAt:    sub.CreatedAt.UTC().Format(time.RFC3339),
	}
}

// Result summarizes one export run.
type Result struct {
	TotalRecords int64         `json:"total_records"`
	Duration     time.Duration `json:"duration"`
	OutputFile   string        `json:"output_file"`
	Format       FileFormat    `json:"format"`
}

// Config contains export pipeline configuration
type Config struct {
	BatchSize      int           `yaml:"batch_size" mapstructure:"batch_size"`           // 500
	Status         review.Status `yaml:"status" mapstructure:"status"`                   // "" exports all
	ProgressReport int           `yaml:"progress_report" mapstructure:"progress_report"` // 1000
}

// FileFormat represents supported output formats
type FileFormat string

const (
	FormatCSV     FileFormat = "csv"
	FormatParquet FileFormat = "parquet"
	FormatJSONL   FileFormat = "jsonl"
)

// DetectFileFormat detects the output format from the file extension.
func DetectFileFormat(filename string) FileFormat {
	switch {
	case strings.HasSuffix(filename, ".parquet"):
		return FormatParquet
	case strings.HasSuffix(filename, ".jsonl"), strings.HasSuffix(filename, ".json"):
		return FormatJSONL
	default:
		return FormatCSV
	}
}
