package review

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/promptveil/promptveil/internal/config"
	"go.uber.org/zap"
)

// ErrNotFound is returned when a submission ID does not exist.
var ErrNotFound = errors.New("submission not found")

const schema = `
CREATE TABLE IF NOT EXISTS submissions (
	id            BIGSERIAL PRIMARY KEY,
	session_id    TEXT NOT NULL,
	original_text TEXT NOT NULL,
	display_text  TEXT NOT NULL,
	findings      JSONB NOT NULL DEFAULT '[]',
	categories    JSONB NOT NULL DEFAULT '[]',
	confidence    INTEGER NOT NULL DEFAULT 0,
	status        TEXT NOT NULL DEFAULT 'pending_review',
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS submissions_status_idx ON submissions (status);
CREATE INDEX IF NOT EXISTS submissions_session_idx ON submissions (session_id);`

// Store persists submitted anonymization results and their review status in
// PostgreSQL. The status lifecycle (pending_review -> approved|rejected)
// lives entirely here, outside the detection engine.
type Store struct {
	db     *sqlx.DB
	logger *zap.Logger
}

// NewStore connects to the review database and ensures the schema exists.
func NewStore(cfg config.ReviewConfig, logger *zap.Logger) (*Store, error) {
	db, err := sqlx.Connect("postgres", cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	store := &Store{
		db:     db,
		logger: logger,
	}

	if err := store.initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize review store: %w", err)
	}

	logger.Info("Review store initialized",
		zap.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
		zap.Int("max_open_conns", cfg.MaxOpenConns),
		zap.Int("max_idle_conns", cfg.MaxIdleConns))

	return store, nil
}

func (s *Store) initialize() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to ensure schema: %w", err)
	}

	return nil
}

// Insert stores a new submission with status pending_review and fills in
// its assigned ID and timestamps.
func (s *Store) Insert(ctx context.Context, sub *Submission) error {
	query := `
		INSERT INTO submissions (session_id, original_text, display_text, findings, categories, confidence, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at, updated_at`

	sub.Status = StatusPending
	err := s.db.QueryRowContext(ctx, query,
		sub.SessionID,
		sub.Original,
		sub.DisplayText,
		sub.Findings,
		sub.Categories,
		sub.Confidence,
		sub.Status,
	).Scan(&sub.ID, &sub.CreatedAt, &sub.UpdatedAt)

	if err != nil {
		s.logger.Error("Failed to insert submission",
			zap.Error(err),
			zap.String("session_id", sub.SessionID))
		return fmt.Errorf("failed to insert submission: %w", err)
	}

	s.logger.Debug("Submission inserted",
		zap.Int64("id", sub.ID),
		zap.String("session_id", sub.SessionID),
		zap.Int("findings", len(sub.Findings)))

	return nil
}

// Get fetches one submission by ID.
func (s *Store) Get(ctx context.Context, id int64) (*Submission, error) {
	var sub Submission
	err := s.db.GetContext(ctx, &sub, `SELECT * FROM submissions WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get submission %d: %w", id, err)
	}
	return &sub, nil
}

// UpdateStatus records a review decision. Only valid statuses are accepted.
func (s *Store) UpdateStatus(ctx context.Context, id int64, status Status) (*Submission, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("invalid review status: %s", status)
	}

	var sub Submission
	err := s.db.GetContext(ctx, &sub, `
		UPDATE submissions
		SET status = $1, updated_at = now()
		WHERE id = $2
		RETURNING *`, status, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update submission %d: %w", id, err)
	}

	s.logger.Info("Submission status updated",
		zap.Int64("id", id),
		zap.String("status", string(status)))

	return &sub, nil
}

// List returns submissions newest-first, optionally filtered by status.
func (s *Store) List(ctx context.Context, opts ListOptions) ([]Submission, error) {
	limit := opts.Limit
	if limit <= 0 || limit > 500 {
		limit = 50
	}

	query := `SELECT * FROM submissions`
	args := []interface{}{}
	if opts.Status != "" {
		if !opts.Status.Valid() {
			return nil, fmt.Errorf("invalid review status: %s", opts.Status)
		}
		query += ` WHERE status = $1`
		args = append(args, opts.Status)
	}
	query += fmt.Sprintf(` ORDER BY id DESC LIMIT %d OFFSET %d`, limit, opts.Offset)

	var subs []Submission
	if err := s.db.SelectContext(ctx, &subs, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list submissions: %w", err)
	}
	return subs, nil
}

// ListAfter returns up to limit submissions with ID greater than afterID,
// oldest-first. Export pipelines use it to page through the full table.
func (s *Store) ListAfter(ctx context.Context, afterID int64, limit int) ([]Submission, error) {
	if limit <= 0 {
		limit = 500
	}

	var subs []Submission
	err := s.db.SelectContext(ctx, &subs, `
		SELECT * FROM submissions
		WHERE id > $1
		ORDER BY id ASC
		LIMIT $2`, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to page submissions after %d: %w", afterID, err)
	}
	return subs, nil
}

// CountByStatus returns submission counts grouped by review status.
func (s *Store) CountByStatus(ctx context.Context) (map[Status]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM submissions GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count submissions: %w", err)
	}
	defer rows.Close()

	counts := make(map[Status]int64)
	for rows.Next() {
		var (
			status Status
			count  int64
		)
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan status count: %w", err)
		}
		counts[status] = count
	}
	return counts, rows.Err()
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// maskDatabaseURL masks credentials in a database URL for logging.
func maskDatabaseURL(url string) string {
	if strings.Contains(url, "@") {
		parts := strings.Split(url, "@")
		if len(parts) >= 2 {
			userPart := parts[0]
			if idx := strings.LastIndex(userPart, ":"); idx > strings.Index(userPart, "//") {
				parts[0] = userPart[:idx] + ":***"
			}
			return strings.Join(parts, "@")
		}
	}
	return url
}
