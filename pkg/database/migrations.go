package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// CreateSearchIndexes creates full-text search GIN indexes for PostgreSQL.
// These indexes enable efficient full-text search on job goals and event
// summaries, and aren't expressed as a plain migration because they're
// advisory — a deployment can drop them without losing correctness.
func CreateSearchIndexes(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx,
		`CREATE INDEX IF NOT EXISTS idx_jobs_goal_gin
		ON jobs USING gin(to_tsvector('english', goal))`); err != nil {
		return fmt.Errorf("failed to create goal GIN index: %w", err)
	}

	if _, err := pool.Exec(ctx,
		`CREATE INDEX IF NOT EXISTS idx_events_summary_gin
		ON events USING gin(to_tsvector('english', COALESCE(summary, '')))`); err != nil {
		return fmt.Errorf("failed to create summary GIN index: %w", err)
	}

	return nil
}
