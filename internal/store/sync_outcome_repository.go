/**
 * @description
 * This file implements the optional audit ledger of per-employee sync outcomes.
 * One row is written for every employee the worker attempts to push to HikCentral.
 *
 * @dependencies
 * - github.com/jackc/pgx/v5/pgxpool: The PostgreSQL driver and connection pool manager.
 *
 * @notes
 * - The ledger holds no employee payload or photo, only identifiers and the outcome.
 * - Callers treat write failures as non-fatal; the sync itself is the source of truth.
 */
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// SyncOutcome is one ledger row.
type SyncOutcome struct {
	IdentityNumber string
	PersonID       *string
	Outcome        string
	FailedSteps    []string
	BatchID        string
	Page           int
	ProcessedAt    time.Time
}

// SyncOutcomeRepository defines the ledger operations needed by the worker.
type SyncOutcomeRepository interface {
	RecordOutcome(ctx context.Context, outcome SyncOutcome) error
	LatestOutcome(ctx context.Context, identityNumber string) (*SyncOutcome, error)
}

// PostgresSyncOutcomeRepository is the PostgreSQL implementation of SyncOutcomeRepository.
type PostgresSyncOutcomeRepository struct {
	db *pgxpool.Pool
}

// NewPostgresSyncOutcomeRepository creates a new instance of PostgresSyncOutcomeRepository.
func NewPostgresSyncOutcomeRepository(db *pgxpool.Pool) *PostgresSyncOutcomeRepository {
	return &PostgresSyncOutcomeRepository{db: db}
}

// EnsureSyncOutcomeTable creates the ledger table if it does not exist (idempotent).
func (r *PostgresSyncOutcomeRepository) EnsureSyncOutcomeTable(ctx context.Context) error {
	statements := []string{`
        CREATE TABLE IF NOT EXISTS sync_outcomes (
            id BIGSERIAL PRIMARY KEY,
            identity_number TEXT NOT NULL,
            person_id TEXT,
            outcome TEXT NOT NULL,
            failed_steps TEXT[] NOT NULL DEFAULT '{}',
            batch_id TEXT,
            page INTEGER,
            processed_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
        )`,
		`CREATE INDEX IF NOT EXISTS sync_outcomes_identity_idx ON sync_outcomes (identity_number, processed_at DESC)`,
	}
	for _, stmt := range statements {
		if _, err := r.db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed ensuring sync_outcomes table: %w", err)
		}
	}
	return nil
}

// RecordOutcome inserts one ledger row.
func (r *PostgresSyncOutcomeRepository) RecordOutcome(ctx context.Context, outcome SyncOutcome) error {
	query := `
        INSERT INTO sync_outcomes (identity_number, person_id, outcome, failed_steps, batch_id, page, processed_at)
        VALUES ($1, $2, $3, $4, NULLIF($5, ''), NULLIF($6, 0), $7)
    `
	failedSteps := outcome.FailedSteps
	if failedSteps == nil {
		failedSteps = []string{}
	}
	processedAt := outcome.ProcessedAt
	if processedAt.IsZero() {
		processedAt = time.Now().UTC()
	}

	if _, err := r.db.Exec(ctx, query,
		outcome.IdentityNumber,
		outcome.PersonID,
		outcome.Outcome,
		failedSteps,
		outcome.BatchID,
		outcome.Page,
		processedAt,
	); err != nil {
		return fmt.Errorf("failed to record sync outcome for %s: %w", outcome.IdentityNumber, err)
	}
	return nil
}

// LatestOutcome returns the most recent ledger row for an identity number, or nil.
func (r *PostgresSyncOutcomeRepository) LatestOutcome(ctx context.Context, identityNumber string) (*SyncOutcome, error) {
	query := `
		SELECT identity_number, person_id, outcome, failed_steps, COALESCE(batch_id, ''), COALESCE(page, 0), processed_at
		FROM sync_outcomes
		WHERE identity_number = $1
		ORDER BY processed_at DESC
		LIMIT 1
	`
	var out SyncOutcome
	err := r.db.QueryRow(ctx, query, identityNumber).Scan(
		&out.IdentityNumber,
		&out.PersonID,
		&out.Outcome,
		&out.FailedSteps,
		&out.BatchID,
		&out.Page,
		&out.ProcessedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load sync outcome for %s: %w", identityNumber, err)
	}
	return &out, nil
}
