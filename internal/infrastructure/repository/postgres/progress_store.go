package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/kbstack/kbsearch/internal/core/domain"
)

// ProgressStore persists the single ingestion progress row and the bounded
// failure log.
type ProgressStore struct {
	db *sql.DB
	// maxFailures bounds the failure log; older rows are pruned on append.
	maxFailures int
}

func NewProgressStore(db *sql.DB, maxFailures int) *ProgressStore {
	if maxFailures <= 0 {
		maxFailures = 500
	}
	return &ProgressStore{db: db, maxFailures: maxFailures}
}

func (s *ProgressStore) SaveProgress(ctx context.Context, p domain.Progress) error {
	payload, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal progress: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
INSERT INTO ingestion_progress (id, payload, updated_at)
VALUES (1, $1, $2)
ON CONFLICT (id) DO UPDATE SET
	payload = EXCLUDED.payload,
	updated_at = EXCLUDED.updated_at
`, payload, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("save progress: %w", err)
	}
	return nil
}

// LoadProgress returns a zero snapshot when no run has happened yet.
func (s *ProgressStore) LoadProgress(ctx context.Context) (domain.Progress, error) {
	row := s.db.QueryRowContext(ctx, `SELECT payload FROM ingestion_progress WHERE id = 1`)

	var payload []byte
	if err := row.Scan(&payload); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Progress{}, nil
		}
		return domain.Progress{}, fmt.Errorf("load progress: %w", err)
	}

	var p domain.Progress
	if err := json.Unmarshal(payload, &p); err != nil {
		return domain.Progress{}, fmt.Errorf("unmarshal progress: %w", err)
	}
	return p, nil
}

func (s *ProgressStore) AppendFailure(ctx context.Context, entry domain.FailureEntry) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO ingestion_failures (path, stage, kind, detail, occurred_at)
VALUES ($1,$2,$3,$4,$5)
`, entry.Path, entry.Stage, entry.Kind, entry.Detail, entry.OccurredAt)
	if err != nil {
		return fmt.Errorf("append failure: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
DELETE FROM ingestion_failures
WHERE id NOT IN (
	SELECT id FROM ingestion_failures ORDER BY occurred_at DESC, id DESC LIMIT $1
)
`, s.maxFailures)
	if err != nil {
		return fmt.Errorf("prune failures: %w", err)
	}
	return nil
}

func (s *ProgressStore) RecentFailures(ctx context.Context, limit int) ([]domain.FailureEntry, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
SELECT path, stage, kind, detail, occurred_at
FROM ingestion_failures
ORDER BY occurred_at DESC, id DESC
LIMIT $1
`, limit)
	if err != nil {
		return nil, fmt.Errorf("query failures: %w", err)
	}
	defer rows.Close()

	var entries []domain.FailureEntry
	for rows.Next() {
		var e domain.FailureEntry
		if err := rows.Scan(&e.Path, &e.Stage, &e.Kind, &e.Detail, &e.OccurredAt); err != nil {
			return nil, fmt.Errorf("scan failure: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate failures: %w", err)
	}
	return entries, nil
}
