package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/kbstack/kbsearch/internal/core/domain"
)

type DocumentRepository struct {
	db *sql.DB
}

func NewDocumentRepository(db *sql.DB) *DocumentRepository {
	return &DocumentRepository{db: db}
}

func OpenDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql open: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return db, nil
}

func (r *DocumentRepository) EnsureSchema(ctx context.Context) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// Serialize bootstrap DDL across api/worker startups.
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, int64(2026083001)); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}

	const query = `
CREATE TABLE IF NOT EXISTS documents (
	id TEXT PRIMARY KEY,
	path TEXT NOT NULL,
	title TEXT NOT NULL,
	ext TEXT NOT NULL,
	size_bytes BIGINT NOT NULL DEFAULT 0,
	status TEXT NOT NULL,
	content_hash TEXT NOT NULL DEFAULT '',
	consecutive_failures INT NOT NULL DEFAULT 0,
	error_message TEXT NOT NULL DEFAULT '',
	area TEXT NOT NULL DEFAULT '',
	year INT NOT NULL DEFAULT 0,
	client TEXT NOT NULL DEFAULT '',
	subject TEXT NOT NULL DEFAULT '',
	doc_type TEXT NOT NULL DEFAULT '',
	lot_code TEXT NOT NULL DEFAULT '',
	category TEXT NOT NULL DEFAULT '',
	version TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_documents_status ON documents(status);
CREATE INDEX IF NOT EXISTS idx_documents_year ON documents(year);

CREATE TABLE IF NOT EXISTS index_entries (
	path TEXT NOT NULL,
	content_hash TEXT NOT NULL,
	model TEXT NOT NULL,
	chunks INT NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (path, content_hash, model)
);

CREATE TABLE IF NOT EXISTS ingestion_progress (
	id INT PRIMARY KEY CHECK (id = 1),
	payload JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS ingestion_failures (
	id BIGSERIAL PRIMARY KEY,
	path TEXT NOT NULL,
	stage TEXT NOT NULL,
	kind TEXT NOT NULL,
	detail TEXT NOT NULL DEFAULT '',
	occurred_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_ingestion_failures_occurred_at ON ingestion_failures(occurred_at DESC);
`
	if _, err := tx.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("execute schema ddl: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}

// Upsert registers a discovered document. Re-scans refresh the descriptive
// fields and status without touching the failure counter; quarantine state
// survives until a run resets it.
func (r *DocumentRepository) Upsert(ctx context.Context, doc *domain.Document) error {
	_, err := r.db.ExecContext(ctx, `
INSERT INTO documents (
	id, path, title, ext, size_bytes, status, content_hash, error_message,
	area, year, client, subject, doc_type, lot_code, category, version,
	created_at, updated_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)
ON CONFLICT (id) DO UPDATE SET
	path = EXCLUDED.path,
	title = EXCLUDED.title,
	ext = EXCLUDED.ext,
	size_bytes = EXCLUDED.size_bytes,
	status = EXCLUDED.status,
	error_message = EXCLUDED.error_message,
	updated_at = EXCLUDED.updated_at
`,
		doc.ID, doc.Path, doc.Title, doc.Ext, doc.SizeBytes, string(doc.Status), doc.ContentHash, doc.Error,
		doc.Metadata.Area, doc.Metadata.Year, doc.Metadata.Client, doc.Metadata.Subject,
		doc.Metadata.DocType, doc.Metadata.LotCode, doc.Metadata.Category, doc.Metadata.Version,
		doc.CreatedAt, doc.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert document: %w", err)
	}
	return nil
}

func (r *DocumentRepository) GetByID(ctx context.Context, id string) (*domain.Document, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT id, path, title, ext, size_bytes, status, content_hash, consecutive_failures, error_message,
	area, year, client, subject, doc_type, lot_code, category, version,
	created_at, updated_at
FROM documents
WHERE id = $1
`, id)

	var doc domain.Document
	var status string

	err := row.Scan(
		&doc.ID, &doc.Path, &doc.Title, &doc.Ext, &doc.SizeBytes, &status,
		&doc.ContentHash, &doc.ConsecutiveFailures, &doc.Error,
		&doc.Metadata.Area, &doc.Metadata.Year, &doc.Metadata.Client, &doc.Metadata.Subject,
		&doc.Metadata.DocType, &doc.Metadata.LotCode, &doc.Metadata.Category, &doc.Metadata.Version,
		&doc.CreatedAt, &doc.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrDocumentNotFound, "get document", fmt.Errorf("id %s", id))
		}
		return nil, fmt.Errorf("scan document: %w", err)
	}
	doc.Status = domain.DocumentStatus(status)
	return &doc, nil
}

func (r *DocumentRepository) UpdateStatus(ctx context.Context, id string, status domain.DocumentStatus, errMessage string) error {
	result, err := r.db.ExecContext(ctx, `
UPDATE documents
SET status = $2, error_message = $3, updated_at = $4
WHERE id = $1
`, id, string(status), errMessage, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update document status: %w", err)
	}
	return requireRowHit(result, "update status", id)
}

// SaveExtraction stores the content hash and parsed metadata. A changed hash
// starts a fresh failure streak: the quarantine counter tracks (path, hash),
// so new content gets its full retry budget back.
func (r *DocumentRepository) SaveExtraction(ctx context.Context, id, contentHash string, meta domain.Metadata) error {
	result, err := r.db.ExecContext(ctx, `
UPDATE documents
SET consecutive_failures = CASE WHEN content_hash = $2 THEN consecutive_failures ELSE 0 END,
	content_hash = $2, area = $3, year = $4, client = $5, subject = $6,
	doc_type = $7, lot_code = $8, category = $9, version = $10, updated_at = $11
WHERE id = $1
`, id, contentHash, meta.Area, meta.Year, meta.Client, meta.Subject,
		meta.DocType, meta.LotCode, meta.Category, meta.Version, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("save extraction: %w", err)
	}
	return requireRowHit(result, "save extraction", id)
}

func requireRowHit(result sql.Result, operation, id string) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s rows affected: %w", operation, err)
	}
	if affected == 0 {
		return domain.WrapError(domain.ErrDocumentNotFound, operation, fmt.Errorf("id %s", id))
	}
	return nil
}

func (r *DocumentRepository) IsKnown(ctx context.Context, path, hash, model string) (bool, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT EXISTS (
	SELECT 1 FROM index_entries WHERE path = $1 AND content_hash = $2 AND model = $3
)
`, path, hash, model)

	var known bool
	if err := row.Scan(&known); err != nil {
		return false, fmt.Errorf("check index entry: %w", err)
	}
	return known, nil
}

// IsContentKnown checks for the hash under any other path, the cross-path
// half of the dedup guarantee. The caller's own path is excluded so a full
// re-scan still reprocesses the document itself.
func (r *DocumentRepository) IsContentKnown(ctx context.Context, excludePath, hash, model string) (bool, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT EXISTS (
	SELECT 1 FROM index_entries WHERE content_hash = $2 AND model = $3 AND path <> $1
)
`, excludePath, hash, model)

	var known bool
	if err := row.Scan(&known); err != nil {
		return false, fmt.Errorf("check content hash: %w", err)
	}
	return known, nil
}

// MarkIndexed upserts the index entry. The xmax trick distinguishes a fresh
// insert from a refresh of an existing row.
func (r *DocumentRepository) MarkIndexed(ctx context.Context, path, hash, model string, chunks int) (bool, error) {
	now := time.Now().UTC()
	row := r.db.QueryRowContext(ctx, `
INSERT INTO index_entries (path, content_hash, model, chunks, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$5)
ON CONFLICT (path, content_hash, model) DO UPDATE SET
	chunks = EXCLUDED.chunks,
	updated_at = EXCLUDED.updated_at
RETURNING (xmax = 0) AS created
`, path, hash, model, chunks, now)

	var created bool
	if err := row.Scan(&created); err != nil {
		return false, fmt.Errorf("mark indexed: %w", err)
	}
	return created, nil
}

func (r *DocumentRepository) IncrementFailures(ctx context.Context, id string) (int, error) {
	row := r.db.QueryRowContext(ctx, `
UPDATE documents
SET consecutive_failures = consecutive_failures + 1, updated_at = $2
WHERE id = $1
RETURNING consecutive_failures
`, id, time.Now().UTC())

	var count int
	if err := row.Scan(&count); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, domain.WrapError(domain.ErrDocumentNotFound, "increment failures", fmt.Errorf("id %s", id))
		}
		return 0, fmt.Errorf("increment failures: %w", err)
	}
	return count, nil
}

func (r *DocumentRepository) ResetFailures(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `
UPDATE documents
SET consecutive_failures = 0, updated_at = $2
WHERE id = $1
`, id, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("reset failures: %w", err)
	}
	return nil
}

// FilterValues lists the distinct structured attribute values of indexed
// documents, for building the filter facets of the search surface.
func (r *DocumentRepository) FilterValues(ctx context.Context) (domain.FilterValues, error) {
	var out domain.FilterValues

	stringColumns := []struct {
		column string
		dest   *[]string
	}{
		{"area", &out.Areas},
		{"client", &out.Clients},
		{"subject", &out.Subjects},
		{"doc_type", &out.DocTypes},
		{"category", &out.Categories},
		{"ext", &out.Extensions},
	}
	for _, col := range stringColumns {
		values, err := r.distinctStrings(ctx, col.column)
		if err != nil {
			return domain.FilterValues{}, err
		}
		*col.dest = values
	}

	rows, err := r.db.QueryContext(ctx, `
SELECT DISTINCT year FROM documents WHERE status = 'indexed' AND year <> 0 ORDER BY year
`)
	if err != nil {
		return domain.FilterValues{}, fmt.Errorf("distinct years: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var year int
		if err := rows.Scan(&year); err != nil {
			return domain.FilterValues{}, fmt.Errorf("scan year: %w", err)
		}
		out.Years = append(out.Years, year)
	}
	if err := rows.Err(); err != nil {
		return domain.FilterValues{}, fmt.Errorf("iterate years: %w", err)
	}
	return out, nil
}

func (r *DocumentRepository) distinctStrings(ctx context.Context, column string) ([]string, error) {
	// column comes from a fixed list above, never from user input.
	query := fmt.Sprintf(`
SELECT DISTINCT %s FROM documents WHERE status = 'indexed' AND %s <> '' ORDER BY %s
`, column, column, column)

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("distinct %s: %w", column, err)
	}
	defer rows.Close()

	var values []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scan %s: %w", column, err)
		}
		values = append(values, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s: %w", column, err)
	}
	return values, nil
}
