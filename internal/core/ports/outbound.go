package ports

import (
	"context"

	"github.com/kbstack/kbsearch/internal/core/domain"
)

// DocumentRepository persists document state and the (path, hash, model)
// index entries that back the system's dedup guarantee.
type DocumentRepository interface {
	Upsert(ctx context.Context, doc *domain.Document) error
	GetByID(ctx context.Context, id string) (*domain.Document, error)
	UpdateStatus(ctx context.Context, id string, status domain.DocumentStatus, errMessage string) error
	SaveExtraction(ctx context.Context, id, contentHash string, meta domain.Metadata) error

	// IsKnown reports whether an index entry already exists for the triple;
	// a hit skips embedding entirely on incremental re-scans.
	IsKnown(ctx context.Context, path, hash, model string) (bool, error)
	// IsContentKnown reports whether the same content hash is already indexed
	// for the model under a different path; a hit reuses the existing vectors
	// instead of embedding the duplicate.
	IsContentKnown(ctx context.Context, excludePath, hash, model string) (bool, error)
	// MarkIndexed idempotently upserts the index entry; created is false when
	// the entry already existed (only timestamps are refreshed).
	MarkIndexed(ctx context.Context, path, hash, model string, chunks int) (created bool, err error)

	IncrementFailures(ctx context.Context, id string) (int, error)
	ResetFailures(ctx context.Context, id string) error

	FilterValues(ctx context.Context) (domain.FilterValues, error)
}

// ProgressStore persists the ingestion progress record and the bounded
// failure log, committed transactionally with each state transition.
type ProgressStore interface {
	SaveProgress(ctx context.Context, p domain.Progress) error
	LoadProgress(ctx context.Context) (domain.Progress, error)
	AppendFailure(ctx context.Context, entry domain.FailureEntry) error
	RecentFailures(ctx context.Context, limit int) ([]domain.FailureEntry, error)
}

// JobQueue publishes and consumes ingestion job envelopes with
// at-least-once delivery and a visibility timeout.
type JobQueue interface {
	PublishIngestionJob(ctx context.Context, job domain.IngestionJob) error
	ConsumeIngestionJobs(ctx context.Context, handler func(context.Context, domain.IngestionJob) error) error
}

// CorpusScanner walks the corpus root (or a subtree) and lists files.
type CorpusScanner interface {
	Scan(ctx context.Context, target string) ([]domain.DiscoveredFile, error)
}

// TextExtractor extracts text plus a page map from a corpus file.
type TextExtractor interface {
	Extract(ctx context.Context, absPath string) (domain.Extraction, error)
}

// Chunker splits an extraction into page-attributed chunks.
type Chunker interface {
	Split(extraction domain.Extraction) []domain.Chunk
}

// MetadataParser derives structured metadata from the corpus-relative path.
type MetadataParser interface {
	Parse(relPath string) domain.Metadata
}

// Embedder turns text batches into vectors for a named model. Release frees
// accelerator memory held by the model between batches.
type Embedder interface {
	Embed(ctx context.Context, texts []string, model string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text, model string) ([]float32, error)
	Release(ctx context.Context, model string) error
}

// VectorIndex stores chunk vectors, one collection per embedding model.
type VectorIndex interface {
	EnsureCollection(ctx context.Context, collection string, dimension int) error
	UpsertChunks(ctx context.Context, collection string, doc *domain.Document, chunks []domain.Chunk, vectors [][]float32) error
	Search(ctx context.Context, collection string, queryVector []float32, limit int, filter domain.SearchFilter) ([]domain.SearchHit, error)
}

// LexicalIndex is the keyword search backend.
type LexicalIndex interface {
	EnsureIndex(ctx context.Context) error
	UpsertDocuments(ctx context.Context, docs []domain.LexicalDoc) error
	Search(ctx context.Context, query string, limit int, filter domain.SearchFilter) ([]domain.SearchHit, error)
}
