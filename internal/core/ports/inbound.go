package ports

import (
	"context"

	"github.com/kbstack/kbsearch/internal/core/domain"
)

// IngestionRunner is the inbound contract for executing one ingestion job.
type IngestionRunner interface {
	Run(ctx context.Context, job domain.IngestionJob) error
}

// SearchService is the inbound contract for the hybrid query surface.
type SearchService interface {
	Search(ctx context.Context, req domain.SearchRequest) (*domain.SearchResult, error)
}

// ProgressReader exposes the read-only ingestion progress snapshot.
type ProgressReader interface {
	Snapshot(ctx context.Context) (domain.Progress, []domain.FailureEntry, error)
}

// FilterProvider lists the distinct structured attribute values available
// for search filtering.
type FilterProvider interface {
	Filters(ctx context.Context) (domain.FilterValues, error)
}
