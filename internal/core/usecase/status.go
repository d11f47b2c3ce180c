package usecase

import (
	"context"

	"github.com/kbstack/kbsearch/internal/core/domain"
	"github.com/kbstack/kbsearch/internal/core/ports"
)

const defaultFailureLimit = 100

// StatusUseCase backs the read-only operational endpoints: the progress
// snapshot, the recent failure log and the filter facets.
type StatusUseCase struct {
	progress     ports.ProgressStore
	repo         ports.DocumentRepository
	failureLimit int
}

func NewStatusUseCase(progress ports.ProgressStore, repo ports.DocumentRepository) *StatusUseCase {
	return &StatusUseCase{progress: progress, repo: repo, failureLimit: defaultFailureLimit}
}

func (uc *StatusUseCase) Snapshot(ctx context.Context) (domain.Progress, []domain.FailureEntry, error) {
	progress, err := uc.progress.LoadProgress(ctx)
	if err != nil {
		return domain.Progress{}, nil, err
	}
	failures, err := uc.progress.RecentFailures(ctx, uc.failureLimit)
	if err != nil {
		return domain.Progress{}, nil, err
	}
	return progress, failures, nil
}

// Failures lists the most recent failure log entries, newest first. A
// non-positive limit falls back to the default window.
func (uc *StatusUseCase) Failures(ctx context.Context, limit int) ([]domain.FailureEntry, error) {
	if limit <= 0 || limit > uc.failureLimit {
		limit = uc.failureLimit
	}
	return uc.progress.RecentFailures(ctx, limit)
}

func (uc *StatusUseCase) Filters(ctx context.Context) (domain.FilterValues, error) {
	return uc.repo.FilterValues(ctx)
}
