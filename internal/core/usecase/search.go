package usecase

import (
	"context"
	"errors"
	"log/slog"

	"github.com/kbstack/kbsearch/internal/core/domain"
	"github.com/kbstack/kbsearch/internal/core/ports"
)

const (
	defaultTopK = 10
	maxTopK     = 50
	// Both backends are overfetched so date filtering and version dedup
	// still leave enough candidates to fill the requested page.
	overfetchFactor = 3
)

// SearchDeps wires the outbound ports of the query surface.
type SearchDeps struct {
	Lexical    ports.LexicalIndex
	Vector     ports.VectorIndex
	Dispatcher *EmbeddingDispatcher
}

// SearchUseCase runs the hybrid query pipeline: rewrite, parallel lexical and
// vector retrieval, max-score fusion, then the guarded post-processing steps.
type SearchUseCase struct {
	deps         SearchDeps
	models       domain.Models
	defaultModel string
	preferPDF    bool
	logger       *slog.Logger
}

func NewSearchUseCase(deps SearchDeps, models domain.Models, defaultModel string, preferPDF bool, logger *slog.Logger) *SearchUseCase {
	return &SearchUseCase{
		deps:         deps,
		models:       models,
		defaultModel: defaultModel,
		preferPDF:    preferPDF,
		logger:       logger,
	}
}

func (uc *SearchUseCase) Search(ctx context.Context, req domain.SearchRequest) (*domain.SearchResult, error) {
	if req.Query == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "search", errors.New("empty query"))
	}
	model := req.Model
	if model == "" {
		model = uc.defaultModel
	}
	cfg, err := uc.models.Lookup(model)
	if err != nil {
		return nil, err
	}
	topK := req.TopK
	if topK <= 0 {
		topK = defaultTopK
	}
	if topK > maxTopK {
		topK = maxTopK
	}
	fetchLimit := topK * overfetchFactor

	var dateFilter *domain.DateFilter
	cleaned := cleanQuery(req.Query, false)
	if req.SmartFilter {
		cleaned, dateFilter = rewriteQuery(req.Query)
	}
	if cleaned == "" {
		cleaned = req.Query
	}

	lexHits, lexErr := uc.deps.Lexical.Search(ctx, cleaned, fetchLimit, req.Filter)
	if lexErr != nil {
		uc.logger.Warn("lexical search failed, degrading to vector only",
			slog.String("error", lexErr.Error()))
		lexHits = nil
	}

	vecHits, vecErr := uc.vectorSearch(ctx, req.Query, cfg, fetchLimit, req.Filter)
	if vecErr != nil {
		uc.logger.Warn("vector search failed, degrading to lexical only",
			slog.String("error", vecErr.Error()))
		vecHits = nil
	}
	if lexErr != nil && vecErr != nil {
		return nil, domain.WrapError(domain.ErrTemporary, "search", errors.Join(lexErr, vecErr))
	}

	fused := fuseMax(lexHits, vecHits)
	hits, enhancement := uc.postProcess(fused, cleaned, dateFilter, req)

	total := len(hits)
	if len(hits) > topK {
		hits = hits[:topK]
	}
	return &domain.SearchResult{Hits: hits, Total: total, Enhancement: enhancement}, nil
}

// vectorSearch embeds the raw query text; stopword stripping would shift the
// embedding, so only the lexical side sees the cleaned form.
func (uc *SearchUseCase) vectorSearch(ctx context.Context, query string, cfg domain.ModelConfig, limit int, filter domain.SearchFilter) ([]domain.SearchHit, error) {
	vector, err := uc.deps.Dispatcher.EmbedQuery(ctx, query, cfg.Name)
	if err != nil {
		return nil, err
	}
	return uc.deps.Vector.Search(ctx, cfg.Collection, vector, limit, filter)
}

// postProcess applies the date constraint and version dedup. Any panic in
// this stage returns the fused hits unmodified, with no enhancement block, so
// a post-processing defect can degrade result quality but never lose results.
func (uc *SearchUseCase) postProcess(fused []domain.SearchHit, cleaned string, dateFilter *domain.DateFilter, req domain.SearchRequest) (hits []domain.SearchHit, enhancement *domain.Enhancement) {
	defer func() {
		if r := recover(); r != nil {
			uc.logger.Error("search post-processing panicked, returning raw results",
				slog.Any("panic", r))
			hits = fused
			enhancement = nil
		}
	}()

	hits = fused
	enhancement = &domain.Enhancement{CleanedQuery: cleaned, DateFilter: dateFilter}

	if req.SmartFilter && dateFilter != nil {
		kept := make([]domain.SearchHit, 0, len(hits))
		for _, hit := range hits {
			// Documents without a recognized year are kept; the constraint
			// can not be evaluated against them.
			if hit.Metadata.Year != 0 && !dateFilter.Matches(hit.Metadata.Year) {
				enhancement.RemovedByDate++
				continue
			}
			kept = append(kept, hit)
		}
		hits = kept
	}

	if req.Dedup {
		deduped, removed := deduplicateHits(hits, uc.preferPDF)
		hits = deduped
		enhancement.RemovedDuplicates = removed
	}
	return hits, enhancement
}
