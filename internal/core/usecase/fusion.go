package usecase

import (
	"sort"

	"github.com/kbstack/kbsearch/internal/core/domain"
)

const absentRank = 1 << 30

type fusedCandidate struct {
	hit     domain.SearchHit
	lexRank int
	vecRank int
}

// fuseMax merges lexical and vector candidate lists by document identity.
// Where both backends return the same document the higher normalized score
// wins; ties rank exact lexical matches above semantic-only neighbors.
func fuseMax(lexical, vector []domain.SearchHit) []domain.SearchHit {
	acc := make(map[string]*fusedCandidate, len(lexical)+len(vector))
	order := make([]string, 0, len(lexical)+len(vector))

	for rank, hit := range lexical {
		hit.Source = domain.SourceLexical
		acc[hit.DocumentID] = &fusedCandidate{hit: hit, lexRank: rank, vecRank: absentRank}
		order = append(order, hit.DocumentID)
	}
	for rank, hit := range vector {
		existing, ok := acc[hit.DocumentID]
		if !ok {
			hit.Source = domain.SourceVector
			acc[hit.DocumentID] = &fusedCandidate{hit: hit, lexRank: absentRank, vecRank: rank}
			order = append(order, hit.DocumentID)
			continue
		}
		existing.vecRank = rank
		existing.hit = mergeHit(existing.hit, hit)
	}

	out := make([]domain.SearchHit, 0, len(order))
	ranks := make(map[string]int, len(order))
	for _, id := range order {
		c := acc[id]
		out = append(out, c.hit)
		ranks[id] = c.lexRank
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		// Exact term matches are the stronger signal for this corpus.
		ri, rj := ranks[out[i].DocumentID], ranks[out[j].DocumentID]
		if ri != rj {
			return ri < rj
		}
		return out[i].DocumentID < out[j].DocumentID
	})
	return out
}

// mergeHit combines the lexical and vector views of one document: max score,
// lexical snippet and metadata preferred, citation page from the vector side.
func mergeHit(lex, vec domain.SearchHit) domain.SearchHit {
	merged := lex
	merged.Source = domain.SourceBoth
	if vec.Score > merged.Score {
		merged.Score = vec.Score
	}
	if merged.Snippet == "" {
		merged.Snippet = vec.Snippet
	}
	if merged.Page == 0 {
		merged.Page = vec.Page
	}
	if merged.Metadata == (domain.Metadata{}) {
		merged.Metadata = vec.Metadata
	}
	if merged.Title == "" {
		merged.Title = vec.Title
	}
	if merged.Path == "" {
		merged.Path = vec.Path
	}
	return merged
}
