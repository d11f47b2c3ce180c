package usecase

import (
	"testing"

	"github.com/kbstack/kbsearch/internal/core/domain"
)

func TestExtractDateFilterFromOnward(t *testing.T) {
	filter := extractDateFilter("report dal 2021 in poi")
	if filter == nil {
		t.Fatalf("expected a date filter")
	}
	if filter.Type != domain.DateFrom || filter.Year != 2021 {
		t.Fatalf("expected from/2021, got %s/%d", filter.Type, filter.Year)
	}
}

func TestExtractDateFilterAfter(t *testing.T) {
	filter := extractDateFilter("offerte dopo il 2022")
	if filter == nil {
		t.Fatalf("expected a date filter")
	}
	if filter.Type != domain.DateAfter || filter.Year != 2022 {
		t.Fatalf("expected after/2022, got %s/%d", filter.Type, filter.Year)
	}
}

func TestExtractDateFilterBetween(t *testing.T) {
	filter := extractDateFilter("progetti tra 2020 e 2023")
	if filter == nil {
		t.Fatalf("expected a date filter")
	}
	if filter.Type != domain.DateBetween || filter.Year != 2020 || filter.YearEnd != 2023 {
		t.Fatalf("expected between/2020-2023, got %+v", filter)
	}
}

func TestExtractDateFilterNone(t *testing.T) {
	if filter := extractDateFilter("capitolato tecnico fibra ottica"); filter != nil {
		t.Fatalf("expected no filter, got %+v", filter)
	}
}

func TestExtractDateFilterFirstMatchWins(t *testing.T) {
	// Two temporal phrases: the rule order fixes which one is honored.
	filter := extractDateFilter("gare dal 2019 ma prima del 2022")
	if filter == nil {
		t.Fatalf("expected a date filter")
	}
	if filter.Type != domain.DateFrom || filter.Year != 2019 {
		t.Fatalf("expected first rule (from/2019), got %s/%d", filter.Type, filter.Year)
	}
}

func TestCleanQueryRemovesStopwordsAndDates(t *testing.T) {
	got := cleanQuery("il piano operativo per la rete dal 2021 in poi", true)
	want := "piano operativo rete"
	if got != want {
		t.Fatalf("cleanQuery = %q, want %q", got, want)
	}
}

func TestCleanQueryKeepsYearWhenNoDateFilter(t *testing.T) {
	got := cleanQuery("report di analisi 2023", false)
	want := "report analisi 2023"
	if got != want {
		t.Fatalf("cleanQuery = %q, want %q", got, want)
	}
}

func TestRewriteQuery(t *testing.T) {
	cleaned, filter := rewriteQuery("le offerte tecniche dopo il 2022")
	if filter == nil || filter.Type != domain.DateAfter {
		t.Fatalf("expected after filter, got %+v", filter)
	}
	if cleaned != "offerte tecniche" {
		t.Fatalf("cleaned = %q", cleaned)
	}
}
