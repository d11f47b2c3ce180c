package usecase

import (
	"fmt"
	"testing"

	"github.com/kbstack/kbsearch/internal/core/domain"
)

func TestExtractVersionInfo(t *testing.T) {
	cases := []struct {
		filename string
		version  float64
		isFinal  bool
	}{
		{"Relazione_finale.pdf", finalVersion, true},
		{"Relazione_DEFINITIVA.pdf", finalVersion, true},
		{"Offerta_v2.1.docx", 2.1, false},
		{"Offerta_v03.pdf", 3, false},
		{"Piano rev 4.xlsx", 4, false},
		{"Capitolato (2).pdf", 2, false},
		{"Verbale_7.pdf", 7, false},
		{"Capitolato_tecnico.pdf", 0, false},
	}
	for _, tc := range cases {
		info := extractVersionInfo(tc.filename)
		if info.version != tc.version || info.isFinal != tc.isFinal {
			t.Fatalf("%s: got version=%v final=%v, want version=%v final=%v",
				tc.filename, info.version, info.isFinal, tc.version, tc.isFinal)
		}
	}
}

func TestBaseNameGroupsVersions(t *testing.T) {
	names := []string{
		"Relazione_v1.pdf",
		"Relazione_v2.pdf",
		"Relazione_finale.pdf",
		"Relazione v2.0.docx",
	}
	want := baseName(names[0])
	if want == "" {
		t.Fatalf("empty base name for %s", names[0])
	}
	for _, n := range names[1:] {
		if got := baseName(n); got != want {
			t.Fatalf("baseName(%s) = %q, want %q", n, got, want)
		}
	}
	if got := baseName("Capitolato_tecnico.pdf"); got == want {
		t.Fatalf("distinct document grouped with %q", want)
	}
}

func TestDeduplicateHitsFinalWins(t *testing.T) {
	hits := []domain.SearchHit{
		{DocumentID: "gare/Relazione_v2.pdf", Path: "gare/Relazione_v2.pdf", Score: 0.9},
		{DocumentID: "gare/Relazione_finale.pdf", Path: "gare/Relazione_finale.pdf", Score: 0.5},
	}
	out, removed := deduplicateHits(hits, true)
	if removed != 1 || len(out) != 1 {
		t.Fatalf("removed=%d len=%d", removed, len(out))
	}
	hit := out[0]
	if hit.DocumentID != "gare/Relazione_finale.pdf" {
		t.Fatalf("survivor = %s, want the final revision", hit.DocumentID)
	}
	if hit.Score != 0.9 {
		t.Fatalf("survivor must carry the group max score, got %v", hit.Score)
	}
	if hit.AlternateVersions != 1 {
		t.Fatalf("AlternateVersions = %d, want 1", hit.AlternateVersions)
	}
}

func TestDeduplicateHitsHigherVersionWins(t *testing.T) {
	hits := []domain.SearchHit{
		{DocumentID: "a/Offerta_v1.2.docx", Path: "a/Offerta_v1.2.docx", Score: 0.8},
		{DocumentID: "a/Offerta_v2.0.docx", Path: "a/Offerta_v2.0.docx", Score: 0.4},
	}
	out, removed := deduplicateHits(hits, true)
	if removed != 1 || len(out) != 1 {
		t.Fatalf("removed=%d len=%d", removed, len(out))
	}
	if out[0].DocumentID != "a/Offerta_v2.0.docx" {
		t.Fatalf("survivor = %s, want v2.0", out[0].DocumentID)
	}
}

func TestDeduplicateHitsPrefersPDFOnEqualVersion(t *testing.T) {
	hits := []domain.SearchHit{
		{DocumentID: "a/Contratto_v2.docx", Path: "a/Contratto_v2.docx", Score: 0.9},
		{DocumentID: "a/Contratto_v2.pdf", Path: "a/Contratto_v2.pdf", Score: 0.3},
	}
	out, _ := deduplicateHits(hits, true)
	if out[0].DocumentID != "a/Contratto_v2.pdf" {
		t.Fatalf("survivor = %s, want the pdf rendition", out[0].DocumentID)
	}

	out, _ = deduplicateHits(hits, false)
	if out[0].DocumentID != "a/Contratto_v2.docx" {
		t.Fatalf("without pdf preference the higher score wins, got %s", out[0].DocumentID)
	}
}

func TestDeduplicateHitsLeavesSingletonsAlone(t *testing.T) {
	hits := []domain.SearchHit{
		{DocumentID: "a/Capitolato.pdf", Path: "a/Capitolato.pdf", Score: 0.7},
		{DocumentID: "b/Verbale.pdf", Path: "b/Verbale.pdf", Score: 0.6},
	}
	out, removed := deduplicateHits(hits, true)
	if removed != 0 || len(out) != 2 {
		t.Fatalf("removed=%d len=%d", removed, len(out))
	}
	if out[0].AlternateVersions != 0 {
		t.Fatalf("singleton must not report alternates")
	}
}

func TestDeduplicateHitsThreePairsOutOfTwenty(t *testing.T) {
	hits := make([]domain.SearchHit, 0, 20)
	for i := 0; i < 14; i++ {
		p := fmt.Sprintf("docs/unico_%02d_capitolato.pdf", i)
		hits = append(hits, domain.SearchHit{DocumentID: p, Path: p, Score: 0.5})
	}
	pairs := [][2]string{
		{"docs/Relazione_v1.pdf", "docs/Relazione_v2.pdf"},
		{"docs/Piano_rev1.docx", "docs/Piano_rev2.docx"},
		{"docs/Offerta (1).pdf", "docs/Offerta (2).pdf"},
	}
	for _, pair := range pairs {
		hits = append(hits,
			domain.SearchHit{DocumentID: pair[0], Path: pair[0], Score: 0.6},
			domain.SearchHit{DocumentID: pair[1], Path: pair[1], Score: 0.55},
		)
	}

	out, removed := deduplicateHits(hits, true)
	if removed != 3 {
		t.Fatalf("removed = %d, want 3", removed)
	}
	if len(out) != 17 {
		t.Fatalf("len = %d, want 17", len(out))
	}
}

func TestDeduplicateHitsRanksLiftedSurvivors(t *testing.T) {
	hits := []domain.SearchHit{
		{DocumentID: "a/Verbale.pdf", Path: "a/Verbale.pdf", Score: 0.9},
		{DocumentID: "b/Relazione_finale.pdf", Path: "b/Relazione_finale.pdf", Score: 0.5},
		{DocumentID: "b/Relazione_v1.pdf", Path: "b/Relazione_v1.pdf", Score: 0.92},
	}
	out, removed := deduplicateHits(hits, true)
	if removed != 1 || len(out) != 2 {
		t.Fatalf("removed=%d len=%d", removed, len(out))
	}
	if out[0].DocumentID != "b/Relazione_finale.pdf" || out[0].Score != 0.92 {
		t.Fatalf("survivor must rank by its lifted score, got %+v", out[0])
	}
	if out[1].DocumentID != "a/Verbale.pdf" {
		t.Fatalf("position 1 = %s, want the lower-scored singleton", out[1].DocumentID)
	}
}

func TestDeduplicateHitsPreservesFirstSeenOrder(t *testing.T) {
	hits := []domain.SearchHit{
		{DocumentID: "x/First.pdf", Path: "x/First.pdf", Score: 0.9},
		{DocumentID: "y/Second_v1.pdf", Path: "y/Second_v1.pdf", Score: 0.8},
		{DocumentID: "z/Third.pdf", Path: "z/Third.pdf", Score: 0.7},
		{DocumentID: "y/Second_v2.pdf", Path: "y/Second_v2.pdf", Score: 0.6},
	}
	out, _ := deduplicateHits(hits, true)
	if len(out) != 3 {
		t.Fatalf("len = %d, want 3", len(out))
	}
	wantOrder := []string{"x/First.pdf", "y/Second_v2.pdf", "z/Third.pdf"}
	for i, id := range wantOrder {
		if out[i].DocumentID != id {
			t.Fatalf("position %d = %s, want %s", i, out[i].DocumentID, id)
		}
	}
}
