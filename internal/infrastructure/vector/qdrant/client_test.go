package qdrant

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/kbstack/kbsearch/internal/core/domain"
)

func TestPointIDIsDeterministic(t *testing.T) {
	a := pointID("2023_Lazio/relazione.pdf", 4)
	b := pointID("2023_Lazio/relazione.pdf", 4)
	c := pointID("2023_Lazio/relazione.pdf", 5)
	if a != b {
		t.Fatalf("same chunk produced different ids: %s vs %s", a, b)
	}
	if a == c {
		t.Fatalf("different chunks share id %s", a)
	}
}

func TestUpsertChunksSendsDeterministicPoints(t *testing.T) {
	var captured struct {
		Points []struct {
			ID      string         `json:"id"`
			Vector  []float32      `json:"vector"`
			Payload map[string]any `json:"payload"`
		} `json:"points"`
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, "/collections/kb_nomic_docs/points") {
			http.NotFound(w, r)
			return
		}
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}))
	defer server.Close()

	doc := &domain.Document{
		ID:    "2023_Lazio-SIO/offerta.pdf",
		Title: "offerta.pdf",
		Path:  "2023_Lazio-SIO/offerta.pdf",
		Ext:   ".pdf",
		Metadata: domain.Metadata{
			Area: "Gare", Year: 2023, Client: "Lazio", Subject: "SIO", Category: "Sanità",
		},
	}
	chunks := []domain.Chunk{
		{DocumentID: doc.ID, Ordinal: 0, Page: 1, Text: "prima parte"},
		{DocumentID: doc.ID, Ordinal: 1, Page: 2, Text: "seconda parte"},
	}
	vectors := [][]float32{{0.1, 0.2}, {0.3, 0.4}}

	err := New(server.URL).UpsertChunks(context.Background(), "kb_nomic_docs", doc, chunks, vectors)
	if err != nil {
		t.Fatalf("UpsertChunks() error = %v", err)
	}

	if len(captured.Points) != 2 {
		t.Fatalf("points = %d, want 2", len(captured.Points))
	}
	if captured.Points[0].ID != pointID(doc.ID, 0) {
		t.Fatalf("point id = %s, want deterministic id", captured.Points[0].ID)
	}
	payload := captured.Points[1].Payload
	if payload["doc_id"] != doc.ID || payload["text"] != "seconda parte" {
		t.Fatalf("unexpected payload: %v", payload)
	}
	if page, _ := payload["page"].(float64); page != 2 {
		t.Fatalf("page = %v, want 2", payload["page"])
	}
}

func TestUpsertChunksClearsStalePointsFirst(t *testing.T) {
	var paths []string
	var deleteFilter map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		if strings.HasSuffix(r.URL.Path, "/points/delete") {
			var body struct {
				Filter map[string]any `json:"filter"`
			}
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
				t.Fatalf("decode delete request: %v", err)
			}
			deleteFilter = body.Filter
		}
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}))
	defer server.Close()

	doc := &domain.Document{ID: "2023/relazione.pdf"}
	err := New(server.URL).UpsertChunks(context.Background(), "kb_nomic_docs",
		doc, []domain.Chunk{{Ordinal: 0, Text: "t"}}, [][]float32{{1, 2}})
	if err != nil {
		t.Fatalf("UpsertChunks() error = %v", err)
	}

	if len(paths) != 2 || !strings.HasSuffix(paths[0], "/points/delete") {
		t.Fatalf("requests = %v, want a delete before the upsert", paths)
	}
	must, _ := deleteFilter["must"].([]any)
	if len(must) != 1 {
		t.Fatalf("delete filter = %v", deleteFilter)
	}
	clause, _ := must[0].(map[string]any)
	match, _ := clause["match"].(map[string]any)
	if clause["key"] != "doc_id" || match["value"] != doc.ID {
		t.Fatalf("delete clause = %v", clause)
	}
}

func TestUpsertChunksLengthMismatch(t *testing.T) {
	doc := &domain.Document{ID: "doc"}
	err := New("http://unused").UpsertChunks(context.Background(), "c",
		doc, []domain.Chunk{{Ordinal: 0}}, nil)
	if err != nil {
		t.Fatalf("empty vectors must be a no-op, got %v", err)
	}

	err = New("http://unused").UpsertChunks(context.Background(), "c",
		doc, []domain.Chunk{{Ordinal: 0}, {Ordinal: 1}}, [][]float32{{1}})
	if err == nil || !strings.Contains(err.Error(), "mismatch") {
		t.Fatalf("err = %v, want mismatch error", err)
	}
}

func TestUpsertChunksWrapsRejection(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "wrong vector dimension", http.StatusBadRequest)
	}))
	defer server.Close()

	doc := &domain.Document{ID: "doc"}
	err := New(server.URL).UpsertChunks(context.Background(), "c",
		doc, []domain.Chunk{{Ordinal: 0, Text: "t"}}, [][]float32{{1, 2}})
	if !domain.IsKind(err, domain.ErrIndexWrite) {
		t.Fatalf("err = %v, want ErrIndexWrite", err)
	}
}

func TestSearchBuildsFilterAndMapsHits(t *testing.T) {
	var captured map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/collections/kb_nomic_docs/points/search" {
			http.NotFound(w, r)
			return
		}
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		_, _ = w.Write([]byte(`{"result":[
			{"score":0.91,"payload":{"doc_id":"d1","title":"relazione.pdf","path":"2023/relazione.pdf","text":"estratto","page":3,"year":2023,"client":"Lazio"}}
		]}`))
	}))
	defer server.Close()

	hits, err := New(server.URL).Search(context.Background(), "kb_nomic_docs",
		[]float32{0.1, 0.2}, 5,
		domain.SearchFilter{Year: 2023, Client: "Lazio"})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}

	filter, _ := captured["filter"].(map[string]any)
	must, _ := filter["must"].([]any)
	if len(must) != 2 {
		t.Fatalf("must clauses = %v, want year and client", filter)
	}

	if len(hits) != 1 {
		t.Fatalf("hits = %d, want 1", len(hits))
	}
	hit := hits[0]
	if hit.DocumentID != "d1" || hit.Page != 3 || hit.Source != domain.SourceVector {
		t.Fatalf("unexpected hit: %+v", hit)
	}
	if hit.Metadata.Year != 2023 || hit.Metadata.Client != "Lazio" {
		t.Fatalf("unexpected metadata: %+v", hit.Metadata)
	}
}

func TestEnsureCollectionTreatsConflictAsSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
	}))
	defer server.Close()

	if err := New(server.URL).EnsureCollection(context.Background(), "kb_nomic_docs", 768); err != nil {
		t.Fatalf("EnsureCollection() error = %v", err)
	}
}
