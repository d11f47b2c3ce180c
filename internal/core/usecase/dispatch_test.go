package usecase

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/kbstack/kbsearch/internal/core/domain"
)

type stubEmbedder struct {
	dim      int
	failures int
	batches  []int
	released int
}

func (s *stubEmbedder) Embed(_ context.Context, texts []string, _ string) ([][]float32, error) {
	s.batches = append(s.batches, len(texts))
	if s.failures > 0 {
		s.failures--
		return nil, domain.WrapError(domain.ErrDeviceExhausted, "embed", errors.New("out of memory"))
	}
	out := make([][]float32, len(texts))
	for i := range out {
		out[i] = make([]float32, s.dim)
	}
	return out, nil
}

func (s *stubEmbedder) EmbedQuery(_ context.Context, _ string, _ string) ([]float32, error) {
	return make([]float32, s.dim), nil
}

func (s *stubEmbedder) Release(_ context.Context, _ string) error {
	s.released++
	return nil
}

func testModels() domain.Models {
	return domain.Models{"tiny": {Name: "tiny", Dimension: 4, Collection: "kb_tiny_docs"}}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func makeTexts(n int) []string {
	texts := make([]string, n)
	for i := range texts {
		texts[i] = "chunk"
	}
	return texts
}

func TestEmbedTextsAcceleratedBatchSize(t *testing.T) {
	stub := &stubEmbedder{dim: 4}
	d := NewEmbeddingDispatcher(stub, testModels(), domain.DeviceCapability{Accelerated: true}, testLogger())

	vectors, err := d.EmbedTexts(context.Background(), makeTexts(100), "tiny")
	if err != nil {
		t.Fatalf("EmbedTexts: %v", err)
	}
	if len(vectors) != 100 {
		t.Fatalf("expected 100 vectors, got %d", len(vectors))
	}
	want := []int{48, 48, 4}
	if len(stub.batches) != len(want) {
		t.Fatalf("batches = %v, want %v", stub.batches, want)
	}
	for i, n := range want {
		if stub.batches[i] != n {
			t.Fatalf("batches = %v, want %v", stub.batches, want)
		}
	}
	if stub.released != 3 {
		t.Fatalf("expected a release per accelerated batch, got %d", stub.released)
	}
}

func TestEmbedTextsCPUBatchSize(t *testing.T) {
	stub := &stubEmbedder{dim: 4}
	d := NewEmbeddingDispatcher(stub, testModels(), domain.DeviceCapability{}, testLogger())

	if _, err := d.EmbedTexts(context.Background(), makeTexts(40), "tiny"); err != nil {
		t.Fatalf("EmbedTexts: %v", err)
	}
	want := []int{16, 16, 8}
	for i, n := range want {
		if stub.batches[i] != n {
			t.Fatalf("batches = %v, want %v", stub.batches, want)
		}
	}
	if stub.released != 0 {
		t.Fatalf("cpu batches must not release the model, got %d releases", stub.released)
	}
}

func TestEmbedTextsHalvesBatchOnExhaustion(t *testing.T) {
	stub := &stubEmbedder{dim: 4, failures: 1}
	d := NewEmbeddingDispatcher(stub, testModels(), domain.DeviceCapability{Accelerated: true}, testLogger())

	vectors, err := d.EmbedTexts(context.Background(), makeTexts(48), "tiny")
	if err != nil {
		t.Fatalf("EmbedTexts: %v", err)
	}
	if len(vectors) != 48 {
		t.Fatalf("expected 48 vectors, got %d", len(vectors))
	}
	want := []int{48, 24, 24}
	for i, n := range want {
		if stub.batches[i] != n {
			t.Fatalf("batches = %v, want %v", stub.batches, want)
		}
	}
	if !d.Accelerated() {
		t.Fatalf("one recoverable exhaustion must not drop to cpu")
	}
}

func TestEmbedTextsFallsBackToCPU(t *testing.T) {
	stub := &stubEmbedder{dim: 4, failures: 2}
	d := NewEmbeddingDispatcher(stub, testModels(), domain.DeviceCapability{Accelerated: true}, testLogger())

	vectors, err := d.EmbedTexts(context.Background(), makeTexts(48), "tiny")
	if err != nil {
		t.Fatalf("EmbedTexts: %v", err)
	}
	if len(vectors) != 48 {
		t.Fatalf("expected 48 vectors, got %d", len(vectors))
	}
	want := []int{48, 24, 16, 16, 16}
	if len(stub.batches) != len(want) {
		t.Fatalf("batches = %v, want %v", stub.batches, want)
	}
	for i, n := range want {
		if stub.batches[i] != n {
			t.Fatalf("batches = %v, want %v", stub.batches, want)
		}
	}
	if d.Accelerated() {
		t.Fatalf("expected permanent cpu fallback")
	}

	// Later calls stay on cpu batching.
	stub.batches = nil
	if _, err := d.EmbedTexts(context.Background(), makeTexts(20), "tiny"); err != nil {
		t.Fatalf("EmbedTexts after fallback: %v", err)
	}
	if stub.batches[0] != 16 {
		t.Fatalf("post-fallback batches = %v", stub.batches)
	}
}

func TestEmbedTextsDimensionMismatch(t *testing.T) {
	stub := &stubEmbedder{dim: 3}
	d := NewEmbeddingDispatcher(stub, testModels(), domain.DeviceCapability{}, testLogger())

	_, err := d.EmbedTexts(context.Background(), makeTexts(2), "tiny")
	if !domain.IsKind(err, domain.ErrDimensionMismatch) {
		t.Fatalf("expected dimension mismatch, got %v", err)
	}
}

func TestEmbedQueryDimensionChecked(t *testing.T) {
	stub := &stubEmbedder{dim: 3}
	d := NewEmbeddingDispatcher(stub, testModels(), domain.DeviceCapability{}, testLogger())

	if _, err := d.EmbedQuery(context.Background(), "query", "tiny"); !domain.IsKind(err, domain.ErrDimensionMismatch) {
		t.Fatalf("expected dimension mismatch, got %v", err)
	}

	stub.dim = 4
	vec, err := d.EmbedQuery(context.Background(), "query", "tiny")
	if err != nil {
		t.Fatalf("EmbedQuery: %v", err)
	}
	if len(vec) != 4 {
		t.Fatalf("expected 4 dims, got %d", len(vec))
	}
}

func TestEmbedTextsUnknownModel(t *testing.T) {
	d := NewEmbeddingDispatcher(&stubEmbedder{dim: 4}, testModels(), domain.DeviceCapability{}, testLogger())
	if _, err := d.EmbedTexts(context.Background(), makeTexts(1), "nope"); !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}
