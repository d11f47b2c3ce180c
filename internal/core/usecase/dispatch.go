package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/kbstack/kbsearch/internal/core/domain"
	"github.com/kbstack/kbsearch/internal/core/ports"
)

const (
	acceleratedBatchSize = 48
	cpuBatchSize         = 16
)

// EmbeddingDispatcher serializes access to the embedding backend and adapts
// the batch size to the device the process was probed on at startup. When the
// accelerator runs out of memory mid-run it halves the batch once, and if
// that still fails it drops to CPU batching for the rest of the process.
type EmbeddingDispatcher struct {
	embedder ports.Embedder
	models   domain.Models
	logger   *slog.Logger

	mu          sync.Mutex
	accelerated bool
	batchSize   int
}

func NewEmbeddingDispatcher(embedder ports.Embedder, models domain.Models, capability domain.DeviceCapability, logger *slog.Logger) *EmbeddingDispatcher {
	d := &EmbeddingDispatcher{
		embedder:    embedder,
		models:      models,
		logger:      logger,
		accelerated: capability.Accelerated,
		batchSize:   cpuBatchSize,
	}
	if capability.Accelerated {
		d.batchSize = acceleratedBatchSize
	}
	return d
}

// EmbedTexts embeds all texts in device-sized batches and returns one vector
// per input, in order. Every vector is validated against the model's declared
// dimensionality before it is returned.
func (d *EmbeddingDispatcher) EmbedTexts(ctx context.Context, texts []string, model string) ([][]float32, error) {
	cfg, err := d.models.Lookup(model)
	if err != nil {
		return nil, err
	}
	if len(texts) == 0 {
		return nil, nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); {
		size := d.batchSize
		if start+size > len(texts) {
			size = len(texts) - start
		}
		vectors, err := d.embedBatch(ctx, texts[start:start+size], cfg)
		if err != nil {
			return nil, err
		}
		out = append(out, vectors...)
		start += size
	}
	return out, nil
}

// EmbedQuery embeds a single query string with the same dimension validation
// as the ingestion path.
func (d *EmbeddingDispatcher) EmbedQuery(ctx context.Context, text, model string) ([]float32, error) {
	cfg, err := d.models.Lookup(model)
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	vector, err := d.embedder.EmbedQuery(ctx, text, cfg.Name)
	if err != nil {
		return nil, err
	}
	if len(vector) != cfg.Dimension {
		return nil, domain.WrapError(domain.ErrDimensionMismatch, "embed query",
			fmt.Errorf("model %s returned %d dims, want %d", cfg.Name, len(vector), cfg.Dimension))
	}
	return vector, nil
}

// Accelerated reports whether the dispatcher is still using the accelerator.
func (d *EmbeddingDispatcher) Accelerated() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.accelerated
}

// embedBatch runs one batch with the out-of-memory recovery ladder: one
// halving retry on the accelerator, then a permanent drop to CPU batching.
// Callers hold d.mu.
func (d *EmbeddingDispatcher) embedBatch(ctx context.Context, texts []string, cfg domain.ModelConfig) ([][]float32, error) {
	vectors, err := d.callEmbedder(ctx, texts, cfg)
	if err == nil {
		return vectors, nil
	}
	if !domain.IsKind(err, domain.ErrDeviceExhausted) || !d.accelerated {
		return nil, err
	}

	d.batchSize /= 2
	if d.batchSize < 1 {
		d.batchSize = 1
	}
	d.logger.Warn("accelerator memory exhausted, retrying with halved batch",
		slog.String("model", cfg.Name), slog.Int("batch_size", d.batchSize))
	vectors, err = d.embedSplit(ctx, texts, cfg)
	if err == nil {
		return vectors, nil
	}
	if !domain.IsKind(err, domain.ErrDeviceExhausted) {
		return nil, err
	}

	d.accelerated = false
	d.batchSize = cpuBatchSize
	d.logger.Warn("accelerator still exhausted, switching to cpu batching",
		slog.String("model", cfg.Name))
	if relErr := d.embedder.Release(ctx, cfg.Name); relErr != nil {
		d.logger.Debug("model release failed", slog.String("error", relErr.Error()))
	}
	return d.embedSplit(ctx, texts, cfg)
}

// embedSplit re-runs texts in sub-batches of the current batch size.
func (d *EmbeddingDispatcher) embedSplit(ctx context.Context, texts []string, cfg domain.ModelConfig) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); {
		size := d.batchSize
		if start+size > len(texts) {
			size = len(texts) - start
		}
		vectors, err := d.callEmbedder(ctx, texts[start:start+size], cfg)
		if err != nil {
			return nil, err
		}
		out = append(out, vectors...)
		start += size
	}
	return out, nil
}

// callEmbedder performs one backend call, validates dimensionality and, on
// the accelerator, releases model memory so concurrent models can not pin
// the device between batches.
func (d *EmbeddingDispatcher) callEmbedder(ctx context.Context, texts []string, cfg domain.ModelConfig) ([][]float32, error) {
	vectors, err := d.embedder.Embed(ctx, texts, cfg.Name)
	if err != nil {
		return nil, err
	}
	if len(vectors) != len(texts) {
		return nil, domain.WrapError(domain.ErrDimensionMismatch, "embed batch",
			fmt.Errorf("model %s returned %d vectors for %d texts", cfg.Name, len(vectors), len(texts)))
	}
	for _, v := range vectors {
		if len(v) != cfg.Dimension {
			return nil, domain.WrapError(domain.ErrDimensionMismatch, "embed batch",
				fmt.Errorf("model %s returned %d dims, want %d", cfg.Name, len(v), cfg.Dimension))
		}
	}
	if d.accelerated {
		if err := d.embedder.Release(ctx, cfg.Name); err != nil {
			d.logger.Debug("model release failed", slog.String("error", err.Error()))
		}
	}
	return vectors, nil
}
