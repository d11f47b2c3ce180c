package ollama

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/kbstack/kbsearch/internal/core/domain"
	"github.com/kbstack/kbsearch/internal/infrastructure/resilience"
)

// Client talks to an Ollama server for embeddings. The model is a per-call
// parameter because the ingestion side serves several registered models.
type Client struct {
	baseURL    string
	httpClient *http.Client
	executor   *resilience.Executor
}

func New(baseURL string, executor *resilience.Executor) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 120 * time.Second},
		executor:   executor,
	}
}

func (c *Client) Embed(ctx context.Context, texts []string, model string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	request := map[string]any{
		"model": model,
		"input": texts,
	}

	var response struct {
		Embeddings [][]float32 `json:"embeddings"`
	}
	err := c.executor.Execute(ctx, "embed", func(ctx context.Context) error {
		return c.postJSON(ctx, "/api/embed", request, &response, "embed")
	}, classifyEmbedError)
	if err != nil {
		return nil, translateEmbedError("embed", err)
	}
	return response.Embeddings, nil
}

func (c *Client) EmbedQuery(ctx context.Context, text, model string) ([]float32, error) {
	vectors, err := c.Embed(ctx, []string{text}, model)
	if err != nil {
		return nil, err
	}
	if len(vectors) == 0 {
		return nil, fmt.Errorf("empty embedding result")
	}
	return vectors[0], nil
}

// Release asks the server to unload the model immediately, freeing
// accelerator memory for whatever runs next.
func (c *Client) Release(ctx context.Context, model string) error {
	request := map[string]any{
		"model":      model,
		"keep_alive": 0,
	}

	var response struct{}
	err := c.postJSON(ctx, "/api/generate", request, &response, "release")
	if err != nil {
		return fmt.Errorf("release model %s: %w", model, err)
	}
	return nil
}

// translateEmbedError maps transport failures onto the semantic kinds the
// ingestion pipeline reacts to. Out-of-memory answers must surface as
// device exhaustion so the batch ladder can shrink instead of retrying.
func translateEmbedError(operation string, err error) error {
	if err == nil {
		return nil
	}
	if isDeviceExhausted(err) {
		return domain.WrapError(domain.ErrDeviceExhausted, operation, err)
	}
	class := classifyEmbedError(err)
	if class.Retryable || resilience.IsCircuitOpen(err) {
		return domain.WrapError(domain.ErrTemporary, operation, err)
	}
	return err
}
