package meili

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/kbstack/kbsearch/internal/core/domain"
)

const indexUID = "kb_docs"

// Client is the keyword search backend, backed by Meilisearch.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

func New(baseURL, apiKey string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// document is the indexed shape. Meilisearch primary keys only allow
// [a-zA-Z0-9_-], so the path-based document ID is hashed and carried
// separately in doc_id.
type document struct {
	ID      string `json:"id"`
	DocID   string `json:"doc_id"`
	Title   string `json:"title"`
	Path    string `json:"path"`
	Content string `json:"content"`

	Area     string `json:"area,omitempty"`
	Year     int    `json:"year,omitempty"`
	Client   string `json:"client,omitempty"`
	Subject  string `json:"subject,omitempty"`
	DocType  string `json:"doc_type,omitempty"`
	Category string `json:"category,omitempty"`
	Ext      string `json:"ext,omitempty"`
	LotCode  string `json:"lot_code,omitempty"`
}

func documentKey(docID string) string {
	sum := sha256.Sum256([]byte(docID))
	return fmt.Sprintf("%x", sum[:16])
}

func (c *Client) EnsureIndex(ctx context.Context) error {
	createBody := map[string]any{
		"uid":        indexUID,
		"primaryKey": "id",
	}
	resp, err := c.doJSON(ctx, http.MethodPost, "/indexes", createBody, "create index")
	if err != nil {
		return err
	}
	// Index creation is a task; an existing index fails the task, not the
	// request. Either way the settings patch below is what matters.
	drain(resp)

	settings := map[string]any{
		"filterableAttributes": []string{"area", "year", "client", "subject", "doc_type", "category", "ext", "lot_code"},
		"sortableAttributes":   []string{"year"},
	}
	resp, err = c.doJSON(ctx, http.MethodPatch, "/indexes/"+indexUID+"/settings", settings, "update settings")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return statusError("update settings", resp)
	}
	return nil
}

func (c *Client) UpsertDocuments(ctx context.Context, docs []domain.LexicalDoc) error {
	if len(docs) == 0 {
		return nil
	}

	payload := make([]document, 0, len(docs))
	for _, d := range docs {
		payload = append(payload, document{
			ID:       documentKey(d.ID),
			DocID:    d.ID,
			Title:    d.Title,
			Path:     d.Path,
			Content:  d.Content,
			Area:     d.Metadata.Area,
			Year:     d.Metadata.Year,
			Client:   d.Metadata.Client,
			Subject:  d.Metadata.Subject,
			DocType:  d.Metadata.DocType,
			Category: d.Metadata.Category,
			Ext:      strings.ToLower(filepath.Ext(d.Path)),
			LotCode:  d.Metadata.LotCode,
		})
	}

	resp, err := c.doJSON(ctx, http.MethodPut, "/indexes/"+indexUID+"/documents", payload, "upsert documents")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return domain.WrapError(domain.ErrIndexWrite, "upsert documents", statusError("upsert documents", resp))
	}
	return nil
}

func (c *Client) Search(ctx context.Context, query string, limit int, filter domain.SearchFilter) ([]domain.SearchHit, error) {
	reqBody := map[string]any{
		"q":                query,
		"limit":            limit,
		"showRankingScore": true,
	}
	if expr := buildFilterExpr(filter); expr != "" {
		reqBody["filter"] = expr
	}

	resp, err := c.doJSON(ctx, http.MethodPost, "/indexes/"+indexUID+"/search", reqBody, "search")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, statusError("search", resp)
	}

	var searchResp struct {
		Hits []struct {
			document
			RankingScore float64 `json:"_rankingScore"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&searchResp); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}

	out := make([]domain.SearchHit, 0, len(searchResp.Hits))
	for _, h := range searchResp.Hits {
		out = append(out, domain.SearchHit{
			DocumentID: h.DocID,
			Title:      h.Title,
			Path:       h.Path,
			Snippet:    snippet(h.Content),
			Score:      h.RankingScore,
			Source:     domain.SourceLexical,
			Metadata: domain.Metadata{
				Area:     h.Area,
				Year:     h.Year,
				Client:   h.Client,
				Subject:  h.Subject,
				DocType:  h.DocType,
				Category: h.Category,
				LotCode:  h.LotCode,
			},
		})
	}
	return out, nil
}

const snippetRunes = 300

func snippet(content string) string {
	runes := []rune(content)
	if len(runes) <= snippetRunes {
		return content
	}
	return string(runes[:snippetRunes]) + "…"
}

// buildFilterExpr renders the structured filter in Meilisearch's filter
// syntax. String values are quoted with escaping.
func buildFilterExpr(filter domain.SearchFilter) string {
	var parts []string
	eq := func(key, value string) {
		parts = append(parts, fmt.Sprintf("%s = %s", key, quote(value)))
	}
	if filter.Area != "" {
		eq("area", filter.Area)
	}
	if filter.Year != 0 {
		parts = append(parts, fmt.Sprintf("year = %d", filter.Year))
	}
	if filter.Client != "" {
		eq("client", filter.Client)
	}
	if filter.Subject != "" {
		eq("subject", filter.Subject)
	}
	if filter.DocType != "" {
		eq("doc_type", filter.DocType)
	}
	if filter.Category != "" {
		eq("category", filter.Category)
	}
	if filter.Ext != "" {
		eq("ext", filter.Ext)
	}
	if filter.LotCode != "" {
		eq("lot_code", filter.LotCode)
	}
	return strings.Join(parts, " AND ")
}

func quote(value string) string {
	return `"` + strings.ReplaceAll(value, `"`, `\"`) + `"`
}

func (c *Client) doJSON(ctx context.Context, method, path string, payload any, operation string) (*http.Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s body: %w", operation, err)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create %s request: %w", operation, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("meilisearch %s request: %w", operation, err)
	}
	return resp, nil
}

func statusError(operation string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
	if msg := strings.TrimSpace(string(body)); msg != "" {
		return fmt.Errorf("meilisearch %s status: %s: %s", operation, resp.Status, msg)
	}
	return fmt.Errorf("meilisearch %s status: %s", operation, resp.Status)
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 2048))
	resp.Body.Close()
}
