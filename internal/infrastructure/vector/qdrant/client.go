package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kbstack/kbsearch/internal/core/domain"
)

// Client is the vector index backend. Collections are a per-call parameter
// because each embedding model owns its own collection.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

func New(baseURL string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

func (c *Client) EnsureCollection(ctx context.Context, collection string, dimension int) error {
	reqBody := map[string]any{
		"vectors": map[string]any{
			"size":     dimension,
			"distance": "Cosine",
		},
	}

	url := fmt.Sprintf("%s/collections/%s", c.baseURL, collection)
	resp, err := c.doJSON(ctx, http.MethodPut, url, reqBody, "ensure collection")
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	// 200/201 for create, 409 when the collection already exists.
	if resp.StatusCode == http.StatusConflict {
		return nil
	}
	if resp.StatusCode >= 300 {
		return statusError("ensure collection", resp)
	}
	return nil
}

// pointID derives a stable UUID from document and chunk identity, so a
// re-indexed chunk lands on the same point instead of a new one.
func pointID(documentID string, ordinal int) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(documentID+"#"+strconv.Itoa(ordinal))).String()
}

func (c *Client) UpsertChunks(
	ctx context.Context,
	collection string,
	doc *domain.Document,
	chunks []domain.Chunk,
	vectors [][]float32,
) error {
	if len(chunks) == 0 || len(vectors) == 0 {
		return nil
	}
	if len(chunks) != len(vectors) {
		return fmt.Errorf("chunks/vectors mismatch: %d vs %d", len(chunks), len(vectors))
	}

	// A re-chunked document can shrink; higher-ordinal points from the
	// previous version are not covered by the upsert, so clear them first.
	if err := c.deletePoints(ctx, collection, doc.ID); err != nil {
		return err
	}

	type point struct {
		ID      string         `json:"id"`
		Vector  []float32      `json:"vector"`
		Payload map[string]any `json:"payload"`
	}

	points := make([]point, 0, len(chunks))
	for i, chunk := range chunks {
		points = append(points, point{
			ID:     pointID(doc.ID, chunk.Ordinal),
			Vector: vectors[i],
			Payload: map[string]any{
				"doc_id":   doc.ID,
				"title":    doc.Title,
				"path":     doc.Path,
				"ext":      doc.Ext,
				"ordinal":  chunk.Ordinal,
				"page":     chunk.Page,
				"text":     chunk.Text,
				"area":     doc.Metadata.Area,
				"year":     doc.Metadata.Year,
				"client":   doc.Metadata.Client,
				"subject":  doc.Metadata.Subject,
				"doc_type": doc.Metadata.DocType,
				"category": doc.Metadata.Category,
				"lot_code": doc.Metadata.LotCode,
			},
		})
	}

	url := fmt.Sprintf("%s/collections/%s/points?wait=true", c.baseURL, collection)
	resp, err := c.doJSON(ctx, http.MethodPut, url, map[string]any{"points": points}, "upsert")
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return domain.WrapError(domain.ErrIndexWrite, "upsert points", statusError("upsert", resp))
	}
	return nil
}

func (c *Client) deletePoints(ctx context.Context, collection, documentID string) error {
	reqBody := map[string]any{
		"filter": map[string]any{
			"must": []map[string]any{
				{"key": "doc_id", "match": map[string]any{"value": documentID}},
			},
		},
	}

	url := fmt.Sprintf("%s/collections/%s/points/delete?wait=true", c.baseURL, collection)
	resp, err := c.doJSON(ctx, http.MethodPost, url, reqBody, "delete points")
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return domain.WrapError(domain.ErrIndexWrite, "delete points", statusError("delete points", resp))
	}
	return nil
}

func (c *Client) Search(
	ctx context.Context,
	collection string,
	queryVector []float32,
	limit int,
	filter domain.SearchFilter,
) ([]domain.SearchHit, error) {
	reqBody := map[string]any{
		"vector":       queryVector,
		"limit":        limit,
		"with_payload": true,
	}
	if must := buildMustClauses(filter); len(must) > 0 {
		reqBody["filter"] = map[string]any{"must": must}
	}

	url := fmt.Sprintf("%s/collections/%s/points/search", c.baseURL, collection)
	resp, err := c.doJSON(ctx, http.MethodPost, url, reqBody, "search")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return nil, statusError("search", resp)
	}

	var searchResp struct {
		Result []struct {
			Score   float64        `json:"score"`
			Payload map[string]any `json:"payload"`
		} `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&searchResp); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}

	out := make([]domain.SearchHit, 0, len(searchResp.Result))
	for _, r := range searchResp.Result {
		out = append(out, domain.SearchHit{
			DocumentID: payloadString(r.Payload, "doc_id"),
			Title:      payloadString(r.Payload, "title"),
			Path:       payloadString(r.Payload, "path"),
			Snippet:    payloadString(r.Payload, "text"),
			Page:       payloadInt(r.Payload, "page"),
			Score:      r.Score,
			Source:     domain.SourceVector,
			Metadata: domain.Metadata{
				Area:     payloadString(r.Payload, "area"),
				Year:     payloadInt(r.Payload, "year"),
				Client:   payloadString(r.Payload, "client"),
				Subject:  payloadString(r.Payload, "subject"),
				DocType:  payloadString(r.Payload, "doc_type"),
				Category: payloadString(r.Payload, "category"),
				LotCode:  payloadString(r.Payload, "lot_code"),
			},
		})
	}
	return out, nil
}

func buildMustClauses(filter domain.SearchFilter) []map[string]any {
	var must []map[string]any
	match := func(key string, value any) {
		must = append(must, map[string]any{
			"key":   key,
			"match": map[string]any{"value": value},
		})
	}
	if filter.Area != "" {
		match("area", filter.Area)
	}
	if filter.Year != 0 {
		match("year", filter.Year)
	}
	if filter.Client != "" {
		match("client", filter.Client)
	}
	if filter.Subject != "" {
		match("subject", filter.Subject)
	}
	if filter.DocType != "" {
		match("doc_type", filter.DocType)
	}
	if filter.Category != "" {
		match("category", filter.Category)
	}
	if filter.Ext != "" {
		match("ext", filter.Ext)
	}
	if filter.LotCode != "" {
		match("lot_code", filter.LotCode)
	}
	return must
}

func (c *Client) doJSON(ctx context.Context, method, url string, payload any, operation string) (*http.Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s body: %w", operation, err)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create %s request: %w", operation, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("qdrant %s request: %w", operation, err)
	}
	return resp, nil
}

func statusError(operation string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
	if msg := strings.TrimSpace(string(body)); msg != "" {
		return fmt.Errorf("qdrant %s status: %s: %s", operation, resp.Status, msg)
	}
	return fmt.Errorf("qdrant %s status: %s", operation, resp.Status)
}

func payloadString(payload map[string]any, key string) string {
	v, ok := payload[key]
	if !ok || v == nil {
		return ""
	}
	s, ok := v.(string)
	if ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

func payloadInt(payload map[string]any, key string) int {
	v, ok := payload[key]
	if !ok {
		return 0
	}
	switch n := v.(type) {
	case float64:
		return int(n)
	case int:
		return n
	default:
		return 0
	}
}
