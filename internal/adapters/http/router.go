package httpadapter

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/kbstack/kbsearch/internal/core/domain"
	"github.com/kbstack/kbsearch/internal/core/ports"
	"github.com/kbstack/kbsearch/internal/core/usecase"
	"github.com/kbstack/kbsearch/internal/observability/metrics"
)

type Router struct {
	search ports.SearchService
	status *usecase.StatusUseCase
	queue  ports.JobQueue
	logger *slog.Logger

	rateLimit RateLimitConfig

	metrics *metrics.HTTPServerMetrics
	service string
}

func NewRouter(
	search ports.SearchService,
	status *usecase.StatusUseCase,
	queue ports.JobQueue,
	logger *slog.Logger,
	rateLimit RateLimitConfig,
) *Router {
	return &Router{
		search:    search,
		status:    status,
		queue:     queue,
		logger:    logger,
		rateLimit: rateLimit,
	}
}

// WithMetrics attaches the Prometheus collectors. Without it the router
// serves requests unmetered.
func (rt *Router) WithMetrics(m *metrics.HTTPServerMetrics, service string) *Router {
	rt.metrics = m
	rt.service = service
	return rt
}

func (rt *Router) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", rt.healthz)
	mux.HandleFunc("/v1/search", rt.postSearch)
	mux.HandleFunc("/v1/progress", rt.getProgress)
	mux.HandleFunc("/v1/failures", rt.getFailures)
	mux.HandleFunc("/v1/filters", rt.getFilters)
	mux.HandleFunc("/v1/ingestion/jobs", rt.postIngestionJob)

	handler := rateLimitMiddleware(mux, rt.rateLimit)
	if rt.metrics != nil {
		handler = rt.metrics.Middleware(rt.service, handler)
	}
	handler = accessLogMiddleware(handler, rt.logger)
	handler = requestIDMiddleware(handler)
	return handler
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (rt *Router) postSearch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	var req struct {
		Query       string `json:"query"`
		Model       string `json:"model"`
		TopK        int    `json:"top_k"`
		Dedup       *bool  `json:"dedup"`
		SmartFilter bool   `json:"smart_filter"`
		Filter      struct {
			Area     string `json:"area"`
			Year     int    `json:"year"`
			Client   string `json:"client"`
			Subject  string `json:"subject"`
			DocType  string `json:"doc_type"`
			Category string `json:"category"`
			Ext      string `json:"ext"`
			LotCode  string `json:"lot_code"`
		} `json:"filter"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "query is required"})
		return
	}

	// Dedup defaults on; an explicit false disables it.
	dedup := true
	if req.Dedup != nil {
		dedup = *req.Dedup
	}

	start := time.Now()
	result, err := rt.search.Search(r.Context(), domain.SearchRequest{
		Query:       req.Query,
		Model:       req.Model,
		TopK:        req.TopK,
		Dedup:       dedup,
		SmartFilter: req.SmartFilter,
		Filter: domain.SearchFilter{
			Area:     req.Filter.Area,
			Year:     req.Filter.Year,
			Client:   req.Filter.Client,
			Subject:  req.Filter.Subject,
			DocType:  req.Filter.DocType,
			Category: req.Filter.Category,
			Ext:      req.Filter.Ext,
			LotCode:  req.Filter.LotCode,
		},
	})
	if err != nil {
		rt.writeError(w, r, err)
		return
	}

	if rt.metrics != nil {
		rt.metrics.RecordSearch(rt.service, len(result.Hits), time.Since(start))
		if result.Enhancement != nil {
			rt.metrics.RecordDedupRemoved(rt.service, result.Enhancement.RemovedDuplicates)
			if result.Enhancement.DateFilter != nil {
				rt.metrics.RecordDateFilter(rt.service, string(result.Enhancement.DateFilter.Type))
			}
		}
	}
	writeJSON(w, http.StatusOK, result)
}

func (rt *Router) getProgress(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	progress, failures, err := rt.status.Snapshot(r.Context())
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"progress":        progress,
		"recent_failures": failures,
	})
}

func (rt *Router) getFailures(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "limit must be a non-negative integer"})
			return
		}
		limit = n
	}

	failures, err := rt.status.Failures(r.Context(), limit)
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	if failures == nil {
		failures = []domain.FailureEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"failures": failures})
}

func (rt *Router) getFilters(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	values, err := rt.status.Filters(r.Context())
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, values)
}

func (rt *Router) postIngestionJob(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	var job domain.IngestionJob
	if err := json.NewDecoder(r.Body).Decode(&job); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	if job.Mode == "" {
		job.Mode = domain.ModeIncremental
	}
	if err := job.Validate(); err != nil {
		rt.writeError(w, r, err)
		return
	}

	if err := rt.queue.PublishIngestionJob(r.Context(), job); err != nil {
		rt.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, job)
}

func (rt *Router) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := mapErrorToHTTPStatus(err)
	if status >= 500 {
		rt.logger.Error("request failed",
			slog.String("request_id", requestIDFromContext(r.Context())),
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()))
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
