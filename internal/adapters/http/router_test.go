package httpadapter

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/kbstack/kbsearch/internal/core/domain"
	"github.com/kbstack/kbsearch/internal/core/usecase"
)

type fakeSearch struct {
	gotReq domain.SearchRequest
	result *domain.SearchResult
	err    error
}

func (f *fakeSearch) Search(_ context.Context, req domain.SearchRequest) (*domain.SearchResult, error) {
	f.gotReq = req
	return f.result, f.err
}

type fakeProgressStore struct {
	progress domain.Progress
	failures []domain.FailureEntry
	gotLimit int
}

func (f *fakeProgressStore) SaveProgress(context.Context, domain.Progress) error { return nil }
func (f *fakeProgressStore) LoadProgress(context.Context) (domain.Progress, error) {
	return f.progress, nil
}
func (f *fakeProgressStore) AppendFailure(context.Context, domain.FailureEntry) error { return nil }
func (f *fakeProgressStore) RecentFailures(_ context.Context, limit int) ([]domain.FailureEntry, error) {
	f.gotLimit = limit
	if limit < len(f.failures) {
		return f.failures[:limit], nil
	}
	return f.failures, nil
}

type fakeRepo struct {
	values domain.FilterValues
}

func (f *fakeRepo) Upsert(context.Context, *domain.Document) error { return nil }
func (f *fakeRepo) GetByID(context.Context, string) (*domain.Document, error) {
	return nil, domain.WrapError(domain.ErrDocumentNotFound, "get", errors.New("missing"))
}
func (f *fakeRepo) UpdateStatus(context.Context, string, domain.DocumentStatus, string) error {
	return nil
}
func (f *fakeRepo) SaveExtraction(context.Context, string, string, domain.Metadata) error {
	return nil
}
func (f *fakeRepo) IsKnown(context.Context, string, string, string) (bool, error) {
	return false, nil
}
func (f *fakeRepo) IsContentKnown(context.Context, string, string, string) (bool, error) {
	return false, nil
}
func (f *fakeRepo) MarkIndexed(context.Context, string, string, string, int) (bool, error) {
	return true, nil
}
func (f *fakeRepo) IncrementFailures(context.Context, string) (int, error) { return 0, nil }
func (f *fakeRepo) ResetFailures(context.Context, string) error            { return nil }
func (f *fakeRepo) FilterValues(context.Context) (domain.FilterValues, error) {
	return f.values, nil
}

type fakeQueue struct {
	published []domain.IngestionJob
	err       error
}

func (f *fakeQueue) PublishIngestionJob(_ context.Context, job domain.IngestionJob) error {
	if f.err != nil {
		return f.err
	}
	f.published = append(f.published, job)
	return nil
}
func (f *fakeQueue) ConsumeIngestionJobs(context.Context, func(context.Context, domain.IngestionJob) error) error {
	return nil
}

func newTestRouter(search *fakeSearch, store *fakeProgressStore, repo *fakeRepo, queue *fakeQueue) http.Handler {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	status := usecase.NewStatusUseCase(store, repo)
	return NewRouter(search, status, queue, logger, RateLimitConfig{}).Handler()
}

func TestSearchEndpointDefaultsDedupOn(t *testing.T) {
	search := &fakeSearch{result: &domain.SearchResult{
		Hits:  []domain.SearchHit{{DocumentID: "d1", Score: 0.9}},
		Total: 1,
	}}
	handler := newTestRouter(search, &fakeProgressStore{}, &fakeRepo{}, &fakeQueue{})

	body := `{"query":"offerta tecnica 2023","smart_filter":true,"filter":{"year":2023}}`
	req := httptest.NewRequest(http.MethodPost, "/v1/search", strings.NewReader(body))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if !search.gotReq.Dedup {
		t.Fatal("dedup must default to true")
	}
	if !search.gotReq.SmartFilter || search.gotReq.Filter.Year != 2023 {
		t.Fatalf("unexpected request: %+v", search.gotReq)
	}
	if got := rec.Header().Get(requestIDHeader); got == "" {
		t.Fatal("missing request id header")
	}
}

func TestSearchEndpointExplicitDedupOff(t *testing.T) {
	search := &fakeSearch{result: &domain.SearchResult{}}
	handler := newTestRouter(search, &fakeProgressStore{}, &fakeRepo{}, &fakeQueue{})

	req := httptest.NewRequest(http.MethodPost, "/v1/search", strings.NewReader(`{"query":"q","dedup":false}`))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if search.gotReq.Dedup {
		t.Fatal("explicit dedup=false must be honored")
	}
}

func TestSearchEndpointRejectsEmptyQuery(t *testing.T) {
	handler := newTestRouter(&fakeSearch{}, &fakeProgressStore{}, &fakeRepo{}, &fakeQueue{})

	req := httptest.NewRequest(http.MethodPost, "/v1/search", strings.NewReader(`{"query":"   "}`))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestSearchEndpointMapsTemporaryTo503(t *testing.T) {
	search := &fakeSearch{err: domain.WrapError(domain.ErrTemporary, "search", errors.New("both backends down"))}
	handler := newTestRouter(search, &fakeProgressStore{}, &fakeRepo{}, &fakeQueue{})

	req := httptest.NewRequest(http.MethodPost, "/v1/search", strings.NewReader(`{"query":"q"}`))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
}

func TestIngestionJobEndpointPublishes(t *testing.T) {
	queue := &fakeQueue{}
	handler := newTestRouter(&fakeSearch{}, &fakeProgressStore{}, &fakeRepo{}, queue)

	req := httptest.NewRequest(http.MethodPost, "/v1/ingestion/jobs",
		strings.NewReader(`{"mode":"full","model":"nomic-embed-text","target":"2023_Lazio"}`))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if len(queue.published) != 1 || queue.published[0].Target != "2023_Lazio" {
		t.Fatalf("published = %+v", queue.published)
	}
}

func TestIngestionJobEndpointRejectsUnknownMode(t *testing.T) {
	handler := newTestRouter(&fakeSearch{}, &fakeProgressStore{}, &fakeRepo{}, &fakeQueue{})

	req := httptest.NewRequest(http.MethodPost, "/v1/ingestion/jobs", strings.NewReader(`{"mode":"sideways"}`))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestFailuresEndpointPassesLimit(t *testing.T) {
	store := &fakeProgressStore{failures: []domain.FailureEntry{
		{Path: "a.pdf", Kind: "corrupt_file", OccurredAt: time.Now()},
		{Path: "b.pdf", Kind: "ocr_failed", OccurredAt: time.Now()},
	}}
	handler := newTestRouter(&fakeSearch{}, store, &fakeRepo{}, &fakeQueue{})

	req := httptest.NewRequest(http.MethodGet, "/v1/failures?limit=1", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if store.gotLimit != 1 {
		t.Fatalf("limit = %d, want 1", store.gotLimit)
	}
}

func TestFailuresEndpointRejectsBadLimit(t *testing.T) {
	handler := newTestRouter(&fakeSearch{}, &fakeProgressStore{}, &fakeRepo{}, &fakeQueue{})

	req := httptest.NewRequest(http.MethodGet, "/v1/failures?limit=abc", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestFiltersEndpoint(t *testing.T) {
	repo := &fakeRepo{values: domain.FilterValues{
		Areas: []string{"Gare"},
		Years: []int{2022, 2023},
	}}
	handler := newTestRouter(&fakeSearch{}, &fakeProgressStore{}, repo, &fakeQueue{})

	req := httptest.NewRequest(http.MethodGet, "/v1/filters", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"years":[2022,2023]`) {
		t.Fatalf("body = %s", rec.Body.String())
	}
}

func TestRateLimitMiddleware(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	status := usecase.NewStatusUseCase(&fakeProgressStore{}, &fakeRepo{})
	handler := NewRouter(&fakeSearch{}, status, &fakeQueue{}, logger,
		RateLimitConfig{RequestsPerSecond: 1, Burst: 1}).Handler()

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.RemoteAddr = "10.0.0.1:5000"

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("first request status = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second request status = %d, want 429", rec.Code)
	}

	// Different client gets its own bucket.
	other := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	other.RemoteAddr = "10.0.0.2:5000"
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, other)
	if rec.Code != http.StatusOK {
		t.Fatalf("other client status = %d", rec.Code)
	}
}
