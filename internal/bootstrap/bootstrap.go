// Package bootstrap assembles the application graph shared by the api and
// worker binaries. Both processes wire the same components; only the inbound
// surface differs.
package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/kbstack/kbsearch/internal/config"
	"github.com/kbstack/kbsearch/internal/core/domain"
	"github.com/kbstack/kbsearch/internal/core/usecase"
	"github.com/kbstack/kbsearch/internal/infrastructure/chunking"
	"github.com/kbstack/kbsearch/internal/infrastructure/device"
	"github.com/kbstack/kbsearch/internal/infrastructure/embedding/ollama"
	"github.com/kbstack/kbsearch/internal/infrastructure/extractor/office"
	"github.com/kbstack/kbsearch/internal/infrastructure/lexical/meili"
	"github.com/kbstack/kbsearch/internal/infrastructure/metadata"
	natsqueue "github.com/kbstack/kbsearch/internal/infrastructure/queue/nats"
	"github.com/kbstack/kbsearch/internal/infrastructure/repository/postgres"
	"github.com/kbstack/kbsearch/internal/infrastructure/resilience"
	"github.com/kbstack/kbsearch/internal/infrastructure/scanner/localfs"
	"github.com/kbstack/kbsearch/internal/infrastructure/vector/qdrant"
)

// App holds the wired application. Close releases the long-lived resources
// in reverse construction order.
type App struct {
	Config config.Config

	Queue    *natsqueue.Queue
	Repo     *postgres.DocumentRepository
	Progress *postgres.ProgressStore

	Ingestion *usecase.IngestionUseCase
	Search    *usecase.SearchUseCase
	Status    *usecase.StatusUseCase

	closeFn func()
}

// Options carries the per-binary knobs that cannot come from config alone.
type Options struct {
	// Observer receives ingestion pipeline events; nil drops them. Only the
	// worker attaches one.
	Observer usecase.IngestionObserver
}

func New(ctx context.Context, cfg config.Config, logger *slog.Logger, opts Options) (*App, error) {
	db, err := postgres.OpenDB(cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	repo := postgres.NewDocumentRepository(db)
	if err := repo.EnsureSchema(ctx); err != nil {
		closeDB(db, logger)
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	progress := postgres.NewProgressStore(db, cfg.FailureLogSize)

	executor := resilience.NewExecutor(resilience.DefaultConfig(), logger)

	queue, err := natsqueue.NewWithOptions(cfg.NATSURL, logger, natsqueue.Options{
		AckWait:            time.Duration(cfg.JobAckWaitMinutes) * time.Minute,
		MaxDeliver:         cfg.JobMaxDeliver,
		ResilienceExecutor: executor,
	})
	if err != nil {
		closeDB(db, logger)
		return nil, fmt.Errorf("connect queue: %w", err)
	}

	models := domain.DefaultModels()
	capability := device.Probe(ctx, logger)

	embedder := ollama.New(cfg.OllamaURL, executor)
	dispatcher := usecase.NewEmbeddingDispatcher(embedder, models, capability, logger)

	vector := qdrant.New(cfg.QdrantURL)
	lexical := meili.New(cfg.MeiliURL, cfg.MeiliAPIKey)

	extractor := office.New(office.Config{
		SofficePath:    cfg.SofficePath,
		ConvertTimeout: time.Duration(cfg.ConvertTimeoutSeconds) * time.Second,
		OCREnabled:     cfg.OCREnabled,
		TesseractPath:  cfg.TesseractPath,
		PDFToPPMPath:   cfg.PDFToPPMPath,
		OCRLanguages:   cfg.OCRLanguages,
		OCRPageCap:     cfg.OCRPageCap,
	}, logger)

	ingestion := usecase.NewIngestionUseCase(usecase.IngestionDeps{
		Repo:       repo,
		Progress:   progress,
		Scanner:    localfs.New(cfg.CorpusRoot),
		Extractor:  extractor,
		Chunker:    chunking.NewSplitter(cfg.ChunkSize, cfg.ChunkOverlap),
		Metadata:   metadata.NewParser(),
		Dispatcher: dispatcher,
		Vector:     vector,
		Lexical:    lexical,
		Observer:   opts.Observer,
	}, models, cfg.QuarantineAfter, logger)

	search := usecase.NewSearchUseCase(usecase.SearchDeps{
		Lexical:    lexical,
		Vector:     vector,
		Dispatcher: dispatcher,
	}, models, cfg.DefaultModel, true, logger)

	status := usecase.NewStatusUseCase(progress, repo)

	return &App{
		Config:    cfg,
		Queue:     queue,
		Repo:      repo,
		Progress:  progress,
		Ingestion: ingestion,
		Search:    search,
		Status:    status,
		closeFn: func() {
			queue.Close()
			closeDB(db, logger)
		},
	}, nil
}

func (a *App) Close() {
	if a.closeFn != nil {
		a.closeFn()
	}
}

func closeDB(db *sql.DB, logger *slog.Logger) {
	if err := db.Close(); err != nil {
		logger.Warn("close postgres", slog.String("error", err.Error()))
	}
}
