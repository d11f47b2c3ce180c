package usecase

import (
	"context"
	"log/slog"
	"path"
	"time"

	"github.com/kbstack/kbsearch/internal/core/domain"
	"github.com/kbstack/kbsearch/internal/core/ports"
)

const (
	defaultQuarantineAfter = 3
	lexicalContentLimit    = 5000
)

// Ingestion pipeline stages as persisted in the progress record.
const (
	stageScanning   = "scanning"
	stageProcessing = "processing"
	stageDone       = "done"
	stageCancelled  = "cancelled"
	stageFailed     = "failed"
)

// IngestionDeps wires the outbound ports of the ingestion pipeline.
type IngestionDeps struct {
	Repo       ports.DocumentRepository
	Progress   ports.ProgressStore
	Scanner    ports.CorpusScanner
	Extractor  ports.TextExtractor
	Chunker    ports.Chunker
	Metadata   ports.MetadataParser
	Dispatcher *EmbeddingDispatcher
	Vector     ports.VectorIndex
	Lexical    ports.LexicalIndex

	// Observer is optional; nil means events are dropped.
	Observer IngestionObserver
}

// IngestionUseCase drives one document at a time through the extraction,
// embedding and indexing stages, committing the progress record after every
// transition so a crash never loses more than the in-flight document.
type IngestionUseCase struct {
	deps            IngestionDeps
	models          domain.Models
	quarantineAfter int
	logger          *slog.Logger
}

func NewIngestionUseCase(deps IngestionDeps, models domain.Models, quarantineAfter int, logger *slog.Logger) *IngestionUseCase {
	if quarantineAfter <= 0 {
		quarantineAfter = defaultQuarantineAfter
	}
	if deps.Observer == nil {
		deps.Observer = noopObserver{}
	}
	return &IngestionUseCase{
		deps:            deps,
		models:          models,
		quarantineAfter: quarantineAfter,
		logger:          logger,
	}
}

// Run executes one ingestion job to completion. Per-document failures are
// recorded and the run continues; an error return means the run itself could
// not proceed and the job should be redelivered.
func (uc *IngestionUseCase) Run(ctx context.Context, job domain.IngestionJob) error {
	if err := job.Validate(); err != nil {
		return err
	}
	cfg, err := uc.models.Lookup(job.Model)
	if err != nil {
		return err
	}

	if err := uc.deps.Vector.EnsureCollection(ctx, cfg.Collection, cfg.Dimension); err != nil {
		return domain.WrapError(domain.ErrTemporary, "ensure vector collection", err)
	}
	if err := uc.deps.Lexical.EnsureIndex(ctx); err != nil {
		return domain.WrapError(domain.ErrTemporary, "ensure lexical index", err)
	}

	progress := domain.Progress{
		Running: true,
		Stage:   stageScanning,
		Mode:    job.Mode,
		Model:   job.Model,
	}
	uc.saveProgress(ctx, &progress)

	files, err := uc.deps.Scanner.Scan(ctx, job.Target)
	if err != nil {
		progress.Running = false
		progress.Stage = stageFailed
		uc.saveProgress(ctx, &progress)
		uc.deps.Observer.RunFinished(stageFailed)
		return domain.WrapError(domain.ErrTemporary, "scan corpus", err)
	}

	progress.Total = len(files)
	progress.Stage = stageProcessing
	uc.saveProgress(ctx, &progress)
	uc.logger.Info("ingestion started",
		slog.String("mode", string(job.Mode)),
		slog.String("model", job.Model),
		slog.Int("files", len(files)))

	for _, file := range files {
		if err := ctx.Err(); err != nil {
			progress.Running = false
			progress.Stage = stageCancelled
			uc.saveProgress(context.WithoutCancel(ctx), &progress)
			uc.deps.Observer.RunFinished(stageCancelled)
			return err
		}

		uc.deps.Observer.DocumentStarted()
		chunks, skipped, err := uc.processOne(ctx, file, job, cfg)
		progress.Done++
		switch {
		case err != nil:
			progress.Failed++
			uc.deps.Observer.DocumentFinished(outcomeFailed)
		case skipped:
			progress.Skipped++
			uc.deps.Observer.DocumentFinished(outcomeSkipped)
		default:
			progress.Succeeded++
			progress.Chunks += chunks
			uc.deps.Observer.DocumentFinished(outcomeSucceeded)
			uc.deps.Observer.ChunksIndexed(cfg.Name, chunks)
		}
		uc.saveProgress(ctx, &progress)
	}

	progress.Running = false
	progress.Stage = stageDone
	uc.saveProgress(ctx, &progress)
	uc.deps.Observer.RunFinished(stageDone)
	uc.logger.Info("ingestion finished",
		slog.Int("succeeded", progress.Succeeded),
		slog.Int("failed", progress.Failed),
		slog.Int("skipped", progress.Skipped),
		slog.Int("chunks", progress.Chunks))
	return nil
}

// processOne moves one file through the full stage ladder. Returned errors
// have already been recorded against the document and the failure log.
func (uc *IngestionUseCase) processOne(ctx context.Context, file domain.DiscoveredFile, job domain.IngestionJob, cfg domain.ModelConfig) (int, bool, error) {
	doc := &domain.Document{
		ID:        file.Path,
		Path:      file.Path,
		Title:     path.Base(file.Path),
		Ext:       file.Ext,
		SizeBytes: file.SizeBytes,
		Status:    domain.StatusDiscovered,
		Metadata:  uc.deps.Metadata.Parse(file.Path),
	}
	if err := uc.deps.Repo.Upsert(ctx, doc); err != nil {
		return 0, false, uc.fail(ctx, doc, "discover", err)
	}

	if err := uc.transition(ctx, doc, domain.StatusExtracting); err != nil {
		return 0, false, uc.fail(ctx, doc, "extract", err)
	}
	extractStart := time.Now()
	extraction, err := uc.deps.Extractor.Extract(ctx, file.AbsPath)
	if err != nil {
		return 0, false, uc.fail(ctx, doc, "extract", err)
	}
	uc.deps.Observer.StageObserved("extract", time.Since(extractStart))

	hash := domain.Fingerprint(extraction.Text)
	if err := uc.deps.Repo.SaveExtraction(ctx, doc.ID, hash, doc.Metadata); err != nil {
		return 0, false, uc.fail(ctx, doc, "extract", err)
	}
	if err := uc.transition(ctx, doc, domain.StatusExtracted); err != nil {
		return 0, false, uc.fail(ctx, doc, "extract", err)
	}
	doc.ContentHash = hash

	if job.Mode == domain.ModeIncremental {
		known, err := uc.deps.Repo.IsKnown(ctx, doc.Path, hash, cfg.Name)
		if err != nil {
			return 0, false, uc.fail(ctx, doc, "dedup", err)
		}
		if known {
			if err := uc.transition(ctx, doc, domain.StatusIndexed); err != nil {
				return 0, false, uc.fail(ctx, doc, "dedup", err)
			}
			return 0, true, nil
		}
	}

	// Identical content under another path never re-embeds, in either mode.
	// Vector hits keep resolving through the first path's points; this path
	// gets its own lexical entry and index entry sharing the hash.
	dup, err := uc.deps.Repo.IsContentKnown(ctx, doc.Path, hash, cfg.Name)
	if err != nil {
		return 0, false, uc.fail(ctx, doc, "dedup", err)
	}
	if dup {
		if err := uc.deps.Lexical.UpsertDocuments(ctx, []domain.LexicalDoc{lexicalDoc(doc, extraction.Text)}); err != nil {
			return 0, false, uc.fail(ctx, doc, "index", domain.WrapError(domain.ErrIndexWrite, "upsert lexical", err))
		}
		if _, err := uc.deps.Repo.MarkIndexed(ctx, doc.Path, hash, cfg.Name, 0); err != nil {
			return 0, false, uc.fail(ctx, doc, "index", err)
		}
		if err := uc.transition(ctx, doc, domain.StatusIndexed); err != nil {
			return 0, false, uc.fail(ctx, doc, "index", err)
		}
		if err := uc.deps.Repo.ResetFailures(ctx, doc.ID); err != nil {
			uc.logger.Warn("reset failures", slog.String("path", doc.ID), slog.String("error", err.Error()))
		}
		return 0, false, nil
	}

	if err := uc.transition(ctx, doc, domain.StatusEmbedding); err != nil {
		return 0, false, uc.fail(ctx, doc, "embed", err)
	}

	chunks := uc.deps.Chunker.Split(extraction)
	for i := range chunks {
		chunks[i].DocumentID = doc.ID
	}
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}

	embedStart := time.Now()
	vectors, err := uc.deps.Dispatcher.EmbedTexts(ctx, texts, cfg.Name)
	if err != nil {
		return 0, false, uc.fail(ctx, doc, "embed", err)
	}
	uc.deps.Observer.StageObserved("embed", time.Since(embedStart))

	if err := uc.deps.Vector.UpsertChunks(ctx, cfg.Collection, doc, chunks, vectors); err != nil {
		return 0, false, uc.fail(ctx, doc, "index", domain.WrapError(domain.ErrIndexWrite, "upsert chunks", err))
	}
	if err := uc.deps.Lexical.UpsertDocuments(ctx, []domain.LexicalDoc{lexicalDoc(doc, extraction.Text)}); err != nil {
		return 0, false, uc.fail(ctx, doc, "index", domain.WrapError(domain.ErrIndexWrite, "upsert lexical", err))
	}

	created, err := uc.deps.Repo.MarkIndexed(ctx, doc.Path, hash, cfg.Name, len(chunks))
	if err != nil {
		return 0, false, uc.fail(ctx, doc, "index", err)
	}
	if !created {
		uc.logger.Debug("index entry refreshed", slog.String("path", doc.Path))
	}
	if err := uc.transition(ctx, doc, domain.StatusIndexed); err != nil {
		return 0, false, uc.fail(ctx, doc, "index", err)
	}
	if err := uc.deps.Repo.ResetFailures(ctx, doc.ID); err != nil {
		uc.logger.Warn("reset failures", slog.String("path", doc.ID), slog.String("error", err.Error()))
	}
	return len(chunks), false, nil
}

func (uc *IngestionUseCase) transition(ctx context.Context, doc *domain.Document, status domain.DocumentStatus) error {
	if err := uc.deps.Repo.UpdateStatus(ctx, doc.ID, status, ""); err != nil {
		return err
	}
	doc.Status = status
	return nil
}

// fail records one document failure: the failure log entry, the consecutive
// failure counter, and the terminal status (failed, or quarantined once the
// counter crosses the threshold).
func (uc *IngestionUseCase) fail(ctx context.Context, doc *domain.Document, stage string, err error) error {
	kind := domain.ErrorKind(err)
	uc.logger.Warn("document failed",
		slog.String("path", doc.ID),
		slog.String("stage", stage),
		slog.String("kind", kind),
		slog.String("error", err.Error()))

	entry := domain.FailureEntry{
		Path:       doc.ID,
		Stage:      stage,
		Kind:       kind,
		Detail:     err.Error(),
		OccurredAt: time.Now().UTC(),
	}
	if appendErr := uc.deps.Progress.AppendFailure(ctx, entry); appendErr != nil {
		uc.logger.Warn("append failure entry", slog.String("error", appendErr.Error()))
	}

	status := domain.StatusFailed
	count, incErr := uc.deps.Repo.IncrementFailures(ctx, doc.ID)
	if incErr != nil {
		uc.logger.Warn("increment failures", slog.String("error", incErr.Error()))
	} else if count >= uc.quarantineAfter {
		status = domain.StatusQuarantined
	}
	if updErr := uc.deps.Repo.UpdateStatus(ctx, doc.ID, status, err.Error()); updErr != nil {
		uc.logger.Warn("persist failed status", slog.String("error", updErr.Error()))
	}
	doc.Status = status
	return err
}

func (uc *IngestionUseCase) saveProgress(ctx context.Context, p *domain.Progress) {
	p.UpdatedAt = time.Now().UTC()
	if err := uc.deps.Progress.SaveProgress(ctx, *p); err != nil {
		uc.logger.Warn("save progress", slog.String("error", err.Error()))
	}
}

// lexicalDoc builds the keyword index payload. Content is capped so oversized
// extractions do not blow up index payload limits; ranking quality past the
// cap is carried by the vector side.
func lexicalDoc(doc *domain.Document, text string) domain.LexicalDoc {
	if len(text) > lexicalContentLimit {
		cut := lexicalContentLimit
		for cut > 0 && text[cut]&0xC0 == 0x80 {
			cut--
		}
		text = text[:cut]
	}
	return domain.LexicalDoc{
		ID:       doc.ID,
		Title:    doc.Title,
		Path:     doc.Path,
		Content:  text,
		Metadata: doc.Metadata,
	}
}
