// Package defesajusta assembles the knowledge a traffic-citation defense
// letter is written from: an ingested corpus of Portuguese legal texts,
// user-contributed fine examples, community strategy tips, and a unified
// collection searched when a letter is assembled.
package defesajusta

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/defesajusta/defesajusta/assemble"
	"github.com/defesajusta/defesajusta/chunker"
	"github.com/defesajusta/defesajusta/contribution"
	"github.com/defesajusta/defesajusta/embed"
	"github.com/defesajusta/defesajusta/index"
	"github.com/defesajusta/defesajusta/retrieval"
	"github.com/defesajusta/defesajusta/scoring"
	"github.com/defesajusta/defesajusta/store"
	"github.com/defesajusta/defesajusta/unify"
)

// SourceDocument is the input to ingestion.
type SourceDocument struct {
	Title           string
	Content         string
	DocumentType    string // statute, precedent, regulation
	Jurisdiction    string
	SourceURL       string
	PublicationDate time.Time
}

// IngestResult reports what ingestion did with one document.
type IngestResult struct {
	DocumentID int64
	Passages   int
	// Unchanged is set when the document was already ingested with
	// identical content and was left untouched.
	Unchanged bool
	// EmbeddingDegraded is set when some passages could not be
	// embedded; they remain searchable through full-text search and
	// enter the index at the next reindex.
	EmbeddingDegraded bool
}

// ContestSubmission records the outcome of contesting a contributed fine.
type ContestSubmission struct {
	ContributionID      string
	ContestType         string
	Outcome             string
	StrategyText        string
	SupportingReference string
	FeedbackScore       float64
}

// Engine is the top-level API of the defense knowledge engine.
type Engine interface {
	// Ingest adds or refreshes one document in the corpus.
	Ingest(ctx context.Context, doc SourceDocument) (*IngestResult, error)
	// IngestBatch ingests documents independently: a failing document
	// is logged and skipped, never aborting the batch.
	IngestBatch(ctx context.Context, docs []SourceDocument) ([]IngestResult, error)
	// Retrieve searches corpus passages semantically.
	Retrieve(ctx context.Context, query string, k int, filters retrieval.Filters) ([]retrieval.Result, bool, error)
	// SubmitContribution validates and stores a fine example.
	SubmitContribution(ctx context.Context, sub contribution.Submission) (string, error)
	// SubmitContest attaches a contest outcome to a contribution.
	SubmitContest(ctx context.Context, sub ContestSubmission) (string, error)
	// RunUnifier rebuilds the unified knowledge collection.
	RunUnifier(ctx context.Context) (*unify.RunReport, error)
	// Assemble builds the context bundle for one citation.
	Assemble(ctx context.Context, req assemble.Request) (*assemble.Bundle, error)
	// TombstoneDocument marks a document for removal at next reindex.
	TombstoneDocument(ctx context.Context, id int64) error
	// Reindex rebuilds the vector index from active passages.
	Reindex(ctx context.Context) error
	// AnonymizeContribution scrubs personal fields from a contribution.
	AnonymizeContribution(ctx context.Context, id string) error
	// Documents lists corpus documents.
	Documents(ctx context.Context, activeOnly bool) ([]store.Document, error)
	// Stats reports corpus counts.
	Stats(ctx context.Context) (*store.Stats, error)
	Close() error
}

type engine struct {
	cfg       Config
	store     *store.Store
	embedder  embed.Embedder
	idx       atomic.Pointer[index.Index]
	chunker   *chunker.Chunker
	unifier   *unify.Unifier
	retriever *retrieval.Retriever
	assembler *assemble.Assembler
	logger    *slog.Logger

	// writeMu serialises ingestion and reindexing; reads go lock-free
	// through the index pointer.
	writeMu sync.Mutex
	closed  atomic.Bool
}

// New opens the engine. A corpus with passages but a missing or corrupt
// index file fails with ErrIndexUnavailable rather than starting empty.
func New(cfg Config, logger *slog.Logger) (Engine, error) {
	if logger == nil {
		logger = slog.Default()
	}

	st, err := store.New(cfg.resolveDBPath())
	if err != nil {
		return nil, fmt.Errorf("opening corpus store: %w", err)
	}

	base, err := embed.New(cfg.Embedding)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("creating embedder: %w", err)
	}
	embedder := embed.WithRetry(base, embed.RetryPolicy{
		Timeout: cfg.EmbedTimeout,
		Backoff: cfg.EmbedRetryBackoff,
	}, logger)

	idx, err := openOrCreateIndex(cfg.resolveIndexPath(), embedder.Dimension(), st)
	if err != nil {
		st.Close()
		return nil, err
	}

	e := &engine{
		cfg:      cfg,
		store:    st,
		embedder: embedder,
		chunker:  chunker.New(chunker.Config{Size: cfg.ChunkSize, Overlap: cfg.ChunkOverlap}),
		logger:   logger,
	}
	e.idx.Store(idx)

	e.unifier, err = unify.New(st, st, unify.Config{
		CollectionPath: cfg.resolveCollectionPath(),
		CatalogPath:    cfg.TipsCatalogPath,
		Bands:          cfg.Confidence,
		UsageWeight:    cfg.UsageWeight,
	}, logger)
	if err != nil {
		idx.Close()
		st.Close()
		return nil, fmt.Errorf("loading unified collection: %w", err)
	}

	e.retriever = retrieval.New(embedder, e, st, retrieval.Config{
		TopK:             cfg.TopK,
		OversampleFactor: cfg.OversampleFactor,
	}, logger)
	e.assembler = assemble.New(e.unifier, e.retriever, assemble.Config{}, logger)

	return e, nil
}

// openOrCreateIndex opens the persisted index. A fresh index is created
// only when both the index file and the corpus passages are absent; any
// other mismatch is fatal.
func openOrCreateIndex(path string, dim int, st *store.Store) (*index.Index, error) {
	idx, err := index.Open(path, dim)
	if err == nil {
		return idx, nil
	}
	if !errors.Is(err, index.ErrUnavailable) {
		return nil, fmt.Errorf("%w: %v", ErrIndexUnavailable, err)
	}

	passages, perr := st.ActivePassages(context.Background())
	if perr != nil {
		return nil, fmt.Errorf("checking corpus passages: %w", perr)
	}
	if len(passages) > 0 {
		return nil, fmt.Errorf("%w: corpus has %d passages but index cannot be opened: %v",
			ErrIndexUnavailable, len(passages), err)
	}
	if _, serr := os.Stat(path); serr == nil {
		// File exists but is unreadable; never overwrite it silently.
		return nil, fmt.Errorf("%w: %v", ErrIndexUnavailable, err)
	}

	idx, err = index.Create(path, dim)
	if err != nil {
		return nil, fmt.Errorf("creating index: %w", err)
	}
	return idx, nil
}

// Search implements retrieval.VectorIndex against the current index
// snapshot, so a reindex swap is transparent to in-flight retrievals.
func (e *engine) Search(ctx context.Context, query []float32, k int) ([]index.Match, error) {
	return e.idx.Load().Search(ctx, query, k)
}

func (e *engine) Ingest(ctx context.Context, doc SourceDocument) (*IngestResult, error) {
	if e.closed.Load() {
		return nil, ErrEngineClosed
	}
	if doc.Content == "" {
		return nil, ErrEmptyDocument
	}
	if doc.Title == "" {
		doc.Title = "Documento sem título"
	}
	if doc.DocumentType == "" {
		doc.DocumentType = "unknown"
	}

	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	hash := contentHash(doc)
	if existing, err := e.store.GetDocumentByHash(ctx, hash); err == nil && !existing.Tombstoned {
		e.logger.Debug("ingest: content unchanged, skipping", "document_id", existing.ID)
		return &IngestResult{DocumentID: existing.ID, Unchanged: true}, nil
	} else if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("checking content hash: %w", err)
	}

	scores := scoring.Compute(scoring.Input{
		TextLength:      len(doc.Content),
		DocumentType:    doc.DocumentType,
		Jurisdiction:    doc.Jurisdiction,
		SourceURL:       doc.SourceURL,
		PublicationDate: doc.PublicationDate,
	}, e.cfg.Scoring, time.Now())

	var pubDate string
	if !doc.PublicationDate.IsZero() {
		pubDate = doc.PublicationDate.Format("2006-01-02")
	}
	docID, err := e.store.UpsertDocument(ctx, store.Document{
		Title:           doc.Title,
		DocumentType:    doc.DocumentType,
		Jurisdiction:    doc.Jurisdiction,
		PublicationDate: pubDate,
		SourceURL:       doc.SourceURL,
		ExtractedText:   doc.Content,
		ContentHash:     hash,
		QualityScore:    scores.Quality,
		RelevanceScore:  scores.Relevance,
		FreshnessScore:  scores.Freshness,
		AuthorityScore:  scores.Authority,
	})
	if err != nil {
		return nil, fmt.Errorf("storing document: %w", err)
	}

	texts := e.chunker.Split(doc.Content)
	passageIDs, err := e.store.ReplacePassages(ctx, docID, texts)
	if err != nil {
		return nil, fmt.Errorf("storing passages: %w", err)
	}

	degraded, err := e.embedPassages(ctx, passageIDs, texts)
	if err != nil {
		return nil, err
	}

	e.logger.Info("ingest: document stored",
		"document_id", docID,
		"title", doc.Title,
		"passages", len(texts),
		"embedding_degraded", degraded)
	return &IngestResult{
		DocumentID:        docID,
		Passages:          len(texts),
		EmbeddingDegraded: degraded,
	}, nil
}

// embedBatchSize bounds one embedding request.
const embedBatchSize = 32

// embedPassages embeds passage texts in batches and inserts the vectors.
// A failing batch degrades to FTS-only for those passages instead of
// failing the ingestion; index write errors remain fatal.
func (e *engine) embedPassages(ctx context.Context, ids []int64, texts []string) (degraded bool, err error) {
	idx := e.idx.Load()
	for start := 0; start < len(texts); start += embedBatchSize {
		end := start + embedBatchSize
		if end > len(texts) {
			end = len(texts)
		}
		vecs, err := e.embedder.Embed(ctx, texts[start:end])
		if err != nil {
			e.logger.Warn("ingest: embedding batch failed, passages stay text-only until reindex",
				"from", start, "to", end, "error", err)
			degraded = true
			continue
		}
		for i, vec := range vecs {
			if err := idx.Insert(ctx, ids[start+i], vec); err != nil {
				return degraded, fmt.Errorf("indexing passage %d: %w", ids[start+i], err)
			}
		}
	}
	if err := idx.Persist(ctx); err != nil {
		return degraded, fmt.Errorf("persisting index: %w", err)
	}
	return degraded, nil
}

func (e *engine) IngestBatch(ctx context.Context, docs []SourceDocument) ([]IngestResult, error) {
	if e.closed.Load() {
		return nil, ErrEngineClosed
	}
	results := make([]IngestResult, 0, len(docs))
	failed := 0
	for _, doc := range docs {
		res, err := e.Ingest(ctx, doc)
		if err != nil {
			failed++
			e.logger.Warn("ingest: document skipped", "title", doc.Title, "error", err)
			continue
		}
		results = append(results, *res)
	}
	if failed > 0 {
		e.logger.Info("ingest: batch complete with failures",
			"ok", len(results), "failed", failed)
	}
	return results, nil
}

func (e *engine) Retrieve(ctx context.Context, query string, k int, filters retrieval.Filters) ([]retrieval.Result, bool, error) {
	if e.closed.Load() {
		return nil, false, ErrEngineClosed
	}
	return e.retriever.Retrieve(ctx, query, k, filters)
}

func (e *engine) SubmitContribution(ctx context.Context, sub contribution.Submission) (string, error) {
	if e.closed.Load() {
		return "", ErrEngineClosed
	}
	rec, err := contribution.Validate(sub, contribution.Rules{AmountRanges: e.cfg.AmountRanges})
	if err != nil {
		return "", err
	}
	id, err := e.store.InsertContribution(ctx, store.Contribution{
		ID:           rec.ID,
		Category:     rec.Category,
		Location:     rec.Location,
		Amount:       rec.Amount,
		Authority:    rec.Authority,
		DateIssued:   rec.DateIssued,
		Outcome:      rec.Outcome,
		PrivacyToken: rec.PrivacyToken,
	})
	if err != nil {
		return "", fmt.Errorf("storing contribution: %w", err)
	}
	e.logger.Info("contribution accepted", "id", id, "category", rec.Category)
	return id, nil
}

func (e *engine) SubmitContest(ctx context.Context, sub ContestSubmission) (string, error) {
	if e.closed.Load() {
		return "", ErrEngineClosed
	}
	if sub.ContestType == "" {
		sub.ContestType = "administrative"
	}
	id := uuid.NewString()
	err := e.store.InsertContest(ctx, store.Contest{
		ID:                  id,
		ContributionID:      sub.ContributionID,
		ContestType:         sub.ContestType,
		Outcome:             sub.Outcome,
		StrategyText:        sub.StrategyText,
		SupportingReference: sub.SupportingReference,
		FeedbackScore:       sub.FeedbackScore,
	})
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%w: %s", ErrContributionNotFound, sub.ContributionID)
	}
	if err != nil {
		return "", fmt.Errorf("storing contest: %w", err)
	}
	return id, nil
}

func (e *engine) RunUnifier(ctx context.Context) (*unify.RunReport, error) {
	if e.closed.Load() {
		return nil, ErrEngineClosed
	}
	return e.unifier.Run(ctx)
}

func (e *engine) Assemble(ctx context.Context, req assemble.Request) (*assemble.Bundle, error) {
	if e.closed.Load() {
		return nil, ErrEngineClosed
	}
	bundle, err := e.assembler.Assemble(ctx, req)
	if err != nil {
		return nil, err
	}
	if err := e.store.LogAssembly(ctx, store.AssemblyRecord{
		Category: bundle.Request.Category,
		Location: bundle.Request.Location,
		Amount:   bundle.Request.Amount,
		Statutes: len(bundle.Statutes),
		Examples: len(bundle.Examples),
		Tips:     len(bundle.Tips),
		Passages: len(bundle.Passages),
		Degraded: bundle.Degraded,
	}); err != nil {
		e.logger.Warn("assembly audit log failed", "error", err)
	}
	if err := e.unifier.Persist(); err != nil {
		e.logger.Warn("persisting usage counts failed", "error", err)
	}
	return bundle, nil
}

func (e *engine) TombstoneDocument(ctx context.Context, id int64) error {
	if e.closed.Load() {
		return ErrEngineClosed
	}
	err := e.store.TombstoneDocument(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %d", ErrDocumentNotFound, id)
	}
	return err
}

// Reindex rebuilds the vector index from all active passages into a new
// file, then atomically swaps it in. Readers keep using the old index
// until the swap; tombstoned documents drop out here.
func (e *engine) Reindex(ctx context.Context) error {
	if e.closed.Load() {
		return ErrEngineClosed
	}
	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	passages, err := e.store.ActivePassages(ctx)
	if err != nil {
		return fmt.Errorf("listing active passages: %w", err)
	}

	path := e.cfg.resolveIndexPath()
	tmpPath := path + ".rebuild"
	os.Remove(tmpPath)

	next, err := index.Create(tmpPath, e.embedder.Dimension())
	if err != nil {
		return fmt.Errorf("creating replacement index: %w", err)
	}

	for start := 0; start < len(passages); start += embedBatchSize {
		end := start + embedBatchSize
		if end > len(passages) {
			end = len(passages)
		}
		texts := make([]string, end-start)
		for i, p := range passages[start:end] {
			texts[i] = p.Text
		}
		vecs, err := e.embedder.Embed(ctx, texts)
		if err != nil {
			next.Close()
			os.Remove(tmpPath)
			return fmt.Errorf("%w: reindex embedding: %v", ErrEmbedderUnavailable, err)
		}
		for i, vec := range vecs {
			if err := next.Insert(ctx, passages[start+i].ID, vec); err != nil {
				next.Close()
				os.Remove(tmpPath)
				return fmt.Errorf("indexing passage %d: %w", passages[start+i].ID, err)
			}
		}
	}

	if err := next.Persist(ctx); err != nil {
		next.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("persisting replacement index: %w", err)
	}
	if err := next.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("closing replacement index: %w", err)
	}

	// The old handle keeps serving reads from the replaced inode until
	// the new index is live.
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("swapping index file: %w", err)
	}
	reopened, err := index.Open(path, e.embedder.Dimension())
	if err != nil {
		return fmt.Errorf("%w: reopening rebuilt index: %v", ErrIndexUnavailable, err)
	}
	old := e.idx.Load()
	e.idx.Store(reopened)
	if err := old.Close(); err != nil {
		e.logger.Warn("closing previous index", "error", err)
	}

	e.logger.Info("reindex complete", "passages", len(passages))
	return nil
}

func (e *engine) AnonymizeContribution(ctx context.Context, id string) error {
	if e.closed.Load() {
		return ErrEngineClosed
	}
	err := e.store.AnonymizeContribution(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", ErrContributionNotFound, id)
	}
	return err
}

func (e *engine) Documents(ctx context.Context, activeOnly bool) ([]store.Document, error) {
	if e.closed.Load() {
		return nil, ErrEngineClosed
	}
	return e.store.ListDocuments(ctx, activeOnly)
}

func (e *engine) Stats(ctx context.Context) (*store.Stats, error) {
	if e.closed.Load() {
		return nil, ErrEngineClosed
	}
	return e.store.Stats(ctx)
}

func (e *engine) Close() error {
	if !e.closed.CompareAndSwap(false, true) {
		return ErrEngineClosed
	}
	if err := e.unifier.Persist(); err != nil {
		e.logger.Warn("persisting collection on close", "error", err)
	}
	var firstErr error
	if err := e.idx.Load().Close(); err != nil {
		firstErr = err
	}
	if err := e.store.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// contentHash identifies a document by what was ingested, so unchanged
// re-ingestions are detected before any work happens.
func contentHash(doc SourceDocument) string {
	sum := sha256.Sum256([]byte(doc.Title + "|" + doc.Content + "|" + doc.SourceURL))
	return hex.EncodeToString(sum[:])
}
