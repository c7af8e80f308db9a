// Package retrieval answers passage queries against the vector index
// and the relational corpus. Approximate search is oversampled, then
// joined with document metadata and filtered exactly, so callers never
// see a filter applied approximately.
package retrieval

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/defesajusta/defesajusta/index"
	"github.com/defesajusta/defesajusta/store"
)

// Embedder produces query vectors.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
}

// VectorIndex is the ANN search surface the retriever needs.
type VectorIndex interface {
	Search(ctx context.Context, query []float32, k int) ([]index.Match, error)
}

// PassageStore joins passages with their document metadata and serves
// the lexical fallback.
type PassageStore interface {
	PassageWithDocument(ctx context.Context, passageID int64) (*store.PassageHit, error)
	SearchPassages(ctx context.Context, query string, limit int) ([]store.PassageHit, error)
}

// Config holds retrieval tuning knobs.
type Config struct {
	// TopK is the default result count when the caller passes k <= 0.
	TopK int
	// OversampleFactor widens the ANN candidate set before exact
	// filtering. Values below 5 are raised to 5: metadata filters can
	// discard most of a narrow candidate set.
	OversampleFactor int
}

func (c Config) topK() int {
	if c.TopK > 0 {
		return c.TopK
	}
	return 10
}

func (c Config) oversample() int {
	if c.OversampleFactor > 5 {
		return c.OversampleFactor
	}
	return 5
}

// Filters restricts results by document metadata. Zero fields match
// everything.
type Filters struct {
	DocumentType string
	Jurisdiction string
}

func (f Filters) match(hit *store.PassageHit) bool {
	if f.DocumentType != "" && !strings.EqualFold(hit.DocumentType, f.DocumentType) {
		return false
	}
	if f.Jurisdiction != "" && !strings.EqualFold(hit.Jurisdiction, f.Jurisdiction) {
		return false
	}
	return true
}

// Result is one retrieved passage with its document context.
type Result struct {
	PassageID    int64   `json:"passage_id"`
	DocumentID   int64   `json:"document_id"`
	Title        string  `json:"title"`
	DocumentType string  `json:"document_type"`
	Jurisdiction string  `json:"jurisdiction,omitempty"`
	Text         string  `json:"text"`
	QualityScore float64 `json:"quality_score"`
	// Distance is the vector distance to the query. Zero on the
	// lexical fallback path.
	Distance float64 `json:"distance,omitempty"`
}

// Retriever performs semantic passage search with a lexical fallback.
type Retriever struct {
	embedder Embedder
	idx      VectorIndex
	passages PassageStore
	cfg      Config
	logger   *slog.Logger
}

// New creates a retriever over the given embedder, index, and store.
func New(embedder Embedder, idx VectorIndex, passages PassageStore, cfg Config, logger *slog.Logger) *Retriever {
	if logger == nil {
		logger = slog.Default()
	}
	return &Retriever{
		embedder: embedder,
		idx:      idx,
		passages: passages,
		cfg:      cfg,
		logger:   logger,
	}
}

// Retrieve returns up to k passages relevant to the query, best first.
// When the embedder is unavailable it falls back to full-text search
// and reports degraded = true; the fallback never masks index errors.
func (r *Retriever) Retrieve(ctx context.Context, query string, k int, filters Filters) (results []Result, degraded bool, err error) {
	if strings.TrimSpace(query) == "" {
		return nil, false, nil
	}
	if k <= 0 {
		k = r.cfg.topK()
	}

	vecs, err := r.embedder.Embed(ctx, []string{query})
	if err != nil {
		r.logger.Warn("retrieval: embedding failed, falling back to full-text search",
			"error", err)
		results, ferr := r.lexical(ctx, query, k, filters)
		if ferr != nil {
			return nil, true, fmt.Errorf("retrieval: fallback search: %w", ferr)
		}
		return results, true, nil
	}
	if len(vecs) != 1 {
		return nil, false, fmt.Errorf("retrieval: expected 1 query vector, got %d", len(vecs))
	}

	matches, err := r.idx.Search(ctx, vecs[0], k*r.cfg.oversample())
	if err != nil {
		return nil, false, fmt.Errorf("retrieval: index search: %w", err)
	}

	// Candidates arrive in ascending distance order; the exact filter
	// pass preserves it, so the first k survivors are the answer.
	for _, m := range matches {
		hit, err := r.passages.PassageWithDocument(ctx, m.PassageID)
		if errors.Is(err, sql.ErrNoRows) {
			// Index entry for a passage removed since the last
			// reindex. Skip rather than fail the query.
			continue
		}
		if err != nil {
			return nil, false, fmt.Errorf("retrieval: resolving passage %d: %w", m.PassageID, err)
		}
		if hit.Tombstoned || !filters.match(hit) {
			continue
		}
		results = append(results, Result{
			PassageID:    hit.PassageID,
			DocumentID:   hit.DocumentID,
			Title:        hit.Title,
			DocumentType: hit.DocumentType,
			Jurisdiction: hit.Jurisdiction,
			Text:         hit.Text,
			QualityScore: hit.QualityScore,
			Distance:     m.Distance,
		})
		if len(results) == k {
			break
		}
	}
	return results, false, nil
}

// lexical is the degraded path: FTS over passages, filtered the same
// way as the vector path.
func (r *Retriever) lexical(ctx context.Context, query string, k int, filters Filters) ([]Result, error) {
	hits, err := r.passages.SearchPassages(ctx, sanitizeFTSQuery(query), k*r.cfg.oversample())
	if err != nil {
		return nil, err
	}

	var results []Result
	for i := range hits {
		hit := &hits[i]
		if hit.Tombstoned || !filters.match(hit) {
			continue
		}
		results = append(results, Result{
			PassageID:    hit.PassageID,
			DocumentID:   hit.DocumentID,
			Title:        hit.Title,
			DocumentType: hit.DocumentType,
			Jurisdiction: hit.Jurisdiction,
			Text:         hit.Text,
			QualityScore: hit.QualityScore,
		})
		if len(results) == k {
			break
		}
	}
	return results, nil
}

// sanitizeFTSQuery rewrites free text as an OR query of bare terms so
// FTS5 operators in user input cannot break the match expression.
func sanitizeFTSQuery(query string) string {
	fields := strings.FieldsFunc(query, func(r rune) bool {
		return !isWordRune(r)
	})
	if len(fields) == 0 {
		return `""`
	}
	terms := make([]string, len(fields))
	for i, f := range fields {
		terms[i] = `"` + f + `"`
	}
	return strings.Join(terms, " OR ")
}

func isWordRune(r rune) bool {
	return r == '-' || r == '_' ||
		(r >= '0' && r <= '9') ||
		(r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') ||
		r > 127
}
