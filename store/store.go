// Package store is the relational record of the defense corpus:
// documents and passages with provenance and ingestion scores, plus the
// append-only contribution and contest records.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Document represents a row in the documents table.
type Document struct {
	ID              int64   `json:"id"`
	Title           string  `json:"title"`
	DocumentType    string  `json:"document_type"` // statute, precedent, regulation, unknown
	Jurisdiction    string  `json:"jurisdiction,omitempty"`
	PublicationDate string  `json:"publication_date,omitempty"`
	SourceURL       string  `json:"source_url,omitempty"`
	ExtractedText   string  `json:"extracted_text"`
	ContentHash     string  `json:"content_hash"`
	QualityScore    float64 `json:"quality_score"`
	RelevanceScore  float64 `json:"relevance_score"`
	FreshnessScore  float64 `json:"freshness_score"`
	AuthorityScore  float64 `json:"authority_score"`
	Tombstoned      bool    `json:"tombstoned"`
	CreatedAt       string  `json:"created_at"`
	UpdatedAt       string  `json:"updated_at"`
}

// Passage represents a row in the passages table.
type Passage struct {
	ID         int64  `json:"id"`
	DocumentID int64  `json:"document_id"`
	Position   int    `json:"position"`
	Text       string `json:"text"`
}

// PassageHit joins a passage with the document fields the retriever
// filters on.
type PassageHit struct {
	PassageID    int64   `json:"passage_id"`
	DocumentID   int64   `json:"document_id"`
	Text         string  `json:"text"`
	Title        string  `json:"title"`
	DocumentType string  `json:"document_type"`
	Jurisdiction string  `json:"jurisdiction"`
	QualityScore float64 `json:"quality_score"`
	Tombstoned   bool    `json:"tombstoned"`
}

// Contribution represents a validated user-submitted fine example.
type Contribution struct {
	ID           string  `json:"id"`
	Category     string  `json:"category"`
	Location     string  `json:"location"`
	Amount       float64 `json:"amount"`
	Authority    string  `json:"authority"`
	DateIssued   string  `json:"date_issued"`
	Outcome      string  `json:"outcome,omitempty"`
	PrivacyToken string  `json:"privacy_token"`
	Anonymized   bool    `json:"anonymized"`
	SubmittedAt  string  `json:"submitted_at"`
}

// Contest represents a contest outcome for a contribution.
type Contest struct {
	ID                  string  `json:"id"`
	ContributionID      string  `json:"contribution_id"`
	ContestType         string  `json:"contest_type"`
	Outcome             string  `json:"outcome,omitempty"`
	StrategyText        string  `json:"strategy_text,omitempty"`
	SupportingReference string  `json:"supporting_reference,omitempty"`
	FeedbackScore       float64 `json:"feedback_score"`
	CreatedAt           string  `json:"created_at"`
}

// AssemblyRecord is one row of the context-assembly audit log.
type AssemblyRecord struct {
	Category string
	Location string
	Amount   float64
	Statutes int
	Examples int
	Tips     int
	Passages int
	Degraded bool
}

// Store wraps the SQLite database for all relational persistence.
type Store struct {
	db *sql.DB
}

// New opens (or creates) the corpus database at the given path and
// initialises the schema including the FTS5 virtual table.
func New(dbPath string) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=30000")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)

	s := &Store{db: db}
	if err := s.Migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying *sql.DB for advanced queries.
func (s *Store) DB() *sql.DB {
	return s.db
}

// --- Document operations ---

// UpsertDocument inserts or updates a document by content hash and
// returns its ID. Re-ingesting identical material updates scores in
// place rather than duplicating the record.
func (s *Store) UpsertDocument(ctx context.Context, doc Document) (int64, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO documents (title, document_type, jurisdiction, publication_date,
			source_url, extracted_text, content_hash,
			quality_score, relevance_score, freshness_score, authority_score)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(content_hash) DO UPDATE SET
			title = excluded.title,
			document_type = excluded.document_type,
			jurisdiction = excluded.jurisdiction,
			publication_date = excluded.publication_date,
			source_url = excluded.source_url,
			extracted_text = excluded.extracted_text,
			quality_score = excluded.quality_score,
			relevance_score = excluded.relevance_score,
			freshness_score = excluded.freshness_score,
			authority_score = excluded.authority_score,
			tombstoned = 0,
			updated_at = CURRENT_TIMESTAMP
	`, doc.Title, doc.DocumentType, doc.Jurisdiction, doc.PublicationDate,
		doc.SourceURL, doc.ExtractedText, doc.ContentHash,
		doc.QualityScore, doc.RelevanceScore, doc.FreshnessScore, doc.AuthorityScore)
	if err != nil {
		return 0, err
	}

	// LastInsertId reports the connection's last INSERT, which on the
	// DO UPDATE branch is some earlier, unrelated row. The content hash
	// is the identity; resolve the id through it.
	var id int64
	if err := s.db.QueryRowContext(ctx,
		"SELECT id FROM documents WHERE content_hash = ?", doc.ContentHash).Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

const documentColumns = `id, title, document_type, COALESCE(jurisdiction, ''),
	COALESCE(publication_date, ''), COALESCE(source_url, ''), extracted_text, content_hash,
	quality_score, relevance_score, freshness_score, authority_score,
	tombstoned, created_at, updated_at`

func scanDocument(row interface{ Scan(...any) error }) (*Document, error) {
	doc := &Document{}
	err := row.Scan(&doc.ID, &doc.Title, &doc.DocumentType, &doc.Jurisdiction,
		&doc.PublicationDate, &doc.SourceURL, &doc.ExtractedText, &doc.ContentHash,
		&doc.QualityScore, &doc.RelevanceScore, &doc.FreshnessScore, &doc.AuthorityScore,
		&doc.Tombstoned, &doc.CreatedAt, &doc.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// GetDocument retrieves a document by ID.
func (s *Store) GetDocument(ctx context.Context, id int64) (*Document, error) {
	return scanDocument(s.db.QueryRowContext(ctx,
		"SELECT "+documentColumns+" FROM documents WHERE id = ?", id))
}

// GetDocumentByHash retrieves a document by its content hash.
func (s *Store) GetDocumentByHash(ctx context.Context, hash string) (*Document, error) {
	return scanDocument(s.db.QueryRowContext(ctx,
		"SELECT "+documentColumns+" FROM documents WHERE content_hash = ?", hash))
}

// ListDocuments returns documents ordered by creation time, newest
// first. Tombstoned documents are excluded when activeOnly is set.
func (s *Store) ListDocuments(ctx context.Context, activeOnly bool) ([]Document, error) {
	query := "SELECT " + documentColumns + " FROM documents"
	if activeOnly {
		query += " WHERE tombstoned = 0"
	}
	query += " ORDER BY created_at DESC, id DESC"

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, *doc)
	}
	return docs, rows.Err()
}

// TombstoneDocument marks a document for removal at the next reindex.
// The ANN structure cannot cheaply drop a single vector, so deletion is
// tombstone-then-rebuild.
func (s *Store) TombstoneDocument(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE documents SET tombstoned = 1, updated_at = CURRENT_TIMESTAMP WHERE id = ?", id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// --- Passage operations ---

// ReplacePassages atomically swaps a document's passages for the given
// texts and returns the new passage IDs in order. Re-ingestion never
// leaves stale passages behind.
func (s *Store) ReplacePassages(ctx context.Context, docID int64, texts []string) ([]int64, error) {
	ids := make([]int64, len(texts))
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			"DELETE FROM passages WHERE document_id = ?", docID); err != nil {
			return err
		}

		stmt, err := tx.PrepareContext(ctx,
			"INSERT INTO passages (document_id, position, text) VALUES (?, ?, ?)")
		if err != nil {
			return err
		}
		defer stmt.Close()

		for i, text := range texts {
			res, err := stmt.ExecContext(ctx, docID, i, text)
			if err != nil {
				return err
			}
			if ids[i], err = res.LastInsertId(); err != nil {
				return err
			}
		}
		return nil
	})
	return ids, err
}

// PassageWithDocument returns a passage joined with its document's
// filterable fields.
func (s *Store) PassageWithDocument(ctx context.Context, passageID int64) (*PassageHit, error) {
	hit := &PassageHit{}
	err := s.db.QueryRowContext(ctx, `
		SELECT p.id, p.document_id, p.text,
			d.title, d.document_type, COALESCE(d.jurisdiction, ''), d.quality_score, d.tombstoned
		FROM passages p
		JOIN documents d ON d.id = p.document_id
		WHERE p.id = ?
	`, passageID).Scan(&hit.PassageID, &hit.DocumentID, &hit.Text,
		&hit.Title, &hit.DocumentType, &hit.Jurisdiction, &hit.QualityScore, &hit.Tombstoned)
	if err != nil {
		return nil, err
	}
	return hit, nil
}

// ActivePassages returns all passages belonging to non-tombstoned
// documents, ordered by passage ID. This is the reindex input set.
func (s *Store) ActivePassages(ctx context.Context) ([]Passage, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT p.id, p.document_id, p.position, p.text
		FROM passages p
		JOIN documents d ON d.id = p.document_id
		WHERE d.tombstoned = 0
		ORDER BY p.id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var passages []Passage
	for rows.Next() {
		var p Passage
		if err := rows.Scan(&p.ID, &p.DocumentID, &p.Position, &p.Text); err != nil {
			return nil, err
		}
		passages = append(passages, p)
	}
	return passages, rows.Err()
}

// SearchPassages performs a full-text search over passages of active
// documents. Used as the degraded retrieval path when embedding fails.
func (s *Store) SearchPassages(ctx context.Context, query string, limit int) ([]PassageHit, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT f.rowid, p.document_id, p.text,
			d.title, d.document_type, COALESCE(d.jurisdiction, ''), d.quality_score, d.tombstoned
		FROM passages_fts f
		JOIN passages p ON p.id = f.rowid
		JOIN documents d ON d.id = p.document_id
		WHERE passages_fts MATCH ? AND d.tombstoned = 0
		ORDER BY f.rank
		LIMIT ?
	`, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var hits []PassageHit
	for rows.Next() {
		var h PassageHit
		if err := rows.Scan(&h.PassageID, &h.DocumentID, &h.Text,
			&h.Title, &h.DocumentType, &h.Jurisdiction, &h.QualityScore, &h.Tombstoned); err != nil {
			return nil, err
		}
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

// --- Contribution operations ---

// InsertContribution appends a validated contribution. Resubmission of
// the same deterministic ID is a no-op returning the existing record's
// ID, keeping the table append-only and idempotent.
func (s *Store) InsertContribution(ctx context.Context, c Contribution) (string, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO contributions
			(id, category, location, amount, authority, date_issued, outcome, privacy_token)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, c.ID, c.Category, c.Location, c.Amount, c.Authority, c.DateIssued, c.Outcome, c.PrivacyToken)
	if err != nil {
		return "", err
	}
	return c.ID, nil
}

// GetContribution retrieves a contribution by ID.
func (s *Store) GetContribution(ctx context.Context, id string) (*Contribution, error) {
	c := &Contribution{}
	var outcome sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, category, location, amount, authority, date_issued,
			outcome, privacy_token, anonymized, submitted_at
		FROM contributions WHERE id = ?
	`, id).Scan(&c.ID, &c.Category, &c.Location, &c.Amount, &c.Authority,
		&c.DateIssued, &outcome, &c.PrivacyToken, &c.Anonymized, &c.SubmittedAt)
	if err != nil {
		return nil, err
	}
	c.Outcome = outcome.String
	return c, nil
}

// ListContributions returns all contributions ordered by ID for
// deterministic unifier runs.
func (s *Store) ListContributions(ctx context.Context) ([]Contribution, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, category, location, amount, authority, date_issued,
			outcome, privacy_token, anonymized, submitted_at
		FROM contributions ORDER BY id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Contribution
	for rows.Next() {
		var c Contribution
		var outcome sql.NullString
		if err := rows.Scan(&c.ID, &c.Category, &c.Location, &c.Amount, &c.Authority,
			&c.DateIssued, &outcome, &c.PrivacyToken, &c.Anonymized, &c.SubmittedAt); err != nil {
			return nil, err
		}
		c.Outcome = outcome.String
		out = append(out, c)
	}
	return out, rows.Err()
}

// AnonymizeContribution scrubs the fields that link a contribution to a
// person or place while keeping category and outcome for aggregate
// contest statistics.
func (s *Store) AnonymizeContribution(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE contributions
		SET location = '', amount = 0, authority = '', privacy_token = '', anonymized = 1
		WHERE id = ?
	`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// --- Contest operations ---

// InsertContest appends a contest record. The contribution must exist.
func (s *Store) InsertContest(ctx context.Context, c Contest) error {
	var exists int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM contributions WHERE id = ?", c.ContributionID).Scan(&exists)
	if err != nil {
		return err
	}
	if exists == 0 {
		return sql.ErrNoRows
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO contests (id, contribution_id, contest_type, outcome,
			strategy_text, supporting_reference, feedback_score)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, c.ID, c.ContributionID, c.ContestType, c.Outcome,
		c.StrategyText, c.SupportingReference, c.FeedbackScore)
	return err
}

// ContestsByContribution returns contests for one contribution, ordered
// by ID for deterministic unifier runs.
func (s *Store) ContestsByContribution(ctx context.Context, contributionID string) ([]Contest, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, contribution_id, contest_type, COALESCE(outcome, ''),
			COALESCE(strategy_text, ''), COALESCE(supporting_reference, ''),
			feedback_score, created_at
		FROM contests WHERE contribution_id = ? ORDER BY id
	`, contributionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Contest
	for rows.Next() {
		var c Contest
		if err := rows.Scan(&c.ID, &c.ContributionID, &c.ContestType, &c.Outcome,
			&c.StrategyText, &c.SupportingReference, &c.FeedbackScore, &c.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// --- Audit log ---

// LogAssembly records a context-assembly request for diagnostics.
func (s *Store) LogAssembly(ctx context.Context, r AssemblyRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO assembly_log (category, location, amount, statutes, examples, tips, passages, degraded)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, r.Category, r.Location, r.Amount, r.Statutes, r.Examples, r.Tips, r.Passages, r.Degraded)
	return err
}

// --- Stats ---

// Stats holds counts of key database objects.
type Stats struct {
	Documents     int `json:"documents"`
	Passages      int `json:"passages"`
	Contributions int `json:"contributions"`
	Contests      int `json:"contests"`
}

// Stats returns counts of documents, passages, contributions, and contests.
func (s *Store) Stats(ctx context.Context) (*Stats, error) {
	stats := &Stats{}
	queries := []struct {
		query string
		dest  *int
	}{
		{"SELECT COUNT(*) FROM documents", &stats.Documents},
		{"SELECT COUNT(*) FROM passages", &stats.Passages},
		{"SELECT COUNT(*) FROM contributions", &stats.Contributions},
		{"SELECT COUNT(*) FROM contests", &stats.Contests},
	}
	for _, q := range queries {
		if err := s.db.QueryRowContext(ctx, q.query).Scan(q.dest); err != nil {
			return nil, fmt.Errorf("counting %s: %w", q.query, err)
		}
	}
	return stats, nil
}

// --- helpers ---

func (s *Store) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}
