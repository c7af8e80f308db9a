package store

// schemaSQL is the DDL for the relational corpus: documents with
// provenance and ingestion scores, their passages, user contributions
// with contest outcomes, and an assembly audit log.
const schemaSQL = `
-- Source documents with provenance and ingestion-time scores.
-- content_hash identifies (title, content, source_url) so re-ingestion
-- of identical material is idempotent.
CREATE TABLE IF NOT EXISTS documents (
    id INTEGER PRIMARY KEY,
    title TEXT NOT NULL,
    document_type TEXT NOT NULL DEFAULT 'unknown',
    jurisdiction TEXT,
    publication_date TEXT,
    source_url TEXT,
    extracted_text TEXT NOT NULL,
    content_hash TEXT NOT NULL UNIQUE,
    quality_score REAL NOT NULL DEFAULT 0,
    relevance_score REAL NOT NULL DEFAULT 0,
    freshness_score REAL NOT NULL DEFAULT 0,
    authority_score REAL NOT NULL DEFAULT 0,
    tombstoned INTEGER NOT NULL DEFAULT 0,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

-- Passages owned by documents; text is a fragment of extracted_text.
CREATE TABLE IF NOT EXISTS passages (
    id INTEGER PRIMARY KEY,
    document_id INTEGER NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
    position INTEGER NOT NULL,
    text TEXT NOT NULL
);

-- Full-text search over passages via FTS5.
CREATE VIRTUAL TABLE IF NOT EXISTS passages_fts USING fts5(
    text,
    content='passages',
    content_rowid='id',
    tokenize='unicode61'
);

CREATE TRIGGER IF NOT EXISTS passages_ai AFTER INSERT ON passages BEGIN
    INSERT INTO passages_fts(rowid, text) VALUES (new.id, new.text);
END;
CREATE TRIGGER IF NOT EXISTS passages_ad AFTER DELETE ON passages BEGIN
    INSERT INTO passages_fts(passages_fts, rowid, text) VALUES ('delete', old.id, old.text);
END;
CREATE TRIGGER IF NOT EXISTS passages_au AFTER UPDATE ON passages BEGIN
    INSERT INTO passages_fts(passages_fts, rowid, text) VALUES ('delete', old.id, old.text);
    INSERT INTO passages_fts(rowid, text) VALUES (new.id, new.text);
END;

-- Validated user-submitted fine examples. Append-only; the only later
-- mutation is the compliance scrub, which voids the location/amount
-- linkage while preserving aggregate statistics.
CREATE TABLE IF NOT EXISTS contributions (
    id TEXT PRIMARY KEY,
    category TEXT NOT NULL,
    location TEXT NOT NULL,
    amount REAL NOT NULL,
    authority TEXT NOT NULL,
    date_issued TEXT NOT NULL,
    outcome TEXT,
    privacy_token TEXT NOT NULL,
    anonymized INTEGER NOT NULL DEFAULT 0,
    submitted_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

-- Contest outcomes referencing contributions.
CREATE TABLE IF NOT EXISTS contests (
    id TEXT PRIMARY KEY,
    contribution_id TEXT NOT NULL REFERENCES contributions(id),
    contest_type TEXT NOT NULL,
    outcome TEXT,
    strategy_text TEXT,
    supporting_reference TEXT,
    feedback_score REAL NOT NULL DEFAULT 0,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

-- Audit log of context-assembly requests.
CREATE TABLE IF NOT EXISTS assembly_log (
    id INTEGER PRIMARY KEY,
    category TEXT NOT NULL,
    location TEXT,
    amount REAL,
    statutes INTEGER NOT NULL DEFAULT 0,
    examples INTEGER NOT NULL DEFAULT 0,
    tips INTEGER NOT NULL DEFAULT 0,
    passages INTEGER NOT NULL DEFAULT 0,
    degraded INTEGER NOT NULL DEFAULT 0,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

-- Indexes
CREATE INDEX IF NOT EXISTS idx_passages_document ON passages(document_id);
CREATE INDEX IF NOT EXISTS idx_documents_type ON documents(document_type);
CREATE INDEX IF NOT EXISTS idx_documents_hash ON documents(content_hash);
CREATE INDEX IF NOT EXISTS idx_contributions_category ON contributions(category);
CREATE INDEX IF NOT EXISTS idx_contests_contribution ON contests(contribution_id);
`
