// Package index wraps the persisted vector index: an sqlite-vec database
// file at a configured path holding one embedding per passage. The file
// is the durable form of the index; opening it is version- and
// schema-checked so a missing or corrupt index is a reported error,
// never a silent empty start.
package index

import (
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"time"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"
)

func init() {
	sqlite_vec.Auto()
}

// formatVersion is bumped whenever the on-disk layout changes.
// Open rejects files written by an unknown version.
const formatVersion = 1

// ErrUnavailable is returned when the index file is missing, corrupt,
// or written in an incompatible format or dimension.
var ErrUnavailable = errors.New("index: persisted index unavailable")

// Match is a single search hit: a passage and its distance to the query.
type Match struct {
	PassageID int64
	Distance  float64
}

// Index is a persisted approximate-nearest-neighbour index over passage
// vectors. Safe for concurrent readers; writers are serialised by the
// owning engine.
type Index struct {
	db   *sql.DB
	path string
	dim  int
}

// Create initialises a new index file at path with the given vector
// dimension, replacing nothing: the file must not already exist.
func Create(path string, dim int) (*Index, error) {
	if _, err := os.Stat(path); err == nil {
		return nil, fmt.Errorf("index: file already exists: %s", path)
	}
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("index: creating directory: %w", err)
		}
	}

	db, err := openDB(path)
	if err != nil {
		return nil, err
	}

	stmts := []string{
		`CREATE TABLE index_meta (key TEXT PRIMARY KEY, value TEXT NOT NULL)`,
		fmt.Sprintf(`CREATE VIRTUAL TABLE vec_passages USING vec0(
			passage_id INTEGER PRIMARY KEY,
			embedding float[%d]
		)`, dim),
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			os.Remove(path)
			return nil, fmt.Errorf("index: creating schema: %w", err)
		}
	}
	for key, value := range map[string]string{
		"format_version": strconv.Itoa(formatVersion),
		"dimension":      strconv.Itoa(dim),
	} {
		if _, err := db.Exec(
			"INSERT INTO index_meta (key, value) VALUES (?, ?)", key, value); err != nil {
			db.Close()
			os.Remove(path)
			return nil, fmt.Errorf("index: writing metadata: %w", err)
		}
	}

	return &Index{db: db, path: path, dim: dim}, nil
}

// Open loads an existing index file, verifying format version, vector
// dimension, and basic file integrity. Any failure wraps ErrUnavailable.
func Open(path string, dim int) (*Index, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrUnavailable, path, err)
	}

	db, err := openDB(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	var check string
	if err := db.QueryRow("PRAGMA quick_check").Scan(&check); err != nil || check != "ok" {
		db.Close()
		return nil, fmt.Errorf("%w: integrity check failed: %s %v", ErrUnavailable, check, err)
	}

	version, err := readMeta(db, "format_version")
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: reading format version: %v", ErrUnavailable, err)
	}
	if version != formatVersion {
		db.Close()
		return nil, fmt.Errorf("%w: format version %d, expected %d", ErrUnavailable, version, formatVersion)
	}

	storedDim, err := readMeta(db, "dimension")
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: reading dimension: %v", ErrUnavailable, err)
	}
	if storedDim != dim {
		db.Close()
		return nil, fmt.Errorf("%w: dimension %d, expected %d", ErrUnavailable, storedDim, dim)
	}

	return &Index{db: db, path: path, dim: dim}, nil
}

func openDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=30000")
	if err != nil {
		return nil, fmt.Errorf("index: opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("index: pinging database: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)
	return db, nil
}

func readMeta(db *sql.DB, key string) (int, error) {
	var value string
	if err := db.QueryRow(
		"SELECT value FROM index_meta WHERE key = ?", key).Scan(&value); err != nil {
		return 0, err
	}
	return strconv.Atoi(value)
}

// Path returns the index file location.
func (ix *Index) Path() string { return ix.path }

// Dimension returns the vector dimension the index was built with.
func (ix *Index) Dimension() int { return ix.dim }

// Insert appends or replaces the vector for a passage. Incremental: no
// rebuild is required for new vectors.
func (ix *Index) Insert(ctx context.Context, passageID int64, vec []float32) error {
	if len(vec) != ix.dim {
		return fmt.Errorf("index: vector dimension %d, expected %d", len(vec), ix.dim)
	}
	_, err := ix.db.ExecContext(ctx,
		"INSERT OR REPLACE INTO vec_passages (passage_id, embedding) VALUES (?, ?)",
		passageID, serializeFloat32(vec))
	return err
}

// Delete removes a single passage vector. Used by corpus maintenance
// after a full reindex; routine removal goes through tombstones instead.
func (ix *Index) Delete(ctx context.Context, passageID int64) error {
	_, err := ix.db.ExecContext(ctx,
		"DELETE FROM vec_passages WHERE passage_id = ?", passageID)
	return err
}

// Search returns up to k passages ordered by ascending distance to the
// query vector.
func (ix *Index) Search(ctx context.Context, query []float32, k int) ([]Match, error) {
	if len(query) != ix.dim {
		return nil, fmt.Errorf("index: query dimension %d, expected %d", len(query), ix.dim)
	}
	if k <= 0 {
		return nil, nil
	}

	rows, err := ix.db.QueryContext(ctx, `
		SELECT passage_id, distance
		FROM vec_passages
		WHERE embedding MATCH ? AND k = ?
		ORDER BY distance
	`, serializeFloat32(query), k)
	if err != nil {
		return nil, fmt.Errorf("index: search: %w", err)
	}
	defer rows.Close()

	var matches []Match
	for rows.Next() {
		var m Match
		if err := rows.Scan(&m.PassageID, &m.Distance); err != nil {
			return nil, err
		}
		matches = append(matches, m)
	}
	return matches, rows.Err()
}

// Count returns the number of stored vectors.
func (ix *Index) Count(ctx context.Context) (int, error) {
	var n int
	err := ix.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM vec_passages").Scan(&n)
	return n, err
}

// Persist flushes the write-ahead log into the main index file so the
// on-disk form is complete and self-contained.
func (ix *Index) Persist(ctx context.Context) error {
	if _, err := ix.db.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		return fmt.Errorf("index: checkpoint: %w", err)
	}
	return nil
}

// Close releases the underlying database handle.
func (ix *Index) Close() error {
	return ix.db.Close()
}

// serializeFloat32 converts a float32 slice to little-endian bytes for
// sqlite-vec.
func serializeFloat32(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}
