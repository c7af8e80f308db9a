package store

import (
	"context"
	"database/sql"
	"fmt"
)

// migration is a single schema upgrade step. Version N brings a database
// at version N-1 up to N.
type migration struct {
	version int
	apply   func(context.Context, *sql.Tx) error
}

// migrations lists upgrade steps beyond the baseline schema. The
// baseline (version 1) is schemaSQL, applied idempotently by New.
var migrations = []migration{}

// Migrate records the schema version and applies any pending upgrade
// steps inside transactions.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	var current int
	if err := s.db.QueryRowContext(ctx,
		"SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&current); err != nil {
		return fmt.Errorf("reading schema version: %w", err)
	}

	if current == 0 {
		if _, err := s.db.ExecContext(ctx,
			"INSERT INTO schema_version (version) VALUES (1)"); err != nil {
			return fmt.Errorf("recording baseline version: %w", err)
		}
		current = 1
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		err := s.inTx(ctx, func(tx *sql.Tx) error {
			if err := m.apply(ctx, tx); err != nil {
				return err
			}
			_, err := tx.ExecContext(ctx,
				"INSERT INTO schema_version (version) VALUES (?)", m.version)
			return err
		})
		if err != nil {
			return fmt.Errorf("applying migration %d: %w", m.version, err)
		}
		current = m.version
	}
	return nil
}
