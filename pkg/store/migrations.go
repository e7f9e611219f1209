package store

import (
	"context"
	"database/sql"
	"fmt"
)

// Migrations are numbered and applied in order inside one transaction
// each; the schema version lives in PRAGMA user_version.
var migrations = []func(ctx context.Context, tx *sql.Tx) error{
	migrateInitial,
	migrateSymlinkCleanup,
	migrateSymlinkHistory,
}

func (s *Store) migrate(ctx context.Context) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	var version int
	if err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("reading schema version: %w", err)
	}
	if version >= len(migrations) {
		return nil
	}

	for i := version; i < len(migrations); i++ {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		if err := migrations[i](ctx, tx); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration %d: %w", i+1, err)
		}
		if _, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", i+1)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("bumping schema version to %d: %w", i+1, err)
		}
		if err := tx.Commit(); err != nil {
			return err
		}
		s.logger.Info().Int("version", i+1).Msg("applied schema migration")
	}
	return nil
}

func migrateInitial(ctx context.Context, tx *sql.Tx) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS torrents (
			id TEXT PRIMARY KEY,
			hash TEXT NOT NULL,
			filename TEXT NOT NULL,
			status TEXT NOT NULL,
			size INTEGER NOT NULL DEFAULT 0,
			added_date TEXT,
			first_seen TEXT NOT NULL,
			last_seen TEXT NOT NULL,
			attempts_count INTEGER NOT NULL DEFAULT 0,
			last_attempt TEXT,
			last_success TEXT,
			priority INTEGER NOT NULL DEFAULT 2,
			metadata TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS attempts (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			torrent_id TEXT NOT NULL REFERENCES torrents(id),
			attempt_date TEXT NOT NULL,
			success INTEGER NOT NULL,
			error_message TEXT,
			response_time_ms INTEGER NOT NULL DEFAULT 0,
			api_response TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS metrics (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp TEXT NOT NULL,
			metric_type TEXT NOT NULL,
			metric_name TEXT NOT NULL,
			value REAL NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS scan_progress (
			scan_type TEXT PRIMARY KEY,
			current_offset INTEGER NOT NULL DEFAULT 0,
			total_expected INTEGER NOT NULL DEFAULT 0,
			last_scan_start TEXT,
			last_scan_complete TEXT,
			status TEXT NOT NULL DEFAULT 'idle'
		)`,
		`CREATE TABLE IF NOT EXISTS permanent_failures (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			torrent_id TEXT NOT NULL,
			filename TEXT NOT NULL,
			error_type TEXT NOT NULL,
			error_message TEXT,
			failure_date TEXT NOT NULL,
			processed INTEGER NOT NULL DEFAULT 0,
			UNIQUE(torrent_id, error_type)
		)`,
		`CREATE TABLE IF NOT EXISTS retry_queue (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			torrent_id TEXT NOT NULL,
			filename TEXT NOT NULL,
			error_type TEXT NOT NULL,
			error_message TEXT,
			original_failure TEXT NOT NULL,
			scheduled_retry TEXT NOT NULL,
			retry_count INTEGER NOT NULL DEFAULT 0,
			last_retry_attempt TEXT,
			UNIQUE(torrent_id, error_type)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_torrents_status ON torrents(status)`,
		`CREATE INDEX IF NOT EXISTS idx_torrents_last_seen ON torrents(last_seen)`,
		`CREATE INDEX IF NOT EXISTS idx_torrents_hash ON torrents(hash)`,
		`CREATE INDEX IF NOT EXISTS idx_attempts_torrent_id ON attempts(torrent_id)`,
		`CREATE INDEX IF NOT EXISTS idx_attempts_date ON attempts(attempt_date)`,
		`CREATE INDEX IF NOT EXISTS idx_metrics_timestamp ON metrics(timestamp)`,
		`CREATE INDEX IF NOT EXISTS idx_metrics_type_name ON metrics(metric_type, metric_name)`,
		`CREATE INDEX IF NOT EXISTS idx_permanent_failures_date ON permanent_failures(failure_date)`,
		`CREATE INDEX IF NOT EXISTS idx_retry_queue_scheduled ON retry_queue(scheduled_retry)`,
		`CREATE INDEX IF NOT EXISTS idx_retry_queue_torrent ON retry_queue(torrent_id)`,
	}
	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func migrateSymlinkCleanup(ctx context.Context, tx *sql.Tx) error {
	hasColumn, err := columnExists(ctx, tx, "torrents", "needs_symlink_cleanup")
	if err != nil {
		return err
	}
	if !hasColumn {
		if _, err := tx.ExecContext(ctx,
			`ALTER TABLE torrents ADD COLUMN needs_symlink_cleanup INTEGER NOT NULL DEFAULT 0`); err != nil {
			return err
		}
	}
	_, err = tx.ExecContext(ctx,
		`CREATE INDEX IF NOT EXISTS idx_torrents_symlink_cleanup ON torrents(needs_symlink_cleanup)`)
	return err
}

func migrateSymlinkHistory(ctx context.Context, tx *sql.Tx) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS symlink_processing_history (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			source_path TEXT NOT NULL,
			target_path TEXT,
			torrent_name TEXT,
			status TEXT NOT NULL,
			size INTEGER NOT NULL DEFAULT 0,
			error_message TEXT,
			detected_at TEXT NOT NULL,
			processed INTEGER NOT NULL DEFAULT 0,
			processed_at TEXT,
			UNIQUE(source_path, detected_at)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_symlink_history_processed ON symlink_processing_history(processed)`,
		`CREATE INDEX IF NOT EXISTS idx_symlink_history_detected ON symlink_processing_history(detected_at)`,
	}
	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func columnExists(ctx context.Context, tx *sql.Tx, table, column string) (bool, error) {
	rows, err := tx.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return false, err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			cid     int
			name    string
			ctype   string
			notNull int
			dflt    sql.NullString
			pk      int
		)
		if err := rows.Scan(&cid, &name, &ctype, &notNull, &dflt, &pk); err != nil {
			return false, err
		}
		if name == column {
			return true, nil
		}
	}
	return false, rows.Err()
}
