package store

import (
	"context"
	"database/sql"
	"time"
)

// RecordSymlink persists a broken-link sighting for history and the
// control plane's broken-links view.
func (s *Store) RecordSymlink(ctx context.Context, r SymlinkRecord) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if r.DetectedAt.IsZero() {
		r.DetectedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO symlink_processing_history (source_path, target_path, torrent_name, status, size, error_message, detected_at, processed)
		VALUES (?, ?, ?, ?, ?, ?, ?, 0)
		ON CONFLICT(source_path, detected_at) DO NOTHING`,
		r.SourcePath, nullIfEmpty(r.TargetPath), nullIfEmpty(r.TorrentName),
		r.Status, r.Size, nullIfEmpty(r.ErrorMessage), fmtTime(r.DetectedAt))
	return err
}

// MarkSymlinkProcessed flags the newest history rows for a source path.
func (s *Store) MarkSymlinkProcessed(ctx context.Context, sourcePath string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_, err := s.db.ExecContext(ctx, `
		UPDATE symlink_processing_history SET processed = 1, processed_at = ?
		WHERE source_path = ? AND processed = 0`,
		fmtTime(time.Now().UTC()), sourcePath)
	return err
}

// GetSymlinks returns persisted broken-link history, newest first.
// processed filters when non-nil.
func (s *Store) GetSymlinks(ctx context.Context, processed *bool, limit int) ([]SymlinkRecord, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	query := `SELECT id, source_path, target_path, torrent_name, status, size, error_message, detected_at, processed, processed_at
		FROM symlink_processing_history`
	args := []any{}
	if processed != nil {
		query += ` WHERE processed = ?`
		args = append(args, boolToInt(*processed))
	}
	query += ` ORDER BY detected_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SymlinkRecord
	for rows.Next() {
		var (
			r           SymlinkRecord
			target      sql.NullString
			name        sql.NullString
			errMsg      sql.NullString
			detected    string
			processedI  int
			processedAt sql.NullString
		)
		if err := rows.Scan(&r.ID, &r.SourcePath, &target, &name, &r.Status, &r.Size,
			&errMsg, &detected, &processedI, &processedAt); err != nil {
			return nil, err
		}
		r.TargetPath = target.String
		r.TorrentName = name.String
		r.ErrorMessage = errMsg.String
		r.DetectedAt = parseTime(detected)
		r.Processed = processedI != 0
		r.ProcessedAt = parseTimePtr(processedAt)
		out = append(out, r)
	}
	return out, rows.Err()
}
