package store

import (
	"context"
	"database/sql"
	"time"
)

// RecordPermanentFailure inserts or replaces the terminal-failure row for
// (torrent, error type). A replaced row starts over as unprocessed.
func (s *Store) RecordPermanentFailure(ctx context.Context, f PermanentFailure) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if f.FailureDate.IsZero() {
		f.FailureDate = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO permanent_failures (torrent_id, filename, error_type, error_message, failure_date, processed)
		VALUES (?, ?, ?, ?, ?, 0)
		ON CONFLICT(torrent_id, error_type) DO UPDATE SET
			filename = excluded.filename,
			error_message = excluded.error_message,
			failure_date = excluded.failure_date,
			processed = 0`,
		f.TorrentID, f.Filename, f.ErrorType, nullIfEmpty(f.ErrorMessage), fmtTime(f.FailureDate))
	return err
}

func (s *Store) MarkFailureProcessed(ctx context.Context, torrentID, errorType string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_, err := s.db.ExecContext(ctx, `
		UPDATE permanent_failures SET processed = 1 WHERE torrent_id = ? AND error_type = ?`,
		torrentID, errorType)
	return err
}

func (s *Store) GetPermanentFailures(ctx context.Context, onlyUnprocessed bool, limit int) ([]PermanentFailure, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT id, torrent_id, filename, error_type, error_message, failure_date, processed
		FROM permanent_failures`
	if onlyUnprocessed {
		query += ` WHERE processed = 0`
	}
	query += ` ORDER BY failure_date DESC LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []PermanentFailure
	for rows.Next() {
		var (
			f         PermanentFailure
			date      string
			errMsg    sql.NullString
			processed int
		)
		if err := rows.Scan(&f.ID, &f.TorrentID, &f.Filename, &f.ErrorType, &errMsg, &date, &processed); err != nil {
			return nil, err
		}
		f.ErrorMessage = errMsg.String
		f.FailureDate = parseTime(date)
		f.Processed = processed != 0
		out = append(out, f)
	}
	return out, rows.Err()
}

func (s *Store) CountPermanentFailures(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM permanent_failures`).Scan(&n)
	return n, err
}
