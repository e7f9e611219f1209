package store

import (
	"context"
	"database/sql"
	"time"
)

// RecordAttempt appends an attempt row and bumps the torrent's counters
// in the same transaction.
func (s *Store) RecordAttempt(ctx context.Context, a Attempt) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if a.AttemptDate.IsZero() {
		a.AttemptDate = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO attempts (torrent_id, attempt_date, success, error_message, response_time_ms, api_response)
		VALUES (?, ?, ?, ?, ?, ?)`,
		a.TorrentID, fmtTime(a.AttemptDate), boolToInt(a.Success),
		nullIfEmpty(a.ErrorMessage), a.ResponseTimeMs, nullIfEmpty(a.APIResponse),
	); err != nil {
		return err
	}

	if a.Success {
		_, err = tx.ExecContext(ctx, `
			UPDATE torrents SET attempts_count = attempts_count + 1, last_attempt = ?, last_success = ?
			WHERE id = ?`,
			fmtTime(a.AttemptDate), fmtTime(a.AttemptDate), a.TorrentID)
	} else {
		_, err = tx.ExecContext(ctx, `
			UPDATE torrents SET attempts_count = attempts_count + 1, last_attempt = ?
			WHERE id = ?`,
			fmtTime(a.AttemptDate), a.TorrentID)
	}
	if err != nil {
		return err
	}
	return tx.Commit()
}

// GetAttempts returns the attempt log for a torrent, newest first.
func (s *Store) GetAttempts(ctx context.Context, torrentID string, limit int) ([]Attempt, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, torrent_id, attempt_date, success, error_message, response_time_ms, api_response
		FROM attempts WHERE torrent_id = ? ORDER BY attempt_date DESC LIMIT ?`,
		torrentID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanAttempts(rows)
}

// AttemptStats summarizes attempts inside a recent window.
type AttemptStats struct {
	Total     int     `json:"total"`
	Succeeded int     `json:"succeeded"`
	Rate      float64 `json:"success_rate"`
}

func (s *Store) GetAttemptStats(ctx context.Context, since time.Duration) (AttemptStats, error) {
	cutoff := time.Now().UTC().Add(-since)
	var st AttemptStats
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(success), 0) FROM attempts WHERE attempt_date >= ?`,
		fmtTime(cutoff)).Scan(&st.Total, &st.Succeeded)
	if err != nil {
		return st, err
	}
	if st.Total > 0 {
		st.Rate = float64(st.Succeeded) / float64(st.Total)
	}
	return st, nil
}

func scanAttempts(rows *sql.Rows) ([]Attempt, error) {
	var out []Attempt
	for rows.Next() {
		var (
			a        Attempt
			date     string
			success  int
			errMsg   sql.NullString
			response sql.NullString
		)
		if err := rows.Scan(&a.ID, &a.TorrentID, &date, &success, &errMsg, &a.ResponseTimeMs, &response); err != nil {
			return nil, err
		}
		a.AttemptDate = parseTime(date)
		a.Success = success != 0
		a.ErrorMessage = errMsg.String
		a.APIResponse = response.String
		out = append(out, a)
	}
	return out, rows.Err()
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
