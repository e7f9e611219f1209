package store

import (
	"context"
	"database/sql"
	"time"
)

// ScheduleRetry inserts or replaces the deferred-retry row for
// (torrent, error type), resetting its retry count.
func (s *Store) ScheduleRetry(ctx context.Context, e RetryEntry) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	now := time.Now().UTC()
	if e.OriginalFailure.IsZero() {
		e.OriginalFailure = now
	}
	if e.ScheduledRetry.IsZero() {
		e.ScheduledRetry = now
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO retry_queue (torrent_id, filename, error_type, error_message, original_failure, scheduled_retry, retry_count)
		VALUES (?, ?, ?, ?, ?, ?, 0)
		ON CONFLICT(torrent_id, error_type) DO UPDATE SET
			filename = excluded.filename,
			error_message = excluded.error_message,
			scheduled_retry = excluded.scheduled_retry,
			retry_count = 0,
			last_retry_attempt = NULL`,
		e.TorrentID, e.Filename, e.ErrorType, nullIfEmpty(e.ErrorMessage),
		fmtTime(e.OriginalFailure), fmtTime(e.ScheduledRetry))
	return err
}

// GetPendingRetries returns due rows with retries left, earliest first.
func (s *Store) GetPendingRetries(ctx context.Context, maxRetries int) ([]RetryEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, torrent_id, filename, error_type, error_message, original_failure, scheduled_retry, retry_count, last_retry_attempt
		FROM retry_queue
		WHERE scheduled_retry <= ? AND retry_count < ?
		ORDER BY scheduled_retry ASC`,
		fmtTime(time.Now().UTC()), maxRetries)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RetryEntry
	for rows.Next() {
		var (
			e         RetryEntry
			errMsg    sql.NullString
			original  string
			scheduled string
			lastTry   sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.TorrentID, &e.Filename, &e.ErrorType, &errMsg,
			&original, &scheduled, &e.RetryCount, &lastTry); err != nil {
			return nil, err
		}
		e.ErrorMessage = errMsg.String
		e.OriginalFailure = parseTime(original)
		e.ScheduledRetry = parseTime(scheduled)
		e.LastRetryAttempt = parseTimePtr(lastTry)
		out = append(out, e)
	}
	return out, rows.Err()
}

// DeleteRetry removes a row after a successful deferred re-submission.
func (s *Store) DeleteRetry(ctx context.Context, id int64) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_, err := s.db.ExecContext(ctx, `DELETE FROM retry_queue WHERE id = ?`, id)
	return err
}

// BumpRetry records a failed deferred attempt. The next scheduled_retry is
// advanced only while the row still has headroom to be retried again.
func (s *Store) BumpRetry(ctx context.Context, id int64, maxRetries int, hold time.Duration) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	now := time.Now().UTC()
	var retryCount int
	err := s.db.QueryRowContext(ctx, `SELECT retry_count FROM retry_queue WHERE id = ?`, id).Scan(&retryCount)
	if err != nil {
		return err
	}

	if retryCount < maxRetries-1 {
		_, err = s.db.ExecContext(ctx, `
			UPDATE retry_queue SET retry_count = retry_count + 1, last_retry_attempt = ?, scheduled_retry = ?
			WHERE id = ?`,
			fmtTime(now), fmtTime(now.Add(hold)), id)
	} else {
		_, err = s.db.ExecContext(ctx, `
			UPDATE retry_queue SET retry_count = retry_count + 1, last_retry_attempt = ?
			WHERE id = ?`,
			fmtTime(now), id)
	}
	return err
}

func (s *Store) CountPendingRetries(ctx context.Context, maxRetries int) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM retry_queue WHERE retry_count < ?`, maxRetries).Scan(&n)
	return n, err
}
