package store

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// UpdateScanProgress upserts the cursor row for one scan kind. Starting a
// scan sets last_scan_start; completion sets last_scan_complete and
// resets the offset.
func (s *Store) UpdateScanProgress(ctx context.Context, kind string, offset, total int, status string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	now := fmtTime(time.Now().UTC())
	switch status {
	case ScanStatusRunning:
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO scan_progress (scan_type, current_offset, total_expected, last_scan_start, status)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(scan_type) DO UPDATE SET
				current_offset = excluded.current_offset,
				total_expected = excluded.total_expected,
				last_scan_start = CASE
					WHEN scan_progress.status != 'running' THEN excluded.last_scan_start
					ELSE scan_progress.last_scan_start
				END,
				status = excluded.status`,
			kind, offset, total, now, status)
		return err
	case ScanStatusCompleted:
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO scan_progress (scan_type, current_offset, total_expected, last_scan_complete, status)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(scan_type) DO UPDATE SET
				current_offset = excluded.current_offset,
				total_expected = excluded.total_expected,
				last_scan_complete = excluded.last_scan_complete,
				status = excluded.status`,
			kind, offset, total, now, status)
		return err
	default:
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO scan_progress (scan_type, current_offset, total_expected, status)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(scan_type) DO UPDATE SET
				current_offset = excluded.current_offset,
				total_expected = excluded.total_expected,
				status = excluded.status`,
			kind, offset, total, status)
		return err
	}
}

func (s *Store) GetScanProgress(ctx context.Context, kind string) (*ScanProgress, error) {
	var (
		sp       ScanProgress
		start    sql.NullString
		complete sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT scan_type, current_offset, total_expected, last_scan_start, last_scan_complete, status
		FROM scan_progress WHERE scan_type = ?`, kind).
		Scan(&sp.ScanType, &sp.CurrentOffset, &sp.TotalExpected, &start, &complete, &sp.Status)
	if errors.Is(err, sql.ErrNoRows) {
		return &ScanProgress{ScanType: kind, Status: ScanStatusIdle}, nil
	}
	if err != nil {
		return nil, err
	}
	sp.LastScanStart = parseTimePtr(start)
	sp.LastScanComplete = parseTimePtr(complete)
	return &sp, nil
}
