package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

var ErrNotFound = errors.New("not found")

const torrentColumns = `id, hash, filename, status, size, added_date, first_seen, last_seen,
	attempts_count, last_attempt, last_success, priority, needs_symlink_cleanup, metadata`

// UpsertTorrent inserts a torrent or refreshes an existing row. first_seen
// and the attempt counters are preserved on update.
func (s *Store) UpsertTorrent(ctx context.Context, t Torrent) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	now := time.Now().UTC()
	if t.FirstSeen.IsZero() {
		t.FirstSeen = now
	}
	if t.LastSeen.IsZero() {
		t.LastSeen = now
	}
	if t.AddedDate.IsZero() {
		t.AddedDate = now
	}
	if t.Priority == 0 {
		t.Priority = PriorityNormal
	}

	var metadata any
	if len(t.Metadata) > 0 {
		data, err := json.Marshal(t.Metadata)
		if err != nil {
			return fmt.Errorf("marshaling metadata: %w", err)
		}
		metadata = string(data)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO torrents (id, hash, filename, status, size, added_date, first_seen, last_seen, priority, needs_symlink_cleanup, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			hash = excluded.hash,
			filename = excluded.filename,
			status = excluded.status,
			size = excluded.size,
			last_seen = excluded.last_seen,
			priority = MAX(torrents.priority, excluded.priority),
			needs_symlink_cleanup = excluded.needs_symlink_cleanup,
			metadata = COALESCE(excluded.metadata, torrents.metadata)`,
		t.ID, t.Hash, t.Filename, t.Status, t.Size,
		fmtTime(t.AddedDate), fmtTime(t.FirstSeen), fmtTime(t.LastSeen),
		t.Priority, boolToInt(t.NeedsSymlinkCleanup), metadata,
	)
	return err
}

func (s *Store) GetTorrent(ctx context.Context, id string) (*Torrent, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+torrentColumns+` FROM torrents WHERE id = ?`, id)
	t, err := scanTorrent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return t, err
}

// GetTorrents enumerates the catalog, optionally filtered to a status
// set, ordered by last_seen descending.
func (s *Store) GetTorrents(ctx context.Context, statuses []string, limit, offset int) ([]Torrent, error) {
	if limit <= 0 || limit > 1000 {
		limit = 1000
	}
	query := `SELECT ` + torrentColumns + ` FROM torrents`
	args := make([]any, 0, len(statuses)+2)
	if len(statuses) > 0 {
		query += ` WHERE status IN (` + placeholders(len(statuses)) + `)`
		for _, st := range statuses {
			args = append(args, st)
		}
	}
	query += ` ORDER BY last_seen DESC LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTorrents(rows)
}

// GetFailedTorrents returns re-submission candidates: failed statuses with
// attempts left and no attempt inside the hold window, hottest first.
func (s *Store) GetFailedTorrents(ctx context.Context, maxAttempts int, hold time.Duration, limit int) ([]Torrent, error) {
	if limit <= 0 {
		limit = 100
	}
	cutoff := time.Now().UTC().Add(-hold)

	query := `SELECT ` + torrentColumns + ` FROM torrents
		WHERE status IN (` + placeholders(len(FailedStatuses)) + `)
		AND attempts_count < ?
		AND (last_attempt IS NULL OR last_attempt < ?)
		ORDER BY priority DESC, last_seen DESC
		LIMIT ?`

	args := make([]any, 0, len(FailedStatuses)+3)
	for _, st := range FailedStatuses {
		args = append(args, st)
	}
	args = append(args, maxAttempts, fmtTime(cutoff), limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTorrents(rows)
}

func (s *Store) DeleteTorrent(ctx context.Context, id string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM attempts WHERE torrent_id = ?`, id); err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM torrents WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return tx.Commit()
}

// SetNeedsSymlinkCleanup flags or clears a torrent for orphan-link cleanup.
func (s *Store) SetNeedsSymlinkCleanup(ctx context.Context, id string, needed bool) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_, err := s.db.ExecContext(ctx,
		`UPDATE torrents SET needs_symlink_cleanup = ? WHERE id = ?`, boolToInt(needed), id)
	return err
}

// CountByStatus aggregates torrent counts per status.
func (s *Store) CountByStatus(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM torrents GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		out[status] = count
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTorrent(row rowScanner) (*Torrent, error) {
	var (
		t           Torrent
		addedDate   sql.NullString
		firstSeen   string
		lastSeen    string
		lastAttempt sql.NullString
		lastSuccess sql.NullString
		cleanup     int
		metadata    sql.NullString
	)
	err := row.Scan(
		&t.ID, &t.Hash, &t.Filename, &t.Status, &t.Size,
		&addedDate, &firstSeen, &lastSeen,
		&t.AttemptsCount, &lastAttempt, &lastSuccess,
		&t.Priority, &cleanup, &metadata,
	)
	if err != nil {
		return nil, err
	}
	if addedDate.Valid {
		t.AddedDate = parseTime(addedDate.String)
	}
	t.FirstSeen = parseTime(firstSeen)
	t.LastSeen = parseTime(lastSeen)
	t.LastAttempt = parseTimePtr(lastAttempt)
	t.LastSuccess = parseTimePtr(lastSuccess)
	t.NeedsSymlinkCleanup = cleanup != 0
	if metadata.Valid && metadata.String != "" {
		_ = json.Unmarshal([]byte(metadata.String), &t.Metadata)
	}
	return &t, nil
}

func scanTorrents(rows *sql.Rows) ([]Torrent, error) {
	var out []Torrent
	for rows.Next() {
		t, err := scanTorrent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
