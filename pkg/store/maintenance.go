package store

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/sirrobot01/reclaimarr/internal/utils"
)

// RecordMetric appends one monitoring sample.
func (s *Store) RecordMetric(ctx context.Context, metricType, name string, value float64) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO metrics (timestamp, metric_type, metric_name, value)
		VALUES (?, ?, ?, ?)`,
		fmtTime(time.Now().UTC()), metricType, name, value)
	return err
}

// CleanupOld prunes attempts and metrics older than the retention window
// and reclaims the freed pages.
func (s *Store) CleanupOld(ctx context.Context, retentionDays int) error {
	if retentionDays <= 0 {
		retentionDays = 30
	}
	cutoff := fmtTime(time.Now().UTC().AddDate(0, 0, -retentionDays))

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	res, err := s.db.ExecContext(ctx, `DELETE FROM attempts WHERE attempt_date < ?`, cutoff)
	if err != nil {
		return fmt.Errorf("pruning attempts: %w", err)
	}
	attempts, _ := res.RowsAffected()

	res, err = s.db.ExecContext(ctx, `DELETE FROM metrics WHERE timestamp < ?`, cutoff)
	if err != nil {
		return fmt.Errorf("pruning metrics: %w", err)
	}
	metrics, _ := res.RowsAffected()

	if _, err := s.db.ExecContext(ctx, `VACUUM`); err != nil {
		return fmt.Errorf("vacuum: %w", err)
	}

	s.logger.Info().
		Int64("attempts", attempts).
		Int64("metrics", metrics).
		Int("retention_days", retentionDays).
		Msg("pruned old rows")
	return nil
}

// Backup writes a hot snapshot of the database to the given path.
func (s *Store) Backup(ctx context.Context, path string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if _, err := s.db.ExecContext(ctx, `VACUUM INTO ?`, path); err != nil {
		return fmt.Errorf("backup to %s: %w", path, err)
	}
	size := int64(0)
	if fi, err := os.Stat(path); err == nil {
		size = fi.Size()
	}
	s.logger.Info().Str("path", path).Str("size", utils.FormatSize(size)).Msg("database backup written")
	return nil
}
