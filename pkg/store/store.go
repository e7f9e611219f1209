package store

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"github.com/sirrobot01/reclaimarr/internal/utils"
)

// Store owns all persisted state. It is safe for concurrent use; writes
// are serialized on a single mutex on top of the WAL-mode database.
type Store struct {
	db      *sql.DB
	writeMu sync.Mutex
	logger  zerolog.Logger
}

func Open(path string, logger zerolog.Logger) (*Store, error) {
	if err := utils.EnsureDir(filepath.Dir(path)); err != nil {
		return nil, fmt.Errorf("preparing database directory: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?%s", path, pragmaQuery())
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// readers share the pool; the write mutex keeps a single writer
	db.SetMaxOpenConns(4)
	db.SetConnMaxLifetime(0)

	s := &Store{db: db, logger: logger}
	if err := s.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrating database: %w", err)
	}
	return s, nil
}

func pragmaQuery() string {
	q := url.Values{}
	for _, p := range []string{
		"journal_mode(WAL)",
		"synchronous(NORMAL)",
		"busy_timeout(30000)",
		"cache_size(10000)",
		"temp_store(MEMORY)",
		"mmap_size(268435456)",
		"foreign_keys(1)",
	} {
		q.Add("_pragma", p)
	}
	return q.Encode()
}

func (s *Store) Close() error {
	return s.db.Close()
}

// timestamps are stored as RFC3339 UTC text

func fmtTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func fmtTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return fmtTime(*t)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}

func parseTimePtr(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t := parseTime(s.String)
	return &t
}
