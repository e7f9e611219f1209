package scheduler

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/rs/zerolog"

	"github.com/sirrobot01/reclaimarr/internal/config"
	"github.com/sirrobot01/reclaimarr/internal/utils"
	"github.com/sirrobot01/reclaimarr/pkg/correlate"
	debridtypes "github.com/sirrobot01/reclaimarr/pkg/debrid/types"
	"github.com/sirrobot01/reclaimarr/pkg/events"
	"github.com/sirrobot01/reclaimarr/pkg/rategate"
	"github.com/sirrobot01/reclaimarr/pkg/store"
	"github.com/sirrobot01/reclaimarr/pkg/symlink"
	"github.com/sirrobot01/reclaimarr/pkg/validator"
	"github.com/sirrobot01/reclaimarr/pkg/worker"
)

// Catalog is the slice of the debrid client the scan jobs need.
type Catalog interface {
	GetTorrents(ctx context.Context, filter string, limit, offset int) ([]debridtypes.Torrent, error)
}

// ScanSummary is returned by manually triggered scans.
type ScanSummary struct {
	Mode      string        `json:"mode"`
	Processed int           `json:"processed"`
	Failed    int           `json:"failed"`
	Matched   int           `json:"matched,omitempty"`
	Duration  time.Duration `json:"duration"`
}

// Scheduler owns the long-running tasks and the periodic triggers: the
// continuous symlink tester, the retry-queue drain, catalog scans and
// the monitoring snapshot.
type Scheduler struct {
	cfg        *config.Config
	store      *store.Store
	catalog    Catalog
	reinjector *worker.Reinjector
	cleanup    *worker.Cleanup
	tester     *worker.Tester
	walker     *symlink.Walker
	correlator *correlate.Correlator
	validator  *validator.Validator
	gate       *rategate.Gate
	hub        *events.Hub
	logger     zerolog.Logger

	cron gocron.Scheduler
}

type Options struct {
	Config     *config.Config
	Store      *store.Store
	Catalog    Catalog
	Reinjector *worker.Reinjector
	Cleanup    *worker.Cleanup
	Tester     *worker.Tester
	Walker     *symlink.Walker
	Correlator *correlate.Correlator
	Validator  *validator.Validator
	Gate       *rategate.Gate
	Hub        *events.Hub
	Logger     zerolog.Logger
}

func New(opts Options) *Scheduler {
	return &Scheduler{
		cfg:        opts.Config,
		store:      opts.Store,
		catalog:    opts.Catalog,
		reinjector: opts.Reinjector,
		cleanup:    opts.Cleanup,
		tester:     opts.Tester,
		walker:     opts.Walker,
		correlator: opts.Correlator,
		validator:  opts.Validator,
		gate:       opts.Gate,
		hub:        opts.Hub,
		logger:     opts.Logger,
	}
}

// Start launches everything and blocks until the context is cancelled.
// On shutdown the walker cursor is flushed; the store is closed by the
// composition root that opened it.
func (s *Scheduler) Start(ctx context.Context) error {
	go s.tester.Run(ctx)
	go s.cleanup.Run(ctx, 5*time.Minute)

	cron, err := gocron.NewScheduler(gocron.WithLocation(time.Local))
	if err != nil {
		return err
	}
	s.cron = cron

	jobs := []struct {
		name     string
		interval string
		run      func()
	}{
		{"quick scan", s.cfg.Scans.QuickInterval, func() { s.runScan(ctx, store.ScanQuick) }},
		{"full scan", s.cfg.Scans.FullInterval, func() { s.runScan(ctx, store.ScanFull) }},
		{"symlink scan", s.cfg.Scans.SymlinkInterval, func() { s.runScan(ctx, store.ScanSymlinks) }},
		{"monitoring", "5m", func() { s.runMonitoring(ctx) }},
		{"maintenance", "24h", func() { s.runMaintenance(ctx) }},
	}
	for _, job := range jobs {
		jd, err := utils.ConvertToJobDef(job.interval)
		if err != nil {
			s.logger.Error().Err(err).Str("interval", job.interval).Msgf("Error converting %s interval", job.name)
			continue
		}
		if _, err := cron.NewJob(jd, gocron.NewTask(job.run)); err != nil {
			s.logger.Error().Err(err).Msgf("Error creating %s job", job.name)
			continue
		}
		s.logger.Info().Msgf("%s scheduled every %s", job.name, job.interval)
	}
	cron.Start()

	<-ctx.Done()

	s.logger.Info().Msg("Stopping scheduler")
	if err := cron.Shutdown(); err != nil {
		s.logger.Error().Err(err).Msg("Error shutting down scheduler")
	}
	s.walker.Flush()
	return nil
}

func (s *Scheduler) runScan(ctx context.Context, mode string) {
	if _, err := s.Scan(ctx, mode); err != nil && ctx.Err() == nil {
		s.logger.Error().Err(err).Str("mode", mode).Msg("scan failed")
		s.publish(events.TypeScanError, map[string]any{"error": err.Error()})
	}
}

// Scan dispatches one scan by kind. Used by both the periodic triggers
// and the control plane.
func (s *Scheduler) Scan(ctx context.Context, mode string) (*ScanSummary, error) {
	switch mode {
	case store.ScanQuick:
		return s.quickScan(ctx)
	case store.ScanFull:
		return s.fullScan(ctx)
	case store.ScanSymlinks:
		return s.symlinkScan(ctx)
	default:
		return nil, fmt.Errorf("unknown scan mode %q", mode)
	}
}

// quickScan refreshes the first catalog page and re-submits whatever is
// due.
func (s *Scheduler) quickScan(ctx context.Context) (*ScanSummary, error) {
	start := time.Now()
	s.publish(events.TypeScanStart, map[string]any{"mode": store.ScanQuick})
	if err := s.store.UpdateScanProgress(ctx, store.ScanQuick, 0, 0, store.ScanStatusRunning); err != nil {
		return nil, err
	}

	items, err := s.catalog.GetTorrents(ctx, "", s.cfg.Scans.FullScanPageSize, 0)
	if err != nil {
		return nil, err
	}
	failedInPage, err := s.upsertCatalog(ctx, items)
	if err != nil {
		return nil, err
	}
	s.logger.Debug().Int("items", len(items)).Int("failed", failedInPage).Msg("quick scan page refreshed")

	processed, failed, err := s.reinjector.RunCycle(ctx)
	if err != nil {
		return nil, err
	}
	s.publish(events.TypeScanProgress, map[string]any{"processed": processed, "failed": failed})

	if err := s.store.UpdateScanProgress(ctx, store.ScanQuick, 0, len(items), store.ScanStatusCompleted); err != nil {
		return nil, err
	}
	summary := &ScanSummary{Mode: store.ScanQuick, Processed: processed, Failed: failed, Duration: time.Since(start)}
	s.publish(events.TypeScanComplete, map[string]any{
		"mode":      store.ScanQuick,
		"processed": processed,
		"failed":    failed,
	})
	return summary, nil
}

// fullScan walks the whole catalog in pages, at most MaxPages per
// invocation. The cursor lives in ScanProgress so a partial pass picks
// up where it stopped.
func (s *Scheduler) fullScan(ctx context.Context) (*ScanSummary, error) {
	start := time.Now()
	pageSize := s.cfg.Scans.FullScanPageSize
	maxPages := s.cfg.Scans.FullScanMaxPages

	progress, err := s.store.GetScanProgress(ctx, store.ScanFull)
	if err != nil {
		return nil, err
	}
	offset := 0
	if progress.Status == store.ScanStatusRunning {
		offset = progress.CurrentOffset
	}

	s.publish(events.TypeScanStart, map[string]any{"mode": store.ScanFull, "offset": offset})
	if err := s.store.UpdateScanProgress(ctx, store.ScanFull, offset, progress.TotalExpected, store.ScanStatusRunning); err != nil {
		return nil, err
	}

	seen := 0
	failedSeen := 0
	complete := false
	for page := 0; page < maxPages; page++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		items, err := s.catalog.GetTorrents(ctx, "", pageSize, offset)
		if err != nil {
			return nil, err
		}
		failedInPage, err := s.upsertCatalog(ctx, items)
		if err != nil {
			return nil, err
		}
		seen += len(items)
		failedSeen += failedInPage
		offset += len(items)

		if err := s.store.UpdateScanProgress(ctx, store.ScanFull, offset, offset, store.ScanStatusRunning); err != nil {
			return nil, err
		}
		s.publish(events.TypeScanProgress, map[string]any{"processed": seen, "failed": failedSeen})

		if len(items) < pageSize {
			complete = true
			break
		}
	}

	if complete {
		if err := s.store.UpdateScanProgress(ctx, store.ScanFull, 0, offset, store.ScanStatusCompleted); err != nil {
			return nil, err
		}
	}

	summary := &ScanSummary{Mode: store.ScanFull, Processed: seen, Failed: failedSeen, Duration: time.Since(start)}
	s.publish(events.TypeScanComplete, map[string]any{
		"mode":      store.ScanFull,
		"processed": seen,
		"complete":  complete,
	})
	return summary, nil
}

// symlinkScan walks the media tree, records the broken links and
// promotes the ones the catalog recognizes.
func (s *Scheduler) symlinkScan(ctx context.Context) (*ScanSummary, error) {
	start := time.Now()
	s.publish(events.TypeSymlinkScanStart, map[string]any{"path": s.cfg.MediaRoot})
	if err := s.store.UpdateScanProgress(ctx, store.ScanSymlinks, 0, 0, store.ScanStatusRunning); err != nil {
		return nil, err
	}

	links, err := s.walker.Walk(ctx)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	for _, link := range links {
		err := s.store.RecordSymlink(ctx, store.SymlinkRecord{
			SourcePath:   link.SourcePath,
			TargetPath:   link.TargetPath,
			TorrentName:  link.TorrentName,
			Status:       link.Status,
			Size:         link.Size,
			ErrorMessage: link.ErrorMessage,
			DetectedAt:   now,
		})
		if err != nil {
			return nil, err
		}
	}
	s.publish(events.TypeSymlinkScanComplete, map[string]any{
		"total_broken":  len(links),
		"scan_duration": time.Since(start).Seconds(),
		"scan_path":     s.cfg.MediaRoot,
	})

	s.publish(events.TypeSymlinkMatchStart, nil)
	catalog, err := s.fetchCatalog(ctx)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(links))
	for _, link := range links {
		names = append(names, link.TorrentName)
	}
	matches := s.correlator.MatchNames(names, catalog)
	if err := s.correlator.Promote(ctx, matches); err != nil {
		return nil, err
	}

	matchRate := 0.0
	if len(links) > 0 {
		matchRate = float64(len(matches)) / float64(len(links))
	}
	s.publish(events.TypeSymlinkMatchComplete, map[string]any{
		"total_symlinks": len(links),
		"matched_count":  len(matches),
		"match_rate":     matchRate,
	})

	if err := s.store.UpdateScanProgress(ctx, store.ScanSymlinks, 0, len(links), store.ScanStatusCompleted); err != nil {
		return nil, err
	}
	return &ScanSummary{
		Mode:      store.ScanSymlinks,
		Processed: len(links),
		Matched:   len(matches),
		Duration:  time.Since(start),
	}, nil
}

// fetchCatalog pulls up to the full-scan page budget of catalog entries
// for correlation.
func (s *Scheduler) fetchCatalog(ctx context.Context) ([]debridtypes.Torrent, error) {
	pageSize := s.cfg.Scans.FullScanPageSize
	var all []debridtypes.Torrent
	for page := 0; page < s.cfg.Scans.FullScanMaxPages; page++ {
		items, err := s.catalog.GetTorrents(ctx, "", pageSize, page*pageSize)
		if err != nil {
			return nil, err
		}
		all = append(all, items...)
		if len(items) < pageSize {
			break
		}
	}
	return all, nil
}

// upsertCatalog refreshes the local rows from a provider page and
// returns how many of them are in a failed status. Rows the validator
// rejects never reach the store.
func (s *Scheduler) upsertCatalog(ctx context.Context, items []debridtypes.Torrent) (int, error) {
	failed := 0
	for _, item := range items {
		if s.validator != nil {
			err := s.validator.ValidateTorrent(validator.TorrentMeta{
				ID:       item.ID,
				Hash:     item.Hash,
				Filename: item.Filename,
				Status:   item.Status,
				Size:     item.Bytes,
			})
			if err != nil {
				s.logger.Warn().Err(err).Str("torrent", item.ID).Msg("skipping invalid catalog row")
				continue
			}
		}
		if store.IsFailedStatus(item.Status) {
			failed++
		}
		err := s.store.UpsertTorrent(ctx, store.Torrent{
			ID:        item.ID,
			Hash:      item.Hash,
			Filename:  item.Filename,
			Status:    item.Status,
			Size:      item.Bytes,
			AddedDate: item.Added,
			Priority:  store.PriorityNormal,
		})
		if err != nil {
			return failed, err
		}
	}
	return failed, nil
}

// runMonitoring records the periodic counter snapshot.
func (s *Scheduler) runMonitoring(ctx context.Context) {
	tags, utilization := s.gate.Stats()

	record := func(name string, value float64) {
		if err := s.store.RecordMetric(ctx, "monitoring", name, value); err != nil {
			s.logger.Error().Err(err).Str("metric", name).Msg("recording metric failed")
		}
	}

	record("tests_performed", float64(tags[rategate.TagTestInjection].Calls))
	record("cleanups_completed", float64(tags[rategate.TagCleanup].Calls))
	record("gate_utilization", utilization)

	infringing, err := s.store.CountPermanentFailures(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("counting permanent failures failed")
	} else {
		record("infringing_detected", float64(infringing))
	}
}

// runMaintenance prunes rows past the retention window and writes a hot
// snapshot next to the database.
func (s *Scheduler) runMaintenance(ctx context.Context) {
	if err := s.store.CleanupOld(ctx, s.cfg.RetentionDays); err != nil {
		s.logger.Error().Err(err).Msg("store cleanup failed")
	}

	dir := filepath.Join(filepath.Dir(s.cfg.DatabasePath), "backups")
	if err := os.MkdirAll(dir, 0755); err != nil {
		s.logger.Error().Err(err).Msg("creating backup directory failed")
		return
	}
	path := filepath.Join(dir, fmt.Sprintf("reclaimarr-%s.db", time.Now().UTC().Format("20060102-150405")))
	if err := s.store.Backup(ctx, path); err != nil {
		s.logger.Error().Err(err).Msg("database backup failed")
	}
}

func (s *Scheduler) publish(eventType string, data map[string]any) {
	if s.hub != nil {
		s.hub.Publish(eventType, data)
	}
}
