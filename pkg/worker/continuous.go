package worker

import (
	"context"
	"errors"
	"path/filepath"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/sirrobot01/reclaimarr/pkg/store"
)

// Tester is the consumer end of the symlink pipeline: it drains
// recorded broken links in small batches and drives a re-submission
// for each one whose name the correlator promoted.
type Tester struct {
	store      *store.Store
	reinjector *Reinjector
	batchSize  int
	idleWait   time.Duration
	logger     zerolog.Logger
}

type TesterOptions struct {
	Store      *store.Store
	Reinjector *Reinjector
	BatchSize  int
	IdleWait   time.Duration
	Logger     zerolog.Logger
}

func NewTester(opts TesterOptions) *Tester {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 10
	}
	if opts.IdleWait <= 0 {
		opts.IdleWait = 5 * time.Minute
	}
	return &Tester{
		store:      opts.Store,
		reinjector: opts.Reinjector,
		batchSize:  opts.BatchSize,
		idleWait:   opts.IdleWait,
		logger:     opts.Logger,
	}
}

// RunBatch consumes one batch of unprocessed broken links in
// lexicographic filename order. Every link in the batch is marked
// processed whether or not its re-submission succeeded. Returns the
// number of links consumed.
func (t *Tester) RunBatch(ctx context.Context) (int, error) {
	unprocessed := false
	links, err := t.store.GetSymlinks(ctx, &unprocessed, t.batchSize)
	if err != nil {
		return 0, err
	}
	if len(links) == 0 {
		return 0, nil
	}
	sort.Slice(links, func(i, j int) bool {
		return filepath.Base(links[i].SourcePath) < filepath.Base(links[j].SourcePath)
	})

	promoted, err := t.promotedByName(ctx)
	if err != nil {
		return 0, err
	}

	consumed := 0
	for _, link := range links {
		if err := ctx.Err(); err != nil {
			return consumed, err
		}

		if tor, ok := promoted[link.TorrentName]; ok {
			if _, err := t.reinjector.Reinject(ctx, tor); err != nil {
				return consumed, err
			}
		} else {
			t.logger.Debug().Str("name", link.TorrentName).Msg("broken link never matched the catalog")
		}

		if err := t.store.MarkSymlinkProcessed(ctx, link.SourcePath); err != nil {
			return consumed, err
		}
		consumed++
	}
	return consumed, nil
}

// promotedByName indexes the promoted catalog entries by the broken-link
// name the correlator matched them with.
func (t *Tester) promotedByName(ctx context.Context) (map[string]store.Torrent, error) {
	torrents, err := t.store.GetTorrents(ctx, []string{store.StatusSymlinkBroken}, 1000, 0)
	if err != nil {
		return nil, err
	}
	byName := make(map[string]store.Torrent, len(torrents))
	for _, tor := range torrents {
		if name := tor.Metadata["matched_name"]; name != "" {
			byName[name] = tor
		}
	}
	return byName, nil
}

// Run consumes batches until the context ends, sleeping through the
// idle window whenever the pipeline is empty.
func (t *Tester) Run(ctx context.Context) {
	for {
		n, err := t.RunBatch(ctx)
		switch {
		case errors.Is(err, context.Canceled) || ctx.Err() != nil:
			return
		case err != nil:
			t.logger.Error().Err(err).Msg("symlink batch failed")
		}

		if n > 0 {
			continue
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(t.idleWait):
		}
	}
}
