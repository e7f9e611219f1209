package worker

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/sirrobot01/reclaimarr/pkg/store"
)

// Cleanup drains the deferred-retry queue: rows whose hold expired get
// one more re-submission through the shared Reinjector.
type Cleanup struct {
	store      *store.Store
	reinjector *Reinjector
	maxRetries int
	hold       time.Duration
	logger     zerolog.Logger
}

type CleanupOptions struct {
	Store      *store.Store
	Reinjector *Reinjector
	MaxRetries int
	Hold       time.Duration
	Logger     zerolog.Logger
}

func NewCleanup(opts CleanupOptions) *Cleanup {
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 3
	}
	if opts.Hold <= 0 {
		opts.Hold = 3 * time.Hour
	}
	return &Cleanup{
		store:      opts.Store,
		reinjector: opts.Reinjector,
		maxRetries: opts.MaxRetries,
		hold:       opts.Hold,
		logger:     opts.Logger,
	}
}

// RunOnce processes every due retry row. A row whose torrent vanished
// from the store is dropped; it cannot be re-submitted without a hash.
func (c *Cleanup) RunOnce(ctx context.Context) error {
	rows, err := c.store.GetPendingRetries(ctx, c.maxRetries)
	if err != nil {
		return err
	}
	for _, row := range rows {
		if err := ctx.Err(); err != nil {
			return err
		}

		t, err := c.store.GetTorrent(ctx, row.TorrentID)
		if errors.Is(err, store.ErrNotFound) {
			c.logger.Warn().Str("torrent", row.TorrentID).Msg("retry row for unknown torrent, dropping")
			if err := c.store.DeleteRetry(ctx, row.ID); err != nil {
				return err
			}
			continue
		}
		if err != nil {
			return err
		}

		ok, err := c.reinjector.Reinject(ctx, *t)
		if err != nil {
			return err
		}
		if ok {
			if err := c.store.DeleteRetry(ctx, row.ID); err != nil {
				return err
			}
			c.logger.Info().Str("torrent", row.TorrentID).Msg("deferred retry succeeded")
			continue
		}
		if err := c.store.BumpRetry(ctx, row.ID, c.maxRetries, c.hold); err != nil {
			return err
		}
	}
	return nil
}

// Run polls the queue until the context ends.
func (c *Cleanup) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.RunOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
				c.logger.Error().Err(err).Msg("retry queue pass failed")
			}
		}
	}
}
