package worker

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/sirrobot01/reclaimarr/internal/utils"
	debridtypes "github.com/sirrobot01/reclaimarr/pkg/debrid/types"
	"github.com/sirrobot01/reclaimarr/pkg/events"
	"github.com/sirrobot01/reclaimarr/pkg/store"
	"github.com/sirrobot01/reclaimarr/pkg/validator"
)

// Provider is the slice of the debrid client the re-submission path
// needs.
type Provider interface {
	AddMagnet(ctx context.Context, magnet string) (*debridtypes.AddMagnetResult, error)
	PerCycle() int
}

// FailureSink receives API-level re-submission failures.
type FailureSink interface {
	Handle(ctx context.Context, t store.Torrent, cause error) error
}

// Reinjector re-submits failed catalog items one at a time. Serial
// execution keeps the per-cycle candidate cap honest; the rate gate
// would serialize the calls anyway.
type Reinjector struct {
	store       *store.Store
	provider    Provider
	validator   *validator.Validator
	failures    FailureSink
	hub         *events.Hub
	dryRun      bool
	maxAttempts int
	hold        time.Duration
	logger      zerolog.Logger

	mu sync.Mutex
}

type ReinjectorOptions struct {
	Store       *store.Store
	Provider    Provider
	Validator   *validator.Validator
	Failures    FailureSink
	Hub         *events.Hub
	DryRun      bool
	MaxAttempts int
	Hold        time.Duration
	Logger      zerolog.Logger
}

func NewReinjector(opts ReinjectorOptions) *Reinjector {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.Hold <= 0 {
		opts.Hold = 3 * time.Hour
	}
	return &Reinjector{
		store:       opts.Store,
		provider:    opts.Provider,
		validator:   opts.Validator,
		failures:    opts.Failures,
		hub:         opts.Hub,
		dryRun:      opts.DryRun,
		maxAttempts: opts.MaxAttempts,
		hold:        opts.Hold,
		logger:      opts.Logger,
	}
}

// SelectCandidates returns the failed items due for another attempt,
// capped at the provider's current per-cycle limit.
func (w *Reinjector) SelectCandidates(ctx context.Context) ([]store.Torrent, error) {
	return w.store.GetFailedTorrents(ctx, w.maxAttempts, w.hold, w.provider.PerCycle())
}

// Reinject runs one re-submission. The attempt row is written before
// any failure-handler side effect. The returned bool reports whether
// the provider accepted the magnet; a false with nil error means the
// failure was classified and handled.
func (w *Reinjector) Reinject(ctx context.Context, t store.Torrent) (bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.publish(events.TypeReinjectStart, map[string]any{
		"torrent_id": t.ID,
		"filename":   utils.Truncate(t.Filename, 50),
	})

	hash, err := w.validator.ValidateHash(t.Hash)
	if err != nil {
		if recErr := w.store.RecordAttempt(ctx, store.Attempt{
			TorrentID:    t.ID,
			AttemptDate:  time.Now().UTC(),
			Success:      false,
			ErrorMessage: "Hash invalide",
		}); recErr != nil {
			return false, recErr
		}
		w.publish(events.TypeReinjectError, map[string]any{
			"torrent_id": t.ID,
			"error":      "Hash invalide",
		})
		w.logger.Warn().Str("torrent", t.ID).Str("hash", t.Hash).Msg("invalid hash, skipping")
		return false, nil
	}

	magnet, err := w.validator.BuildMagnet(hash, t.Filename)
	if err != nil {
		return false, err
	}

	if w.dryRun {
		if err := w.store.RecordAttempt(ctx, store.Attempt{
			TorrentID:   t.ID,
			AttemptDate: time.Now().UTC(),
			Success:     true,
			APIResponse: "DRY-RUN simulation",
		}); err != nil {
			return false, err
		}
		w.publish(events.TypeReinjectComplete, map[string]any{
			"torrent_id":    t.ID,
			"success":       true,
			"response_time": 0,
		})
		w.logger.Info().Str("torrent", t.ID).Msg("dry run, simulated re-submission")
		return true, nil
	}

	start := time.Now()
	result, addErr := w.provider.AddMagnet(ctx, magnet)
	elapsed := time.Since(start)

	attempt := store.Attempt{
		TorrentID:      t.ID,
		AttemptDate:    time.Now().UTC(),
		Success:        addErr == nil,
		ResponseTimeMs: elapsed.Milliseconds(),
	}
	if addErr != nil {
		attempt.ErrorMessage = addErr.Error()
	} else if result != nil {
		attempt.APIResponse = result.ID
	}
	if err := w.store.RecordAttempt(ctx, attempt); err != nil {
		return false, err
	}

	if addErr != nil {
		w.publish(events.TypeReinjectError, map[string]any{
			"torrent_id": t.ID,
			"error":      addErr.Error(),
		})
		if w.failures != nil {
			if err := w.failures.Handle(ctx, t, addErr); err != nil {
				return false, err
			}
		}
		return false, nil
	}

	w.publish(events.TypeReinjectComplete, map[string]any{
		"torrent_id":    t.ID,
		"success":       true,
		"response_time": elapsed.Milliseconds(),
	})
	w.logger.Info().
		Str("torrent", t.ID).
		Dur("response_time", elapsed).
		Msg("re-submission accepted")
	return true, nil
}

// RunCycle re-submits one batch of candidates. Returns how many were
// processed and how many the provider rejected.
func (w *Reinjector) RunCycle(ctx context.Context) (processed, failed int, err error) {
	candidates, err := w.SelectCandidates(ctx)
	if err != nil {
		return 0, 0, err
	}
	for _, t := range candidates {
		if err := ctx.Err(); err != nil {
			return processed, failed, err
		}
		ok, err := w.Reinject(ctx, t)
		if err != nil {
			return processed, failed, err
		}
		processed++
		if !ok {
			failed++
		}
	}
	return processed, failed, nil
}

func (w *Reinjector) publish(eventType string, data map[string]any) {
	if w.hub != nil {
		w.hub.Publish(eventType, data)
	}
}
