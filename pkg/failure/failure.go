package failure

import (
	"context"
	"errors"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/sirrobot01/reclaimarr/pkg/correlate"
	debridtypes "github.com/sirrobot01/reclaimarr/pkg/debrid/types"
	"github.com/sirrobot01/reclaimarr/pkg/store"
)

// Error types the handler acts on.
const (
	TypeInfringing  = "infringing_file"
	TypeRateLimited = "too_many_requests"
	TypeUnknown     = "unknown"
)

// wordOverlapMin is the fallback match bar for symlink cleanup: a link
// whose name contains most of the failed filename's words is deleted
// even when the similarity score misses.
const wordOverlapMin = 0.7

// Classify maps a re-submission error to the handler's vocabulary.
func Classify(err error) string {
	if err == nil {
		return TypeUnknown
	}
	if errors.Is(err, debridtypes.InfringingFileError) {
		return TypeInfringing
	}
	if errors.Is(err, debridtypes.RateLimitedError) {
		return TypeRateLimited
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "infringing"):
		return TypeInfringing
	case strings.Contains(msg, "too_many_requests") || strings.Contains(msg, "too many requests"):
		return TypeRateLimited
	default:
		return TypeUnknown
	}
}

// RetryScheduler queues a torrent for a later re-submission attempt.
type RetryScheduler func(ctx context.Context, t store.Torrent, errType, errMsg string) error

// Notifier tells downstream media managers the library changed.
type Notifier interface {
	NotifyAll(ctx context.Context) error
}

// Denylister blocks hashes from ever being re-submitted.
type Denylister interface {
	Denylist(hashes ...string)
}

// Handler reacts to terminal and transient re-submission failures. An
// infringing file is recorded permanently, its hash denylisted, its
// leftover symlinks removed and the media managers told to look for
// replacements; a rate-limit failure is handed to the retry scheduler.
type Handler struct {
	store            *store.Store
	notifier         Notifier
	denylist         Denylister
	scheduleRetry    RetryScheduler
	cleanupThreshold float64
	dryRun           bool
	logger           zerolog.Logger

	removeFile func(string) error
}

type Options struct {
	Store            *store.Store
	Notifier         Notifier
	Denylist         Denylister
	ScheduleRetry    RetryScheduler
	CleanupThreshold float64
	DryRun           bool
	Logger           zerolog.Logger
}

func New(opts Options) *Handler {
	if opts.CleanupThreshold <= 0 {
		opts.CleanupThreshold = 0.6
	}
	return &Handler{
		store:            opts.Store,
		notifier:         opts.Notifier,
		denylist:         opts.Denylist,
		scheduleRetry:    opts.ScheduleRetry,
		cleanupThreshold: opts.CleanupThreshold,
		dryRun:           opts.DryRun,
		logger:           opts.Logger,
		removeFile:       os.Remove,
	}
}

// Handle dispatches one failed re-submission. Unknown errors are only
// logged; the attempt record already carries them.
func (h *Handler) Handle(ctx context.Context, t store.Torrent, cause error) error {
	errType := Classify(cause)
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}

	switch errType {
	case TypeInfringing:
		return h.handleInfringing(ctx, t, msg)
	case TypeRateLimited:
		if h.scheduleRetry == nil {
			return nil
		}
		h.logger.Info().Str("torrent", t.ID).Msg("rate limited, queueing for later retry")
		return h.scheduleRetry(ctx, t, errType, msg)
	default:
		h.logger.Warn().Str("torrent", t.ID).Str("error", msg).Msg("unclassified failure")
		return nil
	}
}

func (h *Handler) handleInfringing(ctx context.Context, t store.Torrent, msg string) error {
	if err := h.store.RecordPermanentFailure(ctx, store.PermanentFailure{
		TorrentID:    t.ID,
		Filename:     t.Filename,
		ErrorType:    TypeInfringing,
		ErrorMessage: msg,
		FailureDate:  time.Now().UTC(),
	}); err != nil {
		return err
	}
	if h.denylist != nil && t.Hash != "" {
		h.denylist.Denylist(t.Hash)
	}

	removed, err := h.cleanupSymlinks(ctx, t)
	if err != nil {
		return err
	}
	if removed > 0 && h.notifier != nil && !h.dryRun {
		if err := h.notifier.NotifyAll(ctx); err != nil {
			h.logger.Error().Err(err).Msg("media manager notification failed")
		}
	}

	h.logger.Info().
		Str("torrent", t.ID).
		Str("filename", t.Filename).
		Int("symlinks_removed", removed).
		Msg("infringing file recorded")
	return h.store.MarkFailureProcessed(ctx, t.ID, TypeInfringing)
}

// cleanupSymlinks deletes recorded broken links that point at the failed
// torrent. A link matches on similarity score or on word overlap, so
// renamed releases are still caught.
func (h *Handler) cleanupSymlinks(ctx context.Context, t store.Torrent) (int, error) {
	unprocessed := false
	links, err := h.store.GetSymlinks(ctx, &unprocessed, 1000)
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, link := range links {
		if !h.matches(t.Filename, link.TorrentName) {
			continue
		}
		if h.dryRun {
			h.logger.Info().Str("path", link.SourcePath).Msg("dry run, would remove symlink")
			continue
		}
		if err := h.removeFile(link.SourcePath); err != nil && !os.IsNotExist(err) {
			h.logger.Warn().Err(err).Str("path", link.SourcePath).Msg("symlink removal failed")
			continue
		}
		if err := h.store.MarkSymlinkProcessed(ctx, link.SourcePath); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

func (h *Handler) matches(filename, linkName string) bool {
	if linkName == "" {
		return false
	}
	if correlate.Score(filename, linkName) >= h.cleanupThreshold {
		return true
	}
	return correlate.WordOverlap(filename, linkName) >= wordOverlapMin
}
