package rategate

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Operation tags. Every provider-bound call states which pipeline it
// belongs to so the gate can keep per-tag stats and shares.
const (
	TagTestInjection = "test_injection"
	TagCleanup       = "cleanup_rd"
	TagNotifyMedia   = "notify_media"
)

var ErrAcquireTimeout = errors.New("rate gate: acquire timed out")

type entry struct {
	ts  time.Time
	tag string
}

type tagStats struct {
	calls     int64
	successes int64
	avgMs     float64
}

// Gate admits at most maxCalls per rolling window across the whole
// process. Admission order is wait-start order; waiters sleep in short
// increments with the lock released.
type Gate struct {
	mu       sync.Mutex
	entries  []entry
	maxCalls int
	window   time.Duration

	acquireTimeout time.Duration
	weights        map[string]int
	stats          map[string]*tagStats
	logger         zerolog.Logger
}

type Options struct {
	MaxCalls       int
	Window         time.Duration
	AcquireTimeout time.Duration
	Weights        map[string]int
	Logger         zerolog.Logger
}

func New(opts Options) *Gate {
	if opts.MaxCalls <= 0 {
		opts.MaxCalls = 250
	}
	if opts.Window <= 0 {
		opts.Window = time.Minute
	}
	if opts.AcquireTimeout <= 0 {
		opts.AcquireTimeout = time.Minute
	}
	if opts.Weights == nil {
		opts.Weights = map[string]int{
			TagTestInjection: 50,
			TagCleanup:       30,
			TagNotifyMedia:   20,
		}
	}
	return &Gate{
		maxCalls:       opts.MaxCalls,
		window:         opts.Window,
		acquireTimeout: opts.AcquireTimeout,
		weights:        opts.Weights,
		stats:          make(map[string]*tagStats),
		logger:         opts.Logger,
	}
}

// prune drops entries older than the window. Caller holds the lock.
func (g *Gate) prune(now time.Time) {
	cutoff := now.Add(-g.window)
	i := 0
	for i < len(g.entries) && !g.entries[i].ts.After(cutoff) {
		i++
	}
	if i > 0 {
		g.entries = append(g.entries[:0], g.entries[i:]...)
	}
}

// Acquire blocks until a slot in the rolling window is free, the context
// is canceled, or the per-call timeout elapses.
func (g *Gate) Acquire(ctx context.Context, tag string) error {
	deadline := time.Now().Add(g.acquireTimeout)
	for {
		g.mu.Lock()
		now := time.Now()
		g.prune(now)
		if len(g.entries) < g.maxCalls {
			g.entries = append(g.entries, entry{ts: now, tag: tag})
			g.mu.Unlock()
			return nil
		}
		wait := g.entries[0].ts.Add(g.window).Sub(now)
		g.mu.Unlock()

		if wait > time.Second {
			wait = time.Second
		}
		if wait <= 0 {
			wait = 10 * time.Millisecond
		}
		if remaining := time.Until(deadline); remaining <= 0 {
			g.logger.Warn().Str("tag", tag).Msg("rate gate acquire timed out")
			return ErrAcquireTimeout
		} else if wait > remaining {
			wait = remaining
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// AcquireOptimal waits for a slot while the caller's tag is below its
// configured share of recent admissions, retrying for up to maxWait
// before forcing a plain Acquire.
func (g *Gate) AcquireOptimal(ctx context.Context, tag string, maxWait time.Duration) error {
	if maxWait <= 0 {
		maxWait = 30 * time.Second
	}
	deadline := time.Now().Add(maxWait)
	for time.Now().Before(deadline) {
		if g.tagWithinShare(tag) {
			return g.Acquire(ctx, tag)
		}
		timer := time.NewTimer(500 * time.Millisecond)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	g.logger.Debug().Str("tag", tag).Msg("optimal slot wait exhausted, forcing admission")
	return g.Acquire(ctx, tag)
}

func (g *Gate) tagWithinShare(tag string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.prune(time.Now())
	if len(g.entries) == 0 {
		return true
	}
	weight, ok := g.weights[tag]
	if !ok {
		return true
	}
	total := 0
	for _, w := range g.weights {
		total += w
	}
	if total == 0 {
		return true
	}
	tagged := 0
	for _, e := range g.entries {
		if e.tag == tag {
			tagged++
		}
	}
	share := float64(tagged) / float64(len(g.entries))
	return share <= float64(weight)/float64(total)
}

// RecordCompletion reports the outcome of a gated call. The per-tag
// response-time average is an exponential moving average.
func (g *Gate) RecordCompletion(tag string, responseTime time.Duration, success bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	st, ok := g.stats[tag]
	if !ok {
		st = &tagStats{}
		g.stats[tag] = st
	}
	st.calls++
	if success {
		st.successes++
	}
	ms := float64(responseTime.Milliseconds())
	if st.avgMs == 0 {
		st.avgMs = ms
	} else {
		st.avgMs = st.avgMs*0.9 + ms*0.1
	}
}

// Utilization returns the fraction of the window currently consumed.
func (g *Gate) Utilization() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.prune(time.Now())
	return float64(len(g.entries)) / float64(g.maxCalls)
}

// TagSnapshot is a point-in-time view of one tag's activity.
type TagSnapshot struct {
	Calls         int64   `json:"calls"`
	Successes     int64   `json:"successes"`
	AvgResponseMs float64 `json:"avg_response_ms"`
}

// Stats returns per-tag snapshots plus the current utilization.
func (g *Gate) Stats() (map[string]TagSnapshot, float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.prune(time.Now())
	out := make(map[string]TagSnapshot, len(g.stats))
	for tag, st := range g.stats {
		out[tag] = TagSnapshot{
			Calls:         st.calls,
			Successes:     st.successes,
			AvgResponseMs: st.avgMs,
		}
	}
	return out, float64(len(g.entries)) / float64(g.maxCalls)
}
