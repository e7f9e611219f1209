package worker

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	debridtypes "github.com/sirrobot01/reclaimarr/pkg/debrid/types"
	"github.com/sirrobot01/reclaimarr/pkg/store"
	"github.com/sirrobot01/reclaimarr/pkg/validator"
)

const goodHash = "8a19577fb5f690970ca43a57ff1011ae202244b8"

type fakeProvider struct {
	perCycle int
	result   *debridtypes.AddMagnetResult
	err      error
	calls    []string
}

func (f *fakeProvider) AddMagnet(ctx context.Context, magnet string) (*debridtypes.AddMagnetResult, error) {
	f.calls = append(f.calls, magnet)
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

func (f *fakeProvider) PerCycle() int {
	if f.perCycle <= 0 {
		return 10
	}
	return f.perCycle
}

type fakeSink struct {
	handled []store.Torrent
	causes  []error
}

func (f *fakeSink) Handle(ctx context.Context, t store.Torrent, cause error) error {
	f.handled = append(f.handled, t)
	f.causes = append(f.causes, cause)
	return nil
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"), zerolog.Nop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func seedTorrent(t *testing.T, st *store.Store, id, hash, filename, status string) store.Torrent {
	t.Helper()
	tor := store.Torrent{ID: id, Hash: hash, Filename: filename, Status: status, Priority: store.PriorityNormal}
	if err := st.UpsertTorrent(context.Background(), tor); err != nil {
		t.Fatal(err)
	}
	return tor
}

func newTestReinjector(t *testing.T, st *store.Store, provider Provider, sink FailureSink, dryRun bool) *Reinjector {
	t.Helper()
	return NewReinjector(ReinjectorOptions{
		Store:     st,
		Provider:  provider,
		Validator: validator.New(zerolog.Nop()),
		Failures:  sink,
		DryRun:    dryRun,
		Logger:    zerolog.Nop(),
	})
}

func TestReinject_InvalidHash(t *testing.T) {
	st := newTestStore(t)
	provider := &fakeProvider{}
	tor := seedTorrent(t, st, "T1", "not-a-hash", "Foo Bar", store.StatusDead)

	w := newTestReinjector(t, st, provider, nil, false)
	ok, err := w.Reinject(context.Background(), tor)
	if err != nil {
		t.Fatalf("reinject errored: %v", err)
	}
	if ok {
		t.Error("invalid hash must not succeed")
	}
	if len(provider.calls) != 0 {
		t.Error("provider must not be called for an invalid hash")
	}

	attempts, err := st.GetAttempts(context.Background(), "T1", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(attempts) != 1 || attempts[0].Success || attempts[0].ErrorMessage != "Hash invalide" {
		t.Errorf("wrong attempt row: %+v", attempts)
	}
}

func TestReinject_DryRun(t *testing.T) {
	st := newTestStore(t)
	provider := &fakeProvider{}
	tor := seedTorrent(t, st, "T1", goodHash, "Foo Bar 2020", store.StatusDead)

	w := newTestReinjector(t, st, provider, nil, true)
	ok, err := w.Reinject(context.Background(), tor)
	if err != nil {
		t.Fatalf("reinject errored: %v", err)
	}
	if !ok {
		t.Error("dry run should report success")
	}
	if len(provider.calls) != 0 {
		t.Error("dry run must not call the provider")
	}

	attempts, err := st.GetAttempts(context.Background(), "T1", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(attempts) != 1 || !attempts[0].Success || attempts[0].APIResponse != "DRY-RUN simulation" {
		t.Errorf("wrong attempt row: %+v", attempts)
	}
}

func TestReinject_Success(t *testing.T) {
	st := newTestStore(t)
	provider := &fakeProvider{result: &debridtypes.AddMagnetResult{ID: "NEW1"}}
	tor := seedTorrent(t, st, "T1", goodHash, "Foo Bar 2020", store.StatusDead)

	w := newTestReinjector(t, st, provider, nil, false)
	ok, err := w.Reinject(context.Background(), tor)
	if err != nil {
		t.Fatalf("reinject errored: %v", err)
	}
	if !ok {
		t.Error("expected success")
	}
	if len(provider.calls) != 1 {
		t.Fatalf("expected one provider call, got %d", len(provider.calls))
	}

	attempts, err := st.GetAttempts(context.Background(), "T1", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(attempts) != 1 || !attempts[0].Success || attempts[0].APIResponse != "NEW1" {
		t.Errorf("wrong attempt row: %+v", attempts)
	}

	got, err := st.GetTorrent(context.Background(), "T1")
	if err != nil {
		t.Fatal(err)
	}
	if got.AttemptsCount != 1 || got.LastSuccess == nil {
		t.Errorf("counters not bumped: %+v", got)
	}
}

func TestReinject_FailureRoutedToHandler(t *testing.T) {
	st := newTestStore(t)
	cause := &debridtypes.Error{Message: "infringing_file", Code: "infringing_file"}
	provider := &fakeProvider{err: cause}
	sink := &fakeSink{}
	tor := seedTorrent(t, st, "T1", goodHash, "Foo Bar 2020", store.StatusDead)

	w := newTestReinjector(t, st, provider, sink, false)
	ok, err := w.Reinject(context.Background(), tor)
	if err != nil {
		t.Fatalf("reinject errored: %v", err)
	}
	if ok {
		t.Error("provider failure should not report success")
	}
	if len(sink.handled) != 1 || sink.handled[0].ID != "T1" {
		t.Fatalf("failure not routed: %+v", sink.handled)
	}

	// attempt row was written before the handler ran
	attempts, err := st.GetAttempts(context.Background(), "T1", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(attempts) != 1 || attempts[0].Success || attempts[0].ErrorMessage != "infringing_file" {
		t.Errorf("wrong attempt row: %+v", attempts)
	}
}

func TestRunCycle_RespectsPerCycleCap(t *testing.T) {
	st := newTestStore(t)
	provider := &fakeProvider{perCycle: 2, result: &debridtypes.AddMagnetResult{ID: "X"}}
	for _, id := range []string{"T1", "T2", "T3", "T4"} {
		seedTorrent(t, st, id, goodHash, "Item "+id, store.StatusDead)
	}

	w := newTestReinjector(t, st, provider, nil, false)
	processed, failed, err := w.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("cycle errored: %v", err)
	}
	if processed != 2 || failed != 0 {
		t.Errorf("processed=%d failed=%d, want 2/0", processed, failed)
	}
	if len(provider.calls) != 2 {
		t.Errorf("provider called %d times, want 2", len(provider.calls))
	}
}

func TestCleanup_RunOnce(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	seedTorrent(t, st, "T1", goodHash, "Recoverable Item", store.StatusDead)
	seedTorrent(t, st, "T2", goodHash, "Still Limited Item", store.StatusDead)

	// distinct due times pin the processing order: T1, T2, GONE
	now := time.Now().UTC()
	for i, id := range []string{"T1", "T2", "GONE"} {
		err := st.ScheduleRetry(ctx, store.RetryEntry{
			TorrentID:      id,
			Filename:       id,
			ErrorType:      "too_many_requests",
			ScheduledRetry: now.Add(time.Duration(i-3) * time.Minute),
		})
		if err != nil {
			t.Fatal(err)
		}
	}

	// first call (T1) succeeds, the rest are rate limited
	failNext := false
	provider := providerFunc(func(ctx context.Context, magnet string) (*debridtypes.AddMagnetResult, error) {
		if failNext {
			return nil, &debridtypes.Error{Message: "too_many_requests", Code: "rate_limited"}
		}
		failNext = true
		return &debridtypes.AddMagnetResult{ID: "X"}, nil
	})
	w := newTestReinjector(t, st, provider, &fakeSink{}, false)
	c := NewCleanup(CleanupOptions{Store: st, Reinjector: w, MaxRetries: 3, Hold: time.Hour, Logger: zerolog.Nop()})

	if err := c.RunOnce(ctx); err != nil {
		t.Fatalf("run once errored: %v", err)
	}

	// T1's row deleted, T2's bumped into the future, GONE dropped
	pending, err := st.GetPendingRetries(ctx, 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 0 {
		t.Errorf("all rows should be resolved or rescheduled, got %+v", pending)
	}
	n, err := st.CountPendingRetries(ctx, 3)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("only the bumped row should remain, got %d", n)
	}

	got, err := st.GetTorrent(ctx, "T1")
	if err != nil {
		t.Fatal(err)
	}
	if got.AttemptsCount != 1 || got.LastSuccess == nil {
		t.Errorf("deferred success not recorded: %+v", got)
	}
}

type providerFunc func(ctx context.Context, magnet string) (*debridtypes.AddMagnetResult, error)

func (f providerFunc) AddMagnet(ctx context.Context, magnet string) (*debridtypes.AddMagnetResult, error) {
	return f(ctx, magnet)
}

func (f providerFunc) PerCycle() int { return 10 }

func TestTester_RunBatch(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	// promoted catalog entry the correlator matched to Foo.Bar.2020.1080p
	tor := store.Torrent{
		ID:       "T1",
		Hash:     goodHash,
		Filename: "Foo Bar 2020 1080p x265",
		Status:   store.StatusSymlinkBroken,
		Priority: store.PriorityHigh,
		Metadata: map[string]string{"source": "symlink_walker", "matched_name": "Foo.Bar.2020.1080p"},
	}
	if err := st.UpsertTorrent(ctx, tor); err != nil {
		t.Fatal(err)
	}

	links := []store.SymlinkRecord{
		{SourcePath: "/media/b/bravo.mkv", TorrentName: "Foo.Bar.2020.1080p", Status: "BROKEN", DetectedAt: time.Now().UTC()},
		{SourcePath: "/media/a/alpha.mkv", TorrentName: "Never.Matched.Item", Status: "BROKEN", DetectedAt: time.Now().UTC()},
	}
	for _, l := range links {
		if err := st.RecordSymlink(ctx, l); err != nil {
			t.Fatal(err)
		}
	}

	provider := &fakeProvider{result: &debridtypes.AddMagnetResult{ID: "X"}}
	w := newTestReinjector(t, st, provider, nil, false)
	tester := NewTester(TesterOptions{Store: st, Reinjector: w, BatchSize: 10, Logger: zerolog.Nop()})

	n, err := tester.RunBatch(ctx)
	if err != nil {
		t.Fatalf("batch errored: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 links consumed, got %d", n)
	}
	if len(provider.calls) != 1 {
		t.Errorf("only the matched link should drive a re-submission, got %d", len(provider.calls))
	}

	unprocessed := false
	left, err := st.GetSymlinks(ctx, &unprocessed, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(left) != 0 {
		t.Errorf("every consumed link should be marked processed, got %+v", left)
	}

	// pipeline drained
	n, err = tester.RunBatch(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("drained pipeline should consume nothing, got %d", n)
	}
}
