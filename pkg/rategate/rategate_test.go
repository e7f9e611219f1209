package rategate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func newTestGate(maxCalls int, window time.Duration) *Gate {
	return New(Options{
		MaxCalls:       maxCalls,
		Window:         window,
		AcquireTimeout: 200 * time.Millisecond,
		Logger:         zerolog.Nop(),
	})
}

func TestAcquire_UnderLimit(t *testing.T) {
	g := newTestGate(5, time.Minute)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if err := g.Acquire(ctx, TagTestInjection); err != nil {
			t.Fatalf("acquire %d failed: %v", i, err)
		}
	}
	if u := g.Utilization(); u != 1.0 {
		t.Errorf("expected utilization 1.0, got %v", u)
	}
}

func TestAcquire_TimesOutWhenFull(t *testing.T) {
	g := newTestGate(2, time.Minute)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := g.Acquire(ctx, TagTestInjection); err != nil {
			t.Fatalf("acquire %d failed: %v", i, err)
		}
	}

	start := time.Now()
	err := g.Acquire(ctx, TagCleanup)
	if !errors.Is(err, ErrAcquireTimeout) {
		t.Fatalf("expected ErrAcquireTimeout, got %v", err)
	}
	if elapsed := time.Since(start); elapsed < 150*time.Millisecond {
		t.Errorf("timed out too early: %v", elapsed)
	}
}

func TestAcquire_SlotFreesAfterWindow(t *testing.T) {
	g := newTestGate(1, 100*time.Millisecond)
	ctx := context.Background()

	if err := g.Acquire(ctx, TagTestInjection); err != nil {
		t.Fatalf("first acquire failed: %v", err)
	}
	// second acquire must wait for the window to roll
	if err := g.Acquire(ctx, TagTestInjection); err != nil {
		t.Fatalf("second acquire should succeed after window rolls: %v", err)
	}
}

func TestAcquire_ContextCancel(t *testing.T) {
	g := newTestGate(1, time.Minute)
	if err := g.Acquire(context.Background(), TagTestInjection); err != nil {
		t.Fatalf("acquire failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	if err := g.Acquire(ctx, TagTestInjection); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestAcquire_RollingWindowNeverExceeded(t *testing.T) {
	window := 200 * time.Millisecond
	g := New(Options{
		MaxCalls:       3,
		Window:         window,
		AcquireTimeout: 2 * time.Second,
		Logger:         zerolog.Nop(),
	})
	ctx := context.Background()

	var admissions []time.Time
	for i := 0; i < 7; i++ {
		if err := g.Acquire(ctx, TagTestInjection); err != nil {
			t.Fatalf("acquire %d failed: %v", i, err)
		}
		admissions = append(admissions, time.Now())
	}

	for i := range admissions {
		count := 1
		for j := i + 1; j < len(admissions); j++ {
			if admissions[j].Sub(admissions[i]) < window {
				count++
			}
		}
		if count > 3 {
			t.Fatalf("window starting at admission %d saw %d admissions", i, count)
		}
	}
}

func TestRecordCompletion_MovingAverage(t *testing.T) {
	g := newTestGate(10, time.Minute)

	g.RecordCompletion(TagTestInjection, 100*time.Millisecond, true)
	g.RecordCompletion(TagTestInjection, 200*time.Millisecond, false)

	stats, _ := g.Stats()
	st := stats[TagTestInjection]
	if st.Calls != 2 {
		t.Errorf("expected 2 calls, got %d", st.Calls)
	}
	if st.Successes != 1 {
		t.Errorf("expected 1 success, got %d", st.Successes)
	}
	// 100*0.9 + 200*0.1
	if st.AvgResponseMs != 110 {
		t.Errorf("expected moving average 110ms, got %v", st.AvgResponseMs)
	}
}

func TestAcquireOptimal_ForcesAfterMaxWait(t *testing.T) {
	g := newTestGate(10, time.Minute)
	ctx := context.Background()

	// saturate the window with one tag so its share is 100%
	for i := 0; i < 4; i++ {
		if err := g.Acquire(ctx, TagTestInjection); err != nil {
			t.Fatalf("acquire failed: %v", err)
		}
	}

	start := time.Now()
	if err := g.AcquireOptimal(ctx, TagTestInjection, 600*time.Millisecond); err != nil {
		t.Fatalf("optimal acquire should force admission: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 500*time.Millisecond {
		t.Errorf("expected to wait out the optimal window, waited %v", elapsed)
	}
}

func TestAcquireOptimal_ImmediateWhenWithinShare(t *testing.T) {
	g := newTestGate(10, time.Minute)
	ctx := context.Background()

	start := time.Now()
	if err := g.AcquireOptimal(ctx, TagNotifyMedia, time.Second); err != nil {
		t.Fatalf("optimal acquire failed: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Errorf("empty gate should admit immediately, took %v", elapsed)
	}
}
