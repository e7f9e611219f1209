package correlate

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	debridtypes "github.com/sirrobot01/reclaimarr/pkg/debrid/types"
	"github.com/sirrobot01/reclaimarr/pkg/store"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		in     string
		expect string
	}{
		{"Foo.Bar.2020.1080p.mkv", "foo bar 2020 1080p"},
		{"Foo_Bar-2020.mp4", "foo bar 2020"},
		{"Some Show (2021) [x265]", "some show"},
		{"  Padded.Name  ", "padded name"},
		{"UPPER.CASE.avi", "upper case"},
		{"already clean", "already clean"},
	}
	for _, tt := range tests {
		if got := Normalize(tt.in); got != tt.expect {
			t.Errorf("Normalize(%q) = %q, want %q", tt.in, got, tt.expect)
		}
	}
}

func TestScore(t *testing.T) {
	// seed scenario: extracted dir name vs catalog filename
	s := Score("Foo.Bar.2020.1080p", "Foo Bar 2020 1080p x265")
	if s < 0.7 {
		t.Errorf("expected score >= 0.7 for near-identical names, got %v", s)
	}

	if s := Score("Completely Different", "Another Thing Entirely"); s >= 0.7 {
		t.Errorf("unrelated names scored %v", s)
	}

	if s := Score("", "something"); s != 0 {
		t.Errorf("empty name should score 0, got %v", s)
	}

	identical := Score("Same.Name.2020", "Same.Name.2020")
	if identical != 1 {
		t.Errorf("identical names should score 1, got %v", identical)
	}
}

func TestScore_PrefixBonus(t *testing.T) {
	base := "The Long Running Series S01E01"
	with := Score(base, base+" extended directors cut edition")
	without := Score("XX"+base[2:], base+" extended directors cut edition")
	if with <= without {
		t.Errorf("prefix bonus not applied: with=%v without=%v", with, without)
	}
}

func TestWordOverlap(t *testing.T) {
	if got := WordOverlap("Foo Bar 2020", "foo.bar.2020.1080p.x265"); got != 1.0 {
		t.Errorf("expected full overlap, got %v", got)
	}
	if got := WordOverlap("alpha beta gamma delta", "alpha beta something"); got != 0.5 {
		t.Errorf("expected 0.5 overlap, got %v", got)
	}
	if got := WordOverlap("", "anything"); got != 0 {
		t.Errorf("empty target should overlap 0, got %v", got)
	}
}

func TestMatchNames(t *testing.T) {
	catalog := []debridtypes.Torrent{
		{ID: "T1", Filename: "Foo Bar 2020 1080p x265", Hash: "8a19577fb5f690970ca43a57ff1011ae202244b8"},
		{ID: "T2", Filename: "Unrelated Documentary 1999", Hash: "1b19577fb5f690970ca43a57ff1011ae202244b8"},
	}
	c := New(nil, 0.7, zerolog.Nop())

	matches := c.MatchNames([]string{"Foo.Bar.2020.1080p", "Foo.Bar.2020.1080p", "No.Such.Thing.2024"}, catalog)
	if len(matches) != 1 {
		t.Fatalf("expected a single match (deduplicated), got %d", len(matches))
	}
	if matches[0].Torrent.ID != "T1" {
		t.Errorf("matched wrong torrent: %s", matches[0].Torrent.ID)
	}
	if matches[0].Score < 0.7 {
		t.Errorf("match below threshold: %v", matches[0].Score)
	}
}

func TestPromote(t *testing.T) {
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"), zerolog.Nop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer st.Close()

	c := New(st, 0.7, zerolog.Nop())
	ctx := context.Background()

	matches := []Match{{
		Name: "Foo.Bar.2020.1080p",
		Torrent: debridtypes.Torrent{
			ID:       "T1",
			Hash:     "8a19577fb5f690970ca43a57ff1011ae202244b8",
			Filename: "Foo Bar 2020 1080p x265",
			Bytes:    1 << 30,
		},
		Score: 0.9,
	}}
	if err := c.Promote(ctx, matches); err != nil {
		t.Fatalf("promote failed: %v", err)
	}

	got, err := st.GetTorrent(ctx, "T1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got.Status != store.StatusSymlinkBroken {
		t.Errorf("expected symlink_broken, got %s", got.Status)
	}
	if got.Priority != store.PriorityHigh {
		t.Errorf("expected priority %d, got %d", store.PriorityHigh, got.Priority)
	}
	if got.Metadata["source"] != "symlink_walker" {
		t.Errorf("metadata source missing: %+v", got.Metadata)
	}
}
