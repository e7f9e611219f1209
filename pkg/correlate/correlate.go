package correlate

import (
	"context"
	"regexp"
	"strings"

	"github.com/rs/zerolog"

	debridtypes "github.com/sirrobot01/reclaimarr/pkg/debrid/types"
	"github.com/sirrobot01/reclaimarr/pkg/store"
)

var (
	extensionRe = regexp.MustCompile(`(?i)\.(mkv|mp4|avi|mov|wmv|flv|m4v|webm)$`)
	separatorRe = regexp.MustCompile(`[._-]`)
	bracketedRe = regexp.MustCompile(`\s*[\[(][^\])]*[\])]\s*$`)
	spacesRe    = regexp.MustCompile(`\s+`)
)

// Normalize reduces a torrent or file name to a comparable form:
// lower-case, separators to spaces, extension and trailing bracketed
// tags dropped, whitespace collapsed.
func Normalize(name string) string {
	s := strings.ToLower(strings.TrimSpace(name))
	s = extensionRe.ReplaceAllString(s, "")
	s = separatorRe.ReplaceAllString(s, " ")
	for {
		stripped := bracketedRe.ReplaceAllString(s, "")
		if stripped == s {
			break
		}
		s = stripped
	}
	s = spacesRe.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// lcsLength computes the longest common subsequence length of two rune
// slices with a rolling single-row table.
func lcsLength(a, b []rune) int {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for i := 1; i <= len(a); i++ {
		for j := 1; j <= len(b); j++ {
			if a[i-1] == b[j-1] {
				curr[j] = prev[j-1] + 1
			} else if prev[j] >= curr[j-1] {
				curr[j] = prev[j]
			} else {
				curr[j] = curr[j-1]
			}
		}
		prev, curr = curr, prev
	}
	return prev[len(b)]
}

const prefixBonusLen = 30

// Score compares two raw names and returns a 0..1 similarity: the LCS
// ratio of their normalized forms, with a +0.1 bonus when either form
// starts with the other's leading characters.
func Score(a, b string) float64 {
	na, nb := Normalize(a), Normalize(b)
	if na == "" || nb == "" {
		return 0
	}
	ra, rb := []rune(na), []rune(nb)
	score := 2.0 * float64(lcsLength(ra, rb)) / float64(len(ra)+len(rb))

	if hasPrefixBonus(na, nb) || hasPrefixBonus(nb, na) {
		score += 0.1
	}
	if score > 1 {
		score = 1
	}
	return score
}

func hasPrefixBonus(longer, shorter string) bool {
	n := prefixBonusLen
	if len(shorter) < n {
		n = len(shorter)
	}
	if n == 0 {
		return false
	}
	return strings.HasPrefix(longer, shorter[:n])
}

// WordOverlap returns the fraction of the target's normalized words
// present in the candidate's normalized form.
func WordOverlap(target, candidate string) float64 {
	targetWords := strings.Fields(Normalize(target))
	if len(targetWords) == 0 {
		return 0
	}
	candidateWords := make(map[string]struct{})
	for _, w := range strings.Fields(Normalize(candidate)) {
		candidateWords[w] = struct{}{}
	}
	found := 0
	for _, w := range targetWords {
		if _, ok := candidateWords[w]; ok {
			found++
		}
	}
	return float64(found) / float64(len(targetWords))
}

// Match pairs one extracted name with its best catalog candidate.
type Match struct {
	Name    string
	Torrent debridtypes.Torrent
	Score   float64
}

// Correlator matches broken-link names against the remote catalog and
// promotes the hits into the store.
type Correlator struct {
	store     *store.Store
	threshold float64
	logger    zerolog.Logger
}

func New(st *store.Store, threshold float64, logger zerolog.Logger) *Correlator {
	if threshold <= 0 {
		threshold = 0.7
	}
	return &Correlator{store: st, threshold: threshold, logger: logger}
}

// MatchNames returns, for each unique extracted name, the single best
// catalog candidate at or above the threshold.
func (c *Correlator) MatchNames(names []string, catalog []debridtypes.Torrent) []Match {
	seen := make(map[string]struct{}, len(names))
	var matches []Match
	for _, name := range names {
		if name == "" {
			continue
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}

		best := Match{Name: name}
		for _, t := range catalog {
			if s := Score(name, t.Filename); s > best.Score {
				best.Score = s
				best.Torrent = t
			}
		}
		if best.Score >= c.threshold {
			matches = append(matches, best)
		} else {
			c.logger.Debug().
				Str("name", name).
				Float64("best_score", best.Score).
				Msg("no catalog match")
		}
	}
	return matches
}

// Promote upserts each match as symlink_broken at high priority,
// annotated with the walker as the source.
func (c *Correlator) Promote(ctx context.Context, matches []Match) error {
	for _, m := range matches {
		t := store.Torrent{
			ID:       m.Torrent.ID,
			Hash:     m.Torrent.Hash,
			Filename: m.Torrent.Filename,
			Status:   store.StatusSymlinkBroken,
			Size:     m.Torrent.Bytes,
			Priority: store.PriorityHigh,
			Metadata: map[string]string{"source": "symlink_walker", "matched_name": m.Name},
		}
		if err := c.store.UpsertTorrent(ctx, t); err != nil {
			return err
		}
		c.logger.Info().
			Str("torrent", m.Torrent.ID).
			Str("name", m.Name).
			Float64("score", m.Score).
			Msg("promoted broken-link match")
	}
	return nil
}
