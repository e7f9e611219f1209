package validator

import (
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"

	"github.com/sirrobot01/reclaimarr/internal/utils"
)

const (
	cacheSize         = 1000
	maxDisplayNameLen = 200
	maxFilenameLen    = 255
)

var (
	ErrInvalidHash    = errors.New("invalid hash")
	ErrInvalidMagnet  = errors.New("invalid magnet")
	ErrInvalidTorrent = errors.New("invalid torrent metadata")
)

// TorrentMeta is the subset of provider metadata the validator checks
// before a torrent is allowed into the pipeline.
type TorrentMeta struct {
	ID       string
	Hash     string
	Filename string
	Status   string
	Size     int64
}

// Validator checks hashes, magnets and torrent metadata, caching prior
// verdicts keyed by a digest of the input.
type Validator struct {
	mu       sync.RWMutex
	denylist map[string]struct{}
	cache    *lru.Cache[string, string]
	logger   zerolog.Logger
}

func New(logger zerolog.Logger) *Validator {
	cache, _ := lru.New[string, string](cacheSize)
	return &Validator{
		denylist: make(map[string]struct{}),
		cache:    cache,
		logger:   logger,
	}
}

// Denylist adds hashes that must never be re-submitted.
func (v *Validator) Denylist(hashes ...string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	for _, h := range hashes {
		v.denylist[strings.ToLower(h)] = struct{}{}
	}
}

func (v *Validator) isDenylisted(hash string) bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	_, ok := v.denylist[hash]
	return ok
}

func cacheKey(kind, input string) string {
	sum := sha1.Sum([]byte(kind + ":" + input))
	return hex.EncodeToString(sum[:])
}

// lookup returns (reason, found). An empty reason means a cached pass.
func (v *Validator) lookup(key string) (string, bool) {
	return v.cache.Get(key)
}

func (v *Validator) remember(key, reason string) {
	v.cache.Add(key, reason)
}

// ValidateHash lower-cases and validates a torrent info hash. Returns the
// normalized hash on success.
func (v *Validator) ValidateHash(hash string) (string, error) {
	normalized := strings.ToLower(strings.TrimSpace(hash))

	// the denylist is mutable at runtime, so it is checked outside the cache
	if v.isDenylisted(normalized) {
		return "", fmt.Errorf("%w: denylisted", ErrInvalidHash)
	}

	key := cacheKey("hash", normalized)
	if reason, ok := v.lookup(key); ok {
		if reason == "" {
			return normalized, nil
		}
		return "", fmt.Errorf("%w: %s", ErrInvalidHash, reason)
	}

	reason := v.checkHash(normalized)
	v.remember(key, reason)
	if reason != "" {
		return "", fmt.Errorf("%w: %s", ErrInvalidHash, reason)
	}
	return normalized, nil
}

func (v *Validator) checkHash(hash string) string {
	if !utils.IsHexHash(hash) {
		return "must be exactly 40 hex characters"
	}
	if hash == strings.Repeat("0", 40) {
		return "all-zero hash"
	}
	distinct := make(map[rune]struct{}, 16)
	for _, r := range hash {
		distinct[r] = struct{}{}
	}
	if len(distinct) < 3 {
		return "too few distinct characters"
	}
	return ""
}

// ParseMagnet extracts and validates the info hash from a magnet URI.
func (v *Validator) ParseMagnet(magnet string) (string, error) {
	if !strings.HasPrefix(magnet, "magnet:") {
		return "", fmt.Errorf("%w: missing magnet scheme", ErrInvalidMagnet)
	}
	m, err := utils.GetMagnetInfo(magnet)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidMagnet, err)
	}
	if len(m.Name) > maxDisplayNameLen {
		return "", fmt.Errorf("%w: display name exceeds %d characters", ErrInvalidMagnet, maxDisplayNameLen)
	}
	return v.ValidateHash(m.InfoHash)
}

// BuildMagnet validates the hash and constructs a magnet URI carrying the
// display name.
func (v *Validator) BuildMagnet(hash, displayName string) (string, error) {
	normalized, err := v.ValidateHash(hash)
	if err != nil {
		return "", err
	}
	return utils.ConstructMagnet(normalized, displayName).Link, nil
}

// ValidateTorrent checks the provider metadata for a catalog row.
func (v *Validator) ValidateTorrent(meta TorrentMeta) error {
	key := cacheKey("torrent", fmt.Sprintf("%s|%s|%s|%s|%d", meta.ID, meta.Hash, meta.Filename, meta.Status, meta.Size))
	if reason, ok := v.lookup(key); ok {
		if reason == "" {
			return nil
		}
		return fmt.Errorf("%w: %s", ErrInvalidTorrent, reason)
	}

	reason := v.checkTorrent(meta)
	v.remember(key, reason)
	if reason != "" {
		return fmt.Errorf("%w: %s", ErrInvalidTorrent, reason)
	}
	return nil
}

func (v *Validator) checkTorrent(meta TorrentMeta) string {
	if meta.ID == "" || meta.Hash == "" || meta.Filename == "" || meta.Status == "" {
		return "id, hash, filename and status are required"
	}
	if reason := v.checkHash(strings.ToLower(meta.Hash)); reason != "" {
		return reason
	}
	if meta.Size < 0 {
		return "negative size"
	}
	if len(meta.Filename) > maxFilenameLen {
		return "filename too long"
	}
	if strings.ContainsAny(meta.Filename, "<>|\x00\n\r") {
		return "filename contains forbidden characters"
	}
	return ""
}
