package realdebrid

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	gourl "net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/sirrobot01/reclaimarr/internal/config"
	"github.com/sirrobot01/reclaimarr/internal/logger"
	"github.com/sirrobot01/reclaimarr/internal/request"
	"github.com/sirrobot01/reclaimarr/internal/utils"
	"github.com/sirrobot01/reclaimarr/pkg/debrid/types"
	"github.com/sirrobot01/reclaimarr/pkg/rategate"
)

const host = "https://api.real-debrid.com/rest/1.0"

// Adaptive pacing bounds.
const (
	initialDelay = time.Second
	minDelay     = 500 * time.Millisecond
	maxDelay     = 30 * time.Second

	successStreakTarget = 5
	minPerCycle         = 1
	maxPerCycleCap      = 50
)

// Client is the typed Real-Debrid API surface. Every call acquires a
// gate slot, sleeps the adaptive per-call delay, and reports completion
// back to the gate.
type Client struct {
	name   string
	host   string
	client *request.Client
	gate   *rategate.Gate
	logger zerolog.Logger

	mu            sync.Mutex
	currentDelay  time.Duration
	successStreak int
	errorStreak   int
	perCycle      int
}

func New(cfg config.Provider, gate *rategate.Gate, perCycle int) *Client {
	_log := logger.New(cfg.Name)
	rl := request.ParseRateLimit(cfg.RateLimit)
	headers := map[string]string{
		"Authorization": fmt.Sprintf("Bearer %s", cfg.APIToken),
	}

	client := request.New(
		request.WithHeaders(headers),
		request.WithRateLimiter(rl),
		request.WithLogger(_log),
		request.WithMaxRetries(3),
		request.WithRetryableStatus(502, 503, 504),
		request.WithTimeout(30*time.Second),
		request.WithProxy(cfg.Proxy),
	)

	if perCycle <= 0 {
		perCycle = 10
	}
	_log.Info().Str("token", utils.Mask(cfg.APIToken)).Msg("provider client ready")
	return &Client{
		name:         cfg.Name,
		host:         host,
		client:       client,
		gate:         gate,
		logger:       _log,
		currentDelay: initialDelay,
		perCycle:     perCycle,
	}
}

// SetHost overrides the API base URL, for tests against stub servers.
func (c *Client) SetHost(h string) {
	c.host = h
}

// PerCycle returns the current per-cycle candidate cap, tuned by the
// adaptive backoff.
func (c *Client) PerCycle() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.perCycle
}

// CurrentDelay exposes the adaptive per-call delay for monitoring.
func (c *Client) CurrentDelay() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.currentDelay
}

func (c *Client) recordSuccess() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errorStreak = 0
	c.successStreak++
	if c.successStreak >= successStreakTarget {
		c.successStreak = 0
		c.currentDelay = max(minDelay, time.Duration(float64(c.currentDelay)/1.1))
		if c.perCycle < maxPerCycleCap {
			c.perCycle++
		}
	}
}

func (c *Client) recordError(clsErr *types.Error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.successStreak = 0
	c.errorStreak++
	if clsErr != nil && clsErr.Code == types.RateLimitedError.Code {
		c.currentDelay = min(maxDelay, time.Duration(float64(c.currentDelay)*3.0))
		c.perCycle = max(minPerCycle, c.perCycle-2)
		c.logger.Warn().
			Dur("delay", c.currentDelay).
			Int("per_cycle", c.perCycle).
			Msg("rate limited, backing off")
		return
	}
	c.currentDelay = min(maxDelay, time.Duration(float64(c.currentDelay)*1.5))
}

// call performs one gated, paced request and classifies the outcome.
func (c *Client) call(ctx context.Context, tag, method, path string, form gourl.Values) ([]byte, error) {
	if err := c.gate.Acquire(ctx, tag); err != nil {
		return nil, err
	}

	// adaptive pacing between calls, on top of the global gate
	delay := c.CurrentDelay()
	if delay > 0 {
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}

	url, err := request.JoinURL(c.host, path)
	if err != nil {
		return nil, err
	}

	var req *http.Request
	if form != nil {
		req, err = http.NewRequestWithContext(ctx, method, url, strings.NewReader(form.Encode()))
		if err == nil {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}
	} else {
		req, err = http.NewRequestWithContext(ctx, method, url, nil)
	}
	if err != nil {
		return nil, err
	}

	start := time.Now()
	body, err := c.client.MakeRequest(req)
	elapsed := time.Since(start)

	if err != nil {
		var statusErr *request.StatusError
		if errors.As(err, &statusErr) {
			clsErr := types.Classify(statusErr.Code, statusErr.Body)
			c.gate.RecordCompletion(tag, elapsed, false)
			c.recordError(clsErr)
			return body, clsErr
		}
		clsErr := types.ClassifyTransport(err)
		c.gate.RecordCompletion(tag, elapsed, false)
		c.recordError(clsErr)
		return nil, clsErr
	}

	c.gate.RecordCompletion(tag, elapsed, true)
	c.recordSuccess()
	return body, nil
}

type torrentItem struct {
	ID       string  `json:"id"`
	Filename string  `json:"filename"`
	Hash     string  `json:"hash"`
	Bytes    int64   `json:"bytes"`
	Status   string  `json:"status"`
	Added    string  `json:"added"`
	Progress float64 `json:"progress"`
}

func (i torrentItem) toTorrent() types.Torrent {
	added, _ := time.Parse(time.RFC3339, i.Added)
	return types.Torrent{
		ID:       i.ID,
		Hash:     strings.ToLower(i.Hash),
		Filename: i.Filename,
		Status:   i.Status,
		Bytes:    i.Bytes,
		Added:    added,
		Progress: i.Progress,
	}
}

// GetTorrents pages through the catalog. filter follows the provider's
// torrent list filter values ("active" or empty).
func (c *Client) GetTorrents(ctx context.Context, filter string, limit, offset int) ([]types.Torrent, error) {
	if limit <= 0 {
		limit = 100
	}
	q := gourl.Values{}
	q.Set("limit", strconv.Itoa(limit))
	if offset > 0 {
		q.Set("offset", strconv.Itoa(offset))
	}
	if filter != "" {
		q.Set("filter", filter)
	}

	body, err := c.call(ctx, rategate.TagTestInjection, http.MethodGet, "torrents?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}

	var items []torrentItem
	if err := json.Unmarshal(body, &items); err != nil {
		return nil, fmt.Errorf("decoding torrent list: %w", err)
	}
	torrents := make([]types.Torrent, 0, len(items))
	for _, item := range items {
		torrents = append(torrents, item.toTorrent())
	}
	return torrents, nil
}

func (c *Client) GetTorrent(ctx context.Context, id string) (*types.Torrent, error) {
	body, err := c.call(ctx, rategate.TagTestInjection, http.MethodGet, "torrents/info/"+id, nil)
	if err != nil {
		return nil, err
	}
	var item torrentItem
	if err := json.Unmarshal(body, &item); err != nil {
		return nil, fmt.Errorf("decoding torrent info: %w", err)
	}
	torrent := item.toTorrent()
	return &torrent, nil
}

func (c *Client) AddMagnet(ctx context.Context, magnet string) (*types.AddMagnetResult, error) {
	form := gourl.Values{}
	form.Set("magnet", magnet)

	body, err := c.call(ctx, rategate.TagTestInjection, http.MethodPost, "torrents/addMagnet", form)
	if err != nil {
		return nil, err
	}
	var result types.AddMagnetResult
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("decoding addMagnet response: %w", err)
	}
	c.logger.Debug().Str("hash", utils.ExtractInfoHash(magnet)).Str("id", result.ID).Msg("magnet submitted")
	return &result, nil
}

func (c *Client) DeleteTorrent(ctx context.Context, id string) error {
	_, err := c.call(ctx, rategate.TagCleanup, http.MethodDelete, "torrents/delete/"+id, nil)
	return err
}

func (c *Client) GetUser(ctx context.Context) (*types.User, error) {
	body, err := c.call(ctx, rategate.TagTestInjection, http.MethodGet, "user", nil)
	if err != nil {
		return nil, err
	}
	var raw struct {
		ID         int    `json:"id"`
		Username   string `json:"username"`
		Email      string `json:"email"`
		Type       string `json:"type"`
		Premium    int    `json:"premium"`
		Expiration string `json:"expiration"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("decoding user: %w", err)
	}
	expiration, _ := time.Parse(time.RFC3339, raw.Expiration)
	return &types.User{
		ID:         raw.ID,
		Username:   raw.Username,
		Email:      raw.Email,
		Type:       raw.Type,
		Premium:    raw.Premium,
		Expiration: expiration,
	}, nil
}
