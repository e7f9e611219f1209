package arr

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/sirrobot01/reclaimarr/internal/config"
	"github.com/sirrobot01/reclaimarr/internal/request"
	"github.com/sirrobot01/reclaimarr/pkg/rategate"
)

// Type is a kind of media manager.
type Type string

const (
	Sonarr  Type = "sonarr"
	Radarr  Type = "radarr"
	Lidarr  Type = "lidarr"
	Readarr Type = "readarr"
)

var sharedClient = &http.Client{
	Transport: &http.Transport{
		TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
	},
	Timeout: 60 * time.Second,
}

// Arr is one configured media manager instance.
type Arr struct {
	Name  string `json:"name"`
	Host  string `json:"host"`
	Token string `json:"token"`
	Type  Type   `json:"type"`
}

// New resolves an instance from config. A token_file wins over an inline
// token so secrets can live outside config.json.
func New(cfg config.Arr) (*Arr, error) {
	token := strings.TrimSpace(cfg.Token)
	if cfg.TokenFile != "" {
		data, err := os.ReadFile(cfg.TokenFile)
		if err != nil {
			return nil, fmt.Errorf("reading token file for %s: %w", cfg.Name, err)
		}
		token = strings.TrimSpace(string(data))
	}
	return &Arr{
		Name:  cfg.Name,
		Host:  cfg.Host,
		Token: token,
		Type:  InferType(cfg.Host, cfg.Name),
	}, nil
}

func InferType(host, name string) Type {
	switch {
	case strings.Contains(host, "sonarr") || strings.Contains(name, "sonarr"):
		return Sonarr
	case strings.Contains(host, "radarr") || strings.Contains(name, "radarr"):
		return Radarr
	case strings.Contains(host, "lidarr") || strings.Contains(name, "lidarr"):
		return Lidarr
	case strings.Contains(host, "readarr") || strings.Contains(name, "readarr"):
		return Readarr
	default:
		return ""
	}
}

// commands returns the rescan and search command names this instance's
// api/v3/command endpoint understands, in the order they are sent.
func (a *Arr) commands() []string {
	switch a.Type {
	case Radarr:
		return []string{"RescanMovie", "MissingMoviesSearch"}
	case Lidarr:
		return []string{"RefreshArtist", "MissingAlbumSearch"}
	case Readarr:
		return []string{"RefreshAuthor", "MissingBookSearch"}
	default:
		return []string{"RescanSeries", "missingEpisodeSearch"}
	}
}

// Request sends one authenticated call. A 401 is retried briefly since
// some instances reject requests while reloading their config.
func (a *Arr) Request(ctx context.Context, method, endpoint string, payload interface{}) (*http.Response, error) {
	if a.Token == "" || a.Host == "" {
		return nil, fmt.Errorf("arr %s not configured", a.Name)
	}
	url, err := request.JoinURL(a.Host, endpoint)
	if err != nil {
		return nil, err
	}
	var body []byte
	if payload != nil {
		if body, err = json.Marshal(payload); err != nil {
			return nil, err
		}
	}

	var resp *http.Response
	for attempts := 0; attempts < 5; attempts++ {
		req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Api-Key", a.Token)

		resp, err = sharedClient.Do(req)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode == http.StatusUnauthorized && attempts < 4 {
			resp.Body.Close()
			time.Sleep(time.Duration(attempts+1) * 100 * time.Millisecond)
			continue
		}
		return resp, nil
	}
	return resp, nil
}

// Validate checks the instance is reachable and the token accepted.
func (a *Arr) Validate(ctx context.Context) error {
	resp, err := a.Request(ctx, http.MethodGet, "api/v3/health", nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("arr %s health check failed: %s", a.Name, resp.Status)
	}
	return nil
}

type commandPayload struct {
	Name string `json:"name"`
}

// notifyMaxWait bounds how long one notification POST waits for an
// uncontended gate slot before taking the next available one.
const notifyMaxWait = 30 * time.Second

// Notify tells one instance its library changed: a rescan command, a
// pause, then a missing-item search so replacements get grabbed. Each
// POST takes its own gate slot.
func (a *Arr) Notify(ctx context.Context, spacing time.Duration, gate *rategate.Gate) error {
	for i, name := range a.commands() {
		if i > 0 {
			select {
			case <-time.After(spacing):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if gate != nil {
			if err := gate.AcquireOptimal(ctx, rategate.TagNotifyMedia, notifyMaxWait); err != nil {
				return err
			}
		}
		start := time.Now()
		resp, err := a.Request(ctx, http.MethodPost, "api/v3/command", commandPayload{Name: name})
		if gate != nil {
			gate.RecordCompletion(rategate.TagNotifyMedia, time.Since(start), err == nil && resp != nil && resp.StatusCode < 400)
		}
		if err != nil {
			return fmt.Errorf("command %s on %s: %w", name, a.Name, err)
		}
		resp.Body.Close()
		if resp.StatusCode >= 400 {
			return fmt.Errorf("command %s on %s: %s", name, a.Name, resp.Status)
		}
	}
	return nil
}

// Notifier fans library-change notifications out to every configured
// instance, pacing each call through the shared gate.
type Notifier struct {
	arrs    []*Arr
	gate    *rategate.Gate
	spacing time.Duration
	dryRun  bool
	logger  zerolog.Logger
}

// NewNotifier builds the fan-out from config, skipping unconfigured
// entries the way a partially filled config.json produces them.
func NewNotifier(cfgs []config.Arr, gate *rategate.Gate, dryRun bool, logger zerolog.Logger) *Notifier {
	n := &Notifier{
		gate:    gate,
		spacing: 2 * time.Second,
		dryRun:  dryRun,
		logger:  logger,
	}
	for _, cfg := range cfgs {
		if cfg.Host == "" || (cfg.Token == "" && cfg.TokenFile == "") {
			continue
		}
		a, err := New(cfg)
		if err != nil {
			logger.Warn().Err(err).Str("arr", cfg.Name).Msg("skipping arr instance")
			continue
		}
		n.arrs = append(n.arrs, a)
	}
	return n
}

// SetSpacing overrides the delay between the rescan and search commands.
func (n *Notifier) SetSpacing(d time.Duration) { n.spacing = d }

// Instances returns the resolved instances, used by the health report.
func (n *Notifier) Instances() []*Arr { return n.arrs }

// NotifyAll informs every instance after a cleanup removed files. A
// single unreachable instance does not block the others.
func (n *Notifier) NotifyAll(ctx context.Context) error {
	if n.dryRun {
		n.logger.Info().Int("instances", len(n.arrs)).Msg("dry run, skipping arr notifications")
		return nil
	}
	var lastErr error
	for _, a := range n.arrs {
		err := a.Notify(ctx, n.spacing, n.gate)
		if err != nil {
			n.logger.Error().Err(err).Str("arr", a.Name).Msg("arr notification failed")
			lastErr = err
			continue
		}
		n.logger.Info().Str("arr", a.Name).Msg("arr notified")
	}
	return lastErr
}
