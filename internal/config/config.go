package config

import (
	"cmp"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Provider holds the debrid provider credentials and pacing.
type Provider struct {
	Name      string `json:"name,omitempty"`
	APIToken  string `json:"api_token,omitempty"`
	RateLimit string `json:"rate_limit,omitempty"` // e.g. 250/minute
	Proxy     string `json:"proxy,omitempty"`
}

// Arr is a downstream indexer (Sonarr/Radarr style) notified after orphan
// cleanup. The token can be inlined or read from the service's own config
// file at notification time.
type Arr struct {
	Name      string `json:"name,omitempty"`
	Host      string `json:"host,omitempty"`
	Token     string `json:"token,omitempty"`
	TokenFile string `json:"token_file,omitempty"`
}

type Scans struct {
	QuickInterval    string `json:"quick_interval,omitempty"`   // default 10m
	FullInterval     string `json:"full_interval,omitempty"`    // default 6h
	SymlinkInterval  string `json:"symlink_interval,omitempty"` // default 6h
	FullScanPageSize int    `json:"full_scan_page_size,omitempty"`
	FullScanMaxPages int    `json:"full_scan_max_pages,omitempty"`
}

type Symlinks struct {
	Workers      int `json:"workers,omitempty"`       // inspection pool size
	BatchSize    int `json:"batch_size,omitempty"`    // broken links per tester batch
	RefreshHours int `json:"refresh_hours,omitempty"` // force full re-walk after this
}

type Gate struct {
	MaxCalls       int `json:"max_calls,omitempty"`       // per window
	WindowSeconds  int `json:"window_seconds,omitempty"`  // rolling window
	AcquireTimeout int `json:"acquire_timeout,omitempty"` // seconds
}

type Matching struct {
	PromoteThreshold float64 `json:"promote_threshold,omitempty"` // correlation
	CleanupThreshold float64 `json:"cleanup_threshold,omitempty"` // destructive path
}

type Auth struct {
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
	APIToken string `json:"api_token,omitempty"`
}

type Config struct {
	// server
	BindAddress string `json:"bind_address,omitempty"`
	URLBase     string `json:"url_base,omitempty"`
	Port        string `json:"port,omitempty"`

	LogLevel     string `json:"log_level,omitempty"`
	DatabasePath string `json:"database_path,omitempty"`
	MediaRoot    string `json:"media_root,omitempty"`

	MaxRetryAttempts      int   `json:"max_retry_attempts,omitempty"`
	RetryHoldHours        int   `json:"retry_hold_hours,omitempty"`
	MaxConcurrentTorrents int   `json:"max_concurrent_torrents,omitempty"`
	RetentionDays         int   `json:"retention_days,omitempty"`
	DryRun                *bool `json:"dry_run,omitempty"`

	Provider Provider `json:"provider,omitempty"`
	Arrs     []Arr    `json:"arrs,omitempty"`
	Scans    Scans    `json:"scans,omitempty"`
	Symlinks Symlinks `json:"symlinks,omitempty"`
	Gate     Gate     `json:"gate,omitempty"`
	Matching Matching `json:"matching,omitempty"`

	UseAuth bool   `json:"use_auth,omitempty"`
	Path    string `json:"-"` // directory holding config.json / auth.json
	auth    *Auth
}

func (c *Config) JsonFile() string {
	return filepath.Join(c.Path, "config.json")
}

func (c *Config) AuthFile() string {
	return filepath.Join(c.Path, "auth.json")
}

// SymlinkStateFile is the persisted walker cursor, kept alongside the DB.
func (c *Config) SymlinkStateFile() string {
	return filepath.Join(filepath.Dir(c.DatabasePath), "symlink_state.json")
}

// Load reads config.json from the given directory, applies environment
// overrides, defaults and validation. A missing file is created with
// defaults first.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path not set")
	}
	c := &Config{Path: path}

	file, err := os.ReadFile(c.JsonFile())
	switch {
	case os.IsNotExist(err):
		fmt.Printf("Config file not found, creating a new one at %s\n", c.JsonFile())
		if err := c.createConfig(path); err != nil {
			return nil, fmt.Errorf("failed to create config file: %w", err)
		}
		if err := c.Save(); err != nil {
			return nil, err
		}
	case err != nil:
		return nil, fmt.Errorf("error reading config file: %w", err)
	default:
		if err := json.Unmarshal(file, c); err != nil {
			return nil, fmt.Errorf("error unmarshaling config: %w", err)
		}
	}

	c.applyEnv()
	c.setDefaults()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("RECLAIMARR_API_TOKEN"); v != "" {
		c.Provider.APIToken = v
	}
	if v := os.Getenv("RECLAIMARR_DB_PATH"); v != "" {
		c.DatabasePath = v
	}
	if v := os.Getenv("RECLAIMARR_MEDIA_ROOT"); v != "" {
		c.MediaRoot = v
	}
	if v := os.Getenv("RECLAIMARR_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("RECLAIMARR_MAX_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.MaxRetryAttempts = n
		}
	}
	if v := os.Getenv("RECLAIMARR_SCAN_INTERVAL"); v != "" {
		c.Scans.QuickInterval = v
	}
	if v := os.Getenv("RECLAIMARR_MAX_CONCURRENT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.MaxConcurrentTorrents = n
		}
	}
	if v := os.Getenv("RECLAIMARR_DRY_RUN"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.DryRun = &b
		}
	}
}

func (c *Config) setDefaults() {
	c.BindAddress = cmp.Or(c.BindAddress, "0.0.0.0")
	c.Port = cmp.Or(c.Port, "8484")
	c.LogLevel = cmp.Or(c.LogLevel, "info")
	c.DatabasePath = cmp.Or(c.DatabasePath, filepath.Join(c.Path, "reclaimarr.db"))
	c.Provider.Name = cmp.Or(c.Provider.Name, "realdebrid")
	c.Provider.RateLimit = cmp.Or(c.Provider.RateLimit, "250/minute")

	if c.URLBase == "" {
		c.URLBase = "/"
	}
	if !strings.HasPrefix(c.URLBase, "/") {
		c.URLBase = "/" + c.URLBase
	}
	if !strings.HasSuffix(c.URLBase, "/") {
		c.URLBase += "/"
	}

	if c.MaxRetryAttempts == 0 {
		c.MaxRetryAttempts = 3
	}
	if c.RetryHoldHours == 0 {
		c.RetryHoldHours = 3
	}
	if c.MaxConcurrentTorrents == 0 {
		c.MaxConcurrentTorrents = 10
	}
	if c.RetentionDays == 0 {
		c.RetentionDays = 30
	}
	if c.DryRun == nil {
		dry := true
		c.DryRun = &dry
	}

	c.Scans.QuickInterval = cmp.Or(c.Scans.QuickInterval, "10m")
	c.Scans.FullInterval = cmp.Or(c.Scans.FullInterval, "6h")
	c.Scans.SymlinkInterval = cmp.Or(c.Scans.SymlinkInterval, "6h")
	if c.Scans.FullScanPageSize == 0 {
		c.Scans.FullScanPageSize = 1000
	}
	if c.Scans.FullScanMaxPages == 0 {
		c.Scans.FullScanMaxPages = 5
	}

	if c.Symlinks.Workers == 0 {
		c.Symlinks.Workers = 6
	}
	if c.Symlinks.BatchSize == 0 {
		c.Symlinks.BatchSize = 10
	}
	if c.Symlinks.RefreshHours == 0 {
		c.Symlinks.RefreshHours = 24
	}

	if c.Gate.MaxCalls == 0 {
		c.Gate.MaxCalls = 250
	}
	if c.Gate.WindowSeconds == 0 {
		c.Gate.WindowSeconds = 60
	}
	if c.Gate.AcquireTimeout == 0 {
		c.Gate.AcquireTimeout = 60
	}

	if c.Matching.PromoteThreshold == 0 {
		c.Matching.PromoteThreshold = 0.7
	}
	if c.Matching.CleanupThreshold == 0 {
		c.Matching.CleanupThreshold = 0.6
	}

	c.auth = c.GetAuth()
	if c.UseAuth {
		if c.auth == nil {
			c.auth = &Auth{}
		}
		if c.auth.APIToken == "" {
			if token, err := generateAPIToken(); err == nil {
				c.auth.APIToken = token
				_ = c.SaveAuth(c.auth)
			}
		}
	}
}

// IsDryRun reports whether destructive operations are disabled.
func (c *Config) IsDryRun() bool {
	return c.DryRun == nil || *c.DryRun
}

func (c *Config) Validate() error {
	if c.Provider.APIToken == "" {
		return errors.New("provider api token is required")
	}
	if len(c.Provider.APIToken) < 20 {
		return errors.New("provider api token looks truncated (must be at least 20 characters)")
	}
	if c.MediaRoot == "" {
		return errors.New("media root is required")
	}
	if _, err := os.Stat(c.MediaRoot); os.IsNotExist(err) {
		return fmt.Errorf("media root (%s) does not exist", c.MediaRoot)
	}
	for _, arr := range c.Arrs {
		if arr.Host == "" {
			return fmt.Errorf("arr %q has no host", arr.Name)
		}
		if arr.Token == "" && arr.TokenFile == "" {
			return fmt.Errorf("arr %q needs a token or a token_file", arr.Name)
		}
	}
	return nil
}

// generateAPIToken creates a new random API token
func generateAPIToken() (string, error) {
	bytes := make([]byte, 32) // 256-bit token
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return hex.EncodeToString(bytes), nil
}

func (c *Config) GetAuth() *Auth {
	if !c.UseAuth {
		return nil
	}
	if c.auth == nil {
		c.auth = &Auth{}
		if _, err := os.Stat(c.AuthFile()); err == nil {
			file, err := os.ReadFile(c.AuthFile())
			if err == nil {
				_ = json.Unmarshal(file, c.auth)
			}
		}
	}
	return c.auth
}

func (c *Config) SaveAuth(auth *Auth) error {
	c.auth = auth
	data, err := json.Marshal(auth)
	if err != nil {
		return err
	}
	return os.WriteFile(c.AuthFile(), data, 0644)
}

func (c *Config) NeedsAuth() bool {
	if c.UseAuth {
		return c.GetAuth().Username == ""
	}
	return false
}

func (c *Config) Save() error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(c.JsonFile(), data, 0644)
}

func (c *Config) createConfig(path string) error {
	if err := os.MkdirAll(path, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	c.Path = path
	c.URLBase = "/"
	c.Port = "8484"
	c.LogLevel = "info"
	c.UseAuth = true
	return nil
}
