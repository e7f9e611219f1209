package store

import (
	"time"

	"github.com/sirrobot01/reclaimarr/internal/utils"
)

// Torrent statuses reported by the provider, plus the synthetic
// symlink_broken status set by the correlator.
const (
	StatusMagnetError   = "magnet_error"
	StatusError         = "error"
	StatusVirus         = "virus"
	StatusDead          = "dead"
	StatusDownloading   = "downloading"
	StatusDownloaded    = "downloaded"
	StatusQueued        = "queued"
	StatusUploading     = "uploading"
	StatusCompressing   = "compressing"
	StatusSymlinkBroken = "symlink_broken"
)

// FailedStatuses is the set of statuses eligible for re-submission.
var FailedStatuses = []string{
	StatusMagnetError,
	StatusError,
	StatusVirus,
	StatusDead,
	StatusSymlinkBroken,
}

func IsFailedStatus(status string) bool {
	return utils.Contains(FailedStatuses, status)
}

// Priorities. Correlator promotions always get PriorityHigh.
const (
	PriorityLow    = 1
	PriorityNormal = 2
	PriorityHigh   = 3
)

type Torrent struct {
	ID                  string            `json:"id"`
	Hash                string            `json:"hash"`
	Filename            string            `json:"filename"`
	Status              string            `json:"status"`
	Size                int64             `json:"size"`
	AddedDate           time.Time         `json:"added_date"`
	FirstSeen           time.Time         `json:"first_seen"`
	LastSeen            time.Time         `json:"last_seen"`
	AttemptsCount       int               `json:"attempts_count"`
	LastAttempt         *time.Time        `json:"last_attempt,omitempty"`
	LastSuccess         *time.Time        `json:"last_success,omitempty"`
	Priority            int               `json:"priority"`
	NeedsSymlinkCleanup bool              `json:"needs_symlink_cleanup"`
	Metadata            map[string]string `json:"metadata,omitempty"`
}

type Attempt struct {
	ID             int64     `json:"id"`
	TorrentID      string    `json:"torrent_id"`
	AttemptDate    time.Time `json:"attempt_date"`
	Success        bool      `json:"success"`
	ErrorMessage   string    `json:"error_message,omitempty"`
	ResponseTimeMs int64     `json:"response_time_ms"`
	APIResponse    string    `json:"api_response,omitempty"`
}

// Scan kinds, one ScanProgress row each.
const (
	ScanQuick    = "quick"
	ScanFull     = "full"
	ScanSymlinks = "symlinks"
)

// Scan statuses.
const (
	ScanStatusIdle      = "idle"
	ScanStatusRunning   = "running"
	ScanStatusCompleted = "completed"
)

type ScanProgress struct {
	ScanType         string     `json:"scan_type"`
	CurrentOffset    int        `json:"current_offset"`
	TotalExpected    int        `json:"total_expected"`
	LastScanStart    *time.Time `json:"last_scan_start,omitempty"`
	LastScanComplete *time.Time `json:"last_scan_complete,omitempty"`
	Status           string     `json:"status"`
}

type PermanentFailure struct {
	ID           int64     `json:"id"`
	TorrentID    string    `json:"torrent_id"`
	Filename     string    `json:"filename"`
	ErrorType    string    `json:"error_type"`
	ErrorMessage string    `json:"error_message"`
	FailureDate  time.Time `json:"failure_date"`
	Processed    bool      `json:"processed"`
}

type RetryEntry struct {
	ID               int64      `json:"id"`
	TorrentID        string     `json:"torrent_id"`
	Filename         string     `json:"filename"`
	ErrorType        string     `json:"error_type"`
	ErrorMessage     string     `json:"error_message"`
	OriginalFailure  time.Time  `json:"original_failure"`
	ScheduledRetry   time.Time  `json:"scheduled_retry"`
	RetryCount       int        `json:"retry_count"`
	LastRetryAttempt *time.Time `json:"last_retry_attempt,omitempty"`
}

type SymlinkRecord struct {
	ID           int64      `json:"id"`
	SourcePath   string     `json:"source_path"`
	TargetPath   string     `json:"target_path"`
	TorrentName  string     `json:"torrent_name"`
	Status       string     `json:"status"`
	Size         int64      `json:"size"`
	ErrorMessage string     `json:"error_message,omitempty"`
	DetectedAt   time.Time  `json:"detected_at"`
	Processed    bool       `json:"processed"`
	ProcessedAt  *time.Time `json:"processed_at,omitempty"`
}

type Metric struct {
	Timestamp  time.Time `json:"timestamp"`
	MetricType string    `json:"metric_type"`
	MetricName string    `json:"metric_name"`
	Value      float64   `json:"value"`
}
