package symlink

import (
	"encoding/json"
	"os"
	"time"
)

// State is the persisted walker cursor. It is written after each
// subdirectory completes so a multi-hour walk survives restarts.
type State struct {
	CurrentDirectory   string     `json:"current_directory"`
	CurrentIndex       int        `json:"current_index"`
	TotalDirectories   int        `json:"total_directories"`
	TotalSymlinksFound int        `json:"total_symlinks_found"`
	TotalProcessed     int        `json:"total_processed"`
	LastScanDate       *time.Time `json:"last_scan_date,omitempty"`
	ScanInProgress     bool       `json:"scan_in_progress"`
}

func loadState(path string) State {
	var st State
	data, err := os.ReadFile(path)
	if err != nil {
		return st
	}
	if err := json.Unmarshal(data, &st); err != nil {
		return State{}
	}
	return st
}

func saveState(path string, st State) error {
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
