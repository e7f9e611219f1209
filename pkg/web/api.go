package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/sirrobot01/reclaimarr/internal/request"
	"github.com/sirrobot01/reclaimarr/pkg/store"
	"github.com/sirrobot01/reclaimarr/pkg/version"
)

func (wb *Web) handleHealth(w http.ResponseWriter, r *http.Request) {
	request.JSONResponse(w, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"version":   version.GetInfo().String(),
	}, http.StatusOK)
}

func (wb *Web) handleGetVersion(w http.ResponseWriter, r *http.Request) {
	request.JSONResponse(w, version.GetInfo(), http.StatusOK)
}

// handleGetTorrents lists catalog entries. status=failed expands to the
// whole failed set.
func (wb *Web) handleGetTorrents(w http.ResponseWriter, r *http.Request) {
	var statuses []string
	switch status := r.URL.Query().Get("status"); status {
	case "":
	case "failed":
		statuses = store.FailedStatuses
	default:
		statuses = []string{status}
	}

	limit := queryInt(r, "limit", 100)
	if limit > 1000 {
		limit = 1000
	}
	offset := queryInt(r, "offset", 0)

	torrents, err := wb.store.GetTorrents(r.Context(), statuses, limit, offset)
	if err != nil {
		wb.sendJSONError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if torrents == nil {
		torrents = []store.Torrent{}
	}
	request.JSONResponse(w, torrents, http.StatusOK)
}

type scanRequest struct {
	Mode string `json:"mode"`
}

func (wb *Web) handleScan(w http.ResponseWriter, r *http.Request) {
	var req scanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		wb.sendJSONError(w, "invalid payload", http.StatusBadRequest)
		return
	}
	summary, err := wb.scanner.Scan(r.Context(), req.Mode)
	if err != nil {
		wb.sendJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}
	request.JSONResponse(w, summary, http.StatusOK)
}

func (wb *Web) handleSymlinkScan(w http.ResponseWriter, r *http.Request) {
	summary, err := wb.scanner.Scan(r.Context(), store.ScanSymlinks)
	if err != nil {
		wb.sendJSONError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	request.JSONResponse(w, summary, http.StatusOK)
}

type reinjectRequest struct {
	TorrentIDs []string `json:"torrent_ids"`
}

type reinjectOutcome struct {
	TorrentID string `json:"torrent_id"`
	Success   bool   `json:"success"`
	Error     string `json:"error,omitempty"`
}

// handleReinject drives one re-submission per requested id.
func (wb *Web) handleReinject(w http.ResponseWriter, r *http.Request) {
	var req reinjectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		wb.sendJSONError(w, "invalid payload", http.StatusBadRequest)
		return
	}
	if len(req.TorrentIDs) == 0 {
		wb.sendJSONError(w, "torrent_ids is required", http.StatusBadRequest)
		return
	}

	outcomes := make([]reinjectOutcome, 0, len(req.TorrentIDs))
	for _, id := range req.TorrentIDs {
		outcome := reinjectOutcome{TorrentID: id}
		t, err := wb.store.GetTorrent(r.Context(), id)
		switch {
		case errors.Is(err, store.ErrNotFound):
			outcome.Error = "not found"
		case err != nil:
			outcome.Error = err.Error()
		default:
			ok, err := wb.reinjector.Reinject(r.Context(), *t)
			outcome.Success = ok
			if err != nil {
				outcome.Error = err.Error()
			}
		}
		outcomes = append(outcomes, outcome)
	}
	request.JSONResponse(w, outcomes, http.StatusOK)
}

func (wb *Web) handleDeleteTorrent(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	err := wb.store.DeleteTorrent(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		wb.sendJSONError(w, "not found", http.StatusNotFound)
		return
	}
	if err != nil {
		wb.sendJSONError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	request.JSONResponse(w, map[string]bool{"success": true}, http.StatusOK)
}

func (wb *Web) handleGetSymlinks(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 100)
	var processed *bool
	if raw := r.URL.Query().Get("processed"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			wb.sendJSONError(w, "processed must be a boolean", http.StatusBadRequest)
			return
		}
		processed = &v
	}

	links, err := wb.store.GetSymlinks(r.Context(), processed, limit)
	if err != nil {
		wb.sendJSONError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if links == nil {
		links = []store.SymlinkRecord{}
	}
	request.JSONResponse(w, links, http.StatusOK)
}

type statsResponse struct {
	TorrentsByStatus  map[string]int     `json:"torrents_by_status"`
	Attempts24h       store.AttemptStats `json:"attempts_24h"`
	PendingRetries    int                `json:"pending_retries"`
	PermanentFailures int                `json:"permanent_failures"`
	GateUtilization   float64            `json:"gate_utilization"`
	StreamClients     int                `json:"stream_clients"`
	DroppedEvents     uint64             `json:"dropped_events"`
	DryRun            bool               `json:"dry_run"`
}

func (wb *Web) handleStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	counts, err := wb.store.CountByStatus(ctx)
	if err != nil {
		wb.sendJSONError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	attempts, err := wb.store.GetAttemptStats(ctx, 24*time.Hour)
	if err != nil {
		wb.sendJSONError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	retries, err := wb.store.CountPendingRetries(ctx, wb.cfg.MaxRetryAttempts)
	if err != nil {
		wb.sendJSONError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	failures, err := wb.store.CountPermanentFailures(ctx)
	if err != nil {
		wb.sendJSONError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	resp := statsResponse{
		TorrentsByStatus:  counts,
		Attempts24h:       attempts,
		PendingRetries:    retries,
		PermanentFailures: failures,
		DryRun:            wb.cfg.IsDryRun(),
	}
	if wb.gate != nil {
		resp.GateUtilization = wb.gate.Utilization()
	}
	if wb.hub != nil {
		resp.StreamClients = wb.hub.ClientCount()
		resp.DroppedEvents = wb.hub.Dropped()
	}
	request.JSONResponse(w, resp, http.StatusOK)
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return fallback
	}
	return v
}
