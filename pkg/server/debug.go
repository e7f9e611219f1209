package server

import (
	"net/http"
	"runtime"
	"time"

	"github.com/sirrobot01/reclaimarr/internal/request"
	"github.com/sirrobot01/reclaimarr/pkg/version"
)

var startTime = time.Now()

type runtimeStats struct {
	Version       string `json:"version"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	Goroutines    int    `json:"goroutines"`
	HeapAllocMB   uint64 `json:"heap_alloc_mb"`
	HeapSysMB     uint64 `json:"heap_sys_mb"`
	NumGC         uint32 `json:"num_gc"`
}

func (s *Server) handleRuntime(w http.ResponseWriter, r *http.Request) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	request.JSONResponse(w, runtimeStats{
		Version:       version.GetInfo().String(),
		UptimeSeconds: int64(time.Since(startTime).Seconds()),
		Goroutines:    runtime.NumGoroutine(),
		HeapAllocMB:   m.HeapAlloc / 1024 / 1024,
		HeapSysMB:     m.HeapSys / 1024 / 1024,
		NumGC:         m.NumGC,
	}, http.StatusOK)
}
