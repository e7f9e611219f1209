package main

import (
	"cmp"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"
)

// HealthStatus represents the status of the core services
type HealthStatus struct {
	ControlPlane  bool `json:"control_plane"`
	EventStream   bool `json:"event_stream"`
	OverallStatus bool `json:"overall_status"`
}

func main() {
	var (
		port    string
		urlBase string
		debug   bool
	)
	flag.StringVar(&port, "port", "", "server port (defaults to RECLAIMARR_PORT or 8484)")
	flag.StringVar(&urlBase, "url-base", "/", "server URL base")
	flag.BoolVar(&debug, "debug", false, "enable debug mode for detailed output")
	flag.Parse()

	if port == "" {
		port = cmp.Or(os.Getenv("RECLAIMARR_PORT"), "8484")
	}
	if !strings.HasPrefix(urlBase, "/") {
		urlBase = "/" + urlBase
	}
	if !strings.HasSuffix(urlBase, "/") {
		urlBase += "/"
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	status := HealthStatus{
		ControlPlane: checkEndpoint(ctx, fmt.Sprintf("http://localhost:%s%shealth", port, urlBase)),
		EventStream:  checkEndpoint(ctx, fmt.Sprintf("http://localhost:%s%sversion", port, urlBase)),
	}
	status.OverallStatus = status.ControlPlane && status.EventStream

	if debug {
		statusJSON, _ := json.MarshalIndent(status, "", "  ")
		fmt.Println(string(statusJSON))
	}

	if status.OverallStatus {
		os.Exit(0)
	}
	os.Exit(1)
}

func checkEndpoint(ctx context.Context, url string) bool {
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return false
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	return resp.StatusCode == http.StatusOK
}
